package namespace

import (
	"context"

	"github.com/narwhaldb/narwhal/dberr"
	"github.com/narwhaldb/narwhal/idset"
	"github.com/narwhaldb/narwhal/payload"
	"github.com/narwhaldb/narwhal/qresults"
	"github.com/narwhaldb/narwhal/query"
	"github.com/narwhaldb/narwhal/variant"
)

// joinPre is the pre-result of one join: the materialized right-hand
// rows plus an equality lookup over the ON fields when possible.
type joinPre struct {
	jq       query.JoinQuery
	right    *Namespace
	rightRes *qresults.Results
	// eqLookup maps the hash of the right-side ON values to row
	// positions in rightRes; nil when any ON condition is not Eq.
	eqLookup map[uint64][]int
}

// joinState carries every join of a query plus the per-row attachments
// produced during collection.
type joinState struct {
	pres    []*joinPre
	perItem map[idset.RowID][]*qresults.Results
}

// prepareJoins executes the right-hand sub-queries and builds the
// pre-results the per-row step probes.
func (ns *Namespace) prepareJoins(ctx context.Context, q *query.Query) (*joinState, error) {
	if len(q.Joins) == 0 {
		return nil, nil
	}
	if ns.resolver == nil {
		return nil, dberr.New(dberr.CodeParams, "joins require a namespace resolver")
	}
	st := &joinState{perItem: make(map[idset.RowID][]*qresults.Results)}
	for _, jq := range q.Joins {
		right, err := ns.resolver(jq.Query.Namespace)
		if err != nil {
			return nil, err
		}
		rightRes, err := right.Select(ctx, jq.Query)
		if err != nil {
			return nil, err
		}
		pre := &joinPre{jq: jq, right: right, rightRes: rightRes}
		if allEq(jq.On) {
			pre.eqLookup = make(map[uint64][]int)
			for i, ref := range rightRes.Items {
				h := right.onValuesHash(jq.On, ref.Value, false)
				pre.eqLookup[h] = append(pre.eqLookup[h], i)
			}
		}
		st.pres = append(st.pres, pre)
	}
	return st, nil
}

func allEq(on []query.JoinEntry) bool {
	for _, e := range on {
		if e.Cond != query.CondEq || e.Op == query.OpOr || e.Op == query.OpNot {
			return false
		}
	}
	return len(on) > 0
}

// onValuesHash hashes the ON fields of one side; left selects the
// outer fields, otherwise the inner ones.
func (ns *Namespace) onValuesHash(on []query.JoinEntry, pl payload.Value, left bool) uint64 {
	var h uint64 = 1469598103934665603
	for _, e := range on {
		field := e.RightField
		if left {
			field = e.LeftField
		}
		var v variant.Variant
		if f, ok := ns.payloadType.FieldByName(field); ok && f > 0 {
			v = pl.GetOne(f)
		}
		h = h*1099511628211 ^ v.Hash()
	}
	return h
}

// applyJoins checks the join preconditions for one outer row and
// collects the matched right-hand rows. Inner joins filter; left joins
// only attach; or-inner joins pass the row when any join matches even
// if the main filter already did (the OR semantics are resolved by the
// caller keeping the row).
func (ns *Namespace) applyJoins(ctx context.Context, st *joinState, id idset.RowID, pl payload.Value) (bool, error) {
	if st == nil {
		return true, nil
	}
	keep := true
	var attached []*qresults.Results
	for _, pre := range st.pres {
		matches := pre.matchRows(ns, pl)
		sub := qresults.New()
		sub.NsContexts = append(sub.NsContexts, pre.rightRes.NsContexts...)
		for _, pos := range matches {
			sub.Add(pre.rightRes.Items[pos])
		}
		attached = append(attached, sub)
		switch pre.jq.Type {
		case query.JoinInner:
			if len(matches) == 0 {
				keep = false
			}
		case query.JoinOrInner:
			if len(matches) > 0 {
				keep = true
			}
		case query.JoinLeft:
			// Left joins never filter.
		}
	}
	if !keep {
		for _, s := range attached {
			s.Close()
		}
		return false, nil
	}
	st.perItem[id] = attached
	return true, nil
}

// matchRows lists positions in the right-hand results matching the
// outer row's ON conditions.
func (pre *joinPre) matchRows(outer *Namespace, pl payload.Value) []int {
	if pre.eqLookup != nil {
		h := outer.onValuesHash(pre.jq.On, pl, true)
		cand := pre.eqLookup[h]
		// Verify on hash hit to rule out collisions.
		var out []int
		for _, pos := range cand {
			if pre.onHolds(outer, pl, pre.rightRes.Items[pos].Value) {
				out = append(out, pos)
			}
		}
		return out
	}
	var out []int
	for pos, ref := range pre.rightRes.Items {
		if pre.onHolds(outer, pl, ref.Value) {
			out = append(out, pos)
		}
	}
	return out
}

func (pre *joinPre) onHolds(outer *Namespace, outerPl, innerPl payload.Value) bool {
	result := true
	first := true
	for _, e := range pre.jq.On {
		lv := fieldValues(outer, outerPl, e.LeftField)
		rv := fieldValues(pre.right, innerPl, e.RightField)
		ok := false
		for _, l := range lv {
			if matchJoinCond(l, e.Cond, rv) {
				ok = true
				break
			}
		}
		switch {
		case first:
			result = ok
			first = false
		case e.Op == query.OpOr:
			result = result || ok
		case e.Op == query.OpNot:
			result = result && !ok
		default:
			result = result && ok
		}
	}
	return result
}

func fieldValues(ns *Namespace, pl payload.Value, field string) variant.VariantArray {
	if f, ok := ns.payloadType.FieldByName(field); ok && f > 0 {
		return pl.Get(f)
	}
	return nil
}

func matchJoinCond(l variant.Variant, cond query.CondType, rv variant.VariantArray) bool {
	for _, r := range rv {
		c := l.Compare(r, variant.CollateNone)
		switch cond {
		case query.CondEq, query.CondSet:
			if c == 0 {
				return true
			}
		case query.CondLt:
			if c < 0 {
				return true
			}
		case query.CondLe:
			if c <= 0 {
				return true
			}
		case query.CondGt:
			if c > 0 {
				return true
			}
		case query.CondGe:
			if c >= 0 {
				return true
			}
		}
	}
	return false
}

// joinedFor returns the attachments collected for a row.
func joinedFor(st *joinState, id idset.RowID) ([]*qresults.Results, bool) {
	if st == nil {
		return nil, false
	}
	subs, ok := st.perItem[id]
	return subs, ok
}
