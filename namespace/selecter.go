package namespace

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/narwhaldb/narwhal/cjson"
	"github.com/narwhaldb/narwhal/dberr"
	"github.com/narwhaldb/narwhal/idset"
	"github.com/narwhaldb/narwhal/index"
	"github.com/narwhaldb/narwhal/payload"
	"github.com/narwhaldb/narwhal/qresults"
	"github.com/narwhaldb/narwhal/query"
	"github.com/narwhaldb/narwhal/variant"
)

// Resolver hands the selecter other namespaces for joins and merges.
type Resolver func(name string) (*Namespace, error)

// SetResolver wires the namespace directory in; the DB layer calls it
// once at open.
func (ns *Namespace) SetResolver(r Resolver) { ns.resolver = r }

// selectPlan is the evaluated filter tree: a candidate id set (nil
// means every live row), leftover comparators to run per candidate,
// and full-text ranks when an FT condition drove the plan.
type selectPlan struct {
	ids         *idset.IdSet
	comparators []*index.Comparator
	ranks       map[idset.RowID]float64
	explain     []string
}

// Select runs a SELECT query and returns its results.
func (ns *Namespace) Select(ctx context.Context, q *query.Query) (*qresults.Results, error) {
	if err := dberr.FromContext(ctx); err != nil {
		return nil, err
	}
	if err := ns.lock.RLock(); err != nil {
		return nil, err
	}
	defer ns.lock.RUnlock()
	ns.perfSelects.Add(1)
	return ns.selectLocked(ctx, q)
}

// selectLocked assumes the caller holds at least the read lock.
func (ns *Namespace) selectLocked(ctx context.Context, q *query.Query) (*qresults.Results, error) {
	plan, err := ns.evalNodes(ctx, q.Root)
	if err != nil {
		return nil, err
	}

	joins, err := ns.prepareJoins(ctx, q)
	if err != nil {
		return nil, err
	}

	res := qresults.New()
	nsID := res.AddNsContext(qresults.NsContext{
		Name:         ns.name,
		Type:         ns.payloadType.Clone(),
		Tags:         ns.tagsMatcher.Clone(),
		FieldsFilter: q.SelectFields,
		Schema:       append([]byte(nil), ns.schema...),
	})

	matched, err := ns.collect(ctx, q, plan, joins, res, nsID)
	if joins != nil {
		for _, pre := range joins.pres {
			pre.rightRes.Close()
		}
	}
	if err != nil {
		return nil, err
	}

	ns.orderRefs(q, plan, matched)

	res.TotalCount = len(matched)
	aggs, err := ns.aggregate(q, matched)
	if err != nil {
		return nil, err
	}
	res.Aggregations = aggs

	matched = applyWindow(matched, q.Offset, q.Limit)
	for _, ref := range matched {
		res.Add(ref)
		if subs, ok := joinedFor(joins, ref.ID); ok {
			if res.Joined == nil {
				res.Joined = make(map[idset.RowID][]*qresults.Results)
			}
			res.Joined[ref.ID] = subs
		}
	}

	for _, m := range q.Merges {
		if err := ns.mergeInto(ctx, m, res); err != nil {
			return nil, err
		}
	}

	if q.Explain {
		res.Explain = strings.Join(plan.explain, "\n")
	}
	return res, nil
}

// collect iterates the candidate stream, applies comparators and join
// preconditions, and returns the matched refs (unordered).
func (ns *Namespace) collect(ctx context.Context, q *query.Query, plan *selectPlan, joins *joinState, res *qresults.Results, nsID int) ([]qresults.ItemRef, error) {
	var matched []qresults.ItemRef
	checked := 0
	emit := func(id idset.RowID) (bool, error) {
		checked++
		if checked%1024 == 0 {
			if err := dberr.FromContext(ctx); err != nil {
				return false, err
			}
		}
		pl := ns.items[id]
		if pl.IsFree() {
			return true, nil
		}
		for _, cmp := range plan.comparators {
			if !cmp.Match(id) {
				return true, nil
			}
		}
		ok, err := ns.applyJoins(ctx, joins, id, pl)
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
		ref := qresults.ItemRef{ID: id, NsID: nsID, Value: pl}
		if plan.ranks != nil {
			ref.Rank = plan.ranks[id]
		}
		matched = append(matched, ref)
		return true, nil
	}

	var iterErr error
	if plan.ids != nil {
		plan.ids.ForEach(func(id idset.RowID) bool {
			cont, err := emit(id)
			if err != nil {
				iterErr = err
				return false
			}
			return cont
		})
	} else {
		for id := range ns.items {
			cont, err := emit(idset.RowID(id))
			if err != nil {
				iterErr = err
				break
			}
			if !cont {
				break
			}
		}
	}
	return matched, iterErr
}

// evalNodes turns a filter list into a plan. Consecutive OR-connected
// entries form a group whose id sets union; groups are sorted by
// estimated selectivity and intersected.
func (ns *Namespace) evalNodes(ctx context.Context, nodes []*query.Node) (*selectPlan, error) {
	plan := &selectPlan{}
	if len(nodes) == 0 {
		plan.explain = append(plan.explain, "scan: full namespace")
		return plan, nil
	}
	nodes = ns.foldComposites(nodes)

	type group struct {
		op          query.OpType // connector to the previous group
		ids         *idset.IdSet // nil while comparator-only
		comparators []*index.Comparator
		ranks       map[idset.RowID]float64
		desc        string
	}
	var groups []group

	for _, node := range nodes {
		r, err := ns.evalNode(ctx, node)
		if err != nil {
			return nil, err
		}
		if node.Op == query.OpOr && len(groups) > 0 {
			g := &groups[len(groups)-1]
			// Union into the previous group; comparators on either
			// side force materialization.
			if len(g.comparators) > 0 {
				g.ids = ns.materialize(nil, g.comparators)
				g.comparators = nil
			}
			if len(r.comparators) > 0 {
				r.ids = ns.materialize(r.ids, r.comparators)
				r.comparators = nil
			}
			g.ids.Or(r.ids)
			g.ranks = mergeRanks(g.ranks, r.ranks)
			g.desc += " or " + r.desc
			continue
		}
		groups = append(groups, group{op: node.Op, ids: r.ids, comparators: r.comparators, ranks: r.ranks, desc: r.desc})
	}

	// Rule: the most selective AND-group leads; comparator-only groups
	// run after candidate emission; NOT-groups subtract at the end.
	sort.SliceStable(groups, func(i, j int) bool {
		gi, gj := groups[i], groups[j]
		if (gi.op == query.OpNot) != (gj.op == query.OpNot) {
			return gj.op == query.OpNot
		}
		if (gi.ids == nil) != (gj.ids == nil) {
			return gj.ids == nil
		}
		if gi.ids == nil {
			return false
		}
		return gi.ids.Size() < gj.ids.Size()
	})

	var acc *idset.IdSet
	for _, g := range groups {
		switch {
		case g.op == query.OpNot:
			sub := g.ids
			if sub == nil {
				sub = ns.materialize(nil, g.comparators)
			}
			if acc == nil {
				acc = ns.allLive()
			}
			acc.AndNot(sub)
			plan.explain = append(plan.explain, "and-not "+g.desc)
		case g.ids == nil:
			plan.comparators = append(plan.comparators, g.comparators...)
			plan.explain = append(plan.explain, "comparator "+g.desc)
		default:
			if acc == nil {
				acc = g.ids.Clone()
			} else {
				acc.And(g.ids)
			}
			plan.explain = append(plan.explain, "index "+g.desc)
		}
		plan.ranks = mergeRanks(plan.ranks, g.ranks)
	}
	plan.ids = acc
	return plan, nil
}

type nodeResult struct {
	ids         *idset.IdSet
	comparators []*index.Comparator
	ranks       map[idset.RowID]float64
	desc        string
}

func (ns *Namespace) evalNode(ctx context.Context, node *query.Node) (nodeResult, error) {
	if !node.IsLeaf() {
		sub, err := ns.evalNodes(ctx, node.Children)
		if err != nil {
			return nodeResult{}, err
		}
		ids := sub.ids
		if len(sub.comparators) > 0 {
			ids = ns.materialize(ids, sub.comparators)
		}
		if ids == nil {
			ids = ns.allLive()
		}
		return nodeResult{ids: ids, ranks: sub.ranks, desc: "(bracket)"}, nil
	}
	return ns.evalEntry(ctx, node.Entry)
}

// evalEntry resolves one condition through its index, or builds a
// comparator when no index can serve it.
func (ns *Namespace) evalEntry(ctx context.Context, e *query.Entry) (nodeResult, error) {
	pos, ok := ns.indexesByName[e.Field]
	if !ok {
		// No index by this name: fall back to a tuple-path comparator.
		cmp, err := ns.pathComparator(e)
		if err != nil {
			return nodeResult{}, err
		}
		return nodeResult{comparators: []*index.Comparator{cmp}, desc: fmt.Sprintf("scan %s %s", e.Field, e.Cond)}, nil
	}
	idx := ns.indexes[pos]
	res, err := idx.SelectKey(ctx, e.Values, e.Cond, index.SelectOpts{ItemsCount: ns.itemsCount})
	if err != nil {
		return nodeResult{}, err
	}
	out := nodeResult{desc: fmt.Sprintf("index %s %s", e.Field, e.Cond)}
	for _, r := range res {
		switch {
		case r.Comparator != nil:
			out.comparators = append(out.comparators, r.Comparator)
		case r.Ids != nil:
			if out.ids == nil {
				out.ids = r.Ids.Clone()
			} else {
				out.ids.Or(r.Ids)
			}
			out.ranks = mergeRanks(out.ranks, r.Ranks)
		}
	}
	if out.ids != nil && len(out.comparators) > 0 {
		// Mixed answer: materialize so the caller sees one set.
		out.ids = ns.materialize(out.ids, out.comparators)
		out.comparators = nil
	}
	return out, nil
}

// pathComparator filters on a field that has no index: values come
// from the raw tuple.
func (ns *Namespace) pathComparator(e *query.Entry) (*index.Comparator, error) {
	tm := ns.tagsMatcher
	path := e.Field
	items := ns.items
	getter := func(id idset.RowID) variant.VariantArray {
		if int(id) >= len(items) || items[id].IsFree() {
			return nil
		}
		return cjson.ExtractPath(items[id].Tuple(), tm, path)
	}
	return index.NewComparatorFunc(getter, e.Cond, e.Values, variant.CollateNone), nil
}

// materialize scans candidates (nil = all live rows) through
// comparators into a concrete set.
func (ns *Namespace) materialize(candidates *idset.IdSet, comparators []*index.Comparator) *idset.IdSet {
	out := idset.New()
	check := func(id idset.RowID) {
		if ns.items[id].IsFree() {
			return
		}
		for _, cmp := range comparators {
			if !cmp.Match(id) {
				return
			}
		}
		out.AddUnordered(id)
	}
	if candidates != nil {
		candidates.ForEach(func(id idset.RowID) bool {
			check(id)
			return true
		})
	} else {
		for id := range ns.items {
			check(idset.RowID(id))
		}
	}
	out.Commit()
	return out
}

// allLive returns the set of every live row id.
func (ns *Namespace) allLive() *idset.IdSet {
	out := idset.New()
	for id := range ns.items {
		if !ns.items[id].IsFree() {
			out.AddUnordered(idset.RowID(id))
		}
	}
	out.Commit()
	return out
}

func mergeRanks(a, b map[idset.RowID]float64) map[idset.RowID]float64 {
	if b == nil {
		return a
	}
	if a == nil {
		a = make(map[idset.RowID]float64, len(b))
	}
	for id, r := range b {
		if r > a[id] {
			a[id] = r
		}
	}
	return a
}

// orderRefs sorts matched refs by the requested ORDER BY when there is
// one (materialized sort orders when available, payload sort
// otherwise); without ORDER BY, by FT rank when an FT condition drove
// the plan, else in natural id order.
func (ns *Namespace) orderRefs(q *query.Query, plan *selectPlan, refs []qresults.ItemRef) {
	if plan.ranks != nil && len(q.Sort) == 0 {
		sort.SliceStable(refs, func(i, j int) bool { return refs[i].Rank > refs[j].Rank })
		return
	}
	if len(q.Sort) == 0 {
		sort.SliceStable(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })
		return
	}

	// Fast path: one sort key served by a materialized sort order.
	if len(q.Sort) == 1 && len(q.Sort[0].Forced) == 0 &&
		OptimizationState(ns.optState.Load()) == OptimizationCompleted {
		if order, ok := (*ns.sortOrders.Load())[q.Sort[0].Field]; ok {
			rankOf := make(map[idset.RowID]int, len(order))
			for i, id := range order {
				rankOf[id] = i
			}
			desc := q.Sort[0].Desc
			sort.SliceStable(refs, func(i, j int) bool {
				ri, iok := rankOf[refs[i].ID]
				rj, jok := rankOf[refs[j].ID]
				if iok && jok {
					if desc {
						return ri > rj
					}
					return ri < rj
				}
				return iok && !jok
			})
			return
		}
	}

	sort.SliceStable(refs, func(i, j int) bool {
		return ns.compareRefs(q.Sort, refs[i], refs[j])
	})
}

func (ns *Namespace) compareRefs(keys []query.SortEntry, a, b qresults.ItemRef) bool {
	for _, k := range keys {
		va := ns.sortValue(a, k.Field)
		vb := ns.sortValue(b, k.Field)
		if len(k.Forced) > 0 {
			fa, fb := forcedRank(k.Forced, va), forcedRank(k.Forced, vb)
			if fa != fb {
				if k.Desc {
					return fa > fb
				}
				return fa < fb
			}
		}
		c := va.Compare(vb, variant.CollateNone)
		if c != 0 {
			if k.Desc {
				return c > 0
			}
			return c < 0
		}
	}
	return a.ID < b.ID
}

// forcedRank positions a value inside the forced ordering: listed
// values first, in list order.
func forcedRank(forced variant.VariantArray, v variant.Variant) int {
	for i, f := range forced {
		if f.Compare(v, variant.CollateNone) == 0 {
			return i
		}
	}
	return len(forced)
}

func (ns *Namespace) sortValue(ref qresults.ItemRef, field string) variant.Variant {
	if f, ok := ns.payloadType.FieldByName(field); ok && f > 0 {
		return ref.Value.GetOne(f)
	}
	vals := cjson.ExtractPath(ref.Value.Tuple(), ns.tagsMatcher, field)
	if len(vals) > 0 {
		return vals[0]
	}
	return variant.Null()
}

func applyWindow(refs []qresults.ItemRef, offset, limit int) []qresults.ItemRef {
	if offset > 0 {
		if offset >= len(refs) {
			return nil
		}
		refs = refs[offset:]
	}
	if limit >= 0 && limit < len(refs) {
		refs = refs[:limit]
	}
	return refs
}

// mergeInto executes a merge sub-query and appends its rows.
func (ns *Namespace) mergeInto(ctx context.Context, m *query.Query, res *qresults.Results) error {
	if ns.resolver == nil {
		return dberr.New(dberr.CodeParams, "merge requires a namespace resolver")
	}
	sub, err := ns.resolver(m.Namespace)
	if err != nil {
		return err
	}
	subRes, err := sub.Select(ctx, m)
	if err != nil {
		return err
	}
	defer subRes.Close()
	base := len(res.NsContexts)
	res.NsContexts = append(res.NsContexts, subRes.NsContexts...)
	for _, ref := range subRes.Items {
		ref.NsID += base
		res.Add(ref)
	}
	res.TotalCount += subRes.TotalCount
	return nil
}

// rowMatches re-evaluates the filter tree against a single row; the
// update/delete paths use it to recheck preconditions after the lock
// upgrade.
func (ns *Namespace) rowMatches(nodes []*query.Node, id idset.RowID, pl payload.Value) bool {
	result := true
	first := true
	for _, n := range nodes {
		var ok bool
		if n.IsLeaf() {
			ok = ns.entryMatches(n.Entry, id, pl)
		} else {
			ok = ns.rowMatches(n.Children, id, pl)
		}
		switch {
		case first:
			result = ok
			first = false
		case n.Op == query.OpOr:
			result = result || ok
		case n.Op == query.OpNot:
			result = result && !ok
		default:
			result = result && ok
		}
	}
	return result
}

func (ns *Namespace) entryMatches(e *query.Entry, id idset.RowID, pl payload.Value) bool {
	if pos, ok := ns.indexesByName[e.Field]; ok {
		idx := ns.indexes[pos]
		if e.Cond == query.CondMatch {
			res, err := idx.SelectKey(context.Background(), e.Values, e.Cond, index.SelectOpts{})
			if err != nil {
				return false
			}
			for _, r := range res {
				if r.Ids != nil && r.Ids.Contains(id) {
					return true
				}
			}
			return false
		}
		cmp := index.NewComparator(idx.Fields(), e.Cond, e.Values, idx.Def().Opts.Collate, ns.rowAccessor())
		return cmp.Match(id)
	}
	cmp, err := ns.pathComparator(e)
	if err != nil {
		return false
	}
	return cmp.Match(id)
}
