package namespace

import (
	"context"
	"encoding/json"

	"github.com/narwhaldb/narwhal/cjson"
	"github.com/narwhaldb/narwhal/dberr"
	"github.com/narwhaldb/narwhal/idset"
	"github.com/narwhaldb/narwhal/payload"
	"github.com/narwhaldb/narwhal/qresults"
	"github.com/narwhaldb/narwhal/query"
	"github.com/narwhaldb/narwhal/variant"
	"github.com/narwhaldb/narwhal/wal"
)

// UpdateQuery applies an UPDATE statement and returns the rewritten
// rows.
func (ns *Namespace) UpdateQuery(ctx context.Context, q *query.Query) (*qresults.Results, error) {
	if err := dberr.FromContext(ctx); err != nil {
		return nil, err
	}
	if err := ns.lock.Lock(); err != nil {
		return nil, err
	}
	defer ns.lock.Unlock()
	return ns.updateQueryLocked(ctx, q, 0)
}

// DeleteQuery applies a DELETE statement and returns the removed rows.
func (ns *Namespace) DeleteQuery(ctx context.Context, q *query.Query) (*qresults.Results, error) {
	if err := dberr.FromContext(ctx); err != nil {
		return nil, err
	}
	if err := ns.lock.Lock(); err != nil {
		return nil, err
	}
	defer ns.lock.Unlock()
	return ns.deleteQueryLocked(ctx, q, 0)
}

// updateQueryLocked runs under the write lock. The candidate list
// comes from the selecter; every row is re-checked against the filter
// before rewriting because the select path may run under a read lock
// in other call sites.
func (ns *Namespace) updateQueryLocked(ctx context.Context, q *query.Query, txID uint64) (*qresults.Results, error) {
	if len(q.UpdateFields) == 0 {
		return nil, dberr.New(dberr.CodeParams, "UPDATE without SET fields")
	}
	sel, err := ns.selectLocked(ctx, &query.Query{Namespace: q.Namespace, Root: q.Root, Limit: -1})
	if err != nil {
		return nil, err
	}
	defer sel.Close()

	res := qresults.New()
	nsID := res.AddNsContext(qresults.NsContext{
		Name: ns.name,
		Type: ns.payloadType.Clone(),
		Tags: ns.tagsMatcher.Clone(),
	})

	for _, ref := range sel.Items {
		id := ref.ID
		pl := ns.items[id]
		if pl.IsFree() || !ns.rowMatches(q.Root, id, pl) {
			continue
		}
		newJSON, err := ns.applyUpdateFields(pl, q.UpdateFields)
		if err != nil {
			return nil, err
		}
		if err := ns.doModify(newJSON, modeUpsert, txID); err != nil {
			return nil, err
		}
		res.Add(qresults.ItemRef{ID: id, NsID: nsID, Value: ns.items[id]})
	}
	res.TotalCount = res.Len()

	rec := wal.Record{Type: wal.TypeUpdateQuery, Data: q.Marshal(), TxID: txID, InTx: txID != 0}
	lsn := ns.wlog.Add(rec)
	ns.replState.LastLSN = lsn
	if ns.broker != nil {
		rec.LSN = lsn
		ns.broker.Publish(ns.name, rec)
	}
	return res, nil
}

// applyUpdateFields rewrites the row's JSON with the SET assignments
// and returns the new document.
func (ns *Namespace) applyUpdateFields(pl payload.Value, fields []query.UpdateField) ([]byte, error) {
	enc := cjson.NewEncoder(ns.tagsMatcher)
	doc, err := enc.ToInterface(pl.Tuple())
	if err != nil {
		return nil, err
	}
	for _, f := range fields {
		var val interface{}
		if f.IsExpr {
			if len(f.Values) != 1 || f.Values[0].Type() != variant.TypeString {
				return nil, dberr.New(dberr.CodeParams, "update expression must be a single string")
			}
			v, err := evalUpdateExpr(f.Values[0].Str(), func(name string) (float64, error) {
				return numericField(doc, name)
			})
			if err != nil {
				return nil, err
			}
			val = v
		} else if len(f.Values) == 1 {
			val = f.Values[0].Interface()
		} else {
			arr := make([]interface{}, 0, len(f.Values))
			for _, v := range f.Values {
				arr = append(arr, v.Interface())
			}
			val = arr
		}
		setDocField(doc, f.Field, val)
	}
	return json.Marshal(doc)
}

func numericField(doc map[string]interface{}, name string) (float64, error) {
	v, ok := lookupDocField(doc, name)
	if !ok {
		return 0, dberr.Newf(dberr.CodeParams, "unknown field '%s' in update expression", name)
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, dberr.Wrap(dberr.CodeParams, err, "update expression")
		}
		return f, nil
	case int64:
		return float64(x), nil
	case int:
		return float64(x), nil
	}
	return 0, dberr.Newf(dberr.CodeParams, "field '%s' is not numeric", name)
}

// lookupDocField resolves a dotted path inside a decoded document.
func lookupDocField(doc map[string]interface{}, path string) (interface{}, bool) {
	cur := interface{}(doc)
	start := 0
	for i := 0; i <= len(path); i++ {
		if i < len(path) && path[i] != '.' {
			continue
		}
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[path[start:i]]
		if !ok {
			return nil, false
		}
		start = i + 1
	}
	return cur, true
}

// setDocField writes a dotted path, creating objects along the way.
func setDocField(doc map[string]interface{}, path string, val interface{}) {
	cur := doc
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] != '.' {
			continue
		}
		key := path[start:i]
		next, ok := cur[key].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			cur[key] = next
		}
		cur = next
		start = i + 1
	}
	cur[path[start:]] = val
}

// deleteQueryLocked removes every matching row under the write lock.
func (ns *Namespace) deleteQueryLocked(ctx context.Context, q *query.Query, txID uint64) (*qresults.Results, error) {
	sel, err := ns.selectLocked(ctx, &query.Query{Namespace: q.Namespace, Root: q.Root, Limit: -1})
	if err != nil {
		return nil, err
	}
	defer sel.Close()

	res := qresults.New()
	nsID := res.AddNsContext(qresults.NsContext{
		Name: ns.name,
		Type: ns.payloadType.Clone(),
		Tags: ns.tagsMatcher.Clone(),
	})

	var ids []idset.RowID
	for _, ref := range sel.Items {
		if ns.items[ref.ID].IsFree() || !ns.rowMatches(q.Root, ref.ID, ns.items[ref.ID]) {
			continue
		}
		res.Add(qresults.ItemRef{ID: ref.ID, NsID: nsID, Value: ns.items[ref.ID]})
		ids = append(ids, ref.ID)
	}
	for _, id := range ids {
		if err := ns.deleteRow(id, txID); err != nil {
			return nil, err
		}
	}
	res.TotalCount = len(ids)

	rec := wal.Record{Type: wal.TypeDeleteQuery, Data: q.Marshal(), TxID: txID, InTx: txID != 0}
	lsn := ns.wlog.Add(rec)
	ns.replState.LastLSN = lsn
	if ns.broker != nil {
		rec.LSN = lsn
		ns.broker.Publish(ns.name, rec)
	}
	return res, nil
}
