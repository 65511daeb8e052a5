package namespace

import (
	"sort"

	"github.com/narwhaldb/narwhal/cjson"
	"github.com/narwhaldb/narwhal/dberr"
	"github.com/narwhaldb/narwhal/qresults"
	"github.com/narwhaldb/narwhal/query"
	"github.com/narwhaldb/narwhal/variant"
)

// aggregate computes the requested aggregations over the full matched
// set (before limit/offset).
func (ns *Namespace) aggregate(q *query.Query, refs []qresults.ItemRef) ([]qresults.AggregationResult, error) {
	if len(q.Aggregations) == 0 {
		return nil, nil
	}
	out := make([]qresults.AggregationResult, 0, len(q.Aggregations))
	for _, agg := range q.Aggregations {
		res := qresults.AggregationResult{Type: agg.Type, Fields: agg.Fields}
		switch agg.Type {
		case query.AggCount:
			res.Value = float64(len(refs))
		case query.AggSum, query.AggAvg, query.AggMin, query.AggMax:
			if len(agg.Fields) != 1 {
				return nil, dberr.Newf(dberr.CodeParams, "%s takes exactly one field", agg.Type)
			}
			if err := ns.aggNumeric(&res, agg, refs); err != nil {
				return nil, err
			}
		case query.AggFacet:
			if len(agg.Fields) == 0 {
				return nil, dberr.New(dberr.CodeParams, "FACET needs at least one field")
			}
			ns.aggFacet(&res, agg, refs)
		case query.AggDistinct:
			if len(agg.Fields) != 1 {
				return nil, dberr.New(dberr.CodeParams, "DISTINCT takes exactly one field")
			}
			ns.aggDistinct(&res, agg, refs)
		}
		out = append(out, res)
	}
	return out, nil
}

func (ns *Namespace) aggNumeric(res *qresults.AggregationResult, agg query.AggregateEntry, refs []qresults.ItemRef) error {
	field := agg.Fields[0]
	var sum float64
	count := 0
	first := true
	for _, ref := range refs {
		for _, v := range ns.valuesOf(ref, field) {
			if v.IsNull() {
				continue
			}
			dv, err := v.As(variant.TypeDouble)
			if err != nil {
				return dberr.Wrap(dberr.CodeParams, err, "aggregate field '"+field+"'")
			}
			d := dv.Double()
			switch agg.Type {
			case query.AggSum, query.AggAvg:
				sum += d
			case query.AggMin:
				if first || d < res.Value {
					res.Value = d
				}
			case query.AggMax:
				if first || d > res.Value {
					res.Value = d
				}
			}
			first = false
			count++
		}
	}
	switch agg.Type {
	case query.AggSum:
		res.Value = sum
	case query.AggAvg:
		if count > 0 {
			res.Value = sum / float64(count)
		}
	}
	return nil
}

func (ns *Namespace) aggFacet(res *qresults.AggregationResult, agg query.AggregateEntry, refs []qresults.ItemRef) {
	buckets := make(map[string]*qresults.FacetItem)
	var order []string
	for _, ref := range refs {
		values := make([]string, 0, len(agg.Fields))
		for _, f := range agg.Fields {
			vals := ns.valuesOf(ref, f)
			if len(vals) == 0 {
				values = append(values, "")
				continue
			}
			values = append(values, vals[0].String())
		}
		key := joinFacetKey(values)
		b, ok := buckets[key]
		if !ok {
			b = &qresults.FacetItem{Values: values}
			buckets[key] = b
			order = append(order, key)
		}
		b.Count++
	}
	sort.Strings(order)
	limit := agg.Limit
	offset := agg.Offset
	for i, key := range order {
		if i < offset {
			continue
		}
		if limit >= 0 && len(res.Facets) >= limit {
			break
		}
		res.Facets = append(res.Facets, *buckets[key])
	}
}

func joinFacetKey(values []string) string {
	out := ""
	for i, v := range values {
		if i > 0 {
			out += "\x00"
		}
		out += v
	}
	return out
}

func (ns *Namespace) aggDistinct(res *qresults.AggregationResult, agg query.AggregateEntry, refs []qresults.ItemRef) {
	seen := make(map[uint64]struct{})
	for _, ref := range refs {
		for _, v := range ns.valuesOf(ref, agg.Fields[0]) {
			h := v.Hash()
			if _, dup := seen[h]; dup {
				continue
			}
			seen[h] = struct{}{}
			res.Distinct = append(res.Distinct, v)
		}
	}
}

func (ns *Namespace) valuesOf(ref qresults.ItemRef, field string) variant.VariantArray {
	if f, ok := ns.payloadType.FieldByName(field); ok && f > 0 {
		return ref.Value.Get(f)
	}
	return cjson.ExtractPath(ref.Value.Tuple(), ns.tagsMatcher, field)
}
