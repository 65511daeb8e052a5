// Package dsl parses the JSON query DSL into query ASTs.
package dsl

import (
	"encoding/json"
	"strings"

	"github.com/narwhaldb/narwhal/dberr"
	"github.com/narwhaldb/narwhal/query"
	"github.com/narwhaldb/narwhal/variant"
)

type dslQuery struct {
	Namespace string      `json:"namespace"`
	Filters   []dslFilter `json:"filters"`
	Sort      *dslSort    `json:"sort"`
	Limit     *int        `json:"limit"`
	Offset    *int        `json:"offset"`
	ReqTotal  bool        `json:"req_total"`
}

type dslFilter struct {
	Field   string      `json:"field"`
	Cond    string      `json:"cond"`
	Op      string      `json:"op"`
	Value   interface{} `json:"value"`
	Filters []dslFilter `json:"filters"`
}

type dslSort struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc"`
}

// Parse builds a query from a DSL document.
func Parse(data []byte) (*query.Query, error) {
	var dq dslQuery
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&dq); err != nil {
		return nil, dberr.Wrap(dberr.CodeParseDSL, err, "dsl document")
	}
	if dq.Namespace == "" {
		return nil, dberr.New(dberr.CodeParseDSL, "dsl: namespace is required")
	}
	q := query.New(dq.Namespace)
	for _, f := range dq.Filters {
		if err := applyFilter(q, f); err != nil {
			return nil, err
		}
	}
	if dq.Sort != nil && dq.Sort.Field != "" {
		q.SortBy(dq.Sort.Field, dq.Sort.Desc)
	}
	if dq.Limit != nil {
		q.WithLimit(*dq.Limit)
	}
	if dq.Offset != nil {
		q.WithOffset(*dq.Offset)
	}
	q.ReqTotal = dq.ReqTotal
	return q, nil
}

func applyFilter(q *query.Query, f dslFilter) error {
	op, err := opByName(f.Op)
	if err != nil {
		return err
	}
	if len(f.Filters) > 0 {
		q.OpenBracket(op)
		for _, sub := range f.Filters {
			if err := applyFilter(q, sub); err != nil {
				return err
			}
		}
		q.CloseBracket()
		return nil
	}
	cond, err := condByName(f.Cond)
	if err != nil {
		return err
	}
	vals, err := valuesOf(f.Value)
	if err != nil {
		return err
	}
	q.WhereOp(op, f.Field, cond, vals...)
	return nil
}

func opByName(name string) (query.OpType, error) {
	switch strings.ToLower(name) {
	case "", "and":
		return query.OpAnd, nil
	case "or":
		return query.OpOr, nil
	case "not":
		return query.OpNot, nil
	}
	return 0, dberr.Newf(dberr.CodeParseDSL, "dsl: unknown op '%s'", name)
}

func condByName(name string) (query.CondType, error) {
	switch strings.ToLower(name) {
	case "eq":
		return query.CondEq, nil
	case "lt":
		return query.CondLt, nil
	case "le":
		return query.CondLe, nil
	case "gt":
		return query.CondGt, nil
	case "ge":
		return query.CondGe, nil
	case "range":
		return query.CondRange, nil
	case "set", "in":
		return query.CondSet, nil
	case "allset":
		return query.CondAllSet, nil
	case "any":
		return query.CondAny, nil
	case "empty":
		return query.CondEmpty, nil
	case "like":
		return query.CondLike, nil
	case "dwithin":
		return query.CondDWithin, nil
	case "match":
		return query.CondMatch, nil
	}
	return 0, dberr.Newf(dberr.CodeParseDSL, "dsl: unknown condition '%s'", name)
}

func valuesOf(raw interface{}) (variant.VariantArray, error) {
	if raw == nil {
		return nil, nil
	}
	if arr, ok := raw.([]interface{}); ok {
		out := make(variant.VariantArray, 0, len(arr))
		for _, e := range arr {
			v, err := oneValue(e)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	v, err := oneValue(raw)
	if err != nil {
		return nil, err
	}
	return variant.VariantArray{v}, nil
}

func oneValue(raw interface{}) (variant.Variant, error) {
	if n, ok := raw.(json.Number); ok {
		if i, err := n.Int64(); err == nil && !strings.ContainsAny(n.String(), ".eE") {
			if i >= -1<<31 && i < 1<<31 {
				return variant.NewInt(int(i)), nil
			}
			return variant.NewInt64(i), nil
		}
		f, err := n.Float64()
		if err != nil {
			return variant.Null(), dberr.Wrap(dberr.CodeParseDSL, err, "dsl value")
		}
		return variant.NewDouble(f), nil
	}
	v, err := variant.FromInterface(raw)
	if err != nil {
		return variant.Null(), dberr.Wrap(dberr.CodeParseDSL, err, "dsl value")
	}
	return v, nil
}
