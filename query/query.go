// Package query defines the filter AST shared by the SQL parser, the
// JSON DSL and the programmatic builder, plus its wire serialization.
package query

import (
	"github.com/narwhaldb/narwhal/variant"
)

// CondType enumerates filter conditions.
type CondType int

const (
	CondAny CondType = iota
	CondEq
	CondLt
	CondLe
	CondGt
	CondGe
	CondRange
	CondSet
	CondAllSet
	CondEmpty
	CondLike
	CondDWithin
	CondMatch // full-text
)

// String returns the SQL-ish spelling of the condition.
func (c CondType) String() string {
	switch c {
	case CondAny:
		return "IS NOT NULL"
	case CondEq:
		return "="
	case CondLt:
		return "<"
	case CondLe:
		return "<="
	case CondGt:
		return ">"
	case CondGe:
		return ">="
	case CondRange:
		return "RANGE"
	case CondSet:
		return "IN"
	case CondAllSet:
		return "ALLSET"
	case CondEmpty:
		return "IS NULL"
	case CondLike:
		return "LIKE"
	case CondDWithin:
		return "DWITHIN"
	case CondMatch:
		return "@@"
	}
	return "?"
}

// OpType is the logical connector preceding an entry.
type OpType int

const (
	OpAnd OpType = iota
	OpOr
	OpNot
)

// Type selects the statement kind.
type Type int

const (
	TypeSelect Type = iota
	TypeUpdate
	TypeDelete
	TypeTruncate
)

// JoinType enumerates join strategies.
type JoinType int

const (
	JoinInner JoinType = iota
	JoinLeft
	JoinOrInner
)

// Entry is a single field condition.
type Entry struct {
	Field  string
	Cond   CondType
	Values variant.VariantArray
}

// Node is a filter-tree node: either a leaf entry or a bracket with
// children. Op connects the node to its left sibling.
type Node struct {
	Op       OpType
	Entry    *Entry
	Children []*Node
}

// IsLeaf reports whether the node is a single condition.
func (n *Node) IsLeaf() bool { return n.Entry != nil }

// SortEntry is one ORDER BY key.
type SortEntry struct {
	Field  string
	Desc   bool
	Forced variant.VariantArray // forced ordering values, strongest first
}

// JoinEntry is one ON condition of a join.
type JoinEntry struct {
	Op         OpType
	LeftField  string
	RightField string
	Cond       CondType
}

// JoinQuery is a join bound to a parent query.
type JoinQuery struct {
	Type  JoinType
	Query *Query
	On    []JoinEntry
}

// UpdateField describes one SET assignment of an UPDATE.
type UpdateField struct {
	Field  string
	Values variant.VariantArray
	IsExpr bool
}

// Query is the full statement.
type Query struct {
	Namespace    string
	Type         Type
	Root         []*Node
	Sort         []SortEntry
	Aggregations []AggregateEntry
	SelectFields []string
	Limit        int
	Offset       int
	ReqTotal     bool
	Explain      bool
	Joins        []JoinQuery
	Merges       []*Query
	UpdateFields []UpdateField

	openBrackets []*[]*Node
}

// New starts a SELECT query on a namespace.
func New(namespace string) *Query {
	return &Query{Namespace: namespace, Limit: -1, Offset: 0}
}

func (q *Query) target() *[]*Node {
	if n := len(q.openBrackets); n > 0 {
		return q.openBrackets[n-1]
	}
	return &q.Root
}

// Where appends a condition with the given connector defaulting to AND;
// use the returned query for chaining.
func (q *Query) Where(field string, cond CondType, values ...variant.Variant) *Query {
	return q.WhereOp(OpAnd, field, cond, values...)
}

// WhereOp appends a condition with an explicit connector.
func (q *Query) WhereOp(op OpType, field string, cond CondType, values ...variant.Variant) *Query {
	t := q.target()
	*t = append(*t, &Node{Op: op, Entry: &Entry{Field: field, Cond: cond, Values: values}})
	return q
}

// Match appends a full-text condition.
func (q *Query) Match(field, pattern string) *Query {
	return q.Where(field, CondMatch, variant.NewString(pattern))
}

// DWithin appends a geometric condition.
func (q *Query) DWithin(field string, p variant.Point, dist float64) *Query {
	return q.Where(field, CondDWithin, variant.NewPoint(p), variant.NewDouble(dist))
}

// OpenBracket starts a nested filter group.
func (q *Query) OpenBracket(op OpType) *Query {
	t := q.target()
	n := &Node{Op: op}
	*t = append(*t, n)
	q.openBrackets = append(q.openBrackets, &n.Children)
	return q
}

// CloseBracket finishes the innermost group.
func (q *Query) CloseBracket() *Query {
	if len(q.openBrackets) > 0 {
		q.openBrackets = q.openBrackets[:len(q.openBrackets)-1]
	}
	return q
}

// SortBy appends an ORDER BY key.
func (q *Query) SortBy(field string, desc bool) *Query {
	q.Sort = append(q.Sort, SortEntry{Field: field, Desc: desc})
	return q
}

// WithLimit caps the result count.
func (q *Query) WithLimit(limit int) *Query {
	q.Limit = limit
	return q
}

// WithOffset skips the first rows.
func (q *Query) WithOffset(offset int) *Query {
	q.Offset = offset
	return q
}

// Join binds an inner/left/or-inner join.
func (q *Query) Join(t JoinType, sub *Query, on ...JoinEntry) *Query {
	q.Joins = append(q.Joins, JoinQuery{Type: t, Query: sub, On: on})
	return q
}

// Merge appends a UNION ALL sub-query.
func (q *Query) Merge(sub *Query) *Query {
	q.Merges = append(q.Merges, sub)
	return q
}

// Set appends an UPDATE assignment and switches the type to Update.
func (q *Query) Set(field string, values ...variant.Variant) *Query {
	q.Type = TypeUpdate
	q.UpdateFields = append(q.UpdateFields, UpdateField{Field: field, Values: values})
	return q
}
