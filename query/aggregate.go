package query

// AggType enumerates aggregate functions.
type AggType int

const (
	AggSum AggType = iota
	AggAvg
	AggMin
	AggMax
	AggFacet
	AggDistinct
	AggCount
)

// String returns the SQL spelling.
func (a AggType) String() string {
	switch a {
	case AggSum:
		return "SUM"
	case AggAvg:
		return "AVG"
	case AggMin:
		return "MIN"
	case AggMax:
		return "MAX"
	case AggFacet:
		return "FACET"
	case AggDistinct:
		return "DISTINCT"
	case AggCount:
		return "COUNT"
	}
	return "?"
}

// AggregateEntry requests one aggregation over the result set.
type AggregateEntry struct {
	Type   AggType
	Fields []string
	Limit  int
	Offset int
}

// Aggregate appends an aggregation request.
func (q *Query) Aggregate(t AggType, fields ...string) *Query {
	q.Aggregations = append(q.Aggregations, AggregateEntry{Type: t, Fields: fields, Limit: -1})
	return q
}
