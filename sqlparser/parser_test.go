package sqlparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narwhaldb/narwhal/dberr"
	"github.com/narwhaldb/narwhal/query"
)

func TestSelectBasics(t *testing.T) {
	q, err := Parse("SELECT * FROM books WHERE id=2")
	require.NoError(t, err)
	assert.Equal(t, "books", q.Namespace)
	assert.Equal(t, query.TypeSelect, q.Type)
	require.Len(t, q.Root, 1)
	assert.Equal(t, "id", q.Root[0].Entry.Field)
	assert.Equal(t, query.CondEq, q.Root[0].Entry.Cond)
	assert.Equal(t, 2, q.Root[0].Entry.Values[0].Int())
}

func TestSelectFull(t *testing.T) {
	q, err := Parse(`SELECT id, title FROM books
		WHERE price > 3 AND price <= 7 AND NOT (genre = 'x' OR genre = 'y')
		ORDER BY price DESC, title LIMIT 2 OFFSET 1`)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "title"}, q.SelectFields)
	require.Len(t, q.Root, 3)
	assert.Equal(t, query.OpNot, q.Root[2].Op)
	require.Len(t, q.Root[2].Children, 2)
	assert.Equal(t, query.OpOr, q.Root[2].Children[1].Op)
	require.Len(t, q.Sort, 2)
	assert.True(t, q.Sort[0].Desc)
	assert.False(t, q.Sort[1].Desc)
	assert.Equal(t, 2, q.Limit)
	assert.Equal(t, 1, q.Offset)
}

func TestConditions(t *testing.T) {
	q, err := Parse(`SELECT * FROM ns WHERE a IN (1,2,3) AND b RANGE (5,10)
		AND c LIKE 'x%' AND d IS NULL AND e IS NOT NULL AND f @@ 'term*'`)
	require.NoError(t, err)
	require.Len(t, q.Root, 6)
	assert.Equal(t, query.CondSet, q.Root[0].Entry.Cond)
	assert.Len(t, q.Root[0].Entry.Values, 3)
	assert.Equal(t, query.CondRange, q.Root[1].Entry.Cond)
	assert.Equal(t, query.CondLike, q.Root[2].Entry.Cond)
	assert.Equal(t, query.CondEmpty, q.Root[3].Entry.Cond)
	assert.Equal(t, query.CondAny, q.Root[4].Entry.Cond)
	assert.Equal(t, query.CondMatch, q.Root[5].Entry.Cond)
	assert.Equal(t, "term*", q.Root[5].Entry.Values[0].Str())
}

func TestDWithin(t *testing.T) {
	q, err := Parse("SELECT * FROM geo WHERE DWITHIN(loc, POINT(1.5 2.5), 10)")
	require.NoError(t, err)
	require.Len(t, q.Root, 1)
	e := q.Root[0].Entry
	assert.Equal(t, query.CondDWithin, e.Cond)
	assert.Equal(t, 1.5, e.Values[0].Point().X)
	assert.Equal(t, 10.0, e.Values[1].Double())
}

func TestAggregates(t *testing.T) {
	q, err := Parse("SELECT COUNT(*), SUM(price), FACET(genre) FROM books")
	require.NoError(t, err)
	require.Len(t, q.Aggregations, 3)
	assert.Equal(t, query.AggCount, q.Aggregations[0].Type)
	assert.Equal(t, query.AggSum, q.Aggregations[1].Type)
	assert.Equal(t, []string{"price"}, q.Aggregations[1].Fields)
	assert.Equal(t, query.AggFacet, q.Aggregations[2].Type)
}

func TestJoin(t *testing.T) {
	q, err := Parse("SELECT * FROM books INNER JOIN authors ON books.author_id = authors.id WHERE price > 1")
	require.NoError(t, err)
	require.Len(t, q.Joins, 1)
	j := q.Joins[0]
	assert.Equal(t, query.JoinInner, j.Type)
	assert.Equal(t, "authors", j.Query.Namespace)
	require.Len(t, j.On, 1)
	assert.Equal(t, "author_id", j.On[0].LeftField)
	assert.Equal(t, "id", j.On[0].RightField)

	q, err = Parse("SELECT * FROM a LEFT JOIN b ON a.x = b.y")
	require.NoError(t, err)
	assert.Equal(t, query.JoinLeft, q.Joins[0].Type)
}

func TestMergeClause(t *testing.T) {
	q, err := Parse("SELECT * FROM a WHERE x=1 MERGE (SELECT * FROM b WHERE y=2)")
	require.NoError(t, err)
	require.Len(t, q.Merges, 1)
	assert.Equal(t, "b", q.Merges[0].Namespace)
}

func TestUpdateDeleteTruncate(t *testing.T) {
	q, err := Parse("UPDATE books SET price = 5, title = 'new' WHERE id = 1")
	require.NoError(t, err)
	assert.Equal(t, query.TypeUpdate, q.Type)
	require.Len(t, q.UpdateFields, 2)
	assert.Equal(t, "price", q.UpdateFields[0].Field)
	assert.Equal(t, "new", q.UpdateFields[1].Values[0].Str())

	q, err = Parse("DELETE FROM books WHERE id = 1")
	require.NoError(t, err)
	assert.Equal(t, query.TypeDelete, q.Type)

	q, err = Parse("TRUNCATE books")
	require.NoError(t, err)
	assert.Equal(t, query.TypeTruncate, q.Type)
}

func TestParseErrors(t *testing.T) {
	for _, bad := range []string{
		"",
		"SELECT",
		"SELECT * FROM",
		"SELECT * FROM ns WHERE",
		"SELECT * FROM ns WHERE x",
		"SELECT * FROM ns WHERE x = ",
		"SELECT * FROM ns LIMIT 'x'",
		"INSERT INTO ns VALUES (1)",
		"SELECT * FROM ns WHERE x IN (1,2",
	} {
		_, err := Parse(bad)
		require.Error(t, err, "input %q", bad)
		assert.Equal(t, dberr.CodeParseSQL, dberr.CodeOf(err), "input %q", bad)
	}
}
