package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narwhaldb/narwhal/variant"
)

func TestMarshalRoundTrip(t *testing.T) {
	q := New("books").
		Where("id", CondSet, variant.NewInt(1), variant.NewInt(2)).
		OpenBracket(OpAnd).
		Where("price", CondGt, variant.NewInt(10)).
		WhereOp(OpOr, "price", CondEq, variant.NewInt(0)).
		CloseBracket().
		Match("title", "terminator").
		SortBy("price", true).
		WithLimit(10).
		WithOffset(5).
		Aggregate(AggFacet, "genre")
	q.ReqTotal = true

	sub := New("authors").Where("name", CondLike, variant.NewString("a%"))
	q.Join(JoinInner, sub, JoinEntry{LeftField: "author_id", RightField: "id", Cond: CondEq})
	q.Merge(New("old_books").Where("id", CondEq, variant.NewInt(7)))

	data := q.Marshal()
	got, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, "books", got.Namespace)
	assert.Equal(t, 10, got.Limit)
	assert.Equal(t, 5, got.Offset)
	assert.True(t, got.ReqTotal)
	require.Len(t, got.Root, 3)
	assert.True(t, got.Root[0].IsLeaf())
	assert.Equal(t, CondSet, got.Root[0].Entry.Cond)
	require.Len(t, got.Root[1].Children, 2)
	assert.Equal(t, OpOr, got.Root[1].Children[1].Op)
	assert.Equal(t, CondMatch, got.Root[2].Entry.Cond)
	require.Len(t, got.Sort, 1)
	assert.True(t, got.Sort[0].Desc)
	require.Len(t, got.Aggregations, 1)
	assert.Equal(t, AggFacet, got.Aggregations[0].Type)
	require.Len(t, got.Joins, 1)
	assert.Equal(t, "authors", got.Joins[0].Query.Namespace)
	require.Len(t, got.Merges, 1)
	assert.Equal(t, "old_books", got.Merges[0].Namespace)

	// Byte-stable re-serialization.
	assert.Equal(t, data, got.Marshal())
}

func TestMarshalVariants(t *testing.T) {
	q := New("ns").
		Where("b", CondEq, variant.NewBool(true)).
		Where("d", CondEq, variant.NewDouble(1.25)).
		Where("s", CondEq, variant.NewString("x")).
		Where("p", CondDWithin, variant.NewPoint(variant.NewPointXY(1, 2)), variant.NewDouble(3)).
		Where("t", CondEq, variant.NewTuple(variant.VariantArray{variant.NewInt(1), variant.NewString("y")}))

	got, err := Unmarshal(q.Marshal())
	require.NoError(t, err)
	require.Len(t, got.Root, 5)
	assert.Equal(t, true, got.Root[0].Entry.Values[0].Bool())
	assert.Equal(t, 1.25, got.Root[1].Entry.Values[0].Double())
	assert.Equal(t, "x", got.Root[2].Entry.Values[0].Str())
	assert.Equal(t, 2.0, got.Root[3].Entry.Values[0].Point().Y)
	tup := got.Root[4].Entry.Values[0].Tuple()
	require.Len(t, tup, 2)
	assert.Equal(t, "y", tup[1].Str())
}

func TestUnmarshalBadVersion(t *testing.T) {
	_, err := Unmarshal([]byte{99})
	assert.Error(t, err)
}
