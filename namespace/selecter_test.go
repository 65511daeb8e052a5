package namespace

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narwhaldb/narwhal/index"
	"github.com/narwhaldb/narwhal/query"
	"github.com/narwhaldb/narwhal/variant"
)

func TestFulltextRanksDriveOrder(t *testing.T) {
	ns := newNS(t, "docs", pkInt("id"),
		index.Def{Name: "text", IndexType: index.KindFtFast, FieldType: "string"})
	ctx := context.Background()

	require.NoError(t, ns.Upsert(ctx, []byte(`{"id":1,"text":"terminator"}`)))
	require.NoError(t, ns.Upsert(ctx, []byte(`{"id":2,"text":"terminate"}`)))
	require.NoError(t, ns.Upsert(ctx, []byte(`{"id":3,"text":"term"}`)))

	res, err := ns.Select(ctx, query.New("docs").Match("text", "termin*"))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Len())
	res.Close()

	res, err = ns.Select(ctx, query.New("docs").Match("text", "terminator"))
	require.NoError(t, err)
	defer res.Close()
	require.NotEmpty(t, res.Items)
	// The exact match leads and outranks everything else.
	top := res.Items[0]
	assert.EqualValues(t, 1, top.ID)
	for _, ref := range res.Items[1:] {
		assert.Less(t, ref.Rank, top.Rank)
	}
}

func TestOrBranchesUnion(t *testing.T) {
	ns := newNS(t, "items", pkInt("id"),
		index.Def{Name: "a", IndexType: index.KindHash, FieldType: "int"})
	ctx := context.Background()
	for i := 1; i <= 6; i++ {
		require.NoError(t, ns.Upsert(ctx, []byte(fmt.Sprintf(`{"id":%d,"a":%d}`, i, i))))
	}

	q := query.New("items").
		Where("a", query.CondEq, variant.NewInt(1)).
		WhereOp(query.OpOr, "a", query.CondEq, variant.NewInt(4))
	res, err := ns.Select(ctx, q)
	require.NoError(t, err)
	defer res.Close()
	assert.Equal(t, 2, res.Len())
}

func TestNotCondition(t *testing.T) {
	ns := newNS(t, "items", pkInt("id"),
		index.Def{Name: "a", IndexType: index.KindHash, FieldType: "int"})
	ctx := context.Background()
	for i := 1; i <= 4; i++ {
		require.NoError(t, ns.Upsert(ctx, []byte(fmt.Sprintf(`{"id":%d,"a":%d}`, i, i%2))))
	}

	q := query.New("items").WhereOp(query.OpNot, "a", query.CondEq, variant.NewInt(0))
	res, err := ns.Select(ctx, q)
	require.NoError(t, err)
	defer res.Close()
	assert.Equal(t, 2, res.Len())
}

func TestAggregations(t *testing.T) {
	ns := newNS(t, "items", pkInt("id"),
		index.Def{Name: "price", IndexType: index.KindTree, FieldType: "int"},
		index.Def{Name: "genre", IndexType: index.KindHash, FieldType: "string"})
	ctx := context.Background()
	prices := []int{10, 20, 30, 40}
	genres := []string{"sf", "sf", "horror", "sf"}
	for i := range prices {
		require.NoError(t, ns.Upsert(ctx, []byte(fmt.Sprintf(
			`{"id":%d,"price":%d,"genre":"%s"}`, i, prices[i], genres[i]))))
	}

	q := query.New("items").
		Aggregate(query.AggSum, "price").
		Aggregate(query.AggAvg, "price").
		Aggregate(query.AggMin, "price").
		Aggregate(query.AggMax, "price").
		Aggregate(query.AggCount).
		Aggregate(query.AggFacet, "genre").
		Aggregate(query.AggDistinct, "genre")
	res, err := ns.Select(ctx, q)
	require.NoError(t, err)
	defer res.Close()

	aggs := res.Aggregations
	require.Len(t, aggs, 7)
	assert.Equal(t, 100.0, aggs[0].Value)
	assert.Equal(t, 25.0, aggs[1].Value)
	assert.Equal(t, 10.0, aggs[2].Value)
	assert.Equal(t, 40.0, aggs[3].Value)
	assert.Equal(t, 4.0, aggs[4].Value)
	require.Len(t, aggs[5].Facets, 2)
	assert.Len(t, aggs[6].Distinct, 2)
}

func TestInnerJoinFilters(t *testing.T) {
	books := newNS(t, "books", pkInt("id"),
		index.Def{Name: "author_id", IndexType: index.KindHash, FieldType: "int"})
	authors := newNS(t, "authors", pkInt("id"),
		index.Def{Name: "name", IndexType: index.KindHash, FieldType: "string"})
	resolver := func(name string) (*Namespace, error) {
		if name == "authors" {
			return authors, nil
		}
		return books, nil
	}
	books.SetResolver(resolver)
	authors.SetResolver(resolver)
	ctx := context.Background()

	require.NoError(t, authors.Upsert(ctx, []byte(`{"id":1,"name":"alice"}`)))
	require.NoError(t, authors.Upsert(ctx, []byte(`{"id":2,"name":"bob"}`)))
	require.NoError(t, books.Upsert(ctx, []byte(`{"id":10,"author_id":1}`)))
	require.NoError(t, books.Upsert(ctx, []byte(`{"id":11,"author_id":2}`)))
	require.NoError(t, books.Upsert(ctx, []byte(`{"id":12,"author_id":3}`)))

	sub := query.New("authors").Where("name", query.CondEq, variant.NewString("alice"))
	q := query.New("books").Join(query.JoinInner, sub,
		query.JoinEntry{LeftField: "author_id", RightField: "id", Cond: query.CondEq})

	res, err := books.Select(ctx, q)
	require.NoError(t, err)
	defer res.Close()

	require.Equal(t, 1, res.Len())
	assert.EqualValues(t, 10, res.Items[0].ID)
	// The joined author rows ride along.
	subs := res.Joined[res.Items[0].ID]
	require.Len(t, subs, 1)
	assert.Equal(t, 1, subs[0].Len())
}

func TestLeftJoinKeepsOuter(t *testing.T) {
	books := newNS(t, "books2", pkInt("id"),
		index.Def{Name: "author_id", IndexType: index.KindHash, FieldType: "int"})
	authors := newNS(t, "authors2", pkInt("id"))
	resolver := func(name string) (*Namespace, error) {
		if name == "authors2" {
			return authors, nil
		}
		return books, nil
	}
	books.SetResolver(resolver)
	ctx := context.Background()

	require.NoError(t, authors.Upsert(ctx, []byte(`{"id":1}`)))
	require.NoError(t, books.Upsert(ctx, []byte(`{"id":10,"author_id":1}`)))
	require.NoError(t, books.Upsert(ctx, []byte(`{"id":11,"author_id":99}`)))

	q := query.New("books2").Join(query.JoinLeft, query.New("authors2"),
		query.JoinEntry{LeftField: "author_id", RightField: "id", Cond: query.CondEq})
	res, err := books.Select(ctx, q)
	require.NoError(t, err)
	defer res.Close()
	assert.Equal(t, 2, res.Len())
}

func TestMergeCombines(t *testing.T) {
	a := newNS(t, "m_a", pkInt("id"))
	b := newNS(t, "m_b", pkInt("id"))
	resolver := func(name string) (*Namespace, error) {
		if name == "m_b" {
			return b, nil
		}
		return a, nil
	}
	a.SetResolver(resolver)
	ctx := context.Background()

	require.NoError(t, a.Upsert(ctx, []byte(`{"id":1}`)))
	require.NoError(t, b.Upsert(ctx, []byte(`{"id":2}`)))

	q := query.New("m_a").Merge(query.New("m_b"))
	res, err := a.Select(ctx, q)
	require.NoError(t, err)
	defer res.Close()
	assert.Equal(t, 2, res.Len())
	assert.Len(t, res.NsContexts, 2)
}

func TestUpdateQuery(t *testing.T) {
	ns := newNS(t, "items", pkInt("id"),
		index.Def{Name: "price", IndexType: index.KindTree, FieldType: "int"})
	ctx := context.Background()
	for i := 1; i <= 4; i++ {
		require.NoError(t, ns.Upsert(ctx, []byte(fmt.Sprintf(`{"id":%d,"price":%d}`, i, i*10))))
	}

	q := query.New("items").Where("price", query.CondGe, variant.NewInt(30))
	q.Set("price", variant.NewInt(99))
	res, err := ns.UpdateQuery(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Len())
	res.Close()

	check, err := ns.Select(ctx, query.New("items").Where("price", query.CondEq, variant.NewInt(99)))
	require.NoError(t, err)
	assert.Equal(t, 2, check.Len())
	check.Close()
}

func TestUpdateQueryExpression(t *testing.T) {
	ns := newNS(t, "items", pkInt("id"),
		index.Def{Name: "price", IndexType: index.KindTree, FieldType: "int"})
	ctx := context.Background()
	require.NoError(t, ns.Upsert(ctx, []byte(`{"id":1,"price":10}`)))

	q := query.New("items").Where("id", query.CondEq, variant.NewInt(1))
	q.Type = query.TypeUpdate
	q.UpdateFields = append(q.UpdateFields, query.UpdateField{
		Field:  "price",
		Values: variant.VariantArray{variant.NewString("price * 2 + 1")},
		IsExpr: true,
	})
	res, err := ns.UpdateQuery(ctx, q)
	require.NoError(t, err)
	res.Close()

	check, err := ns.Select(ctx, query.New("items").Where("id", query.CondEq, variant.NewInt(1)))
	require.NoError(t, err)
	defer check.Close()
	items := allJSON(t, check)
	require.Len(t, items, 1)
	assert.Equal(t, float64(21), items[0]["price"])
}

func TestDeleteQuery(t *testing.T) {
	ns := newNS(t, "items", pkInt("id"),
		index.Def{Name: "price", IndexType: index.KindTree, FieldType: "int"})
	ctx := context.Background()
	for i := 1; i <= 4; i++ {
		require.NoError(t, ns.Upsert(ctx, []byte(fmt.Sprintf(`{"id":%d,"price":%d}`, i, i*10))))
	}

	q := query.New("items").Where("price", query.CondLt, variant.NewInt(30))
	q.Type = query.TypeDelete
	res, err := ns.DeleteQuery(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalCount)
	res.Close()
	assert.Equal(t, 2, ns.ItemsCount())
}

func TestSelectFieldsFilter(t *testing.T) {
	ns := newNS(t, "items", pkInt("id"))
	ctx := context.Background()
	require.NoError(t, ns.Upsert(ctx, []byte(`{"id":1,"keep":"a","drop":"b"}`)))

	q := query.New("items")
	q.SelectFields = []string{"keep"}
	res, err := ns.Select(ctx, q)
	require.NoError(t, err)
	defer res.Close()
	items := allJSON(t, res)
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0]["keep"])
	_, hasDrop := items[0]["drop"]
	assert.False(t, hasDrop)
}

func TestOffsetAndTotal(t *testing.T) {
	ns := newNS(t, "items", pkInt("id"))
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, ns.Upsert(ctx, []byte(fmt.Sprintf(`{"id":%d}`, i))))
	}
	q := query.New("items").WithOffset(7).WithLimit(5)
	res, err := ns.Select(ctx, q)
	require.NoError(t, err)
	defer res.Close()
	assert.Equal(t, 3, res.Len())
	assert.Equal(t, 10, res.TotalCount)
}
