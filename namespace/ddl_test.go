package namespace

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narwhaldb/narwhal/dberr"
	"github.com/narwhaldb/narwhal/index"
	"github.com/narwhaldb/narwhal/query"
	"github.com/narwhaldb/narwhal/variant"
)

func TestAddIndexBackfillsExistingRows(t *testing.T) {
	ns := newNS(t, "items", pkInt("id"))
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		require.NoError(t, ns.Upsert(ctx, []byte(fmt.Sprintf(`{"id":%d,"price":%d}`, i, i*10))))
	}

	require.NoError(t, ns.AddIndex(ctx, index.Def{Name: "price", IndexType: index.KindTree, FieldType: "int"}))

	res, err := ns.Select(ctx, query.New("items").Where("price", query.CondGe, variant.NewInt(40)))
	require.NoError(t, err)
	defer res.Close()
	assert.Equal(t, 2, res.Len())
}

func TestAddIndexIdempotentAndConflicting(t *testing.T) {
	ns := newNS(t, "items", pkInt("id"))
	ctx := context.Background()

	def := index.Def{Name: "price", IndexType: index.KindTree, FieldType: "int"}
	require.NoError(t, ns.AddIndex(ctx, def))
	require.NoError(t, ns.AddIndex(ctx, def)) // same def is a no-op

	other := def
	other.IndexType = index.KindHash
	err := ns.AddIndex(ctx, other)
	assert.Equal(t, dberr.CodeConflict, dberr.CodeOf(err))
}

func TestAddSecondPKRejected(t *testing.T) {
	ns := newNS(t, "items", pkInt("id"))
	err := ns.AddIndex(context.Background(), pkInt("id2"))
	assert.Equal(t, dberr.CodeConflict, dberr.CodeOf(err))
}

func TestUpsertWithoutPKRejected(t *testing.T) {
	ns := newNS(t, "items")
	ctx := context.Background()
	require.NoError(t, ns.AddIndex(ctx, index.Def{Name: "v", IndexType: index.KindHash, FieldType: "int"}))
	err := ns.Upsert(ctx, []byte(`{"v":1}`))
	assert.Equal(t, dberr.CodeParams, dberr.CodeOf(err))
}

func TestUpdateIndexChangesKind(t *testing.T) {
	ns := newNS(t, "items", pkInt("id"))
	ctx := context.Background()
	require.NoError(t, ns.AddIndex(ctx, index.Def{Name: "price", IndexType: index.KindHash, FieldType: "int"}))
	for i := 1; i <= 3; i++ {
		require.NoError(t, ns.Upsert(ctx, []byte(fmt.Sprintf(`{"id":%d,"price":%d}`, i, i))))
	}

	require.NoError(t, ns.UpdateIndex(ctx, index.Def{Name: "price", IndexType: index.KindTree, FieldType: "int"}))

	// Ranges now work through the rebuilt tree index.
	res, err := ns.Select(ctx, query.New("items").Where("price", query.CondGt, variant.NewInt(1)))
	require.NoError(t, err)
	defer res.Close()
	assert.Equal(t, 2, res.Len())

	err = ns.UpdateIndex(ctx, index.Def{Name: "missing", IndexType: index.KindTree, FieldType: "int"})
	assert.Equal(t, dberr.CodeNotFound, dberr.CodeOf(err))

	err = ns.UpdateIndex(ctx, index.Def{Name: "price", IndexType: index.KindTree, FieldType: "string"})
	assert.Equal(t, dberr.CodeParams, dberr.CodeOf(err))
}

func TestDropIndex(t *testing.T) {
	ns := newNS(t, "items", pkInt("id"),
		index.Def{Name: "a", IndexType: index.KindHash, FieldType: "int"},
		index.Def{Name: "b", IndexType: index.KindHash, FieldType: "int"})
	ctx := context.Background()
	require.NoError(t, ns.Upsert(ctx, []byte(`{"id":1,"a":1,"b":2}`)))

	require.NoError(t, ns.DropIndex(ctx, "a"))
	defs, err := ns.Indexes()
	require.NoError(t, err)
	require.Len(t, defs, 2)

	// The remaining index still answers correctly after slot shifts.
	res, err := ns.Select(ctx, query.New("items").Where("b", query.CondEq, variant.NewInt(2)))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Len())
	res.Close()

	// Rows keep their full JSON regardless of the dropped slot.
	res, err = ns.Select(ctx, query.New("items"))
	require.NoError(t, err)
	items := allJSON(t, res)
	res.Close()
	require.Len(t, items, 1)
	assert.Equal(t, float64(1), items[0]["a"])

	err = ns.DropIndex(ctx, "missing")
	assert.Equal(t, dberr.CodeNotFound, dberr.CodeOf(err))
}

func TestDropIndexUsedByCompositeRejected(t *testing.T) {
	ns := newNS(t, "items", pkInt("id"),
		index.Def{Name: "a", IndexType: index.KindHash, FieldType: "int"},
		index.Def{Name: "b", IndexType: index.KindHash, FieldType: "int"},
		index.Def{Name: "a+b", IndexType: index.KindHash, FieldType: "composite"})
	err := ns.DropIndex(context.Background(), "a")
	assert.Equal(t, dberr.CodeLogic, dberr.CodeOf(err))
}

func TestCompositeRequiresExistingParts(t *testing.T) {
	ns := newNS(t, "items", pkInt("id"))
	err := ns.AddIndex(context.Background(),
		index.Def{Name: "x+y", IndexType: index.KindHash, FieldType: "composite"})
	assert.Equal(t, dberr.CodeParams, dberr.CodeOf(err))
}
