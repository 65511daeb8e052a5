package geom

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narwhaldb/narwhal/idset"
	"github.com/narwhaldb/narwhal/index"
	"github.com/narwhaldb/narwhal/payload"
	"github.com/narwhaldb/narwhal/query"
	"github.com/narwhaldb/narwhal/variant"
)

func TestTreeDWithin(t *testing.T) {
	tree := NewTree()
	tree.Insert(variant.NewPointXY(0, 0), 1)
	tree.Insert(variant.NewPointXY(3, 4), 2)
	tree.Insert(variant.NewPointXY(10, 10), 3)

	out := idset.New()
	tree.DWithin(variant.NewPointXY(0, 0), 5, out)
	out.Commit()
	assert.Equal(t, []idset.RowID{1, 2}, out.ToSlice())
}

func TestTreeSplitAndDelete(t *testing.T) {
	tree := NewTree()
	rng := rand.New(rand.NewPCG(1, 2))
	pts := make([]variant.Point, 0, 200)
	for i := 0; i < 200; i++ {
		p := variant.NewPointXY(rng.Float64()*100, rng.Float64()*100)
		pts = append(pts, p)
		tree.Insert(p, idset.RowID(i))
	}
	require.Equal(t, 200, tree.Size())

	// Every point is findable within radius 0.
	for i, p := range pts {
		out := idset.New()
		tree.DWithin(p, 0.0001, out)
		out.Commit()
		assert.True(t, out.Contains(idset.RowID(i)), "point %d lost", i)
	}

	for i := 0; i < 100; i++ {
		require.True(t, tree.Delete(pts[i], idset.RowID(i)))
	}
	assert.Equal(t, 100, tree.Size())
	for i := 100; i < 200; i++ {
		out := idset.New()
		tree.DWithin(pts[i], 0.0001, out)
		out.Commit()
		assert.True(t, out.Contains(idset.RowID(i)), "survivor %d lost", i)
	}
}

func TestKNearest(t *testing.T) {
	tree := NewTree()
	tree.Insert(variant.NewPointXY(1, 0), 1)
	tree.Insert(variant.NewPointXY(2, 0), 2)
	tree.Insert(variant.NewPointXY(3, 0), 3)

	nn := tree.KNearest(variant.NewPointXY(0, 0), 2)
	require.Len(t, nn, 2)
	assert.Equal(t, idset.RowID(1), nn[0].ID)
	assert.Equal(t, idset.RowID(2), nn[1].ID)
}

func TestGeomIndexSelect(t *testing.T) {
	def := &index.Def{Name: "loc", IndexType: index.KindRTree, FieldType: "point"}
	idx, err := index.New(def, []int{1}, func(id idset.RowID) payload.Value { return payload.Value{} })
	require.NoError(t, err)

	_, err = idx.Upsert(variant.NewPoint(variant.NewPointXY(1, 1)), 1)
	require.NoError(t, err)

	res, err := idx.SelectKey(context.Background(), variant.VariantArray{
		variant.NewPoint(variant.NewPointXY(0, 0)), variant.NewDouble(2),
	}, query.CondDWithin, index.SelectOpts{})
	require.NoError(t, err)
	assert.Equal(t, []idset.RowID{1}, res[0].Ids.ToSlice())

	_, err = idx.SelectKey(context.Background(), nil, query.CondEq, index.SelectOpts{})
	assert.Error(t, err)
}
