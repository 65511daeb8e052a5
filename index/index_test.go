package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narwhaldb/narwhal/idset"
	"github.com/narwhaldb/narwhal/payload"
	"github.com/narwhaldb/narwhal/query"
	"github.com/narwhaldb/narwhal/variant"
)

func noRows(id idset.RowID) payload.Value { return payload.Value{} }

func mustIDs(t *testing.T, res SelectKeyResults) []idset.RowID {
	t.Helper()
	out := idset.New()
	for _, r := range res {
		require.NotNil(t, r.Ids, "expected id sets, got comparator")
		out.Or(r.Ids)
	}
	return out.ToSlice()
}

func TestHashIndexEqSet(t *testing.T) {
	def := &Def{Name: "id", IndexType: KindHash, FieldType: "int"}
	idx, err := New(def, []int{1}, noRows)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		_, err := idx.Upsert(variant.NewInt(i%3), idset.RowID(i))
		require.NoError(t, err)
	}

	res, err := idx.SelectKey(context.Background(), variant.VariantArray{variant.NewInt(1)}, query.CondEq, SelectOpts{})
	require.NoError(t, err)
	assert.Equal(t, []idset.RowID{1, 4}, mustIDs(t, res))

	res, err = idx.SelectKey(context.Background(),
		variant.VariantArray{variant.NewInt(1), variant.NewInt(2)}, query.CondSet, SelectOpts{})
	require.NoError(t, err)
	assert.Equal(t, []idset.RowID{1, 2, 4, 5}, mustIDs(t, res))

	require.NoError(t, idx.Delete(variant.NewInt(1), 4))
	res, err = idx.SelectKey(context.Background(), variant.VariantArray{variant.NewInt(1)}, query.CondEq, SelectOpts{})
	require.NoError(t, err)
	assert.Equal(t, []idset.RowID{1}, mustIDs(t, res))

	// Idempotent delete of a missing key.
	require.NoError(t, idx.Delete(variant.NewInt(99), 1))
}

func TestHashStringInterning(t *testing.T) {
	def := &Def{Name: "title", IndexType: KindHash, FieldType: "string"}
	idx, err := New(def, []int{1}, noRows)
	require.NoError(t, err)

	h := idx.(*hashIndex)
	_, err = idx.Upsert(variant.NewString("abc"), 1)
	require.NoError(t, err)
	_, err = idx.Upsert(variant.NewString("abc"), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, h.strings["abc"].Refs())

	require.NoError(t, idx.Delete(variant.NewString("abc"), 1))
	require.NoError(t, idx.Delete(variant.NewString("abc"), 2))
	assert.Len(t, h.expired, 1)

	idx.RemoveExpiredStrings()
	assert.Empty(t, h.expired)
	_, present := h.strings["abc"]
	assert.False(t, present)
}

func TestTreeRange(t *testing.T) {
	def := &Def{Name: "price", IndexType: KindTree, FieldType: "int"}
	idx, err := New(def, []int{1}, noRows)
	require.NoError(t, err)
	require.True(t, idx.IsOrdered())

	for i := 1; i <= 10; i++ {
		_, err := idx.Upsert(variant.NewInt(i), idset.RowID(i))
		require.NoError(t, err)
	}

	cases := []struct {
		cond query.CondType
		keys variant.VariantArray
		want []idset.RowID
	}{
		{query.CondGt, variant.VariantArray{variant.NewInt(8)}, []idset.RowID{9, 10}},
		{query.CondGe, variant.VariantArray{variant.NewInt(9)}, []idset.RowID{9, 10}},
		{query.CondLt, variant.VariantArray{variant.NewInt(3)}, []idset.RowID{1, 2}},
		{query.CondLe, variant.VariantArray{variant.NewInt(2)}, []idset.RowID{1, 2}},
		{query.CondRange, variant.VariantArray{variant.NewInt(4), variant.NewInt(6)}, []idset.RowID{4, 5, 6}},
	}
	for _, c := range cases {
		res, err := idx.SelectKey(context.Background(), c.keys, c.cond, SelectOpts{})
		require.NoError(t, err)
		assert.Equal(t, c.want, mustIDs(t, res), "cond %s", c.cond)
	}

	// Inverted range is empty.
	res, err := idx.SelectKey(context.Background(),
		variant.VariantArray{variant.NewInt(6), variant.NewInt(4)}, query.CondRange, SelectOpts{})
	require.NoError(t, err)
	assert.Empty(t, mustIDs(t, res))
}

func TestTreeSortOrders(t *testing.T) {
	def := &Def{Name: "price", IndexType: KindTree, FieldType: "int"}
	idx, err := New(def, []int{1}, noRows)
	require.NoError(t, err)

	for _, pair := range [][2]int{{5, 1}, {1, 2}, {3, 3}} {
		_, err := idx.Upsert(variant.NewInt(pair[0]), idset.RowID(pair[1]))
		require.NoError(t, err)
	}
	order, err := idx.MakeSortOrders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []idset.RowID{2, 3, 1}, order)
}

func TestStoreAlwaysComparator(t *testing.T) {
	def := &Def{Name: "flag", IndexType: KindStore, FieldType: "bool"}
	rows := map[idset.RowID]payload.Value{}
	pt := payload.NewType("ns")
	_, err := pt.Add(payload.Field{Name: "flag", Type: variant.TypeBool})
	require.NoError(t, err)
	accessor := func(id idset.RowID) payload.Value { return rows[id] }

	idx, err := New(def, []int{1}, accessor)
	require.NoError(t, err)

	pl := payload.NewValue(pt)
	require.NoError(t, pl.Set(1, variant.VariantArray{variant.NewBool(true)}))
	rows[1] = pl

	_, err = idx.Upsert(variant.NewBool(true), 1)
	require.NoError(t, err)

	res, err := idx.SelectKey(context.Background(), variant.VariantArray{variant.NewBool(true)}, query.CondEq, SelectOpts{})
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.NotNil(t, res[0].Comparator)
	assert.True(t, res[0].Comparator.Match(1))
}

func TestEmptyCondRejectedOnPlainIndex(t *testing.T) {
	def := &Def{Name: "id", IndexType: KindHash, FieldType: "int"}
	idx, err := New(def, []int{1}, noRows)
	require.NoError(t, err)

	_, err = idx.SelectKey(context.Background(), nil, query.CondEmpty, SelectOpts{})
	assert.Error(t, err)
	_, err = idx.SelectKey(context.Background(), nil, query.CondAny, SelectOpts{})
	assert.Error(t, err)
}

func TestCompositeTupleKeys(t *testing.T) {
	def := &Def{Name: "a+b", IndexType: KindHash, FieldType: "composite"}
	idx, err := New(def, []int{1, 2}, noRows)
	require.NoError(t, err)

	key := variant.NewTuple(variant.VariantArray{variant.NewInt(1), variant.NewInt(2)})
	_, err = idx.Upsert(key, 7)
	require.NoError(t, err)

	res, err := idx.SelectKey(context.Background(), variant.VariantArray{key}, query.CondEq, SelectOpts{})
	require.NoError(t, err)
	assert.Equal(t, []idset.RowID{7}, mustIDs(t, res))

	other := variant.NewTuple(variant.VariantArray{variant.NewInt(1), variant.NewInt(3)})
	res, err = idx.SelectKey(context.Background(), variant.VariantArray{other}, query.CondEq, SelectOpts{})
	require.NoError(t, err)
	assert.Empty(t, mustIDs(t, res))
}

func TestLikeComparator(t *testing.T) {
	assert.True(t, likeMatch("terminator", "term%"))
	assert.True(t, likeMatch("terminator", "%nato%"))
	assert.True(t, likeMatch("abc", "a_c"))
	assert.False(t, likeMatch("abc", "a_d"))
	assert.True(t, likeMatch("ABC", "abc"))
}

func TestDefValidate(t *testing.T) {
	bad := &Def{Name: "x", IndexType: "wat", FieldType: "int"}
	assert.Error(t, bad.Validate())

	pkArray := &Def{Name: "x", IndexType: KindHash, FieldType: "int", Opts: Opts{PK: true, Array: true}}
	assert.Error(t, pkArray.Validate())

	pointHash := &Def{Name: "x", IndexType: KindHash, FieldType: "point"}
	assert.Error(t, pointHash.Validate())
}
