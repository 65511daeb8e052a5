package ftfuzzy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narwhaldb/narwhal/idset"
	"github.com/narwhaldb/narwhal/index"
	"github.com/narwhaldb/narwhal/payload"
	"github.com/narwhaldb/narwhal/query"
	"github.com/narwhaldb/narwhal/variant"
)

func newFuzzy(t *testing.T) index.Index {
	t.Helper()
	def := &index.Def{Name: "text", IndexType: index.KindFtFuzzy, FieldType: "string"}
	idx, err := index.New(def, []int{1}, func(id idset.RowID) payload.Value { return payload.Value{} })
	require.NoError(t, err)
	return idx
}

func TestFuzzyMatchTolleratesTypos(t *testing.T) {
	idx := newFuzzy(t)
	_, err := idx.Upsert(variant.NewString("reindexer database"), 1)
	require.NoError(t, err)
	_, err = idx.Upsert(variant.NewString("completely different words"), 2)
	require.NoError(t, err)

	res, err := idx.SelectKey(context.Background(),
		variant.VariantArray{variant.NewString("reindxer")}, query.CondMatch, index.SelectOpts{})
	require.NoError(t, err)
	require.Len(t, res, 1)
	ids := res[0].Ids.ToSlice()
	assert.Contains(t, ids, idset.RowID(1))
	assert.NotContains(t, ids, idset.RowID(2))

	// Scores are capped at 100.
	for _, s := range res[0].Ranks {
		assert.LessOrEqual(t, s, 100.0)
	}
}

func TestFuzzyDelete(t *testing.T) {
	idx := newFuzzy(t)
	_, err := idx.Upsert(variant.NewString("hello"), 1)
	require.NoError(t, err)
	require.NoError(t, idx.Delete(variant.NewString("hello"), 1))

	res, err := idx.SelectKey(context.Background(),
		variant.VariantArray{variant.NewString("hello")}, query.CondMatch, index.SelectOpts{})
	require.NoError(t, err)
	assert.Empty(t, res[0].Ids.ToSlice())
}

func TestNgrams(t *testing.T) {
	gs := ngrams("ab cd", 2, 2)
	assert.ElementsMatch(t, []string{"ab", "cd"}, gs)
}
