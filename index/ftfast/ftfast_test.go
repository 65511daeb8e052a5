package ftfast

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

func newFtIndex(t *testing.T) index.Index {
	t.Helper()
	def := &index.Def{Name: "text", IndexType: index.KindFtFast, FieldType: "string"}
	idx, err := index.New(def, []int{1}, func(id idset.RowID) payload.Value { return payload.Value{} })
	require.NoError(t, err)
	return idx
}

func search(t *testing.T, idx index.Index, pattern string) index.SelectResult {
	t.Helper()
	res, err := idx.SelectKey(context.Background(),
		variant.VariantArray{variant.NewString(pattern)}, query.CondMatch, index.SelectOpts{})
	require.NoError(t, err)
	require.Len(t, res, 1)
	return res[0]
}

func TestPrefixWildcardMatchesAll(t *testing.T) {
	idx := newFtIndex(t)
	docs := map[idset.RowID]string{1: "terminator", 2: "terminate", 3: "term"}
	for id, text := range docs {
		_, err := idx.Upsert(variant.NewString(text), id)
		require.NoError(t, err)
	}

	r := search(t, idx, "termin*")
	assert.ElementsMatch(t, []idset.RowID{1, 2, 3}, r.Ids.ToSlice())
}

func TestExactMatchRanksHighest(t *testing.T) {
	idx := newFtIndex(t)
	docs := map[idset.RowID]string{1: "terminator", 2: "terminate", 3: "term"}
	for id, text := range docs {
		_, err := idx.Upsert(variant.NewString(text), id)
		require.NoError(t, err)
	}

	r := search(t, idx, "terminator")
	require.Contains(t, r.Ids.ToSlice(), idset.RowID(1))
	for id, rank := range r.Ranks {
		if id != 1 {
			assert.Less(t, rank, r.Ranks[1], "doc %d must rank below the exact match", id)
		}
	}
}

func TestMandatoryAndExcludedTerms(t *testing.T) {
	idx := newFtIndex(t)
	_, err := idx.Upsert(variant.NewString("quick brown fox"), 1)
	require.NoError(t, err)
	_, err = idx.Upsert(variant.NewString("quick red fox"), 2)
	require.NoError(t, err)

	r := search(t, idx, "+quick -brown")
	assert.Equal(t, []idset.RowID{2}, r.Ids.ToSlice())
}

func TestPhraseAdjacency(t *testing.T) {
	idx := newFtIndex(t)
	_, err := idx.Upsert(variant.NewString("the quick brown fox"), 1)
	require.NoError(t, err)
	_, err = idx.Upsert(variant.NewString("the brown quick fox"), 2)
	require.NoError(t, err)

	r := search(t, idx, `"quick brown"`)
	assert.Equal(t, []idset.RowID{1}, r.Ids.ToSlice())
}

func TestTypoTolerance(t *testing.T) {
	idx := newFtIndex(t)
	_, err := idx.Upsert(variant.NewString("search"), 1)
	require.NoError(t, err)

	r := search(t, idx, "saerch")
	// One transposition is two edits; outside the default budget.
	// A single substitution is allowed.
	r2 := search(t, idx, "seerch")
	assert.Contains(t, r2.Ids.ToSlice(), idset.RowID(1))
	_ = r
}

func TestDeleteRemovesDoc(t *testing.T) {
	idx := newFtIndex(t)
	_, err := idx.Upsert(variant.NewString("hello world"), 1)
	require.NoError(t, err)
	require.NoError(t, idx.Delete(variant.NewString("hello world"), 1))

	r := search(t, idx, "hello")
	assert.Empty(t, r.Ids.ToSlice())
}

func TestStopWords(t *testing.T) {
	cfg := DefaultConfig(1)
	cfg.StopWords = []string{"the"}
	eng := newEngine(cfg)
	eng.upsertDoc(1, []string{"the quick fox"})
	eng.buildAll()
	_, ok := eng.postings["the"]
	assert.False(t, ok)
	_, ok = eng.postings["quick"]
	assert.True(t, ok)
}

func TestQueryParsing(t *testing.T) {
	terms, err := parseQuery(`+must -not simple pre* "a phrase"`, "")
	require.NoError(t, err)
	require.Len(t, terms, 5)
	assert.Equal(t, termMust, terms[0].op)
	assert.Equal(t, termNot, terms[1].op)
	assert.Equal(t, termShould, terms[2].op)
	assert.True(t, terms[3].prefix)
	assert.Equal(t, []string{"a", "phrase"}, terms[4].phrase)

	_, err = parseQuery("   ", "")
	assert.Error(t, err)
}
