// Package ftfuzzy implements the fuzzy full-text index: an n-gram
// posting engine whose merged candidate scores are normalized to a
// 0..100 scale and thresholded by MinOkProc.
package ftfuzzy

import (
	"context"
	"encoding/json"
	"strings"
	"unicode"

	"github.com/narwhaldb/narwhal/dberr"
	"github.com/narwhaldb/narwhal/idset"
	"github.com/narwhaldb/narwhal/index"
	"github.com/narwhaldb/narwhal/query"
	"github.com/narwhaldb/narwhal/variant"
)

func init() {
	index.RegisterKind(index.KindFtFuzzy, func(def *index.Def, fields []int, rows index.RowAccessor) (index.Index, error) {
		cfg := DefaultConfig()
		if len(def.Opts.Config) > 0 {
			if err := json.Unmarshal(def.Opts.Config, &cfg); err != nil {
				return nil, dberr.Wrap(dberr.CodeParseJSON, err, "fuzzytext config")
			}
		}
		return &fuzzyIndex{def: def, fields: fields, cfg: cfg, grams: make(map[string]map[idset.RowID]int), docGrams: make(map[idset.RowID]int)}, nil
	})
}

// Config tunes the n-gram engine.
type Config struct {
	MinNGram  int     `json:"min_ngram"`
	MaxNGram  int     `json:"max_ngram"`
	MinOkProc float64 `json:"min_ok_proc"`
}

// DefaultConfig returns bigram+trigram matching with a 10% threshold.
func DefaultConfig() Config {
	return Config{MinNGram: 2, MaxNGram: 3, MinOkProc: 10}
}

// MergedData is the per-document score accumulated across grams.
type MergedData struct {
	ID    idset.RowID
	Proc  float64
}

type fuzzyIndex struct {
	def    *index.Def
	fields []int
	cfg    Config

	grams    map[string]map[idset.RowID]int
	docGrams map[idset.RowID]int
}

func (f *fuzzyIndex) Def() *index.Def { return f.def }
func (f *fuzzyIndex) Name() string    { return f.def.Name }
func (f *fuzzyIndex) Fields() []int   { return f.fields }
func (f *fuzzyIndex) IsOrdered() bool { return false }

func ngrams(text string, minN, maxN int) []string {
	var norm []rune
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			norm = append(norm, r)
		} else if len(norm) > 0 && norm[len(norm)-1] != ' ' {
			norm = append(norm, ' ')
		}
	}
	var out []string
	for n := minN; n <= maxN; n++ {
		for i := 0; i+n <= len(norm); i++ {
			g := string(norm[i : i+n])
			if strings.ContainsRune(g, ' ') {
				continue
			}
			out = append(out, g)
		}
	}
	return out
}

func keyText(key variant.Variant) string {
	if key.Type() == variant.TypeTuple {
		parts := make([]string, 0, len(key.Tuple()))
		for _, p := range key.Tuple() {
			parts = append(parts, p.String())
		}
		return strings.Join(parts, " ")
	}
	if key.IsNull() {
		return ""
	}
	return key.String()
}

func (f *fuzzyIndex) Upsert(key variant.Variant, id idset.RowID) (variant.Variant, error) {
	f.remove(id)
	gs := ngrams(keyText(key), f.cfg.MinNGram, f.cfg.MaxNGram)
	for _, g := range gs {
		m := f.grams[g]
		if m == nil {
			m = make(map[idset.RowID]int)
			f.grams[g] = m
		}
		m[id]++
	}
	f.docGrams[id] = len(gs)
	return key, nil
}

func (f *fuzzyIndex) Delete(key variant.Variant, id idset.RowID) error {
	f.remove(id)
	return nil
}

func (f *fuzzyIndex) remove(id idset.RowID) {
	if _, ok := f.docGrams[id]; !ok {
		return
	}
	for g, m := range f.grams {
		delete(m, id)
		if len(m) == 0 {
			delete(f.grams, g)
		}
	}
	delete(f.docGrams, id)
}

// SelectKey merges candidate scores across the pattern's grams and
// normalizes so the best score caps at 100.
func (f *fuzzyIndex) SelectKey(ctx context.Context, keys variant.VariantArray, cond query.CondType, opts index.SelectOpts) (index.SelectKeyResults, error) {
	if cond != query.CondMatch && cond != query.CondEq {
		return nil, dberr.Newf(dberr.CodeParams, "fuzzytext index '%s' supports only match conditions", f.def.Name)
	}
	if len(keys) == 0 || keys[0].Type() != variant.TypeString {
		return nil, dberr.Newf(dberr.CodeParams, "fuzzytext index '%s' requires a string pattern", f.def.Name)
	}
	if err := dberr.FromContext(ctx); err != nil {
		return nil, err
	}
	pattern := ngrams(keys[0].Str(), f.cfg.MinNGram, f.cfg.MaxNGram)
	if len(pattern) == 0 {
		return index.SelectKeyResults{{Ids: idset.New()}}, nil
	}
	merged := make(map[idset.RowID]float64)
	for _, g := range pattern {
		for id, cnt := range f.grams[g] {
			merged[id] += float64(cnt)
		}
	}
	maxScore := 0.0
	for id, s := range merged {
		s = 100 * s / float64(len(pattern)+f.docGrams[id]) * 2
		merged[id] = s
		if s > maxScore {
			maxScore = s
		}
	}
	if maxScore > 100 {
		for id := range merged {
			merged[id] = merged[id] * 100 / maxScore
		}
	}
	ids := idset.New()
	ranks := make(map[idset.RowID]float64, len(merged))
	for id, s := range merged {
		if s < f.cfg.MinOkProc {
			continue
		}
		ids.AddUnordered(id)
		ranks[id] = s
	}
	ids.Commit()
	return index.SelectKeyResults{{Ids: ids, Ranks: ranks}}, nil
}

func (f *fuzzyIndex) Commit() {}

func (f *fuzzyIndex) MakeSortOrders(ctx context.Context) ([]idset.RowID, error) { return nil, nil }

func (f *fuzzyIndex) Clone() index.Index {
	n := &fuzzyIndex{def: f.def, fields: append([]int(nil), f.fields...), cfg: f.cfg,
		grams: make(map[string]map[idset.RowID]int, len(f.grams)), docGrams: make(map[idset.RowID]int, len(f.docGrams))}
	for g, m := range f.grams {
		nm := make(map[idset.RowID]int, len(m))
		for id, c := range m {
			nm[id] = c
		}
		n.grams[g] = nm
	}
	for id, c := range f.docGrams {
		n.docGrams[id] = c
	}
	return n
}

func (f *fuzzyIndex) MemStat() index.MemStat {
	st := index.MemStat{Name: f.def.Name, UniqKeys: len(f.grams)}
	for g, m := range f.grams {
		st.DataSize += len(g) + len(m)*8
	}
	return st
}

func (f *fuzzyIndex) RemoveExpiredStrings() {}
