package ftfast

import (
	"context"
	"math"
	"sync"

	"github.com/narwhaldb/narwhal/dberr"
	"github.com/narwhaldb/narwhal/idset"
)

const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// posting is one token occurrence.
type posting struct {
	doc   idset.RowID
	field int32
	pos   int32
}

// engine is the token store behind the fast full-text index. Documents
// are "virtual": one per row, concatenating the covered fields. The
// mutex serializes the lazy rebuild that searches trigger under the
// namespace read lock.
type engine struct {
	mu  sync.Mutex
	cfg Config

	vdocs     map[idset.RowID][]string
	dirty     map[idset.RowID]struct{}
	postings  map[string][]posting
	docTokens map[idset.RowID][]string
	docLen    map[idset.RowID]int
	totalLen  int64
}

func newEngine(cfg Config) *engine {
	return &engine{
		cfg:       cfg,
		vdocs:     make(map[idset.RowID][]string),
		dirty:     make(map[idset.RowID]struct{}),
		postings:  make(map[string][]posting),
		docTokens: make(map[idset.RowID][]string),
		docLen:    make(map[idset.RowID]int),
	}
}

// upsertDoc stages a document rebuild.
func (e *engine) upsertDoc(id idset.RowID, fields []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vdocs[id] = fields
	e.dirty[id] = struct{}{}
}

// deleteDoc removes a document.
func (e *engine) deleteDoc(id idset.RowID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unindexDoc(id)
	delete(e.vdocs, id)
	delete(e.dirty, id)
}

func (e *engine) unindexDoc(id idset.RowID) {
	toks, ok := e.docTokens[id]
	if !ok {
		return
	}
	for _, t := range toks {
		lst := e.postings[t]
		out := lst[:0]
		for _, p := range lst {
			if p.doc != id {
				out = append(out, p)
			}
		}
		if len(out) == 0 {
			delete(e.postings, t)
		} else {
			e.postings[t] = out
		}
	}
	delete(e.docTokens, id)
	e.totalLen -= int64(e.docLen[id])
	delete(e.docLen, id)
}

func (e *engine) indexDoc(id idset.RowID) {
	e.unindexDoc(id)
	fields := e.vdocs[id]
	var toks []token
	for f, text := range fields {
		toks = append(toks, tokenize(text, f, e.cfg.ExtraWordSymbols)...)
	}
	names := make([]string, 0, len(toks))
	for _, t := range toks {
		if e.cfg.isStopWord(t.text) {
			continue
		}
		e.postings[t.text] = append(e.postings[t.text], posting{doc: id, field: int32(t.field), pos: int32(t.pos)})
		names = append(names, t.text)
	}
	e.docTokens[id] = names
	e.docLen[id] = len(names)
	e.totalLen += int64(len(names))
}

// commitSteps indexes up to maxRebuildSteps chunks of maxStepSize
// dirty documents, checking cancellation between chunks. Leftover
// documents stay dirty for the next run.
func (e *engine) commitSteps(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	steps := e.cfg.MaxRebuildSteps
	for steps > 0 && len(e.dirty) > 0 {
		if err := ctxErr(ctx); err != nil {
			return err
		}
		n := 0
		for id := range e.dirty {
			e.indexDoc(id)
			delete(e.dirty, id)
			n++
			if n >= e.cfg.MaxStepSize {
				break
			}
		}
		steps--
	}
	return nil
}

// buildAll drains the dirty set completely; searches call this to see
// a consistent view.
func (e *engine) buildAll() {
	for id := range e.dirty {
		e.indexDoc(id)
		delete(e.dirty, id)
	}
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return dberr.Wrap(dberr.CodeCanceled, ctx.Err(), "fulltext commit interrupted")
	default:
		return nil
	}
}

// wordMatch describes how an indexed word satisfied a query term.
type wordMatch struct {
	word string
	rel  float64 // 0..150; an exact match scores 100 × FullMatchBoost
}

// matchWords resolves a term against the vocabulary: exact matches,
// typo matches within the configured distance, and common-prefix
// partial matches decayed by partialMatchDecrease.
func (e *engine) matchWords(t queryTerm) []wordMatch {
	var out []wordMatch
	for _, text := range e.cfg.expandSynonyms(t.text) {
		for word := range e.postings {
			if rel, ok := e.relevancy(word, text, t.prefix); ok {
				out = append(out, wordMatch{word: word, rel: rel})
			}
		}
	}
	return out
}

func (e *engine) relevancy(word, term string, prefix bool) (float64, bool) {
	if word == term {
		return 100 * e.cfg.FullMatchBoost, true
	}
	cp := commonPrefix(word, term)
	matched := cp
	unmatched := len(word) + len(term) - 2*cp
	if prefix && cp == len(term) {
		// Explicit wildcard: every extension of the stem matches.
		rel := 100 - float64(e.cfg.PartialMatchDecrease)*float64(unmatched)/float64(matched)
		return clampRel(rel), rel > 0
	}
	if cp >= e.cfg.MinPartialPrefix {
		rel := 100 - float64(e.cfg.PartialMatchDecrease)*float64(unmatched)/float64(matched)
		if rel/100 >= e.cfg.MinRelevancy {
			return clampRel(rel), true
		}
	}
	if len(term) >= e.cfg.MaxTypoLen {
		return 0, false
	}
	if d := typoDistance(word, term, e.cfg.MaxTyposInWord); d <= e.cfg.MaxTyposInWord {
		rel := 90 - 10*float64(d)
		return rel, true
	}
	return 0, false
}

func clampRel(rel float64) float64 {
	if rel < 0 {
		return 0
	}
	if rel > 100*1.5 {
		return 100 * 1.5
	}
	return rel
}

// Search evaluates a parsed query and returns per-document ranks.
func (e *engine) Search(terms []queryTerm) map[idset.RowID]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buildAll()
	ranks := make(map[idset.RowID]float64)
	mustMatched := make(map[idset.RowID]int)
	var excluded map[idset.RowID]struct{}
	mustTerms := 0

	for _, t := range terms {
		if t.op == termNot {
			for _, wm := range e.matchWords(t) {
				for _, p := range e.postings[wm.word] {
					if excluded == nil {
						excluded = make(map[idset.RowID]struct{})
					}
					excluded[p.doc] = struct{}{}
				}
			}
			continue
		}
		if t.op == termMust {
			mustTerms++
		}
		termDocs := make(map[idset.RowID]float64)
		for _, wm := range e.matchWords(t) {
			if len(t.phrase) > 1 && !e.phraseHolds(wm.word, t.phrase) {
				continue
			}
			e.scoreWord(wm, termDocs)
			if len(t.phrase) > 1 {
				// Restrict to docs where the full phrase is adjacent.
				for doc := range termDocs {
					if !e.phraseInDoc(doc, t.phrase) {
						delete(termDocs, doc)
					}
				}
			}
		}
		for doc, s := range termDocs {
			ranks[doc] += s
			if t.op == termMust {
				mustMatched[doc]++
			}
		}
	}

	for doc := range ranks {
		if excluded != nil {
			if _, bad := excluded[doc]; bad {
				delete(ranks, doc)
				continue
			}
		}
		if mustMatched[doc] < mustTerms {
			delete(ranks, doc)
		}
	}
	return ranks
}

// scoreWord folds one matched word into per-doc scores: the partial
// relevancy scaled by a BM25, position and term-length blend per the
// field weights.
func (e *engine) scoreWord(wm wordMatch, out map[idset.RowID]float64) {
	lst := e.postings[wm.word]
	df := docFreq(lst)
	n := float64(len(e.vdocs))
	if n == 0 {
		return
	}
	idf := math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
	avgDL := 1.0
	if len(e.docLen) > 0 {
		avgDL = float64(e.totalLen) / float64(len(e.docLen))
	}

	tf := make(map[idset.RowID]int)
	first := make(map[idset.RowID]posting)
	for _, p := range lst {
		tf[p.doc]++
		if f, ok := first[p.doc]; !ok || p.pos < f.pos {
			first[p.doc] = p
		}
	}
	for doc, freq := range tf {
		fcfg := e.cfg.fieldCfg(int(first[doc].field))
		dl := float64(e.docLen[doc])
		bm25 := idf * float64(freq) * (bm25K1 + 1) / (float64(freq) + bm25K1*(1-bm25B+bm25B*dl/avgDL))
		posScore := 1.0 / (1.0 + float64(first[doc].pos))
		lenScore := float64(len(wm.word)) / float64(len(wm.word)+1)
		blend := fcfg.Bm25Weight*bm25*fcfg.Bm25Boost +
			fcfg.PositionWeight*posScore*fcfg.PositionBoost +
			fcfg.TermLenWeight*lenScore*fcfg.TermLenBoost
		score := wm.rel * (1 + blend)
		if score > out[doc] {
			out[doc] = score
		}
	}
}

func docFreq(lst []posting) int {
	seen := make(map[idset.RowID]struct{}, len(lst))
	for _, p := range lst {
		seen[p.doc] = struct{}{}
	}
	return len(seen)
}

// phraseHolds reports whether word is part of the phrase vocabulary.
func (e *engine) phraseHolds(word string, phrase []string) bool {
	for _, w := range phrase {
		if commonPrefix(w, word) == len(w) {
			return true
		}
	}
	return false
}

// phraseInDoc verifies adjacency of the phrase words inside doc.
func (e *engine) phraseInDoc(doc idset.RowID, phrase []string) bool {
	positions := make([]map[int32]struct{}, len(phrase))
	for i, w := range phrase {
		positions[i] = make(map[int32]struct{})
		for _, p := range e.postings[w] {
			if p.doc == doc {
				positions[i][p.pos] = struct{}{}
			}
		}
		if len(positions[i]) == 0 {
			return false
		}
	}
	for start := range positions[0] {
		ok := true
		for i := 1; i < len(positions); i++ {
			if _, hit := positions[i][start+int32(i)]; !hit {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}
