package ftfast

import (
	"context"

	"github.com/narwhaldb/narwhal/dberr"
	"github.com/narwhaldb/narwhal/idset"
	"github.com/narwhaldb/narwhal/index"
	"github.com/narwhaldb/narwhal/query"
	"github.com/narwhaldb/narwhal/variant"
)

func init() {
	index.RegisterKind(index.KindFtFast, func(def *index.Def, fields []int, rows index.RowAccessor) (index.Index, error) {
		cfg, err := ParseConfig(def.Opts.Config, len(fields))
		if err != nil {
			return nil, err
		}
		return &ftIndex{def: def, fields: fields, rows: rows, eng: newEngine(cfg)}, nil
	})
}

// ftIndex adapts the token engine to the index contract.
type ftIndex struct {
	def    *index.Def
	fields []int
	rows   index.RowAccessor
	eng    *engine
}

func (f *ftIndex) Def() *index.Def { return f.def }
func (f *ftIndex) Name() string    { return f.def.Name }
func (f *ftIndex) Fields() []int   { return f.fields }
func (f *ftIndex) IsOrdered() bool { return false }

// Upsert stages the row's text for indexing. Composite indexes pass a
// tuple with one string per covered field.
func (f *ftIndex) Upsert(key variant.Variant, id idset.RowID) (variant.Variant, error) {
	f.eng.upsertDoc(id, keyTexts(key, len(f.fields)))
	return key, nil
}

func (f *ftIndex) Delete(key variant.Variant, id idset.RowID) error {
	f.eng.deleteDoc(id)
	return nil
}

func keyTexts(key variant.Variant, numFields int) []string {
	texts := make([]string, 0, numFields)
	if key.Type() == variant.TypeTuple {
		for _, p := range key.Tuple() {
			texts = append(texts, p.String())
		}
	} else if !key.IsNull() {
		texts = append(texts, key.String())
	}
	for len(texts) < numFields {
		texts = append(texts, "")
	}
	return texts
}

func (f *ftIndex) SelectKey(ctx context.Context, keys variant.VariantArray, cond query.CondType, opts index.SelectOpts) (index.SelectKeyResults, error) {
	if cond != query.CondMatch && cond != query.CondEq {
		return nil, dberr.Newf(dberr.CodeParams, "fulltext index '%s' supports only match conditions", f.def.Name)
	}
	if len(keys) == 0 || keys[0].Type() != variant.TypeString {
		return nil, dberr.Newf(dberr.CodeParams, "fulltext index '%s' requires a string pattern", f.def.Name)
	}
	if err := dberr.FromContext(ctx); err != nil {
		return nil, err
	}
	terms, err := parseQuery(keys[0].Str(), f.eng.cfg.ExtraWordSymbols)
	if err != nil {
		return nil, err
	}
	ranks := f.eng.Search(terms)
	ids := idset.New()
	for doc := range ranks {
		ids.AddUnordered(doc)
	}
	ids.Commit()
	return index.SelectKeyResults{{Ids: ids, Ranks: ranks}}, nil
}

func (f *ftIndex) Commit() {
	_ = f.eng.commitSteps(context.Background())
}

func (f *ftIndex) MakeSortOrders(ctx context.Context) ([]idset.RowID, error) {
	return nil, nil
}

func (f *ftIndex) Clone() index.Index {
	n := &ftIndex{def: f.def, fields: append([]int(nil), f.fields...), rows: f.rows, eng: newEngine(f.eng.cfg)}
	for id, fields := range f.eng.vdocs {
		n.eng.upsertDoc(id, append([]string(nil), fields...))
	}
	return n
}

func (f *ftIndex) MemStat() index.MemStat {
	st := index.MemStat{Name: f.def.Name, UniqKeys: len(f.eng.postings)}
	for w, lst := range f.eng.postings {
		st.DataSize += len(w) + len(lst)*12
	}
	return st
}

func (f *ftIndex) RemoveExpiredStrings() {}
