package index

import (
	"github.com/narwhaldb/narwhal/dberr"
	"github.com/narwhaldb/narwhal/query"
	"github.com/narwhaldb/narwhal/variant"
)

// base carries the state shared by every index kind: the definition,
// covered fields, row accessor and the interned-string table.
type base struct {
	def     *Def
	fields  []int
	rows    RowAccessor
	keyType variant.Type

	strings map[string]*variant.KeyString
	expired []*variant.KeyString
}

func newBase(def *Def, fields []int, rows RowAccessor) base {
	return base{
		def:     def,
		fields:  fields,
		rows:    rows,
		keyType: def.KeyType(),
		strings: make(map[string]*variant.KeyString),
	}
}

func (b *base) Def() *Def      { return b.def }
func (b *base) Name() string   { return b.def.Name }
func (b *base) Fields() []int  { return b.fields }
func (b *base) IsOrdered() bool { return false }

// canonicalKey converts key to the index key type and interns strings.
// The returned variant is what callers must store back into payloads
// so that rows and index share one string allocation.
func (b *base) canonicalKey(key variant.Variant) (variant.Variant, error) {
	if key.IsNull() {
		return key, nil
	}
	ck, err := key.As(b.keyType)
	if err != nil {
		return variant.Null(), dberr.Wrap(dberr.CodeParams, err, "index '"+b.def.Name+"'")
	}
	if ck.Type() == variant.TypeString {
		if ks, ok := b.strings[ck.Str()]; ok {
			ks.AddRef()
			return variant.NewString(ks.String()), nil
		}
		ks := variant.MakeKeyString(ck.Str())
		b.strings[ks.String()] = ks
		return variant.NewString(ks.String()), nil
	}
	return ck, nil
}

// releaseKey drops one reference of an interned string key. Strings
// hitting zero park in the expired list; the allocation is reclaimed
// later by RemoveExpiredStrings so no free happens under the lock.
func (b *base) releaseKey(key variant.Variant) {
	if key.Type() != variant.TypeString {
		return
	}
	if ks, ok := b.strings[key.Str()]; ok {
		if ks.Release() {
			b.expired = append(b.expired, ks)
		}
	}
}

// RemoveExpiredStrings deletes zero-ref interned strings, skipping the
// ones resurrected since their release.
func (b *base) RemoveExpiredStrings() {
	for _, ks := range b.expired {
		if ks.Refs() <= 0 {
			delete(b.strings, ks.String())
		}
	}
	b.expired = nil
}

func (b *base) cloneBase() base {
	nb := base{
		def:     b.def,
		fields:  append([]int(nil), b.fields...),
		rows:    b.rows,
		keyType: b.keyType,
		strings: make(map[string]*variant.KeyString, len(b.strings)),
	}
	// Rows are shared between source and clone, so the string refs
	// already account for every user; the map itself holds none.
	for k, v := range b.strings {
		nb.strings[k] = v
	}
	// The clone starts with a copy of the pending expired list and
	// reclaims it on its own schedule; the source keeps its own list.
	nb.expired = append([]*variant.KeyString(nil), b.expired...)
	return nb
}

// checkEmptyConds rejects CondEmpty/CondAny on indexes that always
// hold a value for every row.
func (b *base) checkEmptyConds(cond query.CondType) error {
	if (cond == query.CondEmpty || cond == query.CondAny) && !b.def.Opts.Array && !b.def.Opts.Sparse {
		return dberr.Newf(dberr.CodeParams,
			"condition %s is allowed only on array or sparse index, not on '%s'", cond, b.def.Name)
	}
	return nil
}

// comparatorResult wraps a scan fallback for the given condition.
func (b *base) comparatorResult(cond query.CondType, keys variant.VariantArray) SelectKeyResults {
	return SelectKeyResults{{
		Comparator: NewComparator(b.fields, cond, keys, b.def.Opts.Collate, b.rows),
	}}
}

func (b *base) memStat(uniq int) MemStat {
	return MemStat{
		Name:        b.def.Name,
		UniqKeys:    uniq,
		ExpiredStrs: len(b.expired),
	}
}
