package index

import (
	"context"

	"github.com/google/btree"

	"github.com/narwhaldb/narwhal/dberr"
	"github.com/narwhaldb/narwhal/idset"
	"github.com/narwhaldb/narwhal/query"
	"github.com/narwhaldb/narwhal/variant"
)

const btreeDegree = 16

// treeItem is one key of the ordered index.
type treeItem struct {
	key variant.Variant
	ids *idset.IdSet
}

// treeIndex is the ordered kind: a btree of key->IdSet supporting
// ranges and ORDER BY via materialized sort orders.
type treeIndex struct {
	base
	tree *btree.BTreeG[*treeItem]
}

func newTree(def *Def, fields []int, rows RowAccessor) *treeIndex {
	collate := def.Opts.Collate
	return &treeIndex{
		base: newBase(def, fields, rows),
		tree: btree.NewG(btreeDegree, func(a, b *treeItem) bool {
			return a.key.Compare(b.key, collate) < 0
		}),
	}
}

func (t *treeIndex) Upsert(key variant.Variant, id idset.RowID) (variant.Variant, error) {
	ck, err := t.canonicalKey(key)
	if err != nil {
		return variant.Null(), err
	}
	if ck.IsNull() {
		return ck, nil
	}
	probe := &treeItem{key: ck}
	e, ok := t.tree.Get(probe)
	if !ok {
		e = &treeItem{key: ck, ids: idset.New()}
		t.tree.ReplaceOrInsert(e)
	}
	// Ordered insert keeps the set committed for lock-free readers.
	e.ids.Add(id)
	return ck, nil
}

func (t *treeIndex) Delete(key variant.Variant, id idset.RowID) error {
	ck, err := key.As(t.keyType)
	if err != nil || ck.IsNull() {
		return nil
	}
	e, ok := t.tree.Get(&treeItem{key: ck})
	if !ok {
		return nil
	}
	e.ids.Remove(id)
	t.releaseKey(e.key)
	if e.ids.IsEmpty() {
		t.tree.Delete(e)
	}
	return nil
}

func (t *treeIndex) SelectKey(ctx context.Context, keys variant.VariantArray, cond query.CondType, opts SelectOpts) (SelectKeyResults, error) {
	if err := t.checkEmptyConds(cond); err != nil {
		return nil, err
	}
	if err := dbctx(ctx); err != nil {
		return nil, err
	}
	if opts.ForceComparator {
		return t.comparatorResult(cond, keys), nil
	}
	conv := func(v variant.Variant) (variant.Variant, error) {
		cv, err := v.As(t.keyType)
		if err != nil {
			return variant.Null(), dberr.Wrap(dberr.CodeParams, err, "index '"+t.def.Name+"'")
		}
		return cv, nil
	}
	switch cond {
	case query.CondEq, query.CondSet:
		res := make(SelectKeyResults, 0, len(keys))
		for _, k := range keys {
			ck, err := conv(k)
			if err != nil {
				return nil, err
			}
			if e, ok := t.tree.Get(&treeItem{key: ck}); ok {
				res = append(res, SelectResult{Ids: e.ids})
			}
		}
		if len(res) == 0 {
			res = append(res, SelectResult{Ids: idset.New()})
		}
		return res, nil
	case query.CondAllSet:
		var acc *idset.IdSet
		for _, k := range keys {
			ck, err := conv(k)
			if err != nil {
				return nil, err
			}
			e, ok := t.tree.Get(&treeItem{key: ck})
			if !ok {
				return SelectKeyResults{{Ids: idset.New()}}, nil
			}
			if acc == nil {
				acc = e.ids.Clone()
			} else {
				acc.And(e.ids)
			}
		}
		if acc == nil {
			acc = idset.New()
		}
		return SelectKeyResults{{Ids: acc}}, nil
	case query.CondLt, query.CondLe, query.CondGt, query.CondGe, query.CondRange:
		return t.selectRange(ctx, keys, cond, conv)
	case query.CondLike:
		return t.comparatorResult(cond, keys), nil
	case query.CondAny, query.CondEmpty:
		return t.comparatorResult(cond, keys), nil
	}
	return nil, dberr.Newf(dberr.CodeParams, "condition %s is not supported by tree index '%s'", cond, t.def.Name)
}

func (t *treeIndex) selectRange(ctx context.Context, keys variant.VariantArray, cond query.CondType, conv func(variant.Variant) (variant.Variant, error)) (SelectKeyResults, error) {
	if len(keys) == 0 || (cond == query.CondRange && len(keys) < 2) {
		return nil, dberr.Newf(dberr.CodeParams, "condition %s on '%s' needs bound values", cond, t.def.Name)
	}
	out := idset.New()
	collect := func(e *treeItem) bool {
		e.ids.ForEach(func(id idset.RowID) bool {
			out.AddUnordered(id)
			return true
		})
		return dbctx(ctx) == nil
	}
	var err error
	var lo, hi variant.Variant
	switch cond {
	case query.CondLt, query.CondLe:
		if hi, err = conv(keys[0]); err != nil {
			return nil, err
		}
		t.tree.AscendLessThan(&treeItem{key: hi}, collect)
		if cond == query.CondLe {
			if e, ok := t.tree.Get(&treeItem{key: hi}); ok {
				collect(e)
			}
		}
	case query.CondGt, query.CondGe:
		if lo, err = conv(keys[0]); err != nil {
			return nil, err
		}
		t.tree.AscendGreaterOrEqual(&treeItem{key: lo}, func(e *treeItem) bool {
			if cond == query.CondGt && e.key.Compare(lo, t.def.Opts.Collate) == 0 {
				return true
			}
			return collect(e)
		})
	case query.CondRange:
		if lo, err = conv(keys[0]); err != nil {
			return nil, err
		}
		if hi, err = conv(keys[1]); err != nil {
			return nil, err
		}
		if lo.Compare(hi, t.def.Opts.Collate) > 0 {
			return SelectKeyResults{{Ids: out}}, nil
		}
		t.tree.AscendRange(&treeItem{key: lo}, &treeItem{key: hi}, collect)
		if e, ok := t.tree.Get(&treeItem{key: hi}); ok {
			collect(e)
		}
	}
	if err := dbctx(ctx); err != nil {
		return nil, err
	}
	out.Commit()
	return SelectKeyResults{{Ids: out}}, nil
}

func (t *treeIndex) Commit() {
	t.tree.Ascend(func(e *treeItem) bool {
		e.ids.Commit()
		return true
	})
}

// MakeSortOrders walks keys ascending and emits row ids in key order.
// Cancellation is checked once per key.
func (t *treeIndex) MakeSortOrders(ctx context.Context) ([]idset.RowID, error) {
	out := make([]idset.RowID, 0, t.tree.Len())
	var err error
	t.tree.Ascend(func(e *treeItem) bool {
		if err = dbctx(ctx); err != nil {
			return false
		}
		e.ids.ForEach(func(id idset.RowID) bool {
			out = append(out, id)
			return true
		})
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (t *treeIndex) Clone() Index {
	n := &treeIndex{base: t.cloneBase()}
	collate := t.def.Opts.Collate
	n.tree = btree.NewG(btreeDegree, func(a, b *treeItem) bool {
		return a.key.Compare(b.key, collate) < 0
	})
	t.tree.Ascend(func(e *treeItem) bool {
		n.tree.ReplaceOrInsert(&treeItem{key: e.key, ids: e.ids.Clone()})
		return true
	})
	return n
}

func (t *treeIndex) IsOrdered() bool { return true }

func (t *treeIndex) MemStat() MemStat {
	st := t.memStat(t.tree.Len())
	t.tree.Ascend(func(e *treeItem) bool {
		st.DataSize += 16 + e.ids.Size()*4
		return true
	})
	return st
}

// TTLValue returns the expire-after horizon for TTL indexes, 0 for
// plain trees.
func (t *treeIndex) TTLValue() int64 {
	if t.def.IndexType == KindTTL {
		return t.def.Opts.ExpireAfter
	}
	return 0
}
