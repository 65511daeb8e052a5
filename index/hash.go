package index

import (
	"context"

	"github.com/narwhaldb/narwhal/dberr"
	"github.com/narwhaldb/narwhal/idset"
	"github.com/narwhaldb/narwhal/query"
	"github.com/narwhaldb/narwhal/variant"
)

// hashEntry is one key bucket. Buckets with colliding hashes chain in
// a slice per hash value.
type hashEntry struct {
	key variant.Variant
	ids *idset.IdSet
}

// hashIndex answers equality and set conditions in O(1) per key.
type hashIndex struct {
	base
	buckets map[uint64][]*hashEntry
	keys    int
}

func newHash(def *Def, fields []int, rows RowAccessor) *hashIndex {
	return &hashIndex{
		base:    newBase(def, fields, rows),
		buckets: make(map[uint64][]*hashEntry),
	}
}

func (h *hashIndex) find(key variant.Variant) *hashEntry {
	for _, e := range h.buckets[key.Hash()] {
		if e.key.Compare(key, h.def.Opts.Collate) == 0 {
			return e
		}
	}
	return nil
}

func (h *hashIndex) Upsert(key variant.Variant, id idset.RowID) (variant.Variant, error) {
	ck, err := h.canonicalKey(key)
	if err != nil {
		return variant.Null(), err
	}
	if ck.IsNull() {
		return ck, nil
	}
	e := h.find(ck)
	if e == nil {
		e = &hashEntry{key: ck, ids: idset.New()}
		hash := ck.Hash()
		h.buckets[hash] = append(h.buckets[hash], e)
		h.keys++
	}
	// Ordered insert keeps the set committed, so readers never have
	// to finalize it under the read lock.
	e.ids.Add(id)
	return ck, nil
}

func (h *hashIndex) Delete(key variant.Variant, id idset.RowID) error {
	ck, err := key.As(h.keyType)
	if err != nil || ck.IsNull() {
		return nil
	}
	e := h.find(ck)
	if e == nil {
		return nil
	}
	e.ids.Remove(id)
	h.releaseKey(e.key)
	if e.ids.IsEmpty() {
		hash := ck.Hash()
		bucket := h.buckets[hash]
		for i, be := range bucket {
			if be == e {
				h.buckets[hash] = append(bucket[:i], bucket[i+1:]...)
				break
			}
		}
		if len(h.buckets[hash]) == 0 {
			delete(h.buckets, hash)
		}
		h.keys--
	}
	return nil
}

func (h *hashIndex) SelectKey(ctx context.Context, keys variant.VariantArray, cond query.CondType, opts SelectOpts) (SelectKeyResults, error) {
	if err := h.checkEmptyConds(cond); err != nil {
		return nil, err
	}
	if err := dbctx(ctx); err != nil {
		return nil, err
	}
	if opts.ForceComparator {
		return h.comparatorResult(cond, keys), nil
	}
	switch cond {
	case query.CondEq, query.CondSet:
		res := make(SelectKeyResults, 0, len(keys))
		for _, k := range keys {
			ck, err := k.As(h.keyType)
			if err != nil {
				return nil, dberr.Wrap(dberr.CodeParams, err, "index '"+h.def.Name+"'")
			}
			if e := h.find(ck); e != nil {
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
			ck, err := k.As(h.keyType)
			if err != nil {
				return nil, dberr.Wrap(dberr.CodeParams, err, "index '"+h.def.Name+"'")
			}
			e := h.find(ck)
			if e == nil {
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
	case query.CondAny, query.CondEmpty, query.CondLike,
		query.CondLt, query.CondLe, query.CondGt, query.CondGe, query.CondRange:
		// Hash keys carry no order; scan.
		return h.comparatorResult(cond, keys), nil
	}
	return nil, dberr.Newf(dberr.CodeParams, "condition %s is not supported by hash index '%s'", cond, h.def.Name)
}

func (h *hashIndex) Commit() {
	for _, bucket := range h.buckets {
		for _, e := range bucket {
			e.ids.Commit()
		}
	}
}

func (h *hashIndex) MakeSortOrders(ctx context.Context) ([]idset.RowID, error) {
	return nil, nil
}

func (h *hashIndex) Clone() Index {
	n := &hashIndex{
		base:    h.cloneBase(),
		buckets: make(map[uint64][]*hashEntry, len(h.buckets)),
		keys:    h.keys,
	}
	for hash, bucket := range h.buckets {
		nb := make([]*hashEntry, len(bucket))
		for i, e := range bucket {
			nb[i] = &hashEntry{key: e.key, ids: e.ids.Clone()}
		}
		n.buckets[hash] = nb
	}
	return n
}

func (h *hashIndex) MemStat() MemStat {
	st := h.memStat(h.keys)
	for _, bucket := range h.buckets {
		for _, e := range bucket {
			st.DataSize += 16 + e.ids.Size()*4
		}
	}
	return st
}
