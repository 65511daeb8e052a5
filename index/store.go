package index

import (
	"context"

	"github.com/narwhaldb/narwhal/idset"
	"github.com/narwhaldb/narwhal/query"
	"github.com/narwhaldb/narwhal/variant"
)

// storeIndex is the columnar store kind: a dense value column keyed by
// row id with no inverted map. Every condition is answered with a
// comparator; the column also serves projections and sort fallbacks.
type storeIndex struct {
	base
	column []variant.Variant
	count  int
}

func newStore(def *Def, fields []int, rows RowAccessor) *storeIndex {
	return &storeIndex{base: newBase(def, fields, rows)}
}

func (s *storeIndex) Upsert(key variant.Variant, id idset.RowID) (variant.Variant, error) {
	ck, err := s.canonicalKey(key)
	if err != nil {
		return variant.Null(), err
	}
	for int(id) >= len(s.column) {
		s.column = append(s.column, variant.Null())
	}
	if s.column[id].IsNull() && !ck.IsNull() {
		s.count++
	}
	s.column[id] = ck
	return ck, nil
}

func (s *storeIndex) Delete(key variant.Variant, id idset.RowID) error {
	if int(id) >= len(s.column) {
		return nil
	}
	if !s.column[id].IsNull() {
		s.releaseKey(s.column[id])
		s.column[id] = variant.Null()
		s.count--
	}
	return nil
}

func (s *storeIndex) SelectKey(ctx context.Context, keys variant.VariantArray, cond query.CondType, opts SelectOpts) (SelectKeyResults, error) {
	if err := s.checkEmptyConds(cond); err != nil {
		return nil, err
	}
	if err := dbctx(ctx); err != nil {
		return nil, err
	}
	return s.comparatorResult(cond, keys), nil
}

func (s *storeIndex) Commit() {}

func (s *storeIndex) MakeSortOrders(ctx context.Context) ([]idset.RowID, error) {
	return nil, nil
}

func (s *storeIndex) Clone() Index {
	n := &storeIndex{base: s.cloneBase(), count: s.count}
	n.column = append([]variant.Variant(nil), s.column...)
	return n
}

func (s *storeIndex) MemStat() MemStat {
	st := s.memStat(s.count)
	st.DataSize = len(s.column) * 16
	return st
}

func dbctx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
