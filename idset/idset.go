// Package idset implements the sorted set of row ids that indexes
// exchange with the query planner. Small sets stay in a plain sorted
// slice; large sets are promoted to a roaring bitmap so that unions
// and intersections during planning stay cheap.
package idset

import (
	"slices"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
)

// RowID is a row slot number within one namespace.
type RowID = uint32

// promoteThreshold is the slice size past which a set migrates into a
// roaring bitmap.
const promoteThreshold = 128

// IdSet is a set of row ids with a commit flag and a reference count.
// Mutating methods require the set to be unshared; Clone first when in
// doubt. An uncommitted set may hold unsorted duplicates, finalized by
// a single sort+dedup in Commit.
type IdSet struct {
	refs      atomic.Int32
	ids       []RowID
	bm        *roaring.Bitmap
	committed bool
}

// New creates an empty committed set.
func New() *IdSet {
	s := &IdSet{committed: true}
	s.refs.Store(1)
	return s
}

// NewFrom creates a committed set from sorted-or-not ids.
func NewFrom(ids ...RowID) *IdSet {
	s := New()
	for _, id := range ids {
		s.AddUnordered(id)
	}
	s.Commit()
	return s
}

// AddRef shares the set.
func (s *IdSet) AddRef() *IdSet {
	s.refs.Add(1)
	return s
}

// Release drops a reference.
func (s *IdSet) Release() { s.refs.Add(-1) }

// Add inserts id keeping the set committed. Cost is O(n) on the slice
// representation; callers on hot paths batch through AddUnordered.
func (s *IdSet) Add(id RowID) {
	if s.bm != nil {
		s.bm.Add(id)
		return
	}
	i, found := slices.BinarySearch(s.ids, id)
	if found {
		return
	}
	s.ids = slices.Insert(s.ids, i, id)
	s.maybePromote()
}

// AddUnordered appends id without keeping order; the set becomes
// uncommitted until Commit runs.
func (s *IdSet) AddUnordered(id RowID) {
	if s.bm != nil {
		s.bm.Add(id)
		return
	}
	s.ids = append(s.ids, id)
	s.committed = false
	s.maybePromote()
}

func (s *IdSet) maybePromote() {
	if len(s.ids) < promoteThreshold {
		return
	}
	s.bm = roaring.New()
	for _, id := range s.ids {
		s.bm.Add(id)
	}
	s.ids = nil
	s.committed = true
}

// Remove deletes id if present.
func (s *IdSet) Remove(id RowID) {
	if s.bm != nil {
		s.bm.Remove(id)
		return
	}
	if !s.committed {
		s.Commit()
	}
	if i, found := slices.BinarySearch(s.ids, id); found {
		s.ids = slices.Delete(s.ids, i, i+1)
	}
}

// Commit sorts and deduplicates the transient representation.
func (s *IdSet) Commit() {
	if s.committed {
		return
	}
	slices.Sort(s.ids)
	s.ids = slices.Compact(s.ids)
	s.committed = true
}

// Contains reports membership. The set must be committed.
func (s *IdSet) Contains(id RowID) bool {
	if s.bm != nil {
		return s.bm.Contains(id)
	}
	_, found := slices.BinarySearch(s.ids, id)
	return found
}

// Size returns the cardinality. The set must be committed.
func (s *IdSet) Size() int {
	if s.bm != nil {
		return int(s.bm.GetCardinality())
	}
	return len(s.ids)
}

// IsEmpty reports whether the set holds no ids.
func (s *IdSet) IsEmpty() bool { return s.Size() == 0 }

// Clone returns an unshared deep copy.
func (s *IdSet) Clone() *IdSet {
	n := New()
	n.committed = s.committed
	if s.bm != nil {
		n.bm = s.bm.Clone()
		return n
	}
	n.ids = append([]RowID(nil), s.ids...)
	return n
}

// And intersects s with other in place.
func (s *IdSet) And(other *IdSet) {
	sb, ob := s.toBitmap(), other.toBitmap()
	sb.And(ob)
	s.fromBitmap(sb)
}

// Or unions other into s in place.
func (s *IdSet) Or(other *IdSet) {
	sb, ob := s.toBitmap(), other.toBitmap()
	sb.Or(ob)
	s.fromBitmap(sb)
}

// AndNot removes other's ids from s in place.
func (s *IdSet) AndNot(other *IdSet) {
	sb, ob := s.toBitmap(), other.toBitmap()
	sb.AndNot(ob)
	s.fromBitmap(sb)
}

func (s *IdSet) toBitmap() *roaring.Bitmap {
	if s.bm != nil {
		return s.bm
	}
	s.Commit()
	bm := roaring.New()
	bm.AddMany(s.ids)
	return bm
}

func (s *IdSet) fromBitmap(bm *roaring.Bitmap) {
	if bm.GetCardinality() >= promoteThreshold {
		s.bm = bm
		s.ids = nil
	} else {
		s.bm = nil
		s.ids = bm.ToArray()
	}
	s.committed = true
}

// ForEach visits ids in ascending order. Return false to stop.
func (s *IdSet) ForEach(fn func(id RowID) bool) {
	if s.bm != nil {
		it := s.bm.Iterator()
		for it.HasNext() {
			if !fn(it.Next()) {
				return
			}
		}
		return
	}
	for _, id := range s.ids {
		if !fn(id) {
			return
		}
	}
}

// ToSlice materializes the set in ascending order.
func (s *IdSet) ToSlice() []RowID {
	if s.bm != nil {
		return s.bm.ToArray()
	}
	out := make([]RowID, len(s.ids))
	copy(out, s.ids)
	return out
}
