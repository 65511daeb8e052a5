package idset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddKeepsOrder(t *testing.T) {
	s := New()
	s.Add(5)
	s.Add(1)
	s.Add(3)
	s.Add(3)
	assert.Equal(t, []RowID{1, 3, 5}, s.ToSlice())
	assert.Equal(t, 3, s.Size())
	assert.True(t, s.Contains(3))
	assert.False(t, s.Contains(4))
}

func TestUnorderedCommit(t *testing.T) {
	s := New()
	s.AddUnordered(9)
	s.AddUnordered(2)
	s.AddUnordered(9)
	s.Commit()
	assert.Equal(t, []RowID{2, 9}, s.ToSlice())
}

func TestPromotionToBitmap(t *testing.T) {
	s := New()
	for i := 0; i < promoteThreshold*2; i++ {
		s.Add(RowID(i * 2))
	}
	assert.Equal(t, promoteThreshold*2, s.Size())
	assert.True(t, s.Contains(10))
	assert.False(t, s.Contains(11))

	s.Remove(10)
	assert.False(t, s.Contains(10))
}

func TestSetOps(t *testing.T) {
	a := NewFrom(1, 2, 3, 4)
	b := NewFrom(3, 4, 5)

	u := a.Clone()
	u.Or(b)
	assert.Equal(t, []RowID{1, 2, 3, 4, 5}, u.ToSlice())

	i := a.Clone()
	i.And(b)
	assert.Equal(t, []RowID{3, 4}, i.ToSlice())

	d := a.Clone()
	d.AndNot(b)
	assert.Equal(t, []RowID{1, 2}, d.ToSlice())
}

func TestForEachStops(t *testing.T) {
	s := NewFrom(1, 2, 3)
	var seen []RowID
	s.ForEach(func(id RowID) bool {
		seen = append(seen, id)
		return len(seen) < 2
	})
	assert.Equal(t, []RowID{1, 2}, seen)
}

func TestRefCounting(t *testing.T) {
	s := New()
	require.NotNil(t, s.AddRef())
	s.Release()
	s.Release()
}
