package variant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareNumeric(t *testing.T) {
	assert.Equal(t, 0, NewInt(5).Compare(NewInt64(5), CollateNone))
	assert.Equal(t, -1, NewInt(3).Compare(NewDouble(3.5), CollateNone))
	assert.Equal(t, 1, NewDouble(10).Compare(NewInt(9), CollateNone))
	assert.Equal(t, 0, NewBool(true).Compare(NewInt(1), CollateNone))
}

func TestCompareNulls(t *testing.T) {
	assert.Equal(t, 0, Null().Compare(Null(), CollateNone))
	assert.Equal(t, -1, Null().Compare(NewInt(0), CollateNone))
	assert.Equal(t, 1, NewString("").Compare(Null(), CollateNone))
}

func TestCompareStringsCollate(t *testing.T) {
	assert.Equal(t, 0, NewString("ABC").Compare(NewString("abc"), CollateASCII))
	assert.NotEqual(t, 0, NewString("ABC").Compare(NewString("abc"), CollateNone))
	assert.Equal(t, -1, NewString("9").Compare(NewString("10"), CollateNumeric))
}

func TestConversions(t *testing.T) {
	v, err := NewString("42").As(TypeInt)
	require.NoError(t, err)
	assert.Equal(t, 42, v.Int())

	v, err = NewDouble(7).As(TypeInt64)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v.Int64())

	_, err = NewDouble(7.5).As(TypeInt)
	assert.Error(t, err)

	_, err = NewString("abc").As(TypeInt)
	assert.Error(t, err)
}

func TestHashConsistency(t *testing.T) {
	assert.Equal(t, NewString("x").Hash(), NewString("x").Hash())
	assert.NotEqual(t, NewString("x").Hash(), NewString("y").Hash())

	a := NewTuple(VariantArray{NewInt(1), NewString("a")})
	b := NewTuple(VariantArray{NewInt(1), NewString("a")})
	assert.Equal(t, a.Hash(), b.Hash())
}

func TestTupleCompare(t *testing.T) {
	a := NewTuple(VariantArray{NewInt(1), NewInt(2)})
	b := NewTuple(VariantArray{NewInt(1), NewInt(3)})
	assert.Equal(t, -1, a.Compare(b, CollateNone))
	assert.Equal(t, 0, a.Compare(a, CollateNone))
}

func TestPointDWithin(t *testing.T) {
	p := NewPointXY(0, 0)
	assert.True(t, p.DWithin(NewPointXY(3, 4), 5))
	assert.False(t, p.DWithin(NewPointXY(3, 4), 4.9))
}

func TestKeyStringRefs(t *testing.T) {
	ks := MakeKeyString("hello")
	assert.Equal(t, 1, ks.Refs())
	ks.AddRef()
	assert.False(t, ks.Release())
	assert.True(t, ks.Release())
}
