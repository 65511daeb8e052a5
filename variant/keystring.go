package variant

import (
	"sync/atomic"
)

// KeyString is an immutable interned string with an explicit reference
// count. Store indexes hand the same KeyString to every row sharing a
// value; the count reaching zero parks the string for deferred release
// so no allocator work happens under the namespace lock.
type KeyString struct {
	s    string
	refs atomic.Int32
}

// MakeKeyString interns s with an initial reference.
func MakeKeyString(s string) *KeyString {
	ks := &KeyString{s: s}
	ks.refs.Store(1)
	return ks
}

// String returns the interned text.
func (ks *KeyString) String() string { return ks.s }

// AddRef takes an additional reference and returns ks.
func (ks *KeyString) AddRef() *KeyString {
	ks.refs.Add(1)
	return ks
}

// Release drops a reference. Returns true when the count hit zero and
// the owner should move the string to its expired list.
func (ks *KeyString) Release() bool {
	return ks.refs.Add(-1) <= 0
}

// Refs returns the current reference count. Racy by nature; intended
// for stats only.
func (ks *KeyString) Refs() int { return int(ks.refs.Load()) }
