package payload

import (
	"sync/atomic"

	"github.com/narwhaldb/narwhal/dberr"
	"github.com/narwhaldb/narwhal/variant"
)

// Value is a reference-counted row. Readers share the underlying
// buffer; writers must hold the only reference (CloneIfShared gives a
// private copy otherwise). The zero Value is a detached null row.
type Value struct {
	h *handle
}

type handle struct {
	refs  atomic.Int32
	lsn   int64
	tuple []byte
	slots []variant.VariantArray
}

// NewValue allocates an empty row for the given schema.
func NewValue(t *Type) Value {
	h := &handle{slots: make([]variant.VariantArray, t.NumFields())}
	h.refs.Store(1)
	return Value{h: h}
}

// IsFree reports whether the slot holds no row.
func (v Value) IsFree() bool { return v.h == nil }

// AddRef shares the row with another owner.
func (v Value) AddRef() Value {
	if v.h != nil {
		v.h.refs.Add(1)
	}
	return v
}

// Release drops the owner's reference.
func (v Value) Release() {
	if v.h != nil {
		v.h.refs.Add(-1)
	}
}

// Refs returns the current share count, for stats.
func (v Value) Refs() int {
	if v.h == nil {
		return 0
	}
	return int(v.h.refs.Load())
}

// CloneIfShared returns a privately owned copy when the buffer is
// shared, or v itself when the caller already holds the only
// reference. The caller's reference moves to the result.
func (v Value) CloneIfShared() Value {
	if v.h == nil || v.h.refs.Load() <= 1 {
		return v
	}
	nh := &handle{lsn: v.h.lsn}
	nh.refs.Store(1)
	nh.tuple = append([]byte(nil), v.h.tuple...)
	nh.slots = make([]variant.VariantArray, len(v.h.slots))
	for i, s := range v.h.slots {
		nh.slots[i] = s.Clone()
	}
	v.h.refs.Add(-1)
	return Value{h: nh}
}

// LSN returns the log sequence number stamped on the row.
func (v Value) LSN() int64 {
	if v.h == nil {
		return -1
	}
	return v.h.lsn
}

// SetLSN stamps the row. Requires exclusive ownership.
func (v Value) SetLSN(lsn int64) { v.h.lsn = lsn }

// Tuple returns the CJSON body of the row.
func (v Value) Tuple() []byte {
	if v.h == nil {
		return nil
	}
	return v.h.tuple
}

// SetTuple replaces the CJSON body. Requires exclusive ownership.
func (v Value) SetTuple(data []byte) { v.h.tuple = data }

// Get reads field idx. Field 0 is not addressable through Get.
func (v Value) Get(idx int) variant.VariantArray {
	if v.h == nil || idx <= 0 || idx >= len(v.h.slots) {
		return nil
	}
	return v.h.slots[idx]
}

// GetOne reads a scalar field, returning Null for empty slots.
func (v Value) GetOne(idx int) variant.Variant {
	a := v.Get(idx)
	if len(a) == 0 {
		return variant.Null()
	}
	return a[0]
}

// Set writes field idx. Requires exclusive ownership.
func (v Value) Set(idx int, vals variant.VariantArray) error {
	if v.h == nil {
		return dberr.New(dberr.CodeLogic, "set on a free row")
	}
	if idx <= 0 || idx >= len(v.h.slots) {
		return dberr.Newf(dberr.CodeParams, "field index %d out of range", idx)
	}
	v.h.slots[idx] = vals
	return nil
}

// Grow appends empty slots so the row matches a schema that gained
// fields after the row was written.
func (v Value) Grow(numFields int) {
	for len(v.h.slots) < numFields {
		v.h.slots = append(v.h.slots, nil)
	}
}

// DropSlot removes a slot after a field drop; later slots shift down.
func (v Value) DropSlot(idx int) {
	if v.h == nil || idx <= 0 || idx >= len(v.h.slots) {
		return
	}
	v.h.slots = append(v.h.slots[:idx], v.h.slots[idx+1:]...)
}
