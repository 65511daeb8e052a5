package cjson

import (
	"encoding/binary"
	"math"

	"github.com/narwhaldb/narwhal/dberr"
)

// Writer accumulates a CJSON buffer.
type Writer struct {
	buf []byte
}

// NewWriter creates an empty writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the current buffer length.
func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) PutCTag(t ctag)       { w.PutUVarint(uint64(t)) }
func (w *Writer) PutCArrayTag(t carraytag) { w.PutUVarint(uint64(t)) }

func (w *Writer) PutVarint(v int64)   { w.buf = binary.AppendVarint(w.buf, v) }
func (w *Writer) PutUVarint(v uint64) { w.buf = binary.AppendUvarint(w.buf, v) }

func (w *Writer) PutDouble(v float64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, math.Float64bits(v))
}

func (w *Writer) PutBool(v bool) {
	if v {
		w.PutVarint(1)
	} else {
		w.PutVarint(0)
	}
}

// PutVString writes a length-prefixed string.
func (w *Writer) PutVString(s string) {
	w.PutUVarint(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

// Reader consumes a CJSON buffer.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf.
func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

// Eof reports whether the whole buffer was consumed.
func (r *Reader) Eof() bool { return r.pos >= len(r.buf) }

func (r *Reader) GetCTag() (ctag, error) {
	v, err := r.GetUVarint()
	return ctag(v), err
}

func (r *Reader) GetCArrayTag() (carraytag, error) {
	v, err := r.GetUVarint()
	return carraytag(v), err
}

func (r *Reader) GetVarint() (int64, error) {
	v, n := binary.Varint(r.buf[r.pos:])
	if n <= 0 {
		return 0, dberr.New(dberr.CodeParseJSON, "cjson: truncated varint")
	}
	r.pos += n
	return v, nil
}

func (r *Reader) GetUVarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		return 0, dberr.New(dberr.CodeParseJSON, "cjson: truncated uvarint")
	}
	r.pos += n
	return v, nil
}

func (r *Reader) GetDouble() (float64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, dberr.New(dberr.CodeParseJSON, "cjson: truncated double")
	}
	v := math.Float64frombits(binary.LittleEndian.Uint64(r.buf[r.pos:]))
	r.pos += 8
	return v, nil
}

func (r *Reader) GetVString() (string, error) {
	l, err := r.GetUVarint()
	if err != nil {
		return "", err
	}
	if r.pos+int(l) > len(r.buf) {
		return "", dberr.New(dberr.CodeParseJSON, "cjson: truncated string")
	}
	s := string(r.buf[r.pos : r.pos+int(l)])
	r.pos += int(l)
	return s, nil
}
