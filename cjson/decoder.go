package cjson

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/narwhaldb/narwhal/dberr"
	"github.com/narwhaldb/narwhal/payload"
	"github.com/narwhaldb/narwhal/tags"
	"github.com/narwhaldb/narwhal/variant"
)

// Decoder converts incoming JSON or CJSON rows into payload values,
// registering new tags in the matcher as it goes.
type Decoder struct {
	tm *tags.Matcher
	pt *payload.Type
}

// NewDecoder builds a decoder bound to the namespace's current matcher
// and schema. The matcher is mutated when rows introduce new paths, so
// the caller must hold the namespace write lock.
func NewDecoder(tm *tags.Matcher, pt *payload.Type) *Decoder {
	return &Decoder{tm: tm, pt: pt}
}

// FromJSON parses a JSON object into a fresh payload value: the tuple
// slot receives the CJSON encoding, and every indexed field slot is
// filled with its typed values.
func (d *Decoder) FromJSON(data []byte) (payload.Value, error) {
	pl := payload.NewValue(d.pt)
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return pl, dberr.Wrap(dberr.CodeParseJSON, err, "item is not valid json")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return pl, dberr.New(dberr.CodeParseJSON, "item must be a json object")
	}

	w := NewWriter()
	if err := d.encodeObject(dec, w, 0, "", pl, true); err != nil {
		return pl, err
	}
	pl.SetTuple(w.Bytes())
	return pl, nil
}

// encodeObject consumes tokens after the opening '{' and writes the
// object body, terminated by TagEnd.
func (d *Decoder) encodeObject(dec *json.Decoder, w *Writer, nameTag int, path string, pl payload.Value, root bool) error {
	if !root {
		w.PutCTag(mkctag(TagObject, nameTag, -1))
	}
	for {
		tok, err := dec.Token()
		if err != nil {
			return dberr.Wrap(dberr.CodeParseJSON, err, "truncated json object")
		}
		if delim, ok := tok.(json.Delim); ok {
			if delim == '}' {
				w.PutCTag(mkctag(TagEnd, 0, -1))
				return nil
			}
			return dberr.New(dberr.CodeParseJSON, "unexpected delimiter in object")
		}
		key, ok := tok.(string)
		if !ok {
			return dberr.New(dberr.CodeParseJSON, "object key must be a string")
		}
		childPath := key
		if path != "" {
			childPath = path + "." + key
		}
		tag := d.tm.Name2Tag(key, true)
		if err := d.encodeValue(dec, w, tag, childPath, pl); err != nil {
			return err
		}
	}
}

func (d *Decoder) encodeValue(dec *json.Decoder, w *Writer, nameTag int, path string, pl payload.Value) error {
	tok, err := dec.Token()
	if err != nil {
		return dberr.Wrap(dberr.CodeParseJSON, err, "truncated json value")
	}
	field := d.fieldFor(path)

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return d.encodeObject(dec, w, nameTag, path, pl, false)
		case '[':
			return d.encodeArray(dec, w, nameTag, path, pl)
		}
		return dberr.New(dberr.CodeParseJSON, "unexpected delimiter")
	case nil:
		w.PutCTag(mkctag(TagNull, nameTag, field))
		return nil
	case bool:
		w.PutCTag(mkctag(TagBool, nameTag, field))
		w.PutBool(t)
		return d.collect(pl, field, path, variant.NewBool(t))
	case json.Number:
		if i, err := t.Int64(); err == nil && !strings.ContainsAny(t.String(), ".eE") {
			w.PutCTag(mkctag(TagVarint, nameTag, field))
			w.PutVarint(i)
			return d.collect(pl, field, path, numVariant(i))
		}
		f, err := t.Float64()
		if err != nil {
			return dberr.Wrap(dberr.CodeParseJSON, err, "bad number literal")
		}
		w.PutCTag(mkctag(TagDouble, nameTag, field))
		w.PutDouble(f)
		return d.collect(pl, field, path, variant.NewDouble(f))
	case string:
		w.PutCTag(mkctag(TagString, nameTag, field))
		w.PutVString(t)
		return d.collect(pl, field, path, variant.NewString(t))
	}
	return dberr.New(dberr.CodeParseJSON, "unsupported json token")
}

// encodeArray buffers the elements to learn the count, then emits the
// array tag. Point fields are recognized as two-element number arrays.
func (d *Decoder) encodeArray(dec *json.Decoder, w *Writer, nameTag int, path string, pl payload.Value) error {
	field := d.fieldFor(path)
	if field >= 0 && d.pt.Field(field).Type == variant.TypePoint {
		return d.encodePoint(dec, w, nameTag, path, pl, field)
	}

	// Elements keep their own ctags; the array header only carries the
	// count. The homogeneous fast path is reserved for point fields.
	inner := NewWriter()
	count := 0
	for {
		if !dec.More() {
			if _, err := dec.Token(); err != nil { // consume ']'
				return dberr.Wrap(dberr.CodeParseJSON, err, "truncated json array")
			}
			break
		}
		if err := d.encodeValue(dec, inner, 0, path, pl); err != nil {
			return err
		}
		count++
	}
	w.PutCTag(mkctag(TagArray, nameTag, field))
	w.PutCArrayTag(mkcarraytag(count, TagObject))
	w.buf = append(w.buf, inner.Bytes()...)
	return nil
}

func (d *Decoder) encodePoint(dec *json.Decoder, w *Writer, nameTag int, path string, pl payload.Value, field int) error {
	var coords []float64
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return dberr.Wrap(dberr.CodeParseJSON, err, "truncated point")
		}
		n, ok := tok.(json.Number)
		if !ok {
			return dberr.Newf(dberr.CodeParams, "point field '%s' must hold numbers", path)
		}
		f, err := n.Float64()
		if err != nil {
			return dberr.Wrap(dberr.CodeParseJSON, err, "bad point coordinate")
		}
		coords = append(coords, f)
	}
	if _, err := dec.Token(); err != nil { // ']'
		return dberr.Wrap(dberr.CodeParseJSON, err, "truncated point")
	}
	if len(coords) != 2 {
		return dberr.Newf(dberr.CodeParams, "point field '%s' must hold exactly 2 coordinates", path)
	}
	w.PutCTag(mkctag(TagArray, nameTag, field))
	w.PutCArrayTag(mkcarraytag(2, TagDouble))
	w.PutDouble(coords[0])
	w.PutDouble(coords[1])
	return d.collect(pl, field, path, variant.NewPoint(variant.NewPointXY(coords[0], coords[1])))
}

// fieldFor maps a JSON path to its payload field, or -1.
func (d *Decoder) fieldFor(path string) int {
	if idx, ok := d.pt.FieldByJSONPath(path); ok && idx > 0 {
		return idx
	}
	return -1
}

// collect converts v per the field's declared type and appends it to
// the row slot. Non-indexed values pass through untouched.
func (d *Decoder) collect(pl payload.Value, field int, path string, v variant.Variant) error {
	if field < 0 {
		return nil
	}
	f := d.pt.Field(field)
	cv, err := v.As(f.Type)
	if err != nil {
		return dberr.Wrap(dberr.CodeParams, err, "field '"+path+"'")
	}
	cur := pl.Get(field)
	if len(cur) > 0 && !f.IsArray {
		return dberr.Newf(dberr.CodeParams, "field '%s' is not an array but got multiple values", path)
	}
	return pl.Set(field, append(cur, cv))
}

func numVariant(i int64) variant.Variant {
	if i >= -1<<31 && i < 1<<31 {
		return variant.NewInt(int(i))
	}
	return variant.NewInt64(i)
}

// FromCJSON rebuilds a payload value from a CJSON tuple produced by
// this matcher lineage. Unknown tags fail with CodeTagsMismatch.
func (d *Decoder) FromCJSON(data []byte) (payload.Value, error) {
	pl := payload.NewValue(d.pt)
	r := NewReader(data)
	if err := d.scan(r, pl, "", true); err != nil {
		return pl, err
	}
	pl.SetTuple(append([]byte(nil), data...))
	return pl, nil
}

// scan walks an object body, collecting indexed values into slots.
func (d *Decoder) scan(r *Reader, pl payload.Value, path string, root bool) error {
	for {
		if root && r.Eof() {
			return nil
		}
		t, err := r.GetCTag()
		if err != nil {
			return err
		}
		if t.Type() == TagEnd {
			return nil
		}
		name := ""
		if t.Name() != 0 {
			name = d.tm.Tag2Name(t.Name())
			if name == "" {
				return dberr.Newf(dberr.CodeTagsMismatch, "unknown tag %d in cjson", t.Name())
			}
		}
		childPath := name
		if path != "" && name != "" {
			childPath = path + "." + name
		} else if path != "" {
			childPath = path
		}
		if err := d.scanValue(r, pl, t, childPath); err != nil {
			return err
		}
	}
}

func (d *Decoder) scanValue(r *Reader, pl payload.Value, t ctag, path string) error {
	field := d.fieldFor(path)
	switch t.Type() {
	case TagNull:
		return nil
	case TagBool:
		v, err := r.GetVarint()
		if err != nil {
			return err
		}
		return d.collect(pl, field, path, variant.NewBool(v != 0))
	case TagVarint:
		v, err := r.GetVarint()
		if err != nil {
			return err
		}
		return d.collect(pl, field, path, numVariant(v))
	case TagDouble:
		v, err := r.GetDouble()
		if err != nil {
			return err
		}
		return d.collect(pl, field, path, variant.NewDouble(v))
	case TagString:
		v, err := r.GetVString()
		if err != nil {
			return err
		}
		return d.collect(pl, field, path, variant.NewString(v))
	case TagObject:
		return d.scan(r, pl, path, false)
	case TagArray:
		at, err := r.GetCArrayTag()
		if err != nil {
			return err
		}
		if field >= 0 && d.pt.Field(field).Type == variant.TypePoint && at.Count() == 2 && at.Type() == TagDouble {
			x, err := r.GetDouble()
			if err != nil {
				return err
			}
			y, err := r.GetDouble()
			if err != nil {
				return err
			}
			return d.collect(pl, field, path, variant.NewPoint(variant.NewPointXY(x, y)))
		}
		for i := 0; i < at.Count(); i++ {
			et := mkctag(at.Type(), 0, -1)
			if at.Type() == TagObject {
				et, err = r.GetCTag()
				if err != nil {
					return err
				}
			}
			if err := d.scanValue(r, pl, et, path); err != nil {
				return err
			}
		}
		return nil
	}
	return dberr.Newf(dberr.CodeParseJSON, "cjson: unexpected tag type %d", t.Type())
}

// ExtractPK pulls the primary-key values for the given field without a
// full decode; used on the delete-by-item path.
func ExtractPK(pl payload.Value, field int) variant.VariantArray {
	return pl.Get(field)
}
