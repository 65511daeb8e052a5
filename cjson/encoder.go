package cjson

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/narwhaldb/narwhal/dberr"
	"github.com/narwhaldb/narwhal/tags"
)

// Encoder renders CJSON tuples back to JSON using a matcher snapshot.
type Encoder struct {
	tm *tags.Matcher
}

// NewEncoder builds an encoder over a matcher snapshot. Snapshots from
// any version >= the one the tuple was encoded with decode correctly.
func NewEncoder(tm *tags.Matcher) *Encoder { return &Encoder{tm: tm} }

// ToJSON converts a CJSON tuple into a JSON object.
func (e *Encoder) ToJSON(tuple []byte) ([]byte, error) {
	var out bytes.Buffer
	r := NewReader(tuple)
	out.WriteByte('{')
	if err := e.object(r, &out, true); err != nil {
		return nil, err
	}
	out.WriteByte('}')
	return out.Bytes(), nil
}

// ToInterface converts a CJSON tuple into a generic map for the
// MsgPack and Protobuf iterators.
func (e *Encoder) ToInterface(tuple []byte) (map[string]interface{}, error) {
	data, err := e.ToJSON(tuple)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return nil, dberr.Wrap(dberr.CodeParseJSON, err, "cjson reencode")
	}
	return m, nil
}

func (e *Encoder) object(r *Reader, out *bytes.Buffer, root bool) error {
	first := true
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
		if !first {
			out.WriteByte(',')
		}
		first = false
		name := e.tm.Tag2Name(t.Name())
		if name == "" {
			return dberr.Newf(dberr.CodeStateInvalidated, "tag %d unknown to this tags snapshot", t.Name())
		}
		nb, _ := json.Marshal(name)
		out.Write(nb)
		out.WriteByte(':')
		if err := e.value(r, out, t); err != nil {
			return err
		}
	}
}

func (e *Encoder) value(r *Reader, out *bytes.Buffer, t ctag) error {
	switch t.Type() {
	case TagNull:
		out.WriteString("null")
	case TagBool:
		v, err := r.GetVarint()
		if err != nil {
			return err
		}
		out.WriteString(strconv.FormatBool(v != 0))
	case TagVarint:
		v, err := r.GetVarint()
		if err != nil {
			return err
		}
		out.WriteString(strconv.FormatInt(v, 10))
	case TagDouble:
		v, err := r.GetDouble()
		if err != nil {
			return err
		}
		out.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	case TagString:
		v, err := r.GetVString()
		if err != nil {
			return err
		}
		sb, _ := json.Marshal(v)
		out.Write(sb)
	case TagObject:
		out.WriteByte('{')
		if err := e.object(r, out, false); err != nil {
			return err
		}
		out.WriteByte('}')
	case TagArray:
		at, err := r.GetCArrayTag()
		if err != nil {
			return err
		}
		out.WriteByte('[')
		for i := 0; i < at.Count(); i++ {
			if i > 0 {
				out.WriteByte(',')
			}
			et := mkctag(at.Type(), 0, -1)
			if at.Type() == TagObject {
				if et, err = r.GetCTag(); err != nil {
					return err
				}
			}
			if err := e.value(r, out, et); err != nil {
				return err
			}
		}
		out.WriteByte(']')
	default:
		return dberr.Newf(dberr.CodeParseJSON, "cjson: unexpected tag type %d", t.Type())
	}
	return nil
}
