package cjson

import (
	"github.com/narwhaldb/narwhal/tags"
	"github.com/narwhaldb/narwhal/variant"
)

// ExtractPath collects the values stored at a dotted JSON path inside
// a CJSON tuple. Used to filter and sort on fields that carry no
// payload slot.
func ExtractPath(tuple []byte, tm *tags.Matcher, path string) variant.VariantArray {
	var out variant.VariantArray
	r := NewReader(tuple)
	extractScan(r, tm, "", path, true, &out)
	return out
}

func extractScan(r *Reader, tm *tags.Matcher, cur, want string, root bool, out *variant.VariantArray) {
	for {
		if root && r.Eof() {
			return
		}
		t, err := r.GetCTag()
		if err != nil || t.Type() == TagEnd {
			return
		}
		name := tm.Tag2Name(t.Name())
		childPath := name
		if cur != "" && name != "" {
			childPath = cur + "." + name
		} else if cur != "" {
			childPath = cur
		}
		if !extractValue(r, tm, t, childPath, want, out) {
			return
		}
	}
}

// extractValue consumes one value, collecting it when its path is the
// wanted one. Returns false on a decode error.
func extractValue(r *Reader, tm *tags.Matcher, t ctag, path, want string, out *variant.VariantArray) bool {
	hit := path == want
	switch t.Type() {
	case TagNull:
		if hit {
			*out = append(*out, variant.Null())
		}
	case TagBool:
		v, err := r.GetVarint()
		if err != nil {
			return false
		}
		if hit {
			*out = append(*out, variant.NewBool(v != 0))
		}
	case TagVarint:
		v, err := r.GetVarint()
		if err != nil {
			return false
		}
		if hit {
			*out = append(*out, numVariant(v))
		}
	case TagDouble:
		v, err := r.GetDouble()
		if err != nil {
			return false
		}
		if hit {
			*out = append(*out, variant.NewDouble(v))
		}
	case TagString:
		v, err := r.GetVString()
		if err != nil {
			return false
		}
		if hit {
			*out = append(*out, variant.NewString(v))
		}
	case TagObject:
		extractScan(r, tm, path, want, false, out)
	case TagArray:
		at, err := r.GetCArrayTag()
		if err != nil {
			return false
		}
		for i := 0; i < at.Count(); i++ {
			et := mkctag(at.Type(), 0, -1)
			if at.Type() == TagObject {
				if et, err = r.GetCTag(); err != nil {
					return false
				}
			}
			if !extractValue(r, tm, et, path, want, out) {
				return false
			}
		}
	default:
		return false
	}
	return true
}
