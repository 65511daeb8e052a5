// Package variant implements the tagged scalar value used as the
// universal key and field value across payloads, indexes and queries.
package variant

import (
	"math"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/narwhaldb/narwhal/dberr"
)

// Type enumerates the scalar kinds a Variant can hold.
type Type int

const (
	TypeNull Type = iota
	TypeBool
	TypeInt
	TypeInt64
	TypeDouble
	TypeString
	TypeComposite
	TypeTuple
	TypePoint
)

// String returns the canonical name used in index definitions.
func (t Type) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBool:
		return "bool"
	case TypeInt:
		return "int"
	case TypeInt64:
		return "int64"
	case TypeDouble:
		return "double"
	case TypeString:
		return "string"
	case TypeComposite:
		return "composite"
	case TypeTuple:
		return "tuple"
	case TypePoint:
		return "point"
	}
	return "unknown"
}

// TypeFromName parses a field-type name from an index definition.
func TypeFromName(name string) (Type, error) {
	switch name {
	case "bool":
		return TypeBool, nil
	case "int":
		return TypeInt, nil
	case "int64":
		return TypeInt64, nil
	case "double":
		return TypeDouble, nil
	case "string":
		return TypeString, nil
	case "composite":
		return TypeComposite, nil
	case "point":
		return TypePoint, nil
	}
	return TypeNull, dberr.Newf(dberr.CodeParams, "unknown field type '%s'", name)
}

// Variant is a tagged scalar. The zero value is Null.
type Variant struct {
	typ Type
	num int64
	str string
	pt  Point
	tup VariantArray
}

var nullVariant = Variant{}

// Null returns the null variant.
func Null() Variant { return nullVariant }

// NewBool creates a bool variant.
func NewBool(v bool) Variant {
	n := int64(0)
	if v {
		n = 1
	}
	return Variant{typ: TypeBool, num: n}
}

// NewInt creates an int variant.
func NewInt(v int) Variant { return Variant{typ: TypeInt, num: int64(v)} }

// NewInt64 creates an int64 variant.
func NewInt64(v int64) Variant { return Variant{typ: TypeInt64, num: v} }

// NewDouble creates a double variant.
func NewDouble(v float64) Variant {
	return Variant{typ: TypeDouble, num: int64(math.Float64bits(v))}
}

// NewString creates a string variant.
func NewString(v string) Variant { return Variant{typ: TypeString, str: v} }

// NewPoint creates a point variant.
func NewPoint(p Point) Variant { return Variant{typ: TypePoint, pt: p} }

// NewTuple creates a composite-key variant from its parts.
func NewTuple(parts VariantArray) Variant {
	return Variant{typ: TypeTuple, tup: parts}
}

// Type returns the tag of the variant.
func (v Variant) Type() Type { return v.typ }

// IsNull reports whether the variant holds no value.
func (v Variant) IsNull() bool { return v.typ == TypeNull }

// Bool returns the bool payload. Valid only for TypeBool.
func (v Variant) Bool() bool { return v.num != 0 }

// Int returns the int payload. Valid for TypeInt.
func (v Variant) Int() int { return int(v.num) }

// Int64 returns the int64 payload. Valid for TypeInt64.
func (v Variant) Int64() int64 { return v.num }

// Double returns the double payload. Valid for TypeDouble.
func (v Variant) Double() float64 { return math.Float64frombits(uint64(v.num)) }

// Str returns the string payload. Valid for TypeString.
func (v Variant) Str() string { return v.str }

// Point returns the point payload. Valid for TypePoint.
func (v Variant) Point() Point { return v.pt }

// Tuple returns composite-key parts. Valid for TypeTuple.
func (v Variant) Tuple() VariantArray { return v.tup }

// As converts the variant to the target type. Lossy or impossible
// conversions fail with CodeParams.
func (v Variant) As(t Type) (Variant, error) {
	if v.typ == t {
		return v, nil
	}
	// Tuple and composite are the same shape; composite is just the
	// index-definition spelling.
	if (t == TypeComposite && v.typ == TypeTuple) || (t == TypeTuple && v.typ == TypeComposite) {
		return v, nil
	}
	switch t {
	case TypeBool:
		switch v.typ {
		case TypeInt, TypeInt64:
			return NewBool(v.num != 0), nil
		case TypeString:
			b, err := strconv.ParseBool(v.str)
			if err != nil {
				return nullVariant, dberr.Newf(dberr.CodeParams, "can't convert '%s' to bool", v.str)
			}
			return NewBool(b), nil
		}
	case TypeInt:
		switch v.typ {
		case TypeBool:
			return NewInt(int(v.num)), nil
		case TypeInt64:
			if v.num > math.MaxInt32 || v.num < math.MinInt32 {
				return nullVariant, dberr.Newf(dberr.CodeParams, "value %d overflows int", v.num)
			}
			return NewInt(int(v.num)), nil
		case TypeDouble:
			d := v.Double()
			if d != math.Trunc(d) || d > math.MaxInt32 || d < math.MinInt32 {
				return nullVariant, dberr.Newf(dberr.CodeParams, "lossy conversion of %v to int", d)
			}
			return NewInt(int(d)), nil
		case TypeString:
			n, err := strconv.Atoi(v.str)
			if err != nil {
				return nullVariant, dberr.Newf(dberr.CodeParams, "can't convert '%s' to int", v.str)
			}
			return NewInt(n), nil
		}
	case TypeInt64:
		switch v.typ {
		case TypeBool, TypeInt:
			return NewInt64(v.num), nil
		case TypeDouble:
			d := v.Double()
			if d != math.Trunc(d) {
				return nullVariant, dberr.Newf(dberr.CodeParams, "lossy conversion of %v to int64", d)
			}
			return NewInt64(int64(d)), nil
		case TypeString:
			n, err := strconv.ParseInt(v.str, 10, 64)
			if err != nil {
				return nullVariant, dberr.Newf(dberr.CodeParams, "can't convert '%s' to int64", v.str)
			}
			return NewInt64(n), nil
		}
	case TypeDouble:
		switch v.typ {
		case TypeInt, TypeInt64:
			return NewDouble(float64(v.num)), nil
		case TypeString:
			d, err := strconv.ParseFloat(v.str, 64)
			if err != nil {
				return nullVariant, dberr.Newf(dberr.CodeParams, "can't convert '%s' to double", v.str)
			}
			return NewDouble(d), nil
		}
	case TypeString:
		return NewString(v.String()), nil
	}
	return nullVariant, dberr.Newf(dberr.CodeParams, "can't convert %s to %s", v.typ, t)
}

// Compare orders two variants of comparable types. Numeric kinds
// compare by value across int/int64/double; strings honor the collate
// mode. Nulls sort first.
func (v Variant) Compare(other Variant, collate CollateMode) int {
	if v.typ == TypeNull || other.typ == TypeNull {
		switch {
		case v.typ == other.typ:
			return 0
		case v.typ == TypeNull:
			return -1
		default:
			return 1
		}
	}
	if v.typ == TypeTuple && other.typ == TypeTuple {
		return v.tup.Compare(other.tup, collate)
	}
	if isNumeric(v.typ) && isNumeric(other.typ) {
		a, b := v.asFloat(), other.asFloat()
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	}
	if v.typ == TypeString && other.typ == TypeString {
		return collateCompare(v.str, other.str, collate)
	}
	if v.typ == TypePoint && other.typ == TypePoint {
		return v.pt.compare(other.pt)
	}
	// Mixed non-numeric kinds order by tag, stable but arbitrary.
	return int(v.typ) - int(other.typ)
}

func isNumeric(t Type) bool {
	return t == TypeBool || t == TypeInt || t == TypeInt64 || t == TypeDouble
}

func (v Variant) asFloat() float64 {
	if v.typ == TypeDouble {
		return v.Double()
	}
	return float64(v.num)
}

// Hash returns a 64-bit hash of the value, consistent with Compare
// equality for same-typed values.
func (v Variant) Hash() uint64 {
	var d xxhash.Digest
	d.Reset()
	var tag [1]byte
	tag[0] = byte(v.typ)
	switch v.typ {
	case TypeString:
		_, _ = d.Write(tag[:])
		_, _ = d.WriteString(v.str)
	case TypeTuple:
		_, _ = d.Write(tag[:])
		for _, p := range v.tup {
			var b [8]byte
			putUint64(b[:], p.Hash())
			_, _ = d.Write(b[:])
		}
	case TypePoint:
		_, _ = d.Write(tag[:])
		var b [16]byte
		putUint64(b[:8], math.Float64bits(v.pt.X))
		putUint64(b[8:], math.Float64bits(v.pt.Y))
		_, _ = d.Write(b[:])
	default:
		_, _ = d.Write(tag[:])
		var b [8]byte
		putUint64(b[:], uint64(v.num))
		_, _ = d.Write(b[:])
	}
	return d.Sum64()
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// String renders the value for logs, SQL literals and JSON keys.
func (v Variant) String() string {
	switch v.typ {
	case TypeNull:
		return "null"
	case TypeBool:
		return strconv.FormatBool(v.num != 0)
	case TypeInt, TypeInt64:
		return strconv.FormatInt(v.num, 10)
	case TypeDouble:
		return strconv.FormatFloat(v.Double(), 'g', -1, 64)
	case TypeString:
		return v.str
	case TypePoint:
		return v.pt.String()
	case TypeTuple, TypeComposite:
		parts := make([]string, len(v.tup))
		for i, p := range v.tup {
			parts[i] = p.String()
		}
		return "{" + strings.Join(parts, ",") + "}"
	}
	return "?"
}

// Interface returns the value as a plain Go value for JSON encoding.
func (v Variant) Interface() interface{} {
	switch v.typ {
	case TypeNull:
		return nil
	case TypeBool:
		return v.num != 0
	case TypeInt:
		return int(v.num)
	case TypeInt64:
		return v.num
	case TypeDouble:
		return v.Double()
	case TypeString:
		return v.str
	case TypePoint:
		return []float64{v.pt.X, v.pt.Y}
	case TypeTuple, TypeComposite:
		out := make([]interface{}, len(v.tup))
		for i, p := range v.tup {
			out[i] = p.Interface()
		}
		return out
	}
	return nil
}

// FromInterface builds a variant from a decoded JSON value.
func FromInterface(val interface{}) (Variant, error) {
	switch x := val.(type) {
	case nil:
		return nullVariant, nil
	case bool:
		return NewBool(x), nil
	case float64:
		if x == math.Trunc(x) && x >= math.MinInt64 && x <= math.MaxInt64 {
			n := int64(x)
			if n >= math.MinInt32 && n <= math.MaxInt32 {
				return NewInt(int(n)), nil
			}
			return NewInt64(n), nil
		}
		return NewDouble(x), nil
	case int:
		return NewInt(x), nil
	case int64:
		return NewInt64(x), nil
	case string:
		return NewString(x), nil
	}
	return nullVariant, dberr.Newf(dberr.CodeParams, "unsupported value type %T", val)
}
