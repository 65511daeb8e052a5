package index

import (
	"strings"

	"github.com/narwhaldb/narwhal/idset"
	"github.com/narwhaldb/narwhal/payload"
	"github.com/narwhaldb/narwhal/query"
	"github.com/narwhaldb/narwhal/variant"
)

// Comparator evaluates a condition against row payloads. The planner
// falls back to comparators for store indexes, non-indexed fields and
// conditions the chosen index can't answer.
type Comparator struct {
	Fields  []int
	Cond    query.CondType
	Values  variant.VariantArray
	Collate variant.CollateMode
	rows    RowAccessor

	// Getter overrides field access, letting the planner compare
	// values that carry no payload slot (raw tuple paths).
	Getter func(id idset.RowID) variant.VariantArray

	distinct map[uint64]struct{}
}

// NewComparator builds a comparator over payload fields.
func NewComparator(fields []int, cond query.CondType, values variant.VariantArray, collate variant.CollateMode, rows RowAccessor) *Comparator {
	return &Comparator{Fields: fields, Cond: cond, Values: values, Collate: collate, rows: rows}
}

// NewComparatorFunc builds a comparator over an arbitrary value
// source.
func NewComparatorFunc(getter func(id idset.RowID) variant.VariantArray, cond query.CondType, values variant.VariantArray, collate variant.CollateMode) *Comparator {
	return &Comparator{Getter: getter, Cond: cond, Values: values, Collate: collate}
}

// SetDistinct makes Match admit each value only once.
func (c *Comparator) SetDistinct() {
	c.distinct = make(map[uint64]struct{})
}

// Match reports whether row id satisfies the condition.
func (c *Comparator) Match(id idset.RowID) bool {
	var vals variant.VariantArray
	if c.Getter != nil {
		vals = c.Getter(id)
	} else {
		pl := c.rows(id)
		if pl.IsFree() {
			return false
		}
		vals = c.fieldValues(pl)
	}
	ok := matchValues(vals, c.Cond, c.Values, c.Collate)
	if ok && c.distinct != nil {
		for _, v := range vals {
			h := v.Hash()
			if _, seen := c.distinct[h]; seen {
				return false
			}
			c.distinct[h] = struct{}{}
		}
	}
	return ok
}

func (c *Comparator) fieldValues(pl payload.Value) variant.VariantArray {
	if len(c.Fields) == 1 {
		return pl.Get(c.Fields[0])
	}
	// Composite: one tuple built from the scalar parts.
	tup := make(variant.VariantArray, 0, len(c.Fields))
	for _, f := range c.Fields {
		tup = append(tup, pl.GetOne(f))
	}
	return variant.VariantArray{variant.NewTuple(tup)}
}

// matchValues applies cond to a row's values. Array fields match when
// any element satisfies the condition, except AllSet which requires
// every queried value to be present.
func matchValues(vals variant.VariantArray, cond query.CondType, keys variant.VariantArray, collate variant.CollateMode) bool {
	switch cond {
	case query.CondAny:
		return !vals.IsNullValue()
	case query.CondEmpty:
		return vals.IsNullValue()
	case query.CondAllSet:
		for _, k := range keys {
			if !vals.Contains(k, collate) {
				return false
			}
		}
		return true
	}
	for _, v := range vals {
		if matchOne(v, cond, keys, collate) {
			return true
		}
	}
	return false
}

func matchOne(v variant.Variant, cond query.CondType, keys variant.VariantArray, collate variant.CollateMode) bool {
	switch cond {
	case query.CondEq:
		return len(keys) > 0 && v.Compare(keys[0], collate) == 0
	case query.CondLt:
		return len(keys) > 0 && v.Compare(keys[0], collate) < 0
	case query.CondLe:
		return len(keys) > 0 && v.Compare(keys[0], collate) <= 0
	case query.CondGt:
		return len(keys) > 0 && v.Compare(keys[0], collate) > 0
	case query.CondGe:
		return len(keys) > 0 && v.Compare(keys[0], collate) >= 0
	case query.CondRange:
		return len(keys) >= 2 && v.Compare(keys[0], collate) >= 0 && v.Compare(keys[1], collate) <= 0
	case query.CondSet:
		return keys.Contains(v, collate)
	case query.CondLike:
		if len(keys) == 0 || v.Type() != variant.TypeString {
			return false
		}
		return likeMatch(v.Str(), keys[0].String())
	case query.CondDWithin:
		if len(keys) < 2 || v.Type() != variant.TypePoint {
			return false
		}
		return v.Point().DWithin(keys[0].Point(), keys[1].Double())
	}
	return false
}

// likeMatch implements SQL LIKE with % and _ wildcards.
func likeMatch(s, pattern string) bool {
	s = strings.ToLower(s)
	pattern = strings.ToLower(pattern)
	return likeRec(s, pattern)
}

func likeRec(s, p string) bool {
	for len(p) > 0 {
		switch p[0] {
		case '%':
			for len(p) > 0 && p[0] == '%' {
				p = p[1:]
			}
			if len(p) == 0 {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if likeRec(s[i:], p) {
					return true
				}
			}
			return false
		case '_':
			if len(s) == 0 {
				return false
			}
			s, p = s[1:], p[1:]
		default:
			if len(s) == 0 || s[0] != p[0] {
				return false
			}
			s, p = s[1:], p[1:]
		}
	}
	return len(s) == 0
}
