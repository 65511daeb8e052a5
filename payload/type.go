// Package payload implements the typed row model: the per-namespace
// field schema (Type) and the reference-counted row buffer (Value).
package payload

import (
	"github.com/narwhaldb/narwhal/dberr"
	"github.com/narwhaldb/narwhal/variant"
)

// TupleFieldName is the reserved name of field 0, which stores the
// CJSON body of the row.
const TupleFieldName = "-tuple"

// Field describes one column of a namespace.
type Field struct {
	Name      string       `json:"name"`
	Type      variant.Type `json:"type"`
	IsArray   bool         `json:"is_array,omitempty"`
	JSONPaths []string     `json:"json_paths,omitempty"`
}

// Type is the ordered, append-only field schema of a namespace.
// Field 0 is always the reserved tuple field.
type Type struct {
	name   string
	fields []Field
	byName map[string]int
	byPath map[string]int
}

// NewType creates a schema holding only the tuple field.
func NewType(name string) *Type {
	t := &Type{
		name:   name,
		byName: make(map[string]int),
		byPath: make(map[string]int),
	}
	t.fields = append(t.fields, Field{Name: TupleFieldName, Type: variant.TypeString})
	t.byName[TupleFieldName] = 0
	return t
}

// Name returns the namespace name the schema belongs to.
func (t *Type) Name() string { return t.name }

// SetName renames the owning namespace.
func (t *Type) SetName(name string) { t.name = name }

// NumFields returns the field count including the tuple field.
func (t *Type) NumFields() int { return len(t.fields) }

// Field returns the descriptor of field idx.
func (t *Type) Field(idx int) Field { return t.fields[idx] }

// FieldByName resolves a field index by name. The second result is
// false when no such field exists.
func (t *Type) FieldByName(name string) (int, bool) {
	idx, ok := t.byName[name]
	return idx, ok
}

// FieldByJSONPath resolves a field index by one of its JSON paths.
func (t *Type) FieldByJSONPath(path string) (int, bool) {
	idx, ok := t.byPath[path]
	return idx, ok
}

// Add appends a field. Duplicate names or paths fail with CodeLogic
// and leave the schema unchanged.
func (t *Type) Add(f Field) (int, error) {
	if _, ok := t.byName[f.Name]; ok {
		return -1, dberr.Newf(dberr.CodeLogic, "field '%s' already exists in '%s'", f.Name, t.name)
	}
	if len(f.JSONPaths) == 0 {
		f.JSONPaths = []string{f.Name}
	}
	for _, p := range f.JSONPaths {
		if _, ok := t.byPath[p]; ok {
			return -1, dberr.Newf(dberr.CodeLogic, "json path '%s' already indexed in '%s'", p, t.name)
		}
	}
	idx := len(t.fields)
	t.fields = append(t.fields, f)
	t.byName[f.Name] = idx
	for _, p := range f.JSONPaths {
		t.byPath[p] = idx
	}
	return idx, nil
}

// Clone returns an independent copy of the schema. Values built
// against the original stay readable through the copy as long as no
// fields are dropped.
func (t *Type) Clone() *Type {
	nt := &Type{
		name:   t.name,
		fields: make([]Field, len(t.fields)),
		byName: make(map[string]int, len(t.byName)),
		byPath: make(map[string]int, len(t.byPath)),
	}
	copy(nt.fields, t.fields)
	for k, v := range t.byName {
		nt.byName[k] = v
	}
	for k, v := range t.byPath {
		nt.byPath[k] = v
	}
	return nt
}

// Drop removes the named field. Rows must be rebuilt by the caller;
// the tuple field can not be dropped.
func (t *Type) Drop(name string) error {
	idx, ok := t.byName[name]
	if !ok {
		return dberr.Newf(dberr.CodeNotFound, "field '%s' not found in '%s'", name, t.name)
	}
	if idx == 0 {
		return dberr.New(dberr.CodeLogic, "tuple field can not be dropped")
	}
	f := t.fields[idx]
	t.fields = append(t.fields[:idx], t.fields[idx+1:]...)
	delete(t.byName, f.Name)
	for _, p := range f.JSONPaths {
		delete(t.byPath, p)
	}
	for i := idx; i < len(t.fields); i++ {
		t.byName[t.fields[i].Name] = i
		for _, p := range t.fields[i].JSONPaths {
			t.byPath[p] = i
		}
	}
	return nil
}

// Fields returns a copy of all descriptors, tuple field included.
func (t *Type) Fields() []Field {
	out := make([]Field, len(t.fields))
	copy(out, t.fields)
	return out
}
