package query

import (
	"github.com/narwhaldb/narwhal/cjson"
	"github.com/narwhaldb/narwhal/dberr"
	"github.com/narwhaldb/narwhal/variant"
)

// wireVersion prefixes every serialized query. Bump on layout change.
const wireVersion = 1

const (
	nodeLeaf    = 0
	nodeBracket = 1
)

// Marshal serializes the query AST with a version prefix. Joins and
// merges are serialized recursively.
func (q *Query) Marshal() []byte {
	w := cjson.NewWriter()
	w.PutUVarint(wireVersion)
	q.encode(w)
	return w.Bytes()
}

func (q *Query) encode(w *cjson.Writer) {
	w.PutVString(q.Namespace)
	w.PutUVarint(uint64(q.Type))
	w.PutVarint(int64(q.Limit))
	w.PutVarint(int64(q.Offset))
	w.PutBool(q.ReqTotal)
	w.PutBool(q.Explain)

	encodeNodes(w, q.Root)

	w.PutUVarint(uint64(len(q.Sort)))
	for _, s := range q.Sort {
		w.PutVString(s.Field)
		w.PutBool(s.Desc)
		encodeValues(w, s.Forced)
	}

	w.PutUVarint(uint64(len(q.Aggregations)))
	for _, a := range q.Aggregations {
		w.PutUVarint(uint64(a.Type))
		w.PutUVarint(uint64(len(a.Fields)))
		for _, f := range a.Fields {
			w.PutVString(f)
		}
		w.PutVarint(int64(a.Limit))
		w.PutVarint(int64(a.Offset))
	}

	w.PutUVarint(uint64(len(q.SelectFields)))
	for _, f := range q.SelectFields {
		w.PutVString(f)
	}

	w.PutUVarint(uint64(len(q.UpdateFields)))
	for _, u := range q.UpdateFields {
		w.PutVString(u.Field)
		w.PutBool(u.IsExpr)
		encodeValues(w, u.Values)
	}

	w.PutUVarint(uint64(len(q.Joins)))
	for _, j := range q.Joins {
		w.PutUVarint(uint64(j.Type))
		w.PutUVarint(uint64(len(j.On)))
		for _, on := range j.On {
			w.PutUVarint(uint64(on.Op))
			w.PutVString(on.LeftField)
			w.PutVString(on.RightField)
			w.PutUVarint(uint64(on.Cond))
		}
		j.Query.encode(w)
	}

	w.PutUVarint(uint64(len(q.Merges)))
	for _, m := range q.Merges {
		m.encode(w)
	}
}

func encodeNodes(w *cjson.Writer, nodes []*Node) {
	w.PutUVarint(uint64(len(nodes)))
	for _, n := range nodes {
		w.PutUVarint(uint64(n.Op))
		if n.IsLeaf() {
			w.PutUVarint(nodeLeaf)
			w.PutVString(n.Entry.Field)
			w.PutUVarint(uint64(n.Entry.Cond))
			encodeValues(w, n.Entry.Values)
		} else {
			w.PutUVarint(nodeBracket)
			encodeNodes(w, n.Children)
		}
	}
}

func encodeValues(w *cjson.Writer, vals variant.VariantArray) {
	w.PutUVarint(uint64(len(vals)))
	for _, v := range vals {
		encodeVariant(w, v)
	}
}

func encodeVariant(w *cjson.Writer, v variant.Variant) {
	w.PutUVarint(uint64(v.Type()))
	switch v.Type() {
	case variant.TypeNull:
	case variant.TypeBool:
		w.PutBool(v.Bool())
	case variant.TypeInt:
		w.PutVarint(int64(v.Int()))
	case variant.TypeInt64:
		w.PutVarint(v.Int64())
	case variant.TypeDouble:
		w.PutDouble(v.Double())
	case variant.TypeString:
		w.PutVString(v.Str())
	case variant.TypePoint:
		p := v.Point()
		w.PutDouble(p.X)
		w.PutDouble(p.Y)
	case variant.TypeTuple, variant.TypeComposite:
		tup := v.Tuple()
		w.PutUVarint(uint64(len(tup)))
		for _, p := range tup {
			encodeVariant(w, p)
		}
	}
}

// Unmarshal restores a query serialized by Marshal.
func Unmarshal(data []byte) (*Query, error) {
	r := cjson.NewReader(data)
	ver, err := r.GetUVarint()
	if err != nil {
		return nil, err
	}
	if ver != wireVersion {
		return nil, dberr.Newf(dberr.CodeParams, "unsupported query version %d", ver)
	}
	return decodeQuery(r)
}

func decodeQuery(r *cjson.Reader) (*Query, error) {
	q := &Query{}
	var err error
	if q.Namespace, err = r.GetVString(); err != nil {
		return nil, err
	}
	typ, err := r.GetUVarint()
	if err != nil {
		return nil, err
	}
	q.Type = Type(typ)
	limit, err := r.GetVarint()
	if err != nil {
		return nil, err
	}
	q.Limit = int(limit)
	offset, err := r.GetVarint()
	if err != nil {
		return nil, err
	}
	q.Offset = int(offset)
	if q.ReqTotal, err = getBool(r); err != nil {
		return nil, err
	}
	if q.Explain, err = getBool(r); err != nil {
		return nil, err
	}

	if q.Root, err = decodeNodes(r); err != nil {
		return nil, err
	}

	n, err := r.GetUVarint()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < n; i++ {
		var s SortEntry
		if s.Field, err = r.GetVString(); err != nil {
			return nil, err
		}
		if s.Desc, err = getBool(r); err != nil {
			return nil, err
		}
		if s.Forced, err = decodeValues(r); err != nil {
			return nil, err
		}
		q.Sort = append(q.Sort, s)
	}

	if n, err = r.GetUVarint(); err != nil {
		return nil, err
	}
	for i := uint64(0); i < n; i++ {
		var a AggregateEntry
		t, err := r.GetUVarint()
		if err != nil {
			return nil, err
		}
		a.Type = AggType(t)
		fn, err := r.GetUVarint()
		if err != nil {
			return nil, err
		}
		for j := uint64(0); j < fn; j++ {
			f, err := r.GetVString()
			if err != nil {
				return nil, err
			}
			a.Fields = append(a.Fields, f)
		}
		l, err := r.GetVarint()
		if err != nil {
			return nil, err
		}
		a.Limit = int(l)
		o, err := r.GetVarint()
		if err != nil {
			return nil, err
		}
		a.Offset = int(o)
		q.Aggregations = append(q.Aggregations, a)
	}

	if n, err = r.GetUVarint(); err != nil {
		return nil, err
	}
	for i := uint64(0); i < n; i++ {
		f, err := r.GetVString()
		if err != nil {
			return nil, err
		}
		q.SelectFields = append(q.SelectFields, f)
	}

	if n, err = r.GetUVarint(); err != nil {
		return nil, err
	}
	for i := uint64(0); i < n; i++ {
		var u UpdateField
		if u.Field, err = r.GetVString(); err != nil {
			return nil, err
		}
		if u.IsExpr, err = getBool(r); err != nil {
			return nil, err
		}
		if u.Values, err = decodeValues(r); err != nil {
			return nil, err
		}
		q.UpdateFields = append(q.UpdateFields, u)
	}

	if n, err = r.GetUVarint(); err != nil {
		return nil, err
	}
	for i := uint64(0); i < n; i++ {
		var j JoinQuery
		t, err := r.GetUVarint()
		if err != nil {
			return nil, err
		}
		j.Type = JoinType(t)
		on, err := r.GetUVarint()
		if err != nil {
			return nil, err
		}
		for k := uint64(0); k < on; k++ {
			var e JoinEntry
			op, err := r.GetUVarint()
			if err != nil {
				return nil, err
			}
			e.Op = OpType(op)
			if e.LeftField, err = r.GetVString(); err != nil {
				return nil, err
			}
			if e.RightField, err = r.GetVString(); err != nil {
				return nil, err
			}
			c, err := r.GetUVarint()
			if err != nil {
				return nil, err
			}
			e.Cond = CondType(c)
			j.On = append(j.On, e)
		}
		if j.Query, err = decodeQuery(r); err != nil {
			return nil, err
		}
		q.Joins = append(q.Joins, j)
	}

	if n, err = r.GetUVarint(); err != nil {
		return nil, err
	}
	for i := uint64(0); i < n; i++ {
		m, err := decodeQuery(r)
		if err != nil {
			return nil, err
		}
		q.Merges = append(q.Merges, m)
	}
	return q, nil
}

func decodeNodes(r *cjson.Reader) ([]*Node, error) {
	n, err := r.GetUVarint()
	if err != nil {
		return nil, err
	}
	nodes := make([]*Node, 0, n)
	for i := uint64(0); i < n; i++ {
		op, err := r.GetUVarint()
		if err != nil {
			return nil, err
		}
		kind, err := r.GetUVarint()
		if err != nil {
			return nil, err
		}
		node := &Node{Op: OpType(op)}
		if kind == nodeLeaf {
			e := &Entry{}
			if e.Field, err = r.GetVString(); err != nil {
				return nil, err
			}
			c, err := r.GetUVarint()
			if err != nil {
				return nil, err
			}
			e.Cond = CondType(c)
			if e.Values, err = decodeValues(r); err != nil {
				return nil, err
			}
			node.Entry = e
		} else {
			if node.Children, err = decodeNodes(r); err != nil {
				return nil, err
			}
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func decodeValues(r *cjson.Reader) (variant.VariantArray, error) {
	n, err := r.GetUVarint()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	vals := make(variant.VariantArray, 0, n)
	for i := uint64(0); i < n; i++ {
		v, err := decodeVariant(r)
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
	}
	return vals, nil
}

func decodeVariant(r *cjson.Reader) (variant.Variant, error) {
	t, err := r.GetUVarint()
	if err != nil {
		return variant.Null(), err
	}
	switch variant.Type(t) {
	case variant.TypeNull:
		return variant.Null(), nil
	case variant.TypeBool:
		b, err := getBool(r)
		return variant.NewBool(b), err
	case variant.TypeInt:
		v, err := r.GetVarint()
		return variant.NewInt(int(v)), err
	case variant.TypeInt64:
		v, err := r.GetVarint()
		return variant.NewInt64(v), err
	case variant.TypeDouble:
		v, err := r.GetDouble()
		return variant.NewDouble(v), err
	case variant.TypeString:
		v, err := r.GetVString()
		return variant.NewString(v), err
	case variant.TypePoint:
		x, err := r.GetDouble()
		if err != nil {
			return variant.Null(), err
		}
		y, err := r.GetDouble()
		return variant.NewPoint(variant.NewPointXY(x, y)), err
	case variant.TypeTuple, variant.TypeComposite:
		n, err := r.GetUVarint()
		if err != nil {
			return variant.Null(), err
		}
		tup := make(variant.VariantArray, 0, n)
		for i := uint64(0); i < n; i++ {
			p, err := decodeVariant(r)
			if err != nil {
				return variant.Null(), err
			}
			tup = append(tup, p)
		}
		return variant.NewTuple(tup), nil
	}
	return variant.Null(), dberr.Newf(dberr.CodeParams, "unknown variant tag %d", t)
}

func getBool(r *cjson.Reader) (bool, error) {
	v, err := r.GetVarint()
	return v != 0, err
}
