package qresults

import (
	"encoding/json"
	"math"

	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/narwhaldb/narwhal/cjson"
	"github.com/narwhaldb/narwhal/dberr"
	"github.com/narwhaldb/narwhal/payload"
	"github.com/narwhaldb/narwhal/variant"
)

// Iterator is a forward cursor over a Results.
type Iterator struct {
	res *Results
	pos int
}

// Iter starts a cursor before the first row.
func (r *Results) Iter() *Iterator { return &Iterator{res: r, pos: -1} }

// Next advances; false past the end.
func (it *Iterator) Next() bool {
	it.pos++
	return it.pos < len(it.res.Items)
}

// Ref returns the current item reference.
func (it *Iterator) Ref() ItemRef { return it.res.Items[it.pos] }

// Rank returns the current row's full-text rank.
func (it *Iterator) Rank() float64 { return it.res.Items[it.pos].Rank }

func (it *Iterator) nsCtx() *NsContext {
	return &it.res.NsContexts[it.res.Items[it.pos].NsID]
}

// CJSON returns the row's tuple as stored.
func (it *Iterator) CJSON() []byte {
	return it.res.Items[it.pos].Value.Tuple()
}

// JSON renders the current row, applying the fields filter if set.
func (it *Iterator) JSON() ([]byte, error) {
	ctx := it.nsCtx()
	enc := cjson.NewEncoder(ctx.Tags)
	data, err := enc.ToJSON(it.CJSON())
	if err != nil {
		return nil, err
	}
	if len(ctx.FieldsFilter) == 0 {
		return data, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, dberr.Wrap(dberr.CodeParseJSON, err, "fields filter")
	}
	out := make(map[string]json.RawMessage, len(ctx.FieldsFilter))
	for _, f := range ctx.FieldsFilter {
		if v, ok := m[f]; ok {
			out[f] = v
		}
	}
	return json.Marshal(out)
}

// MsgPack renders the current row as a MsgPack map.
func (it *Iterator) MsgPack() ([]byte, error) {
	ctx := it.nsCtx()
	enc := cjson.NewEncoder(ctx.Tags)
	m, err := enc.ToInterface(it.CJSON())
	if err != nil {
		return nil, err
	}
	data, err := msgpack.Marshal(m)
	if err != nil {
		return nil, dberr.Wrap(dberr.CodeParseMsgPack, err, "msgpack encode")
	}
	return data, nil
}

// Protobuf renders the current row's indexed fields. Field numbers are
// the payload field indexes; values use the scalar wire types, arrays
// repeat the field.
func (it *Iterator) Protobuf() ([]byte, error) {
	ctx := it.nsCtx()
	pl := it.res.Items[it.pos].Value
	var out []byte
	for f := 1; f < ctx.Type.NumFields(); f++ {
		num := protowire.Number(f)
		for _, v := range pl.Get(f) {
			var err error
			out, err = appendProtoValue(out, num, v)
			if err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

func appendProtoValue(out []byte, num protowire.Number, v variant.Variant) ([]byte, error) {
	switch v.Type() {
	case variant.TypeNull:
		return out, nil
	case variant.TypeBool:
		out = protowire.AppendTag(out, num, protowire.VarintType)
		if v.Bool() {
			return protowire.AppendVarint(out, 1), nil
		}
		return protowire.AppendVarint(out, 0), nil
	case variant.TypeInt:
		out = protowire.AppendTag(out, num, protowire.VarintType)
		return protowire.AppendVarint(out, uint64(int64(v.Int()))), nil
	case variant.TypeInt64:
		out = protowire.AppendTag(out, num, protowire.VarintType)
		return protowire.AppendVarint(out, uint64(v.Int64())), nil
	case variant.TypeDouble:
		out = protowire.AppendTag(out, num, protowire.Fixed64Type)
		return protowire.AppendFixed64(out, uint64(doubleBits(v.Double()))), nil
	case variant.TypeString:
		out = protowire.AppendTag(out, num, protowire.BytesType)
		return protowire.AppendString(out, v.Str()), nil
	case variant.TypePoint:
		// Nested message with x=1, y=2.
		var inner []byte
		inner = protowire.AppendTag(inner, 1, protowire.Fixed64Type)
		inner = protowire.AppendFixed64(inner, uint64(doubleBits(v.Point().X)))
		inner = protowire.AppendTag(inner, 2, protowire.Fixed64Type)
		inner = protowire.AppendFixed64(inner, uint64(doubleBits(v.Point().Y)))
		out = protowire.AppendTag(out, num, protowire.BytesType)
		return protowire.AppendBytes(out, inner), nil
	}
	return nil, dberr.Newf(dberr.CodeParseProtobuf, "can't encode %s to protobuf", v.Type())
}

// GetJSON renders a whole payload outside of a cursor; the DDL and
// meta paths use it for single rows.
func GetJSON(ctx *NsContext, pl payload.Value) ([]byte, error) {
	return cjson.NewEncoder(ctx.Tags).ToJSON(pl.Tuple())
}

func doubleBits(v float64) uint64 { return math.Float64bits(v) }
