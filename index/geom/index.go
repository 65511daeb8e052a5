package geom

import (
	"context"

	"github.com/narwhaldb/narwhal/dberr"
	"github.com/narwhaldb/narwhal/idset"
	"github.com/narwhaldb/narwhal/index"
	"github.com/narwhaldb/narwhal/query"
	"github.com/narwhaldb/narwhal/variant"
)

func init() {
	index.RegisterKind(index.KindRTree, func(def *index.Def, fields []int, rows index.RowAccessor) (index.Index, error) {
		if def.Opts.Array {
			return nil, dberr.Newf(dberr.CodeParams, "rtree index '%s' can't be array", def.Name)
		}
		return &geomIndex{def: def, fields: fields, tree: NewTree()}, nil
	})
}

type geomIndex struct {
	def    *index.Def
	fields []int
	tree   *Tree
}

func (g *geomIndex) Def() *index.Def { return g.def }
func (g *geomIndex) Name() string    { return g.def.Name }
func (g *geomIndex) Fields() []int   { return g.fields }
func (g *geomIndex) IsOrdered() bool { return false }

func (g *geomIndex) Upsert(key variant.Variant, id idset.RowID) (variant.Variant, error) {
	if key.IsNull() {
		return key, nil
	}
	if key.Type() != variant.TypePoint {
		return variant.Null(), dberr.Newf(dberr.CodeParams, "rtree index '%s' requires point values", g.def.Name)
	}
	g.tree.Insert(key.Point(), id)
	return key, nil
}

func (g *geomIndex) Delete(key variant.Variant, id idset.RowID) error {
	if key.Type() != variant.TypePoint {
		return nil
	}
	g.tree.Delete(key.Point(), id)
	return nil
}

func (g *geomIndex) SelectKey(ctx context.Context, keys variant.VariantArray, cond query.CondType, opts index.SelectOpts) (index.SelectKeyResults, error) {
	if err := dberr.FromContext(ctx); err != nil {
		return nil, err
	}
	if cond != query.CondDWithin {
		return nil, dberr.Newf(dberr.CodeParams, "rtree index '%s' supports only DWITHIN", g.def.Name)
	}
	if len(keys) < 2 || keys[0].Type() != variant.TypePoint {
		return nil, dberr.Newf(dberr.CodeParams, "DWITHIN on '%s' needs a point and a distance", g.def.Name)
	}
	dist, err := keys[1].As(variant.TypeDouble)
	if err != nil {
		return nil, err
	}
	out := idset.New()
	g.tree.DWithin(keys[0].Point(), dist.Double(), out)
	out.Commit()
	return index.SelectKeyResults{{Ids: out}}, nil
}

func (g *geomIndex) Commit() {}

func (g *geomIndex) MakeSortOrders(ctx context.Context) ([]idset.RowID, error) { return nil, nil }

func (g *geomIndex) Clone() index.Index {
	return &geomIndex{def: g.def, fields: append([]int(nil), g.fields...), tree: g.tree.Clone()}
}

func (g *geomIndex) MemStat() index.MemStat {
	return index.MemStat{Name: g.def.Name, UniqKeys: g.tree.Size(), DataSize: g.tree.Size() * 40}
}

func (g *geomIndex) RemoveExpiredStrings() {}
