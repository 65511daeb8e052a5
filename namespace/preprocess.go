package namespace

import (
	"strings"

	"github.com/narwhaldb/narwhal/query"
	"github.com/narwhaldb/narwhal/variant"
)

// foldComposites rewrites groups of AND-connected equality entries
// that together cover a composite index into one condition on that
// index, so the composite answers the lookup in a single probe.
func (ns *Namespace) foldComposites(nodes []*query.Node) []*query.Node {
	// OR connectors make entry removal change meaning; skip folding.
	for _, n := range nodes {
		if n.Op == query.OpOr {
			return nodes
		}
	}
	// Position of every AND-connected scalar Eq entry by field name.
	eqAt := make(map[string]int)
	for i, n := range nodes {
		if !n.IsLeaf() || n.Op != query.OpAnd {
			continue
		}
		if n.Entry.Cond == query.CondEq && len(n.Entry.Values) == 1 {
			eqAt[n.Entry.Field] = i
		}
	}
	if len(eqAt) < 2 {
		return nodes
	}

	consumed := make(map[int]bool)
	var folded []*query.Node
	for _, idx := range ns.indexes {
		if !idx.Def().IsComposite() {
			continue
		}
		parts := strings.Split(idx.Name(), "+")
		positions := make([]int, 0, len(parts))
		tup := make(variant.VariantArray, 0, len(parts))
		ok := true
		for _, p := range parts {
			pos, found := eqAt[p]
			if !found || consumed[pos] {
				ok = false
				break
			}
			positions = append(positions, pos)
			tup = append(tup, nodes[pos].Entry.Values[0])
		}
		if !ok {
			continue
		}
		for _, pos := range positions {
			consumed[pos] = true
		}
		folded = append(folded, &query.Node{
			Op: query.OpAnd,
			Entry: &query.Entry{
				Field:  idx.Name(),
				Cond:   query.CondEq,
				Values: variant.VariantArray{variant.NewTuple(tup)},
			},
		})
	}
	if len(folded) == 0 {
		return nodes
	}
	out := make([]*query.Node, 0, len(nodes))
	for i, n := range nodes {
		if !consumed[i] {
			out = append(out, n)
		}
	}
	return append(out, folded...)
}
