// Package geom implements the geometric index over point fields: an
// R-tree with quadratic split answering DWithin and k-nearest queries.
package geom

import (
	"container/heap"
	"math"

	"github.com/golang/geo/r2"

	"github.com/narwhaldb/narwhal/idset"
	"github.com/narwhaldb/narwhal/variant"
)

const maxEntries = 16
const minEntries = maxEntries / 4

type rect struct {
	min, max r2.Point
}

func rectOf(p variant.Point) rect {
	pt := p.R2()
	return rect{min: pt, max: pt}
}

func (r rect) extend(o rect) rect {
	return rect{
		min: r2.Point{X: math.Min(r.min.X, o.min.X), Y: math.Min(r.min.Y, o.min.Y)},
		max: r2.Point{X: math.Max(r.max.X, o.max.X), Y: math.Max(r.max.Y, o.max.Y)},
	}
}

func (r rect) area() float64 {
	return (r.max.X - r.min.X) * (r.max.Y - r.min.Y)
}

func (r rect) intersectsCircle(c r2.Point, dist float64) bool {
	dx := math.Max(r.min.X-c.X, math.Max(0, c.X-r.max.X))
	dy := math.Max(r.min.Y-c.Y, math.Max(0, c.Y-r.max.Y))
	return dx*dx+dy*dy <= dist*dist
}

func (r rect) distanceTo(c r2.Point) float64 {
	dx := math.Max(r.min.X-c.X, math.Max(0, c.X-r.max.X))
	dy := math.Max(r.min.Y-c.Y, math.Max(0, c.Y-r.max.Y))
	return math.Sqrt(dx*dx + dy*dy)
}

type entry struct {
	box   rect
	child *node       // nil for leaf entries
	id    idset.RowID // valid for leaf entries
	pt    variant.Point
}

type node struct {
	leaf    bool
	entries []entry
}

// Tree is an in-memory R-tree over row points.
type Tree struct {
	root *node
	size int
}

// NewTree creates an empty tree.
func NewTree() *Tree {
	return &Tree{root: &node{leaf: true}}
}

// Size returns the number of stored points.
func (t *Tree) Size() int { return t.size }

// Insert stores a point for a row.
func (t *Tree) Insert(p variant.Point, id idset.RowID) {
	e := entry{box: rectOf(p), id: id, pt: p}
	split := t.insert(t.root, e)
	if split != nil {
		old := t.root
		t.root = &node{leaf: false, entries: []entry{
			{box: nodeBox(old), child: old},
			{box: nodeBox(split), child: split},
		}}
	}
	t.size++
}

func nodeBox(n *node) rect {
	box := n.entries[0].box
	for _, e := range n.entries[1:] {
		box = box.extend(e.box)
	}
	return box
}

func (t *Tree) insert(n *node, e entry) *node {
	if n.leaf {
		n.entries = append(n.entries, e)
		if len(n.entries) > maxEntries {
			return splitNode(n)
		}
		return nil
	}
	best := 0
	bestGrow := math.Inf(1)
	for i, c := range n.entries {
		grow := c.box.extend(e.box).area() - c.box.area()
		if grow < bestGrow || (grow == bestGrow && c.box.area() < n.entries[best].box.area()) {
			best, bestGrow = i, grow
		}
	}
	split := t.insert(n.entries[best].child, e)
	n.entries[best].box = nodeBox(n.entries[best].child)
	if split != nil {
		n.entries = append(n.entries, entry{box: nodeBox(split), child: split})
		if len(n.entries) > maxEntries {
			return splitNode(n)
		}
	}
	return nil
}

// splitNode performs the quadratic split, moving roughly half of the
// entries into the returned sibling.
func splitNode(n *node) *node {
	seedA, seedB := pickSeeds(n.entries)
	entries := n.entries
	a := []entry{entries[seedA]}
	b := []entry{entries[seedB]}
	boxA, boxB := entries[seedA].box, entries[seedB].box
	for i, e := range entries {
		if i == seedA || i == seedB {
			continue
		}
		switch {
		case len(a) >= maxEntries-minEntries+1:
			b = append(b, e)
			boxB = boxB.extend(e.box)
		case len(b) >= maxEntries-minEntries+1:
			a = append(a, e)
			boxA = boxA.extend(e.box)
		default:
			growA := boxA.extend(e.box).area() - boxA.area()
			growB := boxB.extend(e.box).area() - boxB.area()
			if growA <= growB {
				a = append(a, e)
				boxA = boxA.extend(e.box)
			} else {
				b = append(b, e)
				boxB = boxB.extend(e.box)
			}
		}
	}
	n.entries = a
	return &node{leaf: n.leaf, entries: b}
}

func pickSeeds(entries []entry) (int, int) {
	worst := -math.MaxFloat64
	sa, sb := 0, 1
	for i := range entries {
		for j := i + 1; j < len(entries); j++ {
			d := entries[i].box.extend(entries[j].box).area() - entries[i].box.area() - entries[j].box.area()
			if d > worst {
				worst, sa, sb = d, i, j
			}
		}
	}
	return sa, sb
}

// Delete removes the point of a row. Underflowing nodes reinsert their
// leaves rather than rebalancing.
func (t *Tree) Delete(p variant.Point, id idset.RowID) bool {
	var orphans []entry
	removed := t.remove(t.root, p, id, &orphans)
	if removed {
		t.size--
	}
	for _, e := range orphans {
		split := t.insert(t.root, e)
		if split != nil {
			old := t.root
			t.root = &node{leaf: false, entries: []entry{
				{box: nodeBox(old), child: old},
				{box: nodeBox(split), child: split},
			}}
		}
	}
	return removed
}

func (t *Tree) remove(n *node, p variant.Point, id idset.RowID, orphans *[]entry) bool {
	if n.leaf {
		for i, e := range n.entries {
			if e.id == id && e.pt == p {
				n.entries = append(n.entries[:i], n.entries[i+1:]...)
				return true
			}
		}
		return false
	}
	for i := 0; i < len(n.entries); i++ {
		c := n.entries[i]
		if !c.box.intersectsCircle(p.R2(), 0) {
			continue
		}
		if t.remove(c.child, p, id, orphans) {
			if len(c.child.entries) < minEntries && c.child.leaf {
				*orphans = append(*orphans, c.child.entries...)
				n.entries = append(n.entries[:i], n.entries[i+1:]...)
			} else if len(c.child.entries) > 0 {
				n.entries[i].box = nodeBox(c.child)
			} else {
				n.entries = append(n.entries[:i], n.entries[i+1:]...)
			}
			return true
		}
	}
	return false
}

// DWithin collects rows within dist of center.
func (t *Tree) DWithin(center variant.Point, dist float64, out *idset.IdSet) {
	t.dwithin(t.root, center.R2(), dist, out)
}

func (t *Tree) dwithin(n *node, c r2.Point, dist float64, out *idset.IdSet) {
	for _, e := range n.entries {
		if !e.box.intersectsCircle(c, dist) {
			continue
		}
		if n.leaf {
			if e.pt.DWithin(variant.NewPointXY(c.X, c.Y), dist) {
				out.AddUnordered(e.id)
			}
		} else {
			t.dwithin(e.child, c, dist, out)
		}
	}
}

// nnItem is a best-first search frontier element.
type nnItem struct {
	dist  float64
	e     entry
	inner bool
}

type nnHeap []nnItem

func (h nnHeap) Len() int            { return len(h) }
func (h nnHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h nnHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *nnHeap) Push(x interface{}) { *h = append(*h, x.(nnItem)) }
func (h *nnHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Neighbor is one KNearest result: a row and its distance from the
// center.
type Neighbor struct {
	ID   idset.RowID
	Dist float64
}

// KNearest returns up to k rows closest to center, nearest first, by a
// best-first traversal of the tree.
func (t *Tree) KNearest(center variant.Point, k int) []Neighbor {
	c := center.R2()
	h := &nnHeap{}
	heap.Init(h)
	for _, e := range t.root.entries {
		heap.Push(h, nnItem{dist: e.box.distanceTo(c), e: e, inner: !t.root.leaf})
	}
	var out []Neighbor
	for h.Len() > 0 && len(out) < k {
		it := heap.Pop(h).(nnItem)
		if !it.inner {
			out = append(out, Neighbor{ID: it.e.id, Dist: it.dist})
			continue
		}
		for _, e := range it.e.child.entries {
			heap.Push(h, nnItem{dist: e.box.distanceTo(c), e: e, inner: !it.e.child.leaf})
		}
	}
	return out
}

// Clone deep-copies the tree.
func (t *Tree) Clone() *Tree {
	n := NewTree()
	t.walk(t.root, func(e entry) {
		n.Insert(e.pt, e.id)
	})
	return n
}

func (t *Tree) walk(n *node, fn func(entry)) {
	for _, e := range n.entries {
		if n.leaf {
			fn(e)
		} else {
			t.walk(e.child, fn)
		}
	}
}
