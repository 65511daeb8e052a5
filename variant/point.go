package variant

import (
	"fmt"

	"github.com/golang/geo/r2"
)

// Point is a 2D coordinate used by geometric indexes.
type Point struct {
	X, Y float64
}

// NewPointXY builds a point from coordinates.
func NewPointXY(x, y float64) Point { return Point{X: x, Y: y} }

// R2 converts to the geo library representation.
func (p Point) R2() r2.Point { return r2.Point{X: p.X, Y: p.Y} }

// DWithin reports whether p lies within dist of q.
func (p Point) DWithin(q Point, dist float64) bool {
	return p.R2().Sub(q.R2()).Norm() <= dist
}

// DistanceTo returns the euclidean distance to q.
func (p Point) DistanceTo(q Point) float64 {
	return p.R2().Sub(q.R2()).Norm()
}

func (p Point) compare(q Point) int {
	switch {
	case p.X < q.X:
		return -1
	case p.X > q.X:
		return 1
	case p.Y < q.Y:
		return -1
	case p.Y > q.Y:
		return 1
	}
	return 0
}

func (p Point) String() string {
	return fmt.Sprintf("point(%v %v)", p.X, p.Y)
}
