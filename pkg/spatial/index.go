// Package spatial provides nearest-neighbour lookup over 2D spot centers.
package spatial

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"

	"gaussianfit/internal/models"
)

// Point2D is a location carrying the position of its source in the input
// slice
type Point2D struct {
	X, Y  float64
	Index int
}

// Compare implements the kdtree.Comparable interface
func (p Point2D) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(Point2D)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (p Point2D) Dims() int { return 2 }

// Distance returns the squared Euclidean distance between two points
func (p Point2D) Distance(c kdtree.Comparable) float64 {
	q := c.(Point2D)
	dx := p.X - q.X
	dy := p.Y - q.Y
	return dx*dx + dy*dy
}

// Points2D is a collection of Point2D that satisfies kdtree.Interface
type Points2D []Point2D

func (p Points2D) Index(i int) kdtree.Comparable         { return p[i] }
func (p Points2D) Len() int                              { return len(p) }
func (p Points2D) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p Points2D) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(pointPlane{Points2D: p, Dim: d}, kdtree.MedianOfRandoms(pointPlane{Points2D: p, Dim: d}, 100))
}

// pointPlane implements sort.Interface and kdtree.SortSlicer for Points2D
type pointPlane struct {
	Points2D
	kdtree.Dim
}

func (p pointPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.Points2D[i].X < p.Points2D[j].X
	case 1:
		return p.Points2D[i].Y < p.Points2D[j].Y
	default:
		panic("illegal dimension")
	}
}

func (p pointPlane) Slice(start, end int) kdtree.SortSlicer {
	return pointPlane{Points2D: p.Points2D[start:end], Dim: p.Dim}
}

func (p pointPlane) Swap(i, j int) {
	p.Points2D[i], p.Points2D[j] = p.Points2D[j], p.Points2D[i]
}

// Index answers nearest-neighbour queries over a fixed set of points. The
// zero value and indexes over no points find nothing.
type Index struct {
	tree *kdtree.Tree
	n    int
}

// NewIndex builds an index over points. Results refer to positions in
// points.
func NewIndex(points []models.Point) *Index {
	if len(points) == 0 {
		return &Index{}
	}
	pts := make(Points2D, len(points))
	for i, p := range points {
		pts[i] = Point2D{X: p.X, Y: p.Y, Index: i}
	}
	return &Index{tree: kdtree.New(pts, false), n: len(points)}
}

// Len returns the number of indexed points
func (idx *Index) Len() int { return idx.n }

// Nearest returns the position and distance of the point closest to q
func (idx *Index) Nearest(q models.Point) (int, float64, bool) {
	if idx.tree == nil {
		return -1, 0, false
	}
	c, d2 := idx.tree.Nearest(Point2D{X: q.X, Y: q.Y})
	if c == nil {
		return -1, 0, false
	}
	return c.(Point2D).Index, math.Sqrt(d2), true
}

// NearestWithin is Nearest restricted to points at most maxDist from q
func (idx *Index) NearestWithin(q models.Point, maxDist float64) (int, float64, bool) {
	i, d, ok := idx.Nearest(q)
	if !ok || d > maxDist {
		return -1, 0, false
	}
	return i, d, true
}

// WithinRadius returns the positions of all points at most r from q,
// closest first
func (idx *Index) WithinRadius(q models.Point, r float64) []int {
	if idx.tree == nil {
		return nil
	}
	keeper := kdtree.NewDistKeeper(r * r)
	idx.tree.NearestSet(keeper, Point2D{X: q.X, Y: q.Y})

	found := make([]kdtree.ComparableDist, 0, keeper.Len())
	for _, item := range keeper.Heap {
		// skip the sentinel value
		if item.Comparable == nil {
			continue
		}
		found = append(found, item)
	}
	sort.Slice(found, func(a, b int) bool {
		if found[a].Dist != found[b].Dist {
			return found[a].Dist < found[b].Dist
		}
		return found[a].Comparable.(Point2D).Index < found[b].Comparable.(Point2D).Index
	})

	indices := make([]int, len(found))
	for i, item := range found {
		indices[i] = item.Comparable.(Point2D).Index
	}
	return indices
}
