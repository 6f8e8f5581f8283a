package models

import "math"

// Point is a 2D position, usually in nanometers
type Point struct {
	X, Y float64
}

// Distance returns the Euclidean distance between two points
func (p Point) Distance(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Sub returns p - q
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// ImageIndex locates a single image in a multi-dimensional acquisition.
// It is comparable and used directly as a map key.
type ImageIndex struct {
	Frame    int
	Slice    int
	Channel  int
	Position int
}
