// Package imagesource supplies pixel planes to the fitter. Planes are held
// in memory as float64 and can be read from and written to FITS files.
package imagesource

import (
	"fmt"
)

// Plane is one image in row-major order
type Plane struct {
	Width, Height int
	Pix           []float64
}

// NewPlane returns a zeroed plane
func NewPlane(width, height int) *Plane {
	return &Plane{Width: width, Height: height, Pix: make([]float64, width*height)}
}

// At returns the value at column x, row y
func (p *Plane) At(x, y int) float64 {
	return p.Pix[y*p.Width+x]
}

// Set stores v at column x, row y
func (p *Plane) Set(x, y int, v float64) {
	p.Pix[y*p.Width+x] = v
}

// Contains reports whether (x, y) lies in the plane
func (p *Plane) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < p.Width && y < p.Height
}

// Box returns the square of side 2*halfSize whose pixel (halfSize,
// halfSize) is (x, y), in row-major order
func (p *Plane) Box(x, y, halfSize int) ([]float64, error) {
	x0, y0 := x-halfSize, y-halfSize
	x1, y1 := x+halfSize, y+halfSize
	if x0 < 0 || y0 < 0 || x1 > p.Width || y1 > p.Height {
		return nil, fmt.Errorf("box of half size %d at (%d, %d) exceeds %dx%d image", halfSize, x, y, p.Width, p.Height)
	}
	out := make([]float64, 0, 4*halfSize*halfSize)
	for row := y0; row < y1; row++ {
		out = append(out, p.Pix[row*p.Width+x0:row*p.Width+x1]...)
	}
	return out, nil
}
