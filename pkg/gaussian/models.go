// Package gaussian evaluates two-dimensional Gaussian intensity models and
// their analytic Jacobians, plus the one-dimensional distributions used when
// fitting distance statistics.
//
// Every model follows the same calling convention: Value(p, x, y) returns
// the modelled intensity at pixel (x, y) and Jacobian(p, x, y) returns the
// partial derivatives in the order of the parameter vector p.
package gaussian

import (
	"fmt"
	"math"

	"gaussianfit/internal/models"
)

// Parameter positions. The width parameters share index 4 between the
// symmetric and asymmetric variants.
const (
	IdxA  = 0
	IdxB  = 1
	IdxXC = 2
	IdxYC = 3
	IdxS  = 4
	IdxS1 = 4
	IdxS2 = 5
	IdxS3 = 6
)

func sqr(v float64) float64  { return v * v }
func cube(v float64) float64 { return v * v * v }

// FixedWidth evaluates a symmetric Gaussian with an externally supplied width s.
// Parameters are [A, B, xc, yc].
func FixedWidth(p []float64, x, y, s float64) float64 {
	exponent := (sqr(x-p[IdxXC]) + sqr(y-p[IdxYC])) / (2 * sqr(s))
	return p[IdxA]*math.Exp(-exponent) + p[IdxB]
}

// FixedWidthJacobian returns the partial derivatives of FixedWidth
func FixedWidthJacobian(p []float64, x, y, s float64) []float64 {
	q := FixedWidth(p, x, y, s) - p[IdxB]
	dx := x - p[IdxXC]
	dy := y - p[IdxYC]
	return []float64{
		q / p[IdxA],
		1,
		dx * q / sqr(s),
		dy * q / sqr(s),
	}
}

// Symmetric evaluates a symmetric Gaussian. Parameters are [A, B, xc, yc, sigma].
func Symmetric(p []float64, x, y float64) float64 {
	exponent := (sqr(x-p[IdxXC]) + sqr(y-p[IdxYC])) / (2 * sqr(p[IdxS]))
	return p[IdxA]*math.Exp(-exponent) + p[IdxB]
}

// SymmetricJacobian returns the partial derivatives of Symmetric
func SymmetricJacobian(p []float64, x, y float64) []float64 {
	q := Symmetric(p, x, y) - p[IdxB]
	dx := x - p[IdxXC]
	dy := y - p[IdxYC]
	return []float64{
		q / p[IdxA],
		1,
		dx * q / sqr(p[IdxS]),
		dy * q / sqr(p[IdxS]),
		(sqr(dx) + sqr(dy)) * q / cube(p[IdxS]),
	}
}

// Asymmetric evaluates a Gaussian with independent axis widths.
// Parameters are [A, B, xc, yc, sigmaX, sigmaY].
func Asymmetric(p []float64, x, y float64) float64 {
	exponent := sqr(x-p[IdxXC])/(2*sqr(p[IdxS1])) + sqr(y-p[IdxYC])/(2*sqr(p[IdxS2]))
	return p[IdxA]*math.Exp(-exponent) + p[IdxB]
}

// AsymmetricJacobian returns the partial derivatives of Asymmetric
func AsymmetricJacobian(p []float64, x, y float64) []float64 {
	q := Asymmetric(p, x, y) - p[IdxB]
	dx := x - p[IdxXC]
	dy := y - p[IdxYC]
	return []float64{
		q / p[IdxA],
		1,
		dx * q / sqr(p[IdxS1]),
		dy * q / sqr(p[IdxS2]),
		sqr(dx) * q / cube(p[IdxS1]),
		sqr(dy) * q / cube(p[IdxS2]),
	}
}

// Elliptical evaluates a rotated Gaussian written as a quadratic form.
// Parameters are [A, B, xc, yc, a, b, c].
func Elliptical(p []float64, x, y float64) float64 {
	dx := x - p[IdxXC]
	dy := y - p[IdxYC]
	exponent := (p[IdxS1]*sqr(dx) + p[IdxS3]*sqr(dy) + 2.0*p[IdxS2]*dx*dy) / 2
	return p[IdxA]*math.Exp(-exponent) + p[IdxB]
}

// EllipticalJacobian returns the partial derivatives of Elliptical
func EllipticalJacobian(p []float64, x, y float64) []float64 {
	q := Elliptical(p, x, y) - p[IdxB]
	dx := x - p[IdxXC]
	dy := y - p[IdxYC]
	return []float64{
		q / p[IdxA],
		1,
		(p[IdxS1]*dx + p[IdxS2]*dy) * q,
		(p[IdxS2]*dx + p[IdxS3]*dy) * q,
		-0.5 * sqr(dx) * q,
		-dx * dy * q,
		-0.5 * sqr(dy) * q,
	}
}

// Model bundles a value function with its Jacobian so solvers can treat
// all variants alike.
type Model struct {
	// Name identifies the variant in logs
	Name string

	// NumParams is the length of the parameter vector
	NumParams int

	// Value evaluates the model at pixel (x, y)
	Value func(p []float64, x, y float64) float64

	// Jacobian returns partial derivatives in parameter order
	Jacobian func(p []float64, x, y float64) []float64
}

// ModelFor selects the model for a shape. When fixedWidth is set the
// symmetric model uses s as its constant width.
func ModelFor(shape models.Shape, fixedWidth bool, s float64) (Model, error) {
	switch shape {
	case models.Symmetric:
		if fixedWidth {
			if s <= 0 {
				return Model{}, fmt.Errorf("fixed width must be positive, got %g", s)
			}
			return Model{
				Name:      "symmetric-fixed",
				NumParams: 4,
				Value: func(p []float64, x, y float64) float64 {
					return FixedWidth(p, x, y, s)
				},
				Jacobian: func(p []float64, x, y float64) []float64 {
					return FixedWidthJacobian(p, x, y, s)
				},
			}, nil
		}
		return Model{Name: "symmetric", NumParams: 5, Value: Symmetric, Jacobian: SymmetricJacobian}, nil
	case models.Asymmetric:
		return Model{Name: "asymmetric", NumParams: 6, Value: Asymmetric, Jacobian: AsymmetricJacobian}, nil
	case models.Ellipse:
		return Model{Name: "ellipse", NumParams: 7, Value: Elliptical, Jacobian: EllipticalJacobian}, nil
	default:
		return Model{}, fmt.Errorf("unknown shape %d", int(shape))
	}
}
