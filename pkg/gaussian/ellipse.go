package gaussian

import (
	"errors"
	"math"
)

// ErrNotPositiveDefinite is returned when a, b, c do not describe an ellipse
var ErrNotPositiveDefinite = errors.New("gaussian: quadratic form is not positive definite")

// rotationEpsilon is the relative size of b below which the ellipse is
// treated as axis aligned.
const rotationEpsilon = 1e-12

// EllipseCoefficients converts a rotation and two axis widths into the
// quadratic-form coefficients used by Elliptical.
func EllipseCoefficients(theta, sigmaX, sigmaY float64) (a, b, c float64) {
	cos := math.Cos(theta)
	sin := math.Sin(theta)
	ix := 1 / sqr(sigmaX)
	iy := 1 / sqr(sigmaY)
	a = sqr(cos)*ix + sqr(sin)*iy
	c = sqr(sin)*ix + sqr(cos)*iy
	b = sin * cos * (ix - iy)
	return a, b, c
}

// EllipseParmConversion converts quadratic-form coefficients back to a
// rotation angle and the widths along the rotated axes.
//
// The angle is returned in [0, pi/2). An ellipse rotated by a negative angle
// is reported as the same ellipse rotated by angle+pi/2 with the widths
// swapped. When b is negligible compared to a and c the ellipse is axis
// aligned and theta is 0.
//
// Parameters:
//   - a, b, c: coefficients of a*dx^2 + 2*b*dx*dy + c*dy^2
//
// Returns:
//   - theta, sigmaX, sigmaY, or ErrNotPositiveDefinite
func EllipseParmConversion(a, b, c float64) (theta, sigmaX, sigmaY float64, err error) {
	if a <= 0 || c <= 0 || a*c-b*b <= 0 {
		return 0, 0, 0, ErrNotPositiveDefinite
	}

	if math.Abs(b) <= rotationEpsilon*math.Max(math.Abs(a), math.Abs(c)) {
		return 0, 1 / math.Sqrt(a), 1 / math.Sqrt(c), nil
	}

	u := (a - c) / b
	// positive root of m^2 + u*m - 1 = 0, written to avoid cancellation
	var m float64
	if u >= 0 {
		m = 2 / (u + math.Sqrt(u*u+4))
	} else {
		m = (-u + math.Sqrt(u*u+4)) / 2
	}
	theta = math.Atan(m)

	cos := math.Cos(theta)
	sin := math.Sin(theta)
	ix := a*sqr(cos) + 2*b*sin*cos + c*sqr(sin)
	iy := a*sqr(sin) - 2*b*sin*cos + c*sqr(cos)
	if ix <= 0 || iy <= 0 {
		return 0, 0, 0, ErrNotPositiveDefinite
	}
	return theta, 1 / math.Sqrt(ix), 1 / math.Sqrt(iy), nil
}
