package gaussian

import (
	"math"

	"gonum.org/v1/gonum/integrate/quad"
)

// Gaussian1D is the normal probability density
func Gaussian1D(x, mu, sigma float64) float64 {
	return 1 / (sigma * math.Sqrt(2*math.Pi)) * math.Exp(-sqr(x-mu)/(2*sqr(sigma)))
}

// P2D is the probability density of the measured distance r between two
// points whose true distance is mu, when both coordinates carry Gaussian
// uncertainty sigma.
//
//	p(r) = r/sigma^2 * exp(-(mu^2 + r^2)/(2 sigma^2)) * I0(r*mu/sigma^2)
//
// For sigma < mu/2 the Bessel term overflows quickly, so the asymptotic form
//
//	p(r) = sqrt(r/(2 pi sigma^2 mu)) * exp(-(mu - r)^2/(2 sigma^2))
//
// is used instead.
func P2D(r, mu, sigma float64) float64 {
	sigma2 := sqr(sigma)
	if sigma < mu/2 {
		return math.Sqrt(r/(2*math.Pi*sigma2*mu)) * math.Exp(-sqr(mu-r)/(2*sigma2))
	}
	return r / sigma2 * math.Exp(-(sqr(mu)+sqr(r))/(2*sigma2)) * BesselI0(r*mu/sigma2)
}

// BesselI0 is the modified Bessel function of the first kind, order zero.
// Polynomial approximation with relative error below 2e-7.
func BesselI0(x float64) float64 {
	ax := math.Abs(x)
	if ax < 3.75 {
		y := sqr(x / 3.75)
		return 1.0 + y*(3.5156229+y*(3.0899424+y*(1.2067492+y*(0.2659732+y*(0.360768e-1+y*0.45813e-2)))))
	}
	y := 3.75 / ax
	return (math.Exp(ax) / math.Sqrt(ax)) * (0.39894228 + y*(0.1328592e-1+y*(0.225319e-2+y*(-0.157565e-2+y*(0.916281e-2+
		y*(-0.2057706e-1+y*(0.2635537e-1+y*(-0.1647633e-1+y*0.392377e-2))))))))
}

// maxPanels bounds the number of quadrature panels in P2DCDF
const maxPanels = 200

// P2DCDF integrates P2D over [0, r]. The interval is split into panels about
// one sigma wide, each integrated with 16-point Gauss-Legendre.
func P2DCDF(r, mu, sigma float64) float64 {
	if r <= 0 {
		return 0
	}
	panels := int(math.Ceil(r / sigma))
	if panels < 1 {
		panels = 1
	}
	if panels > maxPanels {
		panels = maxPanels
	}
	f := func(x float64) float64 { return P2D(x, mu, sigma) }
	step := r / float64(panels)
	var sum float64
	for i := 0; i < panels; i++ {
		lo := float64(i) * step
		sum += quad.Fixed(f, lo, lo+step, 16, nil, 0)
	}
	return sum
}
