package fitting

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"gaussianfit/internal/models"
	"gaussianfit/pkg/gaussian"
	"gaussianfit/pkg/stats"
)

// tiny keeps logarithms and widths finite
const tiny = 1e-300

// fisherStep is the relative step of the numerical second derivative
const fisherStep = 0.001

// DistributionResult holds fitted distribution parameters. Std fields are
// NaN when the likelihood curvature could not be estimated.
type DistributionResult struct {
	Mu       float64
	Sigma    float64
	MuStd    float64
	SigmaStd float64
}

// P2DFitter fits the distribution of distances between two points observed
// with Gaussian error
type P2DFitter struct {
	// Distances are the measured distances
	Distances []float64

	// Sigma is the localization error; the initial value when FitSigma is set
	Sigma float64

	// Sigmas optionally gives every distance its own error. Sigma is then
	// only reported and FitSigma must be false.
	Sigmas []float64

	// FitSigma fits Sigma together with Mu
	FitSigma bool
}

// nll is the negative log-likelihood of the distances
func (f P2DFitter) nll(mu, sigma float64) float64 {
	mu, sigma = math.Abs(mu), math.Abs(sigma)+tiny
	var sum float64
	for i, r := range f.Distances {
		s := sigma
		if f.Sigmas != nil {
			s = f.Sigmas[i]
		}
		sum -= math.Log(math.Max(gaussian.P2D(r, mu, s), tiny))
	}
	return sum
}

func (f P2DFitter) start() (mu, sigma float64, err error) {
	if len(f.Distances) < 2 {
		return 0, 0, fmt.Errorf("need at least 2 distances, got %d: %w", len(f.Distances), stats.ErrEmpty)
	}
	mu, _ = stats.Mean(f.Distances)
	sigma = f.Sigma
	if f.Sigmas != nil {
		if f.FitSigma {
			return 0, 0, errors.New("per-distance sigmas cannot be fitted")
		}
		if len(f.Sigmas) != len(f.Distances) {
			return 0, 0, fmt.Errorf("got %d sigmas for %d distances", len(f.Sigmas), len(f.Distances))
		}
		for _, s := range f.Sigmas {
			if s <= 0 {
				return 0, 0, fmt.Errorf("sigma %v is not positive", s)
			}
		}
		return mu, sigma, nil
	}
	if sigma <= 0 {
		if f.FitSigma {
			sigma = stats.StdDevWithMean(f.Distances, mu)
		} else {
			return 0, 0, errors.New("sigma must be positive when it is not fitted")
		}
	}
	return mu, sigma, nil
}

// Fit maximizes the likelihood. Standard deviations come from the inverse
// of the numerically estimated Fisher information.
func (f P2DFitter) Fit() (DistributionResult, error) {
	mu0, sigma0, err := f.start()
	if err != nil {
		return DistributionResult{}, err
	}

	if !f.FitSigma {
		x, err := minimize(func(x []float64) float64 { return f.nll(x[0], sigma0) }, []float64{mu0})
		if err != nil {
			return DistributionResult{}, err
		}
		mu := math.Abs(x[0])
		h := fisherStep * math.Max(mu, 1)
		d2 := (f.nll(mu+h, sigma0) - 2*f.nll(mu, sigma0) + f.nll(mu-h, sigma0)) / (h * h)
		return DistributionResult{Mu: mu, Sigma: sigma0, MuStd: invSqrt(d2), SigmaStd: math.NaN()}, nil
	}

	x, err := minimize(func(x []float64) float64 { return f.nll(x[0], x[1]) }, []float64{mu0, sigma0})
	if err != nil {
		return DistributionResult{}, err
	}
	mu, sigma := math.Abs(x[0]), math.Abs(x[1])
	res := DistributionResult{Mu: mu, Sigma: sigma, MuStd: math.NaN(), SigmaStd: math.NaN()}

	hm := fisherStep * math.Max(mu, 1)
	hs := fisherStep * math.Max(sigma, 1)
	f0 := f.nll(mu, sigma)
	hess := mat.NewSymDense(2, []float64{
		(f.nll(mu+hm, sigma) - 2*f0 + f.nll(mu-hm, sigma)) / (hm * hm),
		(f.nll(mu+hm, sigma+hs) - f.nll(mu+hm, sigma-hs) - f.nll(mu-hm, sigma+hs) + f.nll(mu-hm, sigma-hs)) / (4 * hm * hs),
		0,
		(f.nll(mu, sigma+hs) - 2*f0 + f.nll(mu, sigma-hs)) / (hs * hs),
	})
	var cov mat.Dense
	if err := cov.Inverse(hess); err == nil {
		res.MuStd = invSqrt(1 / cov.At(0, 0))
		res.SigmaStd = invSqrt(1 / cov.At(1, 1))
	}
	return res, nil
}

// P2DEcdfFitter fits the P2D cumulative distribution to the empirical one
// by least squares
type P2DEcdfFitter struct {
	Distances []float64
	Sigma     float64
	FitSigma  bool
}

// Fit returns Mu and Sigma; the standard deviations are not estimated
func (f P2DEcdfFitter) Fit() (DistributionResult, error) {
	mu0, sigma0, err := P2DFitter{Distances: f.Distances, Sigma: f.Sigma, FitSigma: f.FitSigma}.start()
	if err != nil {
		return DistributionResult{}, err
	}
	ecdf := stats.ECDF(f.Distances)
	cost := func(mu, sigma float64) float64 {
		mu, sigma = math.Abs(mu), math.Abs(sigma)+tiny
		var ss float64
		for _, p := range ecdf {
			d := gaussian.P2DCDF(p.X, mu, sigma) - p.Y
			ss += d * d
		}
		return ss
	}

	res := DistributionResult{Sigma: sigma0, MuStd: math.NaN(), SigmaStd: math.NaN()}
	if f.FitSigma {
		x, err := minimize(func(x []float64) float64 { return cost(x[0], x[1]) }, []float64{mu0, sigma0})
		if err != nil {
			return DistributionResult{}, err
		}
		res.Mu, res.Sigma = math.Abs(x[0]), math.Abs(x[1])
		return res, nil
	}
	x, err := minimize(func(x []float64) float64 { return cost(x[0], sigma0) }, []float64{mu0})
	if err != nil {
		return DistributionResult{}, err
	}
	res.Mu = math.Abs(x[0])
	return res, nil
}

// Gaussian1DFitter fits a normal distribution to the values within
// [Min, Max] by maximum likelihood. Max <= Min uses all values.
type Gaussian1DFitter struct {
	Values   []float64
	Min, Max float64
}

// Fit returns Mu and Sigma with their Fisher standard deviations
func (f Gaussian1DFitter) Fit() (DistributionResult, error) {
	var values []float64
	for _, v := range f.Values {
		if f.Max <= f.Min || (v >= f.Min && v <= f.Max) {
			values = append(values, v)
		}
	}
	if len(values) < 2 {
		return DistributionResult{}, fmt.Errorf("need at least 2 values in range: %w", stats.ErrEmpty)
	}
	mu0, _ := stats.Mean(values)
	sigma0 := stats.StdDevWithMean(values, mu0)
	if sigma0 == 0 {
		return DistributionResult{}, errors.New("values have no spread")
	}

	nll := func(x []float64) float64 {
		sigma := math.Abs(x[1]) + tiny
		var sum float64
		for _, v := range values {
			sum -= math.Log(math.Max(gaussian.Gaussian1D(v, x[0], sigma), tiny))
		}
		return sum
	}
	x, err := minimize(nll, []float64{mu0, sigma0})
	if err != nil {
		return DistributionResult{}, err
	}
	mu, sigma := x[0], math.Abs(x[1])
	n := float64(len(values))
	return DistributionResult{
		Mu:       mu,
		Sigma:    sigma,
		MuStd:    sigma / math.Sqrt(n),
		SigmaStd: sigma / math.Sqrt(2*n),
	}, nil
}

// DistancesOf returns the point distances of pairs
func DistancesOf(pairs []*models.SpotPair) []float64 {
	d := make([]float64, len(pairs))
	for i, p := range pairs {
		d[i] = p.Distance()
	}
	return d
}

// minimize runs Nelder-Mead from x0
func minimize(fn func(x []float64) float64, x0 []float64) ([]float64, error) {
	scale := make([]float64, len(x0))
	for i, v := range x0 {
		scale[i] = math.Max(math.Abs(v), 1e-6)
	}
	p := make([]float64, len(x0))
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			for i := range x {
				p[i] = x[i] * scale[i]
			}
			return fn(p)
		},
	}
	start := make([]float64, len(x0))
	for i := range x0 {
		start[i] = 1
	}
	settings := &optimize.Settings{
		MajorIterations: 5000,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-10,
			Relative:   1e-10,
			Iterations: 50,
		},
	}
	result, err := optimize.Minimize(problem, start, settings, &optimize.NelderMead{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoConvergence, err)
	}
	out := make([]float64, len(x0))
	for i := range out {
		out[i] = result.X[i] * scale[i]
	}
	return out, nil
}

func invSqrt(v float64) float64 {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return math.NaN()
	}
	return 1 / math.Sqrt(v)
}
