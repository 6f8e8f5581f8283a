package pairs

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gaussianfit/internal/models"
	"gaussianfit/pkg/fitting"
	"gaussianfit/pkg/logging"
	"gaussianfit/pkg/stats"
)

// TrackSummary describes one pair track
type TrackSummary struct {
	// First is the pair that started the track
	First *models.SpotPair

	// N is the number of pairs
	N int

	// StdDevFirst and StdDevSecond are the radial spread of each channel
	StdDevFirst, StdDevSecond float64

	// DistanceMean and DistanceStd describe the point distances
	DistanceMean, DistanceStd float64

	// Sigma is the mean combined localization error of the pairs
	Sigma float64

	OrientationMean, OrientationStd float64

	// VectorDistance is the length of the mean difference vector, and
	// VectorStd the spread of the difference vectors
	VectorDistance, VectorStd float64
}

// spotErrors returns the localization errors of both spots of a pair. The
// aperture integral estimate is used when both spots carry it, the fit
// precision otherwise.
func spotErrors(p *models.SpotPair) (first, second float64) {
	a, okA := p.First().Value(models.IntegralApertureSigma)
	b, okB := p.Second().Value(models.IntegralApertureSigma)
	if okA && okB {
		return a, b
	}
	return p.First().Sigma(), p.Second().Sigma()
}

// SummarizeTrack computes the statistics of one non-empty track
func SummarizeTrack(track []*models.SpotPair) TrackSummary {
	n := len(track)
	distances := make([]float64, n)
	orientations := make([]float64, n)
	sigmas := make([]float64, n)
	diffs := make([]models.Point, n)
	firsts := make([]models.Point, n)
	seconds := make([]models.Point, n)
	for i, p := range track {
		distances[i] = p.Distance()
		orientations[i] = p.Orientation()
		sigmas[i] = math.Hypot(spotErrors(p))
		diffs[i] = p.FirstPoint().Sub(p.SecondPoint())
		firsts[i] = p.FirstPoint()
		seconds[i] = p.SecondPoint()
	}

	ts := TrackSummary{First: track[0], N: n}
	mf, _ := stats.MeanXY(firsts)
	ms, _ := stats.MeanXY(seconds)
	ts.StdDevFirst = stats.RadialStdDev(firsts, mf)
	ts.StdDevSecond = stats.RadialStdDev(seconds, ms)

	ts.DistanceMean, _ = stats.Mean(distances)
	ts.DistanceStd = stats.StdDevWithMean(distances, ts.DistanceMean)
	ts.Sigma, _ = stats.Mean(sigmas)
	ts.OrientationMean, _ = stats.Mean(orientations)
	ts.OrientationStd = stats.StdDevWithMean(orientations, ts.OrientationMean)

	md, _ := stats.MeanXY(diffs)
	sd := stats.StdDevsXY(diffs, md)
	ts.VectorDistance = math.Hypot(md.X, md.Y)
	ts.VectorStd = math.Hypot(sd.X, sd.Y)
	return ts
}

// Options controls Analyze
type Options struct {
	// MaxDistance is the pairing and tracking radius in nm
	MaxDistance float64

	// RegistrationError is added in quadrature to the localization error
	RegistrationError float64

	// FitSigma fits the error of the distance distribution instead of
	// holding it at the estimate
	FitSigma bool

	// UseVectorDistances analyses the mean difference vector of each track
	// instead of every pair distance
	UseVectorDistances bool

	// BootstrapRuns is the number of resampled P2D fits, 0 to skip
	BootstrapRuns int

	// Seed initialises the bootstrap random source
	Seed uint64
}

// BootstrapResult is the spread of the distance over resampled fits
type BootstrapResult struct {
	Runs   int
	MuMean float64
	MuStd  float64

	// Failed counts resamples whose fit did not converge
	Failed int
}

// Method names the estimator of the P2D fit
type Method int

const (
	// MaximumLikelihood fits every pair distance with its own error
	MaximumLikelihood Method = iota

	// LeastSquares fits the P2D distribution function to the empirical one
	LeastSquares
)

func (m Method) String() string {
	switch m {
	case MaximumLikelihood:
		return "maximum likelihood"
	case LeastSquares:
		return "least squares"
	}
	return "unknown"
}

// maxBootstrapFailures stops a bootstrap whose fits keep failing
const maxBootstrapFailures = 10

// Analysis is the outcome of Analyze
type Analysis struct {
	Frames []FramePairs
	Tracks []TrackSummary

	// Distances are the values given to the P2D fit: every pair distance, or
	// one mean vector distance per track
	Distances []float64

	// Sigmas are the per-distance errors of a maximum likelihood fit with a
	// fixed sigma; nil otherwise
	Sigmas []float64

	// SigmaEstimate is the error derived from the spot precisions
	SigmaEstimate float64

	// Method is the estimator used for P2D
	Method Method

	// P2D is the fit of the distances
	P2D fitting.DistributionResult

	// XError and YError are normal fits of the per-pair coordinate
	// differences within +/- MaxDistance; nil when the fit failed
	XError, YError *fitting.DistributionResult

	// Bootstrap is nil unless runs were requested and enough fits succeeded
	Bootstrap *BootstrapResult
}

// Analyze assembles the pairs of frames into tracks and fits the distance
// distribution. Tracks are built with AssembleTracks, so frames must come
// fresh from Find.
//
// By default every pair distance enters a maximum likelihood P2D fit, each
// with the combined error of its two spots and the registration error. With
// UseVectorDistances each track contributes the length of its mean
// difference vector, and mu and sigma are fitted by least squares against
// the empirical distribution. The bootstrap always uses least squares.
func Analyze(frames []FramePairs, opts Options) (*Analysis, error) {
	a := &Analysis{Frames: frames}
	tracks := AssembleTracks(frames, opts.MaxDistance)
	if len(tracks) == 0 {
		return nil, errors.New("no pairs found")
	}

	reg2 := opts.RegistrationError * opts.RegistrationError
	var first, second, sigmas, xDiff, yDiff []float64
	for _, track := range tracks {
		ts := SummarizeTrack(track)
		a.Tracks = append(a.Tracks, ts)
		if opts.UseVectorDistances {
			a.Distances = append(a.Distances, ts.VectorDistance)
		} else {
			a.Distances = append(a.Distances, fitting.DistancesOf(track)...)
		}
		for _, p := range track {
			e1, e2 := spotErrors(p)
			first = append(first, e1)
			second = append(second, e2)
			sigmas = append(sigmas, math.Sqrt(e1*e1+e2*e2+reg2))
			d := p.FirstPoint().Sub(p.SecondPoint())
			xDiff = append(xDiff, d.X)
			yDiff = append(yDiff, d.Y)
		}
	}
	logging.Infof("Analysing %d pairs in %d tracks", len(first), len(tracks))
	a.SigmaEstimate = sigmaEstimate(first, second, opts.RegistrationError)

	var (
		res fitting.DistributionResult
		err error
	)
	switch {
	case opts.UseVectorDistances:
		a.Method = LeastSquares
		res, err = leastSquares(a.Distances)
	case opts.FitSigma:
		a.Method = MaximumLikelihood
		res, err = fitting.P2DFitter{Distances: a.Distances, Sigma: a.SigmaEstimate, FitSigma: true}.Fit()
	default:
		a.Method = MaximumLikelihood
		a.Sigmas = sigmas
		res, err = fitting.P2DFitter{Distances: a.Distances, Sigma: a.SigmaEstimate, Sigmas: sigmas}.Fit()
	}
	if err != nil {
		return nil, fmt.Errorf("P2D fit failed: %w", err)
	}
	a.P2D = res

	a.XError = coordinateError(xDiff, opts.MaxDistance, "x")
	a.YError = coordinateError(yDiff, opts.MaxDistance, "y")

	if opts.BootstrapRuns > 0 {
		br, err := bootstrap(a.Distances, opts.BootstrapRuns, opts.Seed, leastSquares)
		if err != nil {
			logging.Warningf("Bootstrap analysis failed: %v", err)
		}
		a.Bootstrap = br
	}
	return a, nil
}

// leastSquares fits mu and sigma to the empirical distribution, starting
// from the mean and spread of the distances
func leastSquares(distances []float64) (fitting.DistributionResult, error) {
	return fitting.P2DEcdfFitter{Distances: distances, FitSigma: true}.Fit()
}

// sigmaEstimate combines the mean and spread of both channels' localization
// errors with the registration error
func sigmaEstimate(first, second []float64, registration float64) float64 {
	m1, _ := stats.Mean(first)
	m2, _ := stats.Mean(second)
	s1 := stats.StdDevWithMean(first, m1)
	s2 := stats.StdDevWithMean(second, m2)
	return math.Sqrt(m1*m1 + m2*m2 + s1*s1 + s2*s2 + registration*registration)
}

func coordinateError(diffs []float64, maxDistance float64, axis string) *fitting.DistributionResult {
	res, err := fitting.Gaussian1DFitter{Values: diffs, Min: -maxDistance, Max: maxDistance}.Fit()
	if err != nil {
		logging.Warningf("Gaussian fit of %s differences failed: %v", axis, err)
		return nil
	}
	return &res
}

// bootstrap fits resampled distances until runs fits succeeded. It gives up
// after maxBootstrapFailures failed fits.
func bootstrap(distances []float64, runs int, seed uint64, fit func([]float64) (fitting.DistributionResult, error)) (*BootstrapResult, error) {
	rng := rand.New(rand.NewPCG(seed, seed))
	mus := make([]float64, 0, runs)
	failed := 0
	for len(mus) < runs {
		res, err := fit(stats.Bootstrap(distances, rng))
		if err != nil {
			failed++
			logging.Debugf("Bootstrap fit failed: %v", err)
			if failed >= maxBootstrapFailures {
				return nil, fmt.Errorf("%d fits failed after %d succeeded", failed, len(mus))
			}
			continue
		}
		mus = append(mus, res.Mu)
	}
	br := &BootstrapResult{Runs: len(mus), Failed: failed}
	br.MuMean, _ = stats.Mean(mus)
	br.MuStd = stats.StdDevWithMean(mus, br.MuMean)
	return br, nil
}
