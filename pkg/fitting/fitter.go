// Package fitting refines candidate maxima into sub-pixel spot records by
// fitting two-dimensional Gaussian models to the surrounding pixels, and
// fits the one-dimensional distributions used in distance analysis.
package fitting

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"gaussianfit/internal/models"
	"gaussianfit/pkg/config"
	"gaussianfit/pkg/gaussian"
)

var (
	// ErrNoSpot is returned when a candidate does not yield a usable spot
	ErrNoSpot = errors.New("fitting: no spot found")

	// ErrNoConvergence is returned when a solver gives up
	ErrNoConvergence = errors.New("fitting: solver did not converge")
)

// PixelSource supplies the pixels around a seed. Box returns the
// (2*halfSize)^2 values of columns x-halfSize..x+halfSize-1 and rows
// y-halfSize..y+halfSize-1 in row-major order, or an error when the box
// leaves the image.
type PixelSource interface {
	Box(x, y, halfSize int) ([]float64, error)
}

// Settings holds the fit parameters and the camera calibration
type Settings struct {
	// Shape selects the Gaussian model
	Shape models.Shape

	// FixedWidth fits a symmetric model with width InitialSigma
	FixedWidth bool

	// HalfSize is half the side of the fitting box in pixels
	HalfSize int

	// InitialSigma is the starting width in pixels
	InitialSigma float64

	// PixelSize converts pixels to nm
	PixelSize float64

	// PhotonConversion, Gain and Baseline convert camera counts to photons
	PhotonConversion float64
	Gain             float64
	Baseline         float64

	// MinRSquared rejects poor fits, 0 disables the check
	MinRSquared float64
}

// SettingsFromConfig extracts fit settings from a configuration
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Shape:            models.Shape(cfg.Fitting.Shape),
		FixedWidth:       cfg.Fitting.FixedWidth,
		HalfSize:         cfg.Fitting.HalfSize,
		InitialSigma:     cfg.Fitting.InitialSigma,
		PixelSize:        cfg.Camera.PixelSize,
		PhotonConversion: cfg.Camera.PhotonConversion,
		Gain:             cfg.Camera.Gain,
		Baseline:         cfg.Camera.Baseline,
		MinRSquared:      cfg.Fitting.MinRSquared,
	}
}

// SpotFitter fits one model with one solver. It holds no per-fit state and
// may be shared between goroutines.
type SpotFitter struct {
	settings Settings
	model    gaussian.Model
	solver   Solver
}

// NewSpotFitter validates the settings and selects the model
func NewSpotFitter(s Settings, solver Solver) (*SpotFitter, error) {
	if s.HalfSize < 1 {
		return nil, fmt.Errorf("half size must be at least 1, got %d", s.HalfSize)
	}
	if s.InitialSigma <= 0 || s.PixelSize <= 0 {
		return nil, fmt.Errorf("initial sigma and pixel size must be positive")
	}
	if s.PhotonConversion <= 0 || s.Gain <= 0 {
		return nil, fmt.Errorf("photon conversion and gain must be positive")
	}
	if s.FixedWidth && s.Shape != models.Symmetric {
		return nil, fmt.Errorf("fixed width requires the symmetric shape")
	}
	m, err := gaussian.ModelFor(s.Shape, s.FixedWidth, s.InitialSigma)
	if err != nil {
		return nil, err
	}
	return &SpotFitter{settings: s, model: m, solver: solver}, nil
}

// Settings returns the fitter configuration
func (f *SpotFitter) Settings() Settings { return f.settings }

// Fit refines the seed (x, y) of image idx. The returned spot has detection
// number 0; callers number spots once the order is known.
func (f *SpotFitter) Fit(src PixelSource, idx models.ImageIndex, x, y int) (*models.Spot, error) {
	h := f.settings.HalfSize
	size := 2 * h
	pix, err := src.Box(x, y, h)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSpot, err)
	}
	if len(pix) != size*size {
		return nil, fmt.Errorf("%w: box has %d pixels, expected %d", ErrNoSpot, len(pix), size*size)
	}

	data := make([]float64, len(pix))
	for i, v := range pix {
		data[i] = f.toPhotons(v)
	}

	init, err := f.initialGuess(data, size)
	if err != nil {
		return nil, err
	}
	p, err := f.solver.Solve(f.model, data, size, init)
	if err != nil {
		return nil, err
	}
	if err := f.check(p, size); err != nil {
		return nil, err
	}
	if f.settings.MinRSquared > 0 {
		if r2 := rSquared(f.model, p, data, size); r2 < f.settings.MinRSquared {
			return nil, fmt.Errorf("%w: r-squared %.3f", ErrNoSpot, r2)
		}
	}
	return f.toSpot(p, data, idx, x, y)
}

func (f *SpotFitter) toPhotons(v float64) float64 {
	return (v - f.settings.Baseline) * f.settings.PhotonConversion / f.settings.Gain
}

// borderMedian is the median of the outermost ring of a size x size box
func borderMedian(data []float64, size int) float64 {
	border := make([]float64, 0, 4*size)
	for i := 0; i < size; i++ {
		border = append(border, data[i], data[(size-1)*size+i])
		if i > 0 && i < size-1 {
			border = append(border, data[i*size], data[i*size+size-1])
		}
	}
	sort.Float64s(border)
	return stat.Quantile(0.5, stat.Empirical, border, nil)
}

// initialGuess puts the peak in the box center on top of the median border
// value
func (f *SpotFitter) initialGuess(data []float64, size int) ([]float64, error) {
	bg := borderMedian(data, size)
	amp := floats.Max(data) - bg
	if amp <= 0 {
		return nil, fmt.Errorf("%w: flat box", ErrNoSpot)
	}

	c := float64(f.settings.HalfSize)
	s := f.settings.InitialSigma
	p := make([]float64, f.model.NumParams)
	p[gaussian.IdxA] = amp
	p[gaussian.IdxB] = bg
	p[gaussian.IdxXC] = c
	p[gaussian.IdxYC] = c
	switch f.model.NumParams {
	case 5:
		p[gaussian.IdxS] = s
	case 6:
		p[gaussian.IdxS1] = s
		p[gaussian.IdxS2] = s
	case 7:
		p[gaussian.IdxS1] = 1 / (s * s)
		p[gaussian.IdxS3] = 1 / (s * s)
	}
	return p, nil
}

// check rejects fits that wandered off
func (f *SpotFitter) check(p []float64, size int) error {
	for _, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite parameter", ErrNoSpot)
		}
	}
	if p[gaussian.IdxA] <= 0 {
		return fmt.Errorf("%w: non-positive amplitude", ErrNoSpot)
	}
	last := float64(size - 1)
	if p[gaussian.IdxXC] < 0 || p[gaussian.IdxXC] > last || p[gaussian.IdxYC] < 0 || p[gaussian.IdxYC] > last {
		return fmt.Errorf("%w: center outside the box", ErrNoSpot)
	}
	switch f.model.NumParams {
	case 5:
		if p[gaussian.IdxS] == 0 {
			return fmt.Errorf("%w: zero width", ErrNoSpot)
		}
	case 6:
		if p[gaussian.IdxS1] == 0 || p[gaussian.IdxS2] == 0 {
			return fmt.Errorf("%w: zero width", ErrNoSpot)
		}
	}
	return nil
}

// widths returns the axis widths in pixels and the rotation
func (f *SpotFitter) widths(p []float64) (sx, sy, theta float64, err error) {
	switch f.model.NumParams {
	case 4:
		return f.settings.InitialSigma, f.settings.InitialSigma, 0, nil
	case 5:
		s := math.Abs(p[gaussian.IdxS])
		return s, s, 0, nil
	case 6:
		return math.Abs(p[gaussian.IdxS1]), math.Abs(p[gaussian.IdxS2]), 0, nil
	default:
		theta, sx, sy, err = gaussian.EllipseParmConversion(p[gaussian.IdxS1], p[gaussian.IdxS2], p[gaussian.IdxS3])
		if err != nil {
			return 0, 0, 0, fmt.Errorf("%w: %v", ErrNoSpot, err)
		}
		return sx, sy, theta, nil
	}
}

func (f *SpotFitter) toSpot(p, data []float64, idx models.ImageIndex, x, y int) (*models.Spot, error) {
	sx, sy, theta, err := f.widths(p)
	if err != nil {
		return nil, err
	}
	ps := f.settings.PixelSize
	h := f.settings.HalfSize

	sigma := math.Sqrt(sx * sy)
	photons := 2 * math.Pi * p[gaussian.IdxA] * sx * sy
	bg := p[gaussian.IdxB]
	xc := (float64(x-h) + p[gaussian.IdxXC]) * ps
	yc := (float64(y-h) + p[gaussian.IdxYC]) * ps

	s := models.NewSpot(idx.Channel, idx.Slice, idx.Frame, idx.Position, 0, x, y)
	s.SetData(photons, bg, xc, yc, 0, 2*sigma*ps, sx/sy, theta, Precision(sigma*ps, ps, photons, bg))
	setAperture(s, data, 2*h, sigma*ps, ps)
	return s, nil
}

// setAperture adds the photometry of the fit box to s: the background is the
// median of the box border and the intensity the background-corrected sum
// over the box. Both are in photons. s must already carry the fit results.
func setAperture(s *models.Spot, data []float64, size int, psfSigma, pixelSize float64) {
	bg := borderMedian(data, size)
	intensity := floats.Sum(data) - bg*float64(len(data))
	s.SetValue(models.ApertureBackground, bg)
	s.SetValue(models.ApertureIntensity, intensity)
	if intensity <= 0 {
		return
	}
	s.SetValue(models.IntensityRatio, s.Intensity()/intensity)
	s.SetValue(models.MSigma, MortensenPrecision(psfSigma, pixelSize, s.Intensity(), s.Background()))
	s.SetValue(models.IntegralApertureSigma, MortensenPrecision(psfSigma, pixelSize, intensity, bg))
}

// Precision is the localization error in nm for a spot of width s (nm)
// imaged with pixel size a (nm), N photons and b background photons per
// pixel.
func Precision(s, a, n, b float64) float64 {
	if n <= 0 {
		return math.Inf(1)
	}
	b = math.Max(b, 0)
	v := (s*s+a*a/12)/n + 8*math.Pi*math.Pow(s, 4)*b/(a*a*n*n)
	return math.Sqrt(v)
}

// MortensenPrecision is the maximum likelihood localization error in nm
// for a spot of width s (nm) imaged with pixel size a (nm), N photons and b
// background photons per pixel.
func MortensenPrecision(s, a, n, b float64) float64 {
	if n <= 0 {
		return math.Inf(1)
	}
	b = math.Max(b, 0)
	sa2 := s*s + a*a/12
	v := sa2 / n * (16.0/9 + 8*math.Pi*sa2*b/(n*a*a))
	return math.Sqrt(v)
}

// rSquared is the fraction of box variance explained by the model
func rSquared(m gaussian.Model, p, data []float64, size int) float64 {
	mean := stat.Mean(data, nil)
	var ssRes, ssTot float64
	for j := 0; j < size; j++ {
		for i := 0; i < size; i++ {
			v := data[j*size+i]
			r := v - m.Value(p, float64(i), float64(j))
			ssRes += r * r
			ssTot += (v - mean) * (v - mean)
		}
	}
	if ssTot == 0 {
		return 0
	}
	return 1 - ssRes/ssTot
}
