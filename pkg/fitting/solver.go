package fitting

import (
	"fmt"
	"math"

	"github.com/maorshutman/lm"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"gaussianfit/pkg/gaussian"
)

// Solver minimizes the squared difference between a model and a square box
// of pixels. Pixel (i, j) of the box is data[j*size+i] and sits at model
// coordinates (i, j).
type Solver interface {
	Solve(m gaussian.Model, data []float64, size int, init []float64) ([]float64, error)
}

// NewSolver returns the solver for a configuration name, "lm" or "simplex"
func NewSolver(name string, maxIterations int) (Solver, error) {
	switch name {
	case "lm", "":
		return LMSolver{MaxIterations: maxIterations}, nil
	case "simplex":
		return SimplexSolver{MaxIterations: maxIterations}, nil
	}
	return nil, fmt.Errorf("unknown solver %q", name)
}

const defaultIterations = 200

// LMSolver uses Levenberg-Marquardt with the analytic model Jacobian
type LMSolver struct {
	MaxIterations int
}

// Solve implements Solver. A singular normal matrix makes the underlying
// package panic; the panic is recovered and reported as ErrNoSpot.
func (s LMSolver) Solve(m gaussian.Model, data []float64, size int, init []float64) (p []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, fmt.Errorf("%w: solver failed: %v", ErrNoSpot, r)
		}
	}()

	iterations := s.MaxIterations
	if iterations <= 0 {
		iterations = defaultIterations
	}
	problem := lm.LMProblem{
		Dim:  m.NumParams,
		Size: len(data),
		Func: func(dst, x []float64) {
			residuals(dst, m, x, data, size)
		},
		Jac: func(dst *mat.Dense, x []float64) {
			for j := 0; j < size; j++ {
				for i := 0; i < size; i++ {
					for c, v := range m.Jacobian(x, float64(i), float64(j)) {
						dst.Set(j*size+i, c, v)
					}
				}
			}
		},
		InitParams: append([]float64(nil), init...),
		Tau:        1e-3,
		Eps1:       1e-10,
		Eps2:       1e-10,
	}

	result, err := lm.LM(problem, &lm.Settings{Iterations: iterations, ObjectiveTol: 1e-16})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoConvergence, err)
	}
	if !finite(result.X) {
		return nil, fmt.Errorf("%w: non-finite parameters", ErrNoConvergence)
	}
	return result.X, nil
}

// SimplexSolver uses Nelder-Mead on the sum of squared residuals. The
// parameters are scaled by their initial magnitude so one simplex size
// suits amplitudes and positions alike.
type SimplexSolver struct {
	MaxIterations int
}

// Solve implements Solver
func (s SimplexSolver) Solve(m gaussian.Model, data []float64, size int, init []float64) ([]float64, error) {
	iterations := s.MaxIterations
	if iterations <= 0 {
		iterations = defaultIterations
	}

	scale := make([]float64, len(init))
	for i, v := range init {
		scale[i] = math.Max(math.Abs(v), 1)
	}
	unscale := func(dst, x []float64) {
		for i := range x {
			dst[i] = x[i] * scale[i]
		}
	}

	res := make([]float64, len(data))
	p := make([]float64, len(init))
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			unscale(p, x)
			residuals(res, m, p, data, size)
			var ss float64
			for _, r := range res {
				ss += r * r
			}
			return ss
		},
	}

	x0 := make([]float64, len(init))
	for i := range init {
		x0[i] = init[i] / scale[i]
	}
	settings := &optimize.Settings{
		// simplex steps are single evaluations, allow many more of them
		MajorIterations: 25 * iterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-12,
			Relative:   1e-12,
			Iterations: 10 * len(init),
		},
	}
	result, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoConvergence, err)
	}

	out := make([]float64, len(init))
	unscale(out, result.X)
	if !finite(out) {
		return nil, fmt.Errorf("%w: non-finite parameters", ErrNoConvergence)
	}
	return out, nil
}

func residuals(dst []float64, m gaussian.Model, p, data []float64, size int) {
	for j := 0; j < size; j++ {
		for i := 0; i < size; i++ {
			k := j*size + i
			dst[k] = m.Value(p, float64(i), float64(j)) - data[k]
		}
	}
}

func finite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
