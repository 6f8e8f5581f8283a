package fitting

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"gaussianfit/internal/models"
	"gaussianfit/pkg/logging"
)

// Seed is a candidate maximum in pixel coordinates
type Seed struct {
	X, Y int
}

// Frame is one image to fit
type Frame struct {
	// Index identifies the image
	Index models.ImageIndex

	// Source supplies the pixels
	Source PixelSource

	// Seeds are the candidates, in detection order
	Seeds []Seed
}

// RunStats counts the outcome of a run
type RunStats struct {
	// Fitted is the number of spots produced
	Fitted int

	// Rejected is the number of candidates that gave no spot
	Rejected int
}

// ProgressCallback is called after each frame completes
type ProgressCallback func(completed, total int)

// Runner fits many frames concurrently
type Runner struct {
	// Fitter refines each seed
	Fitter *SpotFitter

	// Workers bounds the number of frames fitted at once
	Workers int

	// Progress is optional and may be called from several goroutines
	Progress ProgressCallback
}

// Run fits all frames and returns the spots in frame order, each frame's
// spots in seed order and numbered from 1. The order does not depend on
// scheduling. Rejected candidates are counted, not returned as errors; the
// only errors are context cancellation and unexpected fitter failures.
func (r *Runner) Run(ctx context.Context, frames []Frame) ([]*models.Spot, RunStats, error) {
	workers := r.Workers
	if workers < 1 {
		workers = 1
	}

	results := make([][]*models.Spot, len(frames))
	var rejected, completed atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for fi := range frames {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			frame := frames[fi]
			spots := make([]*models.Spot, 0, len(frame.Seeds))
			for _, seed := range frame.Seeds {
				s, err := r.Fitter.Fit(frame.Source, frame.Index, seed.X, seed.Y)
				if errors.Is(err, ErrNoSpot) || errors.Is(err, ErrNoConvergence) {
					rejected.Add(1)
					continue
				}
				if err != nil {
					return err
				}
				spots = append(spots, s)
			}
			results[fi] = spots

			done := int(completed.Add(1))
			logging.Debugf("Frame %d: %d of %d candidates fitted", frame.Index.Frame, len(spots), len(frame.Seeds))
			if r.Progress != nil {
				r.Progress(done, len(frames))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, RunStats{}, err
	}

	var out []*models.Spot
	for fi, spots := range results {
		idx := frames[fi].Index
		for k, s := range spots {
			out = append(out, s.WithIdentity(idx.Channel, idx.Slice, idx.Frame, idx.Position, k+1))
		}
	}
	stats := RunStats{Fitted: len(out), Rejected: int(rejected.Load())}
	logging.Infof("Fitted %d spots in %d frames, %d candidates rejected", stats.Fitted, len(frames), stats.Rejected)
	return out, stats, nil
}
