package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"gaussianfit/internal/models"
	"gaussianfit/pkg/config"
	"gaussianfit/pkg/dataset"
	"gaussianfit/pkg/fitting"
	"gaussianfit/pkg/imagesource"
	"gaussianfit/pkg/maxima"
)

// fitPlanes finds candidate maxima in every plane and fits them. Plane i
// becomes frame i+1 of the given channel and position.
func fitPlanes(ctx context.Context, planes []*imagesource.Plane, cfg *config.Config, channel, position int, progress fitting.ProgressCallback) ([]*models.Spot, fitting.RunStats, error) {
	solver, err := fitting.NewSolver(cfg.Fitting.Solver, cfg.Fitting.MaxIterations)
	if err != nil {
		return nil, fitting.RunStats{}, err
	}
	fitter, err := fitting.NewSpotFitter(fitting.SettingsFromConfig(cfg), solver)
	if err != nil {
		return nil, fitting.RunStats{}, err
	}

	opts := maxima.Options{
		NoiseTolerance: cfg.Detection.NoiseTolerance,
		MinSeparation:  cfg.Detection.MinSeparation,
		Edge:           cfg.Fitting.HalfSize,
	}
	frames := make([]fitting.Frame, len(planes))
	for i, p := range planes {
		// candidates come from the smoothed image, fits use the raw pixels
		cands := maxima.Find(imagesource.Smooth(p, cfg.Detection.Smoothing), opts)
		seeds := make([]fitting.Seed, len(cands))
		for k, c := range cands {
			seeds[k] = fitting.Seed{X: c.X, Y: c.Y}
		}
		frames[i] = fitting.Frame{
			Index:  models.ImageIndex{Frame: i + 1, Channel: channel, Position: position},
			Source: p,
			Seeds:  seeds,
		}
	}

	runner := &fitting.Runner{Fitter: fitter, Workers: cfg.Fitting.Workers, Progress: progress}
	return runner.Run(ctx, frames)
}

// newFitBuilder describes the fitted spots of one image stack
func newFitBuilder(input string, planes []*imagesource.Plane, cfg *config.Config, channel int, spots []*models.Spot) (*dataset.Builder, error) {
	if len(planes) == 0 {
		return nil, fmt.Errorf("%s contains no images", input)
	}
	b := dataset.NewBuilder()
	b.Name = strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	b.Title = input
	b.Width = planes[0].Width
	b.Height = planes[0].Height
	b.PixelSize = cfg.Camera.PixelSize
	b.ZStepSize = cfg.Camera.ZStep
	b.Shape = models.Shape(cfg.Fitting.Shape)
	b.HalfSize = cfg.Fitting.HalfSize
	b.NrChannels = max(channel, 1)
	b.NrFrames = len(planes)
	b.Spots = spots
	return b, nil
}
