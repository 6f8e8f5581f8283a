package main

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"gaussianfit/pkg/config"
	"gaussianfit/pkg/imagesource"
	"gaussianfit/pkg/spotio"
)

// stack renders frames with spots at fixed pixel positions on a flat
// background of 100 counts
func stack(frames int, centers [][2]float64) []*imagesource.Plane {
	planes := make([]*imagesource.Plane, frames)
	for f := range planes {
		p := imagesource.NewPlane(48, 40)
		for y := 0; y < p.Height; y++ {
			for x := 0; x < p.Width; x++ {
				v := 100.0
				for _, c := range centers {
					dx, dy := float64(x)-c[0], float64(y)-c[1]
					v += 900 * math.Exp(-(dx*dx+dy*dy)/(2*1.3*1.3))
				}
				p.Set(x, y, v)
			}
		}
		planes[f] = p
	}
	return planes
}

func TestFitPlanesToFile(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Camera.PixelSize = 100
	cfg.Camera.PhotonConversion = 1
	cfg.Camera.Gain = 1
	cfg.Camera.Baseline = 0
	cfg.Detection.NoiseTolerance = 200
	cfg.Fitting.HalfSize = 4
	cfg.Fitting.Workers = 2

	centers := [][2]float64{{12.3, 10.6}, {30.1, 25.4}}
	planes := stack(3, centers)
	spots, stats, err := fitPlanes(context.Background(), planes, cfg, 1, 0, nil)
	if err != nil {
		t.Fatalf("fitPlanes failed: %v", err)
	}
	if stats.Fitted != 6 || len(spots) != 6 {
		t.Fatalf("Fitted %d spots (%d returned), expected 6", stats.Fitted, len(spots))
	}
	for _, s := range spots {
		if s.Frame() < 1 || s.Frame() > 3 || s.Channel() != 1 {
			t.Errorf("Spot has frame %d channel %d", s.Frame(), s.Channel())
		}
		if s.Nr() < 1 || s.Nr() > 2 {
			t.Errorf("Spot in frame %d has nr %d", s.Frame(), s.Nr())
		}
		found := false
		for _, c := range centers {
			if math.Abs(s.XCenter()-c[0]*100) < 5 && math.Abs(s.YCenter()-c[1]*100) < 5 {
				found = true
			}
		}
		if !found {
			t.Errorf("Spot at (%.1f, %.1f) matches no emitter", s.XCenter(), s.YCenter())
		}
	}

	b, err := newFitBuilder("movie.fits", planes, cfg, 1, spots)
	if err != nil {
		t.Fatalf("newFitBuilder failed: %v", err)
	}
	d := b.Build(nil)
	if d.Name() != "movie" || d.NrFrames() != 3 || d.Width() != 48 {
		t.Errorf("Unexpected dataset %q with %d frames, width %d", d.Name(), d.NrFrames(), d.Width())
	}

	path := filepath.Join(t.TempDir(), "movie.tsf")
	if err := spotio.Save(path, d, spotio.Tagged); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, _, err := spotio.Load(path, spotio.Options{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded.Spots) != 6 {
		t.Errorf("Loaded %d spots, expected 6", len(loaded.Spots))
	}
}

func TestNewFitBuilderRejectsEmptyStack(t *testing.T) {
	if _, err := newFitBuilder("empty.fits", nil, config.DefaultConfig(), 1, nil); err == nil {
		t.Error("Expected error for an empty stack")
	}
}

func TestOutputFormat(t *testing.T) {
	if f, err := outputFormat("out.txt", ""); err != nil || f != spotio.Text {
		t.Errorf("outputFormat from extension = %v, %v", f, err)
	}
	if f, err := outputFormat("out.txt", "bin"); err != nil || f != spotio.Bin {
		t.Errorf("Explicit format = %v, %v", f, err)
	}
	if _, err := outputFormat("out.xyz", ""); err == nil {
		t.Error("Expected error for unknown extension")
	}
	if got := replaceExt("/data/movie.fits", ".tsf"); got != "/data/movie.tsf" {
		t.Errorf("replaceExt = %q", got)
	}
}
