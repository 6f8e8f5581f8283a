package dataset

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"gaussianfit/internal/models"
)

// Subtract returns a dataset whose spot centers are the source centers
// minus the center of the first operand spot in the same image. Source
// spots without a counterpart in the operand are dropped. Original
// positions are carried over untouched.
func Subtract(source, operand *Dataset, ids IDGenerator) (*Dataset, error) {
	if source.coordinates != operand.coordinates {
		return nil, fmt.Errorf("cannot subtract %s coordinates from %s coordinates",
			operand.coordinates, source.coordinates)
	}

	b := source.Builder()
	b.Name = source.name + "-Subtracted"
	b.Spots = b.Spots[:0]
	for _, s := range source.spots {
		ik := s.Index()
		matches := operand.SpotsByFullKey(ik.Frame, ik.Slice, ik.Channel, ik.Position)
		if len(matches) == 0 {
			continue
		}
		op := matches[0]
		c := s.Clone()
		c.SetData(s.Intensity(), s.Background(),
			s.XCenter()-op.XCenter(), s.YCenter()-op.YCenter(), s.ZCenter()-op.ZCenter(),
			s.Width(), s.A(), s.Theta(), s.Sigma())
		b.Spots = append(b.Spots, c)
	}
	if b.HasZ {
		b.UpdateZRange()
	}
	return b.Build(ids), nil
}

// FromTrack turns a track into a track dataset that inherits the parent's
// acquisition attributes.
func FromTrack(t *models.Track, parent *Dataset, name string, ids IDGenerator) *Dataset {
	b := parent.Builder()
	b.Name = name
	b.IsTrack = true
	b.Spots = append(b.Spots[:0], t.Spots()...)
	if parent.hasZ {
		b.UpdateZRange()
	}
	return b.Build(ids)
}

// TrackSummary condenses one track dataset into a table row
type TrackSummary struct {
	ID           int
	Name         string
	NrSpots      int
	Channels     []int
	MeanX, MeanY float64
	Std          float64
	TotalPhotons float64
	MeanPhotons  float64
	StdPhotons   float64
}

// Summarize reports the frozen track statistics of d together with the
// photon count spread. It returns an error for datasets that are not tracks.
func Summarize(d *Dataset) (TrackSummary, error) {
	if !d.isTrack {
		return TrackSummary{}, fmt.Errorf("dataset %q is not a track", d.name)
	}
	ts := TrackSummary{
		ID:           d.id,
		Name:         d.name,
		NrSpots:      len(d.spots),
		Channels:     d.Channels(),
		MeanX:        d.meanX,
		MeanY:        d.meanY,
		Std:          d.std,
		TotalPhotons: d.totalPhotons,
	}
	if len(d.spots) > 0 {
		photons := make([]float64, len(d.spots))
		for i, s := range d.spots {
			photons[i] = s.Intensity()
		}
		ts.MeanPhotons, ts.StdPhotons = stat.MeanStdDev(photons, nil)
		if len(photons) < 2 {
			ts.StdPhotons = 0
		}
	}
	return ts, nil
}
