package dataset

import "gaussianfit/internal/models"

// Range is an inclusive bound that can be switched off
type Range struct {
	Enabled bool    `yaml:"enabled"`
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
}

// Contains reports whether v lies within the range. A disabled range
// contains every value.
func (r Range) Contains(v float64) bool {
	if !r.Enabled {
		return true
	}
	return v >= r.Min && v <= r.Max
}

// SpotFilter selects spots by width, intensity and localization precision.
// Each bound is toggled independently.
type SpotFilter struct {
	Width     Range `yaml:"width"`
	Intensity Range `yaml:"intensity"`
	Sigma     Range `yaml:"sigma"`
}

// Active reports whether any bound is enabled
func (f SpotFilter) Active() bool {
	return f.Width.Enabled || f.Intensity.Enabled || f.Sigma.Enabled
}

// Accept reports whether a spot passes every enabled bound
func (f SpotFilter) Accept(s *models.Spot) bool {
	return f.Width.Contains(s.Width()) &&
		f.Intensity.Contains(s.Intensity()) &&
		f.Sigma.Contains(s.Sigma())
}

// Filter returns a new dataset with the accepted spots, in their original
// order. The new dataset is named after the source with "-Filtered" appended.
func Filter(d *Dataset, f SpotFilter, ids IDGenerator) *Dataset {
	b := d.Builder()
	b.Name = d.name + "-Filtered"
	b.Spots = b.Spots[:0]
	for _, s := range d.spots {
		if f.Accept(s) {
			b.Spots = append(b.Spots, s)
		}
	}
	return b.Build(ids)
}
