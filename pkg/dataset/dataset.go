// Package dataset holds the per-acquisition collection of fitted spots.
//
// A Dataset is created through a Builder and cannot be changed afterwards.
// Derived track statistics are computed once in Build, and the lookup
// indexes are built on first use. Since the spot sequence never changes,
// neither can go stale. Operations that produce new spot sequences
// (filtering, subtraction, track extraction) return new datasets.
package dataset

import (
	"slices"
	"sort"
	"sync"

	"gaussianfit/internal/models"
	"gaussianfit/pkg/stats"
)

// Dataset is an immutable collection of spots with acquisition metadata
type Dataset struct {
	id    int
	name  string
	title string

	width, height int
	pixelSize     float64
	zStepSize     float64
	shape         models.Shape
	halfSize      int

	nrChannels  int
	nrFrames    int
	nrSlices    int
	nrPositions int

	coordinates models.Coordinates
	isTrack     bool
	hasZ        bool
	minZ, maxZ  float64

	spots []*models.Spot

	// derived, tracks only
	meanX, meanY float64
	stdX, stdY   float64
	std          float64
	totalPhotons float64
	channels     []int

	indexOnce  sync.Once
	byTemporal map[int][]*models.Spot
	byFull     map[models.ImageIndex][]*models.Spot
}

func (d *Dataset) ID() int                         { return d.id }
func (d *Dataset) Name() string                    { return d.name }
func (d *Dataset) Title() string                   { return d.title }
func (d *Dataset) Width() int                      { return d.width }
func (d *Dataset) Height() int                     { return d.height }
func (d *Dataset) PixelSize() float64              { return d.pixelSize }
func (d *Dataset) ZStepSize() float64              { return d.zStepSize }
func (d *Dataset) Shape() models.Shape             { return d.shape }
func (d *Dataset) HalfSize() int                   { return d.halfSize }
func (d *Dataset) NrChannels() int                 { return d.nrChannels }
func (d *Dataset) NrFrames() int                   { return d.nrFrames }
func (d *Dataset) NrSlices() int                   { return d.nrSlices }
func (d *Dataset) NrPositions() int                { return d.nrPositions }
func (d *Dataset) Coordinates() models.Coordinates { return d.coordinates }
func (d *Dataset) IsTrack() bool                   { return d.isTrack }
func (d *Dataset) HasZ() bool                      { return d.hasZ }
func (d *Dataset) MinZ() float64                   { return d.minZ }
func (d *Dataset) MaxZ() float64                   { return d.maxZ }

// BoxSize is the side length of the fitting box in pixels
func (d *Dataset) BoxSize() int { return 2 * d.halfSize }

// Len returns the number of spots
func (d *Dataset) Len() int { return len(d.spots) }

// Spot returns the i-th spot in detection order. Spots are shared with the
// dataset's indexes and must not be modified; Clone one to change it.
func (d *Dataset) Spot(i int) *models.Spot { return d.spots[i] }

// Spots returns a copy of the spot sequence in detection order. The spots
// themselves are shared, see Spot.
func (d *Dataset) Spots() []*models.Spot { return slices.Clone(d.spots) }

// MeanX returns the mean x center. Only set for tracks.
func (d *Dataset) MeanX() float64 { return d.meanX }

// MeanY returns the mean y center. Only set for tracks.
func (d *Dataset) MeanY() float64 { return d.meanY }

// StdX returns the standard deviation of x centers. Only set for tracks.
func (d *Dataset) StdX() float64 { return d.stdX }

// StdY returns the standard deviation of y centers. Only set for tracks.
func (d *Dataset) StdY() float64 { return d.stdY }

// Std returns the radial standard deviation of the centers. Only set for tracks.
func (d *Dataset) Std() float64 { return d.std }

// TotalPhotons returns the summed intensity. Only set for tracks.
func (d *Dataset) TotalPhotons() float64 { return d.totalPhotons }

// Channels returns the sorted distinct channels. Only set for tracks.
func (d *Dataset) Channels() []int { return slices.Clone(d.channels) }

// Builder returns a builder preloaded with this dataset's attributes and
// spots, for deriving a new dataset.
func (d *Dataset) Builder() *Builder {
	return &Builder{
		Name:        d.name,
		Title:       d.title,
		Width:       d.width,
		Height:      d.height,
		PixelSize:   d.pixelSize,
		ZStepSize:   d.zStepSize,
		Shape:       d.shape,
		HalfSize:    d.halfSize,
		NrChannels:  d.nrChannels,
		NrFrames:    d.nrFrames,
		NrSlices:    d.nrSlices,
		NrPositions: d.nrPositions,
		Coordinates: d.coordinates,
		IsTrack:     d.isTrack,
		HasZ:        d.hasZ,
		MinZ:        d.minZ,
		MaxZ:        d.maxZ,
		Spots:       slices.Clone(d.spots),
	}
}

// computeTrackStatistics fills the derived fields in one pass over the spots
func (d *Dataset) computeTrackStatistics() {
	points := make([]models.Point, len(d.spots))
	seen := make(map[int]bool)
	for i, s := range d.spots {
		points[i] = s.Center()
		d.totalPhotons += s.Intensity()
		if !seen[s.Channel()] {
			seen[s.Channel()] = true
			d.channels = append(d.channels, s.Channel())
		}
	}
	sort.Ints(d.channels)

	mean, err := stats.MeanXY(points)
	if err != nil {
		return
	}
	d.meanX = mean.X
	d.meanY = mean.Y
	sd := stats.StdDevsXY(points, mean)
	d.stdX = sd.X
	d.stdY = sd.Y
	d.std = stats.RadialStdDev(points, mean)
}
