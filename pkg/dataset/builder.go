package dataset

import (
	"sync/atomic"

	"gaussianfit/internal/models"
)

// IDGenerator hands out dataset IDs. Implementations must never return the
// same value twice.
type IDGenerator interface {
	NextID() int
}

// Counter is an IDGenerator returning consecutive integers.
// It is safe for concurrent use.
type Counter struct {
	next atomic.Int64
}

// NewCounter creates a counter whose first ID is start
func NewCounter(start int) *Counter {
	c := &Counter{}
	c.next.Store(int64(start))
	return c
}

// NextID returns the next ID
func (c *Counter) NextID() int {
	return int(c.next.Add(1) - 1)
}

// Builder collects the attributes of a dataset. File readers return a
// populated Builder; callers may adjust it before calling Build.
type Builder struct {
	// Name is the display name
	Name string

	// Title is a longer description, usually the source file path
	Title string

	// Width and Height are the image dimensions in pixels
	Width, Height int

	// PixelSize is the pixel size in nm
	PixelSize float64

	// ZStepSize is the distance between slices in nm
	ZStepSize float64

	// Shape is the Gaussian model used for fitting
	Shape models.Shape

	// HalfSize is half the side of the fitting box in pixels
	HalfSize int

	NrChannels  int
	NrFrames    int
	NrSlices    int
	NrPositions int

	// Coordinates is the unit of the spot centers
	Coordinates models.Coordinates

	// IsTrack marks datasets holding a single track
	IsTrack bool

	// HasZ, MinZ and MaxZ describe the z range of the spots
	HasZ       bool
	MinZ, MaxZ float64

	// Spots in detection order
	Spots []*models.Spot
}

// NewBuilder returns a builder for a single-image symmetric-fit dataset
func NewBuilder() *Builder {
	return &Builder{
		Shape:       models.Symmetric,
		NrChannels:  1,
		NrFrames:    1,
		NrSlices:    1,
		NrPositions: 1,
		Coordinates: models.Nanometers,
	}
}

// UpdateZRange recomputes MinZ and MaxZ over every spot. HasZ records
// whether the acquisition carries z at all and is left as is; a z center of
// 0 is a valid position. Without HasZ the range is cleared.
func (b *Builder) UpdateZRange() {
	b.MinZ, b.MaxZ = 0, 0
	if !b.HasZ || len(b.Spots) == 0 {
		return
	}
	b.MinZ, b.MaxZ = b.Spots[0].ZCenter(), b.Spots[0].ZCenter()
	for _, s := range b.Spots[1:] {
		b.MinZ = min(b.MinZ, s.ZCenter())
		b.MaxZ = max(b.MaxZ, s.ZCenter())
	}
}

// Build creates the dataset. Every spot is cloned, so later changes to
// b.Spots or to the spots themselves do not affect the result. A nil ids
// gives the dataset ID 0.
func (b *Builder) Build(ids IDGenerator) *Dataset {
	d := &Dataset{
		name:        b.Name,
		title:       b.Title,
		width:       b.Width,
		height:      b.Height,
		pixelSize:   b.PixelSize,
		zStepSize:   b.ZStepSize,
		shape:       b.Shape,
		halfSize:    b.HalfSize,
		nrChannels:  b.NrChannels,
		nrFrames:    b.NrFrames,
		nrSlices:    b.NrSlices,
		nrPositions: b.NrPositions,
		coordinates: b.Coordinates,
		isTrack:     b.IsTrack,
		hasZ:        b.HasZ,
		minZ:        b.MinZ,
		maxZ:        b.MaxZ,
		spots:       make([]*models.Spot, len(b.Spots)),
	}
	for i, s := range b.Spots {
		d.spots[i] = s.Clone()
	}
	if ids != nil {
		d.id = ids.NextID()
	}
	if d.isTrack {
		d.computeTrackStatistics()
	}
	return d
}
