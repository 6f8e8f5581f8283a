package models

// Key identifies an auxiliary per-spot metric. The set is closed.
type Key int

const (
	// ApertureIntensity is the intensity measured by aperture photometry
	ApertureIntensity Key = iota

	// ApertureBackground is the background measured by aperture photometry
	ApertureBackground

	// IntensityRatio is the ratio of the fitted to the aperture intensity
	IntensityRatio

	// MSigma is an alternate localization precision estimate
	MSigma

	// IntegralApertureSigma is the precision estimated from the aperture integral
	IntegralApertureSigma

	numKeys
)

// Keys lists every extension key in serialization order.
var Keys = []Key{ApertureIntensity, ApertureBackground, IntensityRatio, MSigma, IntegralApertureSigma}

// String returns the column name used by the text format
func (k Key) String() string {
	switch k {
	case ApertureIntensity:
		return "intensity_aperture"
	case ApertureBackground:
		return "background_aperture"
	case IntensityRatio:
		return "intensity_ratio"
	case MSigma:
		return "m_sigma"
	case IntegralApertureSigma:
		return "integral_aperture_sigma"
	default:
		return "unknown"
	}
}

// Spot is one fitted point-emitter localization.
//
// The identity fields (channel, slice, frame, position, nr) and the seed pixel
// are fixed at construction. Fit results may be updated until the spot is
// handed to a dataset. Datasets keep their own clones and hand out shared
// pointers that callers must treat as read-only.
type Spot struct {
	channel  int
	slice    int
	frame    int
	position int
	nr       int

	// seed pixel
	x, y int

	xCenter float64
	yCenter float64
	zCenter float64

	intensity  float64
	background float64
	width      float64
	a          float64
	theta      float64
	sigma      float64

	// position before any correction was applied
	xOri, yOri, zOri float64

	values  [numKeys]float64
	present uint8
}

// NewSpot creates a spot with the given identity and seed pixel.
//
// Parameters:
//   - channel, slice, frame, position: location of the image in the acquisition
//   - nr: running detection index, unique within one image
//   - x, y: integer pixel seed of the detection
func NewSpot(channel, slice, frame, position, nr, x, y int) *Spot {
	return &Spot{
		channel:  channel,
		slice:    slice,
		frame:    frame,
		position: position,
		nr:       nr,
		x:        x,
		y:        y,
	}
}

// Channel returns the channel index
func (s *Spot) Channel() int { return s.channel }

// Slice returns the z-slice index
func (s *Spot) Slice() int { return s.slice }

// Frame returns the time-point index
func (s *Spot) Frame() int { return s.frame }

// Position returns the stage-position index
func (s *Spot) Position() int { return s.position }

// Nr returns the detection index within its image
func (s *Spot) Nr() int { return s.nr }

// X returns the seed pixel column
func (s *Spot) X() int { return s.x }

// Y returns the seed pixel row
func (s *Spot) Y() int { return s.y }

func (s *Spot) XCenter() float64    { return s.xCenter }
func (s *Spot) YCenter() float64    { return s.yCenter }
func (s *Spot) ZCenter() float64    { return s.zCenter }
func (s *Spot) Intensity() float64  { return s.intensity }
func (s *Spot) Background() float64 { return s.background }
func (s *Spot) Width() float64      { return s.width }
func (s *Spot) A() float64          { return s.a }
func (s *Spot) Theta() float64      { return s.theta }
func (s *Spot) Sigma() float64      { return s.sigma }
func (s *Spot) XOri() float64       { return s.xOri }
func (s *Spot) YOri() float64       { return s.yOri }
func (s *Spot) ZOri() float64       { return s.zOri }

// Center returns the fitted center as a point
func (s *Spot) Center() Point { return Point{X: s.xCenter, Y: s.yCenter} }

// SetData stores the fit results. It can be called any number of times.
func (s *Spot) SetData(intensity, background, xCenter, yCenter, zCenter, width, a, theta, sigma float64) {
	s.intensity = intensity
	s.background = background
	s.xCenter = xCenter
	s.yCenter = yCenter
	s.zCenter = zCenter
	s.width = width
	s.a = a
	s.theta = theta
	s.sigma = sigma
}

// SetZCenter updates only the z center
func (s *Spot) SetZCenter(z float64) { s.zCenter = z }

// SetOriginalPosition records the uncorrected position
func (s *Spot) SetOriginalPosition(x, y, z float64) {
	s.xOri = x
	s.yOri = y
	s.zOri = z
}

// SetValue stores an extension value
func (s *Spot) SetValue(k Key, v float64) {
	if k < 0 || k >= numKeys {
		return
	}
	s.values[k] = v
	s.present |= 1 << uint(k)
}

// Value returns an extension value and whether it is known
func (s *Spot) Value(k Key) (float64, bool) {
	if !s.HasValue(k) {
		return 0, false
	}
	return s.values[k], true
}

// ValueOr returns the extension value or def when it is unknown
func (s *Spot) ValueOr(k Key, def float64) float64 {
	if v, ok := s.Value(k); ok {
		return v
	}
	return def
}

// HasValue reports whether an extension value was set
func (s *Spot) HasValue(k Key) bool {
	if k < 0 || k >= numKeys {
		return false
	}
	return s.present&(1<<uint(k)) != 0
}

// Clone returns a copy with the same identity. The new spot can be
// modified without touching the receiver.
func (s *Spot) Clone() *Spot {
	c := *s
	return &c
}

// WithIdentity returns a copy placed at a different image location while
// keeping every measured value.
func (s *Spot) WithIdentity(channel, slice, frame, position, nr int) *Spot {
	c := *s
	c.channel = channel
	c.slice = slice
	c.frame = frame
	c.position = position
	c.nr = nr
	return &c
}

// Index returns the image key of the spot
func (s *Spot) Index() ImageIndex {
	return ImageIndex{Frame: s.frame, Slice: s.slice, Channel: s.channel, Position: s.position}
}
