package models

// Track is an ordered, append-only sequence of spots believed to come from
// one emitter across frames.
type Track struct {
	spots []*Spot

	// consecutive frames without a matching detection
	missing int

	centroid      Point
	centroidValid bool
}

// NewTrack starts a track with an optional first spot
func NewTrack(first ...*Spot) *Track {
	t := &Track{}
	for _, s := range first {
		t.Add(s)
	}
	return t
}

// Add appends a spot and resets the missing counter
func (t *Track) Add(s *Spot) {
	t.spots = append(t.spots, s)
	t.missing = 0
	t.centroidValid = false
}

// MarkMissing records a frame without a detection and returns the new count
func (t *Track) MarkMissing() int {
	t.missing++
	return t.missing
}

// Missing returns the number of consecutive frames without a detection
func (t *Track) Missing() int { return t.missing }

// Len returns the number of spots
func (t *Track) Len() int { return len(t.spots) }

// Spots returns the spots in insertion order. The slice must not be modified.
func (t *Track) Spots() []*Spot { return t.spots }

// Last returns the most recently added spot, or nil
func (t *Track) Last() *Spot {
	if len(t.spots) == 0 {
		return nil
	}
	return t.spots[len(t.spots)-1]
}

// Centroid returns the mean center of all spots. The value is cached until
// the next Add.
func (t *Track) Centroid() Point {
	if t.centroidValid {
		return t.centroid
	}
	var c Point
	if n := len(t.spots); n > 0 {
		for _, s := range t.spots {
			c.X += s.xCenter
			c.Y += s.yCenter
		}
		c.X /= float64(n)
		c.Y /= float64(n)
	}
	t.centroid = c
	t.centroidValid = true
	return c
}
