package models

import "math"

// SpotPair associates two spots, typically the same emitter seen in two
// channels. The points are supplied by the caller and need not be the
// spots' own centers (for example after registration).
type SpotPair struct {
	first       *Spot
	second      *Spot
	firstPoint  Point
	secondPoint Point

	partOfTrack bool
}

// NewSpotPair creates a pair that is not yet part of a track
func NewSpotPair(first, second *Spot, firstPoint, secondPoint Point) *SpotPair {
	return &SpotPair{
		first:       first,
		second:      second,
		firstPoint:  firstPoint,
		secondPoint: secondPoint,
	}
}

func (p *SpotPair) First() *Spot       { return p.first }
func (p *SpotPair) Second() *Spot      { return p.second }
func (p *SpotPair) FirstPoint() Point  { return p.firstPoint }
func (p *SpotPair) SecondPoint() Point { return p.secondPoint }

// PartOfTrack reports whether the pair has been assigned to a track
func (p *SpotPair) PartOfTrack() bool { return p.partOfTrack }

// UseInTrack marks the pair as belonging to a track or releases it
func (p *SpotPair) UseInTrack(v bool) { p.partOfTrack = v }

// Distance returns the distance between the two points
func (p *SpotPair) Distance() float64 {
	return p.firstPoint.Distance(p.secondPoint)
}

// Orientation returns the angle of the vector from the first to the second
// point, in radians in (-pi, pi].
func (p *SpotPair) Orientation() float64 {
	d := p.secondPoint.Sub(p.firstPoint)
	return math.Atan2(d.Y, d.X)
}
