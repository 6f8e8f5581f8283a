package dataset

import (
	"slices"
	"sort"

	"gaussianfit/internal/models"
)

// temporalKey returns the key used by the temporal index: the frame when
// there are more frames than slices, otherwise the slice.
func (d *Dataset) temporalKey(s *models.Spot) int {
	if d.nrFrames > d.nrSlices {
		return s.Frame()
	}
	return s.Slice()
}

// buildIndexes fills both indexes in a single pass
func (d *Dataset) buildIndexes() {
	d.byTemporal = make(map[int][]*models.Spot)
	d.byFull = make(map[models.ImageIndex][]*models.Spot)
	for _, s := range d.spots {
		k := d.temporalKey(s)
		d.byTemporal[k] = append(d.byTemporal[k], s)
		ik := s.Index()
		d.byFull[ik] = append(d.byFull[ik], s)
	}
}

// SpotsByTemporalKey returns the spots of one frame (or slice, see
// temporalKey) in detection order. An unknown key returns nil.
func (d *Dataset) SpotsByTemporalKey(key int) []*models.Spot {
	d.indexOnce.Do(d.buildIndexes)
	return slices.Clone(d.byTemporal[key])
}

// SpotsByFullKey returns the spots of one image. An unknown key returns nil.
func (d *Dataset) SpotsByFullKey(frame, slice, channel, position int) []*models.Spot {
	d.indexOnce.Do(d.buildIndexes)
	return slices.Clone(d.byFull[models.ImageIndex{Frame: frame, Slice: slice, Channel: channel, Position: position}])
}

// TemporalKeys returns the keys present in the temporal index in ascending order
func (d *Dataset) TemporalKeys() []int {
	d.indexOnce.Do(d.buildIndexes)
	keys := make([]int, 0, len(d.byTemporal))
	for k := range d.byTemporal {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// FindByPositionAndFrame returns the first spot in the given frame and
// channel whose seed pixel is (xPos, yPos). It scans every spot (O(n)) and
// does not depend on the indexes.
func (d *Dataset) FindByPositionAndFrame(frame, channel, xPos, yPos int) (*models.Spot, bool) {
	for _, s := range d.spots {
		if s.Frame() == frame && s.Channel() == channel && s.X() == xPos && s.Y() == yPos {
			return s, true
		}
	}
	return nil, false
}
