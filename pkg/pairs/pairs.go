// Package pairs matches spots of two channels that image the same emitter
// and analyses the distances between them.
package pairs

import (
	"cmp"
	"slices"

	"gaussianfit/internal/models"
	"gaussianfit/pkg/dataset"
	"gaussianfit/pkg/logging"
	"gaussianfit/pkg/spatial"
)

// Channels paired by Find
const (
	FirstChannel  = 1
	SecondChannel = 2
)

// FramePairs holds the pairs found in one frame of one position
type FramePairs struct {
	Position int
	Frame    int
	Pairs    []*models.SpotPair
}

type frameKey struct {
	position, frame int
}

// Find pairs every first-channel spot with the nearest second-channel spot
// of the same position and frame, if one lies within maxDistance. Several
// first-channel spots may share a partner. The result is ordered by
// position, then frame; pairs keep the detection order of the first
// channel.
func Find(d *dataset.Dataset, maxDistance float64) []FramePairs {
	type channels struct {
		first, second []*models.Spot
	}
	groups := make(map[frameKey]*channels)
	for i := range d.Len() {
		s := d.Spot(i)
		if s.Channel() != FirstChannel && s.Channel() != SecondChannel {
			continue
		}
		k := frameKey{s.Position(), s.Frame()}
		g := groups[k]
		if g == nil {
			g = &channels{}
			groups[k] = g
		}
		if s.Channel() == FirstChannel {
			g.first = append(g.first, s)
		} else {
			g.second = append(g.second, s)
		}
	}

	keys := make([]frameKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b frameKey) int {
		return cmp.Or(cmp.Compare(a.position, b.position), cmp.Compare(a.frame, b.frame))
	})

	out := make([]FramePairs, 0, len(keys))
	for _, k := range keys {
		g := groups[k]
		fp := FramePairs{Position: k.position, Frame: k.frame}
		if len(g.second) == 0 {
			logging.Warningf("No spots in channel %d of position %d frame %d", SecondChannel, k.position, k.frame)
			out = append(out, fp)
			continue
		}
		points := make([]models.Point, len(g.second))
		for i, s := range g.second {
			points[i] = s.Center()
		}
		idx := spatial.NewIndex(points)
		for _, s := range g.first {
			j, _, ok := idx.NearestWithin(s.Center(), maxDistance)
			if !ok {
				continue
			}
			partner := g.second[j]
			fp.Pairs = append(fp.Pairs, models.NewSpotPair(s, partner, s.Center(), partner.Center()))
		}
		out = append(out, fp)
	}
	return out
}

// Count returns the total number of pairs
func Count(frames []FramePairs) int {
	n := 0
	for _, f := range frames {
		n += len(f.Pairs)
	}
	return n
}

// AssembleTracks links pairs of consecutive frames into tracks. Starting
// from each pair not yet in a track, every later frame of the same position
// is searched for the closest free pair within maxDistance of the last
// pair's first point. Pairs are marked with UseInTrack as they are taken.
// A pair that finds no partner forms a track of one.
func AssembleTracks(frames []FramePairs, maxDistance float64) [][]*models.SpotPair {
	byPosition := make(map[int][]FramePairs)
	var positions []int
	for _, f := range frames {
		if _, ok := byPosition[f.Position]; !ok {
			positions = append(positions, f.Position)
		}
		byPosition[f.Position] = append(byPosition[f.Position], f)
	}
	slices.Sort(positions)

	var tracks [][]*models.SpotPair
	for _, pos := range positions {
		pf := byPosition[pos]
		slices.SortStableFunc(pf, func(a, b FramePairs) int { return cmp.Compare(a.Frame, b.Frame) })

		indexes := make([]*spatial.Index, len(pf))
		for i, f := range pf {
			points := make([]models.Point, len(f.Pairs))
			for j, p := range f.Pairs {
				points[j] = p.FirstPoint()
			}
			indexes[i] = spatial.NewIndex(points)
		}

		for fi, f := range pf {
			for _, start := range f.Pairs {
				if start.PartOfTrack() {
					continue
				}
				start.UseInTrack(true)
				track := []*models.SpotPair{start}
				last := start
				for si := fi + 1; si < len(pf); si++ {
					for _, j := range indexes[si].WithinRadius(last.FirstPoint(), maxDistance) {
						cand := pf[si].Pairs[j]
						if cand.PartOfTrack() {
							continue
						}
						cand.UseInTrack(true)
						track = append(track, cand)
						last = cand
						break
					}
				}
				tracks = append(tracks, track)
			}
		}
	}
	return tracks
}
