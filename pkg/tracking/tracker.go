// Package tracking links spots of consecutive frames into tracks
package tracking

import (
	"cmp"
	"fmt"
	"slices"

	"gaussianfit/internal/models"
	"gaussianfit/pkg/dataset"
	"gaussianfit/pkg/logging"
	"gaussianfit/pkg/spatial"
)

// Options controls the tracker
type Options struct {
	// MaxDistance is the largest step between frames, in dataset units
	MaxDistance float64

	// MaxMissing is the number of consecutive frames a track may go
	// without a detection before it is closed
	MaxMissing int

	// MinLength drops tracks with fewer spots
	MinLength int
}

type groupKey struct {
	channel, position int
}

// Track links the spots of d frame by frame, separately for every channel
// and position. Each open track takes the closest unclaimed spot within
// MaxDistance of its last spot; open tracks are served in the order they
// were started. Spots that no track claims start new tracks. Tracks are
// returned ordered by channel, position and start.
func Track(d *dataset.Dataset, opts Options) []*models.Track {
	groups := make(map[groupKey]map[int][]*models.Spot)
	for i := range d.Len() {
		s := d.Spot(i)
		k := groupKey{s.Channel(), s.Position()}
		if groups[k] == nil {
			groups[k] = make(map[int][]*models.Spot)
		}
		groups[k][s.Frame()] = append(groups[k][s.Frame()], s)
	}
	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b groupKey) int {
		return cmp.Or(cmp.Compare(a.channel, b.channel), cmp.Compare(a.position, b.position))
	})

	var out []*models.Track
	for _, k := range keys {
		tracks := trackGroup(groups[k], opts)
		logging.Debugf("Channel %d position %d: %d tracks", k.channel, k.position, len(tracks))
		out = append(out, tracks...)
	}
	return out
}

func trackGroup(byFrame map[int][]*models.Spot, opts Options) []*models.Track {
	frames := make([]int, 0, len(byFrame))
	for f := range byFrame {
		frames = append(frames, f)
	}
	slices.Sort(frames)

	var all, open []*models.Track
	for f := frames[0]; f <= frames[len(frames)-1]; f++ {
		spots := byFrame[f]
		points := make([]models.Point, len(spots))
		for i, s := range spots {
			points[i] = s.Center()
		}
		idx := spatial.NewIndex(points)
		claimed := make([]bool, len(spots))

		still := open[:0]
		for _, t := range open {
			found := false
			for _, j := range idx.WithinRadius(t.Last().Center(), opts.MaxDistance) {
				if claimed[j] {
					continue
				}
				claimed[j] = true
				t.Add(spots[j])
				found = true
				break
			}
			if !found && t.MarkMissing() > opts.MaxMissing {
				continue
			}
			still = append(still, t)
		}
		open = still

		for j, s := range spots {
			if claimed[j] {
				continue
			}
			t := models.NewTrack(s)
			all = append(all, t)
			open = append(open, t)
		}
	}

	kept := all[:0]
	for _, t := range all {
		if t.Len() >= opts.MinLength {
			kept = append(kept, t)
		}
	}
	return kept
}

// ToDatasets turns tracks into track datasets named after the parent
func ToDatasets(tracks []*models.Track, parent *dataset.Dataset, ids dataset.IDGenerator) []*dataset.Dataset {
	out := make([]*dataset.Dataset, len(tracks))
	for i, t := range tracks {
		out[i] = dataset.FromTrack(t, parent, fmt.Sprintf("%s-Track%d", parent.Name(), i+1), ids)
	}
	return out
}
