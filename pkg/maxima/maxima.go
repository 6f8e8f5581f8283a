// Package maxima finds candidate spot positions in a pixel plane.
//
// A candidate is a local maximum that rises above the lowest pixel of its
// neighbourhood by more than a noise tolerance. Candidates closer than a
// minimum separation to a brighter one are dropped, and candidates too close
// to the image border to be fitted are never reported.
package maxima

import (
	"sort"

	"gaussianfit/pkg/imagesource"
)

// Candidate is a local maximum in pixel coordinates
type Candidate struct {
	X, Y  int
	Value float64
}

// Options controls the search
type Options struct {
	// NoiseTolerance is the height a maximum must reach above the local
	// minimum
	NoiseTolerance float64

	// MinSeparation is the smallest allowed distance in pixels between two
	// candidates; 0 keeps all of them
	MinSeparation int

	// Edge excludes maxima within Edge pixels of the image border, so a
	// box of half size Edge fits around each one
	Edge int

	// Radius is the half width of the window searched for the local
	// minimum. It defaults to Edge, and to 2 when Edge is 0.
	Radius int
}

func (o Options) radius() int {
	switch {
	case o.Radius > 0:
		return o.Radius
	case o.Edge > 0:
		return o.Edge
	}
	return 2
}

// Find returns the candidates of p, brightest first. Equal values keep
// raster order.
func Find(p *imagesource.Plane, opts Options) []Candidate {
	cands := findPeaks(p, opts)
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Value > cands[j].Value })
	return filterOutOverlaps(cands, p.Width, p.Height, opts.MinSeparation)
}

// findPeaks scans p in raster order for local maxima. On a plateau only the
// first pixel in raster order counts.
func findPeaks(p *imagesource.Plane, opts Options) []Candidate {
	e := max(opts.Edge, 0)
	r := opts.radius()
	var cands []Candidate
	for y := e; y < p.Height-e; y++ {
		for x := e; x < p.Width-e; x++ {
			v := p.At(x, y)
			if !isPeak(p, x, y, v) {
				continue
			}
			if v-localMin(p, x, y, r) <= opts.NoiseTolerance {
				continue
			}
			cands = append(cands, Candidate{X: x, Y: y, Value: v})
		}
	}
	return cands
}

func isPeak(p *imagesource.Plane, x, y int, v float64) bool {
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 || !p.Contains(x+dx, y+dy) {
				continue
			}
			n := p.At(x+dx, y+dy)
			// neighbours earlier in raster order must be strictly lower
			before := dy < 0 || (dy == 0 && dx < 0)
			if n > v || (before && n == v) {
				return false
			}
		}
	}
	return true
}

func localMin(p *imagesource.Plane, x, y, r int) float64 {
	m := p.At(x, y)
	for j := max(y-r, 0); j <= min(y+r, p.Height-1); j++ {
		for i := max(x-r, 0); i <= min(x+r, p.Width-1); i++ {
			m = min(m, p.At(i, j))
		}
	}
	return m
}

// filterOutOverlaps keeps a candidate only if no brighter kept candidate
// lies within sep pixels. Candidates are binned into a grid of sep-sized
// cells so only adjacent cells are searched.
func filterOutOverlaps(cands []Candidate, width, height, sep int) []Candidate {
	if sep <= 0 || len(cands) == 0 {
		return cands
	}
	xBins := (width + sep - 1) / sep
	yBins := (height + sep - 1) / sep
	bins := make([][]int, xBins*yBins)
	sepSquared := sep * sep

	kept := cands[:0]
next:
	for _, c := range cands {
		xCell, yCell := c.X/sep, c.Y/sep
		for dy := -1; dy <= 1; dy++ {
			if yCell+dy < 0 || yCell+dy >= yBins {
				continue
			}
			for dx := -1; dx <= 1; dx++ {
				if xCell+dx < 0 || xCell+dx >= xBins {
					continue
				}
				for _, k := range bins[(xCell+dx)+(yCell+dy)*xBins] {
					o := kept[k]
					ddx, ddy := c.X-o.X, c.Y-o.Y
					if ddx*ddx+ddy*ddy <= sepSquared {
						continue next
					}
				}
			}
		}
		cell := xCell + yCell*xBins
		bins[cell] = append(bins[cell], len(kept))
		kept = append(kept, c)
	}
	return kept
}
