// Package stats contains the numeric helpers shared by the fitting, pairing
// and dataset code. Sums are accumulated in slice order so results are
// reproducible to the last bit.
package stats

import (
	"errors"
	"math"
	"math/rand/v2"
	"sort"

	"gaussianfit/internal/models"
)

// ErrEmpty is returned when a statistic is undefined for an empty input
var ErrEmpty = errors.New("stats: empty input")

// Mean returns the arithmetic mean. An empty slice is an error.
func Mean(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, ErrEmpty
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values)), nil
}

// StdDev returns the sample standard deviation, or 0 when fewer than two
// values are given.
func StdDev(values []float64) float64 {
	mean, err := Mean(values)
	if err != nil {
		return 0
	}
	return StdDevWithMean(values, mean)
}

// StdDevWithMean returns sqrt(sum((x-mean)^2)/(n-1)) using a mean computed by
// the caller, or 0 when n < 2.
func StdDevWithMean(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var ss float64
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)-1))
}

// MeanXY returns the mean of a point list
func MeanXY(points []models.Point) (models.Point, error) {
	if len(points) == 0 {
		return models.Point{}, ErrEmpty
	}
	var m models.Point
	for _, p := range points {
		m.X += p.X
		m.Y += p.Y
	}
	n := float64(len(points))
	m.X /= n
	m.Y /= n
	return m, nil
}

// StdDevsXY returns the per-axis sample standard deviation around mean
func StdDevsXY(points []models.Point, mean models.Point) models.Point {
	if len(points) < 2 {
		return models.Point{}
	}
	var sx, sy float64
	for _, p := range points {
		sx += (p.X - mean.X) * (p.X - mean.X)
		sy += (p.Y - mean.Y) * (p.Y - mean.Y)
	}
	n := float64(len(points) - 1)
	return models.Point{X: math.Sqrt(sx / n), Y: math.Sqrt(sy / n)}
}

// RadialStdDev returns sqrt(sum((x-mx)^2+(y-my)^2)/(n-1))
func RadialStdDev(points []models.Point, mean models.Point) float64 {
	if len(points) < 2 {
		return 0
	}
	var ss float64
	for _, p := range points {
		ss += (p.X-mean.X)*(p.X-mean.X) + (p.Y-mean.Y)*(p.Y-mean.Y)
	}
	return math.Sqrt(ss / float64(len(points)-1))
}

// MaxIndex returns the index of the largest value; the first one wins on
// ties. It returns -1 for an empty slice.
func MaxIndex(values []float64) int {
	idx := -1
	for i, v := range values {
		if idx < 0 || v > values[idx] {
			idx = i
		}
	}
	return idx
}

// IndicesClosestTo ranks every index by the absolute distance of its value
// from target, nearest first. Equal distances keep their original order.
func IndicesClosestTo(values []float64, target float64) []int {
	idx := make([]int, len(values))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return math.Abs(values[idx[i]]-target) < math.Abs(values[idx[j]]-target)
	})
	return idx
}

// Bootstrap draws len(values) samples with replacement
func Bootstrap(values []float64, rng *rand.Rand) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	for i := range out {
		out[i] = values[rng.IntN(len(values))]
	}
	return out
}
