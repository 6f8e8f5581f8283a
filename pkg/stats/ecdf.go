package stats

import (
	"errors"
	"sort"

	"gonum.org/v1/gonum/mat"

	"gaussianfit/internal/models"
)

// ECDF returns the empirical cumulative distribution of values. Points are
// sorted by value and point i gets y = (i + 0.5) / n.
func ECDF(values []float64) []models.Point {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	n := float64(len(sorted))
	out := make([]models.Point, len(sorted))
	for i, v := range sorted {
		out[i] = models.Point{X: v, Y: (float64(i) + 0.5) / n}
	}
	return out
}

// PCARotate centers the points and projects them onto their principal axes.
// The first coordinate of the result lies along the direction of largest
// variance.
func PCARotate(points []models.Point) ([]models.Point, error) {
	if len(points) == 0 {
		return nil, ErrEmpty
	}
	mean, _ := MeanXY(points)

	n := len(points)
	data := mat.NewDense(2, n, nil)
	for i, p := range points {
		data.Set(0, i, p.X-mean.X)
		data.Set(1, i, p.Y-mean.Y)
	}

	var svd mat.SVD
	if ok := svd.Factorize(data, mat.SVDThin); !ok {
		return nil, errors.New("stats: SVD did not converge")
	}
	var u mat.Dense
	svd.UTo(&u)

	var rotated mat.Dense
	rotated.Mul(u.T(), data)

	out := make([]models.Point, n)
	for i := range out {
		out[i] = models.Point{X: rotated.At(0, i), Y: rotated.At(1, i)}
	}
	return out, nil
}
