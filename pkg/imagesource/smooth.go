package imagesource

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Smooth returns a copy of p convolved with a Gaussian of the given sigma in
// pixels. The filter is applied in the frequency domain, so the image wraps
// around at its borders. A non-positive sigma returns an unfiltered copy.
func Smooth(p *Plane, sigma float64) *Plane {
	out := &Plane{Width: p.Width, Height: p.Height, Pix: make([]float64, len(p.Pix))}
	copy(out.Pix, p.Pix)
	if sigma <= 0 || p.Width == 0 || p.Height == 0 {
		return out
	}

	w, h := p.Width, p.Height
	nc := w/2 + 1
	rowFFT := fourier.NewFFT(w)
	colFFT := fourier.NewCmplxFFT(h)

	// real transform of every row; spectrum[y*nc+k] holds coefficient k of row y
	spectrum := make([]complex128, h*nc)
	for y := 0; y < h; y++ {
		rowFFT.Coefficients(spectrum[y*nc:(y+1)*nc], p.Pix[y*w:(y+1)*w])
	}

	// complex transform down every coefficient column, filter, and back
	col := make([]complex128, h)
	for k := 0; k < nc; k++ {
		for y := 0; y < h; y++ {
			col[y] = spectrum[y*nc+k]
		}
		colFFT.Coefficients(col, col)
		u := float64(k) / float64(w)
		for j := range col {
			v := float64(j) / float64(h)
			if j > h/2 {
				v = float64(j-h) / float64(h)
			}
			col[j] *= complex(gaussianTransfer(u, v, sigma), 0)
		}
		colFFT.Sequence(col, col)
		for y := 0; y < h; y++ {
			spectrum[y*nc+k] = col[y]
		}
	}

	// the forward and inverse transforms scale by w*h
	scale := 1 / float64(w*h)
	for y := 0; y < h; y++ {
		row := out.Pix[y*w : (y+1)*w]
		rowFFT.Sequence(row, spectrum[y*nc:(y+1)*nc])
		for x := range row {
			row[x] *= scale
		}
	}
	return out
}

// gaussianTransfer is the Fourier transform of a unit-area Gaussian at
// frequency (u, v) in cycles per pixel
func gaussianTransfer(u, v, sigma float64) float64 {
	return math.Exp(-2 * math.Pi * math.Pi * sigma * sigma * (u*u + v*v))
}
