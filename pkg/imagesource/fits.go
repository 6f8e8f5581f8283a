package imagesource

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/astrogo/fitsio"
)

// LoadFITS reads the primary image of a FITS file. A three-axis cube
// yields one plane per frame.
func LoadFITS(path string) ([]*Plane, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening %s: %w", path, err)
	}
	defer f.Close()

	planes, err := ReadFITS(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return planes, nil
}

// ErrNoImage is returned for a FITS file whose primary image holds no pixels
var ErrNoImage = errors.New("FITS file contains no image data")

// ReadFITS reads the primary image from r, applying BZERO and BSCALE. At
// least one plane is returned unless the error is non-nil.
func ReadFITS(r io.Reader) ([]*Plane, error) {
	fits, err := fitsio.Open(r)
	if err != nil {
		return nil, fmt.Errorf("error reading FITS: %w", err)
	}
	defer fits.Close()

	img, ok := fits.HDU(0).(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("primary HDU is not an image")
	}
	axes := img.Header().Axes()
	if len(axes) < 2 || len(axes) > 3 {
		return nil, fmt.Errorf("expected 2 or 3 axes, got %d", len(axes))
	}
	width, height, frames := axes[0], axes[1], 1
	if len(axes) == 3 {
		frames = axes[2]
	}
	if width <= 0 || height <= 0 || frames <= 0 {
		return nil, fmt.Errorf("%w: axes %v", ErrNoImage, axes)
	}

	var raw []float64
	if err := img.Read(&raw); err != nil {
		return nil, fmt.Errorf("error reading image data: %w", err)
	}
	if len(raw) != width*height*frames {
		return nil, fmt.Errorf("image has %d values, expected %d", len(raw), width*height*frames)
	}

	zero := cardFloat(img.Header(), "BZERO", 0)
	scale := cardFloat(img.Header(), "BSCALE", 1)
	planes := make([]*Plane, frames)
	n := width * height
	for i := range planes {
		p := &Plane{Width: width, Height: height, Pix: raw[i*n : (i+1)*n]}
		if zero != 0 || scale != 1 {
			for k, v := range p.Pix {
				p.Pix[k] = zero + scale*v
			}
		}
		planes[i] = p
	}
	return planes, nil
}

func cardFloat(h *fitsio.Header, name string, def float64) float64 {
	card := h.Get(name)
	if card == nil {
		return def
	}
	switch v := card.Value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// WriteFITS writes equally sized planes as a 64-bit float image, a cube
// when there is more than one
func WriteFITS(w io.Writer, planes []*Plane, metadata ...fitsio.Card) error {
	if len(planes) == 0 {
		return fmt.Errorf("no planes to write")
	}
	width, height := planes[0].Width, planes[0].Height
	data := make([]float64, 0, width*height*len(planes))
	for i, p := range planes {
		if p.Width != width || p.Height != height {
			return fmt.Errorf("plane %d is %dx%d, expected %dx%d", i, p.Width, p.Height, width, height)
		}
		data = append(data, p.Pix...)
	}

	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	dims := []int{width, height}
	if len(planes) > 1 {
		dims = append(dims, len(planes))
	}
	im := fitsio.NewImage(-64, dims)
	defer im.Close()
	if err := im.Header().Append(metadata...); err != nil {
		return err
	}
	if err := im.Write(data); err != nil {
		return err
	}
	return fits.Write(im)
}

// SaveFITS writes planes to path
func SaveFITS(path string, planes []*Plane, metadata ...fitsio.Card) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating %s: %w", path, err)
	}
	if err := WriteFITS(f, planes, metadata...); err != nil {
		f.Close()
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return f.Close()
}
