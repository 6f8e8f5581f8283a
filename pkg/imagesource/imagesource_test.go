package imagesource

import (
	"bytes"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/astrogo/fitsio"
)

func ramp(w, h int, offset float64) *Plane {
	p := NewPlane(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p.Set(x, y, offset+float64(y*w+x))
		}
	}
	return p
}

func TestBox(t *testing.T) {
	p := ramp(10, 8, 0)

	box, err := p.Box(5, 4, 2)
	if err != nil {
		t.Fatalf("Box failed: %v", err)
	}
	if len(box) != 16 {
		t.Fatalf("Box has %d pixels, expected 16", len(box))
	}
	// first row covers columns 3..6 of row 2
	want := []float64{23, 24, 25, 26}
	for i, v := range want {
		if box[i] != v {
			t.Errorf("box[%d] = %v, expected %v", i, box[i], v)
		}
	}
	if box[15] != 56 {
		t.Errorf("last pixel = %v, expected 56", box[15])
	}

	for _, c := range []struct{ x, y int }{{1, 4}, {5, 1}, {9, 4}, {5, 7}} {
		if _, err := p.Box(c.x, c.y, 2); err == nil {
			t.Errorf("Box at (%d, %d) should leave the image", c.x, c.y)
		}
	}
	// the box may touch the far edge
	if _, err := p.Box(8, 6, 2); err != nil {
		t.Errorf("Box at the edge failed: %v", err)
	}
}

func TestFITSRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		planes []*Plane
	}{
		{"single", []*Plane{ramp(7, 5, 0.5)}},
		{"cube", []*Plane{ramp(6, 4, 0), ramp(6, 4, 100), ramp(6, 4, -3.25)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := WriteFITS(&buf, tt.planes, fitsio.Card{Name: "EXPOSURE", Value: 0.1, Comment: "seconds"})
			if err != nil {
				t.Fatalf("WriteFITS failed: %v", err)
			}
			got, err := ReadFITS(&buf)
			if err != nil {
				t.Fatalf("ReadFITS failed: %v", err)
			}
			if len(got) != len(tt.planes) {
				t.Fatalf("Read %d planes, expected %d", len(got), len(tt.planes))
			}
			for i, p := range tt.planes {
				g := got[i]
				if g.Width != p.Width || g.Height != p.Height {
					t.Fatalf("Plane %d is %dx%d, expected %dx%d", i, g.Width, g.Height, p.Width, p.Height)
				}
				for k := range p.Pix {
					if g.Pix[k] != p.Pix[k] {
						t.Fatalf("Plane %d pixel %d = %v, expected %v", i, k, g.Pix[k], p.Pix[k])
					}
				}
			}
		})
	}
}

func TestSaveLoadFITS(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frames.fits")
	if err := SaveFITS(path, []*Plane{ramp(4, 4, 1), ramp(4, 4, 2)}); err != nil {
		t.Fatalf("SaveFITS failed: %v", err)
	}
	planes, err := LoadFITS(path)
	if err != nil {
		t.Fatalf("LoadFITS failed: %v", err)
	}
	if len(planes) != 2 || planes[1].At(3, 3) != 17 {
		t.Errorf("Unexpected planes after load")
	}

	if _, err := LoadFITS(filepath.Join(t.TempDir(), "missing.fits")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestWriteFITSRejectsMismatchedPlanes(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFITS(&buf, nil); err == nil {
		t.Error("Expected error for no planes")
	}
	if err := WriteFITS(&buf, []*Plane{NewPlane(4, 4), NewPlane(4, 5)}); err == nil {
		t.Error("Expected error for mismatched planes")
	}
}

// fitsHeader builds a primary header block from keyword/value pairs
func fitsHeader(cards ...[2]string) []byte {
	var sb strings.Builder
	for _, c := range cards {
		fmt.Fprintf(&sb, "%-80s", fmt.Sprintf("%-8s= %20s", c[0], c[1]))
	}
	fmt.Fprintf(&sb, "%-80s", "END")
	for sb.Len()%2880 != 0 {
		sb.WriteByte(' ')
	}
	return []byte(sb.String())
}

func TestReadFITSRejectsEmptyCube(t *testing.T) {
	header := fitsHeader(
		[2]string{"SIMPLE", "T"},
		[2]string{"BITPIX", "-64"},
		[2]string{"NAXIS", "3"},
		[2]string{"NAXIS1", "4"},
		[2]string{"NAXIS2", "4"},
		[2]string{"NAXIS3", "0"},
	)
	planes, err := ReadFITS(bytes.NewReader(header))
	if err == nil {
		t.Fatalf("Expected an error for a cube without frames, got %d planes", len(planes))
	}
	if planes != nil {
		t.Errorf("Expected no planes with the error")
	}
}

func TestSmooth(t *testing.T) {
	flat := NewPlane(16, 12)
	for i := range flat.Pix {
		flat.Pix[i] = 50
	}
	for i, v := range Smooth(flat, 1.5).Pix {
		if math.Abs(v-50) > 1e-9 {
			t.Fatalf("Flat pixel %d smoothed to %v", i, v)
		}
	}

	delta := NewPlane(32, 24)
	delta.Set(10, 8, 1000)
	s := Smooth(delta, 1.5)
	var sum float64
	for _, v := range s.Pix {
		sum += v
	}
	if math.Abs(sum-1000) > 1e-6 {
		t.Errorf("Smoothing changed the total from 1000 to %v", sum)
	}
	peak := s.At(10, 8)
	if want := 1000 / (2 * math.Pi * 1.5 * 1.5); math.Abs(peak-want) > 0.05*want {
		t.Errorf("Peak = %v, expected about %v", peak, want)
	}
	if s.At(11, 8) >= peak || math.Abs(s.At(11, 8)-s.At(9, 8)) > 1e-9 {
		t.Errorf("Smoothed delta is not symmetric around its peak")
	}

	unfiltered := Smooth(delta, 0)
	unfiltered.Set(10, 8, 0)
	if delta.At(10, 8) != 1000 {
		t.Error("Smooth must not share pixels with its input")
	}
}
