package spotio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"gaussianfit/internal/models"
	"gaussianfit/pkg/dataset"
	"gaussianfit/pkg/logging"
)

var (
	binMagic = []byte("M425")
	binGUID  = []byte("GUID")
)

const (
	// bytes following the GUID marker in files written by Nikon software
	binGUIDPadding = 53

	// the format does not store the pixel size
	binPixelSize = 160.0
	binImageSize = 256
	binHalfSize  = 2
)

// binRecord is one molecule as stored on disk, little-endian
type binRecord struct {
	X, Y      float32
	XC, YC    float32
	H         float32
	A         float32
	W         float32
	Phi       float32
	AX        float32
	B         float32
	Intensity float32
	C         int32
	Union     int32
	Frame     int32
	Union2    int32
	Link      int32
	Z, ZC     float32
}

// LoadBin reads a legacy .bin file
func LoadBin(path string, opts Options) (*dataset.Builder, ReadStats, error) {
	f, err := openInput(path)
	if err != nil {
		return nil, ReadStats{}, err
	}
	defer f.Close()

	b, stats, err := ReadBin(f, opts)
	if err != nil {
		return nil, stats, fmt.Errorf("%s: %w", path, err)
	}
	b.Name = filepath.Base(path)
	b.Title = b.Name
	return b, stats, nil
}

// ReadBin reads the legacy format: magic, an optional GUID block, the frame
// count, the molecule type and one counted block of records per frame.
// The format has no per-record framing, so a short read fails the file.
func ReadBin(r io.Reader, opts Options) (*dataset.Builder, ReadStats, error) {
	var stats ReadStats
	br := bufio.NewReader(r)

	magic := make([]byte, len(binMagic))
	if _, err := io.ReadFull(br, magic); err != nil || !bytes.Equal(magic, binMagic) {
		return nil, stats, formatErrorf("not a .bin file")
	}
	if marker, err := br.Peek(len(binGUID)); err == nil && bytes.Equal(marker, binGUID) {
		if _, err := br.Discard(len(binGUID) + binGUIDPadding); err != nil {
			return nil, stats, formatErrorf("truncated GUID block: %v", err)
		}
	}

	var head struct {
		NrFrames int32
		MolType  int32
	}
	if err := binary.Read(br, binary.LittleEndian, &head); err != nil {
		return nil, stats, formatErrorf("truncated header: %v", err)
	}
	if head.NrFrames < 0 {
		return nil, stats, formatErrorf("negative frame count %d", head.NrFrames)
	}

	b := dataset.NewBuilder()
	b.Width, b.Height = binImageSize, binImageSize
	b.PixelSize = binPixelSize
	b.Shape = models.Ellipse
	b.HalfSize = binHalfSize
	b.NrFrames = int(head.NrFrames) + 1

	var rec binRecord
	nr := 0
	for i := 0; i <= int(head.NrFrames); i++ {
		var count int32
		if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
			return nil, stats, formatErrorf("frame %d: missing molecule count: %v", i, err)
		}
		if count < 0 || nr+int(count) > opts.maxSpots() {
			return nil, stats, fmt.Errorf("%w: frame %d declares %d molecules", ErrTooLarge, i, count)
		}
		for j := 0; j < int(count); j++ {
			if err := binary.Read(br, binary.LittleEndian, &rec); err != nil {
				if errors.Is(err, io.EOF) {
					err = io.ErrUnexpectedEOF
				}
				return nil, stats, formatErrorf("frame %d molecule %d: %v", i, j, err)
			}
			s := models.NewSpot(0, 0, i, 0, nr, int(rec.XC), int(rec.YC))
			s.SetData(float64(rec.Intensity), float64(rec.B),
				binPixelSize*float64(rec.XC), binPixelSize*float64(rec.YC), 0,
				float64(rec.W), float64(rec.AX), float64(rec.Phi), float64(rec.C))
			s.SetZCenter(float64(rec.ZC))
			s.SetOriginalPosition(float64(rec.X), float64(rec.Y), float64(rec.Z))
			b.Spots = append(b.Spots, s)
			nr++
		}
	}
	stats.Spots = nr

	for _, s := range b.Spots {
		if s.ZCenter() != 0 {
			b.HasZ = true
			break
		}
	}
	if b.HasZ {
		b.MinZ, b.MaxZ = b.Spots[0].ZCenter(), b.Spots[0].ZCenter()
		for _, s := range b.Spots[1:] {
			b.MinZ = min(b.MinZ, s.ZCenter())
			b.MaxZ = max(b.MaxZ, s.ZCenter())
		}
	}
	return b, stats, nil
}

// SaveBin writes d to path in the legacy format
func SaveBin(path string, d *dataset.Dataset) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating %s: %w", path, err)
	}
	if err := WriteBin(f, d); err != nil {
		f.Close()
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return f.Close()
}

// WriteBin writes d in the legacy format, one block per frame from 0 to the
// highest frame. Centers are stored in units of the format's fixed 160 nm
// pixel. Spots with a negative frame cannot be represented. Sigma goes into
// the integer category field, so its fraction is dropped with a warning.
func WriteBin(w io.Writer, d *dataset.Dataset) error {
	lastFrame, truncated := 0, 0
	byFrame := make(map[int][]*models.Spot)
	for i := 0; i < d.Len(); i++ {
		s := d.Spot(i)
		if s.Frame() < 0 {
			return fmt.Errorf("spot %d has negative frame %d", s.Nr(), s.Frame())
		}
		if s.Sigma() != math.Trunc(s.Sigma()) {
			truncated++
		}
		lastFrame = max(lastFrame, s.Frame())
		byFrame[s.Frame()] = append(byFrame[s.Frame()], s)
	}
	if truncated > 0 {
		logging.Warningf("%d of %d spots lose the fraction of their sigma in the .bin format", truncated, d.Len())
	}

	bw := bufio.NewWriter(w)
	bw.Write(binMagic)
	head := [2]int32{int32(lastFrame), 0}
	if err := binary.Write(bw, binary.LittleEndian, head); err != nil {
		return err
	}
	for frame := 0; frame <= lastFrame; frame++ {
		spots := byFrame[frame]
		if err := binary.Write(bw, binary.LittleEndian, int32(len(spots))); err != nil {
			return err
		}
		for _, s := range spots {
			rec := binRecord{
				X:         float32(s.XOri()),
				Y:         float32(s.YOri()),
				XC:        float32(s.XCenter() / binPixelSize),
				YC:        float32(s.YCenter() / binPixelSize),
				H:         float32(s.Intensity()),
				W:         float32(s.Width()),
				Phi:       float32(s.Theta()),
				AX:        float32(s.A()),
				B:         float32(s.Background()),
				Intensity: float32(s.Intensity()),
				C:         int32(s.Sigma()),
				Frame:     int32(frame),
				Link:      -1,
				Z:         float32(s.ZOri()),
				ZC:        float32(s.ZCenter()),
			}
			if err := binary.Write(bw, binary.LittleEndian, &rec); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}
