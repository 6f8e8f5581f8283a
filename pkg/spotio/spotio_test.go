package spotio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gaussianfit/internal/models"
	"gaussianfit/pkg/dataset"
	"gaussianfit/pkg/logging"
)

// sampleDataset builds n spots whose values survive float32 and two-decimal
// formatting exactly
func sampleDataset(n int, hasZ bool) *dataset.Dataset {
	b := dataset.NewBuilder()
	b.Name = "cells"
	b.Title = "/data/cells.tif"
	b.Width, b.Height = 512, 256
	b.PixelSize = 107
	b.ZStepSize = 50
	b.Shape = models.Ellipse
	b.HalfSize = 4
	b.NrChannels = 2
	b.NrFrames = 10
	b.NrPositions = 3
	for i := 0; i < n; i++ {
		f := float64(i)
		s := models.NewSpot(1+i%2, 0, i/2, i%3, i+1, 10+i, 20+i)
		s.SetData(5000+f*0.5, 12.5, 1234.5+f*0.25, 200.75-f, 0, 250.5, 1.25, 0.5, 8.75)
		if hasZ {
			s.SetZCenter(25 + 25*f)
		}
		if i%2 == 0 {
			s.SetValue(models.ApertureIntensity, 400.5)
		}
		b.Spots = append(b.Spots, s)
	}
	b.HasZ = hasZ
	b.UpdateZRange()
	return b.Build(nil)
}

func near(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func compareAttributes(t *testing.T, want *dataset.Dataset, got *dataset.Builder) {
	t.Helper()
	if got.Name != want.Name() || got.Width != want.Width() || got.Height != want.Height() {
		t.Errorf("Image attributes differ: got %s %dx%d", got.Name, got.Width, got.Height)
	}
	if got.PixelSize != want.PixelSize() || got.HalfSize != want.HalfSize() || got.Shape != want.Shape() {
		t.Errorf("Fit attributes differ: got pixel %f half %d shape %v", got.PixelSize, got.HalfSize, got.Shape)
	}
	if got.NrChannels != want.NrChannels() || got.NrFrames != want.NrFrames() ||
		got.NrSlices != want.NrSlices() || got.NrPositions != want.NrPositions() {
		t.Errorf("Counts differ: got %d %d %d %d", got.NrChannels, got.NrFrames, got.NrSlices, got.NrPositions)
	}
	if got.HasZ != want.HasZ() || got.MinZ != want.MinZ() || got.MaxZ != want.MaxZ() {
		t.Errorf("Z range differs: got %v [%f, %f], want %v [%f, %f]",
			got.HasZ, got.MinZ, got.MaxZ, want.HasZ(), want.MinZ(), want.MaxZ())
	}
	if got.Coordinates != want.Coordinates() || got.IsTrack != want.IsTrack() {
		t.Errorf("Coordinates or track flag differ")
	}
}

func compareSpots(t *testing.T, want *dataset.Dataset, got []*models.Spot, tol float64) {
	t.Helper()
	if len(got) != want.Len() {
		t.Fatalf("Expected %d spots, got %d", want.Len(), len(got))
	}
	for i, g := range got {
		w := want.Spot(i)
		if g.Index() != w.Index() || g.Nr() != w.Nr() || g.X() != w.X() || g.Y() != w.Y() {
			t.Errorf("Spot %d identity: got %+v nr %d, want %+v nr %d", i, g.Index(), g.Nr(), w.Index(), w.Nr())
		}
		pairs := [][2]float64{
			{g.XCenter(), w.XCenter()}, {g.YCenter(), w.YCenter()}, {g.ZCenter(), w.ZCenter()},
			{g.Intensity(), w.Intensity()}, {g.Background(), w.Background()},
			{g.Width(), w.Width()}, {g.A(), w.A()}, {g.Theta(), w.Theta()}, {g.Sigma(), w.Sigma()},
		}
		for j, p := range pairs {
			if !near(p[0], p[1], tol) {
				t.Errorf("Spot %d field %d: got %f, want %f", i, j, p[0], p[1])
			}
		}
		for _, k := range models.Keys {
			gv, gok := g.Value(k)
			wv, wok := w.Value(k)
			if gok != wok || !near(gv, wv, tol) {
				t.Errorf("Spot %d %s: got %f/%v, want %f/%v", i, k, gv, gok, wv, wok)
			}
		}
	}
}

// TestTaggedRoundTrip verifies write then read preserves spots and attributes
func TestTaggedRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		n    int
		hasZ bool
	}{
		{"empty", 0, false},
		{"single", 1, false},
		{"many", 25, false},
		{"with z", 7, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := sampleDataset(tc.n, tc.hasZ)
			var buf bytes.Buffer
			if err := WriteTagged(&buf, d); err != nil {
				t.Fatalf("Failed to write: %v", err)
			}
			b, stats, err := ReadTagged(bytes.NewReader(buf.Bytes()), Options{})
			if err != nil {
				t.Fatalf("Failed to read: %v", err)
			}
			if stats.Spots != tc.n || stats.Skipped != 0 {
				t.Errorf("Unexpected stats %+v", stats)
			}
			compareAttributes(t, d, b)
			if b.Title != d.Title() {
				t.Errorf("Expected title %q, got %q", d.Title(), b.Title)
			}
			compareSpots(t, d, b.Spots, 0)
		})
	}
}

// TestTaggedSeekingMatchesBuffered verifies both write paths produce the
// same bytes
func TestTaggedSeekingMatchesBuffered(t *testing.T) {
	d := sampleDataset(9, true)
	path := filepath.Join(t.TempDir(), "spots.tsf")
	if err := SaveTagged(path, d); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}
	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteTagged(struct{ io.Writer }{&buf}, d); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	if !bytes.Equal(onDisk, buf.Bytes()) {
		t.Errorf("Seeking and buffered writers differ: %d vs %d bytes", len(onDisk), buf.Len())
	}
	if binary.BigEndian.Uint32(onDisk[:4]) != 0 {
		t.Errorf("Expected zero sentinel")
	}

	b, _, err := Load(path, Options{})
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	compareSpots(t, d, b.Spots, 0)
}

// TestTaggedSummaryFirst verifies streams starting with the summary record
func TestTaggedSummaryFirst(t *testing.T) {
	d := sampleDataset(4, false)
	stream := appendDelimited(nil, encodeSpotList(nil, d))
	for i := 0; i < d.Len(); i++ {
		stream = appendDelimited(stream, encodeSpot(nil, d.Spot(i), false))
	}

	b, stats, err := ReadTagged(struct{ io.Reader }{bytes.NewReader(stream)}, Options{})
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	if stats.Spots != 4 {
		t.Errorf("Expected 4 spots, got %d", stats.Spots)
	}
	compareSpots(t, d, b.Spots, 0)
}

// TestTaggedSkipsBadRecords verifies a malformed record is counted, not fatal
func TestTaggedSkipsBadRecords(t *testing.T) {
	d := sampleDataset(3, false)
	var body []byte
	body = appendDelimited(body, encodeSpot(nil, d.Spot(0), false))
	body = appendDelimited(body, appendVarintField(nil, spotMolecule, 2))
	body = appendDelimited(body, encodeSpot(nil, d.Spot(2), false))

	stream := make([]byte, headerSize)
	binary.BigEndian.PutUint64(stream[4:], uint64(len(body)))
	stream = append(stream, body...)
	stream = appendDelimited(stream, encodeSpotList(nil, d))

	b, stats, err := ReadTagged(bytes.NewReader(stream), Options{})
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	if stats.Spots != 2 || stats.Skipped != 1 {
		t.Errorf("Expected 2 spots and 1 skipped, got %+v", stats)
	}
	if len(b.Spots) != 2 || b.Spots[1].Nr() != d.Spot(2).Nr() {
		t.Errorf("Wrong spots kept")
	}
}

// TestTaggedExtensionsNeedApplicationID verifies foreign files ignore the
// extension fields
func TestTaggedExtensionsNeedApplicationID(t *testing.T) {
	d := sampleDataset(1, false)
	s, _, err := decodeSpot(encodeSpot(nil, d.Spot(0), false), false)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if s.HasValue(models.ApertureIntensity) {
		t.Errorf("Extension read without application id 6")
	}
}

// TestTaggedErrors verifies header failures and limits
func TestTaggedErrors(t *testing.T) {
	d := sampleDataset(3, false)
	var buf bytes.Buffer
	if err := WriteTagged(&buf, d); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	good := buf.Bytes()

	if _, _, err := ReadTagged(bytes.NewReader(good), Options{MaxSpots: 2}); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Expected ErrTooLarge for spot count, got %v", err)
	}
	if _, _, err := ReadTagged(bytes.NewReader(good), Options{MaxRecordBytes: 8}); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Expected ErrTooLarge for record size, got %v", err)
	}

	corrupt := bytes.Clone(good)
	binary.BigEndian.PutUint64(corrupt[4:], uint64(len(good)*2))
	if _, _, err := ReadTagged(bytes.NewReader(corrupt), Options{}); !errors.Is(err, ErrFormat) {
		t.Errorf("Expected ErrFormat for bad trailer offset, got %v", err)
	}
	if _, _, err := ReadTagged(bytes.NewReader([]byte{0, 0}), Options{}); !errors.Is(err, ErrFormat) {
		t.Errorf("Expected ErrFormat for short stream, got %v", err)
	}

	if _, _, err := Load(filepath.Join(t.TempDir(), "missing.tsf"), Options{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

// TestTextRoundTrip verifies the text format at its printed precision
func TestTextRoundTrip(t *testing.T) {
	for _, hasZ := range []bool{false, true} {
		d := sampleDataset(6, hasZ)
		var buf bytes.Buffer
		if err := WriteText(&buf, d); err != nil {
			t.Fatalf("Failed to write: %v", err)
		}
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		wantCols := len(textColumns)
		if hasZ {
			wantCols++
		}
		if n := len(strings.Split(lines[1], "\t")); n != wantCols {
			t.Errorf("Expected %d columns, got %d", wantCols, n)
		}
		if !strings.Contains(lines[2], missingText) {
			t.Errorf("Expected missing sentinel in %q", lines[2])
		}

		b, stats, err := ReadText(&buf)
		if err != nil {
			t.Fatalf("Failed to read: %v", err)
		}
		if stats.Spots != 6 || stats.Skipped != 0 {
			t.Errorf("Unexpected stats %+v", stats)
		}
		compareAttributes(t, d, b)
		if b.ZStepSize != d.ZStepSize() || b.Title != d.Title() {
			t.Errorf("Expected z step %f title %q, got %f %q", d.ZStepSize(), d.Title(), b.ZStepSize, b.Title)
		}
		compareSpots(t, d, b.Spots, 0.005)
	}
}

// TestTextSkipsBadRows verifies malformed rows are skipped with a count
func TestTextSkipsBadRows(t *testing.T) {
	d := sampleDataset(3, false)
	var buf bytes.Buffer
	if err := WriteText(&buf, d); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	badCount := "1\t2\t3"
	badNumber := strings.Replace(lines[3], "\t", "\tx", 1)
	lines = append(lines[:3], append([]string{badCount, badNumber}, lines[3:]...)...)

	b, stats, err := ReadText(strings.NewReader(strings.Join(lines, "\n") + "\n"))
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	if stats.Spots != 3 || stats.Skipped != 2 {
		t.Errorf("Expected 3 spots and 2 skipped, got %+v", stats)
	}
	compareSpots(t, d, b.Spots, 0.005)
}

// TestTextMissingHeader verifies a broken summary line fails the file
func TestTextMissingHeader(t *testing.T) {
	_, _, err := ReadText(strings.NewReader("name: x\nmolecule\n"))
	if !errors.Is(err, ErrFormat) {
		t.Errorf("Expected ErrFormat, got %v", err)
	}
}

// TestTextEdgeValues verifies values that collide with the separators or
// the missing sentinel are either kept or refused, never altered
func TestTextEdgeValues(t *testing.T) {
	build := func(name string, k models.Key, v float64) *dataset.Dataset {
		b := dataset.NewBuilder()
		b.Name = name
		s := models.NewSpot(1, 0, 1, 0, 1, 3, 4)
		s.SetData(500, 10, 300, 400, 0, 250, 1, 0, 12)
		s.SetValue(k, v)
		b.Spots = append(b.Spots, s)
		return b.Build(nil)
	}

	var buf bytes.Buffer
	if err := WriteText(&buf, build("cells: run 2", models.ApertureIntensity, -1)); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	b, _, err := ReadText(&buf)
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	if b.Name != "cells: run 2" {
		t.Errorf("Name read back as %q", b.Name)
	}
	if v, ok := b.Spots[0].Value(models.ApertureIntensity); !ok || v != -1 {
		t.Errorf("Measured -1 read back as %v, %v", v, ok)
	}
	if b.Spots[0].HasValue(models.MSigma) {
		t.Errorf("Unset value read back as measured")
	}

	tests := []struct {
		name string
		d    *dataset.Dataset
	}{
		{"tab in name", build("a\tb", models.MSigma, 3)},
		{"newline in name", build("a\nb", models.MSigma, 3)},
		{"sentinel value", build("cells", models.MSigma, -1.0002)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteText(&buf, tt.d); !errors.Is(err, ErrUnrepresentable) {
				t.Errorf("Expected ErrUnrepresentable, got %v", err)
			}
			if buf.Len() != 0 {
				t.Errorf("Wrote %d bytes for a refused dataset", buf.Len())
			}
		})
	}
}

// TestBinRoundTrip verifies the legacy writer and reader agree
func TestBinRoundTrip(t *testing.T) {
	b := dataset.NewBuilder()
	b.Shape = models.Ellipse
	for i, xc := range []float64{10, 15.25, 30.5} {
		s := models.NewSpot(0, 0, i%2*2, 0, i, int(xc), 7)
		s.SetData(900+float64(i), 3.5, xc*binPixelSize, 7.5*binPixelSize, 0, 1.5, 0.25, 0.75, 12)
		s.SetZCenter(float64(i) * 10)
		s.SetOriginalPosition(xc+0.5, 7.25, 2)
		b.Spots = append(b.Spots, s)
	}
	d := b.Build(nil)

	path := filepath.Join(t.TempDir(), "old.bin")
	if err := SaveBin(path, d); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}
	got, stats, err := Load(path, Options{})
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if stats.Spots != 3 || got.NrFrames != 3 || got.Name != "old.bin" {
		t.Errorf("Unexpected stats %+v frames %d name %s", stats, got.NrFrames, got.Name)
	}
	if !got.HasZ || got.MinZ != 0 || got.MaxZ != 20 {
		t.Errorf("Expected z range [0, 20], got %v [%f, %f]", got.HasZ, got.MinZ, got.MaxZ)
	}

	// spots come back grouped by frame
	order := []int{0, 2, 1}
	for i, g := range got.Spots {
		w := d.Spot(order[i])
		if g.Frame() != w.Frame() || g.XCenter() != w.XCenter() || g.X() != w.X() {
			t.Errorf("Spot %d: got frame %d x %f, want frame %d x %f", i, g.Frame(), g.XCenter(), w.Frame(), w.XCenter())
		}
		if g.Sigma() != 12 || g.A() != 0.25 || g.Theta() != 0.75 || g.XOri() != w.XOri() {
			t.Errorf("Spot %d shape fields differ", i)
		}
	}
}

// binStream builds a legacy stream with one record per frame
func binStream(guid bool, xcs ...float32) []byte {
	var buf bytes.Buffer
	buf.WriteString("M425")
	if guid {
		buf.WriteString("GUID")
		buf.Write(make([]byte, binGUIDPadding))
	}
	binary.Write(&buf, binary.LittleEndian, [2]int32{int32(len(xcs) - 1), 0})
	for _, xc := range xcs {
		binary.Write(&buf, binary.LittleEndian, int32(1))
		binary.Write(&buf, binary.LittleEndian, binRecord{XC: xc, YC: 2, Intensity: 100, C: 5})
	}
	return buf.Bytes()
}

// warnings records warning messages
type warnings struct {
	msgs []string
}

func (w *warnings) Debugf(string, ...interface{}) {}
func (w *warnings) Infof(string, ...interface{})  {}
func (w *warnings) Warningf(f string, a ...interface{}) {
	w.msgs = append(w.msgs, fmt.Sprintf(f, a...))
}
func (w *warnings) Errorf(string, ...interface{})    {}
func (w *warnings) Criticalf(string, ...interface{}) {}
func (w *warnings) Shutdown()                        {}

// TestBinWarnsOnFractionalSigma verifies the lossy sigma field is reported
// once per write
func TestBinWarnsOnFractionalSigma(t *testing.T) {
	rec := &warnings{}
	restore := logging.SetLogger(rec)
	defer restore()

	withSigmas := func(sigmas ...float64) *dataset.Dataset {
		b := dataset.NewBuilder()
		for i, sigma := range sigmas {
			s := models.NewSpot(0, 0, i, 0, i, 1, 1)
			s.SetData(900, 3, 160, 160, 0, 1.5, 1, 0, sigma)
			b.Spots = append(b.Spots, s)
		}
		return b.Build(nil)
	}
	if err := WriteBin(io.Discard, withSigmas(12.5, 12, 7.25)); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	if len(rec.msgs) != 1 || !strings.Contains(rec.msgs[0], "2 of 3") {
		t.Errorf("Expected one warning about 2 of 3 spots, got %q", rec.msgs)
	}

	rec.msgs = nil
	if err := WriteBin(io.Discard, withSigmas(12, 9)); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	if len(rec.msgs) != 0 {
		t.Errorf("Unexpected warnings %q", rec.msgs)
	}
}

// TestBinHeaderVariants verifies the GUID block is optional
func TestBinHeaderVariants(t *testing.T) {
	for _, guid := range []bool{false, true} {
		b, stats, err := ReadBin(bytes.NewReader(binStream(guid, 3, 4)), Options{})
		if err != nil {
			t.Fatalf("GUID %v: failed to read: %v", guid, err)
		}
		if stats.Spots != 2 || b.NrFrames != 2 {
			t.Errorf("GUID %v: expected 2 spots in 2 frames, got %d in %d", guid, stats.Spots, b.NrFrames)
		}
		if b.Spots[1].XCenter() != 4*binPixelSize || b.Spots[1].Frame() != 1 || b.Spots[1].Nr() != 1 {
			t.Errorf("GUID %v: wrong second spot", guid)
		}
	}
}

// TestBinErrors verifies bad magic and truncation fail the file
func TestBinErrors(t *testing.T) {
	if _, _, err := ReadBin(strings.NewReader("M426xxxxxxxx"), Options{}); !errors.Is(err, ErrFormat) {
		t.Errorf("Expected ErrFormat for bad magic, got %v", err)
	}
	stream := binStream(false, 3, 4)
	if _, _, err := ReadBin(bytes.NewReader(stream[:len(stream)-10]), Options{}); !errors.Is(err, ErrFormat) {
		t.Errorf("Expected ErrFormat for truncated record, got %v", err)
	}
	if _, _, err := ReadBin(bytes.NewReader(stream), Options{MaxSpots: 1}); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Expected ErrTooLarge, got %v", err)
	}
}

// TestSaveAllContinuesAfterFailure verifies one failed dataset does not stop
// the others
func TestSaveAllContinuesAfterFailure(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "blocked.txt"), 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}

	rename := func(d *dataset.Dataset, name string) *dataset.Dataset {
		b := d.Builder()
		b.Name = name
		return b.Build(nil)
	}
	d := sampleDataset(2, false)
	results := SaveAll(filepath.Join(dir, "first.txt"),
		[]*dataset.Dataset{d, rename(d, "blocked"), rename(d, "third")}, Text)

	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Errorf("Unexpected failures: %v, %v", results[0].Err, results[2].Err)
	}
	if results[1].Err == nil {
		t.Errorf("Expected writing onto a directory to fail")
	}
	if _, err := os.Stat(filepath.Join(dir, "third.txt")); err != nil {
		t.Errorf("Third dataset not written: %v", err)
	}
}

// TestFormatFromPath verifies extension dispatch
func TestFormatFromPath(t *testing.T) {
	for path, want := range map[string]Format{"a.tsf": Tagged, "b.TXT": Text, "c.bin": Bin} {
		got, err := FormatFromPath(path)
		if err != nil || got != want {
			t.Errorf("%s: got %v %v, want %v", path, got, err, want)
		}
	}
	if _, err := FormatFromPath("d.csv"); !errors.Is(err, ErrFormat) {
		t.Errorf("Expected ErrFormat for unknown extension")
	}
}
