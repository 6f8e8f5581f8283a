package dataset

import (
	"math"
	"reflect"
	"sync"
	"testing"

	"gaussianfit/internal/models"
)

// makeSpot creates a spot with a center and intensity
func makeSpot(channel, slice, frame, pos, nr, x, y int, xc, yc, intensity float64) *models.Spot {
	s := models.NewSpot(channel, slice, frame, pos, nr, x, y)
	s.SetData(intensity, 10, xc, yc, 0, 250, 1, 0, 15)
	return s
}

// createTestBuilder returns a builder with spots spread over three frames
// and two channels.
func createTestBuilder() *Builder {
	b := NewBuilder()
	b.Name = "test"
	b.NrFrames = 3
	b.NrChannels = 2
	b.PixelSize = 107
	b.HalfSize = 4
	b.Spots = []*models.Spot{
		makeSpot(1, 1, 1, 1, 1, 10, 10, 1070, 1070, 500),
		makeSpot(1, 1, 1, 1, 2, 20, 20, 2140, 2140, 600),
		makeSpot(2, 1, 1, 1, 1, 10, 11, 1075, 1180, 700),
		makeSpot(1, 1, 2, 1, 1, 10, 10, 1072, 1068, 550),
		makeSpot(1, 1, 3, 1, 1, 11, 10, 1180, 1071, 450),
	}
	return b
}

// TestCounter verifies IDs are unique under concurrent use
func TestCounter(t *testing.T) {
	c := NewCounter(5)
	if c.NextID() != 5 || c.NextID() != 6 {
		t.Fatalf("Counter did not start at 5")
	}

	seen := sync.Map{}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := c.NextID()
			if _, dup := seen.LoadOrStore(id, true); dup {
				t.Errorf("Duplicate ID %d", id)
			}
		}()
	}
	wg.Wait()
}

// TestBuildCopiesSpots verifies the dataset is isolated from the builder
func TestBuildCopiesSpots(t *testing.T) {
	b := createTestBuilder()
	ids := NewCounter(1)
	d := b.Build(ids)
	b.Spots = append(b.Spots[:0], makeSpot(9, 9, 9, 9, 9, 0, 0, 0, 0, 0))

	if d.Len() != 5 || d.Spot(0).Channel() != 1 {
		t.Errorf("Builder mutation leaked into dataset")
	}
	if d.ID() != 1 || b.Build(ids).ID() != 2 {
		t.Errorf("IDs not assigned from generator")
	}

	b = createTestBuilder()
	d = b.Build(nil)
	b.Spots[0].SetData(1, 1, 1, 1, 1, 1, 1, 1, 1)
	if d.Spot(0).XCenter() != 1070 || d.Spot(0).Intensity() != 500 {
		t.Errorf("Spot mutation after Build leaked into dataset")
	}

	spots := d.Spots()
	spots[0] = nil
	if d.Spot(0) == nil {
		t.Errorf("Spots() must return a copy")
	}

	empty := NewBuilder().Build(nil)
	if empty.Len() != 0 || empty.Spots() == nil {
		t.Errorf("Empty dataset must have an empty, non-nil spot list")
	}
}

// TestTemporalIndex verifies frame keys, the slice fallback and idempotence
func TestTemporalIndex(t *testing.T) {
	d := createTestBuilder().Build(nil)
	before := d.Spots()

	first := d.SpotsByTemporalKey(1)
	second := d.SpotsByTemporalKey(1)
	if len(first) != 3 {
		t.Fatalf("Expected 3 spots in frame 1, got %d", len(first))
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Repeated lookup returned a different result")
	}
	if !reflect.DeepEqual(before, d.Spots()) {
		t.Errorf("Lookup changed the spot order")
	}
	if got := d.SpotsByTemporalKey(42); got != nil {
		t.Errorf("Expected nil for an absent key, got %v", got)
	}
	if !reflect.DeepEqual(d.TemporalKeys(), []int{1, 2, 3}) {
		t.Errorf("Unexpected keys %v", d.TemporalKeys())
	}

	// equal counts fall back to slices
	b := createTestBuilder()
	b.NrFrames = 1
	b.NrSlices = 1
	bySlice := b.Build(nil)
	if n := len(bySlice.SpotsByTemporalKey(1)); n != 5 {
		t.Errorf("Expected all 5 spots under slice 1, got %d", n)
	}
}

// TestFullKeyIndex verifies exact 4-tuple lookups
func TestFullKeyIndex(t *testing.T) {
	d := createTestBuilder().Build(nil)
	got := d.SpotsByFullKey(1, 1, 1, 1)
	if len(got) != 2 || got[0].Nr() != 1 || got[1].Nr() != 2 {
		t.Errorf("Unexpected channel 1 spots in frame 1: %d", len(got))
	}
	if got := d.SpotsByFullKey(1, 1, 2, 1); len(got) != 1 {
		t.Errorf("Expected one channel 2 spot, got %d", len(got))
	}
	if got := d.SpotsByFullKey(1, 2, 1, 1); got != nil {
		t.Errorf("Expected no spots in slice 2")
	}
}

// TestFindByPositionAndFrame verifies the linear fallback
func TestFindByPositionAndFrame(t *testing.T) {
	d := createTestBuilder().Build(nil)
	s, ok := d.FindByPositionAndFrame(2, 1, 10, 10)
	if !ok || s.Frame() != 2 {
		t.Errorf("Expected the frame 2 spot at (10,10)")
	}
	if _, ok := d.FindByPositionAndFrame(2, 2, 10, 10); ok {
		t.Errorf("Found a spot in the wrong channel")
	}
}

// TestTrackStatistics verifies derived values for track datasets
func TestTrackStatistics(t *testing.T) {
	b := NewBuilder()
	b.IsTrack = true
	b.Spots = []*models.Spot{
		makeSpot(2, 1, 1, 1, 1, 0, 0, 0, 0, 100),
		makeSpot(1, 1, 2, 1, 1, 0, 0, 2, 0, 200),
		makeSpot(2, 1, 3, 1, 1, 0, 0, 0, 4, 300),
		makeSpot(1, 1, 4, 1, 1, 0, 0, 2, 4, 400),
	}
	d := b.Build(nil)

	if d.MeanX() != 1 || d.MeanY() != 2 {
		t.Errorf("Expected mean (1,2), got (%f,%f)", d.MeanX(), d.MeanY())
	}
	if math.Abs(d.StdX()-math.Sqrt(4.0/3.0)) > 1e-12 || math.Abs(d.StdY()-math.Sqrt(16.0/3.0)) > 1e-12 {
		t.Errorf("Unexpected std (%f,%f)", d.StdX(), d.StdY())
	}
	if math.Abs(d.Std()-math.Sqrt(20.0/3.0)) > 1e-12 {
		t.Errorf("Unexpected radial std %f", d.Std())
	}
	if d.TotalPhotons() != 1000 {
		t.Errorf("Expected 1000 photons, got %f", d.TotalPhotons())
	}
	if !reflect.DeepEqual(d.Channels(), []int{1, 2}) {
		t.Errorf("Expected channels [1 2], got %v", d.Channels())
	}

	// frozen at construction
	b.Spots[0].SetData(1e6, 0, 100, 100, 0, 0, 0, 0, 0)
	if d.TotalPhotons() != 1000 {
		t.Errorf("Derived statistics changed after construction")
	}

	summary, err := Summarize(d)
	if err != nil {
		t.Fatalf("Failed to summarize: %v", err)
	}
	if summary.NrSpots != 4 || summary.TotalPhotons != 1000 {
		t.Errorf("Unexpected summary %+v", summary)
	}

	if _, err := Summarize(createTestBuilder().Build(nil)); err == nil {
		t.Errorf("Expected error summarizing a non-track dataset")
	}
}

// TestFilter verifies inclusive, independently enabled bounds
func TestFilter(t *testing.T) {
	d := createTestBuilder().Build(nil)

	testCases := []struct {
		name   string
		filter SpotFilter
		want   int
	}{
		{"disabled", SpotFilter{}, 5},
		{"intensity", SpotFilter{Intensity: Range{Enabled: true, Min: 500, Max: 600}}, 3},
		{"intensity-disabled-bounds", SpotFilter{Intensity: Range{Enabled: false, Min: 500, Max: 600}}, 5},
		{"width", SpotFilter{Width: Range{Enabled: true, Min: 0, Max: 100}}, 0},
		{"both", SpotFilter{
			Width:     Range{Enabled: true, Min: 250, Max: 250},
			Intensity: Range{Enabled: true, Min: 0, Max: 500},
		}, 2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out := Filter(d, tc.filter, nil)
			if out.Len() != tc.want {
				t.Errorf("Expected %d spots, got %d", tc.want, out.Len())
			}
			if out.Name() != "test-Filtered" {
				t.Errorf("Unexpected name %q", out.Name())
			}
		})
	}
	if d.Len() != 5 {
		t.Errorf("Filter modified the source dataset")
	}
}

// TestSubtract verifies matching by image and preservation of originals
func TestSubtract(t *testing.T) {
	src := createTestBuilder()
	src.Spots[0].SetOriginalPosition(1, 2, 3)
	source := src.Build(nil)

	op := NewBuilder()
	op.Spots = []*models.Spot{
		makeSpot(1, 1, 1, 1, 1, 0, 0, 70, 70, 0),
		makeSpot(1, 1, 2, 1, 1, 0, 0, 72, 68, 0),
	}
	operand := op.Build(nil)

	out, err := Subtract(source, operand, nil)
	if err != nil {
		t.Fatalf("Failed to subtract: %v", err)
	}
	if out.Len() != 3 {
		t.Fatalf("Expected 3 matched spots, got %d", out.Len())
	}
	first := out.Spot(0)
	if first.XCenter() != 1000 || first.YCenter() != 1000 {
		t.Errorf("Expected (1000,1000), got (%f,%f)", first.XCenter(), first.YCenter())
	}
	if first.XOri() != 1 || first.YOri() != 2 || first.ZOri() != 3 {
		t.Errorf("Original position lost")
	}
	if source.Spot(0).XCenter() != 1070 {
		t.Errorf("Source spot modified")
	}

	op.Coordinates = models.Pixels
	if _, err := Subtract(source, op.Build(nil), nil); err == nil {
		t.Errorf("Expected error for mismatched units")
	}
}

// TestSubtractKeepsZAtZero verifies z centers of 0 still count as z data
func TestSubtractKeepsZAtZero(t *testing.T) {
	src := createTestBuilder()
	for _, s := range src.Spots {
		s.SetZCenter(100)
	}
	src.HasZ = true
	src.UpdateZRange()
	source := src.Build(nil)

	op := NewBuilder()
	for _, s := range source.Spots() {
		c := s.Clone()
		c.SetZCenter(100)
		op.Spots = append(op.Spots, c)
	}
	out, err := Subtract(source, op.Build(nil), nil)
	if err != nil {
		t.Fatalf("Failed to subtract: %v", err)
	}
	if !out.HasZ() || out.MinZ() != 0 || out.MaxZ() != 0 {
		t.Errorf("Expected z range [0, 0], got %v [%f, %f]", out.HasZ(), out.MinZ(), out.MaxZ())
	}
}

func TestUpdateZRange(t *testing.T) {
	b := createTestBuilder()
	b.Spots[1].SetZCenter(-40)
	b.Spots[2].SetZCenter(25)

	b.UpdateZRange()
	if b.HasZ || b.MinZ != 0 || b.MaxZ != 0 {
		t.Errorf("Range without z data: %v [%f, %f]", b.HasZ, b.MinZ, b.MaxZ)
	}

	b.HasZ = true
	b.UpdateZRange()
	if !b.HasZ || b.MinZ != -40 || b.MaxZ != 25 {
		t.Errorf("Expected [-40, 25], got %v [%f, %f]", b.HasZ, b.MinZ, b.MaxZ)
	}
}

// TestFromTrack verifies track datasets inherit parent attributes
func TestFromTrack(t *testing.T) {
	parent := createTestBuilder().Build(nil)
	tr := models.NewTrack(parent.Spot(0), parent.Spot(3))
	d := FromTrack(tr, parent, "track-1", NewCounter(10))
	if !d.IsTrack() || d.Len() != 2 || d.PixelSize() != 107 || d.ID() != 10 {
		t.Errorf("Unexpected track dataset: track=%v len=%d", d.IsTrack(), d.Len())
	}
	if d.MeanX() != 1071 {
		t.Errorf("Expected mean x 1071, got %f", d.MeanX())
	}
}
