package spotio

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gaussianfit/internal/models"
	"gaussianfit/pkg/dataset"
	"gaussianfit/pkg/logging"
)

// textColumns are the fixed columns of the text format. A trailing z column
// follows when the dataset has z information.
var textColumns = []string{
	"molecule", "frame", "slice", "channel", "pos",
	"x_position", "y_position", "x", "y", "intensity",
	"background", "width", "a", "theta", "sigma",
	"intensity_aperture", "background_aperture", "intensity_ratio",
	"m_sigma", "integral_aperture_sigma",
}

// extension columns print with these decimals
var keyDecimals = map[models.Key]int{
	models.ApertureIntensity:     2,
	models.ApertureBackground:    2,
	models.IntensityRatio:        3,
	models.MSigma:                3,
	models.IntegralApertureSigma: 3,
}

// missingText marks an extension value that was never measured. Only this
// exact text is read as absent, so a measured -1 in a two-decimal column
// ("-1.00") survives.
const missingText = "-1.000"

func formatExtension(k models.Key, v float64) string {
	return strconv.FormatFloat(v, 'f', keyDecimals[k], 64)
}

// checkText rejects datasets the text format would silently change: header
// strings with separators and measured values that print as missingText
func checkText(d *dataset.Dataset) error {
	for _, v := range []string{d.Name(), d.Title()} {
		if strings.ContainsAny(v, "\t\r\n") {
			return fmt.Errorf("%w: %q contains a tab or line break", ErrUnrepresentable, v)
		}
	}
	for i := 0; i < d.Len(); i++ {
		s := d.Spot(i)
		for _, k := range models.Keys {
			if v, ok := s.Value(k); ok && formatExtension(k, v) == missingText {
				return fmt.Errorf("%w: spot %d of frame %d has %s %v, which reads back as not measured",
					ErrUnrepresentable, s.Nr(), s.Frame(), k, v)
			}
		}
	}
	return nil
}

// LoadText reads a tab-separated spot table
func LoadText(path string) (*dataset.Builder, ReadStats, error) {
	f, err := openInput(path)
	if err != nil {
		return nil, ReadStats{}, err
	}
	defer f.Close()

	b, stats, err := ReadText(f)
	if err != nil {
		return nil, stats, fmt.Errorf("%s: %w", path, err)
	}
	return b, stats, nil
}

// ReadText reads the text format. Rows whose field count differs from the
// column header, or that contain unparseable numbers, are skipped with a
// warning.
func ReadText(r io.Reader) (*dataset.Builder, ReadStats, error) {
	var stats ReadStats
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)

	if !sc.Scan() {
		return nil, stats, formatErrorf("missing summary line")
	}
	info := parseInfoLine(sc.Text())
	b, appID, err := builderFromInfo(info)
	if err != nil {
		return nil, stats, err
	}

	if !sc.Scan() {
		return nil, stats, formatErrorf("missing column header")
	}
	headers := strings.Split(sc.Text(), "\t")
	col := make(map[string]int, len(headers))
	for i, h := range headers {
		col[h] = i
	}
	for _, name := range textColumns[:15] {
		if _, ok := col[name]; !ok {
			return nil, stats, formatErrorf("missing column %q", name)
		}
	}
	_, zColumn := col["z"]
	if b.HasZ && !zColumn {
		return nil, stats, formatErrorf("has_Z set without a z column")
	}

	line := 2
	for sc.Scan() {
		line++
		fields := strings.Split(sc.Text(), "\t")
		if len(fields) != len(headers) {
			logging.Warningf("Skipping line %d: %d fields, expected %d", line, len(fields), len(headers))
			stats.Skipped++
			continue
		}
		s, err := parseTextRow(fields, col, appID == applicationID, b.HasZ)
		if err != nil {
			logging.Warningf("Skipping line %d: %v", line, err)
			stats.Skipped++
			continue
		}
		b.Spots = append(b.Spots, s)
		stats.Spots++
	}
	if err := sc.Err(); err != nil {
		return nil, stats, fmt.Errorf("error reading text data: %w", err)
	}

	if b.HasZ {
		for i, s := range b.Spots {
			z := s.ZCenter()
			if i == 0 {
				b.MinZ, b.MaxZ = z, z
				continue
			}
			b.MinZ = min(b.MinZ, z)
			b.MaxZ = max(b.MaxZ, z)
		}
	}
	return b, stats, nil
}

func parseInfoLine(line string) map[string]string {
	info := make(map[string]string)
	for _, part := range strings.Split(line, "\t") {
		k, v, ok := strings.Cut(part, ": ")
		if ok {
			info[k] = v
		}
	}
	return info
}

func builderFromInfo(info map[string]string) (*dataset.Builder, int, error) {
	ints := make(map[string]int)
	for _, key := range []string{"application_id", "nr_pixels_x", "nr_pixels_y", "box_size",
		"nr_channels", "nr_frames", "nr_slices", "nr_pos", "fit_mode"} {
		v, ok := info[key]
		if !ok {
			return nil, 0, formatErrorf("summary line lacks %s", key)
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, 0, formatErrorf("summary %s: %v", key, err)
		}
		ints[key] = n
	}
	pixelSize, err := strconv.ParseFloat(info["pixel_size"], 64)
	if err != nil {
		return nil, 0, formatErrorf("summary pixel_size: %v", err)
	}

	b := dataset.NewBuilder()
	b.Name = info["name"]
	b.Title = info["filepath"]
	b.Width = ints["nr_pixels_x"]
	b.Height = ints["nr_pixels_y"]
	b.PixelSize = pixelSize
	b.HalfSize = ints["box_size"] / 2
	b.NrChannels = ints["nr_channels"]
	b.NrFrames = ints["nr_frames"]
	b.NrSlices = ints["nr_slices"]
	b.NrPositions = ints["nr_pos"]
	b.Shape = models.Shape(ints["fit_mode"])
	if !b.Shape.Valid() {
		return nil, 0, formatErrorf("fit_mode %d", ints["fit_mode"])
	}
	b.IsTrack = info["is_track"] == "true"
	b.HasZ = info["has_Z"] == "true"
	if info["location_units"] == models.Pixels.String() {
		b.Coordinates = models.Pixels
	}
	if v, ok := info["z_step_size"]; ok {
		if b.ZStepSize, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, 0, formatErrorf("summary z_step_size: %v", err)
		}
	}
	return b, ints["application_id"], nil
}

// rowParser accumulates the first parse error of a row
type rowParser struct {
	fields []string
	col    map[string]int
	err    error
}

func (p *rowParser) int(name string) int {
	if p.err != nil {
		return 0
	}
	v, err := strconv.Atoi(p.fields[p.col[name]])
	if err != nil {
		p.err = fmt.Errorf("column %s: %w", name, err)
	}
	return v
}

func (p *rowParser) float(name string) float64 {
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(p.fields[p.col[name]], 64)
	if err != nil {
		p.err = fmt.Errorf("column %s: %w", name, err)
	}
	return v
}

func parseTextRow(fields []string, col map[string]int, withExtensions, hasZ bool) (*models.Spot, error) {
	p := &rowParser{fields: fields, col: col}
	s := models.NewSpot(p.int("channel"), p.int("slice"), p.int("frame"), p.int("pos"),
		p.int("molecule"), p.int("x_position"), p.int("y_position"))
	s.SetData(p.float("intensity"), p.float("background"), p.float("x"), p.float("y"), 0,
		p.float("width"), p.float("a"), p.float("theta"), p.float("sigma"))
	if hasZ {
		s.SetZCenter(p.float("z"))
	}
	if withExtensions {
		for _, k := range models.Keys {
			if _, ok := col[k.String()]; !ok {
				continue
			}
			if p.fields[col[k.String()]] == missingText {
				continue
			}
			s.SetValue(k, p.float(k.String()))
		}
	}
	return s, p.err
}

// SaveText writes d to path in the text format
func SaveText(path string, d *dataset.Dataset) error {
	if err := checkText(d); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating %s: %w", path, err)
	}
	if err := WriteText(f, d); err != nil {
		f.Close()
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return f.Close()
}

// WriteText writes d as a summary line, a column header and one row per
// spot. Nothing is written when d fails the checks of the format, which
// returns ErrUnrepresentable.
func WriteText(w io.Writer, d *dataset.Dataset) error {
	if err := checkText(d); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "application_id: %d\tname: %s\tfilepath: %s\tnr_pixels_x: %d\tnr_pixels_y: %d\t",
		applicationID, d.Name(), d.Title(), d.Width(), d.Height())
	fmt.Fprintf(bw, "pixel_size: %s\tnr_spots: %d\tbox_size: %d\tnr_channels: %d\tnr_frames: %d\t",
		strconv.FormatFloat(d.PixelSize(), 'f', -1, 64), d.Len(), d.BoxSize(), d.NrChannels(), d.NrFrames())
	fmt.Fprintf(bw, "nr_slices: %d\tnr_pos: %d\tlocation_units: %s\tintensity_units: PHOTONS\t",
		d.NrSlices(), d.NrPositions(), d.Coordinates())
	fmt.Fprintf(bw, "fit_mode: %d\tis_track: %t\thas_Z: %t\tz_step_size: %s\n",
		int(d.Shape()), d.IsTrack(), d.HasZ(), strconv.FormatFloat(d.ZStepSize(), 'f', -1, 64))

	bw.WriteString(strings.Join(textColumns, "\t"))
	if d.HasZ() {
		bw.WriteString("\tz")
	}
	bw.WriteByte('\n')

	for i := 0; i < d.Len(); i++ {
		s := d.Spot(i)
		fmt.Fprintf(bw, "%d\t%d\t%d\t%d\t%d\t%d\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.3f\t%.3f\t%.3f",
			s.Nr(), s.Frame(), s.Slice(), s.Channel(), s.Position(), s.X(), s.Y(),
			s.XCenter(), s.YCenter(), s.Intensity(), s.Background(), s.Width(),
			s.A(), s.Theta(), s.Sigma())
		for _, k := range models.Keys {
			bw.WriteByte('\t')
			if v, ok := s.Value(k); ok {
				bw.WriteString(formatExtension(k, v))
			} else {
				bw.WriteString(missingText)
			}
		}
		if d.HasZ() {
			fmt.Fprintf(bw, "\t%.2f", s.ZCenter())
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}
