// Package spotio reads and writes spot datasets in three formats: the
// tagged spot file (length-delimited protocol buffer records), a
// tab-separated text table and the legacy little-endian .bin layout.
//
// Readers return a dataset.Builder so the caller decides when the dataset
// is built and which ID it receives. Individual malformed records are
// skipped and counted in ReadStats; header corruption fails the file.
package spotio

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

var (
	// ErrNotFound is returned when the input file does not exist
	ErrNotFound = errors.New("spotio: file not found")

	// ErrFormat is returned when a file header cannot be interpreted
	ErrFormat = errors.New("spotio: unrecognized file format")

	// ErrUnrepresentable is returned by writers when a dataset holds text or
	// values the format cannot carry without changing their meaning
	ErrUnrepresentable = errors.New("spotio: data cannot be represented in this format")

	// ErrTooLarge is returned when a record or declared count exceeds the
	// configured limits. Callers should suggest splitting the data.
	ErrTooLarge = errors.New("spotio: data exceeds configured limits")
)

// ReadStats reports what a reader saw
type ReadStats struct {
	// Spots is the number of spots read successfully
	Spots int

	// Skipped is the number of records that could not be parsed
	Skipped int
}

// Options bounds readers. Zero values select the defaults.
type Options struct {
	// MaxRecordBytes is the largest accepted tagged record
	MaxRecordBytes int

	// MaxSpots is the largest accepted declared spot count
	MaxSpots int
}

const (
	defaultMaxRecordBytes = 1 << 20
	defaultMaxSpots       = 50_000_000
)

func (o Options) maxRecordBytes() int {
	if o.MaxRecordBytes > 0 {
		return o.MaxRecordBytes
	}
	return defaultMaxRecordBytes
}

func (o Options) maxSpots() int {
	if o.MaxSpots > 0 {
		return o.MaxSpots
	}
	return defaultMaxSpots
}

// openInput opens path, mapping a missing file to ErrNotFound
func openInput(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("error opening %s: %w", path, err)
	}
	return f, nil
}

func formatErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrFormat, fmt.Sprintf(format, args...))
}
