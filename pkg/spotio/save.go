package spotio

import (
	"fmt"
	"path/filepath"
	"strings"

	"gaussianfit/pkg/dataset"
	"gaussianfit/pkg/logging"
)

// Format identifies a spot file format
type Format int

const (
	Tagged Format = iota
	Text
	Bin
)

// Ext returns the file extension of the format, including the dot
func (f Format) Ext() string {
	switch f {
	case Text:
		return ".txt"
	case Bin:
		return ".bin"
	default:
		return ".tsf"
	}
}

func (f Format) String() string {
	switch f {
	case Text:
		return "text"
	case Bin:
		return "bin"
	default:
		return "tagged"
	}
}

// FormatFromPath picks the format from the file extension
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsf", ".pb":
		return Tagged, nil
	case ".txt", ".tsv":
		return Text, nil
	case ".bin":
		return Bin, nil
	}
	return 0, fmt.Errorf("%w: unknown extension %q", ErrFormat, filepath.Ext(path))
}

// ParseFormat accepts a format name or extension
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(name, ".")) {
	case "tagged", "tsf":
		return Tagged, nil
	case "text", "txt":
		return Text, nil
	case "bin":
		return Bin, nil
	}
	return 0, fmt.Errorf("unknown format %q", name)
}

// Load reads path in the format implied by its extension
func Load(path string, opts Options) (*dataset.Builder, ReadStats, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, ReadStats{}, err
	}
	logging.Debugf("Loading %s as %s", path, format)
	switch format {
	case Text:
		return LoadText(path)
	case Bin:
		return LoadBin(path, opts)
	default:
		return LoadTagged(path, opts)
	}
}

// Save writes d to path in the given format
func Save(path string, d *dataset.Dataset, format Format) error {
	switch format {
	case Text:
		return SaveText(path, d)
	case Bin:
		return SaveBin(path, d)
	default:
		return SaveTagged(path, d)
	}
}

// SaveResult is the outcome of writing one dataset
type SaveResult struct {
	Path string
	Err  error
}

// SaveAll writes datasets in one format. The first goes to path, the others
// next to it, named after the dataset. A failure only affects its own
// dataset.
func SaveAll(path string, datasets []*dataset.Dataset, format Format) []SaveResult {
	results := make([]SaveResult, 0, len(datasets))
	dir := filepath.Dir(path)
	for i, d := range datasets {
		target := path
		if i > 0 {
			target = filepath.Join(dir, filepath.Base(d.Name())+format.Ext())
		}
		err := Save(target, d, format)
		if err != nil {
			logging.Errorf("Failed to save %s: %v", target, err)
		} else {
			logging.Infof("Saved %d spots to %s", d.Len(), target)
		}
		results = append(results, SaveResult{Path: target, Err: err})
	}
	return results
}
