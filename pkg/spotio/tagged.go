package spotio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"gaussianfit/internal/models"
	"gaussianfit/pkg/dataset"
	"gaussianfit/pkg/logging"
)

// headerSize is the zero sentinel plus the big-endian length of the spot
// section
const headerSize = 12

// LoadTagged reads a tagged spot file
func LoadTagged(path string, opts Options) (*dataset.Builder, ReadStats, error) {
	f, err := openInput(path)
	if err != nil {
		return nil, ReadStats{}, err
	}
	defer f.Close()

	b, stats, err := ReadTagged(f, opts)
	if err != nil {
		return nil, stats, fmt.Errorf("%s: %w", path, err)
	}
	if b.Title == "" {
		b.Title = path
	}
	return b, stats, nil
}

// ReadTagged reads a tagged spot stream. Streams that start with the zero
// sentinel carry the summary record after the spots; all others start with
// the summary. Readers that cannot seek are buffered in memory first.
func ReadTagged(r io.Reader, opts Options) (*dataset.Builder, ReadStats, error) {
	var stats ReadStats

	rs, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, stats, fmt.Errorf("error reading tagged data: %w", err)
		}
		rs = bytes.NewReader(data)
	}
	start, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, stats, fmt.Errorf("error locating stream start: %w", err)
	}

	var head [headerSize]byte
	if _, err := io.ReadFull(rs, head[:4]); err != nil {
		return nil, stats, formatErrorf("stream too short for a header: %v", err)
	}

	var (
		list *spotList
		body *bufio.Reader
	)
	if binary.BigEndian.Uint32(head[:4]) != 0 {
		if _, err := rs.Seek(start, io.SeekStart); err != nil {
			return nil, stats, fmt.Errorf("error rewinding stream: %w", err)
		}
		body = bufio.NewReader(rs)
		if list, err = readSpotList(body, opts); err != nil {
			return nil, stats, err
		}
	} else {
		if _, err := io.ReadFull(rs, head[4:]); err != nil {
			return nil, stats, formatErrorf("truncated header: %v", err)
		}
		offset := int64(binary.BigEndian.Uint64(head[4:]))
		if offset < 0 {
			return nil, stats, formatErrorf("negative trailer offset %d", offset)
		}
		if _, err := rs.Seek(start+headerSize+offset, io.SeekStart); err != nil {
			return nil, stats, formatErrorf("trailer offset %d: %v", offset, err)
		}
		if list, err = readSpotList(bufio.NewReader(rs), opts); err != nil {
			return nil, stats, err
		}
		if _, err := rs.Seek(start+headerSize, io.SeekStart); err != nil {
			return nil, stats, fmt.Errorf("error seeking to spots: %w", err)
		}
		body = bufio.NewReader(io.LimitReader(rs, offset))
	}

	if list.nrSpots < 0 || list.nrSpots > int64(opts.maxSpots()) {
		return nil, stats, fmt.Errorf("%w: file declares %d spots", ErrTooLarge, list.nrSpots)
	}

	b := list.builder()
	withExtensions := list.appID == applicationID
	if list.nrSpots > 0 {
		b.Spots = make([]*models.Spot, 0, min(list.nrSpots, 1<<16))
	}
	for list.nrSpots == 0 || int64(stats.Spots+stats.Skipped) < list.nrSpots {
		msg, err := readDelimited(body, opts.maxRecordBytes())
		if err == io.EOF {
			break
		}
		if errors.Is(err, ErrTooLarge) {
			return nil, stats, err
		}
		if err != nil {
			stats.Skipped++
			logging.Warningf("Truncated spot record after %d spots: %v", stats.Spots, err)
			break
		}

		s, hasZ, err := decodeSpot(msg, withExtensions)
		if err != nil {
			stats.Skipped++
			continue
		}
		if hasZ {
			z := s.ZCenter()
			if !b.HasZ {
				b.HasZ = true
				b.MinZ, b.MaxZ = z, z
			}
			b.MinZ = min(b.MinZ, z)
			b.MaxZ = max(b.MaxZ, z)
		}
		b.Spots = append(b.Spots, s)
		stats.Spots++
	}

	if stats.Skipped > 0 {
		logging.Warningf("Skipped %d unreadable spot records", stats.Skipped)
	}
	return b, stats, nil
}

func readSpotList(r *bufio.Reader, opts Options) (*spotList, error) {
	msg, err := readDelimited(r, opts.maxRecordBytes())
	if errors.Is(err, ErrTooLarge) {
		return nil, err
	}
	if err != nil {
		return nil, formatErrorf("summary record: %v", err)
	}
	list, err := decodeSpotList(msg)
	if err != nil {
		return nil, formatErrorf("summary record: %v", err)
	}
	return list, nil
}

// readDelimited reads one varint length-prefixed record. It returns io.EOF
// only when the stream ends cleanly before a record.
func readDelimited(r *bufio.Reader, maxBytes int) ([]byte, error) {
	size, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if size > uint64(maxBytes) {
		return nil, fmt.Errorf("%w: record of %d bytes", ErrTooLarge, size)
	}
	msg := make([]byte, size)
	if _, err := io.ReadFull(r, msg); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return msg, nil
}

// SaveTagged writes d to path in the tagged format
func SaveTagged(path string, d *dataset.Dataset) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating %s: %w", path, err)
	}
	if err := WriteTagged(f, d); err != nil {
		f.Close()
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return f.Close()
}

// WriteTagged writes d in the tagged format. A seekable w gets the header
// patched once the spot section length is known; any other writer receives
// the fully buffered file in one pass. The caller must not write to w
// concurrently.
func WriteTagged(w io.Writer, d *dataset.Dataset) error {
	if ws, ok := w.(io.WriteSeeker); ok {
		return writeTaggedSeeking(ws, d)
	}
	return writeTaggedBuffered(w, d)
}

func writeTaggedSeeking(ws io.WriteSeeker, d *dataset.Dataset) error {
	start, err := ws.Seek(0, io.SeekCurrent)
	if err != nil {
		// not actually seekable, e.g. a pipe
		return writeTaggedBuffered(ws, d)
	}

	bw := bufio.NewWriter(ws)
	var head [headerSize]byte
	if _, err := bw.Write(head[:]); err != nil {
		return err
	}
	n, err := writeSpots(bw, d)
	if err != nil {
		return err
	}
	if _, err := bw.Write(appendDelimited(nil, encodeSpotList(nil, d))); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	end, err := ws.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint64(head[4:], uint64(n))
	if _, err := ws.Seek(start+4, io.SeekStart); err != nil {
		return fmt.Errorf("error seeking to header: %w", err)
	}
	if _, err := ws.Write(head[4:]); err != nil {
		return fmt.Errorf("error patching header: %w", err)
	}
	_, err = ws.Seek(end, io.SeekStart)
	return err
}

func writeTaggedBuffered(w io.Writer, d *dataset.Dataset) error {
	var body bytes.Buffer
	n, err := writeSpots(&body, d)
	if err != nil {
		return err
	}
	var head [headerSize]byte
	binary.BigEndian.PutUint64(head[4:], uint64(n))

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(head[:]); err != nil {
		return err
	}
	if _, err := body.WriteTo(bw); err != nil {
		return err
	}
	if _, err := bw.Write(appendDelimited(nil, encodeSpotList(nil, d))); err != nil {
		return err
	}
	return bw.Flush()
}

// writeSpots writes every spot as a delimited record and returns the number
// of bytes written
func writeSpots(w io.Writer, d *dataset.Dataset) (int64, error) {
	var (
		msg, rec []byte
		total    int64
	)
	hasZ := d.HasZ()
	for i := 0; i < d.Len(); i++ {
		msg = encodeSpot(msg[:0], d.Spot(i), hasZ)
		rec = appendDelimited(rec[:0], msg)
		n, err := w.Write(rec)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
