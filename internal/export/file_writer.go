package export

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"

	"patrol-export/internal/patrol"
)

// File formats written by FileWriter.
const (
	FormatGeoJSON = "geojson"
	FormatCSV     = "csv"
	FormatJSONL   = "jsonl"
)

// FileWriter writes tracks and events to files named after a base name, one
// file per format. Track files are <base>.<ext>, event files
// <base>_events.<ext>.
type FileWriter struct {
	dir        string
	base       string
	formats    []string
	fieldLimit int
	files      []string
}

// NewFileWriter creates dir if needed. fieldLimit applies to CSV track
// headers; event headers are not limited.
func NewFileWriter(dir, base string, formats []string, fieldLimit int) (*FileWriter, error) {
	for _, f := range formats {
		switch f {
		case FormatGeoJSON, FormatCSV, FormatJSONL:
		default:
			return nil, fmt.Errorf("unsupported file format %q", f)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileWriter{dir: dir, base: base, formats: formats, fieldLimit: fieldLimit}, nil
}

// Files lists the files written so far.
func (w *FileWriter) Files() []string {
	return append([]string(nil), w.files...)
}

// WriteTracks writes the track set in every configured format.
func (w *FileWriter) WriteTracks(_ context.Context, tracks []patrol.Track) error {
	for _, f := range w.formats {
		path := filepath.Join(w.dir, w.base+"."+f)
		err := w.create(path, func(bw *bufio.Writer) error {
			switch f {
			case FormatGeoJSON:
				data, err := TracksGeoJSON(tracks)
				if err != nil {
					return err
				}
				_, err = bw.Write(data)
				return err
			case FormatCSV:
				return WriteTracksCSV(bw, tracks, w.fieldLimit)
			default:
				enc := json.NewEncoder(bw)
				for _, t := range tracks {
					row, err := trackRow(t)
					if err != nil {
						return err
					}
					if err := enc.Encode(row); err != nil {
						return err
					}
				}
				return nil
			}
		})
		if err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

// WriteEvents writes the event table in every configured format.
func (w *FileWriter) WriteEvents(_ context.Context, tbl *patrol.EventTable) error {
	if tbl == nil {
		return nil
	}
	for _, f := range w.formats {
		path := filepath.Join(w.dir, w.base+"_events."+f)
		err := w.create(path, func(bw *bufio.Writer) error {
			switch f {
			case FormatGeoJSON:
				data, err := EventsGeoJSON(tbl)
				if err != nil {
					return err
				}
				_, err = bw.Write(data)
				return err
			case FormatCSV:
				return WriteEventsCSV(bw, tbl, 0)
			default:
				enc := json.NewEncoder(bw)
				for _, e := range tbl.Events {
					row, err := eventRow(e, tbl.Columns)
					if err != nil {
						return err
					}
					if err := enc.Encode(row); err != nil {
						return err
					}
				}
				return nil
			}
		})
		if err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

// create writes path through fn. A failed write removes the partial file.
func (w *FileWriter) create(path string, fn func(*bufio.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	err = fn(bw)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return err
	}
	w.files = append(w.files, path)
	return nil
}

// BaseName builds the export file base name <type>_<yymmdd>_<yymmdd>.
// Characters other than letters and digits become underscores; an empty
// type is "all".
func BaseName(patrolType, since, until string) string {
	t := strings.TrimSpace(patrolType)
	if t == "" {
		t = "all"
	}
	var b strings.Builder
	for _, r := range t {
		if ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String() + "_" + shortDay(since) + "_" + shortDay(until)
}

// shortDay turns 2025-10-01 into 251001. Other input is kept as digits only.
func shortDay(day string) string {
	digits := strings.Map(func(r rune) rune {
		if '0' <= r && r <= '9' {
			return r
		}
		return -1
	}, day)
	if len(digits) == 8 {
		return digits[2:]
	}
	if digits == "" {
		return "000000"
	}
	return digits
}
