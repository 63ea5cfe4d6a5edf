package export

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"

	"patrol-export/internal/patrol"
)

// JSONStdoutWriter prints tracks and events as JSON lines.
type JSONStdoutWriter struct {
	out io.Writer
}

// NewJSONStdoutWriter creates a JSONStdoutWriter writing to w, or to
// os.Stdout when w is nil.
func NewJSONStdoutWriter(w io.Writer) *JSONStdoutWriter {
	if w == nil {
		w = os.Stdout
	}
	return &JSONStdoutWriter{out: w}
}

// WriteTracks prints one line per track.
func (w *JSONStdoutWriter) WriteTracks(_ context.Context, tracks []patrol.Track) error {
	for _, t := range tracks {
		row, err := trackRow(t)
		if err != nil {
			return err
		}
		if err := w.line(row); err != nil {
			return err
		}
	}
	return nil
}

// WriteEvents prints one line per event.
func (w *JSONStdoutWriter) WriteEvents(_ context.Context, tbl *patrol.EventTable) error {
	if tbl == nil {
		return nil
	}
	for _, e := range tbl.Events {
		row, err := eventRow(e, tbl.Columns)
		if err != nil {
			return err
		}
		if err := w.line(row); err != nil {
			return err
		}
	}
	return nil
}

func (w *JSONStdoutWriter) line(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w.out, string(data))
	return err
}
