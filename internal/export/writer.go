package export

import (
	"context"
	"errors"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"patrol-export/internal/patrol"
)

// Writer is an export sink for the results of one run.
type Writer interface {
	WriteTracks(ctx context.Context, tracks []patrol.Track) error
	WriteEvents(ctx context.Context, events *patrol.EventTable) error
}

// fileProducer is implemented by writers that create files.
type fileProducer interface {
	Files() []string
}

// MultiWriter fans results out to several writers.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a MultiWriter. Nil writers are skipped.
func NewMultiWriter(ws ...Writer) *MultiWriter {
	mw := &MultiWriter{}
	for _, w := range ws {
		if w != nil {
			mw.writers = append(mw.writers, w)
		}
	}
	return mw
}

// WriteTracks sends tracks to every writer and stops at the first error.
func (mw *MultiWriter) WriteTracks(ctx context.Context, tracks []patrol.Track) error {
	for _, w := range mw.writers {
		if err := w.WriteTracks(ctx, tracks); err != nil {
			return err
		}
	}
	return nil
}

// WriteEvents sends the event table to every writer.
func (mw *MultiWriter) WriteEvents(ctx context.Context, events *patrol.EventTable) error {
	for _, w := range mw.writers {
		if err := w.WriteEvents(ctx, events); err != nil {
			return err
		}
	}
	return nil
}

// Files lists the files written by all file-producing writers.
func (mw *MultiWriter) Files() []string {
	var out []string
	for _, w := range mw.writers {
		if fp, ok := w.(fileProducer); ok {
			out = append(out, fp.Files()...)
		}
	}
	return out
}

// Close closes every writer that holds resources.
func (mw *MultiWriter) Close() error {
	var errs []error
	for _, w := range mw.writers {
		if c, ok := w.(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// trackRow is the JSON line form of a track.
func trackRow(t patrol.Track) (map[string]any, error) {
	row := trackProperties(t)
	g, err := encodeGeometry(t.Line)
	if err != nil {
		return nil, err
	}
	row[patrol.ColGeometry] = g
	return row, nil
}

// eventRow is the JSON line form of an event.
func eventRow(e patrol.FlattenedEvent, cols []patrol.Column) (map[string]any, error) {
	row := eventProperties(e, cols)
	g, err := encodeGeometry(e.Geometry)
	if err != nil {
		return nil, err
	}
	row[patrol.ColGeometry] = g
	return row, nil
}

func encodeGeometry(g geom.T) (*geojson.Geometry, error) {
	if g == nil {
		return nil, nil
	}
	return geojson.Encode(g)
}
