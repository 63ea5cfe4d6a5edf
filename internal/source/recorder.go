package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"

	"patrol-export/internal/patrol"
)

// Upstream is the full patrol source interface.
type Upstream interface {
	ListPatrols(ctx context.Context, f patrol.PatrolFilter) ([]patrol.PatrolRecord, error)
	ListObservations(ctx context.Context, patrols []patrol.PatrolRecord) ([]patrol.ObservationPoint, error)
	ListSegmentEvents(ctx context.Context, segmentID string) ([]patrol.EventRecord, error)
	FetchEventDetails(ctx context.Context, eventIDs []string) ([]patrol.EventDetail, error)
}

// Recorder passes every call through to an Upstream and appends the
// responses to a snapshot directory that Open can replay.
type Recorder struct {
	src Upstream

	mu    sync.Mutex
	files []*os.File
	pEnc  *json.Encoder
	oEnc  *json.Encoder
	eEnc  *json.Encoder
	dEnc  *json.Encoder
}

// NewRecorder creates dir and the four snapshot files in it.
func NewRecorder(src Upstream, dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	r := &Recorder{src: src}
	encs := []**json.Encoder{&r.pEnc, &r.oEnc, &r.eEnc, &r.dEnc}
	for i, name := range []string{PatrolsFile, ObservationsFile, EventsFile, DetailsFile} {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			r.Close()
			return nil, err
		}
		r.files = append(r.files, f)
		*encs[i] = json.NewEncoder(f)
	}
	return r, nil
}

func encodeAll[T any](mu *sync.Mutex, enc *json.Encoder, rows []T) error {
	mu.Lock()
	defer mu.Unlock()
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return err
		}
	}
	return nil
}

// ListPatrols records the patrols returned upstream.
func (r *Recorder) ListPatrols(ctx context.Context, f patrol.PatrolFilter) ([]patrol.PatrolRecord, error) {
	out, err := r.src.ListPatrols(ctx, f)
	if err != nil {
		return nil, err
	}
	return out, encodeAll(&r.mu, r.pEnc, out)
}

// ListObservations records the points returned upstream.
func (r *Recorder) ListObservations(ctx context.Context, patrols []patrol.PatrolRecord) ([]patrol.ObservationPoint, error) {
	out, err := r.src.ListObservations(ctx, patrols)
	if err != nil {
		return nil, err
	}
	return out, encodeAll(&r.mu, r.oEnc, out)
}

// ListSegmentEvents records the segment's events tagged with the segment id.
func (r *Recorder) ListSegmentEvents(ctx context.Context, segmentID string) ([]patrol.EventRecord, error) {
	out, err := r.src.ListSegmentEvents(ctx, segmentID)
	if err != nil {
		return nil, err
	}
	rows := make([]SegmentEvent, len(out))
	for i, e := range out {
		rows[i] = SegmentEvent{SegmentID: segmentID, Event: e}
	}
	return out, encodeAll(&r.mu, r.eEnc, rows)
}

// FetchEventDetails records the details returned upstream.
func (r *Recorder) FetchEventDetails(ctx context.Context, eventIDs []string) ([]patrol.EventDetail, error) {
	out, err := r.src.FetchEventDetails(ctx, eventIDs)
	if err != nil {
		return nil, err
	}
	return out, encodeAll(&r.mu, r.dEnc, out)
}

// Close closes the snapshot files.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, f := range r.files {
		errs = append(errs, f.Close())
	}
	r.files = nil
	return errors.Join(errs...)
}
