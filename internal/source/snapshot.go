// Package source provides offline patrol sources: a snapshot directory of
// recorded platform responses and a recorder that writes such snapshots.
package source

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/goccy/go-json"

	"patrol-export/internal/patrol"
)

// Snapshot file names inside a snapshot directory.
const (
	PatrolsFile      = "patrols.jsonl"
	ObservationsFile = "observations.jsonl"
	EventsFile       = "events.jsonl"
	DetailsFile      = "details.jsonl"
)

// SegmentEvent is one line of the events file.
type SegmentEvent struct {
	SegmentID string             `json:"segment_id"`
	Event     patrol.EventRecord `json:"event"`
}

// Snapshot serves recorded responses. It is read-only after Open and safe
// for concurrent use.
type Snapshot struct {
	patrols []patrol.PatrolRecord
	points  []patrol.ObservationPoint
	events  map[string][]patrol.EventRecord
	details map[string]patrol.EventDetail
}

// Open loads a snapshot directory. Missing files are treated as empty; a
// directory holding no patrols file at all is an error.
func Open(dir string) (*Snapshot, error) {
	if _, err := os.Stat(filepath.Join(dir, PatrolsFile)); err != nil {
		return nil, err
	}
	s := &Snapshot{
		events:  map[string][]patrol.EventRecord{},
		details: map[string]patrol.EventDetail{},
	}
	if err := readJSONL(filepath.Join(dir, PatrolsFile), func(p patrol.PatrolRecord) {
		s.patrols = append(s.patrols, p)
	}); err != nil {
		return nil, err
	}
	if err := readJSONL(filepath.Join(dir, ObservationsFile), func(p patrol.ObservationPoint) {
		s.points = append(s.points, p)
	}); err != nil {
		return nil, err
	}
	if err := readJSONL(filepath.Join(dir, EventsFile), func(e SegmentEvent) {
		s.events[e.SegmentID] = append(s.events[e.SegmentID], e.Event)
	}); err != nil {
		return nil, err
	}
	if err := readJSONL(filepath.Join(dir, DetailsFile), func(d patrol.EventDetail) {
		s.details[d.EventID] = d
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// readJSONL decodes every line of path into T.
func readJSONL[T any](path string, fn func(T)) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	for {
		var v T
		if err := dec.Decode(&v); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		fn(v)
	}
}

// ListPatrols returns recorded patrols matching the filter's type and
// statuses. The window is not applied: a snapshot holds one window.
func (s *Snapshot) ListPatrols(_ context.Context, f patrol.PatrolFilter) ([]patrol.PatrolRecord, error) {
	statuses := f.Statuses
	if len(statuses) == 0 {
		statuses = patrol.DefaultStatuses
	}
	var out []patrol.PatrolRecord
	for _, p := range s.patrols {
		if f.PatrolType != "" && p.Type() != f.PatrolType {
			continue
		}
		if p.State != "" && !slices.Contains(statuses, p.State) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// ListObservations returns recorded points of the given patrols.
func (s *Snapshot) ListObservations(_ context.Context, patrols []patrol.PatrolRecord) ([]patrol.ObservationPoint, error) {
	ids := make(map[string]bool, len(patrols))
	for _, p := range patrols {
		ids[p.ID] = true
	}
	var out []patrol.ObservationPoint
	for _, pt := range s.points {
		if ids[pt.PatrolID] {
			out = append(out, pt)
		}
	}
	return out, nil
}

// ListSegmentEvents returns the recorded events of a segment.
func (s *Snapshot) ListSegmentEvents(ctx context.Context, segmentID string) ([]patrol.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return slices.Clone(s.events[segmentID]), nil
}

// FetchEventDetails returns the recorded details of the given events.
func (s *Snapshot) FetchEventDetails(ctx context.Context, eventIDs []string) ([]patrol.EventDetail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []patrol.EventDetail
	for _, id := range eventIDs {
		if d, ok := s.details[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}
