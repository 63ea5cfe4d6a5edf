// Package patrol holds the patrol, observation and event records of the tracking platform.
package patrol

import (
	"time"

	"patrol-export/internal/fieldx"
)

// Patrol states requested by default.
const (
	StateDone   = "done"
	StateActive = "active"
)

// DefaultStatuses is the status set used when a filter names none.
var DefaultStatuses = []string{StateDone, StateActive}

// PatrolFilter selects patrols upstream.
type PatrolFilter struct {
	Since      time.Time
	Until      time.Time
	PatrolType string
	Statuses   []string
}

// PatrolSegment is a segment object as received. Its shape varies between
// deployments (leader may be an object or a string, patrol_type a value or
// an object), so it stays untyped and is read through fieldx.
type PatrolSegment map[string]any

// ID returns the segment identifier.
func (s PatrolSegment) ID() string {
	return fieldx.FirstString(map[string]any(s), fieldx.Parse("id"))
}

// Bounds returns the segment's time range strings.
func (s PatrolSegment) Bounds() (start, end Stamp) {
	doc := map[string]any(s)
	start = StampOf(fieldx.FirstString(doc, fieldx.Parse("time_range.start_time"), fieldx.Parse("start_time")))
	end = StampOf(fieldx.FirstString(doc, fieldx.Parse("time_range.end_time"), fieldx.Parse("end_time")))
	return start, end
}

// PatrolRecord is one patrol with one or more segments.
type PatrolRecord struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	SerialNumber string          `json:"serial_number"`
	State        string          `json:"state"`
	Segments     []PatrolSegment `json:"patrol_segments"`
}

// Document exposes the record as a nested map for fieldx lookups.
func (p PatrolRecord) Document() map[string]any {
	segs := make([]any, len(p.Segments))
	for i, s := range p.Segments {
		segs[i] = map[string]any(s)
	}
	return map[string]any{
		"id":            p.ID,
		"title":         p.Title,
		"serial_number": p.SerialNumber,
		"state":         p.State,
		"segments":      segs,
	}
}

// Type is the patrol type of the first segment.
func (p PatrolRecord) Type() string { return fieldx.PatrolType(p.Document()) }

// Leader is the leader name of the first segment.
func (p PatrolRecord) Leader() string { return fieldx.LeaderName(p.Document()) }

// FirstSegment returns the segment that represents the patrol.
func (p PatrolRecord) FirstSegment() (PatrolSegment, bool) {
	if len(p.Segments) == 0 {
		return nil, false
	}
	return p.Segments[0], true
}

// SegmentID is the identifier of the first segment, or "".
func (p PatrolRecord) SegmentID() string {
	if s, ok := p.FirstSegment(); ok {
		return s.ID()
	}
	return ""
}

// ObservationPoint is one position fix attributed to a patrol. The patrol
// bounds are copied onto every point at fetch time.
type ObservationPoint struct {
	PatrolID          string  `json:"patrol_id"`
	SegmentID         string  `json:"patrol_segment_id,omitempty"`
	PatrolSerial      string  `json:"patrol_serial_number,omitempty"`
	PatrolTitle       string  `json:"patrol_title,omitempty"`
	PatrolTypeValue   string  `json:"patrol_type__value,omitempty"`
	PatrolTypeDisplay string  `json:"patrol_type__display,omitempty"`
	SubjectID         string  `json:"subject_id,omitempty"`
	SubjectName       string  `json:"subject_name,omitempty"`
	Lon               float64 `json:"longitude"`
	Lat               float64 `json:"latitude"`
	RecordedAt        Stamp   `json:"recorded_at"`
	PatrolStart       Stamp   `json:"patrol_start_time"`
	PatrolEnd         Stamp   `json:"patrol_end_time"`
}
