package patrol

import (
	"errors"
	"fmt"
)

// Terminal run outcomes. They are wrapped with context and matched with errors.Is.
var (
	ErrNoMatchingPatrols  = errors.New("no patrols matched the type and leader filter")
	ErrNoObservations     = errors.New("patrols matched but no observations were fetched")
	ErrNoPointsInWindow   = errors.New("no points found within patrol time ranges")
	ErrNoQualifyingTracks = errors.New("no patrols with multiple points found (need at least 2 points to create a line)")
	ErrMalformedTimestamp = errors.New("malformed timestamp")
	ErrNoSegments         = errors.New("no patrol segments to aggregate events for")
)

// Recoverable, per-segment failures. They never abort a run and are reported
// through Diagnostic values.
var (
	ErrSegmentFetch = errors.New("segment event fetch failed")
	ErrDetailFetch  = errors.New("event detail fetch failed")
)

// TimestampError describes a timestamp that could not be parsed.
type TimestampError struct {
	Field    string
	PatrolID string
	Value    string
}

func (e *TimestampError) Error() string {
	msg := fmt.Sprintf("%v %q", ErrMalformedTimestamp, e.Value)
	if e.Field != "" {
		msg += " in " + e.Field
	}
	if e.PatrolID != "" {
		msg += " (patrol " + e.PatrolID + ")"
	}
	return msg
}

func (e *TimestampError) Unwrap() error { return ErrMalformedTimestamp }

// Diagnostic records a recoverable failure for one patrol segment.
type Diagnostic struct {
	SegmentID string
	Kind      error
	Err       error
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("segment %s: %v: %v", d.SegmentID, d.Kind, d.Err)
}

func (d Diagnostic) Unwrap() []error { return []error{d.Kind, d.Err} }
