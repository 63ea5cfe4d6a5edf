package patrol

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Stamp is a timestamp exactly as delivered upstream: either a string, which
// may or may not carry a zone, or an instant.
type Stamp struct {
	Raw  string
	Time time.Time
}

// StampOf wraps a string timestamp.
func StampOf(s string) Stamp { return Stamp{Raw: s} }

// StampAt wraps an instant.
func StampAt(t time.Time) Stamp { return Stamp{Time: t} }

// IsZero reports whether no timestamp was delivered.
func (s Stamp) IsZero() bool {
	return strings.TrimSpace(s.Raw) == "" && s.Time.IsZero()
}

// Layouts accepted for string timestamps, tried in order. Layouts without a
// zone are read as UTC.
var stampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

// UTC normalizes the stamp. ok is false when the stamp is absent; err is a
// *TimestampError when a non-empty string cannot be parsed.
func (s Stamp) UTC() (t time.Time, ok bool, err error) {
	if !s.Time.IsZero() {
		return s.Time.UTC(), true, nil
	}
	raw := strings.TrimSpace(s.Raw)
	if raw == "" {
		return time.Time{}, false, nil
	}
	for _, layout := range stampLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t.UTC(), true, nil
		}
	}
	return time.Time{}, false, &TimestampError{Value: raw}
}

// String renders the normalized instant when it parses, the raw text otherwise.
func (s Stamp) String() string {
	if t, ok, err := s.UTC(); err == nil && ok {
		return t.Format(time.RFC3339Nano)
	}
	return s.Raw
}

func (s *Stamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = Stamp{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	*s = Stamp{Raw: raw}
	return nil
}

func (s Stamp) MarshalJSON() ([]byte, error) {
	switch {
	case !s.Time.IsZero():
		return json.Marshal(s.Time.Format(time.RFC3339Nano))
	case s.Raw != "":
		return json.Marshal(s.Raw)
	}
	return []byte("null"), nil
}
