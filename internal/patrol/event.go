package patrol

import (
	"os"
	"sort"

	"github.com/goccy/go-json"
	"github.com/twpayne/go-geom"
)

// EventRecord is a field event as returned for a patrol segment.
type EventRecord struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	SerialNumber any             `json:"serial_number,omitempty"`
	Title        string          `json:"title,omitempty"`
	Priority     int             `json:"priority,omitempty"`
	State        string          `json:"state,omitempty"`
	Time         Stamp           `json:"time"`
	GeoJSON      json.RawMessage `json:"geojson,omitempty"`
	ReportedBy   any             `json:"reported_by,omitempty"`
	Location     any             `json:"location,omitempty"`
}

// Document exposes the nested parts of the record for fieldx lookups.
func (e EventRecord) Document() map[string]any {
	return map[string]any{
		"id":          e.ID,
		"reported_by": e.ReportedBy,
		"location":    e.Location,
	}
}

// EventDetail holds the type-specific attributes of one event, fetched
// separately and joined by EventID.
type EventDetail struct {
	EventID string         `json:"id"`
	Details map[string]any `json:"event_details"`
}

// ColumnSource records where a flattened event column came from.
type ColumnSource string

const (
	SourceEvent    ColumnSource = "event"
	SourceGeometry ColumnSource = "geometry"
	SourceReporter ColumnSource = "reporter"
	SourceLocation ColumnSource = "location"
	SourceDetail   ColumnSource = "detail"
	SourceDerived  ColumnSource = "derived"
)

// Column is a named column of the event table and its provenance.
type Column struct {
	Name   string
	Source ColumnSource
}

// FlattenedEvent is one event with its nested structures pulled out into
// flat columns. Geometry is never nil for a retained event.
type FlattenedEvent struct {
	ID           string
	SegmentID    string
	EventType    string
	SerialNumber string
	Title        string
	Priority     int
	State        string
	Time         Stamp
	Geometry     geom.T
	Longitude    float64
	Latitude     float64
	ReportedBy   string
	LocationLat  *float64
	LocationLon  *float64
	// Details maps detail_<key> columns to values. Nil when no detail matched.
	Details map[string]any
}

// Value returns the value of a named column. ok is false for absent values,
// such as a detail column the event has no entry for.
func (e FlattenedEvent) Value(col string) (any, bool) {
	switch col {
	case ColEventID:
		return e.ID, true
	case ColSegmentID:
		return e.SegmentID, true
	case ColEventType:
		return e.EventType, true
	case ColEventSerial:
		return e.SerialNumber, e.SerialNumber != ""
	case ColEventTitle:
		return e.Title, e.Title != ""
	case ColEventPriority:
		return e.Priority, true
	case ColEventState:
		return e.State, e.State != ""
	case ColEventTime:
		return e.Time.String(), !e.Time.IsZero()
	case ColLongitude:
		return e.Longitude, e.Geometry != nil
	case ColLatitude:
		return e.Latitude, e.Geometry != nil
	case ColReportedBy:
		return e.ReportedBy, e.ReportedBy != ""
	case ColLocationLat:
		if e.LocationLat == nil {
			return nil, false
		}
		return *e.LocationLat, true
	case ColLocationLon:
		if e.LocationLon == nil {
			return nil, false
		}
		return *e.LocationLon, true
	}
	v, ok := e.Details[col]
	return v, ok
}

// EventTable is the flattened event set of a run.
type EventTable struct {
	Events  []FlattenedEvent
	Columns []Column
}

// baseColumns are present on every event table, in this order.
var baseColumns = []Column{
	{ColEventID, SourceEvent},
	{ColSegmentID, SourceDerived},
	{ColEventType, SourceEvent},
	{ColEventSerial, SourceEvent},
	{ColEventTitle, SourceEvent},
	{ColEventPriority, SourceEvent},
	{ColEventState, SourceEvent},
	{ColEventTime, SourceEvent},
	{ColLongitude, SourceGeometry},
	{ColLatitude, SourceGeometry},
	{ColReportedBy, SourceReporter},
	{ColLocationLat, SourceLocation},
	{ColLocationLon, SourceLocation},
}

// NewEventTable builds a table whose columns are the base columns followed
// by every detail column seen on any event, sorted by name.
func NewEventTable(events []FlattenedEvent) *EventTable {
	cols := append([]Column(nil), baseColumns...)
	seen := map[string]bool{}
	var detail []string
	for _, e := range events {
		for k := range e.Details {
			if !seen[k] {
				seen[k] = true
				detail = append(detail, k)
			}
		}
	}
	sort.Strings(detail)
	for _, k := range detail {
		cols = append(cols, Column{Name: k, Source: SourceDetail})
	}
	return &EventTable{Events: events, Columns: cols}
}

// ColumnNames lists the table's column names in order.
func (t *EventTable) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Len is the number of events.
func (t *EventTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Events)
}

// EventTableName is the GreptimeDB table for flattened events. It can be
// overridden with GREPTIMEDB_EVENT_TABLE.
var EventTableName = func() string {
	if env := os.Getenv("GREPTIMEDB_EVENT_TABLE"); env != "" {
		return env
	}
	return "patrol_events"
}()

func (FlattenedEvent) TableName() string {
	return EventTableName
}
