package events

import (
	"bytes"

	"github.com/goccy/go-json"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"patrol-export/internal/fieldx"
	"patrol-export/internal/patrol"
)

// rawEvent is an event whose geometry has been recovered, waiting for the
// table-wide flattening pass.
type rawEvent struct {
	record     patrol.EventRecord
	segmentID  string
	geometry   geom.T
	properties map[string]any
	details    map[string]any
}

// recoverGeometry reads the event's spatial payload, which is either a
// GeoJSON Feature or a bare GeoJSON geometry. ok is false when there is no
// usable geometry.
func recoverGeometry(rec patrol.EventRecord, segmentID string) (rawEvent, bool) {
	ev := rawEvent{record: rec, segmentID: segmentID}
	payload := bytes.TrimSpace(rec.GeoJSON)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return ev, false
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return ev, false
	}
	switch head.Type {
	case "Feature":
		var f geojson.Feature
		if err := json.Unmarshal(payload, &f); err != nil || f.Geometry == nil {
			return ev, false
		}
		ev.geometry = f.Geometry
		ev.properties = f.Properties
	case "", "FeatureCollection":
		return ev, false
	default:
		var g geom.T
		if err := geojson.Unmarshal(payload, &g); err != nil || g == nil {
			return ev, false
		}
		ev.geometry = g
	}
	if ev.geometry.Empty() {
		return ev, false
	}
	return ev, true
}

// join attaches details to events by identifier. Events without a match
// keep nil details.
func join(events []rawEvent, details []patrol.EventDetail) {
	byID := make(map[string]map[string]any, len(details))
	for _, d := range details {
		if d.EventID != "" && d.Details != nil {
			byID[d.EventID] = d.Details
		}
	}
	for i := range events {
		if d, ok := byID[events[i].record.ID]; ok {
			events[i].details = d
		}
	}
}

// flatten runs once over the concatenated events of every segment.
func flatten(events []rawEvent) *patrol.EventTable {
	out := make([]patrol.FlattenedEvent, 0, len(events))
	for _, ev := range events {
		rec := ev.record
		doc := rec.Document()
		serial, _ := fieldx.Scalar(rec.SerialNumber)
		fe := patrol.FlattenedEvent{
			ID:           rec.ID,
			SegmentID:    ev.segmentID,
			EventType:    rec.EventType,
			SerialNumber: serial,
			Title:        rec.Title,
			Priority:     rec.Priority,
			State:        rec.State,
			Time:         rec.Time,
			Geometry:     ev.geometry,
			ReportedBy:   fieldx.ReporterName(doc),
			Details:      fieldx.FlattenDetail(ev.details),
		}
		fe.Longitude, fe.Latitude = representativePoint(ev.geometry)
		if fe.Time.IsZero() {
			fe.Time = patrol.StampOf(fieldx.FirstString(map[string]any{"properties": ev.properties}, fieldx.PayloadTimePaths...))
		}
		// The nested location may disagree with the geometry; both are kept.
		if lat, ok := fieldx.Float(doc, fieldx.LocationLatitudePaths...); ok {
			fe.LocationLat = &lat
		}
		if lon, ok := fieldx.Float(doc, fieldx.LocationLongitudePaths...); ok {
			fe.LocationLon = &lon
		}
		out = append(out, fe)
	}
	return patrol.NewEventTable(out)
}

// representativePoint returns a point's own coordinates, or the centre of
// the bounding box for any other geometry. g must not be empty.
func representativePoint(g geom.T) (lon, lat float64) {
	if p, ok := g.(*geom.Point); ok {
		return p.X(), p.Y()
	}
	b := extent(geom.NewBounds(geom.NoLayout), g)
	if b.IsEmpty() || b.Layout().Stride() < 2 {
		return 0, 0
	}
	return (b.Min(0) + b.Max(0)) / 2, (b.Min(1) + b.Max(1)) / 2
}

// extent grows b by every non-empty member of g. Collections are walked
// member by member since they carry no flat coordinates of their own.
func extent(b *geom.Bounds, g geom.T) *geom.Bounds {
	if gc, ok := g.(*geom.GeometryCollection); ok {
		for _, m := range gc.Geoms() {
			b = extent(b, m)
		}
		return b
	}
	if g.Empty() {
		return b
	}
	return b.Extend(g)
}
