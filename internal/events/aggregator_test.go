package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"patrol-export/internal/logging"
	"patrol-export/internal/patrol"
)

type fakeSource struct {
	mu          sync.Mutex
	events      map[string][]patrol.EventRecord
	details     map[string]map[string]any
	failSegment map[string]bool
	failDetails bool
	hang        map[string]bool
	detailCalls int
}

func (f *fakeSource) ListSegmentEvents(ctx context.Context, segmentID string) ([]patrol.EventRecord, error) {
	if f.hang[segmentID] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.failSegment[segmentID] {
		return nil, fmt.Errorf("status 502 for segment %s", segmentID)
	}
	return f.events[segmentID], nil
}

func (f *fakeSource) FetchEventDetails(_ context.Context, ids []string) ([]patrol.EventDetail, error) {
	f.mu.Lock()
	f.detailCalls++
	f.mu.Unlock()
	if f.failDetails {
		return nil, errors.New("details endpoint down")
	}
	var out []patrol.EventDetail
	for _, id := range ids {
		if d, ok := f.details[id]; ok {
			out = append(out, patrol.EventDetail{EventID: id, Details: d})
		}
	}
	return out, nil
}

func pointFeature(lon, lat float64, datetime string) []byte {
	return []byte(fmt.Sprintf(`{"type":"Feature","geometry":{"type":"Point","coordinates":[%g,%g]},"properties":{"datetime":%q}}`, lon, lat, datetime))
}

func event(id string, payload []byte) patrol.EventRecord {
	return patrol.EventRecord{
		ID:        id,
		EventType: "wildlife_sighting",
		Time:      patrol.StampOf("2025-10-25T08:00:00Z"),
		GeoJSON:   payload,
	}
}

func ctx() context.Context {
	return logging.NewContext(context.Background(), logging.Discard())
}

func TestAggregateEventsSkipsFailedSegment(t *testing.T) {
	src := &fakeSource{
		events: map[string][]patrol.EventRecord{
			"s1": {event("e1", pointFeature(36.1, -1.2, ""))},
			"s3": {event("e3", pointFeature(36.3, -1.4, ""))},
		},
		failSegment: map[string]bool{"s2": true},
	}
	res, err := NewAggregator(src, WithWorkers(2)).AggregateEvents(ctx(), []string{"s1", "s2", "s3"})
	if err != nil {
		t.Fatalf("AggregateEvents: %v", err)
	}
	if res.Table.Len() != 2 {
		t.Fatalf("expected 2 events, got %d", res.Table.Len())
	}
	if res.Table.Events[0].SegmentID != "s1" || res.Table.Events[1].SegmentID != "s3" {
		t.Fatalf("unexpected segments: %+v", res.Table.Events)
	}
	if len(res.Diagnostics) != 1 {
		t.Fatalf("expected 1 diagnostic, got %v", res.Diagnostics)
	}
	d := res.Diagnostics[0]
	if d.SegmentID != "s2" || !errors.Is(d, patrol.ErrSegmentFetch) {
		t.Fatalf("unexpected diagnostic %v", d)
	}
}

func TestAggregateEventsDetailColumns(t *testing.T) {
	src := &fakeSource{
		events: map[string][]patrol.EventRecord{
			"s1": {
				event("e1", pointFeature(36.1, -1.2, "")),
				event("e2", pointFeature(36.2, -1.3, "")),
			},
		},
		details: map[string]map[string]any{"e1": {"age": 5}},
	}
	res, err := NewAggregator(src).AggregateEvents(ctx(), []string{"s1"})
	if err != nil {
		t.Fatalf("AggregateEvents: %v", err)
	}
	names := res.Table.ColumnNames()
	if names[len(names)-1] != "detail_age" {
		t.Fatalf("expected detail_age column, got %v", names)
	}
	e1, e2 := res.Table.Events[0], res.Table.Events[1]
	if v, ok := e1.Value("detail_age"); !ok || v != 5 {
		t.Fatalf("e1 detail_age = %v, %v", v, ok)
	}
	if _, ok := e2.Value("detail_age"); ok {
		t.Fatalf("e2 has no detail and must leave detail_age absent")
	}
	if src.detailCalls != 1 {
		t.Fatalf("details should be fetched in one batch, got %d calls", src.detailCalls)
	}
}

func TestAggregateEventsDetailFailureKeepsBaseFields(t *testing.T) {
	src := &fakeSource{
		events:      map[string][]patrol.EventRecord{"s1": {event("e1", pointFeature(36.1, -1.2, ""))}},
		details:     map[string]map[string]any{"e1": {"age": 5}},
		failDetails: true,
	}
	res, err := NewAggregator(src).AggregateEvents(ctx(), []string{"s1"})
	if err != nil {
		t.Fatalf("AggregateEvents: %v", err)
	}
	if res.Table.Len() != 1 || res.Table.Events[0].Details != nil {
		t.Fatalf("expected base event without details, got %+v", res.Table.Events)
	}
	if len(res.Diagnostics) != 1 || !errors.Is(res.Diagnostics[0], patrol.ErrDetailFetch) {
		t.Fatalf("expected detail diagnostic, got %v", res.Diagnostics)
	}
}

func TestAggregateEventsTimeout(t *testing.T) {
	src := &fakeSource{
		events: map[string][]patrol.EventRecord{"s1": {event("e1", pointFeature(1, 1, ""))}},
		hang:   map[string]bool{"s2": true},
	}
	start := time.Now()
	res, err := NewAggregator(src, WithFetchTimeout(50*time.Millisecond)).AggregateEvents(ctx(), []string{"s1", "s2"})
	if err != nil {
		t.Fatalf("AggregateEvents: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("timeout not applied")
	}
	if res.Table.Len() != 1 || len(res.Diagnostics) != 1 {
		t.Fatalf("unexpected result: %d events, %v", res.Table.Len(), res.Diagnostics)
	}
	if !errors.Is(res.Diagnostics[0], context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", res.Diagnostics[0])
	}
}

func TestAggregateEventsDropsMissingGeometry(t *testing.T) {
	src := &fakeSource{
		events: map[string][]patrol.EventRecord{"s1": {
			event("e1", nil),
			event("e2", []byte(`null`)),
			event("e3", []byte(`{"type":"Feature","geometry":null,"properties":{}}`)),
			event("e4", []byte(`{"type":"Point","coordinates":[10,20]}`)),
		}},
	}
	res, err := NewAggregator(src).AggregateEvents(ctx(), []string{"s1"})
	if err != nil {
		t.Fatalf("AggregateEvents: %v", err)
	}
	if res.Table.Len() != 1 || res.Dropped != 3 {
		t.Fatalf("expected 1 kept and 3 dropped, got %d/%d", res.Table.Len(), res.Dropped)
	}
	e := res.Table.Events[0]
	if e.ID != "e4" || e.Longitude != 10 || e.Latitude != 20 {
		t.Fatalf("unexpected event %+v", e)
	}
}

func TestAggregateEventsGeometryCollection(t *testing.T) {
	collection := `{"type":"GeometryCollection","geometries":[{"type":"Point","coordinates":[1,2]}]}`
	src := &fakeSource{
		events: map[string][]patrol.EventRecord{"s1": {
			event("e1", []byte(collection)),
			event("e2", []byte(`{"type":"Feature","geometry":`+collection+`,"properties":{}}`)),
			event("e3", []byte(`{"type":"GeometryCollection","geometries":[{"type":"Point","coordinates":[0,0]},{"type":"GeometryCollection","geometries":[{"type":"Point","coordinates":[4,2]}]}]}`)),
			event("e4", []byte(`{"type":"GeometryCollection","geometries":[]}`)),
		}},
	}
	res, err := NewAggregator(src).AggregateEvents(ctx(), []string{"s1"})
	if err != nil {
		t.Fatalf("AggregateEvents: %v", err)
	}
	if res.Table.Len() != 3 || res.Dropped != 1 {
		t.Fatalf("expected 3 kept and 1 dropped, got %d/%d", res.Table.Len(), res.Dropped)
	}
	for _, e := range res.Table.Events[:2] {
		if e.Longitude != 1 || e.Latitude != 2 {
			t.Fatalf("%s centre = %f,%f", e.ID, e.Longitude, e.Latitude)
		}
	}
	if e := res.Table.Events[2]; e.Longitude != 2 || e.Latitude != 1 {
		t.Fatalf("nested collection centre = %f,%f", e.Longitude, e.Latitude)
	}
}

func TestAggregateEventsEmptyInput(t *testing.T) {
	_, err := NewAggregator(&fakeSource{}).AggregateEvents(ctx(), nil)
	if !errors.Is(err, patrol.ErrNoSegments) {
		t.Fatalf("expected ErrNoSegments, got %v", err)
	}
}

func TestAggregateEventsPayloadFallbacks(t *testing.T) {
	rec := event("e1", pointFeature(36.5, -1.5, "2025-10-25T09:30:00Z"))
	rec.Time = patrol.Stamp{}
	rec.SerialNumber = 1042.0
	rec.ReportedBy = map[string]any{"username": "ranger7"}
	rec.Location = map[string]any{"latitude": "-1.51", "longitude": 36.49}
	poly := event("e2", []byte(`{"type":"Polygon","coordinates":[[[0,0],[4,0],[4,2],[0,2],[0,0]]]}`))

	src := &fakeSource{events: map[string][]patrol.EventRecord{"s1": {rec, poly}}}
	res, err := NewAggregator(src).AggregateEvents(ctx(), []string{"s1"})
	if err != nil {
		t.Fatalf("AggregateEvents: %v", err)
	}
	e := res.Table.Events[0]
	if e.Time.Raw != "2025-10-25T09:30:00Z" {
		t.Fatalf("expected time from payload properties, got %q", e.Time.Raw)
	}
	if e.SerialNumber != "1042" || e.ReportedBy != "ranger7" {
		t.Fatalf("serial/reporter = %q/%q", e.SerialNumber, e.ReportedBy)
	}
	if e.LocationLat == nil || *e.LocationLat != -1.51 || e.LocationLon == nil || *e.LocationLon != 36.49 {
		t.Fatalf("location = %v/%v", e.LocationLat, e.LocationLon)
	}
	p := res.Table.Events[1]
	if p.Longitude != 2 || p.Latitude != 1 {
		t.Fatalf("polygon centre = %f,%f", p.Longitude, p.Latitude)
	}
	if _, ok := p.Value(patrol.ColLocationLat); ok {
		t.Fatalf("absent location must not produce a value")
	}
}

func TestAggregateEventsProgress(t *testing.T) {
	src := &fakeSource{events: map[string][]patrol.EventRecord{}}
	var (
		mu    sync.Mutex
		calls []int
	)
	agg := NewAggregator(src, WithProgress(func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		if total != 3 {
			t.Errorf("total = %d", total)
		}
		calls = append(calls, done)
	}))
	if _, err := agg.AggregateEvents(ctx(), []string{"a", "b", "c"}); err != nil {
		t.Fatalf("AggregateEvents: %v", err)
	}
	if len(calls) != 3 {
		t.Fatalf("expected 3 progress calls, got %v", calls)
	}
}
