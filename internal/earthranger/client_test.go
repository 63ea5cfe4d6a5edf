package earthranger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"patrol-export/internal/logging"
	"patrol-export/internal/patrol"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(srv.URL, "tok",
		WithRateLimit(0),
		WithRetry(2, time.Millisecond),
		WithLogger(logging.Discard()),
	)
	return c, srv
}

func TestListPatrolsFilterAndPagination(t *testing.T) {
	var srvURL string
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization = %q", got)
		}
		switch r.URL.Path {
		case "/api/v1.0/activity/patrols/types":
			fmt.Fprint(w, `{"data":[{"id":"t-1","value":"routine_patrol","display":"Routine Patrol"}]}`)
		case "/api/v1.0/activity/patrols":
			if r.URL.Query().Get("page") == "2" {
				fmt.Fprint(w, `{"data":{"next":null,"results":[{"id":"P2","serial_number":"abc","patrol_segments":[]}]}}`)
				return
			}
			var f patrolFilter
			if err := json.Unmarshal([]byte(r.URL.Query().Get("filter")), &f); err != nil {
				t.Errorf("filter: %v", err)
			}
			if f.DateRange == nil || f.DateRange.Lower != "2025-10-01T00:00:00.000000Z" || len(f.PatrolType) != 1 || f.PatrolType[0] != "t-1" {
				t.Errorf("unexpected filter %+v", f)
			}
			if st := r.URL.Query()["status"]; len(st) != 2 || st[0] != "done" || st[1] != "active" {
				t.Errorf("status = %v", st)
			}
			fmt.Fprintf(w, `{"data":{"next":%q,"results":[{"id":"P1","title":"Sweep","serial_number":1042,"state":"done","patrol_segments":[{"id":"seg-1","patrol_type":"routine_patrol"}]}]}}`,
				srvURL+"/api/v1.0/activity/patrols?page=2")
		default:
			http.NotFound(w, r)
		}
	})
	srvURL = srv.URL

	patrols, err := c.ListPatrols(context.Background(), patrol.PatrolFilter{
		Since:      time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC),
		PatrolType: "routine_patrol",
	})
	if err != nil {
		t.Fatalf("ListPatrols: %v", err)
	}
	if len(patrols) != 2 {
		t.Fatalf("expected 2 patrols across pages, got %d", len(patrols))
	}
	if patrols[0].SerialNumber != "1042" || patrols[0].SegmentID() != "seg-1" || patrols[0].Type() != "routine_patrol" {
		t.Fatalf("unexpected patrol %+v", patrols[0])
	}
}

func TestListPatrolsUnknownType(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[]}`)
	})
	_, err := c.ListPatrols(context.Background(), patrol.PatrolFilter{PatrolType: "nope"})
	if !errors.Is(err, patrol.ErrNoMatchingPatrols) {
		t.Fatalf("expected ErrNoMatchingPatrols, got %v", err)
	}
}

func TestListObservationsDenormalizesBounds(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1.0/activity/patrols/types":
			fmt.Fprint(w, `{"data":[{"id":"t-1","value":"routine_patrol","display":"Routine Patrol"}]}`)
		case "/api/v1.0/observations":
			q := r.URL.Query()
			if q.Get("subject_id") != "subj-1" || q.Get("since") != "2025-10-25T04:59:42Z" {
				t.Errorf("unexpected query %v", q)
			}
			fmt.Fprint(w, `{"data":{"next":null,"results":[
				{"id":"o1","location":{"latitude":-1.5,"longitude":36.5},"recorded_at":"2025-10-25T05:00:00Z"},
				{"id":"o2","location":{"latitude":-1.6,"longitude":36.6},"recorded_at":"2025-10-25T05:10:00Z"}]}}`)
		default:
			http.NotFound(w, r)
		}
	})
	patrols := []patrol.PatrolRecord{{
		ID:           "P1",
		SerialNumber: "1042",
		Segments: []patrol.PatrolSegment{
			{
				"id":          "seg-1",
				"patrol_type": "routine_patrol",
				"leader":      map[string]any{"id": "subj-1", "name": "Ranger Seven"},
				"time_range":  map[string]any{"start_time": "2025-10-25T04:59:42Z", "end_time": "2025-10-25T08:00:00Z"},
			},
			{"id": "seg-2"},
		},
	}}
	pts, err := c.ListObservations(context.Background(), patrols)
	if err != nil {
		t.Fatalf("ListObservations: %v", err)
	}
	if len(pts) != 2 {
		t.Fatalf("expected 2 points, got %d", len(pts))
	}
	p := pts[1]
	if p.PatrolID != "P1" || p.SegmentID != "seg-1" || p.SubjectName != "Ranger Seven" || p.PatrolTypeDisplay != "Routine Patrol" {
		t.Fatalf("unexpected point %+v", p)
	}
	if p.PatrolStart.Raw != "2025-10-25T04:59:42Z" || p.PatrolEnd.Raw != "2025-10-25T08:00:00Z" || p.Lon != 36.6 {
		t.Fatalf("bounds not copied: %+v", p)
	}
}

func TestSegmentEventsAndDetails(t *testing.T) {
	var detailCalls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1.0/activity/patrols/segments/seg-1/events/":
			fmt.Fprint(w, `{"data":{"next":null,"results":[{"id":"e1","event_type":"wildlife","serial_number":7,"time":"2025-10-25T06:00:00Z","geojson":{"type":"Feature","geometry":{"type":"Point","coordinates":[36.5,-1.5]},"properties":{}}}]}}`)
		case "/api/v1.0/activity/events":
			detailCalls.Add(1)
			if ids := strings.Split(r.URL.Query().Get("event_ids"), ","); len(ids) > maxIDsPerRequest {
				t.Errorf("too many ids in one request: %d", len(ids))
			}
			fmt.Fprint(w, `{"data":{"next":null,"results":[{"id":"e1","event_details":{"species":"elephant","count":3}}]}}`)
		default:
			http.NotFound(w, r)
		}
	})
	events, err := c.ListSegmentEvents(context.Background(), "seg-1")
	if err != nil {
		t.Fatalf("ListSegmentEvents: %v", err)
	}
	if len(events) != 1 || events[0].ID != "e1" || len(events[0].GeoJSON) == 0 {
		t.Fatalf("unexpected events %+v", events)
	}

	ids := make([]string, maxIDsPerRequest+1)
	for i := range ids {
		ids[i] = fmt.Sprintf("e%d", i)
	}
	details, err := c.FetchEventDetails(context.Background(), ids)
	if err != nil {
		t.Fatalf("FetchEventDetails: %v", err)
	}
	if detailCalls.Load() != 2 || len(details) != 2 || details[0].Details["species"] != "elephant" {
		t.Fatalf("calls=%d details=%+v", detailCalls.Load(), details)
	}
}

func TestRateLimitRetry(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"data":[]}`)
	})
	if _, err := c.PatrolTypes(context.Background()); err != nil {
		t.Fatalf("PatrolTypes: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestRateLimitExhausted(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := c.ListSegmentEvents(context.Background(), "seg-1")
	if err == nil || !strings.Contains(err.Error(), "rate limit exceeded") {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestStatusErrors(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"detail":"bad token"}`)
	})
	_, err := c.ListSegmentEvents(context.Background(), "seg-1")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || !strings.Contains(se.Body, "bad token") {
		t.Fatalf("unexpected error %#v", err)
	}
}

func TestCircuitBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	for i := 0; i < 8; i++ {
		_, _ = c.ListSegmentEvents(context.Background(), "seg-1")
	}
	if calls.Load() != 5 {
		t.Fatalf("breaker should stop calls after 5 consecutive failures, got %d", calls.Load())
	}
}
