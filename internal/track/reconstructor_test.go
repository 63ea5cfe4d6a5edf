package track

import (
	"errors"
	"math"
	"testing"
	"time"

	"patrol-export/internal/patrol"
)

var t0 = time.Date(2025, 10, 25, 6, 0, 0, 0, time.UTC)

func at(h int) string { return t0.Add(time.Duration(h) * time.Hour).Format(time.RFC3339) }

func point(patrolID string, h int, lon, lat float64, start, end string) patrol.ObservationPoint {
	return patrol.ObservationPoint{
		PatrolID:    patrolID,
		SubjectID:   "subject-1",
		Lon:         lon,
		Lat:         lat,
		RecordedAt:  patrol.StampOf(at(h)),
		PatrolStart: patrol.StampOf(start),
		PatrolEnd:   patrol.StampOf(end),
	}
}

func TestBuildTracksTimeWindow(t *testing.T) {
	// P1 has bounds [T0, T3]; points at T-1, T1, T2, T4 keep T1 and T2.
	start, end := at(0), at(3)
	points := []patrol.ObservationPoint{
		point("P1", 4, 4, 4, start, end),
		point("P1", 2, 2, 2, start, end),
		point("P1", -1, -1, -1, start, end),
		point("P1", 1, 1, 1, start, end),
	}
	res, err := NewReconstructor(nil).Build(nil, points)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(res.Tracks) != 1 {
		t.Fatalf("expected 1 track, got %d", len(res.Tracks))
	}
	tr := res.Tracks[0]
	coords := tr.Line.Coords()
	if len(coords) != 2 || coords[0].X() != 1 || coords[1].X() != 2 {
		t.Fatalf("unexpected vertices %v", coords)
	}
	if !tr.StartTime.Equal(t0.Add(time.Hour)) || !tr.EndTime.Equal(t0.Add(2*time.Hour)) {
		t.Fatalf("start/end = %v/%v", tr.StartTime, tr.EndTime)
	}
	if res.Report.PointsDropped != 2 || res.Report.PointsIn != 4 {
		t.Fatalf("report = %+v", res.Report)
	}
}

func TestBuildTracksBoundsAreClosed(t *testing.T) {
	start, end := at(0), at(2)
	points := []patrol.ObservationPoint{
		point("P1", 0, 0, 0, start, end),
		point("P1", 2, 1, 1, start, end),
	}
	tracks, err := BuildTracks(nil, points)
	if err != nil {
		t.Fatalf("BuildTracks: %v", err)
	}
	if tracks[0].NumPoints != 2 {
		t.Fatalf("points on the bounds must be kept, got %d", tracks[0].NumPoints)
	}
}

func TestBuildTracksUsesOwnPatrolBounds(t *testing.T) {
	points := []patrol.ObservationPoint{
		point("A", 1, 0, 0, at(0), at(2)),
		point("A", 2, 1, 0, at(0), at(2)),
		// Inside A's window but outside B's own window.
		point("B", 1, 5, 5, at(3), at(6)),
		point("B", 4, 6, 6, at(3), at(6)),
		point("B", 5, 7, 7, at(3), at(6)),
	}
	res, err := NewReconstructor(nil).Build(nil, points)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(res.Tracks) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(res.Tracks))
	}
	if res.Tracks[1].PatrolID != "B" || res.Tracks[1].NumPoints != 2 {
		t.Fatalf("unexpected B track: %+v", res.Tracks[1])
	}
}

func TestBuildTracksMissingBoundsKeepsPoints(t *testing.T) {
	points := []patrol.ObservationPoint{
		point("P1", -10, 0, 0, "", at(1)),
		point("P1", 10, 1, 1, "", at(1)),
	}
	tracks, err := BuildTracks(nil, points)
	if err != nil {
		t.Fatalf("BuildTracks: %v", err)
	}
	if tracks[0].NumPoints != 2 {
		t.Fatalf("expected both points kept, got %d", tracks[0].NumPoints)
	}
	if tracks[0].PatrolStart != nil {
		t.Fatalf("expected absent patrol start")
	}
}

func TestBuildTracksOrderAndSingles(t *testing.T) {
	// P2 keeps only one point and produces no track; P3 still succeeds.
	points := []patrol.ObservationPoint{
		point("P3", 3, 3, 0, at(0), at(5)),
		point("P2", 1, 9, 9, at(0), at(5)),
		point("P3", 1, 1, 0, at(0), at(5)),
		point("P2", 7, 9, 9, at(0), at(5)),
		point("P3", 2, 2, 0, at(0), at(5)),
	}
	res, err := NewReconstructor(nil).Build(nil, points)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(res.Tracks) != 1 || res.Tracks[0].PatrolID != "P3" {
		t.Fatalf("expected only P3, got %+v", res.Tracks)
	}
	if res.Report.GroupsTooSmall != 1 {
		t.Fatalf("report = %+v", res.Report)
	}
	coords := res.Tracks[0].Line.Coords()
	for i := 1; i < len(coords); i++ {
		if coords[i].X() < coords[i-1].X() {
			t.Fatalf("vertices not in time order: %v", coords)
		}
	}
	if got, want := res.Tracks[0].DistanceKM, 2*patrol.KilometersPerDegree; math.Abs(got-want) > 1e-9 {
		t.Fatalf("distance = %f, want %f", got, want)
	}
}

func TestBuildTracksMissingRecordedTime(t *testing.T) {
	start, end := at(0), at(3)
	untimed := point("P1", 1, 9, 9, start, end)
	untimed.RecordedAt = patrol.StampOf("")
	points := []patrol.ObservationPoint{
		point("P1", 1, 1, 1, start, end),
		untimed,
		point("P1", 2, 2, 2, start, end),
		point("P1", 5, 5, 5, start, end),
	}
	res, err := NewReconstructor(nil).Build(nil, points)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.Report.PointsNoTime != 1 || res.Report.PointsDropped != 1 {
		t.Fatalf("report = %+v, want 1 untimed and 1 outside the window", res.Report)
	}
	if n := res.Tracks[0].NumPoints; n != 2 {
		t.Fatalf("points = %d, want 2", n)
	}
}

func TestBuildTracksEmptyOutcomes(t *testing.T) {
	_, err := BuildTracks(nil, []patrol.ObservationPoint{
		point("P1", 9, 0, 0, at(0), at(1)),
	})
	if !errors.Is(err, patrol.ErrNoPointsInWindow) {
		t.Fatalf("expected ErrNoPointsInWindow, got %v", err)
	}

	_, err = BuildTracks(nil, []patrol.ObservationPoint{
		point("P1", 0, 0, 0, at(0), at(1)),
		point("P2", 0, 0, 0, at(0), at(1)),
	})
	if !errors.Is(err, patrol.ErrNoQualifyingTracks) {
		t.Fatalf("expected ErrNoQualifyingTracks, got %v", err)
	}
}

func TestBuildTracksMalformedTimestamp(t *testing.T) {
	pts := []patrol.ObservationPoint{
		point("P1", 0, 0, 0, "not-a-time", at(1)),
		point("P1", 1, 0, 0, at(0), at(1)),
	}
	_, err := BuildTracks(nil, pts)
	if !errors.Is(err, patrol.ErrMalformedTimestamp) {
		t.Fatalf("expected ErrMalformedTimestamp, got %v", err)
	}
	var te *patrol.TimestampError
	if !errors.As(err, &te) || te.Field != "patrol_start_time" || te.PatrolID != "P1" {
		t.Fatalf("unexpected error detail: %#v", err)
	}
}

func TestBuildTracksMetadata(t *testing.T) {
	patrols := []patrol.PatrolRecord{{
		ID:           "P1",
		Title:        "Morning sweep",
		SerialNumber: "1042",
		Segments: []patrol.PatrolSegment{{
			"id":          "seg-1",
			"patrol_type": "routine_patrol",
			"leader":      map[string]any{"username": "ranger7"},
		}},
	}}
	points := []patrol.ObservationPoint{
		point("P1", 2, 1, 1, at(0), at(3)),
		point("P1", 1, 0, 0, at(0), at(3)),
	}
	points[1].SubjectName = "Ranger Seven"
	tracks, err := BuildTracks(patrols, points)
	if err != nil {
		t.Fatalf("BuildTracks: %v", err)
	}
	tr := tracks[0]
	if tr.LeaderName != "ranger7" || tr.PatrolType != "routine_patrol" || tr.SegmentID != "seg-1" {
		t.Fatalf("metadata from patrol missing: %+v", tr)
	}
	if tr.PatrolSerial != "1042" || tr.PatrolTitle != "Morning sweep" {
		t.Fatalf("serial/title missing: %+v", tr)
	}
	if tr.SubjectName != "Ranger Seven" {
		t.Fatalf("labels should come from the earliest point, got %q", tr.SubjectName)
	}
	if tr.PatrolStart == nil || !tr.PatrolStart.Equal(t0) {
		t.Fatalf("patrol start = %v", tr.PatrolStart)
	}
}
