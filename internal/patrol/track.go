package patrol

import (
	"os"
	"time"

	"github.com/twpayne/go-geom"
)

// KilometersPerDegree converts planar line length in degrees to kilometres.
// It is a flat approximation, not a geodesic length.
const KilometersPerDegree = 111.0

// MinTrackPoints is the smallest number of vertices a track line can have.
const MinTrackPoints = 2

// Track column names before any export renaming.
const (
	ColPatrolID      = "patrol_id"
	ColPatrolSN      = "patrol_sn"
	ColPatrolTitle   = "patrol_title"
	ColPatrolType    = "patrol_type"
	ColTypeValue     = "patrol_type_value"
	ColTypeDisplay   = "patrol_type_display"
	ColSegmentID     = "segment_id"
	ColSubjectID     = "subject_id"
	ColSubjectName   = "subject_name"
	ColLeader        = "leader"
	ColNumPoints     = "num_points"
	ColDistanceKM    = "distance_km"
	ColStartTime     = "start_time"
	ColEndTime       = "end_time"
	ColPatrolStart   = "patrol_start_time"
	ColPatrolEnd     = "patrol_end_time"
	ColGeometry      = "geometry"
	ColRunID         = "run_id"
	ColEventID       = "id"
	ColEventType     = "event_type"
	ColEventSerial   = "serial_number"
	ColEventTime     = "time"
	ColLongitude     = "longitude"
	ColLatitude      = "latitude"
	ColReportedBy    = "reported_by"
	ColLocationLat   = "location_latitude"
	ColLocationLon   = "location_longitude"
	ColEventTitle    = "title"
	ColEventPriority = "priority"
	ColEventState    = "state"
)

// Field is one named value of an exported row.
type Field struct {
	Name  string
	Value any
}

// Track is the reconstructed line of one patrol. It is built once per run and
// not modified afterwards.
type Track struct {
	PatrolID          string
	PatrolSerial      string
	PatrolTitle       string
	PatrolType        string
	PatrolTypeValue   string
	PatrolTypeDisplay string
	SegmentID         string
	SubjectID         string
	SubjectName       string
	LeaderName        string
	NumPoints         int
	DistanceKM        float64
	StartTime         time.Time
	EndTime           time.Time
	PatrolStart       *time.Time
	PatrolEnd         *time.Time
	Line              *geom.LineString
}

// TrackTableName is the GreptimeDB table for track summaries. It can be
// overridden with GREPTIMEDB_TRACK_TABLE.
var TrackTableName = func() string {
	if env := os.Getenv("GREPTIMEDB_TRACK_TABLE"); env != "" {
		return env
	}
	return "patrol_tracks"
}()

func (Track) TableName() string {
	return TrackTableName
}

// Fields returns the attribute columns of the track in export order. The
// geometry is not included.
func (t Track) Fields() []Field {
	f := []Field{
		{ColPatrolID, t.PatrolID},
		{ColPatrolSN, t.PatrolSerial},
		{ColPatrolTitle, t.PatrolTitle},
		{ColPatrolType, t.PatrolType},
		{ColTypeValue, t.PatrolTypeValue},
		{ColTypeDisplay, t.PatrolTypeDisplay},
		{ColSegmentID, t.SegmentID},
		{ColSubjectID, t.SubjectID},
		{ColSubjectName, t.SubjectName},
		{ColLeader, t.LeaderName},
		{ColNumPoints, t.NumPoints},
		{ColDistanceKM, t.DistanceKM},
		{ColStartTime, formatTime(t.StartTime)},
		{ColEndTime, formatTime(t.EndTime)},
	}
	f = append(f, Field{ColPatrolStart, formatOptional(t.PatrolStart)})
	f = append(f, Field{ColPatrolEnd, formatOptional(t.PatrolEnd)})
	return f
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// Summary aggregates a track set the way the export report shows it.
type Summary struct {
	Tracks     int
	Points     int
	DistanceKM float64
}

// Summarize totals tracks, points and distance.
func Summarize(tracks []Track) Summary {
	s := Summary{Tracks: len(tracks)}
	for _, t := range tracks {
		s.Points += t.NumPoints
		s.DistanceKM += t.DistanceKM
	}
	return s
}

// SegmentIDs returns the identifiers of every segment of the patrols behind
// tracks, without duplicates and in track order. A track's own segment comes
// first; a track whose patrol lists no segments falls back to its patrol
// identifier.
func SegmentIDs(tracks []Track, patrols []PatrolRecord) []string {
	byPatrol := make(map[string]PatrolRecord, len(patrols))
	for _, p := range patrols {
		byPatrol[p.ID] = p
	}
	seen := make(map[string]bool, len(tracks))
	ids := make([]string, 0, len(tracks))
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	}
	for _, t := range tracks {
		add(t.SegmentID)
		segs := byPatrol[t.PatrolID].Segments
		for _, seg := range segs {
			add(seg.ID())
		}
		if t.SegmentID == "" && len(segs) == 0 {
			add(t.PatrolID)
		}
	}
	return ids
}
