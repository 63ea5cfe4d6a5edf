// Package track rebuilds patrol track lines from observation points.
package track

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/twpayne/go-geom"

	"patrol-export/internal/patrol"
)

// Report counts what the reconstruction kept and dropped.
type Report struct {
	PointsIn int
	// PointsDropped counts points outside their patrol's time range.
	PointsDropped int
	// PointsNoTime counts points without a recorded time.
	PointsNoTime   int
	Groups         int
	GroupsTooSmall int
	Tracks         int
}

// Result is the output of Reconstructor.Build.
type Result struct {
	Tracks []patrol.Track
	Report Report
}

// Reconstructor builds tracks from an in-memory batch. It is single threaded.
type Reconstructor struct {
	log *slog.Logger
}

// NewReconstructor returns a Reconstructor logging to l, or slog.Default when l is nil.
func NewReconstructor(l *slog.Logger) *Reconstructor {
	if l == nil {
		l = slog.Default()
	}
	return &Reconstructor{log: l}
}

// BuildTracks builds one track per patrol with default settings.
func BuildTracks(patrols []patrol.PatrolRecord, points []patrol.ObservationPoint) ([]patrol.Track, error) {
	res, err := NewReconstructor(nil).Build(patrols, points)
	if err != nil {
		return nil, err
	}
	return res.Tracks, nil
}

// normalized is an observation point with parsed times.
type normalized struct {
	patrol.ObservationPoint
	recorded time.Time
	start    *time.Time
	end      *time.Time
}

// Build filters points to their own patrol's time bounds, groups them by
// patrol, orders each group by recorded time and turns every group with at
// least two points into a track.
//
// An empty result is reported as ErrNoPointsInWindow when filtering removed
// every point, or ErrNoQualifyingTracks when no group had enough points.
// A non-empty string that is not a timestamp fails the whole build.
func (r *Reconstructor) Build(patrols []patrol.PatrolRecord, points []patrol.ObservationPoint) (*Result, error) {
	res := &Result{Report: Report{PointsIn: len(points)}}

	byID := make(map[string]patrol.PatrolRecord, len(patrols))
	for _, p := range patrols {
		byID[p.ID] = p
	}

	kept := make([]normalized, 0, len(points))
	for _, pt := range points {
		n, ok, err := normalize(pt)
		if err != nil {
			return nil, err
		}
		if !ok {
			res.Report.PointsNoTime++
			continue
		}
		if !withinBounds(n) {
			res.Report.PointsDropped++
			continue
		}
		kept = append(kept, n)
	}
	if res.Report.PointsDropped > 0 {
		r.log.Info("points outside patrol time range dropped",
			"dropped", res.Report.PointsDropped, "total", res.Report.PointsIn)
	}
	if res.Report.PointsNoTime > 0 {
		r.log.Info("points without recorded time dropped",
			"dropped", res.Report.PointsNoTime, "total", res.Report.PointsIn)
	}
	if len(kept) == 0 {
		return res, fmt.Errorf("%w (filtered out %d of %d points, %d without a recorded time)",
			patrol.ErrNoPointsInWindow, res.Report.PointsDropped, res.Report.PointsIn, res.Report.PointsNoTime)
	}

	groups, order := groupByPatrol(kept)
	res.Report.Groups = len(order)
	for _, id := range order {
		g := groups[id]
		// Filtering can leave the feed out of order; sort after it.
		sort.SliceStable(g, func(i, j int) bool { return g[i].recorded.Before(g[j].recorded) })
		if len(g) < patrol.MinTrackPoints {
			res.Report.GroupsTooSmall++
			r.log.Debug("patrol skipped, not enough points", "patrol_id", id, "points", len(g))
			continue
		}
		res.Tracks = append(res.Tracks, buildTrack(g, byID[id]))
	}
	res.Report.Tracks = len(res.Tracks)
	if len(res.Tracks) == 0 {
		return res, fmt.Errorf("%w (%d patrols, none with %d or more points)",
			patrol.ErrNoQualifyingTracks, res.Report.Groups, patrol.MinTrackPoints)
	}
	r.log.Info("tracks built", "tracks", res.Report.Tracks, "groups", res.Report.Groups,
		"too_small", res.Report.GroupsTooSmall)
	return res, nil
}

// normalize parses the point's times to UTC. ok is false for a point with
// no recorded time; it cannot be placed on a line and is dropped.
func normalize(pt patrol.ObservationPoint) (n normalized, ok bool, err error) {
	n = normalized{ObservationPoint: pt}
	rec, ok, err := pt.RecordedAt.UTC()
	if err != nil {
		return n, false, annotate(err, "recorded_at", pt.PatrolID)
	}
	n.recorded = rec
	if n.start, err = optional(pt.PatrolStart, "patrol_start_time", pt.PatrolID); err != nil {
		return n, false, err
	}
	if n.end, err = optional(pt.PatrolEnd, "patrol_end_time", pt.PatrolID); err != nil {
		return n, false, err
	}
	return n, ok, nil
}

func optional(s patrol.Stamp, field, patrolID string) (*time.Time, error) {
	t, ok, err := s.UTC()
	if err != nil {
		return nil, annotate(err, field, patrolID)
	}
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func annotate(err error, field, patrolID string) error {
	var te *patrol.TimestampError
	if errors.As(err, &te) {
		te.Field = field
		te.PatrolID = patrolID
	}
	return err
}

// withinBounds keeps a point when it lies inside its own patrol's closed
// interval. A missing bound never drops a point.
func withinBounds(n normalized) bool {
	if n.start == nil || n.end == nil {
		return true
	}
	return !n.recorded.Before(*n.start) && !n.recorded.After(*n.end)
}

// groupByPatrol partitions by patrol identifier. Raw streams are keyed by
// subject; a subject can appear in several patrols, so the subject must not
// be used here.
func groupByPatrol(points []normalized) (map[string][]normalized, []string) {
	groups := make(map[string][]normalized)
	var order []string
	for _, p := range points {
		if _, ok := groups[p.PatrolID]; !ok {
			order = append(order, p.PatrolID)
		}
		groups[p.PatrolID] = append(groups[p.PatrolID], p)
	}
	return groups, order
}

func buildTrack(g []normalized, rec patrol.PatrolRecord) patrol.Track {
	coords := make([]geom.Coord, len(g))
	for i, p := range g {
		coords[i] = geom.Coord{p.Lon, p.Lat}
	}
	line := geom.NewLineString(geom.XY).MustSetCoords(coords).SetSRID(4326)

	first := g[0]
	t := patrol.Track{
		PatrolID:          first.PatrolID,
		PatrolSerial:      firstNonEmpty(first.PatrolSerial, rec.SerialNumber),
		PatrolTitle:       firstNonEmpty(first.PatrolTitle, rec.Title),
		PatrolTypeValue:   first.PatrolTypeValue,
		PatrolTypeDisplay: first.PatrolTypeDisplay,
		SegmentID:         firstNonEmpty(first.SegmentID, rec.SegmentID()),
		SubjectID:         first.SubjectID,
		SubjectName:       first.SubjectName,
		LeaderName:        rec.Leader(),
		NumPoints:         len(g),
		DistanceKM:        line.Length() * patrol.KilometersPerDegree,
		StartTime:         first.recorded,
		EndTime:           g[len(g)-1].recorded,
		PatrolStart:       first.start,
		PatrolEnd:         first.end,
		Line:              line,
	}
	t.PatrolType = firstNonEmpty(first.PatrolTypeDisplay, first.PatrolTypeValue, rec.Type())
	return t
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
