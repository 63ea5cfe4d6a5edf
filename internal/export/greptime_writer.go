package export

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"
	"github.com/goccy/go-json"

	"patrol-export/internal/logging"
	"patrol-export/internal/patrol"
)

// DefaultGreptimePort is the gRPC port used when the endpoint names none.
const DefaultGreptimePort = 4001

// greptimeClient is the subset of the ingester client the writer uses.
type greptimeClient interface {
	Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error)
}

// GreptimeWriter writes track summaries and flattened events to GreptimeDB,
// tagged with the run id.
type GreptimeWriter struct {
	client     greptimeClient
	runID      string
	trackTable string
	eventTable string
	now        func() time.Time
}

// NewGreptimeWriter connects to endpoint (host[:port]).
func NewGreptimeWriter(endpoint, database, runID string) (*GreptimeWriter, error) {
	host, port := endpoint, DefaultGreptimePort
	if h, p, err := net.SplitHostPort(endpoint); err == nil {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("greptime endpoint %q: %w", endpoint, err)
		}
		host, port = h, n
	}
	cfg := greptime.NewConfig(host).WithPort(port).WithDatabase(database)
	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &GreptimeWriter{
		client:     client,
		runID:      runID,
		trackTable: patrol.TrackTableName,
		eventTable: patrol.EventTableName,
		now:        time.Now,
	}, nil
}

// WriteTracks inserts one row per track. The time index is the track start.
func (w *GreptimeWriter) WriteTracks(ctx context.Context, tracks []patrol.Track) error {
	if len(tracks) == 0 {
		return nil
	}
	tbl, err := table.New(w.trackTable)
	if err != nil {
		return err
	}
	for _, c := range []string{patrol.ColRunID, patrol.ColPatrolID} {
		if err := tbl.AddTagColumn(c, types.STRING); err != nil {
			return err
		}
	}
	stringCols := []string{
		patrol.ColPatrolSN, patrol.ColPatrolTitle, patrol.ColPatrolType, patrol.ColTypeValue,
		patrol.ColTypeDisplay, patrol.ColSegmentID, patrol.ColSubjectID, patrol.ColSubjectName,
		patrol.ColLeader, patrol.ColEndTime, patrol.ColPatrolStart, patrol.ColPatrolEnd, patrol.ColGeometry,
	}
	for _, c := range stringCols {
		if err := tbl.AddFieldColumn(c, types.STRING); err != nil {
			return err
		}
	}
	if err := tbl.AddFieldColumn(patrol.ColNumPoints, types.INT64); err != nil {
		return err
	}
	if err := tbl.AddFieldColumn(patrol.ColDistanceKM, types.FLOAT64); err != nil {
		return err
	}
	if err := tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND); err != nil {
		return err
	}

	for _, t := range tracks {
		g, err := geometryWKT(t.Line)
		if err != nil {
			return err
		}
		props := map[string]any{}
		for _, f := range t.Fields() {
			props[f.Name] = f.Value
		}
		err = tbl.AddRow(
			w.runID, t.PatrolID,
			t.PatrolSerial, t.PatrolTitle, t.PatrolType, t.PatrolTypeValue,
			t.PatrolTypeDisplay, t.SegmentID, t.SubjectID, t.SubjectName,
			t.LeaderName, props[patrol.ColEndTime], props[patrol.ColPatrolStart], props[patrol.ColPatrolEnd], g,
			int64(t.NumPoints), t.DistanceKM,
			t.StartTime,
		)
		if err != nil {
			return err
		}
	}
	return w.write(ctx, tbl, w.trackTable, len(tracks))
}

// WriteEvents inserts one row per event with its details as a JSON column.
// Events without a time are stamped with the write time.
func (w *GreptimeWriter) WriteEvents(ctx context.Context, events *patrol.EventTable) error {
	if events.Len() == 0 {
		return nil
	}
	tbl, err := table.New(w.eventTable)
	if err != nil {
		return err
	}
	for _, c := range []string{patrol.ColRunID, patrol.ColSegmentID} {
		if err := tbl.AddTagColumn(c, types.STRING); err != nil {
			return err
		}
	}
	stringCols := []string{
		patrol.ColEventID, patrol.ColEventType, patrol.ColEventSerial, patrol.ColEventTitle,
		patrol.ColEventState, patrol.ColReportedBy, patrol.ColLocationLat, patrol.ColLocationLon, patrol.ColGeometry,
	}
	for _, c := range stringCols {
		if err := tbl.AddFieldColumn(c, types.STRING); err != nil {
			return err
		}
	}
	if err := tbl.AddFieldColumn(patrol.ColEventPriority, types.INT64); err != nil {
		return err
	}
	for _, c := range []string{patrol.ColLongitude, patrol.ColLatitude} {
		if err := tbl.AddFieldColumn(c, types.FLOAT64); err != nil {
			return err
		}
	}
	if err := tbl.AddFieldColumn("details", types.JSON); err != nil {
		return err
	}
	if err := tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND); err != nil {
		return err
	}

	for _, e := range events.Events {
		g, err := geometryWKT(e.Geometry)
		if err != nil {
			return err
		}
		details := e.Details
		if details == nil {
			details = map[string]any{}
		}
		dj, err := json.Marshal(details)
		if err != nil {
			return err
		}
		ts, ok, _ := e.Time.UTC()
		if !ok {
			ts = w.now()
		}
		lat, _ := e.Value(patrol.ColLocationLat)
		lon, _ := e.Value(patrol.ColLocationLon)
		err = tbl.AddRow(
			w.runID, e.SegmentID,
			e.ID, e.EventType, e.SerialNumber, e.Title,
			e.State, e.ReportedBy, formatValue(lat), formatValue(lon), g,
			int64(e.Priority),
			e.Longitude, e.Latitude,
			string(dj),
			ts,
		)
		if err != nil {
			return err
		}
	}
	return w.write(ctx, tbl, w.eventTable, events.Len())
}

func (w *GreptimeWriter) write(ctx context.Context, tbl *table.Table, name string, rows int) error {
	log := logging.FromContext(ctx)
	if _, err := w.client.Write(ctx, tbl); err != nil {
		log.Error("greptime write failed", "table", name, "err", err)
		return err
	}
	log.Info("greptime rows written", "table", name, "rows", rows, "run_id", w.runID)
	return nil
}
