package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"

	"patrol-export/internal/patrol"
)

// WriteTracksCSV writes one row per track with the line as WKT in the last
// column. Renamed headers longer than limit fail with ErrFieldNameTooLong.
func WriteTracksCSV(w io.Writer, tracks []patrol.Track, limit int) error {
	header, err := RenameColumns(append(append([]string(nil), trackColumns...), patrol.ColGeometry), limit)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, t := range tracks {
		fields := t.Fields()
		row := make([]string, 0, len(fields)+1)
		for _, f := range fields {
			row = append(row, formatValue(f.Value))
		}
		g, err := geometryWKT(t.Line)
		if err != nil {
			return fmt.Errorf("track %s: %w", t.PatrolID, err)
		}
		if err := cw.Write(append(row, g)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteEventsCSV writes one row per event. Absent values are empty cells.
func WriteEventsCSV(w io.Writer, tbl *patrol.EventTable, limit int) error {
	cols := tbl.ColumnNames()
	header, err := RenameColumns(append(append([]string(nil), cols...), patrol.ColGeometry), limit)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, e := range tbl.Events {
		row := make([]string, 0, len(cols)+1)
		for _, c := range cols {
			v, _ := e.Value(c)
			row = append(row, formatValue(v))
		}
		g, err := geometryWKT(e.Geometry)
		if err != nil {
			return fmt.Errorf("event %s: %w", e.ID, err)
		}
		if err := cw.Write(append(row, g)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func geometryWKT(g geom.T) (string, error) {
	if g == nil {
		return "", nil
	}
	return wkt.Marshal(g)
}
