package export

import (
	"github.com/goccy/go-json"
	"github.com/twpayne/go-geom/encoding/geojson"

	"patrol-export/internal/patrol"
)

// TracksGeoJSON encodes tracks as a FeatureCollection of LineStrings with
// renamed attribute properties.
func TracksGeoJSON(tracks []patrol.Track) ([]byte, error) {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(tracks))}
	for _, t := range tracks {
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         t.PatrolID,
			Geometry:   t.Line,
			Properties: trackProperties(t),
		})
	}
	return json.Marshal(fc)
}

// EventsGeoJSON encodes a flattened event table as a FeatureCollection with
// the recovered geometry of every event.
func EventsGeoJSON(tbl *patrol.EventTable) ([]byte, error) {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, tbl.Len())}
	if tbl != nil {
		for _, e := range tbl.Events {
			fc.Features = append(fc.Features, &geojson.Feature{
				ID:         e.ID,
				Geometry:   e.Geometry,
				Properties: eventProperties(e, tbl.Columns),
			})
		}
	}
	return json.Marshal(fc)
}
