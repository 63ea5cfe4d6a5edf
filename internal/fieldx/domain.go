package fieldx

import (
	"strconv"
	"strings"
)

// DetailPrefix keeps flattened event detail columns from colliding with the
// event's own top-level fields.
const DetailPrefix = "detail_"

// Patrol metadata is read from the first segment only. Later segments may
// carry a different type or leader; they are ignored.
var (
	PatrolTypePaths = []Path{
		Parse("segments[0].patrol_type"),
		Parse("segments[0].patrol_type.value"),
	}
	LeaderPaths = []Path{
		Parse("segments[0].leader.name"),
		Parse("segments[0].leader.username"),
		Parse("segments[0].leader"),
	}
	ReporterPaths = []Path{
		Parse("reported_by.name"),
		Parse("reported_by.username"),
		Parse("reported_by"),
	}
	LocationLatitudePaths  = []Path{Parse("location.latitude"), Parse("location.lat")}
	LocationLongitudePaths = []Path{Parse("location.longitude"), Parse("location.lon")}
	PayloadTimePaths       = []Path{Parse("properties.datetime"), Parse("properties.time")}
)

// PatrolType returns the type of a patrol document, or "".
func PatrolType(doc any) string {
	return FirstString(doc, PatrolTypePaths...)
}

// LeaderName returns the leader of a patrol document: the leader's name, then
// username, then the leader value itself when it is a plain scalar.
func LeaderName(doc any) string {
	return FirstString(doc, LeaderPaths...)
}

// ReporterName applies the leader ladder to an event's reported_by field.
func ReporterName(doc any) string {
	return FirstString(doc, ReporterPaths...)
}

// Float returns the first numeric value found along paths. Numeric strings
// are accepted.
func Float(doc any, paths ...Path) (float64, bool) {
	for _, p := range paths {
		v, ok := First(doc, p)
		if !ok {
			continue
		}
		switch x := v.(type) {
		case float64:
			return x, true
		case int:
			return float64(x), true
		case int64:
			return float64(x), true
		case string:
			if f, err := parseFloat(x); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// FlattenDetail explodes one level of a detail mapping into prefixed
// columns. Nested values are kept as they are.
func FlattenDetail(details map[string]any) map[string]any {
	if len(details) == 0 {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		out[DetailPrefix+k] = v
	}
	return out
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
