package export

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"patrol-export/internal/patrol"
)

// trackColumns lists the attribute columns of a track in export order.
var trackColumns = func() []string {
	fields := patrol.Track{}.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}()

// trackProperties returns a track's attributes under their export names.
func trackProperties(t patrol.Track) map[string]any {
	props := make(map[string]any, len(trackColumns))
	for _, f := range t.Fields() {
		props[Rename(f.Name)] = f.Value
	}
	return props
}

// eventProperties returns the present values of an event. Absent values,
// such as a detail the event has no entry for, are left out.
func eventProperties(e patrol.FlattenedEvent, cols []patrol.Column) map[string]any {
	props := make(map[string]any, len(cols))
	for _, c := range cols {
		if v, ok := e.Value(c.Name); ok {
			props[c.Name] = v
		}
	}
	return props
}

// formatValue renders a cell for text formats. Nested values become JSON.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
	return fmt.Sprint(v)
}
