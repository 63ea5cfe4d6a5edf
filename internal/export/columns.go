// Package export writes tracks and events to files, stdout and GreptimeDB.
package export

import (
	"errors"
	"fmt"

	"patrol-export/internal/patrol"
)

// DefaultFieldLimit is the column name limit of formats that cap names.
const DefaultFieldLimit = 10

// ErrFieldNameTooLong is returned instead of truncating a column name.
var ErrFieldNameTooLong = errors.New("field name too long")

// FieldNameError names the column that does not fit.
type FieldNameError struct {
	Name  string
	Limit int
}

func (e *FieldNameError) Error() string {
	return fmt.Sprintf("%v: %q has %d characters, limit is %d", ErrFieldNameTooLong, e.Name, len(e.Name), e.Limit)
}

func (e *FieldNameError) Unwrap() error { return ErrFieldNameTooLong }

// columnRenames maps internal column names to their export names.
var columnRenames = map[string]string{
	patrol.ColPatrolID:    "ptrl_id",
	patrol.ColPatrolSN:    "ptrl_sn",
	patrol.ColPatrolType:  "ptrl_type",
	patrol.ColSubjectID:   "subj_id",
	patrol.ColSubjectName: "subj_name",
	patrol.ColPatrolStart: "ptrl_start",
	patrol.ColPatrolEnd:   "ptrl_end",
	patrol.ColDistanceKM:  "dist_km",
	patrol.ColNumPoints:   "num_pts",
	patrol.ColPatrolTitle: "ptrl_title",
	patrol.ColTypeValue:   "ptrl_tval",
	patrol.ColTypeDisplay: "ptrl_tdisp",
	patrol.ColSegmentID:   "seg_id",
}

var columnRestores = func() map[string]string {
	m := make(map[string]string, len(columnRenames))
	for k, v := range columnRenames {
		if prev, dup := m[v]; dup {
			panic(fmt.Sprintf("export name %q used for both %q and %q", v, prev, k))
		}
		m[v] = k
	}
	return m
}()

// Rename returns the export name of a column. Unmapped names pass through.
func Rename(name string) string {
	if r, ok := columnRenames[name]; ok {
		return r
	}
	return name
}

// RenameColumns renames every column and checks the result against limit.
// A limit of zero or less disables the check.
func RenameColumns(names []string, limit int) ([]string, error) {
	out := make([]string, len(names))
	for i, n := range names {
		r := Rename(n)
		if limit > 0 && len(r) > limit {
			return nil, &FieldNameError{Name: r, Limit: limit}
		}
		out[i] = r
	}
	return out, nil
}

// Restore maps an export name back to its internal column name.
func Restore(name string) string {
	if r, ok := columnRestores[name]; ok {
		return r
	}
	return name
}
