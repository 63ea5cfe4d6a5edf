// Package report renders the run summary and the event progress bar.
package report

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"
	"golang.org/x/term"

	"patrol-export/internal/patrol"
)

const (
	defaultWidth = 100
	maxCellWidth = 24
)

// Run is everything the summary shows about one export.
type Run struct {
	RunID         string
	Tracks        []patrol.Track
	PointsDropped int
	PointsNoTime  int
	EventsRun     bool
	Events        int
	EventsDropped int
	Diagnostics   []patrol.Diagnostic
	Files         []string
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

// Render formats the summary for a terminal width.
func Render(r Run, width int) string {
	if width <= 0 {
		width = defaultWidth
	}
	s := patrol.Summarize(r.Tracks)
	var b strings.Builder
	b.WriteString(titleStyle.Render("Patrol export "+r.RunID) + "\n")
	fmt.Fprintf(&b, "tracks: %d  points: %d  distance: %.2f km", s.Tracks, s.Points, s.DistanceKM)
	if r.PointsDropped > 0 {
		fmt.Fprintf(&b, "  (outside patrol time: %d points)", r.PointsDropped)
	}
	if r.PointsNoTime > 0 {
		fmt.Fprintf(&b, "  (without recorded time: %d points)", r.PointsNoTime)
	}
	b.WriteString("\n")

	if len(r.Tracks) > 0 {
		rows := make([][]string, 0, len(r.Tracks))
		for _, t := range r.Tracks {
			rows = append(rows, []string{
				cell(t.PatrolSerial),
				cell(t.PatrolType),
				cell(t.LeaderName),
				strconv.Itoa(t.NumPoints),
				strconv.FormatFloat(t.DistanceKM, 'f', 2, 64),
				t.StartTime.UTC().Format("2006-01-02 15:04"),
			})
		}
		tbl := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("SERIAL", "TYPE", "LEADER", "POINTS", "KM", "START").
			Rows(rows...).
			StyleFunc(func(row, _ int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				return cellStyle
			})
		b.WriteString(tbl.String() + "\n")
	}

	if r.EventsRun {
		fmt.Fprintf(&b, "events: %d  without geometry: %d  segment failures: %d\n",
			r.Events, r.EventsDropped, len(r.Diagnostics))
		for _, d := range r.Diagnostics {
			b.WriteString(warnStyle.Render(wordwrap.String("! "+d.Error(), width)) + "\n")
		}
	}
	for _, f := range r.Files {
		b.WriteString("wrote " + f + "\n")
	}
	return b.String()
}

// Print writes the summary to w, sized to the terminal when w is one.
func Print(w io.Writer, r Run) error {
	width := defaultWidth
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols > 0 {
			width = cols
		}
	}
	_, err := io.WriteString(w, Render(r, width))
	return err
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

func cell(s string) string {
	if s == "" {
		return "-"
	}
	return truncate.StringWithTail(s, maxCellWidth, "…")
}
