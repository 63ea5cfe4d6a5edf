package report

import (
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
)

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
}

type segmentMsg struct{ done, total int }

type finishMsg struct{}

const maxBarWidth = 60

type progressModel struct {
	bar         progress.Model
	done, total int
	finished    bool
}

func newProgressModel() progressModel {
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 40
	return progressModel{bar: bar}
}

func (m progressModel) Init() tea.Cmd { return nil }

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case segmentMsg:
		m.done, m.total = msg.done, msg.total
	case finishMsg:
		m.finished = true
		return m, tea.Quit
	case tea.WindowSizeMsg:
		m.bar.Width = min(max(msg.Width-30, 10), maxBarWidth)
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m progressModel) percent() float64 {
	if m.total == 0 {
		return 0
	}
	return float64(m.done) / float64(m.total)
}

func (m progressModel) View() string {
	if m.finished {
		return ""
	}
	return fmt.Sprintf("segments %s %d/%d\n", m.bar.ViewAs(m.percent()), m.done, m.total)
}

// ProgressBar shows how many segments the event aggregation has finished.
type ProgressBar struct {
	program teaProgram
	done    chan struct{}
}

// NewProgressBar starts a bubbletea program rendering to out.
func NewProgressBar(out io.Writer) *ProgressBar {
	p := tea.NewProgram(newProgressModel(), tea.WithOutput(out), tea.WithInput(nil))
	b := &ProgressBar{program: p, done: make(chan struct{})}
	go func() {
		_, _ = p.Run()
		close(b.done)
	}()
	return b
}

// Update reports progress. It is safe to call from several goroutines.
func (b *ProgressBar) Update(done, total int) {
	b.program.Send(segmentMsg{done: done, total: total})
}

// Finish stops the program and waits for it to restore the terminal.
func (b *ProgressBar) Finish() {
	b.program.Send(finishMsg{})
	if b.done != nil {
		<-b.done
	}
}
