// Package ui renders pool progress in the terminal.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"checkpool/internal/pool"
)

// rowState is what one worker row shows.
type rowState uint8

const (
	rowQueued rowState = iota
	rowSpawning
	rowReady
	rowChecking
	rowDone
	rowCancelled
	rowStopping
	rowFailed
)

var rowLabels = [...]string{
	rowQueued:    "queued",
	rowSpawning:  "spawning",
	rowReady:     "ready",
	rowChecking:  "checking",
	rowDone:      "done",
	rowCancelled: "cancelled",
	rowStopping:  "stopping",
	rowFailed:    "error",
}

// share of a row's bar each state accounts for
var rowProgress = [...]float64{
	rowQueued:    0,
	rowSpawning:  0.1,
	rowReady:     0.2,
	rowChecking:  0.5,
	rowDone:      1,
	rowCancelled: 1,
	rowStopping:  1,
	rowFailed:    1,
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	dimStyle   = lipgloss.NewStyle().Faint(true)
	rowStyles  = map[rowState]lipgloss.Style{
		rowDone:      lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		rowFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		rowCancelled: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		rowSpawning:  lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
		rowChecking:  lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
		rowStopping:  lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
	}
)

type workerRow struct {
	label   string
	state   rowState
	elapsed time.Duration
	results int
	err     string
}

func (r workerRow) detail() string {
	switch {
	case r.err != "":
		return r.err
	case r.state == rowDone:
		return fmt.Sprintf("%d results in %s", r.results, r.elapsed.Round(time.Millisecond))
	case r.elapsed > 0:
		return r.elapsed.Round(time.Millisecond).String()
	}
	return ""
}

type progressModel struct {
	title   string
	events  <-chan pool.Event
	spinner spinner.Model
	bar     progress.Model
	rows    []workerRow
	width   int
	done    bool
}

type eventMsg pool.Event
type closedMsg struct{}

// NewProgressModel returns a Bubble Tea model with one row per pool worker.
// It quits once events is closed.
func NewProgressModel(title string, workers int, events <-chan pool.Event) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 76

	rows := make([]workerRow, workers)
	for i := range rows {
		rows[i].label = fmt.Sprintf("worker %d/%d", i+1, workers)
	}
	return &progressModel{title: title, events: events, spinner: sp, bar: bar, rows: rows, width: 80}
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.next())
}

func (m *progressModel) next() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return closedMsg{}
		}
		return eventMsg(ev)
	}
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		return m, tea.Batch(m.apply(pool.Event(msg)), m.next())
	case closedMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case progress.FrameMsg:
		bar, cmd := m.bar.Update(msg)
		m.bar = bar.(progress.Model)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.bar.Width = msg.Width - 4
		}
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
	}
	return m, nil
}

// apply folds one pool event into its row and returns the bar animation.
func (m *progressModel) apply(ev pool.Event) tea.Cmd {
	if ev.Worker < 0 || ev.Worker >= len(m.rows) {
		return nil
	}
	row := &m.rows[ev.Worker]
	row.state = stateOf(ev.Stage, ev.Status)
	row.elapsed = ev.Elapsed
	row.results = ev.Results
	row.err = ""
	if ev.Err != nil {
		row.err = ev.Err.Error()
	}
	return m.bar.SetPercent(m.percent())
}

func (m *progressModel) percent() float64 {
	if len(m.rows) == 0 {
		return 0
	}
	total := 0.0
	for _, r := range m.rows {
		total += rowProgress[r.state]
	}
	return total / float64(len(m.rows))
}

func stateOf(stage pool.Stage, status pool.Status) rowState {
	switch status {
	case pool.StatusError:
		return rowFailed
	case pool.StatusCancelled:
		return rowCancelled
	case pool.StatusQueued:
		return rowQueued
	}
	working := status == pool.StatusWorking
	switch stage {
	case pool.StageSpawn:
		if working {
			return rowSpawning
		}
		return rowReady
	case pool.StageRun:
		if working {
			return rowChecking
		}
		return rowDone
	case pool.StageShutdown:
		return rowStopping
	}
	return rowQueued
}

func (m *progressModel) View() string {
	if len(m.rows) == 0 {
		return ""
	}
	var b strings.Builder
	header := m.spinner.View() + " " + m.title
	if m.done {
		header = "done: " + m.title
	}
	b.WriteString(titleStyle.Render(header))
	b.WriteString("\n\n")

	detailWidth := max(m.width-12-16-6, 20)
	finished, results := 0, 0
	for _, r := range m.rows {
		style, ok := rowStyles[r.state]
		if !ok {
			style = dimStyle
		}
		status := style.Render(fmt.Sprintf("%12s", rowLabels[r.state]))
		fmt.Fprintf(&b, "  %s %-16s %s\n", status, r.label, truncate(r.detail(), detailWidth))
		if r.state == rowDone {
			finished++
			results += r.results
		}
	}

	b.WriteString("\n")
	if m.done {
		b.WriteString(m.bar.ViewAs(1))
	} else {
		b.WriteString(m.bar.View())
	}
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("%d/%d workers done, %d results before dedup", finished, len(m.rows), results)))
	b.WriteString("\n")
	return b.String()
}

func truncate(value string, width int) string {
	if width <= 0 || runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width, "...")
}
