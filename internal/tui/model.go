package tui

import (
	"context"
	"log/slog"
	"time"

	"basin/internal/status"

	tea "github.com/charmbracelet/bubbletea"
)

// ViewMode selects between the dashboard list and a single run's detail.
type ViewMode int

const (
	ViewModeList ViewMode = iota
	ViewModeDetail
)

// StatusSource is the narrow read surface the dashboard needs from
// *core.Core, declared here so the tui package never imports
// internal/core (the dependency runs the other way: cmd/basind wires
// a Core into this interface).
type StatusSource interface {
	Home(ctx context.Context) (status.HomeSnapshot, error)
	Run(ctx context.Context, jobName string, number int64) (status.RunSnapshot, error)
}

// rowKind distinguishes a queued row from a running one in the combined list.
type rowKind int

const (
	rowQueued rowKind = iota
	rowRunning
)

// row is one line of the dashboard's combined queue+active list.
type row struct {
	kind rowKind
	view status.RunView
}

// Model holds the state for the TUI.
type Model struct {
	source StatusSource
	logger *slog.Logger

	viewMode ViewMode
	home     status.HomeSnapshot
	rows     []row
	selected int
	detail   status.RunSnapshot

	width, height int
	lastUpdate    time.Time
	quitting      bool
	errorMessage  string
}

// New creates a new TUI model over a status source (normally *core.Core).
func New(source StatusSource, logger *slog.Logger) Model {
	return Model{source: source, logger: logger, lastUpdate: time.Now()}
}

// Init initializes the model (required by Bubbletea).
func (m Model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), tea.EnterAltScreen)
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// refreshData pulls a fresh home snapshot from the source and rebuilds
// the combined queued+running row list, preserving the selection index
// where possible.
func (m *Model) refreshData() {
	home, err := m.source.Home(context.Background())
	if err != nil {
		m.errorMessage = err.Error()
		return
	}
	m.errorMessage = ""
	m.home = home

	rows := make([]row, 0, len(home.Running)+len(home.Queued))
	for _, v := range home.Running {
		rows = append(rows, row{kind: rowRunning, view: v})
	}
	for _, v := range home.Queued {
		rows = append(rows, row{kind: rowQueued, view: v})
	}
	m.rows = rows
	if m.selected >= len(m.rows) {
		m.selected = max(0, len(m.rows)-1)
	}
	m.lastUpdate = time.Now()
}

// Quitting returns true if the user has requested to quit.
func (m Model) Quitting() bool {
	return m.quitting
}
