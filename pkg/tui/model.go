// Package tui renders live progress of a placement run with bubbletea.
package tui

import (
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/DrSkyle/vmplace/pkg/engine"
)

// EventMsg carries one engine progress event into the program.
type EventMsg engine.Event

// DoneMsg marks the end of the engine run.
type DoneMsg struct {
	Err error
}

type row struct {
	event engine.Event
}

// Model tracks the strategies of one engine run.
type Model struct {
	spinner  spinner.Model
	progress progress.Model

	title string
	total int

	rows  []row
	index map[string]int

	finished    bool
	err         error
	quitting    bool
	width       int
	cursor      int
	showDetails bool
}

// NewModel returns a model expecting total strategy runs.
func NewModel(title string, total int) Model {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = special

	return Model{
		spinner:  s,
		progress: progress.New(progress.WithGradient("#00FF99", "#00CCFF")),
		title:    title,
		total:    total,
		index:    make(map[string]int),
	}
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Finished reports whether the engine run has ended.
func (m Model) Finished() bool { return m.finished }

// Err returns the engine error delivered with DoneMsg.
func (m Model) Err() error { return m.err }

func (m Model) completed() int {
	n := 0
	for _, r := range m.rows {
		if r.event.Phase != engine.PhaseStarted {
			n++
		}
	}
	return n
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.rows)-1 {
				m.cursor++
			}
		case "enter", " ":
			m.showDetails = !m.showDetails
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = min(max(msg.Width-10, 10), 60)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case EventMsg:
		ev := engine.Event(msg)
		if i, ok := m.index[ev.Strategy]; ok {
			m.rows[i].event = ev
		} else {
			m.index[ev.Strategy] = len(m.rows)
			m.rows = append(m.rows, row{event: ev})
		}

	case DoneMsg:
		m.finished = true
		m.err = msg.Err
	}
	return m, nil
}
