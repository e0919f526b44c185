package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/DrSkyle/vmplace/pkg/engine"
)

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render(m.title))
	s.WriteString("\n\n")

	done := m.completed()
	pct := 0.0
	if m.total > 0 {
		pct = float64(done) / float64(m.total)
	}
	status := fmt.Sprintf("%s %d/%d strategies", m.spinner.View(), done, m.total)
	if m.finished {
		status = special.Render("Placement finished")
		if m.err != nil {
			status = danger.Render("Placement failed: " + m.err.Error())
		}
	}
	s.WriteString("  " + m.progress.ViewAs(pct) + "\n")
	s.WriteString("  " + status + "\n\n")

	header := fmt.Sprintf("  %-6s %-36s %8s %8s %9s %9s", "", "STRATEGY", "SERVERS", "FILL", "OVERSIZE", "TIME")
	s.WriteString(subtle.Render(header) + "\n")
	s.WriteString(subtle.Render("  "+strings.Repeat("─", 82)) + "\n")

	for i, r := range m.rows {
		cursor := "  "
		if i == m.cursor {
			cursor = "> "
		}
		line := cursor + m.renderRow(r.event)
		if i == m.cursor {
			s.WriteString(listSelectedStyle.Render(line) + "\n")
		} else {
			s.WriteString(listNormalStyle.Render(line) + "\n")
		}
	}

	if m.showDetails && m.cursor < len(m.rows) {
		s.WriteString(m.viewDetails(m.rows[m.cursor].event))
		s.WriteString("\n")
	}

	s.WriteString("\n" + subtle.Render("  ↑/↓ select • enter details • q quit"))
	return s.String()
}

func (m Model) renderRow(ev engine.Event) string {
	name := ev.Strategy
	if len(name) > 36 {
		name = name[:33] + "..."
	}
	switch ev.Phase {
	case engine.PhaseStarted:
		return fmt.Sprintf("%-6s %-36s %8s %8s %9s %9s", m.spinner.View(), name, "-", "-", "-", "running")
	case engine.PhaseFailed:
		return fmt.Sprintf("%s %-36s %8s %8s %9s %9s", iconFail.Render(), name, "-", "-", "-", round(ev.Elapsed))
	}
	sol := ev.Solution
	icon := iconOK.Render()
	if len(sol.Oversize) > 0 {
		icon = iconWarn.Render()
	}
	return fmt.Sprintf("%s %-36s %8d %7.1f%% %9d %9s", icon, name, sol.NumServers(), sol.FillingRate()*100, len(sol.Oversize), round(ev.Elapsed))
}

func (m Model) viewDetails(ev engine.Event) string {
	var lines []string
	lines = append(lines, highlight.Render(ev.Strategy))
	switch ev.Phase {
	case engine.PhaseStarted:
		lines = append(lines, subtle.Render("still running"))
	case engine.PhaseFailed:
		lines = append(lines, danger.Render(ev.Err.Error()))
	default:
		sol := ev.Solution
		lines = append(lines, sol.String())
		util := sol.Utilization()
		for d, name := range sol.Schema.Names() {
			lines = append(lines, fmt.Sprintf("%-12s %6.1f%%", name, util[d]*100))
		}
		if sol.Exhausted {
			lines = append(lines, warning.Render("server sequence exhausted with a pending remainder"))
		}
	}
	return detailsBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func round(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}
