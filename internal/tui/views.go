package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// View renders the UI.
func (m Model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	if m.viewMode == ViewModeDetail {
		return m.renderDetailView()
	}

	var sections []string
	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderStats())
	sections = append(sections, m.renderContexts())
	sections = append(sections, m.renderRows())
	sections = append(sections, m.renderHelpBar())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderHeader() string {
	title := titleStyle.Render("⚡ basin dashboard")
	subtitle := subtitleStyle.Render(fmt.Sprintf("Last updated: %s", m.lastUpdate.Format("15:04:05")))
	header := lipgloss.JoinHorizontal(lipgloss.Top, title, "  ", subtitle)
	return headerStyle.Render(header)
}

func (m Model) renderStats() string {
	stats := []string{
		fmt.Sprintf("%s %d", keyStyle.Render("Queued:"), len(m.home.Queued)),
		fmt.Sprintf("%s %d", keyStyle.Render("Running:"), len(m.home.Running)),
	}

	var total int64
	for _, n := range m.home.CompletedCounts {
		total += n
	}
	if total > 0 {
		stats = append(stats, fmt.Sprintf("%s %d", keyStyle.Render("Completed:"), total))
	}

	content := strings.Join(stats, "  │  ")
	return statsStyle.Render(content)
}

func (m Model) renderContexts() string {
	if len(m.home.Contexts) == 0 {
		return jobListStyle.Render(subtitleStyle.Render("No contexts configured"))
	}

	var rows []string
	rows = append(rows, titleStyle.Render("Contexts"))
	rows = append(rows, "")
	rows = append(rows, keyStyle.Render(fmt.Sprintf("   %-22s  %s", "Name", "Busy/Capacity")))
	rows = append(rows, keyStyle.Render(strings.Repeat("─", 50)))
	for _, c := range m.home.Contexts {
		style := statusIdleStyle
		if c.Busy >= c.Capacity && c.Capacity > 0 {
			style = statusRunningStyle
		}
		rows = append(rows, fmt.Sprintf("   %-22s  %s",
			padRight(c.Name, 22), style.Render(fmt.Sprintf("%d/%d", c.Busy, c.Capacity))))
	}
	return jobListStyle.Render(strings.Join(rows, "\n"))
}

func (m Model) renderRows() string {
	var rows []string
	rows = append(rows, titleStyle.Render(fmt.Sprintf("Queue + Active (%d)", len(m.rows))))
	rows = append(rows, "")

	if len(m.rows) == 0 {
		rows = append(rows, subtitleStyle.Render("Nothing queued or running"))
	} else {
		header := fmt.Sprintf("   %-22s  %-6s  %-10s  %-6s  %s",
			"Job", "Number", "State", "Node", "Duration")
		rows = append(rows, keyStyle.Render(header))
		rows = append(rows, keyStyle.Render(strings.Repeat("─", 70)))
		for i, r := range m.rows {
			rows = append(rows, m.renderRow(r, i == m.selected))
		}
	}

	content := strings.Join(rows, "\n")
	return recentRunsStyle.Render(content)
}

func (m Model) renderRow(r row, selected bool) string {
	cursor := " "
	if selected {
		cursor = iconArrow
	}

	var statusIcon string
	var style lipgloss.Style
	var state string
	switch r.kind {
	case rowRunning:
		statusIcon, style, state = iconRunning, statusRunningStyle, "Running"
	default:
		statusIcon, style, state = iconPending, statusIdleStyle, "Queued"
	}

	duration := "-"
	if r.kind == rowRunning {
		duration = formatDuration(time.Duration(r.view.Duration) * time.Second)
	}

	line := fmt.Sprintf("%s  %-22s  %-6d  %s  %-6s  %s",
		cursor,
		padRight(truncate(r.view.Name, 22), 22),
		r.view.Number,
		style.Render(fmt.Sprintf("%s %-7s", statusIcon, state)),
		padRight(truncate(r.view.Node, 6), 6),
		durationStyle.Render(duration),
	)

	if selected {
		return jobItemSelectedStyle.Render(line)
	}
	return jobItemStyle.Render(line)
}

func (m Model) renderHelpBar() string {
	if m.errorMessage != "" {
		return statusBarStyle.Render(statusErrorStyle.Render("Error: " + m.errorMessage))
	}
	help := "q: quit  │  ↑/↓: navigate  │  enter: details  │  r: refresh"
	return statusBarStyle.Render(help)
}

func (m Model) renderDetailView() string {
	d := m.detail
	var sections []string

	title := fmt.Sprintf("⚡ basin dashboard - %s#%d", d.Name, d.Number)
	header := lipgloss.JoinHorizontal(lipgloss.Top,
		titleStyle.Render(title),
		"  ",
		subtitleStyle.Render(fmt.Sprintf("Last updated: %s", m.lastUpdate.Format("15:04:05"))),
	)
	sections = append(sections, headerStyle.Render(header))

	var info []string
	info = append(info, titleStyle.Render("Run"))
	info = append(info, "")
	info = append(info, fmt.Sprintf("%s %s", keyStyle.Render("Result:"), renderResult(d.Result)))
	info = append(info, fmt.Sprintf("%s %s", keyStyle.Render("Node:"), valueStyle.Render(d.Node)))
	info = append(info, fmt.Sprintf("%s %s", keyStyle.Render("Reason:"), valueStyle.Render(d.Reason)))
	if d.StartedAt != 0 {
		started := time.Unix(d.StartedAt, 0).Format("2006-01-02 15:04:05")
		info = append(info, fmt.Sprintf("%s %s (%s)", keyStyle.Render("Started:"), valueStyle.Render(started),
			durationStyle.Render(formatDuration(time.Duration(d.Duration)*time.Second))))
	}
	if len(d.Artifacts) > 0 {
		info = append(info, fmt.Sprintf("%s %d", keyStyle.Render("Artifacts:"), len(d.Artifacts)))
		for _, a := range d.Artifacts {
			info = append(info, fmt.Sprintf("    %s (%d bytes)", a.Filename, a.Size))
		}
	}
	sections = append(sections, jobListStyle.Render(strings.Join(info, "\n")))

	var logLines []string
	logLines = append(logLines, titleStyle.Render("Log tail"))
	logLines = append(logLines, "")
	if d.Log == "" {
		logLines = append(logLines, subtitleStyle.Render("No log captured yet"))
	} else {
		logLines = append(logLines, lastLines(d.Log, 20))
	}
	sections = append(sections, detailHistoryStyle.Render(strings.Join(logLines, "\n")))

	sections = append(sections, statusBarStyle.Render("esc: back  │  q: quit  │  r: refresh"))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func renderResult(result string) string {
	switch result {
	case "running":
		return statusRunningStyle.Render(iconRunning + " Running")
	case "success":
		return statusSuccessStyle.Render(iconSuccess + " Success")
	case "failed", "aborted":
		return statusErrorStyle.Render(iconError + " " + strings.ToUpper(result[:1]) + result[1:])
	default:
		return statusIdleStyle.Render(iconIdle + " " + result)
	}
}

func lastLines(log string, n int) string {
	lines := strings.Split(strings.TrimRight(log, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
	return fmt.Sprintf("%.1fh", d.Hours())
}

// truncate truncates a string to a maximum length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// padRight pads a string with spaces to reach the desired length.
func padRight(s string, length int) string {
	if len(s) >= length {
		return s
	}
	return s + strings.Repeat(" ", length-len(s))
}
