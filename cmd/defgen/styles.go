package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"defgen/internal/rules"
)

var (
	accent  = lipgloss.Color("#8BC34A")
	primary = lipgloss.Color("#4A90D9")
	danger  = lipgloss.Color("#E5534B")
	warning = lipgloss.Color("#E3B341")
	muted   = lipgloss.Color("#8B949E")

	titleStyle   = lipgloss.NewStyle().Foreground(primary).Bold(true)
	headerStyle  = lipgloss.NewStyle().Foreground(primary).Bold(true).Underline(true)
	okStyle      = lipgloss.NewStyle().Foreground(accent).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(danger).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(warning)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	idStyle      = lipgloss.NewStyle().Width(9)
	severityCell = lipgloss.NewStyle().Width(10)
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(muted).Padding(0, 1)
)

func severityStyle(s rules.Severity) lipgloss.Style {
	switch s {
	case rules.SeverityCritical:
		return failStyle
	case rules.SeverityHigh:
		return warnStyle
	default:
		return mutedStyle
	}
}

func verdict(ok bool, yes, no string) string {
	if ok {
		return okStyle.Render(yes)
	}
	return failStyle.Render(no)
}

func scoreBar(score float64, width int) string {
	filled := int(score*float64(width) + 0.5)
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return okStyle.Render(strings.Repeat("█", filled)) + mutedStyle.Render(strings.Repeat("░", width-filled))
}

func percent(v float64) string {
	return fmt.Sprintf("%5.1f%%", v*100)
}

// renderMarkdown formats markdown for the terminal. Rendering failures fall
// back to the raw text.
func renderMarkdown(md string, width int) string {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return md
	}
	out, err := renderer.Render(md)
	if err != nil {
		return md
	}
	return out
}
