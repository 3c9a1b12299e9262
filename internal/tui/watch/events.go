package watch

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/voicecmd/internal/events"
)

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= 8 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch {
	case strings.HasSuffix(e.Type, ".completed"):
		typeStyle = theme.StateCompleted
	case strings.HasSuffix(e.Type, ".failed"):
		typeStyle = theme.StateFailed
	case strings.HasSuffix(e.Type, ".cancelled"):
		typeStyle = theme.StateCancelled
	case strings.HasPrefix(e.Type, "app."):
		typeStyle = theme.Launch
	case strings.HasSuffix(e.Type, ".started"):
		typeStyle = theme.StateRunning
	default:
		typeStyle = theme.Dim
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-18s", e.Type))
	return fmt.Sprintf("%s %s %s", ts, typeName, describe(e))
}

func describe(e events.Event) string {
	var p payload
	if err := e.Decode(&p); err != nil || p.SessionID == "" {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}

	id := p.SessionID
	if len(id) > 8 {
		id = id[:8]
	}
	parts := []string{fmt.Sprintf("[%s]", id)}
	if p.Command != "" {
		parts = append(parts, p.Command)
	}
	if p.N > 0 {
		parts = append(parts, fmt.Sprintf("#%d", p.N))
	}
	if p.DisplayText != "" {
		parts = append(parts, fmt.Sprintf("%q", p.DisplayText))
	}
	if p.ErrorCode != "" {
		parts = append(parts, p.ErrorCode)
	}
	if p.Argument != nil {
		parts = append(parts, fmt.Sprintf("arg=%q", *p.Argument))
	}
	return strings.Join(parts, " ")
}
