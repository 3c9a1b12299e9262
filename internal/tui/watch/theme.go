// Package watch implements `voicecmd system watch`, a live terminal view of
// voice sessions fed by the daemon's SSE stream.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme keeps every colour of the watch view in one place.
type Theme struct {
	StateCompleted lipgloss.Style
	StateRunning   lipgloss.Style
	StateFailed    lipgloss.Style
	StateCancelled lipgloss.Style
	Launch         lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	ActivityOn  lipgloss.Style
	ActivityOff lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		StateCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StateRunning:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StateFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		StateCancelled: lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Launch:         lipgloss.NewStyle().Foreground(lipgloss.Color("#C678DD")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),

		ActivityOn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		ActivityOff: lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
	}
}

// ForState picks the style for a session state name.
func (t Theme) ForState(state string) lipgloss.Style {
	switch state {
	case "completed":
		return t.StateCompleted
	case "failed":
		return t.StateFailed
	case "cancelled":
		return t.StateCancelled
	default:
		return t.StateRunning
	}
}
