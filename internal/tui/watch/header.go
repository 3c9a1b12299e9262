package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks daemon health from /healthz polling.
type HealthState struct {
	Status         string
	UptimeSeconds  int64
	ActiveSessions int
	Commands       int
	Fingerprint    string
	Connected      bool
	LastCheck      time.Time
}

// Activity shows event flow as a row of dots that lights up on each event
// and fades over ten seconds.
type Activity struct {
	dots      int
	lastEvent time.Time
}

func (a *Activity) OnEvent(at time.Time) {
	a.dots = 5
	a.lastEvent = at
}

// Decay fades the dots based on time since the last event.
func (a *Activity) Decay(now time.Time) {
	if a.dots == 0 {
		return
	}
	elapsed := now.Sub(a.lastEvent)
	a.dots = min(a.dots, max(0, 5-int(elapsed/(2*time.Second))))
}

func (a Activity) Render(theme Theme) string {
	var b strings.Builder
	for i := range 5 {
		if i < a.dots {
			b.WriteString(theme.ActivityOn.Render("●"))
		} else {
			b.WriteString(theme.ActivityOff.Render("○"))
		}
	}
	return b.String()
}

func renderHeader(health HealthState, spin string, activity Activity, tracker *Tracker, theme Theme, width int) string {
	innerWidth := width - 4

	statusText := theme.StateCompleted.Render("HEALTHY")
	if !health.Connected {
		statusText = theme.StateFailed.Render("CONNECTING")
	} else if health.Status != "ok" && health.Status != "" {
		statusText = theme.StateFailed.Render("DEGRADED")
	}

	uptime := formatDuration(time.Duration(health.UptimeSeconds) * time.Second)

	lastEvent := "never"
	if !activity.lastEvent.IsZero() {
		lastEvent = fmt.Sprintf("%s ago", time.Since(activity.lastEvent).Round(time.Second))
	}

	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	titleText := fmt.Sprintf(" VOICECMD WATCH %s", theme.Highlight.Render(spin))
	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	fp := health.Fingerprint
	if len(fp) > 12 {
		fp = fp[:12]
	}
	statsLine := fmt.Sprintf(" %s  up %s  Active: %d  Commands: %d  Table: %s",
		statusText, uptime, health.ActiveSessions, health.Commands, theme.Dim.Render(fp))

	activityLine := fmt.Sprintf(" Seen: %d  Running: %d  Launches: %d  Last event: %s %s",
		tracker.Len(), tracker.Running(), tracker.Launches(), lastEvent, activity.Render(theme))

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, activityLine)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
