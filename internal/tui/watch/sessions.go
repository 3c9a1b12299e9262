package watch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"

	"github.com/mattjoyce/voicecmd/internal/events"
	"github.com/mattjoyce/voicecmd/internal/launch"
	"github.com/mattjoyce/voicecmd/internal/session"
)

// maxSessions bounds the rows kept in memory.
const maxSessions = 100

// SessionState is what the view knows about one session, rebuilt from events.
type SessionState struct {
	ID         string
	Command    string
	State      string
	Heartbeats int
	Progress   int
	LastText   string
	Outcome    string
	ErrorCode  string
	LaunchArg  *string
	Start      time.Time
	End        time.Time
}

// Elapsed is the running or final duration.
func (s *SessionState) Elapsed(now time.Time) time.Duration {
	if s.Start.IsZero() {
		return 0
	}
	if !s.End.IsZero() {
		return s.End.Sub(s.Start)
	}
	return now.Sub(s.Start)
}

// payload covers every field the session and launch events carry.
type payload struct {
	SessionID   string    `json:"session_id"`
	Command     string    `json:"command"`
	State       string    `json:"state"`
	Outcome     string    `json:"outcome"`
	ErrorCode   string    `json:"error_code"`
	Reason      string    `json:"reason"`
	Heartbeats  int       `json:"heartbeats"`
	N           int       `json:"n"`
	DisplayText string    `json:"display_text"`
	Argument    *string   `json:"argument"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
}

// Tracker folds hub events into per-session rows, newest first.
type Tracker struct {
	sessions map[string]*SessionState
	order    []string
	launches int
}

func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]*SessionState)}
}

func (t *Tracker) get(id string, at time.Time) *SessionState {
	if s, ok := t.sessions[id]; ok {
		return s
	}
	s := &SessionState{ID: id, State: string(session.StateRunning), Start: at}
	t.sessions[id] = s
	t.order = append([]string{id}, t.order...)
	if len(t.order) > maxSessions {
		for _, old := range t.order[maxSessions:] {
			delete(t.sessions, old)
		}
		t.order = t.order[:maxSessions]
	}
	return s
}

// Apply updates the rows for one event. Events for unseen sessions create a
// row so a late-started watcher still shows them.
func (t *Tracker) Apply(e events.Event) {
	var p payload
	if err := json.Unmarshal(e.Data, &p); err != nil || p.SessionID == "" {
		return
	}

	switch e.Type {
	case session.EventStarted:
		start := p.StartedAt
		if start.IsZero() {
			start = e.At
		}
		s := t.get(p.SessionID, start)
		s.Command = p.Command
		if p.State != "" {
			s.State = p.State
		}

	case session.EventAcknowledged:
		s := t.get(p.SessionID, e.At)
		s.State = string(session.StateRunning)

	case session.EventHeartbeat:
		s := t.get(p.SessionID, e.At)
		s.Heartbeats = p.N

	case session.EventProgress:
		s := t.get(p.SessionID, e.At)
		s.Progress++
		s.LastText = p.DisplayText

	case session.EventCompleted, session.EventFailed, session.EventCancelled:
		s := t.get(p.SessionID, p.StartedAt)
		if p.Command != "" {
			s.Command = p.Command
		}
		s.State = p.State
		s.Outcome = p.Outcome
		s.ErrorCode = p.ErrorCode
		s.Heartbeats = p.Heartbeats
		if p.Reason != "" {
			s.LastText = p.Reason
		}
		s.End = p.EndedAt
		if s.End.IsZero() {
			s.End = e.At
		}

	case launch.EventLaunch:
		t.launches++
		s := t.get(p.SessionID, e.At)
		s.LaunchArg = p.Argument
	}
}

// Get returns the row for id, if tracked.
func (t *Tracker) Get(id string) (*SessionState, bool) {
	s, ok := t.sessions[id]
	return s, ok
}

// Len is the number of tracked sessions.
func (t *Tracker) Len() int { return len(t.order) }

// Launches counts app.launch events seen.
func (t *Tracker) Launches() int { return t.launches }

// Running counts sessions without a terminal state.
func (t *Tracker) Running() int {
	n := 0
	for _, s := range t.sessions {
		if !session.State(s.State).Terminal() {
			n++
		}
	}
	return n
}

func sessionColumns(width int) []table.Column {
	detail := width - 8 - 16 - 10 - 4 - 8 - 16
	if detail < 12 {
		detail = 12
	}
	return []table.Column{
		{Title: "Session", Width: 8},
		{Title: "Command", Width: 16},
		{Title: "State", Width: 10},
		{Title: "HB", Width: 4},
		{Title: "Elapsed", Width: 8},
		{Title: "Detail", Width: detail},
	}
}

// Rows renders the tracked sessions for a bubbles table, newest first.
func (t *Tracker) Rows(now time.Time) []table.Row {
	rows := make([]table.Row, 0, len(t.order))
	for _, id := range t.order {
		s := t.sessions[id]
		short := s.ID
		if len(short) > 8 {
			short = short[:8]
		}
		rows = append(rows, table.Row{
			short,
			s.Command,
			s.State,
			fmt.Sprintf("%d", s.Heartbeats),
			formatDuration(s.Elapsed(now)),
			detail(s),
		})
	}
	return rows
}

func detail(s *SessionState) string {
	var parts []string
	if s.Outcome != "" {
		parts = append(parts, s.Outcome)
	}
	if s.ErrorCode != "" {
		parts = append(parts, s.ErrorCode)
	}
	if s.LaunchArg != nil {
		if *s.LaunchArg == "" {
			parts = append(parts, "launch")
		} else {
			parts = append(parts, "launch:"+*s.LaunchArg)
		}
	}
	if s.LastText != "" {
		parts = append(parts, fmt.Sprintf("%q", s.LastText))
	}
	return strings.Join(parts, " ")
}
