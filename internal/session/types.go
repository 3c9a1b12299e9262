package session

import (
	"context"
	"sync"
	"time"

	"github.com/mattjoyce/voicecmd/internal/intent"
	"github.com/mattjoyce/voicecmd/internal/protocol"
)

//go:generate mockgen -destination=mocks/mock_outbound.go -package=mocks github.com/mattjoyce/voicecmd/internal/session Outbound

// Outbound delivers messages for one session to the host. Implementations
// need not be safe for concurrent use; a session never has more than one
// Send in flight.
type Outbound interface {
	Send(ctx context.Context, msg *protocol.Message) error
}

// State is a session lifecycle state.
type State string

const (
	StateCreated       State = "created"
	StateAcknowledging State = "acknowledging"
	StateRunning       State = "running"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
	StateCancelled     State = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Catalog binds message templates to a locale.
type Catalog interface {
	Bind(locale string) intent.Templates
}

// Launcher receives launch requests from delivered responses. Calls are
// fire-and-forget.
type Launcher interface {
	Launch(sessionID, arg string)
}

// Recorder persists finished sessions.
type Recorder interface {
	Record(ctx context.Context, r *Result) error
}

// Publisher broadcasts session lifecycle events.
type Publisher interface {
	Publish(eventType string, data any)
}

// Result summarizes a finished session.
type Result struct {
	SessionID  string    `json:"session_id"`
	Command    string    `json:"command"`
	Locale     string    `json:"locale,omitempty"`
	Fallback   bool      `json:"fallback"`
	State      State     `json:"state"`
	Outcome    string    `json:"outcome,omitempty"`
	ErrorCode  Code      `json:"error_code,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Heartbeats int       `json:"heartbeats"`
	Progress   int       `json:"progress"`
	Messages   int       `json:"messages"`
	LaunchArg  *string   `json:"launch_argument,omitempty"`
	Abandoned  bool      `json:"abandoned,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`

	Err *Error `json:"-"`
}

// Duration is EndedAt minus StartedAt.
func (r *Result) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// Info is a point-in-time view of an active session.
type Info struct {
	SessionID     string    `json:"session_id"`
	Command       string    `json:"command"`
	State         State     `json:"state"`
	StartedAt     time.Time `json:"started_at"`
	LastHeartbeat time.Time `json:"last_heartbeat,omitzero"`
	Heartbeats    int       `json:"heartbeats"`
}

// Session is the state of one invocation. It is owned by a single
// Controller.Run call and never reused.
type Session struct {
	inv       intent.Invocation
	startTime time.Time

	mu            sync.Mutex
	state         State
	lastHeartbeat time.Time
	heartbeats    int

	cancelOnce   sync.Once
	cancelCh     chan struct{}
	cancelReason string
}

func newSession(inv intent.Invocation) *Session {
	return &Session{
		inv:       inv,
		startTime: time.Now(),
		state:     StateCreated,
		cancelCh:  make(chan struct{}),
	}
}

// transition moves to next unless the session is already terminal.
func (s *Session) transition(next State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return false
	}
	s.state = next
	return true
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// heartbeat records one queued heartbeat and returns the new count.
func (s *Session) heartbeat(at time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeartbeat = at
	s.heartbeats++
	return s.heartbeats
}

func (s *Session) cancel(reason string) {
	s.cancelOnce.Do(func() {
		s.mu.Lock()
		s.cancelReason = reason
		s.mu.Unlock()
		close(s.cancelCh)
	})
}

func (s *Session) reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelReason
}

// Info returns a snapshot for listings.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		SessionID:     s.inv.SessionID,
		Command:       s.inv.CommandName,
		State:         s.state,
		StartedAt:     s.startTime,
		LastHeartbeat: s.lastHeartbeat,
		Heartbeats:    s.heartbeats,
	}
}
