package api

import (
	"github.com/mattjoyce/voicecmd/internal/protocol"
	"github.com/mattjoyce/voicecmd/internal/session"
	"github.com/mattjoyce/voicecmd/internal/sessionlog"
)

// InvokeResponse is returned by POST /invoke once the session has ended.
type InvokeResponse struct {
	SessionID  string              `json:"session_id"`
	State      session.State       `json:"state"`
	ErrorCode  session.Code        `json:"error_code,omitempty"`
	Fallback   bool                `json:"fallback"`
	Heartbeats int                 `json:"heartbeats"`
	DurationMS int64               `json:"duration_ms"`
	Messages   []*protocol.Message `json:"messages"`
}

// SessionsResponse is returned by GET /sessions.
type SessionsResponse struct {
	Active []session.Info      `json:"active"`
	Recent []*sessionlog.Entry `json:"recent"`
}

// SessionResponse is returned by GET /sessions/{id}. Exactly one of Active
// and Entry is set.
type SessionResponse struct {
	Active *session.Info     `json:"active,omitempty"`
	Entry  *sessionlog.Entry `json:"entry,omitempty"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status         string   `json:"status"`
	UptimeSeconds  int64    `json:"uptime_seconds"`
	ActiveSessions int      `json:"active_sessions"`
	Commands       []string `json:"commands"`
	// Fingerprint identifies the registered command table.
	Fingerprint string `json:"fingerprint"`
}
