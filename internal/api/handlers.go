package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/voicecmd/internal/intent"
	"github.com/mattjoyce/voicecmd/internal/protocol"
	"github.com/mattjoyce/voicecmd/internal/session"
	"github.com/mattjoyce/voicecmd/internal/sessionlog"
)

const defaultRecentLimit = 50

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:         "ok",
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
		ActiveSessions: len(s.runner.Active()),
		Commands:       s.registry.Names(),
		Fingerprint:    s.registry.Fingerprint(),
	}
	respondJSON(w, http.StatusOK, resp)
}

// collector is the Outbound for synchronous invocations.
type collector struct {
	mu   sync.Mutex
	msgs []*protocol.Message
}

func (c *collector) Send(_ context.Context, m *protocol.Message) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
	return nil
}

func (c *collector) all() []*protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*protocol.Message{}, c.msgs...)
}

// handleInvoke handles POST /invoke. It blocks until the session ends and
// returns every message the session produced. A client disconnect cancels
// the session.
func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var inv intent.Invocation
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&inv); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := protocol.ValidateInvocation(&inv); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.InvokeTimeout)
	defer cancel()

	out := &collector{}
	res, err := s.runner.Run(ctx, inv, out)
	if errors.Is(err, session.ErrDuplicateSession) {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, InvokeResponse{
		SessionID:  res.SessionID,
		State:      res.State,
		ErrorCode:  res.ErrorCode,
		Fallback:   res.Fallback,
		Heartbeats: res.Heartbeats,
		DurationMS: res.Duration().Milliseconds(),
		Messages:   out.all(),
	})
}

// handleListSessions handles GET /sessions?command=&state=&limit=.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := sessionlog.Filter{
		Command: q.Get("command"),
		State:   session.State(q.Get("state")),
		Limit:   defaultRecentLimit,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}

	resp := SessionsResponse{
		Active: s.runner.Active(),
		Recent: []*sessionlog.Entry{},
	}
	if s.sessions != nil {
		recent, err := s.sessions.Recent(r.Context(), filter)
		if err != nil {
			s.logger.Error("failed to list sessions", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to list sessions")
			return
		}
		resp.Recent = recent
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleGetSession handles GET /sessions/{sessionID}. Active sessions are
// reported live; finished ones come from the session log.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	for _, info := range s.runner.Active() {
		if info.SessionID == id {
			respondJSON(w, http.StatusOK, SessionResponse{Active: &info})
			return
		}
	}

	if s.sessions == nil {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	entry, err := s.sessions.Get(r.Context(), id)
	if errors.Is(err, sessionlog.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get session", "session_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve session")
		return
	}
	respondJSON(w, http.StatusOK, SessionResponse{Entry: entry})
}

// handleCancelSession handles DELETE /sessions/{sessionID}?reason=.
func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "cancelled via api"
	}
	if !s.runner.Cancel(id, reason) {
		s.writeError(w, http.StatusNotFound, "session not active")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"session_id": id, "status": "cancelling"})
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
