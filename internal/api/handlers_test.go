package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mattjoyce/voicecmd/internal/events"
	"github.com/mattjoyce/voicecmd/internal/intent"
	"github.com/mattjoyce/voicecmd/internal/protocol"
	"github.com/mattjoyce/voicecmd/internal/response"
	"github.com/mattjoyce/voicecmd/internal/session"
	"github.com/mattjoyce/voicecmd/internal/sessionlog"
)

// mockRunner implements SessionRunner for testing
type mockRunner struct {
	runFunc    func(ctx context.Context, inv intent.Invocation, out session.Outbound) (*session.Result, error)
	cancelFunc func(id, reason string) bool
	active     []session.Info
}

func (m *mockRunner) Run(ctx context.Context, inv intent.Invocation, out session.Outbound) (*session.Result, error) {
	return m.runFunc(ctx, inv, out)
}

func (m *mockRunner) Cancel(id, reason string) bool {
	if m.cancelFunc == nil {
		return false
	}
	return m.cancelFunc(id, reason)
}

func (m *mockRunner) Active() []session.Info {
	return m.active
}

// mockRegistry implements CommandRegistry for testing
type mockRegistry struct{}

func (mockRegistry) Names() []string     { return []string{"openBible", "thankYouBible"} }
func (mockRegistry) Fingerprint() string { return "abc123" }

// mockSessionLog implements SessionLog for testing
type mockSessionLog struct {
	getFunc    func(ctx context.Context, id string) (*sessionlog.Entry, error)
	recentFunc func(ctx context.Context, f sessionlog.Filter) ([]*sessionlog.Entry, error)
}

func (m *mockSessionLog) Get(ctx context.Context, id string) (*sessionlog.Entry, error) {
	return m.getFunc(ctx, id)
}

func (m *mockSessionLog) Recent(ctx context.Context, f sessionlog.Filter) ([]*sessionlog.Entry, error) {
	return m.recentFunc(ctx, f)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestServer(runner *mockRunner, log SessionLog) *Server {
	config := Config{
		Listen: "localhost:8090",
		APIKey: "test-key-123",
	}
	return New(config, runner, mockRegistry{}, log, events.NewHub(10), nil, quietLogger())
}

func doRequest(t *testing.T, server *Server, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Authorization", "Bearer test-key-123")
	rr := httptest.NewRecorder()
	server.setupRoutes().ServeHTTP(rr, req)
	return rr
}

func TestHandleHealthz_NoAuth(t *testing.T) {
	server := newTestServer(&mockRunner{active: []session.Info{{SessionID: "a"}}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	server.setupRoutes().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp HealthzResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("expected status ok, got %q", resp.Status)
	}
	if resp.ActiveSessions != 1 {
		t.Fatalf("expected active_sessions 1, got %d", resp.ActiveSessions)
	}
	if len(resp.Commands) != 2 || resp.Fingerprint != "abc123" {
		t.Fatalf("unexpected registry info: %+v", resp)
	}
}

func TestHandleInvoke_Success(t *testing.T) {
	runner := &mockRunner{
		runFunc: func(ctx context.Context, inv intent.Invocation, out session.Outbound) (*session.Result, error) {
			if inv.CommandName != "openBible" || inv.SessionID != "s1" {
				t.Errorf("unexpected invocation: %+v", inv)
			}
			rendered := response.Rendered{Kind: response.KindSuccess, Spoken: "Launching The Bible", Display: "Launching The Bible", LaunchArg: intent.Launch("")}
			if err := out.Send(ctx, protocol.NewResponse(inv.SessionID, 1, rendered, "")); err != nil {
				return nil, err
			}
			now := time.Now()
			return &session.Result{SessionID: inv.SessionID, State: session.StateCompleted, StartedAt: now, EndedAt: now}, nil
		},
	}
	server := newTestServer(runner, nil)

	rr := doRequest(t, server, http.MethodPost, "/invoke", strings.NewReader(`{"command_name":"openBible","session_id":"s1"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp InvokeResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.SessionID != "s1" || resp.State != session.StateCompleted {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(resp.Messages) != 1 || resp.Messages[0].SpokenText != "Launching The Bible" {
		t.Fatalf("unexpected messages: %+v", resp.Messages)
	}
}

func TestHandleInvoke_BadRequests(t *testing.T) {
	runner := &mockRunner{
		runFunc: func(ctx context.Context, inv intent.Invocation, out session.Outbound) (*session.Result, error) {
			t.Fatal("run should not be called for invalid bodies")
			return nil, nil
		},
	}
	server := newTestServer(runner, nil)

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{not json`},
		{"unknown field", `{"command_name":"openBible","extra":1}`},
		{"missing command", `{"session_id":"s1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(t, server, http.MethodPost, "/invoke", strings.NewReader(tt.body))
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", rr.Code)
			}
		})
	}
}

func TestHandleInvoke_DuplicateSession(t *testing.T) {
	runner := &mockRunner{
		runFunc: func(ctx context.Context, inv intent.Invocation, out session.Outbound) (*session.Result, error) {
			return nil, fmt.Errorf("%w: %s", session.ErrDuplicateSession, inv.SessionID)
		},
	}
	server := newTestServer(runner, nil)

	rr := doRequest(t, server, http.MethodPost, "/invoke", strings.NewReader(`{"command_name":"openBible","session_id":"dup"}`))
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestHandleInvoke_Unauthorized(t *testing.T) {
	server := newTestServer(&mockRunner{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/invoke", strings.NewReader(`{"command_name":"openBible"}`))
	rr := httptest.NewRecorder()
	server.setupRoutes().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestHandleListSessions(t *testing.T) {
	var captured sessionlog.Filter
	log := &mockSessionLog{
		recentFunc: func(ctx context.Context, f sessionlog.Filter) ([]*sessionlog.Entry, error) {
			captured = f
			return []*sessionlog.Entry{{SessionID: "old", State: session.StateCompleted}}, nil
		},
	}
	server := newTestServer(&mockRunner{active: []session.Info{{SessionID: "live"}}}, log)

	rr := doRequest(t, server, http.MethodGet, "/sessions?command=openBible&state=failed&limit=5", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.Command != "openBible" || captured.State != session.StateFailed || captured.Limit != 5 {
		t.Fatalf("unexpected filter: %+v", captured)
	}

	var resp SessionsResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Active) != 1 || resp.Active[0].SessionID != "live" {
		t.Fatalf("unexpected active: %+v", resp.Active)
	}
	if len(resp.Recent) != 1 || resp.Recent[0].SessionID != "old" {
		t.Fatalf("unexpected recent: %+v", resp.Recent)
	}
}

func TestHandleListSessions_InvalidLimit(t *testing.T) {
	server := newTestServer(&mockRunner{}, nil)

	rr := doRequest(t, server, http.MethodGet, "/sessions?limit=-1", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestHandleListSessions_NoLog(t *testing.T) {
	server := newTestServer(&mockRunner{}, nil)

	rr := doRequest(t, server, http.MethodGet, "/sessions", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"recent":[]`) {
		t.Fatalf("expected empty recent list, got %s", rr.Body.String())
	}
}

func TestHandleGetSession(t *testing.T) {
	log := &mockSessionLog{
		getFunc: func(ctx context.Context, id string) (*sessionlog.Entry, error) {
			switch id {
			case "old":
				return &sessionlog.Entry{SessionID: "old", State: session.StateCancelled}, nil
			case "broken":
				return nil, errors.New("disk on fire")
			default:
				return nil, sessionlog.ErrNotFound
			}
		},
	}
	server := newTestServer(&mockRunner{active: []session.Info{{SessionID: "live", State: session.StateRunning}}}, log)

	tests := []struct {
		id     string
		status int
		want   string
	}{
		{"live", http.StatusOK, `"active"`},
		{"old", http.StatusOK, `"entry"`},
		{"missing", http.StatusNotFound, "session not found"},
		{"broken", http.StatusInternalServerError, "failed to retrieve session"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			rr := doRequest(t, server, http.MethodGet, "/sessions/"+tt.id, nil)
			if rr.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, rr.Code)
			}
			if !strings.Contains(rr.Body.String(), tt.want) {
				t.Fatalf("expected body to contain %q, got %s", tt.want, rr.Body.String())
			}
		})
	}
}

func TestHandleCancelSession(t *testing.T) {
	var gotReason string
	runner := &mockRunner{
		cancelFunc: func(id, reason string) bool {
			gotReason = reason
			return id == "live"
		},
	}
	server := newTestServer(runner, nil)

	rr := doRequest(t, server, http.MethodDelete, "/sessions/live?reason=changed+mind", nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rr.Code)
	}
	if gotReason != "changed mind" {
		t.Fatalf("expected reason to be forwarded, got %q", gotReason)
	}

	rr = doRequest(t, server, http.MethodDelete, "/sessions/ghost", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

type streamWriter struct {
	mu     sync.Mutex
	header http.Header
	status int
	buf    bytes.Buffer
}

func newStreamWriter() *streamWriter {
	return &streamWriter{header: make(http.Header)}
}

func (w *streamWriter) Header() http.Header { return w.header }

func (w *streamWriter) WriteHeader(statusCode int) {
	w.mu.Lock()
	w.status = statusCode
	w.mu.Unlock()
}

func (w *streamWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *streamWriter) Flush() {}

func (w *streamWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func TestHandleEvents_Unauthorized(t *testing.T) {
	server := newTestServer(&mockRunner{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	rr := httptest.NewRecorder()
	server.setupRoutes().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func waitFor(w *streamWriter, needle string) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(w.String(), needle) {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func TestHandleEvents_ReplaysAndStreams(t *testing.T) {
	server := newTestServer(&mockRunner{}, nil)
	server.events.Publish("session.started", map[string]any{"session_id": "s1"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer test-key-123")

	w := newStreamWriter()
	done := make(chan struct{})
	go func() {
		server.setupRoutes().ServeHTTP(w, req)
		close(done)
	}()

	if !waitFor(w, "event: session.started\n") {
		t.Fatalf("expected replayed event in stream, got: %q", w.String())
	}

	server.events.Publish("session.completed", map[string]any{"session_id": "s1"})
	if !waitFor(w, "event: session.completed\n") {
		t.Fatalf("expected live event in stream, got: %q", w.String())
	}
	if strings.Count(w.String(), "event: session.started\n") != 1 {
		t.Fatalf("replayed event delivered twice: %q", w.String())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("stream did not exit after context cancel")
	}
}

func TestHandleEvents_PrefixFilter(t *testing.T) {
	server := newTestServer(&mockRunner{}, nil)
	server.events.Publish("session.started", nil)
	server.events.Publish("app.launch", map[string]string{"argument": "John"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events?prefix=app.", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer test-key-123")

	w := newStreamWriter()
	done := make(chan struct{})
	go func() {
		server.setupRoutes().ServeHTTP(w, req)
		close(done)
	}()

	if !waitFor(w, "event: app.launch\n") {
		t.Fatalf("expected app.launch in stream, got: %q", w.String())
	}
	if strings.Contains(w.String(), "session.started") {
		t.Fatalf("prefix filter leaked other events: %q", w.String())
	}
	cancel()
	<-done
}

func TestHostOnlyHidesOperatorEndpoints(t *testing.T) {
	config := Config{Listen: "localhost:8090", APIKey: "test-key-123", HostOnly: true}
	host := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	server := New(config, &mockRunner{}, mockRegistry{}, nil, events.NewHub(10), host, quietLogger())

	cases := []struct {
		method, target string
		want           int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/ws", http.StatusTeapot},
		{http.MethodGet, "/sessions", http.StatusNotFound},
		{http.MethodPost, "/invoke", http.StatusNotFound},
	}
	for _, tc := range cases {
		rr := doRequest(t, server, tc.method, tc.target, strings.NewReader(`{}`))
		if rr.Code != tc.want {
			t.Errorf("%s %s: got %d, want %d", tc.method, tc.target, rr.Code, tc.want)
		}
	}
}
