package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mattjoyce/voicecmd/internal/auth"
	"github.com/mattjoyce/voicecmd/internal/events"
)

func TestAuthMiddleware_OpenWithoutKey(t *testing.T) {
	t.Parallel()

	server := New(Config{}, &mockRunner{}, mockRegistry{}, nil, nil, nil, quietLogger())

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	rr := httptest.NewRecorder()
	server.setupRoutes().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 without configured key, got %d", rr.Code)
	}
}

func TestAuthMiddleware_WrongKey(t *testing.T) {
	t.Parallel()

	server := newTestServer(&mockRunner{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rr := httptest.NewRecorder()
	server.setupRoutes().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	t.Parallel()

	server := newTestServer(&mockRunner{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	rr := httptest.NewRecorder()
	server.setupRoutes().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestScopedTokens(t *testing.T) {
	t.Parallel()

	config := Config{
		Tokens: []auth.TokenConfig{
			{Token: "host-token", Scopes: []string{auth.ScopeHost}},
			{Token: "reader-token", Scopes: []string{auth.ScopeSessionsRead}},
			{Token: "ops-token", Scopes: []string{auth.ScopeSessionsWrite}},
		},
	}
	host := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	runner := &mockRunner{cancelFunc: func(id, reason string) bool { return true }}
	server := New(config, runner, mockRegistry{}, nil, events.NewHub(10), host, quietLogger())

	cases := []struct {
		name   string
		token  string
		method string
		target string
		want   int
	}{
		{"host attaches", "host-token", http.MethodGet, "/ws", http.StatusTeapot},
		{"host cannot list", "host-token", http.MethodGet, "/sessions", http.StatusForbidden},
		{"reader lists", "reader-token", http.MethodGet, "/sessions", http.StatusOK},
		{"reader cannot cancel", "reader-token", http.MethodDelete, "/sessions/abc", http.StatusForbidden},
		{"reader cannot attach", "reader-token", http.MethodGet, "/ws", http.StatusForbidden},
		{"ops cancels", "ops-token", http.MethodDelete, "/sessions/abc", http.StatusAccepted},
		{"ops reads via rw", "ops-token", http.MethodGet, "/sessions", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.target, nil)
			req.Header.Set("Authorization", "Bearer "+tc.token)
			rr := httptest.NewRecorder()
			server.setupRoutes().ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("got %d, want %d (body %s)", rr.Code, tc.want, rr.Body.String())
			}
		})
	}
}
