package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractBearerToken(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
	req.Header.Set("Authorization", "Bearer test-key")
	key, err := ExtractBearerToken(req)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if key != "test-key" {
		t.Fatalf("expected key %q, got %q", "test-key", key)
	}

	req2 := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
	if _, err := ExtractBearerToken(req2); err == nil {
		t.Fatalf("expected error for missing header")
	}

	req3 := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
	req3.Header.Set("Authorization", "Basic abc")
	if _, err := ExtractBearerToken(req3); err == nil {
		t.Fatalf("expected error for non-bearer header")
	}

	req4 := httptest.NewRequest(http.MethodGet, "http://example.test", nil)
	req4.Header.Set("Authorization", "Bearer   ")
	if _, err := ExtractBearerToken(req4); err == nil {
		t.Fatalf("expected error for empty bearer key")
	}
}

func TestAuthenticateAPIKeyIsAdmin(t *testing.T) {
	t.Parallel()

	p, ok := Authenticate("admin", "admin", nil)
	if !ok {
		t.Fatal("expected api key to authenticate")
	}
	if !HasAnyScope(p, ScopeHost) || !HasAnyScope(p, ScopeSessionsWrite) {
		t.Fatalf("api key should carry every scope, got %v", p.Scopes)
	}
}

func TestAuthenticateEmptyNeverMatches(t *testing.T) {
	t.Parallel()

	if _, ok := Authenticate("", "", []TokenConfig{{Token: "", Scopes: []string{ScopeAll}}}); ok {
		t.Fatal("empty token must not authenticate")
	}
}

func TestAuthenticateScopedToken(t *testing.T) {
	t.Parallel()

	tokens := []TokenConfig{
		{Token: "host-token", Scopes: []string{ScopeHost}},
		{Token: "ops-token", Scopes: []string{" sessions:rw ", ScopeEventsRead}},
	}

	host, ok := Authenticate("host-token", "admin", tokens)
	if !ok {
		t.Fatal("host token rejected")
	}
	if !HasAnyScope(host, ScopeHost) || HasAnyScope(host, ScopeSessionsRead) {
		t.Fatalf("unexpected host scopes %v", host.Scopes)
	}

	ops, ok := Authenticate("ops-token", "admin", tokens)
	if !ok {
		t.Fatal("ops token rejected")
	}
	if !HasAnyScope(ops, ScopeSessionsRead) {
		t.Fatal("sessions:rw should imply sessions:ro")
	}
	if HasAnyScope(ops, ScopeHost) {
		t.Fatal("ops token should not attach as host")
	}

	if _, ok := Authenticate("unknown", "admin", tokens); ok {
		t.Fatal("unknown token authenticated")
	}
}

func TestPrincipalContext(t *testing.T) {
	t.Parallel()

	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Fatal("empty context has no principal")
	}
	ctx := WithPrincipal(context.Background(), Principal{Token: "x"})
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.Token != "x" {
		t.Fatalf("principal not carried: %+v", p)
	}
}

func TestIsKnownScope(t *testing.T) {
	t.Parallel()

	if !IsKnownScope(ScopeEventsRead) || IsKnownScope("jobs:rw") {
		t.Fatal("scope table mismatch")
	}
}
