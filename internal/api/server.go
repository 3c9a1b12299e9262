package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/mattjoyce/voicecmd/internal/auth"
	"github.com/mattjoyce/voicecmd/internal/events"
	"github.com/mattjoyce/voicecmd/internal/intent"
	"github.com/mattjoyce/voicecmd/internal/session"
	"github.com/mattjoyce/voicecmd/internal/sessionlog"
)

// SessionRunner runs and cancels sessions. *session.Controller implements it.
type SessionRunner interface {
	Run(ctx context.Context, inv intent.Invocation, out session.Outbound) (*session.Result, error)
	Cancel(id, reason string) bool
	Active() []session.Info
}

// SessionLog reads finished sessions.
type SessionLog interface {
	Get(ctx context.Context, id string) (*sessionlog.Entry, error)
	Recent(ctx context.Context, f sessionlog.Filter) ([]*sessionlog.Entry, error)
}

// CommandRegistry describes the dispatcher for health reporting.
type CommandRegistry interface {
	Names() []string
	Fingerprint() string
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the admin bearer token. With no APIKey and no Tokens the
	// API is unauthenticated.
	APIKey      string
	Tokens      []auth.TokenConfig
	CORSOrigins []string
	// InvokeTimeout bounds POST /invoke.
	InvokeTimeout time.Duration
	// HostOnly serves /healthz and /ws without the operator endpoints.
	HostOnly bool
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	runner    SessionRunner
	registry  CommandRegistry
	sessions  SessionLog
	events    *events.Hub
	host      http.Handler
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. host serves /ws and may be nil;
// sessions may be nil when no session log is configured.
func New(config Config, runner SessionRunner, registry CommandRegistry, sessions SessionLog, hub *events.Hub, host http.Handler, logger *slog.Logger) *Server {
	if config.InvokeTimeout <= 0 {
		config.InvokeTimeout = time.Minute
	}
	if hub == nil {
		hub = events.NewHub(256)
	}
	return &Server{
		config:    config,
		runner:    runner,
		registry:  registry,
		sessions:  sessions,
		events:    hub,
		host:      host,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		// WebSocket and SSE connections are long lived; per-message
		// deadlines are set by the transport.
		IdleTimeout: 60 * time.Second,
	}

	if !s.authEnabled() {
		s.logger.Warn("API key not set, API is unauthenticated", "listen", s.config.Listen)
	}
	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler wrapped in CORS.
func (s *Server) Handler() http.Handler {
	router := s.setupRoutes()
	if len(s.config.CORSOrigins) == 0 {
		return router
	}
	c := cors.New(cors.Options{
		AllowedOrigins: s.config.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Last-Event-ID"},
	})
	return c.Handler(router)
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		if s.host != nil {
			r.With(s.requireScopes(auth.ScopeHost)).Get("/ws", s.host.ServeHTTP)
		}
		if s.config.HostOnly {
			return
		}
		r.With(s.requireScopes(auth.ScopeSessionsWrite)).Post("/invoke", s.handleInvoke)
		r.With(s.requireScopes(auth.ScopeEventsRead)).Get("/events", s.handleEvents)
		r.With(s.requireScopes(auth.ScopeSessionsRead)).Get("/sessions", s.handleListSessions)
		r.With(s.requireScopes(auth.ScopeSessionsRead)).Get("/sessions/{sessionID}", s.handleGetSession)
		r.With(s.requireScopes(auth.ScopeSessionsWrite)).Delete("/sessions/{sessionID}", s.handleCancelSession)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
