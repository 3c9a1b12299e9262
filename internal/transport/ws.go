// Package transport bridges a host connection to the session controller.
//
// The host speaks JSON over a WebSocket: it sends invoke and cancel
// envelopes and receives heartbeat, progress and response messages. Each
// connection owns exactly one write goroutine, so frames from concurrent
// sessions never interleave.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mattjoyce/voicecmd/internal/intent"
	"github.com/mattjoyce/voicecmd/internal/protocol"
	"github.com/mattjoyce/voicecmd/internal/session"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultPongWait     = 60 * time.Second
	defaultMaxMessage   = 64 * 1024
)

// ErrConnClosed is returned by Send once the host connection is gone.
var ErrConnClosed = errors.New("host connection closed")

// Runner executes invocations. *session.Controller satisfies it.
type Runner interface {
	Run(ctx context.Context, inv intent.Invocation, out session.Outbound) (*session.Result, error)
	Cancel(id, reason string) bool
}

// Config tunes connection keepalive.
type Config struct {
	WriteTimeout    time.Duration
	PongWait        time.Duration
	MaxMessageBytes int64
	// CheckOrigin overrides the upgrader origin check. Nil allows all
	// origins; the API layer authenticates before upgrading.
	CheckOrigin func(r *http.Request) bool
}

// Server upgrades host connections and serves them.
type Server struct {
	runner   Runner
	cfg      Config
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	conns   map[*conn]struct{}
	closing bool
	wg      sync.WaitGroup
}

// NewServer creates a bridge in front of runner.
func NewServer(runner Runner, cfg Config, logger *slog.Logger) *Server {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessage
	}
	if logger == nil {
		logger = slog.Default()
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Server{
		runner: runner,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		logger: logger.With(slog.String("component", "transport")),
		conns:  make(map[*conn]struct{}),
	}
}

// ServeHTTP upgrades the request and blocks until the connection ends.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if closing {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()

	// The request context ends when the handler returns, which is fine:
	// sessions are bound to the connection, not the server.
	s.serve(r.Context(), ws, r.RemoteAddr)
}

// Wait blocks until every connection served so far has finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

// Close sends a going-away frame to every host and drops the connections.
// Their running sessions are cancelled. Later upgrades are refused.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for c := range s.conns {
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = c.ws.Close()
	}
}

func (s *Server) track(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

type writeReq struct {
	data   []byte
	result chan error
}

type conn struct {
	ws     *websocket.Conn
	cfg    Config
	writes chan writeReq
	closed chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func (s *Server) serve(parent context.Context, ws *websocket.Conn, remote string) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	c := &conn{
		ws:     ws,
		cfg:    s.cfg,
		writes: make(chan writeReq),
		closed: make(chan struct{}),
		logger: s.logger.With(slog.String("remote", remote)),
	}
	if !s.track(c) {
		_ = ws.Close()
		return
	}
	defer s.untrack(c)
	c.logger.Info("host connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	var sessions sync.WaitGroup
	err := c.readLoop(func(env *protocol.Envelope) {
		switch env.Type {
		case protocol.TypeInvoke:
			inv := *env.Invocation
			sessions.Add(1)
			go func() {
				defer sessions.Done()
				s.runSession(ctx, c, inv)
			}()
		case protocol.TypeCancel:
			if !s.runner.Cancel(env.SessionID, env.Reason) {
				c.logger.Debug("cancel for unknown session", "session_id", env.SessionID)
			}
		}
	})
	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if err != nil && !closing && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Warn("host connection ended", "error", err)
	} else {
		c.logger.Info("host disconnected")
	}

	// Sessions see ctx.Done and cancel; their Sends fail fast once closed.
	cancel()
	c.shutdown()
	sessions.Wait()
	<-writerDone
	_ = ws.Close()
}

func (s *Server) runSession(ctx context.Context, c *conn, inv intent.Invocation) {
	res, err := s.runner.Run(ctx, inv, c)
	if err != nil {
		c.logger.Warn("invocation rejected", "session_id", inv.SessionID, "command", inv.CommandName, "error", err)
		return
	}
	c.logger.Debug("session finished",
		"session_id", res.SessionID,
		"state", res.State,
		"duration_ms", res.Duration().Milliseconds(),
	)
}

// readLoop decodes envelopes until the connection fails. Malformed
// envelopes are logged and skipped.
func (c *conn) readLoop(handle func(*protocol.Envelope)) error {
	c.ws.SetReadLimit(c.cfg.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		if kind != websocket.TextMessage {
			c.logger.Warn("ignoring non-text frame", "kind", kind)
			continue
		}
		env, err := protocol.UnmarshalEnvelope(data)
		if err != nil {
			c.logger.Warn("ignoring malformed envelope", "error", err)
			continue
		}
		handle(env)
	}
}

// writeLoop is the only goroutine that writes to the socket.
func (c *conn) writeLoop() {
	ping := time.NewTicker(c.cfg.PongWait * 9 / 10)
	defer ping.Stop()

	for {
		select {
		case req := <-c.writes:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			err := c.ws.WriteMessage(websocket.TextMessage, req.data)
			req.result <- err
			if err != nil {
				c.logger.Warn("write failed", "error", err)
				c.shutdown()
				_ = c.ws.Close()
				return
			}

		case <-ping.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("ping failed", "error", err)
			}

		case <-c.closed:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			return
		}
	}
}

func (c *conn) shutdown() {
	c.once.Do(func() { close(c.closed) })
}

// Send implements session.Outbound by handing the frame to the writer.
func (c *conn) Send(ctx context.Context, msg *protocol.Message) error {
	data, err := protocol.MarshalMessage(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req := writeReq{data: data, result: make(chan error, 1)}
	select {
	case c.writes <- req:
	case <-c.closed:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
