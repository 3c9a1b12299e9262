// Package session runs one voice command invocation from arrival to its
// terminal event.
//
// A session moves created → acknowledging → running and ends in exactly one
// of completed, failed or cancelled. Within a session the handler goroutine,
// the heartbeat timer and the outbox writer race through a single select in
// Run; the first terminal event wins and teardown runs exactly once.
//
// Host contract:
//   - Something must reach the host within the acknowledgment budget. If the
//     handler is still silent halfway through it, the controller sends an
//     ack of its own; if even that is not delivered in time, the session
//     fails with protocol_timeout
//   - While the handler runs, a heartbeat is sent every liveness interval
//   - At most one final response per session, never after cancellation
//   - A failed send is retried once; a second failure ends the session silently
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mattjoyce/voicecmd/internal/dispatch"
	"github.com/mattjoyce/voicecmd/internal/heartbeat"
	"github.com/mattjoyce/voicecmd/internal/intent"
	"github.com/mattjoyce/voicecmd/internal/log"
	"github.com/mattjoyce/voicecmd/internal/protocol"
	"github.com/mattjoyce/voicecmd/internal/response"
)

// Catalog keys for the controller's own messages.
const (
	KeyStillWorking = "voice.still_working"
	KeyOneMoment    = "voice.one_moment"
)

// Event types published for every session.
const (
	EventStarted      = "session.started"
	EventAcknowledged = "session.acknowledged"
	EventHeartbeat    = "session.heartbeat"
	EventProgress     = "session.progress"
	EventCompleted    = "session.completed"
	EventFailed       = "session.failed"
	EventCancelled    = "session.cancelled"
)

// ErrDuplicateSession is returned by Run when the session ID is already active.
var ErrDuplicateSession = errors.New("session already active")

// Config holds the timing contract with the host.
type Config struct {
	AckBudget         time.Duration
	HeartbeatInterval time.Duration
	GracePeriod       time.Duration
	SendTimeout       time.Duration
	RetryBackoff      time.Duration
	MaxTiles          int
}

// DefaultConfig returns the host's standard timings.
func DefaultConfig() Config {
	return Config{
		AckBudget:         500 * time.Millisecond,
		HeartbeatInterval: 5 * time.Second,
		GracePeriod:       2 * time.Second,
		SendTimeout:       5 * time.Second,
		RetryBackoff:      200 * time.Millisecond,
		MaxTiles:          response.DefaultMaxTiles,
	}
}

// Controller runs sessions. One Controller serves any number of concurrent
// sessions; each Run owns its session exclusively.
type Controller struct {
	registry  *dispatch.Registry
	catalog   Catalog
	cfg       Config
	launcher  Launcher
	recorder  Recorder
	publisher Publisher
	tracer    trace.Tracer
	logger    *slog.Logger

	mu     sync.Mutex
	active map[string]*Session
}

// Option configures a Controller.
type Option func(*Controller)

// WithLauncher sets the launch collaborator.
func WithLauncher(l Launcher) Option { return func(c *Controller) { c.launcher = l } }

// WithRecorder persists every finished session.
func WithRecorder(r Recorder) Option { return func(c *Controller) { c.recorder = r } }

// WithPublisher broadcasts lifecycle events.
func WithPublisher(p Publisher) Option { return func(c *Controller) { c.publisher = p } }

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option { return func(c *Controller) { c.tracer = t } }

// WithLogger overrides the component logger.
func WithLogger(l *slog.Logger) Option { return func(c *Controller) { c.logger = l } }

// NewController creates a Controller.
func NewController(reg *dispatch.Registry, catalog Catalog, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		registry: reg,
		catalog:  catalog,
		cfg:      cfg,
		tracer:   otel.Tracer("github.com/mattjoyce/voicecmd/internal/session"),
		logger:   log.WithComponent("session"),
		active:   make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Cancel signals the active session id. It reports false if no such session
// is running.
func (c *Controller) Cancel(id, reason string) bool {
	c.mu.Lock()
	s, ok := c.active[id]
	c.mu.Unlock()
	if !ok {
		return false
	}
	s.cancel(reason)
	return true
}

// Active returns snapshots of running sessions.
func (c *Controller) Active() []Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Info, 0, len(c.active))
	for _, s := range c.active {
		out = append(out, s.Info())
	}
	return out
}

func (c *Controller) track(s *Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.active[s.inv.SessionID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSession, s.inv.SessionID)
	}
	c.active[s.inv.SessionID] = s
	return nil
}

func (c *Controller) untrack(s *Session) {
	c.mu.Lock()
	if c.active[s.inv.SessionID] == s {
		delete(c.active, s.inv.SessionID)
	}
	c.mu.Unlock()
}

func (c *Controller) publish(eventType string, data any) {
	if c.publisher != nil {
		c.publisher.Publish(eventType, data)
	}
}

type handlerResult struct {
	outcome intent.Outcome
	err     error
}

// run is the per-session working set of one Controller.Run call.
type run struct {
	c       *Controller
	s       *Session
	ctx     context.Context
	text    intent.Templates
	builder *response.Builder
	ob      *outbox
	emitter *heartbeat.Emitter
	logger  *slog.Logger
	span    trace.Span

	hcancel     context.CancelFunc
	done        chan handlerResult
	handlerDone bool

	mu       sync.Mutex
	progress int

	result       *Result
	teardownOnce sync.Once
}

// Run executes inv and blocks until the session reaches a terminal state and
// its resources are released. Messages are delivered through out. The
// returned error is non-nil only when the session could not start; session
// failures are reported in Result.Err.
func (c *Controller) Run(ctx context.Context, inv intent.Invocation, out Outbound) (*Result, error) {
	if inv.CommandName == "" {
		return nil, fmt.Errorf("invocation missing command name")
	}
	if out == nil {
		return nil, fmt.Errorf("outbound is nil")
	}
	if inv.SessionID == "" {
		inv.SessionID = uuid.NewString()
	}

	s := newSession(inv)
	if err := c.track(s); err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "session "+inv.CommandName, trace.WithAttributes(
		attribute.String("voicecmd.session_id", inv.SessionID),
		attribute.String("voicecmd.command", inv.CommandName),
		attribute.String("voicecmd.locale", inv.Locale),
	))

	logger := c.logger.With(slog.String("session_id", inv.SessionID), slog.String("command", inv.CommandName))
	text := c.catalog.Bind(inv.Locale)

	r := &run{
		c:       c,
		s:       s,
		ctx:     ctx,
		text:    text,
		builder: response.New(text, response.WithMaxTiles(c.cfg.MaxTiles)),
		ob:      newOutbox(ctx, out, c.cfg.SendTimeout, c.cfg.RetryBackoff, logger),
		logger:  logger,
		span:    span,
		done:    make(chan handlerResult, 1),
		result: &Result{
			SessionID: inv.SessionID,
			Command:   inv.CommandName,
			Locale:    inv.Locale,
			Fallback:  !c.registry.Known(inv.CommandName),
			StartedAt: s.startTime,
		},
	}
	defer r.teardown()

	if r.result.Fallback {
		logger.Warn("unknown command, using fallback")
	}
	logger.Debug("session started")
	c.publish(EventStarted, s.Info())

	handler := c.registry.Resolve(inv.CommandName)
	hctx, hcancel := context.WithCancel(ctx)
	r.hcancel = hcancel

	call := &intent.Call{Invocation: inv, Text: text, Progress: r}
	s.transition(StateAcknowledging)
	go runHandler(hctx, handler, call, r.done)
	r.emitter = heartbeat.Start(c.cfg.HeartbeatInterval, r.heartbeat)

	lead := time.NewTimer(c.cfg.AckBudget / 2)
	defer lead.Stop()
	deadline := time.NewTimer(c.cfg.AckBudget)
	defer deadline.Stop()
	acked, delivered := r.ob.acked, r.ob.delivered
	leadC, deadlineC := lead.C, deadline.C

	for {
		select {
		case <-acked:
			acked, leadC = nil, nil
			s.transition(StateRunning)

		case <-leadC:
			leadC = nil
			if !r.ob.hasAcked() && !r.acknowledge() {
				return r.protocolTimeout("acknowledgment could not be queued"), nil
			}

		case <-delivered:
			delivered, deadlineC = nil, nil

		case <-deadlineC:
			deadlineC = nil
			if !r.ob.hasDelivered() {
				return r.protocolTimeout("acknowledgment budget exceeded"), nil
			}

		case res := <-r.done:
			r.handlerDone = true
			return r.complete(res), nil

		case <-s.cancelCh:
			return r.cancel(s.reason()), nil

		case <-ctx.Done():
			return r.cancel(fmt.Sprintf("context: %v", context.Cause(ctx))), nil

		case <-r.ob.fault:
			return r.transportFault(), nil
		}
	}
}

func runHandler(ctx context.Context, h intent.Handler, call *intent.Call, done chan<- handlerResult) {
	defer func() {
		if p := recover(); p != nil {
			done <- handlerResult{err: fmt.Errorf("handler panic: %v", p)}
		}
	}()
	outcome, err := h.Handle(ctx, call)
	done <- handlerResult{outcome: outcome, err: err}
}

// Report implements intent.Reporter for the handler.
func (r *run) Report(display, spoken string) {
	if r.s.State().Terminal() {
		return
	}
	if r.ob.enqueue(protocol.NewProgress(r.s.inv.SessionID, 0, display, spoken)) {
		r.mu.Lock()
		r.progress++
		r.mu.Unlock()
		r.c.publish(EventProgress, map[string]string{"session_id": r.s.inv.SessionID, "display_text": display})
	}
}

func (r *run) say(key string) string {
	text, _ := r.text.Lookup(key)
	return text
}

// acknowledge queues the controller's own ack for a handler that has not
// reported yet.
func (r *run) acknowledge() bool {
	text := r.say(KeyOneMoment)
	if !r.ob.enqueue(protocol.NewAck(r.s.inv.SessionID, 0, text, text)) {
		return false
	}
	r.logger.Debug("handler silent, acknowledged on its behalf")
	r.c.publish(EventAcknowledged, map[string]string{"session_id": r.s.inv.SessionID})
	return true
}

func (r *run) protocolTimeout(reason string) *Result {
	r.logger.Error("acknowledgment not delivered", "budget", r.c.cfg.AckBudget, "reason", reason)
	r.abandonHandler()
	r.result.Err = ErrProtocolTimeout
	return r.deliverFinal(r.builder.Build(intent.Failure{Reason: reason}), CodeProtocolTimeout, StateFailed)
}

func (r *run) heartbeat(seq int) {
	text := r.say(KeyStillWorking)
	if !r.ob.enqueue(protocol.NewHeartbeat(r.s.inv.SessionID, 0, text, text)) {
		return
	}
	n := r.s.heartbeat(time.Now())
	r.logger.Debug("heartbeat", "n", n, "tick", seq)
	r.c.publish(EventHeartbeat, map[string]any{"session_id": r.s.inv.SessionID, "n": n})
}

func (r *run) complete(res handlerResult) *Result {
	if res.err == nil && res.outcome == nil {
		res.err = errors.New("handler returned no outcome")
	}
	if res.err != nil {
		r.logger.Error("handler fault", "error", res.err)
		r.result.Err = WrapError(CodeHandlerFault, "handler failed", res.err)
		return r.deliverFinal(r.builder.Build(intent.Failure{Reason: res.err.Error()}), CodeHandlerFault, StateFailed)
	}

	if f, ok := res.outcome.(intent.Failure); ok {
		r.result.Reason = f.Reason
		r.logger.Info("handler reported failure", "reason", f.Reason)
		return r.deliverFinal(r.builder.Build(f), "", StateFailed)
	}
	return r.deliverFinal(r.builder.Build(res.outcome), "", StateCompleted)
}

// deliverFinal sends the one final response and waits for the writer.
func (r *run) deliverFinal(rendered response.Rendered, code Code, state State) *Result {
	r.emitter.Stop()

	msg := protocol.NewResponse(r.s.inv.SessionID, 0, rendered, string(code))
	r.ob.finish(msg)
	r.ob.wait()

	r.result.Outcome = string(rendered.Kind)
	r.result.ErrorCode = code

	if err := r.ob.err(); err != nil {
		r.logger.Error("final response not delivered", "error", err)
		// A host that missed the ack is reported as such, not as a transport fault.
		if code != CodeProtocolTimeout {
			r.result.Err = WrapError(CodeTransportFault, "deliver response", err)
			r.result.ErrorCode = CodeTransportFault
		}
		r.s.transition(StateFailed)
		return r.result
	}

	if rendered.Kind == response.KindSuccess && rendered.LaunchArg != nil {
		r.result.LaunchArg = rendered.LaunchArg
		if r.c.launcher != nil {
			r.c.launcher.Launch(r.s.inv.SessionID, *rendered.LaunchArg)
		}
	}
	r.s.transition(state)
	return r.result
}

func (r *run) cancel(reason string) *Result {
	r.emitter.Stop()
	r.ob.abort()
	r.hcancel()
	r.logger.Info("session cancelled", "reason", reason)
	r.result.Reason = reason
	r.result.ErrorCode = CodeCancelled
	r.result.Err = WrapError(CodeCancelled, "session cancelled", errors.New(reason))
	r.s.transition(StateCancelled)
	return r.result
}

func (r *run) transportFault() *Result {
	r.emitter.Stop()
	r.ob.abort()
	r.hcancel()
	err := r.ob.err()
	r.logger.Error("transport fault, closing session", "error", err)
	r.result.ErrorCode = CodeTransportFault
	r.result.Err = WrapError(CodeTransportFault, "send failed", err)
	r.s.transition(StateFailed)
	return r.result
}

func (r *run) abandonHandler() {
	r.hcancel()
}

// teardown releases everything exactly once, whatever path ended the run.
func (r *run) teardown() {
	r.teardownOnce.Do(func() {
		if r.emitter != nil {
			r.emitter.Stop()
		}
		r.ob.abort()
		r.ob.wait()
		if r.hcancel != nil {
			r.hcancel()
			if !r.handlerDone {
				r.awaitHandler()
			}
		}
		r.c.untrack(r.s)

		// A session that never reached a terminal state failed to start.
		r.s.transition(StateFailed)

		r.mu.Lock()
		r.result.Progress = r.progress
		r.mu.Unlock()
		r.result.Messages, r.result.Heartbeats = r.ob.counts()
		r.result.State = r.s.State()
		r.result.EndedAt = time.Now()

		r.finishSpan()
		r.record()

		r.logger.Info("session finished",
			"state", r.result.State,
			"outcome", r.result.Outcome,
			"error_code", r.result.ErrorCode,
			"heartbeats", r.result.Heartbeats,
			"duration_ms", r.result.Duration().Milliseconds(),
		)
	})
}

// awaitHandler gives an abandoned handler the grace period to return.
func (r *run) awaitHandler() {
	grace := time.NewTimer(r.c.cfg.GracePeriod)
	defer grace.Stop()
	select {
	case <-r.done:
		r.handlerDone = true
	case <-grace.C:
		r.result.Abandoned = true
		r.logger.Warn("handler still running after grace period, abandoning", "grace", r.c.cfg.GracePeriod)
	}
}

func (r *run) finishSpan() {
	r.span.SetAttributes(
		attribute.String("voicecmd.state", string(r.result.State)),
		attribute.Int("voicecmd.heartbeats", r.result.Heartbeats),
		attribute.Bool("voicecmd.fallback", r.result.Fallback),
	)
	if r.result.Err != nil && r.result.State == StateFailed {
		r.span.RecordError(r.result.Err)
		r.span.SetStatus(codes.Error, string(r.result.ErrorCode))
	}
	r.span.End()
}

func (r *run) record() {
	if r.c.recorder != nil {
		if err := r.c.recorder.Record(context.WithoutCancel(r.ctx), r.result); err != nil {
			r.logger.Error("failed to record session", "error", err)
		}
	}

	var ev string
	switch r.result.State {
	case StateCompleted:
		ev = EventCompleted
	case StateCancelled:
		ev = EventCancelled
	default:
		ev = EventFailed
	}
	r.c.publish(ev, r.result)
}
