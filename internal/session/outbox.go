package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mattjoyce/voicecmd/internal/protocol"
)

// outbox serializes a session's outbound messages. Enqueue only holds the
// mutex long enough to append; a single writer goroutine delivers in order,
// so at most one Send is ever in flight.
type outbox struct {
	out          Outbound
	sendTimeout  time.Duration
	retryBackoff time.Duration
	logger       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	queue   []*protocol.Message
	seq     int
	closed  bool // no more enqueues
	aborted bool // drop pending, stop sending
	sent    int
	beats   int // heartbeats among sent

	wake chan struct{}

	ackOnce sync.Once
	acked   chan struct{} // closed on the first enqueue

	deliveredOnce sync.Once
	delivered     chan struct{} // closed on the first successful send

	faultOnce sync.Once
	fault     chan struct{}
	faultErr  error

	done chan struct{}
}

// newOutbox starts the writer. Sends are not tied to the session context;
// abort cancels them.
func newOutbox(parent context.Context, out Outbound, sendTimeout, retryBackoff time.Duration, logger *slog.Logger) *outbox {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	o := &outbox{
		out:          out,
		sendTimeout:  sendTimeout,
		retryBackoff: retryBackoff,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		wake:         make(chan struct{}, 1),
		acked:        make(chan struct{}),
		delivered:    make(chan struct{}),
		fault:        make(chan struct{}),
		done:         make(chan struct{}),
	}
	go o.run()
	return o
}

// enqueue assigns the next sequence number and queues m. It reports false
// once the outbox is closed.
func (o *outbox) enqueue(m *protocol.Message) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	o.seq++
	m.Seq = o.seq
	o.queue = append(o.queue, m)
	o.mu.Unlock()

	o.ackOnce.Do(func() { close(o.acked) })
	o.signal()
	return true
}

func (o *outbox) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// hasAcked reports whether anything was ever enqueued.
func (o *outbox) hasAcked() bool {
	select {
	case <-o.acked:
		return true
	default:
		return false
	}
}

// finish queues the final message and closes the outbox in one step, so
// nothing can be queued behind it.
func (o *outbox) finish(m *protocol.Message) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	o.seq++
	m.Seq = o.seq
	o.queue = append(o.queue, m)
	o.closed = true
	o.mu.Unlock()

	o.ackOnce.Do(func() { close(o.acked) })
	o.signal()
	return true
}

// abort stops enqueues, drops anything pending and cancels an in-flight send.
func (o *outbox) abort() {
	o.mu.Lock()
	o.closed = true
	o.aborted = true
	o.queue = nil
	o.mu.Unlock()
	o.cancel()
	o.signal()
}

func (o *outbox) run() {
	defer close(o.done)
	for {
		o.mu.Lock()
		if o.aborted || (o.closed && len(o.queue) == 0) {
			o.mu.Unlock()
			return
		}
		if len(o.queue) == 0 {
			o.mu.Unlock()
			<-o.wake
			continue
		}
		m := o.queue[0]
		o.queue = o.queue[1:]
		o.mu.Unlock()

		if err := o.deliver(m); err != nil {
			o.mu.Lock()
			aborted := o.aborted
			o.closed, o.aborted, o.queue = true, true, nil
			o.mu.Unlock()
			if !aborted {
				o.faultOnce.Do(func() {
					o.faultErr = err
					close(o.fault)
				})
			}
			return
		}

		o.mu.Lock()
		o.sent++
		if m.Type == protocol.MessageHeartbeat {
			o.beats++
		}
		o.mu.Unlock()
		o.deliveredOnce.Do(func() { close(o.delivered) })
	}
}

// deliver sends m, retrying once after the configured backoff.
func (o *outbox) deliver(m *protocol.Message) error {
	attempt := 0
	op := func() error {
		attempt++
		ctx := o.ctx
		if o.sendTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(o.ctx, o.sendTimeout)
			defer cancel()
		}
		err := o.out.Send(ctx, m)
		if err != nil && attempt == 1 {
			o.logger.Warn("send failed, retrying", "type", m.Type, "seq", m.Seq, "error", err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.retryBackoff
	b.RandomizationFactor = 0
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, 1), o.ctx))
}

// wait blocks until the writer has exited.
func (o *outbox) wait() {
	<-o.done
}

// err returns the transport fault, if any. Valid after wait.
func (o *outbox) err() error {
	select {
	case <-o.fault:
		return o.faultErr
	default:
		return nil
	}
}

// hasDelivered reports whether any message reached the host.
func (o *outbox) hasDelivered() bool {
	select {
	case <-o.delivered:
		return true
	default:
		return false
	}
}

// counts returns how many messages, and how many heartbeats among them,
// reached the host.
func (o *outbox) counts() (messages, heartbeats int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sent, o.beats
}
