// Package heartbeat emits periodic liveness ticks while a command handler
// runs. Ticks are scheduled against the start time, so late callbacks do not
// push later ticks back.
package heartbeat

import (
	"sync"
	"time"
)

// Emitter calls emit once per elapsed interval until stopped.
// emit runs on a timer goroutine and must not call Stop.
type Emitter struct {
	mu       sync.Mutex
	start    time.Time
	interval time.Duration
	emit     func(seq int)
	timer    *time.Timer
	count    int
	stopped  bool
}

// Start begins emitting. The first tick is due one interval after Start. A
// non-positive interval yields an emitter that never fires.
func Start(interval time.Duration, emit func(seq int)) *Emitter {
	e := &Emitter{
		start:    time.Now(),
		interval: interval,
		emit:     emit,
	}
	if interval <= 0 || emit == nil {
		e.stopped = true
		return e
	}
	e.mu.Lock()
	e.timer = time.AfterFunc(interval, e.fire)
	e.mu.Unlock()
	return e
}

func (e *Emitter) fire() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}

	e.count++
	e.emit(e.count)

	next := e.start.Add(time.Duration(e.count+1) * e.interval)
	e.timer.Reset(max(time.Until(next), 0))
}

// Stop halts the emitter and returns how many ticks were emitted. Once Stop
// returns, emit is not called again. Stop is idempotent.
func (e *Emitter) Stop() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.stopped {
		e.stopped = true
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	return e.count
}

// Count returns the ticks emitted so far.
func (e *Emitter) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}
