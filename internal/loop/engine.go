// Package loop implements the single-threaded cooperative event loop
// that all alarm-core callbacks run on: inbound bus messages, periodic
// publish ticks, and timer firings are all marshaled onto one goroutine
// so that no two callbacks ever execute concurrently.
//
// This is the Go-native replacement for the miqro.Loop primitive the
// Python original builds on (every/after with start/stop/restart). The
// timer bookkeeping is grounded on internal/scheduler's timer map
// (one *time.Timer per handle, cancel-and-replace on restart) and
// internal/connwatch's cancellable-sleep idiom; what's new is that
// timers post work onto a shared Engine instead of firing directly,
// which is what lets MQTT deliveries (which paho.golang hands to a
// background goroutine) and timer deadlines interleave safely.
package loop

import (
	"context"
	"log/slog"
)

// Engine serializes callback execution. Submit is safe to call from any
// goroutine (e.g., the MQTT client's publish-received callback); Run
// drains submissions on a single goroutine until ctx is cancelled.
type Engine struct {
	logger *slog.Logger
	work   chan func()
}

// NewEngine creates an Engine. A nil logger is replaced with slog.Default.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger: logger,
		work:   make(chan func(), 256),
	}
}

// Submit enqueues fn to run on the engine's goroutine. Non-blocking from
// the caller's perspective only up to the channel buffer; a wedged Run
// loop will eventually block callers, which is intentional backpressure
// rather than silently dropping alarm-relevant work.
func (e *Engine) Submit(fn func()) {
	e.work <- fn
}

// Run drains submitted callbacks, serialized, until ctx is cancelled.
// Panics in an individual callback are recovered and logged so one bad
// handler cannot take down the whole loop.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-e.work:
			e.runOne(fn)
		}
	}
}

func (e *Engine) runOne(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("loop: callback panicked", "panic", r)
		}
	}()
	fn()
}
