package loop

import (
	"sync"
	"time"
)

// Callback is a timer-fired function. Returning false cancels further
// firings of a repeating Timer (the "stop sentinel" from spec.md §4.a).
type Callback func() bool

// Timer wraps a single scheduled callback bound to an Engine. All firing
// is marshaled through Engine.Submit, so callbacks never race with
// message handlers or other timers.
type Timer struct {
	engine   *Engine
	fn       Callback
	repeat   bool
	mu       sync.Mutex
	interval time.Duration
	t        *time.Timer
	running  bool
}

// Every creates a repeating Timer. If startImmediately is true, Start is
// called with delayed=false immediately; otherwise the caller must call
// Start explicitly.
func Every(engine *Engine, interval time.Duration, fn Callback, startImmediately bool) *Timer {
	tm := &Timer{engine: engine, fn: fn, repeat: true, interval: interval}
	if startImmediately {
		tm.Start(false)
	}
	return tm
}

// After creates a one-shot Timer. The caller must call Start to arm it.
func After(engine *Engine, delay time.Duration, fn Callback) *Timer {
	return &Timer{engine: engine, fn: fn, repeat: false, interval: delay}
}

// Start arms the timer. delayed=true fires the first callback one
// interval from now; delayed=false fires immediately (repeating timers
// still re-arm for `interval` after that first, immediate, fire).
func (tm *Timer) Start(delayed bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.stopLocked()
	tm.running = true

	if delayed {
		tm.armLocked()
		return
	}
	tm.engine.Submit(tm.fire)
}

// Stop cancels the timer. Idempotent.
func (tm *Timer) Stop() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.stopLocked()
	tm.running = false
}

// Restart cancels any pending fire and rearms with the current interval.
func (tm *Timer) Restart(delayed bool) {
	tm.Start(delayed)
}

// SetInterval changes the firing interval. Takes effect on the next arm;
// does not itself rearm a currently pending timer.
func (tm *Timer) SetInterval(d time.Duration) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.interval = d
}

// Running reports whether the timer currently has a pending fire armed.
func (tm *Timer) Running() bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.running
}

func (tm *Timer) armLocked() {
	tm.t = time.AfterFunc(tm.interval, func() {
		tm.engine.Submit(tm.fire)
	})
}

func (tm *Timer) stopLocked() {
	if tm.t != nil {
		tm.t.Stop()
		tm.t = nil
	}
}

// fire runs on the Engine goroutine. It invokes the callback and, for
// repeating timers whose callback did not return the stop sentinel,
// rearms for another interval.
func (tm *Timer) fire() {
	cont := tm.fn()

	tm.mu.Lock()
	defer tm.mu.Unlock()
	if !tm.repeat || !cont {
		tm.running = false
		return
	}
	if tm.running {
		tm.armLocked()
	}
}
