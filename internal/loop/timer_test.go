package loop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go e.Run(ctx)
	return e
}

// waitFor polls cond every tick until it returns true or timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for condition: %s", msg)
}

func TestAfter_FiresOnce(t *testing.T) {
	e := testEngine(t)
	var n atomic.Int32

	tm := After(e, 5*time.Millisecond, func() bool {
		n.Add(1)
		return true
	})
	tm.Start(true)

	waitFor(t, time.Second, func() bool { return n.Load() == 1 }, "after timer to fire once")
	time.Sleep(20 * time.Millisecond)
	if got := n.Load(); got != 1 {
		t.Errorf("fire count = %d, want 1 (one-shot must not repeat)", got)
	}
}

func TestEvery_RepeatsUntilStopped(t *testing.T) {
	e := testEngine(t)
	var n atomic.Int32

	tm := Every(e, 5*time.Millisecond, func() bool {
		n.Add(1)
		return true
	}, true)

	waitFor(t, time.Second, func() bool { return n.Load() >= 3 }, "every timer to fire 3 times")
	tm.Stop()
	after := n.Load()
	time.Sleep(30 * time.Millisecond)
	if n.Load() != after {
		t.Errorf("fire count grew after Stop: %d -> %d", after, n.Load())
	}
}

func TestEvery_StopSentinelCancelsRepeat(t *testing.T) {
	e := testEngine(t)
	var n atomic.Int32

	Every(e, 5*time.Millisecond, func() bool {
		n.Add(1)
		return false // stop sentinel
	}, true)

	waitFor(t, time.Second, func() bool { return n.Load() == 1 }, "single fire before stop sentinel")
	time.Sleep(30 * time.Millisecond)
	if got := n.Load(); got != 1 {
		t.Errorf("fire count = %d, want 1 (stop sentinel must cancel repeat)", got)
	}
}

func TestDelayedStart_DoesNotFireImmediately(t *testing.T) {
	e := testEngine(t)
	var n atomic.Int32

	tm := After(e, 20*time.Millisecond, func() bool {
		n.Add(1)
		return true
	})
	tm.Start(true)

	time.Sleep(5 * time.Millisecond)
	if n.Load() != 0 {
		t.Errorf("delayed start fired before interval elapsed")
	}
	waitFor(t, time.Second, func() bool { return n.Load() == 1 }, "delayed fire")
}

func TestRestart_CancelsPendingAndRearms(t *testing.T) {
	e := testEngine(t)
	var n atomic.Int32

	tm := After(e, 10*time.Millisecond, func() bool {
		n.Add(1)
		return true
	})
	tm.Start(true)

	time.Sleep(5 * time.Millisecond)
	tm.Restart(true) // should push the fire out another 10ms from here

	time.Sleep(7 * time.Millisecond)
	if n.Load() != 0 {
		t.Errorf("timer fired before restarted deadline")
	}
	waitFor(t, time.Second, func() bool { return n.Load() == 1 }, "restarted fire")
}

func TestSubmit_SerializesCallbacks(t *testing.T) {
	e := testEngine(t)
	var order []int
	done := make(chan struct{})

	for i := 0; i < 50; i++ {
		i := i
		e.Submit(func() {
			order = append(order, i)
			if i == 49 {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("submitted callbacks never completed")
	}

	for i, v := range order {
		if v != i {
			t.Fatalf("callbacks ran out of submission order at index %d: %v", i, order)
		}
	}
}
