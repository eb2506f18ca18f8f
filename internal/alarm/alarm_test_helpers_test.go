package alarm

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hollowoak/alarmd/internal/loop"
	"github.com/hollowoak/alarmd/internal/store"
)

func testEngine(t *testing.T) *loop.Engine {
	t.Helper()
	e := loop.NewEngine(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go e.Run(ctx)
	return e
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "state_test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func noopWarn(string) {}

func collectWarnings(dst *[]string) WarnFunc {
	return func(msg string) { *dst = append(*dst, msg) }
}

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

// fakeInput is a hand-driven Evaluator/committer-free stand-in for a
// TopicInput or LivenessInput, used to exercise AlarmGroup and
// CompositeInput logic without going through the MQTT pipeline.
type fakeInput struct {
	label string
	state InputState
	value *bool
}

func newFakeInput(label string) *fakeInput {
	return &fakeInput{label: label, state: StateOnline}
}

func (f *fakeInput) Label() string { return f.label }
func (f *fakeInput) State() InputState { return f.state }

func (f *fakeInput) LastEvalValue() (bool, bool) {
	if f.value == nil {
		return false, false
	}
	return *f.value, true
}

func (f *fakeInput) set(v bool) { f.value = &v }
