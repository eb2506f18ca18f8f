package alarm

import (
	"testing"
	"time"
)

func newTestGroup(t *testing.T, name string, priority int, prealarm, resetDelay time.Duration, inputs, inhibitors []Evaluator, bindings map[string][]switchBinding) *AlarmGroup {
	t.Helper()
	e := testEngine(t)
	st := testStore(t)
	return NewAlarmGroup(GroupConfig{
		Name:           name,
		Label:          name,
		Priority:       priority,
		Prealarm:       prealarm,
		ResetDelay:     resetDelay,
		Inputs:         inputs,
		Inhibitors:     inhibitors,
		SwitchBindings: bindings,
	}, e, st, noopWarn, func() {}, false)
}

func TestGroupDirectToAlarmWhenPrealarmUnset(t *testing.T) {
	in := newFakeInput("door")
	in.set(true)
	g := newTestGroup(t, "g1", 100, 0, 0, []Evaluator{in}, nil, nil)

	g.onChildCommit(in, true)

	if g.State() != GroupAlarm {
		t.Fatalf("state = %v, want alarm (prealarm unset skips straight to alarm)", g.State())
	}
}

func TestGroupPrealarmEscalatesToAlarmAfterDuration(t *testing.T) {
	in := newFakeInput("door")
	in.set(true)
	g := newTestGroup(t, "g2", 100, 15*time.Millisecond, 0, []Evaluator{in}, nil, nil)

	g.onChildCommit(in, true)
	if g.State() != GroupPrealarm {
		t.Fatalf("state = %v, want prealarm immediately after trigger", g.State())
	}

	waitFor(t, time.Second, func() bool { return g.State() == GroupAlarm }, "escalation to alarm after prealarm timeout")
}

func TestGroupPriorityTakeoverAtSharedArbiter(t *testing.T) {
	sw1 := &SwitchOutput{}
	sw2 := &SwitchOutput{}
	arb := NewSwitchOutputGroup("shared", map[string]Schedule{
		"g3": {Alarm: sw1},
		"g4": {Alarm: sw2},
	}, nil)

	in3 := newFakeInput("in3")
	in3.set(true)
	g3 := newTestGroup(t, "g3", 200, 0, 0, []Evaluator{in3},
		nil, map[string][]switchBinding{"alarm": {{arbiter: arb, schedule: "g3"}}})

	in4 := newFakeInput("in4")
	in4.set(true)
	g4 := newTestGroup(t, "g4", 100, 0, 0, []Evaluator{in4},
		nil, map[string][]switchBinding{"alarm": {{arbiter: arb, schedule: "g4"}}})

	g3.onChildCommit(in3, true)
	if !sw1.IsOn() {
		t.Fatal("g3's effect should be active once it alarms alone")
	}

	g4.onChildCommit(in4, true)
	if sw1.IsOn() {
		t.Error("g3's effect should be displaced by g4's higher priority (lower number)")
	}
	if !sw2.IsOn() {
		t.Error("g4's effect should now be active")
	}
}

func TestGroupInhibitorDefeatsPrealarmButNotAlarm(t *testing.T) {
	trigger := newFakeInput("motion")
	trigger.set(true)
	inhibitor := newFakeInput("override")

	g := newTestGroup(t, "g1", 100, 15*time.Millisecond, 0, []Evaluator{trigger}, []Evaluator{inhibitor}, nil)

	g.onChildCommit(trigger, true)
	if g.State() != GroupPrealarm {
		t.Fatalf("state = %v, want prealarm before inhibitor asserts", g.State())
	}

	inhibitor.set(true)
	g.onChildCommit(inhibitor, true)
	if g.State() != GroupOff {
		t.Fatalf("state = %v, want off (inhibitor should reset an in-progress prealarm)", g.State())
	}

	// Release the inhibitor so the trigger can escalate again.
	inhibitor.set(false)
	g.onChildCommit(inhibitor, false)

	// Once in ALARM, asserting the inhibitor must not interrupt it.
	g.onChildCommit(trigger, true)
	waitFor(t, time.Second, func() bool { return g.State() == GroupAlarm }, "escalation to alarm")

	inhibitor.set(true)
	g.onChildCommit(inhibitor, true)
	if g.State() != GroupAlarm {
		t.Errorf("state = %v, want alarm (inhibitor must not interrupt an active alarm)", g.State())
	}
}

func TestGroupEnabledFalseSuppressesTriggers(t *testing.T) {
	in := newFakeInput("door")
	g := newTestGroup(t, "g1", 100, 0, 0, []Evaluator{in}, nil, nil)

	g.HandleEnabledCommand("0")
	in.set(true)
	g.onChildCommit(in, true)

	if g.State() != GroupOff {
		t.Errorf("state = %v, want off while disabled", g.State())
	}
}

func TestGroupResetDelayAutoResetsOnceInputsQuiet(t *testing.T) {
	in := newFakeInput("door")
	in.set(true)
	g := newTestGroup(t, "g1", 100, 0, 15*time.Millisecond, []Evaluator{in}, nil, nil)

	g.onChildCommit(in, true)
	if g.State() != GroupAlarm {
		t.Fatalf("state = %v, want alarm", g.State())
	}

	in.set(false)
	g.onChildCommit(in, false)
	if g.State() != GroupAlarm {
		t.Fatalf("state should remain alarm immediately after going quiet, got %v", g.State())
	}

	waitFor(t, time.Second, func() bool { return g.State() == GroupOff }, "auto reset after reset delay")
}

func TestGroupResetDelayDoesNotFireWhileStillTriggered(t *testing.T) {
	in1 := newFakeInput("door")
	in2 := newFakeInput("window")
	in1.set(true)
	in2.set(true)
	g := newTestGroup(t, "g1", 100, 0, 15*time.Millisecond, []Evaluator{in1, in2}, nil, nil)

	g.onChildCommit(in1, true)
	g.onChildCommit(in2, true)

	in1.set(false)
	g.onChildCommit(in1, false) // in2 still asserted: reset timer must not arm

	time.Sleep(40 * time.Millisecond)
	if g.State() != GroupAlarm {
		t.Errorf("state = %v, want alarm (another input is still asserted)", g.State())
	}
}

func TestGroupHandleResetCommandForcesOff(t *testing.T) {
	in := newFakeInput("door")
	in.set(true)
	g := newTestGroup(t, "g1", 100, 0, 0, []Evaluator{in}, nil, nil)

	g.onChildCommit(in, true)
	if g.State() != GroupAlarm {
		t.Fatalf("state = %v, want alarm", g.State())
	}

	g.HandleResetCommand("1")
	if g.State() != GroupOff {
		t.Errorf("state = %v, want off after reset command", g.State())
	}
}

func TestGroupHandleInhibitedCommandTimesOut(t *testing.T) {
	in := newFakeInput("door")
	g := newTestGroup(t, "g1", 100, 0, 0, []Evaluator{in}, nil, nil)

	g.HandleInhibitedCommand("1") // whole seconds, matching Python's isnumeric() gate
	in.set(true)
	g.onChildCommit(in, true)
	if g.State() != GroupOff {
		t.Fatalf("state = %v, want off while command-inhibited", g.State())
	}

	waitFor(t, 3*time.Second, func() bool { return !g.inhibitedByCommand }, "inhibit timeout expiry")

	g.onChildCommit(in, true)
	if g.State() != GroupAlarm {
		t.Errorf("state = %v, want alarm once the command inhibit has expired", g.State())
	}
}

func TestGroupHandleInhibitedCommandRejectsDecimalPayload(t *testing.T) {
	in := newFakeInput("door")
	g := newTestGroup(t, "g1", 100, 0, 0, []Evaluator{in}, nil, nil)

	g.HandleInhibitedCommand("2.5")
	if g.inhibitedByCommand {
		t.Error("decimal payload should not be treated as numeric (matches Python's str.isnumeric())")
	}
}

func TestGroupHandleInhibitedCommandRejectsZeroAndNegative(t *testing.T) {
	in := newFakeInput("door")
	g := newTestGroup(t, "g1", 100, 0, 0, []Evaluator{in}, nil, nil)

	g.HandleInhibitedCommand("0")
	if g.inhibitedByCommand {
		t.Error("0 seconds should not enable inhibit")
	}

	g.HandleInhibitedCommand("-1")
	if g.inhibitedByCommand {
		t.Error("a negative payload is not digit-only and should not enable inhibit")
	}
}

func TestGroupGetStateDisplayPriority(t *testing.T) {
	in := newFakeInput("door")
	g := newTestGroup(t, "g1", 100, 0, 0, []Evaluator{in}, nil, nil)

	if got := g.GetState().DisplayState; got != "enabled" {
		t.Errorf("DisplayState = %q, want enabled", got)
	}

	g.HandleEnabledCommand("0")
	if got := g.GetState().DisplayState; got != "disabled" {
		t.Errorf("DisplayState = %q, want disabled", got)
	}

	g.HandleEnabledCommand("1")
	in.set(true)
	g.onChildCommit(in, true)
	if got := g.GetState().DisplayState; got != "alarm" {
		t.Errorf("DisplayState = %q, want alarm", got)
	}
}
