package alarm

import "testing"

func TestTextOutputCoalescesIdenticalUpdates(t *testing.T) {
	in := newFakeInput("door")
	in.set(true)
	g := newTestGroup(t, "g1", 100, 0, 0, []Evaluator{in}, nil, nil)
	g.onChildCommit(in, true) // escalates straight to alarm (prealarm unset)

	var publishes []string
	to := NewTextOutput("alarm/text", false, []*AlarmGroup{g}, func(_, message string) {
		publishes = append(publishes, message)
	})

	to.Update()
	to.Update() // unchanged: should not re-publish

	if len(publishes) != 1 {
		t.Fatalf("publishes = %v, want exactly one coalesced publish", publishes)
	}
	if publishes[0] == "" {
		t.Error("expected a non-empty summary for an active alarm group")
	}
}

func TestTextOutputOrdersGroupsByPriority(t *testing.T) {
	in1 := newFakeInput("door")
	in1.set(true)
	g1 := newTestGroup(t, "g1", 100, 0, 0, []Evaluator{in1}, nil, nil)
	g1.onChildCommit(in1, true)

	in2 := newFakeInput("window")
	in2.set(true)
	g2 := newTestGroup(t, "g2", 200, 0, 0, []Evaluator{in2}, nil, nil)
	g2.onChildCommit(in2, true)

	var published string
	to := NewTextOutput("alarm/text", false, []*AlarmGroup{g1, g2}, func(_, message string) {
		published = message
	})
	to.Update()

	wantFirstLine := "ALARM g1: door"
	if len(published) < len(wantFirstLine) || published[:len(wantFirstLine)] != wantFirstLine {
		t.Errorf("published = %q, want to start with %q (groups ordered by priority)", published, wantFirstLine)
	}
}

func TestTextOutputOmitsInactiveGroups(t *testing.T) {
	in := newFakeInput("door")
	g := newTestGroup(t, "g1", 100, 0, 0, []Evaluator{in}, nil, nil) // never triggered: stays off

	var publishes []string
	to := NewTextOutput("alarm/text", false, []*AlarmGroup{g}, func(_, message string) {
		publishes = append(publishes, message)
	})
	to.Update()
	to.Update() // unchanged from the first call: should not re-publish

	if len(publishes) != 1 {
		t.Fatalf("publishes = %v, want exactly one (first-call heartbeat with no active groups)", publishes)
	}
	if publishes[0] != "" {
		t.Errorf("publishes[0] = %q, want empty summary for a group that never left OFF", publishes[0])
	}
}

func TestTextOutputSendInfoAlwaysPublishes(t *testing.T) {
	var publishes []string
	to := NewTextOutput("alarm/text", true, nil, func(_, message string) {
		publishes = append(publishes, message)
	})

	to.SendInfo("warning: sensor offline")
	to.SendInfo("warning: sensor offline") // SendInfo bypasses coalescing entirely

	if len(publishes) != 2 {
		t.Errorf("publishes = %v, want two (SendInfo never coalesces)", publishes)
	}
}
