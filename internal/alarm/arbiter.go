package alarm

import "container/heap"

// Schedule binds the PREALARM/ALARM effects of one named schedule within
// a SwitchOutputGroup.
type Schedule struct {
	Prealarm *SwitchOutput
	Alarm    *SwitchOutput
}

func (s Schedule) effectFor(state GroupState) *SwitchOutput {
	switch state {
	case GroupPrealarm:
		return s.Prealarm
	case GroupAlarm:
		return s.Alarm
	default:
		return nil
	}
}

// AlarmRequest is one group's pending claim on a SwitchOutputGroup,
// ordered solely by the group's priority (lower wins), ties broken by
// insertion order.
type AlarmRequest struct {
	group    *AlarmGroup
	state    GroupState
	schedule string
	seq      uint64
}

// requestHeap implements container/heap.Interface ordered by
// (group.priority, seq) ascending — grounded on malbeclabs-doublezero's
// eventHeap pattern of a slice-backed heap with a monotonic sequence
// number for deterministic tie-breaking.
type requestHeap []*AlarmRequest

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].group.priority != h[j].group.priority {
		return h[i].group.priority < h[j].group.priority
	}
	return h[i].seq < h[j].seq
}

func (h requestHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *requestHeap) Push(x any) {
	*h = append(*h, x.(*AlarmRequest))
}

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// SwitchOutputGroup is the priority arbiter for one physical output shared
// by multiple AlarmGroups: at most one leaf SwitchOutput is "on" at a
// time, matching the pending request with the lowest group priority.
type SwitchOutputGroup struct {
	name      string
	schedules map[string]Schedule
	resets    map[string]*SwitchOutput

	heap    requestHeap
	nextSeq uint64

	currentSchedule string
	currentState    GroupState
}

// NewSwitchOutputGroup builds an arbiter over the given named schedules
// and one-shot reset effects.
func NewSwitchOutputGroup(name string, schedules map[string]Schedule, resets map[string]*SwitchOutput) *SwitchOutputGroup {
	return &SwitchOutputGroup{
		name:         name,
		schedules:    schedules,
		resets:       resets,
		currentState: GroupOff,
	}
}

// NewSwitchBindings returns an empty phase -> bindings map suitable for
// GroupConfig.SwitchBindings, built up with AddSwitchBinding. Exported so
// internal/service can assemble bindings without naming the unexported
// switchBinding type itself.
func NewSwitchBindings() map[string][]switchBinding {
	return map[string][]switchBinding{}
}

// AddSwitchBinding appends one (arbiter, schedule) pair to m under phase.
func AddSwitchBinding(m map[string][]switchBinding, phase string, arbiter *SwitchOutputGroup, schedule string) {
	m[phase] = append(m[phase], switchBinding{arbiter: arbiter, schedule: schedule})
}

// Request implements spec.md §4.e: remove any existing request from
// group, push a new one unless state is OFF, then reconcile against the
// heap root.
func (a *SwitchOutputGroup) Request(group *AlarmGroup, state GroupState, schedule string) {
	a.removeByGroup(group)

	if state != GroupOff {
		a.nextSeq++
		heap.Push(&a.heap, &AlarmRequest{group: group, state: state, schedule: schedule, seq: a.nextSeq})
	}

	if len(a.heap) == 0 {
		a.switchOff()
		return
	}

	root := a.heap[0]
	if a.currentSchedule == root.schedule && a.currentState == root.state {
		return
	}

	a.switchOff()
	a.switchOn(root)
}

// removeByGroup does a linear scan for the group's existing request, per
// spec.md §4.e step 1 — a priority-ordering heap does not need a
// logarithmic remove-by-key, and keeping the scan linear preserves
// insertion-order tie-breaking exactly as specified rather than
// introducing an auxiliary index structure.
func (a *SwitchOutputGroup) removeByGroup(group *AlarmGroup) {
	for i, req := range a.heap {
		if req.group == group {
			heap.Remove(&a.heap, i)
			return
		}
	}
}

func (a *SwitchOutputGroup) switchOff() {
	if a.currentState == GroupOff {
		return
	}
	if sched, ok := a.schedules[a.currentSchedule]; ok {
		if sw := sched.effectFor(a.currentState); sw != nil {
			sw.Off()
		}
	}
	if reset, ok := a.resets[a.currentSchedule]; ok {
		reset.On()
	}
	a.currentState = GroupOff
}

func (a *SwitchOutputGroup) switchOn(req *AlarmRequest) {
	if reset, ok := a.resets[a.currentSchedule]; ok && reset.IsOn() {
		reset.Off()
	}
	if sched, ok := a.schedules[req.schedule]; ok {
		if sw := sched.effectFor(req.state); sw != nil {
			sw.On()
		}
	}
	a.currentSchedule = req.schedule
	a.currentState = req.state
}
