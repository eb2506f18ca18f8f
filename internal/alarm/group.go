package alarm

import (
	"fmt"
	"strconv"
	"time"

	"github.com/hollowoak/alarmd/internal/loop"
	"github.com/hollowoak/alarmd/internal/store"
)

// GroupState is an AlarmGroup's alarm phase.
type GroupState int

const (
	GroupOff GroupState = iota
	GroupPrealarm
	GroupAlarm
)

func (s GroupState) String() string {
	switch s {
	case GroupPrealarm:
		return "prealarm"
	case GroupAlarm:
		return "alarm"
	default:
		return "off"
	}
}

// switchBinding names one (arbiter, schedule) pair a group activates
// while in a given phase.
type switchBinding struct {
	arbiter  *SwitchOutputGroup
	schedule string
}

// GroupConfig bundles an AlarmGroup's static configuration, already
// resolved from names to live objects by the caller (internal/service).
type GroupConfig struct {
	Name       string
	Label      string
	Priority   int
	Prealarm   time.Duration // zero means unset: escalate straight to alarm
	ResetDelay time.Duration // zero means unset: no auto-reset

	Inputs     []Evaluator
	Inhibitors []Evaluator
	Liveness   []Evaluator

	SwitchBindings map[string][]switchBinding // phase -> bindings
	TextOutputs    map[string][]*TextOutput   // phase -> text outputs
}

// AlarmGroup is the per-group state machine: OFF -> PREALARM -> ALARM,
// driven by input commits and timers, gated by enable/inhibit state.
type AlarmGroup struct {
	name       string
	label      string
	priority   int
	prealarm   time.Duration
	resetDelay time.Duration

	inputs     []Evaluator
	inhibitors []Evaluator
	liveness   []Evaluator
	inhibitSet map[Evaluator]bool

	switchBindings map[string][]switchBinding
	textOutputs    map[string][]*TextOutput
	allArbiters    []*SwitchOutputGroup

	state              GroupState
	enabled            bool
	inhibitedByCommand bool

	prealarmToAlarmTimer *loop.Timer
	alarmToResetTimer    *loop.Timer
	inhibitTimeoutTimer  *loop.Timer

	engine             *loop.Engine
	store              *store.Store
	warn               WarnFunc
	requestInfoPublish func()
	strict             bool // when true, precondition violations panic instead of log-and-skip
}

// NewEmptyAlarmGroup preallocates a group with no configuration. Its
// address is stable from allocation onward, so it can be handed to
// BuildInputs as a committer parent before the group's own inputs (which
// Init needs as arguments) have been built — breaking what would
// otherwise be a construction-order cycle between a group and its inputs.
// Call Init exactly once before using the group for anything else.
func NewEmptyAlarmGroup() *AlarmGroup {
	return &AlarmGroup{}
}

// NewAlarmGroup builds a group in one step, hydrating `enabled` from the
// state store. Use NewEmptyAlarmGroup+Init instead when the group's own
// inputs must be built with this group as their committer parent.
func NewAlarmGroup(cfg GroupConfig, engine *loop.Engine, st *store.Store, warn WarnFunc, requestInfoPublish func(), strict bool) *AlarmGroup {
	g := NewEmptyAlarmGroup()
	g.Init(cfg, engine, st, warn, requestInfoPublish, strict)
	return g
}

// Init fills in a group allocated by NewEmptyAlarmGroup. Must be called
// exactly once, before the group is used for anything else.
func (g *AlarmGroup) Init(cfg GroupConfig, engine *loop.Engine, st *store.Store, warn WarnFunc, requestInfoPublish func(), strict bool) {
	*g = AlarmGroup{
		name:               cfg.Name,
		label:              cfg.Label,
		priority:           cfg.Priority,
		prealarm:           cfg.Prealarm,
		resetDelay:         cfg.ResetDelay,
		inputs:             cfg.Inputs,
		inhibitors:         cfg.Inhibitors,
		liveness:           cfg.Liveness,
		switchBindings:     cfg.SwitchBindings,
		textOutputs:        cfg.TextOutputs,
		enabled:            true,
		engine:             engine,
		store:              st,
		warn:               warn,
		requestInfoPublish: requestInfoPublish,
		strict:             strict,
	}

	g.inhibitSet = make(map[Evaluator]bool, len(cfg.Inhibitors))
	for _, in := range cfg.Inhibitors {
		g.inhibitSet[in] = true
	}

	seen := map[*SwitchOutputGroup]bool{}
	for _, bindings := range cfg.SwitchBindings {
		for _, b := range bindings {
			if !seen[b.arbiter] {
				seen[b.arbiter] = true
				g.allArbiters = append(g.allArbiters, b.arbiter)
			}
		}
	}

	if v, ok := st.Get("group_enabled", cfg.Name); ok {
		if b, ok := v.(bool); ok {
			g.enabled = b
		}
	}

	g.prealarmToAlarmTimer = loop.After(engine, maxDuration(cfg.Prealarm, time.Second), func() bool {
		g.doAlarm()
		return false
	})
	g.alarmToResetTimer = loop.After(engine, maxDuration(cfg.ResetDelay, time.Second), func() bool {
		g.doReset()
		return false
	})
	g.inhibitTimeoutTimer = loop.After(engine, time.Second, func() bool {
		g.inhibitedByCommand = false
		g.requestInfoPublish()
		return false
	})
}

func maxDuration(d, floor time.Duration) time.Duration {
	if d <= 0 {
		return floor
	}
	return d
}

func (g *AlarmGroup) Name() string  { return g.name }
func (g *AlarmGroup) Priority() int { return g.priority }
func (g *AlarmGroup) State() GroupState { return g.state }
func (g *AlarmGroup) Enabled() bool { return g.enabled }

// BindTextOutput registers to as a recipient of updateOutputs() for the
// given phase. Text outputs reference already-built groups (to render
// priority-ordered summaries), so the service wires them in a second
// pass after every group exists, rather than at NewAlarmGroup time.
func (g *AlarmGroup) BindTextOutput(phase string, to *TextOutput) {
	if g.textOutputs == nil {
		g.textOutputs = map[string][]*TextOutput{}
	}
	g.textOutputs[phase] = append(g.textOutputs[phase], to)
}

// onChildCommit implements committer for the group's own top-level inputs
// and inhibitors.
func (g *AlarmGroup) onChildCommit(child Evaluator, value bool) {
	if value {
		g.on(child)
	} else {
		g.off(child)
	}
}

func (g *AlarmGroup) on(input Evaluator) {
	if g.inhibitSet[input] {
		if g.state == GroupPrealarm {
			g.doReset()
		}
		return
	}

	g.alarmToResetTimer.Stop()

	if !g.enabled {
		return
	}
	if g.inhibitedByCommand {
		return
	}
	if g.anyInhibitorActive() {
		return
	}

	switch g.state {
	case GroupOff:
		g.doPrealarm()
	case GroupPrealarm, GroupAlarm:
		g.updateOutputs()
	}
}

func (g *AlarmGroup) off(input Evaluator) {
	if g.inhibitSet[input] {
		return
	}
	if g.state != GroupPrealarm && g.state != GroupAlarm {
		return
	}

	g.updateOutputs()

	if g.resetDelay > 0 && g.allNonInhibitorInputsQuiet() {
		g.alarmToResetTimer.SetInterval(g.resetDelay)
		g.alarmToResetTimer.Restart(true)
	}
}

func (g *AlarmGroup) allNonInhibitorInputsQuiet() bool {
	for _, in := range g.inputs {
		v, known := in.LastEvalValue()
		if in.State() == StateOnline && known && v {
			return false
		}
	}
	return true
}

func (g *AlarmGroup) anyInhibitorActive() bool {
	for _, in := range g.inhibitors {
		if v, ok := in.LastEvalValue(); ok && v {
			return true
		}
	}
	return false
}

func (g *AlarmGroup) doPrealarm() {
	if g.state == GroupPrealarm {
		g.violate("do_prealarm called while already in prealarm")
		return
	}
	if g.prealarm <= 0 {
		g.doAlarm()
		return
	}

	g.state = GroupPrealarm
	g.updateOutputs()
	g.prealarmToAlarmTimer.SetInterval(g.prealarm)
	g.prealarmToAlarmTimer.Restart(true)
	g.requestInfoPublish()
}

func (g *AlarmGroup) doAlarm() {
	if g.state == GroupAlarm {
		g.violate("do_alarm called while already in alarm")
		return
	}
	g.state = GroupAlarm
	g.updateOutputs()
	g.prealarmToAlarmTimer.Stop()
	g.requestInfoPublish()
}

func (g *AlarmGroup) doReset() {
	if g.state != GroupPrealarm && g.state != GroupAlarm {
		g.violate("do_reset called while not in prealarm or alarm")
		return
	}
	g.state = GroupOff
	g.resetOutputs()
	g.requestInfoPublish()
	g.prealarmToAlarmTimer.Stop()
	g.alarmToResetTimer.Stop()
}

// violate handles an internal precondition violation: panics in strict
// (development) builds, logs and skips in production, per the service's
// error-handling design.
func (g *AlarmGroup) violate(msg string) {
	if g.strict {
		panic(fmt.Sprintf("alarm: precondition violation in group %s: %s", g.name, msg))
	}
	g.warn(fmt.Sprintf("%s: precondition violation: %s", g.name, msg))
}

func (g *AlarmGroup) updateOutputs() {
	phase := g.state.String()
	for _, b := range g.switchBindings[phase] {
		b.arbiter.Request(g, g.state, b.schedule)
	}
	for _, to := range g.textOutputs[phase] {
		to.Update()
	}
}

func (g *AlarmGroup) resetOutputs() {
	for _, arbiter := range g.allArbiters {
		arbiter.Request(g, GroupOff, "")
	}
}

// --- commands ---

func (g *AlarmGroup) setEnabled(v bool) {
	g.enabled = v
	g.store.Set(v, "group_enabled", g.name)
	if err := g.store.Save(); err != nil {
		g.warn(fmt.Sprintf("%s: state save failed: %v", g.name, err))
	}
}

// HandleEnabledCommand implements the `{name}/enabled/command` topic.
func (g *AlarmGroup) HandleEnabledCommand(payload string) {
	enable := IsOn(payload)
	if !enable && (g.state == GroupPrealarm || g.state == GroupAlarm) {
		g.doReset()
	}
	if enable {
		g.inhibitedByCommand = false
		g.inhibitTimeoutTimer.Stop()
	}
	g.setEnabled(enable)
	g.requestInfoPublish()
}

// HandleInhibitedCommand implements the `{name}/inhibited/command` topic.
// A digit-only payload > 0 enables inhibit for that many whole seconds,
// mirroring Python's `msg.isnumeric() and int(msg) > 0` gate exactly:
// a decimal point, sign, or any non-digit character counts as "not
// numeric" and clears inhibit, the same as empty or non-numeric text.
func (g *AlarmGroup) HandleInhibitedCommand(payload string) {
	secs, ok := parseInhibitSeconds(payload)
	if ok && secs > 0 {
		g.inhibitedByCommand = true
		if g.state == GroupPrealarm {
			g.doReset()
		}
		g.inhibitTimeoutTimer.SetInterval(time.Duration(secs) * time.Second)
		g.inhibitTimeoutTimer.Restart(true)
	} else {
		g.inhibitedByCommand = false
		g.inhibitTimeoutTimer.Stop()
	}
	g.requestInfoPublish()
}

func parseInhibitSeconds(payload string) (int, bool) {
	if payload == "" {
		return 0, false
	}
	for _, r := range payload {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	secs, err := strconv.Atoi(payload)
	if err != nil {
		return 0, false
	}
	return secs, true
}

// HandleResetCommand implements the `{name}/reset/command` topic.
func (g *AlarmGroup) HandleResetCommand(payload string) {
	if IsOn(payload) && (g.state == GroupPrealarm || g.state == GroupAlarm) {
		g.doReset()
	}
	g.requestInfoPublish()
}

// HandleAutoCommand implements the `{name}/auto/command` topic.
func (g *AlarmGroup) HandleAutoCommand(payload string) {
	if IsOn(payload) {
		if g.state == GroupPrealarm || g.state == GroupAlarm {
			g.doReset()
		} else {
			g.setEnabled(!g.enabled)
		}
	}
	g.requestInfoPublish()
}

// InputSnapshot is one input's contribution to GetState.
type InputSnapshot struct {
	Label string
	State string
	Value string
}

// GroupSnapshot is the structured state the service flattens into
// per-field topics and the composite info JSON.
type GroupSnapshot struct {
	Name               string
	Label              string
	State              string
	DisplayState       string
	Enabled            bool
	InhibitedState     bool
	AnyInhibitorActive bool
	AllInputsOnline    bool
	Live               bool
	Inputs             []InputSnapshot
	Inhibitors         []InputSnapshot
	Liveness           []InputSnapshot
}

// GetState returns a snapshot suitable for the service's info publication.
func (g *AlarmGroup) GetState() GroupSnapshot {
	inhibited := g.inhibitedByCommand || g.anyInhibitorActive()

	display := "enabled"
	switch {
	case g.state == GroupAlarm:
		display = "alarm"
	case g.state == GroupPrealarm:
		display = "prealarm"
	case inhibited:
		display = "inhibited"
	case !g.enabled:
		display = "disabled"
	}

	return GroupSnapshot{
		Name:               g.name,
		Label:              g.label,
		State:              g.state.String(),
		DisplayState:       display,
		Enabled:            g.enabled,
		InhibitedState:     inhibited,
		AnyInhibitorActive: g.anyInhibitorActive(),
		AllInputsOnline:    allOnline(g.inputs) && allOnline(g.inhibitors) && allOnline(g.liveness),
		Live:               allOnline(g.liveness),
		Inputs:             snapshotAll(g.inputs),
		Inhibitors:         snapshotAll(g.inhibitors),
		Liveness:           snapshotAll(g.liveness),
	}
}

func allOnline(evs []Evaluator) bool {
	for _, e := range evs {
		if e.State() != StateOnline {
			return false
		}
	}
	return true
}

func snapshotAll(evs []Evaluator) []InputSnapshot {
	out := make([]InputSnapshot, 0, len(evs))
	for _, e := range evs {
		value := ""
		if v, ok := e.LastEvalValue(); ok {
			if v {
				value = "1"
			} else {
				value = "0"
			}
		}
		out = append(out, InputSnapshot{Label: e.Label(), State: e.State().String(), Value: value})
	}
	return out
}
