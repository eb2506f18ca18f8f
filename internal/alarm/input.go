// Package alarm implements the declarative alarm-orchestration core: the
// input evaluation pipeline, the per-group state machine, the switch-output
// priority arbiter, and the text-output aggregator.
package alarm

import (
	"fmt"
	"time"

	"github.com/hollowoak/alarmd/internal/loop"
	"github.com/hollowoak/alarmd/internal/mqtt"
	"github.com/hollowoak/alarmd/internal/store"
)

// InputState is the health state of a topic-driven input.
type InputState int

const (
	StateUnknown InputState = iota
	StateOffline
	StateOnline
	StateInvalidResponse
)

func (s InputState) String() string {
	switch s {
	case StateOffline:
		return "offline"
	case StateOnline:
		return "online"
	case StateInvalidResponse:
		return "invalid_response"
	default:
		return "unknown"
	}
}

// statePrecedence orders states for composite aggregation: the most
// severe child state wins (invalid_response > offline > online > unknown).
var statePrecedence = map[InputState]int{
	StateUnknown:         0,
	StateOnline:          1,
	StateOffline:         2,
	StateInvalidResponse: 3,
}

// Evaluator is the read-only contract every input variant exposes to
// whatever holds it: an AlarmGroup for top-level inputs, or a
// CompositeInput for its children.
type Evaluator interface {
	Label() string
	State() InputState
	LastEvalValue() (value bool, known bool)
}

// committer receives child commits: an AlarmGroup for top-level inputs, a
// CompositeInput for its children.
type committer interface {
	onChildCommit(child Evaluator, value bool)
}

// WarnFunc emits a human-readable warning to the service's warning
// channel, which also reaches every info-flagged text output.
type WarnFunc func(msg string)

// Subscriber is the subset of *mqtt.Client inputs need to wire themselves
// to the bus.
type Subscriber interface {
	Subscribe(filter string, handler mqtt.Handler)
}

const defaultSilenceTimeout = 7 * 24 * time.Hour

// TopicInput is a leaf, bus-driven input: its condition is evaluated
// against every message delivered on Topic, filtered through debounce, and
// committed to its parent (an AlarmGroup or a CompositeInput).
type TopicInput struct {
	label          string
	topic          string
	conditionText  string
	cond           Condition
	silenceTimeout time.Duration
	deb            *debouncer
	parent         committer

	lastRawValue string
	lastUpdate   time.Time
	state        InputState

	silenceTimer *loop.Timer
	saveTimer    *loop.Timer

	engine *loop.Engine
	warn   WarnFunc
	store  *store.Store
}

// TopicInputConfig bundles a leaf input's static configuration.
type TopicInputConfig struct {
	Label          string
	Topic          string
	ConditionText  string
	Condition      Condition
	Debounce       time.Duration
	SilenceTimeout time.Duration
}

// NewTopicInput builds a leaf input, hydrates it from store, subscribes it
// to the bus, and arms its silence and autosave timers.
func NewTopicInput(cfg TopicInputConfig, engine *loop.Engine, st *store.Store, warn WarnFunc, sub Subscriber, parent committer) *TopicInput {
	silence := cfg.SilenceTimeout
	if silence <= 0 {
		silence = defaultSilenceTimeout
	}

	in := &TopicInput{
		label:          cfg.Label,
		topic:          cfg.Topic,
		conditionText:  cfg.ConditionText,
		cond:           cfg.Condition,
		silenceTimeout: silence,
		parent:         parent,
		engine:         engine,
		warn:           warn,
		store:          st,
	}
	in.deb = newDebouncer(engine, cfg.Debounce, in.commit)
	in.hydrate()

	in.silenceTimer = loop.After(engine, silence, in.onSilence)
	in.silenceTimer.Start(true)

	in.saveTimer = loop.Every(engine, 30*time.Second, in.autosave, true)

	if sub != nil {
		sub.Subscribe(cfg.Topic, func(_ string, payload []byte) {
			in.Handle(string(payload))
		})
	}

	return in
}

func (in *TopicInput) Label() string { return in.label }
func (in *TopicInput) State() InputState { return in.state }
func (in *TopicInput) LastEvalValue() (bool, bool) { return in.deb.LastEvalValue() }

func (in *TopicInput) storeKey() []string {
	return []string{"mqtt_input", in.topic, in.conditionText, "last_state"}
}

func (in *TopicInput) hydrate() {
	v, ok := in.store.Get(in.storeKey()...)
	if !ok {
		return
	}
	m, ok := v.(map[string]any)
	if !ok {
		return
	}
	if raw, ok := m["last_raw_value"].(string); ok {
		in.lastRawValue = raw
	}
	if eval, ok := m["last_eval_value"].(bool); ok {
		in.deb.lastEvalValue = &eval
	}
}

// Handle processes one delivered message (spec §4.c steps 1-6).
func (in *TopicInput) Handle(payload string) {
	in.lastUpdate = time.Now()
	in.lastRawValue = payload
	in.silenceTimer.Restart(true)
	in.state = StateOnline

	env := NewEnv(payload)
	value := in.safeEval(&env)
	in.deb.Feed(value)
	in.persist()
}

func (in *TopicInput) safeEval(env *Env) (result bool) {
	if v, ok := in.deb.LastEvalValue(); ok {
		result = v
	}
	defer func() {
		if r := recover(); r != nil {
			in.warn(fmt.Sprintf("condition evaluation failed for %s: %v", in.label, r))
		}
	}()
	result = in.cond(env)
	return
}

func (in *TopicInput) commit(value bool) {
	if in.parent != nil {
		in.parent.onChildCommit(in, value)
	}
}

func (in *TopicInput) onSilence() bool {
	in.state = StateOffline
	if in.lastUpdate.IsZero() {
		in.warn(fmt.Sprintf("%s: silent since launch (%s)", in.label, in.silenceTimeout))
	} else {
		in.warn(fmt.Sprintf("%s: silent for %s", in.label, in.silenceTimeout))
	}
	return true
}

func (in *TopicInput) autosave() bool {
	in.persist()
	if err := in.store.Save(); err != nil {
		in.warn(fmt.Sprintf("%s: state save failed: %v", in.label, err))
	}
	return true
}

func (in *TopicInput) persist() {
	evalValue, known := in.deb.LastEvalValue()
	snapshot := map[string]any{
		"last_raw_value":  in.lastRawValue,
		"last_update":     in.lastUpdate.Format(time.RFC3339),
		"state":           in.state.String(),
	}
	if known {
		snapshot["last_eval_value"] = evalValue
	}
	in.store.Set(snapshot, in.storeKey()...)
}

// CompositeInput has no own topic: its children notify it via commit, and
// it re-evaluates AND/OR over their last committed values, routing the
// combined result through the same debounce/commit pipeline to its own
// parent.
type CompositeInput struct {
	label    string
	mode     string // "and" or "or"
	children []Evaluator
	deb      *debouncer
	parent   committer
}

// NewCompositeInput builds a composite input. Children must already be
// constructed with this composite as their parent (via BuildInput).
func NewCompositeInput(engine *loop.Engine, label, mode string, debounce time.Duration, parent committer) *CompositeInput {
	c := &CompositeInput{label: label, mode: mode, parent: parent}
	c.deb = newDebouncer(engine, debounce, c.commit)
	return c
}

func (c *CompositeInput) addChild(child Evaluator) {
	c.children = append(c.children, child)
}

func (c *CompositeInput) Label() string {
	return fmt.Sprintf("%s (%d inputs, '%s')", c.label, len(c.children), c.mode)
}

func (c *CompositeInput) State() InputState {
	worst := StateUnknown
	for _, ch := range c.children {
		if statePrecedence[ch.State()] > statePrecedence[worst] {
			worst = ch.State()
		}
	}
	return worst
}

func (c *CompositeInput) LastEvalValue() (bool, bool) {
	return c.deb.LastEvalValue()
}

func (c *CompositeInput) onChildCommit(_ Evaluator, _ bool) {
	c.deb.Feed(c.evaluate())
}

func (c *CompositeInput) evaluate() bool {
	switch c.mode {
	case "or":
		for _, ch := range c.children {
			if v, ok := ch.LastEvalValue(); ok && v {
				return true
			}
		}
		return false
	default: // "and"
		for _, ch := range c.children {
			v, ok := ch.LastEvalValue()
			if !ok || !v {
				return false
			}
		}
		return len(c.children) > 0
	}
}

func (c *CompositeInput) commit(value bool) {
	if c.parent != nil {
		c.parent.onChildCommit(c, value)
	}
}

// LivenessInput is a topic-driven health signal with two independent
// timeouts. It never debounces and never drives group escalation — it
// only tracks its own State().
type LivenessInput struct {
	label                  string
	topic                  string
	conditionText          string
	cond                   Condition
	silenceTimeout         time.Duration
	invalidResponseTimeout time.Duration

	lastRawValue  string
	lastEvalValue *bool
	lastUpdate    time.Time
	state         InputState

	silenceTimer *loop.Timer
	invalidTimer *loop.Timer
	saveTimer    *loop.Timer

	engine *loop.Engine
	warn   WarnFunc
	store  *store.Store
}

// LivenessInputConfig bundles a liveness input's static configuration.
type LivenessInputConfig struct {
	Label                  string
	Topic                  string
	ConditionText          string
	Condition              Condition
	SilenceTimeout         time.Duration
	InvalidResponseTimeout time.Duration
}

// NewLivenessInput builds a liveness input, hydrates it, subscribes it to
// the bus, and arms its timers.
func NewLivenessInput(cfg LivenessInputConfig, engine *loop.Engine, st *store.Store, warn WarnFunc, sub Subscriber) *LivenessInput {
	silence := cfg.SilenceTimeout
	if silence <= 0 {
		silence = time.Hour
	}
	invalid := cfg.InvalidResponseTimeout
	if invalid <= 0 {
		invalid = 3 * time.Minute
	}

	li := &LivenessInput{
		label:                  cfg.Label,
		topic:                  cfg.Topic,
		conditionText:          cfg.ConditionText,
		cond:                   cfg.Condition,
		silenceTimeout:         silence,
		invalidResponseTimeout: invalid,
		engine:                 engine,
		warn:                   warn,
		store:                  st,
	}
	li.hydrate()

	li.silenceTimer = loop.After(engine, silence, li.onSilence)
	li.silenceTimer.Start(true)
	li.invalidTimer = loop.After(engine, invalid, li.onInvalid)

	li.saveTimer = loop.Every(engine, 30*time.Second, li.autosave, true)

	if sub != nil {
		sub.Subscribe(cfg.Topic, func(_ string, payload []byte) {
			li.Handle(string(payload))
		})
	}

	return li
}

func (li *LivenessInput) Label() string { return li.label }
func (li *LivenessInput) State() InputState { return li.state }

func (li *LivenessInput) LastEvalValue() (bool, bool) {
	if li.lastEvalValue == nil {
		return false, false
	}
	return *li.lastEvalValue, true
}

func (li *LivenessInput) storeKey() []string {
	return []string{"mqtt_input", li.topic, li.conditionText, "last_state"}
}

func (li *LivenessInput) hydrate() {
	v, ok := li.store.Get(li.storeKey()...)
	if !ok {
		return
	}
	m, ok := v.(map[string]any)
	if !ok {
		return
	}
	if raw, ok := m["last_raw_value"].(string); ok {
		li.lastRawValue = raw
	}
	if eval, ok := m["last_eval_value"].(bool); ok {
		li.lastEvalValue = &eval
	}
}

// Handle processes one delivered message for a liveness input. Commit
// only runs when the evaluated value actually changes, mirroring
// debouncer.Feed's own change-gate: otherwise invalidTimer.Restart would
// fire on every repeated-false message, perpetually pushing back the
// invalid-response warning for as long as (bad) messages keep arriving.
func (li *LivenessInput) Handle(payload string) {
	li.lastUpdate = time.Now()
	li.lastRawValue = payload
	li.silenceTimer.Restart(true)

	env := NewEnv(payload)
	value := li.safeEval(&env)
	if li.lastEvalValue == nil || *li.lastEvalValue != value {
		li.commit(value)
	}
	li.persist()
}

func (li *LivenessInput) safeEval(env *Env) (result bool) {
	if li.lastEvalValue != nil {
		result = *li.lastEvalValue
	}
	defer func() {
		if r := recover(); r != nil {
			li.warn(fmt.Sprintf("condition evaluation failed for %s: %v", li.label, r))
		}
	}()
	result = li.cond(env)
	return
}

func (li *LivenessInput) commit(value bool) {
	v := value
	li.lastEvalValue = &v
	if value {
		li.state = StateOnline
		li.invalidTimer.Stop()
	} else {
		li.state = StateInvalidResponse
		li.invalidTimer.Restart(true)
	}
}

func (li *LivenessInput) onSilence() bool {
	li.state = StateOffline
	if li.lastUpdate.IsZero() {
		li.warn(fmt.Sprintf("%s: silent since launch (%s)", li.label, li.silenceTimeout))
	} else {
		li.warn(fmt.Sprintf("%s: silent for %s", li.label, li.silenceTimeout))
	}
	return true
}

func (li *LivenessInput) onInvalid() bool {
	li.warn(fmt.Sprintf("%s: invalid response for %s", li.label, li.invalidResponseTimeout))
	return true
}

func (li *LivenessInput) autosave() bool {
	li.persist()
	if err := li.store.Save(); err != nil {
		li.warn(fmt.Sprintf("%s: state save failed: %v", li.label, err))
	}
	return true
}

func (li *LivenessInput) persist() {
	snapshot := map[string]any{
		"last_raw_value": li.lastRawValue,
		"last_update":    li.lastUpdate.Format(time.RFC3339),
		"state":          li.state.String(),
	}
	if li.lastEvalValue != nil {
		snapshot["last_eval_value"] = *li.lastEvalValue
	}
	li.store.Set(snapshot, li.storeKey()...)
}
