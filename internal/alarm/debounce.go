package alarm

import (
	"time"

	"github.com/hollowoak/alarmd/internal/loop"
)

// debouncer implements the input pipeline's debounce filter (spec §4.c.1),
// shared by TopicInput and CompositeInput since both "commit" a boolean
// value to a parent through identical bounce-back semantics.
type debouncer struct {
	engine   *loop.Engine
	interval time.Duration // zero means no debounce configured

	lastEvalValue *bool
	observedValue *bool
	timer         *loop.Timer

	commit func(value bool)
}

func newDebouncer(engine *loop.Engine, interval time.Duration, commit func(bool)) *debouncer {
	return &debouncer{engine: engine, interval: interval, commit: commit}
}

// LastEvalValue returns the most recently committed value, or (false,
// false) if nothing has committed yet (the ⊥ state).
func (d *debouncer) LastEvalValue() (bool, bool) {
	if d.lastEvalValue == nil {
		return false, false
	}
	return *d.lastEvalValue, true
}

// Feed pushes a newly evaluated value through the filter.
func (d *debouncer) Feed(value bool) {
	if d.interval <= 0 {
		if d.lastEvalValue == nil || *d.lastEvalValue != value {
			d.commitValue(value)
		}
		return
	}

	if d.observedValue == nil {
		if d.lastEvalValue != nil && *d.lastEvalValue == value {
			return
		}
		v := value
		d.observedValue = &v
		if d.timer == nil {
			d.timer = loop.After(d.engine, d.interval, d.onExpire)
		} else {
			d.timer.SetInterval(d.interval)
		}
		d.timer.Start(true)
		return
	}

	if *d.observedValue == value {
		return // continue observing
	}

	// Bounced back to the pre-observation value before the timer fired.
	d.timer.Stop()
	d.observedValue = nil
}

func (d *debouncer) onExpire() bool {
	if d.observedValue == nil {
		return true
	}
	v := *d.observedValue
	d.observedValue = nil
	d.commitValue(v)
	return true
}

func (d *debouncer) commitValue(value bool) {
	v := value
	d.lastEvalValue = &v
	d.commit(value)
}
