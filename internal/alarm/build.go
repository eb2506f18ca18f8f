package alarm

import (
	"fmt"
	"strings"
	"time"

	"github.com/hollowoak/alarmd/internal/config"
	"github.com/hollowoak/alarmd/internal/loop"
	"github.com/hollowoak/alarmd/internal/store"
)

func durationOf(d *config.Duration) time.Duration {
	if d == nil {
		return 0
	}
	return d.Std()
}

// BuildInput recursively constructs the Evaluator tree for one
// group-level input (topic or composite) described by cfg, wiring leaf
// TopicInputs to sub and compiling each condition text once at build
// time so a malformed expression fails config loading rather than
// surfacing as a runtime panic on the first message.
func BuildInput(cfg config.InputConfig, engine *loop.Engine, st *store.Store, warn WarnFunc, sub Subscriber, parent committer) (Evaluator, error) {
	switch cfg.Type {
	case "", "topic":
		cond, err := Compile(cfg.Condition)
		if err != nil {
			return nil, fmt.Errorf("input %q: condition %q: %w", cfg.Label, cfg.Condition, err)
		}
		in := NewTopicInput(TopicInputConfig{
			Label:          cfg.Label,
			Topic:          cfg.Topic,
			ConditionText:  cfg.Condition,
			Condition:      cond,
			Debounce:       durationOf(cfg.Debounce),
			SilenceTimeout: durationOf(cfg.SilenceTimeout),
		}, engine, st, warn, sub, parent)
		return in, nil

	case "composite":
		mode := strings.ToLower(cfg.Mode)
		c := NewCompositeInput(engine, cfg.Label, mode, durationOf(cfg.Debounce), parent)
		for _, childCfg := range cfg.Inputs {
			child, err := BuildInput(childCfg, engine, st, warn, sub, c)
			if err != nil {
				return nil, err
			}
			c.addChild(child)
		}
		return c, nil

	default:
		return nil, fmt.Errorf("input %q: unsupported type %q for BuildInput (use BuildLiveness for liveness inputs)", cfg.Label, cfg.Type)
	}
}

// BuildInputs builds a slice of top-level Evaluators (a group's Inputs or
// Inhibitors list), all reporting commits to the same parent.
func BuildInputs(cfgs []config.InputConfig, engine *loop.Engine, st *store.Store, warn WarnFunc, sub Subscriber, parent committer) ([]Evaluator, error) {
	out := make([]Evaluator, 0, len(cfgs))
	for _, cfg := range cfgs {
		in, err := BuildInput(cfg, engine, st, warn, sub, parent)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, nil
}

// BuildLiveness constructs the liveness inputs for a group. Liveness
// inputs never commit to a parent: they only track their own State().
func BuildLiveness(cfgs []config.InputConfig, engine *loop.Engine, st *store.Store, warn WarnFunc, sub Subscriber) ([]Evaluator, error) {
	out := make([]Evaluator, 0, len(cfgs))
	for _, cfg := range cfgs {
		cond, err := Compile(cfg.Condition)
		if err != nil {
			return nil, fmt.Errorf("liveness input %q: condition %q: %w", cfg.Label, cfg.Condition, err)
		}
		li := NewLivenessInput(LivenessInputConfig{
			Label:                  cfg.Label,
			Topic:                  cfg.Topic,
			ConditionText:          cfg.Condition,
			Condition:              cond,
			SilenceTimeout:         durationOf(cfg.SilenceTimeout),
			InvalidResponseTimeout: durationOf(cfg.InvalidResponseTimeout),
		}, engine, st, warn, sub)
		out = append(out, li)
	}
	return out, nil
}
