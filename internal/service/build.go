package service

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/hollowoak/alarmd/internal/alarm"
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

func toSwitchOutputConfig(c *config.SwitchOutputConfig) alarm.SwitchOutputConfig {
	if c == nil {
		return alarm.SwitchOutputConfig{}
	}
	return alarm.SwitchOutputConfig{
		MQTTTopic: c.MQTT,
		Message:   c.Message,
		HTTPPost:  c.HTTPPost,
		Repeat:    durationOf(c.Repeat),
	}
}

func buildSwitchOutput(c *config.SwitchOutputConfig, engine *loop.Engine, publish alarm.PublishFunc, httpClient *http.Client, logger *slog.Logger) *alarm.SwitchOutput {
	if c == nil {
		return nil
	}
	return alarm.NewSwitchOutput(toSwitchOutputConfig(c), engine, publish, httpClient, logger)
}

// buildSwitchOutputGroups constructs every named arbiter and its leaf
// effects. These have no dependency on groups, so they are always built
// first.
func buildSwitchOutputGroups(cfg *config.Config, engine *loop.Engine, publish alarm.PublishFunc, httpClient *http.Client, logger *slog.Logger) map[string]*alarm.SwitchOutputGroup {
	out := make(map[string]*alarm.SwitchOutputGroup, len(cfg.SwitchOutputs))
	for name, sw := range cfg.SwitchOutputs {
		schedules := make(map[string]alarm.Schedule, len(sw.Schedules))
		for schedName, sched := range sw.Schedules {
			schedules[schedName] = alarm.Schedule{
				Prealarm: buildSwitchOutput(sched.Prealarm, engine, publish, httpClient, logger),
				Alarm:    buildSwitchOutput(sched.Alarm, engine, publish, httpClient, logger),
			}
		}
		resets := make(map[string]*alarm.SwitchOutput, len(sw.Resets))
		for schedName := range sw.Resets {
			r := sw.Resets[schedName]
			resets[schedName] = buildSwitchOutput(&r, engine, publish, httpClient, logger)
		}
		out[name] = alarm.NewSwitchOutputGroup(name, schedules, resets)
	}
	return out
}

// buildGroups constructs every AlarmGroup, resolving switch-output
// bindings against arbiters (already built). Text-output bindings are
// left unbound here: a group's TextOutputs and a TextOutput's Groups are
// mutually dependent, so that wiring happens in a second pass once both
// sides exist (see bindTextOutputs).
func buildGroups(cfg *config.Config, arbiters map[string]*alarm.SwitchOutputGroup, engine *loop.Engine, st *store.Store, warn alarm.WarnFunc, requestInfoPublish func(), sub alarm.Subscriber) (ordered []*alarm.AlarmGroup, byName map[string]*alarm.AlarmGroup, err error) {
	byName = make(map[string]*alarm.AlarmGroup, len(cfg.Groups))

	for _, gc := range cfg.Groups {
		g := alarm.NewEmptyAlarmGroup()

		inputs, err := alarm.BuildInputs(gc.Inputs, engine, st, warn, sub, g)
		if err != nil {
			return nil, nil, fmt.Errorf("group %s: %w", gc.Name, err)
		}
		inhibitors, err := alarm.BuildInputs(gc.Inhibitors, engine, st, warn, sub, g)
		if err != nil {
			return nil, nil, fmt.Errorf("group %s: %w", gc.Name, err)
		}
		liveness, err := alarm.BuildLiveness(gc.Liveness, engine, st, warn, sub)
		if err != nil {
			return nil, nil, fmt.Errorf("group %s: %w", gc.Name, err)
		}

		bindings := alarm.NewSwitchBindings()
		for phase, outs := range gc.Outputs {
			for _, b := range outs {
				if b.Switch == "" {
					continue
				}
				if arbiter, ok := arbiters[b.Switch]; ok {
					alarm.AddSwitchBinding(bindings, phase, arbiter, b.Schedule)
				}
			}
		}

		label := gc.Label
		if label == "" {
			label = gc.Name
		}

		g.Init(alarm.GroupConfig{
			Name:           gc.Name,
			Label:          label,
			Priority:       gc.Priority,
			Prealarm:       durationOf(gc.Prealarm),
			ResetDelay:     durationOf(gc.ResetDelay),
			Inputs:         inputs,
			Inhibitors:     inhibitors,
			Liveness:       liveness,
			SwitchBindings: bindings,
		}, engine, st, warn, requestInfoPublish, false)

		ordered = append(ordered, g)
		byName[gc.Name] = g
	}

	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Priority() < ordered[j].Priority() })
	return ordered, byName, nil
}

// buildTextOutputs constructs every named aggregator over the groups it
// names (all groups, in priority order, when Groups is empty).
func buildTextOutputs(cfg *config.Config, ordered []*alarm.AlarmGroup, publish func(topic, message string)) map[string]*alarm.TextOutput {
	out := make(map[string]*alarm.TextOutput, len(cfg.TextOutputs))
	for name, tc := range cfg.TextOutputs {
		var groups []*alarm.AlarmGroup
		if len(tc.Groups) == 0 {
			groups = ordered
		} else {
			wanted := make(map[string]bool, len(tc.Groups))
			for _, gname := range tc.Groups {
				wanted[gname] = true
			}
			for _, g := range ordered {
				if wanted[g.Name()] {
					groups = append(groups, g)
				}
			}
		}
		out[name] = alarm.NewTextOutput(tc.Topic, tc.Info, groups, publish)
	}
	return out
}

// bindTextOutputs is the second pass of group construction: now that
// every TextOutput exists, attach each one to the groups whose Outputs
// config names it for a given phase.
func bindTextOutputs(cfg *config.Config, byName map[string]*alarm.AlarmGroup, textOutputs map[string]*alarm.TextOutput) {
	for _, gc := range cfg.Groups {
		g := byName[gc.Name]
		for phase, outs := range gc.Outputs {
			for _, b := range outs {
				if b.Text == "" {
					continue
				}
				if to, ok := textOutputs[b.Text]; ok {
					g.BindTextOutput(phase, to)
				}
			}
		}
	}
}

// infoTextOutputs returns the subset of textOutputs flagged Info: the
// warning channel's fan-out targets.
func infoTextOutputs(textOutputs map[string]*alarm.TextOutput) []*alarm.TextOutput {
	var out []*alarm.TextOutput
	for _, to := range textOutputs {
		if to.Info() {
			out = append(out, to)
		}
	}
	return out
}
