// Package config loads and validates the YAML document that describes an
// alarmd deployment: the MQTT broker to dial, the alarm groups to evaluate,
// and the switch/text outputs they drive. Loading is a three-stage
// pipeline — Load (parse) → applyDefaults → Validate — mirroring the
// teacher's own config package.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths are tried in order when no -config flag or
// ALARMD_CONFIG environment variable is set.
func DefaultSearchPaths() []string {
	paths := []string{"./config.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "alarmd", "config.yaml"))
	}
	paths = append(paths, "/etc/alarmd/config.yaml")
	return paths
}

// FindConfig resolves the config path to use: explicit takes precedence,
// then ALARMD_CONFIG, then the first existing entry in DefaultSearchPaths.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if env := os.Getenv("ALARMD_CONFIG"); env != "" {
		return env, nil
	}
	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no config file found; searched %v", DefaultSearchPaths())
}

// ServiceConfig names the deployment and where it keeps state.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`
}

// MQTTConfig describes the broker connection.
type MQTTConfig struct {
	Broker   string   `yaml:"broker"`
	ClientID string   `yaml:"client_id"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	KeepAlive Duration `yaml:"keep_alive"`
}

// InputConfig describes one leaf or composite signal feeding a group. The
// Type discriminator selects which of the type-specific fields apply;
// unrecognized combinations are rejected by Validate.
type InputConfig struct {
	Type  string `yaml:"type"` // "", "topic" (default), "composite", or "liveness"
	Label string `yaml:"label"`

	// topic/liveness fields
	Topic           string    `yaml:"topic"`
	Condition       string    `yaml:"condition"`
	Format          string    `yaml:"format"`
	Debounce        *Duration `yaml:"debounce"`
	SilenceTimeout  *Duration `yaml:"silence_timeout"`

	// liveness-only
	InvalidResponseTimeout *Duration `yaml:"invalid_response_timeout"`

	// composite-only
	Mode   string         `yaml:"mode"` // "and" or "or"
	Inputs []InputConfig `yaml:"inputs"`
}

// OutputBinding names a single output attached to an alarm phase: either a
// switch output (with the schedule it should activate) or a text output.
type OutputBinding struct {
	Switch   string `yaml:"switch"`
	Schedule string `yaml:"schedule"`
	Text     string `yaml:"text"`
}

// GroupConfig describes one AlarmGroup and its output bindings per phase.
type GroupConfig struct {
	Name       string     `yaml:"name"`
	Label      string     `yaml:"label"`
	Priority   int        `yaml:"priority"`
	Prealarm   *Duration  `yaml:"prealarm"`
	ResetDelay *Duration  `yaml:"reset_delay"`
	Inputs     []InputConfig `yaml:"inputs"`
	Inhibitors []InputConfig `yaml:"inhibitors"`
	Liveness   []InputConfig `yaml:"liveness"`

	Outputs map[string][]OutputBinding `yaml:"outputs"` // phase ("prealarm"/"alarm"/"off") -> bindings
}

// SwitchOutputConfig is a single leaf effect.
type SwitchOutputConfig struct {
	MQTT     string    `yaml:"mqtt"`
	Message  string    `yaml:"message"`
	HTTPPost string    `yaml:"http_post"`
	Repeat   *Duration `yaml:"repeat"`
}

// ScheduleConfig binds the PREALARM/ALARM effects for one named schedule of
// a switch output group.
type ScheduleConfig struct {
	Prealarm *SwitchOutputConfig `yaml:"prealarm"`
	Alarm    *SwitchOutputConfig `yaml:"alarm"`
}

// SwitchOutputGroupConfig wraps a named physical output: a set of named
// schedules plus one-shot reset effects keyed by the same schedule names.
type SwitchOutputGroupConfig struct {
	Schedules map[string]ScheduleConfig     `yaml:"schedules"`
	Resets    map[string]SwitchOutputConfig `yaml:"resets"`
}

// TextOutputConfig is a coalesced aggregator over a set of groups.
type TextOutputConfig struct {
	Topic  string   `yaml:"topic"`
	Info   bool     `yaml:"info"`
	Groups []string `yaml:"groups"`
}

// Config is the top-level deployment document.
type Config struct {
	Service       ServiceConfig                      `yaml:"service"`
	MQTT          MQTTConfig                         `yaml:"mqtt"`
	Probe         *SwitchOutputConfig                `yaml:"probe"`
	TextOutputs   map[string]TextOutputConfig        `yaml:"text_outputs"`
	SwitchOutputs map[string]SwitchOutputGroupConfig `yaml:"switch_outputs"`
	Groups        []GroupConfig                      `yaml:"groups"`
}

// Load reads and parses the YAML document at path, applies defaults, and
// validates the result. Environment variables of the form ${VAR} are
// expanded before parsing, so broker credentials can be injected at
// deploy time without touching the file on disk.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(raw))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Service.Name == "" {
		c.Service.Name = "alarmd"
	}
	if c.Service.DataDir == "" {
		c.Service.DataDir = "."
	}
	if c.Service.LogLevel == "" {
		c.Service.LogLevel = "info"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = c.Service.Name
	}
	if c.MQTT.KeepAlive == 0 {
		c.MQTT.KeepAlive = Duration(30 * time.Second)
	}

	nextPriority := 101
	for i := range c.Groups {
		if c.Groups[i].Priority == 0 {
			c.Groups[i].Priority = nextPriority
		}
		nextPriority = c.Groups[i].Priority + 1
		applyInputDefaults(c.Groups[i].Inputs)
		applyInputDefaults(c.Groups[i].Inhibitors)
		applyLivenessDefaults(c.Groups[i].Liveness)
	}
}

func applyInputDefaults(inputs []InputConfig) {
	for i := range inputs {
		if inputs[i].Type == "" {
			inputs[i].Type = "topic"
		}
		if inputs[i].Type == "topic" && inputs[i].SilenceTimeout == nil {
			d := Duration(7 * 24 * time.Hour)
			inputs[i].SilenceTimeout = &d
		}
		if inputs[i].Type == "composite" {
			applyInputDefaults(inputs[i].Inputs)
		}
	}
}

func applyLivenessDefaults(inputs []InputConfig) {
	for i := range inputs {
		inputs[i].Type = "liveness"
		if inputs[i].SilenceTimeout == nil {
			d := Duration(time.Hour)
			inputs[i].SilenceTimeout = &d
		}
		if inputs[i].InvalidResponseTimeout == nil {
			d := Duration(3 * time.Minute)
			inputs[i].InvalidResponseTimeout = &d
		}
	}
}

// Validate checks the structural invariants spec.md requires at config
// load time: every named reference resolves, mqtt switch outputs carry a
// message, composite modes are well-formed.
func (c *Config) Validate() error {
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}

	for name, sw := range c.SwitchOutputs {
		for schedName, sched := range sw.Schedules {
			if err := validateSwitchOutput(sched.Prealarm); err != nil {
				return fmt.Errorf("switch_outputs.%s.schedules.%s.prealarm: %w", name, schedName, err)
			}
			if err := validateSwitchOutput(sched.Alarm); err != nil {
				return fmt.Errorf("switch_outputs.%s.schedules.%s.alarm: %w", name, schedName, err)
			}
		}
		for schedName := range sw.Resets {
			reset := sw.Resets[schedName]
			if err := validateSwitchOutput(&reset); err != nil {
				return fmt.Errorf("switch_outputs.%s.resets.%s: %w", name, schedName, err)
			}
		}
	}
	if c.Probe != nil {
		if err := validateSwitchOutput(c.Probe); err != nil {
			return fmt.Errorf("probe: %w", err)
		}
	}

	names := make(map[string]bool, len(c.Groups))
	for _, g := range c.Groups {
		if g.Name == "" {
			return fmt.Errorf("group with empty name")
		}
		if names[g.Name] {
			return fmt.Errorf("duplicate group name %q", g.Name)
		}
		names[g.Name] = true

		if err := validateInputs(g.Inputs); err != nil {
			return fmt.Errorf("group %s: inputs: %w", g.Name, err)
		}
		if err := validateInputs(g.Inhibitors); err != nil {
			return fmt.Errorf("group %s: inhibitors: %w", g.Name, err)
		}
		for _, in := range g.Liveness {
			if in.Topic == "" {
				return fmt.Errorf("group %s: liveness input missing topic", g.Name)
			}
		}

		for phase, bindings := range g.Outputs {
			switch phase {
			case "prealarm", "alarm", "off":
			default:
				return fmt.Errorf("group %s: unknown output phase %q", g.Name, phase)
			}
			for _, b := range bindings {
				if err := validateBinding(c, b); err != nil {
					return fmt.Errorf("group %s: outputs.%s: %w", g.Name, phase, err)
				}
			}
		}
	}

	for name, t := range c.TextOutputs {
		for _, g := range t.Groups {
			if !names[g] {
				return fmt.Errorf("text_outputs.%s: references unknown group %q", name, g)
			}
		}
	}

	return nil
}

func validateBinding(c *Config, b OutputBinding) error {
	switch {
	case b.Text != "":
		if _, ok := c.TextOutputs[b.Text]; !ok {
			return fmt.Errorf("references unknown text output %q", b.Text)
		}
	case b.Switch != "":
		sw, ok := c.SwitchOutputs[b.Switch]
		if !ok {
			return fmt.Errorf("references unknown switch output %q", b.Switch)
		}
		if b.Schedule == "" {
			return fmt.Errorf("switch output %q binding missing schedule", b.Switch)
		}
		if _, ok := sw.Schedules[b.Schedule]; !ok {
			return fmt.Errorf("switch output %q has no schedule %q", b.Switch, b.Schedule)
		}
	default:
		return fmt.Errorf("output binding names neither a switch nor a text output")
	}
	return nil
}

func validateInputs(inputs []InputConfig) error {
	for _, in := range inputs {
		switch in.Type {
		case "topic", "":
			if in.Topic == "" {
				return fmt.Errorf("topic input %q missing topic", in.Label)
			}
		case "composite":
			mode := strings.ToLower(in.Mode)
			if mode != "and" && mode != "or" {
				return fmt.Errorf("composite input %q has invalid mode %q", in.Label, in.Mode)
			}
			if len(in.Inputs) == 0 {
				return fmt.Errorf("composite input %q has no children", in.Label)
			}
			if err := validateInputs(in.Inputs); err != nil {
				return err
			}
		default:
			return fmt.Errorf("input %q has unknown type %q", in.Label, in.Type)
		}
	}
	return nil
}

func validateSwitchOutput(sw *SwitchOutputConfig) error {
	if sw == nil {
		return nil
	}
	if sw.MQTT != "" && sw.Message == "" {
		return fmt.Errorf("mqtt is set without message")
	}
	return nil
}
