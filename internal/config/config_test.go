package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
mqtt:
  broker: tcp://localhost:1883
switch_outputs:
  sw1:
    schedules:
      default:
        alarm:
          mqtt: alarm/sw1
          message: "ON"
groups:
  - name: g1
    inputs:
      - topic: sensor/g1
        condition: "value == '1'"
    outputs:
      alarm:
        - switch: sw1
          schedule: default
`

func TestLoadMinimal(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Service.Name != "alarmd" {
		t.Errorf("Service.Name = %q, want default %q", cfg.Service.Name, "alarmd")
	}
	if cfg.MQTT.KeepAlive.Std() != 30*time.Second {
		t.Errorf("MQTT.KeepAlive = %v, want 30s default", cfg.MQTT.KeepAlive.Std())
	}
	if len(cfg.Groups) != 1 {
		t.Fatalf("len(Groups) = %d, want 1", len(cfg.Groups))
	}
	if cfg.Groups[0].Priority != 101 {
		t.Errorf("Groups[0].Priority = %d, want 101 (first default)", cfg.Groups[0].Priority)
	}
	if got := cfg.Groups[0].Inputs[0].SilenceTimeout.Std(); got != 7*24*time.Hour {
		t.Errorf("default silence_timeout = %v, want 168h", got)
	}
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load() err = nil, want error for missing file")
	}
}

func TestValidateRejectsMQTTWithoutMessage(t *testing.T) {
	body := minimalConfig + "\n" // base is valid; mutate a copy below
	_ = body

	cfg := &Config{
		MQTT: MQTTConfig{Broker: "tcp://localhost:1883"},
		SwitchOutputs: map[string]SwitchOutputGroupConfig{
			"sw1": {
				Schedules: map[string]ScheduleConfig{
					"default": {
						Alarm: &SwitchOutputConfig{MQTT: "alarm/sw1"},
					},
				},
			},
		},
	}

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() err = nil, want error for mqtt set without message")
	}
}

func TestValidateRejectsInvalidCompositeMode(t *testing.T) {
	cfg := &Config{
		MQTT: MQTTConfig{Broker: "tcp://localhost:1883"},
		Groups: []GroupConfig{
			{
				Name: "g1",
				Inputs: []InputConfig{
					{
						Type: "composite",
						Mode: "xor",
						Inputs: []InputConfig{
							{Topic: "sensor/a", Condition: "value == '1'"},
						},
					},
				},
			},
		},
	}

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() err = nil, want error for invalid composite mode")
	}
}

func TestValidateRejectsUnknownOutputReference(t *testing.T) {
	cfg := &Config{
		MQTT: MQTTConfig{Broker: "tcp://localhost:1883"},
		Groups: []GroupConfig{
			{
				Name: "g1",
				Outputs: map[string][]OutputBinding{
					"alarm": {{Switch: "does-not-exist", Schedule: "default"}},
				},
			},
		},
	}

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() err = nil, want error for unknown switch output reference")
	}
}

func TestValidateRejectsDuplicateGroupNames(t *testing.T) {
	cfg := &Config{
		MQTT: MQTTConfig{Broker: "tcp://localhost:1883"},
		Groups: []GroupConfig{
			{Name: "g1"},
			{Name: "g1"},
		},
	}

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() err = nil, want error for duplicate group names")
	}
}

func TestApplyDefaultsAssignsIncrementingPriorities(t *testing.T) {
	cfg := &Config{
		Groups: []GroupConfig{
			{Name: "g1"},
			{Name: "g2", Priority: 50},
			{Name: "g3"},
		},
	}
	cfg.applyDefaults()

	if cfg.Groups[0].Priority != 101 {
		t.Errorf("Groups[0].Priority = %d, want 101", cfg.Groups[0].Priority)
	}
	if cfg.Groups[1].Priority != 50 {
		t.Errorf("Groups[1].Priority = %d, want explicit 50", cfg.Groups[1].Priority)
	}
	if cfg.Groups[2].Priority != 51 {
		t.Errorf("Groups[2].Priority = %d, want 51 (one past explicit g2)", cfg.Groups[2].Priority)
	}
}

func TestEnvExpansionInBrokerCredentials(t *testing.T) {
	t.Setenv("ALARMD_TEST_PASSWORD", "s3cret")
	body := `
mqtt:
  broker: tcp://localhost:1883
  password: ${ALARMD_TEST_PASSWORD}
`
	path := writeConfig(t, body)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MQTT.Password != "s3cret" {
		t.Errorf("MQTT.Password = %q, want expanded env value", cfg.MQTT.Password)
	}
}

func TestFindConfigPrefersExplicit(t *testing.T) {
	got, err := FindConfig("/explicit/path.yaml")
	if err != nil {
		t.Fatalf("FindConfig: %v", err)
	}
	if got != "/explicit/path.yaml" {
		t.Errorf("FindConfig() = %q, want explicit path", got)
	}
}

func TestFindConfigFallsBackToEnv(t *testing.T) {
	t.Setenv("ALARMD_CONFIG", "/env/path.yaml")
	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig: %v", err)
	}
	if got != "/env/path.yaml" {
		t.Errorf("FindConfig() = %q, want env path", got)
	}
}
