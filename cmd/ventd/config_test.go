package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ventcore/internal/protocol"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}

	sched, err := cfg.ToSchedule()
	if err != nil {
		t.Fatalf("ToSchedule: %v", err)
	}
	if sched.Len() != 3 {
		t.Fatalf("expected 3 default schedule entries, got %d", sched.Len())
	}
	first := sched.Entries()[0]
	if first.Kind != protocol.KindParametersRequest || first.Interval != 50*time.Millisecond {
		t.Fatalf("unexpected first entry %+v", first)
	}
}

func TestParseConfigOverDefaults(t *testing.T) {
	cfg, err := parseConfig([]byte(`
device:
  host: 10.0.0.5
  port: 9000
schedule:
  entries:
    - kind: alarm_limits_request
      interval_ms: 100
    - kind: system_setting_request
      interval_ms: 200
input:
  rotary_devices: [/dev/input/event3]
logging:
  level: debug
`))
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	tc := cfg.ToTransportConfig()
	if got := tc.URL(); got != "ws://10.0.0.5:9000/" {
		t.Fatalf("URL = %q", got)
	}
	// Untouched sections keep their defaults.
	if tc.RetryInterval != time.Second {
		t.Fatalf("retry interval = %v, want 1s", tc.RetryInterval)
	}
	if cfg.UI.UpdateHz != defaultUpdateHz {
		t.Fatalf("ui.update_hz = %d, want default %d", cfg.UI.UpdateHz, defaultUpdateHz)
	}

	sched, err := cfg.ToSchedule()
	if err != nil {
		t.Fatalf("ToSchedule: %v", err)
	}
	entries := sched.Entries()
	if len(entries) != 2 || entries[1].Kind != protocol.KindSystemSettingRequest || entries[1].Interval != 200*time.Millisecond {
		t.Fatalf("unexpected schedule %+v", entries)
	}
	if len(cfg.Input.RotaryDevices) != 1 || cfg.Input.RotaryDevices[0] != "/dev/input/event3" {
		t.Fatalf("unexpected rotary devices %v", cfg.Input.RotaryDevices)
	}
}

func TestParseConfigRejectsUnknownField(t *testing.T) {
	_, err := parseConfig([]byte("device:\n  hostname: x\n"))
	if err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}
}

func TestParseConfigRejectsTrailingDocument(t *testing.T) {
	_, err := parseConfig([]byte("device:\n  port: 9000\n---\ndevice:\n  port: 9001\n"))
	if err == nil || !strings.Contains(err.Error(), "trailing document") {
		t.Fatalf("expected trailing document error, got %v", err)
	}
}

func TestParseConfigAllowsTrailingComments(t *testing.T) {
	cfg, err := parseConfig([]byte("ui:\n  update_hz: 10\n\n# end of file\n"))
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if cfg.UI.UpdateHz != 10 {
		t.Fatalf("expected update_hz 10, got %d", cfg.UI.UpdateHz)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ventd.yaml")
	if err := os.WriteFile(path, []byte("ui:\n  update_hz: 10\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.UI.UpdateHz != 10 {
		t.Fatalf("ui.update_hz = %d, want 10", cfg.UI.UpdateHz)
	}

	if _, err := LoadConfigFile(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidateRejectsBadSchedule(t *testing.T) {
	tests := []struct {
		name    string
		entries []ScheduleEntryConfig
		want    string
	}{
		{"empty", nil, "must not be empty"},
		{"unknown kind", []ScheduleEntryConfig{{Kind: "bogus", IntervalMS: 50}}, "unknown message kind"},
		{"inbound only kind", []ScheduleEntryConfig{{Kind: "sensor_measurements", IntervalMS: 50}}, "not sent by the UI"},
		{"zero interval", []ScheduleEntryConfig{{Kind: "parameters_request"}}, "interval_ms"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Schedule.Entries = tt.entries
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateRanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Device.Port = 70000 }},
		{"retry", func(c *Config) { c.Device.RetryIntervalMS = 0 }},
		{"segment longer than window", func(c *Config) { c.Waveform.MaxSegmentMS = c.Waveform.MaxWindowMS + 1 }},
		{"commit offset longer than segment", func(c *Config) {
			c.Waveform.MaxSegmentMS = 500
			c.Waveform.SegmentCommitOffsetMS = 2000
		}},
		{"smoothing factor", func(c *Config) { c.Smoothing.Factor = 1.5 }},
		{"state path", func(c *Config) { c.UI.StatePath = "ws" }},
		{"update hz", func(c *Config) { c.UI.UpdateHz = 0 }},
		{"metrics path", func(c *Config) { c.Metrics.Path = "" }},
		{"velocity multiplier", func(c *Config) { c.Input.VelocityMultiplier = 0.5 }},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestFlagOverridesApply(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Input.RotaryDevices = []string{"/dev/input/event1"}

	host := "vent.local"
	port := 8100
	empty := ""
	dev := true
	FlagOverrides{
		DeviceHost:   &host,
		DevicePort:   &port,
		RotaryDevice: &empty,
		Development:  &dev,
	}.Apply(&cfg)

	if cfg.Device.Host != host || cfg.Device.Port != port {
		t.Fatalf("device override not applied: %+v", cfg.Device)
	}
	if cfg.Input.RotaryDevices != nil {
		t.Fatalf("empty rotary device should disable the knob, got %v", cfg.Input.RotaryDevices)
	}
	if !cfg.Development {
		t.Fatalf("development override not applied")
	}
	// Nil overrides leave fields alone.
	if cfg.UI.ListenAddr != "127.0.0.1:3001" {
		t.Fatalf("ui.listen_addr changed unexpectedly: %q", cfg.UI.ListenAddr)
	}

	FlagOverrides{}.Apply(nil)
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandPath("~/ventd.yaml"); got != filepath.Join(home, "ventd.yaml") {
		t.Fatalf("ExpandPath = %q", got)
	}
	if got := ExpandPath("/etc/ventd.yaml"); got != "/etc/ventd.yaml" {
		t.Fatalf("absolute path changed: %q", got)
	}
	if got := ExpandPath("~other/x"); got != "~other/x" {
		t.Fatalf("~user form should be left alone, got %q", got)
	}
}
