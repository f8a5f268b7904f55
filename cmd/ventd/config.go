package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"ventcore/internal/protocol"
	"ventcore/internal/schedule"
	"ventcore/internal/smoothing"
	"ventcore/internal/store"
	"ventcore/internal/transport"
	"ventcore/internal/waveform"
)

// Config is the top-level YAML configuration for the ventd daemon.
//
// Keep defaults and validation centralized so the rest of the code can assume
// a well-formed config. Durations are plain integers in milliseconds.
type Config struct {
	// Device link (ventilator controller WebSocket)
	Device DeviceConfig `yaml:"device"`

	// Outbound round-robin schedule
	Schedule ScheduleConfig `yaml:"schedule"`

	// Derived slice tuning
	Waveform   WaveformConfig   `yaml:"waveform"`
	Smoothing  SmoothingConfig  `yaml:"smoothing"`
	Connection ConnectionConfig `yaml:"connection"`

	// UI state feed and HTTP endpoints
	UI UIConfig `yaml:"ui"`

	// IPC configuration (used by ventctl)
	IPC IPCConfig `yaml:"ipc"`

	Metrics MetricsConfig `yaml:"metrics"`

	// Local rotary knob
	Input InputConfig `yaml:"input"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Development turns programmer errors (unknown outbound kinds) into panics.
	Development bool `yaml:"development"`
}

type DeviceConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	RetryIntervalMS    int    `yaml:"retry_interval_ms"`
	HandshakeTimeoutMS int    `yaml:"handshake_timeout_ms"`
	WriteTimeoutMS     int    `yaml:"write_timeout_ms"`
	SendQueue          int    `yaml:"send_queue"`
}

type ScheduleConfig struct {
	Entries []ScheduleEntryConfig `yaml:"entries"`
}

type ScheduleEntryConfig struct {
	Kind       string `yaml:"kind"` // message kind name, e.g. "parameters_request"
	IntervalMS int    `yaml:"interval_ms"`
}

type WaveformConfig struct {
	MaxWindowMS           int `yaml:"max_window_ms"`
	MaxGapMS              int `yaml:"max_gap_ms"`
	MaxSegmentMS          int `yaml:"max_segment_ms"`
	SegmentCommitOffsetMS int `yaml:"segment_commit_offset_ms"`

	// PVLoopMaxPoints caps one breath of the PV loop (0 = unbounded).
	PVLoopMaxPoints int `yaml:"pv_loop_max_points"`
}

type SmoothingConfig struct {
	Factor        float64 `yaml:"factor"`
	MinDelta      float32 `yaml:"min_delta"`
	ConvergeDelta float32 `yaml:"converge_delta"`
	ConvergeMS    int     `yaml:"converge_ms"`
}

type ConnectionConfig struct {
	// StaleAfterMS is how long the device may stay silent before the
	// connection is reported lost.
	StaleAfterMS int `yaml:"stale_after_ms"`
}

type UIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	StatePath  string `yaml:"state_path"`
	UpdateHz   int    `yaml:"update_hz"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type InputConfig struct {
	RotaryDevices    []string `yaml:"rotary_devices,omitempty"` // empty disables the local knob
	RotaryButtonCode int      `yaml:"rotary_button_code"`

	VelocityWindowMS   int     `yaml:"velocity_window_ms"`
	VelocityThreshold  int     `yaml:"velocity_threshold"`
	VelocityMultiplier float64 `yaml:"velocity_multiplier"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go.
func DefaultConfig() Config {
	wf := waveform.DefaultConfig()
	sm := smoothing.DefaultConfig()

	var entries []ScheduleEntryConfig
	for _, e := range schedule.Default(defaultSendIntervalMS * time.Millisecond).Entries() {
		entries = append(entries, ScheduleEntryConfig{
			Kind:       e.Kind.String(),
			IntervalMS: int(e.Interval.Milliseconds()),
		})
	}

	return Config{
		Device: DeviceConfig{
			Host:               defaultDeviceHost,
			Port:               defaultDevicePort,
			RetryIntervalMS:    defaultRetryIntervalMS,
			HandshakeTimeoutMS: defaultHandshakeTimeoutMS,
			WriteTimeoutMS:     defaultWriteTimeoutMS,
			SendQueue:          defaultSendQueue,
		},
		Schedule: ScheduleConfig{
			Entries: entries,
		},
		Waveform: WaveformConfig{
			MaxWindowMS:           int(wf.MaxWindowDuration.Milliseconds()),
			MaxGapMS:              int(wf.MaxGapDuration.Milliseconds()),
			MaxSegmentMS:          int(wf.MaxSegmentDuration.Milliseconds()),
			SegmentCommitOffsetMS: int(wf.SegmentCommitOffset.Milliseconds()),
			PVLoopMaxPoints:       defaultPVLoopMaxPoints,
		},
		Smoothing: SmoothingConfig{
			Factor:        sm.Factor,
			MinDelta:      sm.MinDelta,
			ConvergeDelta: sm.ConvergeDelta,
			ConvergeMS:    int(sm.ConvergeDuration.Milliseconds()),
		},
		Connection: ConnectionConfig{
			StaleAfterMS: defaultStaleAfterMS,
		},
		UI: UIConfig{
			ListenAddr: "127.0.0.1:3001",
			StatePath:  "/ws",
			UpdateHz:   defaultUpdateHz,
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/ventd.sock",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Input: InputConfig{
			RotaryButtonCode:   KEY_ENTER,
			VelocityWindowMS:   defaultRotaryVelocityWindowMS,
			VelocityThreshold:  defaultRotaryVelocityThreshold,
			VelocityMultiplier: defaultRotaryVelocityMultiplier,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file over DefaultConfig.
//
// Unknown fields are rejected (helps catch typos) via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return parseConfig(b)
}

func parseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace and comments may follow the document.
	var trailing yaml.Node
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides applies overrides from flags on top of a loaded config.
// Each override is only applied if its pointer is non-nil.
type FlagOverrides struct {
	DeviceHost      *string
	DevicePort      *int
	RetryIntervalMS *int

	UIListenAddr  *string
	UIUpdateHz    *int
	IPCSocketPath *string

	MetricsEnabled *bool
	RotaryDevice   *string

	LogLevel    *string
	Development *bool
}

// Apply merges the overrides into cfg. If an override pointer is nil, it is ignored.
// If the pointer is non-nil, the value is applied (even if it is a "zero value").
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}

	if o.DeviceHost != nil {
		cfg.Device.Host = *o.DeviceHost
	}
	if o.DevicePort != nil {
		cfg.Device.Port = *o.DevicePort
	}
	if o.RetryIntervalMS != nil {
		cfg.Device.RetryIntervalMS = *o.RetryIntervalMS
	}

	if o.UIListenAddr != nil {
		cfg.UI.ListenAddr = *o.UIListenAddr
	}
	if o.UIUpdateHz != nil {
		cfg.UI.UpdateHz = *o.UIUpdateHz
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}

	if o.MetricsEnabled != nil {
		cfg.Metrics.Enabled = *o.MetricsEnabled
	}
	if o.RotaryDevice != nil {
		if *o.RotaryDevice == "" {
			cfg.Input.RotaryDevices = nil
		} else {
			cfg.Input.RotaryDevices = []string{*o.RotaryDevice}
		}
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.Development != nil {
		cfg.Development = *o.Development
	}
}

// Validate checks config invariants and returns a user-friendly error.
// This is intended to be called after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// Device
	if c.Device.Host == "" {
		return errors.New("device.host must not be empty")
	}
	if c.Device.Port <= 0 || c.Device.Port > 65535 {
		return errors.New("device.port must be between 1 and 65535")
	}
	if c.Device.RetryIntervalMS <= 0 {
		return errors.New("device.retry_interval_ms must be > 0")
	}
	if c.Device.HandshakeTimeoutMS <= 0 {
		return errors.New("device.handshake_timeout_ms must be > 0")
	}
	if c.Device.WriteTimeoutMS <= 0 {
		return errors.New("device.write_timeout_ms must be > 0")
	}
	if c.Device.SendQueue <= 0 {
		return errors.New("device.send_queue must be > 0")
	}

	// Schedule
	if len(c.Schedule.Entries) == 0 {
		return errors.New("schedule.entries must not be empty")
	}
	for i, e := range c.Schedule.Entries {
		kind, err := protocol.ParseKind(e.Kind)
		if err != nil {
			return fmt.Errorf("schedule.entries[%d].kind: %w", i, err)
		}
		if !store.OutboundKind(kind) {
			return fmt.Errorf("schedule.entries[%d].kind: %s is not sent by the UI", i, kind)
		}
		if e.IntervalMS <= 0 {
			return fmt.Errorf("schedule.entries[%d].interval_ms must be > 0", i)
		}
	}

	// Waveform
	if c.Waveform.MaxWindowMS <= 0 || c.Waveform.MaxGapMS <= 0 || c.Waveform.MaxSegmentMS <= 0 {
		return errors.New("waveform.max_window_ms, max_gap_ms and max_segment_ms must be > 0")
	}
	if c.Waveform.SegmentCommitOffsetMS < 0 {
		return errors.New("waveform.segment_commit_offset_ms must be >= 0")
	}
	if c.Waveform.SegmentCommitOffsetMS > c.Waveform.MaxSegmentMS {
		return errors.New("waveform.segment_commit_offset_ms must be <= waveform.max_segment_ms")
	}
	if c.Waveform.MaxSegmentMS > c.Waveform.MaxWindowMS {
		return errors.New("waveform.max_segment_ms must be <= waveform.max_window_ms")
	}
	if c.Waveform.PVLoopMaxPoints < 0 {
		return errors.New("waveform.pv_loop_max_points must be >= 0")
	}

	// Smoothing
	if c.Smoothing.Factor <= 0 || c.Smoothing.Factor > 1 {
		return errors.New("smoothing.factor must be in (0, 1]")
	}
	if c.Smoothing.MinDelta < 0 || c.Smoothing.ConvergeDelta < 0 || c.Smoothing.ConvergeMS < 0 {
		return errors.New("smoothing.min_delta, converge_delta and converge_ms must be >= 0")
	}

	// Connection
	if c.Connection.StaleAfterMS <= 0 {
		return errors.New("connection.stale_after_ms must be > 0")
	}

	// UI
	if c.UI.ListenAddr == "" {
		return errors.New("ui.listen_addr must not be empty")
	}
	if c.UI.StatePath == "" || c.UI.StatePath[0] != '/' {
		return errors.New("ui.state_path must start with /")
	}
	if c.UI.UpdateHz <= 0 || c.UI.UpdateHz > 1000 {
		return errors.New("ui.update_hz must be between 1 and 1000")
	}

	// IPC
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	// Metrics
	if c.Metrics.Enabled && (c.Metrics.Path == "" || c.Metrics.Path[0] != '/') {
		return errors.New("metrics.path must start with /")
	}

	// Input
	for i, dev := range c.Input.RotaryDevices {
		if dev == "" {
			return fmt.Errorf("input.rotary_devices[%d] is empty", i)
		}
	}
	if c.Input.VelocityWindowMS < 0 || c.Input.VelocityThreshold < 0 {
		return errors.New("input.velocity_window_ms and velocity_threshold must be >= 0")
	}
	if c.Input.VelocityMultiplier < 1 {
		return errors.New("input.velocity_multiplier must be >= 1")
	}

	// Logging
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// ToTransportConfig converts the device section into the transport config.
func (c Config) ToTransportConfig() transport.Config {
	return transport.Config{
		Host:             c.Device.Host,
		Port:             c.Device.Port,
		Path:             "/",
		RetryInterval:    ms(c.Device.RetryIntervalMS),
		HandshakeTimeout: ms(c.Device.HandshakeTimeoutMS),
		WriteTimeout:     ms(c.Device.WriteTimeoutMS),
		SendQueue:        c.Device.SendQueue,
	}
}

// ToStoreConfig converts the derived slice sections into the reducer config.
func (c Config) ToStoreConfig() store.Config {
	return store.Config{
		Waveform: waveform.Config{
			MaxWindowDuration:   ms(c.Waveform.MaxWindowMS),
			MaxGapDuration:      ms(c.Waveform.MaxGapMS),
			MaxSegmentDuration:  ms(c.Waveform.MaxSegmentMS),
			SegmentCommitOffset: ms(c.Waveform.SegmentCommitOffsetMS),
		},
		Smoothing: smoothing.Config{
			Factor:           c.Smoothing.Factor,
			MinDelta:         c.Smoothing.MinDelta,
			ConvergeDelta:    c.Smoothing.ConvergeDelta,
			ConvergeDuration: ms(c.Smoothing.ConvergeMS),
		},
		StaleAfter:      ms(c.Connection.StaleAfterMS),
		PVLoopMaxPoints: c.Waveform.PVLoopMaxPoints,
	}
}

// ToSchedule builds the outbound schedule. Call Validate first.
func (c Config) ToSchedule() (*schedule.Schedule, error) {
	entries := make([]schedule.Entry, 0, len(c.Schedule.Entries))
	for i, e := range c.Schedule.Entries {
		kind, err := protocol.ParseKind(e.Kind)
		if err != nil {
			return nil, fmt.Errorf("schedule.entries[%d]: %w", i, err)
		}
		entries = append(entries, schedule.Entry{Kind: kind, Interval: ms(e.IntervalMS)})
	}
	return schedule.New(entries...)
}

// ToRotaryConfig converts the input section into the knob tuning.
func (c Config) ToRotaryConfig() RotaryConfig {
	return RotaryConfig{
		VelocityWindowMS:   c.Input.VelocityWindowMS,
		VelocityThreshold:  c.Input.VelocityThreshold,
		VelocityMultiplier: c.Input.VelocityMultiplier,
		ButtonCode:         uint16(c.Input.RotaryButtonCode),
	}
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
