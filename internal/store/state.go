// Package store is the application state container of the UI core: what the
// device last reported, what the operator asked for, and the values derived
// from the raw stream (waveforms, PV loop, smoothed readings, log ledger).
//
// State is owned by one goroutine. It changes only through Reduce; readers
// outside that goroutine receive Snapshots.
package store

import (
	"fmt"
	"time"

	"ventcore/internal/eventlog"
	"ventcore/internal/protocol"
	"ventcore/internal/pvloop"
	"ventcore/internal/smoothing"
	"ventcore/internal/waveform"
)

// Received is the last value of a device-reported kind.
type Received[T any] struct {
	Value T         `json:"value"`
	Known bool      `json:"known"`
	At    time.Time `json:"at"`
}

func (r *Received[T]) set(v T, at time.Time) {
	r.Value = v
	r.Known = true
	r.At = at
}

// Request is an operator-editable setting. Standby is the draft being edited
// (e.g. on the pre-ventilation screen); Committed is what is sent to the
// device.
type Request[T any] struct {
	Committed T `json:"committed"`
	Standby   T `json:"standby"`
	// Edited is set once the operator commits anything; from then on device
	// reports no longer seed the request.
	Edited bool `json:"edited"`
	Seeded bool `json:"seeded"`
}

// seed copies the device's running values into both forms, once, unless the
// operator got there first.
func (r *Request[T]) seed(v T) bool {
	if r.Edited || r.Seeded {
		return false
	}
	r.Committed = v
	r.Standby = v
	r.Seeded = true
	return true
}

// Channel names a waveform channel.
type Channel int

const (
	ChannelPaw Channel = iota
	ChannelFlow
	ChannelVolume
)

var channelNames = [...]string{"paw", "flow", "volume"}

func (c Channel) String() string {
	if c >= 0 && int(c) < len(channelNames) {
		return channelNames[c]
	}
	return fmt.Sprintf("channel(%d)", int(c))
}

// Channels lists every waveform channel.
func Channels() []Channel { return []Channel{ChannelPaw, ChannelFlow, ChannelVolume} }

// ParseChannel resolves a channel name.
func ParseChannel(name string) (Channel, error) {
	for i, n := range channelNames {
		if n == name {
			return Channel(i), nil
		}
	}
	return 0, fmt.Errorf("unknown waveform channel %q", name)
}

// Smoothed holds the display filters of the noisy readings.
type Smoothed struct {
	FiO2 smoothing.Filter `json:"fio2"`
	SpO2 smoothing.Filter `json:"spo2"`
	HR   smoothing.Filter `json:"hr"`
}

// RotaryState is the last rotary encoder message plus the step delta from
// the message before it.
type RotaryState struct {
	Encoder  protocol.RotaryEncoder `json:"encoder"`
	StepDiff int32                  `json:"step_diff"`
	Known    bool                   `json:"known"`
	At       time.Time              `json:"at"`
}

// Connection is the transport as seen by the store. Lost is derived on Tick
// from the time since the last received message.
type Connection struct {
	Connected     bool      `json:"connected"`
	State         string    `json:"state"`
	Session       string    `json:"session,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	Since         time.Time `json:"since"`
	LastMessageAt time.Time `json:"last_message_at"`
	Lost          bool      `json:"lost"`
}

// State is the whole application state.
type State struct {
	// Version increases on every reduction that changed something.
	Version uint64

	Sensor      Received[protocol.SensorMeasurements]
	Cycle       Received[protocol.CycleMeasurements]
	Parameters  Received[protocol.Parameters]
	AlarmLimits Received[protocol.AlarmLimits]
	LogBatch    Received[protocol.NextLogEvents]
	Rotary      RotaryState

	ParametersRequest  Request[protocol.ParametersRequest]
	AlarmLimitsRequest Request[protocol.AlarmLimitsRequest]
	SystemSettings     protocol.SystemSettingRequest
	Display            protocol.FrontendDisplaySetting

	waveforms [len(channelNames)]waveform.History
	PVLoop    pvloop.History
	Smoothed  Smoothed
	Log       eventlog.Ledger

	Connection Connection

	// dirty is set by changes not yet announced with a snapshot broadcast.
	dirty bool
}

// NewState returns the initial state: schema defaults everywhere and no
// connection.
func NewState() *State {
	return &State{
		Connection: Connection{State: "disconnected", Lost: true},
	}
}

// Waveform returns the live history of ch. It must only be used by the
// goroutine that owns s; use Clone before handing it elsewhere.
func (s *State) Waveform(ch Channel) *waveform.History {
	return &s.waveforms[ch]
}

// WaveformPoints is the number of points held across all channels.
func (s *State) WaveformPoints() int {
	n := 0
	for i := range s.waveforms {
		n += s.waveforms[i].PointCount()
	}
	return n
}

func (s *State) touch() {
	s.Version++
	s.dirty = true
}
