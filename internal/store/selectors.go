package store

import (
	"slices"

	"ventcore/internal/eventlog"
	"ventcore/internal/protocol"
	"ventcore/internal/pvloop"
	"ventcore/internal/waveform"
)

// Selectors are the read surface of the store. They never mutate state, and
// anything they return can be handed to another goroutine.

func SensorMeasurements(s *State) (protocol.SensorMeasurements, bool) {
	return s.Sensor.Value, s.Sensor.Known
}

func CycleMeasurements(s *State) (protocol.CycleMeasurements, bool) {
	return s.Cycle.Value, s.Cycle.Known
}

func Parameters(s *State) (protocol.Parameters, bool) {
	return s.Parameters.Value, s.Parameters.Known
}

func AlarmLimits(s *State) (protocol.AlarmLimits, bool) {
	return s.AlarmLimits.Value, s.AlarmLimits.Known
}

// ParametersRequest is the committed parameters, i.e. what the device is sent.
func ParametersRequest(s *State) protocol.ParametersRequest {
	return s.ParametersRequest.Committed
}

func StandbyParameters(s *State) protocol.ParametersRequest {
	return s.ParametersRequest.Standby
}

// AlarmLimitsRequest is the committed alarm limits.
func AlarmLimitsRequest(s *State) protocol.AlarmLimitsRequest {
	return s.AlarmLimitsRequest.Committed
}

func StandbyAlarmLimits(s *State) protocol.AlarmLimitsRequest {
	return s.AlarmLimitsRequest.Standby
}

// WaveformHistory returns a copy of the history of ch.
func WaveformHistory(s *State, ch Channel) *waveform.History {
	return s.Waveform(ch).Clone()
}

func PVLoop(s *State) *pvloop.History {
	return s.PVLoop.Clone()
}

func SmoothedValues(s *State) Smoothed {
	return s.Smoothed
}

func LogEvents(s *State) []protocol.LogEvent {
	return slices.Clone(s.Log.Events)
}

// ActiveAlarms returns the log events of the currently active alarms.
func ActiveAlarms(s *State) []protocol.LogEvent {
	return s.Log.ActiveEvents()
}

func NextExpectedLogID(s *State) uint32 {
	return s.Log.NextExpected
}

func Rotary(s *State) RotaryState {
	return s.Rotary
}

func ConnectionStatus(s *State) Connection {
	return s.Connection
}

// ConnectionLost is the flag the presentation layer shows as "connection
// lost". It is updated on every Tick.
func ConnectionLost(s *State) bool {
	return s.Connection.Lost
}

// Snapshot is a self-contained copy of the state for UI clients.
type Snapshot struct {
	Version uint64 `json:"version"`

	Connection Connection `json:"connection"`

	SensorMeasurements Received[protocol.SensorMeasurements] `json:"sensor_measurements"`
	CycleMeasurements  Received[protocol.CycleMeasurements]  `json:"cycle_measurements"`
	Parameters         Received[protocol.Parameters]         `json:"parameters"`
	AlarmLimits        Received[protocol.AlarmLimits]        `json:"alarm_limits"`

	ParametersRequest  Request[protocol.ParametersRequest]  `json:"parameters_request"`
	AlarmLimitsRequest Request[protocol.AlarmLimitsRequest] `json:"alarm_limits_request"`
	SystemSettings     protocol.SystemSettingRequest        `json:"system_settings"`
	Display            protocol.FrontendDisplaySetting      `json:"display"`

	Waveforms map[string]*waveform.History `json:"waveforms"`
	PVLoop    *pvloop.History              `json:"pv_loop"`
	Smoothed  Smoothed                     `json:"smoothed"`
	Rotary    RotaryState                  `json:"rotary"`

	Log          *eventlog.Ledger    `json:"log"`
	ActiveAlarms []protocol.LogEvent `json:"active_alarms"`
}

// BuildSnapshot copies s into a Snapshot.
func BuildSnapshot(s *State) Snapshot {
	snap := Snapshot{
		Version:            s.Version,
		Connection:         s.Connection,
		SensorMeasurements: s.Sensor,
		CycleMeasurements:  s.Cycle,
		Parameters:         s.Parameters,
		AlarmLimits:        s.AlarmLimits,
		ParametersRequest:  s.ParametersRequest,
		AlarmLimitsRequest: s.AlarmLimitsRequest,
		SystemSettings:     s.SystemSettings,
		Display:            s.Display,
		Waveforms:          make(map[string]*waveform.History, len(channelNames)),
		PVLoop:             PVLoop(s),
		Smoothed:           s.Smoothed,
		Rotary:             s.Rotary,
		Log:                s.Log.Clone(),
		ActiveAlarms:       ActiveAlarms(s),
	}
	for _, ch := range Channels() {
		snap.Waveforms[ch.String()] = WaveformHistory(s, ch)
	}
	return snap
}

// SnapshotSelector memoizes BuildSnapshot on State.Version. It is used by the
// goroutine that owns the state.
type SnapshotSelector struct {
	valid   bool
	version uint64
	snap    Snapshot
}

// Select returns the snapshot for s, rebuilding it only when s changed.
// Callers must treat the result as read-only: it is shared between calls.
func (sel *SnapshotSelector) Select(s *State) Snapshot {
	if !sel.valid || sel.version != s.Version {
		sel.snap = BuildSnapshot(s)
		sel.version = s.Version
		sel.valid = true
	}
	return sel.snap
}
