package store

import (
	"encoding/json"
	"fmt"
	"time"

	"ventcore/internal/protocol"
)

// ============================================================================
// Events (actions)
// ============================================================================
// Events are the only way state changes. They come from the transport
// (decoded device messages), from operators (IPC, UI clients), from the local
// rotary knob and from the daemon's own clock.
// ============================================================================

// Event is the input to the reducer.
type Event interface {
	eventMarker()
}

// TimedEvent attaches the time an event was observed. The daemon wraps every
// event it enqueues so payload types stay free of timestamps.
type TimedEvent struct {
	Event Event
	At    time.Time
}

func (TimedEvent) eventMarker() {}

// StateUpdate records a device message. Local marks messages synthesized on
// this side (the knob, IPC, UI clients); they update state but never count as
// device traffic for connection liveness.
type StateUpdate struct {
	Message protocol.Message
	Local   bool
}

func (StateUpdate) eventMarker() {}

// CommitParameters replaces the committed (transmitted) parameters.
type CommitParameters struct {
	Request protocol.ParametersRequest `json:"request"`
}

func (CommitParameters) eventMarker() {}

// CommitStandbyParameters replaces the standby draft. The device is not
// affected until ApplyStandbyParameters.
type CommitStandbyParameters struct {
	Request protocol.ParametersRequest `json:"request"`
}

func (CommitStandbyParameters) eventMarker() {}

// ApplyStandbyParameters commits the standby draft.
type ApplyStandbyParameters struct{}

func (ApplyStandbyParameters) eventMarker() {}

// CommitAlarmLimits replaces the committed alarm limits.
type CommitAlarmLimits struct {
	Request protocol.AlarmLimitsRequest `json:"request"`
}

func (CommitAlarmLimits) eventMarker() {}

// CommitStandbyAlarmLimits replaces the standby alarm limits draft.
type CommitStandbyAlarmLimits struct {
	Request protocol.AlarmLimitsRequest `json:"request"`
}

func (CommitStandbyAlarmLimits) eventMarker() {}

// ApplyStandbyAlarmLimits commits the standby alarm limits draft.
type ApplyStandbyAlarmLimits struct{}

func (ApplyStandbyAlarmLimits) eventMarker() {}

// CommitSystemSettings sets display brightness and/or the device clock.
// Zero fields keep their current value. The reducer assigns SeqNum.
type CommitSystemSettings struct {
	DisplayBrightness uint32 `json:"display_brightness,omitempty"`
	Date              uint32 `json:"date,omitempty"`
}

func (CommitSystemSettings) eventMarker() {}

// CommitDisplaySetting sets the UI theme and units.
type CommitDisplaySetting struct {
	Setting protocol.FrontendDisplaySetting `json:"setting"`
}

func (CommitDisplaySetting) eventMarker() {}

// ConnectionObserved reports a transport state change.
type ConnectionObserved struct {
	State   string
	Open    bool
	Session string
	Err     error
}

func (ConnectionObserved) eventMarker() {}

// Tick is emitted by the daemon loop at a fixed cadence.
type Tick struct {
	Now time.Time
}

func (Tick) eventMarker() {}

// RequestStateSnapshot asks for the current snapshot on Reply.
// Reply must be buffered; it is never blocked on.
type RequestStateSnapshot struct {
	Reply chan<- Snapshot
}

func (RequestStateSnapshot) eventMarker() {}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================
// EventEnvelope wraps operator-facing events for IPC and UI clients.
// ============================================================================

// EventEnvelope wraps an event with a type discriminator for JSON marshaling
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// stateUpdateJSON is the data of a "state_update" envelope.
type stateUpdateJSON struct {
	Kind    string          `json:"kind"`
	Message json.RawMessage `json:"message"`
}

// UnmarshalEvent deserializes a JSON event envelope into a concrete Event
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "commit_parameters":
		var a CommitParameters
		if err := json.Unmarshal(env.Data, &a.Request); err != nil {
			return nil, fmt.Errorf("unmarshal CommitParameters: %w", err)
		}
		return a, nil

	case "commit_standby_parameters":
		var a CommitStandbyParameters
		if err := json.Unmarshal(env.Data, &a.Request); err != nil {
			return nil, fmt.Errorf("unmarshal CommitStandbyParameters: %w", err)
		}
		return a, nil

	case "apply_standby_parameters":
		return ApplyStandbyParameters{}, nil

	case "commit_alarm_limits":
		var a CommitAlarmLimits
		if err := json.Unmarshal(env.Data, &a.Request); err != nil {
			return nil, fmt.Errorf("unmarshal CommitAlarmLimits: %w", err)
		}
		return a, nil

	case "commit_standby_alarm_limits":
		var a CommitStandbyAlarmLimits
		if err := json.Unmarshal(env.Data, &a.Request); err != nil {
			return nil, fmt.Errorf("unmarshal CommitStandbyAlarmLimits: %w", err)
		}
		return a, nil

	case "apply_standby_alarm_limits":
		return ApplyStandbyAlarmLimits{}, nil

	case "commit_system_settings":
		var a CommitSystemSettings
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal CommitSystemSettings: %w", err)
		}
		return a, nil

	case "commit_display_setting":
		var a CommitDisplaySetting
		if err := json.Unmarshal(env.Data, &a.Setting); err != nil {
			return nil, fmt.Errorf("unmarshal CommitDisplaySetting: %w", err)
		}
		return a, nil

	case "state_update":
		var su stateUpdateJSON
		if err := json.Unmarshal(env.Data, &su); err != nil {
			return nil, fmt.Errorf("unmarshal StateUpdate: %w", err)
		}
		msg, err := unmarshalMessage(su.Kind, su.Message)
		if err != nil {
			return nil, fmt.Errorf("unmarshal StateUpdate: %w", err)
		}
		return StateUpdate{Message: msg, Local: true}, nil

	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// unmarshalMessage decodes the JSON form of a message of the named kind.
func unmarshalMessage(kind string, data json.RawMessage) (protocol.Message, error) {
	schema, ok := protocol.DefaultRegistry().LookupName(kind)
	if !ok {
		return nil, fmt.Errorf("unknown message kind %q", kind)
	}
	switch schema.Kind {
	case protocol.KindSensorMeasurements:
		return decodeJSON[protocol.SensorMeasurements](data)
	case protocol.KindCycleMeasurements:
		return decodeJSON[protocol.CycleMeasurements](data)
	case protocol.KindParameters:
		return decodeJSON[protocol.Parameters](data)
	case protocol.KindParametersRequest:
		return decodeJSON[protocol.ParametersRequest](data)
	case protocol.KindAlarmLimits:
		return decodeJSON[protocol.AlarmLimits](data)
	case protocol.KindAlarmLimitsRequest:
		return decodeJSON[protocol.AlarmLimitsRequest](data)
	case protocol.KindExpectedLogEvent:
		return decodeJSON[protocol.ExpectedLogEvent](data)
	case protocol.KindNextLogEvents:
		return decodeJSON[protocol.NextLogEvents](data)
	case protocol.KindActiveLogEvents:
		return decodeJSON[protocol.ActiveLogEvents](data)
	case protocol.KindRotaryEncoder:
		return decodeJSON[protocol.RotaryEncoder](data)
	case protocol.KindSystemSettingRequest:
		return decodeJSON[protocol.SystemSettingRequest](data)
	case protocol.KindFrontendDisplaySetting:
		return decodeJSON[protocol.FrontendDisplaySetting](data)
	default:
		return nil, fmt.Errorf("unsupported message kind %q", kind)
	}
}

func decodeJSON[T protocol.Message](data json.RawMessage) (protocol.Message, error) {
	var v T
	if len(data) > 0 {
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// MarshalEvent serializes an Event into a JSON envelope with type discriminator
func MarshalEvent(e Event) ([]byte, error) {
	var env EventEnvelope
	var payload any

	switch e := e.(type) {
	case CommitParameters:
		env.Type = "commit_parameters"
		payload = e.Request
	case CommitStandbyParameters:
		env.Type = "commit_standby_parameters"
		payload = e.Request
	case ApplyStandbyParameters:
		env.Type = "apply_standby_parameters"
	case CommitAlarmLimits:
		env.Type = "commit_alarm_limits"
		payload = e.Request
	case CommitStandbyAlarmLimits:
		env.Type = "commit_standby_alarm_limits"
		payload = e.Request
	case ApplyStandbyAlarmLimits:
		env.Type = "apply_standby_alarm_limits"
	case CommitSystemSettings:
		env.Type = "commit_system_settings"
		payload = e
	case CommitDisplaySetting:
		env.Type = "commit_display_setting"
		payload = e.Setting
	case StateUpdate:
		if e.Message == nil {
			return nil, fmt.Errorf("marshal StateUpdate: nil message")
		}
		msg, err := json.Marshal(e.Message)
		if err != nil {
			return nil, fmt.Errorf("marshal StateUpdate: %w", err)
		}
		env.Type = "state_update"
		payload = stateUpdateJSON{Kind: e.Message.Kind().String(), Message: msg}
	default:
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", env.Type, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}
