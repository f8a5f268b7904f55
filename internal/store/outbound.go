package store

import "ventcore/internal/protocol"

// outboundSlices maps each kind the UI transmits to the slice holding its
// current value. Reading never mutates state.
var outboundSlices = map[protocol.Kind]func(s *State) protocol.Message{
	protocol.KindParametersRequest: func(s *State) protocol.Message {
		return s.ParametersRequest.Committed
	},
	protocol.KindAlarmLimitsRequest: func(s *State) protocol.Message {
		return s.AlarmLimitsRequest.Committed
	},
	protocol.KindExpectedLogEvent: func(s *State) protocol.Message {
		return s.Log.Expected()
	},
	protocol.KindSystemSettingRequest: func(s *State) protocol.Message {
		return s.SystemSettings
	},
	protocol.KindFrontendDisplaySetting: func(s *State) protocol.Message {
		return s.Display
	},
}

// Outbound returns the message to transmit for kind. ok is false for kinds
// the UI never sends.
func Outbound(s *State, kind protocol.Kind) (protocol.Message, bool) {
	get, ok := outboundSlices[kind]
	if !ok || s == nil {
		return nil, false
	}
	return get(s), true
}

// OutboundKind reports whether kind can be scheduled for sending.
func OutboundKind(kind protocol.Kind) bool {
	_, ok := outboundSlices[kind]
	return ok
}
