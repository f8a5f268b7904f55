package protocol

import "fmt"

// Kind identifies a message schema on the wire. The numeric value is the
// leading tag byte of every frame and must match the device firmware.
type Kind uint8

const (
	KindSensorMeasurements     Kind = 2
	KindCycleMeasurements      Kind = 3
	KindParameters             Kind = 4
	KindParametersRequest      Kind = 5
	KindAlarmLimits            Kind = 6
	KindAlarmLimitsRequest     Kind = 7
	KindExpectedLogEvent       Kind = 8
	KindNextLogEvents          Kind = 9
	KindActiveLogEvents        Kind = 10
	KindRotaryEncoder          Kind = 128
	KindSystemSettingRequest   Kind = 129
	KindFrontendDisplaySetting Kind = 130
)

var kindNames = map[Kind]string{
	KindSensorMeasurements:     "sensor_measurements",
	KindCycleMeasurements:      "cycle_measurements",
	KindParameters:             "parameters",
	KindParametersRequest:      "parameters_request",
	KindAlarmLimits:            "alarm_limits",
	KindAlarmLimitsRequest:     "alarm_limits_request",
	KindExpectedLogEvent:       "expected_log_event",
	KindNextLogEvents:          "next_log_events",
	KindActiveLogEvents:        "active_log_events",
	KindRotaryEncoder:          "rotary_encoder",
	KindSystemSettingRequest:   "system_setting_request",
	KindFrontendDisplaySetting: "frontend_display_setting",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind resolves a snake_case kind name (as used in config files and
// metrics labels) to its Kind.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown message kind %q", name)
}
