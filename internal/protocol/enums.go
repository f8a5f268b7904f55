package protocol

import "fmt"

// VentilationMode selects the control strategy of the ventilator.
type VentilationMode uint32

const (
	ModePCAC VentilationMode = iota
	ModeVCAC
	ModePCSIMV
	ModeVCSIMV
	ModePSV
	ModeNIVPC
	ModeNIVPS
	ModeHFNC
)

var modeNames = []string{"pc_ac", "vc_ac", "pc_simv", "vc_simv", "psv", "niv_pc", "niv_ps", "hfnc"}

func (m VentilationMode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("mode(%d)", uint32(m))
}

func (m VentilationMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *VentilationMode) UnmarshalText(text []byte) error {
	v, err := parseEnum(string(text), modeNames, "ventilation mode")
	if err != nil {
		return err
	}
	*m = VentilationMode(v)
	return nil
}

// ThemeVariant is the display colour scheme.
type ThemeVariant uint32

const (
	ThemeDark ThemeVariant = iota
	ThemeLight
)

var themeNames = []string{"dark", "light"}

func (t ThemeVariant) String() string {
	if int(t) < len(themeNames) {
		return themeNames[t]
	}
	return fmt.Sprintf("theme(%d)", uint32(t))
}

func (t ThemeVariant) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *ThemeVariant) UnmarshalText(text []byte) error {
	v, err := parseEnum(string(text), themeNames, "theme")
	if err != nil {
		return err
	}
	*t = ThemeVariant(v)
	return nil
}

// UnitSystem selects how lengths and weights are displayed.
type UnitSystem uint32

const (
	UnitMetric UnitSystem = iota
	UnitImperial
)

var unitNames = []string{"metric", "imperial"}

func (u UnitSystem) String() string {
	if int(u) < len(unitNames) {
		return unitNames[u]
	}
	return fmt.Sprintf("unit(%d)", uint32(u))
}

func (u UnitSystem) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

func (u *UnitSystem) UnmarshalText(text []byte) error {
	v, err := parseEnum(string(text), unitNames, "unit system")
	if err != nil {
		return err
	}
	*u = UnitSystem(v)
	return nil
}

// LogEventType groups log event codes.
type LogEventType uint32

const (
	LogEventPatient LogEventType = iota
	LogEventControl
	LogEventAlarmLimits
	LogEventSystem
)

var logEventTypeNames = []string{"patient", "control", "alarm_limits", "system"}

func (t LogEventType) String() string {
	if int(t) < len(logEventTypeNames) {
		return logEventTypeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint32(t))
}

func (t LogEventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *LogEventType) UnmarshalText(text []byte) error {
	v, err := parseEnum(string(text), logEventTypeNames, "log event type")
	if err != nil {
		return err
	}
	*t = LogEventType(v)
	return nil
}

// LogEventCode identifies what a log event records. Codes below
// CodeVentilationOperationChanged are patient alarms.
type LogEventCode uint32

const (
	CodeFiO2TooLow LogEventCode = iota
	CodeFiO2TooHigh
	CodeSpO2TooLow
	CodeSpO2TooHigh
	CodeHRTooLow
	CodeHRTooHigh
	CodeRRTooLow
	CodeRRTooHigh
	CodeTVTooLow
	CodeTVTooHigh
	CodeMVTooLow
	CodeMVTooHigh
	CodePawTooLow
	CodePawTooHigh
	CodePEEPTooLow
	CodePEEPTooHigh
	CodeVentilationOperationChanged
	CodeVentilationModeChanged
	CodeFiO2SettingChanged
	CodeFlowSettingChanged
	CodePIPSettingChanged
	CodePEEPSettingChanged
	CodeVTSettingChanged
	CodeRRSettingChanged
	CodeIESettingChanged
	CodeAlarmLimitsChanged
	CodeSensorLost
	CodeBatteryLow
	CodeScreenLocked
	CodeBackendConnectionLost
)

var logEventCodeNames = []string{
	"fio2_too_low", "fio2_too_high",
	"spo2_too_low", "spo2_too_high",
	"hr_too_low", "hr_too_high",
	"rr_too_low", "rr_too_high",
	"tv_too_low", "tv_too_high",
	"mv_too_low", "mv_too_high",
	"paw_too_low", "paw_too_high",
	"peep_too_low", "peep_too_high",
	"ventilation_operation_changed",
	"ventilation_mode_changed",
	"fio2_setting_changed",
	"flow_setting_changed",
	"pip_setting_changed",
	"peep_setting_changed",
	"vt_setting_changed",
	"rr_setting_changed",
	"ie_setting_changed",
	"alarm_limits_changed",
	"sensor_lost",
	"battery_low",
	"screen_locked",
	"backend_connection_lost",
}

func (c LogEventCode) String() string {
	if int(c) < len(logEventCodeNames) {
		return logEventCodeNames[c]
	}
	return fmt.Sprintf("code(%d)", uint32(c))
}

// IsAlarm reports whether the code is a patient alarm or a technical alarm
// the operator must acknowledge.
func (c LogEventCode) IsAlarm() bool {
	return c < CodeVentilationOperationChanged || c == CodeSensorLost || c == CodeBatteryLow
}

func (c LogEventCode) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *LogEventCode) UnmarshalText(text []byte) error {
	v, err := parseEnum(string(text), logEventCodeNames, "log event code")
	if err != nil {
		return err
	}
	*c = LogEventCode(v)
	return nil
}

func parseEnum(s string, names []string, what string) (uint32, error) {
	for i, n := range names {
		if n == s {
			return uint32(i), nil
		}
	}
	var v uint32
	if _, err := fmt.Sscanf(s, "%d", &v); err == nil {
		return v, nil
	}
	return 0, fmt.Errorf("unknown %s %q", what, s)
}
