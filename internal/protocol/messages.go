package protocol

// Message is a typed record exchanged with the device. The set of
// implementations is closed: only the structs in this file satisfy it.
type Message interface {
	Kind() Kind
	marshal(b []byte) []byte
}

// ---------------------------------------------------------------------------
// Measurements (device -> UI)
// ---------------------------------------------------------------------------

// SensorMeasurements is the high-rate sample stream. Time is the device clock
// in milliseconds; Cycle is the breath counter.
type SensorMeasurements struct {
	Time   uint32  `json:"time"`
	Cycle  uint32  `json:"cycle"`
	FiO2   float32 `json:"fio2"`
	Flow   float32 `json:"flow"`
	SpO2   float32 `json:"spo2"`
	HR     float32 `json:"hr"`
	Paw    float32 `json:"paw"`
	Volume float32 `json:"volume"`
}

func (SensorMeasurements) Kind() Kind { return KindSensorMeasurements }

func (m SensorMeasurements) marshal(b []byte) []byte {
	b = appendUint32(b, 1, m.Time)
	b = appendUint32(b, 2, m.Cycle)
	b = appendFloat(b, 3, m.FiO2)
	b = appendFloat(b, 4, m.Flow)
	b = appendFloat(b, 5, m.SpO2)
	b = appendFloat(b, 6, m.HR)
	b = appendFloat(b, 7, m.Paw)
	return appendFloat(b, 8, m.Volume)
}

func (m *SensorMeasurements) unmarshal(b []byte) error {
	return walkFields(b, func(f field) int {
		switch f.num {
		case 1:
			return f.uint32(&m.Time)
		case 2:
			return f.uint32(&m.Cycle)
		case 3:
			return f.float(&m.FiO2)
		case 4:
			return f.float(&m.Flow)
		case 5:
			return f.float(&m.SpO2)
		case 6:
			return f.float(&m.HR)
		case 7:
			return f.float(&m.Paw)
		case 8:
			return f.float(&m.Volume)
		}
		return 0
	})
}

// CycleMeasurements carries per-breath aggregates.
type CycleMeasurements struct {
	Time uint32  `json:"time"`
	VT   float32 `json:"vt"`
	RR   float32 `json:"rr"`
	PEEP float32 `json:"peep"`
	PIP  float32 `json:"pip"`
	IP   float32 `json:"ip"`
	VE   float32 `json:"ve"`
}

func (CycleMeasurements) Kind() Kind { return KindCycleMeasurements }

func (m CycleMeasurements) marshal(b []byte) []byte {
	b = appendUint32(b, 1, m.Time)
	b = appendFloat(b, 2, m.VT)
	b = appendFloat(b, 3, m.RR)
	b = appendFloat(b, 4, m.PEEP)
	b = appendFloat(b, 5, m.PIP)
	b = appendFloat(b, 6, m.IP)
	return appendFloat(b, 7, m.VE)
}

func (m *CycleMeasurements) unmarshal(b []byte) error {
	return walkFields(b, func(f field) int {
		switch f.num {
		case 1:
			return f.uint32(&m.Time)
		case 2:
			return f.float(&m.VT)
		case 3:
			return f.float(&m.RR)
		case 4:
			return f.float(&m.PEEP)
		case 5:
			return f.float(&m.PIP)
		case 6:
			return f.float(&m.IP)
		case 7:
			return f.float(&m.VE)
		}
		return 0
	})
}

// ---------------------------------------------------------------------------
// Parameters
// ---------------------------------------------------------------------------

// ParameterValues are the operator-settable ventilation targets shared by
// Parameters (device report) and ParametersRequest (UI intent).
type ParameterValues struct {
	Ventilating bool            `json:"ventilating"`
	Mode        VentilationMode `json:"mode"`
	FiO2        float32         `json:"fio2"`
	Flow        float32         `json:"flow"`
	PIP         float32         `json:"pip"`
	PEEP        float32         `json:"peep"`
	VT          float32         `json:"vt"`
	RR          float32         `json:"rr"`
	IE          float32         `json:"ie"`
}

// marshalAt encodes the values starting at field number first.
func (p ParameterValues) marshalAt(b []byte, first int32) []byte {
	n := func(i int32) protoNumber { return protoNumber(first + i) }
	b = appendBool(b, n(0), p.Ventilating)
	b = appendUint32(b, n(1), uint32(p.Mode))
	b = appendFloat(b, n(2), p.FiO2)
	b = appendFloat(b, n(3), p.Flow)
	b = appendFloat(b, n(4), p.PIP)
	b = appendFloat(b, n(5), p.PEEP)
	b = appendFloat(b, n(6), p.VT)
	b = appendFloat(b, n(7), p.RR)
	return appendFloat(b, n(8), p.IE)
}

func (p *ParameterValues) field(f field, first int32) int {
	switch int32(f.num) - first {
	case 0:
		return f.bool(&p.Ventilating)
	case 1:
		return f.uint32((*uint32)(&p.Mode))
	case 2:
		return f.float(&p.FiO2)
	case 3:
		return f.float(&p.Flow)
	case 4:
		return f.float(&p.PIP)
	case 5:
		return f.float(&p.PEEP)
	case 6:
		return f.float(&p.VT)
	case 7:
		return f.float(&p.RR)
	case 8:
		return f.float(&p.IE)
	}
	return 0
}

// Parameters is the device's report of the targets it is running with.
type Parameters struct {
	Time uint32 `json:"time"`
	ParameterValues
}

func (Parameters) Kind() Kind { return KindParameters }

func (m Parameters) marshal(b []byte) []byte {
	b = appendUint32(b, 1, m.Time)
	return m.ParameterValues.marshalAt(b, 2)
}

func (m *Parameters) unmarshal(b []byte) error {
	return walkFields(b, func(f field) int {
		if f.num == 1 {
			return f.uint32(&m.Time)
		}
		return m.ParameterValues.field(f, 2)
	})
}

// ParametersRequest is the committed operator intent sent to the device.
type ParametersRequest struct {
	ParameterValues
}

func (ParametersRequest) Kind() Kind { return KindParametersRequest }

func (m ParametersRequest) marshal(b []byte) []byte {
	return m.ParameterValues.marshalAt(b, 1)
}

func (m *ParametersRequest) unmarshal(b []byte) error {
	return walkFields(b, func(f field) int {
		return m.ParameterValues.field(f, 1)
	})
}

// ---------------------------------------------------------------------------
// Alarm limits
// ---------------------------------------------------------------------------

// Range is a closed [Lower, Upper] alarm band.
type Range struct {
	Lower int32 `json:"lower"`
	Upper int32 `json:"upper"`
}

func (r Range) marshal(b []byte) []byte {
	b = appendInt32(b, 1, r.Lower)
	return appendInt32(b, 2, r.Upper)
}

func (r *Range) unmarshal(b []byte) error {
	return walkFields(b, func(f field) int {
		switch f.num {
		case 1:
			return f.int32(&r.Lower)
		case 2:
			return f.int32(&r.Upper)
		}
		return 0
	})
}

// Contains reports whether v lies within the band.
func (r Range) Contains(v float32) bool {
	return v >= float32(r.Lower) && v <= float32(r.Upper)
}

// AlarmRanges holds one band per monitored quantity.
type AlarmRanges struct {
	FiO2 Range `json:"fio2"`
	SpO2 Range `json:"spo2"`
	HR   Range `json:"hr"`
	Flow Range `json:"flow"`
	RR   Range `json:"rr"`
	TV   Range `json:"tv"`
	MV   Range `json:"mv"`
	Paw  Range `json:"paw"`
	PEEP Range `json:"peep"`
}

func (a *AlarmRanges) ranges() []*Range {
	return []*Range{&a.FiO2, &a.SpO2, &a.HR, &a.Flow, &a.RR, &a.TV, &a.MV, &a.Paw, &a.PEEP}
}

func (a AlarmRanges) marshalAt(b []byte, first int32) []byte {
	for i, r := range a.ranges() {
		b = appendMessage(b, protoNumber(first+int32(i)), *r)
	}
	return b
}

func (a *AlarmRanges) field(f field, first int32) int {
	rs := a.ranges()
	i := int32(f.num) - first
	if i < 0 || int(i) >= len(rs) {
		return 0
	}
	return f.message(rs[i])
}

// AlarmLimits is the device's report of the active alarm bands.
type AlarmLimits struct {
	Time uint32 `json:"time"`
	AlarmRanges
}

func (AlarmLimits) Kind() Kind { return KindAlarmLimits }

func (m AlarmLimits) marshal(b []byte) []byte {
	b = appendUint32(b, 1, m.Time)
	return m.AlarmRanges.marshalAt(b, 2)
}

func (m *AlarmLimits) unmarshal(b []byte) error {
	return walkFields(b, func(f field) int {
		if f.num == 1 {
			return f.uint32(&m.Time)
		}
		return m.AlarmRanges.field(f, 2)
	})
}

// AlarmLimitsRequest is the committed operator intent for alarm bands.
type AlarmLimitsRequest struct {
	AlarmRanges
}

func (AlarmLimitsRequest) Kind() Kind { return KindAlarmLimitsRequest }

func (m AlarmLimitsRequest) marshal(b []byte) []byte {
	return m.AlarmRanges.marshalAt(b, 1)
}

func (m *AlarmLimitsRequest) unmarshal(b []byte) error {
	return walkFields(b, func(f field) int {
		return m.AlarmRanges.field(f, 1)
	})
}

// ---------------------------------------------------------------------------
// Log events
// ---------------------------------------------------------------------------

// LogEvent is one discrete entry of the device log. Which Old/New pair is
// meaningful depends on Code.
type LogEvent struct {
	ID        uint32          `json:"id"`
	Time      uint64          `json:"time"`
	Code      LogEventCode    `json:"code"`
	Type      LogEventType    `json:"type"`
	OldFloat  float32         `json:"old_float,omitempty"`
	NewFloat  float32         `json:"new_float,omitempty"`
	OldUint32 uint32          `json:"old_uint32,omitempty"`
	NewUint32 uint32          `json:"new_uint32,omitempty"`
	OldBool   bool            `json:"old_bool,omitempty"`
	NewBool   bool            `json:"new_bool,omitempty"`
	OldRange  Range           `json:"old_range"`
	NewRange  Range           `json:"new_range"`
	OldMode   VentilationMode `json:"old_mode"`
	NewMode   VentilationMode `json:"new_mode"`
}

func (e LogEvent) marshal(b []byte) []byte {
	b = appendUint32(b, 1, e.ID)
	b = appendUint64(b, 2, e.Time)
	b = appendUint32(b, 3, uint32(e.Code))
	b = appendUint32(b, 4, uint32(e.Type))
	b = appendFloat(b, 5, e.OldFloat)
	b = appendFloat(b, 6, e.NewFloat)
	b = appendUint32(b, 7, e.OldUint32)
	b = appendUint32(b, 8, e.NewUint32)
	b = appendBool(b, 9, e.OldBool)
	b = appendBool(b, 10, e.NewBool)
	b = appendMessage(b, 11, e.OldRange)
	b = appendMessage(b, 12, e.NewRange)
	b = appendUint32(b, 13, uint32(e.OldMode))
	return appendUint32(b, 14, uint32(e.NewMode))
}

func (e *LogEvent) unmarshal(b []byte) error {
	return walkFields(b, func(f field) int {
		switch f.num {
		case 1:
			return f.uint32(&e.ID)
		case 2:
			return f.uint64(&e.Time)
		case 3:
			return f.uint32((*uint32)(&e.Code))
		case 4:
			return f.uint32((*uint32)(&e.Type))
		case 5:
			return f.float(&e.OldFloat)
		case 6:
			return f.float(&e.NewFloat)
		case 7:
			return f.uint32(&e.OldUint32)
		case 8:
			return f.uint32(&e.NewUint32)
		case 9:
			return f.bool(&e.OldBool)
		case 10:
			return f.bool(&e.NewBool)
		case 11:
			return f.message(&e.OldRange)
		case 12:
			return f.message(&e.NewRange)
		case 13:
			return f.uint32((*uint32)(&e.OldMode))
		case 14:
			return f.uint32((*uint32)(&e.NewMode))
		}
		return 0
	})
}

// ExpectedLogEvent tells the device which log id the UI wants next.
type ExpectedLogEvent struct {
	ID        uint32 `json:"id"`
	SessionID uint32 `json:"session_id"`
}

func (ExpectedLogEvent) Kind() Kind { return KindExpectedLogEvent }

func (m ExpectedLogEvent) marshal(b []byte) []byte {
	b = appendUint32(b, 1, m.ID)
	return appendUint32(b, 2, m.SessionID)
}

func (m *ExpectedLogEvent) unmarshal(b []byte) error {
	return walkFields(b, func(f field) int {
		switch f.num {
		case 1:
			return f.uint32(&m.ID)
		case 2:
			return f.uint32(&m.SessionID)
		}
		return 0
	})
}

// NextLogEvents is a batch of log events starting at NextExpected.
type NextLogEvents struct {
	NextExpected uint32     `json:"next_expected"`
	Total        uint32     `json:"total"`
	Remaining    uint32     `json:"remaining"`
	Elements     []LogEvent `json:"elements"`
	SessionID    uint32     `json:"session_id"`
}

func (NextLogEvents) Kind() Kind { return KindNextLogEvents }

func (m NextLogEvents) marshal(b []byte) []byte {
	b = appendUint32(b, 1, m.NextExpected)
	b = appendUint32(b, 2, m.Total)
	b = appendUint32(b, 3, m.Remaining)
	for _, e := range m.Elements {
		b = appendRepeatedMessage(b, 4, e)
	}
	return appendUint32(b, 5, m.SessionID)
}

func (m *NextLogEvents) unmarshal(b []byte) error {
	return walkFields(b, func(f field) int {
		switch f.num {
		case 1:
			return f.uint32(&m.NextExpected)
		case 2:
			return f.uint32(&m.Total)
		case 3:
			return f.uint32(&m.Remaining)
		case 4:
			var e LogEvent
			n := f.message(&e)
			if n > 0 {
				m.Elements = append(m.Elements, e)
			}
			return n
		case 5:
			return f.uint32(&m.SessionID)
		}
		return 0
	})
}

// ActiveLogEvents lists the ids of alarms that are currently active.
type ActiveLogEvents struct {
	IDs []uint32 `json:"ids"`
}

func (ActiveLogEvents) Kind() Kind { return KindActiveLogEvents }

func (m ActiveLogEvents) marshal(b []byte) []byte {
	return appendPackedUint32(b, 1, m.IDs)
}

func (m *ActiveLogEvents) unmarshal(b []byte) error {
	return walkFields(b, func(f field) int {
		if f.num == 1 {
			return f.uint32s(&m.IDs)
		}
		return 0
	})
}

// ---------------------------------------------------------------------------
// Frontend-originated kinds
// ---------------------------------------------------------------------------

// RotaryEncoder is the state of the front-panel knob. Step is an absolute
// counter; times are seconds since the encoder process started.
type RotaryEncoder struct {
	Step           int32   `json:"step"`
	LastStepChange float32 `json:"last_step_change"`
	ButtonPressed  bool    `json:"button_pressed"`
	LastButtonDown float32 `json:"last_button_down"`
	LastButtonUp   float32 `json:"last_button_up"`
}

func (RotaryEncoder) Kind() Kind { return KindRotaryEncoder }

func (m RotaryEncoder) marshal(b []byte) []byte {
	b = appendInt32(b, 1, m.Step)
	b = appendFloat(b, 2, m.LastStepChange)
	b = appendBool(b, 3, m.ButtonPressed)
	b = appendFloat(b, 4, m.LastButtonDown)
	return appendFloat(b, 5, m.LastButtonUp)
}

func (m *RotaryEncoder) unmarshal(b []byte) error {
	return walkFields(b, func(f field) int {
		switch f.num {
		case 1:
			return f.int32(&m.Step)
		case 2:
			return f.float(&m.LastStepChange)
		case 3:
			return f.bool(&m.ButtonPressed)
		case 4:
			return f.float(&m.LastButtonDown)
		case 5:
			return f.float(&m.LastButtonUp)
		}
		return 0
	})
}

// SystemSettingRequest carries display brightness and the wall clock the
// operator set. Date is unix seconds. SeqNum lets the device discard stale
// requests.
type SystemSettingRequest struct {
	DisplayBrightness uint32 `json:"display_brightness"`
	Date              uint32 `json:"date"`
	SeqNum            uint32 `json:"seq_num"`
}

func (SystemSettingRequest) Kind() Kind { return KindSystemSettingRequest }

func (m SystemSettingRequest) marshal(b []byte) []byte {
	b = appendUint32(b, 1, m.DisplayBrightness)
	b = appendUint32(b, 2, m.Date)
	return appendUint32(b, 3, m.SeqNum)
}

func (m *SystemSettingRequest) unmarshal(b []byte) error {
	return walkFields(b, func(f field) int {
		switch f.num {
		case 1:
			return f.uint32(&m.DisplayBrightness)
		case 2:
			return f.uint32(&m.Date)
		case 3:
			return f.uint32(&m.SeqNum)
		}
		return 0
	})
}

// FrontendDisplaySetting is the UI's theme and unit choice.
type FrontendDisplaySetting struct {
	Theme ThemeVariant `json:"theme"`
	Unit  UnitSystem   `json:"unit"`
}

func (FrontendDisplaySetting) Kind() Kind { return KindFrontendDisplaySetting }

func (m FrontendDisplaySetting) marshal(b []byte) []byte {
	b = appendUint32(b, 1, uint32(m.Theme))
	return appendUint32(b, 2, uint32(m.Unit))
}

func (m *FrontendDisplaySetting) unmarshal(b []byte) error {
	return walkFields(b, func(f field) int {
		switch f.num {
		case 1:
			return f.uint32((*uint32)(&m.Theme))
		case 2:
			return f.uint32((*uint32)(&m.Unit))
		}
		return 0
	})
}
