package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func sampleMessages() []Message {
	return []Message{
		SensorMeasurements{Time: 1200, Cycle: 7, FiO2: 21.5, Flow: -3.25, SpO2: 97, HR: 72, Paw: 18.5, Volume: 420},
		CycleMeasurements{Time: 1300, VT: 450, RR: 16, PEEP: 5, PIP: 24, IP: 20, VE: 7.2},
		Parameters{Time: 99, ParameterValues: ParameterValues{
			Ventilating: true, Mode: ModeVCAC, FiO2: 40, Flow: 30, PIP: 25, PEEP: 5, VT: 500, RR: 14, IE: 0.5,
		}},
		ParametersRequest{ParameterValues: ParameterValues{Mode: ModeHFNC, FiO2: 60, Flow: 45}},
		AlarmLimits{Time: 5, AlarmRanges: AlarmRanges{
			FiO2: Range{Lower: 21, Upper: 100}, SpO2: Range{Lower: 90, Upper: 100}, PEEP: Range{Lower: -2, Upper: 10},
		}},
		AlarmLimitsRequest{AlarmRanges: AlarmRanges{HR: Range{Lower: 50, Upper: 160}, MV: Range{Upper: 12}}},
		ExpectedLogEvent{ID: 42, SessionID: 3},
		NextLogEvents{NextExpected: 40, Total: 45, Remaining: 3, SessionID: 3, Elements: []LogEvent{
			{ID: 40, Time: 1700000000123, Code: CodeSpO2TooLow, Type: LogEventPatient, OldFloat: 95, NewFloat: 88},
			{},
			{ID: 41, Time: 1700000000456, Code: CodeAlarmLimitsChanged, Type: LogEventAlarmLimits,
				OldRange: Range{Lower: 90, Upper: 100}, NewRange: Range{Lower: 85, Upper: 100}},
			{ID: 42, Code: CodeVentilationModeChanged, Type: LogEventControl, OldMode: ModePCAC, NewMode: ModePSV, NewBool: true},
		}},
		ActiveLogEvents{IDs: []uint32{40, 300, 7}},
		RotaryEncoder{Step: -12, LastStepChange: 3.5, ButtonPressed: true, LastButtonDown: 3.25, LastButtonUp: 1.5},
		SystemSettingRequest{DisplayBrightness: 80, Date: 1760000000, SeqNum: 2},
		FrontendDisplaySetting{Theme: ThemeLight, Unit: UnitImperial},
	}
}

func TestCodecRoundTripEveryKind(t *testing.T) {
	c := NewCodec(nil)
	seen := map[Kind]bool{}

	for _, msg := range sampleMessages() {
		frame, err := c.Encode(msg)
		require.NoError(t, err, msg.Kind().String())
		require.Equal(t, byte(msg.Kind()), frame[0])

		got, err := c.Decode(frame)
		require.NoError(t, err, msg.Kind().String())
		assert.Equal(t, msg, got, msg.Kind().String())
		seen[msg.Kind()] = true
	}

	for _, k := range DefaultRegistry().Kinds() {
		assert.True(t, seen[k], "no round-trip sample for %s", k)
	}
}

func TestCodecRoundTripDefaults(t *testing.T) {
	c := NewCodec(nil)
	for _, s := range Schemas() {
		frame, err := c.Encode(s.Default())
		require.NoError(t, err)
		require.Len(t, frame, 1, "zero message must encode to the tag alone")

		got, err := c.Decode(frame)
		require.NoError(t, err)
		assert.Equal(t, s.Default(), got)
	}
}

func TestDecodeUnknownTag(t *testing.T) {
	c := NewCodec(nil)

	_, err := c.Decode([]byte{0x01, 0x08, 0x01})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownTag))

	var perr *ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, byte(0x01), perr.Tag)
	assert.Equal(t, "unknown_tag", perr.Reason())
}

func TestDecodeEmptyFrame(t *testing.T) {
	_, err := NewCodec(nil).Decode(nil)
	assert.ErrorIs(t, err, ErrEmptyFrame)
}

func TestDecodeTruncatedPayload(t *testing.T) {
	c := NewCodec(nil)
	frame, err := c.Encode(SensorMeasurements{Time: 1, Paw: 10})
	require.NoError(t, err)

	_, err = c.Decode(frame[:len(frame)-2])
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)

	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindSensorMeasurements, perr.Kind)
	assert.Equal(t, "malformed", perr.Reason())
}

func TestEncodeUnregisteredKind(t *testing.T) {
	c := NewCodec(NewRegistry(schemaOf[SensorMeasurements]()))

	_, err := c.Encode(ParametersRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = c.Encode(nil)
	assert.ErrorIs(t, err, ErrUnknownKind)

	frame, err := NewCodec(nil).Encode(ParametersRequest{})
	require.NoError(t, err)
	_, err = c.Decode(frame)
	assert.ErrorIs(t, err, ErrUnknownTag)
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	frame := []byte{byte(KindSensorMeasurements)}
	// unknown varint field
	frame = protowire.AppendTag(frame, 99, protowire.VarintType)
	frame = protowire.AppendVarint(frame, 123456)
	frame = protowire.AppendTag(frame, 1, protowire.VarintType)
	frame = protowire.AppendVarint(frame, 500)
	// unknown length-delimited field
	frame = protowire.AppendTag(frame, 40, protowire.BytesType)
	frame = protowire.AppendBytes(frame, []byte("future"))
	// known number, wrong wire type: skipped
	frame = protowire.AppendTag(frame, 7, protowire.VarintType)
	frame = protowire.AppendVarint(frame, 3)
	frame = protowire.AppendTag(frame, 2, protowire.VarintType)
	frame = protowire.AppendVarint(frame, 9)

	got, err := NewCodec(nil).Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, SensorMeasurements{Time: 500, Cycle: 9}, got)
}

func TestDecodeActiveLogEventsUnpacked(t *testing.T) {
	frame := []byte{byte(KindActiveLogEvents)}
	for _, id := range []uint64{4, 5, 6} {
		frame = protowire.AppendTag(frame, 1, protowire.VarintType)
		frame = protowire.AppendVarint(frame, id)
	}

	got, err := NewCodec(nil).Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, ActiveLogEvents{IDs: []uint32{4, 5, 6}}, got)
}

func TestNegativeInt32IsSignExtended(t *testing.T) {
	frame, err := NewCodec(nil).Encode(RotaryEncoder{Step: -1})
	require.NoError(t, err)

	// tag byte, field tag, then a ten-byte varint
	require.Len(t, frame, 1+1+10)
}

func TestRegistryLookup(t *testing.T) {
	reg := DefaultRegistry()

	s, ok := reg.Lookup(KindRotaryEncoder)
	require.True(t, ok)
	assert.Equal(t, "rotary_encoder", s.Name)

	s, ok = reg.LookupName("next_log_events")
	require.True(t, ok)
	assert.Equal(t, KindNextLogEvents, s.Kind)

	_, ok = reg.LookupName("nope")
	assert.False(t, ok)

	k, err := ParseKind("alarm_limits_request")
	require.NoError(t, err)
	assert.Equal(t, KindAlarmLimitsRequest, k)

	assert.Len(t, reg.Kinds(), 12)
	assert.Equal(t, KindSensorMeasurements, reg.Kinds()[0])
	assert.Equal(t, KindFrontendDisplaySetting, reg.Kinds()[11])
}
