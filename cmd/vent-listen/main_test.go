package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"ventcore/internal/protocol"
)

func TestParseKinds(t *testing.T) {
	filter, err := parseKinds("")
	if err != nil || filter != nil {
		t.Fatalf("empty list: got %v, %v", filter, err)
	}

	filter, err = parseKinds("sensor_measurements, parameters")
	if err != nil {
		t.Fatalf("parseKinds: %v", err)
	}
	if !filter[protocol.KindSensorMeasurements] || !filter[protocol.KindParameters] || len(filter) != 2 {
		t.Fatalf("unexpected filter %v", filter)
	}

	if _, err := parseKinds("sensor_measurements,bogus"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestPrintFrame(t *testing.T) {
	codec := protocol.NewCodec(nil)
	frame, err := codec.Encode(protocol.CycleMeasurements{Time: 10, VT: 480})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var buf bytes.Buffer
	if err := printFrame(&buf, codec, frame, nil, false); err != nil {
		t.Fatalf("printFrame: %v", err)
	}
	var line struct {
		Kind    string         `json:"kind"`
		Message map[string]any `json:"message"`
	}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal %q: %v", buf.String(), err)
	}
	if line.Kind != "cycle_measurements" || line.Message["vt"] != float64(480) {
		t.Fatalf("unexpected line %s", buf.String())
	}

	// Filtered out kinds print nothing.
	buf.Reset()
	filter := map[protocol.Kind]bool{protocol.KindParameters: true}
	if err := printFrame(&buf, codec, frame, filter, false); err != nil {
		t.Fatalf("printFrame: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}

	// Undecodable frames are errors unless -raw is set.
	bad := []byte{0xff, 0x00}
	if err := printFrame(&buf, codec, bad, nil, false); err == nil {
		t.Fatalf("expected decode error")
	}
	if err := printFrame(&buf, codec, bad, nil, true); err != nil {
		t.Fatalf("printFrame raw: %v", err)
	}
	if !strings.Contains(buf.String(), `"hex":"ff00"`) {
		t.Fatalf("expected hex dump, got %q", buf.String())
	}
}
