package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"ventcore/internal/protocol"
	"ventcore/internal/store"
)

func TestBuildAction(t *testing.T) {
	line, err := buildAction("parameters", `{"mode":"vc_ac","fio2":45,"vt":450}`)
	if err != nil {
		t.Fatalf("buildAction: %v", err)
	}
	ev, err := store.UnmarshalEvent(line)
	if err != nil {
		t.Fatalf("UnmarshalEvent(%s): %v", line, err)
	}
	cp, ok := ev.(store.CommitParameters)
	if !ok {
		t.Fatalf("expected CommitParameters, got %T", ev)
	}
	if cp.Request.Mode != protocol.ModeVCAC || cp.Request.FiO2 != 45 || cp.Request.VT != 450 {
		t.Fatalf("unexpected request %+v", cp.Request)
	}

	line, err = buildAction("apply-standby-alarm-limits", "")
	if err != nil {
		t.Fatalf("buildAction: %v", err)
	}
	if string(line) != `{"type":"apply_standby_alarm_limits"}` {
		t.Fatalf("unexpected envelope %s", line)
	}
}

func TestBuildActionErrors(t *testing.T) {
	tests := []struct {
		verb, payload, want string
	}{
		{"reboot", "", "unknown command"},
		{"parameters", "", "requires a JSON payload"},
		{"system", "{", "not valid JSON"},
		{"display", `{"theme":"purple"}`, "theme"},
	}
	for _, tt := range tests {
		_, err := buildAction(tt.verb, tt.payload)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("buildAction(%q, %q): expected error containing %q, got %v", tt.verb, tt.payload, tt.want, err)
		}
	}
}

func TestSendAction(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "ventd.sock")
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	got := make(chan string, 2)
	go func() {
		for i := 0; i < 2; i++ {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			line, _ := bufio.NewReader(conn).ReadString('\n')
			got <- strings.TrimSpace(line)
			resp := IPCResponse{Status: "ok"}
			if i == 1 {
				resp = IPCResponse{Status: "error", Error: "event queue full"}
			}
			_ = json.NewEncoder(conn).Encode(resp)
			conn.Close()
		}
	}()

	if err := sendAction(socketPath, []byte(`{"type":"apply_standby_parameters"}`)); err != nil {
		t.Fatalf("sendAction: %v", err)
	}
	if line := <-got; line != `{"type":"apply_standby_parameters"}` {
		t.Fatalf("daemon received %q", line)
	}

	err = sendAction(socketPath, []byte(`{"type":"apply_standby_parameters"}`))
	if err == nil || !strings.Contains(err.Error(), "event queue full") {
		t.Fatalf("expected daemon error, got %v", err)
	}
}

func TestPrintState(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/state" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"version":3}`))
	}))
	defer ts.Close()

	var buf bytes.Buffer
	if err := printState(strings.TrimPrefix(ts.URL, "http://"), &buf); err != nil {
		t.Fatalf("printState: %v", err)
	}
	if !strings.Contains(buf.String(), `"version": 3`) {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
