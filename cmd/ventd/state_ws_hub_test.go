package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"ventcore/internal/metrics"
	"ventcore/internal/protocol"
	"ventcore/internal/store"
)

// NOTE: The hub tests avoid network I/O. Clients are built with a nil
// websocket.Conn; the hub guards against nil when evicting.

// newTestHub returns a hub with small buffers for deterministic tests.
func newTestHub(t *testing.T, m *metrics.Metrics, sendBuf int, broadcastBuf int) *Hub {
	t.Helper()
	return NewHub(slog.Default(), m, HubConfig{
		SendBuf:      sendBuf,
		BroadcastBuf: broadcastBuf,
	})
}

func newTestClient(hub *Hub, name string, buf int) *Client {
	return &Client{
		hub:        hub,
		send:       make(chan []byte, buf),
		remoteAddr: name,
		logger:     slog.Default(),
	}
}

func registerClient(t *testing.T, hub *Hub, c *Client) {
	t.Helper()
	hub.register <- c
	waitUntil(t, 500*time.Millisecond, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[c]
		return ok
	}, c.remoteAddr+" not registered in time")
}

func runHub(t *testing.T, hub *Hub) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Errorf("timeout waiting for hub to stop")
		}
	})
	return cancel
}

func TestHub_BroadcastDeliveredToAllClients(t *testing.T) {
	reg := prometheus.NewRegistry()
	met := metrics.New(reg)
	hub := newTestHub(t, met, 4, 8)
	runHub(t, hub)

	c1 := newTestClient(hub, "c1", 4)
	c2 := newTestClient(hub, "c2", 4)
	registerClient(t, hub, c1)
	registerClient(t, hub, c2)

	if got := gaugeValue(t, met.UIClients); got != 2 {
		t.Fatalf("ui_clients = %v, want 2", got)
	}

	msg := []byte(`{"type":"connection_changed","data":{"connected":true}}`)

	// Avoid BroadcastBytes() here; it is non-blocking and may drop.
	hub.broadcast <- msg

	for _, c := range []*Client{c1, c2} {
		select {
		case got := <-c.send:
			if string(got) != string(msg) {
				t.Fatalf("%s got %q, want %q", c.remoteAddr, string(got), string(msg))
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timeout waiting for %s to receive broadcast", c.remoteAddr)
		}
	}
}

func TestHub_SlowClientDisconnectedOnFullSendBuffer(t *testing.T) {
	reg := prometheus.NewRegistry()
	met := metrics.New(reg)
	hub := newTestHub(t, met, 1, 8)
	runHub(t, hub)

	slow := newTestClient(hub, "slow", 1)
	fast := newTestClient(hub, "fast", 8)
	registerClient(t, hub, slow)
	registerClient(t, hub, fast)

	// Pre-fill slow client buffer to simulate it being stuck.
	slow.send <- []byte(`"already queued"`)

	msg := []byte(`{"type":"state","data":{}}`)
	hub.broadcast <- msg

	select {
	case got := <-fast.send:
		if string(got) != string(msg) {
			t.Fatalf("fast client got %q, want %q", string(got), string(msg))
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for fast client to receive broadcast")
	}

	select {
	case <-slow.send:
	default:
	}
	waitUntil(t, 750*time.Millisecond, func() bool {
		select {
		case _, ok := <-slow.send:
			return !ok
		default:
			return false
		}
	}, "expected slow send channel to be closed")

	waitUntil(t, 500*time.Millisecond, func() bool {
		return gaugeValue(t, met.UIClients) == 1
	}, "ui_clients gauge not updated after eviction")

	// Sending to an evicted client must not panic.
	if slow.trySend([]byte("x")) {
		t.Fatalf("trySend on a closed client should fail")
	}
}

func TestClientDispatch(t *testing.T) {
	events := make(chan store.Event, 1)
	c := newTestClient(nil, "ui", 4)
	c.events = events

	c.dispatch([]byte(`{"type":"apply_standby_parameters"}`))
	select {
	case ev := <-events:
		if _, ok := ev.(store.ApplyStandbyParameters); !ok {
			t.Fatalf("expected ApplyStandbyParameters, got %T", ev)
		}
	default:
		t.Fatalf("expected dispatched event")
	}

	c.dispatch([]byte(`{"type":"nonsense"}`))
	select {
	case raw := <-c.send:
		var env struct {
			Type string      `json:"type"`
			Data wsErrorData `json:"data"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("unmarshal error frame: %v", err)
		}
		if env.Type != "error" || !strings.Contains(env.Data.Error, "unknown event type") {
			t.Fatalf("unexpected error frame %s", raw)
		}
	default:
		t.Fatalf("expected an error frame for an unknown action")
	}

	// Full daemon queue is reported, not blocked on.
	events <- store.Tick{}
	c.dispatch([]byte(`{"type":"apply_standby_alarm_limits"}`))
	select {
	case raw := <-c.send:
		if !strings.Contains(string(raw), "event queue full") {
			t.Fatalf("unexpected frame %s", raw)
		}
	default:
		t.Fatalf("expected an error frame for a full queue")
	}
}

func TestConvertBroadcast(t *testing.T) {
	at := time.Unix(100, 0).UTC()

	if _, ok := convertBroadcast(uiBroadcast{Broadcast: store.BroadcastSnapshot{Version: 1, At: at}}); ok {
		t.Fatalf("snapshot broadcast without a snapshot should be skipped")
	}

	snap := store.Snapshot{Version: 3}
	ev, ok := convertBroadcast(uiBroadcast{Broadcast: store.BroadcastSnapshot{Version: 3, At: at}, Snapshot: &snap})
	if !ok || ev.Type != "state" || ev.Data != &snap || !ev.At.Equal(at) {
		t.Fatalf("unexpected state event %+v", ev)
	}

	ev, ok = convertBroadcast(uiBroadcast{Broadcast: store.BroadcastConnectionChanged{
		Connection: store.Connection{Connected: true},
		At:         at,
	}})
	if !ok || ev.Type != "connection_changed" {
		t.Fatalf("unexpected connection event %+v", ev)
	}

	ev, ok = convertBroadcast(uiBroadcast{Broadcast: store.BroadcastLogEvents{
		Events:       []protocol.LogEvent{{ID: 4}},
		NextExpected: 5,
		At:           at,
	}})
	if !ok || ev.Type != "log_events" {
		t.Fatalf("unexpected log event %+v", ev)
	}
	data := ev.Data.(wsLogEventsData)
	if len(data.Events) != 1 || data.NextExpected != 5 || data.Reset {
		t.Fatalf("unexpected log payload %+v", data)
	}
}

func TestRunBroadcasterCoalescesState(t *testing.T) {
	hub := newTestHub(t, nil, 16, 16)
	runHub(t, hub)
	c := newTestClient(hub, "ui", 16)
	registerClient(t, hub, c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := make(chan uiBroadcast, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		RunBroadcaster(ctx, hub, src, slog.Default())
	}()

	s1, s2 := store.Snapshot{Version: 1}, store.Snapshot{Version: 2}
	src <- uiBroadcast{Broadcast: store.BroadcastSnapshot{Version: 1}, Snapshot: &s1}
	src <- uiBroadcast{Broadcast: store.BroadcastSnapshot{Version: 2}, Snapshot: &s2}

	frame := readFrame(t, c)
	if frame.Type != "state" || frame.Data["version"] != float64(2) {
		t.Fatalf("expected only the latest state, got %+v", frame)
	}

	// A pending state frame is flushed ahead of an immediate event.
	s3 := store.Snapshot{Version: 3}
	src <- uiBroadcast{Broadcast: store.BroadcastSnapshot{Version: 3}, Snapshot: &s3}
	src <- uiBroadcast{Broadcast: store.BroadcastConnectionChanged{Connection: store.Connection{Lost: true}}}

	if frame := readFrame(t, c); frame.Type != "state" || frame.Data["version"] != float64(3) {
		t.Fatalf("expected pending state first, got %+v", frame)
	}
	if frame := readFrame(t, c); frame.Type != "connection_changed" {
		t.Fatalf("expected connection_changed, got %+v", frame)
	}

	close(src)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("broadcaster did not stop after source closed")
	}
}

type testFrame struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func readFrame(t *testing.T, c *Client) testFrame {
	t.Helper()
	select {
	case raw := <-c.send:
		var f testFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			t.Fatalf("unmarshal frame %s: %v", raw, err)
		}
		return f
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for frame")
		return testFrame{}
	}
}

// fakeDaemon answers snapshot requests and records every other event.
func fakeDaemon(ctx context.Context, events <-chan store.Event, snap store.Snapshot, other chan<- store.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if req, ok := ev.(store.RequestStateSnapshot); ok {
				req.Reply <- snap
				continue
			}
			other <- ev
		}
	}
}

func TestStateWS_InitAndActions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan store.Event, 8)
	actions := make(chan store.Event, 8)
	go fakeDaemon(ctx, events, store.Snapshot{Version: 42}, actions)

	srv := NewServer(slog.Default(), nil, events, ServerConfig{SnapshotTimeout: time.Second})
	go srv.Hub().Run(ctx)

	mux := http.NewServeMux()
	srv.Register(mux, "/ws")
	ts := httptest.NewServer(mux)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var init testFrame
	if err := conn.ReadJSON(&init); err != nil {
		t.Fatalf("read state_init: %v", err)
	}
	if init.Type != "state_init" || init.Data["version"] != float64(42) {
		t.Fatalf("unexpected init frame %+v", init)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"commit_display_setting","data":{"theme":"light","unit":"imperial"}}`)); err != nil {
		t.Fatalf("write action: %v", err)
	}
	select {
	case ev := <-actions:
		ds, ok := ev.(store.CommitDisplaySetting)
		if !ok {
			t.Fatalf("expected CommitDisplaySetting, got %T", ev)
		}
		if ds.Setting.Theme != protocol.ThemeLight || ds.Setting.Unit != protocol.UnitImperial {
			t.Fatalf("unexpected display setting %+v", ds.Setting)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for action to reach the daemon")
	}
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("read gauge: %v", err)
	}
	return m.GetGauge().GetValue()
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}
