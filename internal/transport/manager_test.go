package transport

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ventcore/internal/metrics"
	"ventcore/internal/protocol"
)

// fakeDevice is a websocket endpoint standing in for the ventilator.
type fakeDevice struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*websocket.Conn

	accepted chan *websocket.Conn
}

func newFakeDevice(t *testing.T) *fakeDevice {
	t.Helper()
	d := &fakeDevice{t: t, accepted: make(chan *websocket.Conn, 8)}
	d.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := d.upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		d.mu.Lock()
		d.conns = append(d.conns, conn)
		d.mu.Unlock()
		d.accepted <- conn
	}))
	t.Cleanup(func() {
		d.mu.Lock()
		for _, c := range d.conns {
			_ = c.Close()
		}
		d.mu.Unlock()
		d.srv.Close()
	})
	return d
}

func (d *fakeDevice) config() Config {
	d.t.Helper()
	host, port, err := net.SplitHostPort(d.srv.Listener.Addr().String())
	require.NoError(d.t, err)
	p, err := strconv.Atoi(port)
	require.NoError(d.t, err)

	cfg := DefaultConfig()
	cfg.Host = host
	cfg.Port = p
	cfg.RetryInterval = 20 * time.Millisecond
	return cfg
}

func (d *fakeDevice) accept() *websocket.Conn {
	d.t.Helper()
	select {
	case c := <-d.accepted:
		return c
	case <-time.After(2 * time.Second):
		d.t.Fatalf("timeout waiting for the manager to connect")
		return nil
	}
}

// stateRecorder collects state changes reported by a Manager.
type stateRecorder struct {
	mu      sync.Mutex
	changes []StateChange
}

func (r *stateRecorder) record(c StateChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *stateRecorder) opened() []StateChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []StateChange
	for _, c := range r.changes {
		if c.State == Open {
			out = append(out, c)
		}
	}
	return out
}

func (r *stateRecorder) count(s State) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.changes {
		if c.State == s {
			n++
		}
	}
	return n
}

func runManager(t *testing.T, m *Manager) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Errorf("manager did not stop")
		}
	})
	return cancel
}

func TestManagerDeliversDecodedFrames(t *testing.T) {
	dev := newFakeDevice(t)
	codec := protocol.NewCodec(nil)
	reg := prometheus.NewRegistry()
	met := metrics.New(reg)

	got := make(chan protocol.Message, 4)
	m := NewManager(dev.config(), Options{
		Codec:     codec,
		Logger:    slog.Default(),
		Metrics:   met,
		OnMessage: func(msg protocol.Message) { got <- msg },
	})
	runManager(t, m)

	conn := dev.accept()

	want := protocol.SensorMeasurements{Time: 100, Cycle: 3, Paw: 12.5}
	frame, err := codec.Encode(want)
	require.NoError(t, err)

	// Unknown tag, text frame, then a valid frame: only the last one arrives.
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x08, 0x01}))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, frame))

	select {
	case msg := <-got:
		assert.Equal(t, want, msg)
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for decoded message")
	}
	select {
	case msg := <-got:
		t.Fatalf("unexpected extra message %#v", msg)
	case <-time.After(50 * time.Millisecond):
	}

	families, err := reg.Gather()
	require.NoError(t, err)
	var decodeErrors float64
	for _, mf := range families {
		if mf.GetName() == "ventcore_codec_decode_errors_total" {
			decodeErrors = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, 1.0, decodeErrors)
}

func TestManagerSendWritesBinaryFrames(t *testing.T) {
	dev := newFakeDevice(t)
	rec := &stateRecorder{}
	m := NewManager(dev.config(), Options{OnState: rec.record})

	require.ErrorIs(t, m.Send([]byte{5}), ErrNotConnected)

	runManager(t, m)
	conn := dev.accept()
	require.Eventually(t, func() bool { return m.State() == Open }, 2*time.Second, 5*time.Millisecond)

	frame, err := protocol.NewCodec(nil).Encode(protocol.ExpectedLogEvent{ID: 7, SessionID: 2})
	require.NoError(t, err)
	require.NoError(t, m.Send(frame))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, typ)
	assert.Equal(t, frame, data)
}

func TestManagerReconnectsWithFreshSession(t *testing.T) {
	dev := newFakeDevice(t)
	rec := &stateRecorder{}
	m := NewManager(dev.config(), Options{OnState: rec.record})
	runManager(t, m)

	first := dev.accept()
	require.Eventually(t, func() bool { return len(rec.opened()) == 1 }, 2*time.Second, 5*time.Millisecond)

	// Device drops the socket; the manager must redial on its own.
	_ = first.Close()
	dev.accept()

	require.Eventually(t, func() bool { return len(rec.opened()) == 2 }, 2*time.Second, 5*time.Millisecond)
	opened := rec.opened()
	assert.NotEmpty(t, opened[0].Session)
	assert.NotEqual(t, opened[0].Session, opened[1].Session)
	assert.GreaterOrEqual(t, rec.count(Errored), 1)
	assert.GreaterOrEqual(t, rec.count(Connecting), 2)
}

func TestManagerRetriesUnreachableDevice(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = addr.Port
	cfg.RetryInterval = 10 * time.Millisecond

	rec := &stateRecorder{}
	m := NewManager(cfg, Options{OnState: rec.record})
	cancel := runManager(t, m)

	require.Eventually(t, func() bool { return rec.count(Errored) >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, m.Send([]byte{8}), ErrNotConnected)

	cancel()
	require.Eventually(t, func() bool { return m.State() == Disconnected }, 2*time.Second, 5*time.Millisecond)
}

func TestSendQueueFull(t *testing.T) {
	m := NewManager(DefaultConfig(), Options{})
	m.state = Open
	m.current = &session{id: "s", send: make(chan []byte, 1)}

	require.NoError(t, m.Send([]byte{5}))
	assert.ErrorIs(t, m.Send([]byte{5}), ErrSendQueueFull)
}

func TestConfigURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8000/", DefaultConfig().URL())

	cfg := Config{Host: "::1", Port: 9000}
	assert.Equal(t, "ws://[::1]:9000/", cfg.URL())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "errored", Errored.String())
	assert.Equal(t, "State(9)", State(9).String())
}
