// Package transport owns the WebSocket connection to the device.
//
// A Manager dials the device, runs one read pump and one write pump per
// socket, and redials after a fixed delay whenever the socket fails. It never
// gives up while its context is alive. Decoded messages and state changes are
// reported through callbacks; the Manager itself holds no application state.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"ventcore/internal/metrics"
	"ventcore/internal/protocol"
)

var (
	// ErrNotConnected is returned by Send when no socket is open.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrSendQueueFull is returned by Send when the session cannot take
	// another frame without blocking.
	ErrSendQueueFull = errors.New("transport: send queue full")
)

// State is the connection state of a Manager.
type State int

const (
	Disconnected State = iota
	Connecting
	Open
	Errored
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Errored:
		return "errored"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// StateChange is reported to Options.OnState on every transition.
type StateChange struct {
	State State
	// Session identifies the socket; empty unless State is Open or Errored.
	Session string
	Err     error
}

// Config is the device endpoint and the connection policy.
type Config struct {
	Host string
	Port int
	Path string

	// RetryInterval is the fixed delay between a failed socket and the next dial.
	RetryInterval    time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// SendQueue bounds the frames waiting for the write pump.
	SendQueue int
}

func DefaultConfig() Config {
	return Config{
		Host:             "localhost",
		Port:             8000,
		Path:             "/",
		RetryInterval:    1 * time.Second,
		HandshakeTimeout: 2 * time.Second,
		WriteTimeout:     1 * time.Second,
		SendQueue:        16,
	}
}

// URL returns the ws:// endpoint of the device.
func (c Config) URL() string {
	path := c.Path
	if path == "" {
		path = "/"
	}
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   path,
	}
	return u.String()
}

// Options wires a Manager into its surroundings. Callbacks run on the
// Manager's goroutines and must not block for long.
type Options struct {
	Codec   *protocol.Codec
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	OnMessage func(protocol.Message)
	OnState   func(StateChange)
}

// Manager maintains the device connection.
type Manager struct {
	cfg  Config
	opts Options

	mu      sync.Mutex
	state   State
	current *session
}

// session is one socket. It is discarded, never reused, when the socket fails.
type session struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// NewManager returns a Manager in the Disconnected state. Call Run to connect.
func NewManager(cfg Config, opts Options) *Manager {
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = DefaultConfig().SendQueue
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultConfig().RetryInterval
	}
	if opts.Codec == nil {
		opts.Codec = protocol.NewCodec(nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{cfg: cfg, opts: opts, state: Disconnected}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Send queues an encoded frame on the open socket. It never blocks: with no
// open socket it returns ErrNotConnected, and with a full queue
// ErrSendQueueFull. Missed frames are not replayed later.
func (m *Manager) Send(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil || m.state != Open {
		return ErrNotConnected
	}
	select {
	case m.current.send <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Run connects and reconnects until ctx is canceled. It always returns nil.
func (m *Manager) Run(ctx context.Context) error {
	log := m.opts.Logger
	log.Info("device transport starting", "url", m.cfg.URL(), "retry_interval", m.cfg.RetryInterval)

	for {
		m.setState(StateChange{State: Connecting})
		m.opts.Metrics.RecordReconnectAttempt()

		id, err := m.runSession(ctx)
		if ctx.Err() != nil {
			m.setState(StateChange{State: Disconnected})
			log.Info("device transport stopping (context canceled)")
			return nil
		}

		m.setState(StateChange{State: Errored, Session: id, Err: err})
		log.Warn("device connection failed; retrying", "error", err, "session", id, "retry_in", m.cfg.RetryInterval)

		t := time.NewTimer(m.cfg.RetryInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			m.setState(StateChange{State: Disconnected})
			log.Info("device transport stopping (context canceled)")
			return nil
		case <-t.C:
		}
	}
}

// runSession dials one socket and serves it until either pump fails. It
// returns the session id (empty if the dial failed) and the cause.
func (m *Manager) runSession(ctx context.Context) (string, error) {
	d := websocket.Dialer{
		HandshakeTimeout: m.cfg.HandshakeTimeout,
	}
	conn, _, err := d.DialContext(ctx, m.cfg.URL(), nil)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", m.cfg.URL(), err)
	}

	s := &session{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, m.cfg.SendQueue),
	}

	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
	m.setState(StateChange{State: Open, Session: s.id})
	m.opts.Logger.Info("device connected", "url", m.cfg.URL(), "session", s.id)

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Closing the socket unblocks ReadMessage in the read pump.
	go func() {
		<-sctx.Done()
		_ = conn.Close()
	}()

	errs := make(chan error, 2)
	go func() { errs <- m.writePump(sctx, s) }()
	go func() { errs <- m.readPump(s) }()

	err = <-errs
	cancel()
	<-errs

	m.mu.Lock()
	if m.current == s {
		m.current = nil
	}
	m.mu.Unlock()

	return s.id, err
}

// readPump decodes binary frames and hands them to OnMessage. Frames that do
// not decode are logged, counted and dropped.
func (m *Manager) readPump(s *session) error {
	log := m.opts.Logger
	for {
		typ, frame, err := s.conn.ReadMessage()
		if err != nil {
			if code, text, ok := closeStatus(err); ok {
				return fmt.Errorf("socket closed (code %d %q): %w", code, text, err)
			}
			return fmt.Errorf("read: %w", err)
		}
		if typ != websocket.BinaryMessage {
			log.Debug("ignoring non-binary device frame", "session", s.id, "type", typ)
			continue
		}

		msg, err := m.opts.Codec.Decode(frame)
		if err != nil {
			reason := "malformed"
			var pe *protocol.ProtocolError
			if errors.As(err, &pe) {
				reason = pe.Reason()
			}
			m.opts.Metrics.RecordDecodeError(reason)
			log.Warn("dropping device frame", "session", s.id, "error", err, "bytes", len(frame))
			continue
		}

		// A superseded socket's deliveries are ignored.
		if !m.isCurrent(s) {
			return nil
		}
		m.opts.Metrics.RecordFrameReceived(msg.Kind().String())
		if m.opts.OnMessage != nil {
			m.opts.OnMessage(msg)
		}
	}
}

// writePump writes queued frames until ctx is canceled or a write fails.
func (m *Manager) writePump(ctx context.Context, s *session) error {
	for {
		select {
		case <-ctx.Done():
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return ctx.Err()

		case frame := <-s.send:
			if m.cfg.WriteTimeout > 0 {
				_ = s.conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
			}
			if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
	}
}

func (m *Manager) isCurrent(s *session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current == s
}

func (m *Manager) setState(c StateChange) {
	m.mu.Lock()
	m.state = c.State
	m.mu.Unlock()

	m.opts.Metrics.SetConnectionState(c.State.String())
	if m.opts.OnState != nil {
		m.opts.OnState(c)
	}
}

// closeStatus extracts the websocket close code and text when err is a close.
func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}
