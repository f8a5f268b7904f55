package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ventcore/internal/metrics"
	"ventcore/internal/protocol"
	"ventcore/internal/store"
)

// ============================================================================
// State WebSocket: hub + per-client pumps + broadcaster
// ============================================================================
//
// This file implements:
//   - A Hub that tracks connected UI clients
//   - Per-client write pumps so one slow client doesn't block others
//   - A broadcaster loop that reads daemon-forwarded broadcasts and fans out
//
// Design constraints:
//   - store.State remains daemon-owned; never expose it to other goroutines.
//   - The initial snapshot on connect goes through the daemon loop.
//   - Slow clients are disconnected if they can't keep up.
//
// Messages are JSON text frames with an envelope: {type, ts, data}.
//   - "state_init": full snapshot, sent once on connect
//   - "state": full snapshot, coalesced (latest wins)
//   - "connection_changed", "log_events": sent immediately
//   - "error": reply to an inbound frame that could not be dispatched
//
// Inbound text frames are action envelopes (store.UnmarshalEvent) and are
// dispatched to the daemon loop.
//
// ============================================================================

// wsLogEventsData is the JSON `data` payload for "log_events".
type wsLogEventsData struct {
	Events       []protocol.LogEvent `json:"events"`
	NextExpected uint32              `json:"next_expected"`
	Reset        bool                `json:"reset"`
}

// wsErrorData is the JSON `data` payload for "error".
type wsErrorData struct {
	Error string `json:"error"`
}

// wsOutboundEvent is a pre-typed, externally-consumable state event.
type wsOutboundEvent struct {
	Type string
	Data any
	At   time.Time // zero means "use now"
}

// envelope is the wire format envelope for WS messages.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

func marshalEnvelope(ev wsOutboundEvent) ([]byte, error) {
	ts := ev.At
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return json.Marshal(envelope{Type: ev.Type, Ts: &ts, Data: ev.Data})
}

// ============================================================================
// Hub
// ============================================================================

type Hub struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Buffered broadcast channel for already-serialized JSON frames.
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size.
	// If zero, a conservative default is used.
	SendBuf int

	// BroadcastBuf is the hub inbound broadcast queue size.
	// If zero, a conservative default is used.
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, m *metrics.Metrics, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 32
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = 128
	}

	return &Hub{
		logger:     logger,
		metrics:    m,
		broadcast:  make(chan []byte, bcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes hub events until ctx is canceled.
// It disconnects all clients on shutdown.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("ws hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("ws hub stopping (context canceled)")
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.SetUIClients(n)
			h.logger.Info("ws client registered", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			// Collect slow clients first, then remove them after we unlock.
			var slow []*Client

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		safeCloseChan(c.send)
		delete(h.clients, c)
	}
	h.metrics.SetUIClients(0)
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		// Closing send signals writePump to exit.
		safeCloseChan(c.send)

		h.metrics.SetUIClients(n)
		h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

func safeCloseChan(ch chan []byte) {
	defer func() {
		_ = recover() // ignore "close of closed channel"
	}()
	close(ch)
}

// BroadcastBytes enqueues a pre-serialized JSON WS frame for broadcast.
// It never blocks; if the hub queue is full it drops the message.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	conn *websocket.Conn
	send chan []byte

	// events receives actions sent by the client; nil discards them.
	events chan<- store.Event

	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client with a buffered send channel.
func NewClient(hub *Hub, conn *websocket.Conn, events chan<- store.Event, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 32
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		events:     events,
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// wsStateCoalesceWindow is the maximum time window during which bursty state
// frames are coalesced (latest-wins) before broadcasting to clients.
const wsStateCoalesceWindow = 50 * time.Millisecond

// closeStatus extracts a human-readable websocket close code / text when possible.
func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

// writePump writes messages from the send queue to the websocket.
// It exits on write error or when send is closed.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed: hub is disconnecting us.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("writePump", "write error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("writePump", "ping error", err)
				return
			}
		}
	}
}

// readPump reads action envelopes from the client and dispatches them to
// the daemon loop. It exits on read error, then unregisters the client.
func (c *Client) readPump(ctx context.Context) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			c.logExit("readPump", "read error", err)
			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		c.dispatch(data)
	}
}

// dispatch parses one inbound action envelope and hands it to the daemon.
// Failures are reported back to this client only.
func (c *Client) dispatch(data []byte) {
	ev, err := store.UnmarshalEvent(data)
	if err == nil && c.events == nil {
		err = errors.New("actions are not accepted")
	}
	if err == nil {
		select {
		case c.events <- ev:
			return
		default:
			err = errors.New("event queue full")
		}
	}

	c.logger.Debug("ws client action rejected", "remote_addr", c.remoteAddr, "error", err)
	msg, mErr := marshalEnvelope(wsOutboundEvent{Type: "error", Data: wsErrorData{Error: err.Error()}})
	if mErr != nil {
		return
	}
	c.trySend(msg)
}

// trySend enqueues msg without blocking. The hub may close send at any time.
func (c *Client) trySend(msg []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) logExit(pump, what string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Info("ws "+pump+" exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
		return
	}
	c.logger.Info("ws "+pump+" exiting ("+what+")", "remote_addr", c.remoteAddr, "error", err)
}

// ============================================================================
// HTTP Handler + server wiring helpers
// ============================================================================

type Server struct {
	logger *slog.Logger

	hub *Hub

	// Required for the initial snapshot on connect (through the daemon loop)
	// and for client actions.
	events chan<- store.Event

	snapshotTimeout time.Duration
}

type ServerConfig struct {
	Hub             HubConfig
	SnapshotTimeout time.Duration
}

// NewServer constructs the WS state server components. Call Register on a mux,
// start hub.Run(ctx), and start the broadcaster loop.
func NewServer(logger *slog.Logger, m *metrics.Metrics, events chan<- store.Event, cfg ServerConfig) *Server {
	timeout := cfg.SnapshotTimeout
	if timeout <= 0 {
		timeout = defaultSnapshotTimeout * time.Millisecond
	}
	return &Server{
		logger:          logger,
		hub:             NewHub(logger, m, cfg.Hub),
		events:          events,
		snapshotTimeout: timeout,
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// Register registers the WS handler on the provided mux.
func (s *Server) Register(mux *http.ServeMux, path string) {
	if mux == nil {
		return
	}
	mux.HandleFunc(path, s.handleStateWS)
}

var upgrader = websocket.Upgrader{
	// The UI is served from the same device; origin checks are left to the deployment.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStateWS upgrades and registers a client, then sends state_init.
func (s *Server) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, s.events, r.RemoteAddr, s.logger)

	// Register client first so broadcasts can reach it.
	s.hub.register <- client

	// Do not tie the pumps to r.Context(): net/http cancels it when the
	// handler returns. The hub and the socket errors end the pumps.
	go client.writePump(context.Background())
	go client.readPump(context.Background())

	snap, err := requestSnapshot(r.Context(), s.events, s.snapshotTimeout)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("ws snapshot request failed", "error", err)
		}
		return
	}

	initMsg, err := marshalEnvelope(wsOutboundEvent{Type: "state_init", Data: snap})
	if err != nil {
		s.logger.Warn("ws state_init marshal failed", "error", err)
		return
	}
	// Enqueue init message; if client is already slow, disconnect.
	if !client.trySend(initMsg) {
		s.hub.unregister <- client
	}
}

// requestSnapshot asks the daemon loop for the current snapshot.
func requestSnapshot(ctx context.Context, events chan<- store.Event, timeout time.Duration) (store.Snapshot, error) {
	if events == nil {
		return store.Snapshot{}, errors.New("no daemon to ask for a snapshot")
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reply := make(chan store.Snapshot, 1)
	select {
	case <-ctx.Done():
		return store.Snapshot{}, ctx.Err()
	case events <- store.RequestStateSnapshot{Reply: reply}:
	}

	select {
	case <-ctx.Done():
		return store.Snapshot{}, fmt.Errorf("wait for snapshot: %w", ctx.Err())
	case snap := <-reply:
		return snap, nil
	}
}

// ============================================================================
// Broadcaster
// ============================================================================

// RunBroadcaster reads daemon-forwarded broadcasts, marshals them, and
// broadcasts them to all hub clients. Intended to run as a single goroutine.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan uiBroadcast, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}

	// Rate-limit state frames: flush the latest pending snapshot at most once
	// every wsStateCoalesceWindow, even if snapshots keep arriving.
	var pending *wsOutboundEvent
	var timer *time.Timer
	var timerCh <-chan time.Time

	flushPending := func() {
		if pending == nil {
			return
		}
		msg, err := marshalEnvelope(*pending)
		pending = nil
		if err != nil {
			logger.Warn("ws broadcaster marshal failed", "error", err, "type", "state")
			return
		}
		hub.BroadcastBytes(msg)
	}

	stopTimer := func() {
		if timer != nil && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer = nil
		timerCh = nil
	}

	startTimerIfNeeded := func() {
		if timer != nil {
			return
		}
		timer = time.NewTimer(wsStateCoalesceWindow)
		timerCh = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			flushPending()
			stopTimer()
			return

		case <-timerCh:
			flushPending()
			stopTimer()

		case b, ok := <-src:
			if !ok {
				flushPending()
				stopTimer()
				logger.Info("ws broadcaster stopping (source ended)")
				return
			}

			ev, ok := convertBroadcast(b)
			if !ok {
				continue
			}

			// Latest-wins for full snapshots; do NOT reset the timer on each update.
			if ev.Type == "state" {
				copyEv := ev
				pending = &copyEv
				startTimerIfNeeded()
				continue
			}

			// Other events go out immediately, after any pending snapshot.
			flushPending()
			stopTimer()

			msg, err := marshalEnvelope(ev)
			if err != nil {
				logger.Warn("ws broadcaster marshal failed", "error", err, "type", ev.Type)
				continue
			}
			hub.BroadcastBytes(msg)
		}
	}
}

func convertBroadcast(b uiBroadcast) (wsOutboundEvent, bool) {
	switch ev := b.Broadcast.(type) {
	case store.BroadcastSnapshot:
		if b.Snapshot == nil {
			return wsOutboundEvent{}, false
		}
		return wsOutboundEvent{Type: "state", Data: b.Snapshot, At: ev.At}, true

	case store.BroadcastConnectionChanged:
		return wsOutboundEvent{Type: "connection_changed", Data: ev.Connection, At: ev.At}, true

	case store.BroadcastLogEvents:
		return wsOutboundEvent{
			Type: "log_events",
			Data: wsLogEventsData{Events: ev.Events, NextExpected: ev.NextExpected, Reset: ev.Reset},
			At:   ev.At,
		}, true

	default:
		return wsOutboundEvent{}, false
	}
}
