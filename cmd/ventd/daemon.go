package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ventcore/internal/metrics"
	"ventcore/internal/protocol"
	"ventcore/internal/schedule"
	"ventcore/internal/store"
	"ventcore/internal/transport"
)

// ============================================================================
// Central Daemon Loop
// ============================================================================
//
// Design rules enforced here:
//   - The daemon loop is the only goroutine that touches *store.State.
//   - The reducer performs no I/O; the loop executes its commands (effects.go)
//     and forwards its broadcasts to the UI broadcaster.
//   - The outbound schedule is driven from here too, so reading a request
//     slice for transmission never races a reduction.
//
// ============================================================================

// frameSender is the outbound half of the device transport.
type frameSender interface {
	Send(frame []byte) error
}

// uiBroadcast is what the daemon loop hands to the UI broadcaster. Snapshot
// is set only for store.BroadcastSnapshot and must be treated as read-only.
type uiBroadcast struct {
	Broadcast store.Broadcast
	Snapshot  *store.Snapshot
}

type daemonOptions struct {
	Store    store.Config
	Schedule *schedule.Schedule
	Codec    *protocol.Codec
	Sender   frameSender

	// Broadcasts receives UI notifications. Sends never block; when full,
	// notifications are dropped (the next snapshot supersedes them).
	Broadcasts chan<- uiBroadcast

	Metrics *metrics.Metrics

	// UpdateHz is the Tick cadence.
	UpdateHz int

	// Development panics on programmer errors instead of logging them.
	Development bool
}

// runDaemon is the main daemon loop that:
//   - Receives Events from the transport, IPC, UI clients and the local knob
//   - Emits Tick events on a fixed cadence
//   - Reduces events into (state, commands, broadcasts)
//   - Sends one scheduled outbound message per schedule turn
//
// Shutdown semantics:
//   - Exits when ctx is canceled
//   - Exits cleanly when the events channel is closed
func runDaemon(ctx context.Context, events <-chan store.Event, state *store.State, opts daemonOptions, logger *slog.Logger) error {
	if state == nil {
		return errors.New("daemon state is nil")
	}
	if opts.Schedule == nil || opts.Schedule.Len() == 0 {
		return errors.New("daemon schedule is empty")
	}
	if opts.Codec == nil {
		opts.Codec = protocol.NewCodec(nil)
	}
	updateHz := opts.UpdateHz
	if updateHz <= 0 {
		updateHz = defaultUpdateHz
	}

	ticker := time.NewTicker(time.Second / time.Duration(updateHz))
	defer ticker.Stop()

	// The first scheduled send goes out right away; each later one waits
	// the interval of the entry sent before it.
	sendTimer := time.NewTimer(0)
	defer sendTimer.Stop()

	var sel store.SnapshotSelector

	// Explicit queues:
	// - eventQueue holds events awaiting reduction
	// - cmdQueue holds commands awaiting execution
	var eventQueue []store.Event
	var cmdQueue []store.Command

	forward := func(b store.Broadcast) {
		ub := uiBroadcast{Broadcast: b}
		switch bb := b.(type) {
		case store.BroadcastSnapshot:
			snap := sel.Select(state)
			ub.Snapshot = &snap
			opts.Metrics.SetWaveformPoints(state.WaveformPoints())
		case store.BroadcastLogEvents:
			opts.Metrics.RecordLogEventsMerged(len(bb.Events))
		}

		if opts.Broadcasts == nil {
			return
		}
		select {
		case opts.Broadcasts <- ub:
		default:
			logger.Warn("ui broadcast queue full; dropping", "broadcast", fmt.Sprintf("%T", b))
		}
	}

	// Reduce all queued events, enqueuing any resulting commands.
	flushEvents := func() {
		for len(eventQueue) > 0 {
			ev := eventQueue[0]
			eventQueue = eventQueue[1:]

			start := time.Now()
			rr := store.Reduce(state, ev, opts.Store)
			opts.Metrics.ObserveReduce(time.Since(start))

			if rr.State != nil {
				state = rr.State
			}
			cmdQueue = append(cmdQueue, rr.Commands...)
			for _, b := range rr.Broadcasts {
				forward(b)
			}
		}
	}

	flushCommands := func() {
		for len(cmdQueue) > 0 {
			cmd := cmdQueue[0]
			cmdQueue = cmdQueue[1:]
			runEffect(cmd, logger)
		}
	}

	logger.Info("daemon starting", "schedule", opts.Schedule.Entries(), "update_hz", updateHz)

	for {
		select {
		case <-ctx.Done():
			logger.Info("daemon stopping (context canceled)")
			return nil

		case ev, ok := <-events:
			if !ok {
				logger.Info("daemon stopping (events channel closed)")
				return nil
			}
			eventQueue = append(eventQueue, store.TimedEvent{Event: ev, At: time.Now()})
			flushEvents()
			flushCommands()

		case now := <-ticker.C:
			eventQueue = append(eventQueue, store.Tick{Now: now})
			flushEvents()
			flushCommands()

		case <-sendTimer.C:
			entry := opts.Schedule.Advance()
			sendScheduled(state, entry, opts, logger)
			sendTimer.Reset(entry.Interval)
		}
	}
}

// sendScheduled encodes the current value of the slice behind entry and hands
// it to the transport. Nothing is queued for later: a send that cannot happen
// now is skipped, and the next turn sends whatever is current then.
func sendScheduled(s *store.State, entry schedule.Entry, opts daemonOptions, logger *slog.Logger) {
	kind := entry.Kind.String()

	var (
		frame []byte
		err   error
	)
	if msg, ok := store.Outbound(s, entry.Kind); ok {
		frame, err = opts.Codec.Encode(msg)
	} else {
		err = &protocol.ProtocolError{Op: "encode", Kind: entry.Kind, Err: protocol.ErrUnknownKind}
	}
	if err != nil {
		if opts.Development {
			panic(err)
		}
		logger.Error("cannot encode scheduled message; skipping", "kind", kind, "error", err)
		opts.Metrics.RecordSendSkipped(kind, "encode_error")
		return
	}

	if err := opts.Sender.Send(frame); err != nil {
		reason := "send_error"
		switch {
		case errors.Is(err, transport.ErrNotConnected):
			reason = "not_connected"
		case errors.Is(err, transport.ErrSendQueueFull):
			reason = "queue_full"
		}
		logger.Debug("scheduled send skipped", "kind", kind, "reason", reason)
		opts.Metrics.RecordSendSkipped(kind, reason)
		return
	}
	opts.Metrics.RecordFrameSent(kind)
}
