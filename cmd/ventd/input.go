package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"ventcore/internal/store"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// reportReadErr hands err to the consumer unless an error is already pending.
// Readers sharing readErr never block on it.
func reportReadErr(readErr chan<- error, err error) {
	select {
	case readErr <- err:
	default:
	}
}

// readInputEvents reads input events from a single device and sends them to a channel.
// It blocks on read operations and returns when the device fails or is closed,
// or when ctx is canceled while an event is waiting to be delivered.
func readInputEvents(ctx context.Context, f *os.File, events chan<- inputEvent, readErr chan<- error) {
	evSize := binary.Size(inputEvent{})
	buf := make([]byte, evSize)
	reader := bytes.NewReader(buf)

	for {
		if _, err := io.ReadFull(f, buf); err != nil {
			reportReadErr(readErr, fmt.Errorf("read from %s: %w", f.Name(), err))
			return
		}

		reader.Reset(buf)
		var ev inputEvent
		if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
			// Skip malformed events
			continue
		}

		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// translateInput turns one raw input event into a rotary encoder state update.
// ok is false for events that do not change the knob.
func translateInput(ev inputEvent, k *knob, now time.Time) (store.Event, bool) {
	switch ev.Type {
	case EV_REL:
		if ev.Code != REL_DIAL && ev.Code != REL_WHEEL {
			return nil, false
		}
		if ev.Value == 0 {
			return nil, false
		}
		return store.StateUpdate{Message: k.turn(ev.Value, now), Local: true}, true

	case EV_KEY:
		if ev.Code != k.cfg.ButtonCode {
			return nil, false
		}
		switch ev.Value {
		case evValuePress:
			msg, changed := k.press(true, now)
			return store.StateUpdate{Message: msg, Local: true}, changed
		case evValueRelease:
			msg, changed := k.press(false, now)
			return store.StateUpdate{Message: msg, Local: true}, changed
		case evValueRepeat:
			return nil, false
		}
	}
	return nil, false
}

// runRotaryInput reads the configured input devices and feeds knob state
// updates into the daemon. It returns when ctx is canceled or a device fails.
func runRotaryInput(ctx context.Context, paths []string, cfg RotaryConfig, events chan<- store.Event, logger *slog.Logger) error {
	files := make([]*os.File, 0, len(paths))
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()
	for _, p := range paths {
		f, err := os.Open(ExpandPath(p))
		if err != nil {
			return fmt.Errorf("open input device %s: %w (run as root or add user to 'input' group)", p, err)
		}
		files = append(files, f)
	}

	raw := make(chan inputEvent, 64)
	readErr := make(chan error, 1)
	go readInputEventsEpoll(ctx, files, raw, readErr)

	k := newKnob(cfg, time.Now())
	logger.Info("rotary input started", "devices", paths)

	for {
		select {
		case <-ctx.Done():
			logger.Info("rotary input stopping (context canceled)")
			return nil

		case err := <-readErr:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("rotary input: %w", err)

		case ev := <-raw:
			e, ok := translateInput(ev, k, time.Now())
			if !ok {
				continue
			}
			select {
			case events <- e:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
