// Package eventlog reconciles the device's discrete log events into a local,
// deduplicated ledger and computes the id the device should send next.
package eventlog

import (
	"slices"

	"ventcore/internal/protocol"
)

// Merge returns existing followed by the incoming events whose id is not yet
// known. Existing order is preserved. Neither argument is modified.
func Merge(existing, incoming []protocol.LogEvent) []protocol.LogEvent {
	if len(existing) == 0 {
		return slices.Clone(incoming)
	}
	seen := make(map[uint32]struct{}, len(existing)+len(incoming))
	for _, e := range existing {
		seen[e.ID] = struct{}{}
	}
	out := slices.Clone(existing)
	for _, e := range incoming {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	return out
}

// NextExpectedID is max(id)+1 over events, or 0 when there are none.
func NextExpectedID(events []protocol.LogEvent) uint32 {
	if len(events) == 0 {
		return 0
	}
	var hi uint32
	for _, e := range events {
		if e.ID > hi {
			hi = e.ID
		}
	}
	return hi + 1
}

// Ledger is the local copy of the device log for one device session.
type Ledger struct {
	SessionID    uint32              `json:"session_id"`
	Total        uint32              `json:"total"`
	Events       []protocol.LogEvent `json:"events"`
	NextExpected uint32              `json:"next_expected"`
	Active       []uint32            `json:"active"`
}

// Apply merges a batch and returns the events that were new. When the batch
// comes from a different device session the events are cleared first: the
// device restarted and its ids start over. Active is kept; it comes from a
// separate message that may already describe the new session.
func (l *Ledger) Apply(batch protocol.NextLogEvents) []protocol.LogEvent {
	if batch.SessionID != l.SessionID {
		*l = Ledger{SessionID: batch.SessionID, Active: l.Active}
	}
	before := len(l.Events)
	l.Events = Merge(l.Events, batch.Elements)
	l.NextExpected = NextExpectedID(l.Events)
	l.Total = batch.Total
	return l.Events[before:]
}

// SetActive records the ids of the alarms the device reports as active.
func (l *Ledger) SetActive(ids []uint32) {
	l.Active = slices.Clone(ids)
}

// Expected is the cursor message sent back to the device.
func (l *Ledger) Expected() protocol.ExpectedLogEvent {
	return protocol.ExpectedLogEvent{ID: l.NextExpected, SessionID: l.SessionID}
}

// ActiveEvents returns the known events whose ids are in l.Active, in the
// order of l.Active. Ids not yet received are skipped.
func (l *Ledger) ActiveEvents() []protocol.LogEvent {
	return Active(l.Events, l.Active)
}

// Active projects the events with the given ids, in ids order.
func Active(events []protocol.LogEvent, ids []uint32) []protocol.LogEvent {
	if len(ids) == 0 {
		return nil
	}
	byID := make(map[uint32]int, len(events))
	for i, e := range events {
		byID[e.ID] = i
	}
	out := make([]protocol.LogEvent, 0, len(ids))
	for _, id := range ids {
		if i, ok := byID[id]; ok {
			out = append(out, events[i])
		}
	}
	return out
}

func (l *Ledger) Clone() *Ledger {
	if l == nil {
		return nil
	}
	c := *l
	c.Events = slices.Clone(l.Events)
	c.Active = slices.Clone(l.Active)
	return &c
}
