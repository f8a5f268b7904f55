// Package schedule implements the outbound round-robin: which request kind
// is sent to the device next, and how long to wait before the following one.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"ventcore/internal/protocol"
)

// Entry is one (kind, interval) pair of the round-robin.
type Entry struct {
	Kind     protocol.Kind
	Interval time.Duration
}

func (e Entry) String() string {
	return fmt.Sprintf("%s/%s", e.Kind, e.Interval)
}

// InvariantViolation is the panic value raised when a schedule is used in a
// state its constructor rules out. It signals a construction bug.
type InvariantViolation struct {
	Msg string
}

func (v InvariantViolation) Error() string { return "schedule invariant violated: " + v.Msg }

// ErrEmpty is returned by New when no entries are given.
var ErrEmpty = errors.New("schedule: no entries")

// Schedule is a mutable ring of entries. It has a single owner (the daemon
// loop) and is not safe for concurrent use.
type Schedule struct {
	entries []Entry
}

// New builds a schedule from entries in send order. Intervals must be positive.
func New(entries ...Entry) (*Schedule, error) {
	if len(entries) == 0 {
		return nil, ErrEmpty
	}
	for i, e := range entries {
		if e.Interval <= 0 {
			return nil, fmt.Errorf("schedule: entry %d (%s): interval must be > 0", i, e.Kind)
		}
	}
	return &Schedule{entries: append([]Entry(nil), entries...)}, nil
}

// Default is the device's standard request cadence: parameters, alarm
// limits and the log cursor, one per tick.
func Default(interval time.Duration) *Schedule {
	s, err := New(
		Entry{Kind: protocol.KindParametersRequest, Interval: interval},
		Entry{Kind: protocol.KindAlarmLimitsRequest, Interval: interval},
		Entry{Kind: protocol.KindExpectedLogEvent, Interval: interval},
	)
	if err != nil {
		panic(InvariantViolation{Msg: err.Error()})
	}
	return s
}

// Advance moves the head entry to the tail and returns it. After Len() calls
// the schedule is back in its original order.
func (s *Schedule) Advance() Entry {
	if s == nil || len(s.entries) == 0 {
		panic(InvariantViolation{Msg: "advance on empty schedule"})
	}
	head := s.entries[0]
	copy(s.entries, s.entries[1:])
	s.entries[len(s.entries)-1] = head
	return head
}

// Peek returns the entry the next Advance will return.
func (s *Schedule) Peek() Entry {
	if s == nil || len(s.entries) == 0 {
		panic(InvariantViolation{Msg: "peek on empty schedule"})
	}
	return s.entries[0]
}

func (s *Schedule) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// Entries returns a copy of the entries in current order.
func (s *Schedule) Entries() []Entry {
	if s == nil {
		return nil
	}
	return append([]Entry(nil), s.entries...)
}
