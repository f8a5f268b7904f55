package store

import (
	"fmt"
	"time"

	"ventcore/internal/protocol"
)

// ==============================
// Commands (side effects)
// ==============================

// Command is a side effect the daemon loop executes on the reducer's behalf.
type Command interface {
	commandMarker()
	String() string
}

// CmdPublishStateSnapshot delivers a snapshot to a waiting requester.
type CmdPublishStateSnapshot struct {
	Reply    chan<- Snapshot
	Snapshot Snapshot
}

func (CmdPublishStateSnapshot) commandMarker() {}
func (c CmdPublishStateSnapshot) String() string {
	return fmt.Sprintf("CmdPublishStateSnapshot(version=%d)", c.Snapshot.Version)
}

// ==============================
// Broadcasts (state notifications)
// ==============================

// Broadcast is a notification for UI clients. Broadcasts describe what
// changed; they never carry live references into State.
type Broadcast interface {
	broadcastMarker()
}

// BroadcastSnapshot announces that the state changed since the last one.
// Consumers rebuild the view with a SnapshotSelector.
type BroadcastSnapshot struct {
	Version uint64
	At      time.Time
}

func (BroadcastSnapshot) broadcastMarker() {}

// BroadcastConnectionChanged is emitted whenever Connection.Connected or
// Connection.Lost flips.
type BroadcastConnectionChanged struct {
	Connection Connection
	At         time.Time
}

func (BroadcastConnectionChanged) broadcastMarker() {}

// BroadcastLogEvents carries log events that were new to the ledger.
type BroadcastLogEvents struct {
	Events       []protocol.LogEvent
	NextExpected uint32
	Reset        bool
	At           time.Time
}

func (BroadcastLogEvents) broadcastMarker() {}
