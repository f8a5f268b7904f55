package main

import (
	"log/slog"

	"ventcore/internal/store"
)

// runEffect executes a single reducer-emitted Command.
//
// Design rules:
// - This function is allowed to perform I/O.
// - It must never call Reduce() directly and must never block the daemon loop.
func runEffect(cmd store.Command, logger *slog.Logger) {
	switch c := cmd.(type) {
	case store.CmdPublishStateSnapshot:
		if c.Reply == nil {
			logger.Warn("state snapshot requested with nil reply channel")
			return
		}

		select {
		case c.Reply <- c.Snapshot:
		default:
			logger.Warn("state snapshot reply channel not ready; dropping snapshot")
		}

	default:
		logger.Warn("unknown command type", "command", cmd.String())
	}
}
