//go:build !linux

package main

import (
	"context"
	"os"
)

// readInputEventsEpoll falls back to one blocking reader per device where
// epoll is unavailable. Readers stop when their files are closed or ctx is
// canceled.
func readInputEventsEpoll(ctx context.Context, files []*os.File, events chan<- inputEvent, readErr chan<- error) {
	for _, f := range files {
		go readInputEvents(ctx, f, events, readErr)
	}
	<-ctx.Done()
}
