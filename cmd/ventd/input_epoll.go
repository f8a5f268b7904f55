//go:build linux

package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// epollWaitMS bounds each epoll_wait so cancellation is noticed.
const epollWaitMS = 250

// readInputEventsEpoll reads from multiple input devices using epoll:
// one goroutine, woken by the kernel only when a device has data.
func readInputEventsEpoll(ctx context.Context, files []*os.File, events chan<- inputEvent, readErr chan<- error) {
	if len(files) == 0 {
		reportReadErr(readErr, fmt.Errorf("no input devices provided"))
		return
	}

	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		reportReadErr(readErr, fmt.Errorf("epoll_create1: %w", err))
		return
	}
	defer unix.Close(epfd)

	// Map file descriptors to files for later identification
	fdToFile := make(map[int]*os.File)

	for _, f := range files {
		fd := int(f.Fd())
		fdToFile[fd] = f

		event := unix.EpollEvent{
			Events: unix.EPOLLIN,
			Fd:     int32(fd),
		}

		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
			reportReadErr(readErr, fmt.Errorf("epoll_ctl_add %s: %w", f.Name(), err))
			return
		}
	}

	const maxEvents = 32
	epollEvents := make([]unix.EpollEvent, maxEvents)
	evSize := binary.Size(inputEvent{})
	buf := make([]byte, evSize)
	reader := bytes.NewReader(buf)

	for {
		if ctx.Err() != nil {
			return
		}

		n, err := unix.EpollWait(epfd, epollEvents, epollWaitMS)
		if err != nil {
			if err == syscall.EINTR {
				continue
			}
			reportReadErr(readErr, fmt.Errorf("epoll_wait: %w", err))
			return
		}

		for i := 0; i < n; i++ {
			fd := int(epollEvents[i].Fd)
			f := fdToFile[fd]

			if epollEvents[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				// Any device error is fatal; the knob is unusable with a device missing.
				reportReadErr(readErr, fmt.Errorf("device error/hangup: %s (fd=%d)", f.Name(), fd))
				return
			}

			if _, err := f.Read(buf); err != nil {
				reportReadErr(readErr, fmt.Errorf("read from %s: %w", f.Name(), err))
				return
			}

			reader.Reset(buf)
			var ev inputEvent
			if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
				continue
			}

			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}
