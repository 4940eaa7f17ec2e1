// File: server/waker.go
// Package server
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// waker interrupts a blocked readiness wait from another goroutine by
// writing to a pipe whose read end is registered with the reactor.
type waker struct {
	mu     sync.Mutex
	closed bool
	rfd    int
	wfd    int
}

func newWaker() (*waker, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, errors.Wrap(err, "wake pipe")
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return nil, errors.Wrap(err, "wake pipe nonblock")
		}
	}
	return &waker{rfd: p[0], wfd: p[1]}, nil
}

// wake is safe from any goroutine and after close.
func (w *waker) wake() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	// a full pipe already guarantees a pending wakeup
	_, _ = unix.Write(w.wfd, []byte{1})
}

// drain empties the pipe; called by the loop when the read end is ready.
func (w *waker) drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(w.rfd, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (w *waker) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	unix.Close(w.rfd)
	unix.Close(w.wfd)
}
