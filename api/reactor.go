// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Defines the abstract interface for readiness reactors used to multiplex
// non-blocking sockets on a single thread (epoll, poll).

package api

import "strings"

// EventType is a bit set of readiness conditions. The same bits describe both
// the interest registered for a descriptor and the readiness reported for it.
type EventType uint8

const (
	EventRead EventType = 1 << iota
	EventWrite
	EventError
	EventHangup
)

// String renders the set as "read|write" style text.
func (t EventType) String() string {
	if t == 0 {
		return "none"
	}
	var parts []string
	if t&EventRead != 0 {
		parts = append(parts, "read")
	}
	if t&EventWrite != 0 {
		parts = append(parts, "write")
	}
	if t&EventError != 0 {
		parts = append(parts, "error")
	}
	if t&EventHangup != 0 {
		parts = append(parts, "hangup")
	}
	return strings.Join(parts, "|")
}

// Event encapsulates the result of an OS-level readiness notification.
type Event struct {
	Fd    int       // descriptor the notification refers to
	Ready EventType // conditions reported by the OS
}

// Reactor is a level-triggered readiness multiplexer. It is not safe for
// concurrent use; a single event loop owns it.
type Reactor interface {
	// Add starts watching fd for the given interest.
	Add(fd int, interest EventType) error

	// Modify replaces the interest registered for fd.
	Modify(fd int, interest EventType) error

	// Remove stops watching fd. It must be called before fd is closed.
	Remove(fd int) error

	// Wait blocks until at least one descriptor is ready and fills events.
	// A wait interrupted by a signal returns (0, nil).
	Wait(events []Event) (int, error)

	// Close releases the backend.
	Close() error
}
