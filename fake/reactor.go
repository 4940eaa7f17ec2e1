// File: fake/reactor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package fake provides test doubles for api interfaces.
package fake

import (
	"sync"

	"github.com/momentics/hioload-echo/api"
)

// Reactor wraps a real api.Reactor, counting calls and optionally failing
// Modify. It is safe for concurrent use.
type Reactor struct {
	Inner api.Reactor

	mu       sync.Mutex
	modifies int
	waits    int
	last     map[int]api.EventType
	modErr   error
}

// NewReactor returns a recording wrapper around inner.
func NewReactor(inner api.Reactor) *Reactor {
	return &Reactor{Inner: inner, last: make(map[int]api.EventType)}
}

// FailModify makes every later Modify return err. A nil err restores
// pass-through.
func (r *Reactor) FailModify(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modErr = err
}

// Modifies reports the number of Modify calls.
func (r *Reactor) Modifies() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.modifies
}

// Interests returns a copy of the current interest per fd registered
// through this wrapper.
func (r *Reactor) Interests() map[int]api.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int]api.EventType, len(r.last))
	for fd, ev := range r.last {
		out[fd] = ev
	}
	return out
}

// Waits reports the number of Wait calls.
func (r *Reactor) Waits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waits
}

func (r *Reactor) Add(fd int, interest api.EventType) error {
	r.mu.Lock()
	r.last[fd] = interest
	r.mu.Unlock()
	return r.Inner.Add(fd, interest)
}

func (r *Reactor) Modify(fd int, interest api.EventType) error {
	r.mu.Lock()
	r.modifies++
	err := r.modErr
	if err == nil {
		r.last[fd] = interest
	}
	r.mu.Unlock()
	if err != nil {
		return err
	}
	return r.Inner.Modify(fd, interest)
}

func (r *Reactor) Remove(fd int) error {
	r.mu.Lock()
	delete(r.last, fd)
	r.mu.Unlock()
	return r.Inner.Remove(fd)
}

func (r *Reactor) Wait(events []api.Event) (int, error) {
	r.mu.Lock()
	r.waits++
	r.mu.Unlock()
	return r.Inner.Wait(events)
}

func (r *Reactor) Close() error { return r.Inner.Close() }
