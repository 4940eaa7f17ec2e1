//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd
// +build linux darwin dragonfly freebsd netbsd openbsd

// File: reactor/poll.go
// Author: momentics <momentics@gmail.com>
//
// poll(2)-based reactor. The pollfd set is rebuilt from the registered
// interest on every Wait, so interest changes cost nothing until then.

package reactor

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-echo/api"
)

type pollSlot struct {
	registered bool
	interest   api.EventType
}

// pollReactor keeps interest in a slice indexed by descriptor, which yields
// ascending descriptor order for free when the pollfd set is rebuilt.
type pollReactor struct {
	slots []pollSlot
	count int
	fds   []unix.PollFd
}

func newPoll() (api.Reactor, error) {
	return &pollReactor{}, nil
}

func (r *pollReactor) slot(fd int) (*pollSlot, bool) {
	if fd < 0 || fd >= len(r.slots) || !r.slots[fd].registered {
		return nil, false
	}
	return &r.slots[fd], true
}

// Add registers fd.
func (r *pollReactor) Add(fd int, interest api.EventType) error {
	if fd < 0 {
		return errors.Wrapf(unix.EBADF, "poll add fd %d", fd)
	}
	if _, ok := r.slot(fd); ok {
		return errors.Wrapf(unix.EEXIST, "poll add fd %d", fd)
	}
	if fd >= len(r.slots) {
		r.slots = append(r.slots, make([]pollSlot, fd+1-len(r.slots))...)
	}
	r.slots[fd] = pollSlot{registered: true, interest: interest}
	r.count++
	return nil
}

// Modify replaces the interest of a registered fd.
func (r *pollReactor) Modify(fd int, interest api.EventType) error {
	s, ok := r.slot(fd)
	if !ok {
		return errors.Wrapf(unix.ENOENT, "poll mod fd %d", fd)
	}
	s.interest = interest
	return nil
}

// Remove forgets fd.
func (r *pollReactor) Remove(fd int) error {
	s, ok := r.slot(fd)
	if !ok {
		return errors.Wrapf(unix.ENOENT, "poll del fd %d", fd)
	}
	*s = pollSlot{}
	r.count--
	for len(r.slots) > 0 && !r.slots[len(r.slots)-1].registered {
		r.slots = r.slots[:len(r.slots)-1]
	}
	return nil
}

// Wait rebuilds the pollfd set and blocks without timeout.
func (r *pollReactor) Wait(events []api.Event) (int, error) {
	if len(events) == 0 {
		return 0, api.NewError(api.ErrCodeInvalidArgument, "reactor: empty event buffer")
	}
	if r.count == 0 {
		// poll(2) with no descriptors and no timeout would never return
		return 0, api.NewError(api.ErrCodeInvalidArgument, "reactor: nothing registered")
	}
	r.fds = r.fds[:0]
	for fd, s := range r.slots {
		if !s.registered {
			continue
		}
		var ev int16
		if s.interest&api.EventRead != 0 {
			ev |= unix.POLLIN
		}
		if s.interest&api.EventWrite != 0 {
			ev |= unix.POLLOUT
		}
		r.fds = append(r.fds, unix.PollFd{Fd: int32(fd), Events: ev})
	}

	n, err := unix.Poll(r.fds, -1)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, errors.Wrap(err, "poll")
	}

	out := 0
	for i := 0; i < len(r.fds) && out < len(events) && n > 0; i++ {
		rev := r.fds[i].Revents
		if rev == 0 {
			continue
		}
		n--
		var t api.EventType
		if rev&unix.POLLIN != 0 {
			t |= api.EventRead
		}
		if rev&unix.POLLOUT != 0 {
			t |= api.EventWrite
		}
		if rev&(unix.POLLERR|unix.POLLNVAL) != 0 {
			t |= api.EventError
		}
		if rev&unix.POLLHUP != 0 {
			t |= api.EventHangup | api.EventRead
		}
		events[out] = api.Event{Fd: int(r.fds[i].Fd), Ready: t}
		out++
	}
	return out, nil
}

// Close drops all registrations; poll holds no kernel state.
func (r *pollReactor) Close() error {
	r.slots = nil
	r.fds = nil
	r.count = 0
	return nil
}
