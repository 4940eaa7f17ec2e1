//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based reactor implementation.

package reactor

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-echo/api"
)

var (
	defaultKind = KindEpoll
	supported   = []Kind{KindEpoll, KindPoll}
)

// epollReactor is a level-triggered epoll reactor.
type epollReactor struct {
	epfd int
	raw  []unix.EpollEvent
}

func newEpoll() (api.Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "epoll create")
	}
	return &epollReactor{epfd: epfd}, nil
}

func epollInterest(interest api.EventType) uint32 {
	var ev uint32
	if interest&api.EventRead != 0 {
		ev |= unix.EPOLLIN
	}
	if interest&api.EventWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func epollReadiness(ev uint32) api.EventType {
	var t api.EventType
	if ev&unix.EPOLLIN != 0 {
		t |= api.EventRead
	}
	if ev&unix.EPOLLOUT != 0 {
		t |= api.EventWrite
	}
	if ev&unix.EPOLLERR != 0 {
		t |= api.EventError
	}
	// a hung-up socket reads EOF without blocking
	if ev&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		t |= api.EventHangup | api.EventRead
	}
	return t
}

// Add registers fd with epoll.
func (r *epollReactor) Add(fd int, interest api.EventType) error {
	ev := unix.EpollEvent{Events: epollInterest(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return errors.Wrapf(err, "epoll ctl add fd %d", fd)
	}
	return nil
}

// Modify replaces the interest set of fd.
func (r *epollReactor) Modify(fd int, interest api.EventType) error {
	ev := unix.EpollEvent{Events: epollInterest(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return errors.Wrapf(err, "epoll ctl mod fd %d", fd)
	}
	return nil
}

// Remove deletes fd from the watch list.
func (r *epollReactor) Remove(fd int) error {
	// pre-2.6.9 kernels require a non-nil event for EPOLL_CTL_DEL
	var ev unix.EpollEvent
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, &ev); err != nil {
		return errors.Wrapf(err, "epoll ctl del fd %d", fd)
	}
	return nil
}

// Wait blocks without timeout until at least one descriptor is ready.
func (r *epollReactor) Wait(events []api.Event) (int, error) {
	if len(events) == 0 {
		return 0, api.NewError(api.ErrCodeInvalidArgument, "reactor: empty event buffer")
	}
	if cap(r.raw) < len(events) {
		r.raw = make([]unix.EpollEvent, len(events))
	}
	raw := r.raw[:len(events)]

	n, err := unix.EpollWait(r.epfd, raw, -1)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil // interrupted by signal: normal
		}
		return 0, errors.Wrap(err, "epoll wait")
	}
	for i := 0; i < n; i++ {
		events[i] = api.Event{Fd: int(raw[i].Fd), Ready: epollReadiness(raw[i].Events)}
	}
	sortByFd(events[:n])
	return n, nil
}

// Close releases the epoll file descriptor.
func (r *epollReactor) Close() error {
	return unix.Close(r.epfd)
}
