// File: server/loop.go
// Package server
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The readiness event loop. Each cycle syncs interest and waits, then
// dispatches events and destroys connections flagged for close.

package server

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-echo/api"
)

func (s *Server) loop() error {
	for !s.stopping.Load() {
		s.syncInterest()
		s.reap()

		n, err := s.reactor.Wait(s.events)
		if err != nil {
			return errors.Wrap(err, "readiness wait")
		}
		for _, ev := range s.events[:n] {
			s.dispatch(ev)
		}
		s.reap()

		s.iterations.Add(1)
		s.metrics.LoopIterations.Inc()
	}
	return nil
}

// syncInterest pushes every connection's intent to the reactor, touching
// only the ones whose interest changed since the last cycle.
func (s *Server) syncInterest() {
	s.conns.Each(func(fd int, c *Connection) bool {
		if c.wantClose {
			return true
		}
		want := c.interest()
		if want == c.registered {
			return true
		}
		if err := s.reactor.Modify(fd, want); err != nil {
			s.scheduleClose(c, ReasonSocketError, errors.Wrap(err, "modify interest"))
			return true
		}
		c.registered = want
		return true
	})
}

func (s *Server) dispatch(ev api.Event) {
	switch ev.Fd {
	case s.ln.fd:
		if ev.Ready&(api.EventRead|api.EventError) != 0 {
			s.acceptOne()
		}
		return
	case s.waker.rfd:
		s.waker.drain()
		return
	}

	c := s.conns.Get(ev.Fd)
	if c == nil || c.wantClose {
		return
	}
	switch {
	case ev.Ready&api.EventError != 0:
		s.scheduleClose(c, ReasonSocketError, socketError(c.fd))
		return
	case ev.Ready&api.EventRead != 0 && c.wantRead:
		nread, handled := c.handleRead(s.scratch, s.codec, s.handler)
		s.metrics.BytesRead.Add(float64(nread))
		s.metrics.Messages.Add(float64(handled))
	case ev.Ready&api.EventWrite != 0 && c.wantWrite:
		s.metrics.BytesWritten.Add(float64(c.handleWrite()))
	case ev.Ready&api.EventHangup != 0:
		c.markClose(ReasonPeerClosed, nil)
	}
	if c.wantClose {
		s.closing.Add(c)
	}
}

// acceptOne takes a single pending connection; the rest wait for the next cycle.
func (s *Server) acceptOne() {
	fd, peer, err := s.ln.accept()
	if err != nil {
		if err == unix.EAGAIN || err == unix.ECONNABORTED {
			s.log.WithError(err).Debug("accept skipped")
			return
		}
		s.metrics.AcceptErrors.Inc()
		s.log.WithError(err).Warn("accept failed")
		return
	}

	c := newConnection(fd, peer)
	if err := s.conns.Put(fd, c); err != nil {
		s.log.WithError(err).WithField("fd", fd).Error("connection table rejected descriptor")
		c.release()
		unix.Close(fd)
		return
	}
	if err := s.reactor.Add(fd, c.interest()); err != nil {
		s.log.WithError(err).WithField("fd", fd).Warn("register connection failed")
		s.conns.Remove(fd)
		c.release()
		unix.Close(fd)
		return
	}
	c.registered = c.interest()

	s.active.Add(1)
	s.metrics.Accepted.Inc()
	s.metrics.Active.Inc()
	s.log.WithFields(logrus.Fields{"fd": fd, "peer": peer}).Debug("connection accepted")
}

func (s *Server) scheduleClose(c *Connection, reason CloseReason, err error) {
	if c.wantClose {
		return
	}
	c.markClose(reason, err)
	s.closing.Add(c)
}

// reap is the single point of destruction for connections.
func (s *Server) reap() {
	for s.closing.Length() > 0 {
		c := s.closing.Remove().(*Connection)
		if s.conns.Get(c.fd) != c {
			continue
		}
		_ = s.reactor.Remove(c.fd)
		unix.Close(c.fd)
		s.conns.Remove(c.fd)
		c.release()

		s.active.Add(-1)
		s.metrics.Active.Dec()
		s.metrics.Closed.WithLabelValues(string(c.reason)).Inc()

		entry := s.log.WithFields(logrus.Fields{"fd": c.fd, "peer": c.peer, "reason": c.reason})
		switch {
		case c.reason == ReasonProtocolError:
			entry.WithError(c.err).Warn("connection closed on protocol violation")
		case c.err != nil:
			entry.WithError(c.err).Debug("connection closed")
		default:
			entry.Debug("connection closed")
		}
	}
}

// teardown closes every connection and then the listener, wake pipe and reactor.
func (s *Server) teardown() {
	s.conns.Each(func(_ int, c *Connection) bool {
		s.scheduleClose(c, ReasonShutdown, nil)
		return true
	})
	s.reap()
	_ = s.reactor.Remove(s.ln.fd)
	_ = s.reactor.Remove(s.waker.rfd)
	if err := s.ln.close(); err != nil {
		s.log.WithError(err).Warn("listener close failed")
	}
	s.waker.close()
	if err := s.reactor.Close(); err != nil {
		s.log.WithError(err).Warn("reactor close failed")
	}
}

func socketError(fd int) error {
	code, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return errors.Wrap(err, "getsockopt SO_ERROR")
	}
	if code == 0 {
		return errors.New("socket error condition")
	}
	return errors.Wrap(unix.Errno(code), "socket")
}
