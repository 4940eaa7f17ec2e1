// File: server/conn.go
// Package server
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-socket state machine driven by the event loop.

package server

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-echo/api"
	"github.com/momentics/hioload-echo/core/buffer"
	"github.com/momentics/hioload-echo/protocol"
)

// State is the coarse position of a connection in its lifecycle.
type State int

const (
	StateReading State = iota
	StateWriting
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateReading:
		return "reading"
	case StateWriting:
		return "writing"
	case StateClosing:
		return "closing"
	}
	return "unknown"
}

// CloseReason records why a connection left the table.
type CloseReason string

const (
	ReasonNone          CloseReason = ""
	ReasonPeerClosed    CloseReason = "peer-closed"
	ReasonReadError     CloseReason = "read-error"
	ReasonWriteError    CloseReason = "write-error"
	ReasonProtocolError CloseReason = "protocol-error"
	ReasonSocketError   CloseReason = "socket-error"
	ReasonShutdown      CloseReason = "shutdown"
)

// Connection is the state of one accepted socket. It is owned by the
// connection table and touched only by the loop goroutine.
type Connection struct {
	fd   int
	peer string

	inbound  *buffer.Buffer
	outbound *buffer.Buffer

	wantRead  bool
	wantWrite bool
	wantClose bool

	registered api.EventType
	reason     CloseReason
	err        error
}

func newConnection(fd int, peer string) *Connection {
	return &Connection{
		fd:       fd,
		peer:     peer,
		inbound:  buffer.New(),
		outbound: buffer.New(),
		wantRead: true,
	}
}

// Fd returns the socket descriptor.
func (c *Connection) Fd() int { return c.fd }

// Peer returns the remote address.
func (c *Connection) Peer() string { return c.peer }

// State derives the lifecycle state from the intent flags.
func (c *Connection) State() State {
	switch {
	case c.wantClose:
		return StateClosing
	case c.wantWrite:
		return StateWriting
	}
	return StateReading
}

// CloseReason is set once the connection is marked for closing.
func (c *Connection) CloseReason() CloseReason { return c.reason }

// Err is the error that caused the close, if any.
func (c *Connection) Err() error { return c.err }

// interest is the readiness set the loop registers for this connection.
func (c *Connection) interest() api.EventType {
	var ev api.EventType
	if c.wantRead {
		ev |= api.EventRead
	}
	if c.wantWrite {
		ev |= api.EventWrite
	}
	return ev
}

// markClose flags the connection for destruction. The first reason sticks.
func (c *Connection) markClose(reason CloseReason, err error) {
	if c.wantClose {
		return
	}
	c.wantClose = true
	c.wantRead = false
	c.wantWrite = false
	c.reason = reason
	c.err = err
}

// handleRead performs one read, then answers every complete request now
// buffered. It returns the bytes read and the number of requests handled.
func (c *Connection) handleRead(scratch []byte, codec *protocol.Codec, h api.Handler) (int, int) {
	n, err := unix.Read(c.fd, scratch)
	switch {
	case err == unix.EAGAIN || err == unix.EINTR:
		return 0, 0
	case err != nil:
		c.markClose(ReasonReadError, errors.Wrap(err, "read"))
		return 0, 0
	case n == 0:
		c.markClose(ReasonPeerClosed, nil)
		return 0, 0
	}
	c.inbound.Append(scratch[:n])

	handled := 0
	for {
		payload, consumed, err := codec.TryDecode(c.inbound.Bytes())
		if errors.Is(err, api.ErrNeedMoreData) {
			break
		}
		if err != nil {
			c.markClose(ReasonProtocolError, err)
			return n, handled
		}
		reply := h.Handle(payload)
		if err := codec.WriteFrame(c.outbound, reply); err != nil {
			c.markClose(ReasonProtocolError, errors.Wrap(err, "reply"))
			return n, handled
		}
		c.inbound.Consume(consumed)
		handled++
	}

	if c.outbound.Len() > 0 {
		c.wantRead = false
		c.wantWrite = true
	}
	return n, handled
}

// handleWrite flushes as much of the outbound buffer as the socket accepts
// and returns the byte count written.
func (c *Connection) handleWrite() int {
	n, err := unix.Write(c.fd, c.outbound.Bytes())
	switch {
	case err == unix.EAGAIN || err == unix.EINTR:
		return 0
	case err != nil:
		c.markClose(ReasonWriteError, errors.Wrap(err, "write"))
		return 0
	}
	c.outbound.Consume(n)
	if c.outbound.Len() == 0 {
		c.wantWrite = false
		c.wantRead = true
	}
	return n
}

// release returns both buffers to the pool.
func (c *Connection) release() {
	c.inbound.Release()
	c.outbound.Release()
}
