// File: client/client.go
// Package client provides a blocking client for the length-prefixed echo protocol.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// This client implements:
// - Dial with bounded exponential backoff between attempts
// - Pipelined sends sharing one codec (and payload cap) with the server
// - Request/response round trips with context deadlines
// - Idempotent Close

package client

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-echo/api"
	"github.com/momentics/hioload-echo/protocol"
)

// ErrClosed is returned by operations on a closed Conn.
var ErrClosed = errors.New("client: connection closed")

// Options holds all configurable parameters for the client.
type Options struct {
	MaxMessageSize int                // payload cap, must match the server's
	DialTimeout    time.Duration      // per-attempt connect timeout
	DialAttempts   int                // total connect attempts (min 1)
	BackoffMin     time.Duration      // first retry delay
	BackoffMax     time.Duration      // retry delay ceiling
	Logger         logrus.FieldLogger // nil uses logrus.StandardLogger()
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxMessageSize: protocol.DefaultMaxMessageSize,
		DialTimeout:    2 * time.Second,
		DialAttempts:   5,
		BackoffMin:     50 * time.Millisecond,
		BackoffMax:     time.Second,
	}
}

func (o *Options) fill() {
	d := DefaultOptions()
	if o.MaxMessageSize == 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = d.DialTimeout
	}
	if o.DialAttempts <= 0 {
		o.DialAttempts = 1
	}
	if o.BackoffMin <= 0 {
		o.BackoffMin = d.BackoffMin
	}
	if o.BackoffMax < o.BackoffMin {
		o.BackoffMax = o.BackoffMin
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
}

// Conn is a blocking framed connection. Send and Recv may be used from
// different goroutines; Request serializes a full round trip.
type Conn struct {
	nc    net.Conn
	codec *protocol.Codec

	wmu  sync.Mutex
	wbuf []byte

	rmu sync.Mutex
	r   *bufio.Reader
	hdr [protocol.HeaderSize]byte

	reqMu     sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Dial connects to addr, retrying with backoff until DialAttempts is
// exhausted or ctx is done.
func Dial(ctx context.Context, addr string, opts Options) (*Conn, error) {
	opts.fill()
	codec, err := protocol.NewCodec(opts.MaxMessageSize)
	if err != nil {
		return nil, err
	}
	b := &backoff.Backoff{
		Factor: 2,
		Jitter: true,
		Min:    opts.BackoffMin,
		Max:    opts.BackoffMax,
	}
	d := net.Dialer{Timeout: opts.DialTimeout}

	for attempt := 1; ; attempt++ {
		nc, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return newConn(nc, codec), nil
		}
		if attempt >= opts.DialAttempts || ctx.Err() != nil {
			return nil, errors.Wrapf(err, "dial %s after %d attempts", addr, attempt)
		}
		wait := b.Duration()
		opts.Logger.WithFields(logrus.Fields{
			"addr":    addr,
			"attempt": attempt,
			"retry":   wait,
		}).WithError(err).Debug("dial failed")

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, errors.Wrapf(ctx.Err(), "dial %s", addr)
		case <-t.C:
		}
	}
}

func newConn(nc net.Conn, codec *protocol.Codec) *Conn {
	if tc, ok := nc.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return &Conn{
		nc:    nc,
		codec: codec,
		r:     bufio.NewReaderSize(nc, 64*1024),
	}
}

// Send writes every payload as its own frame in a single write.
func (c *Conn) Send(payloads ...[]byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	buf := c.wbuf[:0]
	for _, p := range payloads {
		var err error
		if buf, err = c.codec.AppendFrame(buf, p); err != nil {
			return err
		}
	}
	c.wbuf = buf
	if _, err := c.nc.Write(buf); err != nil {
		return c.ioErr(err, "send")
	}
	return nil
}

// Recv reads the next frame and returns a freshly allocated payload.
func (c *Conn) Recv() ([]byte, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	if _, err := io.ReadFull(c.r, c.hdr[:]); err != nil {
		return nil, c.ioErr(err, "recv header")
	}
	n, err := c.codec.DecodeHeader(c.hdr[:])
	if err != nil {
		return nil, err
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return nil, c.ioErr(err, "recv payload")
	}
	return payload, nil
}

// Request sends payload and waits for one reply. The context deadline,
// if any, bounds the whole round trip.
func (c *Conn) Request(ctx context.Context, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.nc.SetDeadline(deadline); err != nil {
		return nil, c.ioErr(err, "set deadline")
	}
	if err := c.Send(payload); err != nil {
		return nil, err
	}
	return c.Recv()
}

// LocalAddr returns the local socket address.
func (c *Conn) LocalAddr() net.Addr { return c.nc.LocalAddr() }

// RemoteAddr returns the server address.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// Close is idempotent.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.nc.Close()
	})
	return c.closeErr
}

func (c *Conn) ioErr(err error, op string) error {
	if errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return errors.Wrap(err, op)
}

// Broken reports whether err leaves the connection unusable. A rejected
// payload is a local check and keeps the stream intact.
func Broken(err error) bool {
	return err != nil && !errors.Is(err, api.ErrMessageTooLarge)
}
