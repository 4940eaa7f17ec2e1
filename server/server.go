// File: server/server.go
// Package server
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server facade: binds the listener, owns the reactor and exposes the
// Run/Shutdown lifecycle around the single-threaded event loop.

package server

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-echo/affinity"
	"github.com/momentics/hioload-echo/api"
	"github.com/momentics/hioload-echo/control"
	"github.com/momentics/hioload-echo/internal/conntable"
	"github.com/momentics/hioload-echo/protocol"
	"github.com/momentics/hioload-echo/reactor"
)

type lifecycle int

const (
	stateIdle lifecycle = iota
	stateRunning
	stateClosed
)

// Server is a readiness-multiplexed TCP server answering length-prefixed
// requests on a single goroutine.
type Server struct {
	cfg     Config
	log     logrus.FieldLogger
	metrics *control.Metrics
	handler api.Handler
	codec   *protocol.Codec

	ln      *listener
	reactor api.Reactor
	waker   *waker

	// loop-owned state
	conns   *conntable.Table[Connection]
	closing *queue.Queue
	scratch []byte
	events  []api.Event

	active     atomic.Int64
	iterations atomic.Uint64
	stopping   atomic.Bool

	mu    sync.Mutex
	state lifecycle
	done  chan struct{}
}

// Stats is a point-in-time view safe to read from any goroutine.
type Stats struct {
	Active     int64
	Iterations uint64
}

// New validates the configuration, binds the listening socket and prepares
// the reactor. Bind and listen failures are returned here, never from Run.
func New(cfg *Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	for _, o := range opts {
		o(&c)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if c.Metrics == nil {
		c.Metrics = control.NewMetrics(nil)
	}
	if c.Handler == nil {
		c.Handler = api.Echo
	}
	if c.Reactor == "" {
		c.Reactor = reactor.Default()
	}

	codec, err := protocol.NewCodec(c.MaxMessageSize)
	if err != nil {
		return nil, err
	}
	r, err := reactor.New(c.Reactor)
	if err != nil {
		return nil, err
	}
	ln, err := listen(c.Host, c.Port, c.Backlog)
	if err != nil {
		r.Close()
		return nil, err
	}
	w, err := newWaker()
	if err != nil {
		ln.close()
		r.Close()
		return nil, err
	}
	for _, fd := range []int{ln.fd, w.rfd} {
		if err := r.Add(fd, api.EventRead); err != nil {
			w.close()
			ln.close()
			r.Close()
			return nil, errors.Wrap(err, "register listener")
		}
	}

	s := &Server{
		cfg:     c,
		log:     c.Logger.WithField("component", "server"),
		metrics: c.Metrics,
		handler: c.Handler,
		codec:   codec,
		ln:      ln,
		reactor: r,
		waker:   w,
		conns:   conntable.New[Connection](1024),
		closing: queue.New(),
		scratch: make([]byte, c.ReadBufferSize),
		events:  make([]api.Event, c.MaxEvents),
		done:    make(chan struct{}),
	}
	return s, nil
}

// Addr is the bound listening address, with the resolved port when 0 was requested.
func (s *Server) Addr() net.Addr {
	return s.ln.addr
}

// Config returns the effective configuration.
func (s *Server) Config() Config {
	return s.cfg
}

// Run drives the event loop until Shutdown is called or ctx is done.
// It returns nil on orderly stop.
func (s *Server) Run(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case stateRunning:
		s.mu.Unlock()
		return api.ErrAlreadyRunning
	case stateClosed:
		s.mu.Unlock()
		return api.ErrServerClosed
	}
	s.state = stateRunning
	s.mu.Unlock()

	if s.cfg.CPU >= 0 {
		if release, err := affinity.Pin(s.cfg.CPU); err != nil {
			s.log.WithError(err).WithField("cpu", s.cfg.CPU).Warn("loop thread not pinned")
		} else {
			defer release()
		}
	}

	s.log.WithFields(logrus.Fields{
		"addr":    s.ln.addr.String(),
		"reactor": string(s.cfg.Reactor),
		"max_msg": s.cfg.MaxMessageSize,
	}).Info("echo server listening")

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			s.stopping.Store(true)
			s.waker.wake()
		case <-stop:
		}
	}()

	err := s.loop()

	close(stop)
	wg.Wait()
	s.teardown()

	s.mu.Lock()
	s.state = stateClosed
	s.mu.Unlock()
	close(s.done)

	if err != nil {
		s.log.WithError(err).Error("event loop failed")
		return err
	}
	s.log.Info("echo server stopped")
	return nil
}

// Shutdown asks a running loop to stop and returns immediately; Done is
// closed once teardown completes. On a server that never ran it releases
// the listener directly. Safe from any goroutine.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	switch s.state {
	case stateIdle:
		s.state = stateClosed
		s.mu.Unlock()
		s.teardown()
		close(s.done)
		return nil
	case stateClosed:
		s.mu.Unlock()
		return nil
	}
	s.stopping.Store(true)
	s.mu.Unlock()
	s.waker.wake()
	return nil
}

// Done is closed after the server has released all descriptors.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Stats reports loop counters.
func (s *Server) Stats() Stats {
	return Stats{
		Active:     s.active.Load(),
		Iterations: s.iterations.Load(),
	}
}

// RegisterProbes publishes loop state on dp.
func (s *Server) RegisterProbes(dp *control.DebugProbes) {
	dp.RegisterProbe("connections.active", func() any { return s.active.Load() })
	dp.RegisterProbe("loop.iterations", func() any { return s.iterations.Load() })
	dp.RegisterProbe("config.max_message_size", func() any { return s.cfg.MaxMessageSize })
	dp.RegisterProbe("config.reactor", func() any { return string(s.cfg.Reactor) })
	dp.RegisterProbe("listener.addr", func() any { return s.ln.addr.String() })
}
