// File: server/options.go
// Package server defines functional options for the Server facade.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-echo/api"
	"github.com/momentics/hioload-echo/control"
	"github.com/momentics/hioload-echo/reactor"
)

// Option customizes server initialization.
type Option func(*Config)

// WithLogger routes loop logging to l.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithMaxMessageSize overrides the payload cap.
func WithMaxMessageSize(n int) Option {
	return func(c *Config) {
		c.MaxMessageSize = n
	}
}

// WithReadBufferSize overrides the per-read scratch size.
func WithReadBufferSize(n int) Option {
	return func(c *Config) {
		c.ReadBufferSize = n
	}
}

// WithBacklog overrides the listen backlog.
func WithBacklog(n int) Option {
	return func(c *Config) {
		c.Backlog = n
	}
}

// WithReactor selects the readiness backend.
func WithReactor(k reactor.Kind) Option {
	return func(c *Config) {
		c.Reactor = k
	}
}

// WithMetrics attaches collectors, typically built with control.NewMetrics.
func WithMetrics(m *control.Metrics) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

// WithHandler replaces the echo handler.
func WithHandler(h api.Handler) Option {
	return func(c *Config) {
		c.Handler = h
	}
}

// WithMaxEvents sets how many readiness results one wait may return.
func WithMaxEvents(n int) Option {
	return func(c *Config) {
		c.MaxEvents = n
	}
}

// WithCPU pins the event loop thread to cpu for the duration of Run.
func WithCPU(cpu int) Option {
	return func(c *Config) {
		c.CPU = cpu
	}
}
