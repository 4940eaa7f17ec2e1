// File: server/types.go
// Package server
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-echo/api"
	"github.com/momentics/hioload-echo/control"
	"github.com/momentics/hioload-echo/protocol"
	"github.com/momentics/hioload-echo/reactor"
)

// Config holds all server-side configuration parameters.
type Config struct {
	Host           string             // bind host, IPv4 or IPv6 literal or resolvable name
	Port           int                // bind port, 0 picks an ephemeral port
	Backlog        int                // listen(2) backlog
	MaxMessageSize int                // payload cap applied to requests and replies
	ReadBufferSize int                // scratch bytes per read(2)
	MaxEvents      int                // readiness results per wait
	Reactor        reactor.Kind       // readiness backend, empty for platform default
	CPU            int                // pin the loop thread to this CPU, -1 disables
	Logger         logrus.FieldLogger // nil uses logrus.StandardLogger()
	Metrics        *control.Metrics   // nil keeps unregistered collectors
	Handler        api.Handler        // nil uses api.Echo
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:           "0.0.0.0",
		Port:           1234,
		Backlog:        unix.SOMAXCONN,
		MaxMessageSize: protocol.DefaultMaxMessageSize,
		ReadBufferSize: 64 * 1024,
		MaxEvents:      256,
		Reactor:        reactor.Default(),
		CPU:            -1,
	}
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	switch {
	case c.Port < 0 || c.Port > math.MaxUint16:
		return errors.Wrapf(api.ErrInvalidConfig, "port %d out of range", c.Port)
	case c.Backlog <= 0:
		return errors.Wrapf(api.ErrInvalidConfig, "backlog %d", c.Backlog)
	case c.MaxMessageSize < 0 || uint64(c.MaxMessageSize) > math.MaxUint32:
		return errors.Wrapf(api.ErrInvalidConfig, "max message size %d", c.MaxMessageSize)
	case c.ReadBufferSize <= 0:
		return errors.Wrapf(api.ErrInvalidConfig, "read buffer size %d", c.ReadBufferSize)
	case c.MaxEvents <= 0:
		return errors.Wrapf(api.ErrInvalidConfig, "max events %d", c.MaxEvents)
	case c.CPU < -1:
		return errors.Wrapf(api.ErrInvalidConfig, "cpu %d", c.CPU)
	}
	if _, err := reactor.ParseKind(string(c.Reactor)); err != nil {
		return err
	}
	return nil
}
