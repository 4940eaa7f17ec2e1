// File: client/pool.go
// Package client
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bounded pool of blocking connections guarded by a circuit breaker.

package client

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jackc/puddle/v2"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker/v2"
	"github.com/zeebo/xxh3"
)

// ErrEchoMismatch reports a reply whose content differs from the request.
var ErrEchoMismatch = errors.New("client: echoed payload differs from request")

// PoolConfig configures NewPool.
type PoolConfig struct {
	Addr     string
	MaxConns int32
	Options  Options

	// Breaker trips after BreakerMinRequests with a failure ratio of at
	// least BreakerFailureRatio; it half-opens after BreakerTimeout.
	BreakerMinRequests  uint32
	BreakerFailureRatio float64
	BreakerTimeout      time.Duration
}

// PoolStats is a snapshot of pool and breaker state.
type PoolStats struct {
	TotalConns     int32
	IdleConns      int32
	AcquiredConns  int32
	AcquireCount   int64
	CreatedConns   int64
	DestroyedConns int64
	BreakerState   gobreaker.State
	Mismatches     int64
}

// Pool multiplexes requests over up to MaxConns connections.
type Pool struct {
	addr    string
	pool    *puddle.Pool[*Conn]
	breaker *gobreaker.CircuitBreaker[[]byte]

	created    atomic.Int64
	destroyed  atomic.Int64
	mismatches atomic.Int64
}

// NewPool builds a pool; connections are dialed lazily on first use.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 8
	}
	if cfg.BreakerMinRequests == 0 {
		cfg.BreakerMinRequests = 5
	}
	if cfg.BreakerFailureRatio <= 0 {
		cfg.BreakerFailureRatio = 0.6
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 5 * time.Second
	}

	p := &Pool{addr: cfg.Addr}
	pool, err := puddle.NewPool(&puddle.Config[*Conn]{
		Constructor: func(ctx context.Context) (*Conn, error) {
			c, err := Dial(ctx, cfg.Addr, cfg.Options)
			if err == nil {
				p.created.Add(1)
			}
			return c, err
		},
		Destructor: func(c *Conn) {
			p.destroyed.Add(1)
			_ = c.Close()
		},
		MaxSize: cfg.MaxConns,
	})
	if err != nil {
		return nil, errors.Wrap(err, "client pool")
	}
	p.pool = pool

	p.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        cfg.Addr,
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= cfg.BreakerMinRequests && ratio >= cfg.BreakerFailureRatio
		},
		// local validation failures say nothing about server health
		IsSuccessful: func(err error) bool { return !Broken(err) },
	})
	return p, nil
}

// Request performs one round trip on a pooled connection. Connections that
// fail mid-stream are destroyed rather than returned.
func (p *Pool) Request(ctx context.Context, payload []byte) ([]byte, error) {
	return p.breaker.Execute(func() ([]byte, error) {
		res, err := p.pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		reply, err := res.Value().Request(ctx, payload)
		if Broken(err) {
			res.Destroy()
			return nil, err
		}
		res.Release()
		return reply, err
	})
}

// Echo sends payload and verifies the reply hashes identically.
func (p *Pool) Echo(ctx context.Context, payload []byte) error {
	reply, err := p.Request(ctx, payload)
	if err != nil {
		return err
	}
	if len(reply) != len(payload) || xxh3.Hash(reply) != xxh3.Hash(payload) {
		p.mismatches.Add(1)
		return errors.Wrapf(ErrEchoMismatch, "sent %d bytes, got %d", len(payload), len(reply))
	}
	return nil
}

// Stats returns a snapshot.
func (p *Pool) Stats() PoolStats {
	s := p.pool.Stat()
	return PoolStats{
		TotalConns:     s.TotalResources(),
		IdleConns:      s.IdleResources(),
		AcquiredConns:  s.AcquiredResources(),
		AcquireCount:   s.AcquireCount(),
		CreatedConns:   p.created.Load(),
		DestroyedConns: p.destroyed.Load(),
		BreakerState:   p.breaker.State(),
		Mismatches:     p.mismatches.Load(),
	}
}

// Close destroys idle connections and waits for acquired ones to return.
func (p *Pool) Close() {
	p.pool.Close()
}
