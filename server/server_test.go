package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/momentics/hioload-echo/api"
	"github.com/momentics/hioload-echo/control"
	"github.com/momentics/hioload-echo/protocol"
	"github.com/momentics/hioload-echo/reactor"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testMax = 1 << 20

type harness struct {
	srv     *Server
	codec   *protocol.Codec
	hook    *logtest.Hook
	metrics *control.Metrics
	reg     *prometheus.Registry
	runErr  chan error
}

func start(t *testing.T, kind reactor.Kind, opts ...Option) *harness {
	t.Helper()
	h := prepare(t, kind, opts...)
	h.run(t)
	return h
}

// prepare builds a bound but not yet running server.
func prepare(t *testing.T, kind reactor.Kind, opts ...Option) *harness {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	reg := prometheus.NewRegistry()
	m := control.NewMetrics(reg)

	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	base := []Option{WithReactor(kind), WithLogger(logger), WithMetrics(m), WithMaxMessageSize(testMax)}
	srv, err := New(cfg, append(base, opts...)...)
	require.NoError(t, err)

	return &harness{
		srv:     srv,
		codec:   mustCodec(t, srv.Config().MaxMessageSize),
		hook:    hook,
		metrics: m,
		reg:     reg,
		runErr:  make(chan error, 1),
	}
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	go func() { h.runErr <- h.srv.Run(context.Background()) }()
	t.Cleanup(func() {
		require.NoError(t, h.srv.Shutdown())
		select {
		case err := <-h.runErr:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("server did not stop")
		}
	})
}

func (h *harness) dial(t *testing.T) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", h.srv.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (h *harness) send(t *testing.T, conn net.Conn, payloads ...[]byte) {
	t.Helper()
	var out []byte
	for _, p := range payloads {
		var err error
		out, err = h.codec.AppendFrame(out, p)
		require.NoError(t, err)
	}
	_, err := conn.Write(out)
	require.NoError(t, err)
}

func (h *harness) recv(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	var hdr [protocol.HeaderSize]byte
	_, err := io.ReadFull(conn, hdr[:])
	require.NoError(t, err)
	n, err := h.codec.DecodeHeader(hdr[:])
	require.NoError(t, err)
	payload := make([]byte, n)
	_, err = io.ReadFull(conn, payload)
	require.NoError(t, err)
	return payload
}

func forEachReactor(t *testing.T, fn func(t *testing.T, kind reactor.Kind)) {
	for _, kind := range reactor.Supported() {
		t.Run(string(kind), func(t *testing.T) { fn(t, kind) })
	}
}

func TestEchoPipelined(t *testing.T) {
	forEachReactor(t, func(t *testing.T, kind reactor.Kind) {
		h := start(t, kind)
		conn := h.dial(t)

		h.send(t, conn, []byte("test1"), []byte("test2"))
		assert.Equal(t, "test1", string(h.recv(t, conn)))
		assert.Equal(t, "test2", string(h.recv(t, conn)))

		h.send(t, conn, bytes.Repeat([]byte("z"), 3000), nil)
		assert.Len(t, h.recv(t, conn), 3000)
		assert.Empty(t, h.recv(t, conn))
	})
}

func TestEchoMaxSizePayload(t *testing.T) {
	forEachReactor(t, func(t *testing.T, kind reactor.Kind) {
		h := start(t, kind)
		conn := h.dial(t)

		payload := make([]byte, testMax)
		for i := range payload {
			payload[i] = byte(i * 7)
		}
		h.send(t, conn, []byte("small"), payload)
		assert.Equal(t, "small", string(h.recv(t, conn)))
		assert.True(t, bytes.Equal(payload, h.recv(t, conn)), "max-size payload corrupted")
	})
}

func TestIdleThenCloseFreesSlot(t *testing.T) {
	forEachReactor(t, func(t *testing.T, kind reactor.Kind) {
		h := start(t, kind)
		conn := h.dial(t)
		require.Eventually(t, func() bool { return h.srv.Stats().Active == 1 }, 5*time.Second, 5*time.Millisecond)

		_, err := conn.Write([]byte{3, 0})
		require.NoError(t, err)
		require.NoError(t, conn.Close())

		require.Eventually(t, func() bool { return h.srv.Stats().Active == 0 }, 5*time.Second, 5*time.Millisecond)
		require.Eventually(t, func() bool {
			return testutil.ToFloat64(h.metrics.Closed.WithLabelValues(string(ReasonPeerClosed))) == 1
		}, 5*time.Second, 5*time.Millisecond)
	})
}

func TestBacklogDrain(t *testing.T) {
	forEachReactor(t, func(t *testing.T, kind reactor.Kind) {
		h := start(t, kind)
		const peers = 100

		var wg sync.WaitGroup
		errs := make(chan error, peers)
		for i := 0; i < peers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				conn, err := net.DialTimeout("tcp", h.srv.Addr().String(), 5*time.Second)
				if err != nil {
					errs <- err
					return
				}
				defer conn.Close()
				conn.SetDeadline(time.Now().Add(10 * time.Second))

				msg := []byte(fmt.Sprintf("peer-%03d", i))
				frame, _ := h.codec.Encode(msg)
				if _, err := conn.Write(frame); err != nil {
					errs <- err
					return
				}
				reply := make([]byte, len(frame))
				if _, err := io.ReadFull(conn, reply); err != nil {
					errs <- err
					return
				}
				if !bytes.Equal(frame, reply) {
					errs <- fmt.Errorf("peer %d: got %q", i, reply)
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			assert.NoError(t, err)
		}
		assert.Equal(t, float64(peers), testutil.ToFloat64(h.metrics.Accepted))
	})
}

func TestProtocolErrorClosesOnlyOffender(t *testing.T) {
	forEachReactor(t, func(t *testing.T, kind reactor.Kind) {
		h := start(t, kind, WithMaxMessageSize(1024))
		bad := h.dial(t)
		good := h.dial(t)

		_, err := bad.Write([]byte{0x01, 0x04, 0x00, 0x00}) // 1025
		require.NoError(t, err)
		_, err = bad.Read(make([]byte, 1))
		require.ErrorIs(t, err, io.EOF)

		h.send(t, good, []byte("still here"))
		assert.Equal(t, "still here", string(h.recv(t, good)))

		require.Eventually(t, func() bool {
			return testutil.ToFloat64(h.metrics.Closed.WithLabelValues(string(ReasonProtocolError))) == 1
		}, 5*time.Second, 5*time.Millisecond)
		require.Eventually(t, func() bool {
			for _, e := range h.hook.AllEntries() {
				if e.Level == logrus.WarnLevel && e.Data["reason"] == ReasonProtocolError {
					return true
				}
			}
			return false
		}, 5*time.Second, 5*time.Millisecond)
	})
}

func TestCustomHandler(t *testing.T) {
	upper := api.HandlerFunc(func(p []byte) []byte { return bytes.ToUpper(p) })
	h := start(t, reactor.Default(), WithHandler(upper))
	conn := h.dial(t)
	h.send(t, conn, []byte("shout"))
	assert.Equal(t, "SHOUT", string(h.recv(t, conn)))
}

func TestZeroMaxEchoesOnlyEmptyFrames(t *testing.T) {
	h := start(t, reactor.Default(), WithMaxMessageSize(0))
	conn := h.dial(t)
	h.send(t, conn, nil, nil)
	assert.Empty(t, h.recv(t, conn))
	assert.Empty(t, h.recv(t, conn))

	// length 1 exceeds the cap
	_, err := conn.Write([]byte{1, 0, 0, 0, 'x'})
	require.NoError(t, err)
	_, err = conn.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.Closed.WithLabelValues(string(ReasonProtocolError))) == 1
	}, 5*time.Second, time.Millisecond)
}

func TestMetricsAndProbes(t *testing.T) {
	h := start(t, reactor.Default())
	conn := h.dial(t)
	h.send(t, conn, []byte("a"), []byte("bc"))
	h.recv(t, conn)
	h.recv(t, conn)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Accepted))
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.Messages))
	assert.Equal(t, float64(2*protocol.HeaderSize+3), testutil.ToFloat64(h.metrics.BytesRead))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Active))
	assert.Positive(t, testutil.ToFloat64(h.metrics.LoopIterations))

	dp := control.NewDebugProbes()
	h.srv.RegisterProbes(dp)
	state := dp.DumpState()
	assert.EqualValues(t, 1, state["connections.active"])
	assert.Equal(t, testMax, state["config.max_message_size"])
	assert.Equal(t, h.srv.Addr().String(), state["listener.addr"])
}

func TestRunLifecycle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host, cfg.Port = "127.0.0.1", 0
	logger, _ := logtest.NewNullLogger()
	srv, err := New(cfg, WithLogger(logger))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	require.Eventually(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return srv.state == stateRunning
	}, 5*time.Second, 5*time.Millisecond)
	require.ErrorIs(t, srv.Run(context.Background()), api.ErrAlreadyRunning)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	<-srv.Done()
	require.ErrorIs(t, srv.Run(context.Background()), api.ErrServerClosed)
	require.NoError(t, srv.Shutdown())

	_, err = net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	require.Error(t, err, "listener must be closed")
}

func TestShutdownWithOpenConnections(t *testing.T) {
	forEachReactor(t, func(t *testing.T, kind reactor.Kind) {
		cfg := DefaultConfig()
		cfg.Host, cfg.Port = "127.0.0.1", 0
		logger, _ := logtest.NewNullLogger()
		m := control.NewMetrics(nil)
		srv, err := New(cfg, WithReactor(kind), WithLogger(logger), WithMetrics(m))
		require.NoError(t, err)
		done := make(chan error, 1)
		go func() { done <- srv.Run(context.Background()) }()

		conn, err := net.Dial("tcp", srv.Addr().String())
		require.NoError(t, err)
		defer conn.Close()
		require.Eventually(t, func() bool { return srv.Stats().Active == 1 }, 5*time.Second, 5*time.Millisecond)

		require.NoError(t, srv.Shutdown())
		require.NoError(t, <-done)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Closed.WithLabelValues(string(ReasonShutdown))))
		assert.Zero(t, srv.Stats().Active)

		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, err = conn.Read(make([]byte, 1))
		assert.ErrorIs(t, err, io.EOF)
	})
}

// openFDs reads the descriptor count the platform debug probe reports.
func openFDs(t *testing.T) int {
	t.Helper()
	dp := control.NewDebugProbes()
	control.RegisterPlatformProbes(dp)
	n, ok := dp.DumpState()["platform.open_fds"].(int)
	if !ok || n < 0 {
		t.Skip("descriptor count unavailable on this platform")
	}
	return n
}

func TestTeardownReleasesDescriptors(t *testing.T) {
	forEachReactor(t, func(t *testing.T, kind reactor.Kind) {
		// bring up the runtime netpoller so it is part of the baseline
		warm, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		require.NoError(t, warm.Close())
		before := openFDs(t)

		h := prepare(t, kind)
		go func() { h.runErr <- h.srv.Run(context.Background()) }()
		t.Cleanup(func() { h.srv.Shutdown() })
		conn, err := net.DialTimeout("tcp", h.srv.Addr().String(), 2*time.Second)
		require.NoError(t, err)
		require.NoError(t, conn.SetDeadline(time.Now().Add(10*time.Second)))
		h.send(t, conn, []byte("hold"))
		assert.Equal(t, "hold", string(h.recv(t, conn)))
		assert.Greater(t, openFDs(t), before)

		require.NoError(t, h.srv.Shutdown())
		require.NoError(t, <-h.runErr)
		<-h.srv.Done()
		require.NoError(t, conn.Close())

		// listener, reactor, wake pipe and accepted sockets are all gone
		require.Eventually(t, func() bool { return openFDs(t) == before }, 5*time.Second, 5*time.Millisecond)
	})
}

func TestShutdownBeforeRun(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host, cfg.Port = "127.0.0.1", 0
	srv, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, srv.Shutdown())
	<-srv.Done()
	require.ErrorIs(t, srv.Run(context.Background()), api.ErrServerClosed)
}

func TestNewRejectsBadConfig(t *testing.T) {
	for name, opt := range map[string]Option{
		"max message": WithMaxMessageSize(-1),
		"read buffer": WithReadBufferSize(-1),
		"backlog":     WithBacklog(0),
		"max events":  WithMaxEvents(0),
		"reactor":     WithReactor("kqueue"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := New(nil, opt)
			require.ErrorIs(t, err, api.ErrInvalidConfig)
		})
	}

	cfg := DefaultConfig()
	cfg.Port = 70000
	_, err := New(cfg)
	require.ErrorIs(t, err, api.ErrInvalidConfig)
}

func TestBindConflictIsStartupError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host, cfg.Port = "127.0.0.1", 0
	first, err := New(cfg)
	require.NoError(t, err)
	defer first.Shutdown()

	cfg.Port = first.Addr().(*net.TCPAddr).Port
	_, err = New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bind")
}

func TestIPv6Loopback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host, cfg.Port = "::1", 0
	logger, _ := logtest.NewNullLogger()
	srv, err := New(cfg, WithLogger(logger))
	if err != nil {
		t.Skipf("ipv6 loopback unavailable: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Run(context.Background()) }()
	defer func() {
		srv.Shutdown()
		require.NoError(t, <-done)
	}()

	h := &harness{srv: srv, codec: mustCodec(t, cfg.MaxMessageSize)}
	conn := h.dial(t)
	h.send(t, conn, []byte("v6"))
	assert.Equal(t, "v6", string(h.recv(t, conn)))
}

func TestPinnedLoopEchoes(t *testing.T) {
	h := start(t, reactor.Default(), WithCPU(0))
	conn := h.dial(t)
	h.send(t, conn, []byte("pinned"))
	assert.Equal(t, "pinned", string(h.recv(t, conn)))
}
