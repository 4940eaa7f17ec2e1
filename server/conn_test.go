package server

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-echo/api"
	"github.com/momentics/hioload-echo/protocol"
)

// connPair returns a Connection over one end of a socketpair and the raw peer fd.
func connPair(t *testing.T) (*Connection, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	c := newConnection(fds[0], "pair")
	t.Cleanup(func() {
		c.release()
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return c, fds[1]
}

func mustCodec(t *testing.T, max int) *protocol.Codec {
	t.Helper()
	codec, err := protocol.NewCodec(max)
	require.NoError(t, err)
	return codec
}

func writeAll(t *testing.T, fd int, p []byte) {
	t.Helper()
	for len(p) > 0 {
		n, err := unix.Write(fd, p)
		require.NoError(t, err)
		p = p[n:]
	}
}

func readN(t *testing.T, fd, n int) []byte {
	t.Helper()
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		m, err := unix.Read(fd, buf[:n-len(out)])
		require.NoError(t, err)
		require.NotZero(t, m)
		out = append(out, buf[:m]...)
	}
	return out
}

func assertOneIntent(t *testing.T, c *Connection) {
	t.Helper()
	if c.wantClose {
		return
	}
	assert.NotEqual(t, c.wantRead, c.wantWrite, "exactly one of wantRead/wantWrite must hold")
}

func TestConnectionEchoesPipelinedRequests(t *testing.T) {
	c, peer := connPair(t)
	codec := mustCodec(t, 1024)
	scratch := make([]byte, 64)

	var req []byte
	for _, msg := range []string{"test1", "test2"} {
		var err error
		req, err = codec.AppendFrame(req, []byte(msg))
		require.NoError(t, err)
	}
	writeAll(t, peer, req)

	assert.Equal(t, StateReading, c.State())
	nread, handled := c.handleRead(scratch, codec, api.Echo)
	assert.Equal(t, len(req), nread)
	assert.Equal(t, 2, handled)
	assert.Equal(t, StateWriting, c.State())
	assert.Equal(t, api.EventWrite, c.interest())
	assertOneIntent(t, c)
	assert.Zero(t, c.inbound.Len())

	written := c.handleWrite()
	assert.Equal(t, len(req), written)
	assert.Equal(t, StateReading, c.State())
	assertOneIntent(t, c)

	assert.Equal(t, req, readN(t, peer, len(req)))
}

func TestConnectionPartialHeaderWaits(t *testing.T) {
	c, peer := connPair(t)
	codec := mustCodec(t, 1024)

	writeAll(t, peer, []byte{5, 0})
	_, handled := c.handleRead(make([]byte, 64), codec, api.Echo)
	assert.Zero(t, handled)
	assert.Equal(t, StateReading, c.State())
	assert.Equal(t, 2, c.inbound.Len())

	writeAll(t, peer, []byte{0, 0, 'h', 'e', 'l', 'l', 'o'})
	_, handled = c.handleRead(make([]byte, 64), codec, api.Echo)
	assert.Equal(t, 1, handled)
	assert.Equal(t, StateWriting, c.State())
}

func TestConnectionWouldBlockIsNoop(t *testing.T) {
	c, _ := connPair(t)
	nread, handled := c.handleRead(make([]byte, 64), mustCodec(t, 1024), api.Echo)
	assert.Zero(t, nread)
	assert.Zero(t, handled)
	assert.Equal(t, StateReading, c.State())
	assert.Equal(t, ReasonNone, c.CloseReason())
}

func TestConnectionPeerClosed(t *testing.T) {
	c, peer := connPair(t)
	writeAll(t, peer, []byte{1, 0})
	require.NoError(t, unix.Shutdown(peer, unix.SHUT_WR))

	c.handleRead(make([]byte, 64), mustCodec(t, 1024), api.Echo)
	assert.Equal(t, StateReading, c.State())
	c.handleRead(make([]byte, 64), mustCodec(t, 1024), api.Echo)
	assert.Equal(t, StateClosing, c.State())
	assert.Equal(t, ReasonPeerClosed, c.CloseReason())
	assert.Zero(t, c.interest())
}

func TestConnectionOversizedRequest(t *testing.T) {
	c, peer := connPair(t)
	// header announces 2048 bytes against a 1024 cap
	writeAll(t, peer, []byte{0x00, 0x08, 0x00, 0x00})

	c.handleRead(make([]byte, 64), mustCodec(t, 1024), api.Echo)
	assert.Equal(t, StateClosing, c.State())
	assert.Equal(t, ReasonProtocolError, c.CloseReason())
	assert.ErrorIs(t, c.Err(), api.ErrProtocol)
	assert.Zero(t, c.outbound.Len(), "no reply on protocol error")
}

func TestConnectionOversizedReply(t *testing.T) {
	c, peer := connPair(t)
	codec := mustCodec(t, 16)
	grow := api.HandlerFunc(func(p []byte) []byte { return bytes.Repeat(p, 10) })

	frame, err := codec.Encode([]byte("abcd"))
	require.NoError(t, err)
	writeAll(t, peer, frame)

	c.handleRead(make([]byte, 64), codec, grow)
	assert.Equal(t, ReasonProtocolError, c.CloseReason())
	assert.ErrorIs(t, c.Err(), api.ErrMessageTooLarge)
}

func TestConnectionWriteToClosedPeer(t *testing.T) {
	c, peer := connPair(t)
	codec := mustCodec(t, 1024)

	frame, err := codec.Encode([]byte("x"))
	require.NoError(t, err)
	writeAll(t, peer, frame)
	c.handleRead(make([]byte, 64), codec, api.Echo)
	require.Equal(t, StateWriting, c.State())

	require.NoError(t, unix.Close(peer))
	c.handleWrite()
	assert.Equal(t, StateClosing, c.State())
	assert.Equal(t, ReasonWriteError, c.CloseReason())
}

func TestMarkCloseKeepsFirstReason(t *testing.T) {
	c, _ := connPair(t)
	c.markClose(ReasonSocketError, nil)
	c.markClose(ReasonShutdown, nil)
	assert.Equal(t, ReasonSocketError, c.CloseReason())
	assert.Equal(t, "closing", c.State().String())
}
