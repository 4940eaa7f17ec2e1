// File: protocol/frame_codec.go
// Package protocol implements the frame codec with frame size enforcement.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"

	"github.com/momentics/hioload-echo/api"
)

const (
	// HeaderSize is the length of the little-endian length prefix.
	HeaderSize = 4

	// DefaultMaxMessageSize caps a single payload at 32 MiB.
	DefaultMaxMessageSize = 32 << 20
)

// Codec frames and unframes payloads under a fixed size cap.
// A Codec is immutable and safe for concurrent use.
type Codec struct {
	max int
}

// NewCodec returns a codec that accepts payloads of at most maxMessageSize
// bytes. The cap must fit the 32-bit length field.
func NewCodec(maxMessageSize int) (*Codec, error) {
	if maxMessageSize < 0 || uint64(maxMessageSize) > math.MaxUint32 {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "max message size out of range").
			WithContext("max", maxMessageSize)
	}
	return &Codec{max: maxMessageSize}, nil
}

// MaxMessageSize reports the payload cap.
func (c *Codec) MaxMessageSize() int {
	return c.max
}

// DecodeHeader parses the length prefix at the start of hdr and checks it
// against the cap. hdr must hold at least HeaderSize bytes.
func (c *Codec) DecodeHeader(hdr []byte) (int, error) {
	if len(hdr) < HeaderSize {
		return 0, api.ErrNeedMoreData
	}
	n := binary.LittleEndian.Uint32(hdr)
	if uint64(n) > uint64(c.max) {
		return 0, api.NewError(api.ErrCodeProtocol, "declared length exceeds maximum").
			WithContext("length", n).
			WithContext("max", c.max)
	}
	return int(n), nil
}

// TryDecode extracts the first complete frame from buf. It returns the
// payload, which aliases buf, and the number of bytes the frame occupies.
// ErrNeedMoreData means buf holds a valid but incomplete frame; an error
// matching api.ErrProtocol means the stream can no longer be trusted.
func (c *Codec) TryDecode(buf []byte) ([]byte, int, error) {
	n, err := c.DecodeHeader(buf)
	if err != nil {
		return nil, 0, err
	}
	end := HeaderSize + n
	if len(buf) < end {
		return nil, 0, api.ErrNeedMoreData
	}
	return buf[HeaderSize:end:end], end, nil
}

// Encode returns a freshly allocated frame carrying payload.
func (c *Codec) Encode(payload []byte) ([]byte, error) {
	return c.AppendFrame(make([]byte, 0, HeaderSize+len(payload)), payload)
}

// AppendFrame appends the frame carrying payload to dst.
func (c *Codec) AppendFrame(dst, payload []byte) ([]byte, error) {
	if err := c.checkSize(len(payload)); err != nil {
		return dst, err
	}
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...), nil
}

// WriteFrame writes the frame carrying payload to w as a header write
// followed by a payload write.
func (c *Codec) WriteFrame(w io.Writer, payload []byte) error {
	if err := c.checkSize(len(payload)); err != nil {
		return err
	}
	var hdr [HeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "write frame header")
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return errors.Wrap(err, "write frame payload")
	}
	return nil
}

func (c *Codec) checkSize(n int) error {
	if n > c.max {
		return api.NewError(api.ErrCodeMessageTooLarge, "payload exceeds maximum").
			WithContext("length", n).
			WithContext("max", c.max)
	}
	return nil
}
