// File: core/buffer/buffer.go
// Package buffer implements the growable per-connection byte queue.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bytes are appended at the tail and consumed from the head. Storage comes
// from bytebufferpool and is handed back on Release, so connection churn does
// not re-grow fresh slices for every accept.

package buffer

import (
	"fmt"

	"github.com/valyala/bytebufferpool"
)

var storage bytebufferpool.Pool

// Buffer is a FIFO byte queue. The zero value is not usable; call New.
// Buffer is not safe for concurrent use.
type Buffer struct {
	bb  *bytebufferpool.ByteBuffer
	off int // start of unconsumed data within bb.B
}

// New returns an empty buffer backed by pooled storage.
func New() *Buffer {
	return &Buffer{bb: storage.Get()}
}

// Len reports the number of unconsumed bytes.
func (b *Buffer) Len() int {
	return len(b.bb.B) - b.off
}

// Bytes returns the unconsumed bytes. The slice aliases internal storage and
// is invalidated by the next Append, Consume or Release.
func (b *Buffer) Bytes() []byte {
	return b.bb.B[b.off:]
}

// Append copies p to the tail.
func (b *Buffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	b.compact(len(p))
	b.bb.B = append(b.bb.B, p...)
}

// Write implements io.Writer on top of Append. It never fails.
func (b *Buffer) Write(p []byte) (int, error) {
	b.Append(p)
	return len(p), nil
}

// Consume drops n bytes from the head. Consuming more than Len is a
// programming error and panics.
func (b *Buffer) Consume(n int) {
	if n < 0 || n > b.Len() {
		panic(fmt.Sprintf("buffer: consume %d of %d bytes", n, b.Len()))
	}
	b.off += n
	if b.off == len(b.bb.B) {
		b.bb.B = b.bb.B[:0]
		b.off = 0
	}
}

// Reset drops all data but keeps the storage.
func (b *Buffer) Reset() {
	b.bb.Reset()
	b.off = 0
}

// Release hands the storage back to the pool. The buffer must not be used
// afterwards.
func (b *Buffer) Release() {
	if b.bb == nil {
		return
	}
	storage.Put(b.bb)
	b.bb = nil
	b.off = 0
}

// compact shifts live bytes to the front when the consumed prefix is at least
// half of the storage and the incoming append would otherwise grow it.
func (b *Buffer) compact(incoming int) {
	if b.off == 0 {
		return
	}
	if len(b.bb.B)+incoming <= cap(b.bb.B) && b.off < cap(b.bb.B)/2 {
		return
	}
	n := copy(b.bb.B, b.bb.B[b.off:])
	b.bb.B = b.bb.B[:n]
	b.off = 0
}
