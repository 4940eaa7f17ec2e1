// File: internal/conntable/table.go
// Package conntable
// Author: momentics <momentics@gmail.com>
//
// Descriptor-indexed table of live connections, owned by the event loop.

package conntable

import (
	"github.com/pkg/errors"

	"github.com/momentics/hioload-echo/api"
)

// Table maps file descriptors to connection state. A slot is either empty
// or holds exactly one entry. Table is not safe for concurrent use.
type Table[V any] struct {
	slots []*V
	n     int
}

// New returns a table with room for descriptors below sizeHint.
func New[V any](sizeHint int) *Table[V] {
	if sizeHint < 0 {
		sizeHint = 0
	}
	return &Table[V]{slots: make([]*V, 0, sizeHint)}
}

// Put stores v under fd, growing the table as needed.
func (t *Table[V]) Put(fd int, v *V) error {
	if fd < 0 || v == nil {
		return api.NewError(api.ErrCodeInvalidArgument, "conntable: invalid put").WithContext("fd", fd)
	}
	if fd >= len(t.slots) {
		t.slots = append(t.slots, make([]*V, fd+1-len(t.slots))...)
	}
	if t.slots[fd] != nil {
		return errors.Wrapf(api.ErrSlotInUse, "fd %d", fd)
	}
	t.slots[fd] = v
	t.n++
	return nil
}

// Get returns the entry at fd, or nil.
func (t *Table[V]) Get(fd int) *V {
	if fd < 0 || fd >= len(t.slots) {
		return nil
	}
	return t.slots[fd]
}

// Remove empties the slot at fd and returns what it held.
func (t *Table[V]) Remove(fd int) *V {
	v := t.Get(fd)
	if v == nil {
		return nil
	}
	t.slots[fd] = nil
	t.n--
	for len(t.slots) > 0 && t.slots[len(t.slots)-1] == nil {
		t.slots = t.slots[:len(t.slots)-1]
	}
	return v
}

// Len reports the number of occupied slots.
func (t *Table[V]) Len() int { return t.n }

// Each visits occupied slots in ascending fd order until fn returns false.
// fn may remove the visited entry.
func (t *Table[V]) Each(fn func(fd int, v *V) bool) {
	for fd := 0; fd < len(t.slots); fd++ {
		if v := t.slots[fd]; v != nil && !fn(fd, v) {
			return
		}
	}
}
