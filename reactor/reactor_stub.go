//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// epoll is Linux only; other platforms fall back to poll(2).

package reactor

import "github.com/momentics/hioload-echo/api"

var (
	defaultKind = KindPoll
	supported   = []Kind{KindPoll}
)

func newEpoll() (api.Reactor, error) {
	return nil, api.NewError(api.ErrCodeNotSupported, "reactor: epoll is not supported on this platform")
}
