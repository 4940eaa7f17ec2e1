// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral factory for readiness reactors.

package reactor

import (
	"slices"

	"github.com/momentics/hioload-echo/api"
)

// Kind names a readiness backend.
type Kind string

const (
	KindEpoll Kind = "epoll"
	KindPoll  Kind = "poll"
)

// Default is the preferred backend for the host platform.
func Default() Kind {
	return defaultKind
}

// Supported lists the backends available on the host platform.
func Supported() []Kind {
	return slices.Clone(supported)
}

// New constructs a reactor of the given kind. An empty kind selects Default.
func New(kind Kind) (api.Reactor, error) {
	if kind == "" {
		kind = defaultKind
	}
	if !slices.Contains(supported, kind) {
		return nil, api.NewError(api.ErrCodeNotSupported, "reactor backend not supported on this platform").
			WithContext("kind", string(kind))
	}
	switch kind {
	case KindEpoll:
		return newEpoll()
	default:
		return newPoll()
	}
}

// ParseKind validates a backend name coming from configuration.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case "":
		return defaultKind, nil
	case KindEpoll, KindPoll:
		return k, nil
	}
	return "", api.NewError(api.ErrCodeInvalidArgument, "unknown reactor backend").WithContext("kind", s)
}

// sortByFd orders ready events lowest descriptor first.
func sortByFd(events []api.Event) {
	slices.SortFunc(events, func(a, b api.Event) int { return a.Fd - b.Fd })
}
