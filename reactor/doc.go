// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides level-triggered readiness multiplexers behind
// api.Reactor: epoll on Linux and poll(2) on any supported unix.
//
// Both backends report readiness in ascending descriptor order so that the
// event loop services the lowest handles first, and both turn an EINTR from
// the kernel into an empty, successful wait.
package reactor
