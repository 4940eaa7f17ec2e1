// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics and debug introspection for the echo server.
//
// Provides:
//   - Prometheus counters and gauges updated by the event loop
//   - Named debug probes dumped as JSON over HTTP
//   - Platform probes registered per build target
package control
