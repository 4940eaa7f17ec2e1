// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus collectors for event loop telemetry.

package control

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "echo"

// Metrics groups the collectors the server updates. All methods are safe
// for concurrent use, though only the loop goroutine writes.
type Metrics struct {
	Accepted       prometheus.Counter
	AcceptErrors   prometheus.Counter
	Closed         *prometheus.CounterVec
	Messages       prometheus.Counter
	BytesRead      prometheus.Counter
	BytesWritten   prometheus.Counter
	LoopIterations prometheus.Counter
	Active         prometheus.Gauge
}

// NewMetrics builds the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "accepted_total",
			Help: "Connections accepted from the listener.",
		}),
		AcceptErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "accept_errors_total",
			Help: "Failed accept attempts.",
		}),
		Closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "closed_total",
			Help: "Connections destroyed, by close reason.",
		}, []string{"reason"}),
		Messages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_total",
			Help: "Complete request frames handled.",
		}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_read_total",
			Help: "Bytes read from client sockets.",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_written_total",
			Help: "Bytes written to client sockets.",
		}),
		LoopIterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "loop_iterations_total",
			Help: "Completed event loop cycles.",
		}),
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections_active",
			Help: "Connections currently in the table.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Accepted, m.AcceptErrors, m.Closed, m.Messages,
			m.BytesRead, m.BytesWritten, m.LoopIterations, m.Active,
		)
	}
	return m
}
