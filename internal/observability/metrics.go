// Package observability exposes Prometheus metrics for the session channel
// and the capability pipeline.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "askdb_sessions_active",
			Help: "Number of currently open sessions.",
		},
	)

	sessionsOpenedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "askdb_sessions_opened_total",
			Help: "Total sessions opened since start.",
		},
	)

	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_frames_total",
			Help: "Frames processed, by type and direction.",
		},
		[]string{"type", "direction"},
	)

	invocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_invocations_total",
			Help: "Capability invocations, by capability and status.",
		},
		[]string{"capability", "status"},
	)

	invocationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "askdb_invocation_duration_seconds",
			Help:    "Capability invocation latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"capability"},
	)
)

func init() {
	prometheus.MustRegister(
		sessionsActive,
		sessionsOpenedTotal,
		framesTotal,
		invocationsTotal,
		invocationDurationSeconds,
	)
}

// SessionOpened records a new session.
func SessionOpened() {
	sessionsOpenedTotal.Inc()
	sessionsActive.Inc()
}

// SessionClosed records a session reaching its terminal state.
func SessionClosed() {
	sessionsActive.Dec()
}

// ObserveFrame counts one frame. Direction is "in" or "out".
func ObserveFrame(frameType, direction string) {
	framesTotal.WithLabelValues(frameType, direction).Inc()
}

// ObserveInvocation records one capability invocation.
func ObserveInvocation(capability string, success bool, d time.Duration) {
	status := "failure"
	if success {
		status = "success"
	}
	invocationsTotal.WithLabelValues(capability, status).Inc()
	invocationDurationSeconds.WithLabelValues(capability).Observe(d.Seconds())
}
