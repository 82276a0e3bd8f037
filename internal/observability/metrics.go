package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "twinctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "twinctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	protocolRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "twinctl",
			Subsystem: "protocol",
			Name:      "requests_total",
			Help:      "Protocol requests by kind and return code.",
		},
		[]string{"node", "kind", "code"},
	)
	protocolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "twinctl",
			Subsystem: "protocol",
			Name:      "request_duration_seconds",
			Help:      "Protocol request handling duration in seconds, host call included.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "kind"},
	)
	frameErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "twinctl",
			Subsystem: "protocol",
			Name:      "frame_errors_total",
			Help:      "Sessions closed by a framing or transport error.",
		},
		[]string{"node", "reason"},
	)
	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "twinctl",
			Subsystem: "session",
			Name:      "total",
			Help:      "Connections by outcome: served, rejected.",
		},
		[]string{"node", "outcome"},
	)
	sessionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "twinctl",
			Subsystem: "session",
			Name:      "active",
			Help:      "Sessions currently being served.",
		},
		[]string{"node"},
	)
	sessionsQueued = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "twinctl",
			Subsystem: "session",
			Name:      "queued",
			Help:      "Accepted connections waiting for the active session to end.",
		},
		[]string{"node"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			protocolRequests,
			protocolDuration,
			frameErrors,
			sessionsTotal,
			sessionsActive,
			sessionsQueued,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordProtocolRequest(node, kind, code string, duration time.Duration) {
	RegisterMetrics()
	protocolRequests.WithLabelValues(node, kind, code).Inc()
	protocolDuration.WithLabelValues(node, kind).Observe(duration.Seconds())
}

func RecordFrameError(node, reason string) {
	RegisterMetrics()
	frameErrors.WithLabelValues(node, reason).Inc()
}

func RecordSession(node, outcome string) {
	RegisterMetrics()
	sessionsTotal.WithLabelValues(node, outcome).Inc()
}

func SetSessionsActive(node string, n int) {
	RegisterMetrics()
	sessionsActive.WithLabelValues(node).Set(float64(n))
}

func SetSessionsQueued(node string, n int) {
	RegisterMetrics()
	sessionsQueued.WithLabelValues(node).Set(float64(n))
}
