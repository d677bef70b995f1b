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
			Namespace: "confui",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests on the ops endpoint.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "confui",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Ops endpoint request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	sessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "confui",
			Subsystem: "session",
			Name:      "total",
			Help:      "Sessions served, by how they ended.",
		},
		[]string{"outcome"},
	)
	sessionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "confui",
			Subsystem: "session",
			Name:      "duration_seconds",
			Help:      "Session lifetime in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	packets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "confui",
			Subsystem: "transport",
			Name:      "packets_total",
			Help:      "Packets handled by the transport, by inbound type.",
		},
		[]string{"type"},
	)
	desyncs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "confui",
			Subsystem: "transport",
			Name:      "desync_total",
			Help:      "Sessions that entered the desync state.",
		},
	)
	renders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "confui",
			Subsystem: "ui",
			Name:      "renders_total",
			Help:      "Frames rendered per display, by result code.",
		},
		[]string{"display", "result"},
	)
	operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "confui",
			Subsystem: "operation",
			Name:      "commands_total",
			Help:      "Operation commands handled, by command and response code.",
		},
		[]string{"command", "response"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, sessions, sessionDuration, packets, desyncs, renders, operations)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordSession(outcome string, duration time.Duration) {
	RegisterMetrics()
	sessions.WithLabelValues(outcome).Inc()
	sessionDuration.Observe(duration.Seconds())
}

func RecordPacket(packetType string) {
	RegisterMetrics()
	packets.WithLabelValues(packetType).Inc()
}

func RecordDesync() {
	RegisterMetrics()
	desyncs.Inc()
}

func RecordRender(display int, result string) {
	RegisterMetrics()
	renders.WithLabelValues(strconv.Itoa(display), result).Inc()
}

func RecordOperation(command, response string) {
	RegisterMetrics()
	operations.WithLabelValues(command, response).Inc()
}
