package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feedwire",
			Name:      "http_requests_total",
			Help:      "Total number of control API requests.",
		},
		[]string{"op", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "feedwire",
			Name:      "http_request_duration_seconds",
			Help:      "Latency of control API requests.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"op"},
	)

	InFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "feedwire",
			Name:      "http_in_flight_requests",
			Help:      "Current number of in-flight control API requests.",
		},
		[]string{"op"},
	)

	// ---- Channel ----
	ConnectionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "feedwire",
			Name:      "connection_state",
			Help:      "Socket ready state (-1 unknown, 0 connecting, 1 open, 2 closing, 3 closed).",
		},
	)

	Reconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "feedwire",
			Name:      "reconnects_total",
			Help:      "Reconnection attempts scheduled after a close.",
		},
	)

	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feedwire",
			Name:      "commands_total",
			Help:      "Commands by kind and outcome (ok, error, timeout, not_ready, lost).",
		},
		[]string{"kind", "outcome"},
	)

	PendingCommands = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "feedwire",
			Name:      "pending_commands",
			Help:      "Commands registered in the dispatch table awaiting a result.",
		},
	)

	CommandLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "feedwire",
			Name:      "command_latency_seconds",
			Help:      "Time from registration to resolution of a command.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)

	InboundFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feedwire",
			Name:      "inbound_frames_total",
			Help:      "Inbound frames by classification (action, result, unknown, malformed).",
		},
		[]string{"type"},
	)

	// ---- Process / build info ----
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "feedwire",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and git_sha).",
		},
		[]string{"version", "git_sha"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "feedwire",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	ConnectionState.Set(-1)
	Registry.MustRegister(
		RequestsTotal, RequestDuration, InFlight,
		ConnectionState, Reconnects, CommandsTotal, PendingCommands, CommandLatency, InboundFrames,
		buildInfo, uptime,
	)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup, e.g. with ldflags-provided values.
func SetBuildInfo(version, gitSHA string) {
	buildInfo.WithLabelValues(version, gitSHA).Set(1)
}

// ObserveCommand records the outcome of one command.
func ObserveCommand(kind, outcome string) {
	CommandsTotal.WithLabelValues(kind, outcome).Inc()
}

// ---- Middleware instrumentation ----

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps an http.Handler to record metrics under the provided "op" label.
func Instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: 200}
		start := time.Now()

		InFlight.WithLabelValues(op).Inc()
		defer InFlight.WithLabelValues(op).Dec()

		next.ServeHTTP(sw, r)

		class := strconv.Itoa(sw.status/100) + "xx"
		RequestsTotal.WithLabelValues(op, class).Inc()
		RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	})
}
