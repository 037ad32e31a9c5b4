package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "swm_worker"

// Ops HTTP metrics (counter/histogram — incremented by middleware).
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total ops HTTP requests processed.",
	}, []string{"method", "path_pattern", "status_code"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Ops HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path_pattern"})
)

// Ingest counters (incremented directly by the worker/pipeline).
var (
	MQTTMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mqtt_messages_total",
		Help:      "Total MQTT messages received.",
	})

	MessagesDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_dropped_total",
		Help:      "Messages dropped before entering the buffer, by reason.",
	}, []string{"reason"})

	BufferAppendsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "buffer_appends_total",
		Help:      "Total records appended to per-device buffer files.",
	})

	BufferBadLinesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "buffer_bad_lines_total",
		Help:      "Total lines quarantined to a device's bad file.",
	})

	BufferProcessedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "buffer_processed_total",
		Help:      "Total buffer lines successfully processed and checkpointed.",
	})

	BufferRemainingGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "buffer_remaining_lines",
		Help:      "Lines remaining in a device's buffer file after the last drain.",
	}, []string{"device_code"})

	PipelineFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pipeline_failures_total",
		Help:      "Pipeline stage failures, by stage.",
	}, []string{"stage"})

	MonotonicDropsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "monotonic_drops_total",
		Help:      "Samples dropped by the monotonic-datetime guard.",
	})

	BalanceDecrementsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "balance_decrements_total",
		Help:      "Token balance decrements applied, by rollover type.",
	}, []string{"rollover"})

	RecoveryProcessedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recovery_processed_total",
		Help:      "Buffer lines drained by the recovery manager at startup.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		MQTTMessagesTotal,
		MessagesDroppedTotal,
		BufferAppendsTotal,
		BufferBadLinesTotal,
		BufferProcessedTotal,
		BufferRemainingGauge,
		PipelineFailuresTotal,
		MonotonicDropsTotal,
		BalanceDecrementsTotal,
		RecoveryProcessedTotal,
	)
}

// InstrumentHandler returns middleware that records HTTP request metrics.
// It uses chi's route pattern as the path label to avoid cardinality explosion.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unknown"
		}
		method := r.Method
		status := strconv.Itoa(sw.status)
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(method, pattern, status).Inc()
		HTTPRequestDuration.WithLabelValues(method, pattern).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
