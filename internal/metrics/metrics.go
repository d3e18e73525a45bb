// Package metrics exposes Prometheus instrumentation for the transcription
// engine: HTTP middleware counters plus pipeline run and segment metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "scribe"

// Run outcome label values.
const (
	OutcomeCompleted      = "completed"
	OutcomeDecodeFailed   = "decode_failed"
	OutcomeBackendFailed  = "backend_failed"
	OutcomeInternalFailed = "internal_failed"
	OutcomeCanceled       = "canceled"
)

// HTTP metrics (incremented by middleware).
var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests processed.",
	}, []string{"method", "path_pattern", "status_code"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path_pattern"})

	UploadBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "upload_bytes",
		Help:      "Size of accepted audio uploads in bytes.",
		Buckets:   prometheus.ExponentialBuckets(1024, 4, 10), // 1KB -> ~256MB
	})
)

// Pipeline metrics (incremented by the run engine and orchestrator).
var (
	RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_total",
		Help:      "Transcription runs by backend and outcome.",
	}, []string{"backend", "outcome"})

	RunDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "End-to-end run duration in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12), // 0.25s -> ~8.5m
	}, []string{"backend"})

	SegmentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "segments_total",
		Help:      "Audio segments sent to a backend.",
	}, []string{"backend"})

	SegmentDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "segment_duration_seconds",
		Help:      "Per-segment transcription call duration in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 11), // 0.1s -> ~102s
	}, []string{"backend"})

	EmptyUnitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "empty_units_total",
		Help:      "Segments the backend heard but could not understand.",
	}, []string{"backend"})

	SSEEventsPublishedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sse_events_published_total",
		Help:      "Total progress events published to SSE subscribers.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		UploadBytes,
		RunsTotal,
		RunDuration,
		SegmentsTotal,
		SegmentDuration,
		EmptyUnitsTotal,
		SSEEventsPublishedTotal,
	)
}

// ObserveRun records one finished run.
func ObserveRun(backend, outcome string, elapsed time.Duration) {
	RunsTotal.WithLabelValues(backend, outcome).Inc()
	RunDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
}

// ObserveSegment records one backend call.
func ObserveSegment(backend string, elapsed time.Duration, empty bool) {
	SegmentsTotal.WithLabelValues(backend).Inc()
	SegmentDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
	if empty {
		EmptyUnitsTotal.WithLabelValues(backend).Inc()
	}
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
		HTTPRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(sw.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
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

// Flush forwards to the wrapped writer so SSE handlers behind this
// middleware can stream.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap supports http.ResponseController and middleware that check for
// wrapped writers (e.g. http.Flusher for SSE streaming).
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
