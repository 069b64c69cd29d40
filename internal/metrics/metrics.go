// Package metrics provides Prometheus metrics for the anywhere server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/anywhere/internal/handlers/staticfileserver"
)

// Metrics owns a private registry so that several servers (and tests) can
// coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpInFlight        prometheus.Gauge

	staticRequestsTotal *prometheus.CounterVec
	staticBytesTotal    *prometheus.CounterVec
}

// New registers all collectors on a fresh registry, including the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		// HTTP request metrics
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anywhere_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "anywhere_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		httpInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "anywhere_http_requests_in_flight",
				Help: "Number of HTTP requests currently being served",
			},
		),

		// Static content metrics
		staticRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anywhere_static_requests_total",
				Help: "Static requests by outcome and content coding",
			},
			[]string{"outcome", "encoding"},
		),
		staticBytesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anywhere_static_body_bytes_total",
				Help: "Uncompressed body bytes served by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request metric.
func (m *Metrics) RecordHTTPRequest(method string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// ObserveStatic implements staticfileserver.Recorder.
func (m *Metrics) ObserveStatic(outcome staticfileserver.Outcome, encoding staticfileserver.Encoding, bodyBytes int64) {
	enc := string(encoding)
	if enc == "" {
		enc = "identity"
	}
	m.staticRequestsTotal.WithLabelValues(string(outcome), enc).Inc()
	if bodyBytes > 0 {
		m.staticBytesTotal.WithLabelValues(string(outcome)).Add(float64(bodyBytes))
	}
}

// Middleware returns HTTP middleware that records request metrics.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		m.RecordHTTPRequest(r.Method, rw.statusCode, time.Since(start))
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

var _ staticfileserver.Recorder = (*Metrics)(nil)
