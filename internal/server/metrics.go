package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hospital-backend/internal/web"
)

const metricsNamespace = "hospital"

// Metrics holds the application's Prometheus collectors on a private
// registry.
type Metrics struct {
	registry *prometheus.Registry

	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	uploads     prometheus.Counter
	uploadBytes prometheus.Counter
}

// NewMetrics registers the HTTP, upload and runtime collectors. When database
// is non-nil its connection state is exported as a gauge.
func NewMetrics(database Database) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		uploads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "uploaded_files_total",
			Help:      "Multipart file parts accepted.",
		}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "uploaded_bytes_total",
			Help:      "Bytes of multipart file parts accepted.",
		}),
	}

	m.registry.MustRegister(
		m.requests,
		m.duration,
		m.uploads,
		m.uploadBytes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if database != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "db_connection_state",
			Help:      "Database connector state: 0 unconfigured, 1 connecting, 2 connected, 3 failed.",
		}, func() float64 {
			return float64(database.State())
		}))
	}
	return m
}

// RecordRequest counts one completed request.
func (m *Metrics) RecordRequest(method, route string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// RecordUpload counts a buffered multipart file.
func (m *Metrics) RecordUpload(f *web.File) {
	m.uploads.Inc()
	m.uploadBytes.Add(float64(f.Size))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
