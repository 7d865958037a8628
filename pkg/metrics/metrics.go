// Package metrics collects Prometheus metrics for the HTTP surface, the
// analysis facade and the upload store.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Analysis outcomes used as the outcome label.
const (
	OutcomeSuccess     = "success"
	OutcomeInvalid     = "invalid"
	OutcomeUnavailable = "unavailable"
	OutcomeError       = "error"
)

// Metrics owns a registry and the service-level collectors. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry
	buckets  []float64

	analyses *prometheus.CounterVec
	swept    prometheus.Counter
}

// New creates the collectors on a fresh registry that also exports the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		registry: reg,
		// request durations are dominated by engine calls, max of ~82s
		buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		analyses: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "windyield_analyses_total",
				Help: "Number of analyses run, by kind, mode and outcome.",
			},
			[]string{"kind", "mode", "outcome"},
		),
		swept: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "windyield_uploads_swept_total",
				Help: "Number of uploads removed by the expiry sweep, orphans included.",
			},
		),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Wrap instruments handler with request count, duration and size metrics
// labelled with handlerName.
func (m *Metrics) Wrap(handlerName string, handler http.Handler) http.Handler {
	if m == nil {
		return handler
	}
	reg := prometheus.WrapRegistererWith(prometheus.Labels{"handler": handlerName}, m.registry)
	labels := []string{"method", "code"}

	requestsTotal := promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Tracks the number of HTTP requests.",
		}, labels,
	)
	requestDuration := promauto.With(reg).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Tracks the latencies for HTTP requests.",
			Buckets: m.buckets,
		}, labels,
	)
	requestSize := promauto.With(reg).NewSummaryVec(
		prometheus.SummaryOpts{
			Name: "http_request_size_bytes",
			Help: "Tracks the size of HTTP requests.",
		}, labels,
	)

	return promhttp.InstrumentHandlerCounter(
		requestsTotal,
		promhttp.InstrumentHandlerDuration(
			requestDuration,
			promhttp.InstrumentHandlerRequestSize(requestSize, handler),
		),
	)
}

// ObserveAnalysis counts one analysis run.
func (m *Metrics) ObserveAnalysis(kind, mode, outcome string) {
	if m == nil {
		return
	}
	m.analyses.WithLabelValues(kind, mode, outcome).Inc()
}

// UploadsSwept adds n removed uploads.
func (m *Metrics) UploadsSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.swept.Add(float64(n))
}
