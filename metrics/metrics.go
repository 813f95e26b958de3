// Package metrics exposes Prometheus collectors for the HTTP API and the
// generation pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sdcpp_server/sdruntime"
)

const (
	namespace = "sdcpp"
	subsystem = "server"
)

// Metrics holds every collector. Create one per process with New.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	GenerationsTotal    *prometheus.CounterVec
	GenerationDuration  prometheus.Histogram
	GenerationsInFlight prometheus.Gauge
	CleanupFailures     prometheus.Counter
	ImageBytesTotal     prometheus.Counter
}

// New registers the collectors, plus the Go runtime and process
// collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),

		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"method", "route"},
		),

		GenerationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "generations_total",
				Help:      "Total image generations by outcome",
			},
			[]string{"status", "kind"},
		),

		GenerationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "generation_duration_seconds",
				Help:      "Wall time of image generations in seconds",
				Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300, 600},
			},
		),

		GenerationsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "generations_in_flight",
				Help:      "Generations currently being processed",
			},
		),

		CleanupFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "output_cleanup_failures_total",
				Help:      "Output images that could not be removed after encoding",
			},
		),

		ImageBytesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "image_bytes_total",
				Help:      "Total bytes of generated images returned to clients",
			},
		),
	}
}

// RegisterLimiter exports the admission limiter's occupancy. A nil limiter
// is ignored.
func (m *Metrics) RegisterLimiter(l *sdruntime.Limiter) {
	if l == nil {
		return
	}
	factory := promauto.With(m.registry)
	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "generation_slots_in_use",
			Help:      "Admission limiter slots currently held",
		},
		func() float64 { return float64(l.InUse()) },
	)
	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "generation_queue_waiting",
			Help:      "Requests waiting for an admission limiter slot",
		},
		func() float64 { return float64(l.Waiting()) },
	)
}

// RecordRequest records an HTTP request.
func (m *Metrics) RecordRequest(method, route string, status int, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// GenerationStarted implements sdruntime.Observer.
func (m *Metrics) GenerationStarted() {
	m.GenerationsInFlight.Inc()
}

// GenerationFinished implements sdruntime.Observer.
func (m *Metrics) GenerationFinished(o sdruntime.Outcome) {
	m.GenerationsInFlight.Dec()
	m.GenerationsTotal.WithLabelValues(o.Status(), o.Kind()).Inc()

	// rejected requests never reach the generator
	if o.Err == nil || o.Err.Kind == sdruntime.KindServer {
		m.GenerationDuration.Observe(o.Duration.Seconds())
	}
	if o.ImageBytes > 0 {
		m.ImageBytesTotal.Add(float64(o.ImageBytes))
	}
	if o.CleanupFailed {
		m.CleanupFailures.Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

var _ sdruntime.Observer = (*Metrics)(nil)
