package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes the worker's Prometheus instruments. It satisfies
// the processor's outcome sink, so job results flow straight into the
// counters without the worker knowing about Prometheus.
type Metrics struct {
	registry *prometheus.Registry

	jobsProcessed *prometheus.CounterVec
	jobLatency    *prometheus.HistogramVec
	queueDepth    prometheus.Gauge
	sweepExpired  prometheus.Counter
	exportsTotal  *prometheus.CounterVec
}

// New creates and registers the worker's metric instruments
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signflow_job_processing_total",
			Help: "Jobs processed, labeled by terminal outcome",
		}, []string{"outcome"}),
		jobLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signflow_job_processing_duration_seconds",
			Help:    "Wall-clock duration of job processing",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"outcome"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "signflow_queue_depth",
			Help: "Pending job ids in the inference queue",
		}),
		sweepExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signflow_sessions_expired_total",
			Help: "Sessions transitioned to expired by the sweep",
		}),
		exportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signflow_exports_total",
			Help: "Export documents rendered, labeled by format",
		}, []string{"format"}),
	}

	m.registry.MustRegister(
		m.jobsProcessed,
		m.jobLatency,
		m.queueDepth,
		m.sweepExpired,
		m.exportsTotal,
	)
	return m
}

// ObserveJob records one processed job and its duration
func (m *Metrics) ObserveJob(outcome string, duration time.Duration) {
	m.jobsProcessed.WithLabelValues(outcome).Inc()
	m.jobLatency.WithLabelValues(outcome).Observe(duration.Seconds())
}

// SetQueueDepth records the current queue length
func (m *Metrics) SetQueueDepth(depth int64) {
	m.queueDepth.Set(float64(depth))
}

// ObserveSweep records sessions expired by one sweep pass
func (m *Metrics) ObserveSweep(expired int) {
	m.sweepExpired.Add(float64(expired))
}

// ObserveExport records one rendered export document
func (m *Metrics) ObserveExport(format string) {
	m.exportsTotal.WithLabelValues(format).Inc()
}

// Handler returns the HTTP handler serving the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
