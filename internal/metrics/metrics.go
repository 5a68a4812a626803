package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the dispatch engine
type Metrics struct {
	// Delivery counters
	JobsSentTotal     prometheus.Counter
	JobsFailedTotal   *prometheus.CounterVec
	JobsDeferredTotal *prometheus.CounterVec
	JobsSkippedTotal  *prometheus.CounterVec
	BouncesTotal      *prometheus.CounterVec

	// Queue gauges
	QueuePending  prometheus.Gauge
	QueueDeferred prometheus.Gauge
	QueueFailed   prometheus.Gauge

	// Rate limiting
	RateLimitRejectedTotal *prometheus.CounterVec

	// Tracking
	OpensTotal  prometheus.Counter
	ClicksTotal prometheus.Counter

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		JobsSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mailkite_jobs_sent_total",
				Help: "Total number of successfully delivered campaign emails",
			},
		),
		JobsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailkite_jobs_failed_total",
				Help: "Total number of dead-lettered delivery jobs",
			},
			[]string{"reason"},
		),
		JobsDeferredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailkite_jobs_deferred_total",
				Help: "Total number of delivery jobs deferred for retry",
			},
			[]string{"reason"},
		),
		JobsSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailkite_jobs_skipped_total",
				Help: "Total number of delivery jobs skipped without sending",
			},
			[]string{"reason"},
		),
		BouncesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailkite_bounces_total",
				Help: "Total number of classified bounces",
			},
			[]string{"type"},
		),

		QueuePending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailkite_queue_pending",
				Help: "Number of delivery jobs waiting for a first attempt",
			},
		),
		QueueDeferred: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailkite_queue_deferred",
				Help: "Number of delivery jobs awaiting retry",
			},
		),
		QueueFailed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailkite_queue_failed",
				Help: "Number of dead-lettered delivery jobs",
			},
		),

		RateLimitRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailkite_ratelimit_rejected_total",
				Help: "Total number of sends rejected by a credential quota",
			},
			[]string{"profile"},
		),

		OpensTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mailkite_opens_total",
				Help: "Total number of recorded open events",
			},
		),
		ClicksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mailkite_clicks_total",
				Help: "Total number of recorded click events",
			},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailkite_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailkite_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.JobsSentTotal,
		m.JobsFailedTotal,
		m.JobsDeferredTotal,
		m.JobsSkippedTotal,
		m.BouncesTotal,
		m.QueuePending,
		m.QueueDeferred,
		m.QueueFailed,
		m.RateLimitRejectedTotal,
		m.OpensTotal,
		m.ClicksTotal,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
