package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Execution-context metrics
	ContextsActive  prometheus.Gauge
	ExecutionsTotal *prometheus.CounterVec
	ExecDuration    prometheus.Histogram

	// Classifier metrics
	Classifications *prometheus.CounterVec

	// Dedup metrics
	DedupHits prometheus.Counter

	// Repair metrics
	RepairAttempts *prometheus.CounterVec

	// Resize metrics
	ResizeClamps prometheus.Counter

	// WebSocket metrics
	WSConnections prometheus.Gauge

	startTime time.Time
}

// NewMetrics creates and registers the metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),

		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codefence_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "codefence_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		ContextsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "codefence_contexts_active",
				Help: "Number of live execution contexts",
			},
		),
		ExecutionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codefence_executions_total",
				Help: "Execution context outcomes",
			},
			[]string{"outcome"},
		),
		ExecDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "codefence_execution_duration_seconds",
				Help:    "Sandboxed execution duration in seconds",
				Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),

		Classifications: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codefence_classifications_total",
				Help: "Fragment classification results by flavor",
			},
			[]string{"flavor"},
		),

		DedupHits: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "codefence_dedup_hits_total",
				Help: "Duplicate code units suppressed per processing pass",
			},
		),

		RepairAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codefence_repair_attempts_total",
				Help: "Repair loop attempts by result",
			},
			[]string{"result"},
		),

		ResizeClamps: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "codefence_resize_clamps_total",
				Help: "Resize reports clamped to the height ceiling",
			},
		),

		WSConnections: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "codefence_ws_connections",
				Help: "Active WebSocket event-feed connections",
			},
		),
	}
}

// RecordHTTPRequest records one HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordExecution records a finished execution context.
func (m *Metrics) RecordExecution(outcome string, duration time.Duration) {
	m.ExecutionsTotal.WithLabelValues(outcome).Inc()
	m.ExecDuration.Observe(duration.Seconds())
}

// RecordClassification records one classification result.
func (m *Metrics) RecordClassification(flavor string) {
	m.Classifications.WithLabelValues(flavor).Inc()
}

// RecordRepair records one repair attempt result.
func (m *Metrics) RecordRepair(result string) {
	m.RepairAttempts.WithLabelValues(result).Inc()
}

// Uptime returns time since process start.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}
