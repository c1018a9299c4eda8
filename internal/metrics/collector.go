// Package metrics provides Prometheus metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector registers and records all service metrics.
type Collector struct {
	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// Pipeline metrics
	pipelinesTotal      *prometheus.CounterVec
	pipelineDuration    prometheus.Histogram
	agentRunsTotal      *prometheus.CounterVec
	agentRunDuration    *prometheus.HistogramVec
	deadlineAborts      prometheus.Counter
	activePipelines     prometheus.Gauge
	quotaRejectedTotal  prometheus.Counter
	recorderDropsTotal  prometheus.Counter

	// Database metrics
	dbConnectionsOpen prometheus.Gauge
	dbConnectionsIdle prometheus.Gauge

	logger *zap.Logger
}

// NewCollector creates a collector registering all metrics under namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	c.httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)
	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.pipelinesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipelines_total",
			Help:      "Total number of finished validation pipelines by terminal status",
		},
		[]string{"status"},
	)
	c.pipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Wall-clock duration of a full pipeline run",
			Buckets:   []float64{5, 15, 30, 60, 120, 180, 240, 300, 360},
		},
	)
	c.agentRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_runs_total",
			Help:      "Total number of agent attempts by stage and status",
		},
		[]string{"stage", "status"},
	)
	c.agentRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_run_duration_seconds",
			Help:      "Duration of a single agent attempt",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 90, 120},
		},
		[]string{"stage"},
	)
	c.deadlineAborts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_deadline_aborts_total",
			Help:      "Pipelines aborted by the wall-clock budget guard",
		},
	)
	c.activePipelines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipelines_active",
			Help:      "Number of pipelines currently running in this process",
		},
	)
	c.quotaRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_rejections_total",
			Help:      "Start requests rejected by the per-caller quota",
		},
	)
	c.recorderDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recorder_drops_total",
			Help:      "Agent run audit rows lost to persistence errors",
		},
	)

	c.dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Open database connections",
		},
	)
	c.dbConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Idle database connections",
		},
	)

	return c
}

// RecordHTTPRequest records one HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	statusStr := strconv.Itoa(status)
	c.httpRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	if requestSize > 0 {
		c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	}
	if responseSize > 0 {
		c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
	}
}

// PipelineStarted increments the active pipeline gauge.
func (c *Collector) PipelineStarted() {
	c.activePipelines.Inc()
}

// PipelineFinished records a terminal pipeline outcome.
func (c *Collector) PipelineFinished(status string, duration time.Duration) {
	c.activePipelines.Dec()
	c.pipelinesTotal.WithLabelValues(status).Inc()
	c.pipelineDuration.Observe(duration.Seconds())
}

// RecordAgentRun records one agent attempt.
func (c *Collector) RecordAgentRun(stage, status string, duration time.Duration) {
	c.agentRunsTotal.WithLabelValues(stage, status).Inc()
	c.agentRunDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordDeadlineAbort records a budget-guard abort.
func (c *Collector) RecordDeadlineAbort() {
	c.deadlineAborts.Inc()
}

// RecordQuotaRejection records a 429 on the start endpoint.
func (c *Collector) RecordQuotaRejection() {
	c.quotaRejectedTotal.Inc()
}

// RecordRecorderDrop records a swallowed audit persistence failure.
func (c *Collector) RecordRecorderDrop() {
	c.recorderDropsTotal.Inc()
}

// UpdateDBStats records pool gauges.
func (c *Collector) UpdateDBStats(open, idle int) {
	c.dbConnectionsOpen.Set(float64(open))
	c.dbConnectionsIdle.Set(float64(idle))
}
