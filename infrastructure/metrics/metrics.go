// Package metrics provides Prometheus metrics collection shared across the
// platform's seven services (spec §2), exposed on each service's /metrics
// endpoint.
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/opaquemesh/platform/infrastructure/runtime"
)

// Metrics holds all Prometheus collectors one service instance registers.
type Metrics struct {
	// HTTP/RPC metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Task lifecycle metrics (spec §4.4 state machine, §4.5 scheduler plane)
	TasksByStatus    *prometheus.GaugeVec
	TaskTransitions  *prometheus.CounterVec
	StagedQueueDepth prometheus.Gauge
	ExecutorPoolSize prometheus.Gauge

	// Storage engine metrics
	StorageOpsTotal    *prometheus.CounterVec
	StorageOpDuration  *prometheus.HistogramVec
	StorageConnsOpen   prometheus.Gauge

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance registered against the default registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry,
// used by tests to avoid colliding with the process-wide default registry.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP/RPC requests handled",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP/RPC request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP/RPC requests being processed",
			},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total number of errors by kind (spec §7 wire error kinds)",
			},
			[]string{"service", "kind", "operation"},
		),

		TasksByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tasks_by_status",
				Help: "Current number of tasks known to Management, by status (spec §4.4)",
			},
			[]string{"status"},
		),
		TaskTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "task_transitions_total",
				Help: "Total number of task state transitions observed",
			},
			[]string{"from", "to"},
		),
		StagedQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "staged_task_queue_depth",
				Help: "Current depth of the staged-task queue (spec §4.3)",
			},
		),
		ExecutorPoolSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "executor_pool_size",
				Help: "Current number of live executors registered with the scheduler",
			},
		),

		StorageOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storage_operations_total",
				Help: "Total number of Storage KV/queue operations",
			},
			[]string{"operation", "status"},
		),
		StorageOpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storage_operation_duration_seconds",
				Help:    "Storage KV/queue operation duration in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5},
			},
			[]string{"operation"},
		),
		StorageConnsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "storage_connections_open",
				Help: "Current number of open storage engine connections",
			},
		),

		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service build/deployment information",
			},
			[]string{"service", "version", "environment"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.TasksByStatus,
			m.TaskTransitions,
			m.StagedQueueDepth,
			m.ExecutorPoolSize,
			m.StorageOpsTotal,
			m.StorageOpDuration,
			m.StorageConnsOpen,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", getEnvironment()).Set(1)

	return m
}

// RecordHTTPRequest records an HTTP/RPC request.
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordError records an error by wire kind (spec §7).
func (m *Metrics) RecordError(service, kind, operation string) {
	m.ErrorsTotal.WithLabelValues(service, kind, operation).Inc()
}

// RecordTaskTransition records a task state-machine transition (spec §4.4).
func (m *Metrics) RecordTaskTransition(from, to string) {
	m.TaskTransitions.WithLabelValues(from, to).Inc()
}

// SetTasksByStatus sets the current gauge value for one task status.
func (m *Metrics) SetTasksByStatus(status string, count float64) {
	m.TasksByStatus.WithLabelValues(status).Set(count)
}

// RecordStorageOp records a Storage KV/queue operation.
func (m *Metrics) RecordStorageOp(operation, status string, duration time.Duration) {
	m.StorageOpsTotal.WithLabelValues(operation, status).Inc()
	m.StorageOpDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetStorageConnections sets the number of open storage engine connections.
func (m *Metrics) SetStorageConnections(count int) {
	m.StorageConnsOpen.Set(float64(count))
}

// SetStagedQueueDepth sets the current depth of the staged-task queue.
func (m *Metrics) SetStagedQueueDepth(depth int) {
	m.StagedQueueDepth.Set(float64(depth))
}

// SetExecutorPoolSize sets the current number of live executors.
func (m *Metrics) SetExecutorPoolSize(count int) {
	m.ExecutorPoolSize.Set(float64(count))
}

// UpdateUptime updates the service uptime gauge relative to startTime.
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// IncrementInFlight increments the in-flight requests counter.
func (m *Metrics) IncrementInFlight() { m.RequestsInFlight.Inc() }

// DecrementInFlight decrements the in-flight requests counter.
func (m *Metrics) DecrementInFlight() { m.RequestsInFlight.Dec() }

func getEnvironment() string {
	return string(runtime.Env())
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
//   - production: disabled unless explicitly enabled via METRICS_ENABLED
//   - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return !runtime.IsProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes (once) and returns the process-wide global metrics instance.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the process-wide global metrics instance, initializing it
// with an "unknown" service name if Init was never called.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
