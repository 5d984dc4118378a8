// Package metrics provides Prometheus-based metrics collection for netman.
// A Metrics value owns its own registry so tests and embedded uses never
// collide with the process-wide default.
package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/anstrom/netman/internal/registry"
	"github.com/anstrom/netman/internal/transport"
)

const (
	// Namespace for all netman metrics
	namespace = "netman"

	// Subsystems
	subsystemDiscovery = "discovery"
	subsystemSession   = "session"
	subsystemWorkers   = "workers"
	subsystemDatabase  = "database"
	subsystemSystem    = "system"
	subsystemAPI       = "api"
)

// Job statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Metrics holds all Prometheus metric collectors.
type Metrics struct {
	// Discovery metrics
	discoveryTotal    *prometheus.CounterVec
	discoveryDuration *prometheus.HistogramVec
	classifications   *prometheus.CounterVec
	commandFailures   *prometheus.CounterVec
	devicesSwept      prometheus.Counter

	// Session metrics
	sessionFailures *prometheus.CounterVec

	// Worker metrics
	jobsSubmitted *prometheus.CounterVec
	jobsCompleted *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	jobRetries    *prometheus.HistogramVec
	poolSize      prometheus.Gauge
	activeJobs    prometheus.Gauge

	// Database metrics
	dbQueries       *prometheus.CounterVec
	dbQueryDuration *prometheus.HistogramVec
	dbConnections   prometheus.Gauge

	// API metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// System metrics
	memoryUsage prometheus.Gauge
	goroutines  prometheus.Gauge
	uptime      prometheus.Gauge

	startTime  time.Time
	lastUpdate time.Time
	mu         sync.RWMutex
	registry   *prometheus.Registry
}

// New creates a metrics instance with all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		startTime: time.Now(),
		registry:  reg,
	}

	m.initDiscoveryMetrics()
	m.initWorkerMetrics()
	m.initDatabaseMetrics()
	m.initAPIMetrics()
	m.initSystemMetrics()

	reg.MustRegister(
		m.discoveryTotal, m.discoveryDuration, m.classifications, m.commandFailures, m.devicesSwept,
		m.sessionFailures,
		m.jobsSubmitted, m.jobsCompleted, m.jobDuration, m.jobRetries, m.poolSize, m.activeJobs,
		m.dbQueries, m.dbQueryDuration, m.dbConnections,
		m.httpRequests, m.httpDuration,
		m.memoryUsage, m.goroutines, m.uptime,
	)

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

func (m *Metrics) initDiscoveryMetrics() {
	m.discoveryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDiscovery,
			Name:      "total",
			Help:      "Total number of discovery runs by outcome",
		},
		[]string{"outcome"},
	)

	m.discoveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemDiscovery,
			Name:      "duration_seconds",
			Help:      "Duration of discovery runs in seconds",
			Buckets:   []float64{1.0, 5.0, 10.0, 30.0, 60.0, 120.0, 300.0, 600.0},
		},
		[]string{"outcome"},
	)

	m.classifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDiscovery,
			Name:      "classifications_total",
			Help:      "Number of times a device was refined to a type",
		},
		[]string{"type"},
	)

	m.commandFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDiscovery,
			Name:      "command_failures_total",
			Help:      "Identify and scan commands that failed or timed out, by device type",
		},
		[]string{"type"},
	)

	m.devicesSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDiscovery,
			Name:      "swept_hosts_total",
			Help:      "Hosts found by network sweeps",
		},
	)

	m.sessionFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSession,
			Name:      "failures_total",
			Help:      "Failed session attempts by dialect",
		},
		[]string{"dialect"},
	)
}

func (m *Metrics) initWorkerMetrics() {
	m.jobsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemWorkers,
			Name:      "jobs_submitted_total",
			Help:      "Jobs accepted by the worker pool",
		},
		[]string{"job_type"},
	)

	m.jobsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemWorkers,
			Name:      "jobs_completed_total",
			Help:      "Jobs finished by the worker pool by type and status",
		},
		[]string{"job_type", "status"},
	)

	m.jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemWorkers,
			Name:      "job_duration_seconds",
			Help:      "Duration of a single job attempt in seconds",
			Buckets:   []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 300.0},
		},
		[]string{"job_type"},
	)

	m.jobRetries = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemWorkers,
			Name:      "job_retries",
			Help:      "Retries needed per finished job",
			Buckets:   []float64{0, 1, 2, 3, 5},
		},
		[]string{"job_type"},
	)

	m.poolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemWorkers,
			Name:      "pool_size",
			Help:      "Number of worker goroutines",
		},
	)

	m.activeJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemWorkers,
			Name:      "active_jobs",
			Help:      "Jobs currently executing",
		},
	)
}

func (m *Metrics) initDatabaseMetrics() {
	m.dbQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDatabase,
			Name:      "queries_total",
			Help:      "Total number of database queries by operation and status",
		},
		[]string{"operation", "status"},
	)

	m.dbQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemDatabase,
			Name:      "query_duration_seconds",
			Help:      "Duration of database queries in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		},
		[]string{"operation"},
	)

	m.dbConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemDatabase,
			Name:      "connections_active",
			Help:      "Number of active database connections",
		},
	)
}

func (m *Metrics) initAPIMetrics() {
	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)

	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"method", "path"},
	)
}

func (m *Metrics) initSystemMetrics() {
	m.memoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "memory_bytes",
			Help:      "Current memory usage in bytes",
		},
	)

	m.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	m.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Application uptime in seconds",
		},
	)
}

// GetRegistry returns the Prometheus registry for the HTTP handler.
func (m *Metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

// Discovery

// DiscoveryCompleted records one finished discovery run.
func (m *Metrics) DiscoveryCompleted(outcome string, duration time.Duration) {
	m.discoveryTotal.WithLabelValues(outcome).Inc()
	m.discoveryDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// Classified records a device being refined to typeID.
func (m *Metrics) Classified(typeID registry.TypeID) {
	m.classifications.WithLabelValues(string(typeID)).Inc()
}

// SessionFailed records a failed credential/dialect attempt.
func (m *Metrics) SessionFailed(dialect transport.Dialect) {
	m.sessionFailures.WithLabelValues(string(dialect)).Inc()
}

// CommandFailed records a failed identify or scan command.
func (m *Metrics) CommandFailed(typeID registry.TypeID) {
	m.commandFailures.WithLabelValues(string(typeID)).Inc()
}

// HostsSwept adds hosts found by a network sweep.
func (m *Metrics) HostsSwept(count int) {
	m.devicesSwept.Add(float64(count))
}

// Workers

// JobSubmitted records a job accepted by the pool.
func (m *Metrics) JobSubmitted(jobType string) {
	m.jobsSubmitted.WithLabelValues(jobType).Inc()
}

// JobAttempt records the duration of one job attempt.
func (m *Metrics) JobAttempt(jobType string, duration time.Duration) {
	m.jobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

// JobCompleted records a job that will not be retried again.
func (m *Metrics) JobCompleted(jobType, status string, retries int) {
	m.jobsCompleted.WithLabelValues(jobType, status).Inc()
	m.jobRetries.WithLabelValues(jobType).Observe(float64(retries))
}

// SetPoolSize sets the number of workers.
func (m *Metrics) SetPoolSize(size int) {
	m.poolSize.Set(float64(size))
}

// JobStarted and JobFinished track executing jobs.
func (m *Metrics) JobStarted() {
	m.activeJobs.Inc()
}

// JobFinished is the counterpart of JobStarted.
func (m *Metrics) JobFinished() {
	m.activeJobs.Dec()
}

// Database

// RecordDatabaseQuery records a query and its duration.
func (m *Metrics) RecordDatabaseQuery(operation string, duration time.Duration, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.dbQueries.WithLabelValues(operation, status).Inc()
	m.dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetActiveConnections sets the number of open database connections.
func (m *Metrics) SetActiveConnections(count int) {
	m.dbConnections.Set(float64(count))
}

// API

// RecordHTTPRequest records a served request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// System

// UpdateSystemMetrics refreshes memory, goroutine and uptime gauges.
func (m *Metrics) UpdateSystemMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.memoryUsage.Set(float64(memStats.Alloc))
	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.uptime.Set(time.Since(m.startTime).Seconds())
	m.lastUpdate = time.Now()
}

// GetUptime returns the application uptime.
func (m *Metrics) GetUptime() time.Duration {
	return time.Since(m.startTime)
}

// GetLastUpdate returns the last system metrics update time.
func (m *Metrics) GetLastUpdate() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastUpdate
}

// StartPeriodicUpdates updates system metrics every interval until ctx is done.
func (m *Metrics) StartPeriodicUpdates(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.UpdateSystemMetrics()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.UpdateSystemMetrics()
		}
	}
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// Default returns the process-wide metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = New()
	})
	return globalMetrics
}
