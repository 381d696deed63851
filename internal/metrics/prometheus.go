// Package metrics provides Prometheus-based metrics collection for cr4wler.
// Every recording method is safe to call on a nil *PrometheusMetrics, so
// components can run without metrics wired in.
package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// Namespace for all cr4wler metrics
	namespace = "cr4wler"

	// Subsystems
	subsystemCrawl      = "crawl"
	subsystemScan       = "scan"
	subsystemWorkers    = "workers"
	subsystemEnrichment = "enrichment"
	subsystemStore      = "store"
	subsystemDatabase   = "database"
	subsystemAPI        = "api"
	subsystemSystem     = "system"
)

// Label values shared by callers.
const (
	StatusSuccess     = "success"
	StatusError       = "error"
	StatusTimeout     = "timeout"
	StatusUnavailable = "unavailable"
	StatusSkipped     = "skipped"
	StatusEmpty       = "empty"

	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	// Crawl run metrics
	runsTotal   *prometheus.CounterVec
	runDuration prometheus.Histogram
	candidates  prometheus.Counter

	// Deep scan metrics
	deepScans        *prometheus.CounterVec
	deepScanDuration prometheus.Histogram
	activeDeepScans  prometheus.Gauge

	// Worker pool metrics
	jobs        *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec

	// Enrichment metrics
	enrichmentLookups *prometheus.CounterVec

	// Store metrics
	storedHosts *prometheus.CounterVec

	// Database metrics
	dbQueries       *prometheus.CounterVec
	dbQueryDuration *prometheus.HistogramVec

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

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		startTime: time.Now(),
		registry:  registry,
	}

	pm.initPipelineMetrics()
	pm.initDatabaseMetrics()
	pm.initAPIMetrics()
	pm.initSystemMetrics()

	registry.MustRegister(
		pm.runsTotal, pm.runDuration, pm.candidates,
		pm.deepScans, pm.deepScanDuration, pm.activeDeepScans,
		pm.jobs, pm.jobDuration,
		pm.enrichmentLookups, pm.storedHosts,
		pm.dbQueries, pm.dbQueryDuration,
		pm.httpRequests, pm.httpDuration,
		pm.memoryUsage, pm.goroutines, pm.uptime,
	)

	// Register standard Go and process collectors for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

func (pm *PrometheusMetrics) initPipelineMetrics() {
	pm.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemCrawl,
			Name:      "runs_total",
			Help:      "Total number of crawl runs by status",
		},
		[]string{"status"},
	)

	pm.runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemCrawl,
			Name:      "run_duration_seconds",
			Help:      "Duration of crawl runs in seconds",
			Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 14400, 86400},
		},
	)

	pm.candidates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemCrawl,
			Name:      "candidates_total",
			Help:      "Total number of candidate addresses found by the broad scan",
		},
	)

	pm.deepScans = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "deep_total",
			Help:      "Total number of per-address deep scans by status",
		},
		[]string{"status"},
	)

	pm.deepScanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "deep_duration_seconds",
			Help:      "Duration of per-address deep scans in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	pm.activeDeepScans = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "deep_active",
			Help:      "Number of deep scans currently running",
		},
	)

	pm.jobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemWorkers,
			Name:      "jobs_total",
			Help:      "Total number of worker pool jobs by type and status",
		},
		[]string{"job_type", "status"},
	)

	pm.jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemWorkers,
			Name:      "job_duration_seconds",
			Help:      "Duration of worker pool jobs in seconds",
			Buckets:   []float64{0.1, 1, 5, 10, 30, 60, 300, 600},
		},
		[]string{"job_type"},
	)

	pm.enrichmentLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemEnrichment,
			Name:      "lookups_total",
			Help:      "Total number of enrichment lookups by provider and status",
		},
		[]string{"provider", "status"},
	)

	pm.storedHosts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemStore,
			Name:      "hosts_total",
			Help:      "Total number of submitted hosts by outcome",
		},
		[]string{"outcome"},
	)
}

func (pm *PrometheusMetrics) initDatabaseMetrics() {
	pm.dbQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDatabase,
			Name:      "queries_total",
			Help:      "Total number of database operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	pm.dbQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemDatabase,
			Name:      "query_duration_seconds",
			Help:      "Duration of database operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		},
		[]string{"operation"},
	)
}

func (pm *PrometheusMetrics) initAPIMetrics() {
	pm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemAPI,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)

	pm.httpDuration = prometheus.NewHistogramVec(
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

func (pm *PrometheusMetrics) initSystemMetrics() {
	pm.memoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "memory_bytes",
			Help:      "Current memory usage in bytes",
		},
	)

	pm.goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	pm.uptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemSystem,
			Name:      "uptime_seconds",
			Help:      "Application uptime in seconds",
		},
	)
}

// GetRegistry returns the Prometheus registry for HTTP handler
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// Crawl Metrics Methods

// IncrementRuns counts a finished crawl run.
func (pm *PrometheusMetrics) IncrementRuns(status string) {
	if pm == nil {
		return
	}
	pm.runsTotal.WithLabelValues(status).Inc()
}

// RecordRunDuration records how long a crawl run took.
func (pm *PrometheusMetrics) RecordRunDuration(d time.Duration) {
	if pm == nil {
		return
	}
	pm.runDuration.Observe(d.Seconds())
}

// AddCandidates counts addresses produced by a broad scan.
func (pm *PrometheusMetrics) AddCandidates(n int) {
	if pm == nil {
		return
	}
	pm.candidates.Add(float64(n))
}

// IncrementDeepScans counts a finished deep scan.
func (pm *PrometheusMetrics) IncrementDeepScans(status string) {
	if pm == nil {
		return
	}
	pm.deepScans.WithLabelValues(status).Inc()
}

// RecordDeepScanDuration records the duration of one deep scan.
func (pm *PrometheusMetrics) RecordDeepScanDuration(d time.Duration) {
	if pm == nil {
		return
	}
	pm.deepScanDuration.Observe(d.Seconds())
}

// AddActiveDeepScans moves the active deep scan gauge by delta.
func (pm *PrometheusMetrics) AddActiveDeepScans(delta int) {
	if pm == nil {
		return
	}
	pm.activeDeepScans.Add(float64(delta))
}

// IncrementJobs counts a finished worker pool job.
func (pm *PrometheusMetrics) IncrementJobs(jobType, status string) {
	if pm == nil {
		return
	}
	pm.jobs.WithLabelValues(jobType, status).Inc()
}

// RecordJobDuration records the duration of a worker pool job.
func (pm *PrometheusMetrics) RecordJobDuration(jobType string, d time.Duration) {
	if pm == nil {
		return
	}
	pm.jobDuration.WithLabelValues(jobType).Observe(d.Seconds())
}

// Enrichment and Store Metrics Methods

// IncrementEnrichmentLookups counts one lookup attempt.
func (pm *PrometheusMetrics) IncrementEnrichmentLookups(provider, status string) {
	if pm == nil {
		return
	}
	pm.enrichmentLookups.WithLabelValues(provider, status).Inc()
}

// AddStoredHosts counts n submitted hosts with the given outcome.
func (pm *PrometheusMetrics) AddStoredHosts(outcome string, n int) {
	if pm == nil || n == 0 {
		return
	}
	pm.storedHosts.WithLabelValues(outcome).Add(float64(n))
}

// Database Metrics Methods

// RecordDatabaseQuery records one database operation.
func (pm *PrometheusMetrics) RecordDatabaseQuery(operation string, duration time.Duration, success bool) {
	if pm == nil {
		return
	}
	status := StatusSuccess
	if !success {
		status = StatusError
	}
	pm.dbQueries.WithLabelValues(operation, status).Inc()
	pm.dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// API Metrics Methods

// IncrementHTTPRequests increments HTTP request counter
func (pm *PrometheusMetrics) IncrementHTTPRequests(method, path, status string) {
	if pm == nil {
		return
	}
	pm.httpRequests.WithLabelValues(method, path, status).Inc()
}

// RecordHTTPDuration records HTTP request duration
func (pm *PrometheusMetrics) RecordHTTPDuration(method, path string, duration time.Duration) {
	if pm == nil {
		return
	}
	pm.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// System Metrics Methods

// UpdateSystemMetrics updates all system metrics with current values
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	pm.memoryUsage.Set(float64(memStats.Alloc))
	pm.goroutines.Set(float64(runtime.NumGoroutine()))
	pm.uptime.Set(time.Since(pm.startTime).Seconds())
	pm.lastUpdate = time.Now()
}

// GetUptime returns the application uptime
func (pm *PrometheusMetrics) GetUptime() time.Duration {
	return time.Since(pm.startTime)
}

// GetLastUpdate returns the last metrics update time
func (pm *PrometheusMetrics) GetLastUpdate() time.Time {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.lastUpdate
}

// StartPeriodicUpdates updates system metrics every interval until ctx ends.
func (pm *PrometheusMetrics) StartPeriodicUpdates(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pm.UpdateSystemMetrics()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.UpdateSystemMetrics()
		}
	}
}

// Global instance for easy access
var globalMetrics *PrometheusMetrics
var metricsOnce sync.Once

// GetGlobalMetrics returns the global Prometheus metrics instance
func GetGlobalMetrics() *PrometheusMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewPrometheusMetrics()
	})
	return globalMetrics
}
