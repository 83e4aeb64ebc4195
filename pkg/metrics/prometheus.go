// Package metrics provides Prometheus metrics for the Guardian service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the Guardian service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Ingest
	readingsAccepted  prometheus.Counter
	readingsRejected  *prometheus.CounterVec
	readingsDuplicate prometheus.Counter
	batchesIngested   *prometheus.CounterVec
	seriesTracked     prometheus.Gauge

	// Features, baseline and scoring
	windowsExtracted     *prometheus.CounterVec
	baselineVersion      prometheus.Gauge
	baselineChannels     prometheus.Gauge
	baselineRefreshMs    prometheus.Histogram
	assessments          prometheus.Counter
	riskScore            prometheus.Histogram
	insufficientBaseline prometheus.Counter
	scoringErrors        *prometheus.CounterVec

	// Escalation and dispatch
	stateTransitions     *prometheus.CounterVec
	machinesByState      *prometheus.GaugeVec
	notificationsSent    *prometheus.CounterVec
	notificationsDropped *prometheus.CounterVec
	dispatchAttempts     *prometheus.CounterVec
	dispatchLatency      prometheus.Histogram

	// Narrative
	narratives       *prometheus.CounterVec
	narrativeLatency prometheus.Histogram

	// Queue and workers
	queueSize               *prometheus.GaugeVec
	queueCapacity           prometheus.Gauge
	queueRejected           *prometheus.CounterVec
	workerCount             prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "guardian",
		subsystem:        "pipeline",
		histogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: buckets,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	m.readingsAccepted = m.counter("readings_accepted_total", "Sensor readings accepted into a time series")
	m.readingsRejected = m.counterVec("readings_rejected_total", "Sensor readings rejected by validation", "reason")
	m.readingsDuplicate = m.counter("readings_duplicate_total", "Sensor readings dropped as exact (machine, channel, timestamp) repeats")
	m.batchesIngested = m.counterVec("batches_ingested_total", "Reading batches ingested by source", "source")
	m.seriesTracked = m.gauge("series_tracked", "Number of (machine, channel) series held in memory")

	m.windowsExtracted = m.counterVec("windows_extracted_total", "Feature windows extracted", "confidence")
	m.baselineVersion = m.gauge("baseline_version", "Version of the baseline snapshot in use")
	m.baselineChannels = m.gauge("baseline_channels", "Number of channel baselines in the latest built snapshot")
	m.baselineRefreshMs = m.histogram("baseline_refresh_milliseconds", "Baseline snapshot build latency in milliseconds", m.histogramBuckets)
	m.assessments = m.counter("assessments_total", "Risk assessments produced")
	m.riskScore = m.histogram("risk_score", "Distribution of risk scores", []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100})
	m.insufficientBaseline = m.counter("insufficient_baseline_total", "Assessments produced without any usable baseline")
	m.scoringErrors = m.counterVec("scoring_errors_total", "Scoring runs aborted for a machine", "kind")

	m.stateTransitions = m.counterVec("state_transitions_total", "Escalation state transitions", "from", "to")
	m.machinesByState = m.gaugeVec("machines_by_state", "Machines currently in each escalation state", "state")
	m.notificationsSent = m.counterVec("notifications_sent_total", "Notifications delivered", "kind")
	m.notificationsDropped = m.counterVec("notifications_dropped_total", "Notifications not delivered", "kind", "reason")
	m.dispatchAttempts = m.counterVec("dispatch_attempts_total", "Notifier delivery attempts", "outcome")
	m.dispatchLatency = m.histogram("dispatch_latency_milliseconds", "Notification dispatch latency including retries", m.histogramBuckets)

	m.narratives = m.counterVec("narratives_total", "Narrative generation outcomes", "outcome")
	m.narrativeLatency = m.histogram("narrative_latency_milliseconds", "Narrative generation latency in milliseconds", m.histogramBuckets)

	m.queueSize = m.gaugeVec("queue_size", "Jobs waiting in each partition queue", "partition")
	m.queueCapacity = m.gauge("queue_capacity", "Capacity of each partition queue")
	m.queueRejected = m.counterVec("queue_rejected_total", "Jobs rejected by a partition queue", "reason")
	m.workerCount = m.gauge("worker_count", "Number of partition workers")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Time to process one machine job", m.histogramBuckets)
	m.workerErrors = m.counterVec("worker_errors_total", "Errors raised while processing a machine job", "kind")

	m.httpRequests = promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: "http", Name: "requests_total", ConstLabels: m.constLabels,
		Help: "Total number of HTTP requests by endpoint and method",
	}, []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: "http", Name: "request_duration_milliseconds", ConstLabels: m.constLabels,
		Help: "HTTP request duration in milliseconds", Buckets: m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Ingest metrics.

// RecordReadingsAccepted adds n accepted readings.
func RecordReadingsAccepted(n int) { globalManager.readingsAccepted.Add(float64(n)) }

// RecordReadingRejected counts one rejected reading by reason.
func RecordReadingRejected(reason string) { globalManager.readingsRejected.WithLabelValues(reason).Inc() }

// RecordReadingsDuplicate adds n duplicate readings.
func RecordReadingsDuplicate(n int) { globalManager.readingsDuplicate.Add(float64(n)) }

// RecordBatchIngested counts one batch from source.
func RecordBatchIngested(source string) { globalManager.batchesIngested.WithLabelValues(source).Inc() }

// UpdateSeriesTracked sets the number of series held.
func UpdateSeriesTracked(n int) { globalManager.seriesTracked.Set(float64(n)) }

// Feature, baseline and scoring metrics.

// RecordWindowExtracted counts one feature window.
func RecordWindowExtracted(lowConfidence bool) {
	label := "normal"
	if lowConfidence {
		label = "low"
	}
	globalManager.windowsExtracted.WithLabelValues(label).Inc()
}

// RecordBaselineRefresh records a baseline snapshot publish.
func RecordBaselineRefresh(version uint64, channels int, latencyMs float64) {
	globalManager.baselineVersion.Set(float64(version))
	globalManager.baselineChannels.Set(float64(channels))
	globalManager.baselineRefreshMs.Observe(latencyMs)
}

// RecordAssessment records a produced risk assessment.
func RecordAssessment(score float64, insufficientBaseline bool) {
	globalManager.assessments.Inc()
	globalManager.riskScore.Observe(score)
	if insufficientBaseline {
		globalManager.insufficientBaseline.Inc()
	}
}

// RecordScoringError counts an aborted scoring run.
func RecordScoringError(kind string) { globalManager.scoringErrors.WithLabelValues(kind).Inc() }

// Escalation and dispatch metrics.

// RecordStateTransition counts one escalation transition.
func RecordStateTransition(from, to string) {
	globalManager.stateTransitions.WithLabelValues(from, to).Inc()
	globalManager.machinesByState.WithLabelValues(from).Dec()
	globalManager.machinesByState.WithLabelValues(to).Inc()
}

// RecordMachineTracked counts a machine entering the initial state.
func RecordMachineTracked(state string) { globalManager.machinesByState.WithLabelValues(state).Inc() }

// RecordNotificationSent counts a delivered notification.
func RecordNotificationSent(kind string) { globalManager.notificationsSent.WithLabelValues(kind).Inc() }

// RecordNotificationDropped counts a notification that was not delivered.
func RecordNotificationDropped(kind, reason string) {
	globalManager.notificationsDropped.WithLabelValues(kind, reason).Inc()
}

// RecordDispatchAttempt counts one notifier call by outcome.
func RecordDispatchAttempt(outcome string) { globalManager.dispatchAttempts.WithLabelValues(outcome).Inc() }

// RecordDispatchLatency records the end-to-end dispatch latency.
func RecordDispatchLatency(latencyMs float64) { globalManager.dispatchLatency.Observe(latencyMs) }

// Narrative metrics.

// RecordNarrative records one narrative generation outcome.
func RecordNarrative(outcome string, latencyMs float64) {
	globalManager.narratives.WithLabelValues(outcome).Inc()
	globalManager.narrativeLatency.Observe(latencyMs)
}

// Queue and worker metrics.

// UpdateQueueSize sets the size of a partition queue.
func UpdateQueueSize(partition string, size int) {
	globalManager.queueSize.WithLabelValues(partition).Set(float64(size))
}

// UpdateQueueCapacity sets the partition queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// RecordQueueRejected counts a job refused by a queue.
func RecordQueueRejected(reason string) { globalManager.queueRejected.WithLabelValues(reason).Inc() }

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError counts a job processing error.
func RecordWorkerError(kind string) { globalManager.workerErrors.WithLabelValues(kind).Inc() }

// HTTP metrics.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// System metrics.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) { globalManager.systemGCPauseTime.Observe(pauseMs) }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
