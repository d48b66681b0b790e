// Package metrics provides Prometheus metrics for the openplay scheduling service.
package metrics

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector exported by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Scheduling
	queueJoins       prometheus.Counter
	queueLeaves      prometheus.Counter
	queueLength      *prometheus.GaugeVec
	matchesGenerated prometheus.Counter
	matchesBackfill  prometheus.Counter
	matchesStarted   prometheus.Counter
	matchesFinished  prometheus.Counter
	courtsInUse      *prometheus.GaugeVec
	generateLatency  prometheus.Histogram
	finishLatency    prometheus.Histogram

	// Ratings and sessions
	ratingDelta       prometheus.Histogram
	playersRegistered prometheus.Counter
	sessionsStarted   prometheus.Counter
	sessionsEnded     prometheus.Counter

	// Locking and storage
	lockWait       *prometheus.HistogramVec
	lockConflicts  *prometheus.CounterVec
	storeTxLatency *prometheus.HistogramVec
	storeTxRetries *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "openplay",
		subsystem:        "scheduler",
		histogramBuckets: prometheus.DefBuckets,
		constLabels:      map[string]string{},
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
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels, Buckets: buckets,
	})
}

func (m *Manager) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels, Buckets: buckets,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	m.queueJoins = m.counter("queue_joins_total", "Players added to a session queue")
	m.queueLeaves = m.counter("queue_leaves_total", "Players that left a session queue without being matched")
	m.queueLength = m.gaugeVec("queue_length", "Players currently waiting per session", "session")
	m.matchesGenerated = m.counter("matches_generated_total", "Matches created by the scheduler")
	m.matchesBackfill = m.counter("matches_backfilled_total", "Matches created by the finish cascade")
	m.matchesStarted = m.counter("matches_started_total", "Matches moved to ONGOING")
	m.matchesFinished = m.counter("matches_finished_total", "Matches moved to FINISHED")
	m.courtsInUse = m.gaugeVec("courts_in_use", "Courts held by SCHEDULED or ONGOING matches", "session")
	m.generateLatency = m.histogram("generate_latency_milliseconds", "Latency of match generation", m.histogramBuckets)
	m.finishLatency = m.histogram("finish_latency_milliseconds", "Latency of finishing a match including backfill", m.histogramBuckets)

	m.ratingDelta = m.histogram("rating_delta_abs", "Absolute rating change applied per player",
		[]float64{1, 2, 4, 8, 12, 16, 20, 24, 28, 32})
	m.playersRegistered = m.counter("players_registered_total", "Players registered")
	m.sessionsStarted = m.counter("sessions_started_total", "Sessions created")
	m.sessionsEnded = m.counter("sessions_ended_total", "Sessions deactivated")

	m.lockWait = m.histogramVec("lock_wait_milliseconds", "Time spent acquiring a session lock", m.histogramBuckets, "backend")
	m.lockConflicts = m.counterVec("lock_conflicts_total", "Session lock acquisitions that gave up", "backend")
	m.storeTxLatency = m.histogramVec("store_tx_milliseconds", "Duration of atomic storage units", m.histogramBuckets, "backend")
	m.storeTxRetries = m.counterVec("store_tx_retries_total", "Storage transactions retried after a serialization failure", "backend")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds",
		m.histogramBuckets, "endpoint", "method", "status_code")

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")
	m.errorRateByType = m.counterVec("errors_by_type_total", "Errors by type and severity", "error_type", "severity")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Errors by HTTP endpoint", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap memory in use")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
}

// RecordQueueJoin increments the queue join counter.
func RecordQueueJoin() { globalManager.queueJoins.Inc() }

// RecordQueueLeave increments the queue leave counter.
func RecordQueueLeave() { globalManager.queueLeaves.Inc() }

// UpdateQueueLength sets the waiting player count for a session.
func UpdateQueueLength(sessionID string, n int) {
	globalManager.queueLength.WithLabelValues(sessionID).Set(float64(n))
}

// RecordMatchesGenerated adds n created matches. Backfilled matches are also
// counted separately when backfill is true.
func RecordMatchesGenerated(n int, backfill bool) {
	if n <= 0 {
		return
	}
	globalManager.matchesGenerated.Add(float64(n))
	if backfill {
		globalManager.matchesBackfill.Add(float64(n))
	}
}

// RecordMatchStarted increments the started matches counter.
func RecordMatchStarted() { globalManager.matchesStarted.Inc() }

// RecordMatchFinished increments the finished matches counter.
func RecordMatchFinished() { globalManager.matchesFinished.Inc() }

// UpdateCourtsInUse sets the live match count for a session.
func UpdateCourtsInUse(sessionID string, n int) {
	globalManager.courtsInUse.WithLabelValues(sessionID).Set(float64(n))
}

// RecordGenerateLatency records generation latency in milliseconds.
func RecordGenerateLatency(ms float64) { globalManager.generateLatency.Observe(ms) }

// RecordFinishLatency records finish latency in milliseconds.
func RecordFinishLatency(ms float64) { globalManager.finishLatency.Observe(ms) }

// RecordRatingDelta observes the magnitude of one player's rating change.
func RecordRatingDelta(delta float64) {
	if delta < 0 {
		delta = -delta
	}
	globalManager.ratingDelta.Observe(delta)
}

// RecordPlayerRegistered increments the registered players counter.
func RecordPlayerRegistered() { globalManager.playersRegistered.Inc() }

// RecordSessionStarted increments the started sessions counter.
func RecordSessionStarted() { globalManager.sessionsStarted.Inc() }

// RecordSessionEnded increments the ended sessions counter.
func RecordSessionEnded() { globalManager.sessionsEnded.Inc() }

// RecordLockWait records how long a lock acquisition took.
func RecordLockWait(backend string, ms float64) {
	globalManager.lockWait.WithLabelValues(backend).Observe(ms)
}

// RecordLockConflict increments the lock conflict counter.
func RecordLockConflict(backend string) {
	globalManager.lockConflicts.WithLabelValues(backend).Inc()
}

// RecordStoreTx records the duration of one atomic storage unit.
func RecordStoreTx(backend string, ms float64) {
	globalManager.storeTxLatency.WithLabelValues(backend).Observe(ms)
}

// RecordStoreTxRetry increments the transaction retry counter.
func RecordStoreTxRetry(backend string) {
	globalManager.storeTxRetries.WithLabelValues(backend).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the heap memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// CollectSystem samples memory and goroutine gauges and returns the values.
func CollectSystem() (heapBytes uint64, goroutines int) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	goroutines = runtime.NumGoroutine()
	UpdateSystemMemoryUsage(ms.HeapAlloc)
	UpdateSystemGoroutineCount(goroutines)
	return ms.HeapAlloc, goroutines
}

// Register adds an external collector (for example database pool stats) to
// the custom registry. Registering the same collector twice is not an error.
func Register(c prometheus.Collector) error {
	if err := customRegistry.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrRegisterFailed, err)
	}
	return nil
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
