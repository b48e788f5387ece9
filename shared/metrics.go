package shared

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ServiceMetrics tracks request outcomes for one source or service
type ServiceMetrics struct {
	serviceName         string
	totalRequests       int64
	successfulRequests  int64
	failedRequests      int64
	timeoutRequests     int64
	recordsExtracted    int64
	totalProcessingTime time.Duration
	lastError           string
	lastSuccess         time.Time
	lastUpdated         time.Time
	performance         *PerformanceMetrics
	mutex               sync.RWMutex
}

// MetricsSnapshot is a copy of ServiceMetrics safe to serialize
type MetricsSnapshot struct {
	ServiceName           string              `json:"service_name"`
	TotalRequests         int64               `json:"total_requests"`
	SuccessfulRequests    int64               `json:"successful_requests"`
	FailedRequests        int64               `json:"failed_requests"`
	TimeoutRequests       int64               `json:"timeout_requests"`
	RecordsExtracted      int64               `json:"records_extracted"`
	SuccessRate           float64             `json:"success_rate"`
	AverageProcessingTime time.Duration       `json:"average_processing_time"`
	LastError             string              `json:"last_error,omitempty"`
	LastSuccess           *time.Time          `json:"last_success,omitempty"`
	LastUpdated           time.Time           `json:"last_updated"`
	Performance           PerformanceSnapshot `json:"performance"`
}

// NewServiceMetrics creates a new metrics tracker for a service
func NewServiceMetrics(serviceName string) *ServiceMetrics {
	return &ServiceMetrics{
		serviceName: serviceName,
		lastUpdated: time.Now(),
		performance: NewPerformanceMetrics(),
	}
}

// RecordRequest records a request with its outcome and processing time
func (m *ServiceMetrics) RecordRequest(success bool, processingTime time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.totalRequests++
	m.totalProcessingTime += processingTime
	if success {
		m.successfulRequests++
		m.lastSuccess = time.Now()
	} else {
		m.failedRequests++
	}
	m.lastUpdated = time.Now()
	m.performance.RecordProcessingTime(processingTime)
}

// RecordFailure records a failed request with its error and whether it timed out
func (m *ServiceMetrics) RecordFailure(processingTime time.Duration, errMsg string, timedOut bool) {
	m.RecordRequest(false, processingTime)

	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.lastError = errMsg
	if timedOut {
		m.timeoutRequests++
	}
}

// AddRecords adds to the count of records extracted
func (m *ServiceMetrics) AddRecords(n int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.recordsExtracted += int64(n)
}

// GetSuccessRate returns the success rate as a percentage
func (m *ServiceMetrics) GetSuccessRate() float64 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.successRateLocked()
}

func (m *ServiceMetrics) successRateLocked() float64 {
	if m.totalRequests == 0 {
		return 0.0
	}
	return float64(m.successfulRequests) / float64(m.totalRequests) * 100.0
}

// GetSnapshot returns a copy of the current metrics
func (m *ServiceMetrics) GetSnapshot() MetricsSnapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	snapshot := MetricsSnapshot{
		ServiceName:        m.serviceName,
		TotalRequests:      m.totalRequests,
		SuccessfulRequests: m.successfulRequests,
		FailedRequests:     m.failedRequests,
		TimeoutRequests:    m.timeoutRequests,
		RecordsExtracted:   m.recordsExtracted,
		SuccessRate:        m.successRateLocked(),
		LastError:          m.lastError,
		LastUpdated:        m.lastUpdated,
		Performance:        m.performance.GetPerformanceSnapshot(),
	}
	if m.totalRequests > 0 {
		snapshot.AverageProcessingTime = time.Duration(int64(m.totalProcessingTime) / m.totalRequests)
	}
	if !m.lastSuccess.IsZero() {
		last := m.lastSuccess
		snapshot.LastSuccess = &last
	}
	return snapshot
}

// LogSummary logs a metrics summary
func (m *ServiceMetrics) LogSummary() {
	snapshot := m.GetSnapshot()

	logrus.WithFields(logrus.Fields{
		"service_name":            snapshot.ServiceName,
		"total_requests":          snapshot.TotalRequests,
		"successful_requests":     snapshot.SuccessfulRequests,
		"failed_requests":         snapshot.FailedRequests,
		"timeout_requests":        snapshot.TimeoutRequests,
		"records_extracted":       snapshot.RecordsExtracted,
		"success_rate":            snapshot.SuccessRate,
		"average_processing_time": snapshot.AverageProcessingTime,
		"p95_processing_time":     snapshot.Performance.P95ProcessingTime,
	}).Info("Service metrics summary")
}

// MetricsRegistry hands out one ServiceMetrics per name
type MetricsRegistry struct {
	mutex   sync.Mutex
	metrics map[string]*ServiceMetrics
}

// NewMetricsRegistry creates an empty registry
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{metrics: make(map[string]*ServiceMetrics)}
}

// For returns the metrics of name, creating them on first use
func (r *MetricsRegistry) For(name string) *ServiceMetrics {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	m, ok := r.metrics[name]
	if !ok {
		m = NewServiceMetrics(name)
		r.metrics[name] = m
	}
	return m
}

// Snapshots returns a snapshot of every registered tracker keyed by name
func (r *MetricsRegistry) Snapshots() map[string]MetricsSnapshot {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	out := make(map[string]MetricsSnapshot, len(r.metrics))
	for name, m := range r.metrics {
		out[name] = m.GetSnapshot()
	}
	return out
}

// DatabaseMetrics tracks database operation performance and success rates
type DatabaseMetrics struct {
	totalQueries      int64
	successfulQueries int64
	failedQueries     int64
	slowQueries       int64
	totalQueryTime    time.Duration
	slowThreshold     time.Duration
	mutex             sync.RWMutex
}

// DatabaseSnapshot is a copy of DatabaseMetrics
type DatabaseSnapshot struct {
	TotalQueries      int64         `json:"total_queries"`
	SuccessfulQueries int64         `json:"successful_queries"`
	FailedQueries     int64         `json:"failed_queries"`
	SlowQueries       int64         `json:"slow_queries"`
	AverageQueryTime  time.Duration `json:"average_query_time"`
}

// NewDatabaseMetrics creates a database metrics tracker. Queries slower
// than slowThreshold are counted as slow.
func NewDatabaseMetrics(slowThreshold time.Duration) *DatabaseMetrics {
	if slowThreshold <= 0 {
		slowThreshold = 500 * time.Millisecond
	}
	return &DatabaseMetrics{slowThreshold: slowThreshold}
}

// RecordQuery records a database operation
func (dm *DatabaseMetrics) RecordQuery(success bool, queryTime time.Duration) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	dm.totalQueries++
	dm.totalQueryTime += queryTime
	if success {
		dm.successfulQueries++
	} else {
		dm.failedQueries++
	}
	if queryTime > dm.slowThreshold {
		dm.slowQueries++
	}
}

// Snapshot returns a copy of the counters
func (dm *DatabaseMetrics) Snapshot() DatabaseSnapshot {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	snapshot := DatabaseSnapshot{
		TotalQueries:      dm.totalQueries,
		SuccessfulQueries: dm.successfulQueries,
		FailedQueries:     dm.failedQueries,
		SlowQueries:       dm.slowQueries,
	}
	if dm.totalQueries > 0 {
		snapshot.AverageQueryTime = time.Duration(int64(dm.totalQueryTime) / dm.totalQueries)
	}
	return snapshot
}

// PerformanceMetrics keeps a sliding window of processing times
type PerformanceMetrics struct {
	mutex           sync.RWMutex
	minTime         time.Duration
	maxTime         time.Duration
	processingTimes []time.Duration
}

// PerformanceSnapshot summarizes the processing time window
type PerformanceSnapshot struct {
	MinProcessingTime time.Duration `json:"min_processing_time"`
	MaxProcessingTime time.Duration `json:"max_processing_time"`
	P95ProcessingTime time.Duration `json:"p95_processing_time"`
	P99ProcessingTime time.Duration `json:"p99_processing_time"`
}

const performanceWindow = 500

// NewPerformanceMetrics creates a new performance metrics tracker
func NewPerformanceMetrics() *PerformanceMetrics {
	return &PerformanceMetrics{
		processingTimes: make([]time.Duration, 0, performanceWindow),
	}
}

// RecordProcessingTime adds a sample to the window
func (pm *PerformanceMetrics) RecordProcessingTime(duration time.Duration) {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()

	if pm.minTime == 0 || duration < pm.minTime {
		pm.minTime = duration
	}
	if duration > pm.maxTime {
		pm.maxTime = duration
	}

	if len(pm.processingTimes) >= performanceWindow {
		pm.processingTimes = pm.processingTimes[1:]
	}
	pm.processingTimes = append(pm.processingTimes, duration)
}

// GetPerformanceSnapshot computes percentiles over the current window
func (pm *PerformanceMetrics) GetPerformanceSnapshot() PerformanceSnapshot {
	pm.mutex.RLock()
	defer pm.mutex.RUnlock()

	snapshot := PerformanceSnapshot{
		MinProcessingTime: pm.minTime,
		MaxProcessingTime: pm.maxTime,
	}
	if len(pm.processingTimes) == 0 {
		return snapshot
	}

	times := make([]time.Duration, len(pm.processingTimes))
	copy(times, pm.processingTimes)
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })

	snapshot.P95ProcessingTime = times[percentileIndex(len(times), 0.95)]
	snapshot.P99ProcessingTime = times[percentileIndex(len(times), 0.99)]
	return snapshot
}

func percentileIndex(n int, p float64) int {
	idx := int(float64(n) * p)
	if idx >= n {
		idx = n - 1
	}
	return idx
}
