package shared

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrorCategory groups errors by the layer that raised them
type ErrorCategory string

const (
	ErrorCategoryConfiguration ErrorCategory = "configuration"
	ErrorCategoryNetwork       ErrorCategory = "network"
	ErrorCategoryParsing       ErrorCategory = "parsing"
	ErrorCategoryDatabase      ErrorCategory = "database"
	ErrorCategoryValidation    ErrorCategory = "validation"
	ErrorCategoryTimeout       ErrorCategory = "timeout"
	ErrorCategoryMerge         ErrorCategory = "merge"
	ErrorCategoryOutage        ErrorCategory = "outage"
	ErrorCategoryResource      ErrorCategory = "resource"
)

// Error codes used across the pipeline
const (
	CodeSourceFetchFailed  = "SOURCE_FETCH_FAILED"
	CodeSourceParseFailed  = "SOURCE_PARSE_FAILED"
	CodeSourceStatus       = "SOURCE_BAD_STATUS"
	CodeSourceTimeout      = "SOURCE_TIMEOUT"
	CodeSourceUnavailable  = "SOURCE_UNAVAILABLE"
	CodeTotalOutage        = "TOTAL_OUTAGE"
	CodePersistenceFailed  = "PERSISTENCE_FAILED"
	CodeSyncInProgress     = "SYNC_IN_PROGRESS"
	CodeInvalidConfig      = "INVALID_CONFIG"
	CodeKeyCollision       = "KEY_COLLISION"
	CodeGenerationFailed   = "GENERATION_FAILED"
	CodeRecordNotFound     = "RECORD_NOT_FOUND"
	CodeRateLimiterStopped = "RATE_LIMITER_CANCELLED"
)

// ServiceError is the structured error type shared by every package
type ServiceError struct {
	Category    ErrorCategory `json:"category"`
	Code        string        `json:"code"`
	Message     string        `json:"message"`
	Details     interface{}   `json:"details,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
	ServiceName string        `json:"service_name"`
	Operation   string        `json:"operation"`
	Retryable   bool          `json:"retryable"`
	Cause       error         `json:"-"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// NewServiceError creates a new service error
func NewServiceError(category ErrorCategory, code, message, serviceName, operation string, retryable bool, cause error) *ServiceError {
	return &ServiceError{
		Category:    category,
		Code:        code,
		Message:     message,
		Timestamp:   time.Now(),
		ServiceName: serviceName,
		Operation:   operation,
		Retryable:   retryable,
		Cause:       cause,
	}
}

// WithDetails adds additional details to the error
func (e *ServiceError) WithDetails(details interface{}) *ServiceError {
	e.Details = details
	return e
}

// LogError logs the error with structured fields
func (e *ServiceError) LogError() {
	logrus.WithFields(logrus.Fields{
		"error_category":   e.Category,
		"error_code":       e.Code,
		"error_message":    e.Message,
		"service_name":     e.ServiceName,
		"operation":        e.Operation,
		"retryable":        e.Retryable,
		"details":          e.Details,
		"underlying_error": e.Cause,
	}).Error("Service error occurred")
}

// WrapError wraps an existing error with service error context. A wrapped
// ServiceError keeps its category and code.
func WrapError(err error, category ErrorCategory, code, serviceName, operation string, retryable bool) *ServiceError {
	if err == nil {
		return nil
	}

	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return NewServiceError(serviceErr.Category, serviceErr.Code, serviceErr.Message, serviceName, operation, serviceErr.Retryable, err)
	}

	return NewServiceError(category, code, err.Error(), serviceName, operation, retryable, err)
}

// HasCode reports whether any ServiceError in err's chain carries code
func HasCode(err error, code string) bool {
	for err != nil {
		var serviceErr *ServiceError
		if !errors.As(err, &serviceErr) {
			return false
		}
		if serviceErr.Code == code {
			return true
		}
		err = serviceErr.Cause
	}
	return false
}

// IsRetryableError checks if an error is retryable
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Retryable
	}

	errorMsg := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout", "connection refused", "connection reset",
		"temporary failure", "service unavailable", "too many requests",
		"eof", "dns", "socket",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errorMsg, pattern) {
			return true
		}
	}

	return false
}

// CircuitBreaker isolates a failing source. Once the failure rate over at
// least MinSamples calls exceeds MaxFailureRate the breaker opens and Allow
// returns false until CoolDown has elapsed; then one trial call is let
// through. A successful trial closes the breaker, a failed one re-opens it.
// A negative MaxFailureRate disables the breaker.
type CircuitBreaker struct {
	mu sync.Mutex

	name           string
	maxFailureRate float64
	minSamples     int64
	coolDown       time.Duration
	now            func() time.Time

	open          bool
	trialInFlight bool
	openedAt      time.Time
	failureCount  int64
	successCount  int64
}

// CircuitBreakerConfig tunes a CircuitBreaker
type CircuitBreakerConfig struct {
	MaxFailureRate float64
	MinSamples     int64
	CoolDown       time.Duration
}

// DefaultCircuitBreakerConfig opens after more than 80% failures over 5 calls
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailureRate: 0.8,
		MinSamples:     5,
		CoolDown:       5 * time.Minute,
	}
}

// NewCircuitBreaker creates a breaker for the named source
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 5
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 5 * time.Minute
	}
	return &CircuitBreaker{
		name:           name,
		maxFailureRate: cfg.MaxFailureRate,
		minSamples:     cfg.MinSamples,
		coolDown:       cfg.CoolDown,
		now:            time.Now,
	}
}

// SetClock replaces the time source, used by tests
func (b *CircuitBreaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Allow reports whether a call may proceed
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxFailureRate < 0 || !b.open {
		return true
	}

	if !b.trialInFlight && b.now().Sub(b.openedAt) >= b.coolDown {
		b.trialInFlight = true
		logrus.WithFields(logrus.Fields{
			"service_name": b.name,
			"component":    "CircuitBreaker",
		}).Info("Circuit breaker entering half-open state")
		return true
	}
	return false
}

// RecordSuccess records a successful call
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successCount++
	if b.open {
		b.open = false
		b.trialInFlight = false
		b.failureCount = 0
		b.successCount = 0

		logrus.WithFields(logrus.Fields{
			"service_name": b.name,
			"component":    "CircuitBreaker",
		}).Info("Circuit breaker closed after successful trial call")
	}
}

// RecordFailure records a failed call
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	if b.maxFailureRate < 0 {
		return
	}

	if b.open {
		b.trialInFlight = false
		b.openedAt = b.now()
		logrus.WithFields(logrus.Fields{
			"service_name": b.name,
			"component":    "CircuitBreaker",
		}).Warn("Circuit breaker returned to open state after failed trial call")
		return
	}

	total := b.failureCount + b.successCount
	if total < b.minSamples {
		return
	}

	rate := float64(b.failureCount) / float64(total)
	if rate > b.maxFailureRate {
		b.open = true
		b.openedAt = b.now()
		logrus.WithFields(logrus.Fields{
			"service_name":     b.name,
			"component":        "CircuitBreaker",
			"failure_rate":     rate,
			"max_failure_rate": b.maxFailureRate,
			"failure_count":    b.failureCount,
			"success_count":    b.successCount,
		}).Warn("Circuit breaker opened due to high failure rate")
	}
}

// IsOpen reports the breaker state without consuming a trial call
func (b *CircuitBreaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// FailureRate returns the failure rate since the breaker last closed
func (b *CircuitBreaker) FailureRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := b.failureCount + b.successCount
	if total == 0 {
		return 0
	}
	return float64(b.failureCount) / float64(total)
}

// BuildErrorSummary joins up to three sample errors into one message
func BuildErrorSummary(successCount, totalErrorCount int, sampleErrors []error) string {
	var summaryBuilder strings.Builder
	summaryBuilder.WriteString(fmt.Sprintf("completed with %d successes and %d failures", successCount, totalErrorCount))

	sampleSize := len(sampleErrors)
	if sampleSize > 3 {
		sampleSize = 3
	}

	for i := 0; i < sampleSize; i++ {
		summaryBuilder.WriteString(fmt.Sprintf("; %s", sampleErrors[i].Error()))
	}

	if totalErrorCount > sampleSize {
		summaryBuilder.WriteString(fmt.Sprintf("; and %d additional errors", totalErrorCount-sampleSize))
	}

	return summaryBuilder.String()
}
