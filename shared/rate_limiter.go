package shared

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// HTTPRequestRateLimiter spaces out requests to a single source
type HTTPRequestRateLimiter struct {
	limiter      *rate.Limiter
	source       string
	requestCount atomic.Int64
}

// NewHTTPRequestRateLimiter allows one request per minimumDelay with no
// burst. A non-positive delay disables limiting.
func NewHTTPRequestRateLimiter(source string, minimumDelay time.Duration) *HTTPRequestRateLimiter {
	limit := rate.Inf
	if minimumDelay > 0 {
		limit = rate.Every(minimumDelay)
	}
	return &HTTPRequestRateLimiter{
		limiter: rate.NewLimiter(limit, 1),
		source:  source,
	}
}

// NewRateLimiterPerSecond is a convenience for configuration expressed as
// requests per second.
func NewRateLimiterPerSecond(source string, requestsPerSecond float64) *HTTPRequestRateLimiter {
	if requestsPerSecond <= 0 {
		return NewHTTPRequestRateLimiter(source, 0)
	}
	return NewHTTPRequestRateLimiter(source, time.Duration(float64(time.Second)/requestsPerSecond))
}

// Wait blocks until the next request may be sent or ctx is done
func (l *HTTPRequestRateLimiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return NewServiceError(ErrorCategoryTimeout, CodeRateLimiterStopped,
			"rate limiter wait aborted", l.source, "Wait", false, err)
	}

	count := l.requestCount.Add(1)
	if waited := time.Since(start); waited > 10*time.Millisecond {
		logrus.WithFields(logrus.Fields{
			"component":     "HTTPRequestRateLimiter",
			"source":        l.source,
			"waited":        waited,
			"request_count": count,
		}).Debug("Enforced rate limit delay")
	}
	return nil
}

// GetRequestCount returns the total number of requests let through
func (l *HTTPRequestRateLimiter) GetRequestCount() int64 {
	return l.requestCount.Load()
}
