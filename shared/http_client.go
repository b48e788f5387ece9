package shared

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// MaxResponseBytes caps how much of a response body a scraper will read
const MaxResponseBytes = 8 << 20

// HTTPClientFactory hands out pooled HTTP clients keyed by timeout
type HTTPClientFactory struct {
	defaultTimeout time.Duration
	mutex          sync.RWMutex
	clients        map[string]*http.Client
}

// NewHTTPClientFactory creates a new HTTP client factory
func NewHTTPClientFactory(defaultTimeout time.Duration) *HTTPClientFactory {
	return &HTTPClientFactory{
		defaultTimeout: defaultTimeout,
		clients:        make(map[string]*http.Client),
	}
}

func newPooledTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// CreateOptimizedHTTPClient returns a shared pooled client for timeout
func (f *HTTPClientFactory) CreateOptimizedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = f.defaultTimeout
	}

	clientKey := fmt.Sprintf("timeout_%d", timeout.Milliseconds())

	f.mutex.RLock()
	if client, exists := f.clients[clientKey]; exists {
		f.mutex.RUnlock()
		return client
	}
	f.mutex.RUnlock()

	f.mutex.Lock()
	defer f.mutex.Unlock()
	if client, exists := f.clients[clientKey]; exists {
		return client
	}

	client := &http.Client{
		Timeout:   timeout,
		Transport: newPooledTransport(),
	}
	f.clients[clientKey] = client

	logrus.WithFields(logrus.Fields{
		"component":  "HTTPClientFactory",
		"timeout":    timeout,
		"client_key": clientKey,
	}).Debug("Created new optimized HTTP client")

	return client
}

// CreateSessionClient returns a dedicated client with its own cookie jar.
// Sources that hand out session cookies on a landing page need one.
func (f *HTTPClientFactory) CreateSessionClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = f.defaultTimeout
	}
	jar, _ := cookiejar.New(nil)
	return &http.Client{
		Timeout:   timeout,
		Jar:       jar,
		Transport: newPooledTransport(),
	}
}

// CleanupAllClients closes idle connections of every cached client
func (f *HTTPClientFactory) CleanupAllClients() {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	for key, client := range f.clients {
		if transport, ok := client.Transport.(*http.Transport); ok {
			transport.CloseIdleConnections()
		}
		delete(f.clients, key)
	}

	logrus.WithField("component", "HTTPClientFactory").Debug("Cleaned up all cached HTTP clients")
}

// SetBrowserLikeHeaders configures HTTP request headers to mimic browser behavior
func SetBrowserLikeHeaders(request *http.Request, acceptHeader string) {
	request.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	request.Header.Set("Accept", acceptHeader)
	request.Header.Set("Accept-Language", "en-US,en;q=0.9")
	request.Header.Set("Cache-Control", "no-cache")
	request.Header.Set("Connection", "keep-alive")
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// ExecuteHTTPRequestWithRetry executes a request with exponential backoff.
// Only network errors, 429 and 5xx responses are retried; the backoff wait
// ends early when ctx is cancelled. The request must not carry a body.
func ExecuteHTTPRequestWithRetry(ctx context.Context, client *http.Client, request *http.Request, maxRetryAttempts int) (*http.Response, error) {
	logger := logrus.WithFields(logrus.Fields{
		"component": "HTTPClientFactory",
		"method":    "ExecuteHTTPRequestWithRetry",
		"url":       request.URL.String(),
	})

	var lastExecutionError error

	for attemptNumber := 0; attemptNumber <= maxRetryAttempts; attemptNumber++ {
		if attemptNumber > 0 {
			baseBackoffDuration := time.Duration(1<<uint(attemptNumber-1)) * 500 * time.Millisecond
			jitterDuration := time.Duration(float64(baseBackoffDuration) * 0.1 * (0.5 + 0.5*float64(attemptNumber%3)/2))
			totalBackoffDuration := baseBackoffDuration + jitterDuration

			logger.WithFields(logrus.Fields{
				"attempt":          attemptNumber + 1,
				"backoff_duration": totalBackoffDuration,
			}).Debug("Retrying HTTP request after backoff")

			timer := time.NewTimer(totalBackoffDuration)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, NewServiceError(ErrorCategoryTimeout, CodeSourceTimeout,
					"request cancelled during retry backoff", "HTTPClientFactory", request.URL.Host, false, ctx.Err())
			case <-timer.C:
			}
		}

		httpResponse, err := client.Do(request.Clone(ctx))
		if err == nil && httpResponse.StatusCode == http.StatusOK {
			return httpResponse, nil
		}

		if err != nil {
			if ctx.Err() != nil {
				return nil, NewServiceError(ErrorCategoryTimeout, CodeSourceTimeout,
					fmt.Sprintf("request to %s timed out", request.URL.Host), "HTTPClientFactory", request.URL.Host, false, err)
			}
			lastExecutionError = NewServiceError(ErrorCategoryNetwork, CodeSourceFetchFailed,
				fmt.Sprintf("attempt %d failed with network error: %v", attemptNumber+1, err), "HTTPClientFactory", request.URL.Host, true, err)
			logger.WithError(err).Debug("HTTP request failed with network error")
			continue
		}

		httpResponse.Body.Close()
		lastExecutionError = NewServiceError(ErrorCategoryNetwork, CodeSourceStatus,
			fmt.Sprintf("HTTP %d: %s", httpResponse.StatusCode, http.StatusText(httpResponse.StatusCode)),
			"HTTPClientFactory", request.URL.Host, retryableStatus(httpResponse.StatusCode), nil)
		logger.WithFields(logrus.Fields{
			"attempt":     attemptNumber + 1,
			"status_code": httpResponse.StatusCode,
		}).Debug("HTTP request failed with non-200 status")

		if !retryableStatus(httpResponse.StatusCode) {
			return nil, lastExecutionError
		}
	}

	logger.WithFields(logrus.Fields{
		"total_attempts": maxRetryAttempts + 1,
		"final_error":    lastExecutionError,
	}).Warn("HTTP request failed after all retry attempts")

	return nil, lastExecutionError
}

// FetchBody performs a GET with retries and returns at most MaxResponseBytes
// of the body.
func FetchBody(ctx context.Context, client *http.Client, url, accept string, headers map[string]string, maxRetryAttempts int) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, NewServiceError(ErrorCategoryConfiguration, CodeInvalidConfig,
			fmt.Sprintf("invalid url %q", url), "HTTPClientFactory", "FetchBody", false, err)
	}
	SetBrowserLikeHeaders(request, accept)
	for k, v := range headers {
		request.Header.Set(k, v)
	}

	response, err := ExecuteHTTPRequestWithRetry(ctx, client, request, maxRetryAttempts)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, MaxResponseBytes))
	if err != nil {
		return nil, NewServiceError(ErrorCategoryNetwork, CodeSourceFetchFailed,
			"failed to read response body", "HTTPClientFactory", request.URL.Host, true, err)
	}
	return body, nil
}
