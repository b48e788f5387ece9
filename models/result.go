package models

import "time"

// ScraperResult wraps the outcome of one scraper operation. Failures are
// carried in Success/Error and never escape as Go errors or panics.
type ScraperResult[T any] struct {
	Success        bool   `json:"success"`
	Data           []T    `json:"data"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
	Error          string `json:"error,omitempty"`
}

// Succeeded builds a successful result measured from start
func Succeeded[T any](data []T, start time.Time) ScraperResult[T] {
	if data == nil {
		data = []T{}
	}
	return ScraperResult[T]{
		Success:        true,
		Data:           data,
		ResponseTimeMs: time.Since(start).Milliseconds(),
	}
}

// Failed builds a failed result measured from start
func Failed[T any](err error, start time.Time) ScraperResult[T] {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return ScraperResult[T]{
		Success:        false,
		Data:           []T{},
		ResponseTimeMs: time.Since(start).Milliseconds(),
		Error:          msg,
	}
}

// Unsupported is returned for a kind the source cannot supply
func Unsupported[T any]() ScraperResult[T] {
	return ScraperResult[T]{Success: true, Data: []T{}}
}

// SourceStatus is the per-source, per-kind outcome of one aggregation pass
type SourceStatus struct {
	Source         SourceID   `json:"source"`
	Kind           RecordKind `json:"kind"`
	Listing        bool       `json:"listing,omitempty"` // a full IPO listing call
	Success        bool       `json:"success"`
	Records        int        `json:"records"`
	ResponseTimeMs int64      `json:"responseTimeMs"`
	Error          string     `json:"error,omitempty"`
	TimedOut       bool       `json:"timedOut,omitempty"`
	Skipped        bool       `json:"skipped,omitempty"` // circuit breaker open
}
