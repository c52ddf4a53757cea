package ratelimiter

import (
	"fmt"

	"github.com/metabench/crawlfleet/pkg/failure"
)

type RateLimiterErrorCause string

const (
	ErrCauseAcquireCancelled RateLimiterErrorCause = "acquire cancelled"
)

type RateLimiterError struct {
	Message   string
	Retryable bool
	Cause     RateLimiterErrorCause
}

func (e *RateLimiterError) Error() string {
	return fmt.Sprintf("rate limiter error: %s, %s", e.Cause, e.Message)
}

func (e *RateLimiterError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *RateLimiterError) IsRetryable() bool {
	return e.Retryable
}
