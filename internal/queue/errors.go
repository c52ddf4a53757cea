package queue

import (
	"fmt"

	"github.com/metabench/crawlfleet/pkg/failure"
)

type QueueErrorCause string

const (
	ErrCauseDepthExceeded QueueErrorCause = "depth exceeded"
	ErrCauseStoreFailure  QueueErrorCause = "store failure"
)

type QueueError struct {
	Message   string
	Retryable bool
	Cause     QueueErrorCause
}

func (e *QueueError) Error() string {
	return fmt.Sprintf("queue error: %s: %s", e.Cause, e.Message)
}

func (e *QueueError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *QueueError) IsRetryable() bool {
	return e.Retryable
}
