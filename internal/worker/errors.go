package worker

import (
	"fmt"

	"github.com/metabench/crawlfleet/internal/metadata"
	"github.com/metabench/crawlfleet/pkg/failure"
)

type WorkerErrorCause string

const (
	ErrCauseQueueFailure    WorkerErrorCause = "queue failure"
	ErrCauseAnalysisTimeout WorkerErrorCause = "analysis timeout"
)

type WorkerError struct {
	Message   string
	Retryable bool
	Cause     WorkerErrorCause
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker error: %s: %s", e.Cause, e.Message)
}

func (e *WorkerError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *WorkerError) IsRetryable() bool {
	return e.Retryable
}

func mapWorkerErrorToMetadataCause(*WorkerError) metadata.ErrorCause {
	return metadata.CauseUnknown
}
