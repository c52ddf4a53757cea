package intelligence

import (
	"fmt"

	"github.com/metabench/crawlfleet/pkg/failure"
)

type IntelligenceErrorCause string

const (
	ErrCauseStoreFailure IntelligenceErrorCause = "store failure"
)

type IntelligenceError struct {
	Message   string
	Retryable bool
	Cause     IntelligenceErrorCause
}

func (e *IntelligenceError) Error() string {
	return fmt.Sprintf("intelligence error: %s: %s", e.Cause, e.Message)
}

func (e *IntelligenceError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *IntelligenceError) IsRetryable() bool {
	return e.Retryable
}
