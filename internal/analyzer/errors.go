package analyzer

import (
	"fmt"

	"github.com/metabench/crawlfleet/internal/metadata"
	"github.com/metabench/crawlfleet/pkg/failure"
)

type AnalysisErrorCause string

const (
	ErrCauseParseFailure AnalysisErrorCause = "parse failure"
)

type AnalysisError struct {
	Message   string
	Retryable bool
	Cause     AnalysisErrorCause
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis error: %s: %s", e.Cause, e.Message)
}

func (e *AnalysisError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *AnalysisError) IsRetryable() bool {
	return e.Retryable
}

// mapAnalysisErrorToMetadataCause maps analyzer-local error semantics to
// the canonical metadata.ErrorCause table. Observational only.
func mapAnalysisErrorToMetadataCause(err *AnalysisError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseParseFailure:
		return metadata.CauseContentInvalid
	default:
		return metadata.CauseUnknown
	}
}
