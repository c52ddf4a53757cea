package export

import (
	"fmt"

	"github.com/metabench/crawlfleet/internal/metadata"
	"github.com/metabench/crawlfleet/pkg/failure"
)

type ExportErrorCause string

const (
	ErrCauseStoreFailure ExportErrorCause = "store failure"
)

type ExportError struct {
	Message   string
	Retryable bool
	Cause     ExportErrorCause
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export error: %s: %s", e.Cause, e.Message)
}

func (e *ExportError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *ExportError) IsRetryable() bool {
	return e.Retryable
}

func mapExportErrorToMetadataCause(*ExportError) metadata.ErrorCause {
	return metadata.CauseUnknown
}
