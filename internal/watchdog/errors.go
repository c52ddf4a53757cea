package watchdog

import (
	"fmt"

	"github.com/metabench/crawlfleet/internal/metadata"
	"github.com/metabench/crawlfleet/pkg/failure"
)

type WatchdogErrorCause string

const (
	ErrCauseSeedFailure    WatchdogErrorCause = "seed failure"
	ErrCauseRestartFailure WatchdogErrorCause = "restart failure"
	ErrCauseStoreFailure   WatchdogErrorCause = "store failure"
)

type WatchdogError struct {
	Message   string
	Retryable bool
	Cause     WatchdogErrorCause
}

func (e *WatchdogError) Error() string {
	return fmt.Sprintf("watchdog error: %s: %s", e.Cause, e.Message)
}

func (e *WatchdogError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *WatchdogError) IsRetryable() bool {
	return e.Retryable
}

func mapWatchdogErrorToMetadataCause(err *WatchdogError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseSeedFailure, ErrCauseRestartFailure, ErrCauseStoreFailure:
		return metadata.CauseUnknown
	default:
		return metadata.CauseUnknown
	}
}
