package robotscache

import (
	"fmt"

	"github.com/metabench/crawlfleet/internal/metadata"
	"github.com/metabench/crawlfleet/pkg/failure"
)

type RobotsErrorCause string

const (
	ErrCauseDisallowRoot         RobotsErrorCause = "root disallowed to be crawled"
	ErrCauseInvalidRobotsUrl     RobotsErrorCause = "invalid robots.txt URL"
	ErrCausePreFetchFailure      RobotsErrorCause = "failed before making fetch"
	ErrCauseHttpFetchFailure     RobotsErrorCause = "failed to fetch"
	ErrCauseHttpTooManyRequests  RobotsErrorCause = "too many requests"
	ErrCauseHttpTooManyRedirects RobotsErrorCause = "too many redirects"
	ErrCauseHttpServerError      RobotsErrorCause = "http server error"
	ErrCauseHttpUnexpectedStatus RobotsErrorCause = "unexpected http status"
	ErrCauseParseError           RobotsErrorCause = "failed to parse robots.txt"
)

type RobotsError struct {
	Message   string
	Retryable bool
	Cause     RobotsErrorCause
}

func (e *RobotsError) Error() string {
	return fmt.Sprintf("robots error: %s, %s", e.Cause, e.Message)
}

func (e *RobotsError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *RobotsError) IsRetryable() bool {
	return e.Retryable
}

// mapRobotsErrorToMetadataCause maps robots-local error semantics to the
// canonical metadata.ErrorCause table. Observational only — never used to
// derive control-flow decisions.
func mapRobotsErrorToMetadataCause(err *RobotsError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseDisallowRoot:
		return metadata.CausePolicyDisallow
	case ErrCauseInvalidRobotsUrl:
		return metadata.CauseInvariantViolation
	case ErrCauseHttpFetchFailure, ErrCauseHttpTooManyRequests, ErrCauseHttpTooManyRedirects, ErrCauseHttpServerError, ErrCauseHttpUnexpectedStatus:
		return metadata.CauseNetworkFailure
	case ErrCauseParseError:
		return metadata.CauseContentInvalid
	default:
		return metadata.CauseUnknown
	}
}
