package fetcher

import (
	"fmt"
	"time"

	"github.com/metabench/crawlfleet/internal/metadata"
	"github.com/metabench/crawlfleet/pkg/failure"
)

// FetchErrorCause enumerates the typed error kinds the Fetcher may
// surface, each carrying url/elapsed/bytesRead context via FetchError.
type FetchErrorCause string

const (
	ErrCauseTimeout            FetchErrorCause = "timeout"
	ErrCauseDNS                FetchErrorCause = "dns"
	ErrCauseTCPReset           FetchErrorCause = "tcp_reset"
	ErrCauseTLS                FetchErrorCause = "tls"
	ErrCauseHTTP4xx            FetchErrorCause = "http_4xx"
	ErrCauseHTTP5xx            FetchErrorCause = "http_5xx"
	ErrCauseTooLarge           FetchErrorCause = "too_large"
	ErrCauseMalformed          FetchErrorCause = "malformed"
	ErrCauseDisallowedByRobots FetchErrorCause = "disallowed_by_robots"
	ErrCauseTooManyRedirects   FetchErrorCause = "too_many_redirects"
	ErrCauseNetwork            FetchErrorCause = "network"
)

type FetchError struct {
	Message   string
	Retryable bool
	Cause     FetchErrorCause

	URL       string
	Elapsed   time.Duration
	BytesRead int64
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s (%s, %v elapsed, %d bytes)", e.URL, e.Cause, e.Message, e.Elapsed, e.BytesRead)
}

func (e *FetchError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *FetchError) IsRetryable() bool {
	return e.Retryable
}

// mapFetchErrorToMetadataCause maps fetcher-local error semantics to the
// canonical metadata.ErrorCause table. Observational only — never used
// to derive control-flow decisions.
func mapFetchErrorToMetadataCause(err *FetchError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseDisallowedByRobots:
		return metadata.CausePolicyDisallow
	case ErrCauseMalformed, ErrCauseTooLarge:
		return metadata.CauseContentInvalid
	case ErrCauseTimeout, ErrCauseDNS, ErrCauseTCPReset, ErrCauseTLS, ErrCauseHTTP5xx, ErrCauseTooManyRedirects, ErrCauseNetwork:
		return metadata.CauseNetworkFailure
	case ErrCauseHTTP4xx:
		return metadata.CausePolicyDisallow
	default:
		return metadata.CauseUnknown
	}
}
