package store

import (
	"fmt"

	"github.com/metabench/crawlfleet/pkg/failure"
)

type StoreErrorCause string

const (
	ErrCauseConnectFailure  StoreErrorCause = "connect failure"
	ErrCauseSchemaFailure   StoreErrorCause = "schema failure"
	ErrCauseQueryFailure    StoreErrorCause = "query failure"
	ErrCauseTxFailure       StoreErrorCause = "transaction failure"
	ErrCauseNotFound        StoreErrorCause = "not found"
	ErrCauseSerialization   StoreErrorCause = "serialization failure"
)

type StoreError struct {
	Message   string
	Retryable bool
	Cause     StoreErrorCause
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error: %s, %s", e.Cause, e.Message)
}

func (e *StoreError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *StoreError) IsRetryable() bool {
	return e.Retryable
}
