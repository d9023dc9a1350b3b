package service

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("error not found")
	ErrForbidden = errors.New("error account belongs to another user")

	// ErrConcurrency means the per-pair serialization lock was not acquired
	// within the configured wait; the caller may retry.
	ErrConcurrency = errors.New("error reconciliation lock not acquired")
)

// ValidationError rejects a malformed transaction before it reaches the ledger.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// ConsistencyError reports that the ledger was mutated but the projection
// write failed, leaving the materialized holdings stale for the pair. It is
// never swallowed: the service logs and alerts on every occurrence, and a
// rebuild of the pair or account is the recovery path.
type ConsistencyError struct {
	AccountID  int64
	Instrument string
	TxID       int64
	Err        error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("projection write failed for account_id=%d instrument=%s tx_id=%d: %v", e.AccountID, e.Instrument, e.TxID, e.Err)
}

func (e *ConsistencyError) Unwrap() error {
	return e.Err
}
