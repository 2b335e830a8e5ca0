// Package apperr defines the error taxonomy shared by the ledger engine and
// the saga orchestrator. The split that matters everywhere is terminal
// business rejections (never retried) versus transient infrastructure
// failures (retried with bounds).
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientFunds is returned by a debit whose projected balance
	// would fall below the account's overdraft limit. Terminal.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNotFound is returned when a transaction or balance row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict is returned by the store when an optimistic-version
	// guard fails. Callers re-read and retry.
	ErrVersionConflict = errors.New("balance version conflict")

	// ErrDuplicateEntry is returned when a ledger entry with the same ID has
	// already been written. Callers treat the original write as the result.
	ErrDuplicateEntry = errors.New("ledger entry already exists")

	// ErrDuplicateKey is returned when a transaction insert collides on the
	// idempotency key. Callers return the stored record.
	ErrDuplicateKey = errors.New("idempotency key already used")

	// ErrInconsistent marks an internally detected entry/cache mismatch. It
	// triggers a rebuild and is never surfaced to callers as-is.
	ErrInconsistent = errors.New("balance cache inconsistent with ledger")
)

// ValidationError reports a malformed request, rejected before any side
// effect.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// FraudRejectedError is a terminal rejection from the fraud gate.
type FraudRejectedError struct {
	Reason    string
	RiskScore float64
}

func (e *FraudRejectedError) Error() string {
	return fmt.Sprintf("fraud rejected: %s (risk %.2f)", e.Reason, e.RiskScore)
}

// TransientError wraps a timeout or 5xx-class failure from a collaborator or
// the storage layer. Transient errors are retried with backoff before a
// failure is surfaced.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable, tagged with the failing operation.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// IsTerminal reports whether err is a business rejection that must never be
// retried. Everything else is treated as retryable infrastructure trouble.
func IsTerminal(err error) bool {
	var ve *ValidationError
	var fe *FraudRejectedError
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrNotFound) ||
		errors.As(err, &ve) ||
		errors.As(err, &fe)
}

// IsTransient reports whether err was explicitly classified as retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
