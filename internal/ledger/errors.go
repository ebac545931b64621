package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict means the balance write lost the compare-and-swap race
	// to a concurrent mutation. Retryable: re-read and try again.
	ErrConflict = errors.New("balance write conflict")

	// ErrInsufficientFunds means the debit would take the balance
	// negative. No write is attempted.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAccountNotFound means the account or balance row does not exist.
	ErrAccountNotFound = errors.New("account not found")
)

// ValidationError reports bad input rejected before any I/O.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PersistenceError reports a store failure that is not cleanly retryable.
// When a compensating action also failed, Compensation carries that second
// cause; such errors represent a violated invariant and need manual
// reconciliation.
type PersistenceError struct {
	Op           string
	Cause        error
	Compensation error
}

func (e *PersistenceError) Error() string {
	if e.Compensation != nil {
		return fmt.Sprintf("%s: %v (compensation also failed: %v)", e.Op, e.Cause, e.Compensation)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }
