/*
errors.go - Centralized error types for the allocation engine

PURPOSE:
  All error kinds in one place. Every business failure surfaced to callers
  unwraps to exactly one sentinel below, so transports can map them to
  status codes with errors.Is and never leak storage details.

ERROR KINDS:
  ErrValidation             malformed input, not retried
  ErrNotFound               missing request or allocation row
  ErrInvalidStateTransition decision on a non-pending request
  ErrInsufficientBalance    remaining below requested amount
  ErrUnauthorized           no authenticated actor
  ErrForbidden              actor lacks role or ownership
  ErrConcurrencyConflict    lost a compare-and-swap race

USAGE:
  if errors.Is(err, generic.ErrConcurrencyConflict) {
      // retry the whole decision once
  }

SEE ALSO:
  - reconcile.go: Produces ErrInsufficientBalance / ErrConcurrencyConflict
  - api/errors.go: HTTP mapping
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation             = errors.New("validation failed")
	ErrNotFound               = errors.New("not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrForbidden              = errors.New("forbidden")

	// ErrConcurrencyConflict is returned when a compare-and-swap on a bucket
	// or a conditional status update finds the row changed underneath it.
	ErrConcurrencyConflict = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	Key          AllocationKey
	ResourceType ResourceType
	Available    Amount
	Requested    Amount
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance for %d: available %v, requested %v",
		e.ResourceType.ResourceID(), e.Key.Year, e.Available.Value, e.Requested.Value)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// Shortfall is how many units the request is over.
func (e *InsufficientBalanceError) Shortfall() Amount {
	return e.Requested.Sub(e.Available)
}

// TransitionError reports a refused status change.
type TransitionError struct {
	RequestID RequestID
	From      RequestStatus
	To        RequestStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("leave %s is %s and cannot become %s", e.RequestID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidStateTransition }

// NotFoundError names the missing thing.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the error is safe and meaningful to show
// to the acting user.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidStateTransition) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrConcurrencyConflict)
}

