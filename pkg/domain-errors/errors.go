// Package domainerrors provides coded errors shared across the registry core.
// Codes classify failures for callers (retry vs. surface vs. fix input) without
// leaking storage or collaborator details.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	// CodeValidation marks malformed or missing required input.
	CodeValidation Code = "validation"
	// CodeInvalidInput marks input that parsed but violates format rules.
	CodeInvalidInput Code = "invalid_input"
	// CodeUnauthorized marks a policy-denied write. Not retryable.
	CodeUnauthorized Code = "unauthorized"
	// CodeNotFound marks an unknown identity, rule, or certifier reference.
	CodeNotFound Code = "not_found"
	// CodeConflict marks a consistency failure: duplicate found, lock held by
	// another author, or a stale last-update timestamp.
	CodeConflict Code = "conflict"
	// CodeInvariantViolation marks a domain invariant breach, e.g. a pivot
	// integrity failure.
	CodeInvariantViolation Code = "invariant_violation"
	// CodeTimeout marks a collaborator timeout. Safe to retry the whole
	// operation; all core operations are idempotent or transactional.
	CodeTimeout Code = "timeout"
	// CodeInternal marks an unexpected failure.
	CodeInternal Code = "internal"
)

// Error carries a code, a human-readable message, and an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a coded error without a cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf builds a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. A nil err yields
// nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether err or any error in its chain carries the code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.Err
		de = nil
	}
	return false
}

// Is is an alias of HasCode kept for readability at assertion sites.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the outermost code in the chain, or CodeInternal when err
// carries no code.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
