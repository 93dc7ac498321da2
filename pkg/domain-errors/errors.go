// Package domainerrors provides coded domain errors. Services create and wrap
// errors with a Code so callers can branch on the kind of failure without
// string matching, and the host-facing layer can decide whether a failure is
// retryable, definitive, or purely internal.
//
// Import convention: alias as dErrors.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	// CodeNetwork marks a transport-level failure. Retryable; the operation
	// that produced it must not be treated as terminal.
	CodeNetwork Code = "network"
	// CodeBackend marks a definitive backend rejection. Not retryable.
	CodeBackend Code = "backend"
	// CodeStore marks a platform store failure (cancellation, payment
	// declined, purchases not allowed). Definitive.
	CodeStore Code = "store"
	// CodeDuplicate marks an internally de-duplicated submission. Never
	// surfaced to the host.
	CodeDuplicate Code = "duplicate"
	// CodeRestoreEmpty marks a restore that surfaced no transactions.
	CodeRestoreEmpty Code = "restore_empty"
	// CodeConfiguration marks invalid construction input (missing API key or
	// app user ID).
	CodeConfiguration Code = "configuration"

	CodeInvalidInput Code = "invalid_input"
	CodeInternal     Code = "internal"
)

// Error is a coded error with an optional wrapped cause.
type Error struct {
	code    Code
	message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *Error) Unwrap() error { return e.cause }

// Message returns the caller-facing description without the cause chain.
func (e *Error) Message() string { return e.message }

// New creates a coded error.
func New(code Code, message string) error {
	return &Error{code: code, message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{code: code, message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a code and message, preserving the cause for
// errors.Is/errors.As chains. Returns nil when err is nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{code: code, message: message, cause: err}
}

// GetCode extracts the Code from err, walking the wrap chain. Unknown errors
// report CodeInternal.
func GetCode(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.code
	}
	return CodeInternal
}

// Has reports whether err carries the given code anywhere in its chain.
func Has(err error, code Code) bool {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if de, ok := e.(*Error); ok && de.code == code {
			return true
		}
	}
	return false
}
