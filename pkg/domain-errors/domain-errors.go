package domainerrors

import "errors"

// Code represents a domain error category independent of transport layer.
// These codes describe what went wrong in business logic terms, not HTTP terms.
type Code string

const (
	CodeNotFound     Code = "not_found"
	CodeForbidden    Code = "forbidden"
	CodeConflict     Code = "conflict"
	CodeInvalidInput Code = "invalid_input"
	CodeInternal     Code = "internal_error"
	CodeTimeout      Code = "timeout"

	// CodeUnexpectedCondition marks a violated invariant: data that should
	// never occur given the state machine (unmapped enum, missing BPN on an
	// approved row, empty aggregate id in a pipeline).
	CodeUnexpectedCondition Code = "unexpected_condition"

	// CodeServiceFailure marks a failed call to an external collaborator
	// (wallet, signer, portal, callback). Carries a recoverable flag that the
	// process engine uses to decide between silent retry and fail+retrigger.
	CodeServiceFailure Code = "service_failure"
)

// Error wraps domain or infrastructure failures with a stable code and
// optional structured parameters. It is transport-agnostic and can be used
// across service, store, and pipeline layers.
type Error struct {
	Code    Code
	Message string
	// Parameters carry machine-readable context for API consumers
	// (credential id, status, field name). Keys are stable.
	Parameters map[string]string
	// Recoverable is only meaningful for CodeServiceFailure: a recoverable
	// failure re-runs the identical step later, a fatal one fails the step.
	Recoverable bool
	Err         error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// Unwrap implements error unwrapping for error chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is enables errors.Is() to match errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new domain error with the given code and message.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// NewWithParameters creates a domain error carrying structured parameters.
func NewWithParameters(code Code, msg string, parameters map[string]string) error {
	return &Error{Code: code, Message: msg, Parameters: parameters}
}

// NewServiceFailure creates a service failure; recoverable failures are
// retried in place by the process engine, fatal ones fail the step.
func NewServiceFailure(msg string, recoverable bool, err error) error {
	return &Error{Code: CodeServiceFailure, Message: msg, Recoverable: recoverable, Err: err}
}

// Wrap creates a new domain error wrapping an existing error.
// If the wrapped error is already a domain error, the original code is preserved.
func Wrap(err error, code Code, msg string) error {
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Code: existing.Code, Message: msg, Parameters: existing.Parameters, Recoverable: existing.Recoverable, Err: err}
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode checks if an error is a domain error with the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsRecoverable reports whether err is a recoverable service failure.
func IsRecoverable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == CodeServiceFailure && e.Recoverable
	}
	return false
}
