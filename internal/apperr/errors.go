// Package apperr holds the domain error kinds shared by services, controllers and the HTTP client.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrOTPExpired   = errors.New("otp expired")
	ErrOTPInvalid   = errors.New("otp invalid")
	ErrTooManyCalls = errors.New("too many requests")
)

// AttemptLimitExceeded is returned by attempt start when the effective cap is reached.
type AttemptLimitExceeded struct {
	Cap  int
	Used int
}

func (e *AttemptLimitExceeded) Error() string {
	return fmt.Sprintf("attempt limit exceeded: %d of %d attempts used", e.Used, e.Cap)
}

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

// Validation is a shortcut for a single-field validation failure.
func Validation(field, msg string) error {
	return &ValidationError{Err: fmt.Errorf("%s: %s", field, msg), Fields: []FieldError{{Field: field, Error: msg}}}
}

func (err *ValidationError) Error() string {
	if err.Err == nil {
		return "validation failed"
	}
	return err.Err.Error()
}

func (err *ValidationError) Unwrap() error { return err.Err }

// ConflictError reports a state transition that is not allowed from the current state.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

func Conflict(format string, args ...any) error {
	return &ConflictError{Msg: fmt.Sprintf(format, args...)}
}

// NetworkError wraps a transient transport failure. Callers may retry.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func NotFound(what, id string) error {
	return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
}

func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsNetwork(err error) bool {
	var n *NetworkError
	return errors.As(err, &n)
}

func IsAttemptLimit(err error) bool {
	var a *AttemptLimitExceeded
	return errors.As(err, &a)
}
