package apperrors

import (
	"errors"
	"fmt"
)

// RetryableError marks an error that may succeed when the same operation is attempted again.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryable wraps err as a RetryableError with a formatted message prefix.
func NewRetryable(err error, message string, args ...interface{}) error {
	return &RetryableError{Err: wrapf(err, message, args...)}
}

// FatalError marks an error that will not go away on retry (bad payload, unknown event, ...).
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatal wraps err as a FatalError with a formatted message prefix.
func NewFatal(err error, message string, args ...interface{}) error {
	return &FatalError{Err: wrapf(err, message, args...)}
}

func wrapf(err error, message string, args ...interface{}) error {
	allArgs := append(args, err)
	return fmt.Errorf(message+": %w", allArgs...)
}

// Sentinel errors. Callers wrap them with fmt.Errorf("%w: ...") and check with errors.Is.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrValidation   = errors.New("validation failed")
	ErrDatabase     = errors.New("database error")
	ErrNATS         = errors.New("nats communication error")
	ErrUnauthorized = errors.New("unauthorized access")
	ErrDuplicate    = errors.New("duplicate resource")
	// ErrConflict is returned when a conditional write lost against a concurrent writer.
	ErrConflict    = errors.New("resource conflict")
	ErrBadRequest  = errors.New("bad request")
	ErrTimeout     = errors.New("operation timeout")
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidTransition is returned when an action is not allowed from the conversation's current status.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrUpstream wraps failures reported by an outbound provider or the reasoning service.
	ErrUpstream = errors.New("upstream service error")
)

// IsRetryable reports whether err is or wraps a RetryableError.
func IsRetryable(err error) bool {
	var target *RetryableError
	return errors.As(err, &target)
}

// IsFatal reports whether err is or wraps a FatalError.
func IsFatal(err error) bool {
	var target *FatalError
	return errors.As(err, &target)
}

func IsNotFoundError(err error) bool          { return errors.Is(err, ErrNotFound) }
func IsValidationError(err error) bool        { return errors.Is(err, ErrValidation) }
func IsDatabaseError(err error) bool          { return errors.Is(err, ErrDatabase) }
func IsNATSError(err error) bool              { return errors.Is(err, ErrNATS) }
func IsUnauthorizedError(err error) bool      { return errors.Is(err, ErrUnauthorized) }
func IsDuplicateError(err error) bool         { return errors.Is(err, ErrDuplicate) }
func IsConflictError(err error) bool          { return errors.Is(err, ErrConflict) }
func IsBadRequestError(err error) bool        { return errors.Is(err, ErrBadRequest) }
func IsTimeoutError(err error) bool           { return errors.Is(err, ErrTimeout) }
func IsRateLimitedError(err error) bool       { return errors.Is(err, ErrRateLimited) }
func IsInvalidTransitionError(err error) bool { return errors.Is(err, ErrInvalidTransition) }
func IsUpstreamError(err error) bool          { return errors.Is(err, ErrUpstream) }
