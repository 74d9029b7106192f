package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeStep indicates a generation-step collaborator failed.
	ErrCodeStep ErrorCode = "step"
	// ErrCodeBreakerOpen indicates a provider circuit is open and the call was rejected.
	ErrCodeBreakerOpen ErrorCode = "breaker_open"
	// ErrCodeTimeout indicates a per-step or whole-pipeline deadline was exceeded.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeStore indicates the persistence backend was unreachable.
	ErrCodeStore ErrorCode = "store"
	// ErrCodeGraph indicates an executor invariant was violated.
	ErrCodeGraph ErrorCode = "graph"
	// ErrCodeValidation indicates invalid input data.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeNotFound indicates a resource was not found.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeConflict indicates a conflict with existing state (e.g., cancelling a finished job).
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeCanceled indicates the operation was cancelled.
	ErrCodeCanceled ErrorCode = "canceled"
	// ErrCodeInternal indicates an internal error.
	ErrCodeInternal ErrorCode = "internal"
)

// AppError represents a structured application error with a code, message, and optional cause.
// It supports error wrapping and unwrapping for use with errors.Is and errors.As.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a user-safe, human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Step creates a new step error.
func Step(message string) *AppError {
	return &AppError{Code: ErrCodeStep, Message: message}
}

// BreakerOpen creates a new breaker-open error.
func BreakerOpen(message string) *AppError {
	return &AppError{Code: ErrCodeBreakerOpen, Message: message}
}

// BreakerOpenf creates a new breaker-open error with formatted message.
func BreakerOpenf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeBreakerOpen, Message: fmt.Sprintf(format, args...)}
}

// Timeout creates a new timeout error.
func Timeout(message string) *AppError {
	return &AppError{Code: ErrCodeTimeout, Message: message}
}

// Store creates a new store error.
func Store(message string) *AppError {
	return &AppError{Code: ErrCodeStore, Message: message}
}

// Graph creates a new graph error.
func Graph(message string) *AppError {
	return &AppError{Code: ErrCodeGraph, Message: message}
}

// Graphf creates a new graph error with formatted message.
func Graphf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeGraph, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a new validation error.
func Validation(message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message}
}

// Validationf creates a new validation error with formatted message.
func Validationf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a new not-found error.
func NotFound(message string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: message}
}

// NotFoundf creates a new not-found error with formatted message.
func NotFoundf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflict creates a new conflict error.
func Conflict(message string) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: message}
}

// Conflictf creates a new conflict error with formatted message.
func Conflictf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: fmt.Sprintf(format, args...)}
}

// Canceled creates a new canceled error.
func Canceled(message string) *AppError {
	return &AppError{Code: ErrCodeCanceled, Message: message}
}

// Internal creates a new internal error.
func Internal(message string) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: message}
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// isCode checks if an error has a specific error code.
func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsStep checks if an error is a step error.
func IsStep(err error) bool {
	return isCode(err, ErrCodeStep)
}

// IsBreakerOpen checks if an error is a breaker-open error.
func IsBreakerOpen(err error) bool {
	return isCode(err, ErrCodeBreakerOpen)
}

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool {
	return isCode(err, ErrCodeTimeout)
}

// IsStore checks if an error is a store error.
func IsStore(err error) bool {
	return isCode(err, ErrCodeStore)
}

// IsGraph checks if an error is a graph error.
func IsGraph(err error) bool {
	return isCode(err, ErrCodeGraph)
}

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool {
	return isCode(err, ErrCodeValidation)
}

// IsNotFound checks if an error is a not-found error.
func IsNotFound(err error) bool {
	return isCode(err, ErrCodeNotFound)
}

// IsConflict checks if an error is a conflict error.
func IsConflict(err error) bool {
	return isCode(err, ErrCodeConflict)
}

// IsCanceled checks if an error is a canceled error.
func IsCanceled(err error) bool {
	return isCode(err, ErrCodeCanceled)
}

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// UserMessage returns the user-safe message for an error. For AppErrors
// the wrapped cause is never exposed; anything else collapses to a
// generic message so internal detail stays in the logs.
func UserMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}
