package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// StepErrorKind classifies a generation-step failure.
type StepErrorKind string

const (
	// StepErrRateLimit is a provider rate limit (HTTP 429).
	StepErrRateLimit StepErrorKind = "rate_limit"
	// StepErrServer is a provider-side server error (HTTP 5xx).
	StepErrServer StepErrorKind = "server"
	// StepErrOverloaded is a provider capacity/overload rejection.
	StepErrOverloaded StepErrorKind = "overloaded"
	// StepErrConnection is a connection or read failure.
	StepErrConnection StepErrorKind = "connection"
	// StepErrTimeout is a request timeout.
	StepErrTimeout StepErrorKind = "timeout"
	// StepErrAuth is an authentication or authorization failure.
	StepErrAuth StepErrorKind = "auth"
	// StepErrValidation is a request the provider rejected as invalid.
	StepErrValidation StepErrorKind = "validation"
	// StepErrMalformed is a response the step could not parse.
	StepErrMalformed StepErrorKind = "malformed"
)

// StepError is the structured failure a generation-step collaborator
// raises. It carries enough information for the transient/permanent
// classifier: a kind, and optionally the provider HTTP status.
type StepError struct {
	Kind       StepErrorKind
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Cause != nil {
		return fmt.Sprintf("step error (%s): %s: %v", e.Kind, msg, e.Cause)
	}
	return fmt.Sprintf("step error (%s): %s", e.Kind, msg)
}

// Unwrap returns the underlying cause.
func (e *StepError) Unwrap() error {
	return e.Cause
}

// Transient reports whether the failure is worth retrying.
func (e *StepError) Transient() bool {
	switch e.Kind {
	case StepErrRateLimit, StepErrServer, StepErrOverloaded, StepErrConnection, StepErrTimeout:
		return true
	case StepErrAuth, StepErrValidation, StepErrMalformed:
		return false
	}
	return transientStatus(e.StatusCode)
}

func transientStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 529:
		return true
	default:
		return false
	}
}

// transientFragments are matched against unclassified error text as a
// fallback, covering collaborators that surface raw provider errors.
var transientFragments = []string{
	"rate limit",
	"429",
	"500", "502", "503", "529",
	"overloaded",
	"capacity",
	"timeout",
	"connection",
	"service unavailable",
}

// Transient determines whether an error should be retried. Structured
// StepErrors are classified by kind; context deadline expiry counts as
// a timeout; anything else falls back to message inspection.
func Transient(err error) bool {
	if err == nil {
		return false
	}

	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Transient()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range transientFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
