package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructorsSetCodes(t *testing.T) {
	tests := []struct {
		err   *AppError
		code  ErrorCode
		check func(error) bool
	}{
		{Step("step failed"), ErrCodeStep, IsStep},
		{BreakerOpen("circuit open"), ErrCodeBreakerOpen, IsBreakerOpen},
		{Timeout("deadline exceeded"), ErrCodeTimeout, IsTimeout},
		{Store("backend down"), ErrCodeStore, IsStore},
		{Graph("unknown node"), ErrCodeGraph, IsGraph},
		{Validation("bad input"), ErrCodeValidation, IsValidation},
		{NotFound("no such job"), ErrCodeNotFound, IsNotFound},
		{Conflict("already finished"), ErrCodeConflict, IsConflict},
		{Canceled("job cancelled"), ErrCodeCanceled, IsCanceled},
		{Internal("unexpected"), ErrCodeInternal, nil},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.code, GetCode(tt.err))
			if tt.check != nil {
				assert.True(t, tt.check(tt.err))
				assert.False(t, tt.check(Internal("other")))
			}
		})
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(cause, ErrCodeStore, "redis update failed")

	assert.True(t, IsStore(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "redis update failed: dial tcp: connection refused", err.Error())

	assert.Nil(t, Wrap(nil, ErrCodeStore, "ignored"))
	assert.Nil(t, Wrapf(nil, ErrCodeStore, "ignored %d", 1))
}

func TestCodeChecksTraverseWrapping(t *testing.T) {
	inner := NotFoundf("job %q not found", "j1")
	outer := fmt.Errorf("handling request: %w", inner)

	assert.True(t, IsNotFound(outer))
	assert.Equal(t, ErrCodeNotFound, GetCode(outer))
	assert.False(t, IsConflict(outer))
}

func TestGetCode_NonAppError(t *testing.T) {
	assert.Equal(t, ErrorCode(""), GetCode(errors.New("plain")))
	assert.Equal(t, ErrorCode(""), GetCode(nil))
}

func TestUserMessageHidesInternals(t *testing.T) {
	cause := errors.New("pg: password authentication failed for user")
	err := Wrap(cause, ErrCodeStore, "could not save job")

	assert.Equal(t, "could not save job", UserMessage(err))
	assert.Equal(t, "internal error", UserMessage(cause))
	assert.Equal(t, "internal error", UserMessage(nil))
}

func TestWrappedAppErrorUsesOutermostMessage(t *testing.T) {
	inner := Validation("input context must be valid JSON")
	outer := Wrap(inner, ErrCodeStep, "node research")

	require.Equal(t, "node research", UserMessage(outer))
	// the outermost code wins; the cause stays reachable for errors.Is
	assert.True(t, IsStep(outer))
	assert.False(t, IsValidation(outer))
	assert.ErrorIs(t, outer, inner)
}
