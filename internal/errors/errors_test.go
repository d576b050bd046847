package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryAndRetryable(t *testing.T) {
	tests := []struct {
		code      string
		category  Category
		retryable bool
		severity  Severity
	}{
		{ErrCodeConfigInvalid, CategoryConfig, false, SeverityError},
		{ErrCodeCorruptIndex, CategoryIO, false, SeverityFatal},
		{ErrCodeBackendUnavailable, CategoryBackend, true, SeverityWarning},
		{ErrCodeInvalidQuery, CategoryValidation, false, SeverityError},
		{ErrCodeDispatchFailed, CategoryInternal, false, SeverityFatal},
		{"BAD", CategoryInternal, false, SeverityError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, tt.severity, err.Severity)
		})
	}
}

func TestAppError_IsMatchesByCodeThroughWrapping(t *testing.T) {
	// Given: an AppError wrapped twice with fmt.Errorf
	base := InvalidQuery("unbalanced quote", nil)
	wrapped := fmt.Errorf("lexical: %w", fmt.Errorf("search: %w", base))

	// Then: code lookups see through the chain
	assert.True(t, HasCode(wrapped, ErrCodeInvalidQuery))
	assert.False(t, HasCode(wrapped, ErrCodeBackendUnavailable))
	assert.Equal(t, ErrCodeInvalidQuery, GetCode(wrapped))
	assert.False(t, IsRetryable(wrapped))
}

func TestWrap_NilStaysNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestAppError_ErrorIncludesCause(t *testing.T) {
	err := New(ErrCodeSearchFailed, "lexical search failed", errors.New("disk gone"))
	assert.Equal(t, "[ERR_503_SEARCH_FAILED] lexical search failed: disk gone", err.Error())
	assert.Equal(t, "[ERR_503_SEARCH_FAILED] disk gone", Wrap(ErrCodeSearchFailed, errors.New("disk gone")).Error())
}

func TestFormatForCLI(t *testing.T) {
	err := ConfigError("bad strategy", nil).WithSuggestion("use linear, rrf or multiplicative")
	out := FormatForCLI(err)
	assert.Contains(t, out, "Error: bad strategy")
	assert.Contains(t, out, "Hint: use linear, rrf or multiplicative")
	assert.Contains(t, out, "Code: ERR_102_CONFIG_INVALID")

	assert.Contains(t, FormatForCLI(errors.New("plain")), "Code: ERR_501_INTERNAL")
	assert.Empty(t, FormatForCLI(nil))
}

func TestLogAttrs(t *testing.T) {
	err := Unavailable("vector store closed", errors.New("closed")).WithDetail("backend", "semantic")
	attrs := LogAttrs(err)
	assert.Contains(t, attrs, "error_code")
	assert.Contains(t, attrs, ErrCodeBackendUnavailable)
	assert.Contains(t, attrs, "detail_backend")
	assert.Equal(t, []any{"error", "x"}, LogAttrs(errors.New("x")))
}

// ============================================================================
// Circuit breaker
// ============================================================================

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	// Given: a breaker allowing 3 failures
	cb := NewCircuitBreaker("test", WithMaxFailures(3))

	// When: 3 calls fail
	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error { return errors.New("boom") })
	}

	// Then: the breaker is open and short-circuits
	require.Equal(t, StateOpen, cb.State())
	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_ProbeAfterResetTimeout(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	cb := NewCircuitBreaker("test", WithMaxFailures(1), WithResetTimeout(time.Second), WithClock(clock.Now))

	_ = cb.Execute(func() error { return errors.New("boom") })
	require.Equal(t, StateOpen, cb.State())

	// When: the reset timeout passes
	clock.Advance(2 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())

	// Then: a successful probe closes the breaker
	v, err := CircuitCall(cb, func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	cb := NewCircuitBreaker("test", WithMaxFailures(2), WithResetTimeout(time.Second), WithClock(clock.Now))
	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error { return errors.New("boom") })
	}
	clock.Advance(2 * time.Second)

	err := cb.Execute(func() error { return errors.New("still down") })
	assert.EqualError(t, err, "still down")
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_IgnoresCallerContextErrors(t *testing.T) {
	// Given: a breaker that opens on the first failure
	cb := NewCircuitBreaker("test", WithMaxFailures(1))

	// When: calls end because the caller gave up
	_ = cb.Execute(func() error { return context.Canceled })
	_ = cb.Execute(func() error { return fmt.Errorf("embed: %w", context.DeadlineExceeded) })

	// Then: the breaker stays closed
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_CanceledProbeKeepsHalfOpen(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	cb := NewCircuitBreaker("test", WithMaxFailures(1), WithResetTimeout(time.Second), WithClock(clock.Now))
	_ = cb.Execute(func() error { return errors.New("boom") })
	clock.Advance(2 * time.Second)

	_ = cb.Execute(func() error { return context.Canceled })
	assert.Equal(t, StateHalfOpen, cb.State())

	// The next caller may probe again.
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

// ============================================================================
// Retry
// ============================================================================

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestRetryWithResult_SucceedsAfterRetryableFailures(t *testing.T) {
	attempts := 0
	v, err := RetryWithResult(context.Background(), fastRetry(), func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", New(ErrCodeEmbeddingFailed, "transient", nil)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithResult_StopsOnNonRetryable(t *testing.T) {
	attempts := 0
	_, err := RetryWithResult(context.Background(), fastRetry(), func() (int, error) {
		attempts++
		return 0, InvalidQuery("bad", nil)
	})
	assert.True(t, HasCode(err, ErrCodeInvalidQuery))
	assert.Equal(t, 1, attempts)
}

func TestRetryWithResult_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetry(), func() error {
		attempts++
		return Unavailable("down", nil)
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 2 retries")
	assert.Equal(t, 3, attempts)
}

func TestRetryWithResult_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, fastRetry(), func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
