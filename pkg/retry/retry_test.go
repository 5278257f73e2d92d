package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fast(opts ...Option) *Retrier {
	return New(append([]Option{WithInitialDelay(time.Millisecond), WithJitter(0)}, opts...)...)
}

func TestRetrier_RetriesRetryable(t *testing.T) {
	calls := 0
	err := fast(WithMaxAttempts(3)).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errBoom)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetrier_StopsOnPlainError(t *testing.T) {
	calls := 0
	err := fast().Do(context.Background(), func(context.Context) error {
		calls++
		return errBoom
	})

	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, calls)
}

func TestRetrier_PermanentIsUnwrapped(t *testing.T) {
	err := fast(WithRetryIf(func(error) bool { return true })).Do(context.Background(), func(context.Context) error {
		return Permanent(errBoom)
	})

	assert.Equal(t, errBoom, err)
}

func TestRetrier_ExhaustedReturnsUnderlying(t *testing.T) {
	calls := 0
	err := fast(WithMaxAttempts(2)).Do(context.Background(), func(context.Context) error {
		calls++
		return Retryable(errBoom)
	})

	assert.Equal(t, errBoom, err)
	assert.Equal(t, 2, calls)
}

func TestRetrier_HonoursRetryAfter(t *testing.T) {
	var delays []time.Duration
	r := fast(
		WithMaxAttempts(2),
		WithMaxDelay(20*time.Millisecond),
		WithOnRetry(func(_ int, _ error, d time.Duration) { delays = append(delays, d) }),
	)

	_ = r.Do(context.Background(), func(context.Context) error {
		return RetryableAfter(errBoom, time.Hour)
	})

	require.Len(t, delays, 1)
	assert.Equal(t, 20*time.Millisecond, delays[0], "server delay is capped by MaxDelay")
}

func TestRetrier_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := fast().Do(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoWithData(t *testing.T) {
	n, err := DoWithData(context.Background(), fast(), func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}
