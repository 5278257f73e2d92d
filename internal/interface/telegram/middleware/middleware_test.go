package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecotracker/eco-tracker-bot/internal/domain/shared"
	"github.com/ecotracker/eco-tracker-bot/pkg/circuitbreaker"
	"github.com/ecotracker/eco-tracker-bot/pkg/logger"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type fakeCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func (f *fakeCounter) IncrWindow(_ context.Context, key string, _ time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	if f.counts == nil {
		f.counts = make(map[string]int64)
	}
	f.counts[key]++
	return f.counts[key], nil
}

func newLimiter(t *testing.T, mutate func(*RateLimitConfig)) (*RateLimiter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	cfg := DefaultRateLimitConfig()
	cfg.RequestsPerMinute = 60
	cfg.BurstSize = 3
	cfg.BanThreshold = 0
	cfg.Logger = logger.Discard()
	cfg.Now = clock.now
	if mutate != nil {
		mutate(&cfg)
	}
	rl, err := NewRateLimiter(cfg)
	require.NoError(t, err)
	return rl, clock
}

func TestRateLimiter_DeniesAfterBurst(t *testing.T) {
	rl, clock := newLimiter(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Check(ctx, 1).Allowed, "request %d", i)
	}
	res := rl.Check(ctx, 1)
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Second, res.RetryAfter)
	assert.Contains(t, res.Message(), "1 сек.")

	assert.True(t, rl.Check(ctx, 2).Allowed, "buckets are per user")

	clock.advance(time.Second)
	assert.True(t, rl.Check(ctx, 1).Allowed, "one token refilled")
}

func TestRateLimiter_BansRepeatOffenders(t *testing.T) {
	rl, clock := newLimiter(t, func(c *RateLimitConfig) {
		c.BurstSize = 1
		c.BanThreshold = 2
		c.BanDuration = time.Minute
	})
	ctx := context.Background()

	require.True(t, rl.Check(ctx, 1).Allowed)
	require.False(t, rl.Check(ctx, 1).Allowed)
	require.False(t, rl.Check(ctx, 1).Allowed)

	clock.advance(10 * time.Second)
	res := rl.Check(ctx, 1)
	assert.True(t, res.IsBanned)
	assert.Equal(t, 50*time.Second, res.RetryAfter)

	rl.Unban(1)
	assert.True(t, rl.Check(ctx, 1).Allowed)
}

func TestRateLimiter_SharedWindow(t *testing.T) {
	counter := &fakeCounter{counts: map[string]int64{}}
	rl, _ := newLimiter(t, func(c *RateLimitConfig) {
		c.RequestsPerMinute = 2
		c.BurstSize = 10
		c.Shared = counter
	})
	ctx := context.Background()

	assert.True(t, rl.Check(ctx, 1).Allowed)
	assert.True(t, rl.Check(ctx, 1).Allowed)
	res := rl.Check(ctx, 1)
	assert.False(t, res.Allowed, "another replica already used the window")
	assert.Equal(t, time.Minute, res.RetryAfter)
}

func TestRateLimiter_SharedWindowFailsOpen(t *testing.T) {
	for _, err := range []error{
		errors.New("connection refused"),
		fmt.Errorf("incr window: %w", circuitbreaker.ErrCircuitOpen),
	} {
		rl, _ := newLimiter(t, func(c *RateLimitConfig) {
			c.Shared = &fakeCounter{err: err}
		})
		assert.True(t, rl.Check(context.Background(), 1).Allowed, err.Error())
	}
}

func TestRateLimiter_BoundedUsers(t *testing.T) {
	rl, _ := newLimiter(t, func(c *RateLimitConfig) { c.MaxTrackedUsers = 2 })
	for id := int64(1); id <= 5; id++ {
		rl.Check(context.Background(), id)
	}
	assert.Equal(t, 2, rl.TrackedUsers())
}

func TestNewRateLimiter_RejectsZeroRate(t *testing.T) {
	_, err := NewRateLimiter(RateLimitConfig{})
	assert.Error(t, err)
}

func TestRecovery_RecoversPanic(t *testing.T) {
	var reported *PanicInfo
	m := NewRecoveryMiddleware(RecoveryConfig{
		UserErrorMessage: "oops",
		Logger:           logger.Discard(),
		OnPanic:          func(_ context.Context, info *PanicInfo) { reported = info },
	})

	res := m.RecoverWithHandler(context.Background(), 42, "mark_done", func(context.Context) error {
		panic("boom")
	})

	assert.True(t, res.Recovered)
	assert.Equal(t, "oops", res.UserMessage)
	require.NotNil(t, reported)
	assert.Equal(t, int64(42), reported.UserID)
	assert.Equal(t, "boom", reported.Error.Error())
	assert.NotEmpty(t, reported.RequestID)
}

func TestRecovery_PassesErrorAndRequestID(t *testing.T) {
	m := NewRecoveryMiddleware(RecoveryConfig{Logger: logger.Discard()})
	ctx := logger.ContextWithRequestID(context.Background(), "req-1")

	var seen string
	res := m.RecoverWithHandler(ctx, 1, "about", func(ctx context.Context) error {
		seen = logger.RequestIDFromContext(ctx)
		return shared.ErrNotActive
	})

	assert.False(t, res.Recovered)
	assert.ErrorIs(t, res.Err, shared.ErrNotActive)
	assert.Equal(t, "req-1", seen)
}

func TestMetrics_Snapshot(t *testing.T) {
	m := NewMetricsMiddleware(MetricsConfig{Logger: logger.Discard()})

	m.Start("request_task", 1).End(nil)
	m.Start("request_task", 2).End(shared.ErrAlreadyActive)
	m.Start("about", 1).End(nil)
	m.RecordRateLimited()

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.TotalRequests)
	assert.Equal(t, int64(1), snap.TotalErrors)
	assert.Equal(t, int64(0), snap.ActiveRequests)
	assert.Equal(t, int64(1), snap.RateLimited)
	assert.Equal(t, 2, snap.UniqueUsersDay)

	require.Len(t, snap.Actions, 2)
	assert.Equal(t, "about", snap.Actions[0].Action)
	assert.Equal(t, int64(2), snap.Actions[1].Total)
	assert.Equal(t, int64(1), snap.Actions[1].Errors)

	require.Len(t, snap.Errors, 1)
	assert.Equal(t, "assignment.TryAssign", snap.Errors[0].Kind)
}
