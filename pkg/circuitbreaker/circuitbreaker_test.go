package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("connection refused")

func fail(context.Context) error { return errDown }
func ok(context.Context) error   { return nil }

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newBreaker(t *testing.T, s Settings) (*CircuitBreaker, *clock) {
	t.Helper()
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	cb := New(s)
	cb.now = c.now
	return cb, c
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	var transitions []string
	cb, _ := newBreaker(t, Settings{
		Name:        "redis",
		MaxFailures: 3,
		OnStateChange: func(_ string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	}
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.Equal(t, []string{"closed->open"}, transitions)
}

func TestCircuitBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	cb, _ := newBreaker(t, Settings{MaxFailures: 2})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	require.NoError(t, cb.Execute(ctx, ok))
	_ = cb.Execute(ctx, fail)

	assert.Equal(t, StateClosed, cb.State())
	counts := cb.Counts()
	assert.Equal(t, 3, counts.Requests)
	assert.Equal(t, 2, counts.TotalFailures)
	assert.Equal(t, 1, counts.ConsecutiveFailures)
}

func TestCircuitBreaker_ProbeAfterCooldown(t *testing.T) {
	tests := []struct {
		name  string
		probe func(context.Context) error
		want  State
	}{
		{name: "success closes", probe: ok, want: StateClosed},
		{name: "failure reopens", probe: fail, want: StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, clk := newBreaker(t, Settings{MaxFailures: 1, Cooldown: time.Minute})
			ctx := context.Background()

			_ = cb.Execute(ctx, fail)
			clk.advance(59 * time.Second)
			require.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)

			clk.advance(time.Second)
			_ = cb.Execute(ctx, tt.probe)
			assert.Equal(t, tt.want, cb.State())
		})
	}
}

func TestCircuitBreaker_SingleProbeInFlight(t *testing.T) {
	cb, clk := newBreaker(t, Settings{MaxFailures: 1, Cooldown: time.Second})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clk.advance(time.Second)

	var second error
	err := cb.Execute(ctx, func(context.Context) error {
		assert.Equal(t, StateHalfOpen, cb.State())
		second = cb.Execute(ctx, ok)
		return nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, second, ErrCircuitOpen)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_CallerCancellationIsNotAFailure(t *testing.T) {
	cb, clk := newBreaker(t, Settings{MaxFailures: 1, Cooldown: time.Second})
	ctx := context.Background()
	cancelled := func(context.Context) error { return context.Canceled }

	assert.ErrorIs(t, cb.Execute(ctx, cancelled), context.Canceled)
	assert.Equal(t, StateClosed, cb.State())

	// A cancelled probe neither closes nor reopens the breaker.
	_ = cb.Execute(ctx, fail)
	clk.advance(time.Second)
	_ = cb.Execute(ctx, cancelled)
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.State())
}

func TestRedisBreaker(t *testing.T) {
	cb := RedisBreaker(nil)
	assert.Equal(t, "redis", cb.Name())
	assert.Equal(t, "closed", cb.State().String())
	assert.Equal(t, 3, cb.settings.MaxFailures)
	assert.Equal(t, 15*time.Second, cb.settings.Cooldown)
}
