// Package circuitbreaker stops calling an optional dependency that keeps
// failing. After a cool-down a single probe call is let through; enough
// successful probes close the breaker again.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of a breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned without calling the function while the breaker
// is open, or while a half-open probe is already in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Settings configures a breaker. Zero values get defaults.
type Settings struct {
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int

	// Probes is the number of consecutive successful probes that closes a
	// half-open breaker. Default: 1.
	Probes int

	// Cooldown is how long the breaker stays open before probing.
	// Default: 30s.
	Cooldown time.Duration

	// OnStateChange is called with the breaker lock held; keep it short.
	OnStateChange func(name string, from, to State)
}

// Counts are cumulative except for the consecutive counters, which restart
// on every state change.
type Counts struct {
	Requests             int
	TotalFailures        int
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	settings Settings
	now      func() time.Time

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	probing  bool
}

// New creates a closed breaker.
func New(s Settings) *CircuitBreaker {
	if s.MaxFailures <= 0 {
		s.MaxFailures = 5
	}
	if s.Probes <= 0 {
		s.Probes = 1
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 30 * time.Second
	}
	return &CircuitBreaker{settings: s, now: time.Now}
}

// RedisBreaker guards Redis calls on the update path. Three failures in a
// row make callers skip Redis for 15 seconds.
func RedisBreaker(onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(Settings{
		Name:          "redis",
		MaxFailures:   3,
		Probes:        1,
		Cooldown:      15 * time.Second,
		OnStateChange: onStateChange,
	})
}

// Execute calls fn unless the breaker is open. The caller cancelling ctx is
// not held against the dependency.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	probe, err := cb.allow()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.record(probe, err)
	return err
}

func (cb *CircuitBreaker) allow() (probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.settings.Cooldown {
		cb.transition(StateHalfOpen)
	}

	switch cb.state {
	case StateClosed:
		return false, nil
	case StateHalfOpen:
		if cb.probing {
			return false, ErrCircuitOpen
		}
		cb.probing = true
		return true, nil
	default:
		return false, ErrCircuitOpen
	}
}

func (cb *CircuitBreaker) record(probe bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probing = false
	}
	cb.counts.Requests++

	// A cancelled call says nothing about the dependency either way.
	if errors.Is(err, context.Canceled) {
		return
	}

	if err != nil {
		cb.counts.TotalFailures++
		cb.counts.ConsecutiveFailures++
		cb.counts.ConsecutiveSuccesses = 0
		if cb.state == StateHalfOpen || cb.counts.ConsecutiveFailures >= cb.settings.MaxFailures {
			cb.transition(StateOpen)
		}
		return
	}

	cb.counts.ConsecutiveSuccesses++
	cb.counts.ConsecutiveFailures = 0
	if cb.state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.settings.Probes {
		cb.transition(StateClosed)
	}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.counts.ConsecutiveFailures = 0
	cb.counts.ConsecutiveSuccesses = 0
	if to == StateOpen {
		cb.openedAt = cb.now()
	}
	if cb.settings.OnStateChange != nil {
		cb.settings.OnStateChange(cb.settings.Name, from, to)
	}
}

// State returns the current state. An open breaker whose cool-down has
// passed still reports open until the next call probes.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Counts returns a copy of the counters.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Name returns the configured name.
func (cb *CircuitBreaker) Name() string {
	return cb.settings.Name
}
