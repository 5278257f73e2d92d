// Package middleware contains Telegram bot middlewares for update processing.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	rediscache "github.com/ecotracker/eco-tracker-bot/internal/infrastructure/persistence/redis"
	"github.com/ecotracker/eco-tracker-bot/pkg/circuitbreaker"
	"github.com/ecotracker/eco-tracker-bot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER MIDDLEWARE
// Protects the bot from spam using a token bucket per user. Buckets live in a
// bounded LRU cache, so idle users are evicted instead of swept by a timer.
// When a shared window counter (Redis) is configured, the per-minute limit is
// also enforced across all replicas.
// ══════════════════════════════════════════════════════════════════════════════

// WindowCounter increments a fixed-window counter shared between replicas.
type WindowCounter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimitConfig holds configuration for the rate limiter.
type RateLimitConfig struct {
	// RequestsPerMinute is the maximum number of requests per user per minute.
	RequestsPerMinute int

	// BurstSize is the maximum burst size (tokens in bucket at start).
	BurstSize int

	// MaxTrackedUsers bounds the number of buckets kept in memory.
	MaxTrackedUsers int

	// BanDuration is how long to temporarily ban users who exceed limits.
	BanDuration time.Duration

	// BanThreshold is the number of limit violations before temporary ban.
	// Zero disables bans.
	BanThreshold int

	// Shared is an optional cross-replica window counter.
	Shared WindowCounter

	// Logger for structured logging.
	Logger *slog.Logger

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// DefaultRateLimitConfig returns sensible defaults for rate limiting.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 30,
		BurstSize:         5,
		MaxTrackedUsers:   10000,
		BanDuration:       10 * time.Minute,
		BanThreshold:      10,
	}
}

// RateLimiter implements per-user rate limiting using the token bucket algorithm.
type RateLimiter struct {
	config  RateLimitConfig
	buckets *lru.Cache // int64 -> *tokenBucket
	bans    *lru.Cache // int64 -> time.Time (expiry)
	logger  *slog.Logger
	now     func() time.Time
}

// tokenBucket represents a user's rate limit state.
type tokenBucket struct {
	mu           sync.Mutex
	tokens       float64
	lastRefill   time.Time
	refillRate   float64 // tokens per second
	maxTokens    float64
	violations   int
	lastViolated time.Time
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(config RateLimitConfig) (*RateLimiter, error) {
	if config.RequestsPerMinute <= 0 {
		return nil, fmt.Errorf("rate limit: requests per minute must be positive, got %d", config.RequestsPerMinute)
	}
	if config.BurstSize <= 0 {
		config.BurstSize = 1
	}
	if config.MaxTrackedUsers <= 0 {
		config.MaxTrackedUsers = DefaultRateLimitConfig().MaxTrackedUsers
	}

	buckets, err := lru.New(config.MaxTrackedUsers)
	if err != nil {
		return nil, fmt.Errorf("rate limit: buckets cache: %w", err)
	}
	bans, err := lru.New(config.MaxTrackedUsers)
	if err != nil {
		return nil, fmt.Errorf("rate limit: bans cache: %w", err)
	}

	log := config.Logger
	if log == nil {
		log = slog.Default()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	return &RateLimiter{
		config:  config,
		buckets: buckets,
		bans:    bans,
		logger:  log.With(logger.Component("rate_limiter")),
		now:     now,
	}, nil
}

// RateLimitResult represents the result of a rate limit check.
type RateLimitResult struct {
	// Allowed indicates if the request is allowed.
	Allowed bool

	// RetryAfter is how long the user should wait before retrying.
	RetryAfter time.Duration

	// IsBanned indicates if the user is temporarily banned.
	IsBanned bool

	// RemainingTokens is the number of tokens remaining in the bucket.
	RemainingTokens int
}

// Message returns the text shown to a limited user.
func (r *RateLimitResult) Message() string {
	seconds := int(r.RetryAfter.Round(time.Second).Seconds())
	if seconds < 1 {
		seconds = 1
	}
	if seconds < 60 {
		return fmt.Sprintf("⏳ Слишком много запросов! Подождите %d сек. и попробуйте снова.", seconds)
	}
	return fmt.Sprintf("⏳ Слишком много запросов! Подождите %d мин. и попробуйте снова.", seconds/60)
}

// Check checks if a request from the given user is allowed.
func (rl *RateLimiter) Check(ctx context.Context, userID int64) *RateLimitResult {
	now := rl.now()

	if until, banned := rl.banExpiry(userID, now); banned {
		return &RateLimitResult{
			Allowed:    false,
			IsBanned:   true,
			RetryAfter: until.Sub(now),
		}
	}

	bucket := rl.getBucket(userID, now)
	allowed, retryAfter, remaining := bucket.consume(now)
	if !allowed {
		if bucket.recordViolation(now) >= rl.config.BanThreshold && rl.config.BanThreshold > 0 {
			rl.bans.Add(userID, now.Add(rl.config.BanDuration))
			rl.logger.Warn("user temporarily banned", logger.UserID(userID), "duration", rl.config.BanDuration)
		}
		return &RateLimitResult{Allowed: false, RetryAfter: retryAfter}
	}

	if rl.config.Shared != nil {
		if res := rl.checkShared(ctx, userID, now); res != nil {
			return res
		}
	}

	return &RateLimitResult{Allowed: true, RemainingTokens: remaining}
}

// checkShared enforces the per-minute limit across replicas. Counter errors
// fail open: a Redis outage must not take the bot down.
func (rl *RateLimiter) checkShared(ctx context.Context, userID int64, now time.Time) *RateLimitResult {
	windowStart := now.Truncate(time.Minute)
	key := rediscache.UserRateLimitKey(userID, windowStart)

	count, err := rl.config.Shared.IncrWindow(ctx, key, time.Minute)
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		// The outage was already logged when the breaker opened.
		return nil
	}
	if err != nil {
		rl.logger.Warn("shared rate limit unavailable", logger.UserID(userID), logger.Err(err))
		return nil
	}
	if count > int64(rl.config.RequestsPerMinute) {
		return &RateLimitResult{Allowed: false, RetryAfter: windowStart.Add(time.Minute).Sub(now)}
	}
	return nil
}

// getBucket returns the token bucket for a user, creating one if needed.
func (rl *RateLimiter) getBucket(userID int64, now time.Time) *tokenBucket {
	if val, ok := rl.buckets.Get(userID); ok {
		return val.(*tokenBucket)
	}

	bucket := &tokenBucket{
		tokens:     float64(rl.config.BurstSize),
		lastRefill: now,
		refillRate: float64(rl.config.RequestsPerMinute) / 60.0,
		maxTokens:  float64(rl.config.BurstSize),
	}

	// ContainsOrAdd keeps the first bucket when two updates race.
	if found, _ := rl.buckets.ContainsOrAdd(userID, bucket); found {
		if val, ok := rl.buckets.Get(userID); ok {
			return val.(*tokenBucket)
		}
	}
	return bucket
}

func (rl *RateLimiter) banExpiry(userID int64, now time.Time) (time.Time, bool) {
	val, ok := rl.bans.Get(userID)
	if !ok {
		return time.Time{}, false
	}
	until := val.(time.Time)
	if !now.Before(until) {
		rl.bans.Remove(userID)
		return time.Time{}, false
	}
	return until, true
}

// consume tries to consume a token from the bucket.
// Returns (allowed, retryAfter, remainingTokens).
func (b *tokenBucket) consume(now time.Time) (bool, time.Duration, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.maxTokens {
			b.tokens = b.maxTokens
		}
		b.lastRefill = now
	}

	if b.tokens >= 1.0 {
		b.tokens--
		return true, 0, int(b.tokens)
	}

	deficit := 1.0 - b.tokens
	retryAfter := time.Duration(deficit / b.refillRate * float64(time.Second))
	return false, retryAfter, 0
}

// recordViolation records a rate limit violation and returns the running count.
// Violations older than five minutes are forgotten.
func (b *tokenBucket) recordViolation(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if now.Sub(b.lastViolated) > 5*time.Minute {
		b.violations = 0
	}
	b.violations++
	b.lastViolated = now
	return b.violations
}

// Unban removes a temporary ban for a user.
func (rl *RateLimiter) Unban(userID int64) {
	rl.bans.Remove(userID)
}

// TrackedUsers returns the number of buckets currently held.
func (rl *RateLimiter) TrackedUsers() int {
	return rl.buckets.Len()
}
