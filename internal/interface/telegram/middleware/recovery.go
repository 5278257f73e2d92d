package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ecotracker/eco-tracker-bot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECOVERY MIDDLEWARE
// Catches panics in handlers and converts them to a user-friendly message.
// Every update gets a request id here, so a panic report can be matched
// with the log lines and events of the same update.
// ══════════════════════════════════════════════════════════════════════════════

// RecoveryConfig holds configuration for the recovery middleware.
type RecoveryConfig struct {
	// EnableStackTrace enables capturing stack traces.
	EnableStackTrace bool

	// OnPanic is called when a panic is recovered.
	OnPanic func(ctx context.Context, info *PanicInfo)

	// UserErrorMessage is the message sent to users when a panic occurs.
	UserErrorMessage string

	// MaxPanicsPerMinute limits how many panics are fully reported per minute.
	MaxPanicsPerMinute int

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultRecoveryConfig returns sensible defaults for recovery middleware.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		EnableStackTrace:   true,
		UserErrorMessage:   "😔 Произошла ошибка. Попробуй позже.",
		MaxPanicsPerMinute: 100,
	}
}

// PanicInfo contains information about a recovered panic.
type PanicInfo struct {
	// Error is the panic value converted to error.
	Error error

	// StackTrace is the formatted stack trace.
	StackTrace string

	// RequestID is the request id of the update.
	RequestID string

	// UserID is the Telegram user id.
	UserID int64

	// Action is the action that was being processed.
	Action string

	// Timestamp is when the panic occurred.
	Timestamp time.Time
}

// RecoveryMiddleware recovers from panics.
type RecoveryMiddleware struct {
	config       RecoveryConfig
	logger       *slog.Logger
	panicCounter *panicRateLimiter
}

// NewRecoveryMiddleware creates a new recovery middleware.
func NewRecoveryMiddleware(config RecoveryConfig) *RecoveryMiddleware {
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}
	if config.MaxPanicsPerMinute <= 0 {
		config.MaxPanicsPerMinute = DefaultRecoveryConfig().MaxPanicsPerMinute
	}
	return &RecoveryMiddleware{
		config:       config,
		logger:       log.With(logger.Component("recovery")),
		panicCounter: newPanicRateLimiter(config.MaxPanicsPerMinute),
	}
}

// RecoveryResult represents the outcome of a guarded call.
type RecoveryResult struct {
	// Recovered indicates if a panic was recovered.
	Recovered bool

	// PanicInfo contains panic details (if recovered and reported).
	PanicInfo *PanicInfo

	// UserMessage is the message to show to the user.
	UserMessage string

	// Err is the error returned by the handler when it did not panic.
	Err error
}

// WithRequestID returns ctx carrying a request id, generating one if absent.
func WithRequestID(ctx context.Context) (context.Context, string) {
	if id := logger.RequestIDFromContext(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return logger.ContextWithRequestID(ctx, id), id
}

// RecoverWithHandler executes a handler and recovers from any panic.
func (m *RecoveryMiddleware) RecoverWithHandler(
	ctx context.Context,
	userID int64,
	action string,
	handler func(ctx context.Context) error,
) (result *RecoveryResult) {
	ctx, _ = WithRequestID(ctx)

	defer func() {
		if r := recover(); r != nil {
			result = m.handlePanic(ctx, r, userID, action)
		}
	}()

	return &RecoveryResult{Err: handler(ctx)}
}

func (m *RecoveryMiddleware) handlePanic(ctx context.Context, panicValue interface{}, userID int64, action string) *RecoveryResult {
	if !m.panicCounter.allow() {
		return &RecoveryResult{Recovered: true, UserMessage: m.config.UserErrorMessage}
	}

	info := &PanicInfo{
		Error:     toError(panicValue),
		RequestID: logger.RequestIDFromContext(ctx),
		UserID:    userID,
		Action:    action,
		Timestamp: time.Now(),
	}
	if m.config.EnableStackTrace {
		info.StackTrace = string(debug.Stack())
	}

	m.logger.Error("panic recovered",
		logger.RequestID(info.RequestID),
		logger.UserID(userID),
		"action", action,
		logger.Err(info.Error),
		"stack", info.StackTrace,
	)

	if m.config.OnPanic != nil {
		m.config.OnPanic(ctx, info)
	}

	return &RecoveryResult{
		Recovered:   true,
		PanicInfo:   info,
		UserMessage: m.config.UserErrorMessage,
	}
}

// toError converts a panic value to an error.
func toError(panicValue interface{}) error {
	switch v := panicValue.(type) {
	case error:
		return v
	case string:
		return fmt.Errorf("%s", v)
	default:
		return fmt.Errorf("panic: %v", v)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PANIC RATE LIMITER
// Prevents log floods when a handler panics on every update.
// ══════════════════════════════════════════════════════════════════════════════

type panicRateLimiter struct {
	mu        sync.Mutex
	count     int
	maxPerMin int
	window    time.Time
}

func newPanicRateLimiter(maxPerMin int) *panicRateLimiter {
	return &panicRateLimiter{
		maxPerMin: maxPerMin,
		window:    time.Now(),
	}
}

func (p *panicRateLimiter) allow() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if now.Sub(p.window) > time.Minute {
		p.count = 0
		p.window = now
	}

	if p.count >= p.maxPerMin {
		return false
	}
	p.count++
	return true
}
