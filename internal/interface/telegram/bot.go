// Package telegram implements the Telegram interface of the eco-tracker bot.
// This package is the entry point for all Telegram interactions, handling
// updates, routing them to the handler, and managing the bot lifecycle.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ecotracker/eco-tracker-bot/internal/infrastructure/external/telegram"
	"github.com/ecotracker/eco-tracker-bot/internal/interface/telegram/handler"
	"github.com/ecotracker/eco-tracker-bot/internal/interface/telegram/middleware"
	"github.com/ecotracker/eco-tracker-bot/internal/interface/telegram/presenter"
	"github.com/ecotracker/eco-tracker-bot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// BOT CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Update receiving modes.
const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

// BotConfig contains configuration for the Telegram bot.
type BotConfig struct {
	// Mode is the update receiving mode: "polling" or "webhook".
	Mode string

	// WebhookURL is the public URL Telegram posts updates to (webhook mode).
	WebhookURL string

	// WebhookSecret is sent back by Telegram in X-Telegram-Bot-Api-Secret-Token.
	WebhookSecret string

	// Debug enables debug logging.
	Debug bool

	// Logger for structured logging.
	Logger *slog.Logger

	// MaxConcurrentUpdates limits concurrent update processing.
	MaxConcurrentUpdates int

	// UpdateTimeout bounds the processing of a single update.
	UpdateTimeout time.Duration

	// GracefulShutdownTimeout is the timeout for graceful shutdown.
	GracefulShutdownTimeout time.Duration
}

// DefaultBotConfig returns sensible defaults.
func DefaultBotConfig() BotConfig {
	return BotConfig{
		Mode:                    ModePolling,
		Logger:                  slog.Default(),
		MaxConcurrentUpdates:    100,
		UpdateTimeout:           30 * time.Second,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// BOT DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// API is the Bot API surface the bot uses.
type API interface {
	Messenger
	GetMe(ctx context.Context) (*telegram.User, error)
	StartPolling(ctx context.Context, handler telegram.UpdateHandler) error
	SetWebhook(ctx context.Context, url, secretToken string, maxConnections int) error
	SetMyCommands(ctx context.Context, commands []telegram.BotCommand) error
}

// BotDependencies contains all dependencies for the bot.
type BotDependencies struct {
	Client    API
	Handler   ActionHandler
	Keyboards *presenter.KeyboardBuilder

	// Middleware. Nil values get defaults.
	RateLimiter *middleware.RateLimiter
	Recovery    *middleware.RecoveryMiddleware
	Metrics     *middleware.MetricsMiddleware
}

// ══════════════════════════════════════════════════════════════════════════════
// BOT
// ══════════════════════════════════════════════════════════════════════════════

// Bot is the main Telegram bot controller.
type Bot struct {
	config BotConfig
	client API
	router *Router
	logger *slog.Logger

	rateLimiter *middleware.RateLimiter
	recovery    *middleware.RecoveryMiddleware
	metrics     *middleware.MetricsMiddleware

	running   bool
	runningMu sync.RWMutex
	updateSem chan struct{}
	wg        sync.WaitGroup

	stats *BotStats
}

// BotStats holds runtime statistics.
type BotStats struct {
	mu              sync.RWMutex
	StartedAt       time.Time
	UpdatesReceived int64
	UpdatesHandled  int64
	UpdatesSkipped  int64
	ErrorsCount     int64
	ActionsCount    map[string]int64
}

// NewBot creates a new Telegram bot.
func NewBot(config BotConfig, deps BotDependencies) (*Bot, error) {
	if deps.Client == nil {
		return nil, errors.New("telegram client is required")
	}
	if deps.Handler == nil || deps.Keyboards == nil {
		return nil, errors.New("handler and keyboards are required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.MaxConcurrentUpdates <= 0 {
		config.MaxConcurrentUpdates = DefaultBotConfig().MaxConcurrentUpdates
	}
	if config.UpdateTimeout <= 0 {
		config.UpdateTimeout = DefaultBotConfig().UpdateTimeout
	}
	if config.GracefulShutdownTimeout <= 0 {
		config.GracefulShutdownTimeout = DefaultBotConfig().GracefulShutdownTimeout
	}

	log := config.Logger.With(logger.Component("bot"))

	rateLimiter := deps.RateLimiter
	if rateLimiter == nil {
		cfg := middleware.DefaultRateLimitConfig()
		cfg.Logger = config.Logger
		rl, err := middleware.NewRateLimiter(cfg)
		if err != nil {
			return nil, err
		}
		rateLimiter = rl
	}

	recovery := deps.Recovery
	if recovery == nil {
		cfg := middleware.DefaultRecoveryConfig()
		cfg.Logger = config.Logger
		recovery = middleware.NewRecoveryMiddleware(cfg)
	}

	metrics := deps.Metrics
	if metrics == nil {
		cfg := middleware.DefaultMetricsConfig()
		cfg.Logger = config.Logger
		metrics = middleware.NewMetricsMiddleware(cfg)
	}

	router := NewRouter(RouterConfig{
		Client:    deps.Client,
		Handler:   deps.Handler,
		Keyboards: deps.Keyboards,
		Logger:    config.Logger,
	})

	return &Bot{
		config:      config,
		client:      deps.Client,
		router:      router,
		logger:      log,
		rateLimiter: rateLimiter,
		recovery:    recovery,
		metrics:     metrics,
		updateSem:   make(chan struct{}, config.MaxConcurrentUpdates),
		stats: &BotStats{
			ActionsCount: make(map[string]int64),
		},
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE MANAGEMENT
// ══════════════════════════════════════════════════════════════════════════════

// Start verifies the token and receives updates until ctx is cancelled.
// In webhook mode updates arrive through HandleUpdate.
func (b *Bot) Start(ctx context.Context) error {
	b.runningMu.Lock()
	if b.running {
		b.runningMu.Unlock()
		return errors.New("bot is already running")
	}
	b.running = true
	b.runningMu.Unlock()

	b.stats.mu.Lock()
	b.stats.StartedAt = time.Now()
	b.stats.mu.Unlock()

	b.logger.Info("starting telegram bot",
		"mode", b.config.Mode,
		"debug", b.config.Debug,
		"max_concurrent", b.config.MaxConcurrentUpdates,
	)

	if err := b.verifyToken(ctx); err != nil {
		return fmt.Errorf("failed to verify bot token: %w", err)
	}
	b.publishCommands(ctx)

	switch b.config.Mode {
	case ModePolling:
		return b.startPolling(ctx)
	case ModeWebhook:
		return b.startWebhook(ctx)
	default:
		return fmt.Errorf("unknown bot mode: %s", b.config.Mode)
	}
}

// Stop waits for in-flight updates to finish.
func (b *Bot) Stop(ctx context.Context) error {
	b.runningMu.Lock()
	if !b.running {
		b.runningMu.Unlock()
		return nil
	}
	b.running = false
	b.runningMu.Unlock()

	b.logger.Info("stopping telegram bot")

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("all updates completed gracefully")
	case <-time.After(b.config.GracefulShutdownTimeout):
		b.logger.Warn("graceful shutdown timeout exceeded")
	case <-ctx.Done():
		b.logger.Warn("context cancelled during shutdown")
		return ctx.Err()
	}

	return nil
}

// IsRunning returns whether the bot is currently running.
func (b *Bot) IsRunning() bool {
	b.runningMu.RLock()
	defer b.runningMu.RUnlock()
	return b.running
}

func (b *Bot) verifyToken(ctx context.Context) error {
	me, err := b.client.GetMe(ctx)
	if err != nil {
		return err
	}

	b.logger.Info("bot verified",
		"id", me.ID,
		"username", me.Username,
	)
	return nil
}

// publishCommands is best effort: the bot works without the command menu.
func (b *Bot) publishCommands(ctx context.Context) {
	list := handler.Commands()
	commands := make([]telegram.BotCommand, 0, len(list))
	for _, c := range list {
		commands = append(commands, telegram.BotCommand{Command: c[0], Description: c[1]})
	}
	if err := b.client.SetMyCommands(ctx, commands); err != nil {
		b.logger.Warn("failed to set bot commands", logger.Err(err))
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// POLLING / WEBHOOK
// ══════════════════════════════════════════════════════════════════════════════

// startPolling dispatches each polled update to its own goroutine. The
// semaphore applies backpressure to the polling loop when all slots are busy.
func (b *Bot) startPolling(ctx context.Context) error {
	// In-flight updates outlive the polling context so Stop can drain them.
	base := context.WithoutCancel(ctx)

	return b.client.StartPolling(ctx, func(ctx context.Context, update *telegram.Update) error {
		select {
		case b.updateSem <- struct{}{}:
		case <-ctx.Done():
			return nil
		}

		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			defer func() { <-b.updateSem }()
			b.process(base, update)
		}()
		return nil
	})
}

// startWebhook registers the webhook and waits for shutdown. Updates are
// delivered by the HTTP server through HandleUpdate.
func (b *Bot) startWebhook(ctx context.Context) error {
	if b.config.WebhookURL == "" {
		return errors.New("webhook URL is required for webhook mode")
	}

	if err := b.client.SetWebhook(ctx, b.config.WebhookURL, b.config.WebhookSecret, b.config.MaxConcurrentUpdates); err != nil {
		return fmt.Errorf("failed to set webhook: %w", err)
	}
	b.logger.Info("webhook registered", "url", b.config.WebhookURL)

	<-ctx.Done()
	return nil
}

// HandleUpdate processes an update synchronously. Used by the webhook endpoint.
func (b *Bot) HandleUpdate(ctx context.Context, update *telegram.Update) error {
	select {
	case b.updateSem <- struct{}{}:
		defer func() { <-b.updateSem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	b.wg.Add(1)
	defer b.wg.Done()

	b.process(ctx, update)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE HANDLING
// ══════════════════════════════════════════════════════════════════════════════

// process runs one update through rate limiting, metrics and recovery.
// Errors are logged and counted here; nothing is returned to the transport.
func (b *Bot) process(ctx context.Context, update *telegram.Update) {
	ctx, cancel := context.WithTimeout(ctx, b.config.UpdateTimeout)
	defer cancel()

	b.stats.mu.Lock()
	b.stats.UpdatesReceived++
	b.stats.mu.Unlock()

	in, ok := b.router.Decode(update)
	if !ok {
		b.stats.mu.Lock()
		b.stats.UpdatesSkipped++
		b.stats.mu.Unlock()
		return
	}

	ctx, requestID := middleware.WithRequestID(ctx)
	userID := in.Request.UserID.Int64()
	action := handler.Name(in.Request.Action)

	log := b.logger.With(logger.RequestID(requestID), logger.UserID(userID))
	ctx = logger.WithContext(ctx, log)
	if b.config.Debug {
		log.Debug("update received", "update_id", update.UpdateID, "action", action, "callback", in.IsCallback())
	}

	if res := b.rateLimiter.Check(ctx, userID); !res.Allowed {
		b.metrics.RecordRateLimited()
		log.Info("rate limited", "retry_after", res.RetryAfter, "banned", res.IsBanned)
		if err := b.router.Notify(ctx, in, res.Message()); err != nil {
			log.Warn("failed to notify rate limited user", logger.Err(err))
		}
		return
	}

	rc := b.metrics.Start(action, userID)
	result := b.recovery.RecoverWithHandler(ctx, userID, action, func(ctx context.Context) error {
		return b.router.Dispatch(ctx, in)
	})

	if result.Recovered {
		b.metrics.RecordPanic()
		rc.End(errors.New("panic"))
		b.recordOutcome(action, false)
		if err := b.router.Notify(ctx, in, result.UserMessage); err != nil {
			log.Warn("failed to notify user after panic", logger.Err(err))
		}
		return
	}

	rc.End(result.Err)
	b.recordOutcome(action, result.Err == nil)

	switch {
	case result.Err == nil:
	case telegram.IsUserBlocked(result.Err):
		log.Info("user blocked the bot", "action", action)
	default:
		log.Error("failed to handle update",
			"update_id", update.UpdateID,
			"action", action,
			logger.Latency(time.Since(rc.StartTime)),
			logger.Err(result.Err),
		)
	}
}

func (b *Bot) recordOutcome(action string, ok bool) {
	b.stats.mu.Lock()
	defer b.stats.mu.Unlock()

	b.stats.ActionsCount[action]++
	if ok {
		b.stats.UpdatesHandled++
	} else {
		b.stats.ErrorsCount++
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// STATISTICS
// ══════════════════════════════════════════════════════════════════════════════

// GetStats returns current bot statistics.
func (b *Bot) GetStats() map[string]interface{} {
	b.stats.mu.RLock()
	defer b.stats.mu.RUnlock()

	actions := make(map[string]int64, len(b.stats.ActionsCount))
	for k, v := range b.stats.ActionsCount {
		actions[k] = v
	}

	var uptime string
	if !b.stats.StartedAt.IsZero() {
		uptime = time.Since(b.stats.StartedAt).Round(time.Second).String()
	}

	return map[string]interface{}{
		"mode":             b.config.Mode,
		"started_at":       b.stats.StartedAt,
		"uptime":           uptime,
		"updates_received": b.stats.UpdatesReceived,
		"updates_handled":  b.stats.UpdatesHandled,
		"updates_skipped":  b.stats.UpdatesSkipped,
		"errors_count":     b.stats.ErrorsCount,
		"actions_count":    actions,
		"rate_limit_users": b.rateLimiter.TrackedUsers(),
		"running":          b.IsRunning(),
	}
}

// Metrics returns the metrics middleware for /stats.
func (b *Bot) Metrics() *middleware.MetricsMiddleware {
	return b.metrics
}

// Router returns the router.
func (b *Bot) Router() *Router {
	return b.router
}
