package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ecotracker/eco-tracker-bot/config"
	"github.com/ecotracker/eco-tracker-bot/internal/application/command"
	"github.com/ecotracker/eco-tracker-bot/internal/application/eventhandler"
	"github.com/ecotracker/eco-tracker-bot/internal/application/query"
	"github.com/ecotracker/eco-tracker-bot/internal/domain/catalog"
	tgapi "github.com/ecotracker/eco-tracker-bot/internal/infrastructure/external/telegram"
	"github.com/ecotracker/eco-tracker-bot/internal/infrastructure/messaging"
	"github.com/ecotracker/eco-tracker-bot/internal/infrastructure/persistence/memory"
	rediscache "github.com/ecotracker/eco-tracker-bot/internal/infrastructure/persistence/redis"
	httpserver "github.com/ecotracker/eco-tracker-bot/internal/interface/http"
	"github.com/ecotracker/eco-tracker-bot/internal/interface/http/handlers"
	"github.com/ecotracker/eco-tracker-bot/internal/interface/telegram"
	"github.com/ecotracker/eco-tracker-bot/internal/interface/telegram/handler"
	"github.com/ecotracker/eco-tracker-bot/internal/interface/telegram/middleware"
	"github.com/ecotracker/eco-tracker-bot/internal/interface/telegram/presenter"
	"github.com/ecotracker/eco-tracker-bot/pkg/logger"
)

// runBot собирает зависимости и работает до SIGINT/SIGTERM.
func runBot(parent context.Context, catalogFlag string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ─────────────────────────────────────────────────────────────────────────
	// 1. КОНФИГУРАЦИЯ И ЛОГИРОВАНИЕ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if catalogFlag != "" {
		cfg.Catalog.Path = catalogFlag
	}

	log := setupLogger(cfg)
	slog.SetDefault(log)
	log.Info("starting eco-tracker bot",
		"version", version,
		"env", cfg.App.Environment,
		"mode", cfg.Telegram.Mode,
		"redis", cfg.Redis.Enabled,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. КАТАЛОГ
	// ─────────────────────────────────────────────────────────────────────────
	cat, err := loadCatalog(cfg.Catalog.Path)
	if err != nil {
		return err
	}
	log.Info("catalog loaded", "tasks", cat.TaskCount(), "tips", cat.TipCount())

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ХРАНИЛИЩЕ И ШИНА СОБЫТИЙ
	// ─────────────────────────────────────────────────────────────────────────
	store := memory.NewStore(memory.WithLogger(log))

	busConfig := messaging.DefaultInMemoryEventBusConfig()
	busConfig.Logger = log
	bus := messaging.NewInMemoryEventBus(busConfig)
	defer func() {
		log.Info("closing event bus...")
		_ = bus.Close()
	}()

	audit := eventhandler.NewAuditHandler(log)
	if err := audit.Register(bus); err != nil {
		return fmt.Errorf("failed to register audit handler: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. REDIS (опционально)
	// ─────────────────────────────────────────────────────────────────────────
	cache := connectRedis(ctx, cfg, log)
	if cache != nil {
		defer cache.Close()

		if cfg.Features.IsEnabled(config.FeatureEventsRedisFanout, 0) {
			forwarder := messaging.NewRedisForwarder(cache, messaging.RedisForwarderConfig{
				Channel: rediscache.PubSubChannel("events"),
				Logger:  log,
			})
			if err := forwarder.Attach(bus); err != nil {
				return fmt.Errorf("failed to attach redis forwarder: %w", err)
			}
			log.Info("event fan-out enabled", "channel", forwarder.Channel())
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. APPLICATION LAYER И ОБРАБОТЧИК
	// ─────────────────────────────────────────────────────────────────────────
	h := handler.New(handler.Config{
		Register:      command.NewRegisterUserHandler(store, bus, log),
		Request:       command.NewRequestTaskHandler(store, store, store, cat, bus, log),
		Complete:      command.NewCompleteTaskHandler(store, store, store, cat, bus, log),
		Skip:          command.NewSkipTaskHandler(store, bus, log),
		Progress:      query.NewGetProgressHandler(store, cat.TaskCount()),
		Tips:          query.NewGetTipHandler(catalog.NewTipSelector(cat, nil), bus, log),
		SearchEnabled: cfg.Features.ForUser(config.FeatureTipsSearch),
		Logger:        log,
	})

	// ─────────────────────────────────────────────────────────────────────────
	// 6. TELEGRAM BOT
	// ─────────────────────────────────────────────────────────────────────────
	bot, err := newBot(cfg, log, h, presenter.NewKeyboardBuilder(cat), cache)
	if err != nil {
		return err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	var server *httpserver.Server
	if cfg.HTTP.Enabled {
		server = newHTTPServer(cfg, log, bot, store, bus, audit, cache)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. ЗАПУСК И GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := bot.Start(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("telegram bot: %w", err)
		}
		return nil
	})

	if server != nil {
		g.Go(server.Start)
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()

		var errs []error
		// Сначала HTTP: новые webhook-запросы больше не принимаются.
		if server != nil {
			if err := server.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("http shutdown: %w", err))
			}
		}
		if err := bot.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("bot shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		log.Error("bot stopped with error", logger.Err(err))
		return err
	}

	log.Info("eco-tracker bot stopped", "stats", bot.GetStats())
	return nil
}

func setupLogger(cfg *config.Config) *slog.Logger {
	return logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     logger.ParseLevel(cfg.EffectiveLogLevel()),
		Format:    logger.Format(cfg.Observability.LogFormat),
		AddSource: cfg.App.Debug,
	})
}

// connectRedis returns nil when Redis is disabled or unreachable: the bot
// then runs with a local limiter and in-process events only.
func connectRedis(ctx context.Context, cfg *config.Config, log *slog.Logger) *rediscache.Cache {
	if !cfg.Redis.Enabled {
		return nil
	}

	rcfg := rediscache.DefaultConfig()
	rcfg.Host = cfg.Redis.Host
	rcfg.Port = cfg.Redis.Port
	rcfg.Password = cfg.Redis.Password
	rcfg.DB = cfg.Redis.DB
	rcfg.PoolSize = cfg.Redis.PoolSize
	rcfg.DialTimeout = cfg.Redis.DialTimeout
	rcfg.KeyPrefix = cfg.Redis.KeyPrefix
	rcfg.Logger = log

	log.Info("connecting to Redis...", "addr", rcfg.Addr())
	cache, err := rediscache.NewCache(ctx, rcfg)
	if err != nil {
		log.Warn("failed to connect to Redis, continuing without it", logger.Err(err))
		return nil
	}
	log.Info("Redis connection established")
	return cache
}

func newBot(cfg *config.Config, log *slog.Logger, h *handler.Handler, keyboards *presenter.KeyboardBuilder, cache *rediscache.Cache) (*telegram.Bot, error) {
	clientConfig := tgapi.DefaultClientConfig(cfg.Telegram.Token)
	clientConfig.Logger = log
	client := tgapi.NewClient(clientConfig)

	limitConfig := middleware.DefaultRateLimitConfig()
	limitConfig.RequestsPerMinute = cfg.RateLimit.PerMinute
	limitConfig.BurstSize = cfg.RateLimit.Burst
	limitConfig.BanDuration = cfg.RateLimit.BanDuration
	limitConfig.BanThreshold = cfg.RateLimit.BanThreshold
	limitConfig.Logger = log
	if cache != nil {
		limitConfig.Shared = cache
	}
	limiter, err := middleware.NewRateLimiter(limitConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}

	botConfig := telegram.DefaultBotConfig()
	botConfig.Mode = cfg.Telegram.Mode
	botConfig.WebhookURL = cfg.Telegram.WebhookURL
	botConfig.WebhookSecret = cfg.Telegram.WebhookSecret
	botConfig.MaxConcurrentUpdates = cfg.Telegram.MaxConcurrent
	botConfig.UpdateTimeout = cfg.Telegram.UpdateTimeout
	botConfig.GracefulShutdownTimeout = cfg.App.ShutdownTimeout
	botConfig.Debug = cfg.App.Debug
	botConfig.Logger = log

	bot, err := telegram.NewBot(botConfig, telegram.BotDependencies{
		Client:      client,
		Handler:     h,
		Keyboards:   keyboards,
		RateLimiter: limiter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return bot, nil
}

func newHTTPServer(
	cfg *config.Config,
	log *slog.Logger,
	bot *telegram.Bot,
	store *memory.Store,
	bus *messaging.InMemoryEventBus,
	audit *eventhandler.AuditHandler,
	cache *rediscache.Cache,
) *httpserver.Server {
	health := handlers.NewCompositeHealthChecker(version)
	if cache != nil {
		health.AddCheck("redis", handlers.NewPingCheck(cache))
	}

	httpConfig := httpserver.DefaultConfig()
	httpConfig.Host = cfg.HTTP.Host
	httpConfig.Port = cfg.HTTP.Port
	httpConfig.APIKeys = cfg.HTTP.APIKeys
	httpConfig.WebhookSecret = cfg.Telegram.WebhookSecret

	deps := httpserver.Dependencies{
		Health: health,
		Stats: map[string]httpserver.StatsFunc{
			"bot":      func() any { return bot.GetStats() },
			"store":    func() any { return store.Stats() },
			"requests": func() any { return bot.Metrics().Snapshot() },
			"events":   func() any { return audit.Counts() },
			"bus":      func() any { return bus.Metrics().Snapshot() },
			"features": func() any { return cfg.Features.All() },
		},
		Logger: log,
	}
	if cache != nil {
		deps.Stats["redis"] = func() any { return cache.Stats() }
	}
	if cfg.Telegram.Mode == config.ModeWebhook {
		deps.Updates = bot
	}

	return httpserver.NewServer(httpConfig, deps)
}
