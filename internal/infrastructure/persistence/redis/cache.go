// Package redis wraps the Redis client used for cross-replica concerns:
// the shared rate-limit window and event fan-out over Pub/Sub.
//
// Redis is optional. User progress is never stored here.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ecotracker/eco-tracker-bot/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds Redis connection configuration.
type Config struct {
	// Host is the Redis server hostname.
	Host string

	// Port is the Redis server port.
	Port int

	// Password is the Redis authentication password (empty if no auth).
	Password string

	// DB is the Redis database number (0-15).
	DB int

	// PoolSize is the maximum number of socket connections.
	PoolSize int

	// MaxRetries is the maximum number of retries before giving up.
	MaxRetries int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// KeyPrefix namespaces every key written by this process.
	KeyPrefix string

	// Logger receives circuit breaker state changes.
	Logger *slog.Logger
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		PoolSize:     10,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		KeyPrefix:    "ecobot:",
	}
}

// Addr returns the Redis address in "host:port" format.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS & KEYS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrCacheConnection is returned when Redis connection fails.
	ErrCacheConnection = errors.New("cache: connection failed")

	// ErrCacheSerialization is returned when serialization fails.
	ErrCacheSerialization = errors.New("cache: serialization failed")

	// ErrCacheKeyEmpty is returned when an empty key or channel is provided.
	ErrCacheKeyEmpty = errors.New("cache: key cannot be empty")
)

// Key prefixes for namespacing Redis keys.
const (
	// PrefixRateLimit is the prefix for rate limiting keys.
	PrefixRateLimit = "ratelimit:"

	// PrefixPubSub is the prefix for pub/sub channels.
	PrefixPubSub = "pubsub:"
)

// TTLRateLimitWindow is the default rate limit window.
const TTLRateLimitWindow = 1 * time.Minute

// RateLimitKey generates a key for rate limiting.
func RateLimitKey(identifier, action string) string {
	return PrefixRateLimit + action + ":" + identifier
}

// UserRateLimitKey generates the per-user key for a fixed window starting at windowStart.
func UserRateLimitKey(userID int64, windowStart time.Time) string {
	return RateLimitKey(strconv.FormatInt(userID, 10), "updates:"+strconv.FormatInt(windowStart.Unix(), 10))
}

// PubSubChannel generates a channel name for events.
func PubSubChannel(name string) string {
	return PrefixPubSub + name
}

// ══════════════════════════════════════════════════════════════════════════════
// CACHE CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Cache is a thin wrapper over *redis.Client with namespaced keys. Counter
// and publish calls go through a circuit breaker so an outage fails fast.
type Cache struct {
	client  *redis.Client
	config  Config
	breaker *circuitbreaker.CircuitBreaker
}

// NewCache connects to Redis and verifies the connection.
func NewCache(ctx context.Context, cfg Config) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}

	return newCache(client, cfg), nil
}

func newCache(client *redis.Client, cfg Config) *Cache {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	breaker := circuitbreaker.RedisBreaker(func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
	})
	return &Cache{
		client:  client,
		config:  cfg,
		breaker: breaker,
	}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable. It bypasses the breaker so health
// checks see the real state.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Key applies the configured prefix.
func (c *Cache) Key(key string) string {
	return c.config.KeyPrefix + key
}

// ══════════════════════════════════════════════════════════════════════════════
// COUNTERS
// ══════════════════════════════════════════════════════════════════════════════

// IncrWindow increments a counter and sets its TTL on first use, in one
// round trip. Returns the counter value after the increment.
func (c *Cache) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	if key == "" {
		return 0, ErrCacheKeyEmpty
	}

	var count int64
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		pipe := c.client.TxPipeline()
		incr := pipe.Incr(ctx, c.Key(key))
		pipe.ExpireNX(ctx, c.Key(key), window)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		count = incr.Val()
		return nil
	})
	return count, err
}

// ══════════════════════════════════════════════════════════════════════════════
// PUB/SUB OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Publish publishes a message to a channel. Byte slices and strings are
// sent as is, anything else is encoded as JSON.
func (c *Cache) Publish(ctx context.Context, channel string, message interface{}) error {
	if channel == "" {
		return ErrCacheKeyEmpty
	}

	var payload interface{}
	switch m := message.(type) {
	case []byte, string:
		payload = m
	default:
		data, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
		}
		payload = data
	}

	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.client.Publish(ctx, c.Key(channel), payload).Err()
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// STATS
// ══════════════════════════════════════════════════════════════════════════════

// Stats describes the connection for /stats.
type Stats struct {
	Addr          string `json:"addr"`
	Breaker       string `json:"breaker"`
	TotalFailures int    `json:"total_failures"`
	TotalConns    uint32 `json:"total_conns"`
	IdleConns     uint32 `json:"idle_conns"`
}

// Stats returns breaker and pool statistics.
func (c *Cache) Stats() Stats {
	pool := c.client.PoolStats()
	return Stats{
		Addr:          c.config.Addr(),
		Breaker:       c.breaker.State().String(),
		TotalFailures: c.breaker.Counts().TotalFailures,
		TotalConns:    pool.TotalConns,
		IdleConns:     pool.IdleConns,
	}
}
