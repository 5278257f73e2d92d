package middleware

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ecotracker/eco-tracker-bot/internal/domain/shared"
	"github.com/ecotracker/eco-tracker-bot/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// METRICS MIDDLEWARE
// Collects counters and latencies per action. Exposed through /stats.
// ══════════════════════════════════════════════════════════════════════════════

// latencyWindow is the number of recent samples kept per action for percentiles.
const latencyWindow = 512

// MetricsConfig holds configuration for the metrics middleware.
type MetricsConfig struct {
	// SlowRequestThreshold defines what's considered a slow request.
	SlowRequestThreshold time.Duration

	// Logger receives slow request warnings.
	Logger *slog.Logger
}

// DefaultMetricsConfig returns sensible defaults for metrics middleware.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		SlowRequestThreshold: 2 * time.Second,
	}
}

// MetricsMiddleware collects and exposes metrics.
type MetricsMiddleware struct {
	config    MetricsConfig
	logger    *slog.Logger
	startedAt time.Time

	totalRequests  atomic.Int64
	totalErrors    atomic.Int64
	activeRequests atomic.Int64
	rateLimited    atomic.Int64
	panics         atomic.Int64

	actions     *xsync.MapOf[string, *actionMetrics]
	errorCounts *xsync.MapOf[string, *atomic.Int64]
	uniqueUsers *xsync.MapOf[int64, time.Time]
}

type actionMetrics struct {
	total   atomic.Int64
	errors  atomic.Int64
	totalNs atomic.Int64
	maxNs   atomic.Int64

	mu      sync.Mutex
	samples []time.Duration
	next    int
}

// NewMetricsMiddleware creates a new metrics middleware.
func NewMetricsMiddleware(config MetricsConfig) *MetricsMiddleware {
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}
	return &MetricsMiddleware{
		config:      config,
		logger:      log.With(logger.Component("metrics")),
		startedAt:   time.Now(),
		actions:     xsync.NewMapOf[string, *actionMetrics](),
		errorCounts: xsync.NewMapOf[string, *atomic.Int64](),
		uniqueUsers: xsync.NewMapOf[int64, time.Time](),
	}
}

// RequestContext tracks a single request.
type RequestContext struct {
	Action    string
	UserID    int64
	StartTime time.Time

	m *MetricsMiddleware
}

// Start begins tracking a new request.
func (m *MetricsMiddleware) Start(action string, userID int64) *RequestContext {
	m.totalRequests.Add(1)
	m.activeRequests.Add(1)
	now := time.Now()
	m.uniqueUsers.Store(userID, now)

	return &RequestContext{Action: action, UserID: userID, StartTime: now, m: m}
}

// End completes tracking for a request.
func (rc *RequestContext) End(err error) {
	m := rc.m
	d := time.Since(rc.StartTime)
	m.activeRequests.Add(-1)

	am, _ := m.actions.LoadOrCompute(rc.Action, func() *actionMetrics {
		return &actionMetrics{samples: make([]time.Duration, 0, latencyWindow)}
	})
	am.record(d, err != nil)

	if err != nil {
		m.totalErrors.Add(1)
		counter, _ := m.errorCounts.LoadOrCompute(errorKind(err), func() *atomic.Int64 { return &atomic.Int64{} })
		counter.Add(1)
	}

	if m.config.SlowRequestThreshold > 0 && d > m.config.SlowRequestThreshold {
		m.logger.Warn("slow request", "action", rc.Action, logger.UserID(rc.UserID), logger.Latency(d))
	}
}

// RecordRateLimited counts an update dropped by the rate limiter.
func (m *MetricsMiddleware) RecordRateLimited() { m.rateLimited.Add(1) }

// RecordPanic counts a recovered panic.
func (m *MetricsMiddleware) RecordPanic() { m.panics.Add(1) }

func (am *actionMetrics) record(d time.Duration, failed bool) {
	am.total.Add(1)
	if failed {
		am.errors.Add(1)
	}
	ns := d.Nanoseconds()
	am.totalNs.Add(ns)
	for {
		cur := am.maxNs.Load()
		if cur >= ns || am.maxNs.CompareAndSwap(cur, ns) {
			break
		}
	}

	am.mu.Lock()
	if len(am.samples) < latencyWindow {
		am.samples = append(am.samples, d)
	} else {
		am.samples[am.next] = d
		am.next = (am.next + 1) % latencyWindow
	}
	am.mu.Unlock()
}

// errorKind groups errors by their domain kind so the map stays small.
func errorKind(err error) string {
	var de *shared.DomainError
	switch {
	case errors.As(err, &de):
		return de.Domain + "." + de.Op
	case shared.IsExternalService(err):
		return "external"
	default:
		return "other"
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// MetricsSnapshot is a point-in-time view of the metrics.
type MetricsSnapshot struct {
	Timestamp       time.Time        `json:"timestamp"`
	Uptime          string           `json:"uptime"`
	TotalRequests   int64            `json:"total_requests"`
	TotalErrors     int64            `json:"total_errors"`
	ActiveRequests  int64            `json:"active_requests"`
	RateLimited     int64            `json:"rate_limited"`
	Panics          int64            `json:"panics"`
	ErrorRate       float64          `json:"error_rate"`
	UniqueUsersHour int              `json:"unique_users_last_hour"`
	UniqueUsersDay  int              `json:"unique_users_last_day"`
	Actions         []ActionSnapshot `json:"actions"`
	Errors          []ErrorCount     `json:"errors,omitempty"`
}

// ActionSnapshot holds metrics of one action.
type ActionSnapshot struct {
	Action     string        `json:"action"`
	Total      int64         `json:"total"`
	Errors     int64         `json:"errors"`
	AvgLatency time.Duration `json:"avg_latency_ns"`
	MaxLatency time.Duration `json:"max_latency_ns"`
	P95Latency time.Duration `json:"p95_latency_ns"`
}

// ErrorCount is the number of errors of one kind.
type ErrorCount struct {
	Kind  string `json:"kind"`
	Count int64  `json:"count"`
}

// Snapshot returns the current metrics.
func (m *MetricsMiddleware) Snapshot() *MetricsSnapshot {
	now := time.Now()
	snap := &MetricsSnapshot{
		Timestamp:      now,
		Uptime:         now.Sub(m.startedAt).Round(time.Second).String(),
		TotalRequests:  m.totalRequests.Load(),
		TotalErrors:    m.totalErrors.Load(),
		ActiveRequests: m.activeRequests.Load(),
		RateLimited:    m.rateLimited.Load(),
		Panics:         m.panics.Load(),
	}
	if snap.TotalRequests > 0 {
		snap.ErrorRate = float64(snap.TotalErrors) / float64(snap.TotalRequests)
	}

	hourAgo, dayAgo := now.Add(-time.Hour), now.Add(-24*time.Hour)
	m.uniqueUsers.Range(func(id int64, lastSeen time.Time) bool {
		if lastSeen.Before(dayAgo) {
			m.uniqueUsers.Delete(id)
			return true
		}
		snap.UniqueUsersDay++
		if lastSeen.After(hourAgo) {
			snap.UniqueUsersHour++
		}
		return true
	})

	m.actions.Range(func(name string, am *actionMetrics) bool {
		snap.Actions = append(snap.Actions, am.snapshot(name))
		return true
	})
	sort.Slice(snap.Actions, func(i, j int) bool { return snap.Actions[i].Action < snap.Actions[j].Action })

	m.errorCounts.Range(func(kind string, c *atomic.Int64) bool {
		snap.Errors = append(snap.Errors, ErrorCount{Kind: kind, Count: c.Load()})
		return true
	})
	sort.Slice(snap.Errors, func(i, j int) bool { return snap.Errors[i].Count > snap.Errors[j].Count })

	return snap
}

func (am *actionMetrics) snapshot(name string) ActionSnapshot {
	s := ActionSnapshot{
		Action:     name,
		Total:      am.total.Load(),
		Errors:     am.errors.Load(),
		MaxLatency: time.Duration(am.maxNs.Load()),
	}
	if s.Total > 0 {
		s.AvgLatency = time.Duration(am.totalNs.Load() / s.Total)
	}

	am.mu.Lock()
	sorted := make([]time.Duration, len(am.samples))
	copy(sorted, am.samples)
	am.mu.Unlock()

	if len(sorted) > 0 {
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		s.P95Latency = percentile(sorted, 0.95)
	}
	return s
}

// percentile returns the p-th percentile of a sorted slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}
