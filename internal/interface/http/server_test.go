package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecotracker/eco-tracker-bot/internal/infrastructure/external/telegram"
	"github.com/ecotracker/eco-tracker-bot/internal/interface/http/handlers"
	"github.com/ecotracker/eco-tracker-bot/pkg/logger"
)

type fakeProcessor struct {
	mu      sync.Mutex
	updates []*telegram.Update
	err     error
}

func (p *fakeProcessor) HandleUpdate(_ context.Context, update *telegram.Update) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, update)
	return p.err
}

func newTestServer(cfg Config, deps Dependencies) http.Handler {
	deps.Logger = logger.Discard()
	return NewServer(cfg, deps).Handler()
}

func TestHealth_NoChecks(t *testing.T) {
	h := newTestServer(DefaultConfig(), Dependencies{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	var body handlers.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Healthy)
}

func TestHealth_FailingCheck(t *testing.T) {
	health := handlers.NewCompositeHealthChecker("test")
	health.AddCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	health.AddCheck("self", func(context.Context) error { return nil })

	h := newTestServer(DefaultConfig(), Dependencies{Health: health})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body handlers.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Healthy)
	assert.Equal(t, "Some checks failed: redis", body.Message)
	assert.True(t, body.Checks["self"].Healthy)
	assert.Equal(t, "connection refused", body.Checks["redis"].Message)
}

func TestRequestID_Propagated(t *testing.T) {
	h := newTestServer(DefaultConfig(), Dependencies{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
}

func TestStats_Sections(t *testing.T) {
	h := newTestServer(DefaultConfig(), Dependencies{
		Stats: map[string]StatsFunc{
			"bot":   func() any { return map[string]int{"updates_received": 3} },
			"store": func() any { return map[string]int{"users": 2} },
		},
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.JSONEq(t, `{"updates_received":3}`, string(body["bot"]))
	assert.JSONEq(t, `{"users":2}`, string(body["store"]))
	assert.Contains(t, body, "timestamp")
}

func TestStats_APIKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.APIKeys = []string{"s3cret"}
	h := newTestServer(cfg, Dependencies{})

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong", "X-API-Key", "nope", http.StatusUnauthorized},
		{"header", "X-API-Key", "s3cret", http.StatusOK},
		{"bearer", "Authorization", "Bearer s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/stats", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestWebhook(t *testing.T) {
	const update = `{"update_id":7,"message":{"message_id":1,"from":{"id":42,"first_name":"Аня"},"chat":{"id":42,"type":"private"},"text":"/start"}}`

	tests := []struct {
		name    string
		secret  string
		body    string
		procErr error
		want    int
		handled int
	}{
		{"accepted", "tok", update, nil, http.StatusOK, 1},
		{"wrong secret", "bad", update, nil, http.StatusUnauthorized, 0},
		{"missing secret", "", update, nil, http.StatusUnauthorized, 0},
		{"bad json", "tok", "{", nil, http.StatusBadRequest, 0},
		{"bot stopping", "tok", update, context.Canceled, http.StatusServiceUnavailable, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &fakeProcessor{err: tt.procErr}
			cfg := DefaultConfig()
			cfg.WebhookSecret = "tok"
			h := newTestServer(cfg, Dependencies{Updates: proc})

			req := httptest.NewRequest(http.MethodPost, "/webhook/telegram", strings.NewReader(tt.body))
			if tt.secret != "" {
				req.Header.Set(handlers.SecretTokenHeader, tt.secret)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			require.Len(t, proc.updates, tt.handled)
			if tt.handled > 0 {
				assert.Equal(t, int64(7), proc.updates[0].UpdateID)
				assert.Equal(t, "/start", proc.updates[0].Message.Text)
			}
		})
	}
}

func TestWebhook_DisabledWithoutProcessor(t *testing.T) {
	h := newTestServer(DefaultConfig(), Dependencies{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/telegram", strings.NewReader("{}")))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecovery(t *testing.T) {
	h := newTestServer(DefaultConfig(), Dependencies{
		Stats: map[string]StatsFunc{"boom": func() any { panic("kaboom") }},
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal_server_error")
}

func TestConfig_Address(t *testing.T) {
	cfg := Config{Host: "127.0.0.1", Port: 9090}
	assert.Equal(t, "127.0.0.1:9090", cfg.Address())
}
