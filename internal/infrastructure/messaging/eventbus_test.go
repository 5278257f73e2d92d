package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecotracker/eco-tracker-bot/internal/domain/shared"
)

func syncBus() *InMemoryEventBus {
	cfg := DefaultInMemoryEventBusConfig()
	cfg.AsyncMode = false
	return NewInMemoryEventBus(cfg)
}

func TestInMemoryEventBus_RoutesByType(t *testing.T) {
	bus := syncBus()

	var completed, all int
	require.NoError(t, bus.Subscribe(shared.EventTaskCompleted, func(shared.Event) error {
		completed++
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		all++
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewTaskCompletedEvent(1, 3, 5, 5)))
	require.NoError(t, bus.Publish(shared.NewTaskSkippedEvent(1, 4)))

	assert.Equal(t, 1, completed)
	assert.Equal(t, 2, all)

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.TotalPublished)
	assert.Equal(t, int64(3), snap.Handled)
}

func TestInMemoryEventBus_HandlerErrorsAreNotReturned(t *testing.T) {
	bus := syncBus()
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		return errors.New("boom")
	}))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		panic("worse")
	}))

	assert.NoError(t, bus.Publish(shared.NewUserRegisteredEvent(1)))
	assert.Equal(t, int64(2), bus.Metrics().Snapshot().Failed)
}

func TestInMemoryEventBus_AsyncDrainsOnClose(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())

	var n atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		n.Add(1)
		return nil
	}))

	for i := 0; i < 20; i++ {
		require.NoError(t, bus.Publish(shared.NewUserRegisteredEvent(shared.UserID(i+1))))
	}
	require.NoError(t, bus.Close())

	assert.Equal(t, int32(20), n.Load())
	assert.ErrorIs(t, bus.Publish(shared.NewUserRegisteredEvent(1)), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(func(shared.Event) error { return nil }), ErrEventBusClosed)
}

func TestInMemoryEventBus_NilHandler(t *testing.T) {
	bus := syncBus()
	assert.ErrorIs(t, bus.Subscribe(shared.EventLevelUp, nil), ErrNilHandler)
}

type fakePublisher struct {
	mu       sync.Mutex
	channels []string
	messages [][]byte
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, channel string, message interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.channels = append(f.channels, channel)
	f.messages = append(f.messages, message.([]byte))
	return nil
}

func TestRedisForwarder_PublishesEnvelope(t *testing.T) {
	pub := &fakePublisher{}
	fwd := NewRedisForwarder(pub, RedisForwarderConfig{InstanceID: "test-instance"})

	bus := syncBus()
	require.NoError(t, fwd.Attach(bus))

	ev := shared.NewLevelUpEvent(7, 1, 2, 105)
	ev.BaseEvent = ev.BaseEvent.WithCorrelationID("req-1")
	require.NoError(t, bus.Publish(ev))

	require.Len(t, pub.messages, 1)
	assert.Equal(t, "ecobot:events", pub.channels[0])

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(pub.messages[0], &got))
	assert.Equal(t, "progress.level_up", got["type"])
	assert.Equal(t, "7", got["aggregate_id"])
	assert.Equal(t, "test-instance", got["instance_id"])
	assert.Equal(t, "req-1", got["correlation_id"])
	assert.NotEmpty(t, got["id"])

	payload := got["payload"].(map[string]interface{})
	assert.Equal(t, float64(2), payload["new_level"])
}

func TestRedisForwarder_ErrorIsReported(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection refused")}
	fwd := NewRedisForwarder(pub, RedisForwarderConfig{})

	err := fwd.Handle(shared.NewTaskSkippedEvent(1, 2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task.skipped")
}
