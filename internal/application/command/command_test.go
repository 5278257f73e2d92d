package command

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecotracker/eco-tracker-bot/internal/domain/catalog"
	"github.com/ecotracker/eco-tracker-bot/internal/domain/shared"
	"github.com/ecotracker/eco-tracker-bot/internal/infrastructure/catalogfile"
	"github.com/ecotracker/eco-tracker-bot/internal/infrastructure/persistence/memory"
	"github.com/ecotracker/eco-tracker-bot/pkg/logger"
)

type recorder struct {
	mu     sync.Mutex
	events []shared.Event
}

func (r *recorder) Publish(ev shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []shared.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]shared.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.EventType()
	}
	return out
}

type fixture struct {
	store    *memory.Store
	catalog  *catalog.Catalog
	events   *recorder
	register *RegisterUserHandler
	request  *RequestTaskHandler
	complete *CompleteTaskHandler
	skip     *SkipTaskHandler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cat, err := catalogfile.LoadDefault(catalogfile.Options{})
	require.NoError(t, err)

	store := memory.NewStore(memory.WithRand(rand.New(rand.NewPCG(1, 2))), memory.WithLogger(logger.Discard()))
	rec := &recorder{}
	log := logger.Discard()

	return &fixture{
		store:    store,
		catalog:  cat,
		events:   rec,
		register: NewRegisterUserHandler(store, rec, log),
		request:  NewRequestTaskHandler(store, store, store, cat, rec, log),
		complete: NewCompleteTaskHandler(store, store, store, cat, rec, log),
		skip:     NewSkipTaskHandler(store, rec, log),
	}
}

func TestRegisterUser_OnlyFirstTimeEmits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.register.Handle(ctx, RegisterUserCommand{UserID: 42})
	require.NoError(t, err)
	assert.True(t, res.Created)

	res, err = f.register.Handle(ctx, RegisterUserCommand{UserID: 42})
	require.NoError(t, err)
	assert.False(t, res.Created)

	assert.Equal(t, []shared.EventType{shared.EventUserRegistered}, f.events.types())

	_, err = f.register.Handle(ctx, RegisterUserCommand{UserID: 0})
	assert.ErrorIs(t, err, shared.ErrInvalidUserID)
}

func TestRequestTask_AtMostOneActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.request.Handle(ctx, RequestTaskCommand{UserID: 1})
	require.NoError(t, err)
	assert.Contains(t, f.catalog.TaskIDs(), res.Task.ID)
	assert.False(t, res.CycleReset)
	assert.Equal(t, 8, res.PoolSize)

	_, err = f.request.Handle(ctx, RequestTaskCommand{UserID: 1})
	assert.ErrorIs(t, err, shared.ErrAlreadyActive)
	assert.True(t, shared.IsAlreadyActive(err))

	active, ok := f.store.Active(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, res.Task.ID, active.TaskID)
}

func TestRequestTask_RegistersImplicitly(t *testing.T) {
	f := newFixture(t)

	_, err := f.request.Handle(context.Background(), RequestTaskCommand{UserID: 5})
	require.NoError(t, err)

	assert.Equal(t, []shared.EventType{shared.EventUserRegistered, shared.EventTaskAssigned}, f.events.types())
}

func TestCompleteTask_AwardsPoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.request.Handle(ctx, RequestTaskCommand{UserID: 1})
	require.NoError(t, err)

	done, err := f.complete.Handle(ctx, CompleteTaskCommand{UserID: 1, TaskID: res.Task.ID})
	require.NoError(t, err)
	assert.Equal(t, res.Task.Points, done.Earned)
	assert.Equal(t, res.Task.Points, done.Total)
	assert.Equal(t, shared.Level(1), done.Level)
	assert.False(t, done.LevelUp)

	// Round trip: a new task can be requested right away.
	_, err = f.request.Handle(ctx, RequestTaskCommand{UserID: 1})
	require.NoError(t, err)
}

func TestCompleteTask_MismatchLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.request.Handle(ctx, RequestTaskCommand{UserID: 1})
	require.NoError(t, err)

	other := shared.TaskID(1)
	if res.Task.ID == other {
		other = 2
	}

	_, err = f.complete.Handle(ctx, CompleteTaskCommand{UserID: 1, TaskID: other})
	assert.ErrorIs(t, err, shared.ErrTaskMismatch)

	snap, err := f.store.Snapshot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, shared.Points(0), snap.Points)
	assert.Equal(t, 0, snap.CompletedCount)

	active, ok := f.store.Active(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, res.Task.ID, active.TaskID)
}

func TestCompleteTask_NotActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.complete.Handle(ctx, CompleteTaskCommand{UserID: 1, TaskID: 3})
	assert.ErrorIs(t, err, shared.ErrNotActive)

	_, err = f.complete.Handle(ctx, CompleteTaskCommand{UserID: 1, TaskID: 999})
	assert.ErrorIs(t, err, shared.ErrNotActive)

	// A stale button from an unknown user does not register them.
	_, err = f.store.Snapshot(ctx, 1)
	assert.ErrorIs(t, err, shared.ErrUnknownUser)
	assert.Equal(t, 0, f.store.Stats().Users)
	assert.Empty(t, f.events.types())
}

func TestCompleteTask_LevelUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var (
		last   *CompleteTaskResult
		levels []shared.Level
	)
	// The default catalog is worth 90 points per cycle; two cycles cross 100.
	for i := 0; i < 2*f.catalog.TaskCount(); i++ {
		res, err := f.request.Handle(ctx, RequestTaskCommand{UserID: 9})
		require.NoError(t, err)
		last, err = f.complete.Handle(ctx, CompleteTaskCommand{UserID: 9, TaskID: res.Task.ID})
		require.NoError(t, err)
		levels = append(levels, last.Level)
	}

	assert.Equal(t, shared.Level(2), last.Level)
	assert.Equal(t, shared.CalculateLevel(last.Total), last.Level)
	assert.Contains(t, f.events.types(), shared.EventLevelUp)
	for i := 1; i < len(levels); i++ {
		assert.GreaterOrEqual(t, levels[i].Int(), levels[i-1].Int())
	}
}

func TestRequestTask_CycleReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seen := make(map[shared.TaskID]bool)
	for i := 0; i < f.catalog.TaskCount(); i++ {
		res, err := f.request.Handle(ctx, RequestTaskCommand{UserID: 3})
		require.NoError(t, err)
		assert.False(t, res.CycleReset)
		assert.False(t, seen[res.Task.ID], "task %d assigned twice in one cycle", res.Task.ID)
		seen[res.Task.ID] = true

		_, err = f.complete.Handle(ctx, CompleteTaskCommand{UserID: 3, TaskID: res.Task.ID})
		require.NoError(t, err)
	}

	res, err := f.request.Handle(ctx, RequestTaskCommand{UserID: 3})
	require.NoError(t, err)
	assert.True(t, res.CycleReset)
	assert.Equal(t, 8, res.PoolSize)
	assert.Contains(t, f.events.types(), shared.EventCycleReset)

	snap, err := f.store.Snapshot(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.CompletedCount)
	assert.Equal(t, 1, snap.Cycles)
	assert.Equal(t, shared.Points(90), snap.Points)
}

func TestSkipTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.skip.Handle(ctx, SkipTaskCommand{UserID: 1, TaskID: 1}), shared.ErrNotActive)

	res, err := f.request.Handle(ctx, RequestTaskCommand{UserID: 1})
	require.NoError(t, err)
	require.NoError(t, f.skip.Handle(ctx, SkipTaskCommand{UserID: 1, TaskID: res.Task.ID}))

	snap, err := f.store.Snapshot(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, shared.Points(0), snap.Points)

	_, ok := f.store.Active(ctx, 1)
	assert.False(t, ok)
	assert.Contains(t, f.events.types(), shared.EventTaskSkipped)
}

func TestRequestTask_ConcurrentSameUser(t *testing.T) {
	f := newFixture(t)

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.request.Handle(context.Background(), RequestTaskCommand{UserID: 77}); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestTrackOrigin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.request.Handle(ctx, RequestTaskCommand{UserID: 1})
	require.NoError(t, err)

	origin := shared.MessageRef{ChatID: 1, MessageID: 55}
	require.NoError(t, f.request.TrackOrigin(ctx, 1, res.Task.ID, origin))

	active, ok := f.store.Active(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, origin, active.Origin)

	require.NoError(t, f.skip.Handle(ctx, SkipTaskCommand{UserID: 1, TaskID: res.Task.ID}))
	assert.NoError(t, f.request.TrackOrigin(ctx, 1, res.Task.ID, origin))
}

func TestAbandon_ReleasesWithoutEvent(t *testing.T) {
	f := newFixture(t)

	res, err := f.request.Handle(context.Background(), RequestTaskCommand{UserID: 1})
	require.NoError(t, err)

	// The delivery that failed may have used up its deadline.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, f.request.Abandon(ctx, 1, res.Task.ID))

	_, ok := f.store.Active(context.Background(), 1)
	assert.False(t, ok)
	assert.NotContains(t, f.events.types(), shared.EventTaskSkipped)

	_, err = f.request.Handle(context.Background(), RequestTaskCommand{UserID: 1})
	assert.NoError(t, err)

	// A stale release does not touch the new assignment.
	assert.NoError(t, f.request.Abandon(context.Background(), 1, res.Task.ID+100))
	_, ok = f.store.Active(context.Background(), 1)
	assert.True(t, ok)
}

func TestCorrelationIDIsStamped(t *testing.T) {
	f := newFixture(t)
	ctx := logger.ContextWithRequestID(context.Background(), "req-42")

	_, err := f.register.Handle(ctx, RegisterUserCommand{UserID: 8})
	require.NoError(t, err)

	require.Len(t, f.events.events, 1)
	ev := f.events.events[0].(shared.UserRegisteredEvent)
	assert.Equal(t, "req-42", ev.Correlation())
}
