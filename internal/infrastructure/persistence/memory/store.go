// Package memory provides the process-local store for user progress and
// active assignments. State lives for the lifetime of the process only.
package memory

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ecotracker/eco-tracker-bot/internal/domain/assignment"
	"github.com/ecotracker/eco-tracker-bot/internal/domain/progress"
	"github.com/ecotracker/eco-tracker-bot/internal/domain/shared"
)

// Compile-time interface checks.
var (
	_ progress.Repository = (*Store)(nil)
	_ assignment.Tracker  = (*Store)(nil)
)

// userRecord holds everything the bot knows about one user.
// All fields are guarded by mu.
type userRecord struct {
	mu       sync.Mutex
	progress *progress.UserProgress // nil until EnsureUser
	machine  *fsm.FSM
	active   *assignment.Assignment
}

// Store owns both the progress mapping and the assignment mapping.
// Operations on one user are mutually exclusive; operations on different
// users never contend on a shared lock.
type Store struct {
	users *xsync.MapOf[shared.UserID, *userRecord]

	rngMu sync.Mutex
	rng   *rand.Rand

	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithRand sets the random source used to pick tasks.
func WithRand(rng *rand.Rand) Option {
	return func(s *Store) {
		s.rng = rng
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		users:  xsync.NewMapOf[shared.UserID, *userRecord](),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		seed := uint64(time.Now().UnixNano())
		s.rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	s.logger = s.logger.With("component", "memory_store")
	return s
}

// ══════════════════════════════════════════════════════════════════════════════
// PER-USER LOCKING
// ══════════════════════════════════════════════════════════════════════════════

type lockScopeKey struct{}

// WithUserLock runs fn while holding the user's lock. Store operations called
// with the ctx passed to fn do not lock again, so fn can run a multi-step
// sequence (reset then assign, complete then award) atomically.
func (s *Store) WithUserLock(ctx context.Context, userID shared.UserID, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if holdsLock(ctx, userID) {
		return fn(ctx)
	}

	rec := s.record(userID)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	return fn(context.WithValue(ctx, lockScopeKey{}, userID))
}

func holdsLock(ctx context.Context, userID shared.UserID) bool {
	held, ok := ctx.Value(lockScopeKey{}).(shared.UserID)
	return ok && held == userID
}

func (s *Store) lock(ctx context.Context, userID shared.UserID, rec *userRecord) func() {
	if holdsLock(ctx, userID) {
		return func() {}
	}
	rec.mu.Lock()
	return rec.mu.Unlock
}

func (s *Store) record(userID shared.UserID) *userRecord {
	rec, _ := s.users.LoadOrCompute(userID, func() *userRecord {
		return &userRecord{machine: assignment.NewMachine()}
	})
	return rec
}

// ══════════════════════════════════════════════════════════════════════════════
// progress.Repository
// ══════════════════════════════════════════════════════════════════════════════

// EnsureUser creates the progress record if it does not exist yet.
func (s *Store) EnsureUser(ctx context.Context, userID shared.UserID) (bool, error) {
	if !userID.IsValid() {
		return false, shared.ErrInvalidUserID
	}

	rec := s.record(userID)
	unlock := s.lock(ctx, userID, rec)
	defer unlock()

	if rec.progress != nil {
		return false, nil
	}
	rec.progress = progress.NewUserProgress(userID)
	s.logger.Debug("user registered", "user_id", userID.Int64())
	return true, nil
}

// Award adds points for a task and recomputes the level.
func (s *Store) Award(ctx context.Context, userID shared.UserID, taskID shared.TaskID, points shared.Points) (progress.AwardResult, error) {
	var res progress.AwardResult
	err := s.withProgress(ctx, userID, func(p *progress.UserProgress) {
		res = p.Award(taskID, points)
	})
	return res, err
}

// ResetCycleIfExhausted clears the completed set once it covers all.
func (s *Store) ResetCycleIfExhausted(ctx context.Context, userID shared.UserID, all []shared.TaskID) (bool, error) {
	var reset bool
	err := s.withProgress(ctx, userID, func(p *progress.UserProgress) {
		reset = p.ResetCycleIfExhausted(all)
	})
	return reset, err
}

// CandidatePool returns catalog ids the user has not completed in this cycle.
func (s *Store) CandidatePool(ctx context.Context, userID shared.UserID, all []shared.TaskID) ([]shared.TaskID, error) {
	var pool []shared.TaskID
	err := s.withProgress(ctx, userID, func(p *progress.UserProgress) {
		pool = p.CandidatePool(all)
	})
	return pool, err
}

// Snapshot returns a read-only view of the user's progress.
func (s *Store) Snapshot(ctx context.Context, userID shared.UserID) (progress.Snapshot, error) {
	var snap progress.Snapshot
	err := s.withProgress(ctx, userID, func(p *progress.UserProgress) {
		snap = p.Snapshot()
	})
	return snap, err
}

// withProgress never creates a record: unknown users stay unknown.
func (s *Store) withProgress(ctx context.Context, userID shared.UserID, fn func(p *progress.UserProgress)) error {
	rec, ok := s.users.Load(userID)
	if !ok {
		return shared.ErrUnknownUser
	}

	unlock := s.lock(ctx, userID, rec)
	defer unlock()

	if rec.progress == nil {
		return shared.ErrUnknownUser
	}
	fn(rec.progress)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// assignment.Tracker
// ══════════════════════════════════════════════════════════════════════════════

// TryAssign picks a random task from pool and makes it the active assignment.
func (s *Store) TryAssign(ctx context.Context, userID shared.UserID, pool []shared.TaskID, origin shared.MessageRef) (shared.TaskID, error) {
	rec := s.record(userID)
	unlock := s.lock(ctx, userID, rec)
	defer unlock()

	if rec.active != nil || rec.machine.Current() == assignment.StateAssigned {
		return 0, shared.ErrAlreadyActive
	}

	s.rngMu.Lock()
	taskID, err := assignment.Pick(pool, s.rng)
	s.rngMu.Unlock()
	if err != nil {
		return 0, err
	}

	if err := assignment.Fire(ctx, rec.machine, assignment.EventAssign); err != nil {
		return 0, err
	}
	rec.active = assignment.NewAssignment(userID, taskID, origin)

	s.logger.Debug("task assigned", "user_id", userID.Int64(), "task_id", int(taskID), "pool", len(pool))
	return taskID, nil
}

// Complete clears the active assignment if it matches taskID.
func (s *Store) Complete(ctx context.Context, userID shared.UserID, taskID shared.TaskID) (shared.TaskID, error) {
	if err := s.resolve(ctx, userID, taskID, assignment.EventComplete); err != nil {
		return 0, err
	}
	return taskID, nil
}

// Skip clears the active assignment without awarding anything.
func (s *Store) Skip(ctx context.Context, userID shared.UserID, taskID shared.TaskID) error {
	return s.resolve(ctx, userID, taskID, assignment.EventSkip)
}

func (s *Store) resolve(ctx context.Context, userID shared.UserID, taskID shared.TaskID, event string) error {
	rec, ok := s.users.Load(userID)
	if !ok {
		return shared.ErrNotActive
	}

	unlock := s.lock(ctx, userID, rec)
	defer unlock()

	if err := assignment.Resolve(rec.active, taskID); err != nil {
		return err
	}
	if err := assignment.Fire(ctx, rec.machine, event); err != nil {
		return err
	}
	rec.active = nil
	return nil
}

// Active returns a copy of the active assignment.
func (s *Store) Active(ctx context.Context, userID shared.UserID) (assignment.Assignment, bool) {
	rec, ok := s.users.Load(userID)
	if !ok {
		return assignment.Assignment{}, false
	}

	unlock := s.lock(ctx, userID, rec)
	defer unlock()

	if rec.active == nil {
		return assignment.Assignment{}, false
	}
	return *rec.active, true
}

// UpdateOrigin records the message that presents the active task.
func (s *Store) UpdateOrigin(ctx context.Context, userID shared.UserID, taskID shared.TaskID, origin shared.MessageRef) error {
	rec, ok := s.users.Load(userID)
	if !ok {
		return shared.ErrNotActive
	}

	unlock := s.lock(ctx, userID, rec)
	defer unlock()

	if err := assignment.Resolve(rec.active, taskID); err != nil {
		return err
	}
	rec.active.Origin = origin
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// STATS
// ══════════════════════════════════════════════════════════════════════════════

// Stats describes the store contents.
type Stats struct {
	Users             int `json:"users"`
	ActiveAssignments int `json:"active_assignments"`
	TotalPoints       int `json:"total_points"`
}

// Stats walks all records. Each record is locked briefly, never two at once.
func (s *Store) Stats() Stats {
	var st Stats
	s.users.Range(func(_ shared.UserID, rec *userRecord) bool {
		rec.mu.Lock()
		if rec.progress != nil {
			st.Users++
			st.TotalPoints += rec.progress.Points.Int()
		}
		if rec.active != nil {
			st.ActiveAssignments++
		}
		rec.mu.Unlock()
		return true
	})
	return st
}
