package progress

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecotracker/eco-tracker-bot/internal/domain/shared"
)

var allTasks = []shared.TaskID{1, 2, 3, 4, 5, 6, 7, 8}

func TestNewUserProgress_Defaults(t *testing.T) {
	p := NewUserProgress(42)

	assert.Equal(t, shared.UserID(42), p.UserID)
	assert.Equal(t, shared.Points(0), p.Points)
	assert.Equal(t, shared.Level(1), p.Level)
	assert.Empty(t, p.Completed)
}

func TestAward_LevelInvariant(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	p := NewUserProgress(1)

	for i := 0; i < 200; i++ {
		pts := shared.Points(rng.IntN(30) + 1)
		p.Award(shared.TaskID(rng.IntN(8)+1), pts)
		require.Equal(t, shared.Level(p.Points/100+1), p.Level, "after award %d", i)
	}
}

func TestAward_SmallAwardKeepsLevel(t *testing.T) {
	p := NewUserProgress(1)

	res := p.Award(3, 5)

	assert.Equal(t, shared.Points(5), res.Total)
	assert.Equal(t, shared.Level(1), res.Current)
	assert.False(t, res.LevelUp)
	assert.True(t, p.HasCompleted(3))
}

func TestAward_CrossingBoundaryLevelsUp(t *testing.T) {
	p := NewUserProgress(1)
	p.Points = 95
	p.Level = shared.CalculateLevel(p.Points)

	res := p.Award(4, 10)

	assert.Equal(t, shared.Points(105), p.Points)
	assert.Equal(t, shared.Level(1), res.Previous)
	assert.Equal(t, shared.Level(2), res.Current)
	assert.True(t, res.LevelUp)
}

func TestResetCycleIfExhausted(t *testing.T) {
	p := NewUserProgress(1)

	for _, id := range allTasks[:7] {
		p.Award(id, 10)
		assert.False(t, p.ResetCycleIfExhausted(allTasks))
	}
	assert.Equal(t, []shared.TaskID{8}, p.CandidatePool(allTasks))

	p.Award(8, 20)
	assert.Empty(t, p.CandidatePool(allTasks))

	assert.True(t, p.ResetCycleIfExhausted(allTasks))
	assert.Empty(t, p.Completed)
	assert.Equal(t, 1, p.Cycles)
	assert.Equal(t, shared.Points(90), p.Points, "points survive a cycle reset")
	assert.Equal(t, allTasks, p.CandidatePool(allTasks))
}

func TestResetCycleIfExhausted_EmptyCatalog(t *testing.T) {
	p := NewUserProgress(1)
	assert.False(t, p.ResetCycleIfExhausted(nil))
}

func TestSnapshot(t *testing.T) {
	p := NewUserProgress(9)
	p.Award(1, 15)
	p.Award(2, 10)

	s := p.Snapshot()

	assert.Equal(t, shared.UserID(9), s.UserID)
	assert.Equal(t, shared.Points(25), s.Points)
	assert.Equal(t, shared.Level(1), s.Level)
	assert.Equal(t, 2, s.CompletedCount)
	assert.Equal(t, shared.Points(75), s.PointsToNextLevel)
}
