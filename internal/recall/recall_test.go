package recall

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/memcore/internal/models"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRanker_FreshnessDecay(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRanker(DefaultWeights(), fixedClock(now))

	fresh := models.ScoredMemory{Memory: models.MemoryRecord{ID: "a", Confidence: 5, CreatedAt: now}}
	old := models.ScoredMemory{Memory: models.MemoryRecord{ID: "b", Confidence: 5, CreatedAt: now.Add(-60 * 24 * time.Hour)}}

	ranked := r.Rank([]models.ScoredMemory{old, fresh})
	require.Len(t, ranked, 2)
	assert.Equal(t, "a", ranked[0].Memory.ID)
}

func TestRanker_VectorScoreDominates(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRanker(DefaultWeights(), fixedClock(now))

	high := models.ScoredMemory{Memory: models.MemoryRecord{ID: "high", Confidence: 5, CreatedAt: now}, VectorScore: 0.9}
	low := models.ScoredMemory{Memory: models.MemoryRecord{ID: "low", Confidence: 5, CreatedAt: now}, VectorScore: 0.1}

	ranked := r.Rank([]models.ScoredMemory{low, high})
	assert.Equal(t, "high", ranked[0].Memory.ID)
}

func TestRanker_TieBreakByCreatedAtThenID(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRanker(DefaultWeights(), fixedClock(now))

	a := models.ScoredMemory{Memory: models.MemoryRecord{ID: "zzz", Confidence: 5, CreatedAt: now}, VectorScore: 0.5}
	b := models.ScoredMemory{Memory: models.MemoryRecord{ID: "aaa", Confidence: 5, CreatedAt: now}, VectorScore: 0.5}

	ranked := r.Rank([]models.ScoredMemory{a, b})
	require.Len(t, ranked, 2)
	assert.Equal(t, "aaa", ranked[0].Memory.ID)
}
