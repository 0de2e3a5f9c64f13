// Package recall implements the hybrid-retrieval ranking formula from
// §4.6, adapted from the teacher's Recaller: same "weights struct + Rank
// method that sorts in place" shape, new combined-score computation.
package recall

import (
	"math"
	"sort"
	"time"

	"github.com/openclaw/memcore/internal/models"
)

// Weights holds the combined-score coefficients. Defaults mirror §4.6;
// callers normally build this from config.RankingConfig so the coefficients
// are configurable per the spec's Open Question on magic constants.
type Weights struct {
	AlphaVector     float64
	BetaGraph       float64
	GammaConfidence float64
	DeltaFreshness  float64
	FreshnessTauDays float64
}

// DefaultWeights returns the §4.6 defaults.
func DefaultWeights() Weights {
	return Weights{
		AlphaVector:      0.55,
		BetaGraph:        0.25,
		GammaConfidence:  0.15,
		DeltaFreshness:   0.05,
		FreshnessTauDays: 30,
	}
}

// Ranker computes combined scores and sorts ScoredMemory slices.
type Ranker struct {
	weights Weights
	clock   func() time.Time
}

// NewRanker builds a Ranker. clock defaults to time.Now when nil, but
// callers should inject a fixed clock in tests for deterministic freshness.
func NewRanker(weights Weights, clock func() time.Time) *Ranker {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Ranker{weights: weights, clock: clock}
}

func freshness(createdAt time.Time, now time.Time, tauDays float64) float64 {
	if createdAt.IsZero() {
		return 0
	}
	ageDays := now.Sub(createdAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-ageDays / tauDays)
}

// Score computes the combined score s = α·sv + β·sg + γ·confidence/10 +
// δ·freshness for one candidate.
func (r *Ranker) Score(vectorScore, graphScore float64, confidence int, createdAt time.Time) float64 {
	now := r.clock()
	f := freshness(createdAt, now, r.weights.FreshnessTauDays)
	return r.weights.AlphaVector*vectorScore +
		r.weights.BetaGraph*graphScore +
		r.weights.GammaConfidence*(float64(confidence)/10.0) +
		r.weights.DeltaFreshness*f
}

// Rank computes CombinedScore for every candidate and sorts descending,
// breaking ties by newer CreatedAt then lexicographically smaller ID for
// determinism, per §4.6.
func (r *Ranker) Rank(candidates []models.ScoredMemory) []models.ScoredMemory {
	for i := range candidates {
		c := &candidates[i]
		c.CombinedScore = r.Score(c.VectorScore, c.GraphScore, c.Memory.Confidence, c.Memory.CreatedAt)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.CombinedScore != b.CombinedScore {
			return a.CombinedScore > b.CombinedScore
		}
		if !a.Memory.CreatedAt.Equal(b.Memory.CreatedAt) {
			return a.Memory.CreatedAt.After(b.Memory.CreatedAt)
		}
		return a.Memory.ID < b.Memory.ID
	})

	return candidates
}
