package engine_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/memcore/internal/cachelock"
	"github.com/openclaw/memcore/internal/classifier"
	"github.com/openclaw/memcore/internal/engine"
	"github.com/openclaw/memcore/internal/graphstore"
	"github.com/openclaw/memcore/internal/metrics"
	"github.com/openclaw/memcore/internal/models"
	"github.com/openclaw/memcore/internal/ports"
	"github.com/openclaw/memcore/internal/recall"
	"github.com/openclaw/memcore/internal/vectorstore"
)

// fakeEmbedder returns a deterministic bag-of-characters vector (see
// textVector) so near-identical strings produce similar vectors, without
// pulling in a real model.
type fakeEmbedder struct{ fail bool }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, assertErr
	}
	return textVector(text), nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = textVector(t)
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return 8 }

var assertErr = context.DeadlineExceeded

// textVector is a bag-of-characters embedding: each rune contributes to a
// bucket chosen by its own value, not its position, so inserting or
// removing a word shifts only the buckets for that word's characters and
// leaves the rest of the vector identical. That keeps near-duplicate
// sentences (e.g. the same sentence with one word negated) at high cosine
// similarity, mirroring what a real sentence embedder would produce.
func textVector(text string) []float32 {
	v := make([]float32, 8)
	for _, r := range strings.ToLower(text) {
		v[int(r)%8] += 1
	}
	return v
}

type fakeExtractor struct{}

func (fakeExtractor) Extract(ctx context.Context, text string) ([]string, []models.Relation, error) {
	return []string{"alice"}, []models.Relation{{Src: "alice", Type: "leads", Dst: "gamma"}}, nil
}

func newTestEngine(t *testing.T) (*engine.Engine, *vectorstore.MockStore) {
	t.Helper()
	vec := vectorstore.NewMockStore()
	graph := graphstore.NewMockStore()
	cache := cachelock.NewLocalCache()
	pubsub := cachelock.NewLocalPubSub()
	locks := cachelock.NewLocalLockManager()
	tokenizer := classifier.NewDefaultTokenizer(map[string][]string{"en": {"not", "no", "never"}})
	conflict := classifier.NewConflictDetector(tokenizer, [][2]string{{"postgres", "mongodb"}})
	ranker := recall.NewRanker(recall.DefaultWeights(), nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	e := engine.New(vec, graph, &fakeEmbedder{}, fakeExtractor{}, cache, pubsub, locks, ports.RealClock{}, conflict, ranker, engine.DefaultConfig(), logger)
	return e, vec
}

func testScope() models.Scope {
	return models.Scope{Tenant: "acme", User: "bob"}
}

func TestSave_IdempotentOnIdenticalContent(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	in := engine.SaveInput{Scope: testScope(), Content: "The service uses PostgreSQL.", Category: models.CategoryDecision}

	first, err := e.Save(ctx, in)
	require.NoError(t, err)
	assert.True(t, first.Created)

	second, err := e.Save(ctx, in)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.ID, second.ID)
}

func TestSave_RejectsInvalidScope(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Save(context.Background(), engine.SaveInput{Content: "x", Category: models.CategoryGeneric})
	assert.Error(t, err)
}

func TestSave_GraphOutageDegradesAndEnqueuesCompensation(t *testing.T) {
	vec := vectorstore.NewMockStore()
	cache := cachelock.NewLocalCache()
	pubsub := cachelock.NewLocalPubSub()
	locks := cachelock.NewLocalLockManager()
	tokenizer := classifier.NewDefaultTokenizer(map[string][]string{"en": {"not"}})
	conflict := classifier.NewConflictDetector(tokenizer, nil)
	ranker := recall.NewRanker(recall.DefaultWeights(), nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	e := engine.New(vec, nil, &fakeEmbedder{}, fakeExtractor{}, cache, pubsub, locks, ports.RealClock{}, conflict, ranker, engine.DefaultConfig(), logger)

	jobsBefore := metrics.CompensationJobs.Value()
	result, err := e.Save(context.Background(), engine.SaveInput{
		Scope: testScope(), Content: "User Alice leads team Gamma.", Category: models.CategoryGeneric, Confidence: 7,
	})
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.Equal(t, jobsBefore+1, metrics.CompensationJobs.Value(), "a degraded save must enqueue one compensation task")

	rec, ok, err := vec.Get(context.Background(), testScope(), result.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.StatusActive, rec.Status)
}

func TestSave_DetectsConflictOnNegation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	scope := testScope()

	_, err := e.Save(ctx, engine.SaveInput{Scope: scope, Content: "The build pipeline is stable.", Category: models.CategoryStatus, Confidence: 8})
	require.NoError(t, err)

	result, err := e.Save(ctx, engine.SaveInput{Scope: scope, Content: "The build pipeline is not stable.", Category: models.CategoryStatus, Confidence: 8})
	require.NoError(t, err)
	assert.Equal(t, models.StatusConflicted, result.Status)
}

func TestSave_DetectsConflictOnBareValueSubstitution(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	scope := testScope()

	_, err := e.Save(ctx, engine.SaveInput{Scope: scope, Content: "The service uses PostgreSQL", Category: models.CategoryArchitecture, Confidence: 8})
	require.NoError(t, err)

	result, err := e.Save(ctx, engine.SaveInput{Scope: scope, Content: "The service uses MongoDB", Category: models.CategoryArchitecture, Confidence: 8})
	require.NoError(t, err)
	assert.Equal(t, models.StatusConflicted, result.Status, "a bare prose database swap with no tags or negation must still be flagged conflicted")
}

func TestResolveConflict_DeprecatesOriginalsAndCreatesConsolidated(t *testing.T) {
	e, vec := newTestEngine(t)
	ctx := context.Background()
	scope := testScope()

	a, err := e.Save(ctx, engine.SaveInput{Scope: scope, Content: "The service uses PostgreSQL as primary.", Category: models.CategoryDecision})
	require.NoError(t, err)
	b, err := e.Save(ctx, engine.SaveInput{Scope: scope, Content: "The service uses MongoDB for logs only.", Category: models.CategoryDecision})
	require.NoError(t, err)

	consolidated, err := e.ResolveConflict(ctx, scope, []string{a.ID, b.ID}, "The service uses PostgreSQL as primary and MongoDB for logs.", "arch review")
	require.NoError(t, err)
	assert.Equal(t, 10, consolidated.Confidence)
	assert.Equal(t, models.StatusActive, consolidated.Status)

	origA, ok, err := vec.Get(ctx, scope, a.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.StatusDeprecated, origA.Status)
	assert.Equal(t, consolidated.ID, origA.SupersededBy)
}

func TestSearch_QualityFilterExcludesLowConfidence(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	scope := testScope()

	_, err := e.Save(ctx, engine.SaveInput{Scope: scope, Content: "Low confidence note about caching.", Category: models.CategoryGeneric, Confidence: 2})
	require.NoError(t, err)
	_, err = e.Save(ctx, engine.SaveInput{Scope: scope, Content: "High confidence note about caching strategy.", Category: models.CategoryGeneric, Confidence: 9})
	require.NoError(t, err)

	results, err := e.Search(ctx, engine.SearchInput{Scope: scope, Query: "caching", K: 10, MinConfidence: 7})
	require.NoError(t, err)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Memory.Confidence, 7)
	}
}

func TestGetContext_DefaultsToActiveAndMinConfidenceSeven(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	scope := testScope()

	_, err := e.Save(ctx, engine.SaveInput{Scope: scope, Content: "Architecture uses event sourcing.", Category: models.CategoryArchitecture, Confidence: 8})
	require.NoError(t, err)

	results, err := e.GetContext(ctx, engine.ContextInput{Scope: scope, Query: "architecture"})
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, models.StatusActive, r.Memory.Status)
		assert.GreaterOrEqual(t, r.Memory.Confidence, 7)
	}
}
