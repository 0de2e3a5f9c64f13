package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/openclaw/memcore/internal/errs"
	"github.com/openclaw/memcore/internal/fingerprint"
	"github.com/openclaw/memcore/internal/metrics"
	"github.com/openclaw/memcore/internal/models"
	"github.com/openclaw/memcore/internal/ports"
)

// Search runs the hybrid retrieval pipeline in §4.6: cache check, parallel
// vector+graph fanout, rehydrate+dedup, quality filter, rank, truncate.
func (e *Engine) Search(ctx context.Context, in SearchInput) ([]models.ScoredMemory, error) {
	defer metrics.Timer(metrics.ReadLatency, "search")()
	metrics.Inc(metrics.SearchTotal)

	if !in.Scope.Valid() {
		err := errs.New(errs.InvalidInput, "search", fmt.Errorf("scope requires tenant and user"))
		metrics.ObserveError("search", errs.KindOf(err).String())
		return nil, err
	}
	if in.K <= 0 {
		in.K = e.cfg.DefaultSearchK
	}
	if len(in.IncludeStatus) == 0 {
		in.IncludeStatus = []models.Status{models.StatusActive}
	}

	cacheKey := fingerprint.SearchCacheKey(in.Scope, searchCacheFilter(in))
	if cached, ok := e.readCache(ctx, cacheKey); ok {
		return cached, nil
	}

	results, err := e.runHybridPipeline(ctx, in)
	if err != nil {
		metrics.ObserveError("search", errs.KindOf(err).String())
		return nil, err
	}

	e.writeCache(ctx, cacheKey, results)
	return results, nil
}

// GetContext is Search's preset per §4.6: active-only, conflict-excluded,
// min_confidence defaults to 7, k defaults to 5.
func (e *Engine) GetContext(ctx context.Context, in ContextInput) ([]models.ScoredMemory, error) {
	defer metrics.Timer(metrics.ReadLatency, "get_context")()
	metrics.Inc(metrics.RecallTotal)

	minConfidence := in.MinConfidence
	if minConfidence == 0 {
		minConfidence = e.cfg.DefaultMinConfidence
	}
	k := in.K
	if k == 0 {
		k = e.cfg.DefaultSearchK
	}

	cacheKey := fingerprint.ContextCacheKey(in.Scope, in.Query)
	if cached, ok := e.readCache(ctx, cacheKey); ok {
		return cached, nil
	}

	results, err := e.runHybridPipeline(ctx, SearchInput{
		Scope:             in.Scope,
		Query:             in.Query,
		K:                 k,
		IncludeStatus:     []models.Status{models.StatusActive},
		MinConfidence:     minConfidence,
		IncludeConflicted: false,
	})
	if err != nil {
		return nil, err
	}

	e.writeCache(ctx, cacheKey, results)
	return results, nil
}

func (e *Engine) readCache(ctx context.Context, key string) ([]models.ScoredMemory, bool) {
	if e.Cache == nil {
		return nil, false
	}
	raw, ok, err := e.Cache.Get(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	var results []models.ScoredMemory
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, false
	}
	return results, true
}

func (e *Engine) writeCache(ctx context.Context, key string, results []models.ScoredMemory) {
	if e.Cache == nil {
		return
	}
	raw, err := json.Marshal(results)
	if err != nil {
		e.logger.Warn("marshaling search cache entry failed", "error", err)
		return
	}
	if err := e.Cache.Set(ctx, key, raw, e.cfg.CacheTTL); err != nil {
		e.logger.Warn("writing search cache entry failed", "key", key, "error", err)
	}
}

func searchCacheFilter(in SearchInput) string {
	statuses := make([]string, len(in.IncludeStatus))
	for i, s := range in.IncludeStatus {
		statuses[i] = string(s)
	}
	sort.Strings(statuses)
	var b strings.Builder
	b.WriteString(in.Query)
	b.WriteByte('|')
	b.WriteString(strings.Join(statuses, ","))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(in.MinConfidence))
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(in.K))
	if in.IncludeConflicted {
		b.WriteString("|conflicted")
	}
	return b.String()
}

// runHybridPipeline does the cache-independent work: fanout, rehydrate,
// filter, rank, truncate.
func (e *Engine) runHybridPipeline(ctx context.Context, in SearchInput) ([]models.ScoredMemory, error) {
	vector, err := e.Embedder.Embed(ctx, in.Query)
	if err != nil {
		return nil, errs.New(errs.EmbedderUnavailable, "search", err)
	}

	kVec := 2 * in.K
	kGraph := 2 * in.K

	var vectorHits []ports.VectorHit
	var graphHits []ports.VectorHit

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := e.Vector.Search(gctx, in.Scope, vector, kVec, ports.VectorSearchFilter{})
		if err != nil {
			return err
		}
		vectorHits = hits
		return nil
	})
	g.Go(func() error {
		hits, err := e.searchGraph(gctx, in.Scope, in.Query, kGraph)
		if err != nil {
			e.logger.Warn("graph search leg failed, continuing with vector-only results", "error", err)
			return nil
		}
		graphHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, errs.New(errs.VectorStoreUnavailable, "search", err)
	}

	candidates := e.rehydrate(ctx, in.Scope, vectorHits, graphHits)
	filtered := e.qualityFilter(candidates, in)
	ranked := e.Ranker.Rank(filtered)

	if len(ranked) > in.K {
		ranked = ranked[:in.K]
	}
	return ranked, nil
}

// searchGraph extracts query terms via the Extractor (degrading to a naive
// word split when unavailable), walks each entity's neighborhood, and
// layers in GraphStore's own textual search, per §4.6 step 2.
func (e *Engine) searchGraph(ctx context.Context, scope models.Scope, query string, kGraph int) ([]ports.VectorHit, error) {
	if e.Graph == nil {
		return nil, nil
	}

	terms := e.queryTerms(ctx, query)

	seen := make(map[string]float64)
	for _, term := range terms {
		ids, err := e.Graph.Neighborhood(ctx, scope, term, e.cfg.MaxHops)
		if err != nil {
			continue
		}
		for _, id := range ids {
			if _, ok := seen[id]; !ok {
				seen[id] = 1.0
			}
		}
	}

	textHits, err := e.Graph.Search(ctx, scope, terms, kGraph, ports.VectorSearchFilter{})
	if err == nil {
		for _, hit := range textHits {
			if existing, ok := seen[hit.ID]; !ok || hit.Score > existing {
				seen[hit.ID] = hit.Score
			}
		}
	}

	hits := make([]ports.VectorHit, 0, len(seen))
	for id, score := range seen {
		hits = append(hits, ports.VectorHit{ID: id, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > kGraph {
		hits = hits[:kGraph]
	}
	return hits, nil
}

// queryTerms extracts entity-like terms from the query text. It reuses the
// Extractor when available; otherwise it falls back to a simple token
// split, since a missing extractor must degrade rather than abort the
// graph leg of retrieval.
func (e *Engine) queryTerms(ctx context.Context, query string) []string {
	if e.Extractor != nil {
		entities, _, err := e.Extractor.Extract(ctx, query)
		if err == nil && len(entities) > 0 {
			return entities
		}
	}
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) > 2 {
			terms = append(terms, f)
		}
	}
	return terms
}

// rehydrate fetches full records for every candidate ID from the vector
// store (the payload of record), deduplicating and merging vector/graph
// scores for IDs that appear in both legs.
func (e *Engine) rehydrate(ctx context.Context, scope models.Scope, vectorHits, graphHits []ports.VectorHit) []models.ScoredMemory {
	type scorePair struct {
		vector float64
		graph  float64
	}
	scores := make(map[string]*scorePair)

	for _, hit := range vectorHits {
		sp, ok := scores[hit.ID]
		if !ok {
			sp = &scorePair{}
			scores[hit.ID] = sp
		}
		sp.vector = hit.Score
	}
	for _, hit := range graphHits {
		sp, ok := scores[hit.ID]
		if !ok {
			sp = &scorePair{}
			scores[hit.ID] = sp
		}
		sp.graph = hit.Score
	}

	results := make([]models.ScoredMemory, 0, len(scores))
	for id, sp := range scores {
		rec, ok, err := e.Vector.Get(ctx, scope, id)
		if err != nil || !ok {
			continue
		}
		results = append(results, models.ScoredMemory{
			Memory:      rec,
			VectorScore: sp.vector,
			GraphScore:  sp.graph,
		})
	}
	return results
}

// qualityFilter drops deprecated/expired records unless explicitly
// requested, confidence below the floor, and conflicted records unless
// opted in, per §4.6 step 4.
func (e *Engine) qualityFilter(candidates []models.ScoredMemory, in SearchInput) []models.ScoredMemory {
	now := e.now()
	includeStatus := make(map[models.Status]bool, len(in.IncludeStatus))
	for _, s := range in.IncludeStatus {
		includeStatus[s] = true
	}

	out := make([]models.ScoredMemory, 0, len(candidates))
	for _, c := range candidates {
		status := c.Memory.Status
		if c.Memory.IsExpired(now) {
			status = models.StatusExpired
		}

		if (status == models.StatusDeprecated || status == models.StatusExpired) && !includeStatus[status] {
			continue
		}
		if status == models.StatusConflicted && !in.IncludeConflicted && !includeStatus[status] {
			continue
		}
		if in.MinConfidence > 0 && c.Memory.Confidence < in.MinConfidence {
			continue
		}
		out = append(out, c)
	}
	return out
}

