package graphstore

import (
	"context"
	"sort"
	"sync"

	"github.com/openclaw/memcore/internal/models"
	"github.com/openclaw/memcore/internal/ports"
)

type edge struct {
	scopeKey string
	rel      models.Relation
	recordID string
}

// MockStore is an in-memory ports.GraphStore fake used by engine tests.
type MockStore struct {
	mu       sync.RWMutex
	entities map[string]map[string]bool // scopeKey -> entity name set
	edges    []edge
}

func NewMockStore() *MockStore {
	return &MockStore{entities: make(map[string]map[string]bool)}
}

func (m *MockStore) MergeEntity(ctx context.Context, scope models.Scope, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := scope.Canonical()
	if m.entities[key] == nil {
		m.entities[key] = make(map[string]bool)
	}
	m.entities[key][name] = true
	return nil
}

func (m *MockStore) MergeRelation(ctx context.Context, scope models.Scope, rel models.Relation, recordID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := scope.Canonical()
	if m.entities[key] == nil {
		m.entities[key] = make(map[string]bool)
	}
	m.entities[key][rel.Src] = true
	m.entities[key][rel.Dst] = true
	m.edges = append(m.edges, edge{scopeKey: key, rel: rel, recordID: recordID})
	return nil
}

func (m *MockStore) DetachRecord(ctx context.Context, scope models.Scope, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := scope.Canonical()
	kept := m.edges[:0]
	for _, e := range m.edges {
		if e.scopeKey == key && e.recordID == id {
			continue
		}
		kept = append(kept, e)
	}
	m.edges = kept
	return nil
}

func (m *MockStore) Search(ctx context.Context, scope models.Scope, queryTerms []string, k int, filter ports.VectorSearchFilter) ([]ports.VectorHit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := scope.Canonical()
	terms := make(map[string]bool, len(queryTerms))
	for _, t := range queryTerms {
		terms[t] = true
	}

	counts := make(map[string]int)
	for _, e := range m.edges {
		if e.scopeKey != key {
			continue
		}
		if terms[e.rel.Src] || terms[e.rel.Dst] {
			counts[e.recordID]++
		}
	}

	var ids []string
	maxCount := 1
	for id, c := range counts {
		ids = append(ids, id)
		if c > maxCount {
			maxCount = c
		}
	}
	sort.Slice(ids, func(i, j int) bool { return counts[ids[i]] > counts[ids[j]] })
	if k > 0 && len(ids) > k {
		ids = ids[:k]
	}

	hits := make([]ports.VectorHit, len(ids))
	for i, id := range ids {
		hits[i] = ports.VectorHit{ID: id, Score: float64(counts[id]) / float64(maxCount)}
	}
	return hits, nil
}

func (m *MockStore) Neighborhood(ctx context.Context, scope models.Scope, entity string, maxHops int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := scope.Canonical()

	frontier := map[string]bool{entity: true}
	seen := map[string]bool{}
	var recordIDs []string

	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		next := map[string]bool{}
		for _, e := range m.edges {
			if e.scopeKey != key {
				continue
			}
			if frontier[e.rel.Src] || frontier[e.rel.Dst] {
				if !seen[e.recordID] {
					recordIDs = append(recordIDs, e.recordID)
					seen[e.recordID] = true
				}
				next[e.rel.Src] = true
				next[e.rel.Dst] = true
			}
		}
		frontier = next
	}
	return recordIDs, nil
}

func (m *MockStore) EntityRelationships(ctx context.Context, scope models.Scope, entity string) (int, []string, []string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := scope.Canonical()

	mentions := 0
	relatedSet := map[string]bool{}
	typeSet := map[string]bool{}
	for _, e := range m.edges {
		if e.scopeKey != key {
			continue
		}
		if e.rel.Src == entity {
			mentions++
			relatedSet[e.rel.Dst] = true
			typeSet[e.rel.Type] = true
		} else if e.rel.Dst == entity {
			mentions++
			relatedSet[e.rel.Src] = true
			typeSet[e.rel.Type] = true
		}
	}

	var related, types []string
	for r := range relatedSet {
		related = append(related, r)
	}
	for t := range typeSet {
		types = append(types, t)
	}
	sort.Strings(related)
	sort.Strings(types)
	return mentions, related, types, nil
}

func (m *MockStore) Close() error { return nil }

var _ ports.GraphStore = (*MockStore)(nil)
