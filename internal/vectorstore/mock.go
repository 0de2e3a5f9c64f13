package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/openclaw/memcore/internal/models"
	"github.com/openclaw/memcore/internal/ports"
)

type stored struct {
	record models.MemoryRecord
	vector []float32
}

// MockStore is an in-memory ports.VectorStore fake, grounded on the
// teacher's store.MockStore: deep-copies on write/read so callers can't
// mutate stored state through returned pointers/slices.
type MockStore struct {
	mu      sync.RWMutex
	records map[string]stored
}

// NewMockStore returns an empty MockStore.
func NewMockStore() *MockStore {
	return &MockStore{records: make(map[string]stored)}
}

func cloneRecord(r models.MemoryRecord) models.MemoryRecord {
	out := r
	out.Tags = append([]string(nil), r.Tags...)
	out.Entities = append([]string(nil), r.Entities...)
	out.Relations = append([]models.Relation(nil), r.Relations...)
	out.ConflictWith = append([]string(nil), r.ConflictWith...)
	if r.ExtraMetadata != nil {
		out.ExtraMetadata = make(map[string]string, len(r.ExtraMetadata))
		for k, v := range r.ExtraMetadata {
			out.ExtraMetadata[k] = v
		}
	}
	return out
}

func (m *MockStore) Upsert(ctx context.Context, scope models.Scope, record models.MemoryRecord, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.ID] = stored{record: cloneRecord(record), vector: append([]float32(nil), vector...)}
	return nil
}

func (m *MockStore) Delete(ctx context.Context, scope models.Scope, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *MockStore) Get(ctx context.Context, scope models.Scope, id string) (models.MemoryRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.records[id]
	if !ok || s.record.Scope.Canonical() != scope.Canonical() {
		return models.MemoryRecord{}, false, nil
	}
	return cloneRecord(s.record), true, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func matchesFilter(r models.MemoryRecord, f ports.VectorSearchFilter) bool {
	if len(f.Status) > 0 {
		found := false
		for _, s := range f.Status {
			if r.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Category != "" && r.Category != f.Category {
		return false
	}
	if f.MinConfidence > 0 && r.Confidence < f.MinConfidence {
		return false
	}
	if f.Tag != "" {
		found := false
		for _, t := range r.Tags {
			if t == f.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (m *MockStore) Search(ctx context.Context, scope models.Scope, vector []float32, k int, filter ports.VectorSearchFilter) ([]ports.VectorHit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type scored struct {
		id    string
		score float64
	}
	var candidates []scored
	for _, s := range m.records {
		if s.record.Scope.Canonical() != scope.Canonical() {
			continue
		}
		if !matchesFilter(s.record, filter) {
			continue
		}
		candidates = append(candidates, scored{id: s.record.ID, score: cosineSimilarity(vector, s.vector)})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}

	hits := make([]ports.VectorHit, len(candidates))
	for i, c := range candidates {
		hits[i] = ports.VectorHit{ID: c.id, Score: c.score}
	}
	return hits, nil
}

func (m *MockStore) List(ctx context.Context, scope models.Scope, cursor string, limit int) ([]models.MemoryRecord, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, s := range m.records {
		if s.record.Scope.Canonical() == scope.Canonical() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	start := 0
	if cursor != "" {
		found := false
		for i, id := range ids {
			if id == cursor {
				start = i + 1
				found = true
				break
			}
		}
		if !found {
			return nil, "", nil
		}
	}

	end := start + limit
	if limit <= 0 || end > len(ids) {
		end = len(ids)
	}

	page := ids[start:end]
	out := make([]models.MemoryRecord, len(page))
	for i, id := range page {
		out[i] = cloneRecord(m.records[id].record)
	}

	var next string
	if end < len(ids) {
		next = ids[end-1]
	}
	return out, next, nil
}

func (m *MockStore) UpdateAccessMetadata(ctx context.Context, scope models.Scope, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.records[id]
	if !ok {
		return nil
	}
	s.record.AccessCount++
	m.records[id] = s
	return nil
}

func (m *MockStore) UpdateStatus(ctx context.Context, scope models.Scope, id string, status models.Status, supersededBy string, newVersion int, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.records[id]
	if !ok {
		return nil
	}
	s.record.Status = status
	if supersededBy != "" {
		s.record.SupersededBy = supersededBy
	}
	if newVersion != 0 {
		s.record.Version = newVersion
	}
	s.record.UpdatedAt = updatedAt
	m.records[id] = s
	return nil
}

func (m *MockStore) Close() error { return nil }

var _ ports.VectorStore = (*MockStore)(nil)
