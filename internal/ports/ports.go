// Package ports declares the external collaborator contracts the engine
// depends on and nothing else: embedder, extractor, vector store, graph
// store, cache, pub-sub, lock manager and clock. No logic lives here.
// Concrete implementations live in internal/embedder, internal/extractor,
// internal/vectorstore, internal/graphstore and internal/cachelock.
package ports

import (
	"context"
	"time"

	"github.com/openclaw/memcore/internal/models"
)

// Embedder produces a fixed-dimension vector from text. Deterministic for a
// given provider/model; the engine does not interpret the vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Extractor produces entity/relation triples from text. Errors are
// non-fatal: the engine logs and proceeds with an empty graph payload.
type Extractor interface {
	Extract(ctx context.Context, text string) (entities []string, relations []models.Relation, err error)
}

// VectorSearchFilter narrows VectorStore.Search and GraphStore.Search
// results.
type VectorSearchFilter struct {
	Status        []models.Status
	MinConfidence int
	Category      models.Category
	Tag           string
}

// VectorHit is one scored candidate from a vector or graph search.
type VectorHit struct {
	ID    string
	Score float64
}

// VectorStore is the vector-index port. Scores are in [0, 1], higher is
// closer.
type VectorStore interface {
	Upsert(ctx context.Context, scope models.Scope, record models.MemoryRecord, vector []float32) error
	Delete(ctx context.Context, scope models.Scope, id string) error
	Get(ctx context.Context, scope models.Scope, id string) (models.MemoryRecord, bool, error)
	Search(ctx context.Context, scope models.Scope, vector []float32, k int, filter VectorSearchFilter) ([]VectorHit, error)
	List(ctx context.Context, scope models.Scope, cursor string, limit int) ([]models.MemoryRecord, string, error)
	UpdateAccessMetadata(ctx context.Context, scope models.Scope, id string) error
	// UpdateStatus sets status (and supersededBy, when non-empty) without
	// touching the stored vector, for lifecycle/conflict transitions that
	// never change content. newVersion bumps the stored version when
	// non-zero (supersession per §3/§4.5); zero leaves version unchanged
	// (a plain expiry has nothing to supersede).
	UpdateStatus(ctx context.Context, scope models.Scope, id string, status models.Status, supersededBy string, newVersion int, updatedAt time.Time) error
	Close() error
}

// GraphStore is the knowledge-graph port.
type GraphStore interface {
	MergeEntity(ctx context.Context, scope models.Scope, name string) error
	MergeRelation(ctx context.Context, scope models.Scope, rel models.Relation, recordID string) error
	DetachRecord(ctx context.Context, scope models.Scope, id string) error
	Search(ctx context.Context, scope models.Scope, queryTerms []string, k int, filter VectorSearchFilter) ([]VectorHit, error)
	Neighborhood(ctx context.Context, scope models.Scope, entity string, maxHops int) ([]string, error)
	EntityRelationships(ctx context.Context, scope models.Scope, entity string) (directMentions int, relatedEntities []string, relationshipTypes []string, err error)
	Close() error
}

// Cache is the query-result cache port. Values are opaque byte blobs.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	InvalidatePrefix(ctx context.Context, prefix string) error
}

// Event is the payload published on a PubSub topic.
type Event struct {
	Topic      string            `json:"topic"`
	ID         string            `json:"id"`
	ScopeHash  string            `json:"scope_hash"`
	Timestamp  time.Time         `json:"timestamp"`
	ExtraFields map[string]string `json:"extra_fields,omitempty"`
}

// Pub-sub topic names, per §4.1.
const (
	TopicMemoryCreated            = "memory.created"
	TopicMemoryDeprecated         = "memory.deprecated"
	TopicMemoryConflicted         = "memory.conflicted"
	TopicMemoryExpired            = "memory.expired"
	TopicCacheInvalidated         = "cache.invalidated"
	TopicCompensationFailed       = "memory.compensation_failed"
)

// PubSub publishes change events.
type PubSub interface {
	Publish(ctx context.Context, topic string, event Event) error
}

// LockManager provides per-key mutual exclusion across process boundaries.
// Locks are re-entrant per holder, expire on TTL, and guarantee
// at-most-one holder.
type LockManager interface {
	TryAcquire(ctx context.Context, key, holderID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, holderID string) error
	// WithLock is a convenience that acquires key, runs fn, and always
	// releases — even when fn panics or returns an error.
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// Clock is injected so tests can control "now" deterministically.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock backed by time.Now.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// Capabilities is the result of probing a collaborator at startup, per the
// capability-probe redesign: handlers branch on flags, not on runtime type
// or duck typing.
type Capabilities struct {
	VectorAvailable bool
	GraphAvailable  bool
	CacheAvailable  bool
	PubSubAvailable bool
	LockClustered   bool
}
