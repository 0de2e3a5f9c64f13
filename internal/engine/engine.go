// Package engine is the Memory Orchestration Engine's core: the dual-write
// coordinator, hybrid retrieval pipeline, and quality/versioning/conflict
// layer described in spec §4.3-§4.8. It depends only on internal/ports
// interfaces, never on a concrete backend.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openclaw/memcore/internal/classifier"
	"github.com/openclaw/memcore/internal/ports"
	"github.com/openclaw/memcore/internal/recall"
)

// Config holds the engine's tunables that are not collaborator handles:
// lock TTLs, conflict threshold, default minimum confidence, default result
// size, cache TTL and graph hop limit. Ranking weights live on the injected
// recall.Ranker. Built from config.Config by the caller (cmd/, transport
// layers).
type Config struct {
	WriteLockTTL        time.Duration
	ResolveLockTTL       time.Duration
	ConflictSimilarity   float64
	DefaultMinConfidence int
	DefaultSearchK       int
	CacheTTL             time.Duration
	MaxHops              int
}

// DefaultConfig returns the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		WriteLockTTL:         10 * time.Second,
		ResolveLockTTL:       10 * time.Second,
		ConflictSimilarity:   0.85,
		DefaultMinConfidence: 7,
		DefaultSearchK:       5,
		CacheTTL:             300 * time.Second,
		MaxHops:              2,
	}
}

// Engine wires every port together behind the operations exposed in §6. No
// module-level state: every dependency is passed in explicitly, per the
// spec's redesign of the teacher's shared-singleton pattern into an
// explicit context object.
type Engine struct {
	Vector    ports.VectorStore
	Graph     ports.GraphStore // may be nil: degrade per §4.1
	Embedder  ports.Embedder
	Extractor ports.Extractor // may be nil: degrade per §4.1
	Cache     ports.Cache
	PubSub    ports.PubSub
	Locks     ports.LockManager
	Clock     ports.Clock

	Conflict *classifier.ConflictDetector
	Ranker   *recall.Ranker

	Compensation *CompensationQueue

	cfg    Config
	logger *slog.Logger
}

// New builds an Engine. Graph and Extractor may be nil to model
// unavailable collaborators; all other fields are required.
func New(vector ports.VectorStore, graph ports.GraphStore, embedder ports.Embedder, extractor ports.Extractor,
	cache ports.Cache, pubsub ports.PubSub, locks ports.LockManager, clock ports.Clock,
	conflict *classifier.ConflictDetector, ranker *recall.Ranker, cfg Config, logger *slog.Logger) *Engine {

	e := &Engine{
		Vector: vector, Graph: graph, Embedder: embedder, Extractor: extractor,
		Cache: cache, PubSub: pubsub, Locks: locks, Clock: clock,
		Conflict: conflict, Ranker: ranker, cfg: cfg, logger: logger,
	}
	e.Compensation = NewCompensationQueue(e, logger)
	return e
}

// Capabilities probes every injected collaborator once and returns the
// flags handlers branch on, per the spec's capability-probe redesign
// (§9): no more duck-typing or "if client supports X".
func (e *Engine) Capabilities() ports.Capabilities {
	return ports.Capabilities{
		VectorAvailable: e.Vector != nil,
		GraphAvailable:  e.Graph != nil,
		CacheAvailable:  e.Cache != nil,
		PubSubAvailable: e.PubSub != nil,
		LockClustered:   e.Locks != nil,
	}
}

func (e *Engine) now() time.Time {
	if e.Clock != nil {
		return e.Clock.Now()
	}
	return time.Now().UTC()
}

func (e *Engine) publish(ctx context.Context, topic, id, scopeHash string, extra map[string]string) {
	if e.PubSub == nil {
		return
	}
	if err := e.PubSub.Publish(ctx, topic, ports.Event{
		Topic: topic, ID: id, ScopeHash: scopeHash, Timestamp: e.now(), ExtraFields: extra,
	}); err != nil {
		e.logger.Warn("publishing event failed", "topic", topic, "id", id, "error", err)
	}
}

func newTaskID() string { return uuid.New().String() }
