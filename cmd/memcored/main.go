// Command memcored is the memory orchestration engine's CLI and server
// entrypoint: one subcommand per §6 operation, plus serve/mcp/sweep for
// long-running transports and maintenance.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/openclaw/memcore/internal/cachelock"
	"github.com/openclaw/memcore/internal/classifier"
	"github.com/openclaw/memcore/internal/config"
	"github.com/openclaw/memcore/internal/embedder"
	"github.com/openclaw/memcore/internal/engine"
	"github.com/openclaw/memcore/internal/extractor"
	"github.com/openclaw/memcore/internal/graphstore"
	"github.com/openclaw/memcore/internal/ports"
	"github.com/openclaw/memcore/internal/recall"
	"github.com/openclaw/memcore/internal/vectorstore"
)

var cfg *config.Config

func main() {
	rootCmd := &cobra.Command{
		Use:   "memcored",
		Short: "memcore — the Memory Orchestration Engine",
		Long:  "memcore coordinates dual writes across a vector store and knowledge graph, hybrid retrieval, quality/versioning, and conflict resolution for AI agent memory.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return nil
		},
	}

	rootCmd.AddCommand(
		saveCmd(),
		saveVerifiedCmd(),
		saveMilestoneCmd(),
		searchCmd(),
		contextCmd(),
		resolveCmd(),
		getCmd(),
		getAllCmd(),
		capabilitiesCmd(),
		auditCmd(),
		projectCmd(),
		evolutionCmd(),
		sweepCmd(),
		serveCmd(),
		mcpCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if cfg != nil && cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func newEmbedder(logger *slog.Logger) ports.Embedder {
	return embedder.NewOllamaEmbedder(cfg.Ollama.BaseURL, cfg.Ollama.Model, int(cfg.Memory.VectorDimension), logger)
}

func newExtractor(logger *slog.Logger) ports.Extractor {
	if cfg.Claude.APIKey == "" {
		logger.Warn("claude.api_key not set, running without entity/relation extraction")
		return nil
	}
	return extractor.NewClaudeExtractor(cfg.Claude.APIKey, cfg.Claude.Model, logger)
}

func newVectorStore(logger *slog.Logger) (ports.VectorStore, error) {
	return vectorstore.NewQdrantStore(cfg.Qdrant.Host, cfg.Qdrant.GRPCPort, cfg.Qdrant.Collection, cfg.Memory.VectorDimension, cfg.Qdrant.UseTLS, logger)
}

func newGraphStore(ctx context.Context, logger *slog.Logger) ports.GraphStore {
	store, err := graphstore.NewNeo4jStore(ctx, cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database, logger)
	if err != nil {
		logger.Warn("connecting to graph store failed, degrading to vector-only operation", "error", err)
		return nil
	}
	return store
}

func newRedisClient() *redis.Client {
	return redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
}

// newCacheLock wires Redis-backed Cache/PubSub/LockManager, or in-process
// fallbacks for a single-node deployment, per §4.1's degrade rules.
func newCacheLock(logger *slog.Logger) (ports.Cache, ports.PubSub, ports.LockManager) {
	if cfg.Redis.Addr == "" {
		logger.Info("redis.addr not set, using in-process cache/pubsub/lock")
		return cachelock.NewLocalCache(), cachelock.NewLocalPubSub(), cachelock.NewLocalLockManager()
	}
	client := newRedisClient()
	return cachelock.NewRedisCache(client), cachelock.NewRedisPubSub(client), cachelock.NewRedisLockManager(client)
}

func newConflictDetector() *classifier.ConflictDetector {
	tokenizer := classifier.NewDefaultTokenizer(cfg.Conflict.NegationTokens)
	return classifier.NewConflictDetector(tokenizer, cfg.Conflict.ExclusiveTagPairs)
}

func newRanker() *recall.Ranker {
	weights := recall.Weights{
		AlphaVector:      cfg.Ranking.AlphaVector,
		BetaGraph:        cfg.Ranking.BetaGraph,
		GammaConfidence:  cfg.Ranking.GammaConfidence,
		DeltaFreshness:   cfg.Ranking.DeltaFreshness,
		FreshnessTauDays: cfg.Ranking.FreshnessTauDays,
	}
	return recall.NewRanker(weights, nil)
}

func newEngineConfig() engine.Config {
	c := engine.DefaultConfig()
	c.ConflictSimilarity = cfg.Conflict.SimilarityThreshold
	c.DefaultMinConfidence = cfg.Ranking.DefaultMinConfidence
	c.CacheTTL = time.Duration(cfg.Ranking.CacheTTLSeconds) * time.Second
	c.WriteLockTTL = time.Duration(cfg.Memory.WriteLockTTLSeconds) * time.Second
	return c
}
