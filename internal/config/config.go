// Package config loads memcore's layered configuration: built-in defaults,
// an optional YAML file, and environment-variable overrides, following the
// teacher's viper-based pattern.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// QdrantConfig configures the vector store backend.
type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	GRPCPort   int    `mapstructure:"grpc_port"`
	Collection string `mapstructure:"collection"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

// Neo4jConfig configures the graph store backend.
type Neo4jConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

func (c Neo4jConfig) String() string {
	return fmt.Sprintf("Neo4jConfig{URI: %s, Username: %s, Password: %s, Database: %s}",
		c.URI, c.Username, maskSecret(c.Password), c.Database)
}

// RedisConfig configures the cache/pub-sub/lock substrate.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// Clustered marks a multi-process deployment. It is loaded and shown
	// by String, but no component reads it: an empty Addr selects the
	// in-process cache/pubsub/lock whether or not Clustered is set, and an
	// unreachable Redis does not cause a fallback in either case.
	Clustered bool `mapstructure:"clustered"`
}

func (c RedisConfig) String() string {
	return fmt.Sprintf("RedisConfig{Addr: %s, Password: %s, DB: %d, Clustered: %t}",
		c.Addr, maskSecret(c.Password), c.DB, c.Clustered)
}

// OllamaConfig configures the embedding provider.
type OllamaConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// ClaudeConfig configures the extractor's LLM provider.
type ClaudeConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

func (c ClaudeConfig) String() string {
	return fmt.Sprintf("ClaudeConfig{APIKey: %s, Model: %s}", maskSecret(c.APIKey), c.Model)
}

func maskSecret(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// RankingConfig holds the hybrid-retrieval combined-score weights from
// §4.6, explicitly configurable per the spec's Open Question on magic
// coefficients.
type RankingConfig struct {
	AlphaVector     float64 `mapstructure:"alpha_vector"`
	BetaGraph       float64 `mapstructure:"beta_graph"`
	GammaConfidence float64 `mapstructure:"gamma_confidence"`
	DeltaFreshness  float64 `mapstructure:"delta_freshness"`
	FreshnessTauDays float64 `mapstructure:"freshness_tau_days"`
	DefaultMinConfidence int `mapstructure:"default_min_confidence"`
	CacheTTLSeconds int     `mapstructure:"cache_ttl_seconds"`
}

// ConflictConfig holds the conflict-detection similarity threshold and the
// pluggable per-language-family negation token lists.
type ConflictConfig struct {
	SimilarityThreshold float64             `mapstructure:"similarity_threshold"`
	NegationTokens      map[string][]string `mapstructure:"negation_tokens"`
	ExclusiveTagPairs   [][2]string         `mapstructure:"-"`
}

// MemoryConfig holds engine-wide tunables.
type MemoryConfig struct {
	VectorDimension    uint64 `mapstructure:"vector_dimension"`
	DedupThreshold     float32 `mapstructure:"dedup_threshold"`
	SweepIntervalSeconds int   `mapstructure:"sweep_interval_seconds"`
	WriteLockTTLSeconds  int   `mapstructure:"write_lock_ttl_seconds"`
	WriteBudgetSeconds   int   `mapstructure:"write_budget_seconds"`
}

// LoggingConfig controls the injected slog handler.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// APIConfig configures the HTTP JSON transport.
type APIConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	AuthToken  string `mapstructure:"auth_token"`
}

func (c APIConfig) String() string {
	return fmt.Sprintf("APIConfig{ListenAddr: %s, AuthToken: %s}", c.ListenAddr, maskSecret(c.AuthToken))
}

// Config is the fully loaded, validated application configuration.
type Config struct {
	Qdrant   QdrantConfig    `mapstructure:"qdrant"`
	Neo4j    Neo4jConfig     `mapstructure:"neo4j"`
	Redis    RedisConfig     `mapstructure:"redis"`
	Ollama   OllamaConfig    `mapstructure:"ollama"`
	Claude   ClaudeConfig    `mapstructure:"claude"`
	Memory   MemoryConfig    `mapstructure:"memory"`
	Ranking  RankingConfig   `mapstructure:"ranking"`
	Conflict ConflictConfig  `mapstructure:"conflict"`
	Logging  LoggingConfig   `mapstructure:"logging"`
	API      APIConfig       `mapstructure:"api"`
}

// Load reads defaults, an optional ~/.memcore/config.yaml (or ./config.yaml),
// and MEMCORE_-prefixed environment variables, in that order of increasing
// precedence.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.grpc_port", 6334)
	v.SetDefault("qdrant.collection", "memcore")
	v.SetDefault("qdrant.use_tls", false)

	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "")
	v.SetDefault("neo4j.database", "neo4j")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.clustered", false)

	v.SetDefault("ollama.base_url", "http://localhost:11434")
	v.SetDefault("ollama.model", "nomic-embed-text")

	v.SetDefault("claude.model", "claude-3-5-haiku-latest")

	v.SetDefault("memory.vector_dimension", 768)
	v.SetDefault("memory.dedup_threshold", 0.95)
	v.SetDefault("memory.sweep_interval_seconds", 60)
	v.SetDefault("memory.write_lock_ttl_seconds", 10)
	v.SetDefault("memory.write_budget_seconds", 8)

	v.SetDefault("ranking.alpha_vector", 0.55)
	v.SetDefault("ranking.beta_graph", 0.25)
	v.SetDefault("ranking.gamma_confidence", 0.15)
	v.SetDefault("ranking.delta_freshness", 0.05)
	v.SetDefault("ranking.freshness_tau_days", 30.0)
	v.SetDefault("ranking.default_min_confidence", 7)
	v.SetDefault("ranking.cache_ttl_seconds", 300)

	v.SetDefault("conflict.similarity_threshold", 0.85)
	v.SetDefault("conflict.negation_tokens", map[string][]string{
		"en": {"not", "no", "never", "cannot", "can't", "won't", "doesn't", "isn't"},
		"ru": {"не", "нет", "никогда", "нельзя"},
	})

	v.SetDefault("logging.level", "info")

	v.SetDefault("api.listen_addr", ":8080")
	v.SetDefault("api.auth_token", "")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME/.memcore")
	v.AddConfigPath(".")

	v.SetEnvPrefix("MEMCORE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	_ = v.BindEnv("claude.api_key", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("qdrant.host", "MEMCORE_QDRANT_HOST")
	_ = v.BindEnv("qdrant.grpc_port", "MEMCORE_QDRANT_GRPC_PORT")
	_ = v.BindEnv("neo4j.uri", "MEMCORE_NEO4J_URI")
	_ = v.BindEnv("neo4j.password", "NEO4J_PASSWORD")
	_ = v.BindEnv("redis.addr", "MEMCORE_REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Conflict.ExclusiveTagPairs = [][2]string{
		{"planned", "implemented"},
		{"deprecated", "current"},
		{"draft", "final"},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate checks invariants that viper's Unmarshal cannot enforce on its
// own: positive dimensions, weights that sum sensibly, and threshold
// ranges.
func (c *Config) Validate() error {
	if c.Memory.VectorDimension == 0 {
		return fmt.Errorf("memory.vector_dimension must be positive")
	}
	if c.Memory.DedupThreshold < 0 || c.Memory.DedupThreshold > 1 {
		return fmt.Errorf("memory.dedup_threshold must be in [0, 1]")
	}
	if c.Memory.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("memory.sweep_interval_seconds must be positive")
	}
	if c.Ranking.FreshnessTauDays <= 0 {
		return fmt.Errorf("ranking.freshness_tau_days must be positive")
	}
	sum := c.Ranking.AlphaVector + c.Ranking.BetaGraph + c.Ranking.GammaConfidence + c.Ranking.DeltaFreshness
	if sum < 0.99 || sum > 1.01 {
		return fmt.Errorf("ranking weights (alpha_vector+beta_graph+gamma_confidence+delta_freshness) must sum to 1.0, got %.4f", sum)
	}
	if c.Ranking.DefaultMinConfidence < 1 || c.Ranking.DefaultMinConfidence > 10 {
		return fmt.Errorf("ranking.default_min_confidence must be in [1, 10]")
	}
	if c.Conflict.SimilarityThreshold < 0 || c.Conflict.SimilarityThreshold > 1 {
		return fmt.Errorf("conflict.similarity_threshold must be in [0, 1]")
	}
	return nil
}
