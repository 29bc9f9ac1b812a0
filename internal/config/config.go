// Package config provides application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (MNEMOSYNE_* runtime override)
//  2. Config file (~/.mnemosyne/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Vault: note corpus location
//   - Store: vector index backend (memory, file, postgres)
//   - Embedder: embedding provider and model
//   - Chunking: split sizes, overlap, quality filtering
//   - Retrieval: topK, score threshold, strategy, hybrid weight
//   - Agent: tool loop and conversation memory bounds
//
// Secrets never live here: provider credentials are stored encrypted in
// the settings record managed by the provider manager.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidVaultPath indicates the vault path is missing or unusable.
	ErrInvalidVaultPath = errors.New("invalid vault path")

	// ErrInvalidStoreBackend indicates an unsupported vector store backend.
	ErrInvalidStoreBackend = errors.New("invalid store backend")

	// ErrInvalidEmbedderProvider indicates an unsupported embedding provider.
	ErrInvalidEmbedderProvider = errors.New("invalid embedder provider")

	// ErrInvalidChunkSizes indicates inconsistent chunk size bounds.
	ErrInvalidChunkSizes = errors.New("invalid chunk sizes")

	// ErrInvalidOverlap indicates the chunk overlap is out of range.
	ErrInvalidOverlap = errors.New("invalid chunk overlap")

	// ErrInvalidTopK indicates the retrieval topK is out of range.
	ErrInvalidTopK = errors.New("invalid topK")

	// ErrInvalidScoreThreshold indicates the score threshold is out of [0,1].
	ErrInvalidScoreThreshold = errors.New("invalid score threshold")

	// ErrInvalidStrategy indicates an unsupported retrieval strategy.
	ErrInvalidStrategy = errors.New("invalid retrieval strategy")

	// ErrInvalidHybridWeight indicates the hybrid semantic weight is out of [0,1].
	ErrInvalidHybridWeight = errors.New("invalid hybrid weight")

	// ErrInvalidPostgresURL indicates the postgres backend is selected
	// without a connection URL.
	ErrInvalidPostgresURL = errors.New("invalid postgres URL")
)

// Vector store backend identifiers used in Config.Store.Backend.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"
)

// Embedding provider identifiers used in Config.Embedder.Provider.
const (
	EmbedderGemini = "gemini"
	EmbedderOllama = "ollama"
)

// Retrieval strategy identifiers.
const (
	StrategySemantic = "semantic"
	StrategyKeyword  = "keyword"
	StrategyHybrid   = "hybrid"
)

// MaxTopK is the upper bound for retrieval topK, both here and in agent
// configuration validation.
const MaxTopK = 20

// StoreConfig selects and parameterizes the vector index backend.
type StoreConfig struct {
	Backend     string `mapstructure:"backend"`      // "memory", "file", "postgres"
	IndexPath   string `mapstructure:"index_path"`   // file backend: flat index location
	PostgresURL string `mapstructure:"postgres_url"` // postgres backend: pgx connection URL
}

// EmbedderConfig selects the embedding provider.
type EmbedderConfig struct {
	Provider   string `mapstructure:"provider"`    // "gemini", "ollama"
	Model      string `mapstructure:"model"`       // e.g. "gemini-embedding-001", "nomic-embed-text"
	Dimension  int    `mapstructure:"dimension"`   // vector dimension the store is created with
	OllamaHost string `mapstructure:"ollama_host"` // ollama embedder endpoint
}

// ChunkingConfig parameterizes the document chunker.
type ChunkingConfig struct {
	TargetSize       int     `mapstructure:"target_size"` // characters
	MinSize          int     `mapstructure:"min_size"`
	MaxSize          int     `mapstructure:"max_size"`
	Overlap          int     `mapstructure:"overlap"`
	RespectBoundary  bool    `mapstructure:"respect_boundary"`
	QualityFilter    bool    `mapstructure:"quality_filter"`
	QualityThreshold float64 `mapstructure:"quality_threshold"`
}

// RetrievalConfig holds defaults for direct queries and agent retrieval.
type RetrievalConfig struct {
	TopK int `mapstructure:"top_k"`
	// ScoreThreshold in [0,1]; results below it are discarded.
	ScoreThreshold float64 `mapstructure:"score_threshold"`
	Strategy       string  `mapstructure:"strategy"`
	// HybridSemanticWeight is the semantic share of the hybrid score.
	// The keyword share is (1 - weight). Semantic-dominant by default.
	HybridSemanticWeight float64 `mapstructure:"hybrid_semantic_weight"`
}

// AgentDefaults bounds agent execution.
type AgentDefaults struct {
	MaxToolIterations  int `mapstructure:"max_tool_iterations"`
	MaxMemoryMessages  int `mapstructure:"max_memory_messages"`
	MemorySummaryBlock int `mapstructure:"memory_summary_block"` // messages folded per compaction
}

// Config stores application configuration.
type Config struct {
	VaultPath string          `mapstructure:"vault_path"`
	Store     StoreConfig     `mapstructure:"store"`
	Embedder  EmbedderConfig  `mapstructure:"embedder"`
	Chunking  ChunkingConfig  `mapstructure:"chunking"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Agent     AgentDefaults   `mapstructure:"agent"`
}

// Default returns a configuration with sensible defaults for quick start.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: StoreFile,
		},
		Embedder: EmbedderConfig{
			Provider:   EmbedderOllama,
			Model:      "nomic-embed-text",
			Dimension:  768,
			OllamaHost: "http://localhost:11434",
		},
		Chunking: ChunkingConfig{
			TargetSize:       1200,
			MinSize:          200,
			MaxSize:          2000,
			Overlap:          150,
			RespectBoundary:  true,
			QualityFilter:    true,
			QualityThreshold: 0.3,
		},
		Retrieval: RetrievalConfig{
			TopK:                 5,
			ScoreThreshold:       0.25,
			Strategy:             StrategyHybrid,
			HybridSemanticWeight: 0.7,
		},
		Agent: AgentDefaults{
			MaxToolIterations:  8,
			MaxMemoryMessages:  20,
			MemorySummaryBlock: 10,
		},
	}
}

// Load reads configuration from the config file and environment.
// Missing config file is not an error; defaults apply.
func Load() (*Config, error) {
	v := viper.New()

	dir, err := Dir()
	if err != nil {
		return nil, err
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetEnvPrefix("MNEMOSYNE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	applyDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.Store.IndexPath == "" {
		cfg.Store.IndexPath = filepath.Join(dir, "index.json")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Dir returns the mnemosyne configuration directory, creating it with
// restrictive permissions if needed.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	dir := filepath.Join(home, ".mnemosyne")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	return dir, nil
}

func applyDefaults(v *viper.Viper) {
	def := Default()

	v.SetDefault("store.backend", def.Store.Backend)
	v.SetDefault("embedder.provider", def.Embedder.Provider)
	v.SetDefault("embedder.model", def.Embedder.Model)
	v.SetDefault("embedder.dimension", def.Embedder.Dimension)
	v.SetDefault("embedder.ollama_host", def.Embedder.OllamaHost)
	v.SetDefault("chunking.target_size", def.Chunking.TargetSize)
	v.SetDefault("chunking.min_size", def.Chunking.MinSize)
	v.SetDefault("chunking.max_size", def.Chunking.MaxSize)
	v.SetDefault("chunking.overlap", def.Chunking.Overlap)
	v.SetDefault("chunking.respect_boundary", def.Chunking.RespectBoundary)
	v.SetDefault("chunking.quality_filter", def.Chunking.QualityFilter)
	v.SetDefault("chunking.quality_threshold", def.Chunking.QualityThreshold)
	v.SetDefault("retrieval.top_k", def.Retrieval.TopK)
	v.SetDefault("retrieval.score_threshold", def.Retrieval.ScoreThreshold)
	v.SetDefault("retrieval.strategy", def.Retrieval.Strategy)
	v.SetDefault("retrieval.hybrid_semantic_weight", def.Retrieval.HybridSemanticWeight)
	v.SetDefault("agent.max_tool_iterations", def.Agent.MaxToolIterations)
	v.SetDefault("agent.max_memory_messages", def.Agent.MaxMemoryMessages)
	v.SetDefault("agent.memory_summary_block", def.Agent.MemorySummaryBlock)
}

// Validate checks the configuration for consistency. It returns sentinel
// errors wrapped with context so callers can branch with errors.Is.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Store.Backend {
	case StoreMemory, StoreFile:
	case StorePostgres:
		if c.Store.PostgresURL == "" {
			return fmt.Errorf("%w: postgres backend requires store.postgres_url", ErrInvalidPostgresURL)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStoreBackend, c.Store.Backend)
	}

	switch c.Embedder.Provider {
	case EmbedderGemini, EmbedderOllama:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidEmbedderProvider, c.Embedder.Provider)
	}

	ch := c.Chunking
	if ch.MinSize <= 0 || ch.TargetSize < ch.MinSize || ch.MaxSize < ch.TargetSize {
		return fmt.Errorf("%w: min=%d target=%d max=%d (need 0 < min <= target <= max)",
			ErrInvalidChunkSizes, ch.MinSize, ch.TargetSize, ch.MaxSize)
	}
	if ch.Overlap < 0 || ch.Overlap >= ch.MinSize {
		return fmt.Errorf("%w: overlap=%d must be in [0, minSize)", ErrInvalidOverlap, ch.Overlap)
	}
	if ch.QualityThreshold < 0 || ch.QualityThreshold > 1 {
		return fmt.Errorf("%w: quality_threshold=%.2f", ErrInvalidScoreThreshold, ch.QualityThreshold)
	}

	r := c.Retrieval
	if r.TopK < 1 || r.TopK > MaxTopK {
		return fmt.Errorf("%w: %d (must be in [1,%d])", ErrInvalidTopK, r.TopK, MaxTopK)
	}
	if r.ScoreThreshold < 0 || r.ScoreThreshold > 1 {
		return fmt.Errorf("%w: %.2f", ErrInvalidScoreThreshold, r.ScoreThreshold)
	}
	switch r.Strategy {
	case StrategySemantic, StrategyKeyword, StrategyHybrid:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStrategy, r.Strategy)
	}
	if r.HybridSemanticWeight < 0 || r.HybridSemanticWeight > 1 {
		return fmt.Errorf("%w: %.2f", ErrInvalidHybridWeight, r.HybridSemanticWeight)
	}

	return nil
}
