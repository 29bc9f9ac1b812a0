// Package platform wires the pipeline into one facade the host
// application talks to: ingest, query, agents, health.
package platform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ddunnock/mnemosyne/db"
	"github.com/ddunnock/mnemosyne/internal/agent"
	"github.com/ddunnock/mnemosyne/internal/chunk"
	"github.com/ddunnock/mnemosyne/internal/config"
	"github.com/ddunnock/mnemosyne/internal/embed"
	"github.com/ddunnock/mnemosyne/internal/index"
	"github.com/ddunnock/mnemosyne/internal/log"
	"github.com/ddunnock/mnemosyne/internal/provider"
	"github.com/ddunnock/mnemosyne/internal/rag"
	"github.com/ddunnock/mnemosyne/internal/secrets"
)

// ProviderStats summarizes configured LLM providers.
type ProviderStats struct {
	Total   int `json:"total"`
	Enabled int `json:"enabled"`
}

// AgentStats summarizes configured agents.
type AgentStats struct {
	Total   int `json:"total"`
	Enabled int `json:"enabled"`
}

// Stats is the composite platform health report: index contents,
// provider and agent counts, and the overall ready flag.
type Stats struct {
	RAG    index.Stats   `json:"rag"`
	LLM    ProviderStats `json:"llm"`
	Agents AgentStats    `json:"agents"`
	Ready  bool          `json:"ready"`
}

// Notifier receives user-facing notifications from the platform. Calls
// are fire-and-forget: they run on their own goroutine and failures are
// swallowed.
type Notifier interface {
	Notify(level, message string)
}

// Option customizes platform construction.
type Option func(*Platform)

// WithNotifier installs a notification sink.
func WithNotifier(n Notifier) Option {
	return func(p *Platform) { p.notifier = n }
}

// WithDocumentSource replaces the default vault walker with a
// host-provided corpus.
func WithDocumentSource(src rag.DocumentSource) Option {
	return func(p *Platform) { p.source = src }
}

// Platform is the embedding surface of the pipeline.
type Platform struct {
	cfg    *config.Config
	logger log.Logger

	session   *secrets.Session
	store     index.Store
	embedder  embed.Embedder
	retriever *rag.Retriever
	source    rag.DocumentSource
	providers *provider.Manager
	agents    *agent.Manager
	executor  *agent.Executor
	notifier  Notifier
}

// New constructs the platform from configuration: store backend,
// embedder, chunker, retriever, provider and agent managers, executor.
func New(ctx context.Context, cfg *config.Config, logger log.Logger, opts ...Option) (*Platform, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewNop()
	}

	p := &Platform{cfg: cfg, logger: logger, session: secrets.NewSession()}
	for _, opt := range opts {
		opt(p)
	}

	embedder, err := buildEmbedder(ctx, cfg)
	if err != nil {
		return nil, err
	}
	p.embedder = embedder

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	p.store = store

	chunker, err := chunk.New(chunk.Options{
		TargetSize:       cfg.Chunking.TargetSize,
		MinSize:          cfg.Chunking.MinSize,
		MaxSize:          cfg.Chunking.MaxSize,
		Overlap:          cfg.Chunking.Overlap,
		RespectBoundary:  cfg.Chunking.RespectBoundary,
		QualityFilter:    cfg.Chunking.QualityFilter,
		QualityThreshold: cfg.Chunking.QualityThreshold,
	}, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	p.retriever = rag.New(chunker, embedder, store, cfg.Retrieval, logger)

	if p.source == nil && cfg.VaultPath != "" {
		src, err := rag.NewVaultSource(cfg.VaultPath, logger)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("%w: %v", config.ErrInvalidVaultPath, err)
		}
		p.source = src
	}

	dir, err := config.Dir()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	p.providers, err = provider.NewManager(filepath.Join(dir, "providers.json"), p.session, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	p.agents, err = agent.NewManager(filepath.Join(dir, "agents.json"), p.providers, cfg.Agent, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	p.executor = agent.NewExecutor(p.agents, p.retriever, p.providers, cfg.VaultPath, cfg.Agent, logger)
	return p, nil
}

func buildEmbedder(ctx context.Context, cfg *config.Config) (embed.Embedder, error) {
	switch cfg.Embedder.Provider {
	case config.EmbedderOllama:
		return embed.NewOllama(cfg.Embedder.OllamaHost, cfg.Embedder.Model, cfg.Embedder.Dimension), nil
	case config.EmbedderGemini:
		// The embedder key comes from the environment: embedding runs at
		// ingest time, often before any master password is entered.
		return embed.NewGemini(ctx, os.Getenv("GEMINI_API_KEY"), cfg.Embedder.Model, cfg.Embedder.Dimension)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidEmbedderProvider, cfg.Embedder.Provider)
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger log.Logger) (index.Store, error) {
	model := cfg.Embedder.Model
	dim := cfg.Embedder.Dimension
	weight := cfg.Retrieval.HybridSemanticWeight

	switch cfg.Store.Backend {
	case config.StoreMemory:
		return index.NewMemory(model, dim, index.WithHybridWeight(weight), index.WithLogger(logger)), nil
	case config.StoreFile:
		return index.OpenFile(cfg.Store.IndexPath, model, dim, logger, index.WithHybridWeight(weight))
	case config.StorePostgres:
		if err := db.Migrate(cfg.Store.PostgresURL); err != nil {
			return nil, fmt.Errorf("migrating store schema: %w", err)
		}
		pool, err := pgxpool.New(ctx, cfg.Store.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		return index.NewPostgres(ctx, pool, model, dim, weight, logger)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidStoreBackend, cfg.Store.Backend)
	}
}

// Session exposes the key manager session for credential entry.
func (p *Platform) Session() *secrets.Session { return p.session }

// Providers exposes the provider manager.
func (p *Platform) Providers() *provider.Manager { return p.providers }

// Agents exposes the agent manager.
func (p *Platform) Agents() *agent.Manager { return p.agents }

// Retriever exposes the retrieval pipeline.
func (p *Platform) Retriever() *rag.Retriever { return p.retriever }

// ListAgents returns all agent definitions.
func (p *Platform) ListAgents() []agent.Config {
	return p.agents.List()
}

// ExecuteAgent runs input through the named agent.
func (p *Platform) ExecuteAgent(ctx context.Context, agentID, sessionID, input string) (*agent.Response, error) {
	resp, err := p.executor.Execute(ctx, agentID, sessionID, input)
	if err != nil {
		p.notify("error", fmt.Sprintf("agent %s failed: %s", agentID, err))
		return nil, err
	}
	return resp, nil
}

// Query runs a direct retrieval without any agent.
func (p *Platform) Query(ctx context.Context, text string, opts rag.RetrieveOptions) ([]index.Retrieved, error) {
	return p.retriever.Retrieve(ctx, text, opts)
}

// IsReady reports whether the platform can answer questions end to end:
// the retriever has an embedder and indexed content, at least one
// provider is enabled and at least one agent is enabled.
func (p *Platform) IsReady(ctx context.Context) bool {
	return p.retriever.IsReady(ctx) && p.providerStats().Enabled > 0 && p.agentStats().Enabled > 0
}

// Stats reports the composite platform health: index contents, provider
// and agent counts, and the ready flag.
func (p *Platform) Stats(ctx context.Context) (Stats, error) {
	rag, err := p.retriever.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	s := Stats{
		RAG:    rag,
		LLM:    p.providerStats(),
		Agents: p.agentStats(),
	}
	s.Ready = p.retriever.IsReady(ctx) && s.LLM.Enabled > 0 && s.Agents.Enabled > 0
	return s, nil
}

func (p *Platform) providerStats() ProviderStats {
	var s ProviderStats
	for _, c := range p.providers.List() {
		s.Total++
		if c.Enabled {
			s.Enabled++
		}
	}
	return s
}

func (p *Platform) agentStats() AgentStats {
	var s AgentStats
	for _, a := range p.agents.List() {
		s.Total++
		if a.Enabled {
			s.Enabled++
		}
	}
	return s
}

// IngestVault walks the document source and ingests everything it
// lists.
func (p *Platform) IngestVault(ctx context.Context) ([]rag.IngestSummary, error) {
	if p.source == nil {
		return nil, fmt.Errorf("%w: no vault path configured", config.ErrInvalidVaultPath)
	}
	summaries, err := p.retriever.IngestSource(ctx, p.source)
	if err != nil {
		return nil, err
	}
	p.notify("info", fmt.Sprintf("ingested %d documents", len(summaries)))
	return summaries, nil
}

// Watch keeps the index in sync with the vault until ctx is cancelled.
// It requires the default vault source.
func (p *Platform) Watch(ctx context.Context) error {
	src, ok := p.source.(*rag.VaultSource)
	if !ok {
		return fmt.Errorf("watching requires a vault document source")
	}
	return rag.NewWatcher(src, p.retriever, p.logger).Run(ctx)
}

// Close releases the store and clears key material.
func (p *Platform) Close() error {
	p.session.ClearMasterPassword()
	if p.store != nil {
		return p.store.Close()
	}
	return nil
}

// notify delivers a notification without blocking the caller.
func (p *Platform) notify(level, message string) {
	if p.notifier == nil {
		return
	}
	n := p.notifier
	go func() {
		defer func() { _ = recover() }()
		n.Notify(level, message)
	}()
}
