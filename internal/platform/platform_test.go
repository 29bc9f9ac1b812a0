package platform_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ddunnock/mnemosyne/internal/agent"
	"github.com/ddunnock/mnemosyne/internal/config"
	"github.com/ddunnock/mnemosyne/internal/platform"
	"github.com/ddunnock/mnemosyne/internal/provider"
)

const testEmbedDim = 8

// testPlatform builds a platform over a memory store and a stub Ollama
// embedding endpoint, with config state isolated in a temp home.
func testPlatform(t *testing.T) *platform.Platform {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vec := make([]float32, testEmbedDim)
		for i := range vec {
			vec[i] = 0.5
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": vec})
	}))
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Store.Backend = config.StoreMemory
	cfg.Embedder.Provider = config.EmbedderOllama
	cfg.Embedder.OllamaHost = srv.URL
	cfg.Embedder.Dimension = testEmbedDim

	p, err := platform.New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func addProvider(t *testing.T, p *platform.Platform) {
	t.Helper()
	err := p.Providers().Set(provider.Config{
		ID:      "local",
		Name:    "Local",
		Backend: "ollama",
		Model:   "llama3.2",
		Enabled: true,
	}, "")
	if err != nil {
		t.Fatalf("Set provider: %v", err)
	}
}

func TestIsReadyRequiresAllComponents(t *testing.T) {
	p := testPlatform(t)
	ctx := context.Background()

	if p.IsReady(ctx) {
		t.Error("IsReady() = true with an empty index")
	}

	if _, err := p.Retriever().Ingest(ctx, "doc-1", "Garden Notes",
		"Tomatoes need staking and regular watering through the summer months."); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if p.IsReady(ctx) {
		t.Error("IsReady() = true with zero providers and zero agents")
	}

	addProvider(t, p)
	if p.IsReady(ctx) {
		t.Error("IsReady() = true with zero agents")
	}

	if err := p.Agents().EnsureDefault("local"); err != nil {
		t.Fatalf("EnsureDefault: %v", err)
	}
	if !p.IsReady(ctx) {
		t.Error("IsReady() = false with index, provider and agent in place")
	}

	if err := p.Agents().SetEnabled(agent.DefaultAgentID, false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if p.IsReady(ctx) {
		t.Error("IsReady() = true with the only agent disabled")
	}
}

func TestIsReadyRequiresEnabledProvider(t *testing.T) {
	p := testPlatform(t)
	ctx := context.Background()

	if _, err := p.Retriever().Ingest(ctx, "doc-1", "Note", "Short indexed note about watering."); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	addProvider(t, p)
	if err := p.Agents().EnsureDefault("local"); err != nil {
		t.Fatalf("EnsureDefault: %v", err)
	}

	if err := p.Providers().SetEnabled("local", false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if p.IsReady(ctx) {
		t.Error("IsReady() = true with the only provider disabled")
	}
}

func TestStatsComposite(t *testing.T) {
	p := testPlatform(t)
	ctx := context.Background()

	stats, err := p.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Ready {
		t.Error("empty platform reported ready")
	}
	if stats.RAG.TotalEntries != 0 || stats.LLM.Total != 0 || stats.Agents.Total != 0 {
		t.Errorf("empty platform stats = %+v", stats)
	}

	if _, err := p.Retriever().Ingest(ctx, "doc-1", "Garden Notes",
		"Tomatoes need staking and regular watering through the summer months."); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	addProvider(t, p)
	if err := p.Agents().EnsureDefault("local"); err != nil {
		t.Fatalf("EnsureDefault: %v", err)
	}

	stats, err = p.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.RAG.TotalEntries == 0 {
		t.Error("index stats missing ingested entries")
	}
	if stats.RAG.EmbeddingModel != "nomic-embed-text" || stats.RAG.Dimension != testEmbedDim {
		t.Errorf("rag stats = %+v", stats.RAG)
	}
	if stats.LLM.Total != 1 || stats.LLM.Enabled != 1 {
		t.Errorf("provider stats = %+v", stats.LLM)
	}
	if stats.Agents.Total != 1 || stats.Agents.Enabled != 1 {
		t.Errorf("agent stats = %+v", stats.Agents)
	}
	if !stats.Ready {
		t.Error("fully wired platform not reported ready")
	}
}
