package agent

import (
	"errors"
	"testing"

	"github.com/ddunnock/mnemosyne/internal/config"
)

func validConfig() Config {
	return Config{
		ID:           "researcher",
		Name:         "Researcher",
		ProviderID:   "local",
		SystemPrompt: "Answer using these notes:\n" + ContextPlaceholder,
		Retrieval: RetrievalSettings{
			Enabled:        true,
			TopK:           5,
			ScoreThreshold: 0.25,
			Strategy:       config.StrategyHybrid,
		},
		Enabled: true,
	}
}

func allProvidersEnabled(string) bool { return true }

func TestValidateAccepts(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(allProvidersEnabled); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	// Retrieval disabled skips retrieval bounds entirely.
	cfg.Retrieval = RetrievalSettings{Enabled: false}
	if err := cfg.Validate(allProvidersEnabled); err != nil {
		t.Errorf("config with retrieval disabled rejected: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	temp := func(v float64) *float64 { return &v }

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing id", func(c *Config) { c.ID = "" }},
		{"blank name", func(c *Config) { c.Name = "   " }},
		{"missing provider", func(c *Config) { c.ProviderID = "" }},
		{"missing context placeholder", func(c *Config) { c.SystemPrompt = "Answer the question." }},
		{"topK zero", func(c *Config) { c.Retrieval.TopK = 0 }},
		{"topK above bound", func(c *Config) { c.Retrieval.TopK = config.MaxTopK + 1 }},
		{"threshold above one", func(c *Config) { c.Retrieval.ScoreThreshold = 1.5 }},
		{"negative threshold", func(c *Config) { c.Retrieval.ScoreThreshold = -0.1 }},
		{"unknown strategy", func(c *Config) { c.Retrieval.Strategy = "mystic" }},
		{"temperature above two", func(c *Config) { c.Temperature = temp(2.5) }},
		{"negative temperature", func(c *Config) { c.Temperature = temp(-1) }},
		{"negative max tokens", func(c *Config) { c.MaxTokens = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate(allProvidersEnabled)
			if !errors.Is(err, ErrInvalidAgent) {
				t.Errorf("want ErrInvalidAgent, got %v", err)
			}
		})
	}
}

func TestValidateProviderCheck(t *testing.T) {
	cfg := validConfig()

	err := cfg.Validate(func(string) bool { return false })
	if !errors.Is(err, ErrInvalidAgent) {
		t.Errorf("disabled provider: want ErrInvalidAgent, got %v", err)
	}

	// nil check skips provider verification.
	if err := cfg.Validate(nil); err != nil {
		t.Errorf("nil provider check rejected: %v", err)
	}
}
