// Package agent implements configurable retrieval-augmented agents: the
// configuration contract, the manager that owns agent definitions and
// their lifecycle, bounded conversation memory, and the executor that
// runs one request through retrieval, the model and the tool loop.
package agent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ddunnock/mnemosyne/internal/config"
)

// ContextPlaceholder marks where retrieved context is injected into the
// system prompt template. Validation requires it: without the
// placeholder the agent would silently answer without its knowledge
// base.
const ContextPlaceholder = "{{CONTEXT}}"

var (
	// ErrAgentNotFound indicates no agent with the given id exists.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrAgentDisabled indicates the agent exists but is disabled.
	ErrAgentDisabled = errors.New("agent disabled")

	// ErrAgentPermanent indicates an attempt to delete a permanent agent.
	ErrAgentPermanent = errors.New("permanent agent cannot be deleted")

	// ErrAgentBusy indicates the agent is currently executing.
	ErrAgentBusy = errors.New("agent is executing")

	// ErrInvalidAgent indicates the agent configuration failed validation.
	ErrInvalidAgent = errors.New("invalid agent configuration")
)

// State is the agent lifecycle state.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateReady         State = "ready"
	StateExecuting     State = "executing"
	StateDisabled      State = "disabled"
)

// RetrievalSettings parameterize the retrieval step of one agent.
type RetrievalSettings struct {
	Enabled        bool                `json:"enabled"`
	TopK           int                 `json:"top_k"`
	ScoreThreshold float64             `json:"score_threshold"`
	Strategy       string              `json:"strategy"`
	Filters        map[string][]string `json:"filters,omitempty"`
}

// ToolSettings control the agent's tool access.
type ToolSettings struct {
	Enabled bool `json:"enabled"`
	// AllowDangerousOperations permits write tools. Off by default; the
	// executor refuses write operations without it.
	AllowDangerousOperations bool `json:"allow_dangerous_operations"`
	// FolderScope restricts tool paths to these vault-relative folders.
	// Empty means the whole vault.
	FolderScope []string `json:"folder_scope,omitempty"`
}

// Config is one agent definition. Definitions are data: the manager
// validates them on write and the executor interprets them per request.
type Config struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ProviderID  string `json:"provider_id"`

	// SystemPrompt is the template rendered per request; it must contain
	// ContextPlaceholder.
	SystemPrompt string `json:"system_prompt"`

	Retrieval RetrievalSettings `json:"retrieval"`
	Tools     ToolSettings      `json:"tools"`

	// Capabilities are exact-match lookup tags ("summarize", "research").
	Capabilities []string `json:"capabilities,omitempty"`

	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`

	Enabled bool `json:"enabled"`
	// Permanent agents can be disabled but never deleted.
	Permanent bool `json:"permanent,omitempty"`
}

// Validate checks the configuration contract. providerEnabled reports
// whether the referenced provider is configured and enabled; pass nil to
// skip the provider check (e.g. when importing definitions before
// providers).
func (c *Config) Validate(providerEnabled func(id string) bool) error {
	if c.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidAgent)
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidAgent)
	}
	if c.ProviderID == "" {
		return fmt.Errorf("%w: provider id is required", ErrInvalidAgent)
	}
	if providerEnabled != nil && !providerEnabled(c.ProviderID) {
		return fmt.Errorf("%w: provider %q is not configured or not enabled", ErrInvalidAgent, c.ProviderID)
	}
	if !strings.Contains(c.SystemPrompt, ContextPlaceholder) {
		return fmt.Errorf("%w: system prompt must contain %s", ErrInvalidAgent, ContextPlaceholder)
	}

	r := c.Retrieval
	if r.Enabled {
		if r.TopK < 1 || r.TopK > config.MaxTopK {
			return fmt.Errorf("%w: topK %d out of [1,%d]", ErrInvalidAgent, r.TopK, config.MaxTopK)
		}
		if r.ScoreThreshold < 0 || r.ScoreThreshold > 1 {
			return fmt.Errorf("%w: score threshold %.2f out of [0,1]", ErrInvalidAgent, r.ScoreThreshold)
		}
		switch r.Strategy {
		case config.StrategySemantic, config.StrategyKeyword, config.StrategyHybrid:
		default:
			return fmt.Errorf("%w: unknown retrieval strategy %q", ErrInvalidAgent, r.Strategy)
		}
	}

	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("%w: temperature %.2f out of [0,2]", ErrInvalidAgent, *c.Temperature)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("%w: max tokens must not be negative", ErrInvalidAgent)
	}
	return nil
}
