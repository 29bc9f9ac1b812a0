package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ddunnock/mnemosyne/internal/config"
	"github.com/ddunnock/mnemosyne/internal/index"
	"github.com/ddunnock/mnemosyne/internal/log"
	"github.com/ddunnock/mnemosyne/internal/provider"
	"github.com/ddunnock/mnemosyne/internal/rag"
	"github.com/ddunnock/mnemosyne/internal/security"
	"github.com/ddunnock/mnemosyne/internal/tools"
)

// Source attributes one retrieved chunk that informed an answer.
type Source struct {
	DocID    string  `json:"doc_id"`
	DocTitle string  `json:"doc_title"`
	Section  string  `json:"section,omitempty"`
	Score    float64 `json:"score"`
}

// Response is the structured outcome of one agent execution.
type Response struct {
	SessionID string         `json:"session_id"`
	Answer    string         `json:"answer"`
	Sources   []Source       `json:"sources,omitempty"`
	Provider  string         `json:"provider"`
	Model     string         `json:"model"`
	Usage     provider.Usage `json:"usage"`
	ToolCalls int            `json:"tool_calls"`
	Elapsed   time.Duration  `json:"elapsed"`
}

// BackendSource resolves a provider id to a ready backend. Satisfied by
// the provider manager.
type BackendSource interface {
	Backend(ctx context.Context, id string) (provider.Backend, error)
}

// Executor runs one request through an agent: retrieval, prompt
// assembly, the model call and the bounded tool loop.
type Executor struct {
	manager   *Manager
	retriever *rag.Retriever
	providers BackendSource
	vaultRoot string
	maxIter   int
	logger    log.Logger
}

// NewExecutor wires an executor from its collaborators.
func NewExecutor(manager *Manager, retriever *rag.Retriever, providers BackendSource, vaultRoot string, defaults config.AgentDefaults, logger log.Logger) *Executor {
	if logger == nil {
		logger = log.NewNop()
	}
	maxIter := defaults.MaxToolIterations
	if maxIter < 1 {
		maxIter = 1
	}
	return &Executor{
		manager:   manager,
		retriever: retriever,
		providers: providers,
		vaultRoot: vaultRoot,
		maxIter:   maxIter,
		logger:    logger,
	}
}

// Execute runs input through the agent. An empty sessionID starts a new
// conversation; the minted id comes back in the response.
func (e *Executor) Execute(ctx context.Context, agentID, sessionID, input string) (*Response, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("input must not be empty")
	}

	cfg, err := e.manager.beginExecution(agentID)
	if err != nil {
		return nil, err
	}
	defer e.manager.endExecution(agentID)

	start := time.Now()

	retrieved, sources := e.retrieve(ctx, cfg, input)
	systemPrompt := strings.ReplaceAll(cfg.SystemPrompt, ContextPlaceholder, renderContext(retrieved))

	sessionID, mem := e.manager.Session(sessionID)

	messages := make([]provider.Message, 0, mem.Len()+2)
	messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: systemPrompt})
	messages = append(messages, mem.Messages()...)
	messages = append(messages, provider.Message{Role: provider.RoleUser, Content: input})

	backend, err := e.providers.Backend(ctx, cfg.ProviderID)
	if err != nil {
		return nil, err
	}
	opts := provider.Options{Temperature: cfg.Temperature, MaxTokens: cfg.MaxTokens}

	var resp *provider.Response
	var usage provider.Usage
	toolCalls := 0

	if cfg.Tools.Enabled {
		resp, usage, toolCalls, err = e.runToolLoop(ctx, cfg, backend, messages, opts)
	} else {
		resp, err = backend.Chat(ctx, messages, opts)
		if resp != nil {
			usage = resp.Usage
		}
	}
	if err != nil {
		return nil, err
	}

	mem.Append(provider.Message{Role: provider.RoleUser, Content: input})
	mem.Append(provider.Message{Role: provider.RoleAssistant, Content: resp.Text})
	mem.Compact(ctx, backend)

	e.logger.Info("agent executed",
		"agent", agentID, "session", sessionID,
		"sources", len(sources), "tool_calls", toolCalls,
		"elapsed", time.Since(start))

	return &Response{
		SessionID: sessionID,
		Answer:    resp.Text,
		Sources:   sources,
		Provider:  resp.Backend,
		Model:     resp.Model,
		Usage:     usage,
		ToolCalls: toolCalls,
		Elapsed:   time.Since(start),
	}, nil
}

// retrieve runs the agent's retrieval step. A cold index or a retrieval
// failure degrades to an empty context rather than failing the request.
func (e *Executor) retrieve(ctx context.Context, cfg Config, input string) ([]index.Retrieved, []Source) {
	if !cfg.Retrieval.Enabled || e.retriever == nil || !e.retriever.IsReady(ctx) {
		return nil, nil
	}

	// The agent's threshold is always explicit, zero included.
	results, err := e.retriever.Retrieve(ctx, input, rag.RetrieveOptions{
		TopK:           cfg.Retrieval.TopK,
		ScoreThreshold: &cfg.Retrieval.ScoreThreshold,
		Strategy:       index.Strategy(cfg.Retrieval.Strategy),
		Filters:        cfg.Retrieval.Filters,
	})
	if err != nil {
		e.logger.Warn("retrieval failed, answering without context", "agent", cfg.ID, "error", err)
		return nil, nil
	}

	sources := make([]Source, 0, len(results))
	for _, r := range results {
		sources = append(sources, Source{
			DocID:    r.Entry.Chunk.DocID,
			DocTitle: r.Entry.Chunk.DocTitle,
			Section:  strings.Join(r.Entry.Chunk.SectionPath, " > "),
			Score:    r.Score,
		})
	}
	return results, sources
}

// renderContext formats retrieved chunks with source attribution for
// injection at the context placeholder.
func renderContext(results []index.Retrieved) string {
	if len(results) == 0 {
		return "(no relevant notes found)"
	}

	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s", i+1, r.Entry.Chunk.DocTitle)
		if len(r.Entry.Chunk.SectionPath) > 0 {
			fmt.Fprintf(&b, " > %s", strings.Join(r.Entry.Chunk.SectionPath, " > "))
		}
		b.WriteString("\n")
		b.WriteString(r.Entry.Chunk.Text)
	}
	return b.String()
}

// runToolLoop drives the model-tool conversation up to the iteration
// cap. Write tools are refused for agents without dangerous-operation
// permission; out-of-scope paths come back as scope-violation results.
func (e *Executor) runToolLoop(ctx context.Context, cfg Config, backend provider.Backend, messages []provider.Message, opts provider.Options) (*provider.Response, provider.Usage, int, error) {
	registry, err := e.buildRegistry(cfg)
	if err != nil {
		return nil, provider.Usage{}, 0, err
	}
	defs := registry.Defs(cfg.Tools.AllowDangerousOperations)

	var usage provider.Usage
	toolCalls := 0

	for i := 0; i < e.maxIter; i++ {
		resp, err := backend.ChatWithTools(ctx, messages, defs, opts)
		if err != nil {
			return nil, usage, toolCalls, err
		}
		addUsage(&usage, resp.Usage)

		if resp.ToolCall == nil {
			return resp, usage, toolCalls, nil
		}

		toolCalls++
		result := e.invokeTool(ctx, cfg, registry, resp.ToolCall)

		messages = append(messages,
			provider.Message{Role: provider.RoleAssistant, Content: resp.Text, ToolCall: resp.ToolCall},
			provider.Message{
				Role:       provider.RoleTool,
				Content:    result.Encode(),
				ToolName:   resp.ToolCall.Name,
				ToolCallID: resp.ToolCall.ID,
			})
	}

	// Iteration cap reached: force a final answer without tools.
	e.logger.Warn("tool iteration cap reached", "agent", cfg.ID, "cap", e.maxIter)
	resp, err := backend.Chat(ctx, messages, opts)
	if err != nil {
		return nil, usage, toolCalls, err
	}
	addUsage(&usage, resp.Usage)
	return resp, usage, toolCalls, nil
}

func (e *Executor) invokeTool(ctx context.Context, cfg Config, registry *tools.Registry, call *provider.FunctionCall) tools.Result {
	tool, ok := registry.Get(call.Name)
	if !ok {
		return tools.Fail(tools.OperationRead, fmt.Sprintf("unknown tool %q", call.Name))
	}
	if tool.Operation() == tools.OperationWrite && !cfg.Tools.AllowDangerousOperations {
		e.logger.Warn("dangerous operation refused", "agent", cfg.ID, "tool", call.Name)
		return tools.Fail(tools.OperationWrite,
			fmt.Sprintf("operation refused: %s writes to the vault and this agent does not allow dangerous operations", call.Name))
	}
	return tool.Execute(ctx, call.Arguments)
}

// buildRegistry constructs the agent's tool registry, scoped to its
// folder allow-list.
func (e *Executor) buildRegistry(cfg Config) (*tools.Registry, error) {
	scope, err := e.buildScope(cfg)
	if err != nil {
		return nil, err
	}

	toolset, err := tools.NewVaultToolset(e.vaultRoot, scope, e.retriever, e.logger)
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry()
	for _, t := range toolset {
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (e *Executor) buildScope(cfg Config) (*security.Scope, error) {
	if len(cfg.Tools.FolderScope) == 0 {
		return security.NewScope(e.vaultRoot)
	}

	roots := make([]string, 0, len(cfg.Tools.FolderScope))
	for _, folder := range cfg.Tools.FolderScope {
		roots = append(roots, filepath.Join(e.vaultRoot, folder))
	}
	return security.NewScope(roots[0], roots[1:]...)
}

func addUsage(total *provider.Usage, u provider.Usage) {
	total.PromptTokens += u.PromptTokens
	total.CompletionTokens += u.CompletionTokens
	total.TotalTokens += u.TotalTokens
}
