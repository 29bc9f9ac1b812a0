package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/ddunnock/mnemosyne/internal/provider"
)

// ScriptedBackend is a provider backend that replays a fixed script of
// responses. Each Chat/ChatWithTools/Stream call consumes the next
// scripted step; running past the script fails the call. All received
// message lists are recorded for assertions.
type ScriptedBackend struct {
	BackendName string
	ModelName   string

	mu     sync.Mutex
	script []ScriptStep
	step   int

	// Calls records the message list of every invocation.
	Calls [][]provider.Message
	// ToolDefs records the tool schemas advertised on ChatWithTools calls.
	ToolDefs [][]provider.ToolDef
}

// ScriptStep is one scripted exchange: either a response or an error.
type ScriptStep struct {
	Response *provider.Response
	Err      error
}

// NewScriptedBackend creates a backend that replays steps in order.
func NewScriptedBackend(steps ...ScriptStep) *ScriptedBackend {
	return &ScriptedBackend{
		BackendName: "scripted",
		ModelName:   "scripted-model",
		script:      steps,
	}
}

// Reply is a convenience step: a plain text answer.
func Reply(text string) ScriptStep {
	return ScriptStep{Response: &provider.Response{
		Text:         text,
		FinishReason: provider.FinishStop,
		Usage:        provider.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}}
}

// CallTool is a convenience step: the model requests a tool.
func CallTool(name string, args map[string]any) ScriptStep {
	return ScriptStep{Response: &provider.Response{
		ToolCall:     &provider.FunctionCall{ID: "call-" + name, Name: name, Arguments: args},
		FinishReason: provider.FinishToolCalls,
		Usage:        provider.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}}
}

func (s *ScriptedBackend) Name() string { return s.BackendName }

func (s *ScriptedBackend) next(messages []provider.Message) (*provider.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Calls = append(s.Calls, messages)
	if s.step >= len(s.script) {
		return nil, fmt.Errorf("scripted backend exhausted after %d steps", len(s.script))
	}
	step := s.script[s.step]
	s.step++
	if step.Err != nil {
		return nil, step.Err
	}
	resp := *step.Response
	resp.Backend = s.BackendName
	resp.Model = s.ModelName
	return &resp, nil
}

// Chat replays the next scripted step.
func (s *ScriptedBackend) Chat(_ context.Context, messages []provider.Message, _ provider.Options) (*provider.Response, error) {
	return s.next(messages)
}

// ChatWithTools replays the next scripted step and records the tools.
func (s *ScriptedBackend) ChatWithTools(_ context.Context, messages []provider.Message, tools []provider.ToolDef, _ provider.Options) (*provider.Response, error) {
	s.mu.Lock()
	s.ToolDefs = append(s.ToolDefs, tools)
	s.mu.Unlock()
	return s.next(messages)
}

// Stream replays the next scripted step, delivering the text as two
// chunks followed by the terminal chunk.
func (s *ScriptedBackend) Stream(_ context.Context, messages []provider.Message, onChunk func(provider.StreamChunk), _ provider.Options) (*provider.Response, error) {
	resp, err := s.next(messages)
	if err != nil {
		return nil, err
	}
	if n := len(resp.Text); n > 1 {
		onChunk(provider.StreamChunk{Content: resp.Text[:n/2]})
		onChunk(provider.StreamChunk{Content: resp.Text[n/2:]})
	} else if n == 1 {
		onChunk(provider.StreamChunk{Content: resp.Text})
	}
	onChunk(provider.StreamChunk{Done: true})
	return resp, nil
}
