// Package provider presents one interface — send role-tagged messages,
// get a response — over heterogeneous LLM backends, masking per-backend
// quirks.
//
// Three backends are included: an OpenAI-compatible chat-completions
// client (which also covers self-hosted compatible servers via a custom
// endpoint), an Ollama client, and Gemini through the genai SDK. Each
// maps its wire format into the shared Message/Response types and reports
// failures through the uniform error taxonomy in errors.go. This layer
// never retries; retry policy belongs to the caller.
package provider

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"
)

// Role tags a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one role-tagged conversation entry.
type Message struct {
	Role    Role
	Content string

	// ToolCall is set on assistant messages that requested a tool.
	ToolCall *FunctionCall
	// ToolName and ToolCallID are set on tool-result messages, echoing
	// the call they answer.
	ToolName   string
	ToolCallID string
}

// FunctionCall is a model-initiated structured tool invocation.
type FunctionCall struct {
	// ID is the backend's call identifier, echoed back on the tool-result
	// message for backends that require it.
	ID   string
	Name string
	// Arguments is the parsed argument object.
	Arguments map[string]any
	// Raw is the backend's serialized argument form, kept for diagnostics.
	Raw string
}

// ToolDef advertises one callable tool schema to the model.
type ToolDef struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
}

// Options are sampling options for one call. Zero values mean "backend
// default". The normalization table in normalize.go may silently override
// these for model families with fixed parameters.
type Options struct {
	Temperature *float64
	MaxTokens   int
}

// Usage reports token consumption for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Finish reasons normalized across backends.
const (
	FinishStop      = "stop"
	FinishLength    = "length"
	FinishToolCalls = "tool_calls"
)

// Response is the uniform result of a chat call.
type Response struct {
	Text         string
	ToolCall     *FunctionCall
	Usage        Usage
	FinishReason string

	Backend string
	Model   string
}

// StreamChunk is one incremental piece of a streamed response. The
// terminal chunk has Done set; if the connection dropped mid-stream the
// terminal chunk still carries the last received partial content and the
// error is returned separately by Stream.
type StreamChunk struct {
	Content string
	Done    bool
}

// Backend is one concrete model provider. Implementations must be safe
// for concurrent use.
type Backend interface {
	// Name returns the backend identifier ("openai", "ollama", "gemini").
	Name() string

	// Chat sends messages and returns the complete response.
	Chat(ctx context.Context, messages []Message, opts Options) (*Response, error)

	// Stream sends messages and delivers incremental chunks to onChunk,
	// synchronously and in arrival order. It returns only after the
	// terminal chunk has been delivered.
	Stream(ctx context.Context, messages []Message, onChunk func(StreamChunk), opts Options) (*Response, error)

	// ChatWithTools is Chat with tool schemas advertised to the model.
	// Malformed tool-call arguments get one bounded repair pass before
	// the call fails with KindMalformedResponse.
	ChatWithTools(ctx context.Context, messages []Message, tools []ToolDef, opts Options) (*Response, error)
}
