package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const ollamaName = "ollama"

// Ollama is a backend over a local Ollama server's /api/chat endpoint.
// Responses stream as NDJSON; tool-call arguments arrive as structured
// objects rather than serialized JSON.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates an Ollama backend. Empty baseURL defaults to the
// standard local endpoint.
func NewOllama(baseURL, model string) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 300 * time.Second},
	}
}

// Name returns the backend identifier.
func (*Ollama) Name() string { return ollamaName }

type olMessage struct {
	Role      string       `json:"role"`
	Content   string       `json:"content"`
	ToolCalls []olToolCall `json:"tool_calls,omitempty"`
}

type olToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type olChatRequest struct {
	Model    string         `json:"model"`
	Messages []olMessage    `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
	Tools    []oaTool       `json:"tools,omitempty"` // same wire shape as OpenAI tools
}

type olChatResponse struct {
	Model           string    `json:"model"`
	Message         olMessage `json:"message"`
	Done            bool      `json:"done"`
	DoneReason      string    `json:"done_reason"`
	PromptEvalCount int       `json:"prompt_eval_count"`
	EvalCount       int       `json:"eval_count"`
}

// Chat sends messages and returns the complete response.
func (o *Ollama) Chat(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	return o.complete(ctx, messages, nil, opts)
}

// ChatWithTools is Chat with tool schemas advertised to the model.
func (o *Ollama) ChatWithTools(ctx context.Context, messages []Message, tools []ToolDef, opts Options) (*Response, error) {
	return o.complete(ctx, messages, tools, opts)
}

func (o *Ollama) complete(ctx context.Context, messages []Message, tools []ToolDef, opts Options) (*Response, error) {
	body, err := o.buildRequest(messages, tools, opts, false)
	if err != nil {
		return nil, err
	}

	httpResp, err := o.post(ctx, body)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, newError(ollamaName, o.model, classifyHTTP(httpResp.StatusCode, string(payload)),
			fmt.Sprintf("status %d", httpResp.StatusCode), nil)
	}

	var or olChatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&or); err != nil {
		return nil, newError(ollamaName, o.model, KindMalformedResponse, "undecodable response body", err)
	}

	resp := o.toResponse(&or)
	if resp.Text == "" && resp.ToolCall == nil {
		return nil, newError(ollamaName, o.model, KindMalformedResponse, "response has neither content nor tool call", nil)
	}
	return resp, nil
}

// Stream delivers NDJSON chunks to onChunk in arrival order. Partial
// content survives a mid-stream drop and is returned with the error.
func (o *Ollama) Stream(ctx context.Context, messages []Message, onChunk func(StreamChunk), opts Options) (*Response, error) {
	body, err := o.buildRequest(messages, nil, opts, true)
	if err != nil {
		return nil, err
	}

	httpResp, err := o.post(ctx, body)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, newError(ollamaName, o.model, classifyHTTP(httpResp.StatusCode, string(payload)),
			fmt.Sprintf("status %d", httpResp.StatusCode), nil)
	}

	var text strings.Builder
	var usage Usage
	finish := FinishStop

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var chunk olChatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue // skip malformed lines
		}
		if chunk.Message.Content != "" {
			text.WriteString(chunk.Message.Content)
			onChunk(StreamChunk{Content: chunk.Message.Content})
		}
		if chunk.Done {
			usage = Usage{
				PromptTokens:     chunk.PromptEvalCount,
				CompletionTokens: chunk.EvalCount,
				TotalTokens:      chunk.PromptEvalCount + chunk.EvalCount,
			}
			if chunk.DoneReason == "length" {
				finish = FinishLength
			}
			break
		}
	}

	onChunk(StreamChunk{Done: true})

	resp := &Response{
		Text:         text.String(),
		FinishReason: finish,
		Usage:        usage,
		Backend:      ollamaName,
		Model:        o.model,
	}
	if err := scanner.Err(); err != nil {
		return resp, newError(ollamaName, o.model, KindNetwork, "stream interrupted", err)
	}
	return resp, nil
}

func (o *Ollama) buildRequest(messages []Message, tools []ToolDef, opts Options, stream bool) ([]byte, error) {
	params := resolveParams(o.model, opts)

	req := olChatRequest{
		Model:    o.model,
		Messages: toOllamaMessages(messages),
		Stream:   stream,
	}

	options := map[string]any{}
	if params.temperature != nil {
		options["temperature"] = *params.temperature
	}
	if params.maxTokens > 0 {
		// Ollama names its token limit num_predict regardless of model.
		options["num_predict"] = params.maxTokens
	}
	if len(options) > 0 {
		req.Options = options
	}

	if len(tools) > 0 {
		wire := make([]oaTool, len(tools))
		for i, t := range tools {
			schema, err := json.Marshal(t.Schema)
			if err != nil {
				return nil, fmt.Errorf("encoding schema for tool %s: %w", t.Name, err)
			}
			wire[i].Type = "function"
			wire[i].Function.Name = t.Name
			wire[i].Function.Description = t.Description
			wire[i].Function.Parameters = schema
		}
		req.Tools = wire
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	return body, nil
}

func (o *Ollama) post(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, newError(ollamaName, o.model, KindNetwork, "creating request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, newError(ollamaName, o.model, classifyTransport(err), "calling backend", err)
	}
	return resp, nil
}

func (o *Ollama) toResponse(or *olChatResponse) *Response {
	resp := &Response{
		Text: or.Message.Content,
		Usage: Usage{
			PromptTokens:     or.PromptEvalCount,
			CompletionTokens: or.EvalCount,
			TotalTokens:      or.PromptEvalCount + or.EvalCount,
		},
		FinishReason: FinishStop,
		Backend:      ollamaName,
		Model:        o.model,
	}
	if or.DoneReason == "length" {
		resp.FinishReason = FinishLength
	}
	if len(or.Message.ToolCalls) > 0 {
		tc := or.Message.ToolCalls[0]
		raw, _ := json.Marshal(tc.Function.Arguments)
		resp.ToolCall = &FunctionCall{
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
			Raw:       string(raw),
		}
		resp.FinishReason = FinishToolCalls
	}
	return resp
}

func toOllamaMessages(messages []Message) []olMessage {
	out := make([]olMessage, 0, len(messages))
	for _, m := range messages {
		om := olMessage{Role: string(m.Role), Content: m.Content}
		if m.ToolCall != nil {
			var tc olToolCall
			tc.Function.Name = m.ToolCall.Name
			tc.Function.Arguments = m.ToolCall.Arguments
			om.ToolCalls = []olToolCall{tc}
		}
		out = append(out, om)
	}
	return out
}
