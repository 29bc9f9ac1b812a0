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

// openAIName is the backend identifier. A custom endpoint pointed at any
// chat-completions-compatible server (vLLM, LM Studio, llama.cpp) reuses
// this backend unchanged.
const openAIName = "openai"

// OpenAI is a chat-completions backend over plain HTTP.
type OpenAI struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewOpenAI creates an OpenAI-compatible backend. Empty baseURL defaults
// to the official API endpoint.
func NewOpenAI(baseURL, apiKey, model string) *OpenAI {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAI{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 300 * time.Second},
	}
}

// Name returns the backend identifier.
func (*OpenAI) Name() string { return openAIName }

type oaMessage struct {
	Role       string       `json:"role"`
	Content    string       `json:"content"`
	ToolCalls  []oaToolCall `json:"tool_calls,omitempty"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
	Name       string       `json:"name,omitempty"`
}

type oaToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  json.RawMessage `json:"parameters"`
	} `json:"function"`
}

type oaUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type oaResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      oaMessage `json:"message"`
		FinishReason string    `json:"finish_reason"`
	} `json:"choices"`
	Usage oaUsage `json:"usage"`
}

type oaStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *oaUsage `json:"usage"`
}

// Chat sends messages and returns the complete response.
func (o *OpenAI) Chat(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	return o.complete(ctx, messages, nil, opts)
}

// ChatWithTools is Chat with tool schemas advertised to the model.
func (o *OpenAI) ChatWithTools(ctx context.Context, messages []Message, tools []ToolDef, opts Options) (*Response, error) {
	return o.complete(ctx, messages, tools, opts)
}

func (o *OpenAI) complete(ctx context.Context, messages []Message, tools []ToolDef, opts Options) (*Response, error) {
	body, err := o.buildRequest(messages, tools, opts, false)
	if err != nil {
		return nil, err
	}

	raw, err := o.post(ctx, body)
	if err != nil {
		return nil, err
	}

	var or oaResponse
	if err := json.Unmarshal(raw, &or); err != nil {
		return nil, newError(openAIName, o.model, KindMalformedResponse, "undecodable response body", err)
	}
	if len(or.Choices) == 0 {
		return nil, newError(openAIName, o.model, KindMalformedResponse, "response has no choices", nil)
	}

	choice := or.Choices[0]
	resp := &Response{
		Text:         choice.Message.Content,
		FinishReason: normalizeFinish(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     or.Usage.PromptTokens,
			CompletionTokens: or.Usage.CompletionTokens,
			TotalTokens:      or.Usage.TotalTokens,
		},
		Backend: openAIName,
		Model:   o.model,
	}

	if len(choice.Message.ToolCalls) > 0 {
		tc := choice.Message.ToolCalls[0]
		args, perr := parseToolArguments(tc.Function.Arguments)
		if perr != nil {
			return nil, newError(openAIName, o.model, KindMalformedResponse,
				fmt.Sprintf("tool call %s has unparseable arguments", tc.Function.Name), perr)
		}
		resp.ToolCall = &FunctionCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
			Raw:       tc.Function.Arguments,
		}
		resp.FinishReason = FinishToolCalls
	}

	if resp.Text == "" && resp.ToolCall == nil {
		return nil, newError(openAIName, o.model, KindMalformedResponse, "response has neither content nor tool call", nil)
	}
	return resp, nil
}

// Stream delivers incremental chunks to onChunk in arrival order. If the
// connection drops mid-stream, the accumulated partial content is still
// delivered with a terminal chunk and returned alongside the error.
func (o *OpenAI) Stream(ctx context.Context, messages []Message, onChunk func(StreamChunk), opts Options) (*Response, error) {
	body, err := o.buildRequest(messages, nil, opts, true)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, newError(openAIName, o.model, KindNetwork, "creating request", err)
	}
	o.setHeaders(req)

	httpResp, err := o.client.Do(req)
	if err != nil {
		return nil, newError(openAIName, o.model, classifyTransport(err), "calling backend", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, newError(openAIName, o.model, classifyHTTP(httpResp.StatusCode, string(payload)),
			fmt.Sprintf("status %d", httpResp.StatusCode), nil)
	}

	var text strings.Builder
	var usage Usage
	finish := FinishStop

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var sc oaStreamChunk
		if err := json.Unmarshal([]byte(data), &sc); err != nil {
			continue // skip malformed SSE frames
		}
		if sc.Usage != nil {
			usage = Usage{
				PromptTokens:     sc.Usage.PromptTokens,
				CompletionTokens: sc.Usage.CompletionTokens,
				TotalTokens:      sc.Usage.TotalTokens,
			}
		}
		if len(sc.Choices) == 0 {
			continue
		}
		if delta := sc.Choices[0].Delta.Content; delta != "" {
			text.WriteString(delta)
			onChunk(StreamChunk{Content: delta})
		}
		if fr := sc.Choices[0].FinishReason; fr != "" {
			finish = normalizeFinish(fr)
		}
	}

	onChunk(StreamChunk{Done: true})

	resp := &Response{
		Text:         text.String(),
		FinishReason: finish,
		Usage:        usage,
		Backend:      openAIName,
		Model:        o.model,
	}
	if err := scanner.Err(); err != nil {
		// Partial content is preserved; the drop is reported separately.
		return resp, newError(openAIName, o.model, KindNetwork, "stream interrupted", err)
	}
	return resp, nil
}

func (o *OpenAI) buildRequest(messages []Message, tools []ToolDef, opts Options, stream bool) ([]byte, error) {
	params := resolveParams(o.model, opts)

	req := map[string]any{
		"model":    o.model,
		"messages": toOAMessages(messages),
	}
	if params.temperature != nil {
		req["temperature"] = *params.temperature
	}
	if params.maxTokens > 0 {
		req[params.tokenParam] = params.maxTokens
	}
	if stream {
		req["stream"] = true
		req["stream_options"] = map[string]any{"include_usage": true}
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
		req["tools"] = wire
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	return body, nil
}

func (o *OpenAI) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, newError(openAIName, o.model, KindNetwork, "creating request", err)
	}
	o.setHeaders(req)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, newError(openAIName, o.model, classifyTransport(err), "calling backend", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, newError(openAIName, o.model, KindNetwork, "reading response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newError(openAIName, o.model, classifyHTTP(resp.StatusCode, string(payload)),
			fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(string(payload), 200)), nil)
	}
	return payload, nil
}

func (o *OpenAI) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}
}

func toOAMessages(messages []Message) []oaMessage {
	out := make([]oaMessage, 0, len(messages))
	for _, m := range messages {
		om := oaMessage{Role: string(m.Role), Content: m.Content}
		if m.Role == RoleTool {
			om.ToolCallID = m.ToolCallID
			om.Name = m.ToolName
		}
		if m.ToolCall != nil {
			var tc oaToolCall
			tc.ID = m.ToolCall.ID
			tc.Type = "function"
			tc.Function.Name = m.ToolCall.Name
			tc.Function.Arguments = m.ToolCall.Raw
			om.ToolCalls = []oaToolCall{tc}
		}
		out = append(out, om)
	}
	return out
}

func normalizeFinish(reason string) string {
	switch reason {
	case "length", "max_tokens":
		return FinishLength
	case "tool_calls", "function_call":
		return FinishToolCalls
	default:
		return FinishStop
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
