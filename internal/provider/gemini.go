package provider

import (
	"context"
	"encoding/json"

	"google.golang.org/genai"
)

const geminiName = "gemini"

// Gemini is a backend over the Gemini API via the official SDK. The SDK
// owns the wire format; this adapter maps between it and the shared
// message types, including lifting system messages into the
// SystemInstruction slot the API expects.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini backend with the given API key.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, newError(geminiName, model, KindInvalidCredentials, "API key is required", nil)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, newError(geminiName, model, classifyTransport(err), "creating client", err)
	}
	return &Gemini{client: client, model: model}, nil
}

// Name returns the backend identifier.
func (*Gemini) Name() string { return geminiName }

// Chat sends messages and returns the complete response.
func (g *Gemini) Chat(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	return g.complete(ctx, messages, nil, opts)
}

// ChatWithTools is Chat with tool schemas advertised to the model.
func (g *Gemini) ChatWithTools(ctx context.Context, messages []Message, tools []ToolDef, opts Options) (*Response, error) {
	return g.complete(ctx, messages, tools, opts)
}

func (g *Gemini) complete(ctx context.Context, messages []Message, tools []ToolDef, opts Options) (*Response, error) {
	contents, config := g.buildRequest(messages, tools, opts)

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return nil, newError(geminiName, g.model, classifyTransport(err), "calling backend", err)
	}
	return g.toResponse(resp)
}

// Stream delivers incremental chunks to onChunk in arrival order. Partial
// content survives a mid-stream failure and is returned with the error.
func (g *Gemini) Stream(ctx context.Context, messages []Message, onChunk func(StreamChunk), opts Options) (*Response, error) {
	contents, config := g.buildRequest(messages, nil, opts)

	var text []byte
	var usage Usage
	finish := FinishStop

	var streamErr error
	for chunk, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, config) {
		if err != nil {
			streamErr = err
			break
		}
		if chunk.UsageMetadata != nil {
			usage = Usage{
				PromptTokens:     int(chunk.UsageMetadata.PromptTokenCount),
				CompletionTokens: int(chunk.UsageMetadata.CandidatesTokenCount),
				TotalTokens:      int(chunk.UsageMetadata.TotalTokenCount),
			}
		}
		if len(chunk.Candidates) == 0 || chunk.Candidates[0].Content == nil {
			continue
		}
		cand := chunk.Candidates[0]
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				text = append(text, part.Text...)
				onChunk(StreamChunk{Content: part.Text})
			}
		}
		if cand.FinishReason == genai.FinishReasonMaxTokens {
			finish = FinishLength
		}
	}

	onChunk(StreamChunk{Done: true})

	resp := &Response{
		Text:         string(text),
		FinishReason: finish,
		Usage:        usage,
		Backend:      geminiName,
		Model:        g.model,
	}
	if streamErr != nil {
		return resp, newError(geminiName, g.model, classifyTransport(streamErr), "stream interrupted", streamErr)
	}
	return resp, nil
}

func (g *Gemini) buildRequest(messages []Message, tools []ToolDef, opts Options) ([]*genai.Content, *genai.GenerateContentConfig) {
	params := resolveParams(g.model, opts)

	config := &genai.GenerateContentConfig{}
	if params.temperature != nil {
		t := float32(*params.temperature)
		config.Temperature = &t
	}
	if params.maxTokens > 0 {
		config.MaxOutputTokens = int32(params.maxTokens) // #nosec G115 -- bounded config value
	}

	var contents []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			// The API takes system text out of band.
			if config.SystemInstruction == nil {
				config.SystemInstruction = genai.NewContentFromText(m.Content, genai.RoleUser)
			} else {
				config.SystemInstruction.Parts = append(config.SystemInstruction.Parts,
					genai.NewPartFromText(m.Content))
			}
		case RoleAssistant:
			content := &genai.Content{Role: genai.RoleModel}
			if m.Content != "" {
				content.Parts = append(content.Parts, genai.NewPartFromText(m.Content))
			}
			if m.ToolCall != nil {
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{Name: m.ToolCall.Name, Args: m.ToolCall.Arguments},
				})
			}
			contents = append(contents, content)
		case RoleTool:
			contents = append(contents, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{
					genai.NewPartFromFunctionResponse(m.ToolName, toolResponsePayload(m.Content)),
				},
			})
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	if len(tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(tools))
		for i, t := range tools {
			decls[i] = &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.Schema,
			}
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	return contents, config
}

func (g *Gemini) toResponse(resp *genai.GenerateContentResponse) (*Response, error) {
	out := &Response{
		FinishReason: FinishStop,
		Backend:      geminiName,
		Model:        g.model,
	}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, newError(geminiName, g.model, KindMalformedResponse, "response has no candidates", nil)
	}

	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonMaxTokens {
		out.FinishReason = FinishLength
	}
	for _, part := range cand.Content.Parts {
		if part.Text != "" {
			out.Text += part.Text
		}
		if part.FunctionCall != nil && out.ToolCall == nil {
			raw, _ := json.Marshal(part.FunctionCall.Args)
			out.ToolCall = &FunctionCall{
				Name:      part.FunctionCall.Name,
				Arguments: part.FunctionCall.Args,
				Raw:       string(raw),
			}
			out.FinishReason = FinishToolCalls
		}
	}

	if out.Text == "" && out.ToolCall == nil {
		return nil, newError(geminiName, g.model, KindMalformedResponse, "response has neither content nor tool call", nil)
	}
	return out, nil
}

// toolResponsePayload wraps a tool's serialized result for the function
// response part, which takes a structured object.
func toolResponsePayload(content string) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal([]byte(content), &obj); err == nil {
		return obj
	}
	return map[string]any{"result": content}
}
