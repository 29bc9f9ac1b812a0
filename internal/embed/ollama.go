package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Ollama embeds text through a local Ollama server's /api/embeddings
// endpoint.
type Ollama struct {
	baseURL   string
	model     string
	dimension int
	client    *http.Client
}

// NewOllama creates an Ollama embedder. Empty baseURL defaults to the
// standard local endpoint.
func NewOllama(baseURL, model string, dimension int) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &Ollama{
		baseURL:   baseURL,
		model:     model,
		dimension: dimension,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed vectorizes each text with one request per input; Ollama's
// embeddings endpoint is single-prompt.
func (o *Ollama) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for i, text := range texts {
		vec, err := o.embedOne(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding input %d: %w", i, err)
		}
		out = append(out, vec)
	}
	return out, nil
}

func (o *Ollama) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: o.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling ollama: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	var er ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(er.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}
	if o.dimension > 0 && len(er.Embedding) != o.dimension {
		return nil, fmt.Errorf("model %s produced %d dimensions, expected %d",
			o.model, len(er.Embedding), o.dimension)
	}
	return er.Embedding, nil
}

// Model returns the embedding model identifier.
func (o *Ollama) Model() string { return o.model }

// Dimension returns the configured vector dimension.
func (o *Ollama) Dimension() int { return o.dimension }
