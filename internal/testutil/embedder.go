// Package testutil provides shared testing utilities: a deterministic
// embedder, a scripted LLM backend and a PostgreSQL test container.
package testutil

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
)

// HashEmbedder is a deterministic bag-of-words embedder for tests. Each
// token hashes into one bucket of the vector, so texts sharing words
// produce vectors with high cosine similarity, and identical texts
// produce identical vectors. No network, no model.
type HashEmbedder struct {
	ModelID string
	Dim     int

	mu    sync.Mutex
	calls int
	// FailOn makes embedding fail for texts containing the substring,
	// which exercises partial-ingest paths.
	FailOn string
}

// NewHashEmbedder creates a hash embedder with the given dimension.
func NewHashEmbedder(dim int) *HashEmbedder {
	return &HashEmbedder{ModelID: "hash-test", Dim: dim}
}

// Embed vectorizes each text deterministically.
func (h *HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if h.FailOn != "" && strings.Contains(text, h.FailOn) {
			return nil, fmt.Errorf("embedding refused for test input %d", i)
		}
		out[i] = h.vectorize(text)
	}
	return out, nil
}

func (h *HashEmbedder) vectorize(text string) []float32 {
	vec := make([]float32, h.Dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		f := fnv.New32a()
		_, _ = f.Write([]byte(strings.Trim(tok, ".,!?;:\"'()")))
		vec[int(f.Sum32())%h.Dim]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// Model returns the test model identifier.
func (h *HashEmbedder) Model() string { return h.ModelID }

// Dimension returns the configured vector dimension.
func (h *HashEmbedder) Dimension() int { return h.Dim }

// Calls reports how many Embed invocations happened.
func (h *HashEmbedder) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}
