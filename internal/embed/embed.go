// Package embed defines the embedding provider interface and its concrete
// backends (Gemini via the genai SDK, Ollama via its HTTP API).
package embed

import "context"

// Embedder maps text to fixed-dimension vectors. Implementations must be
// safe for concurrent use.
type Embedder interface {
	// Embed vectorizes each input text, returning one vector per input in
	// the same order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the embedding model identifier recorded on store
	// entries.
	Model() string

	// Dimension returns the vector dimension this embedder produces.
	Dimension() int
}
