// Package index implements the vector store: durable storage of embedded
// chunks and nearest-neighbor, keyword and hybrid querying with metadata
// filtering.
//
// Three backends share one contract: Memory (tests and ephemeral use),
// File (flat JSON index guarded by a file lock) and Postgres (pgx +
// pgvector). Scoring semantics are identical across backends.
package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ddunnock/mnemosyne/internal/chunk"
)

// ErrStoreIO wraps persistence failures. These must never be silently
// swallowed: a lost write risks losing index data.
var ErrStoreIO = errors.New("store I/O failure")

// DimensionError reports an entry whose vector length does not match the
// store's configured dimension.
type DimensionError struct {
	ChunkID string
	Want    int
	Got     int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("dimension mismatch for chunk %s: want %d, got %d", e.ChunkID, e.Want, e.Got)
}

// Strategy selects how query candidates are scored.
type Strategy string

const (
	Semantic Strategy = "semantic"
	Keyword  Strategy = "keyword"
	Hybrid   Strategy = "hybrid"
)

// Entry is a chunk plus its embedding vector and the identifier of the
// model that produced it. Entries whose model does not match the store's
// configured model are stale: they are excluded from vector scoring and
// reachable only through the keyword strategy.
type Entry struct {
	Chunk          chunk.Chunk `json:"chunk"`
	Vector         []float32   `json:"vector"`
	EmbeddingModel string      `json:"embedding_model"`
}

// Retrieved is an entry surfaced as a query result. Ephemeral: built per
// query, never persisted.
type Retrieved struct {
	Entry Entry

	// Score is the relevance in [0,1] under the query strategy.
	Score float64
	// SemanticScore and KeywordScore are the component scores; for
	// single-strategy queries only the relevant one is populated.
	SemanticScore float64
	KeywordScore  float64

	Rank int
}

// Query describes one retrieval request.
type Query struct {
	// Text is the raw query text, used for keyword scoring.
	Text string
	// Vector is the embedded query, required for semantic and hybrid.
	Vector []float32

	TopK           int
	ScoreThreshold float64
	Strategy       Strategy

	// Filters use set-membership semantics: an entry passes if, for every
	// key, one of its values for that key is in the allowed set.
	Filters map[string][]string

	// HybridSemanticWeight is the semantic share of the hybrid score;
	// zero means "use the store default".
	HybridSemanticWeight float64
}

// Stats summarizes store contents.
type Stats struct {
	TotalEntries   int
	EmbeddingModel string
	Dimension      int
	PerDocument    map[string]int
}

// Store is the vector store contract. Implementations must return an
// empty result set (not an error) for queries against an empty store, and
// must surface persistence failures wrapped in ErrStoreIO.
type Store interface {
	// Upsert inserts or replaces entries by chunk ID.
	Upsert(ctx context.Context, entries []Entry) error

	// Query returns up to TopK results in strictly descending score
	// order, all scoring at or above the threshold.
	Query(ctx context.Context, q Query) ([]Retrieved, error)

	// Delete removes all entries belonging to a document.
	Delete(ctx context.Context, docID string) error

	// Stats reports store contents. Read-only.
	Stats(ctx context.Context) (Stats, error)

	Close() error
}

// attributeValues exposes an entry's filterable attributes. Filter keys
// not listed here never match.
func attributeValues(e *Entry, key string) []string {
	switch key {
	case "doc_id":
		return []string{e.Chunk.DocID}
	case "doc_title":
		return []string{e.Chunk.DocTitle}
	case "content_type":
		return []string{e.Chunk.ContentType}
	case "section":
		return e.Chunk.SectionPath
	case "keyword":
		return e.Chunk.Keywords
	default:
		return nil
	}
}

// matchesFilters applies set-membership filtering: every filter key must
// intersect the entry's values for that key.
func matchesFilters(e *Entry, filters map[string][]string) bool {
	for key, allowed := range filters {
		if len(allowed) == 0 {
			continue
		}
		values := attributeValues(e, key)
		found := false
		for _, v := range values {
			for _, a := range allowed {
				if v == a {
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// moreRelevant orders results by score descending, breaking ties by
// semantic score, then by chunk recency.
func moreRelevant(a, b *Retrieved) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.SemanticScore != b.SemanticScore {
		return a.SemanticScore > b.SemanticScore
	}
	return a.Entry.Chunk.CreatedAt.After(b.Entry.Chunk.CreatedAt)
}

// touchModified is used on reingestion so recomputed entries carry a
// fresh modification timestamp while keeping their creation time.
func touchModified(existing, incoming *Entry) {
	if !existing.Chunk.CreatedAt.IsZero() {
		incoming.Chunk.CreatedAt = existing.Chunk.CreatedAt
	}
	incoming.Chunk.ModifiedAt = time.Now()
}
