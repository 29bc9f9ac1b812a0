package index

import (
	"math"

	"github.com/ddunnock/mnemosyne/internal/chunk"
)

// DefaultHybridSemanticWeight is the semantic share of the hybrid score
// when neither the query nor the store configuration overrides it.
// Semantic-dominant: keyword overlap refines rather than drives ranking.
const DefaultHybridSemanticWeight = 0.7

// CosineSimilarity returns the cosine similarity of two vectors mapped
// into [0,1] (raw cosine is in [-1,1]; retrieval scores are defined on
// [0,1] so thresholds compose with keyword scores).
// Mismatched lengths or zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return clamp01((cos + 1) / 2)
}

// KeywordScore computes a normalized term-frequency overlap between query
// tokens and chunk text: the fraction of query terms present in the
// chunk, weighted by how often each term occurs (capped so a single
// repeated term cannot saturate the score).
func KeywordScore(queryTokens []string, text string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}

	tf := make(map[string]int)
	for _, tok := range chunk.Tokenize(text) {
		tf[tok]++
	}
	if len(tf) == 0 {
		return 0
	}

	var sum float64
	for _, q := range queryTokens {
		n := tf[q]
		if n > 3 {
			n = 3
		}
		sum += float64(n) / 3
	}
	return clamp01(sum / float64(len(queryTokens)))
}

// scoreEntry computes the component and combined scores of one candidate
// under the given query. ok is false when the entry cannot be scored at
// all under the strategy (e.g. a stale vector for a semantic query).
func scoreEntry(e *Entry, q *Query, queryTokens []string, storeModel string, hybridWeight float64) (r Retrieved, ok bool) {
	r.Entry = *e

	stale := e.EmbeddingModel != storeModel

	switch q.Strategy {
	case Keyword:
		r.KeywordScore = KeywordScore(queryTokens, e.Chunk.Text)
		r.Score = r.KeywordScore
		return r, true

	case Semantic:
		if stale {
			return r, false
		}
		r.SemanticScore = CosineSimilarity(q.Vector, e.Vector)
		r.Score = r.SemanticScore
		return r, true

	case Hybrid:
		r.KeywordScore = KeywordScore(queryTokens, e.Chunk.Text)
		if stale {
			// Stale entries fall back to keyword-only evidence, weighted
			// down so fresh vectors dominate.
			r.Score = (1 - hybridWeight) * r.KeywordScore
			return r, true
		}
		r.SemanticScore = CosineSimilarity(q.Vector, e.Vector)
		r.Score = hybridWeight*r.SemanticScore + (1-hybridWeight)*r.KeywordScore
		return r, true

	default:
		return r, false
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
