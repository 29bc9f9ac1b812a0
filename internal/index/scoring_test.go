package index

import (
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.5},
		{"length mismatch", []float32{1, 0}, []float32{1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKeywordScore(t *testing.T) {
	tests := []struct {
		name  string
		query []string
		text  string
		want  float64
	}{
		{"no query tokens", nil, "anything", 0},
		{"no overlap", []string{"missing"}, "completely different words", 0},
		{"single occurrence", []string{"vector"}, "one vector here", 1.0 / 3},
		{"capped repetition", []string{"vector"}, "vector vector vector vector vector", 1},
		{"half the terms", []string{"vector", "missing"}, "vector vector vector appears", 0.5},
		{"empty text", []string{"vector"}, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := KeywordScore(tt.query, tt.text)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("KeywordScore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScoreEntryStale(t *testing.T) {
	e := &Entry{
		Vector:         []float32{1, 0},
		EmbeddingModel: "old-model",
	}
	e.Chunk.Text = "vector vector vector storage"
	queryTokens := []string{"vector"}

	semantic := &Query{Strategy: Semantic, Vector: []float32{1, 0}}
	if _, ok := scoreEntry(e, semantic, queryTokens, "current-model", 0.7); ok {
		t.Error("stale entry must be excluded from semantic scoring")
	}

	hybrid := &Query{Strategy: Hybrid, Vector: []float32{1, 0}}
	r, ok := scoreEntry(e, hybrid, queryTokens, "current-model", 0.7)
	if !ok {
		t.Fatal("stale entry must remain reachable under hybrid")
	}
	want := (1 - 0.7) * 1.0 // keyword-only evidence, weighted down
	if math.Abs(r.Score-want) > 1e-9 {
		t.Errorf("stale hybrid score = %v, want %v", r.Score, want)
	}
	if r.SemanticScore != 0 {
		t.Errorf("stale entry has semantic score %v", r.SemanticScore)
	}
}

func TestScoreEntryHybridBlend(t *testing.T) {
	e := &Entry{
		Vector:         []float32{1, 0},
		EmbeddingModel: "m",
	}
	e.Chunk.Text = "vector notes"

	q := &Query{Strategy: Hybrid, Vector: []float32{1, 0}}
	r, ok := scoreEntry(e, q, []string{"vector"}, "m", 0.7)
	if !ok {
		t.Fatal("fresh entry must score under hybrid")
	}
	want := 0.7*1.0 + 0.3*(1.0/3)
	if math.Abs(r.Score-want) > 1e-9 {
		t.Errorf("hybrid score = %v, want %v", r.Score, want)
	}
}
