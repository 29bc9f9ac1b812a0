package index

import (
	"context"
	"testing"
	"time"

	"github.com/ddunnock/mnemosyne/internal/chunk"
	"github.com/ddunnock/mnemosyne/internal/testutil"
)

// The candidate scan is bounded; when more rows match than the cap
// allows, the newest rows must be the ones that get scored.
func TestPostgresCandidateCapPrefersNewest(t *testing.T) {
	testDB, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	const model = "test-model"
	const dim = 768

	store, err := NewPostgres(ctx, testDB.Pool, model, dim, 0.7, nil)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer func() { _ = store.Close() }()

	base := time.Now().Add(-time.Hour)
	entries := make([]Entry, 3)
	for i := range entries {
		ids := []string{"old#0", "mid#0", "new#0"}
		entries[i] = Entry{
			Chunk: chunk.Chunk{
				ID:        ids[i],
				DocID:     ids[i][:3],
				DocTitle:  ids[i][:3],
				Text:      "tomato seedlings and tomato stakes",
				Keywords:  chunk.Tokenize("tomato seedlings and tomato stakes"),
				CreatedAt: base.Add(time.Duration(i) * time.Minute),
			},
			Vector:         make([]float32, dim),
			EmbeddingModel: model,
		}
	}
	if err := store.Upsert(ctx, entries); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	prev := candidateCap
	candidateCap = 2
	defer func() { candidateCap = prev }()

	got, err := store.Query(ctx, Query{Strategy: Keyword, Text: "tomato", TopK: 5})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results, want the 2 newest under the cap", len(got))
	}
	for _, r := range got {
		if r.Entry.Chunk.ID == "old#0" {
			t.Error("capped scan kept the oldest row over a newer one")
		}
	}
}
