package index

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ddunnock/mnemosyne/internal/chunk"
)

const testModel = "test-model"

func testEntry(id, docID, text string, vec []float32) Entry {
	return Entry{
		Chunk: chunk.Chunk{
			ID:        id,
			DocID:     docID,
			DocTitle:  docID,
			Text:      text,
			CreatedAt: time.Now(),
		},
		Vector:         vec,
		EmbeddingModel: testModel,
	}
}

func TestMemoryQueryEmptyStore(t *testing.T) {
	m := NewMemory(testModel, 2)
	got, err := m.Query(context.Background(), Query{Strategy: Keyword, Text: "anything", TopK: 5})
	if err != nil {
		t.Fatalf("Query on empty store: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("empty store returned %d results", len(got))
	}
}

func TestMemoryQueryTopKZero(t *testing.T) {
	m := NewMemory(testModel, 2)
	if err := m.Upsert(context.Background(), []Entry{testEntry("a#0", "a", "vector", []float32{1, 0})}); err != nil {
		t.Fatal(err)
	}
	got, err := m.Query(context.Background(), Query{Strategy: Keyword, Text: "vector", TopK: 0})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("topK=0 returned %d results", len(got))
	}
}

func TestMemoryUpsertDimensionMismatch(t *testing.T) {
	m := NewMemory(testModel, 2)
	err := m.Upsert(context.Background(), []Entry{testEntry("a#0", "a", "text", []float32{1, 0, 0})})

	var dimErr *DimensionError
	if !errors.As(err, &dimErr) {
		t.Fatalf("want DimensionError, got %v", err)
	}
	if dimErr.Want != 2 || dimErr.Got != 3 {
		t.Errorf("DimensionError = %+v", dimErr)
	}
}

func TestMemoryUpsertFailedBatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(testModel, 2)

	batch := []Entry{
		testEntry("a#0", "a", "good entry", []float32{1, 0}),
		testEntry("a#1", "a", "bad entry", []float32{1, 0, 0}),
	}
	var dimErr *DimensionError
	if err := m.Upsert(ctx, batch); !errors.As(err, &dimErr) {
		t.Fatalf("want DimensionError, got %v", err)
	}

	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalEntries != 0 {
		t.Errorf("failed batch left %d entries behind", stats.TotalEntries)
	}
}

func TestMemoryUpsertStaleEntryAnyDimension(t *testing.T) {
	m := NewMemory(testModel, 2)
	stale := testEntry("a#0", "a", "text", []float32{1, 0, 0})
	stale.EmbeddingModel = "other-model"
	if err := m.Upsert(context.Background(), []Entry{stale}); err != nil {
		t.Fatalf("stale entry with foreign dimension must be accepted: %v", err)
	}
}

func TestMemoryQueryOrderingAndThreshold(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(testModel, 2)

	entries := []Entry{
		testEntry("a#0", "a", "exact", []float32{1, 0}),   // cos 1.0 -> score 1.0
		testEntry("a#1", "a", "close", []float32{1, 1}),   // cos ~0.707 -> ~0.85
		testEntry("b#0", "b", "far", []float32{-1, 0}),    // cos -1 -> 0
		testEntry("b#1", "b", "ortho", []float32{0, 1}),   // cos 0 -> 0.5
	}
	if err := m.Upsert(ctx, entries); err != nil {
		t.Fatal(err)
	}

	got, err := m.Query(ctx, Query{
		Strategy:       Semantic,
		Vector:         []float32{1, 0},
		TopK:           10,
		ScoreThreshold: 0.4,
	})
	if err != nil {
		t.Fatal(err)
	}

	wantIDs := []string{"a#0", "a#1", "b#1"} // 0-score entry filtered out
	if len(got) != len(wantIDs) {
		t.Fatalf("got %d results, want %d", len(got), len(wantIDs))
	}
	for i, r := range got {
		if r.Entry.Chunk.ID != wantIDs[i] {
			t.Errorf("rank %d = %s, want %s", i+1, r.Entry.Chunk.ID, wantIDs[i])
		}
		if r.Rank != i+1 {
			t.Errorf("rank field = %d, want %d", r.Rank, i+1)
		}
		if i > 0 && got[i-1].Score < r.Score {
			t.Error("results are not in descending score order")
		}
	}
}

func TestMemoryQueryTopKTruncates(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(testModel, 2)
	for _, e := range []Entry{
		testEntry("a#0", "a", "vector one", []float32{1, 0}),
		testEntry("a#1", "a", "vector two", []float32{1, 0}),
		testEntry("a#2", "a", "vector three", []float32{1, 0}),
	} {
		if err := m.Upsert(ctx, []Entry{e}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := m.Query(ctx, Query{Strategy: Keyword, Text: "vector", TopK: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("topK=2 returned %d results", len(got))
	}
}

func TestMemoryQueryFilters(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(testModel, 2)

	a := testEntry("a#0", "doc-a", "vector notes", []float32{1, 0})
	a.Chunk.ContentType = chunk.ContentConcept
	a.Chunk.Keywords = []string{"vector", "notes"}
	b := testEntry("b#0", "doc-b", "vector code", []float32{1, 0})
	b.Chunk.ContentType = chunk.ContentCode
	if err := m.Upsert(ctx, []Entry{a, b}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		filters map[string][]string
		wantIDs []string
	}{
		{"by doc id", map[string][]string{"doc_id": {"doc-a"}}, []string{"a#0"}},
		{"by content type", map[string][]string{"content_type": {chunk.ContentCode}}, []string{"b#0"}},
		{"set membership", map[string][]string{"doc_id": {"doc-a", "doc-b"}}, []string{"a#0", "b#0"}},
		{"by keyword", map[string][]string{"keyword": {"notes"}}, []string{"a#0"}},
		{"unknown key never matches", map[string][]string{"mystery": {"x"}}, nil},
		{"empty allowed set is ignored", map[string][]string{"doc_id": {}}, []string{"a#0", "b#0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Query(ctx, Query{
				Strategy: Keyword,
				Text:     "vector",
				TopK:     10,
				Filters:  tt.filters,
			})
			if err != nil {
				t.Fatal(err)
			}
			ids := make(map[string]bool)
			for _, r := range got {
				ids[r.Entry.Chunk.ID] = true
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("got %d results, want %d", len(got), len(tt.wantIDs))
			}
			for _, id := range tt.wantIDs {
				if !ids[id] {
					t.Errorf("missing expected result %s", id)
				}
			}
		})
	}
}

func TestMemoryTieBreakSemanticThenRecency(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(testModel, 2)

	older := testEntry("a#0", "a", "vector", []float32{1, 0})
	older.Chunk.CreatedAt = time.Now().Add(-time.Hour)
	newer := testEntry("b#0", "b", "vector", []float32{1, 0})
	newer.Chunk.CreatedAt = time.Now()
	if err := m.Upsert(ctx, []Entry{older, newer}); err != nil {
		t.Fatal(err)
	}

	// Keyword strategy: identical scores, identical (zero) semantic
	// scores, so recency decides.
	got, err := m.Query(ctx, Query{Strategy: Keyword, Text: "vector", TopK: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results", len(got))
	}
	if got[0].Entry.Chunk.ID != "b#0" {
		t.Errorf("tie should break to the newer chunk, got %s first", got[0].Entry.Chunk.ID)
	}
}

func TestMemoryDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(testModel, 2)
	if err := m.Upsert(ctx, []Entry{
		testEntry("a#0", "doc-a", "vector", []float32{1, 0}),
		testEntry("a#1", "doc-a", "vector", []float32{1, 0}),
		testEntry("b#0", "doc-b", "vector", []float32{1, 0}),
	}); err != nil {
		t.Fatal(err)
	}

	if err := m.Delete(ctx, "doc-a"); err != nil {
		t.Fatal(err)
	}
	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalEntries != 1 {
		t.Errorf("after delete: %d entries, want 1", stats.TotalEntries)
	}
	if _, ok := stats.PerDocument["doc-a"]; ok {
		t.Error("deleted document still in stats")
	}

	// Deleting an unknown document is a no-op.
	if err := m.Delete(ctx, "missing"); err != nil {
		t.Errorf("Delete(missing) = %v", err)
	}
}

func TestMemoryUpsertPreservesCreatedAt(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(testModel, 2)

	first := testEntry("a#0", "a", "vector", []float32{1, 0})
	created := time.Now().Add(-time.Hour)
	first.Chunk.CreatedAt = created
	if err := m.Upsert(ctx, []Entry{first}); err != nil {
		t.Fatal(err)
	}

	second := testEntry("a#0", "a", "vector updated", []float32{0, 1})
	if err := m.Upsert(ctx, []Entry{second}); err != nil {
		t.Fatal(err)
	}

	got, err := m.Query(ctx, Query{Strategy: Keyword, Text: "vector", TopK: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatal("entry missing after reupsert")
	}
	if !got[0].Entry.Chunk.CreatedAt.Equal(created) {
		t.Error("reupsert did not preserve creation time")
	}
	if !got[0].Entry.Chunk.ModifiedAt.After(created) {
		t.Error("reupsert did not refresh modification time")
	}
}
