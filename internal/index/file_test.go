package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.json")

	f, err := OpenFile(path, testModel, 2, nil)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	entries := []Entry{
		testEntry("a#0", "doc-a", "vector notes here", []float32{1, 0}),
		testEntry("a#1", "doc-a", "more vector text", []float32{0, 1}),
	}
	if err := f.Upsert(ctx, entries); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen and verify everything survived.
	f2, err := OpenFile(path, testModel, 2, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = f2.Close() }()

	stats, err := f2.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalEntries != 2 {
		t.Errorf("reloaded %d entries, want 2", stats.TotalEntries)
	}

	got, err := f2.Query(ctx, Query{Strategy: Semantic, Vector: []float32{1, 0}, TopK: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Entry.Chunk.ID != "a#0" {
		t.Errorf("query after reload = %+v", got)
	}
}

func TestFileStoreDeletePersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.json")

	f, err := OpenFile(path, testModel, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Upsert(ctx, []Entry{
		testEntry("a#0", "doc-a", "vector", []float32{1, 0}),
		testEntry("b#0", "doc-b", "vector", []float32{1, 0}),
	}); err != nil {
		t.Fatal(err)
	}
	if err := f.Delete(ctx, "doc-a"); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	f2, err := OpenFile(path, testModel, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f2.Close() }()

	stats, err := f2.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalEntries != 1 {
		t.Errorf("after persisted delete: %d entries, want 1", stats.TotalEntries)
	}
}

func TestFileStoreCorruptIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := OpenFile(path, testModel, 2, nil)
	if !errors.Is(err, ErrStoreIO) {
		t.Errorf("corrupt index: want ErrStoreIO, got %v", err)
	}
}

func TestFileStoreUnsupportedVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	if err := os.WriteFile(path, []byte(`{"version":99,"entries":[]}`), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := OpenFile(path, testModel, 2, nil)
	if !errors.Is(err, ErrStoreIO) {
		t.Errorf("unsupported version: want ErrStoreIO, got %v", err)
	}
}

func TestFileStoreStaleModelLoadedAsIs(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.json")

	f, err := OpenFile(path, "old-model", 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	stale := testEntry("a#0", "doc-a", "vector talk", []float32{1, 0})
	stale.EmbeddingModel = "old-model"
	if err := f.Upsert(ctx, []Entry{stale}); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	// Reopen under a new model: the entry is stale, reachable only via
	// keyword scoring.
	f2, err := OpenFile(path, "new-model", 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f2.Close() }()

	semantic, err := f2.Query(ctx, Query{Strategy: Semantic, Vector: []float32{1, 0}, TopK: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(semantic) != 0 {
		t.Errorf("stale entry surfaced in semantic query")
	}

	keyword, err := f2.Query(ctx, Query{Strategy: Keyword, Text: "vector", TopK: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(keyword) != 1 {
		t.Errorf("stale entry missing from keyword query")
	}
}
