package index

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/ddunnock/mnemosyne/internal/log"
)

// fileFormatVersion guards against loading an index written by an
// incompatible layout.
const fileFormatVersion = 1

// fileIndex is the on-disk layout of the flat index.
type fileIndex struct {
	Version   int     `json:"version"`
	Model     string  `json:"embedding_model"`
	Dimension int     `json:"dimension"`
	Entries   []Entry `json:"entries"`
}

// File is a vector store persisted as a flat JSON index. Scoring happens
// in-process through an embedded Memory store; every mutation rewrites
// the index atomically (temp file + rename) under a cross-process file
// lock.
//
// Suited to vaults up to a few thousand chunks; larger corpora should use
// the Postgres backend.
type File struct {
	mem    *Memory
	path   string
	lock   *flock.Flock
	logger log.Logger
}

// OpenFile opens (or creates) a flat index at path for the given
// embedding model and dimension. An existing index recorded with a
// different model is loaded as-is: its entries become stale and are
// excluded from vector scoring until reingestion.
func OpenFile(path, model string, dimension int, logger log.Logger, opts ...MemoryOption) (*File, error) {
	if logger == nil {
		logger = log.NewNop()
	}

	f := &File{
		mem:    NewMemory(model, dimension, append(opts, WithLogger(logger))...),
		path:   path,
		lock:   flock.New(path + ".lock"),
		logger: logger,
	}

	if err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) load() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // fresh index
		}
		return fmt.Errorf("%w: reading index %s: %v", ErrStoreIO, f.path, err)
	}

	var idx fileIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("%w: parsing index %s: %v", ErrStoreIO, f.path, err)
	}
	if idx.Version != fileFormatVersion {
		return fmt.Errorf("%w: index %s has unsupported version %d", ErrStoreIO, f.path, idx.Version)
	}

	// Load directly into the memory store, preserving each entry's
	// recorded model so staleness detection keeps working.
	f.mem.mu.Lock()
	for i := range idx.Entries {
		e := idx.Entries[i]
		f.mem.entries[e.Chunk.ID] = e
		f.mem.docs[e.Chunk.DocID] = append(f.mem.docs[e.Chunk.DocID], e.Chunk.ID)
	}
	f.mem.mu.Unlock()

	f.logger.Debug("loaded flat index", "path", f.path, "entries", len(idx.Entries))
	return nil
}

// Upsert inserts or replaces entries and persists the index.
func (f *File) Upsert(ctx context.Context, entries []Entry) error {
	if err := f.mem.Upsert(ctx, entries); err != nil {
		return err
	}
	return f.persist()
}

// Query delegates to the in-process scorer.
func (f *File) Query(ctx context.Context, q Query) ([]Retrieved, error) {
	return f.mem.Query(ctx, q)
}

// Delete removes a document's entries and persists the index.
func (f *File) Delete(ctx context.Context, docID string) error {
	if err := f.mem.Delete(ctx, docID); err != nil {
		return err
	}
	return f.persist()
}

// Stats delegates to the in-process store.
func (f *File) Stats(ctx context.Context) (Stats, error) {
	return f.mem.Stats(ctx)
}

// Close releases the lock file.
func (f *File) Close() error {
	if err := f.lock.Unlock(); err != nil {
		return fmt.Errorf("releasing index lock: %w", err)
	}
	return nil
}

// persist rewrites the whole index atomically. The flock serializes
// writers across processes; the rename keeps readers from ever seeing a
// torn file.
func (f *File) persist() error {
	if err := f.lock.Lock(); err != nil {
		return fmt.Errorf("%w: acquiring index lock: %v", ErrStoreIO, err)
	}
	defer func() {
		if err := f.lock.Unlock(); err != nil {
			f.logger.Warn("failed to release index lock", "error", err)
		}
	}()

	idx := fileIndex{
		Version:   fileFormatVersion,
		Model:     f.mem.model,
		Dimension: f.mem.dimension,
		Entries:   f.mem.snapshot(),
	}

	data, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("%w: encoding index: %v", ErrStoreIO, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".index-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: creating temp index: %v", ErrStoreIO, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: writing index: %v", ErrStoreIO, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: closing temp index: %v", ErrStoreIO, err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: replacing index: %v", ErrStoreIO, err)
	}

	return nil
}
