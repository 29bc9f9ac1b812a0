package index

import (
	"context"
	"sort"
	"sync"

	"github.com/ddunnock/mnemosyne/internal/chunk"
	"github.com/ddunnock/mnemosyne/internal/log"
)

// Memory is an in-process vector store. It is the scoring reference
// implementation: the File store embeds it for querying, and tests use it
// directly.
//
// Memory is safe for concurrent use. Queries against entries being
// upserted concurrently are read-committed, not serializable: a query
// started before an upsert completes may not see its entries.
type Memory struct {
	mu sync.RWMutex

	entries map[string]Entry    // chunk ID -> entry
	docs    map[string][]string // doc ID -> chunk IDs

	model        string
	dimension    int
	hybridWeight float64
	logger       log.Logger
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithHybridWeight overrides the default semantic share of hybrid scores.
func WithHybridWeight(w float64) MemoryOption {
	return func(m *Memory) {
		if w >= 0 && w <= 1 {
			m.hybridWeight = w
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(logger log.Logger) MemoryOption {
	return func(m *Memory) { m.logger = logger }
}

// NewMemory creates an empty in-memory store configured for the given
// embedding model and vector dimension.
func NewMemory(model string, dimension int, opts ...MemoryOption) *Memory {
	m := &Memory{
		entries:      make(map[string]Entry),
		docs:         make(map[string][]string),
		model:        model,
		dimension:    dimension,
		hybridWeight: DefaultHybridSemanticWeight,
		logger:       log.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Upsert inserts or replaces entries by chunk ID. Entries carrying the
// store's model must match the configured dimension; stale entries (other
// models) are stored as-is and excluded from vector scoring.
func (m *Memory) Upsert(ctx context.Context, entries []Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate the whole batch before mutating so a failed upsert leaves
	// the store untouched.
	for i := range entries {
		e := &entries[i]
		if e.EmbeddingModel == m.model && len(e.Vector) != m.dimension {
			return &DimensionError{ChunkID: e.Chunk.ID, Want: m.dimension, Got: len(e.Vector)}
		}
	}

	for i := range entries {
		e := entries[i]
		if prev, exists := m.entries[e.Chunk.ID]; exists {
			touchModified(&prev, &e)
		} else {
			m.docs[e.Chunk.DocID] = append(m.docs[e.Chunk.DocID], e.Chunk.ID)
		}
		m.entries[e.Chunk.ID] = e
	}
	return nil
}

// Query scores all candidates passing the metadata pre-filter and returns
// the topK at or above the threshold, in strictly descending score order.
// An empty store returns an empty result set.
func (m *Memory) Query(ctx context.Context, q Query) ([]Retrieved, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.TopK <= 0 {
		return []Retrieved{}, nil
	}

	weight := q.HybridSemanticWeight
	if weight <= 0 || weight > 1 {
		weight = m.hybridWeight
	}
	queryTokens := chunk.Tokenize(q.Text)

	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]Retrieved, 0, len(m.entries))
	for id := range m.entries {
		e := m.entries[id]
		if !matchesFilters(&e, q.Filters) {
			continue
		}
		r, ok := scoreEntry(&e, &q, queryTokens, m.model, weight)
		if !ok || r.Score < q.ScoreThreshold {
			continue
		}
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		return moreRelevant(&results[i], &results[j])
	})
	if len(results) > q.TopK {
		results = results[:q.TopK]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results, nil
}

// Delete removes all entries belonging to a document. Deleting an unknown
// document is a no-op.
func (m *Memory) Delete(ctx context.Context, docID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.docs[docID] {
		delete(m.entries, id)
	}
	delete(m.docs, docID)
	return nil
}

// Stats reports store contents.
func (m *Memory) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	perDoc := make(map[string]int, len(m.docs))
	for docID, ids := range m.docs {
		perDoc[docID] = len(ids)
	}
	return Stats{
		TotalEntries:   len(m.entries),
		EmbeddingModel: m.model,
		Dimension:      m.dimension,
		PerDocument:    perDoc,
	}, nil
}

// Close is a no-op for the in-memory store.
func (*Memory) Close() error { return nil }

// snapshot returns a copy of all entries, used by the File store for
// persistence.
func (m *Memory) snapshot() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out
}
