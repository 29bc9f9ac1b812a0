// Package rag connects the chunker, embedder and vector store into the
// retrieval pipeline: documents in, scored context out.
package rag

import (
	"context"
	"fmt"

	"github.com/ddunnock/mnemosyne/internal/chunk"
	"github.com/ddunnock/mnemosyne/internal/config"
	"github.com/ddunnock/mnemosyne/internal/embed"
	"github.com/ddunnock/mnemosyne/internal/index"
	"github.com/ddunnock/mnemosyne/internal/log"
)

// IngestSummary reports the outcome of ingesting one document. Embedding
// failures are recorded per chunk, not fatal: the rest of the document
// still lands in the index.
type IngestSummary struct {
	DocID          string
	DocTitle       string
	ChunksIndexed  int
	FailedChunkIDs []string
}

// RetrieveOptions override the configured retrieval defaults for one
// query. Zero values fall back to the defaults; ScoreThreshold is a
// pointer so an explicit zero ("return everything") stays distinct from
// unset.
type RetrieveOptions struct {
	TopK           int
	ScoreThreshold *float64
	Strategy       index.Strategy
	Filters        map[string][]string
	HybridWeight   float64
}

// Retriever owns the ingest and query sides of the pipeline.
type Retriever struct {
	chunker  *chunk.Chunker
	embedder embed.Embedder
	store    index.Store
	defaults config.RetrievalConfig
	logger   log.Logger
}

// New wires a retriever from its collaborators.
func New(chunker *chunk.Chunker, embedder embed.Embedder, store index.Store, defaults config.RetrievalConfig, logger log.Logger) *Retriever {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Retriever{
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		defaults: defaults,
		logger:   logger,
	}
}

// Ingest chunks, embeds and indexes one document. Chunks whose embedding
// fails are skipped and reported in the summary; the remainder is
// indexed. An empty document deletes nothing and indexes nothing.
func (r *Retriever) Ingest(ctx context.Context, docID, docTitle, text string) (*IngestSummary, error) {
	summary := &IngestSummary{DocID: docID, DocTitle: docTitle}

	chunks := r.chunker.Split(docID, docTitle, text)
	if len(chunks) == 0 {
		return summary, nil
	}

	vectors, failed := r.embedChunks(ctx, chunks)

	entries := make([]index.Entry, 0, len(chunks))
	for i, ch := range chunks {
		if vectors[i] == nil {
			continue
		}
		if len(vectors[i]) != r.embedder.Dimension() {
			failed = append(failed, ch.ID)
			r.logger.Warn("embedding dimension mismatch",
				"chunk", ch.ID, "want", r.embedder.Dimension(), "got", len(vectors[i]))
			continue
		}
		entries = append(entries, index.Entry{
			Chunk:          ch,
			Vector:         vectors[i],
			EmbeddingModel: r.embedder.Model(),
		})
	}

	if len(entries) > 0 {
		if err := r.store.Upsert(ctx, entries); err != nil {
			return nil, fmt.Errorf("indexing document %s: %w", docID, err)
		}
	}

	summary.ChunksIndexed = len(entries)
	summary.FailedChunkIDs = failed
	if len(failed) > 0 {
		r.logger.Warn("document partially indexed",
			"doc", docID, "indexed", len(entries), "failed", len(failed))
	}
	return summary, nil
}

// embedChunks embeds all chunk texts, preferring one batch call and
// falling back to per-chunk embedding when the batch fails so a single
// bad chunk cannot sink the document. Returns a vector slice aligned
// with chunks (nil where embedding failed) plus failed chunk ids.
func (r *Retriever) embedChunks(ctx context.Context, chunks []chunk.Chunk) ([][]float32, []string) {
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}

	vectors, err := r.embedder.Embed(ctx, texts)
	if err == nil && len(vectors) == len(chunks) {
		return vectors, nil
	}

	r.logger.Warn("batch embedding failed, retrying per chunk", "error", err)

	vectors = make([][]float32, len(chunks))
	var failed []string
	for i, ch := range chunks {
		single, serr := r.embedder.Embed(ctx, []string{ch.Text})
		if serr != nil || len(single) != 1 {
			failed = append(failed, ch.ID)
			continue
		}
		vectors[i] = single[0]
	}
	return vectors, failed
}

// Retrieve runs one query against the store. The query text is embedded
// only when the strategy needs vectors. Results come back in descending
// score order, at most TopK, never padded.
func (r *Retriever) Retrieve(ctx context.Context, text string, opts RetrieveOptions) ([]index.Retrieved, error) {
	q := index.Query{
		Text:                 text,
		TopK:                 opts.TopK,
		ScoreThreshold:       r.defaults.ScoreThreshold,
		Strategy:             opts.Strategy,
		Filters:              opts.Filters,
		HybridSemanticWeight: opts.HybridWeight,
	}
	if opts.ScoreThreshold != nil {
		q.ScoreThreshold = *opts.ScoreThreshold
	}
	if q.TopK == 0 {
		q.TopK = r.defaults.TopK
	}
	if q.Strategy == "" {
		q.Strategy = index.Strategy(r.defaults.Strategy)
	}
	if q.HybridSemanticWeight == 0 {
		q.HybridSemanticWeight = r.defaults.HybridSemanticWeight
	}

	if q.Strategy == index.Semantic || q.Strategy == index.Hybrid {
		vectors, err := r.embedder.Embed(ctx, []string{text})
		if err != nil {
			return nil, fmt.Errorf("embedding query: %w", err)
		}
		if len(vectors) != 1 {
			return nil, fmt.Errorf("embedding query: got %d vectors for one input", len(vectors))
		}
		q.Vector = vectors[0]
	}

	return r.store.Query(ctx, q)
}

// DeleteDocument removes every indexed chunk of a document.
func (r *Retriever) DeleteDocument(ctx context.Context, docID string) error {
	return r.store.Delete(ctx, docID)
}

// Stats reports index contents.
func (r *Retriever) Stats(ctx context.Context) (index.Stats, error) {
	return r.store.Stats(ctx)
}

// IsReady reports whether retrieval can serve queries: an embedder is
// configured and at least one entry is indexed.
func (r *Retriever) IsReady(ctx context.Context) bool {
	if r.embedder == nil {
		return false
	}
	stats, err := r.store.Stats(ctx)
	if err != nil {
		return false
	}
	return stats.TotalEntries > 0
}

// IngestSource walks a document source and ingests every document it
// lists. Per-document failures are logged and skipped; the walk
// continues.
func (r *Retriever) IngestSource(ctx context.Context, src DocumentSource) ([]IngestSummary, error) {
	refs, err := src.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}

	summaries := make([]IngestSummary, 0, len(refs))
	for _, ref := range refs {
		doc, err := src.ReadDocument(ctx, ref.Path)
		if err != nil {
			r.logger.Warn("skipping unreadable document", "path", ref.Path, "error", err)
			continue
		}
		summary, err := r.Ingest(ctx, doc.ID, doc.Title, doc.Content)
		if err != nil {
			r.logger.Warn("skipping failed document", "path", ref.Path, "error", err)
			continue
		}
		summaries = append(summaries, *summary)
	}
	return summaries, nil
}
