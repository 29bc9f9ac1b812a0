package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/ddunnock/mnemosyne/internal/chunk"
	"github.com/ddunnock/mnemosyne/internal/log"
)

// ErrSchemaDimension reports a mismatch between the configured embedder
// dimension and the width of the embedding column in the chunks table.
var ErrSchemaDimension = errors.New("schema vector dimension mismatch")

// candidateCap bounds the number of rows pulled for client-side keyword
// and hybrid scoring. The fetch is ordered newest-first, so past the cap
// recall degrades on the oldest chunks. Var so tests can shrink it.
var candidateCap = 1000

// Postgres is a vector store backed by PostgreSQL + pgvector. Nearest
// neighbors are pre-selected by the pgvector index; final scoring reuses
// the same scorer as the in-memory backend so all backends rank
// identically.
//
// Postgres is safe for concurrent use; reads are read-committed with
// respect to concurrent upserts.
type Postgres struct {
	pool         *pgxpool.Pool
	model        string
	dimension    int
	hybridWeight float64
	logger       log.Logger
}

// NewPostgres creates a Postgres store over an existing pool. Run the
// embedded migrations (db.Migrate) before first use; the configured
// dimension must match the embedding column or construction fails with
// ErrSchemaDimension.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, model string, dimension int, hybridWeight float64, logger log.Logger) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if hybridWeight <= 0 || hybridWeight > 1 {
		hybridWeight = DefaultHybridSemanticWeight
	}
	if logger == nil {
		logger = log.NewNop()
	}
	p := &Postgres{
		pool:         pool,
		model:        model,
		dimension:    dimension,
		hybridWeight: hybridWeight,
		logger:       logger,
	}
	if err := p.checkSchemaDimension(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// checkSchemaDimension compares the configured dimension against the
// embedding column's declared width. pgvector stores the dimension as
// the column typmod; catching a mismatch here replaces the opaque insert
// error a misconfigured embedder would otherwise hit on first upsert.
func (p *Postgres) checkSchemaDimension(ctx context.Context) error {
	var typmod int
	err := p.pool.QueryRow(ctx,
		`SELECT atttypmod FROM pg_attribute
		 WHERE attrelid = 'chunks'::regclass AND attname = 'embedding'`,
	).Scan(&typmod)
	if err != nil {
		return fmt.Errorf("%w: reading chunks schema: %v", ErrStoreIO, err)
	}
	if typmod > 0 && typmod != p.dimension {
		return fmt.Errorf("%w: chunks.embedding is vector(%d) but the embedder is configured for %d dimensions",
			ErrSchemaDimension, typmod, p.dimension)
	}
	return nil
}

const upsertChunkSQL = `
INSERT INTO chunks (
	id, doc_id, doc_title, ordinal, content, char_len, token_estimate,
	section_path, content_type, keywords, density, coherence,
	embedding, embedding_model, created_at, modified_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (id) DO UPDATE SET
	doc_title = EXCLUDED.doc_title,
	content = EXCLUDED.content,
	char_len = EXCLUDED.char_len,
	token_estimate = EXCLUDED.token_estimate,
	section_path = EXCLUDED.section_path,
	content_type = EXCLUDED.content_type,
	keywords = EXCLUDED.keywords,
	density = EXCLUDED.density,
	coherence = EXCLUDED.coherence,
	embedding = EXCLUDED.embedding,
	embedding_model = EXCLUDED.embedding_model,
	modified_at = now()`

// Upsert inserts or replaces entries by chunk ID in one batch.
func (p *Postgres) Upsert(ctx context.Context, entries []Entry) error {
	batch := &pgx.Batch{}
	for i := range entries {
		e := &entries[i]
		if e.EmbeddingModel == p.model && len(e.Vector) != p.dimension {
			return &DimensionError{ChunkID: e.Chunk.ID, Want: p.dimension, Got: len(e.Vector)}
		}

		section, err := json.Marshal(e.Chunk.SectionPath)
		if err != nil {
			return fmt.Errorf("encoding section path for %s: %w", e.Chunk.ID, err)
		}
		keywords, err := json.Marshal(e.Chunk.Keywords)
		if err != nil {
			return fmt.Errorf("encoding keywords for %s: %w", e.Chunk.ID, err)
		}

		vec := pgvector.NewVector(e.Vector)
		batch.Queue(upsertChunkSQL,
			e.Chunk.ID, e.Chunk.DocID, e.Chunk.DocTitle, e.Chunk.Ordinal,
			e.Chunk.Text, e.Chunk.CharLen, e.Chunk.TokenEstimate,
			section, e.Chunk.ContentType, keywords,
			e.Chunk.Density, e.Chunk.Coherence,
			&vec, e.EmbeddingModel, e.Chunk.CreatedAt, e.Chunk.ModifiedAt,
		)
	}

	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("%w: upserting %d entries: %v", ErrStoreIO, len(entries), err)
	}
	return nil
}

// Query pre-selects candidates in SQL (vector index for semantic and
// hybrid, capped scan for keyword) and ranks them with the shared scorer.
func (p *Postgres) Query(ctx context.Context, q Query) ([]Retrieved, error) {
	if q.TopK <= 0 {
		return []Retrieved{}, nil
	}

	weight := q.HybridSemanticWeight
	if weight <= 0 || weight > 1 {
		weight = p.hybridWeight
	}

	candidates, err := p.fetchCandidates(ctx, &q)
	if err != nil {
		return nil, err
	}

	queryTokens := chunk.Tokenize(q.Text)
	results := make([]Retrieved, 0, len(candidates))
	for i := range candidates {
		r, ok := scoreEntry(&candidates[i], &q, queryTokens, p.model, weight)
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

// fetchCandidates builds the pre-filter WHERE clause and pulls candidate
// rows. Filters compile to jsonb ?| (any-element intersection) matching
// the set-membership semantics of the in-memory backend.
func (p *Postgres) fetchCandidates(ctx context.Context, q *Query) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	for key, allowed := range q.Filters {
		if len(allowed) == 0 {
			continue
		}
		switch key {
		case "doc_id":
			where = append(where, fmt.Sprintf("doc_id = ANY(%s)", arg(allowed)))
		case "doc_title":
			where = append(where, fmt.Sprintf("doc_title = ANY(%s)", arg(allowed)))
		case "content_type":
			where = append(where, fmt.Sprintf("content_type = ANY(%s)", arg(allowed)))
		case "section":
			where = append(where, fmt.Sprintf("section_path ?| %s", arg(allowed)))
		case "keyword":
			where = append(where, fmt.Sprintf("keywords ?| %s", arg(allowed)))
		default:
			// Unknown filter keys never match, same as the memory backend.
			return []Entry{}, nil
		}
	}

	query := `SELECT id, doc_id, doc_title, ordinal, content, char_len, token_estimate,
		section_path, content_type, keywords, density, coherence,
		embedding, embedding_model, created_at, modified_at
	FROM chunks`

	limit := candidateCap
	switch q.Strategy {
	case Semantic, Hybrid:
		// Stale rows cannot contribute a semantic score; for pure
		// semantic queries exclude them in SQL so the vector scan orders
		// meaningfully.
		if q.Strategy == Semantic {
			where = append(where, fmt.Sprintf("embedding_model = %s", arg(p.model)))
		}
		if len(where) > 0 {
			query += " WHERE " + strings.Join(where, " AND ")
		}
		if q.Strategy == Semantic {
			vec := pgvector.NewVector(q.Vector)
			query += fmt.Sprintf(" ORDER BY embedding <=> %s", arg(&vec))
			limit = q.TopK * 4
			if limit < 100 {
				limit = 100
			}
		} else {
			// Hybrid candidates include stale rows without a usable
			// vector, so no distance ordering covers them all; the
			// newest rows win the capped scan.
			query += " ORDER BY created_at DESC"
		}
	case Keyword:
		if len(where) > 0 {
			query += " WHERE " + strings.Join(where, " AND ")
		}
		query += " ORDER BY created_at DESC"
	default:
		return []Entry{}, nil
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying candidates: %v", ErrStoreIO, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading candidates: %v", ErrStoreIO, err)
	}
	return out, nil
}

func scanEntry(rows pgx.Rows) (Entry, error) {
	var (
		e                 Entry
		section, keywords []byte
		vec               pgvector.Vector
		created, modified time.Time
	)
	if err := rows.Scan(
		&e.Chunk.ID, &e.Chunk.DocID, &e.Chunk.DocTitle, &e.Chunk.Ordinal,
		&e.Chunk.Text, &e.Chunk.CharLen, &e.Chunk.TokenEstimate,
		&section, &e.Chunk.ContentType, &keywords,
		&e.Chunk.Density, &e.Chunk.Coherence,
		&vec, &e.EmbeddingModel, &created, &modified,
	); err != nil {
		return Entry{}, fmt.Errorf("%w: scanning chunk row: %v", ErrStoreIO, err)
	}

	if err := json.Unmarshal(section, &e.Chunk.SectionPath); err != nil {
		return Entry{}, fmt.Errorf("parsing section path for %s: %w", e.Chunk.ID, err)
	}
	if err := json.Unmarshal(keywords, &e.Chunk.Keywords); err != nil {
		return Entry{}, fmt.Errorf("parsing keywords for %s: %w", e.Chunk.ID, err)
	}
	e.Vector = vec.Slice()
	e.Chunk.CreatedAt = created
	e.Chunk.ModifiedAt = modified
	return e, nil
}

// Delete removes all entries belonging to a document.
func (p *Postgres) Delete(ctx context.Context, docID string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM chunks WHERE doc_id = $1`, docID); err != nil {
		return fmt.Errorf("%w: deleting document %s: %v", ErrStoreIO, docID, err)
	}
	return nil
}

// Stats reports store contents.
func (p *Postgres) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		EmbeddingModel: p.model,
		Dimension:      p.dimension,
		PerDocument:    make(map[string]int),
	}

	rows, err := p.pool.Query(ctx, `SELECT doc_id, count(*) FROM chunks GROUP BY doc_id`)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: counting chunks: %v", ErrStoreIO, err)
	}
	defer rows.Close()

	for rows.Next() {
		var docID string
		var n int
		if err := rows.Scan(&docID, &n); err != nil {
			return Stats{}, fmt.Errorf("%w: scanning stats row: %v", ErrStoreIO, err)
		}
		stats.PerDocument[docID] = n
		stats.TotalEntries += n
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("%w: reading stats: %v", ErrStoreIO, err)
	}
	return stats, nil
}

// Close is a no-op; the pool's lifetime is managed by the caller.
func (*Postgres) Close() error { return nil }
