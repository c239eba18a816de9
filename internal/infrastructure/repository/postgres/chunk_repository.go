package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/kirillkom/corpus-retrieval/internal/core/domain"
)

const chunkColumns = `id, content, contextual_content, category, metadata, parent_id, content_hash`

var textSearchConfigPattern = regexp.MustCompile(`^[a-z_]+$`)

// ChunkRepository serves both search branches and parent lookups from one
// pgvector-enabled table. Full-text rank runs over a generated tsvector column.
type ChunkRepository struct {
	db         *sql.DB
	textConfig string
}

func NewChunkRepository(db *sql.DB, textSearchConfig string) *ChunkRepository {
	cfg := strings.ToLower(strings.TrimSpace(textSearchConfig))
	if !textSearchConfigPattern.MatchString(cfg) {
		cfg = "english"
	}
	return &ChunkRepository{db: db, textConfig: cfg}
}

func (r *ChunkRepository) EnsureSchema(ctx context.Context, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", dimensions)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101701)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	query := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS corpus_chunks (
	seq BIGSERIAL UNIQUE,
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	contextual_content TEXT,
	category TEXT,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	parent_id TEXT,
	content_hash TEXT,
	embedding vector(%d),
	search_vector tsvector GENERATED ALWAYS AS (to_tsvector('%s'::regconfig, coalesce(content, ''))) STORED
);

CREATE INDEX IF NOT EXISTS idx_corpus_chunks_category ON corpus_chunks(category);
CREATE INDEX IF NOT EXISTS idx_corpus_chunks_parent ON corpus_chunks(parent_id);
CREATE INDEX IF NOT EXISTS idx_corpus_chunks_search ON corpus_chunks USING GIN (search_vector);
CREATE INDEX IF NOT EXISTS idx_corpus_chunks_embedding ON corpus_chunks USING hnsw (embedding vector_cosine_ops);
`, dimensions, r.textConfig)
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// SearchVector orders by cosine distance, then insertion order. Similarity is 1 - distance.
func (r *ChunkRepository) SearchVector(ctx context.Context, q domain.VectorQuery) ([]domain.Candidate, error) {
	if len(q.Vector) == 0 || q.Limit <= 0 {
		return nil, nil
	}

	sqlQuery := `
SELECT ` + chunkColumns + `, 1 - (embedding <=> $1::vector) AS similarity
FROM corpus_chunks
WHERE embedding IS NOT NULL`
	args := []any{vectorLiteral(q.Vector)}
	argIdx := 2

	if q.Filter.Category != "" {
		sqlQuery += fmt.Sprintf(" AND category = $%d", argIdx)
		args = append(args, q.Filter.Category)
		argIdx++
	}
	if q.MinSimilarity > 0 {
		sqlQuery += fmt.Sprintf(" AND (embedding <=> $1::vector) <= $%d", argIdx)
		args = append(args, 1-q.MinSimilarity)
		argIdx++
	}

	sqlQuery += fmt.Sprintf(" ORDER BY embedding <=> $1::vector, seq LIMIT $%d", argIdx)
	args = append(args, q.Limit)

	out, err := r.queryCandidates(ctx, sqlQuery, args...)
	if err != nil {
		return nil, domain.WrapError(domain.ErrChunkStore, "vector search", err)
	}
	return out, nil
}

// SearchKeyword matches any of the terms and orders by ts_rank. Terms must
// already be free of tsquery operators.
func (r *ChunkRepository) SearchKeyword(ctx context.Context, q domain.KeywordQuery) ([]domain.Candidate, error) {
	if len(q.Terms) == 0 || q.Limit <= 0 {
		return nil, nil
	}

	sqlQuery := `
SELECT ` + chunkColumns + `, ts_rank(search_vector, query) AS rank
FROM corpus_chunks, to_tsquery($1::regconfig, $2) AS query
WHERE search_vector @@ query`
	args := []any{r.textConfig, strings.Join(q.Terms, " | ")}
	argIdx := 3

	if q.Filter.Category != "" {
		sqlQuery += fmt.Sprintf(" AND category = $%d", argIdx)
		args = append(args, q.Filter.Category)
		argIdx++
	}

	sqlQuery += fmt.Sprintf(" ORDER BY rank DESC, seq LIMIT $%d", argIdx)
	args = append(args, q.Limit)

	out, err := r.queryCandidates(ctx, sqlQuery, args...)
	if err != nil {
		return nil, domain.WrapError(domain.ErrChunkStore, "keyword search", err)
	}
	return out, nil
}

// GetByIDs loads chunks in one round trip. Unknown ids are absent from the map.
func (r *ChunkRepository) GetByIDs(ctx context.Context, ids []string) (map[string]domain.Chunk, error) {
	if len(ids) == 0 {
		return map[string]domain.Chunk{}, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "$" + strconv.Itoa(i+1)
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT `+chunkColumns+`
FROM corpus_chunks
WHERE id IN (`+strings.Join(placeholders, ", ")+`)`, args...)
	if err != nil {
		return nil, domain.WrapError(domain.ErrChunkStore, "get chunks by ids", err)
	}
	defer rows.Close()

	out := make(map[string]domain.Chunk, len(ids))
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, domain.WrapError(domain.ErrChunkStore, "get chunks by ids", err)
		}
		out[chunk.ID] = chunk
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrChunkStore, "get chunks by ids", err)
	}
	return out, nil
}

// GetByID is the single-row form of GetByIDs.
func (r *ChunkRepository) GetByID(ctx context.Context, id string) (*domain.Chunk, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+chunkColumns+`
FROM corpus_chunks
WHERE id = $1`, id)

	chunk, err := scanChunk(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrChunkNotFound, "get chunk", fmt.Errorf("id=%s", id))
		}
		return nil, domain.WrapError(domain.ErrChunkStore, "get chunk", err)
	}
	return &chunk, nil
}

// EmbeddedChunk is a stored chunk together with its embedding.
type EmbeddedChunk struct {
	Seq    int64
	Chunk  domain.Chunk
	Vector []float32
}

// ListEmbedded pages through chunks that have an embedding, in insertion
// order. Pass the last returned Seq as afterSeq to continue.
func (r *ChunkRepository) ListEmbedded(ctx context.Context, afterSeq int64, limit int) ([]EmbeddedChunk, error) {
	if limit <= 0 {
		limit = 256
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+chunkColumns+`, seq, embedding::text
FROM corpus_chunks
WHERE seq > $1 AND embedding IS NOT NULL
ORDER BY seq
LIMIT $2`, afterSeq, limit)
	if err != nil {
		return nil, domain.WrapError(domain.ErrChunkStore, "list embedded chunks", err)
	}
	defer rows.Close()

	var out []EmbeddedChunk
	for rows.Next() {
		var item EmbeddedChunk
		var literal string
		chunk, err := scanChunk(rows, &item.Seq, &literal)
		if err != nil {
			return nil, domain.WrapError(domain.ErrChunkStore, "list embedded chunks", err)
		}
		vector, err := parseVectorLiteral(literal)
		if err != nil {
			return nil, domain.WrapError(domain.ErrChunkStore, "list embedded chunks", fmt.Errorf("chunk %s: %w", chunk.ID, err))
		}
		item.Chunk = chunk
		item.Vector = vector
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrChunkStore, "list embedded chunks", err)
	}
	return out, nil
}

func (r *ChunkRepository) queryCandidates(ctx context.Context, query string, args ...any) ([]domain.Candidate, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Candidate
	for rows.Next() {
		var c domain.Candidate
		var score sql.NullFloat64
		chunk, err := scanChunk(rows, &score)
		if err != nil {
			return nil, err
		}
		c.Chunk = chunk
		c.Score = score.Float64
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner, extra ...any) (domain.Chunk, error) {
	var chunk domain.Chunk
	var contextual, category, parentID, contentHash sql.NullString
	var metadataRaw []byte

	dest := append([]any{
		&chunk.ID, &chunk.Content, &contextual, &category, &metadataRaw, &parentID, &contentHash,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return domain.Chunk{}, err
	}

	chunk.ContextualContent = contextual.String
	chunk.Category = category.String
	chunk.ParentID = parentID.String
	chunk.ContentHash = contentHash.String
	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &chunk.Metadata); err != nil {
			return domain.Chunk{}, fmt.Errorf("unmarshal metadata for %s: %w", chunk.ID, err)
		}
	}
	return chunk, nil
}

// vectorLiteral renders the pgvector text form, e.g. [0.1,0.2].
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 10)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func parseVectorLiteral(literal string) ([]float32, error) {
	trimmed := strings.TrimSpace(literal)
	if !strings.HasPrefix(trimmed, "[") || !strings.HasSuffix(trimmed, "]") {
		return nil, fmt.Errorf("malformed vector literal %q", literal)
	}
	trimmed = strings.TrimSpace(trimmed[1 : len(trimmed)-1])
	if trimmed == "" {
		return []float32{}, nil
	}
	parts := strings.Split(trimmed, ",")
	out := make([]float32, len(parts))
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("parse vector component %d: %w", i, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}
