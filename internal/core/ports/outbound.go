package ports

import (
	"context"
	"time"

	"github.com/kirillkom/corpus-retrieval/internal/core/domain"
)

// Embedder builds the query vector. Failures are fatal to a retrieval.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingCache is a bounded, time-expiring cache of query vectors.
type EmbeddingCache interface {
	Get(key string) ([]float32, bool)
	Add(key string, vector []float32)
}

// VectorSearcher returns chunks nearest to the query vector, most similar first.
type VectorSearcher interface {
	SearchVector(ctx context.Context, query domain.VectorQuery) ([]domain.Candidate, error)
}

// KeywordSearcher returns chunks ranked by full-text relevance, best first.
type KeywordSearcher interface {
	SearchKeyword(ctx context.Context, query domain.KeywordQuery) ([]domain.Candidate, error)
}

// ChunkLookup fetches chunks by id in one round trip. Missing ids are omitted.
type ChunkLookup interface {
	GetByIDs(ctx context.Context, ids []string) (map[string]domain.Chunk, error)
}

// RelevanceJudge asks an external model for the most relevant candidate ids.
// The raw response is returned untouched; callers validate it.
type RelevanceJudge interface {
	RankCandidates(ctx context.Context, query string, previews []domain.RerankPreview, topN int) (string, error)
}

// QueryExpander rewrites a query before search.
type QueryExpander interface {
	Expand(query string) domain.ExpandedQuery
}

// RetrievalObserver receives per-stage measurements from the retrieval pipeline.
type RetrievalObserver interface {
	ObserveStage(stage string, duration time.Duration, err error)
	ObserveRerank(outcome domain.RerankOutcome)
	ObserveEmbeddingCache(hit bool)
	ObserveResults(count int, categoryFiltered bool)
}
