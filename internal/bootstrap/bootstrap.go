package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/corpus-retrieval/internal/config"
	"github.com/kirillkom/corpus-retrieval/internal/core/domain"
	"github.com/kirillkom/corpus-retrieval/internal/core/ports"
	"github.com/kirillkom/corpus-retrieval/internal/core/usecase"
	"github.com/kirillkom/corpus-retrieval/internal/infrastructure/embedcache"
	"github.com/kirillkom/corpus-retrieval/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/corpus-retrieval/internal/infrastructure/queue/nats"
	"github.com/kirillkom/corpus-retrieval/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/corpus-retrieval/internal/infrastructure/resilience"
	"github.com/kirillkom/corpus-retrieval/internal/infrastructure/vector/qdrant"
)

const (
	VectorBackendPGVector = "pgvector"
	VectorBackendQdrant   = "qdrant"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Retriever  *usecase.RetrievalPipeline
	Classifier *usecase.Classifier
	Embedder   ports.Embedder
	Chunks     *postgres.ChunkRepository
	// QdrantIndex is set only when VECTOR_BACKEND=qdrant.
	QdrantIndex *qdrant.ChunkIndex

	closeFn func()
}

// New wires the retrieval pipeline. observer may be nil.
func New(ctx context.Context, cfg config.Config, observer ports.RetrievalObserver, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	rules, err := config.LoadRules(cfg.RAGRulesPath)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	classifier, err := usecase.NewClassifier(rules.Classifier, rules.Categories)
	if err != nil {
		return nil, fmt.Errorf("init classifier: %w", err)
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	chunks := postgres.NewChunkRepository(db, cfg.RAGTextSearchConfig)
	if err := chunks.EnsureSchema(ctx, cfg.RAGEmbeddingDim); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	var (
		vectorSearcher ports.VectorSearcher = chunks
		qdrantIndex    *qdrant.ChunkIndex
	)
	switch strings.ToLower(strings.TrimSpace(cfg.VectorBackend)) {
	case "", VectorBackendPGVector:
	case VectorBackendQdrant:
		qdrantIndex = qdrant.New(cfg.QdrantURL, cfg.QdrantCollection)
		vectorSearcher = qdrantIndex
	default:
		_ = db.Close()
		return nil, fmt.Errorf("unknown vector backend %q", cfg.VectorBackend)
	}

	retryCfg := ResilienceConfig(cfg)
	judgeCfg := retryCfg.NoRetry()
	judgeCfg.AttemptTimeout = cfg.RAGRerankTimeout
	ollamaClient := ollama.NewWithOptions(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.Options{
		EmbedExecutor: resilience.NewExecutor(retryCfg, logger),
		JudgeExecutor: resilience.NewExecutor(judgeCfg, logger),
	})
	embedder := ollama.NewEmbedder(ollamaClient)

	var cache ports.EmbeddingCache = embedcache.Noop{}
	if cfg.RAGEmbedCacheSize > 0 {
		cache = embedcache.New(cfg.RAGEmbedCacheSize, cfg.RAGEmbedCacheTTL)
	}

	var expander ports.QueryExpander
	if len(rules.Synonyms) > 0 {
		expander = usecase.NewSynonymExpander(rules.Synonyms)
	}

	pipeline := usecase.NewRetrievalPipeline(usecase.RetrievalDeps{
		Classifier: classifier,
		Embedder:   embedder,
		Cache:      cache,
		Vector:     vectorSearcher,
		Keyword:    chunks,
		Reranker:   usecase.NewRerankGateway(ollama.NewRelevanceJudge(ollamaClient), cfg.RAGRerankPreviewChars, logger),
		Enricher:   usecase.NewEnricher(chunks, logger),
		Expander:   expander,
		Observer:   observer,
		Logger:     logger,
	}, RetrievalOptions(cfg))

	logger.Info("retrieval_pipeline_ready",
		"vector_backend", vectorBackendName(qdrantIndex),
		"rerank_enabled", cfg.RAGRerankEnabled,
		"category_filter_enabled", cfg.RAGCategoryFilterEnabled,
		"synonym_groups", len(rules.Synonyms),
	)

	return &App{
		Config:      cfg,
		Logger:      logger,
		Retriever:   pipeline,
		Classifier:  classifier,
		Embedder:    embedder,
		Chunks:      chunks,
		QdrantIndex: qdrantIndex,
		closeFn: func() {
			closeDB(db, logger)
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// NewBus connects to the retrieval subject on NATS.
func NewBus(cfg config.Config, logger *slog.Logger) (*nats.Bus, error) {
	bus, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		RequestTimeout:     cfg.NATSRequestTimeout,
		HandlerTimeout:     cfg.NATSRequestTimeout,
		MaxConcurrent:      cfg.WorkerConcurrency,
		ResilienceExecutor: resilience.NewExecutor(ResilienceConfig(cfg), logger),
		Logger:             logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init message bus: %w", err)
	}
	return bus, nil
}

func RetrievalOptions(cfg config.Config) usecase.RetrievalOptions {
	return usecase.RetrievalOptions{
		DefaultLimit:                cfg.RAGTopK,
		MaxLimit:                    cfg.RAGMaxLimit,
		CandidateMultiplier:         cfg.RAGCandidateMultiplier,
		RRFK:                        cfg.RAGFusionRRFK,
		MinSimilarity:               cfg.RAGMinSimilarity,
		RerankEnabled:               cfg.RAGRerankEnabled,
		RerankMaxCandidates:         cfg.RAGRerankMaxCandidates,
		ClassifierEnabled:           cfg.RAGClassifierEnabled,
		CategoryFilterEnabled:       cfg.RAGCategoryFilterEnabled,
		CategoryFilterMinConfidence: domain.Confidence(strings.ToLower(cfg.RAGCategoryFilterMinConfidence)),
	}
}

func ResilienceConfig(cfg config.Config) resilience.Config {
	out := resilience.DefaultConfig()
	out.RetryMaxAttempts = cfg.ResilienceRetryMaxAttempts
	out.RetryInitialBackoff = cfg.ResilienceRetryInitialBackoff
	out.RetryMaxBackoff = cfg.ResilienceRetryMaxBackoff
	out.BreakerEnabled = cfg.ResilienceBreakerEnabled
	out.BreakerOpenTimeout = cfg.ResilienceBreakerOpenTimeout
	return out
}

func vectorBackendName(index *qdrant.ChunkIndex) string {
	if index != nil {
		return VectorBackendQdrant
	}
	return VectorBackendPGVector
}

func closeDB(db *sql.DB, logger *slog.Logger) {
	if err := db.Close(); err != nil {
		logger.Warn("postgres_close_failed", "error", err)
	}
}
