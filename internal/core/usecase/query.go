package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kirillkom/corpus-retrieval/internal/core/domain"
	"github.com/kirillkom/corpus-retrieval/internal/core/ports"
)

// Pipeline stages, in execution order.
const (
	StageClassify      = "classify"
	StageEmbedQuery    = "embed_query"
	StageDualSearch    = "dual_search"
	StageFuse          = "fuse"
	StageRerank        = "rerank"
	StageFallbackMerge = "fallback_merge"
	StageEnrich        = "enrich"
)

type RetrievalOptions struct {
	DefaultLimit        int
	MaxLimit            int
	CandidateMultiplier int
	RRFK                int
	MinSimilarity       float64

	RerankEnabled       bool
	RerankMaxCandidates int

	ClassifierEnabled           bool
	CategoryFilterEnabled       bool
	CategoryFilterMinConfidence domain.Confidence
}

func DefaultRetrievalOptions() RetrievalOptions {
	return RetrievalOptions{
		DefaultLimit:                5,
		MaxLimit:                    50,
		CandidateMultiplier:         4,
		RRFK:                        DefaultRRFK,
		RerankEnabled:               true,
		RerankMaxCandidates:         20,
		ClassifierEnabled:           true,
		CategoryFilterMinConfidence: domain.ConfidenceHigh,
	}
}

func (o RetrievalOptions) normalize() RetrievalOptions {
	out := o
	def := DefaultRetrievalOptions()
	if out.DefaultLimit <= 0 {
		out.DefaultLimit = def.DefaultLimit
	}
	if out.MaxLimit <= 0 {
		out.MaxLimit = def.MaxLimit
	}
	if out.CandidateMultiplier <= 1 {
		out.CandidateMultiplier = def.CandidateMultiplier
	}
	if out.RRFK <= 0 {
		out.RRFK = def.RRFK
	}
	if out.MinSimilarity < 0 || out.MinSimilarity > 1 {
		out.MinSimilarity = 0
	}
	if out.RerankMaxCandidates <= 0 {
		out.RerankMaxCandidates = def.RerankMaxCandidates
	}
	if out.CategoryFilterMinConfidence == "" {
		out.CategoryFilterMinConfidence = def.CategoryFilterMinConfidence
	}
	return out
}

// RetrievalDeps are the collaborators of the pipeline. Cache, Expander,
// Observer and Logger are optional.
type RetrievalDeps struct {
	Classifier *Classifier
	Embedder   ports.Embedder
	Cache      ports.EmbeddingCache
	Vector     ports.VectorSearcher
	Keyword    ports.KeywordSearcher
	Reranker   *RerankGateway
	Enricher   *Enricher
	Expander   ports.QueryExpander
	Observer   ports.RetrievalObserver
	Logger     *slog.Logger
}

// RetrievalPipeline runs Classify -> EmbedQuery -> DualSearch -> Fuse -> Rerank ->
// FallbackMerge -> Enrich for one query. It holds no per-query state.
type RetrievalPipeline struct {
	deps RetrievalDeps
	opts RetrievalOptions

	embedCalls singleflight.Group
}

func NewRetrievalPipeline(deps RetrievalDeps, opts RetrievalOptions) *RetrievalPipeline {
	if deps.Classifier == nil {
		deps.Classifier = MustNewDefaultClassifier()
	}
	if deps.Cache == nil {
		deps.Cache = noopEmbeddingCache{}
	}
	if deps.Expander == nil {
		deps.Expander = identityExpander{}
	}
	if deps.Observer == nil {
		deps.Observer = noopObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Reranker == nil {
		deps.Reranker = NewRerankGateway(nil, 0, deps.Logger)
	}
	if deps.Enricher == nil {
		deps.Enricher = NewEnricher(nil, deps.Logger)
	}
	return &RetrievalPipeline{
		deps: deps,
		opts: opts.normalize(),
	}
}

func (p *RetrievalPipeline) Retrieve(ctx context.Context, req domain.RetrievalRequest) (*domain.RetrievalResult, error) {
	started := time.Now()
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "retrieve", errors.New("query is required"))
	}
	limit := req.Limit
	if limit <= 0 {
		limit = p.opts.DefaultLimit
	}
	if limit > p.opts.MaxLimit {
		limit = p.opts.MaxLimit
	}
	poolSize := limit * p.opts.CandidateMultiplier

	result := &domain.RetrievalResult{
		Query:   query,
		Results: []domain.EnrichedResult{},
	}

	// Classify
	stageStart := time.Now()
	result.Classification = p.classify(query)
	filter := p.searchFilter(req.Category, result.Classification)
	result.Stats.CategoryFilter = filter.Category
	expanded := p.deps.Expander.Expand(query)
	if strings.TrimSpace(expanded.SemanticText) == "" {
		expanded.SemanticText = query
	}
	result.Stats.ExpandedTerms = expanded.ExtraTerms
	p.deps.Observer.ObserveStage(StageClassify, time.Since(stageStart), nil)

	// EmbedQuery
	stageStart = time.Now()
	queryVector, cacheHit, err := p.embedQuery(ctx, expanded.SemanticText)
	p.deps.Observer.ObserveStage(StageEmbedQuery, time.Since(stageStart), err)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, domain.WrapError(domain.ErrEmbeddingProvider, "embed query", err)
	}
	result.Stats.EmbeddingCacheHit = cacheHit

	// DualSearch
	stageStart = time.Now()
	branches := dualSearch(ctx, p.deps.Vector, p.deps.Keyword, dualSearchInput{
		vector:        queryVector,
		text:          query,
		extraTerms:    expanded.ExtraTerms,
		poolSize:      poolSize,
		filter:        filter,
		minSimilarity: p.opts.MinSimilarity,
	})
	err = p.checkBranches(ctx, branches)
	p.deps.Observer.ObserveStage(StageDualSearch, time.Since(stageStart), err)
	if err != nil {
		return nil, err
	}
	result.Stats.VectorCandidates = len(branches.vector)
	result.Stats.KeywordCandidates = len(branches.keyword)

	// Fuse
	stageStart = time.Now()
	fused := FuseRRF(branches.vector, branches.keyword, p.opts.RRFK, poolSize)
	p.deps.Observer.ObserveStage(StageFuse, time.Since(stageStart), nil)
	result.Stats.FusedCandidates = len(fused)
	if len(fused) == 0 {
		result.Stats.RerankOutcome = domain.RerankOutcomeSkipped
		return p.finish(result, started), nil
	}

	// Rerank
	stageStart = time.Now()
	rerankedIDs, outcome := p.rerank(ctx, query, fused, limit)
	p.deps.Observer.ObserveStage(StageRerank, time.Since(stageStart), nil)
	p.deps.Observer.ObserveRerank(outcome)
	result.Stats.RerankOutcome = outcome
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// FallbackMerge
	stageStart = time.Now()
	ordered := fallbackMerge(rerankedIDs, fused, limit)
	p.deps.Observer.ObserveStage(StageFallbackMerge, time.Since(stageStart), nil)

	// Enrich
	stageStart = time.Now()
	result.Results = p.deps.Enricher.Enrich(ctx, ordered)
	p.deps.Observer.ObserveStage(StageEnrich, time.Since(stageStart), nil)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return p.finish(result, started), nil
}

func (p *RetrievalPipeline) finish(result *domain.RetrievalResult, started time.Time) *domain.RetrievalResult {
	result.Stats.Duration = time.Since(started)
	p.deps.Observer.ObserveResults(len(result.Results), result.Stats.CategoryFilter != "")
	p.deps.Logger.Info("retrieval_completed",
		"query_type", result.Classification.QueryType,
		"confidence", string(result.Classification.Confidence),
		"category_filter", result.Stats.CategoryFilter,
		"vector_candidates", result.Stats.VectorCandidates,
		"keyword_candidates", result.Stats.KeywordCandidates,
		"fused_candidates", result.Stats.FusedCandidates,
		"rerank_outcome", string(result.Stats.RerankOutcome),
		"results", len(result.Results),
		"embedding_cache_hit", result.Stats.EmbeddingCacheHit,
		"duration_ms", float64(result.Stats.Duration.Microseconds())/1000.0,
	)
	return result
}

func (p *RetrievalPipeline) classify(query string) domain.Classification {
	if !p.opts.ClassifierEnabled {
		return UniformClassification(p.deps.Classifier.categories)
	}
	return p.deps.Classifier.Classify(query)
}

// searchFilter: an explicit caller category wins; otherwise a confident
// classification narrows the search only when the toggle is on.
func (p *RetrievalPipeline) searchFilter(requested string, cls domain.Classification) domain.SearchFilter {
	if requested = strings.TrimSpace(requested); requested != "" {
		return domain.SearchFilter{Category: requested}
	}
	if !p.opts.CategoryFilterEnabled || cls.PrimaryCategory == "" {
		return domain.SearchFilter{}
	}
	if !cls.Confidence.AtLeast(p.opts.CategoryFilterMinConfidence) {
		return domain.SearchFilter{}
	}
	return domain.SearchFilter{Category: cls.PrimaryCategory}
}

// embedQuery consults the cache and collapses concurrent identical misses into
// one provider call. The shared call is detached from any single caller's
// cancellation; each caller still stops waiting when its own context ends.
func (p *RetrievalPipeline) embedQuery(ctx context.Context, text string) ([]float32, bool, error) {
	if p.deps.Embedder == nil {
		return nil, false, errors.New("embedder is not configured")
	}
	key := normalizeQueryText(text)
	if vector, ok := p.deps.Cache.Get(key); ok {
		p.deps.Observer.ObserveEmbeddingCache(true)
		return vector, true, nil
	}
	p.deps.Observer.ObserveEmbeddingCache(false)

	ch := p.embedCalls.DoChan(key, func() (any, error) {
		vector, err := p.deps.Embedder.EmbedQuery(context.WithoutCancel(ctx), text)
		if err != nil {
			return nil, err
		}
		if len(vector) == 0 {
			return nil, errors.New("empty query embedding")
		}
		p.deps.Cache.Add(key, vector)
		return vector, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		vector, _ := res.Val.([]float32)
		out := make([]float32, len(vector))
		copy(out, vector)
		return out, false, nil
	}
}

// checkBranches degrades to the surviving branch when only one fails.
func (p *RetrievalPipeline) checkBranches(ctx context.Context, out dualSearchOutput) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch {
	case out.vectorErr != nil && out.keywordErr != nil:
		return domain.WrapError(domain.ErrChunkStore, "dual search", errors.Join(
			fmt.Errorf("vector: %w", out.vectorErr),
			fmt.Errorf("keyword: %w", out.keywordErr),
		))
	case out.vectorErr != nil:
		p.deps.Logger.Warn("vector_search_failed", "error", out.vectorErr)
	case out.keywordErr != nil:
		p.deps.Logger.Warn("keyword_search_failed", "error", out.keywordErr)
	}
	return nil
}

func (p *RetrievalPipeline) rerank(
	ctx context.Context,
	query string,
	fused []domain.FusedResult,
	limit int,
) ([]string, domain.RerankOutcome) {
	maxCandidates := p.opts.RerankMaxCandidates
	if maxCandidates < limit {
		maxCandidates = limit
	}
	head := trimFused(fused, maxCandidates)
	if !p.opts.RerankEnabled {
		return fusedOrderIDs(head, limit), domain.RerankOutcomeDisabled
	}
	return p.deps.Reranker.RerankWithOutcome(ctx, query, head, limit)
}

type noopEmbeddingCache struct{}

func (noopEmbeddingCache) Get(string) ([]float32, bool) { return nil, false }
func (noopEmbeddingCache) Add(string, []float32)        {}

type noopObserver struct{}

func (noopObserver) ObserveStage(string, time.Duration, error) {}
func (noopObserver) ObserveRerank(domain.RerankOutcome)        {}
func (noopObserver) ObserveEmbeddingCache(bool)                {}
func (noopObserver) ObserveResults(int, bool)                  {}
