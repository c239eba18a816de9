package domain

import "time"

type SourceSignal string

const (
	SignalVector  SourceSignal = "vector"
	SignalKeyword SourceSignal = "keyword"
)

type SearchFilter struct {
	Category string
}

// VectorQuery asks the store for nearest chunks. MinSimilarity <= 0 disables the cutoff.
type VectorQuery struct {
	Vector        []float32
	Limit         int
	Filter        SearchFilter
	MinSimilarity float64
}

// KeywordQuery carries already sanitized, whitespace separated search terms.
type KeywordQuery struct {
	Terms  []string
	Limit  int
	Filter SearchFilter
}

// Candidate is one branch hit. Score is the similarity for the vector branch
// and the text rank for the keyword branch.
type Candidate struct {
	Chunk
	Source SourceSignal `json:"source"`
	Score  float64      `json:"score"`
}

type FusedResult struct {
	Chunk
	FusionScore float64        `json:"fusion_score"`
	FoundBy     []SourceSignal `json:"found_by"`
	Similarity  *float64       `json:"similarity,omitempty"`
	KeywordRank *float64       `json:"keyword_rank,omitempty"`

	// Zero-based positions in each branch list, -1 when absent.
	VectorPos  int `json:"-"`
	KeywordPos int `json:"-"`
}

// EnrichedResult is the externally returned retrieval hit.
type EnrichedResult struct {
	FusedResult
	Rank           int            `json:"rank"`
	HasParent      bool           `json:"has_parent"`
	ParentContent  string         `json:"parent_content,omitempty"`
	ParentMetadata *ChunkMetadata `json:"parent_metadata,omitempty"`
}

// RerankPreview is the bounded view of a candidate shown to the relevance judge.
type RerankPreview struct {
	ID              string `json:"id"`
	Text            string `json:"text"`
	MetadataSummary string `json:"metadata"`
}

type RerankOutcome string

const (
	RerankOutcomeReranked      RerankOutcome = "reranked"
	RerankOutcomePartial       RerankOutcome = "partial"
	RerankOutcomeFallbackError RerankOutcome = "fallback_error"
	RerankOutcomeFallbackParse RerankOutcome = "fallback_parse"
	RerankOutcomeFallbackEmpty RerankOutcome = "fallback_empty"
	RerankOutcomeDisabled      RerankOutcome = "disabled"
	RerankOutcomeSkipped       RerankOutcome = "skipped"
)

type RetrievalRequest struct {
	Query    string `json:"query"`
	Limit    int    `json:"limit"`
	Category string `json:"category,omitempty"`
}

type RetrievalStats struct {
	VectorCandidates  int           `json:"vector_candidates"`
	KeywordCandidates int           `json:"keyword_candidates"`
	FusedCandidates   int           `json:"fused_candidates"`
	CategoryFilter    string        `json:"category_filter,omitempty"`
	ExpandedTerms     []string      `json:"expanded_terms,omitempty"`
	RerankOutcome     RerankOutcome `json:"rerank_outcome"`
	EmbeddingCacheHit bool          `json:"embedding_cache_hit"`
	Duration          time.Duration `json:"duration_ns"`
}

type RetrievalResult struct {
	Query          string           `json:"query"`
	Classification Classification   `json:"classification"`
	Results        []EnrichedResult `json:"results"`
	Stats          RetrievalStats   `json:"stats"`
}

// ExpandedQuery feeds the two search branches. SemanticText is embedded,
// ExtraTerms are added to the keyword terms.
type ExpandedQuery struct {
	SemanticText string   `json:"semantic_text"`
	ExtraTerms   []string `json:"extra_terms,omitempty"`
}
