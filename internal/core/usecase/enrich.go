package usecase

import (
	"context"
	"log/slog"

	"github.com/kirillkom/corpus-retrieval/internal/core/domain"
	"github.com/kirillkom/corpus-retrieval/internal/core/ports"
)

// Enricher attaches parent chunk context to child results with one batched lookup.
type Enricher struct {
	lookup ports.ChunkLookup
	logger *slog.Logger
}

func NewEnricher(lookup ports.ChunkLookup, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{lookup: lookup, logger: logger}
}

// Enrich never fails. Orphaned parent ids and lookup errors leave results unenriched.
func (e *Enricher) Enrich(ctx context.Context, results []domain.FusedResult) []domain.EnrichedResult {
	out := make([]domain.EnrichedResult, 0, len(results))
	for i, r := range results {
		out = append(out, domain.EnrichedResult{FusedResult: r, Rank: i + 1})
	}

	parentIDs := distinctParentIDs(results)
	if len(parentIDs) == 0 || e == nil || e.lookup == nil {
		return out
	}

	parents, err := e.lookup.GetByIDs(ctx, parentIDs)
	if err != nil {
		e.logger.Warn("parent_enrichment_failed", "parents", len(parentIDs), "error", err)
		return out
	}

	orphans := 0
	for i := range out {
		if !out[i].HasParentRef() {
			continue
		}
		parent, ok := parents[out[i].ParentID]
		if !ok {
			orphans++
			continue
		}
		meta := parent.Metadata
		out[i].HasParent = true
		out[i].ParentContent = parent.Content
		out[i].ParentMetadata = &meta
	}
	if orphans > 0 {
		e.logger.Warn("orphan_parent_refs", "count", orphans)
	}
	return out
}

func distinctParentIDs(results []domain.FusedResult) []string {
	seen := make(map[string]struct{}, len(results))
	out := make([]string, 0, len(results))
	for _, r := range results {
		if !r.HasParentRef() {
			continue
		}
		if _, ok := seen[r.ParentID]; ok {
			continue
		}
		seen[r.ParentID] = struct{}{}
		out = append(out, r.ParentID)
	}
	return out
}
