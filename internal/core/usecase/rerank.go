package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/kaptinlin/jsonrepair"

	"github.com/kirillkom/corpus-retrieval/internal/core/domain"
	"github.com/kirillkom/corpus-retrieval/internal/core/ports"
)

const defaultPreviewChars = 600

var errNoJSONArray = errors.New("no json array in judge response")

// RerankGateway delegates fine relevance judgment to an external judge and
// treats its answer as untrusted input. It never fails: any problem degrades to
// the fused order.
type RerankGateway struct {
	judge        ports.RelevanceJudge
	previewChars int
	logger       *slog.Logger
}

func NewRerankGateway(judge ports.RelevanceJudge, previewChars int, logger *slog.Logger) *RerankGateway {
	if previewChars <= 0 {
		previewChars = defaultPreviewChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RerankGateway{
		judge:        judge,
		previewChars: previewChars,
		logger:       logger,
	}
}

// Rerank returns up to topN candidate ids, most relevant first.
func (g *RerankGateway) Rerank(ctx context.Context, query string, candidates []domain.FusedResult, topN int) []string {
	ids, _ := g.RerankWithOutcome(ctx, query, candidates, topN)
	return ids
}

// RerankWithOutcome is Rerank plus how the ids were obtained.
func (g *RerankGateway) RerankWithOutcome(
	ctx context.Context,
	query string,
	candidates []domain.FusedResult,
	topN int,
) ([]string, domain.RerankOutcome) {
	if len(candidates) == 0 {
		return nil, domain.RerankOutcomeSkipped
	}
	if topN <= 0 || topN > len(candidates) {
		topN = len(candidates)
	}
	if g == nil || g.judge == nil {
		return fusedOrderIDs(candidates, topN), domain.RerankOutcomeDisabled
	}

	previews := make([]domain.RerankPreview, 0, len(candidates))
	for _, c := range candidates {
		previews = append(previews, g.preview(c))
	}

	raw, err := g.judge.RankCandidates(ctx, query, previews, topN)
	if err != nil {
		g.logger.Warn("rerank_fallback", "reason", "judge_error", "candidates", len(candidates), "error", err)
		return fusedOrderIDs(candidates, topN), domain.RerankOutcomeFallbackError
	}

	returned, err := parseJudgeIDs(raw)
	if err != nil {
		g.logger.Warn("rerank_fallback", "reason", "parse_error", "candidates", len(candidates), "error", err)
		return fusedOrderIDs(candidates, topN), domain.RerankOutcomeFallbackParse
	}

	valid := filterKnownIDs(returned, candidates, topN)
	if len(valid) == 0 {
		g.logger.Warn("rerank_fallback", "reason", "no_valid_ids", "candidates", len(candidates), "returned", len(returned))
		return fusedOrderIDs(candidates, topN), domain.RerankOutcomeFallbackEmpty
	}
	if dropped := len(returned) - len(valid); dropped > 0 {
		g.logger.Debug("rerank_dropped_ids", "dropped", dropped)
	}
	if len(valid) < topN {
		return fillFromFusedOrder(valid, candidates, topN), domain.RerankOutcomePartial
	}
	return valid, domain.RerankOutcomeReranked
}

// fillFromFusedOrder appends candidates the judge did not rank, in fused order,
// until topN ids are taken.
func fillFromFusedOrder(ranked []string, candidates []domain.FusedResult, topN int) []string {
	out := make([]string, 0, topN)
	taken := make(map[string]struct{}, topN)
	for _, id := range ranked {
		if len(out) == topN {
			return out
		}
		out = append(out, id)
		taken[id] = struct{}{}
	}
	for _, c := range candidates {
		if len(out) == topN {
			break
		}
		if _, ok := taken[c.ID]; ok {
			continue
		}
		out = append(out, c.ID)
		taken[c.ID] = struct{}{}
	}
	return out
}

func (g *RerankGateway) preview(c domain.FusedResult) domain.RerankPreview {
	return domain.RerankPreview{
		ID:              c.ID,
		Text:            truncateRunes(strings.TrimSpace(c.Content), g.previewChars),
		MetadataSummary: metadataSummary(c.Chunk),
	}
}

func metadataSummary(c domain.Chunk) string {
	parts := make([]string, 0, 3)
	if c.Category != "" {
		parts = append(parts, "category="+c.Category)
	}
	if c.Metadata.Type != "" {
		parts = append(parts, "type="+string(c.Metadata.Type))
	}
	if loc := c.Metadata.Locator(); loc != "" {
		parts = append(parts, loc)
	}
	return strings.Join(parts, "; ")
}

func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
}

func fusedOrderIDs(candidates []domain.FusedResult, topN int) []string {
	if topN > len(candidates) {
		topN = len(candidates)
	}
	out := make([]string, 0, topN)
	for _, c := range candidates[:topN] {
		out = append(out, c.ID)
	}
	return out
}

// filterKnownIDs keeps ids present in the candidate set, first occurrence only.
func filterKnownIDs(ids []string, candidates []domain.FusedResult, topN int) []string {
	known := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		known[c.ID] = struct{}{}
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, topN)
	for _, id := range ids {
		if len(out) == topN {
			break
		}
		if _, ok := known[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// parseJudgeIDs extracts an id array from free-form judge output. Code fences and
// surrounding prose are stripped; broken JSON gets one repair attempt.
func parseJudgeIDs(raw string) ([]string, error) {
	payload := extractJSONArray(stripCodeFence(raw))
	if payload == "" {
		return nil, errNoJSONArray
	}

	var items []any
	if err := json.Unmarshal([]byte(payload), &items); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(payload)
		if repairErr != nil {
			return nil, fmt.Errorf("parse judge ids: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &items); err != nil {
			return nil, fmt.Errorf("parse repaired judge ids: %w", err)
		}
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if id := judgeItemID(item); id != "" {
			out = append(out, id)
		}
	}
	return out, nil
}

func judgeItemID(item any) string {
	switch v := item.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case map[string]any:
		if id, ok := v["id"]; ok {
			return judgeItemID(id)
		}
	}
	return ""
}

func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func extractJSONArray(raw string) string {
	start := strings.Index(raw, "[")
	if start < 0 {
		return ""
	}
	end := strings.LastIndex(raw, "]")
	if end <= start {
		// Unterminated array; let the repair pass close it.
		return raw[start:]
	}
	return raw[start : end+1]
}
