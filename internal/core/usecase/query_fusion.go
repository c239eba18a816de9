package usecase

import (
	"sort"

	"github.com/kirillkom/corpus-retrieval/internal/core/domain"
)

// DefaultRRFK is the reciprocal rank fusion damping constant.
const DefaultRRFK = 60

// FuseRRF merges the two branch rankings with reciprocal rank fusion. Every list a
// chunk appears in adds 1/(k+rank+1) where rank is its zero-based position there.
// Payload fields come from the first record seen; vector hits are seen first.
// Ties fall back to vector position, then keyword position, then id.
func FuseRRF(vector, keyword []domain.Candidate, rrfK, limit int) []domain.FusedResult {
	if rrfK <= 0 {
		rrfK = DefaultRRFK
	}

	index := make(map[string]int, len(vector)+len(keyword))
	out := make([]domain.FusedResult, 0, len(vector)+len(keyword))

	addList := func(chunks []domain.Candidate, signal domain.SourceSignal) {
		for rank, c := range chunks {
			i, ok := index[c.ID]
			if !ok {
				out = append(out, domain.FusedResult{
					Chunk:      c.Chunk,
					VectorPos:  -1,
					KeywordPos: -1,
				})
				i = len(out) - 1
				index[c.ID] = i
			}

			fused := &out[i]
			score := c.Score
			switch signal {
			case domain.SignalVector:
				if fused.VectorPos >= 0 {
					continue
				}
				fused.VectorPos = rank
				fused.Similarity = &score
			case domain.SignalKeyword:
				if fused.KeywordPos >= 0 {
					continue
				}
				fused.KeywordPos = rank
				fused.KeywordRank = &score
			}
			fused.FoundBy = append(fused.FoundBy, signal)
			fused.FusionScore += 1.0 / float64(rrfK+rank+1)
		}
	}

	addList(vector, domain.SignalVector)
	addList(keyword, domain.SignalKeyword)

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FusionScore != out[j].FusionScore {
			return out[i].FusionScore > out[j].FusionScore
		}
		if c := comparePosition(out[i].VectorPos, out[j].VectorPos); c != 0 {
			return c < 0
		}
		if c := comparePosition(out[i].KeywordPos, out[j].KeywordPos); c != 0 {
			return c < 0
		}
		return out[i].ID < out[j].ID
	})

	return trimFused(out, limit)
}

// comparePosition orders present positions ascending and absent (-1) ones last.
func comparePosition(a, b int) int {
	switch {
	case a == b:
		return 0
	case a < 0:
		return 1
	case b < 0:
		return -1
	case a < b:
		return -1
	default:
		return 1
	}
}

func trimFused(chunks []domain.FusedResult, limit int) []domain.FusedResult {
	if limit <= 0 || len(chunks) <= limit {
		return chunks
	}
	return chunks[:limit]
}

// fallbackMerge places the reranked ids first and fills the remaining slots from
// the fused order, skipping ids already taken, until limit or exhaustion.
func fallbackMerge(rerankedIDs []string, fused []domain.FusedResult, limit int) []domain.FusedResult {
	if limit <= 0 || limit > len(fused) {
		limit = len(fused)
	}

	byID := make(map[string]int, len(fused))
	for i, r := range fused {
		byID[r.ID] = i
	}

	taken := make(map[string]struct{}, limit)
	out := make([]domain.FusedResult, 0, limit)
	for _, id := range rerankedIDs {
		if len(out) == limit {
			return out
		}
		i, ok := byID[id]
		if !ok {
			continue
		}
		if _, dup := taken[id]; dup {
			continue
		}
		taken[id] = struct{}{}
		out = append(out, fused[i])
	}
	for _, r := range fused {
		if len(out) == limit {
			break
		}
		if _, dup := taken[r.ID]; dup {
			continue
		}
		taken[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}
