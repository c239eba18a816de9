package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/kirillkom/corpus-retrieval/internal/core/domain"
	"github.com/kirillkom/corpus-retrieval/internal/core/ports"
)

const maxLexicalTerms = 32

// SearchVector runs the semantic branch and tags its hits. The similarity cutoff
// is applied again here so a store that ignores it cannot leak weak matches.
func SearchVector(ctx context.Context, searcher ports.VectorSearcher, query domain.VectorQuery) ([]domain.Candidate, error) {
	if searcher == nil {
		return nil, fmt.Errorf("vector searcher is not configured")
	}
	if len(query.Vector) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "vector search", errors.New("empty query vector"))
	}
	if query.Limit <= 0 {
		return nil, nil
	}

	hits, err := searcher.SearchVector(ctx, query)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Candidate, 0, len(hits))
	for _, hit := range hits {
		if query.MinSimilarity > 0 && hit.Score < query.MinSimilarity {
			continue
		}
		if query.Filter.Category != "" && hit.Category != query.Filter.Category {
			continue
		}
		hit.Source = domain.SignalVector
		out = append(out, hit)
	}
	return trimCandidates(out, query.Limit), nil
}

// SearchKeyword runs the lexical branch. A query without indexable terms yields
// no hits and never reaches the store.
func SearchKeyword(
	ctx context.Context,
	searcher ports.KeywordSearcher,
	text string,
	extraTerms []string,
	limit int,
	filter domain.SearchFilter,
) ([]domain.Candidate, error) {
	if searcher == nil {
		return nil, fmt.Errorf("keyword searcher is not configured")
	}
	terms := mergeTerms(LexicalTerms(text), extraTerms)
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}

	hits, err := searcher.SearchKeyword(ctx, domain.KeywordQuery{
		Terms:  terms,
		Limit:  limit,
		Filter: filter,
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.Candidate, 0, len(hits))
	for _, hit := range hits {
		if filter.Category != "" && hit.Category != filter.Category {
			continue
		}
		hit.Source = domain.SignalKeyword
		out = append(out, hit)
	}
	return trimCandidates(out, limit), nil
}

type dualSearchInput struct {
	vector        []float32
	text          string
	extraTerms    []string
	poolSize      int
	filter        domain.SearchFilter
	minSimilarity float64
}

type dualSearchOutput struct {
	vector  []domain.Candidate
	keyword []domain.Candidate

	vectorErr  error
	keywordErr error
}

// dualSearch runs both branches concurrently. A failing branch does not cancel
// the other one; the caller decides how to degrade.
func dualSearch(
	ctx context.Context,
	vectorSearcher ports.VectorSearcher,
	keywordSearcher ports.KeywordSearcher,
	in dualSearchInput,
) dualSearchOutput {
	var out dualSearchOutput
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		out.vector, out.vectorErr = SearchVector(ctx, vectorSearcher, domain.VectorQuery{
			Vector:        in.vector,
			Limit:         in.poolSize,
			Filter:        in.filter,
			MinSimilarity: in.minSimilarity,
		})
	}()
	go func() {
		defer wg.Done()
		out.keyword, out.keywordErr = SearchKeyword(ctx, keywordSearcher, in.text, in.extraTerms, in.poolSize, in.filter)
	}()
	wg.Wait()

	return out
}

// LexicalTerms lowercases the query and keeps only letter/digit runs, which strips
// every full-text operator character. Order is preserved and duplicates dropped.
func LexicalTerms(query string) []string {
	if strings.TrimSpace(query) == "" {
		return nil
	}

	seen := make(map[string]struct{}, 16)
	out := make([]string, 0, 16)
	var b strings.Builder
	flush := func() {
		if b.Len() == 0 {
			return
		}
		term := b.String()
		b.Reset()
		if _, ok := seen[term]; ok {
			return
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}

	for _, r := range query {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		flush()
	}
	flush()

	if len(out) > maxLexicalTerms {
		out = out[:maxLexicalTerms]
	}
	return out
}

func mergeTerms(base, extra []string) []string {
	if len(extra) == 0 {
		return base
	}
	seen := make(map[string]struct{}, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, term := range list {
			if term == "" {
				continue
			}
			if _, ok := seen[term]; ok {
				continue
			}
			seen[term] = struct{}{}
			out = append(out, term)
		}
	}
	if len(out) > maxLexicalTerms {
		out = out[:maxLexicalTerms]
	}
	return out
}

func trimCandidates(chunks []domain.Candidate, limit int) []domain.Candidate {
	if limit <= 0 || len(chunks) <= limit {
		return chunks
	}
	return chunks[:limit]
}
