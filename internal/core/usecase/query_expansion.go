package usecase

import (
	"strings"

	"github.com/kirillkom/corpus-retrieval/internal/core/domain"
)

// SynonymExpander adds the other members of a synonym group to the keyword terms
// whenever one member appears in the query. The embedded text stays unchanged.
type SynonymExpander struct {
	groups map[string][]string
}

func NewSynonymExpander(groups [][]string) *SynonymExpander {
	index := make(map[string][]string)
	for _, group := range groups {
		members := make([]string, 0, len(group))
		for _, entry := range group {
			members = append(members, LexicalTerms(entry)...)
		}
		members = mergeTerms(nil, members)
		if len(members) < 2 {
			continue
		}
		for _, m := range members {
			index[m] = mergeTerms(index[m], members)
		}
	}
	return &SynonymExpander{groups: index}
}

func (e *SynonymExpander) Expand(query string) domain.ExpandedQuery {
	out := domain.ExpandedQuery{SemanticText: strings.TrimSpace(query)}
	if e == nil || len(e.groups) == 0 {
		return out
	}

	terms := LexicalTerms(query)
	present := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		present[t] = struct{}{}
	}
	for _, t := range terms {
		for _, syn := range e.groups[t] {
			if _, ok := present[syn]; ok {
				continue
			}
			present[syn] = struct{}{}
			out.ExtraTerms = append(out.ExtraTerms, syn)
		}
	}
	return out
}

type identityExpander struct{}

func (identityExpander) Expand(query string) domain.ExpandedQuery {
	return domain.ExpandedQuery{SemanticText: strings.TrimSpace(query)}
}
