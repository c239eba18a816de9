package usecase

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kirillkom/corpus-retrieval/internal/core/domain"
)

const (
	CategoryScripture    = "scripture"
	CategoryEncyclopedia = "encyclopedia"
	CategoryCommentary   = "commentary"

	queryTypeGeneral = "general"
)

// DefaultCategories is the known category set in tie-break priority order.
var DefaultCategories = []string{CategoryScripture, CategoryEncyclopedia, CategoryCommentary}

// ClassifierRule assigns fixed weights when Pattern matches the normalized query.
type ClassifierRule struct {
	QueryType  string             `yaml:"query_type"`
	Pattern    string             `yaml:"pattern"`
	Weights    map[string]float64 `yaml:"weights"`
	Confidence domain.Confidence  `yaml:"confidence"`
}

// DefaultClassifierRules is evaluated top to bottom; the first match wins.
func DefaultClassifierRules() []ClassifierRule {
	return []ClassifierRule{
		{
			QueryType:  "textual_reference",
			Pattern:    `\b(verse|verses|sloka|shloka|quote|quotes|recite|exact words|parva|adhyaya|chapter|section|canto)\b|\bwhat (did|does) \w+ say\b`,
			Weights:    map[string]float64{CategoryScripture: 0.7, CategoryEncyclopedia: 0.15, CategoryCommentary: 0.15},
			Confidence: domain.ConfidenceHigh,
		},
		{
			QueryType:  "comparative",
			Pattern:    `\b(compare|comparison|difference between|differ from|versus|vs)\b`,
			Weights:    map[string]float64{CategoryScripture: 0.2, CategoryEncyclopedia: 0.4, CategoryCommentary: 0.4},
			Confidence: domain.ConfidenceLow,
		},
		{
			QueryType:  "interpretive",
			Pattern:    `\b(meaning|mean|means|significance|signify|interpret\w*|symbol\w*|philosoph\w*|moral|lesson|teaching|explain|why)\b`,
			Weights:    map[string]float64{CategoryScripture: 0.25, CategoryEncyclopedia: 0.15, CategoryCommentary: 0.6},
			Confidence: domain.ConfidenceMedium,
		},
		{
			QueryType:  "entity_lookup",
			Pattern:    `^(who|whom|whose)\b|\b(who (is|was|were|are)|tell me about|define|definition of|what is an?)\b`,
			Weights:    map[string]float64{CategoryScripture: 0.3, CategoryEncyclopedia: 0.6, CategoryCommentary: 0.1},
			Confidence: domain.ConfidenceHigh,
		},
		{
			QueryType:  "narrative",
			Pattern:    `\b(what happened|how did|story of|battle|war|when did|describe|events?)\b`,
			Weights:    map[string]float64{CategoryScripture: 0.5, CategoryEncyclopedia: 0.3, CategoryCommentary: 0.2},
			Confidence: domain.ConfidenceMedium,
		},
	}
}

type compiledRule struct {
	rule    ClassifierRule
	pattern *regexp.Regexp
}

// Classifier is a pure, deterministic heuristic router. Its output is a hint;
// retrieval works with any classification, including an always-low one.
type Classifier struct {
	categories []string
	rules      []compiledRule
}

func NewClassifier(rules []ClassifierRule, categories []string) (*Classifier, error) {
	if len(categories) == 0 {
		categories = DefaultCategories
	}
	if rules == nil {
		rules = DefaultClassifierRules()
	}

	compiled := make([]compiledRule, 0, len(rules))
	for i, rule := range rules {
		pattern, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile classifier rule %d (%s): %w", i, rule.QueryType, err)
		}
		switch rule.Confidence {
		case domain.ConfidenceHigh, domain.ConfidenceMedium, domain.ConfidenceLow:
		default:
			return nil, fmt.Errorf("classifier rule %d (%s): unknown confidence %q", i, rule.QueryType, rule.Confidence)
		}
		compiled = append(compiled, compiledRule{rule: rule, pattern: pattern})
	}

	return &Classifier{
		categories: append([]string(nil), categories...),
		rules:      compiled,
	}, nil
}

// MustNewDefaultClassifier builds a classifier from the built-in rules.
func MustNewDefaultClassifier() *Classifier {
	c, err := NewClassifier(DefaultClassifierRules(), DefaultCategories)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Classifier) Classify(query string) domain.Classification {
	normalized := normalizeQueryText(query)
	for _, r := range c.rules {
		if !r.pattern.MatchString(normalized) {
			continue
		}
		weights := make(map[string]float64, len(c.categories))
		for _, category := range c.categories {
			weights[category] = r.rule.Weights[category]
		}
		out := domain.Classification{
			Weights:    weights,
			Confidence: r.rule.Confidence,
			QueryType:  r.rule.QueryType,
		}
		if r.rule.Confidence.AtLeast(domain.ConfidenceMedium) {
			out.PrimaryCategory = argmaxCategory(weights, c.categories)
		}
		return out
	}
	return UniformClassification(c.categories)
}

// UniformClassification is the no-signal outcome: equal weights, low confidence.
func UniformClassification(categories []string) domain.Classification {
	if len(categories) == 0 {
		categories = DefaultCategories
	}
	weights := make(map[string]float64, len(categories))
	for _, category := range categories {
		weights[category] = 1.0 / float64(len(categories))
	}
	return domain.Classification{
		Weights:    weights,
		Confidence: domain.ConfidenceLow,
		QueryType:  queryTypeGeneral,
	}
}

// argmaxCategory walks categories in priority order so earlier ones win ties.
func argmaxCategory(weights map[string]float64, priority []string) string {
	best := ""
	bestWeight := 0.0
	for _, category := range priority {
		w := weights[category]
		if best == "" || w > bestWeight {
			best = category
			bestWeight = w
		}
	}
	return best
}

func normalizeQueryText(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}
