package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/corpus-retrieval/internal/core/usecase"
)

// Rules is the optional RAG_RULES_PATH document. A nil Classifier keeps the
// built-in rule list.
type Rules struct {
	Categories []string                 `yaml:"categories"`
	Classifier []usecase.ClassifierRule `yaml:"classifier_rules"`
	Synonyms   [][]string               `yaml:"synonyms"`
}

func LoadRules(path string) (Rules, error) {
	if path == "" {
		return Rules{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(raw)
}

func ParseRules(raw []byte) (Rules, error) {
	var rules Rules
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return Rules{}, fmt.Errorf("decode rules file: %w", err)
	}
	for i, rule := range rules.Classifier {
		if rule.QueryType == "" || rule.Pattern == "" {
			return Rules{}, fmt.Errorf("classifier rule %d: query_type and pattern are required", i)
		}
	}
	for i, group := range rules.Synonyms {
		if len(group) < 2 {
			return Rules{}, fmt.Errorf("synonym group %d: at least two terms are required", i)
		}
	}
	return rules, nil
}
