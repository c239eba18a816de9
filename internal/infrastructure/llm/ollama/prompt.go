package ollama

import (
	"encoding/json"
	"fmt"

	"github.com/kirillkom/corpus-retrieval/internal/core/domain"
)

func buildRelevancePrompt(query string, previews []domain.RerankPreview, topN int) (string, error) {
	candidates, err := json.MarshalIndent(previews, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal rerank previews: %w", err)
	}

	return fmt.Sprintf(`You rank text passages by how well they answer a question.
Return only a JSON array with at most %d passage ids, most relevant first.
Use ids exactly as given. Omit passages that are not relevant. No markdown, no explanations.

Question:
%s

Passages:
%s
`, topN, query, candidates), nil
}
