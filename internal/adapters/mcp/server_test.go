package mcpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/corpus-retrieval/internal/core/domain"
	"github.com/kirillkom/corpus-retrieval/internal/core/usecase"
)

type retrieverFake struct {
	result *domain.RetrievalResult
	err    error
	got    domain.RetrievalRequest
}

func (f *retrieverFake) Retrieve(_ context.Context, req domain.RetrievalRequest) (*domain.RetrievalResult, error) {
	f.got = req
	return f.result, f.err
}

func callTool(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

func TestSearchCorpusReturnsPassages(t *testing.T) {
	page := 12
	retriever := &retrieverFake{result: &domain.RetrievalResult{
		Query:          "what did krishna say about duty",
		Classification: domain.Classification{QueryType: "textual_reference", Confidence: domain.ConfidenceHigh},
		Results: []domain.EnrichedResult{{
			FusedResult: domain.FusedResult{
				Chunk: domain.Chunk{
					ID:       "c7",
					Content:  "Your right is to action alone",
					Category: usecase.CategoryScripture,
					Metadata: domain.ChunkMetadata{Parva: "Bhishma Parva", Page: &page},
				},
				FoundBy:     []domain.SourceSignal{domain.SignalKeyword},
				FusionScore: 0.016,
			},
			Rank:          1,
			ParentContent: "full section text",
		}},
		Stats: domain.RetrievalStats{RerankOutcome: domain.RerankOutcomeReranked},
	}}
	s := NewServer(retriever, usecase.MustNewDefaultClassifier(), nil)

	res, err := s.handleSearchCorpus(context.Background(), callTool(ToolSearchCorpus, map[string]any{
		"query":    "what did krishna say about duty",
		"limit":    float64(3),
		"category": "scripture",
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, 3, retriever.got.Limit)
	assert.Equal(t, "scripture", retriever.got.Category)

	var out searchOutput
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	require.Len(t, out.Passages, 1)
	assert.Equal(t, "c7", out.Passages[0].ID)
	assert.Equal(t, []string{"keyword"}, out.Passages[0].FoundBy)
	assert.Contains(t, out.Passages[0].Locator, "Bhishma Parva")
	assert.Equal(t, "full section text", out.Passages[0].ParentContent)
	assert.Equal(t, domain.RerankOutcomeReranked, out.RerankOutcome)
}

func TestSearchCorpusRejectsMissingQuery(t *testing.T) {
	s := NewServer(&retrieverFake{}, usecase.MustNewDefaultClassifier(), nil)

	res, err := s.handleSearchCorpus(context.Background(), callTool(ToolSearchCorpus, map[string]any{}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestSearchCorpusRejectsOutOfRangeLimit(t *testing.T) {
	s := NewServer(&retrieverFake{}, usecase.MustNewDefaultClassifier(), nil)

	res, err := s.handleSearchCorpus(context.Background(), callTool(ToolSearchCorpus, map[string]any{
		"query": "dharma",
		"limit": float64(500),
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestSearchCorpusReportsRetrievalFailure(t *testing.T) {
	retriever := &retrieverFake{err: domain.WrapError(domain.ErrEmbeddingProvider, "embed query", errors.New("down"))}
	s := NewServer(retriever, usecase.MustNewDefaultClassifier(), nil)

	res, err := s.handleSearchCorpus(context.Background(), callTool(ToolSearchCorpus, map[string]any{"query": "dharma"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "search failed")
}

func TestClassifyQueryTool(t *testing.T) {
	s := NewServer(&retrieverFake{}, usecase.MustNewDefaultClassifier(), nil)

	res, err := s.handleClassifyQuery(context.Background(), callTool(ToolClassifyQuery, map[string]any{
		"query": "Compare Karna and Arjuna",
	}))
	require.NoError(t, err)

	var cls domain.Classification
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &cls))
	assert.Equal(t, "comparative", cls.QueryType)
	assert.Equal(t, domain.ConfidenceLow, cls.Confidence)
	assert.Empty(t, cls.PrimaryCategory)
}
