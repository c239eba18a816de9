package mcpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/corpus-retrieval/internal/core/domain"
	"github.com/kirillkom/corpus-retrieval/internal/core/ports"
)

const (
	ServerName    = "corpus-retrieval"
	ServerVersion = "1.0.0"

	ToolSearchCorpus  = "search_corpus"
	ToolClassifyQuery = "classify_query"

	maxToolLimit = 50
)

// Server exposes retrieval to MCP clients over stdio.
type Server struct {
	mcp        *server.MCPServer
	retriever  ports.Retriever
	classifier ports.QueryClassifier
	logger     *slog.Logger
}

func NewServer(retriever ports.Retriever, classifier ports.QueryClassifier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mcp:        server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		retriever:  retriever,
		classifier: classifier,
		logger:     logger,
	}
	s.mcp.AddTool(searchCorpusTool(), s.handleSearchCorpus)
	s.mcp.AddTool(classifyQueryTool(), s.handleClassifyQuery)
	return s
}

// Serve blocks until stdin is closed.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcp)
}

func searchCorpusTool() mcp.Tool {
	return mcp.NewTool(ToolSearchCorpus,
		mcp.WithDescription("Hybrid semantic and keyword search over the text corpus. Returns ranked passages with their locators."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural language question or keywords"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of passages to return (1-50)"),
			mcp.DefaultNumber(5),
			mcp.Min(1),
			mcp.Max(maxToolLimit),
		),
		mcp.WithString("category",
			mcp.Description("Restrict results to one category, e.g. scripture, encyclopedia or commentary"),
		),
	)
}

func classifyQueryTool() mcp.Tool {
	return mcp.NewTool(ToolClassifyQuery,
		mcp.WithDescription("Classify a query into corpus categories with a confidence level."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Query to classify"),
		),
	)
}

func (s *Server) handleSearchCorpus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil || strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query parameter is required and cannot be empty"), nil
	}
	limit := request.GetInt("limit", 0)
	if limit < 0 || limit > maxToolLimit {
		return mcp.NewToolResultError(fmt.Sprintf("limit must be between 1 and %d", maxToolLimit)), nil
	}

	result, err := s.retriever.Retrieve(ctx, domain.RetrievalRequest{
		Query:    query,
		Limit:    limit,
		Category: request.GetString("category", ""),
	})
	if err != nil {
		if domain.IsKind(err, domain.ErrInvalidInput) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		s.logger.Error("mcp_search_failed", "error", err)
		return mcp.NewToolResultErrorFromErr("search failed", err), nil
	}

	return toolResultJSON(searchResponse(result))
}

func (s *Server) handleClassifyQuery(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil || strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query parameter is required and cannot be empty"), nil
	}
	return toolResultJSON(s.classifier.Classify(query))
}

type passage struct {
	Rank          int      `json:"rank"`
	ID            string   `json:"id"`
	Category      string   `json:"category,omitempty"`
	Locator       string   `json:"locator,omitempty"`
	Content       string   `json:"content"`
	ParentContent string   `json:"parent_content,omitempty"`
	FoundBy       []string `json:"found_by"`
	FusionScore   float64  `json:"fusion_score"`
}

type searchOutput struct {
	Query         string               `json:"query"`
	QueryType     string               `json:"query_type"`
	Confidence    domain.Confidence    `json:"confidence"`
	RerankOutcome domain.RerankOutcome `json:"rerank_outcome"`
	Passages      []passage            `json:"passages"`
}

func searchResponse(result *domain.RetrievalResult) searchOutput {
	out := searchOutput{
		Query:         result.Query,
		QueryType:     result.Classification.QueryType,
		Confidence:    result.Classification.Confidence,
		RerankOutcome: result.Stats.RerankOutcome,
		Passages:      make([]passage, 0, len(result.Results)),
	}
	for _, item := range result.Results {
		foundBy := make([]string, 0, len(item.FoundBy))
		for _, signal := range item.FoundBy {
			foundBy = append(foundBy, string(signal))
		}
		out.Passages = append(out.Passages, passage{
			Rank:          item.Rank,
			ID:            item.ID,
			Category:      item.Category,
			Locator:       item.Metadata.Locator(),
			Content:       item.Content,
			ParentContent: item.ParentContent,
			FoundBy:       foundBy,
			FusionScore:   item.FusionScore,
		})
	}
	return out
}

func toolResultJSON(payload any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}
