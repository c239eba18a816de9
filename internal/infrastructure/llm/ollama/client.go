package ollama

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/corpus-retrieval/internal/core/domain"
	"github.com/kirillkom/corpus-retrieval/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client

	embedExec *resilience.Executor
	judgeExec *resilience.Executor
}

type Options struct {
	HTTPTimeout time.Duration
	// EmbedExecutor guards /api/embed. Nil means a single unguarded attempt.
	EmbedExecutor *resilience.Executor
	// JudgeExecutor guards relevance judging. Nil means a single unguarded attempt.
	JudgeExecutor *resilience.Executor
}

func New(baseURL, genModel, embedModel string) *Client {
	return NewWithOptions(baseURL, genModel, embedModel, Options{})
}

func NewWithOptions(baseURL, genModel, embedModel string, opts Options) *Client {
	timeout := opts.HTTPTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: timeout},
		embedExec:  opts.EmbedExecutor,
		judgeExec:  opts.JudgeExecutor,
	}
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	request := map[string]any{
		"model": e.client.embedModel,
		"input": []string{text},
	}

	response, err := resilience.Do(ctx, e.client.embedExec, "ollama.embed", func(callCtx context.Context) (embedResponse, error) {
		var out embedResponse
		err := e.client.postJSON(callCtx, "/api/embed", request, &out, "embed")
		return out, wrapTemporaryIfNeeded("ollama embed", err)
	}, classifyOllamaError)
	if err != nil {
		return nil, err
	}
	if len(response.Embeddings) == 0 || len(response.Embeddings[0]) == 0 {
		return nil, errors.New("empty embedding result")
	}
	return response.Embeddings[0], nil
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// RelevanceJudge asks the generation model to order candidate previews by
// relevance. It returns the raw model output; parsing belongs to the caller.
type RelevanceJudge struct {
	client *Client
}

func NewRelevanceJudge(client *Client) *RelevanceJudge {
	return &RelevanceJudge{client: client}
}

func (j *RelevanceJudge) RankCandidates(
	ctx context.Context,
	query string,
	previews []domain.RerankPreview,
	topN int,
) (string, error) {
	prompt, err := buildRelevancePrompt(query, previews, topN)
	if err != nil {
		return "", err
	}
	return resilience.Do(ctx, j.client.judgeExec, "ollama.judge", func(callCtx context.Context) (string, error) {
		out, err := j.client.generateText(callCtx, prompt)
		return out, wrapTemporaryIfNeeded("ollama judge", err)
	}, classifyOllamaError)
}

func (c *Client) generateText(ctx context.Context, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":  c.genModel,
		"prompt": prompt,
		"stream": false,
		"options": map[string]any{
			"temperature": 0,
		},
	}
	var response struct {
		Response string `json:"response"`
	}
	if err := c.postJSON(ctx, "/api/generate", reqBody, &response, "generate"); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}
