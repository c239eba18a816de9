package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/corpus-retrieval/internal/core/domain"
)

// pointNamespace derives stable point ids from chunk ids, so re-indexing a chunk overwrites it.
var pointNamespace = uuid.MustParse("6f2d4c1e-8b3a-4e57-9a0c-2d7b5e9f1a34")

// ChunkIndex is a vector branch backend over a Qdrant collection. Chunk fields
// travel in the point payload, so search needs no second lookup.
type ChunkIndex struct {
	baseURL    string
	collection string
	httpClient *http.Client

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection string) *ChunkIndex {
	return &ChunkIndex{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func PointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

func (c *ChunkIndex) IndexChunks(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) == 0 || len(vectors) == 0 {
		return nil
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks/vectors mismatch")
	}

	if err := c.ensureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}

	type point struct {
		ID      string         `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}

	points := make([]point, 0, len(chunks))
	for i, chunk := range chunks {
		payload, err := chunkPayload(chunk)
		if err != nil {
			return err
		}
		points = append(points, point{
			ID:      PointID(chunk.ID),
			Vector:  vectors[i],
			Payload: payload,
		})
	}

	url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
	return c.doJSON(ctx, http.MethodPut, url, map[string]any{"points": points}, nil, "upsert")
}

// SearchVector maps the similarity cutoff to Qdrant's score_threshold. The
// collection uses cosine distance, so scores are already similarities.
func (c *ChunkIndex) SearchVector(ctx context.Context, q domain.VectorQuery) ([]domain.Candidate, error) {
	if len(q.Vector) == 0 || q.Limit <= 0 {
		return nil, nil
	}

	reqBody := map[string]any{
		"vector":       q.Vector,
		"limit":        q.Limit,
		"with_payload": true,
	}
	if q.MinSimilarity > 0 {
		reqBody["score_threshold"] = q.MinSimilarity
	}
	if q.Filter.Category != "" {
		reqBody["filter"] = map[string]any{
			"must": []map[string]any{
				{
					"key": "category",
					"match": map[string]any{
						"value": q.Filter.Category,
					},
				},
			},
		}
	}

	var searchResp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	if err := c.doJSON(ctx, http.MethodPost, url, reqBody, &searchResp, "search"); err != nil {
		return nil, domain.WrapError(domain.ErrChunkStore, "qdrant vector search", err)
	}

	out := make([]domain.Candidate, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		chunk, err := payloadChunk(r.Payload)
		if err != nil {
			return nil, domain.WrapError(domain.ErrChunkStore, "qdrant vector search", err)
		}
		out = append(out, domain.Candidate{Chunk: chunk, Score: r.Score})
	}
	return out, nil
}

func (c *ChunkIndex) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	err := c.doJSON(ctx, http.MethodPut, url, reqBody, nil, "ensure collection")

	// 409 if it already exists (depends on version/config).
	var statusErr *statusError
	if err != nil && !(errors.As(err, &statusErr) && statusErr.code == http.StatusConflict) {
		return err
	}

	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
	return nil
}

func (c *ChunkIndex) doJSON(ctx context.Context, method, url string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s body: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s request: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &statusError{operation: operation, code: resp.StatusCode, status: resp.Status, body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

func chunkPayload(chunk domain.Chunk) (map[string]any, error) {
	meta, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata for %s: %w", chunk.ID, err)
	}
	var metaMap map[string]any
	if err := json.Unmarshal(meta, &metaMap); err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", chunk.ID, err)
	}
	return map[string]any{
		"chunk_id":           chunk.ID,
		"content":            chunk.Content,
		"contextual_content": chunk.ContextualContent,
		"category":           chunk.Category,
		"parent_id":          chunk.ParentID,
		"content_hash":       chunk.ContentHash,
		"metadata":           metaMap,
	}, nil
}

func payloadChunk(payload map[string]any) (domain.Chunk, error) {
	chunk := domain.Chunk{
		ID:                getStringPayload(payload, "chunk_id"),
		Content:           getStringPayload(payload, "content"),
		ContextualContent: getStringPayload(payload, "contextual_content"),
		Category:          getStringPayload(payload, "category"),
		ParentID:          getStringPayload(payload, "parent_id"),
		ContentHash:       getStringPayload(payload, "content_hash"),
	}
	if raw, ok := payload["metadata"]; ok && raw != nil {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return domain.Chunk{}, fmt.Errorf("encode payload metadata: %w", err)
		}
		if err := json.Unmarshal(encoded, &chunk.Metadata); err != nil {
			return domain.Chunk{}, fmt.Errorf("decode payload metadata for %s: %w", chunk.ID, err)
		}
	}
	return chunk, nil
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
