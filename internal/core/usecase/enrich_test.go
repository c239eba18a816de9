package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/corpus-retrieval/internal/core/domain"
)

type chunkLookupFake struct {
	chunks map[string]domain.Chunk
	err    error
	calls  [][]string
}

func (f *chunkLookupFake) GetByIDs(_ context.Context, ids []string) (map[string]domain.Chunk, error) {
	f.calls = append(f.calls, append([]string(nil), ids...))
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]domain.Chunk, len(ids))
	for _, id := range ids {
		if c, ok := f.chunks[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func childResult(id, parentID string) domain.FusedResult {
	return domain.FusedResult{Chunk: domain.Chunk{
		ID:       id,
		Content:  "child " + id,
		ParentID: parentID,
		Metadata: domain.ChunkMetadata{Type: domain.ChunkTypeChild},
	}}
}

func TestEnricherBatchesParentLookup(t *testing.T) {
	lookup := &chunkLookupFake{chunks: map[string]domain.Chunk{
		"P1": {ID: "P1", Content: "parent one", Metadata: domain.ChunkMetadata{Type: domain.ChunkTypeParent, Parva: "Bhishma"}},
		"P2": {ID: "P2", Content: "parent two"},
	}}
	results := []domain.FusedResult{
		childResult("c1", "P1"),
		childResult("c2", "P1"),
		childResult("c3", "P2"),
		{Chunk: domain.Chunk{ID: "solo", Metadata: domain.ChunkMetadata{Type: domain.ChunkTypeParent}}},
	}

	out := NewEnricher(lookup, nil).Enrich(context.Background(), results)
	if len(lookup.calls) != 1 {
		t.Fatalf("expected one batched lookup, got %d", len(lookup.calls))
	}
	if len(lookup.calls[0]) != 2 {
		t.Fatalf("expected distinct parent ids, got %v", lookup.calls[0])
	}
	if len(out) != 4 {
		t.Fatalf("expected 4 results, got %d", len(out))
	}
	for i, r := range out {
		if r.Rank != i+1 {
			t.Fatalf("expected rank %d, got %d", i+1, r.Rank)
		}
	}
	if !out[0].HasParent || out[0].ParentContent != "parent one" || out[0].ParentMetadata.Parva != "Bhishma" {
		t.Fatalf("expected c1 enriched from P1, got %+v", out[0])
	}
	if out[3].HasParent {
		t.Fatalf("parent chunk must not be enriched")
	}
}

func TestEnricherOrphanPassesThrough(t *testing.T) {
	lookup := &chunkLookupFake{chunks: map[string]domain.Chunk{}}
	out := NewEnricher(lookup, nil).Enrich(context.Background(), []domain.FusedResult{childResult("c1", "gone")})
	if len(out) != 1 || out[0].HasParent || out[0].ParentContent != "" {
		t.Fatalf("expected unenriched orphan, got %+v", out)
	}
}

func TestEnricherLookupErrorDegrades(t *testing.T) {
	lookup := &chunkLookupFake{err: errors.New("db down")}
	out := NewEnricher(lookup, nil).Enrich(context.Background(), []domain.FusedResult{childResult("c1", "P1")})
	if len(out) != 1 || out[0].HasParent {
		t.Fatalf("expected unenriched result on lookup error, got %+v", out)
	}
}

func TestEnricherSkipsLookupWithoutParentRefs(t *testing.T) {
	lookup := &chunkLookupFake{}
	// Child type with blank parent id is not a reference.
	out := NewEnricher(lookup, nil).Enrich(context.Background(), []domain.FusedResult{childResult("c1", "  ")})
	if len(lookup.calls) != 0 {
		t.Fatalf("expected no lookup, got %d", len(lookup.calls))
	}
	if len(out) != 1 {
		t.Fatalf("expected result passthrough")
	}
}
