package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/corpus-retrieval/internal/core/domain"
	"github.com/kirillkom/corpus-retrieval/internal/core/ports"
	"github.com/kirillkom/corpus-retrieval/internal/core/usecase"
	"github.com/kirillkom/corpus-retrieval/internal/infrastructure/repository/postgres"
)

type retrieverFake struct {
	result *domain.RetrievalResult
	got    domain.RetrievalRequest
}

func (f *retrieverFake) Retrieve(_ context.Context, req domain.RetrievalRequest) (*domain.RetrievalResult, error) {
	f.got = req
	return f.result, nil
}

type sourceFake struct {
	items []postgres.EmbeddedChunk
	calls []int64
}

func (f *sourceFake) ListEmbedded(_ context.Context, afterSeq int64, limit int) ([]postgres.EmbeddedChunk, error) {
	f.calls = append(f.calls, afterSeq)
	var out []postgres.EmbeddedChunk
	for _, item := range f.items {
		if item.Seq > afterSeq && len(out) < limit {
			out = append(out, item)
		}
	}
	return out, nil
}

type sinkFake struct {
	batches [][]string
	err     error
}

func (f *sinkFake) IndexChunks(_ context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	if f.err != nil {
		return f.err
	}
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	f.batches = append(f.batches, ids)
	return nil
}

type envFake struct {
	retriever *retrieverFake
	viaBus    bool
	source    *sourceFake
	sink      *sinkFake
	closed    int
}

func (e *envFake) Classifier() (ports.QueryClassifier, error) {
	return usecase.MustNewDefaultClassifier(), nil
}

func (e *envFake) Retriever(_ context.Context, viaBus bool) (ports.Retriever, func(), error) {
	e.viaBus = viaBus
	return e.retriever, func() { e.closed++ }, nil
}

func (e *envFake) SyncTarget(context.Context) (EmbeddedSource, IndexSink, func(), error) {
	return e.source, e.sink, func() { e.closed++ }, nil
}

func run(t *testing.T, env Environment, args ...string) string {
	t.Helper()
	cmd := NewRootCmd(env)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestClassifyCommand(t *testing.T) {
	out := run(t, &envFake{}, "classify", "Who", "was", "Drona?")
	assert.Contains(t, out, "query type: entity_lookup")
	assert.Contains(t, out, "primary:    encyclopedia")
}

func TestSearchCommandPrintsRankedResults(t *testing.T) {
	env := &envFake{retriever: &retrieverFake{result: &domain.RetrievalResult{
		Classification: domain.Classification{QueryType: "narrative", Confidence: domain.ConfidenceMedium},
		Results: []domain.EnrichedResult{{
			FusedResult: domain.FusedResult{
				Chunk:       domain.Chunk{ID: "c1", Content: "The dice game   in the assembly hall", Metadata: domain.ChunkMetadata{Parva: "Sabha"}},
				FoundBy:     []domain.SourceSignal{domain.SignalVector, domain.SignalKeyword},
				FusionScore: 0.0328,
			},
			Rank: 1,
		}},
		Stats: domain.RetrievalStats{RerankOutcome: domain.RerankOutcomePartial},
	}}}

	out := run(t, env, "search", "--via-nats", "-n", "2", "--category", "scripture", "dice", "game")
	assert.True(t, env.viaBus)
	assert.Equal(t, "dice game", env.retriever.got.Query)
	assert.Equal(t, 2, env.retriever.got.Limit)
	assert.Equal(t, "scripture", env.retriever.got.Category)
	assert.Contains(t, out, "[1] c1 (0.0328, vector+keyword)")
	assert.Contains(t, out, "parva Sabha")
	assert.Contains(t, out, "The dice game in the assembly hall")
	assert.Equal(t, 1, env.closed)
}

func TestSearchCommandEmptyResults(t *testing.T) {
	env := &envFake{retriever: &retrieverFake{result: &domain.RetrievalResult{
		Stats: domain.RetrievalStats{RerankOutcome: domain.RerankOutcomeSkipped},
	}}}
	out := run(t, env, "search", "nothing")
	assert.Contains(t, out, "No results found.")
	assert.False(t, env.viaBus)
}

func TestSyncIndexPagesBySeq(t *testing.T) {
	source := &sourceFake{items: []postgres.EmbeddedChunk{
		{Seq: 3, Chunk: domain.Chunk{ID: "a"}, Vector: []float32{1}},
		{Seq: 5, Chunk: domain.Chunk{ID: "b"}, Vector: []float32{2}},
		{Seq: 9, Chunk: domain.Chunk{ID: "c"}, Vector: []float32{3}},
	}}
	sink := &sinkFake{}

	total, err := SyncIndex(context.Background(), source, sink, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, sink.batches)
	assert.Equal(t, []int64{0, 5}, source.calls)
}

func TestSyncIndexStopsOnSinkError(t *testing.T) {
	source := &sourceFake{items: []postgres.EmbeddedChunk{{Seq: 1, Chunk: domain.Chunk{ID: "a"}, Vector: []float32{1}}}}
	sink := &sinkFake{err: errors.New("qdrant down")}

	total, err := SyncIndex(context.Background(), source, sink, 10, nil)
	require.Error(t, err)
	assert.Zero(t, total)
	assert.True(t, strings.Contains(err.Error(), "qdrant down"))
}

func TestQdrantSyncCommand(t *testing.T) {
	env := &envFake{
		source: &sourceFake{items: []postgres.EmbeddedChunk{{Seq: 1, Chunk: domain.Chunk{ID: "a"}, Vector: []float32{1}}}},
		sink:   &sinkFake{},
	}
	out := run(t, env, "qdrant-sync")
	assert.Contains(t, out, "done: 1 chunks")
	assert.Equal(t, 1, env.closed)
}
