package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/kirillkom/corpus-retrieval/internal/core/domain"
	"github.com/kirillkom/corpus-retrieval/internal/core/ports"
	"github.com/kirillkom/corpus-retrieval/internal/infrastructure/repository/postgres"
)

// Environment builds the collaborators a command needs. Every returned close
// function must be called once the command is done.
type Environment interface {
	Classifier() (ports.QueryClassifier, error)
	Retriever(ctx context.Context, viaBus bool) (ports.Retriever, func(), error)
	SyncTarget(ctx context.Context) (EmbeddedSource, IndexSink, func(), error)
}

// EmbeddedSource pages through stored chunks and their embeddings.
type EmbeddedSource interface {
	ListEmbedded(ctx context.Context, afterSeq int64, limit int) ([]postgres.EmbeddedChunk, error)
}

// IndexSink receives chunks for the alternative vector backend.
type IndexSink interface {
	IndexChunks(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error
}

func NewRootCmd(env Environment) *cobra.Command {
	root := &cobra.Command{
		Use:           "ragctl",
		Short:         "Operate the corpus retrieval pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newClassifyCmd(env),
		newSearchCmd(env),
		newQdrantSyncCmd(env),
	)
	return root
}
