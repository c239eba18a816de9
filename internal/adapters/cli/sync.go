package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirillkom/corpus-retrieval/internal/core/domain"
)

func newQdrantSyncCmd(env Environment) *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "qdrant-sync",
		Short: "Copy stored chunk embeddings into the Qdrant collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			source, sink, closeFn, err := env.SyncTarget(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			total, err := SyncIndex(cmd.Context(), source, sink, batch, func(n int) {
				cmd.Printf("indexed %d chunks\n", n)
			})
			if err != nil {
				return err
			}
			cmd.Printf("done: %d chunks\n", total)
			return nil
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 256, "chunks per upsert")
	return cmd
}

// SyncIndex copies every embedded chunk from source into sink in seq order.
func SyncIndex(ctx context.Context, source EmbeddedSource, sink IndexSink, batch int, progress func(int)) (int, error) {
	if batch <= 0 {
		batch = 256
	}
	var (
		afterSeq int64
		total    int
	)
	for {
		items, err := source.ListEmbedded(ctx, afterSeq, batch)
		if err != nil {
			return total, err
		}
		if len(items) == 0 {
			return total, nil
		}

		chunks := make([]domain.Chunk, len(items))
		vectors := make([][]float32, len(items))
		for i, item := range items {
			chunks[i] = item.Chunk
			vectors[i] = item.Vector
		}
		if err := sink.IndexChunks(ctx, chunks, vectors); err != nil {
			return total, fmt.Errorf("index batch after seq %d: %w", afterSeq, err)
		}

		total += len(items)
		afterSeq = items[len(items)-1].Seq
		if progress != nil {
			progress(total)
		}
		if len(items) < batch {
			return total, nil
		}
	}
}
