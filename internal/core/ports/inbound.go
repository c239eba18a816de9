package ports

import (
	"context"

	"github.com/kirillkom/corpus-retrieval/internal/core/domain"
)

// Retriever is the inbound contract for hybrid retrieval over the chunk corpus.
type Retriever interface {
	Retrieve(ctx context.Context, req domain.RetrievalRequest) (*domain.RetrievalResult, error)
}

// QueryClassifier is the inbound contract for advisory query routing.
type QueryClassifier interface {
	Classify(query string) domain.Classification
}
