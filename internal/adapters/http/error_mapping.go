package httpadapter

import (
	"context"
	"errors"
	"net/http"

	"github.com/kirillkom/corpus-retrieval/internal/core/domain"
)

// statusClientClosedRequest is the nginx convention for a caller that went away
// before the response was ready.
const statusClientClosedRequest = 499

func mapErrorToHTTPStatus(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrEmbeddingProvider):
		return http.StatusBadGateway
	case domain.IsKind(err, domain.ErrChunkStore):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
