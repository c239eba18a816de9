package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kirillkom/corpus-retrieval/internal/core/domain"
	"github.com/kirillkom/corpus-retrieval/internal/core/ports"
)

var _ ports.RetrievalObserver = (*RetrievalMetrics)(nil)

func TestRetrievalMetricsRecordsOutcomes(t *testing.T) {
	m := NewRetrievalMetrics("api", prometheus.NewRegistry())

	m.ObserveRerank(domain.RerankOutcomeFallbackParse)
	m.ObserveRerank(domain.RerankOutcomeFallbackParse)
	m.ObserveEmbeddingCache(true)
	m.ObserveEmbeddingCache(false)
	m.ObserveEmbeddingCache(false)
	m.ObserveStage("embed_query", 10*time.Millisecond, errors.New("quota"))
	m.ObserveResults(0, true)

	if got := testutil.ToFloat64(m.rerankOutcomes.WithLabelValues("api", "fallback_parse")); got != 2 {
		t.Fatalf("expected 2 fallback_parse outcomes, got %v", got)
	}
	if got := testutil.ToFloat64(m.embeddingCache.WithLabelValues("api", "miss")); got != 2 {
		t.Fatalf("expected 2 cache misses, got %v", got)
	}
	if got := testutil.ToFloat64(m.stageErrors.WithLabelValues("api", "embed_query")); got != 1 {
		t.Fatalf("expected 1 stage error, got %v", got)
	}
	if got := testutil.ToFloat64(m.noContextTotal.WithLabelValues("api")); got != 1 {
		t.Fatalf("expected 1 no-context retrieval, got %v", got)
	}
	if got := testutil.ToFloat64(m.categoryFiltered.WithLabelValues("api")); got != 1 {
		t.Fatalf("expected 1 category-filtered retrieval, got %v", got)
	}
}

func TestHTTPServerMetricsMiddlewareCountsStatus(t *testing.T) {
	m := NewHTTPServerMetrics("api")
	handler := m.Middleware("api", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/retrieve", nil))

	if got := testutil.ToFloat64(m.requestTotal.WithLabelValues("api", http.MethodPost, "/v1/retrieve", "418")); got != 1 {
		t.Fatalf("expected 1 request recorded, got %v", got)
	}

	m.Retrieval().ObserveRerank(domain.RerankOutcomeReranked)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "corpus_retrieval_rerank_outcomes_total") {
		t.Fatalf("expected retrieval metrics on the shared registry")
	}
}

func TestWorkerMetricsFinishRequest(t *testing.T) {
	m := NewWorkerMetrics("worker")
	m.StartRequest()
	m.FinishRequest("worker", time.Millisecond, errors.New("boom"))

	if got := testutil.ToFloat64(m.requestTotal.WithLabelValues("worker", "error")); got != 1 {
		t.Fatalf("expected 1 failed request, got %v", got)
	}
	if got := testutil.ToFloat64(m.requestInFlight); got != 0 {
		t.Fatalf("expected no in-flight requests, got %v", got)
	}
}
