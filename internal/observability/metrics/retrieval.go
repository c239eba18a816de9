package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/corpus-retrieval/internal/core/domain"
)

const namespace = "corpus"

// RetrievalMetrics records pipeline stage timings and outcomes. It satisfies
// ports.RetrievalObserver.
type RetrievalMetrics struct {
	service string

	stageDuration    *prometheus.HistogramVec
	stageErrors      *prometheus.CounterVec
	rerankOutcomes   *prometheus.CounterVec
	embeddingCache   *prometheus.CounterVec
	resultsReturned  *prometheus.HistogramVec
	noContextTotal   *prometheus.CounterVec
	categoryFiltered *prometheus.CounterVec
}

func NewRetrievalMetrics(service string, registerer prometheus.Registerer) *RetrievalMetrics {
	m := &RetrievalMetrics{
		service: service,
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "retrieval",
				Name:      "stage_duration_seconds",
				Help:      "Retrieval pipeline stage duration in seconds.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"service", "stage"},
		),
		stageErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "retrieval",
				Name:      "stage_errors_total",
				Help:      "Retrieval pipeline stages that ended with an error.",
			},
			[]string{"service", "stage"},
		),
		rerankOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "retrieval",
				Name:      "rerank_outcomes_total",
				Help:      "Rerank gateway outcomes, including fallbacks to fused order.",
			},
			[]string{"service", "outcome"},
		),
		embeddingCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "retrieval",
				Name:      "embedding_cache_total",
				Help:      "Query embedding cache lookups by result.",
			},
			[]string{"service", "result"},
		),
		resultsReturned: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "retrieval",
				Name:      "results",
				Help:      "Distribution of results returned per retrieval.",
				Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
			},
			[]string{"service"},
		),
		noContextTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "retrieval",
				Name:      "no_context_total",
				Help:      "Total retrievals that returned no results.",
			},
			[]string{"service"},
		),
		categoryFiltered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "retrieval",
				Name:      "category_filtered_total",
				Help:      "Total retrievals restricted to a single category.",
			},
			[]string{"service"},
		),
	}

	registerer.MustRegister(
		m.stageDuration,
		m.stageErrors,
		m.rerankOutcomes,
		m.embeddingCache,
		m.resultsReturned,
		m.noContextTotal,
		m.categoryFiltered,
	)
	return m
}

func (m *RetrievalMetrics) ObserveStage(stage string, duration time.Duration, err error) {
	m.stageDuration.WithLabelValues(m.service, stage).Observe(duration.Seconds())
	if err != nil {
		m.stageErrors.WithLabelValues(m.service, stage).Inc()
	}
}

func (m *RetrievalMetrics) ObserveRerank(outcome domain.RerankOutcome) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.rerankOutcomes.WithLabelValues(m.service, string(outcome)).Inc()
}

func (m *RetrievalMetrics) ObserveEmbeddingCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.embeddingCache.WithLabelValues(m.service, result).Inc()
}

func (m *RetrievalMetrics) ObserveResults(count int, categoryFiltered bool) {
	m.resultsReturned.WithLabelValues(m.service).Observe(float64(count))
	if count == 0 {
		m.noContextTotal.WithLabelValues(m.service).Inc()
	}
	if categoryFiltered {
		m.categoryFiltered.WithLabelValues(m.service).Inc()
	}
}
