// Package metrics declares the Prometheus metrics of the memory core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "petpal"
)

// Retrieval outcomes.
const (
	OutcomeFastPath  = "fast_path"
	OutcomeNoHistory = "no_history"
	OutcomeNoRelated = "no_related"
	OutcomeHits      = "hits"
	OutcomeError     = "error"
)

// LatencyBuckets covers local index work up to remote embedding calls (seconds).
var LatencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

var (
	// RetrievalTotal counts retrieval requests by outcome.
	RetrievalTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_total",
			Help:      "Total number of context retrievals by outcome",
		},
		[]string{"outcome"},
	)

	// RetrievalLatency tracks end-to-end retrieval latency.
	RetrievalLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_latency_seconds",
			Help:      "Context retrieval latency in seconds",
			Buckets:   LatencyBuckets,
		},
	)

	// EmbeddingErrors counts failed embedding calls by provider.
	EmbeddingErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_errors_total",
			Help:      "Total number of failed embedding calls",
		},
		[]string{"provider"},
	)
)

var (
	// IndexOperations counts index file operations by kind and result.
	IndexOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_operations_total",
			Help:      "Total number of index file operations",
		},
		[]string{"operation", "result"},
	)

	// IndexesLoaded reports the number of conversation indexes held in memory.
	IndexesLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexes_loaded",
			Help:      "Number of conversation indexes in the registry",
		},
	)

	// ProfileFactsUpserted counts extracted profile facts by attribute.
	ProfileFactsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_facts_upserted_total",
			Help:      "Total number of profile facts written by the extractor",
		},
		[]string{"attribute"},
	)
)
