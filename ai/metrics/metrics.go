// Package metrics exposes Prometheus instrumentation for the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the engine's Prometheus collectors. All collectors are
// registered against the given registerer at construction.
type Metrics struct {
	MemorizeTotal     *prometheus.CounterVec
	SearchTotal       *prometheus.CounterVec
	SearchDuration    prometheus.Histogram
	EmbeddingFailures prometheus.Counter
	EmbeddingDuration prometheus.Histogram
	TagMerges         prometheus.Counter
	TagsMigrated      prometheus.Counter
}

// New registers and returns the engine metrics. Pass
// prometheus.DefaultRegisterer outside of tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MemorizeTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mnemora",
			Name:      "memorize_total",
			Help:      "Memorize operations by outcome.",
		}, []string{"status"}),
		SearchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mnemora",
			Name:      "search_total",
			Help:      "Search operations by intent.",
		}, []string{"intent"}),
		SearchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mnemora",
			Name:      "search_duration_seconds",
			Help:      "End to end search latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		EmbeddingFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mnemora",
			Name:      "embedding_failures_total",
			Help:      "Embedding provider calls that failed.",
		}),
		EmbeddingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mnemora",
			Name:      "embedding_duration_seconds",
			Help:      "Embedding provider call latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		TagMerges: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mnemora",
			Name:      "tag_merges_total",
			Help:      "Tag pairs merged by consolidation.",
		}),
		TagsMigrated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mnemora",
			Name:      "tags_migrated_total",
			Help:      "Tag embeddings recomputed after a model switch.",
		}),
	}
}
