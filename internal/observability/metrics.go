package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is a centralized collection of Prometheus instruments for the
// memory engine: search latency and hit rate, embedding-queue depth, and
// hot-path cache effectiveness.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	defer metrics.SearchDuration.Observe(time.Since(start).Seconds())
type Metrics struct {
	// SearchDuration measures SearchEngine.Search latency in seconds.
	// Labels: bucket (sparse|low|normal|dense)
	SearchDuration *prometheus.HistogramVec

	// SearchResultCount tracks result-set size.
	// Labels: bucket, fallback (true|false)
	SearchResultCount *prometheus.HistogramVec

	// MemoryInsertCounter counts MemoryStore.Insert outcomes.
	// Labels: outcome (inserted|duplicate|error)
	MemoryInsertCounter *prometheus.CounterVec

	// EmbeddingRequestDuration measures EmbeddingClient round-trip latency.
	// Labels: mode (embed|batch_embed)
	EmbeddingRequestDuration *prometheus.HistogramVec

	// EmbeddingRequestCounter counts embedder outcomes.
	// Labels: mode, status (success|timeout|error)
	EmbeddingRequestCounter *prometheus.CounterVec

	// QueueDepth is a gauge of pending embedding-queue rows per project.
	// Labels: project
	QueueDepth *prometheus.GaugeVec

	// QueueDrainCounter counts drained rows.
	// Labels: status (completed|failed)
	QueueDrainCounter *prometheus.CounterVec

	// ConsolidationMergeCounter counts memories merged by strategy.
	// Labels: strategy (similarity|temporal|tag_based|importance)
	ConsolidationMergeCounter *prometheus.CounterVec

	// HotPathCacheHits counts hot-path promotions and prefetch hits.
	// Labels: result (promoted|prefetch)
	HotPathCacheHits *prometheus.CounterVec

	// SchemaMigrationCounter counts per-project dimension migrations.
	SchemaMigrationCounter prometheus.Counter

	// RestorationUnextractableCounter counts summary memories that matched
	// IsSummary but produced zero turns from every registered pattern.
	RestorationUnextractableCounter prometheus.Counter
}

// NewMetrics registers and returns the default metric set against the
// global Prometheus registry.
func NewMetrics() *Metrics {
	return &Metrics{
		SearchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "specmem",
			Name:      "search_duration_seconds",
			Help:      "SearchEngine.Search latency in seconds by density bucket.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"bucket"}),
		SearchResultCount: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "specmem",
			Name:      "search_result_count",
			Help:      "Number of results returned per search call.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
		}, []string{"bucket", "fallback"}),
		MemoryInsertCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "specmem",
			Name:      "memory_insert_total",
			Help:      "MemoryStore.Insert outcomes.",
		}, []string{"outcome"}),
		EmbeddingRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "specmem",
			Name:      "embedding_request_duration_seconds",
			Help:      "EmbeddingClient round-trip latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"mode"}),
		EmbeddingRequestCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "specmem",
			Name:      "embedding_request_total",
			Help:      "EmbeddingClient request outcomes.",
		}, []string{"mode", "status"}),
		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "specmem",
			Name:      "embedding_queue_depth",
			Help:      "Pending embedding-queue rows per project.",
		}, []string{"project"}),
		QueueDrainCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "specmem",
			Name:      "embedding_queue_drain_total",
			Help:      "Rows processed by EmbeddingQueue.drain.",
		}, []string{"status"}),
		ConsolidationMergeCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "specmem",
			Name:      "consolidation_merge_total",
			Help:      "Memories merged by ConsolidationEngine, by strategy.",
		}, []string{"strategy"}),
		HotPathCacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "specmem",
			Name:      "hotpath_prefetch_total",
			Help:      "HotPathManager promotions and prefetch hits, by result.",
		}, []string{"result"}),
		SchemaMigrationCounter: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "specmem",
			Name:      "schema_dimension_migration_total",
			Help:      "Number of times SchemaManager rebuilt the embedding column for a dimension change.",
		}),
		RestorationUnextractableCounter: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "specmem",
			Name:      "restoration_unextractable_total",
			Help:      "Summary memories detected by IsSummary that no turnPattern could extract.",
		}),
	}
}
