// Package consolidation implements the background memory-merging sweep:
// similarity, temporal, tag-based, and importance clustering strategies,
// each followed by a content/tag/embedding merge of same-cluster memories.
package consolidation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/jonhardwick-spec/specmem-sub022/internal/memstore"
	"github.com/jonhardwick-spec/specmem-sub022/internal/observability"
	"github.com/jonhardwick-spec/specmem-sub022/internal/storage"
	"github.com/jonhardwick-spec/specmem-sub022/pkg/models"
)

// Strategy names a clustering approach.
type Strategy string

const (
	StrategySimilarity Strategy = "similarity"
	StrategyTemporal    Strategy = "temporal"
	StrategyTagBased    Strategy = "tag_based"
	StrategyImportance  Strategy = "importance"
)

// Options parameterizes a consolidation pass.
type Options struct {
	Strategy            Strategy
	ProjectPath         string
	SimilarityThreshold float64       // default 0.85
	TopK                int           // neighbors considered per seed, default 10
	TemporalWindow      time.Duration // default 1 hour
	TagThreshold        float64       // default 0.6
	DryRun              bool
}

func (o *Options) applyDefaults() {
	if o.SimilarityThreshold <= 0 {
		o.SimilarityThreshold = 0.85
	}
	if o.TopK <= 0 {
		o.TopK = 10
	}
	if o.TemporalWindow <= 0 {
		o.TemporalWindow = time.Hour
	}
	if o.TagThreshold <= 0 {
		o.TagThreshold = 0.6
	}
}

// Cluster is a candidate group of memories the merge step may fold together.
type Cluster struct {
	Memories []*models.Memory
	// MergedID is set once the cluster has actually been merged (nil on
	// DryRun or for clusters of size < 2).
	MergedID *uuid.UUID
}

// Engine runs consolidation passes against one project's schema.
type Engine struct {
	pool    *storage.Pool
	metrics *observability.Metrics
	log     *observability.Logger
}

// New constructs an Engine. metrics and log may be nil.
func New(pool *storage.Pool, metrics *observability.Metrics, log *observability.Logger) *Engine {
	return &Engine{pool: pool, metrics: metrics, log: log}
}

// Consolidate runs one strategy's clustering pass and, unless DryRun is set,
// merges every cluster of size >= 2.
func (e *Engine) Consolidate(ctx context.Context, opts Options) ([]Cluster, error) {
	opts.applyDefaults()

	memories, err := e.loadMemories(ctx, opts.ProjectPath)
	if err != nil {
		return nil, err
	}
	if len(memories) < 2 {
		return nil, nil
	}

	var clusters []Cluster
	switch opts.Strategy {
	case StrategySimilarity:
		clusters, err = e.similarityClusters(ctx, memories, opts)
	case StrategyTemporal:
		clusters = temporalClusters(memories, opts.TemporalWindow)
	case StrategyTagBased:
		clusters = tagClusters(memories, opts.TagThreshold)
	case StrategyImportance:
		clusters, err = e.importanceClusters(ctx, memories, opts)
	default:
		return nil, models.NewError(models.KindInvalidRequest, fmt.Sprintf("unknown consolidation strategy %q", opts.Strategy), nil)
	}
	if err != nil {
		return nil, err
	}
	clusters = filterSingletons(clusters)

	if opts.DryRun {
		return clusters, nil
	}

	for i := range clusters {
		mergedID, err := e.mergeCluster(ctx, clusters[i].Memories)
		if err != nil {
			return nil, err
		}
		clusters[i].MergedID = &mergedID
		if e.metrics != nil {
			e.metrics.ConsolidationMergeCounter.WithLabelValues(string(opts.Strategy)).Inc()
		}
	}
	return clusters, nil
}

// loadMemories fetches every non-expired memory for the project, including
// its embedding when present.
func (e *Engine) loadMemories(ctx context.Context, projectPath string) ([]*models.Memory, error) {
	rows, err := e.pool.QueryRows(ctx, `
		SELECT id, content, memory_type, importance, tags, metadata, embedding::text,
		       project_path, created_at, updated_at, access_count, last_accessed_at,
		       expires_at, related_memories, consolidated_from
		FROM memories
		WHERE project_path = $1
		  AND (expires_at IS NULL OR expires_at > now())
		ORDER BY created_at ASC
	`, projectPath)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Memory
	for rows.Next() {
		m, err := scanFullMemory(rows)
		if err != nil {
			return nil, models.NewError(models.KindStoragePermanent, "scan consolidation candidate", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanFullMemory(rows *sql.Rows) (*models.Memory, error) {
	var m models.Memory
	var memoryType, importance, metadataJSON string
	var embeddingText sql.NullString
	var tags, relatedStrs, consolidatedStrs []string

	if err := rows.Scan(
		&m.ID, &m.Content, &memoryType, &importance, pq.Array(&tags), &metadataJSON, &embeddingText,
		&m.ProjectPath, &m.CreatedAt, &m.UpdatedAt, &m.AccessCount, &m.LastAccessedAt, &m.ExpiresAt,
		pq.Array(&relatedStrs), pq.Array(&consolidatedStrs),
	); err != nil {
		return nil, err
	}

	m.MemoryType = models.MemoryType(memoryType)
	m.Importance = models.Importance(importance)
	m.Tags = tags
	if metadataJSON != "" {
		_ = json.Unmarshal([]byte(metadataJSON), &m.Metadata)
	}
	if embeddingText.Valid {
		m.Embedding = storage.DecodeEmbedding(embeddingText.String)
	}
	m.RelatedMemories = parseUUIDList(relatedStrs)
	m.ConsolidatedFrom = parseUUIDList(consolidatedStrs)
	return &m, nil
}

func parseUUIDList(strs []string) []uuid.UUID {
	if len(strs) == 0 {
		return nil
	}
	out := make([]uuid.UUID, 0, len(strs))
	for _, s := range strs {
		if id, err := uuid.Parse(s); err == nil {
			out = append(out, id)
		}
	}
	return out
}

// similarityClusters runs a single-link clustering pass: an edge joins two
// memories whenever cosine similarity >= threshold, and transitively linked
// memories land in the same cluster (a union-find over pairwise edges).
func (e *Engine) similarityClusters(ctx context.Context, memories []*models.Memory, opts Options) ([]Cluster, error) {
	uf := newUnionFind(len(memories))
	index := make(map[uuid.UUID]int, len(memories))
	for i, m := range memories {
		index[m.ID] = i
	}

	for i, seed := range memories {
		if len(seed.Embedding) == 0 {
			continue
		}
		neighbors, err := e.nearestNeighbors(ctx, seed, opts.ProjectPath, opts.SimilarityThreshold, opts.TopK)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			if j, ok := index[n]; ok {
				uf.union(i, j)
			}
		}
	}

	return componentsToClusters(uf, memories), nil
}

// nearestNeighbors returns ids of memories within threshold similarity of
// seed, excluding seed itself.
func (e *Engine) nearestNeighbors(ctx context.Context, seed *models.Memory, projectPath string, threshold float64, limit int) ([]uuid.UUID, error) {
	rows, err := e.pool.QueryRows(ctx, `
		SELECT id FROM memories
		WHERE project_path = $1
		  AND id != $2
		  AND embedding IS NOT NULL
		  AND (1 - (embedding <=> $3::vector)) >= $4
		ORDER BY embedding <=> $3::vector ASC
		LIMIT $5
	`, projectPath, seed.ID, storage.EncodeEmbedding(seed.Embedding).String, threshold, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, models.NewError(models.KindStoragePermanent, "scan neighbor id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// importanceClusters seeds clustering from highest-importance memories
// first and gathers each seed's nearest neighbors, skipping memories
// already claimed by an earlier (higher-importance) seed. Unlike
// similarityClusters this is not transitive: a neighbor never becomes a
// seed of its own cluster.
func (e *Engine) importanceClusters(ctx context.Context, memories []*models.Memory, opts Options) ([]Cluster, error) {
	ordered := make([]*models.Memory, len(memories))
	copy(ordered, memories)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Importance.Rank() > ordered[j].Importance.Rank()
	})

	claimed := make(map[uuid.UUID]bool, len(memories))
	index := make(map[uuid.UUID]*models.Memory, len(memories))
	for _, m := range memories {
		index[m.ID] = m
	}

	var clusters []Cluster
	for _, seed := range ordered {
		if claimed[seed.ID] || len(seed.Embedding) == 0 {
			continue
		}
		neighbors, err := e.nearestNeighbors(ctx, seed, opts.ProjectPath, opts.SimilarityThreshold, opts.TopK)
		if err != nil {
			return nil, err
		}

		group := []*models.Memory{seed}
		claimed[seed.ID] = true
		for _, nid := range neighbors {
			if claimed[nid] {
				continue
			}
			if m, ok := index[nid]; ok {
				group = append(group, m)
				claimed[nid] = true
			}
		}
		if len(group) >= 2 {
			clusters = append(clusters, Cluster{Memories: group})
		}
	}
	return clusters, nil
}

// temporalClusters groups memories created within a sliding window of one
// another: memories are walked in creation order, and consecutive memories
// whose gap from the cluster's most recent member is within window join
// the same cluster.
func temporalClusters(memories []*models.Memory, window time.Duration) []Cluster {
	if len(memories) == 0 {
		return nil
	}
	sorted := make([]*models.Memory, len(memories))
	copy(sorted, memories)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	var clusters []Cluster
	current := []*models.Memory{sorted[0]}
	anchor := sorted[0].CreatedAt

	for _, m := range sorted[1:] {
		if m.CreatedAt.Sub(anchor) <= window {
			current = append(current, m)
		} else {
			clusters = append(clusters, Cluster{Memories: current})
			current = []*models.Memory{m}
		}
		anchor = m.CreatedAt
	}
	clusters = append(clusters, Cluster{Memories: current})
	return clusters
}

// tagClusters groups memories whose tag-set Jaccard overlap meets
// threshold, via the same union-find approach as similarityClusters.
func tagClusters(memories []*models.Memory, threshold float64) []Cluster {
	uf := newUnionFind(len(memories))
	sets := make([]map[string]struct{}, len(memories))
	for i, m := range memories {
		sets[i] = toSet(m.Tags)
	}

	for i := range memories {
		if len(sets[i]) == 0 {
			continue
		}
		for j := i + 1; j < len(memories); j++ {
			if len(sets[j]) == 0 {
				continue
			}
			if jaccard(sets[i], sets[j]) >= threshold {
				uf.union(i, j)
			}
		}
	}
	return componentsToClusters(uf, memories)
}

func toSet(tags []string) map[string]struct{} {
	s := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		s[t] = struct{}{}
	}
	return s
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for t := range a {
		if _, ok := b[t]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func filterSingletons(clusters []Cluster) []Cluster {
	out := make([]Cluster, 0, len(clusters))
	for _, c := range clusters {
		if len(c.Memories) >= 2 {
			out = append(out, c)
		}
	}
	return out
}

func componentsToClusters(uf *unionFind, memories []*models.Memory) []Cluster {
	groups := make(map[int][]*models.Memory)
	for i, m := range memories {
		root := uf.find(i)
		groups[root] = append(groups[root], m)
	}

	clusters := make([]Cluster, 0, len(groups))
	for _, g := range groups {
		if len(g) >= 2 {
			clusters = append(clusters, Cluster{Memories: g})
		}
	}
	return clusters
}

// mergeCluster concatenates content, unions tags, takes the max importance,
// averages and renormalizes embeddings, and replaces the source rows with a
// single consolidated memory inside one transaction.
func (e *Engine) mergeCluster(ctx context.Context, cluster []*models.Memory) (uuid.UUID, error) {
	mergedID := uuid.New()
	content := mergeContent(cluster)
	tags := mergeTags(cluster)
	importance := mergeImportance(cluster)
	embedding := averageEmbedding(cluster)
	sourceIDs := make([]uuid.UUID, len(cluster))
	for i, m := range cluster {
		sourceIDs[i] = m.ID
	}

	metadata := map[string]any{"contentHash": memstore.ContentHash("consolidated", content, cluster[0].ProjectPath)}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return uuid.Nil, models.NewError(models.KindInternal, "marshal consolidated metadata", err)
	}

	err = e.pool.Transaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO memories (id, content, content_hash, memory_type, importance, tags, metadata,
			                       embedding, project_path, consolidated_from)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8::vector, $9, $10)
		`, mergedID, content, memstore.ContentHash("consolidated", content, cluster[0].ProjectPath),
			string(models.MemoryConsolidated), string(importance), pq.Array(tags), string(metadataJSON),
			storage.EncodeEmbedding(embedding), cluster[0].ProjectPath, pq.Array(sourceIDs)); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE access_transitions SET to_memory_id = $1 WHERE to_memory_id = ANY($2::uuid[])
		`, mergedID, pq.Array(sourceIDs)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE access_transitions SET from_memory_id = $1 WHERE from_memory_id = ANY($2::uuid[])
		`, mergedID, pq.Array(sourceIDs)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ANY($1::uuid[])`, pq.Array(sourceIDs)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, models.NewError(models.KindStoragePermanent, "merge cluster", err)
	}
	return mergedID, nil
}

func mergeContent(cluster []*models.Memory) string {
	seen := make(map[string]bool, len(cluster))
	parts := make([]string, 0, len(cluster))
	for _, m := range cluster {
		trimmed := strings.TrimSpace(m.Content)
		if trimmed == "" || seen[trimmed] {
			continue
		}
		seen[trimmed] = true
		parts = append(parts, trimmed)
	}
	return strings.Join(parts, "\n---\n")
}

func mergeTags(cluster []*models.Memory) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range cluster {
		for _, t := range m.Tags {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

func mergeImportance(cluster []*models.Memory) models.Importance {
	result := cluster[0].Importance
	for _, m := range cluster[1:] {
		result = models.MaxImportance(result, m.Importance)
	}
	return result
}

// averageEmbedding returns the mean of every cluster member's embedding,
// renormalized to unit length. Members with no embedding are skipped;
// if none carry one, returns nil.
func averageEmbedding(cluster []*models.Memory) []float32 {
	var dim int
	for _, m := range cluster {
		if len(m.Embedding) > 0 {
			dim = len(m.Embedding)
			break
		}
	}
	if dim == 0 {
		return nil
	}

	sum := make([]float64, dim)
	count := 0
	for _, m := range cluster {
		if len(m.Embedding) != dim {
			continue
		}
		for i, v := range m.Embedding {
			sum[i] += float64(v)
		}
		count++
	}
	if count == 0 {
		return nil
	}

	var norm float64
	for i := range sum {
		sum[i] /= float64(count)
		norm += sum[i] * sum[i]
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		norm = 1
	}

	out := make([]float32, dim)
	for i, v := range sum {
		out[i] = float32(v / norm)
	}
	return out
}

// unionFind is a minimal disjoint-set structure for single-link clustering.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(i int) int {
	for uf.parent[i] != i {
		uf.parent[i] = uf.parent[uf.parent[i]]
		i = uf.parent[i]
	}
	return i
}

func (uf *unionFind) union(i, j int) {
	ri, rj := uf.find(i), uf.find(j)
	if ri != rj {
		uf.parent[ri] = rj
	}
}
