// Package search implements SearchEngine: hybrid vector+keyword search
// with adaptive thresholding, recency boosting, and camera-roll
// drilldown wrapping.
package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/jonhardwick-spec/specmem-sub022/internal/drilldown"
	"github.com/jonhardwick-spec/specmem-sub022/internal/embedclient"
	"github.com/jonhardwick-spec/specmem-sub022/internal/observability"
	"github.com/jonhardwick-spec/specmem-sub022/internal/storage"
	"github.com/jonhardwick-spec/specmem-sub022/pkg/models"
)

// thresholdCacheTTL is how long an adaptively resolved threshold is
// reused before the corpus is re-sampled.
const thresholdCacheTTL = 5 * time.Minute

// Recency boost multipliers applied to similarity when SearchOptions.RecencyBoost
// is set.
const (
	recencyBoostWithinHour = 1.20
	recencyBoostWithinDay  = 1.10
)

// maxSummaryLength bounds content length when SearchOptions.Summarize is set.
const maxSummaryLength = 280

// Engine answers Search calls for one project. It is constructed once per
// project and holds a small adaptive-threshold cache local to that
// project's corpus.
type Engine struct {
	pool     *storage.Pool
	embedder *embedclient.Client
	registry *drilldown.Registry
	metrics  *observability.Metrics
	log      *observability.Logger

	mu        sync.Mutex
	cached    bool
	cacheAt   time.Time
	bucket    models.ThresholdBucket
	threshold float64
	corpus    int64
}

// New constructs an Engine. registry may be shared process-wide (per the
// specification's "process-global, mutex-guarded" requirement); metrics
// and log may be nil.
func New(pool *storage.Pool, embedder *embedclient.Client, registry *drilldown.Registry, metrics *observability.Metrics, log *observability.Logger) *Engine {
	return &Engine{pool: pool, embedder: embedder, registry: registry, metrics: metrics, log: log}
}

// Search runs the full hybrid search pipeline described above.
func (e *Engine) Search(ctx context.Context, query string, opts models.SearchOptions) (models.SearchResponse, error) {
	start := time.Now()
	diag, err := e.resolveThreshold(ctx, opts)
	if err != nil {
		return models.SearchResponse{}, err
	}

	results, usedFallback, err := e.vectorSearch(ctx, query, opts, diag)
	switch {
	case err != nil && models.IsKind(err, models.KindEmbeddingUnavailable) && opts.KeywordFallback:
		results, err = e.keywordSearch(ctx, query, opts)
		usedFallback = true
		if err != nil {
			return models.SearchResponse{}, err
		}
	case err != nil:
		return models.SearchResponse{}, err
	case len(results) == 0 && opts.KeywordFallback:
		fallbackResults, fbErr := e.keywordSearch(ctx, query, opts)
		if fbErr == nil && len(fallbackResults) > 0 {
			results = fallbackResults
			usedFallback = true
		}
	}

	if opts.IncludeRecent > 0 {
		recent, err := e.recentMemories(ctx, opts, opts.IncludeRecent)
		if err == nil {
			results = mergeByID(results, recent)
		}
	}

	if opts.Summarize {
		for i := range results {
			results[i].Memory.Content = summarize(results[i].Memory.Content)
		}
	}

	if opts.CameraRoll && e.registry != nil {
		for i := range results {
			results[i].DrilldownID = e.registry.Register(results[i].Memory.ID, models.DrilldownMemory)
		}
	}

	diag.UsedFallback = usedFallback

	if e.metrics != nil {
		e.metrics.SearchDuration.WithLabelValues(string(diag.Bucket)).Observe(time.Since(start).Seconds())
		e.metrics.SearchResultCount.WithLabelValues(string(diag.Bucket), boolLabel(usedFallback)).Observe(float64(len(results)))
	}

	return models.SearchResponse{Results: results, Diagnostics: diag}, nil
}

// resolveThreshold implements the adaptive-density rules, cached per
// engine (one engine per project) for thresholdCacheTTL.
func (e *Engine) resolveThreshold(ctx context.Context, opts models.SearchOptions) (models.SearchDiagnostics, error) {
	if opts.Threshold > 0 {
		corpus, err := e.corpusSize(ctx)
		if err != nil {
			return models.SearchDiagnostics{}, err
		}
		return models.SearchDiagnostics{Threshold: opts.Threshold, Bucket: bucketFor(corpus), CorpusSize: corpus}, nil
	}

	e.mu.Lock()
	if e.cached && time.Since(e.cacheAt) < thresholdCacheTTL {
		diag := models.SearchDiagnostics{Threshold: e.threshold, Bucket: e.bucket, CorpusSize: e.corpus}
		e.mu.Unlock()
		return diag, nil
	}
	e.mu.Unlock()

	corpus, err := e.corpusSize(ctx)
	if err != nil {
		return models.SearchDiagnostics{}, err
	}
	bucket := bucketFor(corpus)
	threshold := thresholdFor(bucket)

	e.mu.Lock()
	e.cached = true
	e.cacheAt = time.Now()
	e.bucket = bucket
	e.threshold = threshold
	e.corpus = corpus
	e.mu.Unlock()

	return models.SearchDiagnostics{Threshold: threshold, Bucket: bucket, CorpusSize: corpus}, nil
}

func bucketFor(corpus int64) models.ThresholdBucket {
	switch {
	case corpus < 10:
		return models.BucketSparse
	case corpus < 100:
		return models.BucketLow
	case corpus < 1000:
		return models.BucketNormal
	default:
		return models.BucketDense
	}
}

func thresholdFor(bucket models.ThresholdBucket) float64 {
	switch bucket {
	case models.BucketSparse:
		return 0.10
	case models.BucketLow:
		return 0.20
	case models.BucketNormal:
		return 0.30
	default:
		return 0.40
	}
}

func (e *Engine) corpusSize(ctx context.Context) (int64, error) {
	conn, row := e.pool.QueryRow(ctx, `SELECT count(*) FROM memories WHERE embedding IS NOT NULL`)
	if conn == nil {
		return 0, models.NewError(models.KindStoragePermanent, "count corpus size", nil)
	}
	defer conn.Close()

	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, models.NewError(models.KindStoragePermanent, "scan corpus size", err)
	}
	return n, nil
}

// vectorSearch obtains a query embedding and runs the cosine-distance
// query with filters, recency boost, and threshold applied. It never
// substitutes a synthetic embedding when the embedder is unavailable.
func (e *Engine) vectorSearch(ctx context.Context, query string, opts models.SearchOptions, diag models.SearchDiagnostics) ([]models.SearchResult, bool, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, false, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	if diag.Bucket == models.BucketSparse && int64(limit) > diag.CorpusSize {
		limit = int(diag.CorpusSize)
		if limit <= 0 {
			limit = 1
		}
	}

	recencyExpr := "1.0"
	if opts.RecencyBoost {
		recencyExpr = fmt.Sprintf(`
			CASE
				WHEN COALESCE(last_accessed_at, created_at) > now() - interval '1 hour' THEN %f
				WHEN COALESCE(last_accessed_at, created_at) > now() - interval '24 hours' THEN %f
				ELSE 1.0
			END`, recencyBoostWithinHour, recencyBoostWithinDay)
	}

	query1 := fmt.Sprintf(`
		SELECT id, content, memory_type, importance, tags, metadata, project_path,
		       created_at, updated_at, access_count, last_accessed_at, expires_at,
		       related_memories, consolidated_from,
		       (1 - (embedding <=> $1::vector)) * (%s) AS similarity
		FROM memories
		WHERE embedding IS NOT NULL
		  AND (expires_at IS NULL OR expires_at > now())
		  %s
		ORDER BY similarity DESC
		LIMIT $2
	`, recencyExpr, buildFilterClause(opts, 3))

	args := append([]any{storage.EncodeEmbedding(vec).String, limit}, filterArgs(opts)...)

	rows, err := e.pool.QueryRows(ctx, query1, args...)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		m, similarity, err := scanMemoryRow(rows)
		if err != nil {
			return nil, false, models.NewError(models.KindStoragePermanent, "scan search row", err)
		}
		if similarity < diag.Threshold {
			continue
		}
		results = append(results, models.SearchResult{Memory: m, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, false, models.NewError(models.KindStoragePermanent, "iterate search rows", err)
	}
	return results, false, nil
}

// keywordSearch performs a case-insensitive substring search over content,
// used only as an explicitly flagged fallback — never as a silent
// embedding substitute.
func (e *Engine) keywordSearch(ctx context.Context, query string, opts models.SearchOptions) ([]models.SearchResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	filter := buildFilterClause(opts, 3)
	sqlQuery := fmt.Sprintf(`
		SELECT id, content, memory_type, importance, tags, metadata, project_path,
		       created_at, updated_at, access_count, last_accessed_at, expires_at,
		       related_memories, consolidated_from,
		       0.0 AS similarity
		FROM memories
		WHERE content ILIKE $1
		  AND (expires_at IS NULL OR expires_at > now())
		  %s
		ORDER BY created_at DESC
		LIMIT $2
	`, filter)

	args := append([]any{"%" + query + "%", limit}, filterArgs(opts)...)

	rows, err := e.pool.QueryRows(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		m, _, err := scanMemoryRow(rows)
		if err != nil {
			return nil, models.NewError(models.KindStoragePermanent, "scan keyword row", err)
		}
		results = append(results, models.SearchResult{Memory: m, Similarity: 0, IsFallback: true})
	}
	return results, rows.Err()
}

func (e *Engine) recentMemories(ctx context.Context, opts models.SearchOptions, n int) ([]models.SearchResult, error) {
	sqlQuery := fmt.Sprintf(`
		SELECT id, content, memory_type, importance, tags, metadata, project_path,
		       created_at, updated_at, access_count, last_accessed_at, expires_at,
		       related_memories, consolidated_from, 0.0 AS similarity
		FROM memories
		WHERE (expires_at IS NULL OR expires_at > now())
		  %s
		ORDER BY created_at DESC
		LIMIT $1
	`, buildFilterClause(opts, 2))

	args := append([]any{n}, filterArgs(opts)...)

	rows, err := e.pool.QueryRows(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		m, _, err := scanMemoryRow(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, models.SearchResult{Memory: m, Similarity: 0})
	}
	return results, rows.Err()
}

// buildFilterClause renders the memory-type/tag/role/date filters shared by
// vector, keyword, and recent queries. startParam is the first free
// positional placeholder index (queries bind their own leading
// vector/text and limit arguments before these filters).
func buildFilterClause(opts models.SearchOptions, startParam int) string {
	var clauses []string
	n := startParam

	if len(opts.MemoryTypes) > 0 {
		clauses = append(clauses, fmt.Sprintf("memory_type = ANY($%d::text[])", n))
		n++
	}
	if len(opts.Tags) > 0 {
		op := "&&"
		if opts.TagMatchAll {
			op = "@>"
		}
		clauses = append(clauses, fmt.Sprintf("tags %s $%d::text[]", op, n))
		n++
	}
	if len(opts.Roles) > 0 {
		clauses = append(clauses, fmt.Sprintf("metadata->>'role' = ANY($%d::text[])", n))
		n++
	}
	if opts.CreatedAfter != nil {
		clauses = append(clauses, fmt.Sprintf("created_at > $%d", n))
		n++
	}
	if opts.CreatedBefore != nil {
		clauses = append(clauses, fmt.Sprintf("created_at < $%d", n))
		n++
	}

	if len(clauses) == 0 {
		return ""
	}
	return "AND " + strings.Join(clauses, " AND ")
}

func filterArgs(opts models.SearchOptions) []any {
	var args []any
	if len(opts.MemoryTypes) > 0 {
		strs := make([]string, len(opts.MemoryTypes))
		for i, t := range opts.MemoryTypes {
			strs[i] = string(t)
		}
		args = append(args, pq.Array(strs))
	}
	if len(opts.Tags) > 0 {
		args = append(args, pq.Array(opts.Tags))
	}
	if len(opts.Roles) > 0 {
		args = append(args, pq.Array(opts.Roles))
	}
	if opts.CreatedAfter != nil {
		args = append(args, *opts.CreatedAfter)
	}
	if opts.CreatedBefore != nil {
		args = append(args, *opts.CreatedBefore)
	}
	return args
}

func scanMemoryRow(rows *sql.Rows) (*models.Memory, float64, error) {
	var m models.Memory
	var memoryType, importance string
	var metadataJSON string
	var tags, relatedStrs, consolidatedStrs []string
	var similarity float64

	if err := rows.Scan(
		&m.ID, &m.Content, &memoryType, &importance, pq.Array(&tags), &metadataJSON, &m.ProjectPath,
		&m.CreatedAt, &m.UpdatedAt, &m.AccessCount, &m.LastAccessedAt, &m.ExpiresAt,
		pq.Array(&relatedStrs), pq.Array(&consolidatedStrs), &similarity,
	); err != nil {
		return nil, 0, err
	}

	m.MemoryType = models.MemoryType(memoryType)
	m.Importance = models.Importance(importance)
	m.Tags = tags
	m.Metadata = decodeMetadata(metadataJSON)
	m.RelatedMemories = parseUUIDs(relatedStrs)
	m.ConsolidatedFrom = parseUUIDs(consolidatedStrs)

	return &m, similarity, nil
}

func decodeMetadata(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}

func parseUUIDs(strs []string) []uuid.UUID {
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

func mergeByID(base, extra []models.SearchResult) []models.SearchResult {
	seen := make(map[uuid.UUID]struct{}, len(base))
	for _, r := range base {
		seen[r.Memory.ID] = struct{}{}
	}
	for _, r := range extra {
		if _, ok := seen[r.Memory.ID]; ok {
			continue
		}
		seen[r.Memory.ID] = struct{}{}
		base = append(base, r)
	}
	return base
}

func summarize(content string) string {
	if len(content) <= maxSummaryLength {
		return content
	}
	return content[:maxSummaryLength] + "…"
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
