package toolsurface

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/jonhardwick-spec/specmem-sub022/internal/consolidation"
	"github.com/jonhardwick-spec/specmem-sub022/internal/drilldown"
	"github.com/jonhardwick-spec/specmem-sub022/internal/hotpath"
	"github.com/jonhardwick-spec/specmem-sub022/internal/memstore"
	"github.com/jonhardwick-spec/specmem-sub022/internal/observability"
	"github.com/jonhardwick-spec/specmem-sub022/internal/search"
	"github.com/jonhardwick-spec/specmem-sub022/internal/storage"
	"github.com/jonhardwick-spec/specmem-sub022/pkg/models"
)

// Surface dispatches typed tool-call operations against the wired memory
// engine components. Every call passes through JSON Schema validation, then
// struct-tag validation of the decoded params, before touching storage.
type Surface struct {
	pool         *storage.Pool
	store        *memstore.Store
	search       *search.Engine
	consolidator *consolidation.Engine
	hotpaths     *hotpath.Manager
	drilldowns   *drilldown.Registry
	metrics      *observability.Metrics
	log          *observability.Logger

	validate *validator.Validate
	sessions *sessionTracker
}

// New wires a Surface over the given components. Any of hotpaths may be nil
// if hot-path prediction is disabled for the deployment.
func New(
	pool *storage.Pool,
	store *memstore.Store,
	searchEngine *search.Engine,
	consolidator *consolidation.Engine,
	hotpaths *hotpath.Manager,
	drilldowns *drilldown.Registry,
	metrics *observability.Metrics,
	log *observability.Logger,
) *Surface {
	return &Surface{
		pool:         pool,
		store:        store,
		search:       searchEngine,
		consolidator: consolidator,
		hotpaths:     hotpaths,
		drilldowns:   drilldowns,
		metrics:      metrics,
		log:          log,
		validate:     validator.New(),
		sessions:     newSessionTracker(),
	}
}

// Dispatch validates rawParams against op's JSON Schema and struct tags,
// then runs the operation. sessionID scopes the idle/searching/drilling
// state machine that gates drill_down.
func (s *Surface) Dispatch(ctx context.Context, sessionID string, op Operation, rawParams json.RawMessage) (any, error) {
	if !op.IsValid() {
		return nil, models.NewError(models.KindInvalidRequest, fmt.Sprintf("unknown operation %q", op), nil)
	}
	if err := validateSchema(op, rawParams); err != nil {
		return nil, models.NewError(models.KindInvalidRequest, "schema validation failed", err)
	}

	switch op {
	case OpStoreMemory:
		var p StoreMemoryParams
		if err := s.decode(rawParams, &p); err != nil {
			return nil, err
		}
		return s.storeMemory(ctx, p)
	case OpSearchMemory:
		var p SearchMemoryParams
		if err := s.decode(rawParams, &p); err != nil {
			return nil, err
		}
		return s.searchMemory(ctx, sessionID, p)
	case OpRecallMemory:
		var p RecallMemoryParams
		if err := s.decode(rawParams, &p); err != nil {
			return nil, err
		}
		return s.recallMemory(ctx, sessionID, p)
	case OpUpdateMemory:
		var p UpdateMemoryParams
		if err := s.decode(rawParams, &p); err != nil {
			return nil, err
		}
		return s.updateMemory(ctx, p)
	case OpDeleteMemory:
		var p DeleteMemoryParams
		if err := s.decode(rawParams, &p); err != nil {
			return nil, err
		}
		return s.deleteMemory(ctx, p)
	case OpConsolidateMemory:
		var p ConsolidateMemoryParams
		if err := s.decode(rawParams, &p); err != nil {
			return nil, err
		}
		return s.consolidateMemory(ctx, p)
	case OpLinkMemories:
		var p LinkMemoriesParams
		if err := s.decode(rawParams, &p); err != nil {
			return nil, err
		}
		return s.linkMemories(ctx, p)
	case OpGetStats:
		var p GetStatsParams
		if err := s.decode(rawParams, &p); err != nil {
			return nil, err
		}
		return s.getStats(ctx, p)
	case OpDrillDown:
		var p DrillDownParams
		if err := s.decode(rawParams, &p); err != nil {
			return nil, err
		}
		return s.drillDown(ctx, sessionID, p)
	case OpGetMemory:
		var p GetMemoryParams
		if err := s.decode(rawParams, &p); err != nil {
			return nil, err
		}
		return s.getMemory(ctx, sessionID, p)
	default:
		return nil, models.NewError(models.KindInvalidRequest, fmt.Sprintf("unhandled operation %q", op), nil)
	}
}

// decode unmarshals raw into dst and runs struct-tag validation on it.
func (s *Surface) decode(raw json.RawMessage, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return models.NewError(models.KindInvalidRequest, "decode params", err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return models.NewError(models.KindInvalidRequest, "validate params", err)
	}
	return nil
}

func (s *Surface) storeMemory(ctx context.Context, p StoreMemoryParams) (uuid.UUID, error) {
	memType := models.MemoryType(p.MemoryType)
	if !memType.IsValid() {
		return uuid.Nil, models.NewError(models.KindInvalidRequest, fmt.Sprintf("unknown memory_type %q", p.MemoryType), nil)
	}
	importance := models.Importance(p.Importance)
	if !importance.IsValid() {
		return uuid.Nil, models.NewError(models.KindInvalidRequest, fmt.Sprintf("unknown importance %q", p.Importance), nil)
	}

	id, _, err := s.store.Insert(ctx, models.MemoryInput{
		Role:        p.Role,
		Content:     p.Content,
		MemoryType:  memType,
		Importance:  importance,
		Tags:        p.Tags,
		ProjectPath: p.ProjectPath,
	})
	return id, err
}

// searchResponse is the shape returned to the assistant for search_memory:
// the ranked results plus the drilldown ids, if any, that a follow-up
// drill_down call may reference.
type searchResponse struct {
	Results     []models.SearchResult    `json:"results"`
	Diagnostics models.SearchDiagnostics `json:"diagnostics"`
}

func (s *Surface) searchMemory(ctx context.Context, sessionID string, p SearchMemoryParams) (searchResponse, error) {
	limit := p.Limit
	if limit == 0 {
		limit = 20
	}
	resp, err := s.search.Search(ctx, p.Query, models.SearchOptions{
		Limit:      limit,
		Tags:       p.Tags,
		CameraRoll: p.CameraRoll,
		Summarize:  p.Summarize,
	})
	if err != nil {
		return searchResponse{}, err
	}

	var ids []int64
	for _, r := range resp.Results {
		if r.DrilldownID != 0 {
			ids = append(ids, r.DrilldownID)
		}
	}
	s.sessions.recordSearch(sessionID, ids)

	return searchResponse{Results: resp.Results, Diagnostics: resp.Diagnostics}, nil
}

func (s *Surface) recallMemory(ctx context.Context, sessionID string, p RecallMemoryParams) ([]models.Memory, error) {
	switch {
	case p.ID != "":
		id, err := uuid.Parse(p.ID)
		if err != nil {
			return nil, models.NewError(models.KindInvalidRequest, "invalid id", err)
		}
		m, err := s.fetchByID(ctx, id)
		if err != nil {
			return nil, err
		}
		s.recordHotPathAccess(ctx, sessionID, id)
		return []models.Memory{*m}, nil
	case p.Tag != "":
		return s.fetchByTag(ctx, p.ProjectPath, p.Tag)
	default:
		return nil, models.NewError(models.KindInvalidRequest, "recall_memory requires id or tag", nil)
	}
}

func (s *Surface) getMemory(ctx context.Context, sessionID string, p GetMemoryParams) (*models.Memory, error) {
	id, err := uuid.Parse(p.ID)
	if err != nil {
		return nil, models.NewError(models.KindInvalidRequest, "invalid id", err)
	}
	m, err := s.fetchByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.recordHotPathAccess(ctx, sessionID, id)
	return m, nil
}

// recordHotPathAccess feeds a resolved memory fetch into the hot-path
// manager, if one is wired. Failures are logged, never surfaced to the
// caller — hot-path tracking is best-effort and must not fail a read.
func (s *Surface) recordHotPathAccess(ctx context.Context, sessionID string, id uuid.UUID) {
	if s.hotpaths == nil {
		return
	}
	if err := s.hotpaths.RecordAccess(ctx, sessionID, id); err != nil && s.log != nil {
		s.log.Warn(ctx, "hot path record access failed", "session_id", sessionID, "memory_id", id, "error", err)
	}
}

func (s *Surface) fetchByID(ctx context.Context, id uuid.UUID) (*models.Memory, error) {
	conn, row := s.pool.QueryRow(ctx, `
		SELECT id, content, memory_type, importance, tags, project_path,
		       created_at, updated_at, access_count, last_accessed_at, expires_at,
		       related_memories
		FROM memories WHERE id = $1
	`, id)
	if conn == nil {
		return nil, models.NewError(models.KindStorageTransient, "acquire connection", nil)
	}
	defer conn.Close()

	m, err := scanMemorySummary(row)
	if err == sql.ErrNoRows {
		return nil, models.NewError(models.KindNotFound, "memory not found", nil)
	}
	if err != nil {
		return nil, models.NewError(models.KindStoragePermanent, "scan memory", err)
	}
	return m, nil
}

func (s *Surface) fetchByTag(ctx context.Context, projectPath, tag string) ([]models.Memory, error) {
	rows, err := s.pool.QueryRows(ctx, `
		SELECT id, content, memory_type, importance, tags, project_path,
		       created_at, updated_at, access_count, last_accessed_at, expires_at,
		       related_memories
		FROM memories
		WHERE project_path = $1 AND $2 = ANY(tags)
		ORDER BY created_at DESC
		LIMIT 50
	`, projectPath, tag)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Memory
	for rows.Next() {
		m, err := scanMemorySummary(rows)
		if err != nil {
			return nil, models.NewError(models.KindStoragePermanent, "scan memory", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// rowScanner abstracts over *sql.Row and *sql.Rows for a shared Scan call.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemorySummary(row rowScanner) (*models.Memory, error) {
	var m models.Memory
	var memoryType, importance string
	var tags, relatedStrs []string

	if err := row.Scan(
		&m.ID, &m.Content, &memoryType, &importance, pq.Array(&tags), &m.ProjectPath,
		&m.CreatedAt, &m.UpdatedAt, &m.AccessCount, &m.LastAccessedAt, &m.ExpiresAt,
		pq.Array(&relatedStrs),
	); err != nil {
		return nil, err
	}
	m.MemoryType = models.MemoryType(memoryType)
	m.Importance = models.Importance(importance)
	m.Tags = tags
	m.RelatedMemories = parseRelatedIDs(relatedStrs)
	return &m, nil
}

// capRelated bounds a related-memories list to at most max entries without
// mutating the caller's slice.
func capRelated(ids []uuid.UUID, max int) []uuid.UUID {
	if len(ids) <= max {
		return ids
	}
	return ids[:max]
}

// parseRelatedIDs parses a related_memories text array, silently dropping
// any malformed entries rather than failing the whole read.
func parseRelatedIDs(strs []string) []uuid.UUID {
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

func (s *Surface) updateMemory(ctx context.Context, p UpdateMemoryParams) error {
	id, err := uuid.Parse(p.ID)
	if err != nil {
		return models.NewError(models.KindInvalidRequest, "invalid id", err)
	}

	patch := memstore.Patch{Content: p.Content}
	if p.Importance != nil {
		imp := models.Importance(*p.Importance)
		if !imp.IsValid() {
			return models.NewError(models.KindInvalidRequest, fmt.Sprintf("unknown importance %q", *p.Importance), nil)
		}
		patch.Importance = &imp
	}
	if p.Tags != nil {
		patch.Tags = &p.Tags
	}
	return s.store.Update(ctx, id, patch)
}

// deleteResult reports how many rows a delete_memory call affected.
type deleteResult struct {
	Deleted int64 `json:"deleted"`
}

func (s *Surface) deleteMemory(ctx context.Context, p DeleteMemoryParams) (deleteResult, error) {
	switch {
	case len(p.IDs) > 0:
		ids := make([]uuid.UUID, 0, len(p.IDs))
		for _, raw := range p.IDs {
			id, err := uuid.Parse(raw)
			if err != nil {
				return deleteResult{}, models.NewError(models.KindInvalidRequest, "invalid id in ids", err)
			}
			ids = append(ids, id)
		}
		if err := s.store.DeleteByIDs(ctx, ids); err != nil {
			return deleteResult{}, err
		}
		return deleteResult{Deleted: int64(len(ids))}, nil
	case p.ExpiredOnly:
		n, err := s.store.DeleteExpired(ctx)
		return deleteResult{Deleted: n}, err
	case p.OlderThanDays > 0:
		cutoff := time.Now().AddDate(0, 0, -p.OlderThanDays)
		n, err := s.store.DeleteOlderThan(ctx, cutoff)
		return deleteResult{Deleted: n}, err
	case len(p.Tags) > 0:
		n, err := s.store.DeleteByTags(ctx, p.Tags, p.MatchAllTags)
		return deleteResult{Deleted: n}, err
	default:
		return deleteResult{}, models.NewError(models.KindInvalidRequest, "delete_memory requires ids, tags, older_than_days, or expired_only", nil)
	}
}

func (s *Surface) consolidateMemory(ctx context.Context, p ConsolidateMemoryParams) ([]consolidation.Cluster, error) {
	return s.consolidator.Consolidate(ctx, consolidation.Options{
		Strategy:    consolidation.Strategy(p.Strategy),
		ProjectPath: p.ProjectPath,
		DryRun:      p.DryRun,
	})
}

func (s *Surface) linkMemories(ctx context.Context, p LinkMemoriesParams) error {
	id, err := uuid.Parse(p.ID)
	if err != nil {
		return models.NewError(models.KindInvalidRequest, "invalid id", err)
	}
	related := make([]uuid.UUID, 0, len(p.RelatedIDs))
	for _, raw := range p.RelatedIDs {
		rid, err := uuid.Parse(raw)
		if err != nil {
			return models.NewError(models.KindInvalidRequest, "invalid related id", err)
		}
		related = append(related, rid)
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE memories
		SET related_memories = (
			SELECT array_agg(DISTINCT x) FROM unnest(coalesce(related_memories, '{}') || $2::uuid[]) AS x
		), updated_at = now()
		WHERE id = $1
	`, id, pq.Array(uuidStrings(related)))
	return err
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// statsResponse summarizes a project's memory corpus for get_stats.
type statsResponse struct {
	TotalMemories int64            `json:"total_memories"`
	ByType        map[string]int64 `json:"by_type"`
	HotPaths      int64            `json:"hot_paths"`
}

func (s *Surface) getStats(ctx context.Context, p GetStatsParams) (statsResponse, error) {
	var out statsResponse
	out.ByType = make(map[string]int64)

	rows, err := s.pool.QueryRows(ctx, `
		SELECT memory_type, count(*) FROM memories WHERE project_path = $1 GROUP BY memory_type
	`, p.ProjectPath)
	if err != nil {
		return out, err
	}
	defer rows.Close()
	for rows.Next() {
		var memType string
		var n int64
		if err := rows.Scan(&memType, &n); err != nil {
			return out, models.NewError(models.KindStoragePermanent, "scan stats row", err)
		}
		out.ByType[memType] = n
		out.TotalMemories += n
	}
	if err := rows.Err(); err != nil {
		return out, err
	}

	conn, row := s.pool.QueryRow(ctx, `SELECT count(*) FROM hot_paths`)
	if conn == nil {
		return out, models.NewError(models.KindStorageTransient, "acquire connection", nil)
	}
	defer conn.Close()
	if err := row.Scan(&out.HotPaths); err != nil {
		return out, models.NewError(models.KindStoragePermanent, "scan hot path count", err)
	}
	return out, nil
}

// maxDrillDownRelated bounds how many related memories drill_down expands
// alongside the primary one.
const maxDrillDownRelated = 5

// relatedEntry pairs a related memory with the fresh drilldownID issued for
// it, so the caller can keep drilling without a separate search_memory call.
type relatedEntry struct {
	Memory      models.Memory `json:"memory"`
	DrilldownID int64         `json:"drilldown_id"`
}

// drillDownResult is the camera-roll expansion returned by drill_down: the
// full memory the id pointed at, plus up to maxDrillDownRelated related
// memories, each re-registered under its own fresh numeric id.
type drillDownResult struct {
	Memory  models.Memory  `json:"memory"`
	Related []relatedEntry `json:"related"`
}

func (s *Surface) drillDown(ctx context.Context, sessionID string, p DrillDownParams) (drillDownResult, error) {
	if !s.sessions.allowDrillDown(sessionID, p.ID) {
		return drillDownResult{}, models.NewError(models.KindInvalidRequest, "drill_down id was not produced by this session's last search_memory call", nil)
	}
	entry, ok := s.drilldowns.Resolve(p.ID)
	if !ok {
		return drillDownResult{}, models.NewError(models.KindNotFound, "drilldown id expired or unknown", nil)
	}

	m, err := s.fetchByID(ctx, entry.MemoryID)
	if err != nil {
		return drillDownResult{}, err
	}
	s.recordHotPathAccess(ctx, sessionID, entry.MemoryID)

	relatedIDs := capRelated(m.RelatedMemories, maxDrillDownRelated)

	related := make([]relatedEntry, 0, len(relatedIDs))
	for _, rid := range relatedIDs {
		rm, err := s.fetchByID(ctx, rid)
		if err != nil {
			if models.IsKind(err, models.KindNotFound) {
				continue
			}
			return drillDownResult{}, err
		}
		did := s.drilldowns.Register(rid, entry.Type)
		related = append(related, relatedEntry{Memory: *rm, DrilldownID: did})
	}

	return drillDownResult{Memory: *m, Related: related}, nil
}
