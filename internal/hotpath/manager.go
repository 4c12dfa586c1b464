// Package hotpath implements HotPathManager: access-transition tracking,
// recurring-sequence promotion to HotPath rows, heat decay, and predictive
// prefetch for the memory engine.
package hotpath

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/jonhardwick-spec/specmem-sub022/internal/observability"
	"github.com/jonhardwick-spec/specmem-sub022/internal/storage"
	"github.com/jonhardwick-spec/specmem-sub022/pkg/models"
)

const (
	// promotionThreshold is the minimum transition count a consecutive pair
	// in a candidate sequence must have before the sequence is promoted.
	promotionThreshold = 3

	// minSequenceLen is the shortest sequence eligible for promotion.
	minSequenceLen = 2

	// maxSequenceLen bounds how far back a session buffer is scanned when
	// looking for promotable sub-sequences.
	maxSequenceLen = 8

	// defaultDecayFactor and defaultPruneFloor match the conservative
	// defaults called out for heat management.
	defaultDecayFactor = 0.95
	defaultPruneFloor  = 0.05
)

// Options configures heat decay behavior.
type Options struct {
	DecayFactor float64
	PruneFloor  float64
}

func (o *Options) applyDefaults() {
	if o.DecayFactor <= 0 || o.DecayFactor >= 1 {
		o.DecayFactor = defaultDecayFactor
	}
	if o.PruneFloor <= 0 {
		o.PruneFloor = defaultPruneFloor
	}
}

// Manager observes memory retrievals, maintains per-session access buffers
// and the durable AccessTransition graph, and promotes recurring
// sub-sequences to HotPath rows.
type Manager struct {
	pool    *storage.Pool
	metrics *observability.Metrics
	log     *observability.Logger
	opts    Options

	mu       sync.Mutex
	sessions map[string][]uuid.UUID
}

// New constructs a Manager. metrics and log may be nil.
func New(pool *storage.Pool, metrics *observability.Metrics, log *observability.Logger, opts Options) *Manager {
	opts.applyDefaults()
	return &Manager{
		pool:     pool,
		metrics:  metrics,
		log:      log,
		opts:     opts,
		sessions: make(map[string][]uuid.UUID),
	}
}

// RecordAccess appends memoryID to sessionID's buffer, records a transition
// from the previous access (if any), and attempts promotion of any
// sub-sequence in the buffer that has crossed the promotion threshold.
func (m *Manager) RecordAccess(ctx context.Context, sessionID string, memoryID uuid.UUID) error {
	m.mu.Lock()
	buf := m.sessions[sessionID]
	var previous uuid.UUID
	hasPrevious := len(buf) > 0
	if hasPrevious {
		previous = buf[len(buf)-1]
	}
	buf = append(buf, memoryID)
	if len(buf) > maxSequenceLen {
		buf = buf[len(buf)-maxSequenceLen:]
	}
	m.sessions[sessionID] = buf
	window := append([]uuid.UUID(nil), buf...)
	m.mu.Unlock()

	if hasPrevious && previous != memoryID {
		if err := m.recordTransition(ctx, sessionID, previous, memoryID); err != nil {
			return err
		}
	}

	return m.promoteHotPaths(ctx, window)
}

// EndSession discards sessionID's buffer. Callers invoke this once a tool
// session's last follow-up has been served.
func (m *Manager) EndSession(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

func (m *Manager) recordTransition(ctx context.Context, sessionID string, from, to uuid.UUID) error {
	_, err := m.pool.Exec(ctx, `
		INSERT INTO access_transitions (from_memory_id, to_memory_id, session_id, transition_count, last_transition_at)
		VALUES ($1, $2, $3, 1, now())
		ON CONFLICT (from_memory_id, to_memory_id, session_id)
		DO UPDATE SET transition_count = access_transitions.transition_count + 1, last_transition_at = now()
	`, from, to, sessionID)
	return err
}

// transitionCount returns the cross-session transition count for the pair,
// since promotion reasons about the path's global recurrence rather than
// any one session's view of it.
func (m *Manager) transitionCount(ctx context.Context, from, to uuid.UUID) (int64, error) {
	conn, row := m.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(transition_count), 0)
		FROM access_transitions
		WHERE from_memory_id = $1 AND to_memory_id = $2
	`, from, to)
	if conn == nil {
		return 0, models.NewError(models.KindStorageTransient, "acquire connection for transition count", nil)
	}
	defer conn.Close()

	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// promoteHotPaths tries every trailing sub-sequence of window (longest
// first) of length >= minSequenceLen and promotes the first one whose every
// consecutive pair meets promotionThreshold.
func (m *Manager) promoteHotPaths(ctx context.Context, window []uuid.UUID) error {
	for length := len(window); length >= minSequenceLen; length-- {
		seq := window[len(window)-length:]
		minCount, ok, err := m.sequenceQualifies(ctx, seq)
		if err != nil {
			return err
		}
		if ok {
			return m.upsertHotPath(ctx, seq, minCount)
		}
	}
	return nil
}

func (m *Manager) sequenceQualifies(ctx context.Context, seq []uuid.UUID) (int64, bool, error) {
	var min int64 = -1
	for i := 0; i < len(seq)-1; i++ {
		count, err := m.transitionCount(ctx, seq[i], seq[i+1])
		if err != nil {
			return 0, false, err
		}
		if count < promotionThreshold {
			return 0, false, nil
		}
		if min < 0 || count < min {
			min = count
		}
	}
	return min, true, nil
}

func (m *Manager) upsertHotPath(ctx context.Context, seq []uuid.UUID, minPairwiseCount int64) error {
	hash := pathHash(seq)
	ids := uuidStrings(seq)

	res, err := m.pool.Exec(ctx, `
		UPDATE hot_paths
		SET access_count = access_count + 1,
		    heat_score = heat_score + 1,
		    cache_hits = CASE WHEN cached_at IS NOT NULL THEN cache_hits + 1 ELSE cache_hits END
		WHERE path_hash = $1
	`, hash)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	_, err = m.pool.Exec(ctx, `
		INSERT INTO hot_paths (id, path_hash, memory_ids, access_count, heat_score)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (path_hash) DO NOTHING
	`, uuid.New(), hash, pq.Array(ids), float64(minPairwiseCount))
	if m.metrics != nil && err == nil {
		m.metrics.HotPathCacheHits.WithLabelValues("promoted").Inc()
	}
	return err
}

// pathHash renders a stable, order-sensitive digest of a memory-id
// sequence; it functionally determines memory_ids per the uniqueness
// constraint on hot_paths.path_hash.
func pathHash(seq []uuid.UUID) string {
	h := sha256.New()
	for _, id := range seq {
		h.Write([]byte(id.String()))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// PredictNext returns the top-N memory ids most often accessed immediately
// after currentID, ordered by descending transition count.
func (m *Manager) PredictNext(ctx context.Context, currentID uuid.UUID, n int) ([]models.AccessTransition, error) {
	if n <= 0 {
		n = 5
	}
	rows, err := m.pool.QueryRows(ctx, `
		SELECT to_memory_id, SUM(transition_count) AS total, MAX(last_transition_at)
		FROM access_transitions
		WHERE from_memory_id = $1
		GROUP BY to_memory_id
		ORDER BY total DESC
		LIMIT $2
	`, currentID, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AccessTransition
	for rows.Next() {
		var t models.AccessTransition
		if err := rows.Scan(&t.ToMemoryID, &t.TransitionCount, &t.LastTransitionAt); err != nil {
			return nil, err
		}
		t.FromMemoryID = currentID
		out = append(out, t)
	}
	return out, rows.Err()
}

// CheckAndPrefetch finds any HotPath whose memory_ids prefix equals
// sequence and returns the memories at the remaining positions,
// project-scoped by the pool's pinned schema. Returns (nil, nil) when no
// hot path matches.
func (m *Manager) CheckAndPrefetch(ctx context.Context, sequence []uuid.UUID) ([]models.Memory, error) {
	if len(sequence) == 0 {
		return nil, nil
	}

	path, err := m.findPrefixMatch(ctx, sequence)
	if err != nil || path == nil {
		return nil, err
	}

	remaining := path.MemoryIDs[len(sequence):]
	if len(remaining) == 0 {
		return nil, nil
	}

	memories, err := m.loadMemories(ctx, remaining)
	if err != nil {
		return nil, err
	}

	m.markCached(ctx, path.PathHash)
	return memories, nil
}

func (m *Manager) findPrefixMatch(ctx context.Context, sequence []uuid.UUID) (*models.HotPath, error) {
	rows, err := m.pool.QueryRows(ctx, `
		SELECT id, path_hash, memory_ids, access_count, heat_score, cached_at, cache_hits, dominant_tags
		FROM hot_paths
		WHERE memory_ids[1:$1] = $2::uuid[]
		ORDER BY heat_score DESC
		LIMIT 1
	`, len(sequence), pq.Array(uuidStrings(sequence)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	var p models.HotPath
	var idStrs []string
	var tags []string
	var cachedAt sql.NullTime
	if err := rows.Scan(&p.ID, &p.PathHash, pq.Array(&idStrs), &p.AccessCount, &p.HeatScore, &cachedAt, &p.CacheHits, pq.Array(&tags)); err != nil {
		return nil, err
	}
	p.MemoryIDs = parseUUIDs(idStrs)
	p.DominantTags = tags
	if cachedAt.Valid {
		p.CachedAt = &cachedAt.Time
	}
	return &p, nil
}

func (m *Manager) loadMemories(ctx context.Context, ids []uuid.UUID) ([]models.Memory, error) {
	rows, err := m.pool.QueryRows(ctx, `
		SELECT id, content, memory_type, importance, tags, metadata, project_path,
		       created_at, updated_at, access_count, last_accessed_at, expires_at
		FROM memories
		WHERE id = ANY($1::uuid[])
	`, pq.Array(uuidStrings(ids)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]models.Memory, len(ids))
	for rows.Next() {
		var mem models.Memory
		var memoryType, importance string
		var tags []string
		var metadataJSON sql.NullString
		var lastAccessed, expiresAt sql.NullTime
		if err := rows.Scan(&mem.ID, &mem.Content, &memoryType, &importance, pq.Array(&tags), &metadataJSON,
			&mem.ProjectPath, &mem.CreatedAt, &mem.UpdatedAt, &mem.AccessCount, &lastAccessed, &expiresAt); err != nil {
			return nil, err
		}
		mem.MemoryType = models.MemoryType(memoryType)
		mem.Importance = models.Importance(importance)
		mem.Tags = tags
		if lastAccessed.Valid {
			mem.LastAccessedAt = &lastAccessed.Time
		}
		if expiresAt.Valid {
			mem.ExpiresAt = &expiresAt.Time
		}
		byID[mem.ID] = mem
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Preserve the caller's requested order; skip ids that no longer exist
	// (AccessTransitions and HotPaths are weak references).
	out := make([]models.Memory, 0, len(ids))
	for _, id := range ids {
		if mem, ok := byID[id]; ok {
			out = append(out, mem)
		}
	}
	return out, nil
}

func (m *Manager) markCached(ctx context.Context, pathHash string) {
	_, err := m.pool.Exec(ctx, `
		UPDATE hot_paths SET cached_at = now(), cache_hits = cache_hits + 1 WHERE path_hash = $1
	`, pathHash)
	if err == nil && m.metrics != nil {
		m.metrics.HotPathCacheHits.WithLabelValues("prefetch").Inc()
	}
}

// DecaySweep multiplies every hot path's heat_score by the configured decay
// factor and prunes rows that fall below the prune floor. Intended to be
// driven on an hourly cadence by a background scheduler.
func (m *Manager) DecaySweep(ctx context.Context) (pruned int64, err error) {
	if _, err := m.pool.Exec(ctx, `UPDATE hot_paths SET heat_score = heat_score * $1`, m.opts.DecayFactor); err != nil {
		return 0, err
	}

	res, err := m.pool.Exec(ctx, `DELETE FROM hot_paths WHERE heat_score < $1`, m.opts.PruneFloor)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	if m.log != nil && n > 0 {
		m.log.Info(ctx, "hot path decay sweep pruned paths", "pruned", n)
	}
	return n, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func parseUUIDs(strs []string) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(strs))
	for _, s := range strs {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if id, err := uuid.Parse(s); err == nil {
			out = append(out, id)
		}
	}
	return out
}
