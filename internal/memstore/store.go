// Package memstore implements MemoryStore: the insert/update/delete surface
// over the memories table, including content-hash deduplication and
// cascading deletes into access_transitions and hot_paths.
package memstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/jonhardwick-spec/specmem-sub022/internal/embedqueue"
	"github.com/jonhardwick-spec/specmem-sub022/internal/observability"
	"github.com/jonhardwick-spec/specmem-sub022/internal/storage"
	"github.com/jonhardwick-spec/specmem-sub022/pkg/models"
)

// Store implements insert/update/delete for memories, scoped to one
// project's schema via pool.
type Store struct {
	pool    *storage.Pool
	queue   *embedqueue.Queue
	log     *observability.Logger
	metrics *observability.Metrics

	// dimension is the schema's current embedding dimension, used to
	// validate caller-supplied embeddings. Zero means "not yet known" and
	// skips validation.
	dimension int
}

// New constructs a Store. queue may be nil, in which case Insert never
// auto-enqueues missing embeddings and simply persists the row without
// one.
func New(pool *storage.Pool, queue *embedqueue.Queue, dimension int, log *observability.Logger, metrics *observability.Metrics) *Store {
	return &Store{pool: pool, queue: queue, dimension: dimension, log: log, metrics: metrics}
}

// SetDimension updates the dimension used to validate future inserts.
func (s *Store) SetDimension(d int) { s.dimension = d }

// ContentHash computes the dedup key: sha256(role:trimmed-content|project)
// truncated to 16 hex characters.
func ContentHash(role, content, projectPath string) string {
	sum := sha256.Sum256([]byte(role + ":" + strings.TrimSpace(content) + "|" + projectPath))
	return hex.EncodeToString(sum[:])[:16]
}

// Insert persists a new memory. It returns the memory id and whether a new
// row was actually created (false if an existing row with the same
// content hash already existed). If input.Embedding is empty and a Queue
// was configured, the row is inserted without an embedding and a
// background goroutine attaches the embedding once the queue resolves it;
// Insert itself never blocks on the embedder.
func (s *Store) Insert(ctx context.Context, input models.MemoryInput) (uuid.UUID, bool, error) {
	if input.Embedding != nil && s.dimension > 0 && len(input.Embedding) != s.dimension {
		return uuid.Nil, false, models.NewError(models.KindSchemaMismatch,
			fmt.Sprintf("embedding dimension %d does not match schema dimension %d", len(input.Embedding), s.dimension), nil)
	}

	hash := ContentHash(input.Role, input.Content, input.ProjectPath)
	metadata := cloneMetadata(input.Metadata)
	metadata["contentHash"] = hash

	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return uuid.Nil, false, models.NewError(models.KindInternal, "marshal memory metadata", err)
	}

	id := uuid.New()
	var returnedID uuid.UUID

	err = s.pool.Transaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var row *sql.Row
		if input.CreatedAt != nil {
			row = tx.QueryRowContext(ctx, `
				INSERT INTO memories (
					id, content, content_hash, memory_type, importance, tags, metadata,
					embedding, project_path, expires_at, created_at, updated_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
				ON CONFLICT (content_hash) DO NOTHING
				RETURNING id
			`, id, input.Content, hash, string(input.MemoryType), string(input.Importance),
				pq.Array(normalizeTags(input.Tags)), string(metadataJSON),
				storage.EncodeEmbedding(input.Embedding), input.ProjectPath, input.ExpiresAt, *input.CreatedAt)
		} else {
			row = tx.QueryRowContext(ctx, `
				INSERT INTO memories (
					id, content, content_hash, memory_type, importance, tags, metadata,
					embedding, project_path, expires_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				ON CONFLICT (content_hash) DO NOTHING
				RETURNING id
			`, id, input.Content, hash, string(input.MemoryType), string(input.Importance),
				pq.Array(normalizeTags(input.Tags)), string(metadataJSON),
				storage.EncodeEmbedding(input.Embedding), input.ProjectPath, input.ExpiresAt)
		}
		return row.Scan(&returnedID)
	})

	switch {
	case err == nil:
		if s.metrics != nil {
			s.metrics.MemoryInsertCounter.WithLabelValues("inserted").Inc()
		}
		if len(input.Embedding) == 0 && s.queue != nil {
			s.enqueueEmbedding(returnedID, input.Content)
		}
		return returnedID, true, nil
	case errors.Is(err, sql.ErrNoRows):
		existing, findErr := s.findByHash(ctx, hash)
		if findErr != nil {
			return uuid.Nil, false, findErr
		}
		if s.metrics != nil {
			s.metrics.MemoryInsertCounter.WithLabelValues("duplicate").Inc()
		}
		return existing, false, nil
	default:
		if s.metrics != nil {
			s.metrics.MemoryInsertCounter.WithLabelValues("error").Inc()
		}
		return uuid.Nil, false, err
	}
}

func (s *Store) findByHash(ctx context.Context, hash string) (uuid.UUID, error) {
	conn, row := s.pool.QueryRow(ctx, `SELECT id FROM memories WHERE content_hash = $1`, hash)
	if conn == nil {
		return uuid.Nil, models.NewError(models.KindStoragePermanent, "lookup memory by content hash", nil)
	}
	defer conn.Close()

	var id uuid.UUID
	if err := row.Scan(&id); err != nil {
		return uuid.Nil, models.NewError(models.KindStoragePermanent, "scan memory by content hash", err)
	}
	return id, nil
}

// enqueueEmbedding fires a background attempt to embed text and attach the
// result to id once resolved. Failures are logged, not surfaced, since the
// caller's Insert has already returned successfully.
func (s *Store) enqueueEmbedding(id uuid.UUID, text string) {
	future, err := s.queue.Enqueue(context.Background(), text, 0)
	if err != nil {
		if s.log != nil {
			s.log.Error(context.Background(), "failed to enqueue embedding for inserted memory", "memory_id", id.String(), "error", err.Error())
		}
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		res, err := future.Wait(ctx)
		if err != nil || res.Err != nil || len(res.Embedding) == 0 {
			return
		}
		if _, err := s.pool.Exec(ctx, `UPDATE memories SET embedding = $2::vector WHERE id = $1`, id, storage.EncodeEmbedding(res.Embedding)); err != nil && s.log != nil {
			s.log.Error(ctx, "failed to attach queued embedding", "memory_id", id.String(), "error", err.Error())
		}
	}()
}

// Patch describes a partial update. Nil fields are left unchanged.
// Embedding is only regenerated by callers when Content changes; Store
// never infers that on its own.
type Patch struct {
	Content    *string
	Importance *models.Importance
	Tags       *[]string
	Metadata   map[string]any
	Embedding  []float32
	ExpiresAt  **time.Time
}

// Update applies patch to the memory identified by id, recomputing
// updated_at. Returns models.KindNotFound if no row matches.
func (s *Store) Update(ctx context.Context, id uuid.UUID, patch Patch) error {
	sets := []string{"updated_at = now()"}
	args := []any{id}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if patch.Content != nil {
		sets = append(sets, "content = "+next(*patch.Content))
	}
	if patch.Importance != nil {
		sets = append(sets, "importance = "+next(string(*patch.Importance)))
	}
	if patch.Tags != nil {
		sets = append(sets, "tags = "+next(pq.Array(normalizeTags(*patch.Tags))))
	}
	if patch.Metadata != nil {
		b, err := json.Marshal(patch.Metadata)
		if err != nil {
			return models.NewError(models.KindInternal, "marshal metadata patch", err)
		}
		sets = append(sets, "metadata = "+next(string(b)))
	}
	if patch.Embedding != nil {
		if s.dimension > 0 && len(patch.Embedding) != s.dimension {
			return models.NewError(models.KindInvalidRequest, "embedding dimension mismatch on update", nil)
		}
		sets = append(sets, "embedding = "+next(storage.EncodeEmbedding(patch.Embedding))+"::vector")
	}
	if patch.ExpiresAt != nil {
		sets = append(sets, "expires_at = "+next(*patch.ExpiresAt))
	}

	query := fmt.Sprintf(`UPDATE memories SET %s WHERE id = $1`, strings.Join(sets, ", "))
	res, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.NewError(models.KindStoragePermanent, "read rows affected", err)
	}
	if n == 0 {
		return models.NewError(models.KindNotFound, "memory not found: "+id.String(), nil)
	}
	return nil
}

// DeleteByID removes a single memory and cascades to its access
// transitions and any hot path referencing it.
func (s *Store) DeleteByID(ctx context.Context, id uuid.UUID) error {
	return s.DeleteByIDs(ctx, []uuid.UUID{id})
}

// DeleteByIDs removes the given memories and cascades.
func (s *Store) DeleteByIDs(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return s.pool.Transaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return cascadeDelete(ctx, tx, `id = ANY($1::uuid[])`, pq.Array(uuidStrings(ids)))
	})
}

// DeleteOlderThan removes every memory created before cutoff, cascading.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var affected int64
	err := s.pool.Transaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		ids, err := collectIDs(ctx, tx, `SELECT id FROM memories WHERE created_at < $1`, cutoff)
		if err != nil {
			return err
		}
		affected = int64(len(ids))
		if len(ids) == 0 {
			return nil
		}
		return cascadeDelete(ctx, tx, `id = ANY($1::uuid[])`, pq.Array(uuidStrings(ids)))
	})
	return affected, err
}

// DeleteExpired removes every memory whose expires_at has passed.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	var affected int64
	err := s.pool.Transaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		ids, err := collectIDs(ctx, tx, `SELECT id FROM memories WHERE expires_at IS NOT NULL AND expires_at <= now()`)
		if err != nil {
			return err
		}
		affected = int64(len(ids))
		if len(ids) == 0 {
			return nil
		}
		return cascadeDelete(ctx, tx, `id = ANY($1::uuid[])`, pq.Array(uuidStrings(ids)))
	})
	return affected, err
}

// DeleteByTags removes memories matching tags. matchAll requires every tag
// to be present (tags @> set); otherwise any overlap qualifies (tags && set).
func (s *Store) DeleteByTags(ctx context.Context, tags []string, matchAll bool) (int64, error) {
	if len(tags) == 0 {
		return 0, nil
	}
	op := "&&"
	if matchAll {
		op = "@>"
	}
	var affected int64
	err := s.pool.Transaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		query := fmt.Sprintf(`SELECT id FROM memories WHERE tags %s $1`, op)
		ids, err := collectIDs(ctx, tx, query, pq.Array(tags))
		if err != nil {
			return err
		}
		affected = int64(len(ids))
		if len(ids) == 0 {
			return nil
		}
		return cascadeDelete(ctx, tx, `id = ANY($1::uuid[])`, pq.Array(uuidStrings(ids)))
	})
	return affected, err
}

func collectIDs(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// cascadeDelete removes access_transitions referencing any matched memory,
// hot_paths whose memory_ids overlap the matched set, and finally the
// memories themselves, all inside the caller's transaction.
func cascadeDelete(ctx context.Context, tx *sql.Tx, whereClause string, idArrayArg any) error {
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM access_transitions
		WHERE from_memory_id = ANY($1::uuid[]) OR to_memory_id = ANY($1::uuid[])
	`, idArrayArg); err != nil {
		return fmt.Errorf("cascade delete access_transitions: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM hot_paths WHERE memory_ids && $1::uuid[]
	`, idArrayArg); err != nil {
		return fmt.Errorf("cascade delete hot_paths: %w", err)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM memories WHERE %s`, whereClause), idArrayArg); err != nil {
		return fmt.Errorf("delete memories: %w", err)
	}
	return nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// normalizeTags deduplicates tags while preserving first-seen order.
func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func cloneMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
