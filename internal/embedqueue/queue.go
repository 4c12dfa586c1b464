// Package embedqueue implements the durable PostgreSQL overflow path used
// when the embedding socket is unavailable or repeatedly times out:
// pending text is persisted, a future is returned to the caller, and a
// background drain resolves it once an embedder becomes reachable again.
package embedqueue

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	pq "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/jonhardwick-spec/specmem-sub022/internal/observability"
	"github.com/jonhardwick-spec/specmem-sub022/internal/storage"
	"github.com/jonhardwick-spec/specmem-sub022/pkg/models"
)

// Result is what a Future resolves to: either an embedding or an error.
type Result struct {
	Embedding []float32
	Err       error
}

// Future is resolved exactly once, by the drain that successfully embeds
// (or permanently fails) the row it was returned for.
type Future struct {
	done chan struct{}
	once sync.Once
	res  Result
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(res Result) {
	f.once.Do(func() {
		f.res = res
		close(f.done)
	})
}

// Wait blocks until the future resolves or ctx is cancelled.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.res, nil
	case <-ctx.Done():
		return Result{}, models.NewError(models.KindOperationCancelled, "wait for embedding queue future", ctx.Err())
	}
}

// EmbedFunc produces an embedding for a single text, typically
// internal/embedclient.Client.Embed bound to a context.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// Queue is the per-project durable overflow queue.
type Queue struct {
	pool       *storage.Pool
	log        *observability.Logger
	metrics    *observability.Metrics
	projectID  string
	concurrent int

	mu       sync.Mutex
	pending  map[int64]*Future
	draining atomic.Bool
}

// Config configures a Queue.
type Config struct {
	// ProjectID tags every enqueued row (the project schema is already
	// pinned by pool, but ProjectID supports cross-project maintenance
	// queries run against a shared admin connection).
	ProjectID string

	// Concurrency bounds how many rows a single drain embeds in parallel.
	// Defaults to 4.
	Concurrency int
}

// New constructs a Queue bound to pool. log and metrics may be nil.
func New(pool *storage.Pool, cfg Config, log *observability.Logger, metrics *observability.Metrics) *Queue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Queue{
		pool:       pool,
		log:        log,
		metrics:    metrics,
		projectID:  cfg.ProjectID,
		concurrent: cfg.Concurrency,
		pending:    make(map[int64]*Future),
	}
}

// Enqueue inserts a pending row and returns a Future that resolves once a
// drain embeds (or permanently fails) it. Enqueue never blocks on the
// embedder itself: it is a single O(1) insert.
func (q *Queue) Enqueue(ctx context.Context, text string, priority int) (*Future, error) {
	var id int64
	err := q.pool.Transaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `
			INSERT INTO embedding_queue (project_id, text, priority, status)
			VALUES ($1, $2, $3, 'pending')
			RETURNING id
		`, q.projectID, text, priority).Scan(&id)
	})
	if err != nil {
		return nil, err
	}

	f := newFuture()
	q.mu.Lock()
	q.pending[id] = f
	q.mu.Unlock()
	return f, nil
}

// drainClaim is one row claimed for processing by a drain pass.
type drainClaim struct {
	id   int64
	text string
}

// Drain claims up to batchSize pending rows (priority desc, then FIFO),
// embeds each via embed, and commits the result per row. Only one drain
// runs at a time per Queue; a concurrent call is a no-op that returns nil
// immediately, matching the at-most-one-drain-per-project contract.
func (q *Queue) Drain(ctx context.Context, embed EmbedFunc, batchSize int) error {
	if !q.draining.CompareAndSwap(false, true) {
		return nil
	}
	defer q.draining.Store(false)

	if batchSize <= 0 {
		batchSize = 50
	}

	claims, err := q.claim(ctx, batchSize)
	if err != nil {
		return err
	}
	if len(claims) == 0 {
		return nil
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(q.concurrent)

	for _, claim := range claims {
		claim := claim
		group.Go(func() error {
			q.processClaim(gctx, embed, claim)
			return nil
		})
	}
	return group.Wait()
}

func (q *Queue) claim(ctx context.Context, batchSize int) ([]drainClaim, error) {
	var claims []drainClaim

	err := q.pool.Transaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, text FROM embedding_queue
			WHERE status = 'pending'
			ORDER BY priority DESC, created_at ASC, id ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		`, batchSize)
		if err != nil {
			return err
		}

		ids := make([]int64, 0, batchSize)
		for rows.Next() {
			var c drainClaim
			if err := rows.Scan(&c.id, &c.text); err != nil {
				rows.Close()
				return err
			}
			claims = append(claims, c)
			ids = append(ids, c.id)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		rows.Close()

		if len(ids) == 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE embedding_queue SET status = 'processing' WHERE id = ANY($1::bigint[])
		`, pq.Array(ids))
		return err
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (q *Queue) processClaim(ctx context.Context, embed EmbedFunc, claim drainClaim) {
	vec, embedErr := embed(ctx, claim.text)

	var execErr error
	if embedErr != nil {
		execErr = q.markFailed(ctx, claim.id, embedErr)
	} else {
		execErr = q.markCompleted(ctx, claim.id, vec)
	}

	q.mu.Lock()
	future := q.pending[claim.id]
	delete(q.pending, claim.id)
	q.mu.Unlock()

	result := Result{Embedding: vec, Err: embedErr}
	if future != nil {
		future.resolve(result)
	}

	if q.metrics != nil {
		status := "completed"
		if embedErr != nil {
			status = "failed"
		}
		q.metrics.QueueDrainCounter.WithLabelValues(status).Inc()
	}
	if execErr != nil && q.log != nil {
		q.log.Error(ctx, "failed to persist embedding queue result", "id", claim.id, "error", execErr.Error())
	}
}

func (q *Queue) markCompleted(ctx context.Context, id int64, vec []float32) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE embedding_queue
		SET status = 'completed', embedding = $2::vector, processed_at = now()
		WHERE id = $1
	`, id, storage.EncodeEmbedding(vec))
	return err
}

func (q *Queue) markFailed(ctx context.Context, id int64, embedErr error) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE embedding_queue
		SET status = 'failed', error = $2, processed_at = now()
		WHERE id = $1
	`, id, embedErr.Error())
	return err
}

// Cleanup removes completed/failed rows older than olderThan.
func (q *Queue) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	seconds := olderThan.Seconds()
	if seconds <= 0 {
		seconds = (7 * 24 * time.Hour).Seconds()
	}
	res, err := q.pool.Exec(ctx, `
		DELETE FROM embedding_queue
		WHERE status IN ('completed', 'failed')
		  AND processed_at < now() - make_interval(secs => $1)
	`, seconds)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
