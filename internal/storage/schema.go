package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jonhardwick-spec/specmem-sub022/internal/observability"
	"github.com/jonhardwick-spec/specmem-sub022/pkg/models"
)

// hnswM and hnswEfConstruction are the pgvector HNSW index build parameters
// used for every project's memories and code_definitions indexes.
const (
	hnswM              = 16
	hnswEfConstruction = 64

	dimensionMetaKey = "embedding_dimension"
)

// SchemaManager owns the lifecycle of a single project's schema: creating
// it, running migrations, and keeping the embedding column's vector
// dimension in sync with whatever the configured embedder actually
// produces.
type SchemaManager struct {
	pool    *Pool
	metrics *observability.Metrics
	log     *observability.Logger
}

// NewSchemaManager builds a SchemaManager bound to pool's project schema.
// metrics and log may be nil in tests.
func NewSchemaManager(pool *Pool, metrics *observability.Metrics, log *observability.Logger) *SchemaManager {
	return &SchemaManager{pool: pool, metrics: metrics, log: log}
}

// EnsureSchema creates the project schema (if absent), the pgvector
// extension (if absent), and applies every pending migration. It is safe
// to call on every process startup.
func (s *SchemaManager) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return models.NewError(models.KindStoragePermanent, "create vector extension", err)
	}

	if _, err := s.pool.db.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, quoteIdent(s.pool.Schema()))); err != nil {
		return models.NewError(models.KindStoragePermanent, "create project schema", err)
	}

	conn, err := s.pool.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := runMigrations(ctx, conn); err != nil {
		return models.NewError(models.KindStoragePermanent, "run migrations", err)
	}
	return nil
}

// EnsureDimension reconciles the memories/code_definitions embedding
// columns with dimension, which is the vector length the configured
// embedder actually produces (discovered by embedding a sample string on
// first use). If no dimension has been recorded yet, the column is typed
// in place. If a different dimension was previously recorded, every
// existing embedding is necessarily incompatible, so this performs a
// destructive rebuild: drop the HNSW indexes, truncate the embedding
// tables, retype the column, and rebuild the indexes.
func (s *SchemaManager) EnsureDimension(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return models.NewError(models.KindInvalidRequest, "embedding dimension must be positive", nil)
	}

	current, found, err := s.currentDimension(ctx)
	if err != nil {
		return err
	}

	switch {
	case !found:
		return s.setDimension(ctx, dimension, false)
	case current != dimension:
		if s.log != nil {
			s.log.Warn(ctx, "embedding dimension changed, rebuilding vector columns",
				"schema", s.pool.Schema(), "old_dimension", current, "new_dimension", dimension)
		}
		return s.setDimension(ctx, dimension, true)
	default:
		return nil
	}
}

func (s *SchemaManager) currentDimension(ctx context.Context) (int, bool, error) {
	conn, row := s.pool.QueryRow(ctx, `SELECT value FROM schema_meta WHERE key = $1`, dimensionMetaKey)
	if conn == nil {
		return 0, false, models.NewError(models.KindStoragePermanent, "read dimension marker", nil)
	}
	defer conn.Close()

	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, models.NewError(models.KindStoragePermanent, "scan dimension marker", err)
	}

	var dim int
	if _, err := fmt.Sscanf(value, "%d", &dim); err != nil {
		return 0, false, models.NewError(models.KindStoragePermanent, "parse dimension marker", err)
	}
	return dim, true, nil
}

func (s *SchemaManager) setDimension(ctx context.Context, dimension int, rebuild bool) error {
	return s.pool.Transaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if rebuild {
			if _, err := tx.ExecContext(ctx, `DROP INDEX IF EXISTS memories_embedding_hnsw_idx`); err != nil {
				return fmt.Errorf("drop memories index: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `DROP INDEX IF EXISTS code_definitions_embedding_hnsw_idx`); err != nil {
				return fmt.Errorf("drop code_definitions index: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `TRUNCATE memories`); err != nil {
				return fmt.Errorf("truncate memories: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `TRUNCATE code_definitions`); err != nil {
				return fmt.Errorf("truncate code_definitions: %w", err)
			}
		}

		alterVector := fmt.Sprintf(`ALTER TABLE memories ALTER COLUMN embedding TYPE vector(%d)`, dimension)
		if !rebuild {
			alterVector += fmt.Sprintf(` USING embedding::vector(%d)`, dimension)
		}
		if _, err := tx.ExecContext(ctx, alterVector); err != nil {
			return fmt.Errorf("alter memories.embedding: %w", err)
		}

		alterCodeVector := fmt.Sprintf(`ALTER TABLE code_definitions ALTER COLUMN embedding TYPE vector(%d)`, dimension)
		if !rebuild {
			alterCodeVector += fmt.Sprintf(` USING embedding::vector(%d)`, dimension)
		}
		if _, err := tx.ExecContext(ctx, alterCodeVector); err != nil {
			return fmt.Errorf("alter code_definitions.embedding: %w", err)
		}

		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			CREATE INDEX memories_embedding_hnsw_idx ON memories
			USING hnsw (embedding vector_cosine_ops)
			WITH (m = %d, ef_construction = %d)
		`, hnswM, hnswEfConstruction)); err != nil {
			return fmt.Errorf("create memories hnsw index: %w", err)
		}

		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			CREATE INDEX code_definitions_embedding_hnsw_idx ON code_definitions
			USING hnsw (embedding vector_cosine_ops)
			WITH (m = %d, ef_construction = %d)
		`, hnswM, hnswEfConstruction)); err != nil {
			return fmt.Errorf("create code_definitions hnsw index: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO schema_meta (key, value) VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
		`, dimensionMetaKey, fmt.Sprintf("%d", dimension)); err != nil {
			return fmt.Errorf("persist dimension marker: %w", err)
		}

		if rebuild && s.metrics != nil {
			s.metrics.SchemaMigrationCounter.Inc()
		}
		return nil
	})
}
