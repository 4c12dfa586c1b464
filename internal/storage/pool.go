// Package storage implements the project-scoped connection pool and
// per-project schema lifecycle (creation, dimension detection, and
// migration) on top of PostgreSQL with the pgvector extension.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // registers the "postgres" database/sql driver

	"github.com/jonhardwick-spec/specmem-sub022/pkg/models"
)

// Config configures the connection pool.
type Config struct {
	// DSN is the PostgreSQL connection string.
	DSN string

	// MaxOpenConns bounds the pool size. Defaults to 10.
	MaxOpenConns int

	// MaxIdleConns bounds idle connections kept warm. Defaults to MaxOpenConns.
	MaxIdleConns int

	// ConnMaxIdleTime closes idle connections after this long. Defaults to 30s.
	ConnMaxIdleTime time.Duration
}

// ConnectHook runs once per logical operation, after the project schema has
// been pinned and before the caller's query executes. It exists so callers
// can attach cross-cutting behavior (tracing, audit) without reaching into
// Pool internals.
type ConnectHook func(ctx context.Context, conn *sql.Conn) error

// Pool wraps a *sql.DB scoped to a single project schema. Every logical
// operation (Exec, QueryRows, Transaction) pins the connection's
// search_path to "<projectSchema>, public" before issuing the caller's
// statement. This pin is non-negotiable: database/sql does not expose
// individual physical connections to application code outside of
// db.Conn(), so the pool borrows an exclusive *sql.Conn for the duration of
// each logical operation specifically so the pin is guaranteed to apply to
// the connection the query actually runs on.
type Pool struct {
	db     *sql.DB
	schema string
	hooks  []ConnectHook
}

// Open creates a pool and verifies connectivity. projectSchema must already
// be a sanitized, prefixed schema id (see internal/project).
func Open(ctx context.Context, cfg Config, projectSchema string) (*Pool, error) {
	if cfg.DSN == "" {
		return nil, models.NewError(models.KindInvalidRequest, "DSN is required", nil)
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = cfg.MaxOpenConns
	}
	if cfg.ConnMaxIdleTime <= 0 {
		cfg.ConnMaxIdleTime = 30 * time.Second
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, models.NewError(models.KindStoragePermanent, "open database", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, classifyStorageError("ping database", err)
	}

	return &Pool{db: db, schema: projectSchema}, nil
}

// OnConnect registers a hook invoked on every acquired connection, after the
// schema pin and before the caller's statement.
func (p *Pool) OnConnect(hook ConnectHook) {
	p.hooks = append(p.hooks, hook)
}

// Schema returns the project schema this pool is pinned to.
func (p *Pool) Schema() string { return p.schema }

// Close releases the underlying connection pool.
func (p *Pool) Close() error { return p.db.Close() }

// acquire borrows an exclusive connection, pins its search_path, and runs
// any registered connect hooks.
func (p *Pool) acquire(ctx context.Context) (*sql.Conn, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, classifyStorageError("acquire connection", err)
	}
	if _, err := conn.ExecContext(ctx, fmt.Sprintf(`SET search_path TO %s, public`, quoteIdent(p.schema))); err != nil {
		conn.Close()
		return nil, classifyStorageError("pin search_path", err)
	}
	for _, hook := range p.hooks {
		if err := hook(ctx, conn); err != nil {
			conn.Close()
			return nil, classifyStorageError("connect hook", err)
		}
	}
	return conn, nil
}

// Exec runs a statement against a freshly pinned connection.
func (p *Pool) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	conn, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	res, err := conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, classifyStorageError("exec", err)
	}
	return res, nil
}

// QueryRows runs a query against a freshly pinned connection. The returned
// *sql.Rows holds the connection open until closed or exhausted; callers
// must call rows.Close().
func (p *Pool) QueryRows(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	conn, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		conn.Close()
		return nil, classifyStorageError("query", err)
	}
	// conn is released implicitly by database/sql once rows are closed/exhausted.
	return rows, nil
}

// QueryRow runs a single-row query against a freshly pinned connection.
func (p *Pool) QueryRow(ctx context.Context, query string, args ...any) (*sql.Conn, *sql.Row) {
	conn, err := p.acquire(ctx)
	if err != nil {
		return nil, nil
	}
	return conn, conn.QueryRowContext(ctx, query, args...)
}

// Transaction runs fn inside a transaction on a freshly pinned connection.
// fn's error, if any, aborts the transaction with a rollback; otherwise the
// transaction is committed. No implicit retries are performed.
func (p *Pool) Transaction(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	conn, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return classifyStorageError("begin transaction", err)
	}

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return classifyStorageError("rollback after error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return classifyStorageError("commit transaction", err)
	}
	return nil
}

// quoteIdent double-quotes a schema identifier. Callers only ever pass
// identifiers produced by internal/project.deriveSchema, which already
// restricts the character set to [a-z0-9_], so this is a defensive
// formatting step rather than the primary defense against injection.
func quoteIdent(ident string) string {
	return `"` + ident + `"`
}

// classifyStorageError maps a driver error into the transient/permanent
// StorageError split the specification requires.
func classifyStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return models.NewError(models.KindOperationCancelled, op, err)
	}
	if isTransientPgError(err) {
		return models.NewError(models.KindStorageTransient, op, err)
	}
	return models.NewError(models.KindStoragePermanent, op, err)
}

// isTransientPgError reports whether err looks like a connection-level
// failure rather than a schema/constraint error. PostgreSQL's driver-level
// errors for "connection refused", "connection reset", and similar network
// faults don't carry a stable sentinel across drivers, so this is a
// best-effort classification based on the driver's error string.
func isTransientPgError(err error) bool {
	msg := err.Error()
	transientSubstrings := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"i/o timeout",
		"too many connections",
		"EOF",
	}
	for _, s := range transientSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
