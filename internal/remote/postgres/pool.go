// Package postgres implements the remote store over a single kv table,
// with change fan-out via LISTEN/NOTIFY.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxPool is a minimal abstraction over a Postgres connection pool.
// It is implemented by *pgxpool.Pool and pgxmock.PgxPoolIface.
type PgxPool interface {
	// Exec executes a SQL command and returns the command tag.
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	// Query executes a SELECT and returns a rows iterator.
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	// QueryRow executes a query expected to return at most one row.
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	// BeginTx starts a transaction with the provided options.
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	// Close shuts down the pool and frees resources.
	Close()
}

// DB wraps pgxpool.Pool to satisfy the store constructor and allow testing.
type DB struct {
	Pool PgxPool

	// raw is the concrete pool, needed for the dedicated LISTEN
	// connection. Nil when the DB was built around a mock.
	raw *pgxpool.Pool
}

// New creates a new connection pool for the given DSN.
func New(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &DB{Pool: pool, raw: pool}, nil
}

// NewWithPool wraps an existing querier. Stores built this way cannot
// LISTEN, so change delivery is local-writes-only.
func NewWithPool(pool PgxPool) *DB { return &DB{Pool: pool} }

// Close closes the underlying pool.
func (db *DB) Close() { db.Pool.Close() }
