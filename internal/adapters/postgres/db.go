package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Pool is the subset of *pgxpool.Pool the repositories use. pgxmock's pool
// satisfies it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Ping(ctx context.Context) error
	Close()
}

// DB wraps the connection pool shared by all repositories.
type DB struct {
	Pool Pool
	pgx  *pgxpool.Pool
}

// New creates a new DB connection pool.
func New(ctx context.Context, dsn string, maxConns int32) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &DB{Pool: pool, pgx: pool}, nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(p Pool) *DB {
	db := &DB{Pool: p}
	if pp, ok := p.(*pgxpool.Pool); ok {
		db.pgx = pp
	}
	return db
}

// Stat returns pool statistics, or nil when the pool is not a pgxpool.
func (db *DB) Stat() *pgxpool.Stat {
	if db.pgx == nil {
		return nil
	}
	return db.pgx.Stat()
}

// Ping checks connectivity.
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Close releases pool resources.
func (db *DB) Close() {
	db.Pool.Close()
}
