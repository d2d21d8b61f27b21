package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roadsight/holderd/internal/model"
)

// DB is the PostgreSQL-backed Store.
type DB struct {
	pool     *pgxpool.Pool
	fallback model.ClassPair
	logger   *slog.Logger
}

var _ Store = (*DB)(nil)

// New creates a Postgres store. fallback is the class pair recorded as the
// "before" state when a correction arrives for an unknown subject.
func New(ctx context.Context, dsn string, fallback model.ClassPair, logger *slog.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: parse DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage: ping pool: %w", err)
	}

	return &DB{
		pool:     pool,
		fallback: fallback,
		logger:   logger,
	}, nil
}

// Pool returns the underlying connection pool for use in tests.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks connectivity to the database.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close(ctx context.Context) error {
	db.pool.Close()
	return nil
}
