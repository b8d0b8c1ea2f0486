// Package postgres implements the storage.Store contract over PostgreSQL,
// following the persisted state layout in spec §6.5. Grounded on the
// teacher's internal/db package (connection pool configuration) and its
// syncservice package (upsert-then-read-back transactions, pgx row
// scanning) — adapted from task/comment sync rows to the engine's own
// SyncPair/SyncedRecord/Conflict/HistoryEntry rows.
package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Open creates a connection pool sized for a single-process scheduler
// (horizontal scale across processes is a non-goal, so the pool need not
// be large) and applies the embedded migrations.
func Open(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}

	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Int32("max_conns", cfg.MaxConns).
		Int32("min_conns", cfg.MinConns).
		Msg("postgres connection pool created")

	return pool, nil
}
