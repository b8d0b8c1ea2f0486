// Package engine is the composition root: it wires configuration,
// storage, the two system clients, rate limiters, the conflict engine,
// the history sink, the runner, and the scheduler into one Engine value.
// Nothing here is a package-level singleton — every dependency is
// constructor-injected, in the teacher's own composition style
// (cmd/syncengine/main.go.ref builds the same kind of object graph by
// hand rather than via a DI framework).
package engine

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/relaysync/engine/internal/config"
	"github.com/relaysync/engine/internal/conflict"
	"github.com/relaysync/engine/internal/history"
	"github.com/relaysync/engine/internal/ratelimit"
	"github.com/relaysync/engine/internal/retry"
	"github.com/relaysync/engine/internal/runner"
	"github.com/relaysync/engine/internal/scheduler"
	"github.com/relaysync/engine/internal/storage"
	"github.com/relaysync/engine/internal/storage/postgres"
	"github.com/relaysync/engine/internal/systema"
	"github.com/relaysync/engine/internal/systemb"
)

// Engine owns every long-lived collaborator for one process. Close
// releases the ones that hold resources (currently just the DB pool).
type Engine struct {
	Config    config.Config
	Store     storage.Store
	SystemA   systema.Client
	SystemB   systemb.Client
	Conflicts *conflict.Engine
	History   *history.Sink
	Runner    *runner.Runner
	Scheduler *scheduler.Scheduler

	limiterA *ratelimit.Limiter
	limiterB *ratelimit.Limiter
	pool     *pgxpool.Pool
}

// New builds an Engine from cfg, opening the database pool and starting
// both rate limiters. The registry is separate from the global
// prometheus default registry so tests can use an isolated one.
func New(ctx context.Context, cfg config.Config, reg *prometheus.Registry) (*Engine, error) {
	pool, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database pool: %w", err)
	}

	store := postgres.New(pool)

	limiterA := ratelimit.New(cfg.SystemARateHz)
	limiterB := ratelimit.New(cfg.SystemBRateHz)

	systemAClient := systema.NewHTTPClient(cfg.SystemABaseURL, cfg.SystemAAPIKey, limiterA)
	systemBClient := systemb.NewHTTPClient(cfg.SystemBBaseURL, cfg.SystemBAPIKey, limiterB)

	retryPolicy := retry.Policy{MaxRetries: cfg.RetryMaxRetries, BaseDelayMs: cfg.RetryBaseDelayMs}
	systemAClient.Retry = retryPolicy
	systemBClient.Retry = retryPolicy

	conflicts := conflict.New()
	hist := history.New(store, reg)

	r := runner.New(systemAClient, systemBClient, store, conflicts, hist)
	r.BatchSize = cfg.BatchSize
	r.Strict = cfg.StrictSanitization
	r.AutoArchiveUnmatched = cfg.AutoArchiveUnmatched

	sched := scheduler.New(r, store)

	return &Engine{
		Config:    cfg,
		Store:     store,
		SystemA:   systemAClient,
		SystemB:   systemBClient,
		Conflicts: conflicts,
		History:   hist,
		Runner:    r,
		Scheduler: sched,
		limiterA:  limiterA,
		limiterB:  limiterB,
		pool:      pool,
	}, nil
}

// Close stops both rate limiters and the database pool. It does not stop
// the scheduler — callers that armed tickers must call Scheduler.StopAll
// first, since that's a lifecycle decision the Engine itself doesn't own.
func (e *Engine) Close() {
	e.limiterA.Stop()
	e.limiterB.Stop()
	e.pool.Close()
}
