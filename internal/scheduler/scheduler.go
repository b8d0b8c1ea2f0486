// Package scheduler implements the Scheduler (spec §4.9): an in-memory,
// single-process active set of per-pair tickers. Each active SyncPair
// gets its own goroutine firing at its configured period; the ticker is
// cooperative — it never dispatches a second invocation for a pair whose
// previous run has not yet finished (enforced by runner.Runner itself,
// since PairRunner already refuses concurrent runs for the same pair).
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaysync/engine/internal/model"
	"github.com/relaysync/engine/internal/runner"
	"github.com/relaysync/engine/internal/storage"
)

// DefaultPeriod applies when a SyncPair somehow carries a non-positive
// PeriodMinutes (spec §3 implies PeriodMinutes is always operator-set,
// but the scheduler must not busy-loop on a misconfigured zero).
const DefaultPeriod = 5 * time.Minute

type job struct {
	ticker *time.Ticker
	stop   chan struct{}
}

// Scheduler owns the active set of running tickers. It holds no
// scaling ambition beyond a single process (spec §1's Non-goal).
type Scheduler struct {
	runner *runner.Runner
	store  storage.Store

	mu   sync.Mutex
	jobs map[int64]*job
}

func New(r *runner.Runner, store storage.Store) *Scheduler {
	return &Scheduler{runner: r, store: store, jobs: make(map[int64]*job)}
}

// Initialize starts a ticker for every SyncPair currently marked active
// in storage, per spec §4.9's lifecycle entry point.
func (s *Scheduler) Initialize(ctx context.Context) error {
	pairs, err := s.store.ListSyncPairs(ctx)
	if err != nil {
		return err
	}
	for _, p := range pairs {
		if p.Active {
			s.Start(ctx, p)
		}
	}
	return nil
}

// Start arms a ticker for pair if one is not already running. Calling it
// twice for the same pair id is a no-op — the caller is expected to have
// checked the desired state, but the scheduler stays defensive here
// since double-arming would leak a goroutine.
func (s *Scheduler) Start(ctx context.Context, pair model.SyncPair) {
	s.mu.Lock()
	if _, exists := s.jobs[pair.ID]; exists {
		s.mu.Unlock()
		return
	}
	period := time.Duration(pair.PeriodMinutes) * time.Minute
	if period <= 0 {
		period = DefaultPeriod
	}
	j := &job{ticker: time.NewTicker(period), stop: make(chan struct{})}
	s.jobs[pair.ID] = j
	s.mu.Unlock()

	go s.loop(ctx, pair.ID, j)
}

func (s *Scheduler) loop(ctx context.Context, pairID int64, j *job) {
	for {
		select {
		case <-j.stop:
			j.ticker.Stop()
			return
		case <-j.ticker.C:
			s.dispatch(ctx, pairID)
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, pairID int64) {
	entry, err := s.runner.Run(ctx, pairID)
	switch {
	case err == nil:
		log.Info().Int64("syncPairId", pairID).Str("runId", entry.RunID).Str("status", string(entry.Status)).Msg("scheduled sync completed")
	case err == runner.ErrBusy:
		log.Warn().Int64("syncPairId", pairID).Msg("scheduled tick skipped: previous run still active")
	default:
		log.Error().Err(err).Int64("syncPairId", pairID).Msg("scheduled sync failed")
	}
}

// Stop disarms pairID's ticker, if any. The in-flight run, if one
// exists, is left to finish — Stop only prevents future ticks.
func (s *Scheduler) Stop(pairID int64) {
	s.mu.Lock()
	j, ok := s.jobs[pairID]
	if ok {
		delete(s.jobs, pairID)
	}
	s.mu.Unlock()
	if ok {
		close(j.stop)
	}
}

// StopAll disarms every ticker, for process shutdown.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.Stop(id)
	}
}

// ClearActive is the operator escape hatch of spec §4.9: it forces the
// runner's active-run set empty, unblocking a pair whose tracked run died
// without releasing its lock. It does not touch armed tickers.
func (s *Scheduler) ClearActive() {
	s.runner.ClearActive()
}
