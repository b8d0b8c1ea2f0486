// Package runner implements PairRunner (spec §4.8): it executes one sync
// of one SyncPair — A→B, B→A, or both — in batches, with cleanup. State
// machine per invocation: Idle → Loading → Mirroring → Cleanup →
// Reporting → Idle (spec §4.8).
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/relaysync/engine/internal/conflict"
	"github.com/relaysync/engine/internal/errkind"
	"github.com/relaysync/engine/internal/history"
	"github.com/relaysync/engine/internal/model"
	"github.com/relaysync/engine/internal/normalize"
	"github.com/relaysync/engine/internal/storage"
	"github.com/relaysync/engine/internal/systema"
	"github.com/relaysync/engine/internal/systemb"
)

// ErrBusy is returned when a second invocation targets a SyncPair that is
// already running, per spec §4.8's at-most-one-concurrent-per-pair rule.
var ErrBusy = errors.New("sync pair already has an active run")

// Runner executes SyncPairs. A single Runner value is shared across all
// pairs in a process; concurrency across pairs is unrestricted, but only
// one invocation per pair id may be in flight at a time.
type Runner struct {
	SystemA   systema.Client
	SystemB   systemb.Client
	Store     storage.Store
	Conflicts *conflict.Engine
	History   *history.Sink

	BatchSize            int  // default 5, spec §4.8
	Strict               bool // strictSanitization, spec §6.4
	AutoArchiveUnmatched bool // archive orphaned B pages during cleanup, spec §6.4 (default true)

	mu     sync.Mutex
	active map[int64]bool
}

func New(systemA systema.Client, systemB systemb.Client, store storage.Store, conflicts *conflict.Engine, hist *history.Sink) *Runner {
	return &Runner{
		SystemA:              systemA,
		SystemB:              systemB,
		Store:                store,
		Conflicts:            conflicts,
		History:              hist,
		BatchSize:            5,
		AutoArchiveUnmatched: true,
		active:               make(map[int64]bool),
	}
}

func (r *Runner) tryAcquire(pairID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[pairID] {
		return false
	}
	r.active[pairID] = true
	return true
}

func (r *Runner) release(pairID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, pairID)
}

// ClearActive forcibly empties the active-run set. It is an operator
// escape hatch for a run that died without releasing its lock (e.g. the
// process was killed mid-run) — never call it while a run may genuinely
// still be in flight, since that would let it overlap one just started.
func (r *Runner) ClearActive() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = make(map[int64]bool)
}

// counters accumulates a run's outcome. Per-entry work appends to it under
// mu, so a batch fanned out with errgroup can safely share one instance.
type counters struct {
	mu sync.Mutex

	recordsCreated  int
	recordsUpdated  int
	recordsArchived int
	conflictsFound  int
	warnings        []string
	recordErrors    []string
}

func (c *counters) addCreated()  { c.mu.Lock(); c.recordsCreated++; c.mu.Unlock() }
func (c *counters) addUpdated()  { c.mu.Lock(); c.recordsUpdated++; c.mu.Unlock() }
func (c *counters) addArchived() { c.mu.Lock(); c.recordsArchived++; c.mu.Unlock() }
func (c *counters) addConflicts(n int) {
	c.mu.Lock()
	c.conflictsFound += n
	c.mu.Unlock()
}
func (c *counters) addWarning(s string) { c.mu.Lock(); c.warnings = append(c.warnings, s); c.mu.Unlock() }
func (c *counters) addRecordError(s string) {
	c.mu.Lock()
	c.recordErrors = append(c.recordErrors, s)
	c.mu.Unlock()
}

// Run executes one sync of pairID. A second call while one is active
// returns ErrBusy immediately and appends nothing to History, per spec
// §4.8 and the at-most-one-concurrent-per-pair testable property (§8).
func (r *Runner) Run(ctx context.Context, pairID int64) (model.HistoryEntry, error) {
	if !r.tryAcquire(pairID) {
		return model.HistoryEntry{}, ErrBusy
	}
	defer r.release(pairID)

	start := time.Now()
	runID := uuid.New().String()

	pair, err := r.Store.GetSyncPair(ctx, pairID)
	if err != nil {
		return model.HistoryEntry{}, fmt.Errorf("load sync pair: %w", err)
	}
	if pair == nil {
		return model.HistoryEntry{}, fmt.Errorf("sync pair %d not found", pairID)
	}

	c := &counters{}
	runErr := r.runPhases(ctx, *pair, c)

	entry := model.HistoryEntry{
		RunID:           runID,
		SyncPairID:      pairID,
		RecordsCreated:  c.recordsCreated,
		RecordsUpdated:  c.recordsUpdated,
		RecordsArchived: c.recordsArchived,
		ConflictsFound:  c.conflictsFound,
		DurationMs:      time.Since(start).Milliseconds(),
		Details: map[string]any{
			"warnings":     c.warnings,
			"recordErrors": c.recordErrors,
		},
	}

	if runErr != nil {
		entry.Status = model.HistoryError
		entry.ErrorMessage = runErr.Error()
		if errkind.KindOf(runErr) == errkind.Cancellation {
			entry.Details["cancelled"] = true
		}
	} else {
		entry.Status = history.Status(false, c.conflictsFound, entry.DurationMs)
	}

	if recErr := r.History.Record(ctx, entry); recErr != nil {
		return entry, fmt.Errorf("append history: %w", recErr)
	}

	if runErr == nil {
		if err := r.Store.UpdateSyncPair(ctx, pairID, storage.SyncPairPatch{LastSyncAt: start.UTC()}); err != nil {
			return entry, fmt.Errorf("update sync pair: %w", err)
		}
	}

	return entry, runErr
}

func (r *Runner) runPhases(ctx context.Context, pair model.SyncPair, c *counters) error {
	switch pair.Direction {
	case model.DirectionAToB:
		return r.runAToB(ctx, pair, c)
	case model.DirectionBToA:
		return r.runBToA(ctx, pair, c)
	case model.DirectionBidirectional:
		if err := r.runAToB(ctx, pair, c); err != nil {
			return err
		}
		before := c.recordsArchived
		if err := r.runBToA(ctx, pair, c); err != nil {
			return err
		}
		if c.recordsArchived != before {
			// B→A must never archive — any path that did is a bug and
			// terminates the run as error (spec §4.8, §7's
			// IntegrityViolation).
			return errkind.Integrityf("runner.bidirectional", "b_to_a phase archived %d pages", c.recordsArchived-before)
		}
		return nil
	default:
		return errkind.Configf("runner.direction", "unknown direction %q", pair.Direction)
	}
}

// forEachBatch runs fn for every item in items, BatchSize at a time, each
// batch's items processed in parallel via errgroup and batches run
// serially — the ordering guarantee of spec §5: "within a batch, ordering
// among entries is unspecified... across batches serially." fn must never
// return a non-nil error for a per-item failure; it should record the
// failure into c itself, since one entry's failure must never abort its
// batch siblings (spec §4.8's failure semantics).
func forEachBatch[T any](ctx context.Context, items []T, batchSize int, fn func(ctx context.Context, item T) error) error {
	if batchSize <= 0 {
		batchSize = 5
	}
	for start := 0; start < len(items); start += batchSize {
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[start:end]

		g, gctx := errgroup.WithContext(ctx)
		for _, item := range batch {
			item := item
			g.Go(func() error {
				return fn(gctx, item)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// schemaFor resolves the live B property type for a mapping's target,
// per spec §4.5: "the runtime resolves types from live B schema." Missing
// properties are a ConfigError (spec §7).
func schemaFor(schema map[string]model.BPropertyType, propertyName string) (model.BPropertyType, error) {
	t, ok := schema[propertyName]
	if !ok {
		return "", errkind.Configf("runner.schema", "unknown b property %q", propertyName)
	}
	return t, nil
}

// resolvedValue returns the canonical A-side value a mapping contributes,
// reading virtual fields from the entry itself and ordinary fields from
// its Fields slice. Missing ordinary fields canonicalize to Empty.
func resolvedValue(e model.EntryA, m model.FieldMapping) normalize.CanonicalValue {
	if m.IsVirtual() {
		return normalize.VirtualValue(e, m.Virtual())
	}
	fv, ok := e.Field(m.AFieldID)
	if !ok {
		return normalize.Empty()
	}
	return normalize.FromARaw(fv.Value)
}
