// Package history implements the History/Alert sink (spec §4.10): it
// appends one HistoryEntry per finished run and emits monitoring signals
// as Prometheus metrics. Metrics are observability outputs, not control
// flow, per spec §4.10.
package history

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/relaysync/engine/internal/model"
	"github.com/relaysync/engine/internal/storage"
)

// DurationWarnThreshold is the run duration above which a success is
// still flagged with a warning signal, per spec §4.10.
const DurationWarnThreshold = 5 * time.Minute

// LargeCreationInfoThreshold is the recordsCreated count above which an
// info signal fires, per spec §4.10.
const LargeCreationInfoThreshold = 500

// Sink persists HistoryEntry rows and reports monitoring signals.
type Sink struct {
	store storage.Store

	runsTotal       *prometheus.CounterVec
	conflictsTotal  *prometheus.CounterVec
	recordsTotal    *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
}

// New registers the sink's metrics on reg. Callers own the registry — no
// package-level global registration, so multiple engines (or parallel
// tests) never collide.
func New(store storage.Store, reg *prometheus.Registry) *Sink {
	s := &Sink{
		store: store,
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaysync_runs_total",
			Help: "Count of PairRunner invocations by pair and outcome status.",
		}, []string{"pair", "status"}),
		conflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaysync_conflicts_total",
			Help: "Count of manual conflicts emitted per pair.",
		}, []string{"pair"}),
		recordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relaysync_records_total",
			Help: "Count of records created/updated/archived per pair.",
		}, []string{"pair", "action"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relaysync_run_duration_seconds",
			Help:    "Duration of PairRunner invocations per pair.",
			Buckets: prometheus.DefBuckets,
		}, []string{"pair"}),
	}
	reg.MustRegister(s.runsTotal, s.conflictsTotal, s.recordsTotal, s.runDuration)
	return s
}

// Record appends entry to storage and emits its monitoring signals. The
// busy/"second concurrent run" case never reaches Record — PairRunner
// returns before constructing a HistoryEntry for it (spec §4.8).
func (s *Sink) Record(ctx context.Context, entry model.HistoryEntry) error {
	pair := strconv.FormatInt(entry.SyncPairID, 10)

	if _, err := s.store.AppendHistory(ctx, entry); err != nil {
		return err
	}

	s.runsTotal.WithLabelValues(pair, string(entry.Status)).Inc()
	s.recordsTotal.WithLabelValues(pair, "created").Add(float64(entry.RecordsCreated))
	s.recordsTotal.WithLabelValues(pair, "updated").Add(float64(entry.RecordsUpdated))
	s.recordsTotal.WithLabelValues(pair, "archived").Add(float64(entry.RecordsArchived))
	s.conflictsTotal.WithLabelValues(pair).Add(float64(entry.ConflictsFound))
	s.runDuration.WithLabelValues(pair).Observe(float64(entry.DurationMs) / 1000)

	logger := log.With().
		Int64("syncPairId", entry.SyncPairID).
		Str("runId", entry.RunID).
		Str("status", string(entry.Status)).
		Logger()

	switch entry.Status {
	case model.HistoryError:
		logger.Error().Str("error", entry.ErrorMessage).Msg("sync run failed")
	case model.HistoryWarning:
		logger.Warn().Msg("sync run completed with warnings")
	default:
		logger.Info().Msg("sync run completed")
	}

	if entry.ConflictsFound > 0 {
		logger.Warn().Int("conflictsFound", entry.ConflictsFound).Msg("manual conflicts detected")
	}
	if time.Duration(entry.DurationMs)*time.Millisecond > DurationWarnThreshold {
		logger.Warn().Int64("durationMs", entry.DurationMs).Msg("sync run exceeded duration threshold")
	}
	if entry.RecordsCreated > LargeCreationInfoThreshold {
		logger.Info().Int("recordsCreated", entry.RecordsCreated).Msg("large creation count")
	}

	return nil
}

// Status derives the overall HistoryStatus from a run's counters and any
// terminal error, per spec §4.10 (error > warning > success).
func Status(hasError bool, conflictsFound int, durationMs int64) model.HistoryStatus {
	if hasError {
		return model.HistoryError
	}
	if conflictsFound > 0 || time.Duration(durationMs)*time.Millisecond > DurationWarnThreshold {
		return model.HistoryWarning
	}
	return model.HistorySuccess
}
