// Package storage declares the persistence contract the engine consumes
// (spec §6.1). Concrete implementations live in subpackages: memstore for
// tests and single-process dev use, postgres for the production layout
// described in spec §6.5.
package storage

import (
	"context"
	"time"

	"github.com/relaysync/engine/internal/model"
)

// SyncPairPatch is applied by UpdateSyncPair. Only LastSyncAt is ever set
// by the engine itself (spec §6.1); other fields are mutated only by the
// external API collaborator writing directly to the same rows.
type SyncPairPatch struct {
	LastSyncAt time.Time
}

// Store is the persistence contract consumed by the engine.
type Store interface {
	GetSyncPair(ctx context.Context, id int64) (*model.SyncPair, error)
	ListSyncPairs(ctx context.Context) ([]model.SyncPair, error)
	UpdateSyncPair(ctx context.Context, id int64, patch SyncPairPatch) error

	GetSyncedRecord(ctx context.Context, pairID, aEntityID int64) (*model.SyncedRecord, error)
	UpsertSyncedRecord(ctx context.Context, row model.SyncedRecord) error
	DeleteSyncedRecord(ctx context.Context, pairID, aEntityID int64) error
	ListSyncedRecords(ctx context.Context, pairID int64) ([]model.SyncedRecord, error)

	CreateConflict(ctx context.Context, row model.Conflict) (int64, error)
	ListConflicts(ctx context.Context, pairID int64) ([]model.Conflict, error)
	ListPendingConflicts(ctx context.Context, pairID int64) ([]model.Conflict, error)
	ResolveConflict(ctx context.Context, id int64, pick model.Resolution) error
	DeleteConflict(ctx context.Context, id int64) error

	AppendHistory(ctx context.Context, row model.HistoryEntry) (int64, error)
	ListHistory(ctx context.Context, pairID int64, limit int) ([]model.HistoryEntry, error)
}
