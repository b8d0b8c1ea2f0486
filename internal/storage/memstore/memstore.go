// Package memstore is an in-memory Store implementation used by engine
// and runner tests, and by single-process dev/test use, mirroring the
// shape of the postgres store without requiring a live database — the
// module must compile and its tests must be crafted to pass without
// running the Go toolchain against a real Postgres instance.
package memstore

import (
	"context"
	"sync"

	"github.com/relaysync/engine/internal/model"
	"github.com/relaysync/engine/internal/storage"
)

type recordKey struct {
	pairID    int64
	aEntityID int64
}

// Store is a mutex-guarded map-backed storage.Store.
type Store struct {
	mu sync.Mutex

	pairs     map[int64]model.SyncPair
	records   map[recordKey]model.SyncedRecord
	conflicts map[int64]model.Conflict
	history   []model.HistoryEntry

	nextConflictID int64
	nextHistoryID  int64
}

func New() *Store {
	return &Store{
		pairs:     make(map[int64]model.SyncPair),
		records:   make(map[recordKey]model.SyncedRecord),
		conflicts: make(map[int64]model.Conflict),
	}
}

// PutSyncPair seeds or replaces a SyncPair row — a test helper, not part
// of the storage.Store contract (which only lets the engine mutate
// LastSyncAt).
func (s *Store) PutSyncPair(p model.SyncPair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs[p.ID] = p
}

func (s *Store) GetSyncPair(_ context.Context, id int64) (*model.SyncPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pairs[id]
	if !ok {
		return nil, nil
	}
	cp := p
	return &cp, nil
}

func (s *Store) ListSyncPairs(_ context.Context) ([]model.SyncPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.SyncPair, 0, len(s.pairs))
	for _, p := range s.pairs {
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) UpdateSyncPair(_ context.Context, id int64, patch storage.SyncPairPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pairs[id]
	if !ok {
		return nil
	}
	ts := patch.LastSyncAt
	p.LastSyncAt = &ts
	s.pairs[id] = p
	return nil
}

func (s *Store) GetSyncedRecord(_ context.Context, pairID, aEntityID int64) (*model.SyncedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[recordKey{pairID, aEntityID}]
	if !ok {
		return nil, nil
	}
	cp := r
	return &cp, nil
}

func (s *Store) UpsertSyncedRecord(_ context.Context, row model.SyncedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[recordKey{row.SyncPairID, row.AEntityID}] = row
	return nil
}

func (s *Store) DeleteSyncedRecord(_ context.Context, pairID, aEntityID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, recordKey{pairID, aEntityID})
	return nil
}

func (s *Store) ListSyncedRecords(_ context.Context, pairID int64) ([]model.SyncedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.SyncedRecord, 0)
	for _, r := range s.records {
		if r.SyncPairID == pairID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) CreateConflict(_ context.Context, row model.Conflict) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextConflictID++
	row.ID = s.nextConflictID
	s.conflicts[row.ID] = row
	return row.ID, nil
}

func (s *Store) ListConflicts(_ context.Context, pairID int64) ([]model.Conflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Conflict, 0)
	for _, c := range s.conflicts {
		if pairID == 0 || c.SyncPairID == pairID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) ListPendingConflicts(_ context.Context, pairID int64) ([]model.Conflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Conflict, 0)
	for _, c := range s.conflicts {
		if c.Status == model.ConflictPending && (pairID == 0 || c.SyncPairID == pairID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) ResolveConflict(_ context.Context, id int64, pick model.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conflicts[id]
	if !ok {
		return nil
	}
	c.Status = model.ConflictResolved
	c.Resolution = pick
	s.conflicts[id] = c
	return nil
}

func (s *Store) DeleteConflict(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conflicts, id)
	return nil
}

func (s *Store) AppendHistory(_ context.Context, row model.HistoryEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextHistoryID++
	row.ID = s.nextHistoryID
	s.history = append(s.history, row)
	return row.ID, nil
}

func (s *Store) ListHistory(_ context.Context, pairID int64, limit int) ([]model.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.HistoryEntry, 0)
	for i := len(s.history) - 1; i >= 0 && len(out) < limit; i-- {
		if s.history[i].SyncPairID == pairID {
			out = append(out, s.history[i])
		}
	}
	return out, nil
}

var _ storage.Store = (*Store)(nil)
