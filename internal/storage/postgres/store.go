package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaysync/engine/internal/model"
	"github.com/relaysync/engine/internal/storage"
)

// Store implements storage.Store over a shared pgxpool.Pool, adapted from
// the teacher's upsert-then-read-back transaction pattern
// (TaskListService.PushTaskListItem) to the engine's own row shapes.
type Store struct {
	Pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store { return &Store{Pool: pool} }

var _ storage.Store = (*Store)(nil)

func (s *Store) GetSyncPair(ctx context.Context, id int64) (*model.SyncPair, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, name, list_ref, db_ref, direction, period_minutes,
		       field_mappings, status_filters, status_field_id, active, last_sync_at
		FROM sync_pair WHERE id = $1
	`, id)
	p, err := scanSyncPair(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (s *Store) ListSyncPairs(ctx context.Context) ([]model.SyncPair, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, name, list_ref, db_ref, direction, period_minutes,
		       field_mappings, status_filters, status_field_id, active, last_sync_at
		FROM sync_pair
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SyncPair
	for rows.Next() {
		p, err := scanSyncPair(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSyncPair(row rowScanner) (*model.SyncPair, error) {
	var p model.SyncPair
	var mappingsJSON, filtersJSON []byte
	if err := row.Scan(
		&p.ID, &p.Name, &p.ListRef, &p.DBRef, &p.Direction, &p.PeriodMinutes,
		&mappingsJSON, &filtersJSON, &p.StatusFieldID, &p.Active, &p.LastSyncAt,
	); err != nil {
		return nil, err
	}
	if len(mappingsJSON) > 0 {
		if err := json.Unmarshal(mappingsJSON, &p.FieldMappings); err != nil {
			return nil, err
		}
	}
	if len(filtersJSON) > 0 {
		if err := json.Unmarshal(filtersJSON, &p.StatusFilters); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

// UpdateSyncPair only ever sets LastSyncAt — the sole column the engine
// is permitted to mutate (spec §6.1).
func (s *Store) UpdateSyncPair(ctx context.Context, id int64, patch storage.SyncPairPatch) error {
	_, err := s.Pool.Exec(ctx, `UPDATE sync_pair SET last_sync_at = $2 WHERE id = $1`, id, patch.LastSyncAt)
	return err
}

func (s *Store) GetSyncedRecord(ctx context.Context, pairID, aEntityID int64) (*model.SyncedRecord, error) {
	var r model.SyncedRecord
	err := s.Pool.QueryRow(ctx, `
		SELECT sync_pair_id, a_entity_id, a_entity_type, b_page_id, fingerprint,
		       a_last_modified_at, b_last_modified_at, last_synced_at
		FROM synced_record WHERE sync_pair_id = $1 AND a_entity_id = $2
	`, pairID, aEntityID).Scan(
		&r.SyncPairID, &r.AEntityID, &r.AEntityType, &r.BPageID, &r.Fingerprint,
		&r.ALastModifiedAt, &r.BLastModifiedAt, &r.LastSyncedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// UpsertSyncedRecord inserts or replaces the row for (SyncPairID,
// AEntityID) — the unique key spec §3 declares for SyncedRecord.
func (s *Store) UpsertSyncedRecord(ctx context.Context, row model.SyncedRecord) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO synced_record
			(sync_pair_id, a_entity_id, a_entity_type, b_page_id, fingerprint,
			 a_last_modified_at, b_last_modified_at, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (sync_pair_id, a_entity_id) DO UPDATE SET
			a_entity_type      = EXCLUDED.a_entity_type,
			b_page_id          = EXCLUDED.b_page_id,
			fingerprint        = EXCLUDED.fingerprint,
			a_last_modified_at = EXCLUDED.a_last_modified_at,
			b_last_modified_at = EXCLUDED.b_last_modified_at,
			last_synced_at     = EXCLUDED.last_synced_at
	`, row.SyncPairID, row.AEntityID, row.AEntityType, row.BPageID, row.Fingerprint,
		row.ALastModifiedAt, row.BLastModifiedAt, row.LastSyncedAt)
	return err
}

func (s *Store) DeleteSyncedRecord(ctx context.Context, pairID, aEntityID int64) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM synced_record WHERE sync_pair_id = $1 AND a_entity_id = $2`, pairID, aEntityID)
	return err
}

func (s *Store) ListSyncedRecords(ctx context.Context, pairID int64) ([]model.SyncedRecord, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT sync_pair_id, a_entity_id, a_entity_type, b_page_id, fingerprint,
		       a_last_modified_at, b_last_modified_at, last_synced_at
		FROM synced_record WHERE sync_pair_id = $1
	`, pairID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SyncedRecord
	for rows.Next() {
		var r model.SyncedRecord
		if err := rows.Scan(
			&r.SyncPairID, &r.AEntityID, &r.AEntityType, &r.BPageID, &r.Fingerprint,
			&r.ALastModifiedAt, &r.BLastModifiedAt, &r.LastSyncedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) CreateConflict(ctx context.Context, row model.Conflict) (int64, error) {
	aJSON, err := json.Marshal(row.AValue)
	if err != nil {
		return 0, err
	}
	bJSON, err := json.Marshal(row.BValue)
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.Pool.QueryRow(ctx, `
		INSERT INTO conflict
			(sync_pair_id, a_entity_id, a_entity_type, field_name, a_value, b_value,
			 a_last_modified_at, b_last_modified_at, status, resolution, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`, row.SyncPairID, row.AEntityID, row.AEntityType, row.FieldName, aJSON, bJSON,
		row.ALastModifiedAt, row.BLastModifiedAt, row.Status, nullableResolution(row.Resolution), row.ResolvedAt,
	).Scan(&id)
	return id, err
}

func nullableResolution(r model.Resolution) *string {
	if r == "" {
		return nil
	}
	s := string(r)
	return &s
}

func (s *Store) ListConflicts(ctx context.Context, pairID int64) ([]model.Conflict, error) {
	return s.queryConflicts(ctx, `
		SELECT id, sync_pair_id, a_entity_id, a_entity_type, field_name, a_value, b_value,
		       a_last_modified_at, b_last_modified_at, status, resolution, resolved_at
		FROM conflict WHERE ($1 = 0 OR sync_pair_id = $1)
	`, pairID)
}

func (s *Store) ListPendingConflicts(ctx context.Context, pairID int64) ([]model.Conflict, error) {
	return s.queryConflicts(ctx, `
		SELECT id, sync_pair_id, a_entity_id, a_entity_type, field_name, a_value, b_value,
		       a_last_modified_at, b_last_modified_at, status, resolution, resolved_at
		FROM conflict WHERE status = 'pending' AND ($1 = 0 OR sync_pair_id = $1)
	`, pairID)
}

func (s *Store) queryConflicts(ctx context.Context, sql string, pairID int64) ([]model.Conflict, error) {
	rows, err := s.Pool.Query(ctx, sql, pairID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Conflict
	for rows.Next() {
		var c model.Conflict
		var aJSON, bJSON []byte
		var resolution *string
		if err := rows.Scan(
			&c.ID, &c.SyncPairID, &c.AEntityID, &c.AEntityType, &c.FieldName, &aJSON, &bJSON,
			&c.ALastModifiedAt, &c.BLastModifiedAt, &c.Status, &resolution, &c.ResolvedAt,
		); err != nil {
			return nil, err
		}
		if len(aJSON) > 0 {
			_ = json.Unmarshal(aJSON, &c.AValue)
		}
		if len(bJSON) > 0 {
			_ = json.Unmarshal(bJSON, &c.BValue)
		}
		if resolution != nil {
			c.Resolution = model.Resolution(*resolution)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ResolveConflict(ctx context.Context, id int64, pick model.Resolution) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE conflict SET status = 'resolved', resolution = $2, resolved_at = now() WHERE id = $1
	`, id, string(pick))
	return err
}

func (s *Store) DeleteConflict(ctx context.Context, id int64) error {
	_, err := s.Pool.Exec(ctx, `DELETE FROM conflict WHERE id = $1`, id)
	return err
}

func (s *Store) AppendHistory(ctx context.Context, row model.HistoryEntry) (int64, error) {
	detailsJSON, err := json.Marshal(row.Details)
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.Pool.QueryRow(ctx, `
		INSERT INTO sync_history
			(run_id, sync_pair_id, status, records_created, records_updated, records_archived,
			 conflicts_found, duration_ms, error_message, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, row.RunID, row.SyncPairID, row.Status, row.RecordsCreated, row.RecordsUpdated, row.RecordsArchived,
		row.ConflictsFound, row.DurationMs, nullableString(row.ErrorMessage), detailsJSON,
	).Scan(&id)
	return id, err
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *Store) ListHistory(ctx context.Context, pairID int64, limit int) ([]model.HistoryEntry, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, run_id, sync_pair_id, status, records_created, records_updated, records_archived,
		       conflicts_found, duration_ms, error_message, details, created_at
		FROM sync_history WHERE sync_pair_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, pairID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.HistoryEntry
	for rows.Next() {
		var h model.HistoryEntry
		var detailsJSON []byte
		var errMsg *string
		if err := rows.Scan(
			&h.ID, &h.RunID, &h.SyncPairID, &h.Status, &h.RecordsCreated, &h.RecordsUpdated, &h.RecordsArchived,
			&h.ConflictsFound, &h.DurationMs, &errMsg, &detailsJSON, &h.CreatedAt,
		); err != nil {
			return nil, err
		}
		if errMsg != nil {
			h.ErrorMessage = *errMsg
		}
		if len(detailsJSON) > 0 {
			_ = json.Unmarshal(detailsJSON, &h.Details)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
