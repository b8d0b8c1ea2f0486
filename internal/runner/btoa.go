package runner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/relaysync/engine/internal/conflict"
	"github.com/relaysync/engine/internal/model"
	"github.com/relaysync/engine/internal/normalize"
	"github.com/relaysync/engine/internal/systema"
)

// runBToA stages A-field writes for B pages whose field values have
// diverged from A in B's favor, per spec §4.8's B→A phase. It never
// creates, deletes, or archives anything — a page whose A_ID no longer
// resolves to a live entry is logged and left untouched (spec §1's
// never-create/delete-A Non-goal, §8's safety invariant).
func (r *Runner) runBToA(ctx context.Context, pair model.SyncPair, c *counters) error {
	entries, err := r.SystemA.ListEntries(ctx, pair.ListRef, systema.ListEntriesOptions{
		StatusFieldID: pair.StatusFieldID,
		StatusValues:  pair.StatusFilters,
	})
	if err != nil {
		return err
	}
	entryByID := make(map[int64]model.EntryA, len(entries))
	for _, e := range entries {
		entryByID[e.EntityID] = e
	}

	if _, err := r.SystemB.GetDatabase(ctx, pair.DBRef); err != nil {
		return err
	}

	pages, err := r.SystemB.QueryDatabase(ctx, pair.DBRef)
	if err != nil {
		return err
	}

	return forEachBatch(ctx, pages, r.batchSize(), func(ctx context.Context, page model.PageB) error {
		return r.syncPageToA(ctx, pair, page, entryByID, c)
	})
}

func (r *Runner) syncPageToA(
	ctx context.Context, pair model.SyncPair, page model.PageB,
	entryByID map[int64]model.EntryA,
	c *counters,
) error {
	aidText, ok := page.AID()
	if !ok {
		c.addWarning(fmt.Sprintf("page %s has no %s value, skipped", page.PageID, aIDPropertyName))
		return nil
	}
	aid, err := strconv.ParseInt(aidText, 10, 64)
	if err != nil {
		c.addWarning(fmt.Sprintf("page %s has non-numeric %s %q, skipped", page.PageID, aIDPropertyName, aidText))
		return nil
	}
	e, ok := entryByID[aid]
	if !ok {
		c.addWarning(fmt.Sprintf("page %s references entity %d, no longer present in a, skipped", page.PageID, aid))
		return nil
	}

	results, err := r.evaluateFields(ctx, pair, e, &page, c, pair.Direction != model.DirectionBidirectional)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	var writes []systema.StagedWrite
	for _, res := range results {
		if res.Equal || res.Pick != conflict.SideB || res.Mapping.IsVirtual() {
			continue
		}
		writes = append(writes, systema.StagedWrite{
			EntryID:   e.EntryID,
			EntityID:  e.EntityID,
			FieldID:   res.Mapping.AFieldID,
			FieldName: res.Mapping.AFieldName,
			Value:     normalize.ToARaw(res.VB),
			StagedAt:  now,
		})
	}
	if len(writes) == 0 {
		return nil
	}

	err = r.SystemA.UpdateEntryFields(ctx, e.EntryID, e.EntityID, writes)
	var unsupported *systema.ErrWritesUnsupported
	if errors.As(err, &unsupported) {
		// Staged for future replay, per spec §1/§9 — counts as handled.
		c.addUpdated()
		return nil
	}
	if err != nil {
		if isRecordLevel(err) {
			c.addRecordError(fmt.Sprintf("entity %d: stage a write: %v", e.EntityID, err))
			return nil
		}
		return err
	}
	c.addUpdated()
	return nil
}
