package runner

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/relaysync/engine/internal/conflict"
	"github.com/relaysync/engine/internal/errkind"
	"github.com/relaysync/engine/internal/fingerprint"
	"github.com/relaysync/engine/internal/model"
	"github.com/relaysync/engine/internal/normalize"
	"github.com/relaysync/engine/internal/systema"
	"github.com/relaysync/engine/internal/systemb"
)

// aIDPropertyName is the affinity-identity property every managed B page
// carries, per spec §4.5/§6.3.
const aIDPropertyName = "A_ID"

// namePropertyCandidates are the title properties a created page's entity
// name is auto-injected into, when the B database declares one of them —
// regardless of whether any FieldMapping targets it (spec §4.8 step 5).
var namePropertyCandidates = []string{"Name", "Opportunity Name"}

// runAToB mirrors the SyncPair's A entries into B: it creates or updates
// one page per entry and, once every entry has been visited, archives any
// previously managed page whose A entity is no longer present (spec
// §4.8's A→B phase).
func (r *Runner) runAToB(ctx context.Context, pair model.SyncPair, c *counters) error {
	db, err := r.SystemB.GetDatabase(ctx, pair.DBRef)
	if err != nil {
		return err
	}
	if err := r.ensureAIDProperty(ctx, pair.DBRef, db); err != nil {
		return err
	}

	entries, err := r.SystemA.ListEntries(ctx, pair.ListRef, systema.ListEntriesOptions{
		StatusFieldID: pair.StatusFieldID,
		StatusValues:  pair.StatusFilters,
	})
	if err != nil {
		return err
	}

	pages, err := r.SystemB.QueryDatabase(ctx, pair.DBRef)
	if err != nil {
		return err
	}
	pageByAID := make(map[string]model.PageB, len(pages))
	for _, p := range pages {
		if aid, ok := p.AID(); ok {
			pageByAID[aid] = p
		}
	}

	present := make(map[int64]bool, len(entries))
	for _, e := range entries {
		present[e.EntityID] = true
	}

	err = forEachBatch(ctx, entries, r.batchSize(), func(ctx context.Context, e model.EntryA) error {
		return r.syncEntryAToB(ctx, pair, e, pageByAID, db.Properties, c)
	})
	if err != nil {
		return err
	}

	return r.cleanup(ctx, pair, pageByAID, present, c)
}

func (r *Runner) ensureAIDProperty(ctx context.Context, dbRef string, db *systemb.DatabaseDef) error {
	if _, ok := db.Properties[aIDPropertyName]; ok {
		return nil
	}
	if err := r.SystemB.AddProperty(ctx, dbRef, aIDPropertyName, model.BRichText); err != nil {
		return err
	}
	db.Properties[aIDPropertyName] = model.BRichText
	return nil
}

func (r *Runner) batchSize() int {
	if r.BatchSize <= 0 {
		return 5
	}
	return r.BatchSize
}

// syncEntryAToB handles one A entry. A fingerprint hit against the
// already-linked page short-circuits the whole comparison, per spec
// §4.6 — the common case of an unchanged entry costs one store read and
// no B calls at all.
func (r *Runner) syncEntryAToB(
	ctx context.Context, pair model.SyncPair, e model.EntryA,
	pageByAID map[string]model.PageB, schema map[string]model.BPropertyType,
	c *counters,
) error {
	fresh := fingerprint.Compute(pair.FieldMappings, func(m model.FieldMapping) normalize.CanonicalValue {
		return resolvedValue(e, m)
	})
	aidKey := strconv.FormatInt(e.EntityID, 10)
	page, hasPage := pageByAID[aidKey]

	existing, err := r.Store.GetSyncedRecord(ctx, pair.ID, e.EntityID)
	if err != nil {
		return err
	}
	if hasPage && fingerprint.Unchanged(existing, fresh) && existing.BPageID == page.PageID {
		return nil
	}

	sanitizer := &normalize.Sanitizer{Strict: r.Strict}
	var pagePtr *model.PageB
	if hasPage {
		pagePtr = &page
	}

	results, err := r.evaluateFields(ctx, pair, e, pagePtr, c, true)
	if err != nil {
		return err
	}

	// A manual conflict blocks mirroring for the whole record, not just the
	// conflicted field — a partial write of the record's other, clean
	// fields is exactly the silent drift spec §4.7 step 4 forbids. Leave
	// the stored fingerprint untouched so the next run re-evaluates this
	// record instead of fast-pathing past it.
	if hasManualConflict(results) {
		return nil
	}

	properties := map[string]model.BProperty{}
	for _, res := range results {
		if res.Equal || res.Pick != conflict.SideA {
			continue
		}
		bType, err := schemaFor(schema, res.Mapping.BPropertyName)
		if err != nil {
			c.addRecordError(fmt.Sprintf("entity %d: %v", e.EntityID, err))
			continue
		}
		properties[res.Mapping.BPropertyName] = normalize.ToBProperty(res.VA, bType, sanitizer)
	}
	// Sanitization warnings are reported in the run's details.
	for _, w := range sanitizer.Warnings {
		c.addWarning(fmt.Sprintf("entity %d: %s", e.EntityID, w))
	}

	var resultPage *model.PageB
	switch {
	case !hasPage:
		aidType, err := schemaFor(schema, aIDPropertyName)
		if err != nil {
			return err
		}
		properties[aIDPropertyName] = normalize.ToBProperty(normalize.Text(aidKey), aidType, sanitizer)
		injectEntityName(properties, schema, e, sanitizer)

		created, err := r.SystemB.CreatePage(ctx, pair.DBRef, properties)
		if err != nil {
			if isRecordLevel(err) {
				c.addRecordError(fmt.Sprintf("entity %d: create page: %v", e.EntityID, err))
				return nil
			}
			return err
		}
		resultPage = created
		c.addCreated()

	case len(properties) > 0:
		updated, err := r.SystemB.UpdatePage(ctx, page.PageID, properties)
		if err != nil {
			if isRecordLevel(err) {
				c.addRecordError(fmt.Sprintf("entity %d: update page: %v", e.EntityID, err))
				return nil
			}
			return err
		}
		resultPage = updated
		c.addUpdated()

	default:
		resultPage = &page
	}

	row := model.SyncedRecord{
		SyncPairID:      pair.ID,
		AEntityID:       e.EntityID,
		AEntityType:     e.EntityType,
		BPageID:         resultPage.PageID,
		Fingerprint:     fresh,
		ALastModifiedAt: e.LastModifiedAt,
		BLastModifiedAt: resultPage.LastEditedAt,
		LastSyncedAt:    time.Now().UTC(),
	}
	return r.Store.UpsertSyncedRecord(ctx, row)
}

// hasManualConflict reports whether any field in results landed on
// conflict.SideManual — the trigger for skipping mirroring of the entire
// record, per spec §4.8 step 5.
func hasManualConflict(results []conflict.FieldResult) bool {
	for _, res := range results {
		if !res.Equal && res.Pick == conflict.SideManual {
			return true
		}
	}
	return false
}

// injectEntityName sets properties[titleProp] to e's name when the B
// schema declares a Name/Opportunity Name title property and no explicit
// FieldMapping already populated it — createPage must always carry the
// entity's name on its title property, per spec §4.8 step 5.
func injectEntityName(properties map[string]model.BProperty, schema map[string]model.BPropertyType, e model.EntryA, sanitizer *normalize.Sanitizer) {
	for _, candidate := range namePropertyCandidates {
		if _, ok := properties[candidate]; ok {
			return
		}
		if t, ok := schema[candidate]; ok && t == model.BTitle {
			properties[candidate] = normalize.ToBProperty(normalize.Text(e.Name), model.BTitle, sanitizer)
			return
		}
	}
}

// cleanup archives every managed page whose A entity dropped out of the
// current entry set — the only case in which the engine removes a B page
// of its own accord (spec §4.8 step 6, §1's orphan cleanup policy). It is
// driven by pageByAID, the live "managed" set built in runAToB, not by
// Storage — a page tagged A_ID out of band, or one whose SyncedRecord
// upsert failed after a prior run's createPage succeeded, must still be
// archived. A never loses a record this way: archival is strictly B-side.
// autoArchiveUnmatched (spec §6.4) gates the whole pass off when disabled.
func (r *Runner) cleanup(ctx context.Context, pair model.SyncPair, pageByAID map[string]model.PageB, present map[int64]bool, c *counters) error {
	if !r.AutoArchiveUnmatched {
		return nil
	}
	for aidKey, page := range pageByAID {
		entityID, err := strconv.ParseInt(aidKey, 10, 64)
		if err != nil {
			continue
		}
		if present[entityID] {
			continue
		}
		if err := r.SystemB.ArchivePage(ctx, page.PageID); err != nil {
			if isRecordLevel(err) {
				c.addRecordError(fmt.Sprintf("archive page %s (entity %d): %v", page.PageID, entityID, err))
				continue
			}
			return err
		}
		if err := r.Store.DeleteSyncedRecord(ctx, pair.ID, entityID); err != nil {
			return err
		}
		c.addArchived()
	}
	return nil
}

// isRecordLevel reports whether err should be logged against a single
// record (and the batch/run continue) rather than aborting the run, per
// spec §7's error taxonomy.
func isRecordLevel(err error) bool {
	switch errkind.KindOf(err) {
	case errkind.NonRetryable, errkind.Config:
		return true
	default:
		return false
	}
}
