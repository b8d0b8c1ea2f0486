package runner

import (
	"context"
	"time"

	"github.com/relaysync/engine/internal/conflict"
	"github.com/relaysync/engine/internal/model"
	"github.com/relaysync/engine/internal/normalize"
)

// evaluateFields compares every FieldMapping's A and B value for one
// (EntryA, PageB) pair, per spec §4.7. page is nil when no B page exists
// yet (e.g. a brand new A entry), in which case every B-side value
// canonicalizes to Empty and every B timestamp to the zero value.
//
// recordConflicts gates whether a manual divergence is persisted as a
// Conflict row. A bidirectional SyncPair evaluates every field twice —
// once per phase — since each phase needs its own Pick decision (A→B to
// decide what to write to B, B→A to decide what to stage to A); only the
// first pass (runAToB) should turn a manual divergence into a stored
// Conflict, or every bidirectional field disagreement would be logged
// twice.
func (r *Runner) evaluateFields(
	ctx context.Context, pair model.SyncPair, e model.EntryA, page *model.PageB,
	c *counters, recordConflicts bool,
) ([]conflict.FieldResult, error) {
	var ts, tb time.Time
	if pair.LastSyncAt != nil {
		ts = *pair.LastSyncAt
	}
	if page != nil {
		tb = page.LastEditedAt
	}

	results := make([]conflict.FieldResult, 0, len(pair.FieldMappings))
	for _, m := range pair.FieldMappings {
		va := resolvedValue(e, m)
		vb := normalize.Empty()
		if page != nil {
			if prop, ok := page.Properties[m.BPropertyName]; ok {
				vb = normalize.FromBProperty(prop)
			}
		}

		res := r.Conflicts.Evaluate(m, va, vb, pair.Direction, e.LastModifiedAt, tb, ts)
		results = append(results, res)

		if recordConflicts && !res.Equal && res.Pick == conflict.SideManual {
			row := conflict.ToConflictRow(pair.ID, e, m, va, vb, e.LastModifiedAt, tb)
			if _, err := r.Store.CreateConflict(ctx, row); err != nil {
				return nil, err
			}
			c.addConflicts(1)
		}
	}
	return results, nil
}
