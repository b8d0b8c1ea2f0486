// Package conflict implements ConflictEngine (spec §4.7): per-field
// divergence detection between a shared (EntryA, PageB) pair, automatic
// resolution by direction and timestamp, and manual Conflict emission
// when auto-resolution declines to pick a side.
package conflict

import (
	"time"

	"github.com/relaysync/engine/internal/model"
	"github.com/relaysync/engine/internal/normalize"
)

// Side names which value canonical form won a field-level comparison.
type Side int

const (
	SideNone Side = iota
	SideA
	SideB
	SideManual
)

// FieldResult is the outcome of comparing one FieldMapping's A and B
// values.
type FieldResult struct {
	Mapping  model.FieldMapping
	VA, VB   normalize.CanonicalValue
	Equal    bool
	Pick     Side // only meaningful when !Equal
}

// Engine applies the auto-resolution rules of spec §4.7.
type Engine struct{}

func New() *Engine { return &Engine{} }

// Evaluate compares va against vb for one mapping. Equality short-circuits
// to Equal=true with Pick=SideNone (spec §4.7 step 2). Otherwise Resolve
// determines Pick per the SyncPair's direction and timestamps (step 3).
func (e *Engine) Evaluate(
	mapping model.FieldMapping,
	va, vb normalize.CanonicalValue,
	direction model.Direction,
	aLastModifiedAt, bLastEditedAt, lastSyncAt time.Time,
) FieldResult {
	if va.Equal(vb) {
		return FieldResult{Mapping: mapping, VA: va, VB: vb, Equal: true}
	}

	pick := Resolve(direction, aLastModifiedAt, bLastEditedAt, lastSyncAt)
	return FieldResult{Mapping: mapping, VA: va, VB: vb, Equal: false, Pick: pick}
}

// Resolve implements the auto-resolution decision table from spec §4.7
// step 3, deterministically for any (direction, ta, tb, ts) per the
// auto-resolution-determinism testable property (spec §8).
func Resolve(direction model.Direction, ta, tb, ts time.Time) Side {
	switch direction {
	case model.DirectionAToB:
		return SideA
	case model.DirectionBToA:
		return SideB
	}

	aChanged := ta.After(ts)
	bChanged := tb.After(ts)

	switch {
	case aChanged && !bChanged:
		return SideA
	case bChanged && !aChanged:
		return SideB
	case aChanged && bChanged:
		if ta.After(tb) {
			return SideA
		}
		if tb.After(ta) {
			return SideB
		}
		// Exactly equal: manual, per spec §4.7 step 3.
		return SideManual
	default:
		// Neither side changed since the last sync but the values still
		// differ: drift from an unknown source. Do not guess.
		return SideManual
	}
}

// ToConflictRow builds the persisted Conflict row for a manual field
// divergence (spec §3's Conflict, §4.7 step 4).
func ToConflictRow(
	pairID int64, e model.EntryA, mapping model.FieldMapping,
	va, vb normalize.CanonicalValue, aLastModifiedAt, bLastEditedAt time.Time,
) model.Conflict {
	return model.Conflict{
		SyncPairID:      pairID,
		AEntityID:       e.EntityID,
		AEntityType:     e.EntityType,
		FieldName:       mapping.BPropertyName,
		AValue:          normalize.ToARaw(va),
		BValue:          normalize.ToARaw(vb),
		ALastModifiedAt: aLastModifiedAt,
		BLastModifiedAt: bLastEditedAt,
		Status:          model.ConflictPending,
	}
}
