// Package fingerprint implements FingerprintStore (spec §4.6): it
// computes a content hash of the mapped field subset of an EntryA and
// compares it against the last-persisted SyncedRecord to answer the
// "changed?" question in O(1) without re-fetching or re-diffing B.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/relaysync/engine/internal/model"
	"github.com/relaysync/engine/internal/normalize"
)

// ValueOf resolves the canonical value a FieldMapping should contribute to
// the fingerprint — ordinary A fields and virtual fields alike.
type ValueOf func(m model.FieldMapping) normalize.CanonicalValue

// Compute hashes the canonicalized mapped field subset. The
// canonicalization sorts mapping keys by AFieldID (then AFieldName) and
// emits "[{aFieldId:aFieldName:canonicalValue},...]" as a stable textual
// encoding, per spec
// §4.6 — unrelated A fields never enter the encoding, so they cannot
// invalidate the fingerprint.
func Compute(mappings []model.FieldMapping, valueOf ValueOf) string {
	sorted := make([]model.FieldMapping, len(mappings))
	copy(sorted, mappings)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].AFieldID != sorted[j].AFieldID {
			return sorted[i].AFieldID < sorted[j].AFieldID
		}
		return sorted[i].AFieldName < sorted[j].AFieldName
	})

	var b strings.Builder
	b.WriteByte('[')
	for i, m := range sorted {
		if i > 0 {
			b.WriteByte(',')
		}
		v := valueOf(m)
		b.WriteByte('{')
		b.WriteString(strconv.Itoa(m.AFieldID))
		b.WriteByte(':')
		b.WriteString(m.AFieldName)
		b.WriteByte(':')
		b.WriteString(v.CanonicalText())
		b.WriteByte('}')
	}
	b.WriteByte(']')

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Unchanged reports whether a freshly computed fingerprint matches the
// one stored on an existing SyncedRecord — a hit means the A side of the
// mapped subset has not changed since the last sync (spec §4.6).
func Unchanged(existing *model.SyncedRecord, fresh string) bool {
	return existing != nil && existing.Fingerprint == fresh
}
