// Package model holds the data types shared across the sync engine:
// configuration rows (SyncPair, FieldMapping), the read-only projections
// from each external system (EntryA, PageB), and the engine-owned
// persistent rows (SyncedRecord, Conflict, HistoryEntry) — spec §3.
package model

import (
	"strconv"
	"time"
)

// Direction is one of the three SyncPair directions (spec §3).
type Direction string

const (
	DirectionAToB        Direction = "a_to_b"
	DirectionBToA        Direction = "b_to_a"
	DirectionBidirectional Direction = "bidirectional"
)

// EntityType enumerates the System A entity types a SyncPair's list may
// contain (spec §3's EntryA).
type EntityType string

const (
	EntityPerson      EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityOpportunity  EntityType = "opportunity"
)

// FieldMapping declares one correspondence between an A field (or virtual
// attribute, when AFieldID is negative) and a B property.
type FieldMapping struct {
	AFieldName   string
	AFieldID     int // negative ⇒ virtual field, see VirtualField below
	BPropertyName string
}

// VirtualField identifies the read-only, entity-derived A-side values a
// FieldMapping may target instead of a user-defined field (spec §3's
// FieldMapping.aFieldId: "may be negative for virtual fields").
type VirtualField int

const (
	VirtualNone VirtualField = 0
	VirtualName VirtualField = -1
	VirtualDomain VirtualField = -2
	VirtualEntityType VirtualField = -3
	VirtualListEntryID VirtualField = -4
	VirtualOwningOrgID VirtualField = -5
)

// IsVirtual reports whether a FieldMapping targets an entity-derived
// value rather than a user-defined A field.
func (m FieldMapping) IsVirtual() bool { return m.AFieldID < 0 }

func (m FieldMapping) Virtual() VirtualField { return VirtualField(m.AFieldID) }

// SyncPair is the persistent configuration linking one System A list to
// one System B database (spec §3).
type SyncPair struct {
	ID            int64
	Name          string
	ListRef       string
	DBRef         string
	Direction     Direction
	PeriodMinutes int
	FieldMappings []FieldMapping
	StatusFilters []string // empty ⇒ no filter
	StatusFieldID int       // the A field id carrying status, when StatusFilters is non-empty
	Active        bool
	LastSyncAt    *time.Time
}

// AFieldValue is one {fieldId, value} pair on an EntryA. Value is the raw
// A shape: a bare string, a map with a "text" key, or a slice of either.
type AFieldValue struct {
	FieldID int
	Value   any
}

// EntryA is a read-only projection of a System A list entry.
type EntryA struct {
	EntryID        string
	EntityID       int64
	EntityType     EntityType
	Name           string
	Domains        []string
	Fields         []AFieldValue
	OwningOrgID    int64 // 0 when not applicable
	LastModifiedAt time.Time
}

func (e EntryA) Field(fieldID int) (AFieldValue, bool) {
	for _, f := range e.Fields {
		if f.FieldID == fieldID {
			return f, true
		}
	}
	return AFieldValue{}, false
}

// BPropertyType enumerates the System B property shapes (spec §4.5).
type BPropertyType string

const (
	BTitle       BPropertyType = "title"
	BRichText    BPropertyType = "rich_text"
	BNumber      BPropertyType = "number"
	BSelect      BPropertyType = "select"
	BMultiSelect BPropertyType = "multi_select"
	BDate        BPropertyType = "date"
	BCheckbox    BPropertyType = "checkbox"
	BEmail       BPropertyType = "email"
	BURL         BPropertyType = "url"
	BPhone       BPropertyType = "phone"
)

// BProperty is one typed property value on a PageB.
type BProperty struct {
	Type         BPropertyType
	Text         string   // title, rich_text, email, url, phone
	Number       *float64 // number
	SelectName   string   // select
	MultiSelect  []string // multi_select
	DateStart    string   // date, ISO YYYY-MM-DD
	Checkbox     bool     // checkbox
}

// PageB is a read-only projection of a System B page.
type PageB struct {
	PageID       string
	ParentDBRef  string
	Properties   map[string]BProperty
	LastEditedAt time.Time
}

// AID returns the page's A_ID identity property value as a string,
// whether the schema stores it as number or rich_text, and whether it was
// present at all (spec §4.5's affinity-identity property).
func (p PageB) AID() (string, bool) {
	prop, ok := p.Properties["A_ID"]
	if !ok {
		return "", false
	}
	switch prop.Type {
	case BNumber:
		if prop.Number == nil {
			return "", false
		}
		return formatNumber(*prop.Number), true
	default:
		if prop.Text == "" {
			return "", false
		}
		return prop.Text, true
	}
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// SyncedRecord is the engine-owned join row, unique by (SyncPairID,
// AEntityID).
type SyncedRecord struct {
	SyncPairID     int64
	AEntityID      int64
	AEntityType    EntityType
	BPageID        string
	Fingerprint    string // hex sha256
	ALastModifiedAt time.Time
	BLastModifiedAt time.Time
	LastSyncedAt   time.Time
}

// ConflictStatus is the lifecycle state of a Conflict row.
type ConflictStatus string

const (
	ConflictPending  ConflictStatus = "pending"
	ConflictResolved ConflictStatus = "resolved"
	ConflictSkipped  ConflictStatus = "skipped"
)

// Resolution names which side a resolved Conflict picked.
type Resolution string

const (
	ResolutionA      Resolution = "A"
	ResolutionB      Resolution = "B"
	ResolutionManual Resolution = "manual"
)

// Conflict is a per-field divergence the engine declined to auto-resolve.
type Conflict struct {
	ID              int64
	SyncPairID      int64
	AEntityID       int64
	AEntityType     EntityType
	FieldName       string
	AValue          any
	BValue          any
	ALastModifiedAt time.Time
	BLastModifiedAt time.Time
	Status          ConflictStatus
	Resolution      Resolution
	ResolvedAt      *time.Time
}

// HistoryStatus is the outcome classification of a finished run.
type HistoryStatus string

const (
	HistorySuccess HistoryStatus = "success"
	HistoryWarning HistoryStatus = "warning"
	HistoryError   HistoryStatus = "error"
)

// HistoryEntry is an append-only record of one PairRunner invocation.
// RunID correlates this entry with the log lines the runner and
// scheduler emit for the same invocation.
type HistoryEntry struct {
	ID               int64
	RunID            string
	SyncPairID       int64
	Status           HistoryStatus
	RecordsCreated   int
	RecordsUpdated   int
	RecordsArchived  int
	ConflictsFound   int
	DurationMs       int64
	ErrorMessage     string
	Details          map[string]any
	CreatedAt        time.Time
}
