// Package systema implements SystemAClient (spec §4.3): a typed,
// rate-limited, retrying wrapper around the CRM-style "List" system. Every
// outbound call passes through a ratelimit.Limiter and a retry.Policy, per
// spec §4.1/§4.2. Writes are not supported in this generation (spec §1's
// Non-goal) — UpdateEntryFields stages the intended write and returns a
// definitive unsupported error so a future write-capable client can replay
// the staged log without a runner change.
package systema

import (
	"context"
	"time"

	"github.com/relaysync/engine/internal/model"
)

// ListEntriesOptions narrows ListEntries per spec §4.3.
type ListEntriesOptions struct {
	StatusFieldID int
	StatusValues  []string // empty ⇒ no filter
}

// Organization and Person are the enrichment projections spec §4.3 names.
type Organization struct {
	ID     int64
	Name   string
	Domain string
}

type Person struct {
	ID        int64
	Name      string
	Email     string
}

// FieldDef describes one field on a list, as returned by ListFields. It
// is not written to the a_field_cache table.
type FieldDef struct {
	ID   int
	Name string
	Type string
}

// ListDef describes one list in System A.
type ListDef struct {
	ID   string
	Name string
}

// ErrWritesUnsupported is returned by UpdateEntryFields: System A writes
// are not supported in this generation (spec §1).
type ErrWritesUnsupported struct {
	StagedCount int
}

func (e *ErrWritesUnsupported) Error() string {
	return "system a field writes are not supported in this generation"
}

// StagedWrite is one field-level write the engine would have issued to
// System A had write support been available. Logged idempotently by
// UpdateEntryFields so enabling A writes later requires no runner change
// (spec §9's open question).
type StagedWrite struct {
	EntryID   string
	EntityID  int64
	FieldID   int
	FieldName string
	Value     any
	StagedAt  time.Time
}

// Client is the narrow contract the engine depends on for System A.
type Client interface {
	ListLists(ctx context.Context) ([]ListDef, error)
	ListFields(ctx context.Context, listRef string) ([]FieldDef, error)
	ListEntries(ctx context.Context, listRef string, opt ListEntriesOptions) ([]model.EntryA, error)
	GetOrganization(ctx context.Context, id int64) (*Organization, error)
	GetPerson(ctx context.Context, id int64) (*Person, error)

	// UpdateEntryFields stages the write for later replay and always
	// returns *ErrWritesUnsupported — it must never attempt to mutate
	// or delete an A entry (spec §1, §8's never-delete-A invariant).
	UpdateEntryFields(ctx context.Context, entryID string, entityID int64, writes []StagedWrite) error
}
