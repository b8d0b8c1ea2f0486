package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/relaysync/engine/internal/conflict"
	"github.com/relaysync/engine/internal/history"
	"github.com/relaysync/engine/internal/model"
	"github.com/relaysync/engine/internal/storage/memstore"
	"github.com/relaysync/engine/internal/systema"
	"github.com/relaysync/engine/internal/systemb"
)

// fakeA is a scriptable systema.Client for runner tests. ListEntries
// returns the scripted entries and UpdateEntryFields records the staged
// writes; every other method returns empty results.
type fakeA struct {
	mu      sync.Mutex
	entries []model.EntryA
	writes  []systema.StagedWrite
}

func (f *fakeA) ListLists(context.Context) ([]systema.ListDef, error) { return nil, nil }
func (f *fakeA) ListFields(context.Context, string) ([]systema.FieldDef, error) { return nil, nil }

func (f *fakeA) ListEntries(context.Context, string, systema.ListEntriesOptions) ([]model.EntryA, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.EntryA, len(f.entries))
	copy(out, f.entries)
	return out, nil
}

func (f *fakeA) GetOrganization(context.Context, int64) (*systema.Organization, error) { return nil, nil }
func (f *fakeA) GetPerson(context.Context, int64) (*systema.Person, error)             { return nil, nil }

func (f *fakeA) UpdateEntryFields(_ context.Context, entryID string, entityID int64, writes []systema.StagedWrite) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, writes...)
	return &systema.ErrWritesUnsupported{StagedCount: len(writes)}
}

// fakeB is a scriptable systemb.Client backed by an in-memory page table.
type fakeB struct {
	mu         sync.Mutex
	db         systemb.DatabaseDef
	pages      map[string]model.PageB
	nextPageID int
	archived   map[string]bool
}

func newFakeB(dbRef string, properties map[string]model.BPropertyType) *fakeB {
	return &fakeB{
		db:       systemb.DatabaseDef{ID: dbRef, Name: dbRef, Properties: properties},
		pages:    make(map[string]model.PageB),
		archived: make(map[string]bool),
	}
}

func (f *fakeB) ListDatabases(context.Context) ([]systemb.DatabaseDef, error) { return nil, nil }

func (f *fakeB) GetDatabase(context.Context, string) (*systemb.DatabaseDef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := f.db
	props := make(map[string]model.BPropertyType, len(f.db.Properties))
	for k, v := range f.db.Properties {
		props[k] = v
	}
	cp.Properties = props
	return &cp, nil
}

func (f *fakeB) QueryDatabase(context.Context, string) ([]model.PageB, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.PageB, 0, len(f.pages))
	for _, p := range f.pages {
		if !f.archived[p.PageID] {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeB) CreatePage(_ context.Context, dbRef string, properties map[string]model.BProperty) (*model.PageB, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextPageID++
	id := "page-" + time.Now().UTC().Format("150405") + "-" + itoa(f.nextPageID)
	page := model.PageB{PageID: id, ParentDBRef: dbRef, Properties: properties, LastEditedAt: time.Now().UTC()}
	f.pages[id] = page
	return &page, nil
}

func (f *fakeB) UpdatePage(_ context.Context, pageID string, properties map[string]model.BProperty) (*model.PageB, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	page, ok := f.pages[pageID]
	if !ok {
		page = model.PageB{PageID: pageID, Properties: map[string]model.BProperty{}}
	}
	for k, v := range properties {
		page.Properties[k] = v
	}
	page.LastEditedAt = time.Now().UTC()
	f.pages[pageID] = page
	return &page, nil
}

func (f *fakeB) ArchivePage(_ context.Context, pageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archived[pageID] = true
	return nil
}

func (f *fakeB) AddProperty(_ context.Context, _ string, name string, propType model.BPropertyType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.db.Properties[name] = propType
	return nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

func newTestRunner(a systema.Client, b systemb.Client, store *memstore.Store) *Runner {
	sink := history.New(store, prometheus.NewRegistry())
	return New(a, b, store, conflict.New(), sink)
}

func entry(id int64, name string) model.EntryA {
	return model.EntryA{
		EntryID:        "entry-" + itoa(int(id)),
		EntityID:       id,
		EntityType:     model.EntityPerson,
		Name:           name,
		Fields:         []model.AFieldValue{{FieldID: 1, Value: name}},
		LastModifiedAt: time.Now().UTC(),
	}
}

func basePair(id int64, dir model.Direction) model.SyncPair {
	return model.SyncPair{
		ID:        id,
		Name:      "test pair",
		ListRef:   "list-1",
		DBRef:     "db-1",
		Direction: dir,
		Active:    true,
		FieldMappings: []model.FieldMapping{
			{AFieldID: 1, AFieldName: "name_field", BPropertyName: "Name"},
		},
	}
}

// TestRunner_CreateThenSkip covers the create-then-skip scenario: a new A
// entry is mirrored into a fresh B page, and an immediate second run finds
// nothing changed and makes no B calls.
func TestRunner_CreateThenSkip(t *testing.T) {
	store := memstore.New()
	pair := basePair(1, model.DirectionAToB)
	store.PutSyncPair(pair)

	a := &fakeA{entries: []model.EntryA{entry(100, "Ada Lovelace")}}
	b := newFakeB("db-1", map[string]model.BPropertyType{"Name": model.BTitle})
	r := newTestRunner(a, b, store)

	ctx := context.Background()
	first, err := r.Run(ctx, pair.ID)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.RecordsCreated != 1 {
		t.Fatalf("first run RecordsCreated = %d, want 1", first.RecordsCreated)
	}
	if len(b.pages) != 1 {
		t.Fatalf("expected 1 page created, got %d", len(b.pages))
	}

	second, err := r.Run(ctx, pair.ID)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.RecordsCreated != 0 || second.RecordsUpdated != 0 {
		t.Fatalf("second run should be a no-op, got created=%d updated=%d", second.RecordsCreated, second.RecordsUpdated)
	}
}

// TestRunner_MirrorUpdate covers an A-side field change propagating to an
// already-linked B page.
func TestRunner_MirrorUpdate(t *testing.T) {
	store := memstore.New()
	pair := basePair(2, model.DirectionAToB)
	store.PutSyncPair(pair)

	a := &fakeA{entries: []model.EntryA{entry(200, "Grace Hopper")}}
	b := newFakeB("db-1", map[string]model.BPropertyType{"Name": model.BTitle})
	r := newTestRunner(a, b, store)

	ctx := context.Background()
	if _, err := r.Run(ctx, pair.ID); err != nil {
		t.Fatalf("initial run: %v", err)
	}

	a.mu.Lock()
	a.entries[0].Fields[0].Value = "Grace Brewster Hopper"
	a.entries[0].LastModifiedAt = time.Now().UTC()
	a.mu.Unlock()

	second, err := r.Run(ctx, pair.ID)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.RecordsUpdated != 1 {
		t.Fatalf("RecordsUpdated = %d, want 1", second.RecordsUpdated)
	}

	for _, p := range b.pages {
		if p.Properties["Name"].Text != "Grace Brewster Hopper" {
			t.Fatalf("page Name = %q, want updated value", p.Properties["Name"].Text)
		}
	}
}

// TestRunner_ArchiveOnDropout covers cleanup: an A entry that disappears
// from ListEntries causes its linked B page to be archived, never
// deleted, and never mirrored back as an A deletion.
func TestRunner_ArchiveOnDropout(t *testing.T) {
	store := memstore.New()
	pair := basePair(3, model.DirectionAToB)
	store.PutSyncPair(pair)

	a := &fakeA{entries: []model.EntryA{entry(300, "Margaret Hamilton")}}
	b := newFakeB("db-1", map[string]model.BPropertyType{"Name": model.BTitle})
	r := newTestRunner(a, b, store)

	ctx := context.Background()
	if _, err := r.Run(ctx, pair.ID); err != nil {
		t.Fatalf("initial run: %v", err)
	}

	a.mu.Lock()
	a.entries = nil
	a.mu.Unlock()

	result, err := r.Run(ctx, pair.ID)
	if err != nil {
		t.Fatalf("cleanup run: %v", err)
	}
	if result.RecordsArchived != 1 {
		t.Fatalf("RecordsArchived = %d, want 1", result.RecordsArchived)
	}
	if len(b.archived) != 1 {
		t.Fatalf("expected exactly 1 archived page, got %d", len(b.archived))
	}

	records, _ := store.ListSyncedRecords(ctx, pair.ID)
	if len(records) != 0 {
		t.Fatalf("expected the synced record to be dropped, found %d", len(records))
	}
}

// TestRunner_BidirectionalAutoResolveByTimestamp covers auto-resolution
// picking the more-recently-changed side in a bidirectional pair.
func TestRunner_BidirectionalAutoResolveByTimestamp(t *testing.T) {
	store := memstore.New()
	pair := basePair(4, model.DirectionBidirectional)
	store.PutSyncPair(pair)

	a := &fakeA{entries: []model.EntryA{entry(400, "Katherine Johnson")}}
	b := newFakeB("db-1", map[string]model.BPropertyType{"Name": model.BTitle})
	r := newTestRunner(a, b, store)

	ctx := context.Background()
	if _, err := r.Run(ctx, pair.ID); err != nil {
		t.Fatalf("initial run: %v", err)
	}

	updatedPair, _ := store.GetSyncPair(ctx, pair.ID)
	syncedAt := *updatedPair.LastSyncAt

	var pageID string
	for id := range b.pages {
		pageID = id
	}
	// B changes later than A: B should win on the next run.
	page := b.pages[pageID]
	page.Properties["Name"] = model.BProperty{Type: model.BTitle, Text: "Dr. Katherine Johnson"}
	page.LastEditedAt = syncedAt.Add(time.Hour)
	b.pages[pageID] = page

	result, err := r.Run(ctx, pair.ID)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if result.ConflictsFound != 0 {
		t.Fatalf("expected auto-resolution, got %d manual conflicts", result.ConflictsFound)
	}

	a.mu.Lock()
	staged := append([]systema.StagedWrite(nil), a.writes...)
	a.mu.Unlock()
	if len(staged) != 1 || staged[0].Value != "Dr. Katherine Johnson" {
		t.Fatalf("expected a staged a-write carrying the B value, got %+v", staged)
	}
}

// TestRunner_BidirectionalManualConflict covers the case where neither
// side changed since the last sync yet the values differ: the engine
// must not guess and must emit a manual Conflict instead.
func TestRunner_BidirectionalManualConflict(t *testing.T) {
	store := memstore.New()
	pair := basePair(5, model.DirectionBidirectional)
	store.PutSyncPair(pair)

	a := &fakeA{entries: []model.EntryA{entry(500, "Radia Perlman")}}
	b := newFakeB("db-1", map[string]model.BPropertyType{"Name": model.BTitle})
	r := newTestRunner(a, b, store)

	ctx := context.Background()
	if _, err := r.Run(ctx, pair.ID); err != nil {
		t.Fatalf("initial run: %v", err)
	}
	updatedPair, _ := store.GetSyncPair(ctx, pair.ID)
	syncedAt := *updatedPair.LastSyncAt

	// Simulate external drift: B's stored value changes without its
	// LastEditedAt moving past the last sync, and A's fingerprint is
	// forced stale directly — this reproduces "neither side changed per
	// its own clock, but the values disagree."
	var pageID string
	for id := range b.pages {
		pageID = id
	}
	page := b.pages[pageID]
	page.Properties["Name"] = model.BProperty{Type: model.BTitle, Text: "R. Perlman"}
	page.LastEditedAt = syncedAt
	b.pages[pageID] = page

	rec, _ := store.GetSyncedRecord(ctx, pair.ID, 500)
	rec.Fingerprint = "forced-stale"
	_ = store.UpsertSyncedRecord(ctx, *rec)

	result, err := r.Run(ctx, pair.ID)
	if err != nil {
		t.Fatalf("conflict run: %v", err)
	}
	if result.ConflictsFound != 1 {
		t.Fatalf("ConflictsFound = %d, want 1", result.ConflictsFound)
	}

	conflicts, _ := store.ListConflicts(ctx, pair.ID)
	if len(conflicts) != 1 || conflicts[0].Status != model.ConflictPending {
		t.Fatalf("expected one pending conflict row, got %+v", conflicts)
	}
}

// TestRunner_NeverArchivesInBToA is the safety invariant: a pure B→A pair
// must never call ArchivePage, even when a page's A_ID no longer
// resolves to a live entry — it must log and skip instead.
func TestRunner_NeverArchivesInBToA(t *testing.T) {
	store := memstore.New()
	pair := basePair(6, model.DirectionBToA)
	store.PutSyncPair(pair)

	a := &fakeA{entries: nil} // no entries at all: every page is "orphaned"
	b := newFakeB("db-1", map[string]model.BPropertyType{"Name": model.BTitle, "A_ID": model.BRichText})
	b.pages["page-orphan"] = model.PageB{
		PageID: "page-orphan",
		Properties: map[string]model.BProperty{
			"A_ID": {Type: model.BRichText, Text: "999"},
			"Name":  {Type: model.BTitle, Text: "Orphaned"},
		},
		LastEditedAt: time.Now().UTC(),
	}
	r := newTestRunner(a, b, store)

	result, err := r.Run(context.Background(), pair.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(b.archived) != 0 {
		t.Fatalf("b→a run archived %d pages, want 0", len(b.archived))
	}
	if result.RecordsArchived != 0 || result.RecordsCreated != 0 {
		t.Fatalf("b→a run must never create or archive, got %+v", result)
	}
}

// TestRunner_BusyRejectsConcurrentRun covers the at-most-one-concurrent-
// per-pair invariant.
func TestRunner_BusyRejectsConcurrentRun(t *testing.T) {
	store := memstore.New()
	pair := basePair(7, model.DirectionAToB)
	store.PutSyncPair(pair)

	a := &fakeA{entries: []model.EntryA{entry(700, "Hedy Lamarr")}}
	b := newFakeB("db-1", map[string]model.BPropertyType{"Name": model.BTitle})
	r := newTestRunner(a, b, store)

	r.mu.Lock()
	r.active[pair.ID] = true
	r.mu.Unlock()

	_, err := r.Run(context.Background(), pair.ID)
	if err != ErrBusy {
		t.Fatalf("Run() err = %v, want ErrBusy", err)
	}
}

// TestRunner_ManualConflictBlocksWholeRecord covers a two-field mapping
// where both fields drift into a manual conflict (neither side changed
// per its own clock, yet the values disagree): the record must not be
// partially mirrored — neither property is written — and the stored
// fingerprint must not advance, so the conflict is re-detected on every
// subsequent run until it is resolved externally.
func TestRunner_ManualConflictBlocksWholeRecord(t *testing.T) {
	store := memstore.New()
	pair := model.SyncPair{
		ID:        8,
		Name:      "two field pair",
		ListRef:   "list-1",
		DBRef:     "db-1",
		Direction: model.DirectionBidirectional,
		Active:    true,
		FieldMappings: []model.FieldMapping{
			{AFieldID: 1, AFieldName: "name_field", BPropertyName: "Name"},
			{AFieldID: 2, AFieldName: "title_field", BPropertyName: "Title"},
		},
	}
	store.PutSyncPair(pair)

	e := entry(800, "Ada Lovelace")
	e.Fields = append(e.Fields, model.AFieldValue{FieldID: 2, Value: "Engineer"})
	a := &fakeA{entries: []model.EntryA{e}}
	b := newFakeB("db-1", map[string]model.BPropertyType{"Name": model.BTitle, "Title": model.BRichText})
	r := newTestRunner(a, b, store)

	ctx := context.Background()
	if _, err := r.Run(ctx, pair.ID); err != nil {
		t.Fatalf("initial run: %v", err)
	}
	updatedPair, _ := store.GetSyncPair(ctx, pair.ID)
	syncedAt := *updatedPair.LastSyncAt

	var pageID string
	for id := range b.pages {
		pageID = id
	}

	// Drift both properties on B without moving LastEditedAt past the
	// last sync, and leave A's entry untouched — "neither side changed
	// per its own clock, but the values disagree" on both fields.
	page := b.pages[pageID]
	page.Properties["Name"] = model.BProperty{Type: model.BTitle, Text: "A. Lovelace"}
	page.Properties["Title"] = model.BProperty{Type: model.BRichText, Text: "Senior Engineer"}
	page.LastEditedAt = syncedAt
	b.pages[pageID] = page

	rec, _ := store.GetSyncedRecord(ctx, pair.ID, 800)
	rec.Fingerprint = "forced-stale"
	_ = store.UpsertSyncedRecord(ctx, *rec)

	result, err := r.Run(ctx, pair.ID)
	if err != nil {
		t.Fatalf("conflict run: %v", err)
	}
	if result.ConflictsFound != 2 {
		t.Fatalf("ConflictsFound = %d, want 2", result.ConflictsFound)
	}
	if result.RecordsUpdated != 0 {
		t.Fatalf("RecordsUpdated = %d, want 0 — a manual conflict must block the whole record", result.RecordsUpdated)
	}
	if got := b.pages[pageID].Properties["Title"].Text; got != "Senior Engineer" {
		t.Fatalf("Title = %q, want unchanged %q — no field may be partially written while a conflict is pending", got, "Senior Engineer")
	}
	if got := b.pages[pageID].Properties["Name"].Text; got != "A. Lovelace" {
		t.Fatalf("Name = %q, want unchanged %q", got, "A. Lovelace")
	}

	// The stored fingerprint must not have advanced past the conflict: a
	// third run with nothing else changed must re-detect it rather than
	// fast-pathing past a resolved-looking record.
	third, err := r.Run(ctx, pair.ID)
	if err != nil {
		t.Fatalf("re-detect run: %v", err)
	}
	if third.ConflictsFound != 2 {
		t.Fatalf("ConflictsFound on re-run = %d, want 2 (must re-detect until resolved)", third.ConflictsFound)
	}
}

// TestRunner_CreatePageAlwaysIncludesEntityName covers spec §8 scenario 1:
// a SyncPair with a single mapping to a non-title property must still
// stamp the entity's name onto a title property the B database declares,
// on creation.
func TestRunner_CreatePageAlwaysIncludesEntityName(t *testing.T) {
	store := memstore.New()
	pair := model.SyncPair{
		ID:        9,
		Name:      "stage only pair",
		ListRef:   "list-1",
		DBRef:     "db-1",
		Direction: model.DirectionAToB,
		Active:    true,
		FieldMappings: []model.FieldMapping{
			{AFieldID: 10, AFieldName: "stage_field", BPropertyName: "Stage"},
		},
	}
	store.PutSyncPair(pair)

	e := model.EntryA{
		EntryID:        "entry-900",
		EntityID:       900,
		EntityType:     model.EntityOrganization,
		Name:           "Acme",
		Fields:         []model.AFieldValue{{FieldID: 10, Value: "Seed"}},
		LastModifiedAt: time.Now().UTC(),
	}
	a := &fakeA{entries: []model.EntryA{e}}
	b := newFakeB("db-1", map[string]model.BPropertyType{"Name": model.BTitle, "Stage": model.BSelect})
	r := newTestRunner(a, b, store)

	result, err := r.Run(context.Background(), pair.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.RecordsCreated != 1 {
		t.Fatalf("RecordsCreated = %d, want 1", result.RecordsCreated)
	}
	for _, p := range b.pages {
		if p.Properties["Name"].Text != "Acme" {
			t.Fatalf("created page Name = %q, want %q", p.Properties["Name"].Text, "Acme")
		}
		if p.Properties["Stage"].SelectName != "Seed" {
			t.Fatalf("created page Stage = %q, want %q", p.Properties["Stage"].SelectName, "Seed")
		}
	}
}

// TestRunner_CleanupArchivesManagedPageWithNoSyncedRecord covers cleanup
// driven by the live pageByAID set rather than Storage: a managed B page
// (carries A_ID, no longer present in A) with no corresponding
// SyncedRecord row — e.g. a prior run's upsert failed after create
// succeeded — must still be archived.
func TestRunner_CleanupArchivesManagedPageWithNoSyncedRecord(t *testing.T) {
	store := memstore.New()
	pair := basePair(10, model.DirectionAToB)
	store.PutSyncPair(pair)

	a := &fakeA{entries: nil}
	b := newFakeB("db-1", map[string]model.BPropertyType{"Name": model.BTitle, "A_ID": model.BRichText})
	b.pages["page-stray"] = model.PageB{
		PageID: "page-stray",
		Properties: map[string]model.BProperty{
			"A_ID": {Type: model.BRichText, Text: "1000"},
			"Name":  {Type: model.BTitle, Text: "Stray"},
		},
		LastEditedAt: time.Now().UTC(),
	}
	r := newTestRunner(a, b, store)

	// No SyncedRecord exists for entity 1000 at all.
	result, err := r.Run(context.Background(), pair.ID)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.RecordsArchived != 1 {
		t.Fatalf("RecordsArchived = %d, want 1", result.RecordsArchived)
	}
	if !b.archived["page-stray"] {
		t.Fatal("expected page-stray to be archived")
	}
}

// TestRunner_AutoArchiveUnmatchedDisabled covers the autoArchiveUnmatched
// toggle: when disabled, orphaned managed pages are left untouched.
func TestRunner_AutoArchiveUnmatchedDisabled(t *testing.T) {
	store := memstore.New()
	pair := basePair(11, model.DirectionAToB)
	store.PutSyncPair(pair)

	a := &fakeA{entries: []model.EntryA{entry(1100, "Margaret Hamilton")}}
	b := newFakeB("db-1", map[string]model.BPropertyType{"Name": model.BTitle})
	r := newTestRunner(a, b, store)
	r.AutoArchiveUnmatched = false

	ctx := context.Background()
	if _, err := r.Run(ctx, pair.ID); err != nil {
		t.Fatalf("initial run: %v", err)
	}

	a.mu.Lock()
	a.entries = nil
	a.mu.Unlock()

	result, err := r.Run(ctx, pair.ID)
	if err != nil {
		t.Fatalf("cleanup run: %v", err)
	}
	if result.RecordsArchived != 0 {
		t.Fatalf("RecordsArchived = %d, want 0 when autoArchiveUnmatched is disabled", result.RecordsArchived)
	}
	if len(b.archived) != 0 {
		t.Fatalf("expected no pages archived, got %d", len(b.archived))
	}
}
