// Package systemb implements SystemBClient (spec §4.4): a typed,
// rate-limited, retrying wrapper around the paginated "Database" of
// pages. Archive is the only removal operation — never a hard delete, and
// never applied to System A (spec §1, §3's invariants).
package systemb

import (
	"context"

	"github.com/relaysync/engine/internal/model"
)

// DatabaseDef describes one database in System B, including its property
// schema (spec §4.4: "includes property schema map").
type DatabaseDef struct {
	ID         string
	Name       string
	Properties map[string]model.BPropertyType
}

// Client is the narrow contract the engine depends on for System B.
type Client interface {
	ListDatabases(ctx context.Context) ([]DatabaseDef, error)
	GetDatabase(ctx context.Context, dbRef string) (*DatabaseDef, error)
	QueryDatabase(ctx context.Context, dbRef string) ([]model.PageB, error)

	CreatePage(ctx context.Context, dbRef string, properties map[string]model.BProperty) (*model.PageB, error)
	UpdatePage(ctx context.Context, pageID string, properties map[string]model.BProperty) (*model.PageB, error)
	ArchivePage(ctx context.Context, pageID string) error

	AddProperty(ctx context.Context, dbRef, name string, propType model.BPropertyType) error
}
