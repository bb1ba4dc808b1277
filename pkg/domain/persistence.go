package domain

import "context"

// EntityStore is the per-site entity persistence contract.
type EntityStore interface {
	CreateEntity(ctx context.Context, e Entity) (Entity, error)
	GetEntity(ctx context.Context, id int64) (Entity, error)
	UpdateEntity(ctx context.Context, e Entity) (Entity, error)
	DeleteEntity(ctx context.Context, id int64) error
	ListEntities(ctx context.Context, kind Kind) ([]Entity, error)
}

// MetaStore is the per-site key/value metadata contract. Entries are unique per
// (entity, key).
type MetaStore interface {
	// GetMeta returns the value for key and whether it was present.
	GetMeta(ctx context.Context, entityID int64, key string) (string, bool, error)
	// SetMeta upserts the value and returns the row id plus whether the row was new.
	SetMeta(ctx context.Context, entityID int64, key, value string) (MetaRow, bool, error)
	// DeleteMeta removes key from the entity. A non-empty value only removes a
	// matching row. The ids of removed rows are returned.
	DeleteMeta(ctx context.Context, entityID int64, key, value string) ([]int64, error)
	// FindByMeta returns the ids of entities holding key=value.
	FindByMeta(ctx context.Context, key, value string) ([]int64, error)
}

// SiteStore is the combined persistence surface of one site.
type SiteStore interface {
	EntityStore
	MetaStore
}

// Directory enumerates the sites of the network.
type Directory interface {
	ListSites(ctx context.Context, exclude SiteID) ([]SiteID, error)
}

// Scope is an entered site context. Exit restores the previously current site
// and is safe to call more than once.
type Scope interface {
	Site() SiteID
	Context() context.Context
	Store() SiteStore
	Exit()
}

// Switcher enters site contexts. The current site travels inside the
// context.Context so nested and concurrent scopes never share selection state.
type Switcher interface {
	Enter(ctx context.Context, site SiteID) (Scope, error)
	CurrentSite(ctx context.Context) (SiteID, bool)
}

// Sites is the full network surface consumed by the replication engine.
type Sites interface {
	Directory
	Switcher
}
