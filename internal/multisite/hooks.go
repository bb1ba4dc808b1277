package multisite

import (
	"context"

	"mlsync/internal/core"
	"mlsync/pkg/domain"
)

// hookedStore publishes a lifecycle event for every mutation of the wrapped
// site store. Events carry the mutating call's context.
type hookedStore struct {
	site  domain.SiteID
	inner domain.SiteStore
	bus   core.Publisher
}

func (h *hookedStore) publishEntity(ctx context.Context, kind core.EventKind, e domain.Entity) {
	h.bus.Publish(ctx, core.Event{Kind: kind, Site: h.site, EntityID: e.ID, EntityKind: e.Kind})
}

func (h *hookedStore) CreateEntity(ctx context.Context, e domain.Entity) (domain.Entity, error) {
	created, err := h.inner.CreateEntity(ctx, e)
	if err != nil {
		return created, err
	}
	h.publishEntity(ctx, core.EventEntityCreated, created)
	return created, nil
}

func (h *hookedStore) GetEntity(ctx context.Context, id int64) (domain.Entity, error) {
	return h.inner.GetEntity(ctx, id)
}

func (h *hookedStore) UpdateEntity(ctx context.Context, e domain.Entity) (domain.Entity, error) {
	updated, err := h.inner.UpdateEntity(ctx, e)
	if err != nil {
		return updated, err
	}
	h.publishEntity(ctx, core.EventEntityEdited, updated)
	return updated, nil
}

// DeleteEntity publishes before removing so listeners can still read the
// entity and its metadata. Cascaded metadata removal is silent.
func (h *hookedStore) DeleteEntity(ctx context.Context, id int64) error {
	e, err := h.inner.GetEntity(ctx, id)
	if err != nil {
		return err
	}
	h.publishEntity(ctx, core.EventEntityDeleted, e)
	return h.inner.DeleteEntity(ctx, id)
}

func (h *hookedStore) ListEntities(ctx context.Context, kind domain.Kind) ([]domain.Entity, error) {
	return h.inner.ListEntities(ctx, kind)
}

func (h *hookedStore) GetMeta(ctx context.Context, entityID int64, key string) (string, bool, error) {
	return h.inner.GetMeta(ctx, entityID, key)
}

func (h *hookedStore) SetMeta(ctx context.Context, entityID int64, key, value string) (domain.MetaRow, bool, error) {
	row, inserted, err := h.inner.SetMeta(ctx, entityID, key, value)
	if err != nil {
		return row, inserted, err
	}
	kind := core.EventMetaUpdated
	if inserted {
		kind = core.EventMetaAdded
	}
	h.bus.Publish(ctx, core.Event{
		Kind:     kind,
		Site:     h.site,
		EntityID: entityID,
		MetaIDs:  []int64{row.ID},
		Key:      key,
		Value:    value,
	})
	return row, inserted, nil
}

func (h *hookedStore) DeleteMeta(ctx context.Context, entityID int64, key, value string) ([]int64, error) {
	ids, err := h.inner.DeleteMeta(ctx, entityID, key, value)
	if err != nil || len(ids) == 0 {
		return ids, err
	}
	h.bus.Publish(ctx, core.Event{
		Kind:     core.EventMetaDeleted,
		Site:     h.site,
		EntityID: entityID,
		MetaIDs:  ids,
		Key:      key,
		Value:    value,
	})
	return ids, nil
}

func (h *hookedStore) FindByMeta(ctx context.Context, key, value string) ([]int64, error) {
	return h.inner.FindByMeta(ctx, key, value)
}
