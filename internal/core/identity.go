package core

import (
	"context"

	"mlsync/pkg/domain"
)

// IdentityLink maps entities onto the id of their canonical entity through the
// MetaSyncedID metadata key. Every call operates on the store of one site.
type IdentityLink struct{}

// SetLink records canonicalID as the canonical id of entityID.
func (IdentityLink) SetLink(ctx context.Context, store domain.MetaStore, entityID, canonicalID int64) error {
	_, _, err := store.SetMeta(ctx, entityID, domain.MetaSyncedID, domain.FormatLink(canonicalID))
	return err
}

// GetCanonical returns the canonical id of entityID, or false when unlinked.
func (IdentityLink) GetCanonical(ctx context.Context, store domain.MetaStore, entityID int64) (int64, bool, error) {
	raw, ok, err := store.GetMeta(ctx, entityID, domain.MetaSyncedID)
	if err != nil || !ok || raw == "" {
		return 0, false, err
	}
	id, err := domain.ParseLink(raw)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// ResolveLocal finds the single entity of site linked to canonicalID. Zero or
// several matches yield an UnresolvedLinkError.
func (IdentityLink) ResolveLocal(ctx context.Context, store domain.MetaStore, site domain.SiteID, canonicalID int64) (int64, error) {
	ids, err := store.FindByMeta(ctx, domain.MetaSyncedID, domain.FormatLink(canonicalID))
	if err != nil {
		return 0, &domain.StoreError{Site: site, Op: "find link", Err: err}
	}
	if len(ids) != 1 {
		return 0, &domain.UnresolvedLinkError{Site: site, Canonical: canonicalID, Matches: len(ids)}
	}
	return ids[0], nil
}
