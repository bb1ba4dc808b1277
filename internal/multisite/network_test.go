package multisite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"mlsync/internal/core"
	"mlsync/internal/infra/persistence/memory"
	"mlsync/pkg/domain"
)

func newNetwork(t *testing.T, ids ...domain.SiteID) (*Network, *[]core.Event) {
	t.Helper()
	bus := core.NewBus()
	var events []core.Event
	record := func(_ context.Context, ev core.Event) { events = append(events, ev) }
	for _, kind := range []core.EventKind{
		core.EventEntityCreated, core.EventEntityEdited, core.EventEntityDeleted,
		core.EventMetaAdded, core.EventMetaUpdated, core.EventMetaDeleted,
	} {
		bus.Subscribe(kind, record)
	}
	n := NewNetwork(bus)
	for _, id := range ids {
		require.NoError(t, n.AddSite(id, memory.NewStore(id)))
	}
	return n, &events
}

func TestAddSiteValidation(t *testing.T) {
	n, _ := newNetwork(t, 3, 1, 2)
	require.Error(t, n.AddSite(2, memory.NewStore(2)))
	require.Error(t, n.AddSite(0, memory.NewStore(0)))
	require.Error(t, n.AddSite(4, nil))
	require.Equal(t, []domain.SiteID{1, 2, 3}, n.Sites())

	others, err := n.ListSites(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, []domain.SiteID{1, 3}, others)
}

func TestEnterNestsWithoutLeaking(t *testing.T) {
	n, _ := newNetwork(t, 1, 2)
	outer := WithSite(context.Background(), 1)

	scope, err := n.Enter(outer, 2)
	require.NoError(t, err)
	current, ok := n.CurrentSite(scope.Context())
	require.True(t, ok)
	require.Equal(t, domain.SiteID(2), current)
	require.Equal(t, int64(1), n.ActiveScopes())

	current, _ = n.CurrentSite(outer)
	require.Equal(t, domain.SiteID(1), current)

	scope.Exit()
	scope.Exit()
	require.Zero(t, n.ActiveScopes())

	_, ok = n.CurrentSite(context.Background())
	require.False(t, ok)
	_, err = n.Enter(outer, 7)
	require.ErrorIs(t, err, ErrUnknownSite)
}

func TestHookedStorePublishesLifecycle(t *testing.T) {
	n, events := newNetwork(t, 1)
	ctx := WithSite(context.Background(), 1)
	store, err := n.Store(1)
	require.NoError(t, err)

	e, err := store.CreateEntity(ctx, domain.Entity{Kind: domain.KindAttachment, Title: "a"})
	require.NoError(t, err)
	_, _, err = store.SetMeta(ctx, e.ID, "alt", "one")
	require.NoError(t, err)
	_, _, err = store.SetMeta(ctx, e.ID, "alt", "two")
	require.NoError(t, err)
	_, err = store.DeleteMeta(ctx, e.ID, "alt", "missing")
	require.NoError(t, err)
	ids, err := store.DeleteMeta(ctx, e.ID, "alt", "")
	require.NoError(t, err)
	e.Title = "b"
	_, err = store.UpdateEntity(ctx, e)
	require.NoError(t, err)
	require.NoError(t, store.DeleteEntity(ctx, e.ID))

	kinds := make([]core.EventKind, 0, len(*events))
	for _, ev := range *events {
		kinds = append(kinds, ev.Kind)
		require.Equal(t, domain.SiteID(1), ev.Site)
		require.Equal(t, e.ID, ev.EntityID)
	}
	require.Equal(t, []core.EventKind{
		core.EventEntityCreated, core.EventMetaAdded, core.EventMetaUpdated,
		core.EventMetaDeleted, core.EventEntityEdited, core.EventEntityDeleted,
	}, kinds)
	require.Equal(t, domain.KindAttachment, (*events)[0].EntityKind)
	require.Equal(t, "two", (*events)[2].Value)
	require.Equal(t, ids, (*events)[3].MetaIDs)
	require.Equal(t, domain.KindAttachment, (*events)[5].EntityKind)

	require.True(t, domain.IsNotFound(store.DeleteEntity(ctx, e.ID)))
}

func TestDeleteEventSeesEntity(t *testing.T) {
	bus := core.NewBus()
	n := NewNetwork(bus)
	require.NoError(t, n.AddSite(1, memory.NewStore(1)))
	store, _ := n.Store(1)
	ctx := WithSite(context.Background(), 1)
	e, err := store.CreateEntity(ctx, domain.Entity{Kind: domain.KindAttachment})
	require.NoError(t, err)
	_, _, err = store.SetMeta(ctx, e.ID, domain.MetaSyncedID, "1")
	require.NoError(t, err)

	var link string
	bus.Subscribe(core.EventEntityDeleted, func(ctx context.Context, ev core.Event) {
		link, _, _ = store.GetMeta(ctx, ev.EntityID, domain.MetaSyncedID)
	})
	require.NoError(t, store.DeleteEntity(ctx, e.ID))
	require.Equal(t, "1", link)
}

func TestCreateAttachmentOrdersEvents(t *testing.T) {
	n, events := newNetwork(t, 1)
	ctx := WithSite(context.Background(), 1)
	e, err := n.CreateAttachment(ctx, domain.Entity{Title: "a"}, "2024/05/a.jpg")
	require.NoError(t, err)
	require.Equal(t, domain.KindAttachment, e.Kind)
	require.Len(t, *events, 2)
	require.Equal(t, core.EventMetaAdded, (*events)[0].Kind)
	require.Equal(t, domain.MetaAttachedFile, (*events)[0].Key)
	require.Equal(t, core.EventEntityCreated, (*events)[1].Kind)

	_, err = n.CreateAttachment(context.Background(), domain.Entity{}, "")
	require.Error(t, err)
}

func TestNilBusDiscards(t *testing.T) {
	n := NewNetwork(nil)
	require.NoError(t, n.AddSite(1, memory.NewStore(1)))
	_, err := n.CreateAttachment(WithSite(context.Background(), 1), domain.Entity{}, "a.jpg")
	require.NoError(t, err)
}
