package memory

import (
	"context"
	"testing"

	"mlsync/pkg/domain"
)

func TestStoreEntityLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewStore(2)
	created, err := store.CreateEntity(ctx, Entity{ID: 99, Kind: domain.KindAttachment, Title: "a"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID != 1 {
		t.Fatalf("expected issued id 1, got %d", created.ID)
	}
	created.Title = "b"
	if _, err := store.UpdateEntity(ctx, created); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := store.GetEntity(ctx, created.ID)
	if err != nil || got.Title != "b" {
		t.Fatalf("expected updated title, got %+v %v", got, err)
	}
	if _, err := store.UpdateEntity(ctx, Entity{ID: 42}); !domain.IsNotFound(err) {
		t.Fatalf("expected not found on update, got %v", err)
	}
	if err := store.DeleteEntity(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetEntity(ctx, created.ID); !domain.IsNotFound(err) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := store.DeleteEntity(ctx, created.ID); !domain.IsNotFound(err) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestStoreCreateRequiresKind(t *testing.T) {
	if _, err := NewStore(1).CreateEntity(context.Background(), Entity{}); err == nil {
		t.Fatalf("expected kind error")
	}
}

func TestStoreMetaUpsertAndDelete(t *testing.T) {
	ctx := context.Background()
	store := NewStore(1)
	e, _ := store.CreateEntity(ctx, Entity{Kind: domain.KindAttachment})

	row, inserted, err := store.SetMeta(ctx, e.ID, "alt", "one")
	if err != nil || !inserted {
		t.Fatalf("expected insert, got %v %v", inserted, err)
	}
	again, inserted, err := store.SetMeta(ctx, e.ID, "alt", "two")
	if err != nil || inserted || again.ID != row.ID {
		t.Fatalf("expected update of row %d, got %+v inserted=%v err=%v", row.ID, again, inserted, err)
	}
	if v, ok, _ := store.GetMeta(ctx, e.ID, "alt"); !ok || v != "two" {
		t.Fatalf("expected two, got %q %v", v, ok)
	}
	if ids, _ := store.DeleteMeta(ctx, e.ID, "alt", "one"); len(ids) != 0 {
		t.Fatalf("value mismatch must not delete, removed %v", ids)
	}
	if ids, _ := store.DeleteMeta(ctx, e.ID, "alt", ""); len(ids) != 1 || ids[0] != row.ID {
		t.Fatalf("expected row %d removed, got %v", row.ID, ids)
	}
	if _, ok, _ := store.GetMeta(ctx, e.ID, "alt"); ok {
		t.Fatalf("expected key gone")
	}
	if _, _, err := store.SetMeta(ctx, 404, "alt", "x"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found for missing entity, got %v", err)
	}
	if _, _, err := store.SetMeta(ctx, e.ID, "", "x"); err == nil {
		t.Fatalf("expected empty key error")
	}
}

func TestStoreFindByMetaAndCascade(t *testing.T) {
	ctx := context.Background()
	store := NewStore(1)
	a, _ := store.CreateEntity(ctx, Entity{Kind: domain.KindAttachment})
	b, _ := store.CreateEntity(ctx, Entity{Kind: domain.KindAttachment})
	_, _, _ = store.SetMeta(ctx, a.ID, domain.MetaSyncedID, "7")
	_, _, _ = store.SetMeta(ctx, b.ID, domain.MetaSyncedID, "8")

	ids, err := store.FindByMeta(ctx, domain.MetaSyncedID, "8")
	if err != nil || len(ids) != 1 || ids[0] != b.ID {
		t.Fatalf("expected [%d], got %v %v", b.ID, ids, err)
	}
	if err := store.DeleteEntity(ctx, b.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ids, _ := store.FindByMeta(ctx, domain.MetaSyncedID, "8"); len(ids) != 0 {
		t.Fatalf("expected metadata removed with entity, got %v", ids)
	}
}

func TestStoreListEntitiesFiltersKind(t *testing.T) {
	ctx := context.Background()
	store := NewStore(1)
	_, _ = store.CreateEntity(ctx, Entity{Kind: domain.KindPost})
	_, _ = store.CreateEntity(ctx, Entity{Kind: domain.KindAttachment})
	_, _ = store.CreateEntity(ctx, Entity{Kind: domain.KindAttachment})
	list, _ := store.ListEntities(ctx, domain.KindAttachment)
	if len(list) != 2 || list[0].ID != 2 || list[1].ID != 3 {
		t.Fatalf("unexpected attachments %+v", list)
	}
	all, _ := store.ListEntities(ctx, "")
	if len(all) != 3 {
		t.Fatalf("expected 3 entities, got %d", len(all))
	}
}

func TestStoreExportImportRoundTripKeepsSequences(t *testing.T) {
	ctx := context.Background()
	src := NewStore(1)
	e, _ := src.CreateEntity(ctx, Entity{Kind: domain.KindAttachment, Extra: map[string]string{"k": "v"}})
	_, _, _ = src.SetMeta(ctx, e.ID, "alt", "x")
	snap := src.ExportState()
	snap.Entities[e.ID].Extra["k"] = "mutated"

	dst := NewStore(1)
	dst.ImportState(snap)
	next, _ := dst.CreateEntity(ctx, Entity{Kind: domain.KindAttachment})
	if next.ID != e.ID+1 {
		t.Fatalf("expected sequence continued at %d, got %d", e.ID+1, next.ID)
	}
	orig, _ := src.GetEntity(ctx, e.ID)
	if orig.Extra["k"] != "v" {
		t.Fatalf("export must deep copy, got %q", orig.Extra["k"])
	}
}

func TestStoreImportRaisesSequencePastIDs(t *testing.T) {
	store := NewStore(3)
	store.ImportState(Snapshot{Entities: map[int64]Entity{54: {ID: 54, Kind: domain.KindAttachment}}})
	e, _ := store.CreateEntity(context.Background(), Entity{Kind: domain.KindAttachment})
	if e.ID != 55 {
		t.Fatalf("expected 55, got %d", e.ID)
	}
}
