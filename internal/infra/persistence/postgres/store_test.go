package postgres

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"mlsync/internal/infra/persistence/postgres/testutil"
	"mlsync/pkg/domain"
)

func openStub(t *testing.T) (*sql.DB, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
	opened, err := Open(context.Background(), "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return opened, conn
}

func TestOpenEnsuresStateTable(t *testing.T) {
	_, conn := openStub(t)
	var sawDDL bool
	for _, stmt := range conn.Execs {
		if strings.Contains(strings.ToUpper(stmt), "CREATE TABLE IF NOT EXISTS SITE_STATE") {
			sawDDL = true
		}
	}
	if !sawDDL {
		t.Fatalf("expected state table DDL, got %v", conn.Execs)
	}
}

func TestOpenPingFailure(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := Open(context.Background(), "postgres://x"); err == nil || !strings.Contains(err.Error(), "ping") {
		t.Fatalf("expected ping error, got %v", err)
	}
}

func TestStorePersistsAndReloadsPerSite(t *testing.T) {
	ctx := context.Background()
	db, conn := openStub(t)

	siteA, err := NewStore(ctx, db, 1)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	siteB, err := NewStore(ctx, db, 2)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	a, err := siteA.CreateEntity(ctx, domain.Entity{Kind: domain.KindAttachment, Title: "in a"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := siteA.SetMeta(ctx, a.ID, domain.MetaSyncedID, "1"); err != nil {
		t.Fatalf("set meta: %v", err)
	}
	if _, err := siteB.CreateEntity(ctx, domain.Entity{Kind: domain.KindAttachment, Title: "in b"}); err != nil {
		t.Fatalf("create b: %v", err)
	}
	if rows := conn.Rows("site_state"); len(rows) != 2*3 {
		t.Fatalf("expected one row per site bucket, got %d", len(rows))
	}

	reloaded, err := NewStore(ctx, db, 1)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	list, _ := reloaded.ListEntities(ctx, domain.KindAttachment)
	if len(list) != 1 || list[0].Title != "in a" {
		t.Fatalf("expected only site 1 entities, got %+v", list)
	}
	if v, ok, _ := reloaded.GetMeta(ctx, a.ID, domain.MetaSyncedID); !ok || v != "1" {
		t.Fatalf("expected link reloaded, got %q %v", v, ok)
	}
}

func TestStoreCommitFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	db, conn := openStub(t)
	store, err := NewStore(ctx, db, 1)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	conn.FailCommit = true
	if _, err := store.CreateEntity(ctx, domain.Entity{Kind: domain.KindAttachment}); err == nil || !strings.Contains(err.Error(), "commit") {
		t.Fatalf("expected commit error, got %v", err)
	}
	if all, _ := store.ListEntities(ctx, ""); len(all) != 0 {
		t.Fatalf("expected failed create to be rolled back in memory, got %+v", all)
	}
	conn.FailCommit = false
	e, err := store.CreateEntity(ctx, domain.Entity{Kind: domain.KindAttachment})
	if err != nil || e.ID != 1 {
		t.Fatalf("expected retry to reuse id 1, got %+v %v", e, err)
	}
	conn.FailCommit = true
	if _, _, err := store.SetMeta(ctx, e.ID, "alt", "x"); err == nil {
		t.Fatalf("expected set meta to fail")
	}
	if _, ok, _ := store.GetMeta(ctx, e.ID, "alt"); ok {
		t.Fatalf("expected failed set meta to be rolled back")
	}
}

func TestNewStoreQueryFailure(t *testing.T) {
	db, conn := openStub(t)
	conn.FailQuery = true
	if _, err := NewStore(context.Background(), db, 1); err == nil {
		t.Fatalf("expected query error")
	}
}

func TestStoreDeleteMetaWithoutRowsSkipsPersist(t *testing.T) {
	ctx := context.Background()
	db, conn := openStub(t)
	store, _ := NewStore(ctx, db, 1)
	e, _ := store.CreateEntity(ctx, domain.Entity{Kind: domain.KindAttachment})
	before := len(conn.Execs)
	if ids, err := store.DeleteMeta(ctx, e.ID, "missing", ""); err != nil || len(ids) != 0 {
		t.Fatalf("unexpected delete result %v %v", ids, err)
	}
	if len(conn.Execs) != before {
		t.Fatalf("expected no writes for a no-op delete")
	}
}
