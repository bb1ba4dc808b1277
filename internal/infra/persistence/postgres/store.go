// Package postgres provides a per-site store backed by a shared Postgres
// database. Each site keeps its working set in memory and snapshots it into the
// site_state table after every mutation.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"mlsync/internal/infra/persistence/memory"
	"mlsync/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

var _ domain.SiteStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/mlsync?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Open connects to Postgres (falling back to defaultDSN) and ensures the
// snapshot table exists. The handle is shared by every site store.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureStateTable(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func ensureStateTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS site_state (
		state_key TEXT PRIMARY KEY,
		site BIGINT NOT NULL,
		bucket TEXT NOT NULL,
		payload JSONB NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure state table: %w", err)
	}
	return nil
}

// Store persists one site's state into Postgres.
type Store struct {
	*memory.Store
	db   *sql.DB
	site domain.SiteID
	mu   sync.Mutex
}

// NewStore hydrates the site from any existing snapshot rows.
func NewStore(ctx context.Context, db *sql.DB, site domain.SiteID) (*Store, error) {
	snapshot, found, err := loadSnapshot(ctx, db, site)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore(site)
	if found {
		mem.ImportState(snapshot)
	}
	return &Store{Store: mem, db: db, site: site}, nil
}

func stateKey(site domain.SiteID, bucket string) string {
	return fmt.Sprintf("%d/%s", site, bucket)
}

func loadSnapshot(ctx context.Context, db *sql.DB, site domain.SiteID) (memory.Snapshot, bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT state_key, payload FROM site_state WHERE site = $1`, int64(site))
	if err != nil {
		return memory.Snapshot{}, false, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	found := false
	prefix := stateKey(site, "")
	for rows.Next() {
		var key string
		var payload []byte
		if err := rows.Scan(&key, &payload); err != nil {
			return memory.Snapshot{}, false, fmt.Errorf("scan state: %w", err)
		}
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if err := memory.DecodeBucket(&snapshot, strings.TrimPrefix(key, prefix), payload); err != nil {
			return memory.Snapshot{}, false, err
		}
		found = true
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, false, fmt.Errorf("iterate state: %w", err)
	}
	return snapshot, found, nil
}

func (s *Store) persist(ctx context.Context) error {
	snapshot := s.ExportState()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range memory.Buckets {
		data, err := memory.EncodeBucket(snapshot, bucket)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO site_state(state_key,site,bucket,payload) VALUES($1,$2,$3,$4) ON CONFLICT(state_key) DO UPDATE SET payload=EXCLUDED.payload`,
			stateKey(s.site, bucket), int64(s.site), bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// mutate applies fn and snapshots the site. When the snapshot fails the
// in-memory state is restored so memory and disk never disagree.
func (s *Store) mutate(ctx context.Context, fn func() (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.ExportState()
	changed, err := fn()
	if err != nil || !changed {
		return err
	}
	if err := s.persist(ctx); err != nil {
		s.ImportState(before)
		return err
	}
	return nil
}

// CreateEntity inserts e and snapshots the site.
func (s *Store) CreateEntity(ctx context.Context, e domain.Entity) (domain.Entity, error) {
	var created domain.Entity
	err := s.mutate(ctx, func() (bool, error) {
		var err error
		created, err = s.Store.CreateEntity(ctx, e)
		return true, err
	})
	if err != nil {
		return domain.Entity{}, err
	}
	return created, nil
}

// UpdateEntity overwrites e and snapshots the site.
func (s *Store) UpdateEntity(ctx context.Context, e domain.Entity) (domain.Entity, error) {
	var updated domain.Entity
	err := s.mutate(ctx, func() (bool, error) {
		var err error
		updated, err = s.Store.UpdateEntity(ctx, e)
		return true, err
	})
	if err != nil {
		return domain.Entity{}, err
	}
	return updated, nil
}

// DeleteEntity removes the entity and snapshots the site.
func (s *Store) DeleteEntity(ctx context.Context, id int64) error {
	return s.mutate(ctx, func() (bool, error) {
		return true, s.Store.DeleteEntity(ctx, id)
	})
}

// SetMeta upserts a metadata row and snapshots the site.
func (s *Store) SetMeta(ctx context.Context, entityID int64, key, value string) (domain.MetaRow, bool, error) {
	var row domain.MetaRow
	var inserted bool
	err := s.mutate(ctx, func() (bool, error) {
		var err error
		row, inserted, err = s.Store.SetMeta(ctx, entityID, key, value)
		return true, err
	})
	if err != nil {
		return domain.MetaRow{}, false, err
	}
	return row, inserted, nil
}

// DeleteMeta removes metadata rows and snapshots the site when any were removed.
func (s *Store) DeleteMeta(ctx context.Context, entityID int64, key, value string) ([]int64, error) {
	var removed []int64
	err := s.mutate(ctx, func() (bool, error) {
		var err error
		removed, err = s.Store.DeleteMeta(ctx, entityID, key, value)
		return len(removed) > 0, err
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
