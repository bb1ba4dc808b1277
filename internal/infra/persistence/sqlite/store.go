// Package sqlite provides a per-site store that keeps its working set in memory
// and snapshots it into an embedded SQLite file after every mutation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"mlsync/internal/infra/persistence/memory"
	"mlsync/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ domain.SiteStore = (*Store)(nil)

// Store persists one site's state to a single SQLite table as JSON blobs.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// PathFor returns the database file used for site under dir.
func PathFor(dir string, site domain.SiteID) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, fmt.Sprintf("site-%d.db", site))
}

// NewStore opens (or creates) the SQLite file at path and hydrates the site state from it.
func NewStore(path string, site domain.SiteID) (*Store, error) {
	if path == "" {
		path = PathFor("", site)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &Store{Store: memory.NewStore(site), db: db, path: path}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var snapshot memory.Snapshot
	found := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		if err := memory.DecodeBucket(&snapshot, bucket, payload); err != nil {
			return err
		}
		found = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	if found {
		s.ImportState(snapshot)
	}
	return nil
}

func (s *Store) persist(ctx context.Context) (retErr error) {
	snapshot := s.ExportState()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range memory.Buckets {
		data, err := memory.EncodeBucket(snapshot, bucket)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	return tx.Commit()
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

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
