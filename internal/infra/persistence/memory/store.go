// Package memory provides an in-memory site store used for tests, ephemeral
// environments and as the working set of the snapshotting SQL stores.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"mlsync/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store satisfies the site store interface.
var _ domain.SiteStore = (*Store)(nil)

type (
	// Entity aliases domain.Entity for in-memory persistence operations.
	Entity = domain.Entity
	// MetaRow aliases domain.MetaRow.
	MetaRow = domain.MetaRow
)

// Sequence holds the next identifiers issued by a store.
type Sequence struct {
	NextEntityID int64 `json:"next_entity_id"`
	NextMetaID   int64 `json:"next_meta_id"`
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Entities map[int64]Entity  `json:"entities"`
	Meta     map[int64]MetaRow `json:"meta"`
	Sequence Sequence          `json:"sequence"`
}

type memoryState struct {
	entities map[int64]Entity
	meta     map[int64]MetaRow
	seq      Sequence
}

func newMemoryState() memoryState {
	return memoryState{
		entities: make(map[int64]Entity),
		meta:     make(map[int64]MetaRow),
		seq:      Sequence{NextEntityID: 1, NextMetaID: 1},
	}
}

func (s memoryState) clone() memoryState {
	cloned := memoryState{
		entities: make(map[int64]Entity, len(s.entities)),
		meta:     make(map[int64]MetaRow, len(s.meta)),
		seq:      s.seq,
	}
	for k, v := range s.entities {
		cloned.entities[k] = v.Clone()
	}
	for k, v := range s.meta {
		cloned.meta[k] = v
	}
	return cloned
}

// Store is an in-memory entity and metadata store for a single site.
type Store struct {
	mu    sync.RWMutex
	site  domain.SiteID
	state memoryState
}

// NewStore constructs an empty store for site.
func NewStore(site domain.SiteID) *Store {
	return &Store{site: site, state: newMemoryState()}
}

// Site returns the site this store belongs to.
func (s *Store) Site() domain.SiteID { return s.site }

// CreateEntity inserts e with a freshly issued id; any id on e is ignored.
func (s *Store) CreateEntity(_ context.Context, e Entity) (Entity, error) {
	if e.Kind == "" {
		return Entity{}, fmt.Errorf("site %d: entity kind required", s.site)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	created := e.WithID(s.state.seq.NextEntityID)
	s.state.seq.NextEntityID++
	s.state.entities[created.ID] = created
	return created.Clone(), nil
}

// GetEntity returns the entity with id.
func (s *Store) GetEntity(_ context.Context, id int64) (Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.state.entities[id]
	if !ok {
		return Entity{}, domain.ErrNotFound{Site: s.site, ID: id}
	}
	return e.Clone(), nil
}

// UpdateEntity overwrites the stored fields of e.ID.
func (s *Store) UpdateEntity(_ context.Context, e Entity) (Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.state.entities[e.ID]
	if !ok {
		return Entity{}, domain.ErrNotFound{Site: s.site, ID: e.ID}
	}
	updated := e.Clone()
	if updated.Kind == "" {
		updated.Kind = current.Kind
	}
	s.state.entities[e.ID] = updated
	return updated.Clone(), nil
}

// DeleteEntity removes the entity together with its metadata.
func (s *Store) DeleteEntity(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.entities[id]; !ok {
		return domain.ErrNotFound{Site: s.site, ID: id}
	}
	delete(s.state.entities, id)
	for rowID, row := range s.state.meta {
		if row.EntityID == id {
			delete(s.state.meta, rowID)
		}
	}
	return nil
}

// ListEntities returns entities of kind ordered by id. An empty kind lists all.
func (s *Store) ListEntities(_ context.Context, kind domain.Kind) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entity, 0, len(s.state.entities))
	for _, e := range s.state.entities {
		if kind != "" && e.Kind != kind {
			continue
		}
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetMeta returns the value stored for key on entityID.
func (s *Store) GetMeta(_ context.Context, entityID int64, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if row, ok := s.findRow(entityID, key); ok {
		return row.Value, true, nil
	}
	return "", false, nil
}

// SetMeta upserts key=value on entityID.
func (s *Store) SetMeta(_ context.Context, entityID int64, key, value string) (MetaRow, bool, error) {
	if key == "" {
		return MetaRow{}, false, fmt.Errorf("site %d: meta key required", s.site)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.entities[entityID]; !ok {
		return MetaRow{}, false, domain.ErrNotFound{Site: s.site, ID: entityID}
	}
	if row, ok := s.findRow(entityID, key); ok {
		row.Value = value
		s.state.meta[row.ID] = row
		return row, false, nil
	}
	row := MetaRow{ID: s.state.seq.NextMetaID, EntityID: entityID, Key: key, Value: value}
	s.state.seq.NextMetaID++
	s.state.meta[row.ID] = row
	return row, true, nil
}

// DeleteMeta removes key from entityID, restricted to value when non-empty.
func (s *Store) DeleteMeta(_ context.Context, entityID int64, key, value string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []int64
	for rowID, row := range s.state.meta {
		if row.EntityID != entityID || row.Key != key {
			continue
		}
		if value != "" && row.Value != value {
			continue
		}
		delete(s.state.meta, rowID)
		removed = append(removed, rowID)
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i] < removed[j] })
	return removed, nil
}

// FindByMeta returns the ids of entities holding key=value, ascending.
func (s *Store) FindByMeta(_ context.Context, key, value string) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []int64
	for _, row := range s.state.meta {
		if row.Key == key && row.Value == value {
			ids = append(ids, row.EntityID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// ListMeta returns every metadata row of entityID ordered by row id.
func (s *Store) ListMeta(_ context.Context, entityID int64) ([]MetaRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rows []MetaRow
	for _, row := range s.state.meta {
		if row.EntityID == entityID {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows, nil
}

func (s *Store) findRow(entityID int64, key string) (MetaRow, bool) {
	for _, row := range s.state.meta {
		if row.EntityID == entityID && row.Key == key {
			return row, true
		}
	}
	return MetaRow{}, false
}

// ExportState returns a deep copy of the current state.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cloned := s.state.clone()
	return Snapshot{Entities: cloned.entities, Meta: cloned.meta, Sequence: cloned.seq}
}

// ImportState replaces the current state with snapshot. Sequences are raised
// past the highest imported ids so new records never collide.
func (s *Store) ImportState(snapshot Snapshot) {
	state := newMemoryState()
	for k, v := range snapshot.Entities {
		state.entities[k] = v.Clone()
		if k >= state.seq.NextEntityID {
			state.seq.NextEntityID = k + 1
		}
	}
	for k, v := range snapshot.Meta {
		state.meta[k] = v
		if k >= state.seq.NextMetaID {
			state.seq.NextMetaID = k + 1
		}
	}
	if snapshot.Sequence.NextEntityID > state.seq.NextEntityID {
		state.seq.NextEntityID = snapshot.Sequence.NextEntityID
	}
	if snapshot.Sequence.NextMetaID > state.seq.NextMetaID {
		state.seq.NextMetaID = snapshot.Sequence.NextMetaID
	}
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}
