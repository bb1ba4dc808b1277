// Package multisite models a network of sites sharing one upload store but
// keeping separate entity and metadata records. The current site travels in
// the context.Context; entering a site derives a new context instead of
// mutating shared selection state.
package multisite

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"mlsync/internal/core"
	"mlsync/pkg/domain"
)

var _ domain.Sites = (*Network)(nil)

// ErrUnknownSite is returned when entering a site that was never added.
var ErrUnknownSite = errors.New("unknown site")

type currentSiteKey struct{}

// WithSite returns ctx with site as the current site.
func WithSite(ctx context.Context, site domain.SiteID) context.Context {
	return context.WithValue(ctx, currentSiteKey{}, site)
}

// Network is the set of sites taking part in replication.
type Network struct {
	mu     sync.RWMutex
	sites  map[domain.SiteID]*hookedStore
	bus    core.Publisher
	active atomic.Int64
}

// NewNetwork returns an empty network publishing store events to bus. A nil
// bus discards events.
func NewNetwork(bus core.Publisher) *Network {
	if bus == nil {
		bus = discard{}
	}
	return &Network{sites: make(map[domain.SiteID]*hookedStore), bus: bus}
}

type discard struct{}

func (discard) Publish(context.Context, core.Event) {}

// AddSite registers store under id.
func (n *Network) AddSite(id domain.SiteID, store domain.SiteStore) error {
	if id <= 0 {
		return fmt.Errorf("site id must be positive, got %d", id)
	}
	if store == nil {
		return fmt.Errorf("site %d: nil store", id)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.sites[id]; ok {
		return fmt.Errorf("site %d already registered", id)
	}
	n.sites[id] = &hookedStore{site: id, inner: store, bus: n.bus}
	return nil
}

// Sites returns every site id in ascending order.
func (n *Network) Sites() []domain.SiteID {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]domain.SiteID, 0, len(n.sites))
	for id := range n.sites {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ListSites returns every site but exclude in ascending order.
func (n *Network) ListSites(_ context.Context, exclude domain.SiteID) ([]domain.SiteID, error) {
	all := n.Sites()
	out := all[:0]
	for _, id := range all {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out, nil
}

// CurrentSite returns the site ctx was entered into.
func (n *Network) CurrentSite(ctx context.Context) (domain.SiteID, bool) {
	site, ok := ctx.Value(currentSiteKey{}).(domain.SiteID)
	return site, ok
}

// Enter makes site current for the returned scope's context.
func (n *Network) Enter(ctx context.Context, site domain.SiteID) (domain.Scope, error) {
	store, err := n.store(site)
	if err != nil {
		return nil, err
	}
	n.active.Add(1)
	return &scope{network: n, site: site, ctx: WithSite(ctx, site), store: store}, nil
}

// ActiveScopes returns the number of entered scopes not yet exited.
func (n *Network) ActiveScopes() int64 { return n.active.Load() }

// Store returns the event-publishing store of site.
func (n *Network) Store(site domain.SiteID) (domain.SiteStore, error) {
	store, err := n.store(site)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func (n *Network) store(site domain.SiteID) (*hookedStore, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	store, ok := n.sites[site]
	if !ok {
		return nil, fmt.Errorf("site %d: %w", site, ErrUnknownSite)
	}
	return store, nil
}

// CreateAttachment creates e in the current site the way the upload handler
// does: the entity row first, then the attached-file key while the entity is
// still unlinked, and only then the created event.
func (n *Network) CreateAttachment(ctx context.Context, e domain.Entity, attachedFile string) (domain.Entity, error) {
	site, ok := n.CurrentSite(ctx)
	if !ok {
		return domain.Entity{}, errors.New("no current site in context")
	}
	store, err := n.store(site)
	if err != nil {
		return domain.Entity{}, err
	}
	if e.Kind == "" {
		e.Kind = domain.KindAttachment
	}
	created, err := store.inner.CreateEntity(ctx, e)
	if err != nil {
		return domain.Entity{}, err
	}
	if attachedFile != "" {
		if _, _, err := store.SetMeta(ctx, created.ID, domain.MetaAttachedFile, attachedFile); err != nil {
			return created, err
		}
	}
	store.publishEntity(ctx, core.EventEntityCreated, created)
	return created, nil
}

type scope struct {
	network *Network
	site    domain.SiteID
	ctx     context.Context
	store   domain.SiteStore
	once    sync.Once
}

func (s *scope) Site() domain.SiteID      { return s.site }
func (s *scope) Context() context.Context { return s.ctx }
func (s *scope) Store() domain.SiteStore  { return s.store }
func (s *scope) Exit()                    { s.once.Do(func() { s.network.active.Add(-1) }) }
