package core

import (
	"context"
	"sync"

	"mlsync/pkg/domain"
)

// EventKind names a lifecycle event emitted by a site store.
type EventKind string

const (
	EventEntityCreated EventKind = "entity.created"
	EventEntityEdited  EventKind = "entity.edited"
	EventEntityDeleted EventKind = "entity.deleted"
	EventMetaAdded     EventKind = "meta.added"
	EventMetaUpdated   EventKind = "meta.updated"
	EventMetaDeleted   EventKind = "meta.deleted"
)

// Event describes one change inside a site. Meta events carry the affected row
// ids; a delete may remove several rows sharing one key/value.
type Event struct {
	Kind       EventKind
	Site       domain.SiteID
	EntityID   int64
	EntityKind domain.Kind
	MetaIDs    []int64
	Key        string
	Value      string
}

// Handler reacts to an event. ctx is the context of the mutation that raised it.
type Handler func(ctx context.Context, ev Event)

// Publisher delivers events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a synchronous typed event bus. Handlers run on the publishing
// goroutine in subscription order and may publish further events.
type Bus struct {
	mu   sync.RWMutex
	next uint64
	subs map[EventKind][]subscription
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventKind][]subscription)}
}

// Subscribe registers h for kind and returns a function removing it again.
func (b *Bus) Subscribe(kind EventKind, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[kind] = append(b.subs[kind], subscription{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[kind]
			for i, s := range subs {
				if s.id == id {
					b.subs[kind] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish invokes every handler subscribed to ev.Kind.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[ev.Kind]...)
	b.mu.RUnlock()
	for _, s := range subs {
		s.handler(ctx, ev)
	}
}

// Subscribers returns the number of handlers registered for kind.
func (b *Bus) Subscribers(kind EventKind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[kind])
}
