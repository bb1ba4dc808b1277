package core

import "context"

// Group is a set of listener groups that can be suppressed together.
type Group uint8

const (
	// GroupEntity covers entity lifecycle listeners.
	GroupEntity Group = 1 << iota
	// GroupMeta covers metadata lifecycle listeners.
	GroupMeta
)

type suppressionKey struct{}

// SuppressionGuard keeps the engine's own replicated writes from re-entering
// its listeners. Suppression is carried in the context.Context of the guarded
// call, so it ends with the call on every exit path and never leaks between
// concurrent passes.
type SuppressionGuard struct{}

// WithSuppressed runs fn with groups suppressed in the context handed to fn.
func (SuppressionGuard) WithSuppressed(ctx context.Context, groups Group, fn func(ctx context.Context) error) error {
	current, _ := ctx.Value(suppressionKey{}).(Group)
	return fn(context.WithValue(ctx, suppressionKey{}, current|groups))
}

// Suppressed reports whether any of groups is suppressed in ctx.
func (SuppressionGuard) Suppressed(ctx context.Context, groups Group) bool {
	current, _ := ctx.Value(suppressionKey{}).(Group)
	return current&groups != 0
}

// Subscribe registers h on bus for kinds; h is skipped while group is suppressed.
func (g SuppressionGuard) Subscribe(bus *Bus, group Group, h Handler, kinds ...EventKind) (unsubscribe func()) {
	wrapped := func(ctx context.Context, ev Event) {
		if g.Suppressed(ctx, group) {
			return
		}
		h(ctx, ev)
	}
	unsubs := make([]func(), 0, len(kinds))
	for _, kind := range kinds {
		unsubs = append(unsubs, bus.Subscribe(kind, wrapped))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
