package core

import "mlsync/pkg/domain"

// MetaFilter decides which metadata keys stay local to their site.
type MetaFilter struct {
	excluded map[string]struct{}
}

// NewMetaFilter excludes the link key, the edit lock and any extra keys.
func NewMetaFilter(extra ...string) MetaFilter {
	f := MetaFilter{excluded: map[string]struct{}{
		domain.MetaSyncedID: {},
		domain.MetaEditLock: {},
	}}
	for _, k := range extra {
		if k != "" {
			f.excluded[k] = struct{}{}
		}
	}
	return f
}

// Excluded reports whether key must not be replicated.
func (f MetaFilter) Excluded(key string) bool {
	_, ok := f.excluded[key]
	return ok
}
