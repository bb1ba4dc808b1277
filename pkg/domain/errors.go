package domain

import (
	"errors"
	"fmt"
)

// ErrUnlinked reports an entity without a canonical link.
var ErrUnlinked = errors.New("entity has no canonical link")

// ErrNotFound is returned when a site has no record with the requested id.
type ErrNotFound struct {
	Site SiteID
	ID   int64
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("site %d: entity %d not found", e.Site, e.ID)
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf)
}

// UnresolvedLinkError is returned when a site holds zero or several replicas
// for one canonical id.
type UnresolvedLinkError struct {
	Site      SiteID
	Canonical int64
	Matches   int
}

func (e *UnresolvedLinkError) Error() string {
	if e.Matches == 0 {
		return fmt.Sprintf("site %d: no replica linked to canonical %d", e.Site, e.Canonical)
	}
	return fmt.Sprintf("site %d: %d replicas linked to canonical %d", e.Site, e.Matches, e.Canonical)
}

// StoreError wraps a failing collaborator call.
type StoreError struct {
	Site SiteID
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("site %d: %s: %v", e.Site, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// SiteError records the failure of one site during a fan-out.
type SiteError struct {
	Site SiteID
	Err  error
}

func (e *SiteError) Error() string { return fmt.Sprintf("replicate to site %d: %v", e.Site, e.Err) }

func (e *SiteError) Unwrap() error { return e.Err }
