package core

import (
	"context"
	"fmt"
	"sort"

	"mlsync/pkg/domain"
)

// FindingKind classifies an audit finding.
type FindingKind string

const (
	FindingUnlinked  FindingKind = "unlinked"
	FindingMissing   FindingKind = "missing"
	FindingDuplicate FindingKind = "duplicate"
	FindingOrphan    FindingKind = "orphan"
)

// Finding is one inconsistency between the sites of a network.
type Finding struct {
	Kind      FindingKind
	Site      domain.SiteID
	Canonical int64
	Entities  []int64
}

func (f Finding) String() string {
	switch f.Kind {
	case FindingUnlinked:
		return fmt.Sprintf("site %d: entity %v has no canonical link", f.Site, f.Entities)
	case FindingMissing:
		return fmt.Sprintf("site %d: no replica of canonical %d", f.Site, f.Canonical)
	case FindingOrphan:
		return fmt.Sprintf("canonical %d: no site holds the canonical entity", f.Canonical)
	default:
		return fmt.Sprintf("site %d: canonical %d held by %v", f.Site, f.Canonical, f.Entities)
	}
}

// Audit walks every site and reports replicated-kind entities that are
// unlinked, canonical ids with no replica in some site, canonical ids held by
// more than one entity of a site, and links whose canonical entity (the one
// linked to its own id) no longer exists anywhere. Findings are ordered by
// canonical id, then site.
func (e *Engine) Audit(ctx context.Context) ([]Finding, error) {
	sites, err := e.sites.ListSites(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	holders := make(map[int64]map[domain.SiteID][]int64)
	selfLinked := make(map[int64]bool)
	var findings []Finding
	for _, site := range sites {
		unlinkedIDs, err := e.auditSite(ctx, site, holders, selfLinked)
		if err != nil {
			return nil, err
		}
		if len(unlinkedIDs) > 0 {
			findings = append(findings, Finding{Kind: FindingUnlinked, Site: site, Entities: unlinkedIDs})
		}
	}

	canonicals := make([]int64, 0, len(holders))
	for c := range holders {
		canonicals = append(canonicals, c)
	}
	sort.Slice(canonicals, func(i, j int) bool { return canonicals[i] < canonicals[j] })
	for _, c := range canonicals {
		if !selfLinked[c] {
			findings = append(findings, Finding{Kind: FindingOrphan, Canonical: c})
		}
		for _, site := range sites {
			ids := holders[c][site]
			switch {
			case len(ids) == 0:
				findings = append(findings, Finding{Kind: FindingMissing, Site: site, Canonical: c})
			case len(ids) > 1:
				findings = append(findings, Finding{Kind: FindingDuplicate, Site: site, Canonical: c, Entities: ids})
			}
		}
	}
	e.logger.Info("audit complete", "sites", len(sites), "canonicals", len(canonicals), "findings", len(findings))
	return findings, nil
}

func (e *Engine) auditSite(ctx context.Context, site domain.SiteID, holders map[int64]map[domain.SiteID][]int64, selfLinked map[int64]bool) ([]int64, error) {
	scope, err := e.sites.Enter(ctx, site)
	if err != nil {
		return nil, &domain.SiteError{Site: site, Err: err}
	}
	defer scope.Exit()
	entities, err := scope.Store().ListEntities(scope.Context(), e.kind)
	if err != nil {
		return nil, storeErr(site, "list entities", err)
	}
	var unlinkedIDs []int64
	for _, ent := range entities {
		canonical, ok, err := e.links.GetCanonical(scope.Context(), scope.Store(), ent.ID)
		if err != nil {
			return nil, storeErr(site, "get link", err)
		}
		if !ok {
			unlinkedIDs = append(unlinkedIDs, ent.ID)
			continue
		}
		if canonical == ent.ID {
			selfLinked[canonical] = true
		}
		if holders[canonical] == nil {
			holders[canonical] = make(map[domain.SiteID][]int64)
		}
		holders[canonical][site] = append(holders[canonical][site], ent.ID)
	}
	return unlinkedIDs, nil
}
