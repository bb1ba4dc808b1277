package core

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"mlsync/pkg/domain"
)

// SiteResult is the outcome of one site's replay.
type SiteResult struct {
	Site    domain.SiteID
	Replica int64
	Err     error
}

// SiteAction replays an operation inside an entered site and returns the local
// id it touched.
type SiteAction func(scope domain.Scope) (int64, error)

// ContextFanout applies an action to every site except the origin. Each site is
// bracketed by Enter/Exit and fails independently of the others.
type ContextFanout struct {
	sites       domain.Sites
	parallelism int
}

// NewContextFanout returns a fanout over sites. parallelism > 1 replays up to
// that many sites concurrently.
func NewContextFanout(sites domain.Sites, parallelism int) ContextFanout {
	if parallelism < 1 {
		parallelism = 1
	}
	return ContextFanout{sites: sites, parallelism: parallelism}
}

// Each runs action for every site but origin, returning one result per site in
// directory order. Only a failing directory lookup is returned as an error.
func (f ContextFanout) Each(ctx context.Context, origin domain.SiteID, action SiteAction) ([]SiteResult, error) {
	targets, err := f.sites.ListSites(ctx, origin)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	results := make([]SiteResult, len(targets))
	if f.parallelism == 1 || len(targets) < 2 {
		for i, site := range targets {
			results[i] = f.replay(ctx, site, action)
		}
		return results, nil
	}
	var g errgroup.Group
	g.SetLimit(f.parallelism)
	for i, site := range targets {
		g.Go(func() error {
			results[i] = f.replay(ctx, site, action)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func (f ContextFanout) replay(ctx context.Context, site domain.SiteID, action SiteAction) SiteResult {
	scope, err := f.sites.Enter(ctx, site)
	if err != nil {
		return SiteResult{Site: site, Err: &domain.SiteError{Site: site, Err: err}}
	}
	defer scope.Exit()
	replica, err := action(scope)
	if err != nil {
		return SiteResult{Site: site, Replica: replica, Err: &domain.SiteError{Site: site, Err: err}}
	}
	return SiteResult{Site: site, Replica: replica}
}
