package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mlsync/pkg/domain"
)

// ReplicateMeta replays a metadata write (ActionUpdate) or removal
// (ActionDelete) of the current site in every other site. Excluded keys and
// entities of other kinds are skipped without error.
func (e *Engine) ReplicateMeta(ctx context.Context, action domain.Action, metaID, entityID int64, key, value string) (Report, error) {
	start := time.Now()
	report := Report{Pass: uuid.NewString(), Operation: OpReplicateMeta, Action: action, EntityID: entityID, MetaID: metaID, Key: key}
	if action != domain.ActionUpdate && action != domain.ActionDelete {
		return report, fmt.Errorf("unsupported meta action %q", action)
	}
	if e.filter.Excluded(key) {
		report.Skipped = "excluded key"
		return report, nil
	}

	scope, err := e.origin(ctx)
	if err != nil {
		return report, err
	}
	defer scope.Exit()
	report.Origin = scope.Site()
	entity, err := scope.Store().GetEntity(scope.Context(), entityID)
	switch {
	case domain.IsNotFound(err):
		report.Skipped = "entity not found"
		return report, nil
	case err != nil:
		return report, storeErr(report.Origin, "read entity", err)
	case entity.Kind != e.kind:
		report.Skipped = "kind " + string(entity.Kind)
		return report, nil
	}

	ctx, span := e.tracer.Start(WithPass(ctx, report.Pass), OpReplicateMeta)
	err = e.guard.WithSuppressed(ctx, GroupMeta, func(ctx context.Context) error {
		return e.replicateMeta(ctx, scope, &report, value)
	})
	e.observe(ctx, OpReplicateMeta, start, err)
	span.End(err)
	if err != nil {
		return report, err
	}
	e.logSites(report)
	return report, nil
}

func (e *Engine) replicateMeta(ctx context.Context, origin domain.Scope, report *Report, value string) error {
	canonical, ok, err := e.links.GetCanonical(origin.Context(), origin.Store(), report.EntityID)
	if err != nil {
		return storeErr(report.Origin, "get link", err)
	}
	if !ok {
		return unlinked(report.Origin, report.EntityID)
	}
	report.Canonical = canonical
	e.logger.Debug("meta replication started", "pass", report.Pass, "action", report.Action, "origin", report.Origin, "entity", report.EntityID, "key", report.Key)

	siteStart := time.Now()
	results, err := e.fanout.Each(ctx, report.Origin, func(target domain.Scope) (int64, error) {
		tctx, store, site := target.Context(), target.Store(), target.Site()
		replica, err := e.links.ResolveLocal(tctx, store, site, canonical)
		if err != nil {
			return 0, err
		}
		if report.Action == domain.ActionUpdate {
			_, _, err = store.SetMeta(tctx, replica, report.Key, value)
			return replica, storeErr(site, "set meta", err)
		}
		_, err = store.DeleteMeta(tctx, replica, report.Key, value)
		return replica, storeErr(site, "delete meta", err)
	})
	if err != nil {
		return err
	}
	report.Sites = results
	e.observeSites(ctx, OpReplicateMetaSite, results, siteStart)
	return nil
}

// ReplicateMetaDelete replicates a batch delete notification: each removed row
// is replayed as its own delete pass.
func (e *Engine) ReplicateMetaDelete(ctx context.Context, metaIDs []int64, entityID int64, key, value string) ([]Report, error) {
	reports := make([]Report, 0, len(metaIDs))
	var errs []error
	for _, id := range metaIDs {
		report, err := e.ReplicateMeta(ctx, domain.ActionDelete, id, entityID, key, value)
		reports = append(reports, report)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return reports, errors.Join(errs...)
}
