package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mlsync/pkg/domain"
)

// ReplicateEntity replays an entity lifecycle action of the current site in
// every other site. Per-site failures are collected in the report; the
// returned error only covers failures before the fan-out started.
func (e *Engine) ReplicateEntity(ctx context.Context, action domain.Action, entityID int64) (Report, error) {
	start := time.Now()
	report := Report{Pass: uuid.NewString(), Operation: OpReplicateEntity, Action: action, EntityID: entityID}
	ctx, span := e.tracer.Start(WithPass(ctx, report.Pass), OpReplicateEntity)
	err := e.guard.WithSuppressed(ctx, GroupEntity, func(ctx context.Context) error {
		return e.replicateEntity(ctx, &report)
	})
	e.observe(ctx, OpReplicateEntity, start, err)
	span.End(err)
	if err != nil {
		e.logger.Warn("entity replication aborted", "pass", report.Pass, "action", action, "entity", entityID, "error", err)
		return report, err
	}
	e.logSites(report)
	return report, nil
}

func (e *Engine) replicateEntity(ctx context.Context, report *Report) error {
	switch report.Action {
	case domain.ActionCreate, domain.ActionUpdate, domain.ActionDelete:
	default:
		return fmt.Errorf("unsupported entity action %q", report.Action)
	}
	scope, err := e.origin(ctx)
	if err != nil {
		return err
	}
	defer scope.Exit()
	origin, sctx, store := scope.Site(), scope.Context(), scope.Store()
	report.Origin = origin
	e.logger.Debug("entity replication started", "pass", report.Pass, "action", report.Action, "origin", origin, "entity", report.EntityID)

	if report.Action == domain.ActionCreate {
		if err := e.links.SetLink(sctx, store, report.EntityID, report.EntityID); err != nil {
			return storeErr(origin, "set link", err)
		}
	}
	canonical, ok, err := e.links.GetCanonical(sctx, store, report.EntityID)
	if err != nil {
		return storeErr(origin, "get link", err)
	}
	if !ok {
		return unlinked(origin, report.EntityID)
	}
	report.Canonical = canonical

	var fields domain.Entity
	if report.Action != domain.ActionDelete {
		fields, err = store.GetEntity(sctx, report.EntityID)
		if err != nil {
			return storeErr(origin, "read entity", err)
		}
	}

	siteStart := time.Now()
	results, err := e.fanout.Each(ctx, origin, func(target domain.Scope) (int64, error) {
		return e.applyEntityAction(target, report.Action, fields, canonical)
	})
	if err != nil {
		return err
	}
	report.Sites = results
	e.observeSites(ctx, OpReplicateEntitySite, results, siteStart)

	if report.Action == domain.ActionCreate {
		deferred, err := e.SyncAttachedFile(ctx, report.EntityID)
		if err != nil {
			e.logger.Warn("attached file pass failed", "pass", report.Pass, "entity", report.EntityID, "error", err)
		}
		report.Deferred = &deferred
	}
	return nil
}

// applyEntityAction replays one action inside target. A create always inserts:
// an entity already linked to the canonical id may be a native entity of target
// whose local id collides with it.
func (e *Engine) applyEntityAction(target domain.Scope, action domain.Action, fields domain.Entity, canonical int64) (int64, error) {
	ctx, store, site := target.Context(), target.Store(), target.Site()
	switch action {
	case domain.ActionCreate:
		created, err := store.CreateEntity(ctx, fields.WithID(0))
		if err != nil {
			return 0, storeErr(site, "create entity", err)
		}
		if err := e.links.SetLink(ctx, store, created.ID, canonical); err != nil {
			return created.ID, storeErr(site, "set link", err)
		}
		return created.ID, nil
	case domain.ActionUpdate:
		replica, err := e.links.ResolveLocal(ctx, store, site, canonical)
		if err != nil {
			return 0, err
		}
		return e.updateReplica(target, replica, fields)
	case domain.ActionDelete:
		replica, err := e.links.ResolveLocal(ctx, store, site, canonical)
		if err != nil {
			return 0, err
		}
		return replica, storeErr(site, "delete entity", store.DeleteEntity(ctx, replica))
	default:
		return 0, fmt.Errorf("unsupported entity action %q", action)
	}
}

func (e *Engine) updateReplica(target domain.Scope, replica int64, fields domain.Entity) (int64, error) {
	_, err := target.Store().UpdateEntity(target.Context(), fields.WithID(replica))
	return replica, storeErr(target.Site(), "update entity", err)
}
