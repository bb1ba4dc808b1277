// Package core implements the media replication engine: it keeps one logical
// attachment consistent across every site of a network that shares upload
// storage but keeps separate entity and metadata records.
package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mlsync/pkg/domain"
)

// Operation names reported to metrics and tracers.
const (
	OpReplicateEntity     = "replicate_entity"
	OpReplicateMeta       = "replicate_meta"
	OpReplicateEntitySite = "replicate_entity.site"
	OpReplicateMetaSite   = "replicate_meta.site"
	OpAttachedFile        = "deferred_attached_file"
)

// Engine replicates entity and metadata events from the site they happen in
// to every other site of the network.
type Engine struct {
	sites           domain.Sites
	guard           SuppressionGuard
	links           IdentityLink
	filter          MetaFilter
	fanout          ContextFanout
	logger          Logger
	metrics         MetricsRecorder
	tracer          Tracer
	parallelism     int
	kind            domain.Kind
	attachedFileKey string
	extraExcluded   []string
}

// New constructs an engine over sites.
func New(sites domain.Sites, opts ...Option) *Engine {
	e := &Engine{
		sites:           sites,
		logger:          noopLogger{},
		metrics:         noopMetrics{},
		tracer:          noopTracer{},
		parallelism:     1,
		kind:            domain.KindAttachment,
		attachedFileKey: domain.MetaAttachedFile,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.filter = NewMetaFilter(e.extraExcluded...)
	e.fanout = NewContextFanout(sites, e.parallelism)
	return e
}

// Filter returns the metadata filter in use.
func (e *Engine) Filter() MetaFilter { return e.filter }

// Attach subscribes the engine's listeners on bus and returns a detach function.
func (e *Engine) Attach(bus *Bus) (detach func()) {
	entity := e.guard.Subscribe(bus, GroupEntity, e.onEntityEvent,
		EventEntityCreated, EventEntityEdited, EventEntityDeleted)
	metaUpdate := e.guard.Subscribe(bus, GroupMeta, e.onMetaUpdate,
		EventMetaAdded, EventMetaUpdated)
	metaDelete := e.guard.Subscribe(bus, GroupMeta, e.onMetaDelete, EventMetaDeleted)
	return func() {
		entity()
		metaUpdate()
		metaDelete()
	}
}

func (e *Engine) onEntityEvent(ctx context.Context, ev Event) {
	if ev.EntityKind != e.kind {
		return
	}
	var action domain.Action
	switch ev.Kind {
	case EventEntityCreated:
		action = domain.ActionCreate
	case EventEntityEdited:
		action = domain.ActionUpdate
	case EventEntityDeleted:
		action = domain.ActionDelete
	default:
		return
	}
	if _, err := e.ReplicateEntity(ctx, action, ev.EntityID); err != nil {
		e.logger.Warn("entity replication failed", "site", ev.Site, "entity", ev.EntityID, "action", action, "error", err)
	}
}

func (e *Engine) onMetaUpdate(ctx context.Context, ev Event) {
	var metaID int64
	if len(ev.MetaIDs) > 0 {
		metaID = ev.MetaIDs[0]
	}
	if _, err := e.ReplicateMeta(ctx, domain.ActionUpdate, metaID, ev.EntityID, ev.Key, ev.Value); err != nil {
		e.logPassError("meta replication failed", ev, err)
	}
}

func (e *Engine) onMetaDelete(ctx context.Context, ev Event) {
	if _, err := e.ReplicateMetaDelete(ctx, ev.MetaIDs, ev.EntityID, ev.Key, ev.Value); err != nil {
		e.logPassError("meta delete replication failed", ev, err)
	}
}

// logPassError downgrades the expected unlinked case: the storage layer writes
// the attached file before the entity is linked, and the deferred pass covers it.
func (e *Engine) logPassError(msg string, ev Event, err error) {
	if errors.Is(err, domain.ErrUnlinked) {
		e.logger.Debug(msg, "site", ev.Site, "entity", ev.EntityID, "key", ev.Key, "error", err)
		return
	}
	e.logger.Warn(msg, "site", ev.Site, "entity", ev.EntityID, "key", ev.Key, "error", err)
}

// origin enters the current site of ctx.
func (e *Engine) origin(ctx context.Context) (domain.Scope, error) {
	site, ok := e.sites.CurrentSite(ctx)
	if !ok {
		return nil, errors.New("no current site in context")
	}
	return e.sites.Enter(ctx, site)
}

func (e *Engine) observe(ctx context.Context, op string, start time.Time, err error) {
	e.metrics.Observe(ctx, op, err == nil, time.Since(start))
}

func (e *Engine) observeSites(ctx context.Context, op string, results []SiteResult, start time.Time) {
	for _, r := range results {
		e.metrics.Observe(ctx, op, r.Err == nil, time.Since(start))
	}
}

func (e *Engine) logSites(report Report) {
	for _, r := range report.Failed() {
		e.logger.Warn("site replay failed", "pass", report.Pass, "operation", report.Operation,
			"origin", report.Origin, "site", r.Site, "entity", report.EntityID, "key", report.Key, "error", r.Err)
	}
	e.logger.Info("replication pass complete", "pass", report.Pass, "operation", report.Operation,
		"action", report.Action, "origin", report.Origin, "entity", report.EntityID, "key", report.Key,
		"sites", len(report.Sites), "failed", len(report.Failed()))
}

func storeErr(site domain.SiteID, op string, err error) error {
	if err == nil {
		return nil
	}
	return &domain.StoreError{Site: site, Op: op, Err: err}
}

func unlinked(site domain.SiteID, entityID int64) error {
	return fmt.Errorf("site %d entity %d: %w", site, entityID, domain.ErrUnlinked)
}
