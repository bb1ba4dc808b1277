package core

import (
	"context"
	"time"

	"mlsync/pkg/domain"
)

// SyncAttachedFile re-sends the attached-file key of entityID from the current
// site. The storage layer writes that key before the new entity is linked, so
// the regular meta listener cannot resolve it; this pass runs once the create
// fan-out has linked every replica.
func (e *Engine) SyncAttachedFile(ctx context.Context, entityID int64) (Report, error) {
	start := time.Now()
	report := Report{Operation: OpAttachedFile, Action: domain.ActionUpdate, EntityID: entityID, Key: e.attachedFileKey}
	scope, err := e.origin(ctx)
	if err != nil {
		return report, err
	}
	report.Origin = scope.Site()
	value, ok, err := scope.Store().GetMeta(scope.Context(), entityID, e.attachedFileKey)
	scope.Exit()
	if err != nil {
		err = storeErr(report.Origin, "get meta", err)
		e.observe(ctx, OpAttachedFile, start, err)
		return report, err
	}
	if !ok {
		report.Skipped = "no attached file"
		return report, nil
	}
	report, err = e.ReplicateMeta(ctx, domain.ActionUpdate, 0, entityID, e.attachedFileKey, value)
	report.Operation = OpAttachedFile
	e.observe(ctx, OpAttachedFile, start, err)
	return report, err
}
