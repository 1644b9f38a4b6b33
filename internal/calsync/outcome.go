package calsync

import (
	"context"
	"time"

	"github.com/jw6ventures/planner/internal/logging"
	"github.com/jw6ventures/planner/internal/metrics"
)

const (
	opReconcile = "reconcile"
	opPull      = "pull"
	opClear     = "clear"
)

// Outcome summarizes one invocation. Remote failures are counted here rather than returned.
// Recreated counts updates that found the remote copy gone and inserted it again.
type Outcome struct {
	Op             string        `json:"-"`
	Created        int           `json:"created"`
	Updated        int           `json:"updated"`
	Recreated      int           `json:"recreated"`
	Deleted        int           `json:"deleted"`
	Failed         int           `json:"failed"`
	Pruned         int           `json:"pruned"`
	Imported       int           `json:"imported"`
	Skipped        int           `json:"skipped"`
	Partial        bool          `json:"partial"`
	LocalOnly      bool          `json:"localOnly"`
	RelinkRequired bool          `json:"relinkRequired"`
	Duration       time.Duration `json:"-"`
}

func (o Outcome) status(err error) string {
	switch {
	case err != nil:
		return "error"
	case o.RelinkRequired:
		return "relink_required"
	case o.LocalOnly:
		return "local_only"
	case o.Partial:
		return "partial"
	case o.Failed > 0:
		return "degraded"
	}
	return "ok"
}

func (o *Outcome) report(ctx context.Context, ownerID string, started time.Time, err error) {
	o.Duration = time.Since(started)
	status := o.status(err)

	metrics.ObserveSyncRun(o.Op, status)
	metrics.ObserveSyncRecords(o.Op, "created", o.Created)
	metrics.ObserveSyncRecords(o.Op, "updated", o.Updated)
	metrics.ObserveSyncRecords(o.Op, "recreated", o.Recreated)
	metrics.ObserveSyncRecords(o.Op, "deleted", o.Deleted)
	metrics.ObserveSyncRecords(o.Op, "failed", o.Failed)
	metrics.ObserveSyncRecords(o.Op, "pruned", o.Pruned)
	metrics.ObserveSyncRecords(o.Op, "imported", o.Imported)
	metrics.ObserveSyncRecords(o.Op, "skipped", o.Skipped)

	attrs := []any{
		"owner", ownerID,
		"op", o.Op,
		"status", status,
		"created", o.Created,
		"updated", o.Updated,
		"recreated", o.Recreated,
		"deleted", o.Deleted,
		"failed", o.Failed,
		"pruned", o.Pruned,
		"imported", o.Imported,
		"skipped", o.Skipped,
		"partial", o.Partial,
		"relink_required", o.RelinkRequired,
		"duration", o.Duration,
	}
	logger := logging.FromContext(ctx)
	if err != nil {
		logger.Error("calendar sync failed", append(attrs, "error", err)...)
		return
	}
	logger.Info("calendar sync finished", attrs...)
}
