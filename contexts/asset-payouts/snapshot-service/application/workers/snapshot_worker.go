package workers

import (
	"context"
	"log/slog"
	"time"

	application "assetsnap/contexts/asset-payouts/snapshot-service/application"
	"assetsnap/contexts/asset-payouts/snapshot-service/application/commands"
	"assetsnap/contexts/asset-payouts/snapshot-service/domain/entities"
	"assetsnap/contexts/asset-payouts/snapshot-service/ports"
)

// SnapshotWorker processes at most one pending snapshot per RunOnce. Several
// workers may run against the same repository; the claim port keeps each
// snapshot with a single worker.
type SnapshotWorker struct {
	Snapshots ports.SnapshotRepository
	Processor commands.ProcessSnapshotUseCase
	Metrics   ports.Metrics
	Clock     ports.Clock
	Logger    *slog.Logger
}

// RunOnce returns only claim/storage errors. Processing failures are recorded
// on the snapshot itself.
func (w SnapshotWorker) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(w.Logger)
	started := w.now()

	snapshot, claimed, err := w.Snapshots.ClaimPendingSnapshot(ctx, w.Processor.Process)
	if err != nil {
		logger.Error("snapshot worker cycle failed",
			"event", "snapshot_worker_cycle_failed",
			"module", application.ModuleName,
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}
	if !claimed {
		logger.Debug("snapshot worker found no pending snapshot",
			"event", "snapshot_worker_idle",
			"module", application.ModuleName,
			"layer", "worker",
		)
		return nil
	}

	elapsed := w.now().Sub(started)
	var cause entities.FailureCause
	if snapshot.Failure != nil {
		cause = snapshot.Failure.Cause
	}
	if w.Metrics != nil {
		w.Metrics.ObserveSnapshotJob(snapshot.Status, cause, elapsed)
	}

	if snapshot.Status == entities.SnapshotStatusSuccess && snapshot.Success != nil {
		logger.Info("snapshot worker completed snapshot",
			"event", "snapshot_worker_snapshot_succeeded",
			"module", application.ModuleName,
			"layer", "worker",
			"snapshot_id", snapshot.ID,
			"tree_root_id", snapshot.Success.TreeRootID,
			"content_hash", snapshot.Success.ContentHash,
			"total_asset_amount", snapshot.Success.TotalAssetAmount.String(),
			"duration", elapsed.String(),
		)
		return nil
	}
	logger.Warn("snapshot worker recorded failed snapshot",
		"event", "snapshot_worker_snapshot_failed",
		"module", application.ModuleName,
		"layer", "worker",
		"snapshot_id", snapshot.ID,
		"status", string(snapshot.Status),
		"cause", string(cause),
		"duration", elapsed.String(),
	)
	return nil
}

func (w SnapshotWorker) now() time.Time {
	if w.Clock == nil {
		return time.Now().UTC()
	}
	return w.Clock.Now().UTC()
}
