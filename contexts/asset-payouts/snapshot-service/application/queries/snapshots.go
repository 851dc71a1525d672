package queries

import (
	"context"
	"log/slog"
	"strings"

	application "assetsnap/contexts/asset-payouts/snapshot-service/application"
	"assetsnap/contexts/asset-payouts/snapshot-service/domain/entities"
	domainerrors "assetsnap/contexts/asset-payouts/snapshot-service/domain/errors"
	"assetsnap/contexts/asset-payouts/snapshot-service/ports"
)

type SnapshotQueries struct {
	Snapshots ports.SnapshotRepository
	Logger    *slog.Logger
}

func (q SnapshotQueries) GetSnapshot(ctx context.Context, snapshotID string) (entities.AssetSnapshot, error) {
	snapshotID = strings.TrimSpace(snapshotID)
	if snapshotID == "" {
		return entities.AssetSnapshot{}, domainerrors.ErrSnapshotNotFound
	}
	snapshot, found, err := q.Snapshots.GetSnapshot(ctx, snapshotID)
	if err != nil {
		application.ResolveLogger(q.Logger).Error("snapshot lookup failed",
			"event", "snapshot_get_failed",
			"module", application.ModuleName,
			"layer", "application",
			"snapshot_id", snapshotID,
			"error", err.Error(),
		)
		return entities.AssetSnapshot{}, err
	}
	if !found {
		return entities.AssetSnapshot{}, domainerrors.ErrSnapshotNotFound
	}
	return snapshot, nil
}

func (q SnapshotQueries) ListSnapshots(
	ctx context.Context,
	projectID string,
	statuses []entities.SnapshotStatus,
) ([]entities.AssetSnapshot, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, domainerrors.ErrInvalidSnapshotInput
	}
	for _, status := range statuses {
		if !status.Valid() {
			return nil, domainerrors.ErrInvalidSnapshotInput
		}
	}
	return q.Snapshots.ListSnapshots(ctx, projectID, statuses)
}
