package commands

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	application "assetsnap/contexts/asset-payouts/snapshot-service/application"
	"assetsnap/contexts/asset-payouts/snapshot-service/domain/entities"
	domainerrors "assetsnap/contexts/asset-payouts/snapshot-service/domain/errors"
	"assetsnap/contexts/asset-payouts/snapshot-service/ports"
)

// SubmitSnapshotUseCase records a PENDING snapshot. Chain reads happen later in
// the worker.
type SubmitSnapshotUseCase struct {
	Snapshots   ports.SnapshotRepository
	Clock       ports.Clock
	IDGenerator ports.IDGenerator
	Logger      *slog.Logger
}

func (u SubmitSnapshotUseCase) Execute(ctx context.Context, params ports.SnapshotParams) (string, error) {
	logger := application.ResolveLogger(u.Logger)
	params.ProjectID = strings.TrimSpace(params.ProjectID)
	params.Name = strings.TrimSpace(params.Name)
	if params.ProjectID == "" ||
		params.Name == "" ||
		params.ChainID <= 0 ||
		params.AssetContract == (common.Address{}) {
		logger.Warn("snapshot submit invalid input",
			"event", "snapshot_submit_invalid_input",
			"module", application.ModuleName,
			"layer", "application",
			"project_id", params.ProjectID,
			"chain_id", params.ChainID,
			"asset_contract", params.AssetContract.Hex(),
		)
		return "", domainerrors.ErrInvalidSnapshotInput
	}

	snapshotID, err := u.IDGenerator.NewID(ctx)
	if err != nil {
		logger.Error("snapshot id generation failed",
			"event", "snapshot_submit_id_generation_failed",
			"module", application.ModuleName,
			"layer", "application",
			"error", err.Error(),
		)
		return "", err
	}

	now := u.now()
	snapshot := entities.AssetSnapshot{
		ID:             snapshotID,
		ProjectID:      params.ProjectID,
		Name:           params.Name,
		ChainID:        params.ChainID,
		AssetContract:  params.AssetContract,
		BlockNumber:    params.BlockNumber,
		IgnoredHolders: uniqueAddresses(params.IgnoredHolders),
		Status:         entities.SnapshotStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := u.Snapshots.CreateSnapshot(ctx, snapshot); err != nil {
		logger.Error("snapshot create failed",
			"event", "snapshot_submit_create_failed",
			"module", application.ModuleName,
			"layer", "application",
			"snapshot_id", snapshot.ID,
			"project_id", snapshot.ProjectID,
			"error", err.Error(),
		)
		return "", err
	}

	logger.Info("snapshot submitted",
		"event", "snapshot_submitted",
		"module", application.ModuleName,
		"layer", "application",
		"snapshot_id", snapshot.ID,
		"project_id", snapshot.ProjectID,
		"chain_id", snapshot.ChainID,
		"asset_contract", snapshot.AssetContract.Hex(),
		"block_number", snapshot.BlockNumber,
		"ignored_holders", len(snapshot.IgnoredHolders),
	)
	return snapshot.ID, nil
}

func (u SubmitSnapshotUseCase) now() time.Time {
	if u.Clock == nil {
		return time.Now().UTC()
	}
	return u.Clock.Now().UTC()
}

func uniqueAddresses(in []common.Address) []common.Address {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[common.Address]struct{}, len(in))
	out := make([]common.Address, 0, len(in))
	for _, address := range in {
		if _, ok := seen[address]; ok {
			continue
		}
		seen[address] = struct{}{}
		out = append(out, address)
	}
	return out
}
