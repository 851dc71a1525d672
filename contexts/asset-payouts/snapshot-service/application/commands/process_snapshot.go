package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	application "assetsnap/contexts/asset-payouts/snapshot-service/application"
	"assetsnap/contexts/asset-payouts/snapshot-service/domain/entities"
	domainerrors "assetsnap/contexts/asset-payouts/snapshot-service/domain/errors"
	"assetsnap/contexts/asset-payouts/snapshot-service/domain/merkle"
	"assetsnap/contexts/asset-payouts/snapshot-service/ports"
)

// ProcessSnapshotUseCase builds the tree for one claimed snapshot. It never
// returns an error: every failure becomes a FAILED outcome with a cause.
type ProcessSnapshotUseCase struct {
	Chain          ports.ChainConnector
	Content        ports.ContentStore
	Clock          ports.Clock
	HashFunction   merkle.HashFunction
	ScanStartBlock uint64
	Logger         *slog.Logger
}

// Process runs in this order:
// 1) holder balances from the chain connector
// 2) holder set filtering and validation
// 3) tree construction
// 4) upload of the tree document.
func (u ProcessSnapshotUseCase) Process(ctx context.Context, snapshot entities.AssetSnapshot) (outcome entities.SnapshotOutcome) {
	logger := application.ResolveLogger(u.Logger)
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("snapshot processing panicked",
				"event", "snapshot_process_panic",
				"module", application.ModuleName,
				"layer", "application",
				"snapshot_id", snapshot.ID,
				"panic", fmt.Sprint(recovered),
			)
			outcome = entities.FailedOutcome(entities.FailureCauseInternal, fmt.Sprint(recovered), u.now())
		}
	}()

	startBlock := u.ScanStartBlock
	if startBlock > snapshot.BlockNumber {
		startBlock = snapshot.BlockNumber
	}
	logger.Info("snapshot processing started",
		"event", "snapshot_process_started",
		"module", application.ModuleName,
		"layer", "application",
		"snapshot_id", snapshot.ID,
		"chain_id", snapshot.ChainID,
		"asset_contract", snapshot.AssetContract.Hex(),
		"start_block", startBlock,
		"end_block", snapshot.BlockNumber,
	)

	balances, err := u.Chain.FetchHolderBalances(ctx,
		snapshot.ChainID,
		snapshot.AssetContract,
		startBlock,
		snapshot.BlockNumber,
		snapshot.IgnoredHolders,
	)
	if err != nil {
		return u.fail(logger, snapshot, classifyChainError(err), err)
	}

	holders, err := filterHolders(snapshot, balances)
	if err != nil {
		cause := entities.FailureCauseInvalidHolderSet
		if errors.Is(err, domainerrors.ErrEmptyHolderSet) {
			cause = entities.FailureCauseEmptyHolderSet
		}
		return u.fail(logger, snapshot, cause, err)
	}

	hashFn := u.HashFunction
	if hashFn == nil {
		hashFn = merkle.Keccak256
	}
	tree, err := merkle.NewTree(holders, hashFn)
	if err != nil {
		return u.fail(logger, snapshot, entities.FailureCauseInvalidHolderSet,
			fmt.Errorf("%w: %v", domainerrors.ErrInvalidHolderSet, err))
	}

	document, err := json.Marshal(tree)
	if err != nil {
		return u.fail(logger, snapshot, entities.FailureCauseInternal, err)
	}
	contentHash, err := u.Content.Upload(ctx, documentName(snapshot), document)
	if err != nil {
		return u.fail(logger, snapshot, entities.FailureCauseUploadFailure,
			fmt.Errorf("%w: %v", domainerrors.ErrUploadFailed, err))
	}

	logger.Info("snapshot tree built",
		"event", "snapshot_process_tree_built",
		"module", application.ModuleName,
		"layer", "application",
		"snapshot_id", snapshot.ID,
		"holders", tree.Size(),
		"root_hash", tree.RootHash().String(),
		"content_hash", contentHash,
	)
	return entities.SnapshotOutcome{
		Tree:             tree,
		ContentHash:      contentHash,
		TotalAssetAmount: tree.TotalBalance(),
		CompletedAt:      u.now(),
	}
}

func (u ProcessSnapshotUseCase) fail(
	logger *slog.Logger,
	snapshot entities.AssetSnapshot,
	cause entities.FailureCause,
	err error,
) entities.SnapshotOutcome {
	logger.Warn("snapshot processing failed",
		"event", "snapshot_process_failed",
		"module", application.ModuleName,
		"layer", "application",
		"snapshot_id", snapshot.ID,
		"cause", string(cause),
		"error", err.Error(),
	)
	return entities.FailedOutcome(cause, err.Error(), u.now())
}

func (u ProcessSnapshotUseCase) now() time.Time {
	if u.Clock == nil {
		return time.Now().UTC()
	}
	return u.Clock.Now().UTC()
}

func classifyChainError(err error) entities.FailureCause {
	var chainErr *domainerrors.ChainReadError
	if errors.As(err, &chainErr) && chainErr.Transient {
		return entities.FailureCauseChainReadTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return entities.FailureCauseChainReadTransient
	}
	return entities.FailureCauseChainReadPersistent
}

// filterHolders drops ignored and zero balances even if the connector already
// did, and rejects duplicates and negative values.
func filterHolders(snapshot entities.AssetSnapshot, balances []merkle.AccountBalance) ([]merkle.AccountBalance, error) {
	seen := make(map[common.Address]struct{}, len(balances))
	out := make([]merkle.AccountBalance, 0, len(balances))
	for _, balance := range balances {
		if balance.Balance == nil || balance.Balance.Sign() < 0 {
			return nil, fmt.Errorf("%w: bad balance for %s", domainerrors.ErrInvalidHolderSet, balance.Address.Hex())
		}
		if balance.Balance.Sign() == 0 || snapshot.IsIgnored(balance.Address) {
			continue
		}
		if _, ok := seen[balance.Address]; ok {
			return nil, fmt.Errorf("%w: duplicate holder %s", domainerrors.ErrInvalidHolderSet, balance.Address.Hex())
		}
		seen[balance.Address] = struct{}{}
		out = append(out, balance)
	}
	if len(out) == 0 {
		return nil, domainerrors.ErrEmptyHolderSet
	}
	return out, nil
}

func documentName(snapshot entities.AssetSnapshot) string {
	return fmt.Sprintf("snapshot-%s-%d-%s-%d.json",
		snapshot.ID, snapshot.ChainID, snapshot.AssetContract.Hex(), snapshot.BlockNumber)
}
