package queries

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	application "assetsnap/contexts/asset-payouts/snapshot-service/application"
	"assetsnap/contexts/asset-payouts/snapshot-service/domain/entities"
	domainerrors "assetsnap/contexts/asset-payouts/snapshot-service/domain/errors"
	"assetsnap/contexts/asset-payouts/snapshot-service/domain/merkle"
	"assetsnap/contexts/asset-payouts/snapshot-service/ports"
)

const (
	treeFetchHit       = "cache_hit"
	treeFetchLoaded    = "loaded"
	treeFetchMissing   = "missing"
	treeFetchIntegrity = "integrity_mismatch"
)

// TreeQueries reconstructs persisted trees. Every fetch reloads the root row
// and all leaf rows. A tree is only returned after those rows were hashed to
// exactly the stored root, or matched leaf for leaf a tree that already was.
type TreeQueries struct {
	Trees     ports.TreeRepository
	Snapshots ports.SnapshotRepository
	Cache     ports.TreeCache
	Metrics   ports.Metrics
	Logger    *slog.Logger
}

// FetchTree returns domainerrors.ErrTreeNotFound for unknown roots and for
// roots that fail the integrity check.
func (q TreeQueries) FetchTree(ctx context.Context, chainID int64, asset common.Address, rootHash merkle.Hash) (*merkle.Tree, error) {
	if len(rootHash) == 0 {
		return nil, domainerrors.ErrTreeNotFound
	}

	root, found, err := q.Trees.GetTreeRoot(ctx, chainID, asset, rootHash)
	if err != nil {
		return nil, q.logLoadError(err, "chain_id", chainID, "asset_contract", asset.Hex(), "root_hash", rootHash.String())
	}
	if !found {
		q.observe(treeFetchMissing)
		return nil, domainerrors.ErrTreeNotFound
	}
	return q.rebuild(ctx, root)
}

func (q TreeQueries) FetchTreeByRootID(ctx context.Context, rootID string) (*merkle.Tree, error) {
	root, found, err := q.Trees.GetTreeRootByID(ctx, rootID)
	if err != nil {
		return nil, q.logLoadError(err, "tree_root_id", rootID)
	}
	if !found {
		q.observe(treeFetchMissing)
		return nil, domainerrors.ErrTreeNotFound
	}
	return q.rebuild(ctx, root)
}

// FetchSnapshotTree resolves the tree of a SUCCESS snapshot.
func (q TreeQueries) FetchSnapshotTree(ctx context.Context, snapshotID string) (*merkle.Tree, error) {
	snapshot, found, err := q.Snapshots.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, q.logLoadError(err, "snapshot_id", snapshotID)
	}
	if !found {
		return nil, domainerrors.ErrSnapshotNotFound
	}
	if snapshot.Status != entities.SnapshotStatusSuccess || snapshot.Success == nil {
		return nil, domainerrors.ErrTreeNotFound
	}
	return q.FetchTreeByRootID(ctx, snapshot.Success.TreeRootID)
}

func (q TreeQueries) ContainsAddress(
	ctx context.Context,
	chainID int64,
	asset common.Address,
	rootHash merkle.Hash,
	address common.Address,
) (bool, error) {
	tree, err := q.FetchTree(ctx, chainID, asset, rootHash)
	if err != nil {
		return false, err
	}
	return tree.ContainsAddress(address), nil
}

func (q TreeQueries) rebuild(ctx context.Context, root entities.TreeRoot) (*merkle.Tree, error) {
	logger := application.ResolveLogger(q.Logger)
	hashFn, err := merkle.HashFunctionByName(string(root.HashFn))
	if err != nil {
		return nil, q.integrityFailure(logger, root, err.Error())
	}
	leaves, err := q.Trees.ListTreeLeaves(ctx, root.ID)
	if err != nil {
		var integrityErr *domainerrors.TreeIntegrityError
		if errors.As(err, &integrityErr) {
			return nil, q.integrityFailure(logger, root, integrityErr.Computed)
		}
		return nil, q.logLoadError(err, "tree_root_id", root.ID)
	}
	if q.Cache != nil {
		cached, ok := q.Cache.Get(root.ChainID, root.AssetContract, root.Hash)
		if ok && cached.HashFunction().Name() == hashFn.Name() && cached.HasLeafSet(leaves) {
			q.observe(treeFetchHit)
			return cached, nil
		}
	}
	tree, err := merkle.NewTree(leaves, hashFn)
	if err != nil {
		return nil, q.integrityFailure(logger, root, err.Error())
	}
	if !tree.RootHash().Equal(root.Hash) {
		return nil, q.integrityFailure(logger, root, tree.RootHash().String())
	}

	if q.Cache != nil {
		q.Cache.Put(root.ChainID, root.AssetContract, tree)
	}
	q.observe(treeFetchLoaded)
	return tree, nil
}

func (q TreeQueries) integrityFailure(logger *slog.Logger, root entities.TreeRoot, computed string) error {
	q.observe(treeFetchIntegrity)
	integrityErr := &domainerrors.TreeIntegrityError{
		RootID:   root.ID,
		Stored:   root.Hash.String(),
		Computed: computed,
	}
	logger.Error("persisted merkle tree failed integrity check",
		"event", "snapshot_tree_integrity_alarm",
		"module", application.ModuleName,
		"layer", "application",
		"tree_root_id", root.ID,
		"chain_id", root.ChainID,
		"asset_contract", root.AssetContract.Hex(),
		"block_number", root.BlockNumber,
		"stored_hash", integrityErr.Stored,
		"computed", computed,
	)
	return integrityErr
}

func (q TreeQueries) logLoadError(err error, attrs ...any) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", "snapshot_tree_load_failed",
		"module", application.ModuleName,
		"layer", "application",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	application.ResolveLogger(q.Logger).Error("merkle tree load failed", fields...)
	return err
}

func (q TreeQueries) observe(result string) {
	if q.Metrics != nil {
		q.Metrics.ObserveTreeFetch(result)
	}
}
