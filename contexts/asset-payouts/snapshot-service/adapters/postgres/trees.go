package postgresadapter

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"assetsnap/contexts/asset-payouts/snapshot-service/domain/entities"
	domainerrors "assetsnap/contexts/asset-payouts/snapshot-service/domain/errors"
	"assetsnap/contexts/asset-payouts/snapshot-service/domain/merkle"
)

const leafBatchSize = 500

// storeTree writes the root row and one row per leaf. A root with the same
// chain, asset, block and hash already holds identical leaves and is reused.
func (r *Repository) storeTree(tx *gorm.DB, snapshot entities.AssetSnapshot, tree *merkle.Tree, at time.Time) (string, error) {
	root := treeRootModel{
		ID:            uuid.NewString(),
		ChainID:       snapshot.ChainID,
		AssetContract: addressKey(snapshot.AssetContract),
		BlockNumber:   snapshot.BlockNumber,
		Hash:          tree.RootHash().String(),
		HashFn:        string(tree.HashFunction().Name()),
		CreatedAt:     at,
	}
	created := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "chain_id"},
			{Name: "asset_contract"},
			{Name: "block_number"},
			{Name: "hash"},
		},
		DoNothing: true,
	}).Create(&root)
	if created.Error != nil {
		return "", r.logError("snapshot_repo_store_root_failed", created.Error,
			"snapshot_id", snapshot.ID,
			"root_hash", root.Hash,
		)
	}
	if created.RowsAffected == 0 {
		var existing treeRootModel
		if err := tx.
			Where("chain_id = ? AND asset_contract = ? AND block_number = ? AND hash = ?",
				root.ChainID, root.AssetContract, root.BlockNumber, root.Hash).
			First(&existing).Error; err != nil {
			return "", r.logError("snapshot_repo_load_existing_root_failed", err,
				"snapshot_id", snapshot.ID,
				"root_hash", root.Hash,
			)
		}
		return existing.ID, nil
	}

	leaves := tree.Leaves()
	rows := make([]treeLeafModel, 0, len(leaves))
	for _, leaf := range leaves {
		rows = append(rows, treeLeafModel{
			RootID:  root.ID,
			Address: addressKey(leaf.Data.Address),
			Balance: leaf.Data.Balance.String(),
		})
	}
	if err := tx.CreateInBatches(rows, leafBatchSize).Error; err != nil {
		return "", r.logError("snapshot_repo_store_leaves_failed", err,
			"snapshot_id", snapshot.ID,
			"tree_root_id", root.ID,
			"leaves", len(rows),
		)
	}
	return root.ID, nil
}

func (r *Repository) GetTreeRoot(
	ctx context.Context,
	chainID int64,
	asset common.Address,
	hash merkle.Hash,
) (entities.TreeRoot, bool, error) {
	var rows []treeRootModel
	if err := r.db.WithContext(ctx).
		Where("chain_id = ? AND asset_contract = ? AND hash = ?", chainID, addressKey(asset), hash.String()).
		Order("created_at ASC").
		Limit(1).
		Find(&rows).Error; err != nil {
		return entities.TreeRoot{}, false, r.logError("snapshot_repo_get_tree_root_failed", err,
			"chain_id", chainID,
			"asset_contract", addressKey(asset),
			"root_hash", hash.String(),
		)
	}
	if len(rows) == 0 {
		return entities.TreeRoot{}, false, nil
	}
	root, err := rows[0].toEntity()
	if err != nil {
		return entities.TreeRoot{}, false, r.logError("snapshot_repo_decode_tree_root_failed", err)
	}
	return root, true, nil
}

func (r *Repository) GetTreeRootByID(ctx context.Context, rootID string) (entities.TreeRoot, bool, error) {
	var rows []treeRootModel
	if err := r.db.WithContext(ctx).
		Where("id = ?", strings.TrimSpace(rootID)).
		Limit(1).
		Find(&rows).Error; err != nil {
		return entities.TreeRoot{}, false, r.logError("snapshot_repo_get_tree_root_by_id_failed", err,
			"tree_root_id", strings.TrimSpace(rootID),
		)
	}
	if len(rows) == 0 {
		return entities.TreeRoot{}, false, nil
	}
	root, err := rows[0].toEntity()
	if err != nil {
		return entities.TreeRoot{}, false, r.logError("snapshot_repo_decode_tree_root_failed", err)
	}
	return root, true, nil
}

// ListTreeLeaves returns leaf rows in storage order. An unparseable balance is
// reported as a TreeIntegrityError.
func (r *Repository) ListTreeLeaves(ctx context.Context, rootID string) ([]merkle.AccountBalance, error) {
	var rows []treeLeafModel
	if err := r.db.WithContext(ctx).
		Where("root_id = ?", strings.TrimSpace(rootID)).
		Find(&rows).Error; err != nil {
		return nil, r.logError("snapshot_repo_list_leaves_failed", err,
			"tree_root_id", strings.TrimSpace(rootID),
		)
	}
	out := make([]merkle.AccountBalance, 0, len(rows))
	for _, row := range rows {
		balance, ok := new(big.Int).SetString(strings.TrimSpace(row.Balance), 10)
		if !ok || !common.IsHexAddress(row.Address) {
			return nil, &domainerrors.TreeIntegrityError{
				RootID:   rootID,
				Computed: "unreadable leaf row " + row.Address,
			}
		}
		out = append(out, merkle.AccountBalance{
			Address: common.HexToAddress(row.Address),
			Balance: balance,
		})
	}
	return out, nil
}
