package postgresadapter

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"

	"assetsnap/contexts/asset-payouts/snapshot-service/domain/entities"
	"assetsnap/contexts/asset-payouts/snapshot-service/domain/merkle"
)

// Amounts are stored as base-10 text: they can exceed 64 bits and must
// survive drivers without a numeric(78,0) mapping.

type assetSnapshotModel struct {
	ID               string    `gorm:"column:id;primaryKey"`
	ProjectID        string    `gorm:"column:project_id;index:asset_snapshots_project_idx"`
	Name             string    `gorm:"column:name"`
	ChainID          int64     `gorm:"column:chain_id"`
	AssetContract    string    `gorm:"column:asset_contract"`
	BlockNumber      uint64    `gorm:"column:block_number"`
	IgnoredHolders   string    `gorm:"column:ignored_holders;type:text"`
	Status           string    `gorm:"column:status;index:asset_snapshots_status_idx"`
	TreeRootID       *string   `gorm:"column:tree_root_id"`
	ContentHash      string    `gorm:"column:content_hash"`
	TotalAssetAmount string    `gorm:"column:total_asset_amount;type:text"`
	FailureCause     string    `gorm:"column:failure_cause"`
	FailureMessage   string    `gorm:"column:failure_message;type:text"`
	CreatedAt        time.Time `gorm:"column:created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at"`
}

func (assetSnapshotModel) TableName() string {
	return "asset_snapshots"
}

func assetSnapshotModelFromEntity(snapshot entities.AssetSnapshot) assetSnapshotModel {
	ignored := make([]string, 0, len(snapshot.IgnoredHolders))
	for _, address := range snapshot.IgnoredHolders {
		ignored = append(ignored, addressKey(address))
	}
	return assetSnapshotModel{
		ID:             strings.TrimSpace(snapshot.ID),
		ProjectID:      strings.TrimSpace(snapshot.ProjectID),
		Name:           strings.TrimSpace(snapshot.Name),
		ChainID:        snapshot.ChainID,
		AssetContract:  addressKey(snapshot.AssetContract),
		BlockNumber:    snapshot.BlockNumber,
		IgnoredHolders: strings.Join(ignored, ","),
		Status:         string(snapshot.Status),
		CreatedAt:      snapshot.CreatedAt.UTC(),
		UpdatedAt:      snapshot.UpdatedAt.UTC(),
	}
}

func (m assetSnapshotModel) toEntity() entities.AssetSnapshot {
	snapshot := entities.AssetSnapshot{
		ID:            m.ID,
		ProjectID:     m.ProjectID,
		Name:          m.Name,
		ChainID:       m.ChainID,
		AssetContract: common.HexToAddress(m.AssetContract),
		BlockNumber:   m.BlockNumber,
		Status:        entities.SnapshotStatus(m.Status),
		CreatedAt:     m.CreatedAt.UTC(),
		UpdatedAt:     m.UpdatedAt.UTC(),
	}
	for _, value := range strings.Split(m.IgnoredHolders, ",") {
		value = strings.TrimSpace(value)
		if value != "" {
			snapshot.IgnoredHolders = append(snapshot.IgnoredHolders, common.HexToAddress(value))
		}
	}
	switch snapshot.Status {
	case entities.SnapshotStatusSuccess:
		success := &entities.SnapshotSuccess{ContentHash: m.ContentHash}
		if m.TreeRootID != nil {
			success.TreeRootID = *m.TreeRootID
		}
		if total, ok := new(big.Int).SetString(m.TotalAssetAmount, 10); ok {
			success.TotalAssetAmount = total
		}
		snapshot.Success = success
	case entities.SnapshotStatusFailed:
		snapshot.Failure = &entities.SnapshotFailure{
			Cause:   entities.FailureCause(m.FailureCause),
			Message: m.FailureMessage,
		}
	}
	return snapshot
}

type treeRootModel struct {
	ID            string    `gorm:"column:id;primaryKey"`
	ChainID       int64     `gorm:"column:chain_id;uniqueIndex:merkle_tree_roots_unique"`
	AssetContract string    `gorm:"column:asset_contract;uniqueIndex:merkle_tree_roots_unique"`
	BlockNumber   uint64    `gorm:"column:block_number;uniqueIndex:merkle_tree_roots_unique"`
	Hash          string    `gorm:"column:hash;uniqueIndex:merkle_tree_roots_unique"`
	HashFn        string    `gorm:"column:hash_fn"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

func (treeRootModel) TableName() string {
	return "merkle_tree_roots"
}

func (m treeRootModel) toEntity() (entities.TreeRoot, error) {
	hash, err := merkle.ParseHash(m.Hash)
	if err != nil {
		return entities.TreeRoot{}, fmt.Errorf("tree root %s: %w", m.ID, err)
	}
	return entities.TreeRoot{
		ID:            m.ID,
		ChainID:       m.ChainID,
		AssetContract: common.HexToAddress(m.AssetContract),
		BlockNumber:   m.BlockNumber,
		Hash:          hash,
		HashFn:        merkle.HashFunctionName(m.HashFn),
		CreatedAt:     m.CreatedAt.UTC(),
	}, nil
}

type treeLeafModel struct {
	RootID  string `gorm:"column:root_id;primaryKey"`
	Address string `gorm:"column:address;primaryKey"`
	Balance string `gorm:"column:balance;type:text"`
}

func (treeLeafModel) TableName() string {
	return "merkle_tree_leaves"
}

// AutoMigrate creates or updates the tables owned by this adapter.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&assetSnapshotModel{}, &treeRootModel{}, &treeLeafModel{})
}

func addressKey(address common.Address) string {
	return strings.ToLower(address.Hex())
}
