package entities

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"assetsnap/contexts/asset-payouts/snapshot-service/domain/merkle"
)

// TreeRoot is the persisted header of a tree; its leaves are stored as
// separate rows keyed by ID.
type TreeRoot struct {
	ID            string
	ChainID       int64
	AssetContract common.Address
	BlockNumber   uint64
	Hash          merkle.Hash
	HashFn        merkle.HashFunctionName
	CreatedAt     time.Time
}
