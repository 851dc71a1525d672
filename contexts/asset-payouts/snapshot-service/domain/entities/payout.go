package entities

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"assetsnap/contexts/asset-payouts/snapshot-service/domain/merkle"
)

// Payout is a reward pool distributed over the holders of one snapshot root.
type Payout struct {
	PayoutID              *big.Int
	ChainID               int64
	PayoutContract        common.Address
	Asset                 common.Address
	TotalAssetAmount      *big.Int
	SnapshotMerkleRoot    merkle.Hash
	TotalRewardAmount     *big.Int
	RemainingRewardAmount *big.Int
}

type InvestorClaimRecord struct {
	PayoutID             *big.Int
	Investor             common.Address
	AmountAlreadyClaimed *big.Int
}

// ClaimResult is what an investor submits to the payout contract.
// ClaimRecordRead is false when no on-chain claim record was available. Then
// AmountAlreadyClaimed and Claimable are nil and only Entitlement is known.
type ClaimResult struct {
	PayoutID             *big.Int
	Investor             common.Address
	ProofPath            []merkle.PathSegment
	HolderBalance        *big.Int
	Entitlement          *big.Int
	ClaimRecordRead      bool
	AmountAlreadyClaimed *big.Int
	Claimable            *big.Int
}
