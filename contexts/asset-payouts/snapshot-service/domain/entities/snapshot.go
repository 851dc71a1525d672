package entities

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"assetsnap/contexts/asset-payouts/snapshot-service/domain/merkle"
)

type SnapshotStatus string

const (
	SnapshotStatusPending SnapshotStatus = "PENDING"
	SnapshotStatusSuccess SnapshotStatus = "SUCCESS"
	SnapshotStatusFailed  SnapshotStatus = "FAILED"
)

func (s SnapshotStatus) Terminal() bool {
	return s == SnapshotStatusSuccess || s == SnapshotStatusFailed
}

func (s SnapshotStatus) Valid() bool {
	return s == SnapshotStatusPending || s.Terminal()
}

// FailureCause classifies why a snapshot ended FAILED.
type FailureCause string

const (
	FailureCauseChainReadTransient  FailureCause = "CHAIN_READ_TRANSIENT"
	FailureCauseChainReadPersistent FailureCause = "CHAIN_READ_PERSISTENT"
	FailureCauseEmptyHolderSet      FailureCause = "EMPTY_HOLDER_SET"
	FailureCauseInvalidHolderSet    FailureCause = "INVALID_HOLDER_SET"
	FailureCauseUploadFailure       FailureCause = "UPLOAD_FAILURE"
	FailureCausePersistenceFailure  FailureCause = "PERSISTENCE_FAILURE"
	FailureCauseInternal            FailureCause = "INTERNAL"
)

type SnapshotSuccess struct {
	TreeRootID       string
	ContentHash      string
	TotalAssetAmount *big.Int
}

type SnapshotFailure struct {
	Cause   FailureCause
	Message string
}

type AssetSnapshot struct {
	ID             string
	ProjectID      string
	Name           string
	ChainID        int64
	AssetContract  common.Address
	BlockNumber    uint64
	IgnoredHolders []common.Address
	Status         SnapshotStatus
	Success        *SnapshotSuccess
	Failure        *SnapshotFailure
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsIgnored reports whether address must be left out of the holder set.
func (s AssetSnapshot) IsIgnored(address common.Address) bool {
	for _, ignored := range s.IgnoredHolders {
		if ignored == address {
			return true
		}
	}
	return false
}

// SnapshotOutcome is what processing a claimed snapshot produced. Exactly one
// of Tree (success) or Failure is set.
type SnapshotOutcome struct {
	Tree             *merkle.Tree
	ContentHash      string
	TotalAssetAmount *big.Int
	Failure          *SnapshotFailure
	CompletedAt      time.Time
}

func (o SnapshotOutcome) Succeeded() bool {
	return o.Failure == nil && o.Tree != nil
}

func FailedOutcome(cause FailureCause, message string, at time.Time) SnapshotOutcome {
	return SnapshotOutcome{
		Failure:     &SnapshotFailure{Cause: cause, Message: message},
		CompletedAt: at,
	}
}
