package ports

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"assetsnap/contexts/asset-payouts/snapshot-service/domain/entities"
	"assetsnap/contexts/asset-payouts/snapshot-service/domain/merkle"
)

// SnapshotProcessor turns a claimed snapshot into an outcome. It runs while the
// snapshot is held exclusively and must not write snapshot state itself.
type SnapshotProcessor func(ctx context.Context, snapshot entities.AssetSnapshot) entities.SnapshotOutcome

// SnapshotRepository owns snapshot rows and the transaction boundary that ties
// a successful tree to the SUCCESS transition.
type SnapshotRepository interface {
	CreateSnapshot(ctx context.Context, snapshot entities.AssetSnapshot) error
	GetSnapshot(ctx context.Context, snapshotID string) (entities.AssetSnapshot, bool, error)
	// ListSnapshots returns a project's snapshots, newest first. An empty
	// statuses slice matches every status.
	ListSnapshots(ctx context.Context, projectID string, statuses []entities.SnapshotStatus) ([]entities.AssetSnapshot, error)
	// ClaimPendingSnapshot exclusively claims at most one PENDING snapshot,
	// skipping any already held by another worker, runs process and applies its
	// outcome atomically: on success the tree root, every leaf and the SUCCESS
	// state become visible together; if that write fails nothing of the tree is
	// kept and the snapshot is marked FAILED instead. It returns the snapshot in
	// its final state, or false when no snapshot could be claimed.
	ClaimPendingSnapshot(ctx context.Context, process SnapshotProcessor) (entities.AssetSnapshot, bool, error)
}

// TreeRepository is the read side of tree persistence.
type TreeRepository interface {
	GetTreeRoot(ctx context.Context, chainID int64, asset common.Address, hash merkle.Hash) (entities.TreeRoot, bool, error)
	GetTreeRootByID(ctx context.Context, rootID string) (entities.TreeRoot, bool, error)
	ListTreeLeaves(ctx context.Context, rootID string) ([]merkle.AccountBalance, error)
}

// ChainConnector enumerates token holders. Returned errors should be
// *domainerrors.ChainReadError so failures can be classified.
type ChainConnector interface {
	FetchHolderBalances(
		ctx context.Context,
		chainID int64,
		contract common.Address,
		startBlock uint64,
		endBlock uint64,
		ignored []common.Address,
	) ([]merkle.AccountBalance, error)
}

// ClaimRecordReader reads how much an investor already claimed from a payout.
type ClaimRecordReader interface {
	InvestorClaim(ctx context.Context, payout entities.Payout, investor common.Address) (entities.InvestorClaimRecord, error)
}

// ContentStore uploads immutable documents and returns their content hash.
type ContentStore interface {
	Upload(ctx context.Context, name string, data []byte) (string, error)
}

// TreeCache holds trees that already passed the root integrity check.
type TreeCache interface {
	Get(chainID int64, asset common.Address, root merkle.Hash) (*merkle.Tree, bool)
	Put(chainID int64, asset common.Address, tree *merkle.Tree)
}

// Metrics receives worker and tree read outcomes.
type Metrics interface {
	ObserveSnapshotJob(status entities.SnapshotStatus, cause entities.FailureCause, duration time.Duration)
	ObserveTreeFetch(result string)
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

// SnapshotParams are the caller supplied fields of a new snapshot.
type SnapshotParams struct {
	ProjectID      string
	Name           string
	ChainID        int64
	AssetContract  common.Address
	BlockNumber    uint64
	IgnoredHolders []common.Address
}

// PayoutLookup is used by the CLI to resolve a payout by id.
type PayoutLookup interface {
	GetPayout(ctx context.Context, chainID int64, payoutContract common.Address, payoutID *big.Int) (entities.Payout, bool, error)
}
