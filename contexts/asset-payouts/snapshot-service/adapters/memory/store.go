package memory

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"assetsnap/contexts/asset-payouts/snapshot-service/domain/entities"
	domainerrors "assetsnap/contexts/asset-payouts/snapshot-service/domain/errors"
	"assetsnap/contexts/asset-payouts/snapshot-service/domain/merkle"
	"assetsnap/contexts/asset-payouts/snapshot-service/ports"
)

// Store is an in-memory adapter implementing the snapshot and tree ports for
// local runtime and tests. It is not intended as production persistence.
type Store struct {
	mu sync.RWMutex

	snapshots map[string]entities.AssetSnapshot
	inFlight  map[string]struct{}
	roots     map[string]entities.TreeRoot
	rootOrder []string
	rootKeys  map[string]string
	leaves    map[string][]merkle.AccountBalance

	treeWriteErr error
}

func NewStore() *Store {
	return &Store{
		snapshots: make(map[string]entities.AssetSnapshot),
		inFlight:  make(map[string]struct{}),
		roots:     make(map[string]entities.TreeRoot),
		rootKeys:  make(map[string]string),
		leaves:    make(map[string][]merkle.AccountBalance),
	}
}

func (s *Store) CreateSnapshot(_ context.Context, snapshot entities.AssetSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(snapshot.ID) == "" {
		return domainerrors.ErrInvalidSnapshotInput
	}
	if _, exists := s.snapshots[snapshot.ID]; exists {
		return domainerrors.ErrRepositoryInvariantBroke
	}
	s.snapshots[snapshot.ID] = cloneSnapshot(snapshot)
	return nil
}

func (s *Store) GetSnapshot(_ context.Context, snapshotID string) (entities.AssetSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.snapshots[strings.TrimSpace(snapshotID)]
	if !ok {
		return entities.AssetSnapshot{}, false, nil
	}
	return cloneSnapshot(snapshot), true, nil
}

func (s *Store) ListSnapshots(
	_ context.Context,
	projectID string,
	statuses []entities.SnapshotStatus,
) ([]entities.AssetSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	allowed := make(map[entities.SnapshotStatus]struct{}, len(statuses))
	for _, status := range statuses {
		allowed[status] = struct{}{}
	}
	items := make([]entities.AssetSnapshot, 0)
	for _, snapshot := range s.snapshots {
		if snapshot.ProjectID != projectID {
			continue
		}
		if len(allowed) > 0 {
			if _, ok := allowed[snapshot.Status]; !ok {
				continue
			}
		}
		items = append(items, cloneSnapshot(snapshot))
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	return items, nil
}

// ClaimPendingSnapshot holds the claimed snapshot in an in-flight set while
// process runs, so concurrent callers skip it.
func (s *Store) ClaimPendingSnapshot(
	ctx context.Context,
	process ports.SnapshotProcessor,
) (entities.AssetSnapshot, bool, error) {
	snapshot, ok := s.claimOne()
	if !ok {
		return entities.AssetSnapshot{}, false, nil
	}
	defer s.release(snapshot.ID)

	outcome := process(ctx, cloneSnapshot(snapshot))

	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.snapshots[snapshot.ID]
	if !exists || current.Status != entities.SnapshotStatusPending {
		return entities.AssetSnapshot{}, false, domainerrors.ErrSnapshotNotPending
	}
	completed := s.applyOutcomeLocked(current, outcome)
	s.snapshots[completed.ID] = completed
	return cloneSnapshot(completed), true, nil
}

func (s *Store) claimOne() (entities.AssetSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidate *entities.AssetSnapshot
	for id := range s.snapshots {
		snapshot := s.snapshots[id]
		if snapshot.Status != entities.SnapshotStatusPending {
			continue
		}
		if _, busy := s.inFlight[id]; busy {
			continue
		}
		if candidate == nil ||
			snapshot.CreatedAt.Before(candidate.CreatedAt) ||
			(snapshot.CreatedAt.Equal(candidate.CreatedAt) && snapshot.ID < candidate.ID) {
			candidate = &snapshot
		}
	}
	if candidate == nil {
		return entities.AssetSnapshot{}, false
	}
	s.inFlight[candidate.ID] = struct{}{}
	return *candidate, true
}

func (s *Store) release(snapshotID string) {
	s.mu.Lock()
	delete(s.inFlight, snapshotID)
	s.mu.Unlock()
}

func (s *Store) applyOutcomeLocked(snapshot entities.AssetSnapshot, outcome entities.SnapshotOutcome) entities.AssetSnapshot {
	completedAt := outcome.CompletedAt.UTC()
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}
	snapshot.UpdatedAt = completedAt

	if !outcome.Succeeded() {
		failure := entities.SnapshotFailure{Cause: entities.FailureCauseInternal}
		if outcome.Failure != nil {
			failure = *outcome.Failure
		}
		snapshot.Status = entities.SnapshotStatusFailed
		snapshot.Failure = &failure
		return snapshot
	}
	if s.treeWriteErr != nil {
		snapshot.Status = entities.SnapshotStatusFailed
		snapshot.Failure = &entities.SnapshotFailure{
			Cause:   entities.FailureCausePersistenceFailure,
			Message: s.treeWriteErr.Error(),
		}
		return snapshot
	}

	rootID := s.storeTreeLocked(snapshot, outcome.Tree, completedAt)
	total := outcome.TotalAssetAmount
	if total == nil {
		total = outcome.Tree.TotalBalance()
	}
	snapshot.Status = entities.SnapshotStatusSuccess
	snapshot.Success = &entities.SnapshotSuccess{
		TreeRootID:       rootID,
		ContentHash:      outcome.ContentHash,
		TotalAssetAmount: new(big.Int).Set(total),
	}
	return snapshot
}

func (s *Store) storeTreeLocked(snapshot entities.AssetSnapshot, tree *merkle.Tree, at time.Time) string {
	key := rootKey(snapshot.ChainID, snapshot.AssetContract, snapshot.BlockNumber, tree.RootHash())
	if existing, ok := s.rootKeys[key]; ok {
		return existing
	}
	root := entities.TreeRoot{
		ID:            uuid.NewString(),
		ChainID:       snapshot.ChainID,
		AssetContract: snapshot.AssetContract,
		BlockNumber:   snapshot.BlockNumber,
		Hash:          append(merkle.Hash(nil), tree.RootHash()...),
		HashFn:        tree.HashFunction().Name(),
		CreatedAt:     at,
	}
	s.roots[root.ID] = root
	s.rootOrder = append(s.rootOrder, root.ID)
	s.rootKeys[key] = root.ID
	s.leaves[root.ID] = tree.Balances()
	return root.ID
}

func (s *Store) GetTreeRoot(
	_ context.Context,
	chainID int64,
	asset common.Address,
	hash merkle.Hash,
) (entities.TreeRoot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.rootOrder {
		root := s.roots[id]
		if root.ChainID == chainID && root.AssetContract == asset && root.Hash.Equal(hash) {
			return root, true, nil
		}
	}
	return entities.TreeRoot{}, false, nil
}

func (s *Store) GetTreeRootByID(_ context.Context, rootID string) (entities.TreeRoot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	root, ok := s.roots[strings.TrimSpace(rootID)]
	return root, ok, nil
}

func (s *Store) ListTreeLeaves(_ context.Context, rootID string) ([]merkle.AccountBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, ok := s.leaves[strings.TrimSpace(rootID)]
	if !ok {
		return nil, nil
	}
	out := make([]merkle.AccountBalance, 0, len(rows))
	for _, row := range rows {
		out = append(out, merkle.NewAccountBalance(row.Address, row.Balance))
	}
	return out, nil
}

// FailTreeWrites makes every following tree write fail with err; nil restores
// normal behaviour.
func (s *Store) FailTreeWrites(err error) {
	s.mu.Lock()
	s.treeWriteErr = err
	s.mu.Unlock()
}

// OverwriteLeafBalance replaces a stored leaf balance without touching the
// root hash, simulating storage corruption.
func (s *Store) OverwriteLeafBalance(rootID string, address common.Address, balance *big.Int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.leaves[rootID]
	for i := range rows {
		if rows[i].Address == address {
			rows[i] = merkle.NewAccountBalance(address, balance)
			return true
		}
	}
	return false
}

// TreeCounts reports the number of stored roots and leaf rows.
func (s *Store) TreeCounts() (roots int, leaves int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rows := range s.leaves {
		leaves += len(rows)
	}
	return len(s.roots), leaves
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func rootKey(chainID int64, asset common.Address, blockNumber uint64, hash merkle.Hash) string {
	return fmt.Sprintf("%d|%s|%d|%s", chainID, asset.Hex(), blockNumber, hash.String())
}

func cloneSnapshot(in entities.AssetSnapshot) entities.AssetSnapshot {
	out := in
	out.IgnoredHolders = append([]common.Address(nil), in.IgnoredHolders...)
	if in.Success != nil {
		success := *in.Success
		if in.Success.TotalAssetAmount != nil {
			success.TotalAssetAmount = new(big.Int).Set(in.Success.TotalAssetAmount)
		}
		out.Success = &success
	}
	if in.Failure != nil {
		failure := *in.Failure
		out.Failure = &failure
	}
	return out
}

var _ ports.SnapshotRepository = (*Store)(nil)
var _ ports.TreeRepository = (*Store)(nil)
var _ ports.Clock = (*Store)(nil)
var _ ports.IDGenerator = (*Store)(nil)
