package snapshotservice_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	snapshotservice "assetsnap/contexts/asset-payouts/snapshot-service"
	"assetsnap/contexts/asset-payouts/snapshot-service/domain/entities"
	domainerrors "assetsnap/contexts/asset-payouts/snapshot-service/domain/errors"
	"assetsnap/contexts/asset-payouts/snapshot-service/domain/merkle"
	"assetsnap/contexts/asset-payouts/snapshot-service/ports"
)

var (
	asset    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	investor = common.HexToAddress("0x0000000000000000000000000000000000000001")
	whale    = common.HexToAddress("0x0000000000000000000000000000000000000002")
	treasury = common.HexToAddress("0x0000000000000000000000000000000000000003")
	stranger = common.HexToAddress("0x0000000000000000000000000000000000000009")
)

type fakeChain struct {
	mu       sync.Mutex
	balances []merkle.AccountBalance
	err      error
	panicMsg string
	gate     chan struct{}
	entered  chan struct{}
	calls    atomic.Int32
	start    uint64
	end      uint64
}

func (f *fakeChain) FetchHolderBalances(
	_ context.Context,
	_ int64,
	_ common.Address,
	startBlock uint64,
	endBlock uint64,
	_ []common.Address,
) ([]merkle.AccountBalance, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.start, f.end = startBlock, endBlock
	f.mu.Unlock()
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]merkle.AccountBalance, 0, len(f.balances))
	for _, balance := range f.balances {
		out = append(out, merkle.NewAccountBalance(balance.Address, balance.Balance))
	}
	return out, nil
}

type fakeClaimRecords struct {
	claimed map[common.Address]*big.Int
}

func (f fakeClaimRecords) InvestorClaim(
	_ context.Context,
	payout entities.Payout,
	holder common.Address,
) (entities.InvestorClaimRecord, error) {
	amount := new(big.Int)
	if value, ok := f.claimed[holder]; ok {
		amount.Set(value)
	}
	return entities.InvestorClaimRecord{PayoutID: payout.PayoutID, Investor: holder, AmountAlreadyClaimed: amount}, nil
}

type recordedJob struct {
	status entities.SnapshotStatus
	cause  entities.FailureCause
}

type fakeMetrics struct {
	mu      sync.Mutex
	jobs    []recordedJob
	fetches []string
}

func (m *fakeMetrics) ObserveSnapshotJob(status entities.SnapshotStatus, cause entities.FailureCause, _ time.Duration) {
	m.mu.Lock()
	m.jobs = append(m.jobs, recordedJob{status: status, cause: cause})
	m.mu.Unlock()
}

func (m *fakeMetrics) ObserveTreeFetch(result string) {
	m.mu.Lock()
	m.fetches = append(m.fetches, result)
	m.mu.Unlock()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func holderBalances() []merkle.AccountBalance {
	return []merkle.AccountBalance{
		merkle.NewAccountBalance(investor, big.NewInt(200)),
		merkle.NewAccountBalance(whale, big.NewInt(1800)),
		merkle.NewAccountBalance(treasury, big.NewInt(5000)),
		merkle.NewAccountBalance(stranger, big.NewInt(0)),
	}
}

func newModule(t *testing.T, chain *fakeChain, claimed map[common.Address]*big.Int) snapshotservice.Module {
	t.Helper()
	return snapshotservice.NewInMemoryModule(chain, fakeClaimRecords{claimed: claimed}, quietLogger())
}

func submit(t *testing.T, module snapshotservice.Module) string {
	t.Helper()
	id, err := module.Submit.Execute(context.Background(), ports.SnapshotParams{
		ProjectID:      "project-1",
		Name:           "q3 dividend",
		ChainID:        1,
		AssetContract:  asset,
		BlockNumber:    1500,
		IgnoredHolders: []common.Address{treasury, treasury},
	})
	if err != nil {
		t.Fatalf("submit snapshot: %v", err)
	}
	return id
}

func runOnce(t *testing.T, module snapshotservice.Module) {
	t.Helper()
	if err := module.Worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("run worker: %v", err)
	}
}

func TestSubmitSnapshotRejectsInvalidInput(t *testing.T) {
	module := newModule(t, &fakeChain{}, nil)
	cases := []ports.SnapshotParams{
		{Name: "x", ChainID: 1, AssetContract: asset},
		{ProjectID: "p", ChainID: 1, AssetContract: asset},
		{ProjectID: "p", Name: "x", AssetContract: asset},
		{ProjectID: "p", Name: "x", ChainID: 1},
	}
	for i, params := range cases {
		if _, err := module.Submit.Execute(context.Background(), params); !errors.Is(err, domainerrors.ErrInvalidSnapshotInput) {
			t.Fatalf("case %d: expected ErrInvalidSnapshotInput, got %v", i, err)
		}
	}
}

func TestSubmitSnapshotStoresPendingWithoutChainReads(t *testing.T) {
	chain := &fakeChain{balances: holderBalances()}
	module := newModule(t, chain, nil)
	id := submit(t, module)

	snapshot, err := module.Snapshots.GetSnapshot(context.Background(), id)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if snapshot.Status != entities.SnapshotStatusPending {
		t.Fatalf("expected PENDING, got %s", snapshot.Status)
	}
	if len(snapshot.IgnoredHolders) != 1 {
		t.Fatalf("expected deduplicated ignored holders, got %v", snapshot.IgnoredHolders)
	}
	if chain.calls.Load() != 0 {
		t.Fatal("submit must not read the chain")
	}
}

func TestWorkerBuildsTreeAndClaimsAreComputed(t *testing.T) {
	chain := &fakeChain{balances: holderBalances()}
	module := newModule(t, chain, map[common.Address]*big.Int{whale: big.NewInt(100)})
	id := submit(t, module)
	runOnce(t, module)

	snapshot, err := module.Snapshots.GetSnapshot(context.Background(), id)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if snapshot.Status != entities.SnapshotStatusSuccess || snapshot.Success == nil {
		t.Fatalf("expected SUCCESS, got %+v", snapshot)
	}
	if snapshot.Success.TotalAssetAmount.String() != "2000" {
		t.Fatalf("expected total asset amount 2000, got %s", snapshot.Success.TotalAssetAmount)
	}
	if _, ok := module.Content.Get(snapshot.Success.ContentHash); !ok {
		t.Fatal("expected tree document in content store")
	}

	tree, err := module.Trees.FetchSnapshotTree(context.Background(), id)
	if err != nil {
		t.Fatalf("fetch tree: %v", err)
	}
	if tree.ContainsAddress(treasury) || tree.ContainsAddress(stranger) {
		t.Fatal("ignored and zero balance holders must not be leaves")
	}
	contains, err := module.Trees.ContainsAddress(context.Background(), 1, asset, tree.RootHash(), investor)
	if err != nil || !contains {
		t.Fatalf("expected investor in tree, contains=%v err=%v", contains, err)
	}

	payout := entities.Payout{
		PayoutID:           big.NewInt(1),
		ChainID:            1,
		Asset:              asset,
		TotalAssetAmount:   big.NewInt(2000),
		SnapshotMerkleRoot: tree.RootHash(),
		TotalRewardAmount:  big.NewInt(1000),
	}
	result, entitled, err := module.Claims.PathAndClaimable(context.Background(), payout, investor)
	if err != nil || !entitled {
		t.Fatalf("path and claimable: entitled=%v err=%v", entitled, err)
	}
	if !result.ClaimRecordRead || result.Claimable.String() != "100" || result.Entitlement.String() != "100" {
		t.Fatalf("expected claimable 100 from a read claim record, got %+v", result)
	}
	leaf, _ := tree.LeafByAddress(investor)
	if !merkle.VerifyPath(tree.HashFunction(), leaf.Hash, result.ProofPath, tree.RootHash()) {
		t.Fatal("returned proof path does not verify")
	}

	whaleResult, _, err := module.Claims.PathAndClaimable(context.Background(), payout, whale)
	if err != nil {
		t.Fatalf("whale claim: %v", err)
	}
	if whaleResult.Claimable.String() != "800" {
		t.Fatalf("expected whale claimable 900-100=800, got %s", whaleResult.Claimable)
	}

	if _, entitled, err := module.Claims.PathAndClaimable(context.Background(), payout, stranger); err != nil || entitled {
		t.Fatalf("expected stranger not entitled, entitled=%v err=%v", entitled, err)
	}

	missing := payout
	missing.PayoutID = big.NewInt(2)
	missing.SnapshotMerkleRoot = merkle.Hash(common.HexToHash("0x01").Bytes())
	results, err := module.Claims.ListInvestorClaims(context.Background(), []entities.Payout{payout, missing}, investor)
	if err != nil {
		t.Fatalf("list investor claims: %v", err)
	}
	if len(results) != 1 || results[0].PayoutID.Int64() != 1 {
		t.Fatalf("expected only payout 1, got %+v", results)
	}
	if chain.start != 0 || chain.end != 1500 {
		t.Fatalf("expected scan range 0-1500, got %d-%d", chain.start, chain.end)
	}
}

func TestWorkerRecordsFailureCauses(t *testing.T) {
	cases := []struct {
		name  string
		chain *fakeChain
		cause entities.FailureCause
	}{
		{
			name:  "transient chain error",
			chain: &fakeChain{err: domainerrors.TransientChainRead(errors.New("429"))},
			cause: entities.FailureCauseChainReadTransient,
		},
		{
			name:  "persistent chain error",
			chain: &fakeChain{err: errors.New("execution reverted")},
			cause: entities.FailureCauseChainReadPersistent,
		},
		{
			name:  "empty holder set",
			chain: &fakeChain{balances: []merkle.AccountBalance{merkle.NewAccountBalance(treasury, big.NewInt(10))}},
			cause: entities.FailureCauseEmptyHolderSet,
		},
		{
			name: "duplicate holder",
			chain: &fakeChain{balances: []merkle.AccountBalance{
				merkle.NewAccountBalance(investor, big.NewInt(10)),
				merkle.NewAccountBalance(investor, big.NewInt(11)),
			}},
			cause: entities.FailureCauseInvalidHolderSet,
		},
		{
			name:  "connector panic",
			chain: &fakeChain{panicMsg: "boom"},
			cause: entities.FailureCauseInternal,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			module := newModule(t, tc.chain, nil)
			metrics := &fakeMetrics{}
			module.Worker.Metrics = metrics
			id := submit(t, module)
			runOnce(t, module)

			snapshot, err := module.Snapshots.GetSnapshot(context.Background(), id)
			if err != nil {
				t.Fatalf("get snapshot: %v", err)
			}
			if snapshot.Status != entities.SnapshotStatusFailed || snapshot.Failure == nil {
				t.Fatalf("expected FAILED, got %+v", snapshot)
			}
			if snapshot.Failure.Cause != tc.cause {
				t.Fatalf("expected cause %s, got %s", tc.cause, snapshot.Failure.Cause)
			}
			if roots, leaves := module.Store.TreeCounts(); roots != 0 || leaves != 0 {
				t.Fatalf("expected no tree rows, got %d roots %d leaves", roots, leaves)
			}
			if len(metrics.jobs) != 1 || metrics.jobs[0].cause != tc.cause {
				t.Fatalf("expected one job metric with cause %s, got %+v", tc.cause, metrics.jobs)
			}
			if _, err := module.Trees.FetchSnapshotTree(context.Background(), id); !errors.Is(err, domainerrors.ErrTreeNotFound) {
				t.Fatalf("expected ErrTreeNotFound for failed snapshot, got %v", err)
			}
		})
	}
}

func TestWorkerUploadFailureLeavesNoTree(t *testing.T) {
	module := newModule(t, &fakeChain{balances: holderBalances()}, nil)
	module.Content.FailUploads(errors.New("ipfs offline"))
	id := submit(t, module)
	runOnce(t, module)

	snapshot, _ := module.Snapshots.GetSnapshot(context.Background(), id)
	if snapshot.Failure == nil || snapshot.Failure.Cause != entities.FailureCauseUploadFailure {
		t.Fatalf("expected UPLOAD_FAILURE, got %+v", snapshot)
	}
	if roots, _ := module.Store.TreeCounts(); roots != 0 {
		t.Fatalf("expected no roots, got %d", roots)
	}
}

func TestWorkerPersistenceFailureMarksSnapshotFailed(t *testing.T) {
	module := newModule(t, &fakeChain{balances: holderBalances()}, nil)
	module.Store.FailTreeWrites(errors.New("disk full"))
	id := submit(t, module)
	runOnce(t, module)

	snapshot, _ := module.Snapshots.GetSnapshot(context.Background(), id)
	if snapshot.Failure == nil || snapshot.Failure.Cause != entities.FailureCausePersistenceFailure {
		t.Fatalf("expected PERSISTENCE_FAILURE, got %+v", snapshot)
	}
	if roots, leaves := module.Store.TreeCounts(); roots != 0 || leaves != 0 {
		t.Fatalf("expected no tree rows, got %d roots %d leaves", roots, leaves)
	}
}

func TestTerminalSnapshotIsNotProcessedAgain(t *testing.T) {
	chain := &fakeChain{balances: holderBalances()}
	module := newModule(t, chain, nil)
	id := submit(t, module)
	runOnce(t, module)
	runOnce(t, module)

	if chain.calls.Load() != 1 {
		t.Fatalf("expected one chain read, got %d", chain.calls.Load())
	}
	snapshot, _ := module.Snapshots.GetSnapshot(context.Background(), id)
	if snapshot.Status != entities.SnapshotStatusSuccess {
		t.Fatalf("expected SUCCESS, got %s", snapshot.Status)
	}
}

func TestConcurrentWorkersNeverShareASnapshot(t *testing.T) {
	chain := &fakeChain{
		balances: holderBalances(),
		gate:     make(chan struct{}),
		entered:  make(chan struct{}, 1),
	}
	module := newModule(t, chain, nil)
	submit(t, module)

	done := make(chan error, 1)
	go func() { done <- module.Worker.RunOnce(context.Background()) }()
	<-chain.entered

	if err := module.Worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("second worker: %v", err)
	}
	if chain.calls.Load() != 1 {
		t.Fatalf("second worker must not claim the held snapshot, chain calls %d", chain.calls.Load())
	}

	close(chain.gate)
	if err := <-done; err != nil {
		t.Fatalf("first worker: %v", err)
	}
	if roots, _ := module.Store.TreeCounts(); roots != 1 {
		t.Fatalf("expected exactly one stored tree, got %d", roots)
	}
}

func TestTamperedTreeIsReportedAsMissing(t *testing.T) {
	module := newModule(t, &fakeChain{balances: holderBalances()}, nil)
	metrics := &fakeMetrics{}
	module.Trees.Metrics = metrics
	id := submit(t, module)
	runOnce(t, module)

	snapshot, _ := module.Snapshots.GetSnapshot(context.Background(), id)
	if !module.Store.OverwriteLeafBalance(snapshot.Success.TreeRootID, investor, big.NewInt(201)) {
		t.Fatal("expected leaf to be overwritten")
	}
	_, err := module.Trees.FetchSnapshotTree(context.Background(), id)
	if !errors.Is(err, domainerrors.ErrTreeNotFound) {
		t.Fatalf("expected ErrTreeNotFound, got %v", err)
	}
	if len(metrics.fetches) != 1 || metrics.fetches[0] != "integrity_mismatch" {
		t.Fatalf("expected integrity mismatch metric, got %v", metrics.fetches)
	}
}

func TestVerifiedTreesAreServedFromCache(t *testing.T) {
	module := newModule(t, &fakeChain{balances: holderBalances()}, nil)
	metrics := &fakeMetrics{}
	module.Trees.Metrics = metrics
	id := submit(t, module)
	runOnce(t, module)

	first, err := module.Trees.FetchSnapshotTree(context.Background(), id)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	second, err := module.Trees.FetchTree(context.Background(), 1, asset, first.RootHash())
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if first != second {
		t.Fatal("expected cached tree instance")
	}
	if len(metrics.fetches) != 2 || metrics.fetches[0] != "loaded" || metrics.fetches[1] != "cache_hit" {
		t.Fatalf("unexpected fetch metrics %v", metrics.fetches)
	}
}

func TestTamperingAfterCachedFetchIsStillDetected(t *testing.T) {
	module := newModule(t, &fakeChain{balances: holderBalances()}, nil)
	metrics := &fakeMetrics{}
	module.Trees.Metrics = metrics
	id := submit(t, module)
	runOnce(t, module)

	tree, err := module.Trees.FetchSnapshotTree(context.Background(), id)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	snapshot, _ := module.Snapshots.GetSnapshot(context.Background(), id)
	if !module.Store.OverwriteLeafBalance(snapshot.Success.TreeRootID, investor, big.NewInt(999999)) {
		t.Fatal("expected leaf to be overwritten")
	}

	if _, err := module.Trees.FetchTree(context.Background(), 1, asset, tree.RootHash()); !errors.Is(err, domainerrors.ErrTreeNotFound) {
		t.Fatalf("expected ErrTreeNotFound by root hash, got %v", err)
	}
	if _, err := module.Trees.FetchSnapshotTree(context.Background(), id); !errors.Is(err, domainerrors.ErrTreeNotFound) {
		t.Fatalf("expected ErrTreeNotFound by snapshot, got %v", err)
	}
	if ok, err := module.Trees.ContainsAddress(context.Background(), 1, asset, tree.RootHash(), investor); ok || !errors.Is(err, domainerrors.ErrTreeNotFound) {
		t.Fatalf("expected ErrTreeNotFound from contains, got ok=%v err=%v", ok, err)
	}
	want := []string{"loaded", "integrity_mismatch", "integrity_mismatch", "integrity_mismatch"}
	if len(metrics.fetches) != len(want) {
		t.Fatalf("unexpected fetch metrics %v", metrics.fetches)
	}
	for i := range want {
		if metrics.fetches[i] != want[i] {
			t.Fatalf("unexpected fetch metrics %v", metrics.fetches)
		}
	}
}

func TestClaimWithoutClaimRecordsReportsEntitlementOnly(t *testing.T) {
	module := snapshotservice.NewInMemoryModule(&fakeChain{balances: holderBalances()}, nil, quietLogger())
	id := submit(t, module)
	runOnce(t, module)

	tree, err := module.Trees.FetchSnapshotTree(context.Background(), id)
	if err != nil {
		t.Fatalf("fetch tree: %v", err)
	}
	payout := entities.Payout{
		PayoutID:           big.NewInt(1),
		ChainID:            1,
		Asset:              asset,
		TotalAssetAmount:   big.NewInt(2000),
		SnapshotMerkleRoot: tree.RootHash(),
		TotalRewardAmount:  big.NewInt(1000),
	}
	result, entitled, err := module.Claims.PathAndClaimable(context.Background(), payout, investor)
	if err != nil || !entitled {
		t.Fatalf("path and claimable: entitled=%v err=%v", entitled, err)
	}
	if result.ClaimRecordRead {
		t.Fatal("claim record must be reported as unread")
	}
	if result.Entitlement.String() != "100" {
		t.Fatalf("expected entitlement 100, got %s", result.Entitlement)
	}
	if result.Claimable != nil || result.AmountAlreadyClaimed != nil {
		t.Fatalf("expected no claimable amount, got claimable=%v claimed=%v", result.Claimable, result.AmountAlreadyClaimed)
	}
}

func TestListSnapshotsValidatesStatuses(t *testing.T) {
	module := newModule(t, &fakeChain{balances: holderBalances()}, nil)
	submit(t, module)
	submit(t, module)
	runOnce(t, module)

	pending, err := module.Snapshots.ListSnapshots(context.Background(), "project-1",
		[]entities.SnapshotStatus{entities.SnapshotStatusPending})
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected one pending snapshot, got %d err=%v", len(pending), err)
	}
	if _, err := module.Snapshots.ListSnapshots(context.Background(), "project-1",
		[]entities.SnapshotStatus{"DONE"}); !errors.Is(err, domainerrors.ErrInvalidSnapshotInput) {
		t.Fatalf("expected ErrInvalidSnapshotInput for unknown status, got %v", err)
	}
	if _, err := module.Snapshots.GetSnapshot(context.Background(), "missing"); !errors.Is(err, domainerrors.ErrSnapshotNotFound) {
		t.Fatalf("expected ErrSnapshotNotFound, got %v", err)
	}
}
