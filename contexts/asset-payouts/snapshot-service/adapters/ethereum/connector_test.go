package ethereum

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"syscall"
	"testing"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"assetsnap/contexts/asset-payouts/snapshot-service/domain/entities"
	domainerrors "assetsnap/contexts/asset-payouts/snapshot-service/domain/errors"
)

var (
	tokenAddress  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	managerAddr   = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	holderOne     = common.HexToAddress("0x0000000000000000000000000000000000000001")
	holderTwo     = common.HexToAddress("0x0000000000000000000000000000000000000002")
	holderIgnored = common.HexToAddress("0x0000000000000000000000000000000000000003")
	holderEmpty   = common.HexToAddress("0x0000000000000000000000000000000000000004")
)

type fakeEVMClient struct {
	chainID     int64
	logs        []gethtypes.Log
	balances    map[common.Address]*big.Int
	callOutput  []byte
	filterErr   error
	callErr     error
	queries     []goethereum.FilterQuery
	callBlocks  []*big.Int
	balanceHits map[common.Address]int
}

func (f *fakeEVMClient) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(f.chainID), nil
}

func (f *fakeEVMClient) FilterLogs(_ context.Context, query goethereum.FilterQuery) ([]gethtypes.Log, error) {
	f.queries = append(f.queries, query)
	if f.filterErr != nil {
		return nil, f.filterErr
	}
	from, to := query.FromBlock.Uint64(), query.ToBlock.Uint64()
	var out []gethtypes.Log
	for _, entry := range f.logs {
		if entry.BlockNumber >= from && entry.BlockNumber <= to {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (f *fakeEVMClient) CallContract(_ context.Context, msg goethereum.CallMsg, block *big.Int) ([]byte, error) {
	f.callBlocks = append(f.callBlocks, block)
	if f.callErr != nil {
		return nil, f.callErr
	}
	if f.callOutput != nil {
		return f.callOutput, nil
	}
	if !bytes.Equal(msg.Data[:4], erc20ABI.Methods["balanceOf"].ID) {
		return nil, errors.New("execution reverted")
	}
	holder := common.BytesToAddress(msg.Data[4:36])
	if f.balanceHits == nil {
		f.balanceHits = make(map[common.Address]int)
	}
	f.balanceHits[holder]++
	balance, ok := f.balances[holder]
	if !ok {
		balance = new(big.Int)
	}
	return common.LeftPadBytes(balance.Bytes(), 32), nil
}

func transferLog(block uint64, from, to common.Address) gethtypes.Log {
	return gethtypes.Log{
		Address:     tokenAddress,
		BlockNumber: block,
		Topics: []common.Hash{
			transferEventSignature,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFetchHolderBalancesScansInChunks(t *testing.T) {
	client := &fakeEVMClient{
		chainID: 1,
		logs: []gethtypes.Log{
			transferLog(10, common.Address{}, holderOne),
			transferLog(25, holderOne, holderTwo),
			transferLog(31, holderOne, holderIgnored),
			transferLog(40, holderTwo, holderEmpty),
			transferLog(90, holderTwo, holderOne),
		},
		balances: map[common.Address]*big.Int{
			holderOne:     big.NewInt(700),
			holderTwo:     big.NewInt(300),
			holderIgnored: big.NewInt(50),
		},
	}
	connector := NewConnector(client, 10, quietLogger())

	balances, err := connector.FetchHolderBalances(context.Background(), 1, tokenAddress, 5, 45, []common.Address{holderIgnored})
	if err != nil {
		t.Fatalf("fetch holder balances: %v", err)
	}
	if len(client.queries) != 5 {
		t.Fatalf("expected 5 chunked log queries, got %d", len(client.queries))
	}
	last := client.queries[len(client.queries)-1]
	if last.FromBlock.Uint64() != 45 || last.ToBlock.Uint64() != 45 {
		t.Fatalf("expected final chunk 45-45, got %s-%s", last.FromBlock, last.ToBlock)
	}
	if len(balances) != 2 {
		t.Fatalf("expected 2 holders, got %d: %+v", len(balances), balances)
	}
	if balances[0].Address != holderOne || balances[0].Balance.Int64() != 700 {
		t.Fatalf("unexpected first holder %+v", balances[0])
	}
	if balances[1].Address != holderTwo || balances[1].Balance.Int64() != 300 {
		t.Fatalf("unexpected second holder %+v", balances[1])
	}
	if client.balanceHits[holderIgnored] != 0 {
		t.Fatal("ignored holder must not be queried")
	}
	for _, block := range client.callBlocks {
		if block.Uint64() != 45 {
			t.Fatalf("expected balances read at block 45, got %s", block)
		}
	}
}

func TestFetchHolderBalancesClassifiesErrors(t *testing.T) {
	cases := []struct {
		name      string
		filterErr error
		callErr   error
		transient bool
	}{
		{name: "deadline", filterErr: context.DeadlineExceeded, transient: true},
		{name: "throttled", filterErr: rpc.HTTPError{StatusCode: 429, Status: "429 Too Many Requests"}, transient: true},
		{name: "bad request", filterErr: rpc.HTTPError{StatusCode: 400, Status: "400 Bad Request"}, transient: false},
		{name: "revert", callErr: errors.New("execution reverted"), transient: false},
		{name: "unexpected eof", filterErr: fmt.Errorf("read body: %w", io.ErrUnexpectedEOF), transient: true},
		{name: "connection reset", filterErr: &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}, transient: true},
		{name: "eof in message only", callErr: errors.New("invalid opcode: GEOFENCE"), transient: false},
		{name: "provider rate limit text", filterErr: errors.New("daily request count exceeded, request rate limited"), transient: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := &fakeEVMClient{
				chainID:   1,
				logs:      []gethtypes.Log{transferLog(1, common.Address{}, holderOne)},
				filterErr: tc.filterErr,
				callErr:   tc.callErr,
			}
			_, err := NewConnector(client, 100, quietLogger()).
				FetchHolderBalances(context.Background(), 1, tokenAddress, 0, 10, nil)
			var chainErr *domainerrors.ChainReadError
			if !errors.As(err, &chainErr) {
				t.Fatalf("expected ChainReadError, got %v", err)
			}
			if chainErr.Transient != tc.transient {
				t.Fatalf("expected transient=%v, got %v (%v)", tc.transient, chainErr.Transient, err)
			}
		})
	}
}

func TestFetchHolderBalancesRejectsWrongChain(t *testing.T) {
	client := &fakeEVMClient{chainID: 5}
	_, err := NewConnector(client, 100, quietLogger()).
		FetchHolderBalances(context.Background(), 1, tokenAddress, 0, 10, nil)
	var chainErr *domainerrors.ChainReadError
	if !errors.As(err, &chainErr) || chainErr.Transient {
		t.Fatalf("expected persistent chain error, got %v", err)
	}
	if len(client.queries) != 0 {
		t.Fatal("no logs should be scanned on the wrong chain")
	}
}

func TestPayoutManagerInvestorClaim(t *testing.T) {
	client := &fakeEVMClient{chainID: 1, callOutput: common.LeftPadBytes(big.NewInt(100).Bytes(), 32)}
	manager := NewPayoutManager(client, 1, managerAddr)

	record, err := manager.InvestorClaim(context.Background(), entities.Payout{PayoutID: big.NewInt(7)}, holderOne)
	if err != nil {
		t.Fatalf("investor claim: %v", err)
	}
	if record.AmountAlreadyClaimed.Int64() != 100 || record.Investor != holderOne || record.PayoutID.Int64() != 7 {
		t.Fatalf("unexpected claim record %+v", record)
	}
	if client.callBlocks[0] != nil {
		t.Fatal("claim records must be read at the latest block")
	}
}

func TestPayoutManagerGetPayout(t *testing.T) {
	var root [32]byte
	root[31] = 0x42
	output, err := payoutManagerABI.Methods["payouts"].Outputs.Pack(
		tokenAddress, big.NewInt(2000), root, big.NewInt(1000), big.NewInt(900),
	)
	if err != nil {
		t.Fatalf("pack outputs: %v", err)
	}
	manager := NewPayoutManager(&fakeEVMClient{chainID: 1, callOutput: output}, 1, managerAddr)

	payout, found, err := manager.GetPayout(context.Background(), 1, common.Address{}, big.NewInt(3))
	if err != nil || !found {
		t.Fatalf("get payout: found=%v err=%v", found, err)
	}
	if payout.Asset != tokenAddress || payout.PayoutContract != managerAddr {
		t.Fatalf("unexpected payout addresses %+v", payout)
	}
	if payout.TotalAssetAmount.Int64() != 2000 || payout.TotalRewardAmount.Int64() != 1000 {
		t.Fatalf("unexpected payout amounts %+v", payout)
	}
	if len(payout.SnapshotMerkleRoot) != 32 || payout.SnapshotMerkleRoot[31] != 0x42 {
		t.Fatalf("unexpected merkle root %s", payout.SnapshotMerkleRoot)
	}

	if _, _, err := manager.GetPayout(context.Background(), 2, common.Address{}, big.NewInt(3)); err == nil {
		t.Fatal("expected error for a different chain")
	}
}
