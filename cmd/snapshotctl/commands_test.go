package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	snapshotservice "assetsnap/contexts/asset-payouts/snapshot-service"
	"assetsnap/contexts/asset-payouts/snapshot-service/domain/merkle"
	"assetsnap/internal/app/bootstrap"
)

type staticChain struct {
	balances []merkle.AccountBalance
}

func (c staticChain) FetchHolderBalances(
	context.Context, int64, common.Address, uint64, uint64, []common.Address,
) ([]merkle.AccountBalance, error) {
	return c.balances, nil
}

func newTestApp() *bootstrap.CLIApp {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	chain := staticChain{balances: []merkle.AccountBalance{
		merkle.NewAccountBalance(common.HexToAddress("0x01"), big.NewInt(200)),
		merkle.NewAccountBalance(common.HexToAddress("0x02"), big.NewInt(1800)),
	}}
	return &bootstrap.CLIApp{
		Module: snapshotservice.NewInMemoryModule(chain, nil, logger),
		Logger: logger,
	}
}

func run(t *testing.T, app *bootstrap.CLIApp, args ...string) map[string]any {
	t.Helper()
	root := newRootCmd(func(context.Context) (*bootstrap.CLIApp, error) { return app, nil })
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(args)
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(out.Bytes(), &decoded); err != nil {
		t.Fatalf("decode output %q: %v", out.String(), err)
	}
	return decoded
}

func TestSubmitGetVerifyAndProof(t *testing.T) {
	app := newTestApp()
	submitted := run(t, app, "submit",
		"--project", "project-1",
		"--name", "q3",
		"--chain-id", "1",
		"--asset", "0x00000000000000000000000000000000000000aa",
		"--block", "100",
	)
	id, _ := submitted["snapshot_id"].(string)
	if id == "" {
		t.Fatalf("expected snapshot id, got %v", submitted)
	}

	if err := app.Module.Worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("run worker: %v", err)
	}

	got := run(t, app, "get", id)
	if got["status"] != "SUCCESS" || got["total_asset_amount"] != "2000" {
		t.Fatalf("unexpected snapshot %v", got)
	}

	verified := run(t, app, "verify", id)
	if verified["verified"] != true || verified["leaves"].(float64) != 2 {
		t.Fatalf("unexpected verify output %v", verified)
	}
	rootHash, _ := verified["merkle_root"].(string)

	proof := run(t, app, "proof",
		"--payout-id", "1",
		"--investor", "0x0000000000000000000000000000000000000001",
		"--chain-id", "1",
		"--asset", "0x00000000000000000000000000000000000000aa",
		"--root", rootHash,
		"--total-asset", "2000",
		"--total-reward", "1000",
	)
	if proof["entitled"] != true || proof["entitlement"] != "100" || proof["claim_record_read"] != false {
		t.Fatalf("unexpected proof output %v", proof)
	}
	if _, ok := proof["claimable"]; ok {
		t.Fatalf("claimable must not be reported without a claim record, got %v", proof)
	}
	if path, ok := proof["proof"].([]any); !ok || len(path) != 1 {
		t.Fatalf("expected one proof segment, got %v", proof["proof"])
	}

	outsider := run(t, app, "proof",
		"--payout-id", "1",
		"--investor", "0x0000000000000000000000000000000000000009",
		"--chain-id", "1",
		"--asset", "0x00000000000000000000000000000000000000aa",
		"--root", rootHash,
		"--total-asset", "2000",
		"--total-reward", "1000",
	)
	if outsider["entitled"] != false {
		t.Fatalf("expected outsider not entitled, got %v", outsider)
	}
}

func TestSubmitRejectsBadAddress(t *testing.T) {
	root := newRootCmd(func(context.Context) (*bootstrap.CLIApp, error) { return newTestApp(), nil })
	root.SetOut(io.Discard)
	root.SetArgs([]string{"submit", "--project", "p", "--name", "n", "--chain-id", "1", "--asset", "nope"})
	if err := root.ExecuteContext(context.Background()); err == nil {
		t.Fatal("expected error for invalid asset address")
	}
}
