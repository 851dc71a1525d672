package ethereum

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"strings"
	"syscall"

	goethereum "github.com/ethereum/go-ethereum"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	domainerrors "assetsnap/contexts/asset-payouts/snapshot-service/domain/errors"
)

// EVMClient is the subset of the Ethereum RPC used by the connector.
type EVMClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	FilterLogs(ctx context.Context, query goethereum.FilterQuery) ([]gethtypes.Log, error)
	CallContract(ctx context.Context, msg goethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// DialEVMClient opens an RPC client for endpoint.
func DialEVMClient(ctx context.Context, endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	return ethclient.DialContext(ctx, trimmed)
}

// JSON-RPC error codes that providers use for throttling and overload.
const (
	rpcCodeLimitExceeded = -32005
	rpcCodeInternal      = -32603
)

// classify wraps err as a ChainReadError. Deadlines, network errors, throttling
// and provider side 5xx responses are transient; everything else (reverts, bad
// contracts, decode failures) is persistent.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var chainErr *domainerrors.ChainReadError
	if errors.As(err, &chainErr) {
		return err
	}
	if isTransient(err) {
		return domainerrors.TransientChainRead(err)
	}
	return domainerrors.PersistentChainRead(err)
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || httpErr.StatusCode >= 500
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case rpcCodeLimitExceeded, rpcCodeInternal:
			return true
		}
	}
	// Some providers report throttling only in the message text.
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "rate limit") ||
		strings.Contains(message, "too many requests")
}
