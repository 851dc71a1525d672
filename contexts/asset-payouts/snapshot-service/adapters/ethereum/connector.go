package ethereum

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"assetsnap/contexts/asset-payouts/snapshot-service/domain/merkle"
	"assetsnap/contexts/asset-payouts/snapshot-service/ports"
)

const (
	moduleName       = "asset-payouts/snapshot-service"
	DefaultChunkSize = uint64(5000)
)

var transferEventSignature = gethcrypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

const erc20ABIJSON = `[
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]}
]`

var erc20ABI = mustParseABI(erc20ABIJSON)

// Connector enumerates ERC-20 holders from Transfer logs and reads each
// candidate's balanceOf at the snapshot block.
type Connector struct {
	client    EVMClient
	chunkSize uint64
	logger    *slog.Logger
}

func NewConnector(client EVMClient, chunkSize uint64, logger *slog.Logger) *Connector {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		client:    client,
		chunkSize: chunkSize,
		logger:    logger,
	}
}

func (c *Connector) FetchHolderBalances(
	ctx context.Context,
	chainID int64,
	contract common.Address,
	startBlock uint64,
	endBlock uint64,
	ignored []common.Address,
) ([]merkle.AccountBalance, error) {
	if c == nil || c.client == nil {
		return nil, classify(fmt.Errorf("evm connector not initialised"))
	}
	if (contract == common.Address{}) {
		return nil, classify(fmt.Errorf("asset contract required"))
	}
	if startBlock > endBlock {
		return nil, classify(fmt.Errorf("start block %d after end block %d", startBlock, endBlock))
	}
	if err := c.checkChain(ctx, chainID); err != nil {
		return nil, err
	}

	candidates, err := c.scanRecipients(ctx, contract, startBlock, endBlock)
	if err != nil {
		return nil, err
	}
	skip := make(map[common.Address]struct{}, len(ignored))
	for _, address := range ignored {
		skip[address] = struct{}{}
	}

	block := new(big.Int).SetUint64(endBlock)
	balances := make([]merkle.AccountBalance, 0, len(candidates))
	for _, holder := range candidates {
		if _, ok := skip[holder]; ok {
			continue
		}
		balance, err := c.balanceOf(ctx, contract, holder, block)
		if err != nil {
			return nil, err
		}
		if balance.Sign() == 0 {
			continue
		}
		balances = append(balances, merkle.AccountBalance{Address: holder, Balance: balance})
	}

	c.logger.Info("holder balances fetched",
		"event", "snapshot_chain_holders_fetched",
		"module", moduleName,
		"layer", "adapter",
		"chain_id", chainID,
		"asset_contract", contract.Hex(),
		"start_block", startBlock,
		"end_block", endBlock,
		"candidates", len(candidates),
		"holders", len(balances),
	)
	return balances, nil
}

func (c *Connector) checkChain(ctx context.Context, chainID int64) error {
	remote, err := c.client.ChainID(ctx)
	if err != nil {
		return classify(fmt.Errorf("fetch chain id: %w", err))
	}
	if remote == nil || !remote.IsInt64() || remote.Int64() != chainID {
		return classify(fmt.Errorf("rpc endpoint serves chain %v, snapshot wants %d", remote, chainID))
	}
	return nil
}

// scanRecipients walks [startBlock, endBlock] in chunks and returns every
// non-zero Transfer recipient, sorted by address bytes.
func (c *Connector) scanRecipients(
	ctx context.Context,
	contract common.Address,
	startBlock uint64,
	endBlock uint64,
) ([]common.Address, error) {
	seen := make(map[common.Address]struct{})
	for from := startBlock; ; {
		to := endBlock
		if endBlock-from >= c.chunkSize {
			to = from + c.chunkSize - 1
		}
		logs, err := c.client.FilterLogs(ctx, goethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{contract},
			Topics:    [][]common.Hash{{transferEventSignature}},
		})
		if err != nil {
			c.logger.Warn("transfer log scan failed",
				"event", "snapshot_chain_log_scan_failed",
				"module", moduleName,
				"layer", "adapter",
				"asset_contract", contract.Hex(),
				"from_block", from,
				"to_block", to,
				"error", err.Error(),
			)
			return nil, classify(fmt.Errorf("filter logs %d-%d: %w", from, to, err))
		}
		for _, entry := range logs {
			if entry.Removed || len(entry.Topics) < 3 || entry.Topics[0] != transferEventSignature {
				continue
			}
			recipient := common.BytesToAddress(entry.Topics[2].Bytes())
			if (recipient == common.Address{}) {
				continue
			}
			seen[recipient] = struct{}{}
		}
		if to == endBlock {
			break
		}
		from = to + 1
	}

	out := make([]common.Address, 0, len(seen))
	for address := range seen {
		out = append(out, address)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Bytes(), out[j].Bytes()) < 0
	})
	return out, nil
}

func (c *Connector) balanceOf(ctx context.Context, contract, holder common.Address, block *big.Int) (*big.Int, error) {
	input, err := erc20ABI.Pack("balanceOf", holder)
	if err != nil {
		return nil, classify(fmt.Errorf("pack balanceOf: %w", err))
	}
	output, err := c.client.CallContract(ctx, goethereum.CallMsg{To: &contract, Data: input}, block)
	if err != nil {
		return nil, classify(fmt.Errorf("balanceOf %s: %w", holder.Hex(), err))
	}
	return decodeWord(output)
}

// decodeWord reads a single uint256 return value.
func decodeWord(output []byte) (*big.Int, error) {
	if len(output) != 32 {
		return nil, classify(fmt.Errorf("decode uint256: got %d bytes", len(output)))
	}
	return new(uint256.Int).SetBytes32(output).ToBig(), nil
}

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

var _ ports.ChainConnector = (*Connector)(nil)
