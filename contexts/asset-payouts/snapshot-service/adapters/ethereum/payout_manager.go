package ethereum

import (
	"context"
	"fmt"
	"math/big"

	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"assetsnap/contexts/asset-payouts/snapshot-service/domain/entities"
	"assetsnap/contexts/asset-payouts/snapshot-service/domain/merkle"
	"assetsnap/contexts/asset-payouts/snapshot-service/ports"
)

const payoutManagerABIJSON = `[
	{"type":"function","name":"getAmountOfClaimedFunds","stateMutability":"view",
	 "inputs":[{"name":"payoutId","type":"uint256"},{"name":"investor","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"payouts","stateMutability":"view",
	 "inputs":[{"name":"payoutId","type":"uint256"}],
	 "outputs":[
		{"name":"asset","type":"address"},
		{"name":"totalAssetAmount","type":"uint256"},
		{"name":"snapshotMerkleRoot","type":"bytes32"},
		{"name":"totalRewardAmount","type":"uint256"},
		{"name":"remainingRewardAmount","type":"uint256"}
	 ]}
]`

var payoutManagerABI = mustParseABI(payoutManagerABIJSON)

// PayoutManager reads payout definitions and claim records from the payout
// manager contract at the latest block.
type PayoutManager struct {
	client  EVMClient
	chainID int64
	address common.Address
}

func NewPayoutManager(client EVMClient, chainID int64, address common.Address) *PayoutManager {
	return &PayoutManager{
		client:  client,
		chainID: chainID,
		address: address,
	}
}

func (m *PayoutManager) InvestorClaim(
	ctx context.Context,
	payout entities.Payout,
	investor common.Address,
) (entities.InvestorClaimRecord, error) {
	if payout.PayoutID == nil {
		return entities.InvestorClaimRecord{}, classify(fmt.Errorf("payout id required"))
	}
	contract := payout.PayoutContract
	if (contract == common.Address{}) {
		contract = m.address
	}
	input, err := payoutManagerABI.Pack("getAmountOfClaimedFunds", payout.PayoutID, investor)
	if err != nil {
		return entities.InvestorClaimRecord{}, classify(fmt.Errorf("pack getAmountOfClaimedFunds: %w", err))
	}
	output, err := m.client.CallContract(ctx, goethereum.CallMsg{To: &contract, Data: input}, nil)
	if err != nil {
		return entities.InvestorClaimRecord{}, classify(fmt.Errorf("getAmountOfClaimedFunds: %w", err))
	}
	claimed, err := decodeWord(output)
	if err != nil {
		return entities.InvestorClaimRecord{}, err
	}
	return entities.InvestorClaimRecord{
		PayoutID:             new(big.Int).Set(payout.PayoutID),
		Investor:             investor,
		AmountAlreadyClaimed: claimed,
	}, nil
}

// GetPayout returns false when the contract reports an empty payout slot.
func (m *PayoutManager) GetPayout(
	ctx context.Context,
	chainID int64,
	payoutContract common.Address,
	payoutID *big.Int,
) (entities.Payout, bool, error) {
	if payoutID == nil || payoutID.Sign() < 0 {
		return entities.Payout{}, false, classify(fmt.Errorf("payout id required"))
	}
	if chainID != m.chainID {
		return entities.Payout{}, false, classify(fmt.Errorf("payout manager bound to chain %d, got %d", m.chainID, chainID))
	}
	if (payoutContract == common.Address{}) {
		payoutContract = m.address
	}
	input, err := payoutManagerABI.Pack("payouts", payoutID)
	if err != nil {
		return entities.Payout{}, false, classify(fmt.Errorf("pack payouts: %w", err))
	}
	output, err := m.client.CallContract(ctx, goethereum.CallMsg{To: &payoutContract, Data: input}, nil)
	if err != nil {
		return entities.Payout{}, false, classify(fmt.Errorf("payouts: %w", err))
	}
	values, err := payoutManagerABI.Unpack("payouts", output)
	if err != nil {
		return entities.Payout{}, false, classify(fmt.Errorf("unpack payouts: %w", err))
	}
	if len(values) != 5 {
		return entities.Payout{}, false, classify(fmt.Errorf("unpack payouts: got %d values", len(values)))
	}
	asset, okAsset := values[0].(common.Address)
	totalAsset, okTotal := values[1].(*big.Int)
	root, okRoot := values[2].([32]byte)
	totalReward, okReward := values[3].(*big.Int)
	remaining, okRemaining := values[4].(*big.Int)
	if !okAsset || !okTotal || !okRoot || !okReward || !okRemaining {
		return entities.Payout{}, false, classify(fmt.Errorf("unpack payouts: unexpected value types"))
	}
	if (asset == common.Address{}) {
		return entities.Payout{}, false, nil
	}
	return entities.Payout{
		PayoutID:              new(big.Int).Set(payoutID),
		ChainID:               chainID,
		PayoutContract:        payoutContract,
		Asset:                 asset,
		TotalAssetAmount:      totalAsset,
		SnapshotMerkleRoot:    merkle.Hash(root[:]),
		TotalRewardAmount:     totalReward,
		RemainingRewardAmount: remaining,
	}, true, nil
}

var _ ports.ClaimRecordReader = (*PayoutManager)(nil)
var _ ports.PayoutLookup = (*PayoutManager)(nil)
