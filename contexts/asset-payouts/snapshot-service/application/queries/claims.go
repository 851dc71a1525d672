package queries

import (
	"context"
	"errors"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	application "assetsnap/contexts/asset-payouts/snapshot-service/application"
	"assetsnap/contexts/asset-payouts/snapshot-service/domain/entities"
	domainerrors "assetsnap/contexts/asset-payouts/snapshot-service/domain/errors"
	"assetsnap/contexts/asset-payouts/snapshot-service/domain/services"
	"assetsnap/contexts/asset-payouts/snapshot-service/ports"
)

// ClaimQueries answers "what can investor claim from payout" with a proof path.
type ClaimQueries struct {
	Trees        TreeQueries
	ClaimRecords ports.ClaimRecordReader
	Calculator   services.ClaimCalculator
	Logger       *slog.Logger
}

// PathAndClaimable returns false (and no error) when investor is not a leaf of
// the payout's snapshot tree. Without a ClaimRecordReader the result carries
// only the entitlement; Claimable stays nil rather than assuming nothing was
// claimed.
func (q ClaimQueries) PathAndClaimable(
	ctx context.Context,
	payout entities.Payout,
	investor common.Address,
) (entities.ClaimResult, bool, error) {
	logger := application.ResolveLogger(q.Logger)
	if payout.PayoutID == nil || len(payout.SnapshotMerkleRoot) == 0 || payout.TotalAssetAmount == nil {
		return entities.ClaimResult{}, false, domainerrors.ErrInvalidPayout
	}

	tree, err := q.Trees.FetchTree(ctx, payout.ChainID, payout.Asset, payout.SnapshotMerkleRoot)
	if err != nil {
		return entities.ClaimResult{}, false, err
	}
	leaf, ok := tree.LeafByAddress(investor)
	if !ok {
		logger.Debug("investor not entitled to payout",
			"event", "snapshot_claim_not_entitled",
			"module", application.ModuleName,
			"layer", "application",
			"payout_id", payout.PayoutID.String(),
			"investor", investor.Hex(),
		)
		return entities.ClaimResult{}, false, nil
	}
	path, ok := tree.PathTo(leaf)
	if !ok {
		return entities.ClaimResult{}, false, domainerrors.ErrRepositoryInvariantBroke
	}

	result := entities.ClaimResult{
		PayoutID:      new(big.Int).Set(payout.PayoutID),
		Investor:      investor,
		ProofPath:     path,
		HolderBalance: new(big.Int).Set(leaf.Data.Balance),
		Entitlement:   q.Calculator.Share(payout.TotalRewardAmount, payout.TotalAssetAmount, leaf.Data.Balance),
	}
	if q.ClaimRecords == nil {
		logger.Warn("claim record reader not configured, claimable amount unknown",
			"event", "snapshot_claim_record_unavailable",
			"module", application.ModuleName,
			"layer", "application",
			"payout_id", payout.PayoutID.String(),
			"investor", investor.Hex(),
		)
		return result, true, nil
	}

	record, err := q.ClaimRecords.InvestorClaim(ctx, payout, investor)
	if err != nil {
		logger.Error("investor claim record read failed",
			"event", "snapshot_claim_record_failed",
			"module", application.ModuleName,
			"layer", "application",
			"payout_id", payout.PayoutID.String(),
			"investor", investor.Hex(),
			"error", err.Error(),
		)
		return entities.ClaimResult{}, false, err
	}
	claimed := new(big.Int)
	if record.AmountAlreadyClaimed != nil {
		claimed.Set(record.AmountAlreadyClaimed)
	}
	result.ClaimRecordRead = true
	result.AmountAlreadyClaimed = claimed
	result.Claimable = q.Calculator.Claimable(payout.TotalRewardAmount, payout.TotalAssetAmount, leaf.Data.Balance, claimed)
	return result, true, nil
}

// ListInvestorClaims evaluates several payouts for one investor. Payouts the
// investor is not entitled to, and payouts whose tree cannot be found, are
// left out of the result.
func (q ClaimQueries) ListInvestorClaims(
	ctx context.Context,
	payouts []entities.Payout,
	investor common.Address,
) ([]entities.ClaimResult, error) {
	logger := application.ResolveLogger(q.Logger)
	results := make([]entities.ClaimResult, 0, len(payouts))
	for _, payout := range payouts {
		result, entitled, err := q.PathAndClaimable(ctx, payout, investor)
		if err != nil {
			if errors.Is(err, domainerrors.ErrTreeNotFound) || errors.Is(err, domainerrors.ErrInvalidPayout) {
				logger.Warn("payout skipped for investor claims",
					"event", "snapshot_claim_payout_skipped",
					"module", application.ModuleName,
					"layer", "application",
					"investor", investor.Hex(),
					"error", err.Error(),
				)
				continue
			}
			return nil, err
		}
		if entitled {
			results = append(results, result)
		}
	}
	return results, nil
}
