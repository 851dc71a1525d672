package services

import "math/big"

// ClaimCalculator mirrors the payout contract's proportional share rule:
//
//	claimable = floor(totalReward * balance / totalAsset) - alreadyClaimed
//
// All arithmetic is arbitrary precision; the result is clamped at zero.
type ClaimCalculator struct{}

func (ClaimCalculator) Share(totalReward, totalAsset, balance *big.Int) *big.Int {
	if isZero(totalReward) || isZero(totalAsset) || isZero(balance) {
		return new(big.Int)
	}
	product := new(big.Int).Mul(totalReward, balance)
	return product.Quo(product, totalAsset)
}

func (c ClaimCalculator) Claimable(totalReward, totalAsset, balance, alreadyClaimed *big.Int) *big.Int {
	share := c.Share(totalReward, totalAsset, balance)
	if alreadyClaimed == nil {
		return share
	}
	if share.Cmp(alreadyClaimed) <= 0 {
		return new(big.Int)
	}
	return share.Sub(share, alreadyClaimed)
}

func isZero(value *big.Int) bool {
	return value == nil || value.Sign() <= 0
}
