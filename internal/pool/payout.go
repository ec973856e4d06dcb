package pool

import (
	"math/big"
	"sync"
)

// Basis-point denominator for fee computation.
const bpsDenominator = 10_000

// Proportional division over a pool can exceed int64 in the intermediate
// product (amount * winnerPool), so the numerator goes through big.Int.
// Results always floor; the truncation remainder stays with the platform.
var bigIntPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getBig() *big.Int {
	return bigIntPool.Get().(*big.Int)
}

func putBig(v *big.Int) {
	v.SetInt64(0)
	bigIntPool.Put(v)
}

// mulDivFloor computes floor(a * b / d) without int64 overflow.
func mulDivFloor(a, b, d int64) int64 {
	num := getBig()
	num.Mul(big.NewInt(a), big.NewInt(b))
	num.Quo(num, big.NewInt(d))
	result := num.Int64()
	putBig(num)
	return result
}

// ComputeSettlement derives the full settlement plan for a pool.
//
//	platformFee = totalStake * feeBps / 10000
//	winnerPool  = totalStake - platformFee
//	payout_i    = floor(amount_i * winnerPool / winningTotal)
//
// When no stake predicted the actual winner every stake is refunded its
// exact original amount and no fee is taken.
func ComputeSettlement(totalStake int64, stakes []Stake, actualWinner string, feeBps int64) *Settlement {
	var winningTotal int64
	for _, s := range stakes {
		if s.PredictedWinner == actualWinner {
			winningTotal += s.Amount
		}
	}

	if winningTotal == 0 {
		payouts := make([]StakePayout, 0, len(stakes))
		for _, s := range stakes {
			payouts = append(payouts, StakePayout{StakeID: s.ID, Staker: s.Staker, Amount: s.Amount})
		}
		return &Settlement{Winner: actualWinner, TotalStake: totalStake, Refund: true, Payouts: payouts}
	}

	fee := mulDivFloor(totalStake, feeBps, bpsDenominator)
	winnerPool := totalStake - fee

	payouts := make([]StakePayout, 0, len(stakes))
	for _, s := range stakes {
		amount := int64(0)
		if s.PredictedWinner == actualWinner {
			amount = mulDivFloor(s.Amount, winnerPool, winningTotal)
		}
		payouts = append(payouts, StakePayout{StakeID: s.ID, Staker: s.Staker, Amount: amount})
	}

	return &Settlement{Winner: actualWinner, TotalStake: totalStake, Fee: fee, Payouts: payouts}
}
