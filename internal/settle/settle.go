// Package settle computes the winner and the fee-adjusted payout for an
// eligible bet. Both functions are pure; the engine applies their results
// to the registry under its own guards.
package settle

import (
	"math/big"

	"betvault/pkg/types"
)

// Evaluate applies the maker's comparator to the observed price and the
// price line. It is total: every (observed, line, comparator) triple yields
// a winner.
//
//	observed > line  → maker wins iff comparator is GT
//	observed < line  → maker wins iff comparator is LT
//	observed == line → maker wins iff comparator is EQ
func Evaluate(observed, line int64, cmp types.Comparator) types.Winner {
	var makerWins bool
	switch {
	case observed > line:
		makerWins = cmp == types.CmpGreaterThan
	case observed < line:
		makerWins = cmp == types.CmpLessThan
	default:
		makerWins = cmp == types.CmpEquals
	}
	if makerWins {
		return types.WinnerMaker
	}
	return types.WinnerTaker
}

// Payout splits the pooled stake between the winner and the protocol fee.
//
//	pot          = 2 * amount
//	winnerAmount = floor(pot * (10000 - feeBps) / 10000)
//	feeAmount    = pot - winnerAmount
//
// The floor division guarantees winnerAmount + feeAmount == pot for every
// input; the rounding remainder always accrues to the fee side. The
// intermediate pot × basis-points product exceeds int64 for large stakes
// (an 18-decimal asset reaches it at well under one token squared), so the
// split is computed in big.Int and only the final amounts narrow back down.
func Payout(amount int64, feeBps int) (winnerAmount, feeAmount int64) {
	pot := new(big.Int).Mul(big.NewInt(amount), big.NewInt(2))
	winner := new(big.Int).Mul(pot, big.NewInt(10000-int64(feeBps)))
	winner.Quo(winner, big.NewInt(10000))
	winnerAmount = winner.Int64()
	feeAmount = new(big.Int).Sub(pot, winner).Int64()
	return winnerAmount, feeAmount
}
