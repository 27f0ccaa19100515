package registry

import (
	"strings"

	"betvault/pkg/types"
)

// CanonicalizeTwap orders a TWAP bet's oracle tokens so that OracleMain
// always corresponds to the pool's token0. If the caller supplied the pair
// swapped relative to the pool's canonical ordering, the two references are
// exchanged before the bet is persisted. The ordering is fixed at creation
// and honored by the price resolver at close time.
func CanonicalizeTwap(bet *types.Bet, token0 string) {
	if bet.OracleKind != types.OracleUniswapTwap {
		return
	}
	if strings.EqualFold(bet.OracleSecondary, token0) {
		bet.OracleMain, bet.OracleSecondary = bet.OracleSecondary, bet.OracleMain
	}
}
