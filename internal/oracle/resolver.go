// Package oracle resolves a bet's configured price reference into a single
// comparable integer price.
//
// Two oracle families are supported: a Chainlink-style latest-price feed
// (optionally as a ratio of two feeds) and a Uniswap-style TWAP over a
// liquidity pool. The Resolver dispatches on the bet's stored kind; the
// concrete feed and quoter behind it talk JSON-RPC (see chainlink.go and
// twap.go) and are injected as interfaces so tests can substitute fakes.
package oracle

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"betvault/pkg/types"
)

// Feed reads the latest price from a push-based aggregator.
type Feed interface {
	// LatestPrice returns the feed's current answer together with its native
	// decimal count.
	LatestPrice(ctx context.Context, source string) (price *big.Int, decimals uint8, err error)
}

// Quoter computes time-weighted average prices over a liquidity pool and
// answers canonical-ordering queries for its token pair.
type Quoter interface {
	// CanonicalToken0 returns the pool's token0 for the given pair and fee
	// tier. Used once at creation time to fix the bet's token ordering.
	CanonicalToken0(ctx context.Context, tokenA, tokenB string, feeTier int64) (string, error)

	// TokenDecimals returns the decimal precision of a pool token.
	TokenDecimals(ctx context.Context, token string) (uint8, error)

	// HumanReadablePrice returns the average price of one whole main token,
	// denominated in the secondary token, over the observation window.
	HumanReadablePrice(ctx context.Context, tokenMain, tokenSecondary string, feeTier int64, window time.Duration, mainDecimals uint8) (int64, error)
}

// Resolver turns a bet's oracle reference into an integer price. Resolve is
// a pure read with respect to the registry; it is re-invoked at every close,
// never cached, since the price can move between eligibility and the close
// call.
type Resolver struct {
	feed   Feed
	quoter Quoter
	window time.Duration // fixed TWAP observation window
}

// NewResolver wires a resolver over the two oracle families.
func NewResolver(feed Feed, quoter Quoter, window time.Duration) *Resolver {
	return &Resolver{feed: feed, quoter: quoter, window: window}
}

// Resolve returns the bet's observed price.
//
// Chainlink family: with no secondary reference, the feed's answer is
// normalized by truncating away its native decimals. With a secondary, the
// raw ratio price(main)/price(secondary) is returned using integer division,
// truncating toward zero — precision below one unit is lost by design of the
// stored price line.
//
// TWAP family: the price of one whole main token in secondary units,
// averaged over the fixed window, honoring the canonical token ordering
// established at creation.
func (r *Resolver) Resolve(ctx context.Context, bet types.Bet) (int64, error) {
	switch bet.OracleKind {
	case types.OracleChainlink:
		return r.resolveChainlink(ctx, bet)
	case types.OracleUniswapTwap:
		return r.resolveTwap(ctx, bet)
	default:
		return 0, fmt.Errorf("oracle: unknown kind %q: %w", bet.OracleKind, types.ErrInvalidInput)
	}
}

func (r *Resolver) resolveChainlink(ctx context.Context, bet types.Bet) (int64, error) {
	main, decimals, err := r.feed.LatestPrice(ctx, bet.OracleMain)
	if err != nil {
		return 0, fmt.Errorf("oracle: main feed %s: %w", bet.OracleMain, err)
	}

	if bet.OracleSecondary == "" {
		divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
		return new(big.Int).Quo(main, divisor).Int64(), nil
	}

	secondary, _, err := r.feed.LatestPrice(ctx, bet.OracleSecondary)
	if err != nil {
		return 0, fmt.Errorf("oracle: secondary feed %s: %w", bet.OracleSecondary, err)
	}
	if secondary.Sign() == 0 {
		return 0, fmt.Errorf("oracle: secondary feed %s returned zero price", bet.OracleSecondary)
	}
	// big.Int Quo truncates toward zero, matching the stored ratio semantics.
	return new(big.Int).Quo(main, secondary).Int64(), nil
}

func (r *Resolver) resolveTwap(ctx context.Context, bet types.Bet) (int64, error) {
	decimals, err := r.quoter.TokenDecimals(ctx, bet.OracleMain)
	if err != nil {
		return 0, fmt.Errorf("oracle: token decimals %s: %w", bet.OracleMain, err)
	}
	price, err := r.quoter.HumanReadablePrice(ctx, bet.OracleMain, bet.OracleSecondary, bet.FeeTier, r.window, decimals)
	if err != nil {
		return 0, fmt.Errorf("oracle: twap %s/%s: %w", bet.OracleMain, bet.OracleSecondary, err)
	}
	return price, nil
}

// CanonicalToken0 forwards to the quoter. The engine consults it once per
// TWAP bet creation to fix the token ordering.
func (r *Resolver) CanonicalToken0(ctx context.Context, tokenA, tokenB string, feeTier int64) (string, error) {
	return r.quoter.CanonicalToken0(ctx, tokenA, tokenB, feeTier)
}
