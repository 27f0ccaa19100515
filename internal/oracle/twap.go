package oracle

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

const factoryABIJSON = `[
  {"inputs":[
    {"name":"tokenA","type":"address"},
    {"name":"tokenB","type":"address"},
    {"name":"fee","type":"uint24"}],
   "name":"getPool","outputs":[{"name":"","type":"address"}],
   "stateMutability":"view","type":"function"}
]`

const poolABIJSON = `[
  {"inputs":[],"name":"token0","outputs":[{"name":"","type":"address"}],
   "stateMutability":"view","type":"function"},
  {"inputs":[{"name":"secondsAgos","type":"uint32[]"}],"name":"observe",
   "outputs":[
    {"name":"tickCumulatives","type":"int56[]"},
    {"name":"secondsPerLiquidityCumulativeX128s","type":"uint160[]"}],
   "stateMutability":"view","type":"function"}
]`

const erc20ABIJSON = `[
  {"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],
   "stateMutability":"view","type":"function"}
]`

// PoolQuoter computes time-weighted average prices from Uniswap-v3-style
// pools over JSON-RPC. It implements Quoter.
type PoolQuoter struct {
	ec      *ethclient.Client
	factory common.Address

	factoryABI abi.ABI
	poolABI    abi.ABI
	erc20ABI   abi.ABI
}

// NewPoolQuoter builds a TWAP adapter on an existing RPC connection,
// resolving pools through the given factory contract.
func NewPoolQuoter(ec *ethclient.Client, factory string) (*PoolQuoter, error) {
	fABI, err := abi.JSON(strings.NewReader(factoryABIJSON))
	if err != nil {
		return nil, fmt.Errorf("oracle: parse factory ABI: %w", err)
	}
	pABI, err := abi.JSON(strings.NewReader(poolABIJSON))
	if err != nil {
		return nil, fmt.Errorf("oracle: parse pool ABI: %w", err)
	}
	eABI, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("oracle: parse erc20 ABI: %w", err)
	}
	return &PoolQuoter{
		ec:         ec,
		factory:    common.HexToAddress(factory),
		factoryABI: fABI,
		poolABI:    pABI,
		erc20ABI:   eABI,
	}, nil
}

// CanonicalToken0 resolves the pool for the pair and returns its token0.
func (q *PoolQuoter) CanonicalToken0(ctx context.Context, tokenA, tokenB string, feeTier int64) (string, error) {
	pool, err := q.getPool(ctx, tokenA, tokenB, feeTier)
	if err != nil {
		return "", err
	}
	token0, err := q.token0(ctx, pool)
	if err != nil {
		return "", err
	}
	return token0.Hex(), nil
}

// TokenDecimals reads the ERC-20 decimal precision of a pool token.
func (q *PoolQuoter) TokenDecimals(ctx context.Context, token string) (uint8, error) {
	addr := common.HexToAddress(token)
	out, err := q.call(ctx, q.erc20ABI, addr, "decimals")
	if err != nil {
		return 0, err
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("oracle: token %s: unexpected decimals type %T", token, out[0])
	}
	return decimals, nil
}

// HumanReadablePrice observes the pool over the window and returns the
// average price of one whole main token (10^mainDecimals base units),
// denominated in the secondary token's base units, truncated to an integer.
func (q *PoolQuoter) HumanReadablePrice(ctx context.Context, tokenMain, tokenSecondary string, feeTier int64, window time.Duration, mainDecimals uint8) (int64, error) {
	pool, err := q.getPool(ctx, tokenMain, tokenSecondary, feeTier)
	if err != nil {
		return 0, err
	}

	windowSecs := int64(window / time.Second)
	if windowSecs <= 0 {
		return 0, fmt.Errorf("oracle: observation window %v too short", window)
	}

	out, err := q.call(ctx, q.poolABI, pool, "observe", []uint32{uint32(windowSecs), 0})
	if err != nil {
		return 0, err
	}
	cumulatives, ok := out[0].([]*big.Int)
	if !ok || len(cumulatives) != 2 {
		return 0, fmt.Errorf("oracle: pool %s: unexpected observe output %T", pool.Hex(), out[0])
	}

	tick := averageTick(new(big.Int).Sub(cumulatives[1], cumulatives[0]).Int64(), windowSecs)

	token0, err := q.token0(ctx, pool)
	if err != nil {
		return 0, err
	}
	mainIsToken0 := strings.EqualFold(token0.Hex(), tokenMain)
	return quoteAtTick(tick, mainDecimals, mainIsToken0), nil
}

// averageTick converts a tick-cumulative delta into the arithmetic mean tick
// over the window, rounding toward negative infinity as the pool convention
// requires.
func averageTick(delta, windowSecs int64) int64 {
	tick := delta / windowSecs
	if delta < 0 && delta%windowSecs != 0 {
		tick--
	}
	return tick
}

// quoteAtTick prices one whole main token (10^baseDecimals units) at the
// given tick. The pool tick prices token1 in terms of token0 as
// 1.0001^tick; when main is token1 the ratio is inverted. The result
// truncates toward zero.
func quoteAtTick(tick int64, baseDecimals uint8, mainIsToken0 bool) int64 {
	ratio := decimal.NewFromFloat(math.Pow(1.0001, float64(tick)))
	base := decimal.New(1, int32(baseDecimals))
	if mainIsToken0 {
		return base.Mul(ratio).IntPart()
	}
	if ratio.IsZero() {
		return 0
	}
	return base.Div(ratio).IntPart()
}

func (q *PoolQuoter) getPool(ctx context.Context, tokenA, tokenB string, feeTier int64) (common.Address, error) {
	out, err := q.call(ctx, q.factoryABI, q.factory, "getPool",
		common.HexToAddress(tokenA), common.HexToAddress(tokenB), big.NewInt(feeTier))
	if err != nil {
		return common.Address{}, err
	}
	pool, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("oracle: factory: unexpected getPool output %T", out[0])
	}
	if pool == (common.Address{}) {
		return common.Address{}, fmt.Errorf("oracle: no pool for %s/%s fee %d", tokenA, tokenB, feeTier)
	}
	return pool, nil
}

func (q *PoolQuoter) token0(ctx context.Context, pool common.Address) (common.Address, error) {
	out, err := q.call(ctx, q.poolABI, pool, "token0")
	if err != nil {
		return common.Address{}, err
	}
	token0, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("oracle: pool %s: unexpected token0 output %T", pool.Hex(), out[0])
	}
	return token0, nil
}

func (q *PoolQuoter) call(ctx context.Context, contractABI abi.ABI, addr common.Address, method string, args ...any) ([]any, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("oracle: pack %s: %w", method, err)
	}
	res, err := q.ec.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("oracle: call %s on %s: %w", method, addr.Hex(), err)
	}
	out, err := contractABI.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("oracle: unpack %s: %w", method, err)
	}
	return out, nil
}
