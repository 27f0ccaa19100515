package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// aggregatorABIJSON covers the two read methods the feed adapter needs from
// a Chainlink-compatible aggregator.
const aggregatorABIJSON = `[
  {"inputs":[],"name":"latestRoundData","outputs":[
    {"name":"roundId","type":"uint80"},
    {"name":"answer","type":"int256"},
    {"name":"startedAt","type":"uint256"},
    {"name":"updatedAt","type":"uint256"},
    {"name":"answeredInRound","type":"uint80"}],
   "stateMutability":"view","type":"function"},
  {"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],
   "stateMutability":"view","type":"function"}
]`

// FeedClient reads latest prices from Chainlink-compatible aggregator
// contracts over JSON-RPC. It implements Feed.
type FeedClient struct {
	ec     *ethclient.Client
	aggABI abi.ABI
}

// NewFeedClient builds a feed adapter on an existing RPC connection.
func NewFeedClient(ec *ethclient.Client) (*FeedClient, error) {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		return nil, fmt.Errorf("oracle: parse aggregator ABI: %w", err)
	}
	return &FeedClient{ec: ec, aggABI: parsed}, nil
}

// LatestPrice returns the feed's latest answer and its native decimal count.
func (c *FeedClient) LatestPrice(ctx context.Context, source string) (*big.Int, uint8, error) {
	addr := common.HexToAddress(source)

	answer, err := c.callAggregator(ctx, addr, "latestRoundData")
	if err != nil {
		return nil, 0, err
	}
	price, ok := answer[1].(*big.Int)
	if !ok {
		return nil, 0, fmt.Errorf("oracle: feed %s: unexpected answer type %T", source, answer[1])
	}

	decOut, err := c.callAggregator(ctx, addr, "decimals")
	if err != nil {
		return nil, 0, err
	}
	decimals, ok := decOut[0].(uint8)
	if !ok {
		return nil, 0, fmt.Errorf("oracle: feed %s: unexpected decimals type %T", source, decOut[0])
	}

	return price, decimals, nil
}

func (c *FeedClient) callAggregator(ctx context.Context, addr common.Address, method string) ([]any, error) {
	data, err := c.aggABI.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("oracle: pack %s: %w", method, err)
	}
	res, err := c.ec.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("oracle: call %s on %s: %w", method, addr.Hex(), err)
	}
	out, err := c.aggABI.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("oracle: unpack %s: %w", method, err)
	}
	return out, nil
}
