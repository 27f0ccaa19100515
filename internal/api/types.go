package api

import (
	"context"

	"betvault/pkg/types"
)

// Service is the slice of the lifecycle engine the API exposes over HTTP.
type Service interface {
	CreateAndDeposit(ctx context.Context, caller string, spec types.BetSpec) (types.BetID, error)
	TakeAndDeposit(ctx context.Context, caller string, id types.BetID) error
	Cancel(ctx context.Context, caller string, id types.BetID) error
	RequestCancel(ctx context.Context, caller string, id types.BetID) error
	CloseBet(ctx context.Context, id types.BetID) (types.Winner, error)
	SettleBet(ctx context.Context, id types.BetID) error

	GetBet(id types.BetID) (types.Bet, error)
	BetsOf(identity string) ([]types.Bet, error)
	EventsFor(ctx context.Context, id types.BetID) ([]types.Event, error)

	SetFeeBps(ctx context.Context, caller string, bps int) error
	Sweep(ctx context.Context, caller, asset string, amount int64) error
	FeeBps() int
	FeeAccrual(asset string) int64
	Assets() []string

	Events() <-chan types.Event
}

// createBetRequest is the JSON body of POST /api/bets. Durations are carried
// as whole seconds on the wire.
type createBetRequest struct {
	Caller          string `json:"caller"`
	Taker           string `json:"taker,omitempty"`
	CollateralAsset string `json:"collateral_asset"`
	Amount          int64  `json:"amount"`
	DurationSeconds int64  `json:"duration_seconds"`

	OracleKind      types.OracleKind `json:"oracle_kind"`
	OracleMain      string           `json:"oracle_main"`
	OracleSecondary string           `json:"oracle_secondary,omitempty"`
	FeeTier         int64            `json:"fee_tier,omitempty"`

	PriceLine  int64            `json:"price_line"`
	Comparator types.Comparator `json:"comparator"`
}

// actionRequest is the JSON body of the caller-identified lifecycle actions
// (take, cancel, request-cancel).
type actionRequest struct {
	Caller string `json:"caller"`
}

type createBetResponse struct {
	ID types.BetID `json:"id"`
}

type closeBetResponse struct {
	Winner types.Winner `json:"winner"`
}

type feeResponse struct {
	FeeBps   int              `json:"fee_bps"`
	Accruals map[string]int64 `json:"accruals"`
}

type setFeeRequest struct {
	Caller string `json:"caller"`
	FeeBps int    `json:"fee_bps"`
}

type sweepRequest struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"`
}

type errorResponse struct {
	Error string `json:"error"`
}
