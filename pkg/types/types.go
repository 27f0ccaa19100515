// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the escrow service — bet records,
// lifecycle statuses, oracle references, and audit events. It has no
// dependencies on internal packages, so it can be imported by any layer.
package types

import "time"

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// BetID identifies a bet. IDs are allocated sequentially starting at 1;
// 0 is never a valid id.
type BetID int64

// Status is the lifecycle state of a bet.
//
// WaitingForTaker and InProcess are the only states a bet can leave.
// Killed, Canceled, MakerPaid and TakerPaid are terminal; MakerWins and
// TakerWins are the brief post-close, pre-settle states.
type Status string

const (
	StatusWaitingForTaker Status = "WAITING_FOR_TAKER"
	StatusKilled          Status = "KILLED"
	StatusInProcess       Status = "IN_PROCESS"
	StatusMakerWins       Status = "MAKER_WINS"
	StatusTakerWins       Status = "TAKER_WINS"
	StatusCanceled        Status = "CANCELED"
	StatusMakerPaid       Status = "MAKER_PAID"
	StatusTakerPaid       Status = "TAKER_PAID"
)

// Terminal reports whether no further transition can leave this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusKilled, StatusCanceled, StatusMakerPaid, StatusTakerPaid:
		return true
	}
	return false
}

// Won reports whether the bet has a determined winner awaiting settlement.
func (s Status) Won() bool {
	return s == StatusMakerWins || s == StatusTakerWins
}

// Comparator is the price condition set by the maker, interpreted from the
// maker's perspective: the maker wins when observedPrice <comparator>
// priceLine holds at close time.
type Comparator string

const (
	CmpGreaterThan Comparator = "GT"
	CmpEquals      Comparator = "EQ"
	CmpLessThan    Comparator = "LT"
)

// Valid reports whether c is one of the three supported comparators.
func (c Comparator) Valid() bool {
	return c == CmpGreaterThan || c == CmpEquals || c == CmpLessThan
}

// OracleKind selects the price-resolution family for a bet.
type OracleKind string

const (
	// OracleChainlink reads the latest answer from a push-based price feed,
	// optionally as a ratio of two feeds.
	OracleChainlink OracleKind = "CHAINLINK"
	// OracleUniswapTwap computes a time-weighted average price over a
	// liquidity pool observation window.
	OracleUniswapTwap OracleKind = "UNISWAP_TWAP"
)

// Valid reports whether k is a supported oracle family.
func (k OracleKind) Valid() bool {
	return k == OracleChainlink || k == OracleUniswapTwap
}

// Winner identifies which side of a bet the settlement favors.
type Winner string

const (
	WinnerMaker Winner = "MAKER"
	WinnerTaker Winner = "TAKER"
)

// ————————————————————————————————————————————————————————————————————————
// Bet record
// ————————————————————————————————————————————————————————————————————————

// Bet is the durable record of a single wager. A bet is created once in
// WaitingForTaker and mutated only through the lifecycle operations; it is
// never deleted — terminal states are retained permanently for audit.
//
// Once the bet leaves WaitingForTaker, Maker, Taker, CollateralAsset and
// Amount never change again.
type Bet struct {
	ID BetID `json:"id"`

	Maker string `json:"maker"`
	// Taker is empty while the bet is open to any counterparty. It is fixed
	// at creation for a designated-counterparty bet, or at take time for an
	// open one.
	Taker string `json:"taker,omitempty"`

	CollateralAsset string `json:"collateral_asset"` // fungible asset staked by both sides
	Amount          int64  `json:"amount"`           // stake per side, in base units, always > 0

	Deadline time.Time `json:"deadline"` // bet becomes closable once this passes
	Status   Status    `json:"status"`

	OracleKind OracleKind `json:"oracle_kind"`
	OracleMain string     `json:"oracle_main"`
	// OracleSecondary is empty for a single absolute price. For the Chainlink
	// family it is the denominator feed of a ratio price; for the TWAP family
	// it is the quote token of the pool.
	OracleSecondary string `json:"oracle_secondary,omitempty"`
	FeeTier         int64  `json:"fee_tier,omitempty"` // pool fee parameter, TWAP family only

	PriceLine  int64      `json:"price_line"`
	Comparator Comparator `json:"comparator"`

	MakerCancelRequested bool `json:"maker_cancel_requested"`
	TakerCancelRequested bool `json:"taker_cancel_requested"`

	CreatedAt time.Time `json:"created_at"`
}

// OpenTaker reports whether the bet has no designated taker yet.
func (b Bet) OpenTaker() bool {
	return b.Taker == ""
}

// Party reports whether identity is the maker or the taker of the bet.
func (b Bet) Party(identity string) bool {
	return identity == b.Maker || (b.Taker != "" && identity == b.Taker)
}

// BetSpec carries the caller-supplied parameters of CreateAndDeposit.
// The engine derives the deadline from Duration and the registry fills in
// the id, status and creation time.
type BetSpec struct {
	Taker           string        `json:"taker,omitempty"` // empty = open to anyone
	CollateralAsset string        `json:"collateral_asset"`
	Amount          int64         `json:"amount"`
	Duration        time.Duration `json:"duration"` // deadline = now + Duration

	OracleKind      OracleKind `json:"oracle_kind"`
	OracleMain      string     `json:"oracle_main"`
	OracleSecondary string     `json:"oracle_secondary,omitempty"`
	FeeTier         int64      `json:"fee_tier,omitempty"`

	PriceLine  int64      `json:"price_line"`
	Comparator Comparator `json:"comparator"`
}

// ————————————————————————————————————————————————————————————————————————
// Audit events
// ————————————————————————————————————————————————————————————————————————

// EventType enumerates the audit log entries, one per state transition.
type EventType string

const (
	EventBetCreated      EventType = "BET_CREATED"
	EventBetTaken        EventType = "BET_TAKEN"
	EventBetKilled       EventType = "BET_KILLED"
	EventCancelRequested EventType = "CANCEL_REQUESTED"
	EventBetCanceled     EventType = "BET_CANCELED"
	EventBetClosed       EventType = "BET_CLOSED"
	EventBetSettled      EventType = "BET_SETTLED"
)

// Event is a single append-only audit log entry. Fields beyond Type, BetID
// and At are populated per event type: Maker/Taker on creation, Winner/Loser
// on close, By on a cancel request, Amount/Fee on settlement.
type Event struct {
	Type  EventType `json:"type"`
	BetID BetID     `json:"bet_id"`
	At    time.Time `json:"at"`

	Maker  string `json:"maker,omitempty"`
	Taker  string `json:"taker,omitempty"`
	Winner string `json:"winner,omitempty"`
	Loser  string `json:"loser,omitempty"`
	By     string `json:"by,omitempty"` // "maker" or "taker" for cancel requests
	Amount int64  `json:"amount,omitempty"`
	Fee    int64  `json:"fee,omitempty"`
}
