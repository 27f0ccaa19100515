package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"betvault/internal/config"
	"betvault/internal/registry"
	"betvault/pkg/types"
)

// ————————————————————————————————————————————————————————————————————————
// Fakes

// fakeCustody tracks the net balance held in escrow per asset and every
// transfer it performed, and can be told to fail specific legs.
type fakeCustody struct {
	mu       sync.Mutex
	escrowed map[string]int64 // asset → net amount held
	deposits []string
	payouts  []string

	failDeposit error
	failPayTo   func(identity string) error
}

func newFakeCustody() *fakeCustody {
	return &fakeCustody{escrowed: make(map[string]int64)}
}

func (f *fakeCustody) DepositFrom(_ context.Context, identity, asset string, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDeposit != nil {
		return f.failDeposit
	}
	f.escrowed[asset] += amount
	f.deposits = append(f.deposits, fmt.Sprintf("%s:%s:%d", identity, asset, amount))
	return nil
}

func (f *fakeCustody) PayTo(_ context.Context, identity, asset string, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPayTo != nil {
		if err := f.failPayTo(identity); err != nil {
			return err
		}
	}
	f.escrowed[asset] -= amount
	f.payouts = append(f.payouts, fmt.Sprintf("%s:%s:%d", identity, asset, amount))
	return nil
}

func (f *fakeCustody) held(asset string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.escrowed[asset]
}

func (f *fakeCustody) payoutCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payouts)
}

// fakePrices returns a fixed price and token0, or fails.
type fakePrices struct {
	price  int64
	token0 string
	err    error
}

func (f *fakePrices) Resolve(context.Context, types.Bet) (int64, error) {
	return f.price, f.err
}

func (f *fakePrices) CanonicalToken0(context.Context, string, string, int64) (string, error) {
	return f.token0, f.err
}

// ————————————————————————————————————————————————————————————————————————
// Harness

type testEngine struct {
	*Engine
	custody *fakeCustody
	prices  *fakePrices
	clock   *fakeClock
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()

	reg, err := registry.Open(filepath.Join(t.TempDir(), "bets.db"), 100)
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	t.Cleanup(func() { reg.Close() })

	custody := newFakeCustody()
	prices := &fakePrices{price: 2500}
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	cfg := config.ServiceConfig{Owner: "owner", FeeBps: 100, MinDuration: time.Hour}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	e := New(cfg, reg, custody, prices, logger)
	e.now = clock.Now
	return &testEngine{Engine: e, custody: custody, prices: prices, clock: clock}
}

func chainlinkSpec() types.BetSpec {
	return types.BetSpec{
		CollateralAsset: "USDC",
		Amount:          100,
		Duration:        24 * time.Hour,
		OracleKind:      types.OracleChainlink,
		OracleMain:      "0xfeed",
		PriceLine:       2000,
		Comparator:      types.CmpGreaterThan,
	}
}

// mustCreate creates a bet and fails the test on error.
func mustCreate(t *testing.T, e *testEngine, maker string, spec types.BetSpec) types.BetID {
	t.Helper()
	id, err := e.CreateAndDeposit(context.Background(), maker, spec)
	if err != nil {
		t.Fatalf("CreateAndDeposit: %v", err)
	}
	return id
}

func mustTake(t *testing.T, e *testEngine, taker string, id types.BetID) {
	t.Helper()
	if err := e.TakeAndDeposit(context.Background(), taker, id); err != nil {
		t.Fatalf("TakeAndDeposit: %v", err)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Creation

func TestCreateEscrowsStakeAndStoresBet(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	id := mustCreate(t, e, "alice", chainlinkSpec())
	if id != 1 {
		t.Fatalf("first bet id = %d, want 1", id)
	}

	bet, err := e.GetBet(id)
	if err != nil {
		t.Fatalf("GetBet: %v", err)
	}
	if bet.Status != types.StatusWaitingForTaker {
		t.Errorf("status = %s, want %s", bet.Status, types.StatusWaitingForTaker)
	}
	if want := e.clock.Now().Add(24 * time.Hour); !bet.Deadline.Equal(want) {
		t.Errorf("deadline = %v, want %v", bet.Deadline, want)
	}
	if got := e.custody.held("USDC"); got != 100 {
		t.Errorf("escrowed = %d, want 100", got)
	}
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		caller string
		mutate func(*types.BetSpec)
	}{
		{"empty caller", "", func(*types.BetSpec) {}},
		{"zero amount", "alice", func(s *types.BetSpec) { s.Amount = 0 }},
		{"negative amount", "alice", func(s *types.BetSpec) { s.Amount = -5 }},
		{"amount doubles past int64", "alice", func(s *types.BetSpec) { s.Amount = math.MaxInt64/2 + 1 }},
		{"self taker", "alice", func(s *types.BetSpec) { s.Taker = "alice" }},
		{"short duration", "alice", func(s *types.BetSpec) { s.Duration = time.Minute }},
		{"no asset", "alice", func(s *types.BetSpec) { s.CollateralAsset = "" }},
		{"bad comparator", "alice", func(s *types.BetSpec) { s.Comparator = "GTE" }},
		{"bad oracle kind", "alice", func(s *types.BetSpec) { s.OracleKind = "MEDIAN" }},
		{"no oracle main", "alice", func(s *types.BetSpec) { s.OracleMain = "" }},
		{"twap without secondary", "alice", func(s *types.BetSpec) {
			s.OracleKind = types.OracleUniswapTwap
			s.OracleSecondary = ""
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec := chainlinkSpec()
			tc.mutate(&spec)
			if _, err := e.CreateAndDeposit(ctx, tc.caller, spec); !errors.Is(err, types.ErrInvalidInput) {
				t.Errorf("err = %v, want ErrInvalidInput", err)
			}
		})
	}

	// Nothing should have been escrowed by rejected creations.
	if got := e.custody.held("USDC"); got != 0 {
		t.Errorf("escrowed after rejects = %d, want 0", got)
	}
}

func TestCreateCanonicalizesTwapPair(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	e.prices.token0 = "0xBBBB"

	spec := chainlinkSpec()
	spec.OracleKind = types.OracleUniswapTwap
	spec.OracleMain = "0xaaaa"
	spec.OracleSecondary = "0xbbbb"
	spec.FeeTier = 3000

	id := mustCreate(t, e, "alice", spec)
	bet, err := e.GetBet(id)
	if err != nil {
		t.Fatalf("GetBet: %v", err)
	}
	// token0 matched the secondary, so the pair must have been swapped.
	if bet.OracleMain != "0xbbbb" || bet.OracleSecondary != "0xaaaa" {
		t.Errorf("pair = (%s, %s), want swapped to (0xbbbb, 0xaaaa)", bet.OracleMain, bet.OracleSecondary)
	}
}

func TestCreateDepositFailureSurfacesAndStoresNothing(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	e.custody.failDeposit = types.ErrInsufficientFunds

	if _, err := e.CreateAndDeposit(context.Background(), "alice", chainlinkSpec()); !errors.Is(err, types.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if e.reg.LastID() != 0 {
		t.Errorf("a bet was stored despite the failed deposit")
	}
}

// ————————————————————————————————————————————————————————————————————————
// Taking

func TestTakeMatchesAndEscrowsBothStakes(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	id := mustCreate(t, e, "alice", chainlinkSpec())
	mustTake(t, e, "bob", id)

	bet, _ := e.GetBet(id)
	if bet.Status != types.StatusInProcess {
		t.Errorf("status = %s, want %s", bet.Status, types.StatusInProcess)
	}
	if bet.Taker != "bob" {
		t.Errorf("taker = %q, want bob", bet.Taker)
	}
	if got := e.custody.held("USDC"); got != 200 {
		t.Errorf("escrowed = %d, want 200", got)
	}
}

func TestTakeGuards(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	spec := chainlinkSpec()
	spec.Taker = "bob"
	id := mustCreate(t, e, "alice", spec)

	if err := e.TakeAndDeposit(ctx, "mallory", id); !errors.Is(err, types.ErrUnauthorized) {
		t.Errorf("non-designated taker: err = %v, want ErrUnauthorized", err)
	}
	if err := e.TakeAndDeposit(ctx, "alice", id); !errors.Is(err, types.ErrUnauthorized) {
		t.Errorf("maker on designated bet: err = %v, want ErrUnauthorized", err)
	}
	if err := e.TakeAndDeposit(ctx, "bob", 99); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("unknown bet: err = %v, want ErrNotFound", err)
	}

	mustTake(t, e, "bob", id)
	if err := e.TakeAndDeposit(ctx, "bob", id); !errors.Is(err, types.ErrInvalidState) {
		t.Errorf("double take: err = %v, want ErrInvalidState", err)
	}
}

func TestTakeOwnOpenBetRejected(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	id := mustCreate(t, e, "alice", chainlinkSpec())
	if err := e.TakeAndDeposit(context.Background(), "alice", id); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestTakeAfterDeadlineExpired(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	id := mustCreate(t, e, "alice", chainlinkSpec())
	e.clock.Advance(25 * time.Hour)

	if err := e.TakeAndDeposit(context.Background(), "bob", id); !errors.Is(err, types.ErrExpired) {
		t.Errorf("err = %v, want ErrExpired", err)
	}
}

func TestOpenTakerRaceAdmitsExactlyOne(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	id := mustCreate(t, e, "alice", chainlinkSpec())

	const contenders = 8
	errs := make([]error, contenders)
	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = e.TakeAndDeposit(ctx, fmt.Sprintf("taker-%d", i), id)
		}(i)
	}
	wg.Wait()

	won := 0
	for i, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, types.ErrInvalidState):
		default:
			t.Errorf("contender %d: unexpected err %v", i, err)
		}
	}
	if won != 1 {
		t.Fatalf("%d contenders succeeded, want exactly 1", won)
	}

	// Only the winner's stake was kept: maker + one taker.
	if got := e.custody.held("USDC"); got != 200 {
		t.Errorf("escrowed = %d, want 200", got)
	}
	bet, _ := e.GetBet(id)
	if bet.Taker == "" || bet.Status != types.StatusInProcess {
		t.Errorf("bet = %+v, want matched in-process bet", bet)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Cancellation

func TestCancelBeforeTakeRefundsMaker(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	id := mustCreate(t, e, "alice", chainlinkSpec())

	if err := e.Cancel(ctx, "bob", id); !errors.Is(err, types.ErrUnauthorized) {
		t.Errorf("non-maker cancel: err = %v, want ErrUnauthorized", err)
	}
	if err := e.Cancel(ctx, "alice", id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	bet, _ := e.GetBet(id)
	if bet.Status != types.StatusKilled {
		t.Errorf("status = %s, want %s", bet.Status, types.StatusKilled)
	}
	if got := e.custody.held("USDC"); got != 0 {
		t.Errorf("escrowed after refund = %d, want 0", got)
	}

	if err := e.Cancel(ctx, "alice", id); !errors.Is(err, types.ErrInvalidState) {
		t.Errorf("cancel of killed bet: err = %v, want ErrInvalidState", err)
	}
}

func TestCancelAfterTakeRejected(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	id := mustCreate(t, e, "alice", chainlinkSpec())
	mustTake(t, e, "bob", id)

	if err := e.Cancel(context.Background(), "alice", id); !errors.Is(err, types.ErrInvalidState) {
		t.Errorf("err = %v, want ErrInvalidState", err)
	}
}

func TestRequestCancelNeedsBothParties(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	id := mustCreate(t, e, "alice", chainlinkSpec())
	mustTake(t, e, "bob", id)

	if err := e.RequestCancel(ctx, "mallory", id); !errors.Is(err, types.ErrUnauthorized) {
		t.Errorf("outsider: err = %v, want ErrUnauthorized", err)
	}

	// One party alone never cancels, and repeating the request is a no-op.
	if err := e.RequestCancel(ctx, "alice", id); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if err := e.RequestCancel(ctx, "alice", id); err != nil {
		t.Fatalf("repeated request: %v", err)
	}
	bet, _ := e.GetBet(id)
	if bet.Status != types.StatusInProcess {
		t.Fatalf("status after single consent = %s, want %s", bet.Status, types.StatusInProcess)
	}

	// Second party consents: both stakes come back in full, no fee.
	if err := e.RequestCancel(ctx, "bob", id); err != nil {
		t.Fatalf("second request: %v", err)
	}
	bet, _ = e.GetBet(id)
	if bet.Status != types.StatusCanceled {
		t.Errorf("status = %s, want %s", bet.Status, types.StatusCanceled)
	}
	if got := e.custody.held("USDC"); got != 0 {
		t.Errorf("escrowed after dual-consent refund = %d, want 0", got)
	}
	if got := e.FeeAccrual("USDC"); got != 0 {
		t.Errorf("fee accrued on cancel = %d, want 0", got)
	}

	if err := e.RequestCancel(ctx, "alice", id); !errors.Is(err, types.ErrInvalidState) {
		t.Errorf("request on canceled bet: err = %v, want ErrInvalidState", err)
	}
}

func TestRequestCancelRefundFailureRollsBack(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	id := mustCreate(t, e, "alice", chainlinkSpec())
	mustTake(t, e, "bob", id)
	if err := e.RequestCancel(ctx, "alice", id); err != nil {
		t.Fatalf("first request: %v", err)
	}

	// Second refund leg fails; the consent that triggered it must unwind.
	e.custody.failPayTo = func(identity string) error {
		if identity == "bob" {
			return errors.New("custody outage")
		}
		return nil
	}
	if err := e.RequestCancel(ctx, "bob", id); err == nil {
		t.Fatal("expected refund failure to surface")
	}

	bet, _ := e.GetBet(id)
	if bet.Status != types.StatusInProcess {
		t.Errorf("status = %s, want %s", bet.Status, types.StatusInProcess)
	}
	if bet.TakerCancelRequested {
		t.Errorf("taker consent survived the rollback")
	}

	// Retry once custody recovers.
	e.custody.failPayTo = nil
	if err := e.RequestCancel(ctx, "bob", id); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := e.custody.held("USDC"); got != 0 {
		t.Errorf("escrowed after retry = %d, want 0", got)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Close and settle

func TestCloseBeforeDeadlineNotYetEligible(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	id := mustCreate(t, e, "alice", chainlinkSpec())
	mustTake(t, e, "bob", id)

	if _, err := e.CloseBet(context.Background(), id); !errors.Is(err, types.ErrNotYetEligible) {
		t.Errorf("err = %v, want ErrNotYetEligible", err)
	}
}

func TestCloseAndSettleMakerWins(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	id := mustCreate(t, e, "alice", chainlinkSpec()) // line 2000, GT
	mustTake(t, e, "bob", id)
	e.clock.Advance(25 * time.Hour)
	e.prices.price = 2100

	winner, err := e.CloseBet(ctx, id)
	if err != nil {
		t.Fatalf("CloseBet: %v", err)
	}
	if winner != types.WinnerMaker {
		t.Fatalf("winner = %s, want %s", winner, types.WinnerMaker)
	}
	bet, _ := e.GetBet(id)
	if bet.Status != types.StatusMakerWins {
		t.Fatalf("status = %s, want %s", bet.Status, types.StatusMakerWins)
	}

	if err := e.SettleBet(ctx, id); err != nil {
		t.Fatalf("SettleBet: %v", err)
	}
	bet, _ = e.GetBet(id)
	if bet.Status != types.StatusMakerPaid {
		t.Errorf("status = %s, want %s", bet.Status, types.StatusMakerPaid)
	}

	// Pot 200 at 100 bps: winner gets 198, fee 2, nothing left in escrow
	// beyond the accrual.
	if got := e.FeeAccrual("USDC"); got != 2 {
		t.Errorf("fee accrual = %d, want 2", got)
	}
	if got := e.custody.held("USDC"); got != 2 {
		t.Errorf("escrowed = %d, want 2 (the fee)", got)
	}
}

func TestCloseTieAndLessThanGoToTaker(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	id := mustCreate(t, e, "alice", chainlinkSpec()) // line 2000, GT
	mustTake(t, e, "bob", id)
	e.clock.Advance(25 * time.Hour)
	e.prices.price = 2000 // exactly on the line: GT does not hold

	winner, err := e.CloseBet(ctx, id)
	if err != nil {
		t.Fatalf("CloseBet: %v", err)
	}
	if winner != types.WinnerTaker {
		t.Fatalf("winner = %s, want %s", winner, types.WinnerTaker)
	}
	bet, _ := e.GetBet(id)
	if bet.Status != types.StatusTakerWins {
		t.Errorf("status = %s, want %s", bet.Status, types.StatusTakerWins)
	}
}

func TestCloseOracleFailureLeavesBetOpen(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	id := mustCreate(t, e, "alice", chainlinkSpec())
	mustTake(t, e, "bob", id)
	e.clock.Advance(25 * time.Hour)
	e.prices.err = errors.New("rpc timeout")

	if _, err := e.CloseBet(context.Background(), id); err == nil {
		t.Fatal("expected oracle failure to surface")
	}
	bet, _ := e.GetBet(id)
	if bet.Status != types.StatusInProcess {
		t.Errorf("status = %s, want %s (retriable)", bet.Status, types.StatusInProcess)
	}

	// Oracle recovers, the close succeeds.
	e.prices.err = nil
	if _, err := e.CloseBet(context.Background(), id); err != nil {
		t.Fatalf("retry close: %v", err)
	}
}

func TestSettleGuards(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	id := mustCreate(t, e, "alice", chainlinkSpec())
	if err := e.SettleBet(ctx, id); !errors.Is(err, types.ErrInvalidState) {
		t.Errorf("settle of waiting bet: err = %v, want ErrInvalidState", err)
	}

	mustTake(t, e, "bob", id)
	e.clock.Advance(25 * time.Hour)
	if _, err := e.CloseBet(ctx, id); err != nil {
		t.Fatalf("CloseBet: %v", err)
	}
	if err := e.SettleBet(ctx, id); err != nil {
		t.Fatalf("SettleBet: %v", err)
	}

	// Settlement is exactly-once.
	if err := e.SettleBet(ctx, id); !errors.Is(err, types.ErrInvalidState) {
		t.Errorf("double settle: err = %v, want ErrInvalidState", err)
	}
	if got := e.custody.payoutCount(); got != 1 {
		t.Errorf("payouts = %d, want 1", got)
	}
}

func TestSettlePayoutFailureRollsBack(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	id := mustCreate(t, e, "alice", chainlinkSpec())
	mustTake(t, e, "bob", id)
	e.clock.Advance(25 * time.Hour)
	e.prices.price = 2100
	if _, err := e.CloseBet(ctx, id); err != nil {
		t.Fatalf("CloseBet: %v", err)
	}

	e.custody.failPayTo = func(string) error { return errors.New("custody outage") }
	if err := e.SettleBet(ctx, id); err == nil {
		t.Fatal("expected payout failure to surface")
	}

	bet, _ := e.GetBet(id)
	if bet.Status != types.StatusMakerWins {
		t.Errorf("status = %s, want %s after rollback", bet.Status, types.StatusMakerWins)
	}
	if got := e.FeeAccrual("USDC"); got != 0 {
		t.Errorf("fee accrual = %d, want 0 after rollback", got)
	}

	// Retry commits for real.
	e.custody.failPayTo = nil
	if err := e.SettleBet(ctx, id); err != nil {
		t.Fatalf("retry settle: %v", err)
	}
	if got := e.FeeAccrual("USDC"); got != 2 {
		t.Errorf("fee accrual = %d, want 2", got)
	}
}

func TestMatchedBetFieldsFixedThroughSettlement(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	id := mustCreate(t, e, "alice", chainlinkSpec())
	mustTake(t, e, "bob", id)

	// Once matched, everything but status and consent flags is frozen.
	matched, err := e.GetBet(id)
	if err != nil {
		t.Fatalf("GetBet: %v", err)
	}

	e.clock.Advance(25 * time.Hour)
	e.prices.price = 2100
	if _, err := e.CloseBet(ctx, id); err != nil {
		t.Fatalf("CloseBet: %v", err)
	}
	if err := e.SettleBet(ctx, id); err != nil {
		t.Fatalf("SettleBet: %v", err)
	}

	settled, err := e.GetBet(id)
	if err != nil {
		t.Fatalf("GetBet: %v", err)
	}
	if settled.Status != types.StatusMakerPaid {
		t.Fatalf("status = %s, want %s", settled.Status, types.StatusMakerPaid)
	}
	settled.Status = matched.Status
	if settled != matched {
		t.Errorf("settled bet diverged beyond status:\n got %+v\nwant %+v", settled, matched)
	}
}

func TestSettlementConservation(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	spec := chainlinkSpec()
	spec.Amount = 333 // odd pot exercises the floor division
	id := mustCreate(t, e, "alice", spec)
	mustTake(t, e, "bob", id)
	e.clock.Advance(25 * time.Hour)
	e.prices.price = 2100

	if _, err := e.CloseBet(ctx, id); err != nil {
		t.Fatalf("CloseBet: %v", err)
	}
	if err := e.SettleBet(ctx, id); err != nil {
		t.Fatalf("SettleBet: %v", err)
	}

	// Everything escrowed left the pot as winner payout + fee accrual.
	fee := e.FeeAccrual("USDC")
	if got := e.custody.held("USDC"); got != fee {
		t.Errorf("escrow holds %d, fee accrual is %d; pot leaked", got, fee)
	}
	if fee != 2*333*100/10000 {
		t.Errorf("fee = %d, want %d", fee, 2*333*100/10000)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Admin

func TestSetFeeBpsOwnerOnly(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	if err := e.SetFeeBps(ctx, "alice", 50); !errors.Is(err, types.ErrUnauthorized) {
		t.Errorf("non-owner: err = %v, want ErrUnauthorized", err)
	}
	if err := e.SetFeeBps(ctx, "owner", 50); err != nil {
		t.Fatalf("SetFeeBps: %v", err)
	}
	if got := e.FeeBps(); got != 50 {
		t.Errorf("FeeBps = %d, want 50", got)
	}
	if err := e.SetFeeBps(ctx, "owner", 10000); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("out-of-range fee: err = %v, want ErrInvalidInput", err)
	}
}

func TestSweep(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	id := mustCreate(t, e, "alice", chainlinkSpec())
	mustTake(t, e, "bob", id)
	e.clock.Advance(25 * time.Hour)
	e.prices.price = 2100
	if _, err := e.CloseBet(ctx, id); err != nil {
		t.Fatalf("CloseBet: %v", err)
	}
	if err := e.SettleBet(ctx, id); err != nil {
		t.Fatalf("SettleBet: %v", err)
	}

	if err := e.Sweep(ctx, "alice", "USDC", 1); !errors.Is(err, types.ErrUnauthorized) {
		t.Errorf("non-owner sweep: err = %v, want ErrUnauthorized", err)
	}
	if err := e.Sweep(ctx, "owner", "USDC", 100); !errors.Is(err, types.ErrInsufficientFunds) {
		t.Errorf("oversweep: err = %v, want ErrInsufficientFunds", err)
	}
	if err := e.Sweep(ctx, "owner", "USDC", 2); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if got := e.FeeAccrual("USDC"); got != 0 {
		t.Errorf("fee accrual after sweep = %d, want 0", got)
	}
	if got := e.custody.held("USDC"); got != 0 {
		t.Errorf("escrowed after sweep = %d, want 0", got)
	}
}

// ————————————————————————————————————————————————————————————————————————
// Queries and audit log

func TestBetsOfIncludesOpenTaker(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	id := mustCreate(t, e, "alice", chainlinkSpec())
	mustTake(t, e, "bob", id)

	bobBets, err := e.BetsOf("bob")
	if err != nil {
		t.Fatalf("BetsOf: %v", err)
	}
	if len(bobBets) != 1 || bobBets[0].ID != id {
		t.Errorf("BetsOf(bob) = %v, want the taken bet", bobBets)
	}
}

func TestEventsForRecordsLifecycle(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx := context.Background()

	id := mustCreate(t, e, "alice", chainlinkSpec())
	mustTake(t, e, "bob", id)
	e.clock.Advance(25 * time.Hour)
	e.prices.price = 2100
	if _, err := e.CloseBet(ctx, id); err != nil {
		t.Fatalf("CloseBet: %v", err)
	}
	if err := e.SettleBet(ctx, id); err != nil {
		t.Fatalf("SettleBet: %v", err)
	}

	events, err := e.EventsFor(ctx, id)
	if err != nil {
		t.Fatalf("EventsFor: %v", err)
	}
	want := []types.EventType{
		types.EventBetCreated, types.EventBetTaken,
		types.EventBetClosed, types.EventBetSettled,
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d", len(events), len(want))
	}
	for i, ev := range events {
		if ev.Type != want[i] {
			t.Errorf("event %d = %s, want %s", i, ev.Type, want[i])
		}
	}

	if _, err := e.EventsFor(ctx, 99); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("unknown bet: err = %v, want ErrNotFound", err)
	}
}
