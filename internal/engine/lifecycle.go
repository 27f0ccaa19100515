package engine

import (
	"context"
	"fmt"
	"math"

	"betvault/internal/registry"
	"betvault/pkg/types"
)

// CreateAndDeposit validates a bet proposal, escrows the maker's stake and
// stores the new bet in WaitingForTaker. For TWAP bets the oracle pair is
// canonicalized against the pool's token ordering before persisting.
//
// The deposit is pulled before the record exists; if persisting then fails,
// the stake is returned to the maker and the error surfaced.
func (e *Engine) CreateAndDeposit(ctx context.Context, caller string, spec types.BetSpec) (types.BetID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.validateSpec(caller, spec); err != nil {
		return 0, err
	}

	now := e.now().UTC()
	bet := types.Bet{
		Maker:           caller,
		Taker:           spec.Taker,
		CollateralAsset: spec.CollateralAsset,
		Amount:          spec.Amount,
		Deadline:        now.Add(spec.Duration),
		OracleKind:      spec.OracleKind,
		OracleMain:      spec.OracleMain,
		OracleSecondary: spec.OracleSecondary,
		FeeTier:         spec.FeeTier,
		PriceLine:       spec.PriceLine,
		Comparator:      spec.Comparator,
		CreatedAt:       now,
	}

	if bet.OracleKind == types.OracleUniswapTwap {
		token0, err := e.prices.CanonicalToken0(ctx, bet.OracleMain, bet.OracleSecondary, bet.FeeTier)
		if err != nil {
			return 0, fmt.Errorf("resolve pool ordering: %w", err)
		}
		registry.CanonicalizeTwap(&bet, token0)
	}

	if err := e.custody.DepositFrom(ctx, caller, bet.CollateralAsset, bet.Amount); err != nil {
		return 0, fmt.Errorf("escrow maker stake: %w", err)
	}

	created, err := e.reg.Create(ctx, bet)
	if err != nil {
		e.refund(ctx, caller, bet.CollateralAsset, bet.Amount, "create rollback")
		return 0, err
	}

	e.emit(ctx, types.Event{
		Type:  types.EventBetCreated,
		BetID: created.ID,
		At:    now,
		Maker: created.Maker,
		Taker: created.Taker,
	})
	return created.ID, nil
}

func (e *Engine) validateSpec(caller string, spec types.BetSpec) error {
	switch {
	case caller == "":
		return fmt.Errorf("missing caller identity: %w", types.ErrInvalidInput)
	case spec.Amount <= 0:
		return fmt.Errorf("amount %d must be positive: %w", spec.Amount, types.ErrInvalidInput)
	case spec.Amount > math.MaxInt64/2:
		// The pot is 2×amount and must stay representable.
		return fmt.Errorf("amount %d too large to pool: %w", spec.Amount, types.ErrInvalidInput)
	case spec.Taker == caller:
		return fmt.Errorf("maker cannot be its own taker: %w", types.ErrInvalidInput)
	case spec.Duration < e.cfg.MinDuration:
		return fmt.Errorf("duration %v below minimum %v: %w", spec.Duration, e.cfg.MinDuration, types.ErrInvalidInput)
	case spec.CollateralAsset == "":
		return fmt.Errorf("missing collateral asset: %w", types.ErrInvalidInput)
	case !spec.Comparator.Valid():
		return fmt.Errorf("comparator %q: %w", spec.Comparator, types.ErrInvalidInput)
	case !spec.OracleKind.Valid():
		return fmt.Errorf("oracle kind %q: %w", spec.OracleKind, types.ErrInvalidInput)
	case spec.OracleMain == "":
		return fmt.Errorf("missing main oracle reference: %w", types.ErrInvalidInput)
	case spec.OracleKind == types.OracleUniswapTwap && spec.OracleSecondary == "":
		return fmt.Errorf("twap bets need a secondary token: %w", types.ErrInvalidInput)
	}
	return nil
}

// TakeAndDeposit matches the taker's stake against a waiting bet. If the bet
// was created with a designated taker, only that identity may take it;
// otherwise the first caller to pass the guards becomes the taker.
func (e *Engine) TakeAndDeposit(ctx context.Context, caller string, id types.BetID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	bet, err := e.reg.Get(id)
	if err != nil {
		return err
	}
	if bet.Status != types.StatusWaitingForTaker {
		return fmt.Errorf("bet %d is %s: %w", id, bet.Status, types.ErrInvalidState)
	}
	if !e.now().Before(bet.Deadline) {
		return fmt.Errorf("bet %d deadline %v: %w", id, bet.Deadline, types.ErrExpired)
	}
	if bet.Taker != "" && caller != bet.Taker {
		return fmt.Errorf("bet %d reserved for its designated taker: %w", id, types.ErrUnauthorized)
	}
	if caller == bet.Maker {
		return fmt.Errorf("maker cannot take its own bet: %w", types.ErrInvalidInput)
	}

	if err := e.custody.DepositFrom(ctx, caller, bet.CollateralAsset, bet.Amount); err != nil {
		return fmt.Errorf("escrow taker stake: %w", err)
	}

	wasOpen := bet.OpenTaker()
	bet.Taker = caller
	bet.Status = types.StatusInProcess
	if err := e.reg.Update(ctx, bet); err != nil {
		e.refund(ctx, caller, bet.CollateralAsset, bet.Amount, "take rollback")
		return err
	}
	if wasOpen {
		if err := e.reg.AddParticipant(ctx, caller, id); err != nil {
			// Index only, never authoritative.
			e.logger.Warn("failed to index taker", "bet_id", id, "error", err)
		}
	}

	e.emit(ctx, types.Event{Type: types.EventBetTaken, BetID: id, At: e.now().UTC(), Taker: caller})
	return nil
}

// Cancel kills a bet that nobody has taken yet and refunds the maker's
// stake in full. Only the maker may cancel, and only before a taker
// matched.
func (e *Engine) Cancel(ctx context.Context, caller string, id types.BetID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	bet, err := e.reg.Get(id)
	if err != nil {
		return err
	}
	if bet.Status != types.StatusWaitingForTaker {
		return fmt.Errorf("bet %d is %s: %w", id, bet.Status, types.ErrInvalidState)
	}
	if caller != bet.Maker {
		return fmt.Errorf("only the maker may cancel: %w", types.ErrUnauthorized)
	}

	prior := bet
	bet.Status = types.StatusKilled
	if err := e.reg.Update(ctx, bet); err != nil {
		return err
	}
	if err := e.custody.PayTo(ctx, bet.Maker, bet.CollateralAsset, bet.Amount); err != nil {
		e.restore(ctx, prior, "cancel rollback")
		return fmt.Errorf("refund maker stake: %w", err)
	}

	e.emit(ctx, types.Event{Type: types.EventBetKilled, BetID: id, At: e.now().UTC()})
	return nil
}

// RequestCancel records one party's consent to cancel an in-process bet.
// It is idempotent per caller. When both parties have consented the bet
// transitions to Canceled and both stakes are refunded in full, no fee.
// A single party can never force cancellation on its own.
func (e *Engine) RequestCancel(ctx context.Context, caller string, id types.BetID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	bet, err := e.reg.Get(id)
	if err != nil {
		return err
	}
	if bet.Status != types.StatusInProcess {
		return fmt.Errorf("bet %d is %s: %w", id, bet.Status, types.ErrInvalidState)
	}
	if !bet.Party(caller) {
		return fmt.Errorf("only a party to the bet may request cancel: %w", types.ErrUnauthorized)
	}

	by := "maker"
	if caller == bet.Taker {
		by = "taker"
	}
	if (by == "maker" && bet.MakerCancelRequested) || (by == "taker" && bet.TakerCancelRequested) {
		return nil // already requested; nothing to re-apply
	}

	prior := bet
	if by == "maker" {
		bet.MakerCancelRequested = true
	} else {
		bet.TakerCancelRequested = true
	}

	dualConsent := bet.MakerCancelRequested && bet.TakerCancelRequested
	if dualConsent {
		bet.Status = types.StatusCanceled
	}
	if err := e.reg.Update(ctx, bet); err != nil {
		return err
	}

	now := e.now().UTC()
	if !dualConsent {
		e.emit(ctx, types.Event{Type: types.EventCancelRequested, BetID: id, At: now, By: by})
		return nil
	}

	// Refund both sides in full; roll everything back if either leg fails.
	if err := e.custody.PayTo(ctx, bet.Maker, bet.CollateralAsset, bet.Amount); err != nil {
		e.restore(ctx, prior, "cancel consent rollback")
		return fmt.Errorf("refund maker stake: %w", err)
	}
	if err := e.custody.PayTo(ctx, bet.Taker, bet.CollateralAsset, bet.Amount); err != nil {
		e.reclaim(ctx, bet.Maker, bet.CollateralAsset, bet.Amount)
		e.restore(ctx, prior, "cancel consent rollback")
		return fmt.Errorf("refund taker stake: %w", err)
	}

	e.emit(ctx, types.Event{Type: types.EventCancelRequested, BetID: id, At: now, By: by})
	e.emit(ctx, types.Event{Type: types.EventBetCanceled, BetID: id, At: now})
	return nil
}

// refund attempts a compensating payout after a failed commit. Failures are
// logged for manual reconciliation; the original error still surfaces to
// the caller.
func (e *Engine) refund(ctx context.Context, identity, asset string, amount int64, reason string) {
	if amount <= 0 {
		return
	}
	if err := e.custody.PayTo(ctx, identity, asset, amount); err != nil {
		e.logger.Error("compensating payout failed, funds need manual reconciliation",
			"identity", identity, "asset", asset, "amount", amount, "reason", reason, "error", err)
	}
}

// reclaim attempts to pull back a refund that was paid before a later leg of
// the same cancellation failed.
func (e *Engine) reclaim(ctx context.Context, identity, asset string, amount int64) {
	if err := e.custody.DepositFrom(ctx, identity, asset, amount); err != nil {
		e.logger.Error("reclaim of paid refund failed, funds need manual reconciliation",
			"identity", identity, "asset", asset, "amount", amount, "error", err)
	}
}

// restore writes a bet's prior state back after a failed transfer.
func (e *Engine) restore(ctx context.Context, prior types.Bet, reason string) {
	if err := e.reg.Update(ctx, prior); err != nil {
		e.logger.Error("state rollback failed", "bet_id", prior.ID, "reason", reason, "error", err)
	}
}
