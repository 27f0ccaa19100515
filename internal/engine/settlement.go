package engine

import (
	"context"
	"fmt"

	"betvault/internal/settle"
	"betvault/pkg/types"
)

// CloseBet determines the winner of an overdue bet. Anyone may trigger it:
// the guards are purely status and timing. The price is resolved fresh from
// the oracle inside this operation, never reused from an earlier read.
//
// Close and Settle are deliberately separate operations so price discovery
// and payout are independently retriable and auditable.
func (e *Engine) CloseBet(ctx context.Context, id types.BetID) (types.Winner, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	bet, err := e.reg.Get(id)
	if err != nil {
		return "", err
	}
	if bet.Status != types.StatusInProcess {
		return "", fmt.Errorf("bet %d is %s: %w", id, bet.Status, types.ErrInvalidState)
	}
	if e.now().Before(bet.Deadline) {
		return "", fmt.Errorf("bet %d deadline %v: %w", id, bet.Deadline, types.ErrNotYetEligible)
	}

	observed, err := e.prices.Resolve(ctx, bet)
	if err != nil {
		return "", fmt.Errorf("resolve price: %w", err)
	}

	winner := settle.Evaluate(observed, bet.PriceLine, bet.Comparator)
	winnerIdentity, loserIdentity := bet.Maker, bet.Taker
	if winner == types.WinnerTaker {
		winnerIdentity, loserIdentity = bet.Taker, bet.Maker
	}

	if winner == types.WinnerMaker {
		bet.Status = types.StatusMakerWins
	} else {
		bet.Status = types.StatusTakerWins
	}
	if err := e.reg.Update(ctx, bet); err != nil {
		return "", err
	}

	e.logger.Info("bet closed",
		"bet_id", id, "observed", observed, "line", bet.PriceLine,
		"comparator", bet.Comparator, "winner", winner)
	e.emit(ctx, types.Event{
		Type:   types.EventBetClosed,
		BetID:  id,
		At:     e.now().UTC(),
		Winner: winnerIdentity,
		Loser:  loserIdentity,
	})
	return winner, nil
}

// SettleBet pays out a closed bet: the fee-adjusted pot goes to the winner
// and the fee to the protocol accrual for the bet's asset. The state
// transition and the fee accrual commit atomically before the payout
// transfer is issued; a failed transfer rolls both back.
func (e *Engine) SettleBet(ctx context.Context, id types.BetID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	bet, err := e.reg.Get(id)
	if err != nil {
		return err
	}
	if !bet.Status.Won() {
		return fmt.Errorf("bet %d is %s, not awaiting settlement: %w", id, bet.Status, types.ErrInvalidState)
	}

	winnerAmount, feeAmount := settle.Payout(bet.Amount, e.reg.FeeBps())

	prior := bet
	winnerIdentity := bet.Maker
	if bet.Status == types.StatusMakerWins {
		bet.Status = types.StatusMakerPaid
	} else {
		bet.Status = types.StatusTakerPaid
		winnerIdentity = bet.Taker
	}

	if err := e.reg.ApplySettlement(ctx, bet, feeAmount); err != nil {
		return err
	}
	if err := e.custody.PayTo(ctx, winnerIdentity, bet.CollateralAsset, winnerAmount); err != nil {
		if rbErr := e.reg.RevertSettlement(ctx, prior, feeAmount); rbErr != nil {
			e.logger.Error("settlement rollback failed", "bet_id", id, "error", rbErr)
		}
		return fmt.Errorf("pay out winner: %w", err)
	}

	e.emit(ctx, types.Event{
		Type:   types.EventBetSettled,
		BetID:  id,
		At:     e.now().UTC(),
		Winner: winnerIdentity,
		Amount: winnerAmount,
		Fee:    feeAmount,
	})
	return nil
}
