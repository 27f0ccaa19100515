package engine

import (
	"context"
	"fmt"

	"betvault/pkg/types"
)

// SetFeeBps changes the protocol fee. Owner only. The new fee applies to
// settlements from this point on; already-settled bets are untouched.
func (e *Engine) SetFeeBps(ctx context.Context, caller string, bps int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.cfg.Owner {
		return fmt.Errorf("only the owner may change the fee: %w", types.ErrUnauthorized)
	}
	if err := e.reg.SetFeeBps(ctx, bps); err != nil {
		return err
	}
	e.logger.Info("protocol fee changed", "fee_bps", bps)
	return nil
}

// FeeBps returns the current protocol fee in basis points.
func (e *Engine) FeeBps() int {
	return e.reg.FeeBps()
}

// FeeAccrual returns the fees withheld for an asset pending sweep.
func (e *Engine) FeeAccrual(asset string) int64 {
	return e.reg.FeeAccrual(asset)
}

// Assets lists every collateral asset with a fee accrual entry.
func (e *Engine) Assets() []string {
	return e.reg.Assets()
}

// Sweep pays accrued protocol fees out to the owner. Owner only; fails with
// ErrInsufficientFunds when the accrual cannot cover the requested amount.
// The accrual deduction is rolled back if the payout transfer fails.
func (e *Engine) Sweep(ctx context.Context, caller, asset string, amount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.cfg.Owner {
		return fmt.Errorf("only the owner may sweep fees: %w", types.ErrUnauthorized)
	}
	if err := e.reg.TakeFee(ctx, asset, amount); err != nil {
		return err
	}
	if err := e.custody.PayTo(ctx, e.cfg.Owner, asset, amount); err != nil {
		if rbErr := e.reg.RestoreFee(ctx, asset, amount); rbErr != nil {
			e.logger.Error("sweep rollback failed", "asset", asset, "amount", amount, "error", rbErr)
		}
		return fmt.Errorf("sweep payout: %w", err)
	}
	e.logger.Info("fees swept", "asset", asset, "amount", amount)
	return nil
}
