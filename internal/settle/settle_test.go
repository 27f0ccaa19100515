package settle

import (
	"math"
	"testing"

	"betvault/pkg/types"
)

func TestEvaluateAboveLine(t *testing.T) {
	t.Parallel()

	if w := Evaluate(2100, 2000, types.CmpGreaterThan); w != types.WinnerMaker {
		t.Errorf("GT above line: winner = %v, want maker", w)
	}
	if w := Evaluate(2100, 2000, types.CmpLessThan); w != types.WinnerTaker {
		t.Errorf("LT above line: winner = %v, want taker", w)
	}
	if w := Evaluate(2100, 2000, types.CmpEquals); w != types.WinnerTaker {
		t.Errorf("EQ above line: winner = %v, want taker", w)
	}
}

func TestEvaluateBelowLine(t *testing.T) {
	t.Parallel()

	if w := Evaluate(1900, 2000, types.CmpGreaterThan); w != types.WinnerTaker {
		t.Errorf("GT below line: winner = %v, want taker", w)
	}
	if w := Evaluate(1900, 2000, types.CmpLessThan); w != types.WinnerMaker {
		t.Errorf("LT below line: winner = %v, want maker", w)
	}
	if w := Evaluate(1900, 2000, types.CmpEquals); w != types.WinnerTaker {
		t.Errorf("EQ below line: winner = %v, want taker", w)
	}
}

func TestEvaluateAtLine(t *testing.T) {
	t.Parallel()

	if w := Evaluate(2000, 2000, types.CmpEquals); w != types.WinnerMaker {
		t.Errorf("EQ at line: winner = %v, want maker", w)
	}
	if w := Evaluate(2000, 2000, types.CmpGreaterThan); w != types.WinnerTaker {
		t.Errorf("GT at line: winner = %v, want taker", w)
	}
	if w := Evaluate(2000, 2000, types.CmpLessThan); w != types.WinnerTaker {
		t.Errorf("LT at line: winner = %v, want taker", w)
	}
}

func TestEvaluateNegativePrices(t *testing.T) {
	t.Parallel()

	// Ratio-mode prices can truncate to 0; lines can sit at 0 too.
	if w := Evaluate(0, 0, types.CmpEquals); w != types.WinnerMaker {
		t.Errorf("EQ at zero: winner = %v, want maker", w)
	}
	if w := Evaluate(-5, 0, types.CmpLessThan); w != types.WinnerMaker {
		t.Errorf("LT below zero: winner = %v, want maker", w)
	}
}

func TestPayoutOnePercentFee(t *testing.T) {
	t.Parallel()

	winner, fee := Payout(100, 100)
	if winner != 198 {
		t.Errorf("winnerAmount = %d, want 198", winner)
	}
	if fee != 2 {
		t.Errorf("feeAmount = %d, want 2", fee)
	}
}

func TestPayoutZeroFee(t *testing.T) {
	t.Parallel()

	winner, fee := Payout(100, 0)
	if winner != 200 {
		t.Errorf("winnerAmount = %d, want 200", winner)
	}
	if fee != 0 {
		t.Errorf("feeAmount = %d, want 0", fee)
	}
}

func TestPayoutRoundsDown(t *testing.T) {
	t.Parallel()

	// pot = 66, fee 1%: 66*9900/10000 = 65.34 → floor 65, fee 1.
	winner, fee := Payout(33, 100)
	if winner != 65 {
		t.Errorf("winnerAmount = %d, want 65", winner)
	}
	if fee != 1 {
		t.Errorf("feeAmount = %d, want 1", fee)
	}
}

func TestPayoutEighteenDecimalStakes(t *testing.T) {
	t.Parallel()

	// One 18-decimal token per side: the basis-point product is far past
	// int64, the split must not be.
	winner, fee := Payout(1_000_000_000_000_000_000, 100)
	if winner != 1_980_000_000_000_000_000 {
		t.Errorf("winnerAmount = %d, want 1980000000000000000", winner)
	}
	if fee != 20_000_000_000_000_000 {
		t.Errorf("feeAmount = %d, want 20000000000000000", fee)
	}

	// The largest poolable stake still splits exactly.
	const maxAmount = math.MaxInt64 / 2
	for _, bps := range []int{0, 1, 100, 9999} {
		winner, fee := Payout(maxAmount, bps)
		if winner+fee != 2*maxAmount {
			t.Errorf("Payout(max, %d): %d + %d != %d", bps, winner, fee, int64(2*maxAmount))
		}
		if winner < 0 || fee < 0 {
			t.Errorf("Payout(max, %d): negative split %d/%d", bps, winner, fee)
		}
	}
}

func TestPayoutConservation(t *testing.T) {
	t.Parallel()

	// winnerAmount + feeAmount must equal the pot for every input.
	for amount := int64(1); amount <= 5000; amount++ {
		for _, bps := range []int{0, 1, 37, 100, 255, 9999} {
			winner, fee := Payout(amount, bps)
			if winner+fee != 2*amount {
				t.Fatalf("Payout(%d, %d): %d + %d != %d", amount, bps, winner, fee, 2*amount)
			}
			if winner < 0 || fee < 0 {
				t.Fatalf("Payout(%d, %d): negative split %d/%d", amount, bps, winner, fee)
			}
		}
	}
}
