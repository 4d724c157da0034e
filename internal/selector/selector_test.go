package selector

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/cardround/rgs/internal/rng"
)

func amounts(vals ...int64) [Cards]decimal.Decimal {
	var out [Cards]decimal.Decimal
	for i, v := range vals {
		out[i] = decimal.NewFromInt(v)
	}
	return out
}

func TestChoose_ZeroBets_Uniform(t *testing.T) {
	sel := New(rng.New())
	bets := amounts() // all zero

	seen := make(map[int]bool)
	for i := 0; i < 200; i++ {
		card, err := sel.Choose(bets)
		if err != nil {
			t.Fatalf("Choose: %v", err)
		}
		if card < 1 || card > Cards {
			t.Fatalf("card out of range: %d", card)
		}
		seen[card] = true
	}
	if len(seen) < 2 {
		t.Errorf("expected uniform draws to cover more than one card across 200 trials, saw %v", seen)
	}
}

func TestChoose_SkewedDistribution_AvoidsMaxWithoutDither(t *testing.T) {
	// Bets per card = [0,...,0,1000] on card 12, matching S5 in the spec.
	sel := New(rng.New())
	bets := amounts(0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1000)

	maxCount := 0
	const trials = 2000
	for i := 0; i < trials; i++ {
		card, err := sel.Choose(bets)
		if err != nil {
			t.Fatalf("Choose: %v", err)
		}
		if card == 12 {
			maxCount++
		}
	}

	// With a 10% dither, P(card 12) = 0.10 * 1/12 ~= 0.008. Allow slack
	// for randomness over a finite number of trials.
	got := float64(maxCount) / float64(trials)
	if got > 0.20 {
		t.Errorf("card 12 (the unique max) selected too often: %.3f of trials", got)
	}
}

func TestChoose_AllTied_Uniform(t *testing.T) {
	sel := New(rng.New())
	bets := amounts(10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10, 10)

	seen := make(map[int]bool)
	for i := 0; i < 200; i++ {
		card, err := sel.Choose(bets)
		if err != nil {
			t.Fatalf("Choose: %v", err)
		}
		seen[card] = true
	}
	if len(seen) < 2 {
		t.Errorf("expected the all-tied case to draw uniformly, saw only %v", seen)
	}
}

func TestChoose_ReturnsInRange(t *testing.T) {
	sel := New(rng.New())
	bets := amounts(5, 20, 3, 0, 0, 40, 1, 2, 9, 11, 0, 0)

	for i := 0; i < 500; i++ {
		card, err := sel.Choose(bets)
		if err != nil {
			t.Fatalf("Choose: %v", err)
		}
		if card < 1 || card > Cards {
			t.Fatalf("card out of range: %d", card)
		}
	}
}
