// Package selector implements the profit-optimized, bounded-fairness
// winning-card chooser described in SPEC_FULL.md §4.11 (C11), built on top
// of internal/rng's CSPRNG for both the fallback uniform draws and the
// fairness dither.
package selector

import (
	"github.com/shopspring/decimal"

	"github.com/cardround/rgs/internal/rng"
)

// Cards is the fixed outcome space: 1..12.
const Cards = 12

// DitherProbability is the fraction of settlements that ignore the
// profit-optimized set and draw uniformly over all 12 cards, bounding how
// exploitable the selector is. Kept as a compile-time constant rather than
// a Settings Store key: SPEC_FULL.md §4.2 does not list a dither key, and
// introducing one would be an unrequested feature.
const DitherProbability = 0.10

// Selector chooses a winning card from a round's per-card wager totals.
type Selector struct {
	rng *rng.Service
}

// New builds a Selector backed by the given RNG service.
func New(r *rng.Service) *Selector {
	return &Selector{rng: r}
}

// Choose implements SPEC_FULL.md §4.11's algorithm over bets, a 12-element
// slice of total wagers indexed by card-1. It takes no multiplier: the
// choice depends only on the relative bet totals (the payout a card would
// produce is bets[c] * multiplier).
func (s *Selector) Choose(bets [Cards]decimal.Decimal) (card int, err error) {
	total := decimal.Zero
	for _, b := range bets {
		total = total.Add(b)
	}
	if total.IsZero() {
		return s.uniform()
	}

	maxBet := bets[0]
	for _, b := range bets[1:] {
		if b.GreaterThan(maxBet) {
			maxBet = b
		}
	}

	isHigh := make([]bool, Cards)
	for i, b := range bets {
		isHigh[i] = b.Equal(maxBet)
	}

	var remainder []int
	for i := 0; i < Cards; i++ {
		if !isHigh[i] {
			remainder = append(remainder, i)
		}
	}
	if len(remainder) == 0 {
		return s.uniform()
	}

	avg := decimal.Zero
	for _, i := range remainder {
		avg = avg.Add(bets[i])
	}
	avg = avg.Div(decimal.NewFromInt(int64(len(remainder))))

	var low []int
	for _, i := range remainder {
		if bets[i].LessThan(avg) {
			low = append(low, i)
		}
	}
	if len(low) == 0 {
		low = remainder
	}

	dither, err := s.rng.GenerateFloat()
	if err != nil {
		return 0, err
	}
	if dither < DitherProbability {
		idx, err := s.rng.GenerateInt(Cards)
		if err != nil {
			return 0, err
		}
		return int(idx) + 1, nil
	}

	idx, err := s.rng.GenerateInt(int64(len(low)))
	if err != nil {
		return 0, err
	}
	return low[idx] + 1, nil
}

func (s *Selector) uniform() (int, error) {
	idx, err := s.rng.GenerateInt(Cards)
	if err != nil {
		return 0, err
	}
	return int(idx) + 1, nil
}
