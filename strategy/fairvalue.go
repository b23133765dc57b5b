// Package strategy holds the pure pricing math: fair value, adaptive
// spread widening, inventory-aware sizing, and flattening prices. No I/O,
// everything unit-testable in isolation.
package strategy

import (
	"math"

	"perp-mm-go/config"
	"perp-mm-go/market"
)

// Targets is the priced output of the fair value model for one cycle.
type Targets struct {
	FairValue float64
	BidCharge float64
	AskCharge float64
	BidPrice  float64
	AskPrice  float64
	Vol1      float64 // percent move vs previous fair value
	Vol2      float64 // percent move vs fair value two cycles ago
}

// PercentVolatility returns the absolute percent move from last to fv.
// A zero last value with nonzero fv counts as |fv|*100; both zero is zero.
func PercentVolatility(fv, last float64) float64 {
	if last == 0 {
		if fv == 0 {
			return 0
		}
		return math.Abs(fv) * 100
	}
	return math.Abs((fv-last)/last) * 100
}

// tierWiden picks the single charge widening tier. First matching
// condition wins, highest severity first; either recent volatility or low
// ledger throughput triggers a tier.
func tierWiden(tps, vol1, vol2 float64) float64 {
	vol := math.Max(vol1, vol2)
	switch {
	case tps < 200 || vol > 1.0:
		return 0.5
	case tps < 500 || vol > 0.8:
		return 0.2
	case tps < 1000 || vol > 0.5:
		return 0.05
	case tps < 1500 || vol > 0.2:
		return 0.006
	default:
		return 0
	}
}

// ComputeTargets turns a reference quote into fair value and charged
// bid/ask prices. ref must be valid; the caller skips the instrument
// otherwise. The instrument's fair value history rolls forward as a side
// effect.
func ComputeTargets(ref market.Reference, hist *market.FairHistory, tps float64, p config.PerpParams) Targets {
	fv := ref.Mid()
	last := hist.LastOr(fv)
	second := hist.SecondLastOr(last)
	vol1 := PercentVolatility(fv, last)
	vol2 := PercentVolatility(fv, second)

	widen := tierWiden(tps, vol1, vol2)
	bidCharge := p.BidCharge + widen
	askCharge := p.AskCharge + widen

	hist.Push(fv)

	bidPrice := fv * (1 - bidCharge)
	askPrice := fv * (1 + askCharge)

	// Never cross the reference book: re-anchor on the reference side if
	// the charged price ended up through it.
	if bidPrice > ref.Bid {
		bidPrice = ref.Bid * (1 - bidCharge)
	}
	if askPrice < ref.Ask {
		askPrice = ref.Ask * (1 + askCharge)
	}

	return Targets{
		FairValue: fv,
		BidCharge: bidCharge,
		AskCharge: askCharge,
		BidPrice:  bidPrice,
		AskPrice:  askPrice,
		Vol1:      vol1,
		Vol2:      vol2,
	}
}
