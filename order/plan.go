package order

import (
	"fmt"

	"perp-mm-go/ledger"
	"perp-mm-go/market"
	"perp-mm-go/strategy"
)

// cancelLimit caps how many resting orders one cancel-all instruction may
// remove.
const cancelLimit = 10

// Plan is an assembled instruction batch for one instrument, plus what it
// placed for logging and sent-price bookkeeping.
type Plan struct {
	Ixs       []ledger.Instruction
	PlacedBid bool
	PlacedAsk bool
	BidLots   int64
	AskLots   int64
	Marker    uint64
}

// Empty reports whether nothing beyond the sequence guard was assembled.
func (p Plan) Empty() bool { return len(p.Ixs) <= 1 }

// Planner builds instruction batches through the ledger client's
// instruction builders.
type Planner struct {
	Client ledger.Client
}

// BuildRequote assembles the cancel-then-replace batch: sequence check,
// cancel-all, then a passive bid and ask subject to suppression. A side is
// placed only when its size is positive and, for the bid, the price is
// non-negative. Passive orders use slide semantics so they reprice rather
// than cross.
func (p *Planner) BuildRequote(c *market.Context, t strategy.Targets, sz strategy.Sizing,
	bidLots, askLots int64, now float64) (Plan, error) {

	marker := c.Guard.NextMarker()
	seqIx, err := p.Client.SequenceCheckIx(c.Guard, marker)
	if err != nil {
		return Plan{}, fmt.Errorf("sequence check ix: %w", err)
	}
	plan := Plan{Ixs: []ledger.Instruction{seqIx}, BidLots: bidLots, AskLots: askLots, Marker: marker}

	cancelIx, err := p.Client.CancelAllIx(c.Instrument, cancelLimit)
	if err != nil {
		return Plan{}, fmt.Errorf("cancel all ix: %w", err)
	}
	plan.Ixs = append(plan.Ixs, cancelIx)

	var expiry int64
	if c.Params.TIFSecs > 0 {
		expiry = int64(now + c.Params.TIFSecs)
	}

	if !sz.SuppressBid && sz.BidSize > 0 && t.BidPrice >= 0 {
		sizeLots := c.Instrument.BaseToLots(sz.BidSize)
		if sizeLots > 0 {
			ix, err := p.Client.PlaceOrderIx(c.Instrument, ledger.Bid, bidLots, sizeLots,
				ledger.PostOnlySlide, false, marker, expiry)
			if err != nil {
				return Plan{}, fmt.Errorf("place bid ix: %w", err)
			}
			plan.Ixs = append(plan.Ixs, ix)
			plan.PlacedBid = true
		}
	}
	if !sz.SuppressAsk && sz.AskSize > 0 {
		sizeLots := c.Instrument.BaseToLots(sz.AskSize)
		if sizeLots > 0 {
			ix, err := p.Client.PlaceOrderIx(c.Instrument, ledger.Ask, askLots, sizeLots,
				ledger.PostOnlySlide, false, marker, expiry)
			if err != nil {
				return Plan{}, fmt.Errorf("place ask ix: %w", err)
			}
			plan.Ixs = append(plan.Ixs, ix)
			plan.PlacedAsk = true
		}
	}
	return plan, nil
}

// BuildFlatten assembles the taker batch for flattening mode: sequence
// check plus one immediate-or-cancel reduce-only order sized to the full
// position.
func (p *Planner) BuildFlatten(c *market.Context, o strategy.FlattenOrder) (Plan, error) {
	marker := c.Guard.NextMarker()
	seqIx, err := p.Client.SequenceCheckIx(c.Guard, marker)
	if err != nil {
		return Plan{}, fmt.Errorf("sequence check ix: %w", err)
	}
	plan := Plan{Ixs: []ledger.Instruction{seqIx}, Marker: marker}

	priceLots := c.Instrument.PriceToLots(o.Price)
	sizeLots := c.Instrument.BaseToLots(o.Size)
	if sizeLots <= 0 {
		// Position smaller than one base lot; nothing the ledger can fill.
		return plan, nil
	}
	ix, err := p.Client.PlaceOrderIx(c.Instrument, o.Side, priceLots, sizeLots,
		ledger.ImmediateOrCancel, true, marker, 0)
	if err != nil {
		return Plan{}, fmt.Errorf("place flatten ix: %w", err)
	}
	plan.Ixs = append(plan.Ixs, ix)
	if o.Side == ledger.Bid {
		plan.PlacedBid = true
		plan.BidLots = priceLots
	} else {
		plan.PlacedAsk = true
		plan.AskLots = priceLots
	}
	return plan, nil
}
