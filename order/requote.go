// Package order decides when to requote and assembles the sequenced
// instruction batches that carry out the decision.
package order

import (
	"fmt"
	"math"

	"perp-mm-go/ledger"
	"perp-mm-go/strategy"
)

// BookAdjust clamps the model's target prices so that a posted order stays
// passive against the live on-ledger book: the bid at most one lot below
// the best ask, the ask at least one lot above the best bid. These adjusted
// lots are also what the requote comparison runs against.
func BookAdjust(inst ledger.Instrument, book ledger.Book, t strategy.Targets) (bidLots, askLots int64) {
	bidLots = inst.PriceToLots(t.BidPrice)
	askLots = inst.PriceToLots(t.AskPrice)
	if bestAsk, ok := book.Asks.Best(); ok && bestAsk.PriceLots-1 < bidLots {
		bidLots = bestAsk.PriceLots - 1
	}
	if bestBid, ok := book.Bids.Best(); ok && bestBid.PriceLots+1 > askLots {
		askLots = bestBid.PriceLots + 1
	}
	return bidLots, askLots
}

// Deviation is the relative distance of lots from target lots.
func Deviation(lots, target int64) float64 {
	if target == 0 {
		return math.Inf(1)
	}
	return math.Abs(float64(lots)/float64(target) - 1)
}

// PolicyInputs is everything the requote decision reads for one
// instrument.
type PolicyInputs struct {
	// BookFresh selects the live-book comparison. When the refreshed book
	// predates the last order update the sent prices are compared instead,
	// covering the window where a sent order is not yet visible on ledger.
	BookFresh  bool
	OpenOrders []ledger.Order

	TargetBidLots int64
	TargetAskLots int64
	SentBidLots   int64
	SentAskLots   int64

	// OneSided means sizing left only one side to quote, so a single
	// resting order is the expected steady state.
	OneSided bool

	RequoteThresh   float64
	TIFSecs         float64 // zero disables the time-in-force rule
	LastOrderUpdate float64
	Now             float64
}

// Decision is the policy outcome with human-readable trigger reasons for
// the cycle log. No reasons means leave the quotes alone.
type Decision struct {
	Requote bool
	Reasons []string
}

// Evaluate runs the requote policy. Identical inputs with no trigger met
// produce an empty decision, so an unchanged market emits nothing.
func Evaluate(in PolicyInputs) Decision {
	var d Decision
	tifExpired := in.TIFSecs > 0 && in.LastOrderUpdate+in.TIFSecs < in.Now

	if in.BookFresh {
		n := len(in.OpenOrders)
		if in.OneSided {
			if n != 1 {
				d.hit("open order count %d, expected 1", n)
			}
		} else if n != 2 {
			d.hit("open order count %d, expected 2", n)
		}
		for _, o := range in.OpenOrders {
			target := in.TargetBidLots
			if o.Side == ledger.Ask {
				target = in.TargetAskLots
			}
			if dev := Deviation(o.PriceLots, target); dev > in.RequoteThresh {
				d.hit("%s drift %.5f above threshold", o.Side, dev)
			}
		}
		if tifExpired && n > 0 {
			d.hit("time in force elapsed")
		}
	} else {
		if dev := Deviation(in.SentBidLots, in.TargetBidLots); dev > in.RequoteThresh {
			d.hit("sent bid drift %.5f above threshold", dev)
		}
		if dev := Deviation(in.SentAskLots, in.TargetAskLots); dev > in.RequoteThresh {
			d.hit("sent ask drift %.5f above threshold", dev)
		}
		if tifExpired {
			d.hit("time in force elapsed")
		}
	}
	return d
}

func (d *Decision) hit(format string, args ...any) {
	d.Requote = true
	d.Reasons = append(d.Reasons, fmt.Sprintf(format, args...))
}
