// Package ledger defines the types and the client contract the quoting
// engine needs from the on-ledger derivatives exchange. The concrete client
// SDK (account resolution, transaction signing, RPC) lives outside this
// repository; the engine only consumes this interface.
package ledger

import "errors"

// ErrSubmission reports a rejected or timed-out transaction. Resting state
// is assumed unchanged and the engine re-evaluates next cycle.
var ErrSubmission = errors.New("transaction submission failed")

// Side of an order.
type Side int

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// OrderType selects matching semantics on the ledger program.
type OrderType int

const (
	// PostOnlySlide reprices an order that would cross the book so it stays
	// passive, instead of rejecting it.
	PostOnlySlide OrderType = iota
	// ImmediateOrCancel executes against resting liquidity and cancels the
	// remainder. Used by the flattening strategy.
	ImmediateOrCancel
)

// Order is a resting order as reported by the ledger.
type Order struct {
	Side      Side
	PriceLots int64
	SizeLots  int64
}

// Level is one price level of a book side.
type Level struct {
	PriceLots int64
	SizeLots  int64
}

// BookSide is an immutable snapshot of one side of the on-ledger book,
// best price first. Snapshots are replaced wholesale on refresh, never
// mutated in place.
type BookSide struct {
	Levels []Level
}

// Best returns the top level, if any.
func (b BookSide) Best() (Level, bool) {
	if len(b.Levels) == 0 {
		return Level{}, false
	}
	return b.Levels[0], true
}

// Book pairs both sides taken from the same read.
type Book struct {
	Bids BookSide
	Asks BookSide
}

// Account is a snapshot of the trading account: positions keyed by market
// index plus the health numbers surfaced in cycle logs. The engine treats
// it as read-only input refreshed each cycle.
type Account struct {
	Address      string
	Positions    map[int]float64
	UnsettledPnl map[int]float64
	HealthRatio  float64
	MaintHealth  float64
	Equity       float64
}

// Position returns the signed base position for a market, zero if none.
func (a Account) Position(marketIndex int) float64 {
	return a.Positions[marketIndex]
}

// Instruction is a single program instruction ready for inclusion in a
// transaction. The engine treats it as opaque and only orders it.
type Instruction struct {
	ProgramID string
	Keys      []string
	Data      []byte
}
