package ledger

import "github.com/shopspring/decimal"

// Instrument describes one perp market: its ledger index and the lot
// conversion factors between UI units and on-ledger lots. Owned by the
// ledger collaborator, referenced read-only by the engine.
type Instrument struct {
	Name        string
	MarketIndex int
	// PriceLot is the UI price per price lot, e.g. 0.01 means lot 10000
	// represents a price of 100.00.
	PriceLot decimal.Decimal
	// BaseLot is the UI base size per base lot.
	BaseLot decimal.Decimal
}

// PriceToLots converts a UI price to price lots, rounding to the nearest
// lot. Decimal arithmetic keeps repeated conversions from drifting.
func (i Instrument) PriceToLots(price float64) int64 {
	return decimal.NewFromFloat(price).DivRound(i.PriceLot, 0).IntPart()
}

// LotsToPrice converts price lots back to a UI price.
func (i Instrument) LotsToPrice(lots int64) float64 {
	f, _ := decimal.NewFromInt(lots).Mul(i.PriceLot).Float64()
	return f
}

// BaseToLots converts a UI base size to base lots, truncating toward zero
// so the engine never posts more size than intended.
func (i Instrument) BaseToLots(size float64) int64 {
	return decimal.NewFromFloat(size).Div(i.BaseLot).IntPart()
}

// LotsToBase converts base lots back to a UI size.
func (i Instrument) LotsToBase(lots int64) float64 {
	f, _ := decimal.NewFromInt(lots).Mul(i.BaseLot).Float64()
	return f
}
