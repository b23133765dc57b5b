package strategy

import (
	"errors"

	"perp-mm-go/ledger"
)

// ErrSafetyAbort reports that the flattening charge is at or above the
// safety ceiling; crossing that wide a spread is never acceptable, so the
// cycle emits nothing. This is a deliberate no-op, not a retryable error.
var ErrSafetyAbort = errors.New("flatten charge exceeds safety ceiling")

// MaxFlattenCharge is the hard ceiling on the taker charge.
const MaxFlattenCharge = 0.01

// FlattenOrder is an immediate-or-cancel, reduce-only taker order sized to
// the full position.
type FlattenOrder struct {
	Side  ledger.Side
	Price float64
	Size  float64
}

// PlanFlatten prices the taker order that takes the position to zero.
// A long sells at fairValue*(1-charge); a short buys at
// fairValue*(1+charge). ok is false when there is nothing to do.
func PlanFlatten(position, fairValue, charge float64) (o FlattenOrder, ok bool, err error) {
	if position == 0 {
		return FlattenOrder{}, false, nil
	}
	if charge >= MaxFlattenCharge {
		return FlattenOrder{}, false, ErrSafetyAbort
	}
	if position > 0 {
		return FlattenOrder{Side: ledger.Ask, Price: fairValue * (1 - charge), Size: position}, true, nil
	}
	return FlattenOrder{Side: ledger.Bid, Price: fairValue * (1 + charge), Size: -position}, true, nil
}
