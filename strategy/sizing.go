package strategy

// Sizing is the inventory-aware per-side size decision. Sizes lean toward
// flattening existing inventory, never toward extending it; once the
// position reaches a full trade size in the adverse direction the side is
// suppressed outright.
type Sizing struct {
	Size        float64 // symmetric target size, equity / fair value
	BidSize     float64
	AskSize     float64
	SuppressBid bool
	SuppressAsk bool
}

// OneSided reports whether at most one side will be quoted, either because
// leaning took a size nonpositive or the position cap suppressed a side.
// The suppression flags can fire while the leaned size is still positive,
// so both have to be consulted.
func (s Sizing) OneSided() bool {
	return s.SuppressBid || s.SuppressAsk || s.BidSize <= 0 || s.AskSize <= 0
}

// ComputeSizing derives per-side sizes from the configured notional, the
// fair value, and the signed base position. leanCoeff scales how hard a
// nonzero position shrinks the extending side; zero means the default
// full lean.
func ComputeSizing(equity, fairValue, position, leanCoeff float64) Sizing {
	if leanCoeff == 0 {
		leanCoeff = 1
	}
	size := equity / fairValue
	s := Sizing{Size: size, BidSize: size, AskSize: size}
	if position > 0 {
		s.BidSize -= leanCoeff * position
	} else if position < 0 {
		s.AskSize += leanCoeff * position
	}
	if size > 0 {
		posAsTrades := position / size
		s.SuppressBid = posAsTrades >= 1
		s.SuppressAsk = posAsTrades <= -1
	}
	return s
}
