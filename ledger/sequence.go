package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// SequenceGuard is the handle to the on-ledger guard account scoped to
// (instrument, signer). Every instruction batch for an instrument begins
// with a guard check carrying a marker; the program rejects any batch whose
// marker is not strictly greater than the last accepted one, so a delayed
// transaction can never execute after a newer one already has.
type SequenceGuard struct {
	Address string
	Market  string

	lastMarker uint64
}

// DeriveSequenceGuard computes the deterministic guard account address for
// an instrument and signer, mirroring the program's address derivation.
func DeriveSequenceGuard(market, signer string) SequenceGuard {
	sum := sha256.Sum256([]byte(market + ":" + signer))
	return SequenceGuard{
		Address: hex.EncodeToString(sum[:]),
		Market:  market,
	}
}

// NextMarker returns a wall-clock-derived marker, forced strictly greater
// than any marker this guard handed out before. Not safe for concurrent
// use; each guard belongs to exactly one instrument's context.
func (g *SequenceGuard) NextMarker() uint64 {
	marker := uint64(time.Now().UnixMilli())
	if marker <= g.lastMarker {
		marker = g.lastMarker + 1
	}
	g.lastMarker = marker
	return marker
}
