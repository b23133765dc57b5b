// Package feed provides reference-price sources for the quoting engine.
package feed

import (
	"context"
	"errors"
)

// ErrUnavailable reports that depth for an instrument could not be fetched
// or parsed this cycle. The engine treats it as per-instrument: the
// instrument's reference prices become undefined for the cycle and the rest
// of the refresh proceeds.
var ErrUnavailable = errors.New("reference feed unavailable")

// Depth is the top of book at the reference venue.
type Depth struct {
	Bid float64
	Ask float64
}

// Mid returns the midpoint of the reference top of book.
func (d Depth) Mid() float64 { return (d.Bid + d.Ask) / 2 }

// Source fetches reference top-of-book depth for a venue instrument code.
type Source interface {
	FetchDepth(ctx context.Context, code string) (Depth, error)
}
