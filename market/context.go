// Package market owns the per-instrument aggregate state the quoting
// engine works from: on-ledger book snapshots, reference prices, fair-value
// history, and the bookkeeping around sent orders.
package market

import (
	"sync/atomic"
	"time"

	"perp-mm-go/config"
	"perp-mm-go/ledger"
)

// Reference is the reference venue's top of book for one instrument.
// Valid is false until the first successful feed read and whenever the
// feed failed for the cycle; bid and ask are only ever defined together.
type Reference struct {
	Bid   float64
	Ask   float64
	Valid bool
}

// Mid returns the reference midpoint.
func (r Reference) Mid() float64 { return (r.Bid + r.Ask) / 2 }

// Snapshot is the refresh-owned slice of instrument state. It is built as
// a unit from one refresh pass and published wholesale, so readers never
// observe a bid book from one read paired with an ask book from another.
type Snapshot struct {
	Book      ledger.Book
	Reference Reference
	// BookAt is the unix time the book fields were last replaced.
	BookAt float64
}

// FairHistory is the bounded two-deep fair value history for one
// instrument. Missing entries seed from the current value so the first
// cycles compute zero volatility.
type FairHistory struct {
	vals [2]float64
	n    int
}

// Push rolls the history forward, dropping the oldest value.
func (h *FairHistory) Push(v float64) {
	h.vals[1] = h.vals[0]
	h.vals[0] = v
	if h.n < 2 {
		h.n++
	}
}

// LastOr returns the previous fair value, or fallback if none yet.
func (h FairHistory) LastOr(fallback float64) float64 {
	if h.n < 1 {
		return fallback
	}
	return h.vals[0]
}

// SecondLastOr returns the fair value from two cycles ago, or fallback.
func (h FairHistory) SecondLastOr(fallback float64) float64 {
	if h.n < 2 {
		return fallback
	}
	return h.vals[1]
}

// Context is the per-instrument aggregate. The snapshot part is written by
// the refresher and read through Snapshot(); Instrument, ReferenceCode and
// Guard are immutable after construction; everything else is owned by the
// engine loop goroutine and never touched concurrently.
type Context struct {
	Instrument ledger.Instrument
	// ReferenceCode pins the reference venue instrument for the life of the
	// context. The refresher reads it concurrently with param reloads, so
	// it lives outside the mutable Params.
	ReferenceCode string
	Params        config.PerpParams
	Guard         ledger.SequenceGuard

	// Last prices the engine attempted to post, in price lots. Used for
	// the staleness fallback when the refreshed book does not yet show the
	// effect of the last submission.
	SentBidLots     int64
	SentAskLots     int64
	LastOrderUpdate float64

	History FairHistory

	snap atomic.Pointer[Snapshot]
}

// NewContext builds a context for one instrument.
func NewContext(inst ledger.Instrument, params config.PerpParams, guard ledger.SequenceGuard) *Context {
	return &Context{Instrument: inst, ReferenceCode: params.ReferenceCode, Params: params, Guard: guard}
}

// Snapshot returns the most recently completed snapshot. Before the first
// refresh it is zero-valued with an invalid reference.
func (c *Context) Snapshot() Snapshot {
	if s := c.snap.Load(); s != nil {
		return *s
	}
	return Snapshot{}
}

// Publish replaces the snapshot wholesale.
func (c *Context) Publish(s Snapshot) {
	c.snap.Store(&s)
}

type accountSnap struct {
	account ledger.Account
	at      float64
}

// State maps instruments to their contexts plus the last refreshed account
// snapshot. Created once at startup; contexts are mutated every cycle.
type State struct {
	Contexts map[int]*Context

	account atomic.Pointer[accountSnap]
}

// NewState builds the engine state over the given contexts, keyed by
// market index.
func NewState(contexts []*Context) *State {
	m := make(map[int]*Context, len(contexts))
	for _, c := range contexts {
		m[c.Instrument.MarketIndex] = c
	}
	return &State{Contexts: m}
}

// Account returns the latest account snapshot and when it was taken.
func (s *State) Account() (ledger.Account, float64) {
	if a := s.account.Load(); a != nil {
		return a.account, a.at
	}
	return ledger.Account{}, 0
}

// PublishAccount replaces the account snapshot.
func (s *State) PublishAccount(a ledger.Account, at float64) {
	s.account.Store(&accountSnap{account: a, at: at})
}

// NowUnix is the engine's clock, unix seconds with sub-second precision.
func NowUnix() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
