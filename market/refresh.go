package market

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"perp-mm-go/feed"
	"perp-mm-go/ledger"
)

// ErrStaleSnapshot reports that a refresh component failed. The previous
// snapshot is retained and the cycle proceeds on last-known-good data.
var ErrStaleSnapshot = errors.New("refresh incomplete, snapshot stale")

// Refresher produces consistent state snapshots: ledger state, account,
// per-instrument book, and reference depth, all fetched concurrently and
// published only after every fetch has settled.
type Refresher struct {
	Client ledger.Client
	Source feed.Source
	Log    *zap.Logger
}

type instrumentFetch struct {
	depth    feed.Depth
	depthErr error
	book     ledger.Book
	bookErr  error
}

// Refresh runs one full refresh pass over st. Per-instrument feed failures
// invalidate only that instrument's reference prices; ledger-side failures
// leave the previous book or account snapshot in place and surface as
// ErrStaleSnapshot.
func (r *Refresher) Refresh(ctx context.Context, st *State) error {
	now := NowUnix()

	var wg sync.WaitGroup
	var stateErr, accountErr error
	var account ledger.Account

	wg.Add(2)
	go func() {
		defer wg.Done()
		stateErr = r.Client.ReloadLedgerState(ctx)
	}()
	go func() {
		defer wg.Done()
		account, accountErr = r.Client.ReloadAccount(ctx)
	}()

	fetches := make(map[int]*instrumentFetch, len(st.Contexts))
	for idx, c := range st.Contexts {
		f := &instrumentFetch{}
		fetches[idx] = f
		wg.Add(2)
		go func(c *Context, f *instrumentFetch) {
			defer wg.Done()
			f.depth, f.depthErr = r.Source.FetchDepth(ctx, c.ReferenceCode)
		}(c, f)
		go func(c *Context, f *instrumentFetch) {
			defer wg.Done()
			f.book, f.bookErr = r.Client.LoadBook(ctx, c.Instrument)
		}(c, f)
	}
	wg.Wait()

	// Everything settled; publish per instrument as a unit.
	for idx, c := range st.Contexts {
		f := fetches[idx]
		snap := c.Snapshot()

		if f.bookErr != nil {
			r.Log.Warn("book reload failed, keeping previous snapshot",
				zap.String("market", c.Instrument.Name), zap.Error(f.bookErr))
		} else {
			snap.Book = f.book
			snap.BookAt = now
		}

		if f.depthErr != nil {
			// Never compute on a stale half: the pair goes undefined together.
			snap.Reference = Reference{}
			r.Log.Warn("reference depth unavailable",
				zap.String("market", c.Instrument.Name), zap.Error(f.depthErr))
		} else {
			snap.Reference = Reference{Bid: f.depth.Bid, Ask: f.depth.Ask, Valid: true}
		}

		c.Publish(snap)
	}

	if accountErr != nil {
		r.Log.Warn("account reload failed, keeping previous snapshot", zap.Error(accountErr))
	} else {
		st.PublishAccount(account, now)
	}

	if stateErr != nil || accountErr != nil {
		return fmt.Errorf("%w: state=%v account=%v", ErrStaleSnapshot, stateErr, accountErr)
	}
	return nil
}
