package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"perp-mm-go/ledger"
	"perp-mm-go/market"
	"perp-mm-go/order"
	"perp-mm-go/strategy"
)

// Run drives the continuous quoting loop until ctx is cancelled or Stop is
// called. Per-cycle errors are logged and never terminate the loop; the
// exit path issues a bounded best-effort cancel-all.
func (e *Engine) Run(ctx context.Context) error {
	e.running.Store(true)
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	defer e.shutdownCancelAll()

	for e.running.Load() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		e.runQuoteCycle(ctx)
		e.metrics.Cycles.Inc()
		_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)

		e.log.Info("cycle complete, sleeping", zap.Duration("interval", e.opts.Interval))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(e.opts.Interval):
		}
	}
	return nil
}

// runQuoteCycle is the synchronous portion of one cycle: throughput probe,
// async refresh kick, portfolio gate, then decision and submission per
// instrument. A submission failure on one instrument never blocks the
// rest.
func (e *Engine) runQuoteCycle(ctx context.Context) {
	e.applyPendingParams()

	if tps, err := e.client.RecentThroughput(ctx); err != nil {
		e.log.Warn("throughput probe failed, reusing last sample", zap.Error(err))
	} else {
		e.lastTPS = tps
	}
	e.metrics.Throughput.Set(e.lastTPS)
	e.log.Info("current throughput", zap.Float64("tps", e.lastTPS))

	e.kickRefresh()

	account, accountAt := e.state.Account()
	if accountAt == 0 {
		e.log.Warn("no account snapshot yet, skipping cycle")
		return
	}

	// Portfolio quote value needs every instrument's reference mid; a
	// partial sum is worse than none, so the whole cycle is skipped.
	pfQuoteValue := 0.0
	for _, c := range e.orderedContexts() {
		snap := c.Snapshot()
		if !snap.Reference.Valid {
			e.log.Warn("reference mid undefined, skipping cycle",
				zap.String("market", c.Instrument.Name))
			return
		}
		pfQuoteValue += account.Position(c.Instrument.MarketIndex) * snap.Reference.Mid()
	}
	e.log.Debug("portfolio quote value", zap.Float64("value", pfQuoteValue))

	for _, c := range e.orderedContexts() {
		if err := e.updateMarket(ctx, c, account); err != nil {
			e.log.Error("market update failed",
				zap.String("market", c.Instrument.Name), zap.Error(err))
		}
	}
}

// updateMarket runs the decision pipeline for one instrument and submits
// the resulting batch, if any.
func (e *Engine) updateMarket(ctx context.Context, c *market.Context, account ledger.Account) error {
	snap := c.Snapshot()
	if !snap.Reference.Valid {
		e.metrics.FeedErrors.WithLabelValues(c.Instrument.Name).Inc()
		return nil
	}

	targets := strategy.ComputeTargets(snap.Reference, &c.History, e.lastTPS, c.Params)
	position := account.Position(c.Instrument.MarketIndex)
	sizing := strategy.ComputeSizing(c.Params.Equity, targets.FairValue, position, c.Params.LeanCoeff)
	bidLots, askLots := order.BookAdjust(c.Instrument, snap.Book, targets)

	e.metrics.FairValue.WithLabelValues(c.Instrument.Name).Set(targets.FairValue)
	e.metrics.Position.WithLabelValues(c.Instrument.Name).Set(position)

	now := market.NowUnix()
	bookFresh := snap.BookAt >= c.LastOrderUpdate+e.opts.BookStaleSecs
	var open []ledger.Order
	if bookFresh {
		var err error
		open, err = e.client.OpenOrders(ctx, c.Instrument)
		if err != nil {
			// Fall back to comparing sent prices rather than trusting a
			// book we could not confirm.
			e.log.Warn("open orders load failed, using sent-price comparison",
				zap.String("market", c.Instrument.Name), zap.Error(err))
			bookFresh = false
		}
	}

	decision := order.Evaluate(order.PolicyInputs{
		BookFresh:       bookFresh,
		OpenOrders:      open,
		TargetBidLots:   bidLots,
		TargetAskLots:   askLots,
		SentBidLots:     c.SentBidLots,
		SentAskLots:     c.SentAskLots,
		OneSided:        sizing.OneSided() || targets.BidPrice < 0,
		RequoteThresh:   c.Params.RequoteThresh,
		TIFSecs:         c.Params.TIFSecs,
		LastOrderUpdate: c.LastOrderUpdate,
		Now:             now,
	})

	if !decision.Requote {
		e.log.Info("not requoting, no trigger fired",
			zap.String("market", c.Instrument.Name),
			zap.Float64("fairValue", targets.FairValue),
			zap.Int64("targetBidLots", bidLots),
			zap.Int64("targetAskLots", askLots))
		return nil
	}

	plan, err := e.planner.BuildRequote(c, targets, sizing, bidLots, askLots, now)
	if err != nil {
		return err
	}
	if plan.Empty() {
		e.log.Info("both sides suppressed, nothing to submit",
			zap.String("market", c.Instrument.Name))
		return nil
	}

	sig, err := e.client.Submit(ctx, plan.Ixs)
	if err != nil {
		e.metrics.SubmitErrors.WithLabelValues(c.Instrument.Name).Inc()
		return fmt.Errorf("%w: %v", ledger.ErrSubmission, err)
	}

	// Sent prices and the order clock only advance on confirmed submission.
	// Suppressed sides record their would-be lots as well, so the staleness
	// fallback compares against the same targets next cycle instead of
	// re-triggering forever on a side that was deliberately not placed.
	c.SentBidLots = plan.BidLots
	c.SentAskLots = plan.AskLots
	c.LastOrderUpdate = market.NowUnix()
	e.metrics.Requotes.WithLabelValues(c.Instrument.Name).Inc()

	e.log.Info("requoted",
		zap.String("market", c.Instrument.Name),
		zap.Strings("reasons", decision.Reasons),
		zap.Float64("fairValue", targets.FairValue),
		zap.Float64("vol1", targets.Vol1),
		zap.Float64("vol2", targets.Vol2),
		zap.Int64("bidLots", plan.BidLots),
		zap.Int64("askLots", plan.AskLots),
		zap.Bool("placedBid", plan.PlacedBid),
		zap.Bool("placedAsk", plan.PlacedAsk),
		zap.String("sig", sig))

	side := "LONG"
	if position < 0 {
		side = "SHORT"
	}
	e.log.Info("account summary",
		zap.String("market", c.Instrument.Name),
		zap.Float64("healthRatio", account.HealthRatio),
		zap.Float64("maintHealth", account.MaintHealth),
		zap.Float64("equity", account.Equity),
		zap.Float64("basePosition", math.Abs(position)),
		zap.String("direction", side),
		zap.Float64("notional", math.Abs(position)*targets.FairValue),
		zap.Float64("unsettledPnl", account.UnsettledPnl[c.Instrument.MarketIndex]))
	return nil
}
