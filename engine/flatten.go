package engine

import (
	"context"
	"errors"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"perp-mm-go/ledger"
	"perp-mm-go/market"
	"perp-mm-go/strategy"
)

// RunFlatten drives the inventory-flattening loop: instead of resting
// two-sided quotes it crosses the spread with reduce-only taker orders
// until every position is back to zero. No orders rest, so the exit path
// has nothing to cancel.
func (e *Engine) RunFlatten(ctx context.Context) error {
	e.running.Store(true)
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	for e.running.Load() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		e.runFlattenCycle(ctx)
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

func (e *Engine) runFlattenCycle(ctx context.Context) {
	e.applyPendingParams()
	e.kickRefresh()

	account, accountAt := e.state.Account()
	if accountAt == 0 {
		e.log.Warn("no account snapshot yet, skipping cycle")
		return
	}

	for _, c := range e.orderedContexts() {
		if err := e.flattenMarket(ctx, c, account); err != nil {
			e.log.Error("flatten failed",
				zap.String("market", c.Instrument.Name), zap.Error(err))
		}
	}
}

func (e *Engine) flattenMarket(ctx context.Context, c *market.Context, account ledger.Account) error {
	snap := c.Snapshot()
	if !snap.Reference.Valid {
		e.metrics.FeedErrors.WithLabelValues(c.Instrument.Name).Inc()
		return nil
	}

	fairValue := snap.Reference.Mid()
	position := account.Position(c.Instrument.MarketIndex)
	e.metrics.FairValue.WithLabelValues(c.Instrument.Name).Set(fairValue)
	e.metrics.Position.WithLabelValues(c.Instrument.Name).Set(position)

	taker, ok, err := strategy.PlanFlatten(position, fairValue, c.Params.Charge)
	if errors.Is(err, strategy.ErrSafetyAbort) {
		e.log.Warn("doing nothing, flatten charge at or above ceiling",
			zap.String("market", c.Instrument.Name),
			zap.Float64("charge", c.Params.Charge))
		return nil
	}
	if err != nil {
		return err
	}
	if !ok {
		e.log.Info("position flat, nothing to do", zap.String("market", c.Instrument.Name))
		return nil
	}

	plan, err := e.planner.BuildFlatten(c, taker)
	if err != nil {
		return err
	}
	if plan.Empty() {
		e.log.Info("position below one lot, nothing to submit",
			zap.String("market", c.Instrument.Name))
		return nil
	}

	sig, err := e.client.Submit(ctx, plan.Ixs)
	if err != nil {
		e.metrics.SubmitErrors.WithLabelValues(c.Instrument.Name).Inc()
		return err
	}
	c.LastOrderUpdate = market.NowUnix()

	e.log.Info("flattening",
		zap.String("market", c.Instrument.Name),
		zap.String("side", taker.Side.String()),
		zap.Float64("size", taker.Size),
		zap.Float64("price", taker.Price),
		zap.String("sig", sig))
	return nil
}
