package engine

import (
	"context"

	"go.uber.org/zap"

	"perp-mm-go/ledger"
)

// drainRounds caps the cancel-reload attempts per instrument on exit; one
// cancel-all instruction removes at most its limit of orders.
const drainRounds = 10

// shutdownCancelAll is the exit-time unwind: cancel everything resting on
// every instrument, bounded by its own timeout and best-effort throughout.
// Failures are logged and never block the exit.
func (e *Engine) shutdownCancelAll() {
	ctx, cancel := context.WithTimeout(context.Background(), e.opts.ShutdownTimeout)
	defer cancel()

	e.log.Info("shutting down, cancelling resting orders")
	for _, c := range e.orderedContexts() {
		e.drainMarket(ctx, c.Instrument)
	}
}

func (e *Engine) drainMarket(ctx context.Context, inst ledger.Instrument) {
	for round := 0; round < drainRounds; round++ {
		if ctx.Err() != nil {
			return
		}
		cancelIx, err := e.client.CancelAllIx(inst, 10)
		if err != nil {
			e.log.Warn("cancel ix build failed", zap.String("market", inst.Name), zap.Error(err))
			return
		}
		if _, err := e.client.Submit(ctx, []ledger.Instruction{cancelIx}); err != nil {
			e.log.Warn("exit cancel-all failed", zap.String("market", inst.Name), zap.Error(err))
			return
		}
		open, err := e.client.OpenOrders(ctx, inst)
		if err != nil || len(open) == 0 {
			return
		}
	}
}
