// Package engine orchestrates the control loop: periodic refresh, quote
// decisions, sequenced submission, and shutdown-time unwind.
package engine

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"perp-mm-go/config"
	"perp-mm-go/feed"
	"perp-mm-go/ledger"
	"perp-mm-go/market"
	"perp-mm-go/monitor"
	"perp-mm-go/order"
)

// Options are the loop-level tunables.
type Options struct {
	Interval time.Duration
	// BookStaleSecs selects between the live-book and sent-price requote
	// comparisons; see config.EngineConfig.
	BookStaleSecs float64
	// SetupMaxRetries caps sequence-account initialization attempts,
	// zero retries until success.
	SetupMaxRetries uint64
	// ShutdownTimeout bounds the exit-time cancel-all drain.
	ShutdownTimeout time.Duration
}

// Engine drives one process-wide control loop over all configured
// instruments.
type Engine struct {
	client  ledger.Client
	source  feed.Source
	log     *zap.Logger
	metrics *monitor.Metrics
	opts    Options

	state     *market.State
	refresher *market.Refresher
	planner   *order.Planner

	running    atomic.Bool
	refreshing atomic.Bool

	// lastTPS holds the last known ledger throughput; neutral before the
	// first successful sample so startup does not force maximum widening.
	lastTPS float64

	paramsCh chan map[string]config.PerpParams
}

// New wires an engine from its collaborators.
func New(client ledger.Client, source feed.Source, log *zap.Logger, metrics *monitor.Metrics, opts Options) *Engine {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.BookStaleSecs <= 0 {
		opts.BookStaleSecs = 3
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	return &Engine{
		client:    client,
		source:    source,
		log:       log,
		metrics:   metrics,
		opts:      opts,
		refresher: &market.Refresher{Client: client, Source: source, Log: log},
		planner:   &order.Planner{Client: client},
		lastTPS:   2000,
		paramsCh:  make(chan map[string]config.PerpParams, 1),
	}
}

// Stop asks the loop to exit after the current cycle.
func (e *Engine) Stop() { e.running.Store(false) }

// ApplyConfig queues hot-reloaded per-asset params; the loop picks them up
// at the next cycle boundary. Called from the config watcher goroutine.
func (e *Engine) ApplyConfig(cfg config.AppConfig) {
	params := make(map[string]config.PerpParams, len(cfg.Assets))
	for sym, asset := range cfg.Assets {
		params[sym] = asset.Perp
	}
	select {
	case e.paramsCh <- params:
	default:
		// A pending update is still unconsumed; drop the older one.
		select {
		case <-e.paramsCh:
		default:
		}
		e.paramsCh <- params
	}
}

// applyPendingParams drains one queued params update, if any. Runs on the
// loop goroutine so context params are never written concurrently.
func (e *Engine) applyPendingParams() {
	select {
	case params := <-e.paramsCh:
		for _, c := range e.state.Contexts {
			if p, ok := params[assetOf(c.Instrument.Name)]; ok {
				p.ReferenceCode = c.Params.ReferenceCode
				c.Params = p
				e.log.Info("instrument params reloaded", zap.String("market", c.Instrument.Name))
			}
		}
	default:
	}
}

// orderedContexts returns contexts sorted by market index so cycle logs
// and submissions are deterministic.
func (e *Engine) orderedContexts() []*market.Context {
	out := make([]*market.Context, 0, len(e.state.Contexts))
	for _, c := range e.state.Contexts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Instrument.MarketIndex < out[j].Instrument.MarketIndex
	})
	return out
}

// kickRefresh starts an asynchronous refresh unless one is still in
// flight. The loop keeps consuming whatever the latest completed snapshot
// is; it never waits on this.
func (e *Engine) kickRefresh() {
	if !e.refreshing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer e.refreshing.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.Interval*4)
		defer cancel()
		if err := e.refresher.Refresh(ctx, e.state); err != nil {
			e.log.Warn("refresh incomplete", zap.Error(err))
		}
	}()
}

// assetOf strips the market suffix from an instrument name, BTC-PERP -> BTC.
func assetOf(marketName string) string {
	return strings.TrimSuffix(marketName, "-PERP")
}
