package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"perp-mm-go/config"
	"perp-mm-go/ledger"
	"perp-mm-go/market"
)

// ErrSetup reports that sequence-account initialization did not succeed
// within the configured retry budget. The engine cannot safely submit
// without its guard accounts, so this blocks startup.
var ErrSetup = errors.New("sequence account setup failed")

// Bootstrap discovers instruments, builds per-instrument contexts, cancels
// leftover resting orders from a previous run, initializes the sequence
// guard accounts, and takes the first state snapshot.
func (e *Engine) Bootstrap(ctx context.Context, assets map[string]config.AssetConfig) error {
	instruments, err := e.client.Instruments(ctx)
	if err != nil {
		return fmt.Errorf("list instruments: %w", err)
	}
	byName := make(map[string]ledger.Instrument, len(instruments))
	for _, inst := range instruments {
		byName[inst.Name] = inst
	}

	var contexts []*market.Context
	for asset, acfg := range assets {
		inst, ok := byName[asset+"-PERP"]
		if !ok {
			e.log.Warn("asset not listed on ledger, skipping", zap.String("asset", asset))
			continue
		}
		guard := ledger.DeriveSequenceGuard(inst.Name, e.client.Signer())
		contexts = append(contexts, market.NewContext(inst, acfg.Perp, guard))
	}
	if len(contexts) == 0 {
		return errors.New("no configured asset is listed on the ledger")
	}
	e.state = market.NewState(contexts)

	// Clear anything resting from a previous run before the first quote.
	for _, c := range e.orderedContexts() {
		cancelIx, err := e.client.CancelAllIx(c.Instrument, 10)
		if err != nil {
			return fmt.Errorf("build startup cancel for %s: %w", c.Instrument.Name, err)
		}
		if _, err := e.client.Submit(ctx, []ledger.Instruction{cancelIx}); err != nil {
			e.log.Warn("startup cancel-all failed",
				zap.String("market", c.Instrument.Name), zap.Error(err))
		}
	}

	if err := e.initSequenceGuards(ctx); err != nil {
		return err
	}

	e.log.Info("loading state first time")
	if err := e.refresher.Refresh(ctx, e.state); err != nil {
		e.log.Warn("first refresh incomplete", zap.Error(err))
	}
	return nil
}

// initSequenceGuards creates all guard accounts in one transaction,
// retrying with exponential backoff. Creation is idempotent on the
// program side, so retrying a partially landed batch is safe.
func (e *Engine) initSequenceGuards(ctx context.Context) error {
	ixs := make([]ledger.Instruction, 0, len(e.state.Contexts))
	for _, c := range e.orderedContexts() {
		ix, err := e.client.InitSequenceIx(c.Guard)
		if err != nil {
			return fmt.Errorf("%w: build init ix for %s: %v", ErrSetup, c.Instrument.Name, err)
		}
		ixs = append(ixs, ix)
	}

	attempt := 0
	op := func() error {
		attempt++
		sig, err := e.client.Submit(ctx, ixs)
		if err != nil {
			e.log.Warn("sequence account init failed",
				zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		e.log.Info("sequence accounts ready", zap.String("sig", sig))
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.MaxElapsedTime = 0 // retry until the context dies or the cap hits
	var policy backoff.BackOff = expo
	if e.opts.SetupMaxRetries > 0 {
		policy = backoff.WithMaxRetries(expo, e.opts.SetupMaxRetries)
	}
	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return fmt.Errorf("%w: %v", ErrSetup, err)
	}
	return nil
}
