package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"perp-mm-go/config"
	"perp-mm-go/feed"
	"perp-mm-go/ledger"
	"perp-mm-go/ledger/sim"
	"perp-mm-go/market"
	"perp-mm-go/monitor"
)

// mapSource serves fixed depths per reference code; codes in failing error
// for the cycle.
type mapSource struct {
	depths  map[string]feed.Depth
	failing map[string]bool
}

func (s *mapSource) FetchDepth(_ context.Context, code string) (feed.Depth, error) {
	if s.failing[code] {
		return feed.Depth{}, feed.ErrUnavailable
	}
	d, ok := s.depths[code]
	if !ok {
		return feed.Depth{}, feed.ErrUnavailable
	}
	return d, nil
}

func testInstruments() []ledger.Instrument {
	return []ledger.Instrument{
		{Name: "BTC-PERP", MarketIndex: 0, PriceLot: decimal.New(1, -4), BaseLot: decimal.New(1, -4)},
		{Name: "ETH-PERP", MarketIndex: 1, PriceLot: decimal.New(1, -4), BaseLot: decimal.New(1, -4)},
	}
}

func testAssets() map[string]config.AssetConfig {
	return map[string]config.AssetConfig{
		"BTC": {Perp: config.PerpParams{
			Equity:        10000,
			BidCharge:     0.05,
			AskCharge:     0.05,
			RequoteThresh: 0.0005,
			TIFSecs:       600,
			Charge:        0.002,
			ReferenceCode: "XBTUSD",
		}},
	}
}

type fixture struct {
	eng    *Engine
	client *sim.Client
	source *mapSource
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := sim.New("sim-signer", testInstruments())
	source := &mapSource{
		depths:  map[string]feed.Depth{"XBTUSD": {Bid: 100.0, Ask: 100.2}},
		failing: map[string]bool{},
	}
	metrics := monitor.New(prometheus.NewRegistry())
	eng := New(client, source, zap.NewNop(), metrics, Options{})
	return &fixture{eng: eng, client: client, source: source}
}

func (f *fixture) bootstrap(t *testing.T) {
	t.Helper()
	require.NoError(t, f.eng.Bootstrap(context.Background(), testAssets()))
}

func openOrders(t *testing.T, f *fixture, inst ledger.Instrument) []ledger.Order {
	t.Helper()
	open, err := f.client.OpenOrders(context.Background(), inst)
	require.NoError(t, err)
	return open
}

func TestBootstrapBuildsContexts(t *testing.T) {
	f := newFixture(t)
	f.bootstrap(t)

	require.Len(t, f.eng.state.Contexts, 1)
	c := f.eng.state.Contexts[0]
	assert.Equal(t, "BTC-PERP", c.Instrument.Name)
	assert.Equal(t, "XBTUSD", c.Params.ReferenceCode)
	assert.NotEmpty(t, c.Guard.Address)

	// Bootstrap's synchronous refresh must leave a usable snapshot behind.
	snap := c.Snapshot()
	assert.True(t, snap.Reference.Valid)
	_, at := f.eng.state.Account()
	assert.NotZero(t, at)
}

func TestBootstrapClearsLeftoverOrders(t *testing.T) {
	f := newFixture(t)
	inst := testInstruments()[0]

	// A previous run left an order resting on the ledger.
	ix, err := f.client.PlaceOrderIx(inst, ledger.Bid, 950000, 10000, ledger.PostOnlySlide, false, 1, 0)
	require.NoError(t, err)
	_, err = f.client.Submit(context.Background(), []ledger.Instruction{ix})
	require.NoError(t, err)
	require.Len(t, openOrders(t, f, inst), 1)

	f.bootstrap(t)
	assert.Empty(t, openOrders(t, f, inst))
}

func TestBootstrapRejectsUnlistedAssets(t *testing.T) {
	f := newFixture(t)
	err := f.eng.Bootstrap(context.Background(), map[string]config.AssetConfig{
		"DOGE": {Perp: config.PerpParams{Equity: 1, RequoteThresh: 0.001, ReferenceCode: "DOGEUSD"}},
	})
	assert.Error(t, err)
}

func TestBootstrapSkipsUnknownKeepsKnown(t *testing.T) {
	f := newFixture(t)
	assets := testAssets()
	assets["DOGE"] = config.AssetConfig{Perp: config.PerpParams{
		Equity: 1, RequoteThresh: 0.001, ReferenceCode: "DOGEUSD",
	}}
	require.NoError(t, f.eng.Bootstrap(context.Background(), assets))
	assert.Len(t, f.eng.state.Contexts, 1)
}

func TestQuoteCycleRequotesOnceThenHolds(t *testing.T) {
	f := newFixture(t)
	f.bootstrap(t)
	inst := testInstruments()[0]
	before := f.client.Submits()

	// First cycle: nothing resting, count mismatch forces a requote.
	f.eng.runQuoteCycle(context.Background())
	require.Equal(t, before+1, f.client.Submits())

	open := openOrders(t, f, inst)
	require.Len(t, open, 2)
	var bid, ask *ledger.Order
	for i := range open {
		if open[i].Side == ledger.Bid {
			bid = &open[i]
		} else {
			ask = &open[i]
		}
	}
	require.NotNil(t, bid)
	require.NotNil(t, ask)
	// fair value 100.1, charges 0.05, price lot 1e-4
	assert.Equal(t, int64(950950), bid.PriceLots)
	assert.Equal(t, int64(1051050), ask.PriceLots)

	// Second cycle: book not yet fresh, sent prices match targets, no
	// transaction goes out.
	f.eng.runQuoteCycle(context.Background())
	assert.Equal(t, before+1, f.client.Submits())
}

func TestQuoteCycleSkipsWhenReferenceMissing(t *testing.T) {
	f := newFixture(t)
	f.bootstrap(t)
	before := f.client.Submits()

	f.source.failing["XBTUSD"] = true
	// Invalidate the bootstrap snapshot through a synchronous refresh.
	require.NoError(t, f.eng.refresher.Refresh(context.Background(), f.eng.state))

	f.eng.runQuoteCycle(context.Background())
	assert.Equal(t, before, f.client.Submits())
}

func TestQuoteCycleSuppressesBidWhenCapped(t *testing.T) {
	f := newFixture(t)
	// position/size >= 1 with equity 10000 and fair value ~100.1
	f.client.SetPosition(0, 200)
	f.bootstrap(t)
	inst := testInstruments()[0]

	f.eng.runQuoteCycle(context.Background())

	open := openOrders(t, f, inst)
	require.Len(t, open, 1)
	assert.Equal(t, ledger.Ask, open[0].Side)
}

func TestOneSidedQuotingHoldsSteady(t *testing.T) {
	f := newFixture(t)
	f.client.SetPosition(0, 200) // ~2 trade sizes, bid capped out
	f.bootstrap(t)
	inst := testInstruments()[0]
	before := f.client.Submits()

	f.eng.runQuoteCycle(context.Background())
	require.Equal(t, before+1, f.client.Submits())
	require.Len(t, openOrders(t, f, inst), 1)

	// Unchanged inputs on the sent-price fallback path: the suppressed
	// bid's recorded lots must not retrigger a requote.
	f.eng.runQuoteCycle(context.Background())
	f.eng.runQuoteCycle(context.Background())
	assert.Equal(t, before+1, f.client.Submits())

	// Same steady state through the fresh-book path: one resting order is
	// what a one-sided quote expects.
	c := f.eng.state.Contexts[0]
	snap := c.Snapshot()
	snap.BookAt = market.NowUnix() + 10
	c.Publish(snap)
	f.eng.runQuoteCycle(context.Background())
	assert.Equal(t, before+1, f.client.Submits())
}

func TestPartialLeanSuppressionIsOneSided(t *testing.T) {
	f := newFixture(t)
	// With a soft lean the bid size stays positive while the position cap
	// still suppresses the bid; the steady state is one resting ask.
	f.client.SetPosition(0, 120)
	assets := testAssets()
	p := assets["BTC"].Perp
	p.LeanCoeff = 0.5
	assets["BTC"] = config.AssetConfig{Perp: p}
	require.NoError(t, f.eng.Bootstrap(context.Background(), assets))
	inst := testInstruments()[0]
	before := f.client.Submits()

	f.eng.runQuoteCycle(context.Background())
	require.Equal(t, before+1, f.client.Submits())
	open := openOrders(t, f, inst)
	require.Len(t, open, 1)
	assert.Equal(t, ledger.Ask, open[0].Side)

	f.eng.runQuoteCycle(context.Background())
	f.eng.runQuoteCycle(context.Background())
	assert.Equal(t, before+1, f.client.Submits())
}

func TestFlattenCycleUnwindsLongPosition(t *testing.T) {
	f := newFixture(t)
	f.client.SetPosition(0, 5)
	f.bootstrap(t)

	f.eng.runFlattenCycle(context.Background())

	account, err := f.client.ReloadAccount(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0, account.Positions[0], 1e-9)
}

func TestFlattenCycleUnwindsShortPosition(t *testing.T) {
	f := newFixture(t)
	f.client.SetPosition(0, -3)
	f.bootstrap(t)

	f.eng.runFlattenCycle(context.Background())

	account, err := f.client.ReloadAccount(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0, account.Positions[0], 1e-9)
}

func TestFlattenCycleAbortsOnExcessiveCharge(t *testing.T) {
	f := newFixture(t)
	f.client.SetPosition(0, 5)
	assets := testAssets()
	p := assets["BTC"].Perp
	p.Charge = 0.02
	assets["BTC"] = config.AssetConfig{Perp: p}
	require.NoError(t, f.eng.Bootstrap(context.Background(), assets))
	before := f.client.Submits()

	f.eng.runFlattenCycle(context.Background())

	assert.Equal(t, before, f.client.Submits())
	account, err := f.client.ReloadAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5.0, account.Positions[0])
}

func TestSequenceGuardRejectsStaleMarker(t *testing.T) {
	f := newFixture(t)
	f.bootstrap(t)
	f.eng.runQuoteCycle(context.Background())

	c := f.eng.state.Contexts[0]
	marker := c.Guard.NextMarker()

	// A batch carrying an old marker must be rejected wholesale.
	fresh, err := f.client.SequenceCheckIx(c.Guard, marker)
	require.NoError(t, err)
	_, err = f.client.Submit(context.Background(), []ledger.Instruction{fresh})
	require.NoError(t, err)

	stale, err := f.client.SequenceCheckIx(c.Guard, marker)
	require.NoError(t, err)
	_, err = f.client.Submit(context.Background(), []ledger.Instruction{stale})
	assert.ErrorIs(t, err, ledger.ErrSubmission)
}

func TestShutdownDrainsRestingOrders(t *testing.T) {
	f := newFixture(t)
	f.bootstrap(t)
	inst := testInstruments()[0]

	f.eng.runQuoteCycle(context.Background())
	require.Len(t, openOrders(t, f, inst), 2)

	f.eng.shutdownCancelAll()
	assert.Empty(t, openOrders(t, f, inst))
}

func TestApplyConfigHotReload(t *testing.T) {
	f := newFixture(t)
	f.bootstrap(t)

	cfg := config.AppConfig{Assets: map[string]config.AssetConfig{
		"BTC": {Perp: config.PerpParams{
			Equity:        25000,
			BidCharge:     0.04,
			AskCharge:     0.04,
			RequoteThresh: 0.001,
			ReferenceCode: "IGNORED", // the running code must survive reloads
		}},
	}}
	f.eng.ApplyConfig(cfg)
	f.eng.applyPendingParams()

	c := f.eng.state.Contexts[0]
	assert.Equal(t, 25000.0, c.Params.Equity)
	assert.Equal(t, 0.04, c.Params.BidCharge)
	assert.Equal(t, "XBTUSD", c.Params.ReferenceCode)
	assert.Equal(t, "XBTUSD", c.ReferenceCode)

	// The pinned code keeps the refresher on the original venue pair.
	require.NoError(t, f.eng.refresher.Refresh(context.Background(), f.eng.state))
	assert.True(t, c.Snapshot().Reference.Valid)
}

func TestParamsReloadConcurrentWithRefresh(t *testing.T) {
	f := newFixture(t)
	f.bootstrap(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			_ = f.eng.refresher.Refresh(context.Background(), f.eng.state)
		}
	}()
	for i := 0; i < 50; i++ {
		f.eng.ApplyConfig(config.AppConfig{Assets: testAssets()})
		f.eng.applyPendingParams()
	}
	<-done

	assert.True(t, f.eng.state.Contexts[0].Snapshot().Reference.Valid)
}

func TestApplyConfigKeepsNewestPending(t *testing.T) {
	f := newFixture(t)
	f.bootstrap(t)

	mk := func(equity float64) config.AppConfig {
		assets := testAssets()
		p := assets["BTC"].Perp
		p.Equity = equity
		assets["BTC"] = config.AssetConfig{Perp: p}
		return config.AppConfig{Assets: assets}
	}
	f.eng.ApplyConfig(mk(11000))
	f.eng.ApplyConfig(mk(12000))
	f.eng.applyPendingParams()

	assert.Equal(t, 12000.0, f.eng.state.Contexts[0].Params.Equity)
}

func TestThroughputProbeUpdatesSample(t *testing.T) {
	f := newFixture(t)
	f.client.SetThroughput(1800)
	f.bootstrap(t)

	f.eng.runQuoteCycle(context.Background())
	assert.Equal(t, 1800.0, f.eng.lastTPS)
}

var errProbe = errors.New("probe down")

// failingTPS wraps the simulator to make the throughput probe fail.
type failingTPS struct {
	*sim.Client
}

func (f failingTPS) RecentThroughput(context.Context) (float64, error) {
	return 0, errProbe
}

func TestThroughputProbeErrorDoesNotBlockQuoting(t *testing.T) {
	client := sim.New("sim-signer", testInstruments())
	source := &mapSource{
		depths:  map[string]feed.Depth{"XBTUSD": {Bid: 100.0, Ask: 100.2}},
		failing: map[string]bool{},
	}
	eng := New(failingTPS{client}, source, zap.NewNop(), monitor.New(prometheus.NewRegistry()), Options{})
	require.NoError(t, eng.Bootstrap(context.Background(), testAssets()))
	before := client.Submits()

	eng.runQuoteCycle(context.Background())

	assert.Equal(t, 2000.0, eng.lastTPS) // startup default retained
	assert.Equal(t, before+1, client.Submits())
}
