package order

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perp-mm-go/config"
	"perp-mm-go/ledger"
	"perp-mm-go/market"
	"perp-mm-go/strategy"
)

type placedCall struct {
	side      ledger.Side
	priceLots int64
	sizeLots  int64
	typ       ledger.OrderType
	reduce    bool
	expiry    int64
}

// recordingClient satisfies ledger.Client and records instruction builds.
type recordingClient struct {
	placed  []placedCall
	cancels int
	markers []uint64
}

func (r *recordingClient) Signer() string { return "test-signer" }
func (r *recordingClient) Instruments(context.Context) ([]ledger.Instrument, error) {
	return nil, nil
}
func (r *recordingClient) ReloadLedgerState(context.Context) error { return nil }
func (r *recordingClient) ReloadAccount(context.Context) (ledger.Account, error) {
	return ledger.Account{}, nil
}
func (r *recordingClient) LoadBook(context.Context, ledger.Instrument) (ledger.Book, error) {
	return ledger.Book{}, nil
}
func (r *recordingClient) OpenOrders(context.Context, ledger.Instrument) ([]ledger.Order, error) {
	return nil, nil
}
func (r *recordingClient) CancelAllIx(ledger.Instrument, int) (ledger.Instruction, error) {
	r.cancels++
	return ledger.Instruction{ProgramID: "cancel"}, nil
}
func (r *recordingClient) PlaceOrderIx(_ ledger.Instrument, side ledger.Side, priceLots, sizeLots int64,
	typ ledger.OrderType, reduceOnly bool, _ uint64, expiry int64) (ledger.Instruction, error) {
	r.placed = append(r.placed, placedCall{side, priceLots, sizeLots, typ, reduceOnly, expiry})
	return ledger.Instruction{ProgramID: "place"}, nil
}
func (r *recordingClient) InitSequenceIx(ledger.SequenceGuard) (ledger.Instruction, error) {
	return ledger.Instruction{ProgramID: "init"}, nil
}
func (r *recordingClient) SequenceCheckIx(_ ledger.SequenceGuard, marker uint64) (ledger.Instruction, error) {
	r.markers = append(r.markers, marker)
	return ledger.Instruction{ProgramID: "seq"}, nil
}
func (r *recordingClient) Submit(context.Context, []ledger.Instruction) (string, error) {
	return "sig", nil
}
func (r *recordingClient) RecentThroughput(context.Context) (float64, error) { return 2000, nil }

func testContext() *market.Context {
	inst := ledger.Instrument{
		Name:        "BTC-PERP",
		MarketIndex: 0,
		PriceLot:    decimal.New(1, -4),
		BaseLot:     decimal.New(1, -4),
	}
	guard := ledger.DeriveSequenceGuard(inst.Name, "test-signer")
	return market.NewContext(inst, config.PerpParams{
		Equity: 1000, BidCharge: 0.05, AskCharge: 0.05, RequoteThresh: 0.0005,
	}, guard)
}

func TestBuildRequoteBothSides(t *testing.T) {
	client := &recordingClient{}
	p := &Planner{Client: client}
	c := testContext()

	targets := strategy.Targets{FairValue: 100.1, BidPrice: 95.095, AskPrice: 105.105}
	sizing := strategy.ComputeSizing(1000, 100.1, 0, 1)

	plan, err := p.BuildRequote(c, targets, sizing, 950950, 1051050, 1000)
	require.NoError(t, err)
	assert.False(t, plan.Empty())
	assert.Len(t, plan.Ixs, 4) // seq, cancel, bid, ask
	assert.Equal(t, 1, client.cancels)
	require.Len(t, client.placed, 2)
	assert.Equal(t, ledger.Bid, client.placed[0].side)
	assert.Equal(t, ledger.PostOnlySlide, client.placed[0].typ)
	assert.False(t, client.placed[0].reduce)
	assert.Equal(t, ledger.Ask, client.placed[1].side)
	assert.True(t, plan.PlacedBid)
	assert.True(t, plan.PlacedAsk)
}

func TestBuildRequoteSuppressedSideAbsent(t *testing.T) {
	client := &recordingClient{}
	p := &Planner{Client: client}
	c := testContext()

	targets := strategy.Targets{FairValue: 100.1, BidPrice: 95.095, AskPrice: 105.105}
	// Position of two trade sizes long: bid suppressed.
	sizing := strategy.ComputeSizing(1000, 100.1, 20, 1)
	require.True(t, sizing.SuppressBid)

	plan, err := p.BuildRequote(c, targets, sizing, 950950, 1051050, 1000)
	require.NoError(t, err)
	require.Len(t, client.placed, 1)
	assert.Equal(t, ledger.Ask, client.placed[0].side)
	assert.False(t, plan.PlacedBid)
	assert.True(t, plan.PlacedAsk)
}

func TestBuildRequoteNegativeBidPriceSkipsBid(t *testing.T) {
	client := &recordingClient{}
	p := &Planner{Client: client}
	c := testContext()

	targets := strategy.Targets{FairValue: 100, BidPrice: -1, AskPrice: 155}
	sizing := strategy.ComputeSizing(1000, 100, 0, 1)

	plan, err := p.BuildRequote(c, targets, sizing, -10000, 1550000, 1000)
	require.NoError(t, err)
	require.Len(t, client.placed, 1)
	assert.Equal(t, ledger.Ask, client.placed[0].side)
	assert.False(t, plan.PlacedBid)
}

func TestBuildRequoteTIFExpiry(t *testing.T) {
	client := &recordingClient{}
	p := &Planner{Client: client}
	c := testContext()
	c.Params.TIFSecs = 600

	targets := strategy.Targets{FairValue: 100.1, BidPrice: 95.095, AskPrice: 105.105}
	sizing := strategy.ComputeSizing(1000, 100.1, 0, 1)

	_, err := p.BuildRequote(c, targets, sizing, 950950, 1051050, 5000)
	require.NoError(t, err)
	for _, call := range client.placed {
		assert.Equal(t, int64(5600), call.expiry)
	}
}

func TestSequenceMarkersStrictlyIncrease(t *testing.T) {
	client := &recordingClient{}
	p := &Planner{Client: client}
	c := testContext()

	targets := strategy.Targets{FairValue: 100.1, BidPrice: 95.095, AskPrice: 105.105}
	sizing := strategy.ComputeSizing(1000, 100.1, 0, 1)

	for i := 0; i < 5; i++ {
		_, err := p.BuildRequote(c, targets, sizing, 950950, 1051050, 1000)
		require.NoError(t, err)
	}
	require.Len(t, client.markers, 5)
	for i := 1; i < len(client.markers); i++ {
		assert.Greater(t, client.markers[i], client.markers[i-1])
	}
}

func TestBuildFlatten(t *testing.T) {
	client := &recordingClient{}
	p := &Planner{Client: client}
	c := testContext()

	plan, err := p.BuildFlatten(c, strategy.FlattenOrder{Side: ledger.Bid, Price: 50.1, Size: 3})
	require.NoError(t, err)
	assert.False(t, plan.Empty())
	require.Len(t, client.placed, 1)
	assert.Equal(t, ledger.Bid, client.placed[0].side)
	assert.Equal(t, ledger.ImmediateOrCancel, client.placed[0].typ)
	assert.True(t, client.placed[0].reduce)
	assert.Equal(t, c.Instrument.BaseToLots(3), client.placed[0].sizeLots)
	assert.Equal(t, c.Instrument.PriceToLots(50.1), client.placed[0].priceLots)
	assert.Equal(t, 0, client.cancels) // flattening never cancels
}

func TestBookAdjustKeepsQuotesPassive(t *testing.T) {
	inst := ledger.Instrument{PriceLot: decimal.New(1, -4), BaseLot: decimal.New(1, -4)}
	book := ledger.Book{
		Bids: ledger.BookSide{Levels: []ledger.Level{{PriceLots: 999000}}},
		Asks: ledger.BookSide{Levels: []ledger.Level{{PriceLots: 1001000}}},
	}
	t.Run("crossing bid slides below best ask", func(t *testing.T) {
		bid, ask := BookAdjust(inst, book, strategy.Targets{BidPrice: 100.2, AskPrice: 110})
		assert.Equal(t, int64(1000999), bid)
		assert.Equal(t, int64(1100000), ask)
	})
	t.Run("crossing ask slides above best bid", func(t *testing.T) {
		bid, ask := BookAdjust(inst, book, strategy.Targets{BidPrice: 90, AskPrice: 99.8})
		assert.Equal(t, int64(900000), bid)
		assert.Equal(t, int64(999001), ask)
	})
	t.Run("empty book leaves model prices", func(t *testing.T) {
		bid, ask := BookAdjust(inst, ledger.Book{}, strategy.Targets{BidPrice: 95, AskPrice: 105})
		assert.Equal(t, int64(950000), bid)
		assert.Equal(t, int64(1050000), ask)
	})
}
