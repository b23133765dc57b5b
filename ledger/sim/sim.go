// Package sim is an in-memory ledger client for dry runs and tests. It
// honors the sequence-guard contract (stale markers are rejected), tracks
// resting orders per market, and fills immediate-or-cancel orders against
// the account position so flattening can be exercised end to end.
package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"perp-mm-go/ledger"
)

type ixPayload struct {
	Kind       string           `json:"kind"` // seq_init, seq_check, cancel_all, place_order
	Guard      string           `json:"guard,omitempty"`
	Marker     uint64           `json:"marker,omitempty"`
	Market     int              `json:"market,omitempty"`
	Side       ledger.Side      `json:"side,omitempty"`
	PriceLots  int64            `json:"priceLots,omitempty"`
	SizeLots   int64            `json:"sizeLots,omitempty"`
	Type       ledger.OrderType `json:"type,omitempty"`
	ReduceOnly bool             `json:"reduceOnly,omitempty"`
}

// Client simulates the ledger. Safe for concurrent use.
type Client struct {
	mu          sync.Mutex
	signer      string
	instruments []ledger.Instrument
	books       map[int]ledger.Book
	resting     map[int][]ledger.Order
	account     ledger.Account
	markers     map[string]uint64
	guardsInit  map[string]bool
	tps         float64
	submits     int
}

// New builds a simulator over the given instruments.
func New(signer string, instruments []ledger.Instrument) *Client {
	return &Client{
		signer:      signer,
		instruments: instruments,
		books:       map[int]ledger.Book{},
		resting:     map[int][]ledger.Order{},
		markers:     map[string]uint64{},
		guardsInit:  map[string]bool{},
		tps:         2000,
		account: ledger.Account{
			Address:      "sim",
			Positions:    map[int]float64{},
			UnsettledPnl: map[int]float64{},
			HealthRatio:  100,
		},
	}
}

// SetPosition seeds a signed base position for a market.
func (c *Client) SetPosition(marketIndex int, pos float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.account.Positions[marketIndex] = pos
}

// SetBook seeds the on-ledger book for a market.
func (c *Client) SetBook(marketIndex int, book ledger.Book) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.books[marketIndex] = book
}

// SetThroughput sets the reported TPS.
func (c *Client) SetThroughput(tps float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tps = tps
}

// Submits reports how many transactions landed.
func (c *Client) Submits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submits
}

func (c *Client) Signer() string { return c.signer }

func (c *Client) Instruments(context.Context) ([]ledger.Instrument, error) {
	return c.instruments, nil
}

func (c *Client) ReloadLedgerState(context.Context) error { return nil }

func (c *Client) ReloadAccount(context.Context) (ledger.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.account
	out.Positions = make(map[int]float64, len(c.account.Positions))
	for k, v := range c.account.Positions {
		out.Positions[k] = v
	}
	return out, nil
}

func (c *Client) LoadBook(_ context.Context, inst ledger.Instrument) (ledger.Book, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.books[inst.MarketIndex], nil
}

func (c *Client) OpenOrders(_ context.Context, inst ledger.Instrument) ([]ledger.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ledger.Order(nil), c.resting[inst.MarketIndex]...), nil
}

func (c *Client) CancelAllIx(inst ledger.Instrument, _ int) (ledger.Instruction, error) {
	return encodeIx(ixPayload{Kind: "cancel_all", Market: inst.MarketIndex})
}

func (c *Client) PlaceOrderIx(inst ledger.Instrument, side ledger.Side, priceLots, sizeLots int64,
	typ ledger.OrderType, reduceOnly bool, _ uint64, _ int64) (ledger.Instruction, error) {
	return encodeIx(ixPayload{
		Kind:       "place_order",
		Market:     inst.MarketIndex,
		Side:       side,
		PriceLots:  priceLots,
		SizeLots:   sizeLots,
		Type:       typ,
		ReduceOnly: reduceOnly,
	})
}

func (c *Client) InitSequenceIx(guard ledger.SequenceGuard) (ledger.Instruction, error) {
	return encodeIx(ixPayload{Kind: "seq_init", Guard: guard.Address})
}

func (c *Client) SequenceCheckIx(guard ledger.SequenceGuard, marker uint64) (ledger.Instruction, error) {
	return encodeIx(ixPayload{Kind: "seq_check", Guard: guard.Address, Marker: marker})
}

// Submit applies the batch atomically, enforcing the sequence guard the
// way the on-ledger program does.
func (c *Client) Submit(_ context.Context, ixs []ledger.Instruction) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	payloads := make([]ixPayload, 0, len(ixs))
	for _, ix := range ixs {
		var p ixPayload
		if err := json.Unmarshal(ix.Data, &p); err != nil {
			return "", fmt.Errorf("%w: bad instruction: %v", ledger.ErrSubmission, err)
		}
		payloads = append(payloads, p)
	}

	// Validate guard checks before applying anything.
	for _, p := range payloads {
		if p.Kind == "seq_check" {
			if !c.guardsInit[p.Guard] {
				return "", fmt.Errorf("%w: guard account missing", ledger.ErrSubmission)
			}
			if p.Marker <= c.markers[p.Guard] {
				return "", fmt.Errorf("%w: stale sequence marker", ledger.ErrSubmission)
			}
		}
	}

	for _, p := range payloads {
		switch p.Kind {
		case "seq_init":
			c.guardsInit[p.Guard] = true
		case "seq_check":
			c.markers[p.Guard] = p.Marker
		case "cancel_all":
			c.resting[p.Market] = nil
		case "place_order":
			c.applyPlace(p)
		default:
			return "", fmt.Errorf("%w: unknown instruction %q", ledger.ErrSubmission, p.Kind)
		}
	}

	c.submits++
	return fmt.Sprintf("sim-%08d", c.submits), nil
}

func (c *Client) applyPlace(p ixPayload) {
	inst := c.instrumentByIndex(p.Market)
	size := float64(p.SizeLots)
	if inst != nil {
		size = inst.LotsToBase(p.SizeLots)
	}
	if p.Type == ledger.ImmediateOrCancel {
		// Fill in full at the limit price; good enough for flattening runs.
		if p.Side == ledger.Bid {
			c.account.Positions[p.Market] += size
		} else {
			c.account.Positions[p.Market] -= size
		}
		return
	}
	c.resting[p.Market] = append(c.resting[p.Market], ledger.Order{
		Side:      p.Side,
		PriceLots: p.PriceLots,
		SizeLots:  p.SizeLots,
	})
}

func (c *Client) instrumentByIndex(idx int) *ledger.Instrument {
	for i := range c.instruments {
		if c.instruments[i].MarketIndex == idx {
			return &c.instruments[i]
		}
	}
	return nil
}

func (c *Client) RecentThroughput(context.Context) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tps, nil
}

func encodeIx(p ixPayload) (ledger.Instruction, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return ledger.Instruction{}, err
	}
	return ledger.Instruction{ProgramID: "sim", Data: data}, nil
}
