package ledger

import "context"

// Client is the contract the engine needs from the ledger SDK. All
// blocking calls take a context; instruction builders are pure.
type Client interface {
	// Signer returns the public key of the transaction signer.
	Signer() string

	// Instruments lists the perp markets the ledger currently knows.
	Instruments(ctx context.Context) ([]Instrument, error)

	// ReloadLedgerState refreshes the client's cached market state.
	ReloadLedgerState(ctx context.Context) error

	// ReloadAccount fetches a fresh account snapshot.
	ReloadAccount(ctx context.Context) (Account, error)

	// LoadBook reads both sides of an instrument's book in one snapshot.
	LoadBook(ctx context.Context, inst Instrument) (Book, error)

	// OpenOrders lists the account's resting orders on an instrument.
	OpenOrders(ctx context.Context, inst Instrument) ([]Order, error)

	// CancelAllIx builds a cancel-all instruction, limit caps how many
	// orders one instruction may cancel.
	CancelAllIx(inst Instrument, limit int) (Instruction, error)

	// PlaceOrderIx builds a place-order instruction. expiry is a unix
	// timestamp in seconds, zero for no expiry.
	PlaceOrderIx(inst Instrument, side Side, priceLots, sizeLots int64,
		typ OrderType, reduceOnly bool, clientOrderID uint64, expiry int64) (Instruction, error)

	// InitSequenceIx builds the one-time guard account creation instruction.
	InitSequenceIx(guard SequenceGuard) (Instruction, error)

	// SequenceCheckIx builds the guard check carrying marker.
	SequenceCheckIx(guard SequenceGuard, marker uint64) (Instruction, error)

	// Submit signs and sends a transaction, returning its signature.
	Submit(ctx context.Context, ixs []Instruction) (string, error)

	// RecentThroughput reports the ledger's recent transactions per second,
	// averaged over the last few performance samples.
	RecentThroughput(ctx context.Context) (float64, error)
}
