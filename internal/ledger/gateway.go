package ledger

import (
	"context"

	"github.com/aquanetwork/bribes-engine/internal/assets"
	"github.com/shopspring/decimal"
)

// Gateway is the thin interface every component in this engine uses to
// reach the ledger. It never exposes XDR or raw HTTP shapes to callers
// — those are this package's concern (see client.go, meta.go).
type Gateway interface {
	GetAccount(ctx context.Context, accountID string) (*AccountRecord, error)
	ListClaimableBalancesForClaimant(ctx context.Context, claimant, cursor string, limit int, ascending bool) (Page[ClaimableBalanceRecord], error)
	ListClaimableBalancesForAsset(ctx context.Context, asset assets.Asset, cursor string, limit int) (Page[ClaimableBalanceRecord], error)
	ListAccountsHoldingAsset(ctx context.Context, asset assets.Asset, cursor string, limit int) (Page[AccountRecord], error)
	StrictReceivePaths(ctx context.Context, source assets.Asset, destination assets.Asset, destinationAmount decimal.Decimal) ([]PathQuote, error)
	StrictSendPaths(ctx context.Context, source assets.Asset, sourceAmount decimal.Decimal, destination assets.Asset) ([]PathQuote, error)
	Submit(ctx context.Context, envelope *Envelope) (*TxResult, error)
	GetTransaction(ctx context.Context, hash string) (*TxResult, error)
}

// Operation is the closed set of operations this engine ever builds.
// Encoding an Operation into wire XDR is the Gateway implementation's
// job, not this package's callers'.
type Operation interface {
	isOperation()
}

// ChangeTrustOp establishes a trustline for Asset on the envelope's
// source account.
type ChangeTrustOp struct {
	Asset assets.Asset
}

// ClaimClaimableBalanceOp claims a pending balance by id.
type ClaimClaimableBalanceOp struct {
	BalanceID string
}

// PathPaymentStrictReceiveOp spends up to SendMax of SendAsset to
// deliver exactly DestAmount of DestAsset to Destination.
type PathPaymentStrictReceiveOp struct {
	Destination string
	SendAsset   assets.Asset
	SendMax     decimal.Decimal
	DestAsset   assets.Asset
	DestAmount  decimal.Decimal
	Path        []assets.Asset
}

// PaymentOp is a plain payment of Amount of Asset to Destination,
// optionally from a Source other than the envelope's source account.
type PaymentOp struct {
	Source      string
	Destination string
	Asset       assets.Asset
	Amount      decimal.Decimal
}

func (ChangeTrustOp) isOperation()              {}
func (ClaimClaimableBalanceOp) isOperation()    {}
func (PathPaymentStrictReceiveOp) isOperation() {}
func (PaymentOp) isOperation()                  {}

// Envelope is an unsigned (or signed) sequence of operations on a
// single source account, ready for Gateway.Submit. Building and
// signing the underlying XDR transaction is the responsibility of the
// Gateway implementation — this engine only ever deals in the typed
// Operation list.
type Envelope struct {
	SourceAccount  string
	SequenceNumber int64
	Memo           string
	Operations     []Operation
	Signer         string // secret seed; never logged
}

// TransactionBuilder accumulates operations the monotonic way
// bribe_processor.py's TransactionBuilder usage does: claim() appends
// to whatever builder it is given, convert() appends to that same
// builder, and the caller decides when to stop appending and sign.
type TransactionBuilder struct {
	envelope Envelope
}

// NewTransactionBuilder starts a builder for a transaction sourced from
// sourceAccount at the given sequence number and signed by signer. The
// caller is responsible for loading the account's current sequence
// number (via Gateway.GetAccount) before building, the way
// bribe_processor.py's _get_builder loads a fresh source account object
// per transaction.
func NewTransactionBuilder(sourceAccount string, sequenceNumber int64, signer string) *TransactionBuilder {
	return &TransactionBuilder{envelope: Envelope{SourceAccount: sourceAccount, SequenceNumber: sequenceNumber, Signer: signer}}
}

// WithMemo sets the transaction memo (text memo).
func (b *TransactionBuilder) WithMemo(memo string) *TransactionBuilder {
	b.envelope.Memo = memo
	return b
}

// Append adds one operation and returns the builder for chaining.
func (b *TransactionBuilder) Append(op Operation) *TransactionBuilder {
	b.envelope.Operations = append(b.envelope.Operations, op)
	return b
}

// Len reports how many operations have been appended so far.
func (b *TransactionBuilder) Len() int {
	return len(b.envelope.Operations)
}

// LastOp returns the most recently appended operation, or nil if empty.
func (b *TransactionBuilder) LastOp() Operation {
	if len(b.envelope.Operations) == 0 {
		return nil
	}
	return b.envelope.Operations[len(b.envelope.Operations)-1]
}

// Build finalizes the envelope for submission.
func (b *TransactionBuilder) Build() *Envelope {
	return &b.envelope
}
