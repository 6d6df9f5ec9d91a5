package ledger

import (
	"time"

	"github.com/aquanetwork/bribes-engine/internal/assets"
	"github.com/shopspring/decimal"
)

// Predicate mirrors the JSON shape Horizon uses for a claimant
// predicate tree: exactly one of its fields is set.
type Predicate struct {
	Unconditional  bool
	AbsBefore      *time.Time
	RelBeforeSecs  *int64
	Not            *Predicate
	And            []Predicate
	Or             []Predicate
}

// IsNotUnconditional reports whether p is exactly not(unconditional),
// the shape spec.md §4.2 requires for the market-key claimant.
func (p Predicate) IsNotUnconditional() bool {
	return p.Not != nil && p.Not.Unconditional
}

// NotBeforeAbsoluteTime returns the unlock time encoded by
// not(before_absolute_time(T)) and true, or the zero time and false if
// p does not have that shape.
func (p Predicate) NotBeforeAbsoluteTime() (time.Time, bool) {
	if p.Not == nil || p.Not.AbsBefore == nil {
		return time.Time{}, false
	}
	return *p.Not.AbsBefore, true
}

// Claimant is one claimant entry on a claimable balance.
type Claimant struct {
	Destination string
	Predicate   Predicate
}

// ClaimableBalanceRecord is a decoded claimable-balance page entry.
type ClaimableBalanceRecord struct {
	ID                 string
	Asset              assets.Asset
	Amount             decimal.Decimal
	Sponsor            string
	PagingToken        string
	LastModifiedTime   *time.Time
	LastModifiedLedger uint32
	Claimants          []Claimant
}

// Balance is one line of an account's balances array.
type Balance struct {
	Asset   assets.Asset
	Balance decimal.Decimal
}

// AccountRecord is a decoded account-details response.
type AccountRecord struct {
	AccountID      string
	SequenceNumber int64
	Balances       []Balance
}

// PathHop is one asset in a strict-send/strict-receive quoted path.
type PathHop = assets.Asset

// PathQuote is one candidate conversion path with its counter-amount.
type PathQuote struct {
	SourceAmount      decimal.Decimal
	DestinationAmount decimal.Decimal
	Path              []PathHop
}

// TxResult is the outcome of a transaction submission or lookup.
type TxResult struct {
	Hash          string
	Successful    bool
	ResultMetaXDR string
	Codes         ResultCodes
}

// Page is a generic forward-paged result set keyed by a paging token
// cursor, mirroring Horizon's `_embedded.records` + next-cursor shape.
type Page[T any] struct {
	Records    []T
	NextCursor string
}
