package store

import (
	"time"

	"github.com/aquanetwork/bribes-engine/internal/assets"
	"github.com/aquanetwork/bribes-engine/internal/ledger"
	"github.com/shopspring/decimal"
)

// BribeStatus mirrors the source Django model's integer status choices
// verbatim, so operational dashboards built against either system agree
// on the numbering.
type BribeStatus int

const (
	BribeStatusPending              BribeStatus = 0
	BribeStatusInvalid              BribeStatus = 1
	BribeStatusActive               BribeStatus = 2
	BribeStatusReturned             BribeStatus = 3
	BribeStatusPendingReturn        BribeStatus = 4
	BribeStatusFailedClaim          BribeStatus = 5
	BribeStatusNoPathForConversion  BribeStatus = 6
	BribeStatusFailedReturn         BribeStatus = 7
	BribeStatusFinished             BribeStatus = 8
)

func (s BribeStatus) String() string {
	switch s {
	case BribeStatusPending:
		return "pending"
	case BribeStatusInvalid:
		return "invalid"
	case BribeStatusActive:
		return "active"
	case BribeStatusReturned:
		return "returned"
	case BribeStatusPendingReturn:
		return "pending_return"
	case BribeStatusFailedClaim:
		return "failed_claim"
	case BribeStatusNoPathForConversion:
		return "no_path_for_conversion"
	case BribeStatusFailedReturn:
		return "failed_return"
	case BribeStatusFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Bribe is one sponsor pledge, as described in §3 of the specification
// this engine implements.
type Bribe struct {
	ID                               int64
	Status                           BribeStatus
	Message                          string
	MarketKey                        string
	Sponsor                          string
	Amount                           decimal.Decimal
	Asset                            assets.Asset
	AmountForBribes                  decimal.Decimal
	AmountReward                     decimal.Decimal
	ConversionTxHash                 string
	RefundTxHash                     string
	ClaimableBalanceID               string
	PagingToken                      string
	UnlockTime                       *time.Time
	StartAt                          *time.Time
	StopAt                           *time.Time
	AquaTotalRewardAmountEquivalent  decimal.Decimal
	IsAMMProtocol                    bool
	CreatedAt                        time.Time
	LoadedAt                         time.Time
	UpdatedAt                        time.Time
}

// AggregatedBribe is the per-(market, asset, epoch) reward pool.
type AggregatedBribe struct {
	ID                               int64
	MarketKey                        string
	Asset                            assets.Asset
	StartAt                          time.Time
	StopAt                           time.Time
	TotalRewardAmount                decimal.Decimal
	AquaTotalRewardAmountEquivalent  decimal.Decimal
	CreatedAt                        time.Time
	UpdatedAt                        time.Time
}

// VoteSnapshot is one voter's recorded weight for a market on a given
// day, possibly split across delegation rows per §4.6.
type VoteSnapshot struct {
	ID            int64
	MarketKey     string
	VotingAccount string
	VotesValue    decimal.Decimal
	SnapshotTime  time.Time
	IsDelegated   bool
	HasDelegation bool
}

// AssetHolderBalanceSnapshot records one account's balance of one asset
// on one day, used to gate payouts of non-native bribe assets.
type AssetHolderBalanceSnapshot struct {
	ID           int64
	Account      string
	Asset        assets.Asset
	Balance      decimal.Decimal
	SnapshotTime time.Time
	CreatedAt    time.Time
}

// ClaimableBalanceSnapshot is the delegation-detection cache entry for
// one claimable balance observed on a given day.
type ClaimableBalanceSnapshot struct {
	ClaimableBalanceID string
	Asset              assets.Asset
	Amount             decimal.Decimal
	Sponsor            string
	Owner              string
	SnapshotTime       time.Time
	CreatedAt          time.Time
	Claimants          []ClaimantSnapshot
}

// ClaimantSnapshot is one claimant on a ClaimableBalanceSnapshot, with
// its predicate preserved in wire form for later re-interpretation.
type ClaimantSnapshot struct {
	Destination string
	Predicate   ledger.Predicate
}

// PayoutStatus is the outcome of one reward payment attempt.
type PayoutStatus string

const (
	PayoutStatusSuccess PayoutStatus = "success"
	PayoutStatusFailed  PayoutStatus = "failed"
)

// Payout is one reward paid (or attempted) to one voter for one
// AggregatedBribe.
type Payout struct {
	ID                   int64
	AggregatedBribeID    int64
	VoteSnapshotID        int64
	Asset                assets.Asset
	RewardAmount         decimal.Decimal
	StellarTransactionID string
	Status               PayoutStatus
	Message              string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
