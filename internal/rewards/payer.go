// Package rewards implements the RewardPayer: batches proportional
// payouts to voters for each AggregatedBribe, handling retries,
// timeouts, and duplicate suppression per §4.7. Grounded on
// reward_payer.py's RewardPayer/BaseRewardPayer (_clean_failed_payouts,
// _exclude_small_votes, _process_page, _get_memo, _get_payout_instance).
package rewards

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aquanetwork/bribes-engine/internal/assets"
	"github.com/aquanetwork/bribes-engine/internal/ledger"
	"github.com/aquanetwork/bribes-engine/internal/moneydec"
	"github.com/aquanetwork/bribes-engine/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	pageSize           = 100
	defaultResolveDelay = 5 * time.Minute
)

// Store is the subset of *store.Store the RewardPayer needs.
type Store interface {
	TimedOutPayoutsOlderThan(ctx context.Context, olderThan time.Time) ([]store.TimedOutPayout, error)
	ResolveTimedOutPayoutSuccess(ctx context.Context, payoutID int64) error
	DeleteTimedOutPayout(ctx context.Context, payoutID int64) error
	SuccessfullyPaidVoteSnapshotIDs(ctx context.Context, bribeID int64) (map[int64]bool, error)
	PoisonedVoteSnapshotIDs(ctx context.Context, bribeID int64) (map[int64]bool, error)
	AssetHolderBalanceSnapshotsOnDate(ctx context.Context, asset assets.Asset, date time.Time) (map[string]bool, error)
	InsertPayouts(ctx context.Context, payouts []store.Payout) error
}

// Config carries the house-wallet identity and timing parameters.
type Config struct {
	HouseWalletAddress string
	HouseWalletSigner  string
	ResolveDelay       time.Duration
}

// Payer pays out an AggregatedBribe's reward pool to its voters.
type Payer struct {
	gateway ledger.Gateway
	store   Store
	cfg     Config
	log     *zap.SugaredLogger
}

// New builds a Payer.
func New(gateway ledger.Gateway, st Store, cfg Config, log *zap.SugaredLogger) *Payer {
	if cfg.ResolveDelay == 0 {
		cfg.ResolveDelay = defaultResolveDelay
	}
	return &Payer{gateway: gateway, store: st, cfg: cfg, log: log.Named("rewards")}
}

// ReconcileTimeouts implements §4.7 step 1: for every timeout-flagged
// Payout older than ResolveDelay, look the hash up and resolve it.
func (p *Payer) ReconcileTimeouts(ctx context.Context) error {
	stale, err := p.store.TimedOutPayoutsOlderThan(ctx, time.Now().Add(-p.cfg.ResolveDelay))
	if err != nil {
		return fmt.Errorf("rewards: load timed out payouts: %w", err)
	}
	for _, payout := range stale {
		result, err := p.gateway.GetTransaction(ctx, payout.StellarTransactionID)
		if err != nil || !result.Successful {
			if delErr := p.store.DeleteTimedOutPayout(ctx, payout.ID); delErr != nil {
				return fmt.Errorf("rewards: delete unresolved timeout payout %d: %w", payout.ID, delErr)
			}
			continue
		}
		if err := p.store.ResolveTimedOutPayoutSuccess(ctx, payout.ID); err != nil {
			return fmt.Errorf("rewards: resolve timeout payout %d: %w", payout.ID, err)
		}
	}
	return nil
}

// PayTick pays bribe's reward pool to candidates for rewardPeriod,
// stopping cleanly once stopAt is reached, per §4.7.
func (p *Payer) PayTick(ctx context.Context, bribe store.AggregatedBribe, candidates []store.VoteSnapshot, dailyAmount decimal.Decimal, rewardPeriod time.Duration, date time.Time, stopAt time.Time) error {
	paid, err := p.store.SuccessfullyPaidVoteSnapshotIDs(ctx, bribe.ID)
	if err != nil {
		return err
	}
	poisoned, err := p.store.PoisonedVoteSnapshotIDs(ctx, bribe.ID)
	if err != nil {
		return err
	}
	var holders map[string]bool
	if !bribe.Asset.IsNative() {
		holders, err = p.store.AssetHolderBalanceSnapshotsOnDate(ctx, bribe.Asset, date)
		if err != nil {
			return err
		}
	}

	eligible := filterEligible(candidates, paid, poisoned, holders, bribe.Asset)
	totalVotes := sumVotes(eligible)
	if totalVotes.IsZero() {
		return nil
	}

	rewardAmount := moneydec.RoundDown(dailyAmount.Mul(decimal.NewFromFloat(rewardPeriod.Hours() / 24)))
	minPayableVotes := moneydec.RoundUp(decimal.New(1, -moneydec.Scale).Mul(totalVotes).Div(rewardAmount))
	payable := excludeDustVoters(eligible, minPayableVotes)

	for start := 0; start < len(payable); start += pageSize {
		if time.Now().After(stopAt) {
			p.log.Infow("stopping pay tick at soft deadline", "aggregated_bribe_id", bribe.ID)
			return nil
		}
		end := start + pageSize
		if end > len(payable) {
			end = len(payable)
		}
		if err := p.payPage(ctx, bribe, payable[start:end], totalVotes, rewardAmount); err != nil {
			return err
		}
	}
	return nil
}

func filterEligible(candidates []store.VoteSnapshot, paid, poisoned map[int64]bool, holders map[string]bool, asset assets.Asset) []store.VoteSnapshot {
	var out []store.VoteSnapshot
	for _, v := range candidates {
		if v.HasDelegation {
			continue
		}
		if paid[v.ID] || poisoned[v.ID] {
			continue
		}
		if !asset.IsNative() && !holders[v.VotingAccount] {
			continue
		}
		out = append(out, v)
	}
	return out
}

func sumVotes(snapshots []store.VoteSnapshot) decimal.Decimal {
	total := moneydec.Zero
	for _, v := range snapshots {
		total = total.Add(v.VotesValue)
	}
	return total
}

func excludeDustVoters(snapshots []store.VoteSnapshot, minPayableVotes decimal.Decimal) []store.VoteSnapshot {
	var out []store.VoteSnapshot
	for _, v := range snapshots {
		if v.VotesValue.LessThan(minPayableVotes) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// pendingPayout pairs a candidate voter with its computed payout
// amount for one submitted transaction, before the outcome is known.
type pendingPayout struct {
	voteSnapshot store.VoteSnapshot
	amount       decimal.Decimal
}

func memoForMarketKey(marketKey string) string {
	if len(marketKey) < 8 {
		return "Bribe: " + marketKey
	}
	return fmt.Sprintf("Bribe: %s...%s", marketKey[:4], marketKey[len(marketKey)-4:])
}

// payPage builds, signs, and submits one payment-batch transaction for
// up to pageSize voters, then persists Payout rows per the outcome
// rules of §4.7.
func (p *Payer) payPage(ctx context.Context, bribe store.AggregatedBribe, page []store.VoteSnapshot, totalVotes, rewardAmount decimal.Decimal) error {
	account, err := p.gateway.GetAccount(ctx, p.cfg.HouseWalletAddress)
	if err != nil {
		return fmt.Errorf("rewards: load house account: %w", err)
	}
	builder := ledger.NewTransactionBuilder(p.cfg.HouseWalletAddress, account.SequenceNumber, p.cfg.HouseWalletSigner)
	builder.WithMemo(memoForMarketKey(bribe.MarketKey))

	payouts := make([]pendingPayout, 0, len(page))
	for _, v := range page {
		amount := moneydec.RoundDown(rewardAmount.Mul(v.VotesValue).Div(totalVotes))
		if amount.IsZero() {
			continue
		}
		builder.Append(ledger.PaymentOp{
			Source:      p.cfg.HouseWalletAddress,
			Destination: v.VotingAccount,
			Asset:       bribe.Asset,
			Amount:      amount,
		})
		payouts = append(payouts, pendingPayout{voteSnapshot: v, amount: amount})
	}
	if len(payouts) == 0 {
		return nil
	}

	result, err := p.gateway.Submit(ctx, builder.Build())
	rows := make([]store.Payout, 0, len(payouts))

	switch {
	case err == nil && result.Successful:
		for _, po := range payouts {
			rows = append(rows, store.Payout{
				AggregatedBribeID: bribe.ID, VoteSnapshotID: po.voteSnapshot.ID, Asset: bribe.Asset,
				RewardAmount: po.amount, StellarTransactionID: result.Hash, Status: store.PayoutStatusSuccess,
			})
		}
	case isTimeoutPending(err):
		hash := ""
		if result != nil {
			hash = result.Hash
		}
		for _, po := range payouts {
			rows = append(rows, store.Payout{
				AggregatedBribeID: bribe.ID, VoteSnapshotID: po.voteSnapshot.ID, Asset: bribe.Asset,
				RewardAmount: po.amount, StellarTransactionID: hash, Status: store.PayoutStatusFailed, Message: "timeout",
			})
		}
	default:
		rows = p.rowsForLedgerFailure(bribe, payouts, err)
	}

	if len(rows) == 0 {
		return nil
	}
	return p.store.InsertPayouts(ctx, rows)
}

func isTimeoutPending(err error) bool {
	var timeout *ledger.TimeoutPendingError
	return errors.As(err, &timeout)
}

// rowsForLedgerFailure implements §4.7's per-outcome rule for ledger
// rejections: per-operation codes persist a failed Payout per operation
// that did not succeed; successful ops inside a failed tx are not
// persisted because they never happened on-ledger. An unknown exception
// persists every row as failed with the exception text.
func (p *Payer) rowsForLedgerFailure(bribe store.AggregatedBribe, payouts []pendingPayout, err error) []store.Payout {
	var rc *ledger.ResultCodeError
	if !errors.As(err, &rc) {
		rows := make([]store.Payout, 0, len(payouts))
		for _, po := range payouts {
			rows = append(rows, store.Payout{
				AggregatedBribeID: bribe.ID, VoteSnapshotID: po.voteSnapshot.ID, Asset: bribe.Asset,
				RewardAmount: po.amount, Status: store.PayoutStatusFailed, Message: err.Error(),
			})
		}
		return rows
	}

	if len(rc.Codes.Operations) == 0 {
		rows := make([]store.Payout, 0, len(payouts))
		for _, po := range payouts {
			rows = append(rows, store.Payout{
				AggregatedBribeID: bribe.ID, VoteSnapshotID: po.voteSnapshot.ID, Asset: bribe.Asset,
				RewardAmount: po.amount, Status: store.PayoutStatusFailed, Message: rc.Codes.Transaction,
			})
		}
		return rows
	}

	var rows []store.Payout
	for i, po := range payouts {
		if i >= len(rc.Codes.Operations) {
			break
		}
		code := rc.Codes.Operations[i]
		if code == "op_success" {
			continue
		}
		rows = append(rows, store.Payout{
			AggregatedBribeID: bribe.ID, VoteSnapshotID: po.voteSnapshot.ID, Asset: bribe.Asset,
			RewardAmount: po.amount, Status: store.PayoutStatusFailed, Message: code,
		})
	}
	return rows
}
