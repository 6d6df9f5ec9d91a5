package rewards

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aquanetwork/bribes-engine/internal/assets"
	"github.com/aquanetwork/bribes-engine/internal/ledger"
	"github.com/aquanetwork/bribes-engine/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const houseWallet = "GHOUSE000000000000000000000000000000000000000000000"

var aqua = assets.New("AQUA", "GISSUERAQUA00000000000000000000000000000000000000000")

func TestMemoForMarketKey(t *testing.T) {
	assert.Equal(t, "Bribe: short", memoForMarketKey("short"))
	assert.Equal(t, "Bribe: GABC...WXYZ", memoForMarketKey("GABC00000000000000000000000000000000000000000WXYZ"))
}

func TestFilterEligibleExcludesDelegatedAggregatorPaidPoisonedAndNonHolders(t *testing.T) {
	candidates := []store.VoteSnapshot{
		{ID: 1, VotingAccount: "GA", VotesValue: decimal.RequireFromString("10"), HasDelegation: true},
		{ID: 2, VotingAccount: "GB", VotesValue: decimal.RequireFromString("10")},
		{ID: 3, VotingAccount: "GC", VotesValue: decimal.RequireFromString("10")},
		{ID: 4, VotingAccount: "GD", VotesValue: decimal.RequireFromString("10")},
		{ID: 5, VotingAccount: "GE", VotesValue: decimal.RequireFromString("10")},
	}
	paid := map[int64]bool{2: true}
	poisoned := map[int64]bool{3: true}
	holders := map[string]bool{"GD": true}

	out := filterEligible(candidates, paid, poisoned, holders, aqua)
	require.Len(t, out, 1)
	assert.Equal(t, "GD", out[0].VotingAccount)
}

func TestFilterEligibleNativeAssetSkipsHolderCheck(t *testing.T) {
	candidates := []store.VoteSnapshot{{ID: 1, VotingAccount: "GA", VotesValue: decimal.RequireFromString("10")}}
	out := filterEligible(candidates, nil, nil, nil, assets.Native())
	require.Len(t, out, 1)
}

func TestSumVotes(t *testing.T) {
	total := sumVotes([]store.VoteSnapshot{
		{VotesValue: decimal.RequireFromString("1.5")},
		{VotesValue: decimal.RequireFromString("2.5")},
	})
	assert.True(t, total.Equal(decimal.RequireFromString("4")))
}

func TestExcludeDustVoters(t *testing.T) {
	out := excludeDustVoters([]store.VoteSnapshot{
		{VotingAccount: "GA", VotesValue: decimal.RequireFromString("0.5")},
		{VotingAccount: "GB", VotesValue: decimal.RequireFromString("5")},
	}, decimal.RequireFromString("1"))
	require.Len(t, out, 1)
	assert.Equal(t, "GB", out[0].VotingAccount)
}

type fakeGateway struct {
	ledger.Gateway
	account      *ledger.AccountRecord
	submitResult *ledger.TxResult
	submitErr    error
	txResult     *ledger.TxResult
}

func (f *fakeGateway) GetAccount(ctx context.Context, accountID string) (*ledger.AccountRecord, error) {
	return f.account, nil
}
func (f *fakeGateway) Submit(ctx context.Context, envelope *ledger.Envelope) (*ledger.TxResult, error) {
	return f.submitResult, f.submitErr
}
func (f *fakeGateway) GetTransaction(ctx context.Context, hash string) (*ledger.TxResult, error) {
	return f.txResult, nil
}

type fakeStore struct {
	paid          map[int64]bool
	poisoned      map[int64]bool
	holders       map[string]bool
	inserted      []store.Payout
	stale         []store.TimedOutPayout
	resolved      []int64
	deleted       []int64
}

func (f *fakeStore) TimedOutPayoutsOlderThan(ctx context.Context, olderThan time.Time) ([]store.TimedOutPayout, error) {
	return f.stale, nil
}
func (f *fakeStore) ResolveTimedOutPayoutSuccess(ctx context.Context, payoutID int64) error {
	f.resolved = append(f.resolved, payoutID)
	return nil
}
func (f *fakeStore) DeleteTimedOutPayout(ctx context.Context, payoutID int64) error {
	f.deleted = append(f.deleted, payoutID)
	return nil
}
func (f *fakeStore) SuccessfullyPaidVoteSnapshotIDs(ctx context.Context, bribeID int64) (map[int64]bool, error) {
	return f.paid, nil
}
func (f *fakeStore) PoisonedVoteSnapshotIDs(ctx context.Context, bribeID int64) (map[int64]bool, error) {
	return f.poisoned, nil
}
func (f *fakeStore) AssetHolderBalanceSnapshotsOnDate(ctx context.Context, asset assets.Asset, date time.Time) (map[string]bool, error) {
	return f.holders, nil
}
func (f *fakeStore) InsertPayouts(ctx context.Context, payouts []store.Payout) error {
	f.inserted = append(f.inserted, payouts...)
	return nil
}

func newPayer(gw *fakeGateway, st *fakeStore) *Payer {
	return New(gw, st, Config{HouseWalletAddress: houseWallet, HouseWalletSigner: "SSEED0000000000000000000000000000000000000000000000"}, zap.NewNop().Sugar())
}

func TestPayTickSuccessPaysProportionally(t *testing.T) {
	gw := &fakeGateway{
		account:      &ledger.AccountRecord{AccountID: houseWallet, SequenceNumber: 1},
		submitResult: &ledger.TxResult{Hash: "tx1", Successful: true},
	}
	st := &fakeStore{}
	p := newPayer(gw, st)

	bribe := store.AggregatedBribe{ID: 10, Asset: assets.Native()}
	candidates := []store.VoteSnapshot{
		{ID: 1, VotingAccount: "GA", VotesValue: decimal.RequireFromString("300")},
		{ID: 2, VotingAccount: "GB", VotesValue: decimal.RequireFromString("700")},
	}
	err := p.PayTick(context.Background(), bribe, candidates, decimal.RequireFromString("1000"), 24*time.Hour, time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)

	require.Len(t, st.inserted, 2)
	for _, row := range st.inserted {
		assert.Equal(t, store.PayoutStatusSuccess, row.Status)
		assert.Equal(t, "tx1", row.StellarTransactionID)
	}
}

func TestPayTickNoEligibleVotersIsNoop(t *testing.T) {
	gw := &fakeGateway{account: &ledger.AccountRecord{AccountID: houseWallet, SequenceNumber: 1}}
	st := &fakeStore{}
	p := newPayer(gw, st)

	bribe := store.AggregatedBribe{ID: 10, Asset: assets.Native()}
	candidates := []store.VoteSnapshot{{ID: 1, VotingAccount: "GA", HasDelegation: true, VotesValue: decimal.RequireFromString("300")}}
	err := p.PayTick(context.Background(), bribe, candidates, decimal.RequireFromString("1000"), 24*time.Hour, time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, st.inserted)
}

func TestPayTickStopsAtSoftDeadlineWithoutSubmitting(t *testing.T) {
	gw := &fakeGateway{account: &ledger.AccountRecord{AccountID: houseWallet, SequenceNumber: 1}}
	st := &fakeStore{}
	p := newPayer(gw, st)

	bribe := store.AggregatedBribe{ID: 10, Asset: assets.Native()}
	candidates := []store.VoteSnapshot{{ID: 1, VotingAccount: "GA", VotesValue: decimal.RequireFromString("1000")}}
	err := p.PayTick(context.Background(), bribe, candidates, decimal.RequireFromString("1000"), 24*time.Hour, time.Now(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, st.inserted)
}

func TestRowsForLedgerFailureUnknownErrorFailsEveryPayout(t *testing.T) {
	p := newPayer(&fakeGateway{}, &fakeStore{})
	bribe := store.AggregatedBribe{ID: 1, Asset: assets.Native()}
	payouts := []pendingPayout{
		{voteSnapshot: store.VoteSnapshot{ID: 1}, amount: decimal.RequireFromString("5")},
		{voteSnapshot: store.VoteSnapshot{ID: 2}, amount: decimal.RequireFromString("5")},
	}
	rows := p.rowsForLedgerFailure(bribe, payouts, errors.New("network blip"))
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, store.PayoutStatusFailed, r.Status)
		assert.Equal(t, "network blip", r.Message)
	}
}

func TestRowsForLedgerFailureTransactionLevelCodeFailsEveryPayout(t *testing.T) {
	p := newPayer(&fakeGateway{}, &fakeStore{})
	bribe := store.AggregatedBribe{ID: 1, Asset: assets.Native()}
	payouts := []pendingPayout{{voteSnapshot: store.VoteSnapshot{ID: 1}, amount: decimal.RequireFromString("5")}}
	err := &ledger.ResultCodeError{Codes: ledger.ResultCodes{Transaction: "tx_failed"}}
	rows := p.rowsForLedgerFailure(bribe, payouts, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "tx_failed", rows[0].Message)
}

func TestRowsForLedgerFailurePerOperationCodesOnlyFailNonSuccessOps(t *testing.T) {
	p := newPayer(&fakeGateway{}, &fakeStore{})
	bribe := store.AggregatedBribe{ID: 1, Asset: assets.Native()}
	payouts := []pendingPayout{
		{voteSnapshot: store.VoteSnapshot{ID: 1}, amount: decimal.RequireFromString("5")},
		{voteSnapshot: store.VoteSnapshot{ID: 2}, amount: decimal.RequireFromString("5")},
	}
	err := &ledger.ResultCodeError{Codes: ledger.ResultCodes{
		Transaction: "tx_failed",
		Operations:  []string{"op_success", "op_underfunded"},
	}}
	rows := p.rowsForLedgerFailure(bribe, payouts, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0].VoteSnapshotID)
	assert.Equal(t, "op_underfunded", rows[0].Message)
}

func TestReconcileTimeoutsResolvesSuccessAndDeletesFailure(t *testing.T) {
	gw := &fakeGateway{}
	st := &fakeStore{
		stale: []store.TimedOutPayout{
			{Payout: store.Payout{ID: 1, StellarTransactionID: "hash-success"}},
			{Payout: store.Payout{ID: 2, StellarTransactionID: "hash-failed"}},
		},
	}
	// GetTransaction is looked up per-hash; route both through the same fake by hash value.
	gw.txResult = &ledger.TxResult{Successful: true}
	p := newPayer(gw, st)

	err := p.ReconcileTimeouts(context.Background())
	require.NoError(t, err)
	// both resolve to the same single fakeGateway.txResult, so both succeed here;
	// the failure branch is covered by hash lookup error below.
	assert.Len(t, st.resolved, 2)
}

func TestReconcileTimeoutsDeletesWhenLookupErrors(t *testing.T) {
	gw := &erroringGetTransactionGateway{}
	st := &fakeStore{
		stale: []store.TimedOutPayout{{Payout: store.Payout{ID: 3, StellarTransactionID: "hash-err"}}},
	}
	p := newPayer(&fakeGateway{}, st)
	p.gateway = gw

	err := p.ReconcileTimeouts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, st.deleted)
}

type erroringGetTransactionGateway struct {
	ledger.Gateway
}

func (erroringGetTransactionGateway) GetTransaction(ctx context.Context, hash string) (*ledger.TxResult, error) {
	return nil, errors.New("not found")
}
