package bribeproc

import (
	"context"
	"errors"
	"testing"

	"github.com/aquanetwork/bribes-engine/internal/assets"
	"github.com/aquanetwork/bribes-engine/internal/ledger"
	"github.com/aquanetwork/bribes-engine/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const houseWallet = "GHOUSE000000000000000000000000000000000000000000000"

var rewardAsset = assets.New("AQUA", "GISSUERAQUA00000000000000000000000000000000000000000")

type fakeGateway struct {
	account          *ledger.AccountRecord
	strictReceive    []ledger.PathQuote
	strictReceiveErr error
	submitResult     *ledger.TxResult
	submitErr        error
	txResult         *ledger.TxResult
}

func (f *fakeGateway) GetAccount(ctx context.Context, accountID string) (*ledger.AccountRecord, error) {
	return f.account, nil
}
func (f *fakeGateway) ListClaimableBalancesForClaimant(ctx context.Context, claimant, cursor string, limit int, ascending bool) (ledger.Page[ledger.ClaimableBalanceRecord], error) {
	return ledger.Page[ledger.ClaimableBalanceRecord]{}, nil
}
func (f *fakeGateway) ListClaimableBalancesForAsset(ctx context.Context, asset assets.Asset, cursor string, limit int) (ledger.Page[ledger.ClaimableBalanceRecord], error) {
	return ledger.Page[ledger.ClaimableBalanceRecord]{}, nil
}
func (f *fakeGateway) ListAccountsHoldingAsset(ctx context.Context, asset assets.Asset, cursor string, limit int) (ledger.Page[ledger.AccountRecord], error) {
	return ledger.Page[ledger.AccountRecord]{}, nil
}
func (f *fakeGateway) StrictReceivePaths(ctx context.Context, source assets.Asset, destination assets.Asset, destinationAmount decimal.Decimal) ([]ledger.PathQuote, error) {
	return f.strictReceive, f.strictReceiveErr
}
func (f *fakeGateway) StrictSendPaths(ctx context.Context, source assets.Asset, sourceAmount decimal.Decimal, destination assets.Asset) ([]ledger.PathQuote, error) {
	return nil, nil
}
func (f *fakeGateway) Submit(ctx context.Context, envelope *ledger.Envelope) (*ledger.TxResult, error) {
	return f.submitResult, f.submitErr
}
func (f *fakeGateway) GetTransaction(ctx context.Context, hash string) (*ledger.TxResult, error) {
	return f.txResult, nil
}

type fakeStore struct {
	updated []store.Bribe
}

func (f *fakeStore) UpdateBribeAfterProcessing(ctx context.Context, b store.Bribe) error {
	f.updated = append(f.updated, b)
	return nil
}

func newProcessor(gw *fakeGateway, st *fakeStore, conversionAmount decimal.Decimal) *Processor {
	return New(gw, st, Config{
		HouseWalletAddress: houseWallet,
		HouseWalletSigner:  "SSIGNERSEED00000000000000000000000000000000000000000",
		RewardAsset:        rewardAsset,
		ConversionAmount:   conversionAmount,
	}, zap.NewNop().Sugar())
}

func TestClaimAndConvertRewardAssetShortcut(t *testing.T) {
	gw := &fakeGateway{
		account:      &ledger.AccountRecord{AccountID: houseWallet, SequenceNumber: 41},
		submitResult: &ledger.TxResult{Hash: "tx1", Successful: true},
	}
	st := &fakeStore{}
	p := newProcessor(gw, st, decimal.RequireFromString("100"))

	b := store.Bribe{
		ID: 1, ClaimableBalanceID: "cb1", Asset: rewardAsset,
		Amount: decimal.RequireFromString("500"),
	}
	err := p.ClaimAndConvert(context.Background(), b)
	require.NoError(t, err)

	require.Len(t, st.updated, 1)
	got := st.updated[0]
	assert.Equal(t, store.BribeStatusActive, got.Status)
	assert.True(t, got.AmountForBribes.Equal(decimal.RequireFromString("400")))
	assert.True(t, got.AmountReward.Equal(decimal.RequireFromString("100")))
}

func TestClaimAndConvertRewardAssetTooSmallFails(t *testing.T) {
	gw := &fakeGateway{account: &ledger.AccountRecord{AccountID: houseWallet, SequenceNumber: 1}}
	st := &fakeStore{}
	p := newProcessor(gw, st, decimal.RequireFromString("100"))

	b := store.Bribe{ID: 2, ClaimableBalanceID: "cb2", Asset: rewardAsset, Amount: decimal.RequireFromString("50")}
	err := p.ClaimAndConvert(context.Background(), b)
	require.NoError(t, err)

	require.Len(t, st.updated, 1)
	assert.Equal(t, store.BribeStatusNoPathForConversion, st.updated[0].Status)
}

func TestClaimAndConvertNoPathForConversion(t *testing.T) {
	gw := &fakeGateway{account: &ledger.AccountRecord{AccountID: houseWallet, SequenceNumber: 1}}
	st := &fakeStore{}
	p := newProcessor(gw, st, decimal.RequireFromString("100"))

	b := store.Bribe{ID: 3, ClaimableBalanceID: "cb3", Asset: assets.Native(), Amount: decimal.RequireFromString("500")}
	err := p.ClaimAndConvert(context.Background(), b)
	require.NoError(t, err)

	require.Len(t, st.updated, 1)
	assert.Equal(t, store.BribeStatusNoPathForConversion, st.updated[0].Status)
}

func TestClaimAndConvertSafeToRetryLeavesStatusUnchanged(t *testing.T) {
	gw := &fakeGateway{
		account:   &ledger.AccountRecord{AccountID: houseWallet, SequenceNumber: 1},
		submitErr: &ledger.ResultCodeError{Codes: ledger.ResultCodes{Transaction: "tx_bad_seq"}},
	}
	st := &fakeStore{}
	p := newProcessor(gw, st, decimal.RequireFromString("100"))

	b := store.Bribe{ID: 4, ClaimableBalanceID: "cb4", Asset: rewardAsset, Amount: decimal.RequireFromString("500")}
	err := p.ClaimAndConvert(context.Background(), b)
	require.NoError(t, err)
	assert.Empty(t, st.updated)
}

func TestClaimAndConvertTerminalFailureRecordsReason(t *testing.T) {
	gw := &fakeGateway{
		account:   &ledger.AccountRecord{AccountID: houseWallet, SequenceNumber: 1},
		submitErr: &ledger.ResultCodeError{Codes: ledger.ResultCodes{Transaction: "tx_failed", Operations: []string{"op_underfunded"}}},
	}
	st := &fakeStore{}
	p := newProcessor(gw, st, decimal.RequireFromString("100"))

	b := store.Bribe{ID: 5, ClaimableBalanceID: "cb5", Asset: rewardAsset, Amount: decimal.RequireFromString("500")}
	err := p.ClaimAndConvert(context.Background(), b)
	require.NoError(t, err)

	require.Len(t, st.updated, 1)
	assert.Equal(t, store.BribeStatusFailedClaim, st.updated[0].Status)
	assert.Equal(t, "op_underfunded", st.updated[0].Message)
}

func TestClaimAndReturn(t *testing.T) {
	gw := &fakeGateway{
		account:      &ledger.AccountRecord{AccountID: houseWallet, SequenceNumber: 1},
		submitResult: &ledger.TxResult{Hash: "refund-tx", Successful: true},
	}
	st := &fakeStore{}
	p := newProcessor(gw, st, decimal.RequireFromString("100"))

	b := store.Bribe{ID: 6, ClaimableBalanceID: "cb6", Sponsor: "GSPONSOR00000000000000000000000000000000000000000000", Asset: assets.Native(), Amount: decimal.RequireFromString("20")}
	err := p.ClaimAndReturn(context.Background(), b)
	require.NoError(t, err)

	require.Len(t, st.updated, 1)
	assert.Equal(t, store.BribeStatusReturned, st.updated[0].Status)
	assert.Equal(t, "refund-tx", st.updated[0].RefundTxHash)
}

func TestHandleSubmitFailureWrapsGenericError(t *testing.T) {
	gw := &fakeGateway{
		account:      &ledger.AccountRecord{AccountID: houseWallet, SequenceNumber: 1},
		submitResult: nil,
		submitErr:    errors.New("boom"),
	}
	st := &fakeStore{}
	p := newProcessor(gw, st, decimal.RequireFromString("100"))

	b := store.Bribe{ID: 7, ClaimableBalanceID: "cb7", Asset: rewardAsset, Amount: decimal.RequireFromString("500")}
	err := p.ClaimAndConvert(context.Background(), b)
	require.NoError(t, err)

	require.Len(t, st.updated, 1)
	assert.Equal(t, store.BribeStatusFailedClaim, st.updated[0].Status)
	assert.Equal(t, "boom", st.updated[0].Message)
}

func TestResolveTimeoutByHash(t *testing.T) {
	want := &ledger.TxResult{Hash: "h1", Successful: true}
	gw := &fakeGateway{txResult: want}
	p := newProcessor(gw, &fakeStore{}, decimal.RequireFromString("100"))

	got, err := p.ResolveTimeoutByHash(context.Background(), "h1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
