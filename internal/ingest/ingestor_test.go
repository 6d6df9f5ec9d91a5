package ingest

import (
	"context"
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
const sponsor = "GSPONSOR0000000000000000000000000000000000000000000"

type fakeGateway struct {
	ledger.Gateway
	strictSendQuotes []ledger.PathQuote
	pages            []ledger.Page[ledger.ClaimableBalanceRecord]
	pageCalls        int
}

func (f *fakeGateway) StrictSendPaths(ctx context.Context, source assets.Asset, sourceAmount decimal.Decimal, destination assets.Asset) ([]ledger.PathQuote, error) {
	return f.strictSendQuotes, nil
}

func (f *fakeGateway) ListClaimableBalancesForClaimant(ctx context.Context, claimant, cursor string, limit int, ascending bool) (ledger.Page[ledger.ClaimableBalanceRecord], error) {
	if f.pageCalls >= len(f.pages) {
		return ledger.Page[ledger.ClaimableBalanceRecord]{}, nil
	}
	page := f.pages[f.pageCalls]
	f.pageCalls++
	return page, nil
}

type fakeStore struct {
	cursor       string
	bribes       []store.Bribe
	marketKeys   []string
	pagingTokens []string
}

func (f *fakeStore) LoadCursor(ctx context.Context, key string) (string, error) { return f.cursor, nil }
func (f *fakeStore) SaveCursor(ctx context.Context, key, value string) error {
	f.cursor = value
	return nil
}
func (f *fakeStore) LastBribePagingToken(ctx context.Context) (string, error) { return "", nil }
func (f *fakeStore) UpsertMarketKey(ctx context.Context, marketKey string) error {
	f.marketKeys = append(f.marketKeys, marketKey)
	return nil
}
func (f *fakeStore) InsertBribesBatch(ctx context.Context, bribes []store.Bribe) (int, error) {
	f.bribes = append(f.bribes, bribes...)
	return len(bribes), nil
}

func unconditional() ledger.Predicate { return ledger.Predicate{Unconditional: true} }
func rejectAll() ledger.Predicate     { return ledger.Predicate{Not: &ledger.Predicate{Unconditional: true}} }
func notBeforeAbs(t time.Time) ledger.Predicate {
	return ledger.Predicate{Not: &ledger.Predicate{AbsBefore: &t}}
}

func newIngestor(st *fakeStore, gw ledger.Gateway) *Ingestor {
	log := zap.NewNop().Sugar()
	return New(gw, st, houseWallet, assets.New("AQUA", "GISSUERAQUA00000000000000000000000000000000000000000"), 7*24*time.Hour, log)
}

func TestParseValidBribeBecomesPending(t *testing.T) {
	deadline := time.Now().Add(48 * time.Hour)
	rec := ledger.ClaimableBalanceRecord{
		ID:          "cb1",
		Asset:       assets.Native(),
		Amount:      decimal.RequireFromString("1000"),
		Sponsor:     sponsor,
		PagingToken: "tok1",
		Claimants: []ledger.Claimant{
			{Destination: houseWallet, Predicate: notBeforeAbs(deadline)},
			{Destination: "market-key-1", Predicate: rejectAll()},
		},
	}

	i := newIngestor(&fakeStore{}, &fakeGateway{})
	b, ok := i.parse(context.Background(), rec)
	require.True(t, ok)
	assert.Equal(t, store.BribeStatusPending, b.Status)
	assert.Equal(t, "market-key-1", b.MarketKey)
	assert.Equal(t, sponsor, b.Sponsor)
	require.NotNil(t, b.StartAt)
	require.NotNil(t, b.StopAt)
	assert.True(t, b.StopAt.Sub(*b.StartAt) == 7*24*time.Hour)
}

func TestParseWrongClaimantCountIsSkipped(t *testing.T) {
	rec := ledger.ClaimableBalanceRecord{
		ID:     "cb2",
		Amount: decimal.RequireFromString("10"),
		Claimants: []ledger.Claimant{
			{Destination: houseWallet, Predicate: unconditional()},
		},
	}
	i := newIngestor(&fakeStore{}, &fakeGateway{})
	_, ok := i.parse(context.Background(), rec)
	assert.False(t, ok)
}

func TestParseMissingHouseWalletClaimantIsSkipped(t *testing.T) {
	rec := ledger.ClaimableBalanceRecord{
		ID:     "cb3",
		Amount: decimal.RequireFromString("10"),
		Claimants: []ledger.Claimant{
			{Destination: "not-house", Predicate: unconditional()},
			{Destination: "also-not-house", Predicate: rejectAll()},
		},
	}
	i := newIngestor(&fakeStore{}, &fakeGateway{})
	_, ok := i.parse(context.Background(), rec)
	assert.False(t, ok)
}

func TestParseMalformedPredicateIsPendingReturnOrInvalid(t *testing.T) {
	t.Run("bad house predicate with no unlock time becomes invalid", func(t *testing.T) {
		rec := ledger.ClaimableBalanceRecord{
			ID:     "cb4",
			Amount: decimal.RequireFromString("10"),
			Claimants: []ledger.Claimant{
				{Destination: houseWallet, Predicate: unconditional()},
				{Destination: "market-key-2", Predicate: rejectAll()},
			},
		}
		i := newIngestor(&fakeStore{}, &fakeGateway{})
		b, ok := i.parse(context.Background(), rec)
		require.True(t, ok)
		assert.Equal(t, store.BribeStatusInvalid, b.Status)
	})

	t.Run("bad market predicate with valid unlock time becomes pending_return", func(t *testing.T) {
		deadline := time.Now().Add(time.Hour)
		rec := ledger.ClaimableBalanceRecord{
			ID:     "cb5",
			Amount: decimal.RequireFromString("10"),
			Claimants: []ledger.Claimant{
				{Destination: houseWallet, Predicate: notBeforeAbs(deadline)},
				{Destination: "market-key-3", Predicate: unconditional()},
			},
		}
		i := newIngestor(&fakeStore{}, &fakeGateway{})
		b, ok := i.parse(context.Background(), rec)
		require.True(t, ok)
		assert.Equal(t, store.BribeStatusPendingReturn, b.Status)
	})
}

func TestRunPagesUntilEmptyAndPersistsCursor(t *testing.T) {
	deadline := time.Now().Add(48 * time.Hour)
	rec := ledger.ClaimableBalanceRecord{
		ID:          "cb1",
		Asset:       assets.Native(),
		Amount:      decimal.RequireFromString("1000"),
		PagingToken: "tok1",
		Claimants: []ledger.Claimant{
			{Destination: houseWallet, Predicate: notBeforeAbs(deadline)},
			{Destination: "market-key-1", Predicate: rejectAll()},
		},
	}
	gw := &fakeGateway{
		pages: []ledger.Page[ledger.ClaimableBalanceRecord]{
			{Records: []ledger.ClaimableBalanceRecord{rec}, NextCursor: "cursor-1"},
			{Records: nil},
		},
	}
	st := &fakeStore{}
	i := newIngestor(st, gw)

	err := i.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, gw.pageCalls)
	assert.Equal(t, "cursor-1", st.cursor)
	require.Len(t, st.bribes, 1)
	assert.Equal(t, "market-key-1", st.bribes[0].MarketKey)
	assert.Contains(t, st.marketKeys, "market-key-1")
}
