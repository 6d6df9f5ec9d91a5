package claims

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

var aqua = assets.New("AQUA", "GISSUERAQUA00000000000000000000000000000000000000000")

func unconditional() ledger.Predicate { return ledger.Predicate{Unconditional: true} }
func rejectAll() ledger.Predicate     { return ledger.Predicate{Not: &ledger.Predicate{Unconditional: true}} }

func TestDetectOwnerPrefersClaimantThatCanActuallyClaim(t *testing.T) {
	owner := detectOwner([]ledger.Claimant{
		{Destination: "GDELEGATE", Predicate: rejectAll()},
		{Destination: "GOWNER", Predicate: unconditional()},
	})
	assert.Equal(t, "GOWNER", owner)
}

func TestDetectOwnerFallsBackToFirstClaimantWhenAllRejectAll(t *testing.T) {
	owner := detectOwner([]ledger.Claimant{
		{Destination: "GFIRST", Predicate: rejectAll()},
		{Destination: "GSECOND", Predicate: rejectAll()},
	})
	assert.Equal(t, "GFIRST", owner)
}

func TestDetectOwnerEmptyClaimants(t *testing.T) {
	assert.Equal(t, "", detectOwner(nil))
}

type fakeGateway struct {
	ledger.Gateway
	pages     []ledger.Page[ledger.ClaimableBalanceRecord]
	pageCalls int
}

func (f *fakeGateway) ListClaimableBalancesForAsset(ctx context.Context, asset assets.Asset, cursor string, limit int) (ledger.Page[ledger.ClaimableBalanceRecord], error) {
	if f.pageCalls >= len(f.pages) {
		return ledger.Page[ledger.ClaimableBalanceRecord]{}, nil
	}
	p := f.pages[f.pageCalls]
	f.pageCalls++
	return p, nil
}

type fakeStore struct {
	upserted []store.ClaimableBalanceSnapshot
}

func (f *fakeStore) UpsertClaimableBalanceSnapshot(ctx context.Context, cb store.ClaimableBalanceSnapshot) error {
	f.upserted = append(f.upserted, cb)
	return nil
}

func TestSnapshotAssetPersistsOwnerAndClaimants(t *testing.T) {
	today := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	gw := &fakeGateway{
		pages: []ledger.Page[ledger.ClaimableBalanceRecord]{
			{
				Records: []ledger.ClaimableBalanceRecord{
					{
						ID:      "cb1",
						Asset:   aqua,
						Amount:  decimal.RequireFromString("1000"),
						Sponsor: "GSPONSOR",
						Claimants: []ledger.Claimant{
							{Destination: "GDELEGATE", Predicate: rejectAll()},
							{Destination: "GOWNER", Predicate: unconditional()},
						},
					},
				},
				NextCursor: "cursor-a",
			},
			{Records: nil},
		},
	}
	st := &fakeStore{}
	s := New(gw, st, zap.NewNop().Sugar())

	err := s.SnapshotAsset(context.Background(), aqua, today)
	require.NoError(t, err)

	assert.Equal(t, 2, gw.pageCalls)
	require.Len(t, st.upserted, 1)
	snap := st.upserted[0]
	assert.Equal(t, "cb1", snap.ClaimableBalanceID)
	assert.Equal(t, "GOWNER", snap.Owner)
	require.Len(t, snap.Claimants, 2)
	assert.Equal(t, "GDELEGATE", snap.Claimants[0].Destination)
}
