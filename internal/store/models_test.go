package store

import (
	"testing"
	"time"

	"github.com/aquanetwork/bribes-engine/internal/assets"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

// The Store methods themselves are thin pgx wrappers with no branching
// beyond SQL, so they are exercised against a live Postgres in the
// deployment's integration suite rather than unit tests here. What
// follows covers the pure helpers: the status stringer and the
// argument builders that translate a Bribe into insert parameters.

func TestBribeStatusString(t *testing.T) {
	cases := map[BribeStatus]string{
		BribeStatusPending:             "pending",
		BribeStatusInvalid:             "invalid",
		BribeStatusActive:              "active",
		BribeStatusReturned:            "returned",
		BribeStatusPendingReturn:       "pending_return",
		BribeStatusFailedClaim:         "failed_claim",
		BribeStatusNoPathForConversion: "no_path_for_conversion",
		BribeStatusFailedReturn:        "failed_return",
		BribeStatusFinished:            "finished",
		BribeStatus(99):                "unknown",
	}
	for status, want := range cases {
		assert.Equal(t, want, status.String())
	}
}

func TestBribeInsertArgsOrderMatchesColumns(t *testing.T) {
	start := time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)
	stop := start.Add(7 * 24 * time.Hour)
	b := Bribe{
		Status:                          BribeStatusPending,
		Message:                         "",
		MarketKey:                       "market-1",
		Sponsor:                         "GSPONSOR",
		Amount:                          decimal.RequireFromString("100"),
		Asset:                           assets.New("AQUA", "GISSUER"),
		AmountForBribes:                 decimal.RequireFromString("0"),
		AmountReward:                    decimal.RequireFromString("0"),
		ClaimableBalanceID:              "cb1",
		PagingToken:                     "tok1",
		StartAt:                         &start,
		StopAt:                          &stop,
		AquaTotalRewardAmountEquivalent: decimal.RequireFromString("0"),
		IsAMMProtocol:                   true,
	}
	args := bribeInsertArgs(b)
	require := func(cond bool, msg string) {
		if !cond {
			t.Fatal(msg)
		}
	}
	require(len(args) == 16, "expected 16 args matching insertBribeColumns placeholders")
	assert.Equal(t, int(BribeStatusPending), args[0])
	assert.Equal(t, "market-1", args[2])
	assert.Equal(t, "GSPONSOR", args[3])
	assert.Equal(t, "AQUA", args[5])
	assert.Equal(t, "GISSUER", args[6])
	assert.Equal(t, "cb1", args[9])
	assert.Equal(t, "tok1", args[10])
	assert.Equal(t, true, args[15])
}

func TestNullableStringEmptyBecomesNil(t *testing.T) {
	assert.Nil(t, nullableString(""))
	assert.Equal(t, "hello", nullableString("hello"))
}
