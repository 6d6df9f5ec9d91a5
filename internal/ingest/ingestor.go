// Package ingest implements the BribeIngestor: paging claimable
// balances addressed to the house wallet, validating their claimant
// structure, and persisting Bribe rows with a computed epoch window.
// Grounded on loader.py's BribesLoader (_get_page/_parse_bribe_predicate/
// parse/save_all_items/load_bribes) and restated in the teacher's
// context-cancelable polling idiom (scanner.BlockScanner/mempool.Poller).
package ingest

import (
	"context"
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
	pageLimit       = 200
	cursorKeyPrefix = "ingest:claimable_balances:"
)

// Store is the subset of *store.Store the Ingestor needs, narrowed so
// tests can supply an in-memory double.
type Store interface {
	LoadCursor(ctx context.Context, key string) (string, error)
	SaveCursor(ctx context.Context, key, value string) error
	LastBribePagingToken(ctx context.Context) (string, error)
	UpsertMarketKey(ctx context.Context, marketKey string) error
	InsertBribesBatch(ctx context.Context, bribes []store.Bribe) (int, error)
}

// Ingestor pages claimable balances for the house wallet and turns
// valid-shaped ones into pending Bribe rows.
type Ingestor struct {
	gateway       ledger.Gateway
	store         Store
	houseWallet   string
	rewardAsset   assets.Asset
	epochDuration time.Duration
	log           *zap.SugaredLogger
}

// New builds an Ingestor.
func New(gateway ledger.Gateway, st Store, houseWallet string, rewardAsset assets.Asset, epochDuration time.Duration, log *zap.SugaredLogger) *Ingestor {
	return &Ingestor{
		gateway:       gateway,
		store:         st,
		houseWallet:   houseWallet,
		rewardAsset:   rewardAsset,
		epochDuration: epochDuration,
		log:           log.Named("ingest"),
	}
}

func (i *Ingestor) cursorKey() string {
	return cursorKeyPrefix + i.houseWallet
}

// Run pages claimable balances from the cached cursor (or the most
// recent stored Bribe's paging_token if no cursor is cached) until a
// page comes back empty, mirroring load_bribes()'s loop.
func (i *Ingestor) Run(ctx context.Context) error {
	cursor, err := i.store.LoadCursor(ctx, i.cursorKey())
	if err != nil {
		return err
	}
	if cursor == "" {
		cursor, err = i.store.LastBribePagingToken(ctx)
		if err != nil {
			return err
		}
	}

	for {
		page, err := i.gateway.ListClaimableBalancesForClaimant(ctx, i.houseWallet, cursor, pageLimit, true)
		if err != nil {
			return fmt.Errorf("ingest: page claimable balances: %w", err)
		}
		if len(page.Records) == 0 {
			return nil
		}

		bribes := make([]store.Bribe, 0, len(page.Records))
		for _, rec := range page.Records {
			b, ok := i.parse(ctx, rec)
			if !ok {
				continue
			}
			if err := i.store.UpsertMarketKey(ctx, b.MarketKey); err != nil {
				return err
			}
			bribes = append(bribes, b)
		}

		if _, err := i.store.InsertBribesBatch(ctx, bribes); err != nil {
			return fmt.Errorf("ingest: insert bribes: %w", err)
		}

		cursor = page.NextCursor
		if err := i.store.SaveCursor(ctx, i.cursorKey(), cursor); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// parse applies §4.2's claimant-shape and predicate rules to one
// record, returning a pending (or pending-return/invalid) Bribe.
func (i *Ingestor) parse(ctx context.Context, rec ledger.ClaimableBalanceRecord) (store.Bribe, bool) {
	if len(rec.Claimants) != 2 {
		i.log.Warnw("skipping claimable balance with wrong claimant count", "id", rec.ID, "claimants", len(rec.Claimants))
		return store.Bribe{}, false
	}

	houseClaimant, marketClaimant, ok := sortClaimants(rec.Claimants, i.houseWallet)
	if !ok {
		i.log.Warnw("skipping claimable balance without a house-wallet claimant", "id", rec.ID)
		return store.Bribe{}, false
	}

	var diagnostics []string
	var unlockTime *time.Time
	if t, ok := houseClaimant.Predicate.NotBeforeAbsoluteTime(); ok {
		unlockTime = &t
	} else {
		diagnostics = append(diagnostics, "house claimant predicate is not not(before_absolute_time)")
	}

	if !marketClaimant.Predicate.IsNotUnconditional() {
		diagnostics = append(diagnostics, "market claimant predicate is not not(unconditional)")
	}

	status := store.BribeStatusPending
	switch {
	case len(diagnostics) > 0 && unlockTime != nil:
		status = store.BribeStatusPendingReturn
	case len(diagnostics) > 0:
		status = store.BribeStatusInvalid
	}

	var startAt, stopAt *time.Time
	if unlockTime != nil {
		s, e := moneydec.EpochWindow(*unlockTime, i.epochDuration)
		startAt, stopAt = &s, &e
	}

	equivalent := i.rewardEquivalent(ctx, rec.Asset, rec.Amount)

	return store.Bribe{
		Status:                          status,
		Message:                         joinDiagnostics(diagnostics),
		MarketKey:                       marketClaimant.Destination,
		Sponsor:                         rec.Sponsor,
		Amount:                          rec.Amount,
		Asset:                           rec.Asset,
		ClaimableBalanceID:              rec.ID,
		PagingToken:                     rec.PagingToken,
		UnlockTime:                      unlockTime,
		StartAt:                         startAt,
		StopAt:                          stopAt,
		AquaTotalRewardAmountEquivalent: equivalent,
		CreatedAt:                       time.Now().UTC(),
		LoadedAt:                        time.Now().UTC(),
	}, true
}

// sortClaimants finds the house-wallet claimant and returns it first,
// mirroring _get_page's claimant sort so the other entry is always the
// market-key claimant.
func sortClaimants(claimants []ledger.Claimant, houseWallet string) (house, market ledger.Claimant, ok bool) {
	if claimants[0].Destination == houseWallet {
		return claimants[0], claimants[1], true
	}
	if claimants[1].Destination == houseWallet {
		return claimants[1], claimants[0], true
	}
	return ledger.Claimant{}, ledger.Claimant{}, false
}

func joinDiagnostics(diagnostics []string) string {
	out := ""
	for i, d := range diagnostics {
		if i > 0 {
			out += "; "
		}
		out += d
	}
	return out
}

// rewardEquivalent calls strict_send_paths to populate
// aqua_total_reward_amount_equivalent, returning zero if no path exists.
func (i *Ingestor) rewardEquivalent(ctx context.Context, asset assets.Asset, amount decimal.Decimal) decimal.Decimal {
	quotes, err := i.gateway.StrictSendPaths(ctx, asset, amount, i.rewardAsset)
	if err != nil || len(quotes) == 0 {
		return moneydec.Zero
	}
	return moneydec.RoundDown(quotes[0].DestinationAmount)
}
