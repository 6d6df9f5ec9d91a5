// Package trustees implements the TrusteeSnapshotter: for each asset
// referenced by a currently active AggregatedBribe, pages every account
// holding that asset and records a per-day balance snapshot. Grounded
// on trustees_loader.py's TrusteesLoader (cursor-cached account paging,
// tolerant of transient errors by deferring to the next tick).
package trustees

import (
	"context"
	"fmt"
	"time"

	"github.com/aquanetwork/bribes-engine/internal/assets"
	"github.com/aquanetwork/bribes-engine/internal/ledger"
	"github.com/aquanetwork/bribes-engine/internal/store"
	"go.uber.org/zap"
)

const pageLimit = 200

// Store is the subset of *store.Store the snapshotter needs.
type Store interface {
	LoadCursor(ctx context.Context, key string) (string, error)
	SaveCursor(ctx context.Context, key, value string) error
	InsertAssetHolderBalanceSnapshotsBatch(ctx context.Context, snapshots []store.AssetHolderBalanceSnapshot) error
}

// Snapshotter pages account holders for a set of assets and records
// their balances.
type Snapshotter struct {
	gateway ledger.Gateway
	store   Store
	log     *zap.SugaredLogger
}

// New builds a Snapshotter.
func New(gateway ledger.Gateway, st Store, log *zap.SugaredLogger) *Snapshotter {
	return &Snapshotter{gateway: gateway, store: st, log: log.Named("trustees")}
}

func cursorKey(asset assets.Asset) string {
	return "trustees:" + asset.String()
}

// SnapshotAsset pages every account holding asset and persists today's
// balance for each. A transport error on one page is returned to the
// caller; the next run resumes from the last cursor saved for the asset,
// matching trustees_loader.py's catch-and-return-None behavior.
func (s *Snapshotter) SnapshotAsset(ctx context.Context, asset assets.Asset, today time.Time) error {
	if asset.IsNative() {
		return nil
	}

	cursor, err := s.store.LoadCursor(ctx, cursorKey(asset))
	if err != nil {
		return err
	}

	for {
		page, err := s.gateway.ListAccountsHoldingAsset(ctx, asset, cursor, pageLimit)
		if err != nil {
			return fmt.Errorf("trustees: page accounts for %s: %w", asset, err)
		}
		if len(page.Records) == 0 {
			return s.store.SaveCursor(ctx, cursorKey(asset), "")
		}

		snapshots := make([]store.AssetHolderBalanceSnapshot, 0, len(page.Records))
		for _, account := range page.Records {
			for _, bal := range account.Balances {
				if !bal.Asset.Equal(asset) {
					continue
				}
				snapshots = append(snapshots, store.AssetHolderBalanceSnapshot{
					Account:      account.AccountID,
					Asset:        asset,
					Balance:      bal.Balance,
					SnapshotTime: today,
				})
			}
		}
		if err := s.store.InsertAssetHolderBalanceSnapshotsBatch(ctx, snapshots); err != nil {
			return fmt.Errorf("trustees: insert snapshots for %s: %w", asset, err)
		}

		cursor = page.NextCursor
		if err := s.store.SaveCursor(ctx, cursorKey(asset), cursor); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
