// Package claims implements the ClaimSnapshotter: fetches daily claim
// snapshots for the configured delegatable/delegated assets and caches
// them (with owner detection) for the VotesLoader's delegation
// expansion. Grounded on claim_loader.py's ClaimLoader
// (_build_predicate/_process_claim owner detection).
package claims

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
	UpsertClaimableBalanceSnapshot(ctx context.Context, cb store.ClaimableBalanceSnapshot) error
}

// Snapshotter pages claimable balances for a set of assets and caches
// them for same-day delegation lookups.
type Snapshotter struct {
	gateway ledger.Gateway
	store   Store
	log     *zap.SugaredLogger
}

// New builds a Snapshotter.
func New(gateway ledger.Gateway, st Store, log *zap.SugaredLogger) *Snapshotter {
	return &Snapshotter{gateway: gateway, store: st, log: log.Named("claims")}
}

// SnapshotAsset pages every claimable balance of asset and persists a
// ClaimableBalanceSnapshot (with claimants and detected owner) for today.
func (s *Snapshotter) SnapshotAsset(ctx context.Context, asset assets.Asset, today time.Time) error {
	cursor := ""
	for {
		page, err := s.gateway.ListClaimableBalancesForAsset(ctx, asset, cursor, pageLimit)
		if err != nil {
			return fmt.Errorf("claims: page claimable balances for %s: %w", asset, err)
		}
		if len(page.Records) == 0 {
			return nil
		}

		for _, rec := range page.Records {
			snapshot := store.ClaimableBalanceSnapshot{
				ClaimableBalanceID: rec.ID,
				Asset:              rec.Asset,
				Amount:             rec.Amount,
				Sponsor:            rec.Sponsor,
				Owner:              detectOwner(rec.Claimants),
				SnapshotTime:       today,
			}
			for _, c := range rec.Claimants {
				snapshot.Claimants = append(snapshot.Claimants, store.ClaimantSnapshot{
					Destination: c.Destination,
					Predicate:   c.Predicate,
				})
			}
			if err := s.store.UpsertClaimableBalanceSnapshot(ctx, snapshot); err != nil {
				return fmt.Errorf("claims: upsert %s: %w", rec.ID, err)
			}
		}

		cursor = page.NextCursor
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// detectOwner returns the first claimant whose predicate is not the
// reject-all marker (not(unconditional) evaluated false, i.e. the
// claimant can never actually claim) — claim_loader.py's _process_claim
// owner rule.
func detectOwner(claimants []ledger.Claimant) string {
	for _, c := range claimants {
		if !c.Predicate.IsNotUnconditional() {
			return c.Destination
		}
	}
	if len(claimants) > 0 {
		return claimants[0].Destination
	}
	return ""
}
