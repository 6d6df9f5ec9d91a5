// Package aggregator implements the Aggregator: at an epoch boundary,
// groups ACTIVE bribes by (market, asset) into AggregatedBribe rows,
// folding the reward asset's own bribes into any reward-asset proceeds
// from conversions, per §4.4.
package aggregator

import (
	"context"
	"fmt"
	"time"

	"github.com/aquanetwork/bribes-engine/internal/assets"
	"github.com/aquanetwork/bribes-engine/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Store is the subset of *store.Store the Aggregator needs.
type Store interface {
	ActiveBribesInWindow(ctx context.Context, startAt, stopAt time.Time) ([]store.Bribe, error)
	UpsertAggregatedBribe(ctx context.Context, a store.AggregatedBribe) (int64, error)
}

// Aggregator groups active bribes into per-(market,asset) reward pools.
type Aggregator struct {
	store       Store
	rewardAsset assets.Asset
	log         *zap.SugaredLogger
}

// New builds an Aggregator.
func New(st Store, rewardAsset assets.Asset, log *zap.SugaredLogger) *Aggregator {
	return &Aggregator{store: st, rewardAsset: rewardAsset, log: log.Named("aggregator")}
}

type marketAssetKey struct {
	market string
	asset  assets.Asset
}

// Run aggregates the epoch [startAt, stopAt) into AggregatedBribe rows.
// Insertion is idempotent: retrying the same epoch re-upserts the same
// totals rather than double-counting, per §4.4.
func (a *Aggregator) Run(ctx context.Context, startAt, stopAt time.Time) error {
	bribes, err := a.store.ActiveBribesInWindow(ctx, startAt, stopAt)
	if err != nil {
		return fmt.Errorf("aggregator: load active bribes: %w", err)
	}

	nonRewardTotals := make(map[marketAssetKey]decimal.Decimal)
	rewardAssetX := make(map[string]decimal.Decimal)  // per-market Σ amount_for_bribes of bribes pledged in the reward asset only
	rewardAssetY := make(map[string]decimal.Decimal)  // per-market Σ amount_reward over ALL active bribes

	for _, b := range bribes {
		rewardAssetY[b.MarketKey] = rewardAssetY[b.MarketKey].Add(b.AmountReward)

		if b.Asset.Equal(a.rewardAsset) {
			rewardAssetX[b.MarketKey] = rewardAssetX[b.MarketKey].Add(b.AmountForBribes)
			continue
		}
		key := marketAssetKey{market: b.MarketKey, asset: b.Asset}
		nonRewardTotals[key] = nonRewardTotals[key].Add(b.AmountForBribes)
	}

	for key, total := range nonRewardTotals {
		if _, err := a.store.UpsertAggregatedBribe(ctx, store.AggregatedBribe{
			MarketKey:          key.market,
			Asset:              key.asset,
			StartAt:            startAt,
			StopAt:             stopAt,
			TotalRewardAmount:  total,
		}); err != nil {
			return fmt.Errorf("aggregator: upsert %s/%s: %w", key.market, key.asset, err)
		}
	}

	for market, y := range rewardAssetY {
		total := y.Add(rewardAssetX[market])
		if _, err := a.store.UpsertAggregatedBribe(ctx, store.AggregatedBribe{
			MarketKey:         market,
			Asset:             a.rewardAsset,
			StartAt:           startAt,
			StopAt:            stopAt,
			TotalRewardAmount: total,
		}); err != nil {
			return fmt.Errorf("aggregator: upsert reward asset for %s: %w", market, err)
		}
	}
	return nil
}
