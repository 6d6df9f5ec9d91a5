package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aquanetwork/bribes-engine/internal/assets"
)

// UpsertAggregatedBribe inserts or, if the (market_key, asset, start_at)
// triple already exists, updates total_reward_amount — giving the
// Aggregator idempotence when a tick is retried within the same epoch.
func (s *Store) UpsertAggregatedBribe(ctx context.Context, a AggregatedBribe) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO aggregated_bribes (market_key, asset_code, asset_issuer, start_at, stop_at, total_reward_amount, aqua_total_reward_amount_equivalent)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (market_key, asset_code, asset_issuer, start_at) DO UPDATE
		SET total_reward_amount = EXCLUDED.total_reward_amount,
		    aqua_total_reward_amount_equivalent = EXCLUDED.aqua_total_reward_amount_equivalent,
		    updated_at = now()
		RETURNING id`,
		a.MarketKey, a.Asset.Code, a.Asset.Issuer, a.StartAt, a.StopAt, a.TotalRewardAmount, a.AquaTotalRewardAmountEquivalent,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("store: upsert aggregated bribe: %w", err)
	}
	return id, nil
}

// AggregatedBribesInEpoch returns every AggregatedBribe row for the
// given epoch, used to drive RewardPayer ticks.
func (s *Store) AggregatedBribesInEpoch(ctx context.Context, startAt, stopAt time.Time) ([]AggregatedBribe, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, market_key, asset_code, asset_issuer, start_at, stop_at, total_reward_amount,
		       aqua_total_reward_amount_equivalent, created_at, updated_at
		FROM aggregated_bribes WHERE start_at = $1 AND stop_at = $2`, startAt, stopAt)
	if err != nil {
		return nil, fmt.Errorf("store: aggregated bribes in epoch: %w", err)
	}
	defer rows.Close()

	var out []AggregatedBribe
	for rows.Next() {
		var a AggregatedBribe
		var code, issuer string
		if err := rows.Scan(&a.ID, &a.MarketKey, &code, &issuer, &a.StartAt, &a.StopAt,
			&a.TotalRewardAmount, &a.AquaTotalRewardAmountEquivalent, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan aggregated bribe: %w", err)
		}
		if issuer == "" {
			a.Asset = assets.Native()
		} else {
			a.Asset = assets.New(code, issuer)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
