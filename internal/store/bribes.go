package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aquanetwork/bribes-engine/internal/assets"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// UpsertMarketKey inserts market_key if it has not been seen before,
// the way the source system treats MarketKey as upserted-on-sighting,
// never deleted.
func (s *Store) UpsertMarketKey(ctx context.Context, marketKey string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO market_keys (market_key) VALUES ($1)
		ON CONFLICT (market_key) DO NOTHING`, marketKey)
	if err != nil {
		return fmt.Errorf("store: upsert market key: %w", err)
	}
	return nil
}

// InsertBribesBatch bulk-inserts bribes, batch=5000 per §4.2's write
// path. Rows whose claimable_balance_id already exists are retried one
// at a time so a single conflicting row never blocks the rest of the
// batch from making forward progress.
func (s *Store) InsertBribesBatch(ctx context.Context, bribes []Bribe) (inserted int, err error) {
	const batchSize = 5000
	for start := 0; start < len(bribes); start += batchSize {
		end := start + batchSize
		if end > len(bribes) {
			end = len(bribes)
		}
		n, err := s.insertBribeChunk(ctx, bribes[start:end])
		inserted += n
		if err != nil {
			return inserted, err
		}
	}
	return inserted, nil
}

func (s *Store) insertBribeChunk(ctx context.Context, chunk []Bribe) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, b := range chunk {
		batch.Queue(insertBribeSQLPlain, bribeInsertArgs(b)...)
	}
	results := tx.SendBatch(ctx, batch)
	inserted := 0
	var firstErr error
	for range chunk {
		if _, err := results.Exec(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		inserted++
	}
	if err := results.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	if firstErr != nil {
		// A conflicting claimable_balance_id anywhere in the batch aborts
		// the whole SendBatch transaction; fall back to per-row inserts
		// so non-conflicting rows still land.
		_ = tx.Rollback(ctx)
		return s.insertBribesOneByOne(ctx, chunk)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("store: commit bribe batch: %w", err)
	}
	return inserted, nil
}

// insertBribesOneByOne is the per-row fallback for §4.2's "on unique
// conflict, fall back to per-row save swallowing conflicts": every row
// uses ON CONFLICT DO NOTHING so a single duplicate never blocks the
// rest of the chunk from landing.
func (s *Store) insertBribesOneByOne(ctx context.Context, chunk []Bribe) (int, error) {
	inserted := 0
	for _, b := range chunk {
		tag, err := s.pool.Exec(ctx, insertBribeSQLSafe, bribeInsertArgs(b)...)
		if err != nil {
			s.log.Warnw("skipping bribe on insert error", "claimable_balance_id", b.ClaimableBalanceID, "error", err)
			continue
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

const insertBribeColumns = `
		status, message, market_key, sponsor, amount, asset_code, asset_issuer,
		amount_for_bribes, amount_reward, claimable_balance_id, paging_token,
		unlock_time, start_at, stop_at, aqua_total_reward_amount_equivalent, is_amm_protocol
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`

const insertBribeSQLPlain = `INSERT INTO bribes (` + insertBribeColumns

const insertBribeSQLSafe = `INSERT INTO bribes (` + insertBribeColumns + `
	ON CONFLICT (claimable_balance_id) DO NOTHING`

func bribeInsertArgs(b Bribe) []any {
	return []any{
		int(b.Status), b.Message, b.MarketKey, b.Sponsor, b.Amount, b.Asset.Code, b.Asset.Issuer,
		b.AmountForBribes, b.AmountReward, b.ClaimableBalanceID, b.PagingToken,
		b.UnlockTime, b.StartAt, b.StopAt, b.AquaTotalRewardAmountEquivalent, b.IsAMMProtocol,
	}
}

// LastBribePagingToken returns the paging_token of the most recently
// loaded Bribe, used to reconstruct the ingest cursor when the cached
// cursor is missing, per §4.2.
func (s *Store) LastBribePagingToken(ctx context.Context) (string, error) {
	var token string
	err := s.pool.QueryRow(ctx, `SELECT paging_token FROM bribes ORDER BY loaded_at DESC LIMIT 1`).Scan(&token)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: last paging token: %w", err)
	}
	return token, nil
}

// BribesByStatus returns bribes in the given status, oldest first.
func (s *Store) BribesByStatus(ctx context.Context, status BribeStatus, limit int) ([]Bribe, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, status, message, market_key, sponsor, amount, asset_code, asset_issuer,
		       amount_for_bribes, amount_reward, conversion_tx_hash, refund_tx_hash,
		       claimable_balance_id, paging_token, unlock_time, start_at, stop_at,
		       aqua_total_reward_amount_equivalent, is_amm_protocol, created_at, loaded_at, updated_at
		FROM bribes WHERE status = $1 ORDER BY created_at ASC LIMIT $2`, int(status), limit)
	if err != nil {
		return nil, fmt.Errorf("store: bribes by status: %w", err)
	}
	defer rows.Close()
	return scanBribes(rows)
}

// BribesPendingReturnReady returns PENDING_RETURN bribes whose
// unlock_time has passed, for the Sunday 09:00 return job.
func (s *Store) BribesPendingReturnReady(ctx context.Context) ([]Bribe, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, status, message, market_key, sponsor, amount, asset_code, asset_issuer,
		       amount_for_bribes, amount_reward, conversion_tx_hash, refund_tx_hash,
		       claimable_balance_id, paging_token, unlock_time, start_at, stop_at,
		       aqua_total_reward_amount_equivalent, is_amm_protocol, created_at, loaded_at, updated_at
		FROM bribes WHERE status IN ($1, $2) AND unlock_time IS NOT NULL AND unlock_time <= now()
		ORDER BY created_at ASC`, int(BribeStatusPendingReturn), int(BribeStatusNoPathForConversion))
	if err != nil {
		return nil, fmt.Errorf("store: pending-return bribes: %w", err)
	}
	defer rows.Close()
	return scanBribes(rows)
}

// BribesReadyToClaim returns PENDING bribes whose unlock_time has
// passed, for the Sunday 19:00 claim+convert job.
func (s *Store) BribesReadyToClaim(ctx context.Context) ([]Bribe, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, status, message, market_key, sponsor, amount, asset_code, asset_issuer,
		       amount_for_bribes, amount_reward, conversion_tx_hash, refund_tx_hash,
		       claimable_balance_id, paging_token, unlock_time, start_at, stop_at,
		       aqua_total_reward_amount_equivalent, is_amm_protocol, created_at, loaded_at, updated_at
		FROM bribes WHERE status = $1 AND unlock_time IS NOT NULL AND unlock_time <= now()
		ORDER BY created_at ASC`, int(BribeStatusPending))
	if err != nil {
		return nil, fmt.Errorf("store: ready-to-claim bribes: %w", err)
	}
	defer rows.Close()
	return scanBribes(rows)
}

// ActiveBribesPastStopAt returns ACTIVE bribes whose epoch has ended,
// for the Monday 00:00 finish job.
func (s *Store) ActiveBribesPastStopAt(ctx context.Context) ([]Bribe, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, status, message, market_key, sponsor, amount, asset_code, asset_issuer,
		       amount_for_bribes, amount_reward, conversion_tx_hash, refund_tx_hash,
		       claimable_balance_id, paging_token, unlock_time, start_at, stop_at,
		       aqua_total_reward_amount_equivalent, is_amm_protocol, created_at, loaded_at, updated_at
		FROM bribes WHERE status = $1 AND stop_at IS NOT NULL AND stop_at <= now()`, int(BribeStatusActive))
	if err != nil {
		return nil, fmt.Errorf("store: active past stop_at: %w", err)
	}
	defer rows.Close()
	return scanBribes(rows)
}

// ActiveBribesInWindow returns ACTIVE bribes within [startAt, stopAt),
// for the Aggregator.
func (s *Store) ActiveBribesInWindow(ctx context.Context, startAt, stopAt time.Time) ([]Bribe, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, status, message, market_key, sponsor, amount, asset_code, asset_issuer,
		       amount_for_bribes, amount_reward, conversion_tx_hash, refund_tx_hash,
		       claimable_balance_id, paging_token, unlock_time, start_at, stop_at,
		       aqua_total_reward_amount_equivalent, is_amm_protocol, created_at, loaded_at, updated_at
		FROM bribes WHERE status = $1 AND start_at = $2 AND stop_at = $3`,
		int(BribeStatusActive), startAt, stopAt)
	if err != nil {
		return nil, fmt.Errorf("store: active bribes in window: %w", err)
	}
	defer rows.Close()
	return scanBribes(rows)
}

func scanBribes(rows pgx.Rows) ([]Bribe, error) {
	var out []Bribe
	for rows.Next() {
		var b Bribe
		var status int
		var code, issuer string
		var convTx, refundTx *string
		if err := rows.Scan(
			&b.ID, &status, &b.Message, &b.MarketKey, &b.Sponsor, &b.Amount, &code, &issuer,
			&b.AmountForBribes, &b.AmountReward, &convTx, &refundTx,
			&b.ClaimableBalanceID, &b.PagingToken, &b.UnlockTime, &b.StartAt, &b.StopAt,
			&b.AquaTotalRewardAmountEquivalent, &b.IsAMMProtocol, &b.CreatedAt, &b.LoadedAt, &b.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan bribe: %w", err)
		}
		b.Status = BribeStatus(status)
		if issuer == "" {
			b.Asset = assets.Native()
		} else {
			b.Asset = assets.New(code, issuer)
		}
		if convTx != nil {
			b.ConversionTxHash = *convTx
		}
		if refundTx != nil {
			b.RefundTxHash = *refundTx
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// UpdateBribeAfterProcessing persists the outcome of a claim/convert/
// return attempt: new status, diagnostic message, conversion/refund tx
// hashes, and the computed amount_for_bribes/amount_reward split.
func (s *Store) UpdateBribeAfterProcessing(ctx context.Context, b Bribe) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE bribes SET
			status = $1, message = $2, amount_for_bribes = $3, amount_reward = $4,
			conversion_tx_hash = $5, refund_tx_hash = $6, updated_at = now()
		WHERE id = $7`,
		int(b.Status), b.Message, b.AmountForBribes, b.AmountReward,
		nullableString(b.ConversionTxHash), nullableString(b.RefundTxHash), b.ID)
	if err != nil {
		return fmt.Errorf("store: update bribe %d: %w", b.ID, err)
	}
	return nil
}

// UpdateBribeRewardEquivalent refreshes aqua_total_reward_amount_equivalent,
// used by the periodic refresh jobs.
func (s *Store) UpdateBribeRewardEquivalent(ctx context.Context, bribeID int64, equivalent decimal.Decimal) error {
	_, err := s.pool.Exec(ctx, `UPDATE bribes SET aqua_total_reward_amount_equivalent = $1, updated_at = now() WHERE id = $2`, equivalent, bribeID)
	if err != nil {
		return fmt.Errorf("store: update reward equivalent for bribe %d: %w", bribeID, err)
	}
	return nil
}

// RollPendingBribePeriodsForward shifts start_at/stop_at forward by
// duration for every still-PENDING bribe whose window has already
// elapsed, per the Monday 00:00 scheduler job. unlock_time is left
// untouched, per the open-question decision recorded in DESIGN.md.
func (s *Store) RollPendingBribePeriodsForward(ctx context.Context, duration string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bribes SET start_at = start_at + $1::interval, stop_at = stop_at + $1::interval, updated_at = now()
		WHERE status = $2 AND stop_at IS NOT NULL AND stop_at <= now()`, duration, int(BribeStatusPending))
	if err != nil {
		return 0, fmt.Errorf("store: roll pending periods: %w", err)
	}
	return tag.RowsAffected(), nil
}

// FinishActiveBribesPastStopAt moves ACTIVE bribes whose epoch has
// ended to FINISHED.
func (s *Store) FinishActiveBribesPastStopAt(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bribes SET status = $1, updated_at = now()
		WHERE status = $2 AND stop_at IS NOT NULL AND stop_at <= now()`,
		int(BribeStatusFinished), int(BribeStatusActive))
	if err != nil {
		return 0, fmt.Errorf("store: finish active bribes: %w", err)
	}
	return tag.RowsAffected(), nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
