package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aquanetwork/bribes-engine/internal/assets"
	"github.com/jackc/pgx/v5"
)

// InsertVoteSnapshotsBatch bulk-inserts VoteSnapshot rows, falling back
// to per-row inserts (swallowing unique-constraint conflicts) on error,
// mirroring §4.6's write path.
func (s *Store) InsertVoteSnapshotsBatch(ctx context.Context, snapshots []VoteSnapshot) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, v := range snapshots {
		batch.Queue(insertVoteSnapshotPlain, v.MarketKey, v.VotingAccount, v.VotesValue, v.SnapshotTime, v.IsDelegated, v.HasDelegation)
	}
	results := tx.SendBatch(ctx, batch)
	inserted := 0
	var firstErr error
	for range snapshots {
		if _, err := results.Exec(); err != nil {
			firstErr = err
			continue
		}
		inserted++
	}
	if err := results.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		_ = tx.Rollback(ctx)
		return s.insertVoteSnapshotsOneByOne(ctx, snapshots)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("store: commit vote snapshots: %w", err)
	}
	return inserted, nil
}

func (s *Store) insertVoteSnapshotsOneByOne(ctx context.Context, snapshots []VoteSnapshot) (int, error) {
	inserted := 0
	for _, v := range snapshots {
		tag, err := s.pool.Exec(ctx, insertVoteSnapshotSafe, v.MarketKey, v.VotingAccount, v.VotesValue, v.SnapshotTime, v.IsDelegated, v.HasDelegation)
		if err != nil {
			s.log.Warnw("skipping vote snapshot on insert error", "market_key", v.MarketKey, "voter", v.VotingAccount, "error", err)
			continue
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

const voteSnapshotColumns = `market_key, voting_account, votes_value, snapshot_time, is_delegated, has_delegation)
	VALUES ($1,$2,$3,$4,$5,$6)`

const insertVoteSnapshotPlain = `INSERT INTO vote_snapshots (` + voteSnapshotColumns
const insertVoteSnapshotSafe = `INSERT INTO vote_snapshots (` + voteSnapshotColumns + `
	ON CONFLICT (snapshot_time, market_key, voting_account, is_delegated, has_delegation) DO NOTHING`

// VoteSnapshotsForMarketOnDate returns every VoteSnapshot for a market
// on a given day, the candidate set RewardPayer starts from.
func (s *Store) VoteSnapshotsForMarketOnDate(ctx context.Context, marketKey string, date time.Time) ([]VoteSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, market_key, voting_account, votes_value, snapshot_time, is_delegated, has_delegation
		FROM vote_snapshots WHERE market_key = $1 AND snapshot_time = $2`, marketKey, date)
	if err != nil {
		return nil, fmt.Errorf("store: vote snapshots for market: %w", err)
	}
	defer rows.Close()

	var out []VoteSnapshot
	for rows.Next() {
		var v VoteSnapshot
		if err := rows.Scan(&v.ID, &v.MarketKey, &v.VotingAccount, &v.VotesValue, &v.SnapshotTime, &v.IsDelegated, &v.HasDelegation); err != nil {
			return nil, fmt.Errorf("store: scan vote snapshot: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// InsertAssetHolderBalanceSnapshotsBatch bulk-inserts daily balance
// snapshots for TrusteeSnapshotter, replacing same-day duplicates.
func (s *Store) InsertAssetHolderBalanceSnapshotsBatch(ctx context.Context, snapshots []AssetHolderBalanceSnapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, b := range snapshots {
		_, err := tx.Exec(ctx, `
			INSERT INTO asset_holder_balance_snapshots (account, asset_code, asset_issuer, balance, snapshot_time)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (snapshot_time, account, asset_code, asset_issuer) DO UPDATE
			SET balance = EXCLUDED.balance`,
			b.Account, b.Asset.Code, b.Asset.Issuer, b.Balance, b.SnapshotTime)
		if err != nil {
			return fmt.Errorf("store: insert asset holder snapshot: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// AssetHolderBalanceSnapshotsOnDate returns the set of accounts holding
// asset on date, used to restrict non-native-asset payouts per §4.7.
func (s *Store) AssetHolderBalanceSnapshotsOnDate(ctx context.Context, asset assets.Asset, date time.Time) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT account FROM asset_holder_balance_snapshots
		WHERE asset_code = $1 AND asset_issuer = $2 AND snapshot_time = $3`, asset.Code, asset.Issuer, date)
	if err != nil {
		return nil, fmt.Errorf("store: asset holder snapshots: %w", err)
	}
	defer rows.Close()

	holders := make(map[string]bool)
	for rows.Next() {
		var account string
		if err := rows.Scan(&account); err != nil {
			return nil, fmt.Errorf("store: scan asset holder: %w", err)
		}
		holders[account] = true
	}
	return holders, rows.Err()
}
