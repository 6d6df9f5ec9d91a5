package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aquanetwork/bribes-engine/internal/assets"
)

// InsertPayouts persists a batch of Payout rows from a single pay-tick
// submission outcome. A unique partial index on (aggregated_bribe_id,
// vote_snapshot_id) WHERE status='success' enforces at-most-once
// success per §3's Payout invariant; a second success attempt for the
// same pair is rejected and logged rather than silently overwritten.
func (s *Store) InsertPayouts(ctx context.Context, payouts []Payout) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, p := range payouts {
		_, err := tx.Exec(ctx, `
			INSERT INTO payouts (aggregated_bribe_id, vote_snapshot_id, asset_code, asset_issuer, reward_amount, stellar_transaction_id, status, message)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			p.AggregatedBribeID, p.VoteSnapshotID, p.Asset.Code, p.Asset.Issuer, p.RewardAmount, p.StellarTransactionID, string(p.Status), p.Message)
		if err != nil {
			return fmt.Errorf("store: insert payout (bribe=%d, vote=%d): %w", p.AggregatedBribeID, p.VoteSnapshotID, err)
		}
	}
	return tx.Commit(ctx)
}

// SuccessfullyPaidVoteSnapshotIDs returns vote_snapshot ids that already
// have a successful Payout for bribeID — step 2 of §4.7's exclusion list.
func (s *Store) SuccessfullyPaidVoteSnapshotIDs(ctx context.Context, bribeID int64) (map[int64]bool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT vote_snapshot_id FROM payouts WHERE aggregated_bribe_id = $1 AND status = 'success'`, bribeID)
	if err != nil {
		return nil, fmt.Errorf("store: successfully paid voters: %w", err)
	}
	defer rows.Close()
	return scanInt64Set(rows)
}

// knownSafeToRetryCodes is the whitelist of op-level failure reasons
// that do NOT permanently poison a voter for a bribe, per §4.7 step 3.
var knownSafeToRetryCodes = map[string]bool{
	"tx_bad_auth":             true,
	"tx_bad_seq":              true,
	"tx_insufficient_balance": true,
	"tx_insufficient_fee":     true,
}

// PoisonedVoteSnapshotIDs returns vote_snapshot ids that previously
// failed for bribeID with a reason outside knownSafeToRetryCodes —
// these are permanently excluded from retry for this bribe.
func (s *Store) PoisonedVoteSnapshotIDs(ctx context.Context, bribeID int64) (map[int64]bool, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT vote_snapshot_id, message FROM payouts WHERE aggregated_bribe_id = $1 AND status = 'failed'`, bribeID)
	if err != nil {
		return nil, fmt.Errorf("store: poisoned voters: %w", err)
	}
	defer rows.Close()

	poisoned := make(map[int64]bool)
	for rows.Next() {
		var voteSnapshotID int64
		var message string
		if err := rows.Scan(&voteSnapshotID, &message); err != nil {
			return nil, fmt.Errorf("store: scan poisoned voter: %w", err)
		}
		if !knownSafeToRetryCodes[message] {
			poisoned[voteSnapshotID] = true
		}
	}
	return poisoned, rows.Err()
}

// TimedOutPayout is a Payout row whose message is "timeout" and is
// older than RESOLVE_DELAY, pending reconciliation by tx hash lookup.
type TimedOutPayout struct {
	Payout
	CreatedAt time.Time
}

// TimedOutPayoutsOlderThan returns timeout-flagged Payouts older than
// the resolve delay, step 1 of §4.7.
func (s *Store) TimedOutPayoutsOlderThan(ctx context.Context, olderThan time.Time) ([]TimedOutPayout, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, aggregated_bribe_id, vote_snapshot_id, asset_code, asset_issuer, reward_amount,
		       stellar_transaction_id, status, message, created_at, updated_at
		FROM payouts WHERE message = 'timeout' AND created_at < $1`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("store: timed out payouts: %w", err)
	}
	defer rows.Close()

	var out []TimedOutPayout
	for rows.Next() {
		var p TimedOutPayout
		var status string
		var code, issuer string
		if err := rows.Scan(&p.ID, &p.AggregatedBribeID, &p.VoteSnapshotID, &code, &issuer, &p.RewardAmount,
			&p.StellarTransactionID, &status, &p.Message, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan timed out payout: %w", err)
		}
		p.Status = PayoutStatus(status)
		if issuer == "" {
			p.Asset = assets.Native()
		} else {
			p.Asset = assets.New(code, issuer)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ResolveTimedOutPayoutSuccess marks a previously timed-out Payout as
// successful now that its transaction hash is confirmed on-ledger.
func (s *Store) ResolveTimedOutPayoutSuccess(ctx context.Context, payoutID int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE payouts SET status = 'success', message = '', updated_at = now() WHERE id = $1`, payoutID)
	if err != nil {
		return fmt.Errorf("store: resolve timed out payout %d: %w", payoutID, err)
	}
	return nil
}

// DeleteTimedOutPayout removes a Payout row whose transaction never
// made it on-ledger, allowing that voter to be re-paid.
func (s *Store) DeleteTimedOutPayout(ctx context.Context, payoutID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM payouts WHERE id = $1`, payoutID)
	if err != nil {
		return fmt.Errorf("store: delete timed out payout %d: %w", payoutID, err)
	}
	return nil
}

func scanInt64Set(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) (map[int64]bool, error) {
	set := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan id: %w", err)
		}
		set[id] = true
	}
	return set, rows.Err()
}
