package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aquanetwork/bribes-engine/internal/assets"
)

// UpsertClaimableBalanceSnapshot persists one ClaimSnapshotter record
// and its claimants, replacing whatever was previously recorded for
// that balance id on that day.
func (s *Store) UpsertClaimableBalanceSnapshot(ctx context.Context, cb ClaimableBalanceSnapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO claimable_balances (claimable_balance_id, asset_code, asset_issuer, amount, sponsor, owner, snapshot_time)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (claimable_balance_id) DO UPDATE
		SET amount = EXCLUDED.amount, owner = EXCLUDED.owner, snapshot_time = EXCLUDED.snapshot_time`,
		cb.ClaimableBalanceID, cb.Asset.Code, cb.Asset.Issuer, cb.Amount, cb.Sponsor, cb.Owner, cb.SnapshotTime)
	if err != nil {
		return fmt.Errorf("store: upsert claimable balance: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM claimants WHERE claimable_balance_id = $1`, cb.ClaimableBalanceID); err != nil {
		return fmt.Errorf("store: clear claimants: %w", err)
	}
	for _, c := range cb.Claimants {
		predicateJSON, err := json.Marshal(c.Predicate)
		if err != nil {
			return fmt.Errorf("store: marshal predicate: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO claimants (claimable_balance_id, destination, predicate_json) VALUES ($1,$2,$3)`,
			cb.ClaimableBalanceID, c.Destination, predicateJSON)
		if err != nil {
			return fmt.Errorf("store: insert claimant: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// DelegatedInflowsTo returns every ClaimableBalanceSnapshot dated date,
// denominated in delegatableAsset, whose claimants include both
// delegateMarker and voter — the delegation-inflow query of §4.6 step 2.
func (s *Store) DelegatedInflowsTo(ctx context.Context, voter string, delegatableAsset assets.Asset, delegateMarker string, date time.Time) ([]ClaimableBalanceSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT cb.claimable_balance_id, cb.asset_code, cb.asset_issuer, cb.amount, cb.sponsor, cb.owner, cb.snapshot_time
		FROM claimable_balances cb
		WHERE cb.asset_code = $1 AND cb.asset_issuer = $2 AND cb.snapshot_time = $3
		  AND EXISTS (SELECT 1 FROM claimants c WHERE c.claimable_balance_id = cb.claimable_balance_id AND c.destination = $4)
		  AND EXISTS (SELECT 1 FROM claimants c WHERE c.claimable_balance_id = cb.claimable_balance_id AND c.destination = $5)`,
		delegatableAsset.Code, delegatableAsset.Issuer, date, delegateMarker, voter)
	if err != nil {
		return nil, fmt.Errorf("store: delegated inflows: %w", err)
	}
	defer rows.Close()
	return scanClaimableBalances(rows)
}

// VoterOwnsDelegatedAsset reports whether voter owns a ClaimableBalance
// of delegatedAsset dated date with marketKey among its claimants —
// the delegation-aggregator detection check of §4.6 step 1.
func (s *Store) VoterOwnsDelegatedAsset(ctx context.Context, voter string, delegatedAsset assets.Asset, marketKey string, date time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM claimable_balances cb
			WHERE cb.owner = $1 AND cb.asset_code = $2 AND cb.asset_issuer = $3 AND cb.snapshot_time = $4
			  AND EXISTS (SELECT 1 FROM claimants c WHERE c.claimable_balance_id = cb.claimable_balance_id AND c.destination = $5)
		)`, voter, delegatedAsset.Code, delegatedAsset.Issuer, date, marketKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: voter owns delegated asset: %w", err)
	}
	return exists, nil
}

func scanClaimableBalances(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]ClaimableBalanceSnapshot, error) {
	var out []ClaimableBalanceSnapshot
	for rows.Next() {
		var cb ClaimableBalanceSnapshot
		var code, issuer string
		if err := rows.Scan(&cb.ClaimableBalanceID, &code, &issuer, &cb.Amount, &cb.Sponsor, &cb.Owner, &cb.SnapshotTime); err != nil {
			return nil, fmt.Errorf("store: scan claimable balance: %w", err)
		}
		if issuer == "" {
			cb.Asset = assets.Native()
		} else {
			cb.Asset = assets.New(code, issuer)
		}
		out = append(out, cb)
	}
	return out, rows.Err()
}
