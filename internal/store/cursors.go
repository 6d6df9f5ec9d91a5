package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// LoadCursor returns the cached paging cursor for key, or "" if none is
// cached — the source system's Django-cache-backed cursor, reimplemented
// as a small Postgres table so it rides the same durable store rather
// than introducing an ungrounded cache dependency.
func (s *Store) LoadCursor(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT cursor_value FROM cursors WHERE cursor_key = $1`, key).Scan(&value)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: load cursor %q: %w", key, err)
	}
	return value, nil
}

// SaveCursor persists the paging cursor for key.
func (s *Store) SaveCursor(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cursors (cursor_key, cursor_value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (cursor_key) DO UPDATE SET cursor_value = EXCLUDED.cursor_value, updated_at = now()`, key, value)
	if err != nil {
		return fmt.Errorf("store: save cursor %q: %w", key, err)
	}
	return nil
}

// TrySetInFlight atomically sets flagKey and reports whether it was not
// already set — the process-wide mutual-exclusion guard §5 describes
// for votes_in_flight and trustors_in_flight.
func (s *Store) TrySetInFlight(ctx context.Context, flagKey string) (acquired bool, err error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO in_flight_flags (flag_key) VALUES ($1) ON CONFLICT (flag_key) DO NOTHING`, flagKey)
	if err != nil {
		return false, fmt.Errorf("store: set in-flight flag %q: %w", flagKey, err)
	}
	return tag.RowsAffected() == 1, nil
}

// IsInFlight reports whether flagKey is currently set.
func (s *Store) IsInFlight(ctx context.Context, flagKey string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM in_flight_flags WHERE flag_key = $1)`, flagKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: check in-flight flag %q: %w", flagKey, err)
	}
	return exists, nil
}

// ClearInFlight releases flagKey.
func (s *Store) ClearInFlight(ctx context.Context, flagKey string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM in_flight_flags WHERE flag_key = $1`, flagKey)
	if err != nil {
		return fmt.Errorf("store: clear in-flight flag %q: %w", flagKey, err)
	}
	return nil
}

// Well-known in-flight flag keys, matching the source system's
// LOAD_VOTES_TASK_ACTIVE_KEY / LOAD_TRUSTORS_TASK_ACTIVE_KEY.
const (
	FlagVotesInFlight    = "votes_in_flight"
	FlagTrustorsInFlight = "trustors_in_flight"
)
