// Package store is the Postgres persistence layer for every entity the
// bribe and reward engines track. It follows the same pgxpool-wrapping
// shape as the teacher's internal/db.PostgresStore: a pool, a Connect
// constructor that pings before returning, an InitSchema that applies a
// bundled schema.sql, and per-entity methods that open short-lived
// transactions with explicit Begin/Rollback/Commit.
package store

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps a pgx connection pool and exposes the persistence
// operations every engine component needs.
type Store struct {
	pool *pgxpool.Pool
	log  *zap.SugaredLogger
}

// Connect opens the pool and verifies connectivity, the way
// db.Connect's Ping check does for the teacher.
func Connect(ctx context.Context, connStr string, log *zap.SugaredLogger) (*Store, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	log.Info("connected to postgres")
	return &Store{pool: pool, log: log.Named("store")}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema applies the bundled schema.sql, idempotently (every
// statement is CREATE ... IF NOT EXISTS).
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}
	s.log.Info("schema initialized")
	return nil
}

// Pool exposes the underlying pool for components that need direct
// access (e.g. the scheduler's in-flight flag checks under their own
// short transactions).
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}
