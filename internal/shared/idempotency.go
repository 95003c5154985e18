package shared

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrAlreadyProcessed indicates the idempotency key was claimed before.
var ErrAlreadyProcessed = errors.New("idempotent request already processed")

// IdempotencyStore guards non-replayable operations such as payment
// registration against client retries.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// Claim records key under scope, failing with ErrAlreadyProcessed on reuse.
func (s *IdempotencyStore) Claim(ctx context.Context, scope, key string) error {
	if s == nil {
		return nil
	}
	if scope == "" || key == "" {
		return errors.New("idempotency: scope and key required")
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO idempotency_keys (scope, key, created_at) VALUES ($1, $2, $3)`, scope, key, time.Now().UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyProcessed
		}
		return err
	}
	return nil
}

// Release removes a claim after the guarded operation failed.
func (s *IdempotencyStore) Release(ctx context.Context, scope, key string) error {
	if s == nil || key == "" {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE scope = $1 AND key = $2`, scope, key)
	return err
}

// Cleanup removes claims older than the retention window.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if s == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, time.Now().UTC().Add(-olderThan))
	return err
}
