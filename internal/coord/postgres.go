package coord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresStore is the durable Store implementation backed by a shared
// PostgreSQL database. Leases, the append FIFO and nonces each live in
// their own table; every operation is a single statement, so the database
// serialises concurrent instances without advisory locks.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{pool: pool, logger: logger}
}

// EnsureSchema creates the coordination tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS ledger_leases (
			name       TEXT PRIMARY KEY,
			holder     TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_queue (
			id         BIGSERIAL PRIMARY KEY,
			queue      TEXT NOT NULL,
			item       BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS ledger_queue_queue_id ON ledger_queue (queue, id)`,
		`CREATE TABLE IF NOT EXISTS ledger_nonces (
			key        TEXT PRIMARY KEY,
			expires_at TIMESTAMPTZ NOT NULL
		)`,
	} {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure coordination schema: %w", err)
		}
	}
	return nil
}

// AcquireLease implements Store. The upsert only takes effect when the
// lease is free, expired, or already ours; otherwise zero rows change.
func (s *PostgresStore) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO ledger_leases (name, holder, expires_at)
		 VALUES ($1, $2, now() + make_interval(secs => $3))
		 ON CONFLICT (name) DO UPDATE
		   SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
		 WHERE ledger_leases.holder = EXCLUDED.holder
		    OR ledger_leases.expires_at < now()`,
		name, holder, ttl.Seconds(),
	)
	if err != nil {
		return false, fmt.Errorf("acquire lease %q: %w", name, err)
	}
	return tag.RowsAffected() == 1, nil
}

// RenewLease implements Store.
func (s *PostgresStore) RenewLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ledger_leases
		    SET expires_at = now() + make_interval(secs => $3)
		  WHERE name = $1 AND holder = $2 AND expires_at > now()`,
		name, holder, ttl.Seconds(),
	)
	if err != nil {
		return false, fmt.Errorf("renew lease %q: %w", name, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseLease implements Store.
func (s *PostgresStore) ReleaseLease(ctx context.Context, name, holder string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM ledger_leases WHERE name = $1 AND holder = $2`,
		name, holder,
	); err != nil {
		return fmt.Errorf("release lease %q: %w", name, err)
	}
	return nil
}

// Push implements Store.
func (s *PostgresStore) Push(ctx context.Context, queue string, item []byte) error {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO ledger_queue (queue, item) VALUES ($1, $2)`,
		queue, item,
	); err != nil {
		return fmt.Errorf("push queue item: %w", err)
	}
	return nil
}

// Pop implements Store. SKIP LOCKED keeps a racing (split-brain) second
// drainer from blocking on the same head item.
func (s *PostgresStore) Pop(ctx context.Context, queue string) ([]byte, bool, error) {
	var item []byte
	err := s.pool.QueryRow(ctx,
		`DELETE FROM ledger_queue
		  WHERE id = (SELECT id FROM ledger_queue
		               WHERE queue = $1
		               ORDER BY id
		               LIMIT 1
		               FOR UPDATE SKIP LOCKED)
		  RETURNING item`,
		queue,
	).Scan(&item)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pop queue item: %w", err)
	}
	return item, true, nil
}

// CheckAndSetNonce implements Store. Expired rows are swept opportunistically
// before the set-if-not-exists upsert.
func (s *PostgresStore) CheckAndSetNonce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM ledger_nonces WHERE expires_at < now()`,
	); err != nil {
		s.logger.Warn("nonce sweep failed", zap.Error(err))
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO ledger_nonces (key, expires_at)
		 VALUES ($1, now() + make_interval(secs => $2))
		 ON CONFLICT (key) DO UPDATE SET expires_at = EXCLUDED.expires_at
		 WHERE ledger_nonces.expires_at < now()`,
		key, ttl.Seconds(),
	)
	if err != nil {
		return false, fmt.Errorf("check nonce: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
