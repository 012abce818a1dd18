package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/heyitswin/zipsea-sub004/internal/pricesync"
)

// LineLockStore owns the line_locks table: a durable TTL mutex keyed by
// line id. Expired locks are treated as absent on acquire, so a crashed
// holder never blocks a line forever.
type LineLockStore struct {
	db    DB
	clock pricesync.Clock
}

// NewLineLockStore constructs a LineLockStore.
func NewLineLockStore(db DB, clock pricesync.Clock) *LineLockStore {
	return &LineLockStore{db: db, clock: clock}
}

const tryAcquireSQL = `
INSERT INTO line_locks (line_id, holder_id, acquired_at, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (line_id) DO UPDATE SET
	holder_id = $2,
	acquired_at = $3,
	expires_at = $4
WHERE line_locks.expires_at <= $3`

// TryAcquire inserts a lock row unless an unexpired one exists. It returns
// false (and no error) when another holder owns the line.
func (s *LineLockStore) TryAcquire(ctx context.Context, lineID int64, holderID string, ttl time.Duration) (bool, error) {
	now := s.clock.Now()
	tag, err := s.db.Exec(ctx, tryAcquireSQL, lineID, holderID, now, now.Add(ttl))
	if err != nil {
		return false, fmt.Errorf("acquire line lock %d: %w", lineID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release removes the lock only when the holder still owns it, so a job
// whose TTL lapsed cannot release a newer holder's lock.
func (s *LineLockStore) Release(ctx context.Context, lineID int64, holderID string) error {
	if _, err := s.db.Exec(ctx,
		`DELETE FROM line_locks WHERE line_id = $1 AND holder_id = $2`,
		lineID, holderID,
	); err != nil {
		return fmt.Errorf("release line lock %d: %w", lineID, err)
	}
	return nil
}

// Sweep removes all expired lock rows; called periodically by the service.
func (s *LineLockStore) Sweep(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM line_locks WHERE expires_at <= $1`,
		s.clock.Now(),
	)
	if err != nil {
		return 0, fmt.Errorf("sweep line locks: %w", err)
	}
	return tag.RowsAffected(), nil
}
