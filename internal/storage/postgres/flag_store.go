package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/heyitswin/zipsea-sub004/internal/pricesync"
)

// SystemFlagStore reads and writes operational booleans in the system_flags
// table (webhooks_paused, sync_in_progress, ...).
type SystemFlagStore struct {
	db    DB
	clock pricesync.Clock
}

// NewSystemFlagStore constructs a SystemFlagStore.
func NewSystemFlagStore(db DB, clock pricesync.Clock) *SystemFlagStore {
	return &SystemFlagStore{db: db, clock: clock}
}

// Bool returns the flag value; an absent row reads as false.
func (s *SystemFlagStore) Bool(ctx context.Context, name string) (bool, error) {
	var value bool
	err := s.db.QueryRow(ctx,
		`SELECT value FROM system_flags WHERE name = $1`, name,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read flag %s: %w", name, err)
	}
	return value, nil
}

// SetBool upserts the flag value.
func (s *SystemFlagStore) SetBool(ctx context.Context, name string, value bool) error {
	if _, err := s.db.Exec(ctx, `
INSERT INTO system_flags (name, value, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (name) DO UPDATE SET value = $2, updated_at = $3`,
		name, value, s.clock.Now(),
	); err != nil {
		return fmt.Errorf("set flag %s: %w", name, err)
	}
	return nil
}
