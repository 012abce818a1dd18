package memory

import (
	"context"
	"sync"
	"time"

	"github.com/heyitswin/zipsea-sub004/internal/pricesync"
)

// LockStore is an in-memory pricesync.LockManager with TTL semantics,
// mirroring the durable Postgres implementation for tests and local runs.
type LockStore struct {
	clock pricesync.Clock
	mu    sync.Mutex
	locks map[int64]pricesync.LineLock
}

// NewLockStore constructs a LockStore.
func NewLockStore(clock pricesync.Clock) *LockStore {
	return &LockStore{clock: clock, locks: make(map[int64]pricesync.LineLock)}
}

// TryAcquire succeeds only when no unexpired lock exists for the line.
func (s *LockStore) TryAcquire(_ context.Context, lineID int64, holderID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	if existing, ok := s.locks[lineID]; ok && existing.ExpiresAt.After(now) {
		return false, nil
	}
	s.locks[lineID] = pricesync.LineLock{
		LineID:     lineID,
		HolderID:   holderID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	return true, nil
}

// Release removes the lock only when the holder still owns it.
func (s *LockStore) Release(_ context.Context, lineID int64, holderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.locks[lineID]; ok && existing.HolderID == holderID {
		delete(s.locks, lineID)
	}
	return nil
}

// Holder reports the current holder for inspection in tests.
func (s *LockStore) Holder(lineID int64) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[lineID]
	if !ok || !lock.ExpiresAt.After(s.clock.Now()) {
		return "", false
	}
	return lock.HolderID, true
}
