// Package ingest accepts webhook events, deduplicates repeats, and enqueues
// sync jobs.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/heyitswin/zipsea-sub004/internal/pricesync"
)

// DedupKey derives the dedup key for an event: line, event type, and the
// timestamp rounded down to the dedup window.
func DedupKey(lineID int64, event string, ts time.Time, window time.Duration) string {
	if window <= 0 {
		window = time.Minute
	}
	return fmt.Sprintf("webhook:%d:%s:%d", lineID, event, ts.Truncate(window).Unix())
}

// MemoryDeduper is an in-process pricesync.Deduper for single-instance
// deployments and tests.
type MemoryDeduper struct {
	clock pricesync.Clock
	mu    sync.Mutex
	seen  map[string]time.Time
}

// NewMemoryDeduper constructs a MemoryDeduper.
func NewMemoryDeduper(clock pricesync.Clock) *MemoryDeduper {
	return &MemoryDeduper{clock: clock, seen: make(map[string]time.Time)}
}

// Seen reports whether the key was recorded inside the window and records
// it on first sight. Expired entries are pruned lazily.
func (d *MemoryDeduper) Seen(_ context.Context, key string, window time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	for k, at := range d.seen {
		if now.Sub(at) >= window {
			delete(d.seen, k)
		}
	}
	if at, ok := d.seen[key]; ok && now.Sub(at) < window {
		return true, nil
	}
	d.seen[key] = now
	return false, nil
}
