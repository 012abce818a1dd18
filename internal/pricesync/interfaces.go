package pricesync

import (
	"context"
	"time"
)

// JobStore persists sync job records and counters.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, counters JobCounters) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListJobsByLine(ctx context.Context, lineID int64, limit int) ([]Job, error)
}

// LockManager owns the durable per-line mutex rows.
type LockManager interface {
	TryAcquire(ctx context.Context, lineID int64, holderID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, lineID int64, holderID string) error
}

// FlagStore reads and writes operational key/value flags.
type FlagStore interface {
	Bool(ctx context.Context, name string) (bool, error)
	SetBool(ctx context.Context, name string, value bool) error
}

// Writer upserts normalized items into the relational store.
type Writer interface {
	WriteItem(ctx context.Context, item NormalizedItem) error
}

// Deduper records webhook dedup keys. Seen returns true when the key was
// already recorded inside the window; the first call marks it.
type Deduper interface {
	Seen(ctx context.Context, key string, window time.Duration) (bool, error)
}

// Queue provides enqueue/dequeue semantics for sync jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Enumerator walks the remote archive tree for one line.
type Enumerator interface {
	Enumerate(ctx context.Context, lineID int64, window DateWindow) ([]FileRef, error)
}

// Downloader pulls enumerated files at bounded concurrency.
type Downloader interface {
	Download(ctx context.Context, files []FileRef) (BatchResult, error)
}

// Normalizer turns raw document bytes into a writer-ready item.
type Normalizer interface {
	Normalize(ref FileRef, raw []byte) (NormalizedItem, error)
}

// Publisher pushes job-completion events downstream.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore archives raw payloads and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job and lock holder IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// RetryPolicy decides whether and when an archive operation is retried.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}
