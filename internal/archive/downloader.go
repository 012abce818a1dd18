package archive

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/heyitswin/zipsea-sub004/internal/pricesync"
)

// DownloaderConfig bounds in-job download concurrency; this limit is
// separate from (and typically smaller than) the pool size.
type DownloaderConfig struct {
	Concurrency int
}

// BatchDownloader pulls enumerated files through the pool, classifying each
// outcome. A single failure never stops the batch; only an open breaker or
// the pause flag stops further dispatch.
type BatchDownloader struct {
	pool   *Pool
	retry  pricesync.RetryPolicy
	flags  pricesync.FlagStore
	cfg    DownloaderConfig
	logger *zap.Logger
}

// NewBatchDownloader constructs a BatchDownloader.
func NewBatchDownloader(pool *Pool, retry pricesync.RetryPolicy, flags pricesync.FlagStore, cfg DownloaderConfig, logger *zap.Logger) *BatchDownloader {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchDownloader{pool: pool, retry: retry, flags: flags, cfg: cfg, logger: logger}
}

// Download fetches every file and returns per-outcome counts plus the raw
// bytes of each success keyed by sailing ID.
func (d *BatchDownloader) Download(ctx context.Context, files []pricesync.FileRef) (pricesync.BatchResult, error) {
	result := pricesync.NewBatchResult(len(files))
	if len(files) == 0 {
		return result, nil
	}

	jobs := make(chan pricesync.FileRef)
	var mu sync.Mutex
	var wg sync.WaitGroup

	workers := d.cfg.Concurrency
	if workers > len(files) {
		workers = len(files)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ref := range jobs {
				body, err := d.fetchOne(ctx, ref)
				outcome := pricesync.ClassifyFetchError(err)
				mu.Lock()
				result.Counts[outcome]++
				if outcome == pricesync.OutcomeSuccess {
					result.Succeeded[ref.SailingID] = pricesync.Download{Ref: ref, Body: body}
				}
				mu.Unlock()
				if err != nil && outcome == pricesync.OutcomeConnectionFailure {
					d.logger.Warn("download failed",
						zap.String("path", ref.Path),
						zap.Error(err),
					)
				}
			}
		}()
	}

dispatch:
	for _, ref := range files {
		if d.paused(ctx) {
			result.Paused = true
			break
		}
		select {
		case jobs <- ref:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	return result, nil
}

// paused consults the flag store before each dispatch decision. Flag store
// errors are logged and treated as not paused.
func (d *BatchDownloader) paused(ctx context.Context) bool {
	if d.flags == nil {
		return false
	}
	paused, err := d.flags.Bool(ctx, pricesync.FlagWebhooksPaused)
	if err != nil {
		d.logger.Warn("pause flag read failed", zap.Error(err))
		return false
	}
	return paused
}

func (d *BatchDownloader) fetchOne(ctx context.Context, ref pricesync.FileRef) ([]byte, error) {
	attempt := 0
	for {
		body, err := d.tryFetch(ctx, ref)
		if err == nil {
			return body, nil
		}
		if !d.retry.ShouldRetry(err, attempt) {
			return nil, err
		}
		select {
		case <-time.After(d.retry.Backoff(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		attempt++
	}
}

func (d *BatchDownloader) tryFetch(ctx context.Context, ref pricesync.FileRef) ([]byte, error) {
	conn, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	body, err := conn.Retrieve(ctx, ref.Path)
	healthy := err == nil || errors.Is(err, pricesync.ErrNotFound)
	d.pool.Release(conn, healthy)
	if err != nil {
		if !healthy {
			d.pool.Breaker().RecordFailure()
		}
		return nil, err
	}
	d.pool.Breaker().RecordSuccess()
	return body, nil
}
