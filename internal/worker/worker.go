// Package worker implements the per-job sync pipeline execution loop.
package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/heyitswin/zipsea-sub004/internal/metrics"
	"github.com/heyitswin/zipsea-sub004/internal/pricesync"
)

// Config controls Worker behavior.
type Config struct {
	// LockTTL must exceed the worst-case job duration; TTL expiry is the
	// crash-recovery mechanism.
	LockTTL time.Duration
	// QuarantinePrefix is the blob path prefix for unrepairable payloads.
	QuarantinePrefix string
	// Topic for job-completion events; empty disables publishing.
	Topic string
}

// Worker consumes queue items and executes the sync pipeline: lock,
// enumerate, download, normalize, persist, track.
type Worker struct {
	queue      pricesync.Queue
	jobs       pricesync.JobStore
	locks      pricesync.LockManager
	flags      pricesync.FlagStore
	enumerator pricesync.Enumerator
	downloader pricesync.Downloader
	normalizer pricesync.Normalizer
	writer     pricesync.Writer
	publisher  pricesync.Publisher
	blobs      pricesync.BlobStore
	clock      pricesync.Clock
	cfg        Config
	logger     *zap.Logger

	// active counts in-flight jobs across all workers and drives the
	// sync_in_progress flag.
	active *atomic.Int64
}

// New constructs a Worker. Publisher and blob store may be nil.
func New(
	queue pricesync.Queue,
	jobs pricesync.JobStore,
	locks pricesync.LockManager,
	flags pricesync.FlagStore,
	enumerator pricesync.Enumerator,
	downloader pricesync.Downloader,
	normalizer pricesync.Normalizer,
	writer pricesync.Writer,
	publisher pricesync.Publisher,
	blobs pricesync.BlobStore,
	clock pricesync.Clock,
	active *atomic.Int64,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	if cfg.QuarantinePrefix == "" {
		cfg.QuarantinePrefix = "quarantine"
	}
	if active == nil {
		active = &atomic.Int64{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:      queue,
		jobs:       jobs,
		locks:      locks,
		flags:      flags,
		enumerator: enumerator,
		downloader: downloader,
		normalizer: normalizer,
		writer:     writer,
		publisher:  publisher,
		blobs:      blobs,
		clock:      clock,
		active:     active,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item pricesync.QueueItem) {
	logger := w.logger.With(
		zap.String("job_id", item.JobID),
		zap.Int64("line_id", item.LineID),
	)

	if w.paused(ctx, logger) {
		w.finishJob(ctx, logger, item, pricesync.JobStatusSkipped, "webhooks paused", pricesync.JobCounters{})
		return
	}

	// The job ID doubles as the lock holder ID so a stale job can never
	// release a newer holder's lock.
	acquired, err := w.locks.TryAcquire(ctx, item.LineID, item.JobID, w.cfg.LockTTL)
	if err != nil {
		logger.Error("lock acquire failed", zap.Error(err))
		w.finishJob(ctx, logger, item, pricesync.JobStatusFailed, fmt.Sprintf("acquire line lock: %v", err), pricesync.JobCounters{})
		return
	}
	if !acquired {
		logger.Info("line already syncing, skipping job")
		w.finishJob(ctx, logger, item, pricesync.JobStatusSkipped, "line lock held by another job", pricesync.JobCounters{})
		return
	}
	defer func() {
		if err := w.locks.Release(ctx, item.LineID, item.JobID); err != nil {
			logger.Error("lock release failed", zap.Error(err))
		}
	}()

	w.markActive(ctx, 1, logger)
	defer w.markActive(ctx, -1, logger)

	if err := w.jobs.UpdateJobStatus(ctx, item.JobID, pricesync.JobStatusRunning, "", pricesync.JobCounters{}); err != nil {
		logger.Error("job status update failed", zap.Error(err))
		return
	}

	counters := pricesync.JobCounters{}
	files, err := w.enumerator.Enumerate(ctx, item.LineID, pricesync.DateWindow{From: item.TriggeredAt})
	if err != nil {
		// Failing to list the line's tree is one of the two fatal
		// conditions; everything downstream recovers locally.
		logger.Error("enumeration failed", zap.Error(err))
		w.finishJob(ctx, logger, item, pricesync.JobStatusFailed, fmt.Sprintf("enumerate: %v", err), counters)
		return
	}
	counters.FilesTotal = len(files)
	logger.Info("enumerated line", zap.Int("files", len(files)))

	batch, err := w.downloader.Download(ctx, files)
	if err != nil {
		logger.Error("batch download failed", zap.Error(err))
		w.finishJob(ctx, logger, item, pricesync.JobStatusFailed, fmt.Sprintf("download: %v", err), counters)
		return
	}
	counters.Succeeded = batch.Counts[pricesync.OutcomeSuccess]
	counters.NotFound = batch.Counts[pricesync.OutcomeNotFound]
	counters.ConnectionFailures = batch.Counts[pricesync.OutcomeConnectionFailure]

	for sailingID, dl := range batch.Succeeded {
		normalized, err := w.normalizer.Normalize(dl.Ref, dl.Body)
		if err != nil {
			// Retrieved but unusable: reclassify as a parse error and
			// quarantine the payload. needs_price_update stays set for
			// a future run.
			counters.Succeeded--
			counters.ParseErrors++
			logger.Warn("payload unrepairable",
				zap.String("sailing_id", sailingID),
				zap.Error(err),
			)
			w.quarantine(ctx, logger, dl)
			continue
		}
		if err := w.writer.WriteItem(ctx, normalized); err != nil {
			// Downloaded but not persisted is a failed item; Succeeded
			// tracks only items that made it all the way to the database.
			counters.Succeeded--
			counters.WriteFailures++
			logger.Error("persist item failed",
				zap.String("sailing_id", sailingID),
				zap.Error(err),
			)
			continue
		}
		counters.ItemsWritten++
	}

	status, errText := deriveStatus(counters, batch.Paused)
	w.finishJob(ctx, logger, item, status, errText, counters)
}

// deriveStatus maps final counters onto the terminal job status.
func deriveStatus(c pricesync.JobCounters, paused bool) (pricesync.JobStatus, string) {
	failures := c.ConnectionFailures + c.ParseErrors + c.WriteFailures
	switch {
	case paused && c.Succeeded == 0 && failures == 0:
		return pricesync.JobStatusSkipped, "sync paused before dispatch"
	case paused:
		return pricesync.JobStatusPartial, "sync paused mid-batch"
	case failures == 0:
		return pricesync.JobStatusSucceeded, ""
	case c.Succeeded == 0:
		return pricesync.JobStatusFailed, "no files synced"
	default:
		return pricesync.JobStatusPartial, ""
	}
}

func (w *Worker) finishJob(
	ctx context.Context,
	logger *zap.Logger,
	item pricesync.QueueItem,
	status pricesync.JobStatus,
	errText string,
	counters pricesync.JobCounters,
) {
	if err := w.jobs.UpdateJobStatus(ctx, item.JobID, status, errText, counters); err != nil {
		logger.Error("final job status update failed", zap.Error(err))
	}
	metrics.JobFinished(string(status))
	metrics.FilesObserved(counters)
	logger.Info("job finished",
		zap.String("status", string(status)),
		zap.Int("succeeded", counters.Succeeded),
		zap.Int("not_found", counters.NotFound),
		zap.Int("connection_failures", counters.ConnectionFailures),
		zap.Int("parse_errors", counters.ParseErrors),
		zap.Int("items_written", counters.ItemsWritten),
	)
	w.publishCompletion(ctx, logger, item, status, counters)
}

func (w *Worker) publishCompletion(
	ctx context.Context,
	logger *zap.Logger,
	item pricesync.QueueItem,
	status pricesync.JobStatus,
	counters pricesync.JobCounters,
) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	payload := map[string]any{
		"job_id":    item.JobID,
		"line_id":   item.LineID,
		"event":     item.Event,
		"status":    string(status),
		"counters":  counters,
		"timestamp": w.clock.Now().Format(time.RFC3339),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		logger.Warn("completion publish failed", zap.Error(err))
	}
}

func (w *Worker) quarantine(ctx context.Context, logger *zap.Logger, dl pricesync.Download) {
	if w.blobs == nil {
		return
	}
	path := fmt.Sprintf("%s/%d/%s.json", w.cfg.QuarantinePrefix, dl.Ref.LineID, dl.Ref.SailingID)
	uri, err := w.blobs.PutObject(ctx, path, "application/json", dl.Body)
	if err != nil {
		logger.Warn("quarantine write failed", zap.String("path", path), zap.Error(err))
		return
	}
	logger.Info("payload quarantined", zap.String("uri", uri))
}

func (w *Worker) paused(ctx context.Context, logger *zap.Logger) bool {
	paused, err := w.flags.Bool(ctx, pricesync.FlagWebhooksPaused)
	if err != nil {
		logger.Warn("pause flag read failed", zap.Error(err))
		return false
	}
	return paused
}

// markActive tracks in-flight jobs and mirrors the count into the
// sync_in_progress flag for operational visibility.
func (w *Worker) markActive(ctx context.Context, delta int64, logger *zap.Logger) {
	n := w.active.Add(delta)
	metrics.ActiveJobs(n)
	var err error
	switch {
	case delta > 0 && n == 1:
		err = w.flags.SetBool(ctx, pricesync.FlagSyncInProgress, true)
	case delta < 0 && n == 0:
		err = w.flags.SetBool(ctx, pricesync.FlagSyncInProgress, false)
	}
	if err != nil {
		logger.Warn("sync flag update failed", zap.Error(err))
	}
}
