package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/heyitswin/zipsea-sub004/internal/pricesync"
)

// ErrInvalidEvent marks a malformed webhook payload; the caller answers
// with a 4xx.
var ErrInvalidEvent = errors.New("invalid webhook event")

// Config tunes intake behavior.
type Config struct {
	DedupWindow    time.Duration
	EnqueueTimeout time.Duration
}

// Result reports how an event was handled.
type Result struct {
	JobID     string `json:"job_id,omitempty"`
	Duplicate bool   `json:"duplicate"`
}

// Ingress validates events, deduplicates repeats, and enqueues one job per
// accepted (line, event) pair. Accept returns before any archive or
// database pipeline work happens.
type Ingress struct {
	dedup  pricesync.Deduper
	queue  pricesync.Queue
	jobs   pricesync.JobStore
	idGen  pricesync.IDGenerator
	clock  pricesync.Clock
	cfg    Config
	logger *zap.Logger
}

// New constructs an Ingress.
func New(
	dedup pricesync.Deduper,
	queue pricesync.Queue,
	jobs pricesync.JobStore,
	idGen pricesync.IDGenerator,
	clock pricesync.Clock,
	cfg Config,
	logger *zap.Logger,
) *Ingress {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 5 * time.Minute
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingress{
		dedup:  dedup,
		queue:  queue,
		jobs:   jobs,
		idGen:  idGen,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
}

// Accept handles one webhook event. Repeats inside the dedup window are
// acknowledged without a new job.
func (i *Ingress) Accept(ctx context.Context, ev pricesync.WebhookEvent) (Result, error) {
	if err := validate(ev); err != nil {
		return Result{}, err
	}

	triggeredAt := time.Unix(ev.Timestamp, 0).UTC()
	key := DedupKey(ev.LineID, ev.Event, triggeredAt, i.cfg.DedupWindow)
	seen, err := i.dedup.Seen(ctx, key, i.cfg.DedupWindow)
	if err != nil {
		// Dedup backend trouble must not drop pricing updates; fail open.
		i.logger.Warn("dedup check failed, accepting event", zap.String("key", key), zap.Error(err))
		seen = false
	}
	if seen {
		i.logger.Info("duplicate event inside dedup window",
			zap.Int64("line_id", ev.LineID),
			zap.String("event", ev.Event),
		)
		return Result{Duplicate: true}, nil
	}

	jobID, err := i.idGen.NewID()
	if err != nil {
		return Result{}, fmt.Errorf("generate job id: %w", err)
	}
	job := pricesync.Job{
		ID:        jobID,
		LineID:    ev.LineID,
		Event:     ev.Event,
		Status:    pricesync.JobStatusPending,
		Submitted: i.clock.Now(),
	}
	if err := i.jobs.CreateJob(ctx, job); err != nil {
		return Result{}, fmt.Errorf("create job: %w", err)
	}

	queueCtx, cancel := context.WithTimeout(ctx, i.cfg.EnqueueTimeout)
	defer cancel()
	item := pricesync.QueueItem{
		JobID:       jobID,
		LineID:      ev.LineID,
		Event:       ev.Event,
		Currency:    ev.Currency,
		TriggeredAt: triggeredAt,
		Attempt:     1,
	}
	if err := i.queue.Enqueue(queueCtx, item); err != nil {
		return Result{}, fmt.Errorf("enqueue job: %w", err)
	}

	i.logger.Info("event accepted",
		zap.String("job_id", jobID),
		zap.Int64("line_id", ev.LineID),
		zap.String("event", ev.Event),
	)
	return Result{JobID: jobID}, nil
}

func validate(ev pricesync.WebhookEvent) error {
	if ev.Event == "" {
		return fmt.Errorf("event is required: %w", ErrInvalidEvent)
	}
	if ev.LineID <= 0 {
		return fmt.Errorf("lineId must be positive: %w", ErrInvalidEvent)
	}
	if ev.Timestamp <= 0 {
		return fmt.Errorf("timestamp is required: %w", ErrInvalidEvent)
	}
	return nil
}
