// Package main wires together the pricing sync service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	gstorage "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	gpubsub "cloud.google.com/go/pubsub"

	"github.com/heyitswin/zipsea-sub004/internal/api"
	"github.com/heyitswin/zipsea-sub004/internal/archive"
	"github.com/heyitswin/zipsea-sub004/internal/clock/system"
	"github.com/heyitswin/zipsea-sub004/internal/config"
	"github.com/heyitswin/zipsea-sub004/internal/dispatcher"
	"github.com/heyitswin/zipsea-sub004/internal/id/uuid"
	"github.com/heyitswin/zipsea-sub004/internal/ingest"
	"github.com/heyitswin/zipsea-sub004/internal/logging"
	"github.com/heyitswin/zipsea-sub004/internal/metrics"
	"github.com/heyitswin/zipsea-sub004/internal/pricesync"
	"github.com/heyitswin/zipsea-sub004/internal/pricing"
	memorypublisher "github.com/heyitswin/zipsea-sub004/internal/publisher/memory"
	pubsubpublisher "github.com/heyitswin/zipsea-sub004/internal/publisher/pubsub"
	queuememory "github.com/heyitswin/zipsea-sub004/internal/queue/memory"
	"github.com/heyitswin/zipsea-sub004/internal/storage/gcs"
	"github.com/heyitswin/zipsea-sub004/internal/storage/local"
	memorystorage "github.com/heyitswin/zipsea-sub004/internal/storage/memory"
	"github.com/heyitswin/zipsea-sub004/internal/storage/postgres"
	"github.com/heyitswin/zipsea-sub004/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.New()

	var (
		jobStore  pricesync.JobStore
		lockStore pricesync.LockManager
		flagStore pricesync.FlagStore
		writer    pricesync.Writer
	)
	if cfg.DB.DSN != "" {
		pool, err := postgres.Connect(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        int32(cfg.DB.MaxConns),
			MinConns:        int32(cfg.DB.MinConns),
			MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeMin) * time.Minute,
		})
		if err != nil {
			logger.Fatal("postgres connect failed", zap.Error(err))
		}
		defer pool.Close()
		jobStore = postgres.NewSyncJobStore(pool, clock)
		pgLocks := postgres.NewLineLockStore(pool, clock)
		lockStore = pgLocks
		flagStore = postgres.NewSystemFlagStore(pool, clock)
		writer = postgres.NewPriceWriter(pool, clock, logger.Named("writer"))
		go sweepExpiredLocks(ctx, pgLocks, logger.Named("locks"))
	} else {
		// No DSN means local development; everything stays in memory.
		logger.Warn("db.dsn not set, using in-memory stores")
		jobStore = memorystorage.NewJobStore()
		lockStore = memorystorage.NewLockStore(clock)
		flagStore = memorystorage.NewFlagStore()
		writer = noopWriter{logger: logger}
	}

	var dedup pricesync.Deduper
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if closeErr := rdb.Close(); closeErr != nil {
				logger.Warn("redis close failed", zap.Error(closeErr))
			}
		}()
		dedup = ingest.NewRedisDeduper(rdb)
	} else {
		dedup = ingest.NewMemoryDeduper(clock)
	}

	var publisher pricesync.Publisher = memorypublisher.New()
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		psClient, err := gpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("pubsub client init failed", zap.Error(err))
		}
		defer func() {
			if closeErr := psClient.Close(); closeErr != nil {
				logger.Warn("pubsub close failed", zap.Error(closeErr))
			}
		}()
		publisher = pubsubpublisher.New(psClient)
	}

	var blobs pricesync.BlobStore = memorystorage.NewBlobStore()
	if cfg.Storage.LocalDir != "" {
		blobs, err = local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
		if err != nil {
			logger.Fatal("local blob store init failed", zap.Error(err))
		}
	}
	if cfg.Storage.GCSBucket != "" {
		gcsClient, err := gstorage.NewClient(ctx)
		if err != nil {
			logger.Fatal("gcs client init failed", zap.Error(err))
		}
		defer func() {
			if closeErr := gcsClient.Close(); closeErr != nil {
				logger.Warn("gcs close failed", zap.Error(closeErr))
			}
		}()
		blobs, err = gcs.New(gcsClient, gcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			logger.Fatal("gcs blob store init failed", zap.Error(err))
		}
	}

	dialer, err := archive.NewFTPDialer(archive.FTPConfig{
		Host:        cfg.FTP.Host,
		User:        cfg.FTP.User,
		Password:    cfg.FTP.Password,
		DialTimeout: time.Duration(cfg.FTP.DialTimeoutSeconds) * time.Second,
	}, logger.Named("ftp"))
	if err != nil {
		logger.Fatal("ftp dialer init failed", zap.Error(err))
	}
	breaker := archive.NewBreaker(archive.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         time.Duration(cfg.Breaker.CooldownSeconds) * time.Second,
		MaxCooldown:      time.Duration(cfg.Breaker.MaxCooldownSeconds) * time.Second,
	}, clock)
	connPool := archive.NewPool(dialer, breaker, archive.PoolConfig{
		MaxConns:       cfg.FTP.MaxConnections,
		AcquireTimeout: time.Duration(cfg.FTP.AcquireTimeoutSeconds) * time.Second,
		IdleTimeout:    time.Duration(cfg.FTP.IdleTimeoutSeconds) * time.Second,
	}, clock, logger.Named("pool"))
	defer connPool.Close()

	enumerator := archive.NewTreeEnumerator(connPool, archive.EnumeratorConfig{
		BasePath:    cfg.FTP.BasePath,
		MonthsAhead: cfg.Sync.MonthsAhead,
	}, clock, logger.Named("enumerator"))
	downloader := archive.NewBatchDownloader(
		connPool,
		pricesync.NewExponentialRetryPolicy(),
		flagStore,
		archive.DownloaderConfig{Concurrency: cfg.Sync.DownloadConcurrency},
		logger.Named("downloader"),
	)
	normalizer := pricing.NewDocumentNormalizer(pricing.Config{
		Divisors:        cfg.Pricing.Divisors,
		DefaultCurrency: cfg.Pricing.DefaultCurrency,
	}, logger.Named("normalizer"))

	queue := queuememory.NewQueue(cfg.Sync.QueueDepth)
	ingress := ingest.New(dedup, queue, jobStore, idGen, clock, ingest.Config{
		DedupWindow: cfg.DedupWindow(),
	}, logger.Named("ingress"))

	workerCfg := worker.Config{
		LockTTL:          cfg.LockTTL(),
		QuarantinePrefix: cfg.Storage.QuarantinePrefix,
		Topic:            cfg.PubSub.TopicName,
	}
	active := &atomic.Int64{}
	var workers []*worker.Worker
	for i := 0; i < cfg.Sync.WorkerCount; i++ {
		workers = append(workers, worker.New(
			queue,
			jobStore,
			lockStore,
			flagStore,
			enumerator,
			downloader,
			normalizer,
			writer,
			publisher,
			blobs,
			clock,
			active,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(queue, workers, logger.Named("dispatcher"))

	apiServer := api.NewServer(ingress, jobStore, flagStore, clock, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go dispatch.Run(ctx)

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	logger.Info("shutdown complete")
}

// sweepExpiredLocks clears expired line lock rows so the table does not
// accumulate rows from crashed holders.
func sweepExpiredLocks(ctx context.Context, locks *postgres.LineLockStore, logger *zap.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := locks.Sweep(ctx)
			if err != nil {
				logger.Warn("lock sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("swept expired line locks", zap.Int64("count", n))
			}
		}
	}
}

// noopWriter logs items instead of persisting them; used when no database
// is configured.
type noopWriter struct {
	logger *zap.Logger
}

func (n noopWriter) WriteItem(_ context.Context, item pricesync.NormalizedItem) error {
	n.logger.Info("item normalized (no database configured)",
		zap.Int64("line_id", item.Line.ID),
		zap.String("sailing_id", item.Sailing.ID),
	)
	return nil
}
