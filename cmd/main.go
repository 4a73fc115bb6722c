package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ingestlabs/kes-indexer/internal/accesslog"
	"github.com/ingestlabs/kes-indexer/internal/blobstore"
	"github.com/ingestlabs/kes-indexer/internal/config"
	"github.com/ingestlabs/kes-indexer/internal/dedup"
	"github.com/ingestlabs/kes-indexer/internal/failedevents"
	"github.com/ingestlabs/kes-indexer/internal/handler"
	"github.com/ingestlabs/kes-indexer/internal/healthz"
	"github.com/ingestlabs/kes-indexer/internal/indexer"
	"github.com/ingestlabs/kes-indexer/internal/metrics"
	"github.com/ingestlabs/kes-indexer/internal/ratelimit"
	"github.com/ingestlabs/kes-indexer/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	logger.Info("starting indexer worker",
		"topic", cfg.Topic, "partitions", cfg.Partitions, "consumerGroup", cfg.ConsumerGroupName,
		"dryRun", cfg.IsDryRun, "initialOffsetPolicy", cfg.InitialOffsetPolicy)

	tp, err := telemetry.Init()
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	m := metrics.New()

	blobStore, err := blobstore.NewBlobStoreFromEnv(cfg.BlobStoreType, cfg.BlobBucket, cfg.BlobRegion)
	if err != nil {
		log.Fatalf("create blob store: %v", err)
	}

	dedupStore := dedup.NewStoreFromEnv(cfg.DedupStoreType, cfg.DedupRedisURL, cfg.DedupLRUCapacity, cfg.DedupTTLHours)

	failedEvents, err := failedevents.New(cfg.FailedEventsLogPath, logger)
	if err != nil {
		log.Fatalf("create failed-events logger: %v", err)
	}

	var rateLimiter *ratelimit.TokenBucket
	if cfg.RateLimitRPS > 0 {
		rateLimiter = ratelimit.NewTokenBucket(cfg.RateLimitRPS, cfg.RateLimitRPS)
	}

	transformer := accesslog.New(cfg.Topic)

	workers := make([]*indexer.Worker, 0, len(cfg.Partitions))

	for _, partition := range cfg.Partitions {
		sinkOpts := []ESSinkOption{}
		if cfg.ESAuthToken != "" {
			sinkOpts = append(sinkOpts, WithESAuthToken(cfg.ESAuthToken))
		}
		if rateLimiter != nil {
			sinkOpts = append(sinkOpts, WithESRateLimit(rateLimiter))
		}
		sink := NewESSinkClient(cfg.ESEndpoint, &http.Client{Timeout: 30 * time.Second}, sinkOpts...)

		h := handler.New(transformer, sink, failedEvents,
			handler.WithBlobStore(blobStore, cfg.BlobBucket, cfg.BlobOffloadThresholdBytes),
			handler.WithDedup(dedupStore),
			handler.WithObserver(m),
			handler.WithLogger(logger),
		)

		logClient, err := NewKafkaLogClient(cfg.KafkaBrokers, cfg.Topic, partition, cfg.ConsumerGroupName, cfg.InitialOffsetPolicy)
		if err != nil {
			log.Fatalf("create kafka log client for partition %d: %v", partition, err)
		}

		workerCfg := indexer.Config{
			Topic:                  cfg.Topic,
			ConsumerGroupName:      cfg.ConsumerGroupName,
			SleepBetweenFetches:    cfg.SleepBetweenFetches,
			IsDryRun:               cfg.IsDryRun,
			IsPerfReportingEnabled: cfg.IsPerfReportingEnabled,
			InitialOffsetPolicy:    cfg.InitialOffsetPolicy,
		}

		w, err := indexer.NewWorker(workerCfg, h, logClient, partition, failedEvents,
			indexer.WithObserver(m),
			indexer.WithLogger(logger),
		)
		if err != nil {
			log.Fatalf("create worker for partition %d: %v", partition, err)
		}

		workers = append(workers, w)
	}

	reporters := make([]partitionReporter, 0, len(workers))
	for _, w := range workers {
		reporters = append(reporters, w)
	}
	healthChecker := healthz.NewChecker(combinedReporter{reporters: reporters})
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/healthz", healthChecker)
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info("metrics server listening", "addr", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *indexer.Worker) {
			defer wg.Done()
			snap := w.Run(ctx)
			logger.Info("worker stopped", "partition", snap.Partition, "state", snap.State, "lastCommittedOffset", snap.LastCommittedOffset)
		}(w)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")
	for _, w := range workers {
		w.RequestShutdown()
	}
	wg.Wait()

	_ = metricsSrv.Close()
	logger.Info("shutdown complete")
}

// partitionReporter is the subset of *indexer.Worker a combinedReporter
// needs: its activity signal plus which partition it speaks for. Kept
// local and narrow so tests can supply lightweight stubs instead of
// standing up real workers.
type partitionReporter interface {
	healthz.ActivityReporter
	Partition() int32
}

// combinedReporter reports the most stalled partition's activity time, so
// the health endpoint goes unhealthy if any single worker stops making
// progress, not only when all of them do. It also implements
// healthz.PartitionActivityReporter so a degraded /healthz response can name
// exactly which partitions have stalled.
type combinedReporter struct {
	reporters []partitionReporter
}

func (c combinedReporter) LastBatchTime() time.Time {
	var oldest time.Time
	for i, r := range c.reporters {
		t := r.LastBatchTime()
		if i == 0 || t.Before(oldest) {
			oldest = t
		}
	}
	return oldest
}

func (c combinedReporter) StalledPartitions(threshold time.Duration) []int32 {
	var stalled []int32
	now := time.Now()
	for _, r := range c.reporters {
		last := r.LastBatchTime()
		if last.IsZero() || now.Sub(last) > threshold {
			stalled = append(stalled, r.Partition())
		}
	}
	return stalled
}
