// Command coordinator executes one nightly pipeline run: wake the
// worker, process pending tips in batches, rebuild promotions, exit.
// Meant to be driven by cron or a systemd timer.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fieldnotes-io/tipline/internal/adapter/cache"
	"github.com/fieldnotes-io/tipline/internal/adapter/observability"
	"github.com/fieldnotes-io/tipline/internal/adapter/procworker"
	"github.com/fieldnotes-io/tipline/internal/adapter/repo/postgres"
	"github.com/fieldnotes-io/tipline/internal/config"
	"github.com/fieldnotes-io/tipline/internal/domain"
	"github.com/fieldnotes-io/tipline/internal/usecase"
	"github.com/fieldnotes-io/tipline/internal/wol"

	"github.com/redis/go-redis/v9"
)

func main() {
	noWake := flag.Bool("no-wake", false, "probe the worker but never send wake packets")
	noPromotion := flag.Bool("no-promotion", false, "skip the promotion rebuild phase")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First signal requests a graceful stop; a second one aborts hard.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Warn("signal received, finishing in-flight batches", slog.String("signal", sig.String()))
		cancel()
		sig = <-sigCh
		slog.Error("second signal, aborting", slog.String("signal", sig.String()))
		os.Exit(1)
	}()

	if err := postgres.Migrate(ctx, cfg.DatabaseURL); err != nil {
		slog.Error("db migrate failed", slog.Any("error", err))
		os.Exit(1)
	}
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	tipRepo := postgres.NewTipRepo(pool)
	promoRepo := postgres.NewPromotionRepo(pool)

	var promoCache domain.PromotionCache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		promoCache = cache.New(rdb, cfg.PromotionCacheTTL)
	}

	worker := procworker.NewClient(cfg.WorkerBaseURL, cfg.RequestTimeout(), cfg.MaxBatchAttempts)

	wake := cfg.WakeEnabled && !*noWake
	var waker domain.Waker
	if cfg.WorkerMAC != "" || wake {
		waker = wol.NewWaker(wol.Config{
			BaseURL:      cfg.WorkerBaseURL,
			MAC:          cfg.WorkerMAC,
			WorkerIP:     cfg.WorkerIP,
			Broadcast:    cfg.WorkerBroadcast,
			ProbeTimeout: cfg.WakeProbeTimeout(),
			PollInterval: cfg.WakePollInterval(),
			PollWindow:   cfg.WakePollWindow(),
		})
	}

	promoSvc := usecase.NewPromotionService(tipRepo, promoRepo, promoCache, cfg.SimilarityThreshold, cfg.MinMentions)
	pipeline := &usecase.PipelineService{
		Tips:          tipRepo,
		Processor:     worker,
		Waker:         waker,
		Promotion:     promoSvc,
		BatchSize:     cfg.BatchSize,
		Fanout:        cfg.Fanout,
		PerRunLimit:   cfg.PerRunLimit,
		ShutdownGrace: cfg.ShutdownGrace(),
		Log:           logger,
	}

	stats, err := pipeline.Run(ctx, usecase.RunOptions{Wake: wake, Promote: !*noPromotion})
	logger.Info("run summary",
		slog.String("run_id", stats.RunID.String()),
		slog.Int("claimed", stats.Claimed),
		slog.Int("processed", stats.Processed),
		slog.Int("failed", stats.Failed),
		slog.Int64("released", stats.Released),
		slog.Int("locations_promoted", stats.LocationsPromoted),
		slog.Int("promotions_written", stats.PromotionsWritten),
		slog.Duration("duration", stats.Duration))
	if err != nil {
		if errors.Is(err, domain.ErrPipelineAborted) {
			slog.Error("run aborted", slog.Any("error", err))
		} else {
			slog.Error("run failed", slog.Any("error", err))
		}
		os.Exit(1)
	}
}
