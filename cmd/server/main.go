// Command server starts the tipline HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fieldnotes-io/tipline/internal/adapter/cache"
	httpserver "github.com/fieldnotes-io/tipline/internal/adapter/httpserver"
	"github.com/fieldnotes-io/tipline/internal/adapter/observability"
	"github.com/fieldnotes-io/tipline/internal/adapter/procworker"
	"github.com/fieldnotes-io/tipline/internal/adapter/repo/postgres"
	"github.com/fieldnotes-io/tipline/internal/app"
	"github.com/fieldnotes-io/tipline/internal/config"
	"github.com/fieldnotes-io/tipline/internal/domain"
	"github.com/fieldnotes-io/tipline/internal/usecase"
	"github.com/fieldnotes-io/tipline/internal/wol"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
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

	ctx := context.Background()
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
	locRepo := postgres.NewLocationRepo(pool)
	promoRepo := postgres.NewPromotionRepo(pool)

	// Optional promotions read cache.
	var rdb *redis.Client
	var promoCache domain.PromotionCache
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		promoCache = cache.New(rdb, cfg.PromotionCacheTTL)
		slog.Info("promotions cache enabled", slog.String("addr", cfg.RedisAddr))
	}

	worker := procworker.NewClient(cfg.WorkerBaseURL, cfg.RequestTimeout(), cfg.MaxBatchAttempts)

	// Wake protocol only when a MAC is configured; otherwise readiness
	// is a plain health probe.
	var waker domain.Waker
	if cfg.WorkerMAC != "" {
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

	tipSvc := usecase.NewTipService(tipRepo, locRepo, promoRepo, promoCache)
	promoSvc := usecase.NewPromotionService(tipRepo, promoRepo, promoCache, cfg.SimilarityThreshold, cfg.MinMentions)
	promoSvc.Locations = locRepo
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

	// Safety net for claims left behind by crashed runs.
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	if sweeper := app.NewStaleTipSweeper(tipRepo, cfg.StaleTipMaxAge, cfg.StaleTipSweepInterval); sweeper != nil {
		go sweeper.Run(sweepCtx)
	}

	var rdbCheck app.RedisClient
	if rdb != nil {
		rdbCheck = redisAdapter{rdb}
	}
	dbCheck, redisCheck, workerCheck := app.BuildReadinessChecks(pool, rdbCheck, worker)

	srv := httpserver.NewServer(cfg, tipSvc, pipeline, promoSvc, dbCheck, redisCheck, workerCheck)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}

// redisAdapter narrows *redis.Client to the readiness interface.
type redisAdapter struct{ rdb *redis.Client }

func (a redisAdapter) Ping(ctx context.Context) app.RedisPingResult { return a.rdb.Ping(ctx) }
