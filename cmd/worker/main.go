// Command worker serves the NLP processing API. Several worker
// processes may share one port via SO_REUSEPORT; each loads its models
// once at startup and serves requests sequentially.
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

	"github.com/fieldnotes-io/tipline/internal/adapter/observability"
	"github.com/fieldnotes-io/tipline/internal/adapter/procworker"
	"github.com/fieldnotes-io/tipline/internal/config"
	"github.com/fieldnotes-io/tipline/internal/nlp"
)

func main() {
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

	slog.Info("loading models", slog.String("target_language", cfg.TargetLanguage))
	started := time.Now()
	engine, err := nlp.LoadEngine(cfg.TargetLanguage)
	if err != nil {
		slog.Error("model load failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("models loaded", slog.Duration("took", time.Since(started)))

	svc := procworker.NewService(engine)

	addr := fmt.Sprintf(":%d", cfg.WorkerPort)
	ln, err := procworker.Listen(addr)
	if err != nil {
		slog.Error("listen failed", slog.String("addr", addr), slog.Any("error", err))
		os.Exit(1)
	}

	srv := &http.Server{
		Handler:           svc.Router(),
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.RequestTimeout(),
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("worker serving", slog.String("addr", addr), slog.Int("pid", os.Getpid()))
		errCh <- srv.Serve(ln)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
