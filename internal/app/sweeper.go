package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fieldnotes-io/tipline/internal/adapter/observability"
	"github.com/fieldnotes-io/tipline/internal/domain"
)

// StaleTipSweeper periodically returns tips stuck in processing to
// pending. A coordinator crash leaves its claims in processing; the
// sweeper is the safety net that makes them claimable again.
type StaleTipSweeper struct {
	tips     domain.TipRepository
	maxAge   time.Duration
	interval time.Duration
}

// NewStaleTipSweeper constructs a sweeper. Returns nil when tips is
// nil so callers can skip starting it.
func NewStaleTipSweeper(tips domain.TipRepository, maxAge, interval time.Duration) *StaleTipSweeper {
	if tips == nil {
		return nil
	}
	if maxAge <= 0 {
		maxAge = 30 * time.Minute
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &StaleTipSweeper{tips: tips, maxAge: maxAge, interval: interval}
}

// Run blocks, sweeping once immediately and then on every tick, until
// ctx is canceled.
func (s *StaleTipSweeper) Run(ctx context.Context) {
	if s == nil || s.tips == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("stale tip sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *StaleTipSweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("tips.sweeper")
	ctx, span := tracer.Start(ctx, "StaleTipSweeper.sweepOnce")
	defer span.End()
	span.SetAttributes(attribute.Float64("tips.max_age_seconds", s.maxAge.Seconds()))

	released, err := s.tips.ReleaseStale(ctx, s.maxAge)
	if err != nil {
		span.RecordError(err)
		slog.Error("stale tip sweep failed", slog.Any("error", err))
		return
	}
	span.SetAttributes(attribute.Int64("tips.released", released))
	if released > 0 {
		observability.TipsReleasedTotal.Add(float64(released))
		slog.Warn("released stale processing tips", slog.Int64("count", released))
	}
}
