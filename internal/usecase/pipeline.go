package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/fieldnotes-io/tipline/internal/adapter/observability"
	"github.com/fieldnotes-io/tipline/internal/domain"
)

// RunOptions selects the optional phases of a pipeline run.
type RunOptions struct {
	Wake    bool // send wake packets if the worker probe fails
	Promote bool // rebuild promotions after processing
}

// RunStats summarizes one pipeline run.
type RunStats struct {
	RunID             uuid.UUID
	Claimed           int
	Processed         int
	Failed            int
	Released          int64
	LocationsPromoted int
	PromotionsWritten int
	Duration          time.Duration
}

// PipelineService drives the nightly run: ensure the worker is ready,
// claim pending tips, fan batches out to the worker, persist results,
// release whatever is left claimed, then rebuild promotions.
type PipelineService struct {
	Tips      domain.TipRepository
	Processor domain.BatchProcessor
	Waker     domain.Waker // optional; Processor.Health used when nil
	Promotion *PromotionService

	BatchSize     int
	Fanout        int
	PerRunLimit   int
	ShutdownGrace time.Duration

	Log *slog.Logger

	running atomic.Bool
}

const (
	persistRetryInterval = 100 * time.Millisecond
	persistRetryAttempts = 3
)

// Run executes one pipeline run. Only one run may be active per
// process; a concurrent call fails with ErrRunActive. A canceled ctx
// lets in-flight batches finish within ShutdownGrace, releases every
// still-claimed tip, and returns ErrPipelineAborted.
func (s *PipelineService) Run(ctx context.Context, opts RunOptions) (RunStats, error) {
	if !s.running.CompareAndSwap(false, true) {
		return RunStats{}, fmt.Errorf("op=pipeline.run: %w", domain.ErrRunActive)
	}
	defer s.running.Store(false)
	return s.run(ctx, opts, uuid.New())
}

// StartAsync reserves the single-flight slot and runs the pipeline in
// a background goroutine, returning the run id immediately. onDone, if
// non-nil, receives the outcome.
func (s *PipelineService) StartAsync(ctx context.Context, opts RunOptions, onDone func(RunStats, error)) (uuid.UUID, error) {
	if !s.running.CompareAndSwap(false, true) {
		return uuid.Nil, fmt.Errorf("op=pipeline.start: %w", domain.ErrRunActive)
	}
	runID := uuid.New()
	go func() {
		defer s.running.Store(false)
		stats, err := s.run(ctx, opts, runID)
		if onDone != nil {
			onDone(stats, err)
		}
	}()
	return runID, nil
}

func (s *PipelineService) run(ctx context.Context, opts RunOptions, runID uuid.UUID) (RunStats, error) {
	tracer := otel.Tracer("usecase.pipeline")
	ctx, span := tracer.Start(ctx, "pipeline.Run")
	defer span.End()

	stats := RunStats{RunID: runID}
	started := time.Now()
	defer func() { stats.Duration = time.Since(started) }()

	log := s.logger().With(slog.String("run_id", stats.RunID.String()))
	span.SetAttributes(attribute.String("run.id", stats.RunID.String()))
	log.Info("pipeline run starting",
		slog.Bool("wake", opts.Wake), slog.Bool("promote", opts.Promote))

	tips, err := s.Tips.ClaimPending(ctx, s.perRunLimit())
	if err != nil {
		return stats, fmt.Errorf("op=pipeline.run: %w", err)
	}
	stats.Claimed = len(tips)
	log.Info("claimed pending tips", slog.Int("count", len(tips)))

	if len(tips) > 0 {
		claimedIDs := make([]int64, len(tips))
		for i, t := range tips {
			claimedIDs[i] = t.ID
		}

		// Readiness comes after the claim so an empty backlog never
		// wakes the worker machine.
		if err := s.ensureWorkerReady(ctx, opts.Wake); err != nil {
			released, relErr := s.Tips.Release(context.WithoutCancel(ctx), claimedIDs)
			if relErr != nil {
				log.Error("release failed, stale sweep will recover", slog.Any("error", relErr))
			}
			stats.Released = released
			observability.TipsReleasedTotal.Add(float64(released))
			log.Error("worker not ready, aborting", slog.Any("error", err))
			return stats, fmt.Errorf("op=pipeline.run: %w: %w", domain.ErrPipelineAborted, err)
		}

		var processed, failed atomic.Int64
		aborted := s.dispatchBatches(ctx, log, tips, &processed, &failed)
		stats.Processed = int(processed.Load())
		stats.Failed = int(failed.Load())

		// Compensation: anything still claimed goes back to pending.
		// Release only touches processing rows, so recorded tips are safe.
		released, relErr := s.Tips.Release(context.WithoutCancel(ctx), claimedIDs)
		if relErr != nil {
			log.Error("release failed, stale sweep will recover", slog.Any("error", relErr))
		}
		stats.Released = released
		observability.TipsReleasedTotal.Add(float64(released))

		if aborted {
			log.Warn("pipeline aborted by shutdown",
				slog.Int("processed", stats.Processed), slog.Int64("released", released))
			return stats, fmt.Errorf("op=pipeline.run: %w", domain.ErrPipelineAborted)
		}
	}

	if opts.Promote {
		if err := s.rebuildPromotions(ctx, log, tips, &stats); err != nil {
			return stats, err
		}
	}

	log.Info("pipeline run finished",
		slog.Int("claimed", stats.Claimed),
		slog.Int("processed", stats.Processed),
		slog.Int("failed", stats.Failed),
		slog.Int64("released", stats.Released),
		slog.Int("locations_promoted", stats.LocationsPromoted),
		slog.Int("promotions_written", stats.PromotionsWritten),
		slog.Duration("duration", time.Since(started)))
	return stats, nil
}

// Running reports whether a run is currently in flight.
func (s *PipelineService) Running() bool { return s.running.Load() }

func (s *PipelineService) ensureWorkerReady(ctx context.Context, wake bool) error {
	if s.Waker != nil {
		return s.Waker.EnsureReady(ctx, wake)
	}
	if err := s.Processor.Health(ctx); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrWorkerUnavailable, err)
	}
	return nil
}

// dispatchBatches fans tip batches out to the worker and persists the
// outcomes. Returns true if the run was aborted by ctx cancellation.
func (s *PipelineService) dispatchBatches(ctx context.Context, log *slog.Logger, tips []domain.Tip, processed, failed *atomic.Int64) bool {
	// Batches run on a context detached from ctx so an in-flight batch
	// may finish during the grace window after shutdown is requested.
	batchCtx, cancelBatches := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBatches()

	var abortedFlag atomic.Bool
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		select {
		case <-ctx.Done():
			abortedFlag.Store(true)
			t := time.NewTimer(s.shutdownGrace())
			defer t.Stop()
			select {
			case <-t.C:
				cancelBatches()
			case <-batchCtx.Done():
			}
		case <-batchCtx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(batchCtx)
	g.SetLimit(s.fanout())
	for _, batch := range chunkTips(tips, s.batchSize()) {
		batch := batch
		g.Go(func() error {
			// A shutdown request stops dispatch immediately; only batches
			// already in flight get the grace window.
			if ctx.Err() != nil {
				return nil
			}
			s.processBatch(gctx, log, batch, processed, failed)
			return nil
		})
	}
	_ = g.Wait()
	cancelBatches()
	<-watcherDone
	return abortedFlag.Load() || ctx.Err() != nil
}

func (s *PipelineService) processBatch(ctx context.Context, log *slog.Logger, batch []domain.Tip, processed, failed *atomic.Int64) {
	observability.BatchDispatchesTotal.Inc()
	timer := prometheus.NewTimer(observability.BatchDuration)
	items := make([]domain.BatchItem, len(batch))
	for i, t := range batch {
		items[i] = domain.BatchItem{ID: t.ID, Text: t.RawText}
	}

	results, err := s.Processor.ProcessBatch(ctx, items)
	timer.ObserveDuration()
	if err != nil {
		if ctx.Err() != nil {
			// Abandoned at grace expiry, not a worker failure: the tips
			// stay in processing so the final release compensates them
			// back to pending.
			log.Warn("batch abandoned by shutdown", slog.Int("size", len(batch)))
			return
		}
		log.Error("batch exhausted retries",
			slog.Int("size", len(batch)), slog.Any("error", err))
		for _, t := range batch {
			s.recordFailure(ctx, log, t.ID, domain.ReasonBatchExhausted)
			failed.Add(1)
		}
		return
	}

	byID := make(map[int64]domain.BatchResult, len(results))
	for _, r := range results {
		if _, dup := byID[r.ID]; dup {
			log.Warn("duplicate result id ignored", slog.Int64("tip_id", r.ID))
			continue
		}
		byID[r.ID] = r
	}
	known := make(map[int64]bool, len(batch))
	for _, t := range batch {
		known[t.ID] = true
	}
	for id := range byID {
		if !known[id] {
			log.Warn("result for unclaimed tip ignored", slog.Int64("tip_id", id))
		}
	}

	for _, t := range batch {
		r, ok := byID[t.ID]
		switch {
		case !ok:
			log.Warn("no result for tip", slog.Int64("tip_id", t.ID))
			s.recordFailure(ctx, log, t.ID, domain.ReasonResultMissing)
			failed.Add(1)
		case r.Err != "":
			s.recordFailure(ctx, log, t.ID, r.Err)
			failed.Add(1)
		default:
			err := s.persistWithRetry(ctx, func() error {
				return s.Tips.RecordResult(ctx, domain.ProcessResult{
					TipID:            t.ID,
					DetectedLanguage: r.DetectedLanguage,
					TranslatedText:   r.TranslatedText,
					Vector:           r.Vector,
				})
			})
			if err != nil {
				// Left in processing; the final release returns it to pending.
				log.Error("persist failed, tip will be released",
					slog.Int64("tip_id", t.ID), slog.Any("error", err))
				continue
			}
			observability.TipsProcessedTotal.Inc()
			processed.Add(1)
		}
	}
}

func (s *PipelineService) recordFailure(ctx context.Context, log *slog.Logger, tipID int64, reason string) {
	observability.TipsFailedTotal.WithLabelValues(reasonLabel(reason)).Inc()
	err := s.persistWithRetry(ctx, func() error {
		return s.Tips.RecordFailure(ctx, tipID, reason)
	})
	if err != nil {
		log.Error("failure record not persisted",
			slog.Int64("tip_id", tipID), slog.String("reason", reason), slog.Any("error", err))
	}
}

// persistWithRetry retries transient persistence failures a few times
// with a short constant delay before giving up.
func (s *PipelineService) persistWithRetry(ctx context.Context, fn func() error) error {
	op := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrTransient) {
			return err
		}
		return backoff.Permanent(err)
	}
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(persistRetryInterval), persistRetryAttempts-1),
		ctx)
	return backoff.Retry(op, bo)
}

func (s *PipelineService) rebuildPromotions(ctx context.Context, log *slog.Logger, tips []domain.Tip, stats *RunStats) error {
	if s.Promotion == nil {
		return nil
	}
	seen := make(map[int64]bool)
	var locationIDs []int64
	for _, t := range tips {
		if !seen[t.LocationID] {
			seen[t.LocationID] = true
			locationIDs = append(locationIDs, t.LocationID)
		}
	}
	sort.Slice(locationIDs, func(i, j int) bool { return locationIDs[i] < locationIDs[j] })

	for _, locID := range locationIDs {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("op=pipeline.promote: %w", domain.ErrPipelineAborted)
		}
		n, err := s.Promotion.Rebuild(ctx, locID)
		if err != nil {
			return fmt.Errorf("op=pipeline.promote location_id=%d: %w", locID, err)
		}
		stats.LocationsPromoted++
		stats.PromotionsWritten += n
		log.Info("promotions rebuilt",
			slog.Int64("location_id", locID), slog.Int("count", n))
	}
	return nil
}

func (s *PipelineService) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

func (s *PipelineService) batchSize() int {
	if s.BatchSize > 0 {
		return s.BatchSize
	}
	return 20
}

func (s *PipelineService) fanout() int {
	if s.Fanout > 0 {
		return s.Fanout
	}
	return 4
}

// perRunLimit honors an explicit zero: the run claims nothing and ends
// with zero stats. Only a negative value falls back to the default.
func (s *PipelineService) perRunLimit() int {
	if s.PerRunLimit >= 0 {
		return s.PerRunLimit
	}
	return 100
}

func (s *PipelineService) shutdownGrace() time.Duration {
	if s.ShutdownGrace > 0 {
		return s.ShutdownGrace
	}
	return 30 * time.Second
}

func chunkTips(tips []domain.Tip, size int) [][]domain.Tip {
	var chunks [][]domain.Tip
	for len(tips) > 0 {
		n := size
		if n > len(tips) {
			n = len(tips)
		}
		chunks = append(chunks, tips[:n])
		tips = tips[n:]
	}
	return chunks
}

// reasonLabel keeps the failure-reason metric label low-cardinality:
// worker item errors are free text, so anything outside the known set
// collapses into one bucket.
func reasonLabel(reason string) string {
	switch reason {
	case domain.ReasonBatchExhausted, domain.ReasonResultMissing:
		return reason
	default:
		return "item_error"
	}
}
