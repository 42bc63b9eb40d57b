package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldnotes-io/tipline/internal/domain"
	"github.com/fieldnotes-io/tipline/internal/usecase"
)

func pendingTips(n int, locationID int64) []domain.Tip {
	tips := make([]domain.Tip, n)
	base := time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC)
	for i := range tips {
		tips[i] = domain.Tip{
			ID:          int64(i + 1),
			RawText:     fmt.Sprintf("tip %d", i+1),
			LocationID:  locationID,
			SubmittedAt: base.Add(time.Duration(i) * time.Minute),
			Status:      domain.TipProcessing,
		}
	}
	return tips
}

func newPipeline(tips *fakeTipRepo, proc *fakeProcessor) *usecase.PipelineService {
	return &usecase.PipelineService{
		Tips:          tips,
		Processor:     proc,
		BatchSize:     2,
		Fanout:        2,
		PerRunLimit:   100,
		ShutdownGrace: 100 * time.Millisecond,
	}
}

func TestPipelineRun_HappyPath(t *testing.T) {
	t.Parallel()
	repo := newFakeTipRepo()
	claimed := pendingTips(5, 1)
	repo.claimFn = func(limit int) ([]domain.Tip, error) {
		assert.Equal(t, 100, limit)
		return claimed, nil
	}
	proc := &fakeProcessor{}

	svc := newPipeline(repo, proc)
	stats, err := svc.Run(context.Background(), usecase.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 5, stats.Claimed)
	assert.Equal(t, 5, stats.Processed)
	assert.Zero(t, stats.Failed)
	assert.Len(t, repo.recorded(), 5)
	assert.Len(t, proc.dispatched(), 3, "5 tips at batch size 2")

	require.Len(t, repo.released, 1)
	assert.Len(t, repo.released[0], 5, "all claimed ids passed to release")
}

func TestPipelineRun_NoPendingTips(t *testing.T) {
	t.Parallel()
	repo := newFakeTipRepo()
	proc := &fakeProcessor{}

	stats, err := newPipeline(repo, proc).Run(context.Background(), usecase.RunOptions{})
	require.NoError(t, err)
	assert.Zero(t, stats.Claimed)
	assert.Empty(t, proc.dispatched())
	assert.Empty(t, repo.released, "nothing claimed, nothing to release")
}

func TestPipelineRun_SingleFlight(t *testing.T) {
	t.Parallel()
	repo := newFakeTipRepo()
	repo.claimFn = func(int) ([]domain.Tip, error) { return pendingTips(1, 1), nil }

	release := make(chan struct{})
	started := make(chan struct{})
	var startedOnce sync.Once
	proc := &fakeProcessor{}
	proc.batchFn = func(_ domain.Context, items []domain.BatchItem) ([]domain.BatchResult, error) {
		startedOnce.Do(func() { close(started) })
		<-release
		return []domain.BatchResult{{ID: items[0].ID, DetectedLanguage: "en", TranslatedText: "x", Vector: make(domain.Vector, domain.EmbeddingDim)}}, nil
	}

	svc := newPipeline(repo, proc)
	done := make(chan error, 1)
	go func() {
		_, err := svc.Run(context.Background(), usecase.RunOptions{})
		done <- err
	}()
	<-started

	_, err := svc.Run(context.Background(), usecase.RunOptions{})
	assert.ErrorIs(t, err, domain.ErrRunActive)

	close(release)
	require.NoError(t, <-done)

	// The guard clears once the first run finishes.
	_, err = svc.Run(context.Background(), usecase.RunOptions{})
	require.NoError(t, err)
}

func TestPipelineRun_WorkerUnavailableReleasesAndAborts(t *testing.T) {
	t.Parallel()
	repo := newFakeTipRepo()
	repo.claimFn = func(int) ([]domain.Tip, error) { return pendingTips(3, 1), nil }
	repo.releaseFn = func(ids []int64) (int64, error) { return int64(len(ids)), nil }
	proc := &fakeProcessor{healthFn: func() error { return errors.New("connection refused") }}

	stats, err := newPipeline(repo, proc).Run(context.Background(), usecase.RunOptions{})
	assert.ErrorIs(t, err, domain.ErrPipelineAborted)
	assert.Equal(t, int64(3), stats.Released, "claimed tips go back to pending")
	require.Len(t, repo.released, 1)
	assert.Equal(t, []int64{1, 2, 3}, repo.released[0])
	assert.Empty(t, proc.dispatched())
}

func TestPipelineRun_EmptyBacklogSkipsWake(t *testing.T) {
	t.Parallel()
	repo := newFakeTipRepo()
	waker := &fakeWaker{ensureFn: func(bool) error {
		t.Error("must not touch the worker when nothing is claimed")
		return nil
	}}
	proc := &fakeProcessor{}

	svc := newPipeline(repo, proc)
	svc.Waker = waker
	_, err := svc.Run(context.Background(), usecase.RunOptions{Wake: true})
	require.NoError(t, err)
	assert.Empty(t, waker.calls)
}

func TestPipelineRun_WakerPreferredOverHealthProbe(t *testing.T) {
	t.Parallel()
	repo := newFakeTipRepo()
	repo.claimFn = func(int) ([]domain.Tip, error) { return pendingTips(1, 1), nil }
	waker := &fakeWaker{}
	proc := &fakeProcessor{healthFn: func() error {
		t.Error("waker must own readiness when configured")
		return nil
	}}

	svc := newPipeline(repo, proc)
	svc.Waker = waker
	_, err := svc.Run(context.Background(), usecase.RunOptions{Wake: true})
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, waker.calls)
}

func TestPipelineRun_BatchExhaustionFailsWholeBatch(t *testing.T) {
	t.Parallel()
	repo := newFakeTipRepo()
	repo.claimFn = func(int) ([]domain.Tip, error) { return pendingTips(2, 1), nil }
	proc := &fakeProcessor{}
	proc.batchFn = func(domain.Context, []domain.BatchItem) ([]domain.BatchResult, error) {
		return nil, errors.New("worker gone")
	}

	stats, err := newPipeline(repo, proc).Run(context.Background(), usecase.RunOptions{})
	require.NoError(t, err, "batch failure is not a run failure")
	assert.Equal(t, 2, stats.Failed)
	assert.Zero(t, stats.Processed)
	for _, id := range []int64{1, 2} {
		reason, ok := repo.failureReason(id)
		require.True(t, ok)
		assert.Equal(t, domain.ReasonBatchExhausted, reason)
	}
}

func TestPipelineRun_ItemErrorFailsOnlyThatTip(t *testing.T) {
	t.Parallel()
	repo := newFakeTipRepo()
	repo.claimFn = func(int) ([]domain.Tip, error) { return pendingTips(2, 1), nil }
	proc := &fakeProcessor{}
	proc.batchFn = func(_ domain.Context, items []domain.BatchItem) ([]domain.BatchResult, error) {
		results := make([]domain.BatchResult, len(items))
		for i, item := range items {
			if item.ID == 2 {
				results[i] = domain.BatchResult{ID: item.ID, Err: "no content after sanitation"}
				continue
			}
			results[i] = domain.BatchResult{ID: item.ID, DetectedLanguage: "en", TranslatedText: item.Text, Vector: make(domain.Vector, domain.EmbeddingDim)}
		}
		return results, nil
	}

	stats, err := newPipeline(repo, proc).Run(context.Background(), usecase.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.Failed)
	reason, ok := repo.failureReason(2)
	require.True(t, ok)
	assert.Equal(t, "no content after sanitation", reason)
}

func TestPipelineRun_MissingResultRecordedAsFailure(t *testing.T) {
	t.Parallel()
	repo := newFakeTipRepo()
	repo.claimFn = func(int) ([]domain.Tip, error) { return pendingTips(2, 1), nil }
	proc := &fakeProcessor{}
	proc.batchFn = func(_ domain.Context, items []domain.BatchItem) ([]domain.BatchResult, error) {
		// Worker returns only the first item.
		return []domain.BatchResult{{ID: items[0].ID, DetectedLanguage: "en", TranslatedText: "x", Vector: make(domain.Vector, domain.EmbeddingDim)}}, nil
	}

	stats, err := newPipeline(repo, proc).Run(context.Background(), usecase.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.Failed)
	reason, ok := repo.failureReason(2)
	require.True(t, ok)
	assert.Equal(t, domain.ReasonResultMissing, reason)
}

func TestPipelineRun_TransientPersistRetried(t *testing.T) {
	t.Parallel()
	repo := newFakeTipRepo()
	repo.claimFn = func(int) ([]domain.Tip, error) { return pendingTips(1, 1), nil }
	var attempts atomic.Int32
	repo.recordResultFn = func(domain.ProcessResult) error {
		if attempts.Add(1) < 3 {
			return fmt.Errorf("op=tip.record_result: %w", domain.ErrTransient)
		}
		return nil
	}
	proc := &fakeProcessor{}

	stats, err := newPipeline(repo, proc).Run(context.Background(), usecase.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Len(t, repo.recorded(), 1)
}

func TestPipelineRun_PermanentPersistFailureLeavesTipForRelease(t *testing.T) {
	t.Parallel()
	repo := newFakeTipRepo()
	repo.claimFn = func(int) ([]domain.Tip, error) { return pendingTips(1, 1), nil }
	var attempts atomic.Int32
	repo.recordResultFn = func(domain.ProcessResult) error {
		attempts.Add(1)
		return errors.New("disk full")
	}
	proc := &fakeProcessor{}

	stats, err := newPipeline(repo, proc).Run(context.Background(), usecase.RunOptions{})
	require.NoError(t, err)
	assert.Zero(t, stats.Processed)
	assert.Zero(t, stats.Failed)
	assert.Equal(t, int32(1), attempts.Load(), "non-transient errors are not retried")
	require.Len(t, repo.released, 1)
}

func TestPipelineRun_CancellationStopsDispatch(t *testing.T) {
	t.Parallel()
	repo := newFakeTipRepo()
	repo.claimFn = func(int) ([]domain.Tip, error) { return pendingTips(4, 1), nil }
	repo.releaseFn = func(ids []int64) (int64, error) { return int64(len(ids)), nil }
	proc := &fakeProcessor{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := newPipeline(repo, proc)
	svc.BatchSize = 1

	stats, err := svc.Run(ctx, usecase.RunOptions{Promote: true})
	assert.ErrorIs(t, err, domain.ErrPipelineAborted)
	assert.Empty(t, proc.dispatched(), "no batch starts after cancellation")
	assert.Zero(t, stats.Processed)
	assert.Zero(t, stats.Failed)
	assert.Equal(t, int64(4), stats.Released, "claimed tips go back to pending")
	assert.Zero(t, stats.LocationsPromoted, "no promotion phase after abort")
}

func TestPipelineRun_AbandonedBatchCompensatedNotFailed(t *testing.T) {
	t.Parallel()
	repo := newFakeTipRepo()
	repo.claimFn = func(int) ([]domain.Tip, error) { return pendingTips(2, 1), nil }
	repo.releaseFn = func(ids []int64) (int64, error) { return int64(len(ids)), nil }

	started := make(chan struct{})
	var startedOnce sync.Once
	proc := &fakeProcessor{}
	proc.batchFn = func(bctx domain.Context, _ []domain.BatchItem) ([]domain.BatchResult, error) {
		startedOnce.Do(func() { close(started) })
		// Holds past the grace window; only the batch context cancel
		// lets go.
		<-bctx.Done()
		return nil, bctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := newPipeline(repo, proc)
	svc.BatchSize = 2
	svc.ShutdownGrace = 20 * time.Millisecond

	done := make(chan struct{})
	var stats usecase.RunStats
	var runErr error
	go func() {
		defer close(done)
		stats, runErr = svc.Run(ctx, usecase.RunOptions{Promote: true})
	}()
	<-started
	cancel()
	<-done

	assert.ErrorIs(t, runErr, domain.ErrPipelineAborted)
	assert.Zero(t, stats.Failed, "abandoned tips are compensated, not failed")
	for _, id := range []int64{1, 2} {
		_, failed := repo.failureReason(id)
		assert.False(t, failed, "tip %d must carry no failure reason", id)
	}
	assert.Equal(t, int64(2), stats.Released)
	assert.Zero(t, stats.LocationsPromoted, "no promotion phase after abort")
	require.Len(t, repo.released, 1, "claimed tips always released")
}

func TestPipelineRun_ZeroPerRunLimitClaimsNothing(t *testing.T) {
	t.Parallel()
	repo := newFakeTipRepo()
	var limits []int
	repo.claimFn = func(limit int) ([]domain.Tip, error) {
		limits = append(limits, limit)
		return nil, nil
	}
	proc := &fakeProcessor{}

	svc := newPipeline(repo, proc)
	svc.PerRunLimit = 0

	stats, err := svc.Run(context.Background(), usecase.RunOptions{})
	require.NoError(t, err)
	assert.Zero(t, stats.Claimed)
	assert.Equal(t, []int{0}, limits, "the configured zero reaches the gateway untouched")
	assert.Empty(t, proc.dispatched())
	assert.Empty(t, repo.released)
}

func TestPipelineRun_PromotesTouchedLocations(t *testing.T) {
	t.Parallel()
	repo := newFakeTipRepo()
	repo.claimFn = func(int) ([]domain.Tip, error) {
		tips := pendingTips(4, 0)
		tips[0].LocationID = 2
		tips[1].LocationID = 1
		tips[2].LocationID = 2
		tips[3].LocationID = 1
		return tips, nil
	}
	repo.listProcessedFn = func(locationID int64) ([]domain.ProcessedTip, error) {
		return []domain.ProcessedTip{
			{TipID: 1, TranslatedText: "a", Vector: unit(1, 0, 0)},
			{TipID: 2, TranslatedText: "b", Vector: unit(1, 0, 0)},
			{TipID: 3, TranslatedText: "c", Vector: unit(1, 0, 0)},
		}, nil
	}
	promos := newFakePromoRepo()
	proc := &fakeProcessor{}

	svc := newPipeline(repo, proc)
	svc.Promotion = usecase.NewPromotionService(repo, promos, nil, 0.85, 3)

	stats, err := svc.Run(context.Background(), usecase.RunOptions{Promote: true})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.LocationsPromoted)
	assert.Equal(t, 2, stats.PromotionsWritten)
	assert.Len(t, promos.replaced[1], 1)
	assert.Len(t, promos.replaced[2], 1)
}

func TestPipelineRun_PromoteSkippedWhenDisabled(t *testing.T) {
	t.Parallel()
	repo := newFakeTipRepo()
	repo.claimFn = func(int) ([]domain.Tip, error) { return pendingTips(3, 1), nil }
	promos := newFakePromoRepo()
	proc := &fakeProcessor{}

	svc := newPipeline(repo, proc)
	svc.Promotion = usecase.NewPromotionService(repo, promos, nil, 0.85, 3)

	stats, err := svc.Run(context.Background(), usecase.RunOptions{Promote: false})
	require.NoError(t, err)
	assert.Zero(t, stats.LocationsPromoted)
	assert.Empty(t, promos.replaced)
}
