package usecase_test

import (
	"sync"
	"time"

	"github.com/fieldnotes-io/tipline/internal/domain"
)

// Hand-written fakes for the domain ports. Function fields override
// behavior per test; nil fields return zero values.

type fakeTipRepo struct {
	mu sync.Mutex

	claimFn         func(limit int) ([]domain.Tip, error)
	recordResultFn  func(r domain.ProcessResult) error
	recordFailureFn func(tipID int64, reason string) error
	releaseFn       func(ids []int64) (int64, error)
	listProcessedFn func(locationID int64) ([]domain.ProcessedTip, error)
	createFn        func(t domain.Tip) (int64, error)
	getFn           func(id int64) (domain.Tip, error)

	results  []domain.ProcessResult
	failures map[int64]string
	released [][]int64
}

func newFakeTipRepo() *fakeTipRepo {
	return &fakeTipRepo{failures: map[int64]string{}}
}

func (f *fakeTipRepo) Create(_ domain.Context, t domain.Tip) (int64, error) {
	if f.createFn != nil {
		return f.createFn(t)
	}
	return 1, nil
}

func (f *fakeTipRepo) Get(_ domain.Context, id int64) (domain.Tip, error) {
	if f.getFn != nil {
		return f.getFn(id)
	}
	return domain.Tip{}, domain.ErrNotFound
}

func (f *fakeTipRepo) ListByLocation(_ domain.Context, _ int64, _ *domain.TipStatus, _, _ int) ([]domain.Tip, error) {
	return nil, nil
}

func (f *fakeTipRepo) ClaimPending(_ domain.Context, limit int) ([]domain.Tip, error) {
	if f.claimFn != nil {
		return f.claimFn(limit)
	}
	return nil, nil
}

func (f *fakeTipRepo) RecordResult(_ domain.Context, r domain.ProcessResult) error {
	if f.recordResultFn != nil {
		if err := f.recordResultFn(r); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.results = append(f.results, r)
	f.mu.Unlock()
	return nil
}

func (f *fakeTipRepo) RecordFailure(_ domain.Context, tipID int64, reason string) error {
	if f.recordFailureFn != nil {
		if err := f.recordFailureFn(tipID, reason); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.failures[tipID] = reason
	f.mu.Unlock()
	return nil
}

func (f *fakeTipRepo) Release(_ domain.Context, ids []int64) (int64, error) {
	f.mu.Lock()
	f.released = append(f.released, ids)
	f.mu.Unlock()
	if f.releaseFn != nil {
		return f.releaseFn(ids)
	}
	return 0, nil
}

func (f *fakeTipRepo) ReleaseStale(_ domain.Context, _ time.Duration) (int64, error) {
	return 0, nil
}

func (f *fakeTipRepo) ListProcessed(_ domain.Context, locationID int64) ([]domain.ProcessedTip, error) {
	if f.listProcessedFn != nil {
		return f.listProcessedFn(locationID)
	}
	return nil, nil
}

func (f *fakeTipRepo) recorded() []domain.ProcessResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ProcessResult, len(f.results))
	copy(out, f.results)
	return out
}

func (f *fakeTipRepo) failureReason(tipID int64) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.failures[tipID]
	return r, ok
}

type fakeLocationRepo struct {
	getOrCreateFn func(name, country string) (domain.Location, error)
	getFn         func(id int64) (domain.Location, error)
	listFn        func() ([]domain.Location, error)
}

func (f *fakeLocationRepo) GetOrCreate(_ domain.Context, name, country string, _, _ *float64) (domain.Location, error) {
	if f.getOrCreateFn != nil {
		return f.getOrCreateFn(name, country)
	}
	return domain.Location{ID: 1, Name: name, Country: country}, nil
}

func (f *fakeLocationRepo) Get(_ domain.Context, id int64) (domain.Location, error) {
	if f.getFn != nil {
		return f.getFn(id)
	}
	return domain.Location{ID: id}, nil
}

func (f *fakeLocationRepo) List(_ domain.Context) ([]domain.Location, error) {
	if f.listFn != nil {
		return f.listFn()
	}
	return nil, nil
}

type fakePromoRepo struct {
	mu       sync.Mutex
	replaced map[int64][]domain.Promotion

	replaceFn func(locationID int64, promos []domain.Promotion) error
	listFn    func(locationID int64) ([]domain.Promotion, error)
}

func newFakePromoRepo() *fakePromoRepo {
	return &fakePromoRepo{replaced: map[int64][]domain.Promotion{}}
}

func (f *fakePromoRepo) Replace(_ domain.Context, locationID int64, promos []domain.Promotion) error {
	if f.replaceFn != nil {
		if err := f.replaceFn(locationID, promos); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.replaced[locationID] = promos
	f.mu.Unlock()
	return nil
}

func (f *fakePromoRepo) ListByLocation(_ domain.Context, locationID int64) ([]domain.Promotion, error) {
	if f.listFn != nil {
		return f.listFn(locationID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.replaced[locationID], nil
}

type fakeCache struct {
	mu          sync.Mutex
	entries     map[int64][]domain.Promotion
	invalidated []int64

	invalidateErr error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[int64][]domain.Promotion{}}
}

func (f *fakeCache) Get(_ domain.Context, locationID int64) ([]domain.Promotion, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.entries[locationID]
	return p, ok, nil
}

func (f *fakeCache) Set(_ domain.Context, locationID int64, promos []domain.Promotion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[locationID] = promos
	return nil
}

func (f *fakeCache) Invalidate(_ domain.Context, locationID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, locationID)
	delete(f.entries, locationID)
	return f.invalidateErr
}

type fakeProcessor struct {
	mu      sync.Mutex
	batches [][]domain.BatchItem

	healthFn func() error
	batchFn  func(ctx domain.Context, items []domain.BatchItem) ([]domain.BatchResult, error)
}

func (f *fakeProcessor) Health(_ domain.Context) error {
	if f.healthFn != nil {
		return f.healthFn()
	}
	return nil
}

func (f *fakeProcessor) ProcessBatch(ctx domain.Context, items []domain.BatchItem) ([]domain.BatchResult, error) {
	f.mu.Lock()
	f.batches = append(f.batches, items)
	f.mu.Unlock()
	if f.batchFn != nil {
		return f.batchFn(ctx, items)
	}
	results := make([]domain.BatchResult, len(items))
	for i, item := range items {
		results[i] = domain.BatchResult{
			ID:               item.ID,
			DetectedLanguage: "en",
			TranslatedText:   item.Text,
			Vector:           make(domain.Vector, domain.EmbeddingDim),
		}
	}
	return results, nil
}

func (f *fakeProcessor) dispatched() [][]domain.BatchItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]domain.BatchItem, len(f.batches))
	copy(out, f.batches)
	return out
}

type fakeWaker struct {
	ensureFn func(wake bool) error
	calls    []bool
}

func (f *fakeWaker) EnsureReady(_ domain.Context, wake bool) error {
	f.calls = append(f.calls, wake)
	if f.ensureFn != nil {
		return f.ensureFn(wake)
	}
	return nil
}
