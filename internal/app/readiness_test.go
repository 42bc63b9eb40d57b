package app_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldnotes-io/tipline/internal/app"
	"github.com/fieldnotes-io/tipline/internal/domain"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type redisResult struct{ err error }

func (r redisResult) Err() error { return r.err }

type redisStub struct{ err error }

func (r redisStub) Ping(context.Context) app.RedisPingResult { return redisResult{err: r.err} }

type healthStub struct {
	domain.BatchProcessor
	err error
}

func (h healthStub) Health(context.Context) error { return h.err }

func TestBuildReadinessChecks_AllHealthy(t *testing.T) {
	t.Parallel()
	db, redis, worker := app.BuildReadinessChecks(
		pingerFunc(func(context.Context) error { return nil }),
		redisStub{},
		healthStub{},
	)
	ctx := context.Background()
	assert.NoError(t, db(ctx))
	require.NotNil(t, redis)
	assert.NoError(t, redis(ctx))
	require.NotNil(t, worker)
	assert.NoError(t, worker(ctx))
}

func TestBuildReadinessChecks_Failures(t *testing.T) {
	t.Parallel()
	db, redis, worker := app.BuildReadinessChecks(
		pingerFunc(func(context.Context) error { return errors.New("db down") }),
		redisStub{err: errors.New("redis down")},
		healthStub{err: domain.ErrWorkerUnavailable},
	)
	ctx := context.Background()
	assert.Error(t, db(ctx))
	assert.Error(t, redis(ctx))
	assert.ErrorIs(t, worker(ctx), domain.ErrWorkerUnavailable)
}

func TestBuildReadinessChecks_OptionalDepsSkipped(t *testing.T) {
	t.Parallel()
	db, redis, worker := app.BuildReadinessChecks(nil, nil, nil)
	assert.Error(t, db(context.Background()), "missing db is a hard failure")
	assert.Nil(t, redis, "unconfigured redis is skipped")
	assert.Nil(t, worker, "unconfigured worker is skipped")
}
