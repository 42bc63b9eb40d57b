package app

import (
	"context"
	"fmt"

	"github.com/fieldnotes-io/tipline/internal/domain"
)

// Pinger is the minimal interface for a database pool capable of Ping.
type Pinger interface{ Ping(ctx context.Context) error }

// RedisPingResult is the minimal return type of a Redis client's Ping.
type RedisPingResult interface{ Err() error }

// RedisClient is the minimal interface for a Redis client needed for readiness.
type RedisClient interface{ Ping(ctx context.Context) RedisPingResult }

// BuildReadinessChecks returns the db, redis and worker readiness
// probes. Redis and worker checks are nil when not configured so the
// readiness handler skips them.
func BuildReadinessChecks(pool Pinger, rdb RedisClient, worker domain.BatchProcessor) (
	dbCheck func(ctx context.Context) error,
	redisCheck func(ctx context.Context) error,
	workerCheck func(ctx context.Context) error,
) {
	dbCheck = func(ctx context.Context) error {
		if pool == nil {
			return fmt.Errorf("db not configured")
		}
		return pool.Ping(ctx)
	}
	if rdb != nil {
		redisCheck = func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}
	}
	if worker != nil {
		workerCheck = func(ctx context.Context) error {
			return worker.Health(ctx)
		}
	}
	return dbCheck, redisCheck, workerCheck
}
