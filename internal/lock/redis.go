package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultTTL     = 30 * time.Second
	backoffStep    = 50 * time.Millisecond
	keyPrefix      = "dcard:voucher-lock:"
	transientTries = 3
)

// RedisLocker shares per-key locks across service replicas. The TTL bounds
// how long a crashed holder can keep a key.
type RedisLocker struct {
	cli    *redislock.Client
	ttl    time.Duration
	wait   time.Duration
	logger *zap.Logger
}

var _ Locker = (*RedisLocker)(nil)

func NewRedisLocker(cli redis.UniversalClient, wait, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if wait <= 0 {
		wait = defaultWait
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{cli: redislock.New(cli), ttl: ttl, wait: wait, logger: logger}
}

func (r *RedisLocker) Obtain(ctx context.Context, key string) (Release, error) {
	attempts := int(r.wait / backoffStep)
	if attempts < 1 {
		attempts = 1
	}
	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(backoffStep), attempts),
	}

	waitCtx, cancel := context.WithTimeout(ctx, r.wait)
	defer cancel()

	var held *redislock.Lock
	err := retry.Do(
		func() error {
			l, err := r.cli.Obtain(waitCtx, keyPrefix+key, r.ttl, opts)
			if err != nil {
				return err
			}
			held = l
			return nil
		},
		// Contention already had its backoff inside Obtain; only connection
		// hiccups are worth another round.
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, redislock.ErrNotObtained) && waitCtx.Err() == nil
		}),
		retry.DelayType(retry.FixedDelay),
		retry.Delay(backoffStep),
		retry.Attempts(transientTries),
		retry.LastErrorOnly(true),
	)
	switch {
	case err == nil:
	case errors.Is(err, redislock.ErrNotObtained):
		return nil, ErrLockBusy
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return nil, ErrLockBusy
	default:
		return nil, fmt.Errorf("obtain redis lock %s: %w", key, err)
	}

	return func(ctx context.Context) error {
		if err := held.Release(ctx); err != nil {
			if errors.Is(err, redislock.ErrLockNotHeld) {
				r.logger.Warn("voucher lock expired before release",
					zap.String("key", key),
					zap.Duration("ttl", r.ttl),
				)
				return nil
			}
			return fmt.Errorf("release redis lock %s: %w", key, err)
		}
		return nil
	}, nil
}
