package lock

import (
	"context"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/pesio-ai/be-mfg-batch-approvals/internal/errors"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/logger"
)

// RedisConfig tunes the distributed locker.
type RedisConfig struct {
	Prefix     string
	TTL        time.Duration
	RetryEvery time.Duration
	MaxRetries int
}

// Redis is a Locker shared between processes through Redis.
type Redis struct {
	client *redislock.Client
	cfg    RedisConfig
	log    *logger.Logger
}

// NewRedis creates a distributed locker on top of an existing go-redis client.
func NewRedis(rdb redis.UniversalClient, cfg RedisConfig, log *logger.Logger) *Redis {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.RetryEvery <= 0 {
		cfg.RetryEvery = 100 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 50
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "lock:"
	}
	return &Redis{client: redislock.New(rdb), cfg: cfg, log: log}
}

// Lock obtains key, retrying linearly until MaxRetries is exhausted.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	l, err := r.client.Obtain(ctx, r.cfg.Prefix+key, r.cfg.TTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(r.cfg.RetryEvery), r.cfg.MaxRetries),
	})
	if err == redislock.ErrNotObtained {
		return nil, errors.Conflict("could not obtain lock " + key)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to obtain lock "+key)
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// release with a fresh context so a cancelled caller still frees the key
		if err := l.Release(context.Background()); err != nil && err != redislock.ErrLockNotHeld {
			r.log.Warn().Err(err).Str("key", key).Msg("failed to release lock")
		}
	}, nil
}
