// Package redisdb provides support to access Redis and to take distributed
// locks on it.
package redisdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	goredis "github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// Config is the required properties to use Redis.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Open constructs a Redis client. No connection is made until first use.
func Open(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// StatusCheck returns nil if it can successfully talk to Redis. It retries
// until ctx is done.
func StatusCheck(ctx context.Context, rdb *redis.Client) error {
	for attempts := 1; ; attempts++ {
		err := rdb.Ping(ctx).Err()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("ping: %w", errors.Join(err, ctx.Err()))
		}
		time.Sleep(time.Duration(attempts) * 100 * time.Millisecond)
	}
}

// WithLock runs fn while holding the distributed mutex called name. The lock
// expires after ttl in case the holder dies without unlocking.
func WithLock(ctx context.Context, rdb *redis.Client, name string, ttl time.Duration, fn func() error) error {
	rs := redsync.New(goredis.NewPool(rdb))
	mutex := rs.NewMutex(name,
		redsync.WithExpiry(ttl),
		redsync.WithTries(64),
		redsync.WithRetryDelay(250*time.Millisecond),
	)

	if err := mutex.LockContext(ctx); err != nil {
		return fmt.Errorf("lock %s: %w", name, err)
	}

	fnErr := fn()

	// An unlock failure is only reported when fn succeeded.
	ok, err := mutex.UnlockContext(context.WithoutCancel(ctx))
	switch {
	case fnErr != nil:
		return fnErr
	case err != nil:
		return fmt.Errorf("unlock %s: %w", name, err)
	case !ok:
		return fmt.Errorf("unlock %s: lock already released", name)
	}

	return nil
}
