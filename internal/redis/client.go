package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options configures the connection used for the cross-process store lock.
type Options struct {
	Addr     string
	Username string
	Password string
	DB       int
	// LockTTL bounds the per-command timeouts; a command slower than the
	// lease it guards is useless to the locker.
	LockTTL time.Duration
}

func (o Options) ioTimeout() time.Duration {
	if o.LockTTL <= 0 || o.LockTTL > 4*time.Second {
		return 2 * time.Second
	}
	return o.LockTTL / 2
}

// NewRedisClient dials Redis and fails fast when the server does not answer.
// Only SET NX and the unlock script travel over it, so the pool stays tiny.
func NewRedisClient(ctx context.Context, opts Options) (*redis.Client, error) {
	timeout := opts.ioTimeout()
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Username:     opts.Username,
		Password:     opts.Password,
		DB:           opts.DB,
		ClientName:   "appointment-ledger",
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		PoolSize:     4,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	return rdb, nil
}
