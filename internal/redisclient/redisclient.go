// Package redisclient constructs the shared redis client and provides
// a small named-lock primitive over it.
package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fyrsmithlabs/knowledged/internal/config"
)

// New builds a redis client for the configured deployment mode.
// UniversalClient covers standalone, cluster and sentinel.
func New(cfg config.RedisConfig) (redis.UniversalClient, error) {
	switch cfg.Mode {
	case "standalone":
		return redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		}), nil
	case "cluster":
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    cfg.Addrs,
			Username: cfg.Username,
			Password: cfg.Password,
		}), nil
	case "sentinel":
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.MasterName,
			SentinelAddrs: cfg.SentinelAddrs,
			Username:      cfg.Username,
			Password:      cfg.Password,
			DB:            cfg.DB,
		}), nil
	default:
		return nil, fmt.Errorf("redisclient: unknown mode %q", cfg.Mode)
	}
}

// Lock is a best-effort distributed lock held under a redis key.
type Lock struct {
	client redis.UniversalClient
	key    string
	token  string
}

// releaseScript deletes the key only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// AcquireLock blocks until the named lock is acquired or ctx is done.
// ttl bounds how long a crashed holder can wedge the lock.
func AcquireLock(ctx context.Context, client redis.UniversalClient, name string, ttl time.Duration) (*Lock, error) {
	lock := &Lock{
		client: client,
		key:    "lock:" + name,
		token:  uuid.NewString(),
	}
	for {
		ok, err := client.SetNX(ctx, lock.key, lock.token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redisclient: acquiring lock %s: %w", name, err)
		}
		if ok {
			return lock, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Release frees the lock if still held by this holder.
func (l *Lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("redisclient: releasing lock: %w", err)
	}
	return nil
}
