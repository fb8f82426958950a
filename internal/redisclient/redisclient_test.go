package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/knowledged/internal/config"
)

func TestNewModes(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := New(config.RedisConfig{Mode: "standalone", Addr: mr.Addr()})
	require.NoError(t, err)
	require.NoError(t, client.Ping(context.Background()).Err())
	client.Close()

	_, err = New(config.RedisConfig{Mode: "mirrored"})
	assert.Error(t, err)
}

func TestLockMutualExclusion(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	ctx := context.Background()

	lock, err := AcquireLock(ctx, client, "create:vector_index_kb1", time.Minute)
	require.NoError(t, err)

	// A second holder must not get the lock while the first holds it.
	shortCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err = AcquireLock(shortCtx, client, "create:vector_index_kb1", time.Minute)
	assert.Error(t, err)

	require.NoError(t, lock.Release(ctx))

	lock2, err := AcquireLock(ctx, client, "create:vector_index_kb1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, lock2.Release(ctx))
}

func TestLockReleaseIsOwnerScoped(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	ctx := context.Background()

	lock, err := AcquireLock(ctx, client, "x", time.Minute)
	require.NoError(t, err)

	// Simulate another holder taking over after expiry.
	mr.Set("lock:x", "someone-else")

	require.NoError(t, lock.Release(ctx))
	val, err := mr.Get("lock:x")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", val)
}
