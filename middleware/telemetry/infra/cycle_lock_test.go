package infra

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCycleLock_SingleHolder(t *testing.T) {
	mr, rdb := newTestRedis(t)
	keys := NewKeyspace("")
	lock := NewRedisCycleLock(rdb, keys, 50*time.Second)
	ctx := context.Background()

	release, ok, err := lock.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 50*time.Second, mr.TTL(keys.FlushLock()))

	_, ok, err = lock.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	release2, ok, err := lock.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	release2()
}

func TestRedisCycleLock_StaleReleaseKeepsNewHolder(t *testing.T) {
	mr, rdb := newTestRedis(t)
	keys := NewKeyspace("")
	lock := NewRedisCycleLock(rdb, keys, time.Second)
	ctx := context.Background()

	stale, ok, err := lock.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = lock.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	stale()
	assert.True(t, mr.Exists(keys.FlushLock()))
}

func TestRedisCycleLock_ErrorWhenStoreIsDown(t *testing.T) {
	mr, rdb := newTestRedis(t)
	lock := NewRedisCycleLock(rdb, NewKeyspace(""), time.Second)
	mr.Close()

	_, ok, err := lock.TryAcquire(context.Background())
	assert.Error(t, err)
	assert.False(t, ok)
}
