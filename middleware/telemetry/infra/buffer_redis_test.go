package infra

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"telemetry-gateway/middleware/telemetry/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(path string) domain.RequestEvent {
	subject := "42"
	return domain.RequestEvent{
		Subject:      &subject,
		SubjectClass: domain.SubjectUser,
		Path:         path,
		Method:       "GET",
		Operation:    domain.OperationRead,
		Module:       "orders",
		Status:       200,
		ResourceIDs:  []int64{1, 2},
		ClientIP:     "10.0.0.1",
		DurationMs:   12,
		OccurredAt:   time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRedisBuffer_FirstRotateWithoutActiveBatchIsEmpty(t *testing.T) {
	_, rdb := newTestRedis(t)
	buf := NewRedisBuffer(rdb, NewKeyspace(""))

	env, err := buf.RotateAndDrain(context.Background())
	require.NoError(t, err)
	assert.True(t, env.Empty())
	assert.Empty(t, env.ID)
}

func TestRedisBuffer_DrainReturnsAppendedEventsInOrder(t *testing.T) {
	_, rdb := newTestRedis(t)
	buf := NewRedisBuffer(rdb, NewKeyspace(""))
	ctx := context.Background()

	const k = 25
	for i := 0; i < k; i++ {
		require.NoError(t, buf.Append(ctx, testEvent(fmt.Sprintf("/orders/%d", i))))
	}

	env, err := buf.RotateAndDrain(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, env.ID)
	require.Len(t, env.Events, k)
	for i, ev := range env.Events {
		assert.Equal(t, fmt.Sprintf("/orders/%d", i), ev.Path)
	}
	assert.Equal(t, "42", *env.Events[0].Subject)
	assert.True(t, env.Events[0].OccurredAt.Equal(testEvent("").OccurredAt))

	// eventos depois da rotação caem no lote novo
	require.NoError(t, buf.Append(ctx, testEvent("/after")))
	next, err := buf.RotateAndDrain(ctx)
	require.NoError(t, err)
	require.Len(t, next.Events, 1)
	assert.Equal(t, "/after", next.Events[0].Path)
	assert.NotEqual(t, env.ID, next.ID)
}

func TestRedisBuffer_ConcurrentRotateDrainsBatchOnce(t *testing.T) {
	_, rdb := newTestRedis(t)
	buf := NewRedisBuffer(rdb, NewKeyspace(""))
	ctx := context.Background()

	const k = 40
	for i := 0; i < k; i++ {
		require.NoError(t, buf.Append(ctx, testEvent(fmt.Sprintf("/e/%d", i))))
	}

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []domain.BatchEnvelope
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env, err := buf.RotateAndDrain(ctx)
			assert.NoError(t, err)
			mu.Lock()
			results = append(results, env)
			mu.Unlock()
		}()
	}
	wg.Wait()

	nonEmpty := 0
	seen := map[string]bool{}
	for _, env := range results {
		if len(env.Events) > 0 {
			nonEmpty++
			assert.Len(t, env.Events, k)
		}
		if env.ID != "" {
			assert.Falsef(t, seen[env.ID], "batch %s drained twice", env.ID)
			seen[env.ID] = true
		}
	}
	assert.Equal(t, 1, nonEmpty)
}

func TestRedisBuffer_BatchStaysPendingUntilDiscard(t *testing.T) {
	mr, rdb := newTestRedis(t)
	keys := NewKeyspace("")
	buf := NewRedisBuffer(rdb, keys)
	ctx := context.Background()

	require.NoError(t, buf.Append(ctx, testEvent("/a")))
	env, err := buf.RotateAndDrain(ctx)
	require.NoError(t, err)

	pending, err := buf.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{env.ID}, pending)

	again, err := buf.Load(ctx, env.ID)
	require.NoError(t, err)
	assert.Len(t, again.Events, 1)

	require.NoError(t, buf.Discard(ctx, env.ID))
	pending, err = buf.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.False(t, mr.Exists(keys.BufferBatch(env.ID)))
}

func TestRedisBuffer_BatchKeysCarryTTL(t *testing.T) {
	mr, rdb := newTestRedis(t)
	keys := NewKeyspace("")
	buf := NewRedisBuffer(rdb, keys, WithBufferTTL(48*time.Hour))
	ctx := context.Background()

	require.NoError(t, buf.Append(ctx, testEvent("/a")))
	env, err := buf.RotateAndDrain(ctx)
	require.NoError(t, err)

	assert.Equal(t, 48*time.Hour, mr.TTL(keys.BufferBatch(env.ID)))
	assert.Equal(t, 48*time.Hour, mr.TTL(keys.BufferDraining()))
	assert.Equal(t, 48*time.Hour, mr.TTL(keys.BufferActive()))
}

func TestRedisBuffer_ActivePointerTTLFollowsAppends(t *testing.T) {
	mr, rdb := newTestRedis(t)
	keys := NewKeyspace("")
	buf := NewRedisBuffer(rdb, keys, WithBufferTTL(time.Hour))
	ctx := context.Background()

	require.NoError(t, buf.Append(ctx, testEvent("/a")))
	first, err := rdb.Get(ctx, keys.BufferActive()).Result()
	require.NoError(t, err)

	mr.FastForward(40 * time.Minute)
	require.NoError(t, buf.Append(ctx, testEvent("/b")))
	assert.Equal(t, time.Hour, mr.TTL(keys.BufferActive()))

	same, err := rdb.Get(ctx, keys.BufferActive()).Result()
	require.NoError(t, err)
	assert.Equal(t, first, same)

	env, err := buf.RotateAndDrain(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, env.ID)
	assert.Len(t, env.Events, 2)
}

func TestRedisBuffer_LoadSkipsUndecodableEntries(t *testing.T) {
	_, rdb := newTestRedis(t)
	keys := NewKeyspace("")
	buf := NewRedisBuffer(rdb, keys)
	ctx := context.Background()

	require.NoError(t, buf.Append(ctx, testEvent("/ok")))
	active, err := rdb.Get(ctx, keys.BufferActive()).Result()
	require.NoError(t, err)
	require.NoError(t, rdb.RPush(ctx, keys.BufferBatch(active), "\xc1garbage").Err())

	env, err := buf.RotateAndDrain(ctx)
	require.NoError(t, err)
	require.Len(t, env.Events, 1)
	assert.Equal(t, "/ok", env.Events[0].Path)
}

func TestRedisBuffer_AppendFailsWhenStoreIsDown(t *testing.T) {
	mr, rdb := newTestRedis(t)
	buf := NewRedisBuffer(rdb, NewKeyspace(""))
	mr.Close()

	assert.Error(t, buf.Append(context.Background(), testEvent("/a")))
}
