package infra

import (
	"context"
	"testing"
	"time"

	"telemetry-gateway/middleware/telemetry/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStatsStore_RecordsOutcomePerClassAndMinute(t *testing.T) {
	mr, rdb := newTestRedis(t)
	keys := NewKeyspace("")
	store := NewRedisStatsStore(rdb, keys, WithStatsTTL(time.Hour))
	ctx := context.Background()
	at := time.Date(2025, 3, 1, 10, 30, 15, 0, time.UTC)

	require.NoError(t, store.Record(ctx, domain.StatsEvent{Key: "user:1", Class: domain.ClassRead, Allowed: true, At: at}))
	require.NoError(t, store.Record(ctx, domain.StatsEvent{Key: "user:1", Class: domain.ClassRead, Allowed: false, At: at}))
	require.NoError(t, store.Record(ctx, domain.StatsEvent{Key: "user:1", Class: domain.ClassRead, Allowed: true, FailOpen: true, At: at}))

	bucket := keys.AdmissionBucket(domain.ClassRead, "202503011030")
	assert.Equal(t, "1", mr.HGet(bucket, "allowed"))
	assert.Equal(t, "1", mr.HGet(bucket, "denied"))
	assert.Equal(t, "1", mr.HGet(bucket, "fail_open"))
	assert.Equal(t, time.Hour, mr.TTL(bucket))

	assert.Equal(t, "1", mr.HGet(keys.AdmissionTotal(), "allowed"))
	assert.Equal(t, 30*24*time.Hour, mr.TTL(keys.AdmissionTotal()))

	// sem WithStatsTrackKeys não há chave por sujeito
	assert.False(t, mr.Exists(keys.AdmissionSubject("user:1")))
}

func TestRedisStatsStore_TrackKeys(t *testing.T) {
	mr, rdb := newTestRedis(t)
	keys := NewKeyspace("")
	store := NewRedisStatsStore(rdb, keys, WithStatsTrackKeys(true))

	require.NoError(t, store.Record(context.Background(), domain.StatsEvent{Key: " user:7 ", Class: domain.ClassWrite}))
	assert.Equal(t, "1", mr.HGet(keys.AdmissionSubject("user:7"), "denied"))
}

func TestRedisStatsStore_NilIsNoop(t *testing.T) {
	var store *RedisStatsStore
	assert.NoError(t, store.Record(context.Background(), domain.StatsEvent{}))
}

func TestRedisStatsStore_TotalTTLIsRefreshed(t *testing.T) {
	mr, rdb := newTestRedis(t)
	keys := NewKeyspace("")
	store := NewRedisStatsStore(rdb, keys, WithStatsTotalTTL(2*time.Hour))
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, domain.StatsEvent{Class: domain.ClassRead, Allowed: true}))
	mr.FastForward(90 * time.Minute)
	require.NoError(t, store.Record(ctx, domain.StatsEvent{Class: domain.ClassRead, Allowed: true}))

	assert.Equal(t, 2*time.Hour, mr.TTL(keys.AdmissionTotal()))
	assert.Equal(t, "2", mr.HGet(keys.AdmissionTotal(), "allowed"))
}
