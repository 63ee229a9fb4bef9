package application

import (
	"context"
	"math"
	"testing"
	"time"

	"telemetry-gateway/middleware/telemetry/domain"
	"telemetry-gateway/middleware/telemetry/infra"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultThresholds() Thresholds {
	return Thresholds{
		MaxDailyRequests:   5000,
		MaxUniqueResources: 1000,
		MaxDataVolumeMB:    500,
		MaxWritesPerDay:    1000,
		TopN:               10,
	}
}

func newRedisAggregator(t *testing.T) (*redis.Client, infra.Keyspace, *MetricsAggregator, *countingObserver) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	keys := infra.NewKeyspace("")
	obs := newCountingObserver()
	agg := &MetricsAggregator{
		Store:      infra.NewActivityStore(rdb, keys, infra.ActivityRetention{}),
		Thresholds: defaultThresholds(),
		Observer:   obs,
	}
	return rdb, keys, agg, obs
}

func TestMetricsAggregator_HighRequestCountFiresOncePerDay(t *testing.T) {
	rdb, keys, agg, obs := newRedisAggregator(t)
	ctx := context.Background()
	ev := event("42", domain.SubjectUser, "/orders")
	subject := ev.SubjectKey()
	board := keys.Leaderboard(domain.GranularityDay, domain.DayKey(ev.OccurredAt))

	// 4999 requisições anteriores no dia
	require.NoError(t, rdb.ZAdd(ctx, board, redis.Z{Score: 4999, Member: subject}).Err())

	require.NoError(t, agg.Record(ctx, ev)) // 5000
	alerts, err := agg.Alerts(ctx, subject, 0)
	require.NoError(t, err)
	assert.Empty(t, alerts)

	require.NoError(t, agg.Record(ctx, ev)) // 5001
	require.NoError(t, agg.Record(ctx, ev)) // 5002

	alerts, err = agg.Alerts(ctx, subject, 0)
	require.NoError(t, err)
	var high []domain.AnomalyAlert
	for _, a := range alerts {
		if a.Kind == domain.AlertHighRequestCount {
			high = append(high, a)
		}
	}
	assert.Len(t, high, 1)
	assert.Equal(t, 1, obs.alerts[domain.AlertHighRequestCount])

	stats, err := agg.DailyStats(ctx, subject, ev.OccurredAt)
	require.NoError(t, err)
	assert.Equal(t, int64(5002), stats.Requests)
}

func TestMetricsAggregator_DistinctResourcesWithinTolerance(t *testing.T) {
	_, _, agg, _ := newRedisAggregator(t)
	agg.Thresholds = Thresholds{}
	ctx := context.Background()

	ev := event("7", domain.SubjectUser, "/docs")
	for id := int64(1); id <= 1000; id += 100 {
		ids := make([]int64, 100)
		for i := range ids {
			ids[i] = id + int64(i)
		}
		ev.ResourceIDs = ids
		require.NoError(t, agg.Record(ctx, ev))
	}

	stats, err := agg.DailyStats(ctx, ev.SubjectKey(), ev.OccurredAt)
	require.NoError(t, err)
	assert.LessOrEqual(t, math.Abs(float64(stats.UniqueResources)-1000)/1000, 0.03)
}

func TestMetricsAggregator_TopNOnlyOnEntering(t *testing.T) {
	rdb, keys, agg, obs := newRedisAggregator(t)
	agg.Thresholds = Thresholds{TopN: 2}
	ctx := context.Background()
	at := event("", "", "").OccurredAt
	board := keys.Leaderboard(domain.GranularityDay, domain.DayKey(at))

	require.NoError(t, rdb.ZAdd(ctx, board,
		redis.Z{Score: 20, Member: "user:a"},
		redis.Z{Score: 8.5, Member: "user:b"},
		redis.Z{Score: 5, Member: "user:c"},
	).Err())

	ev := event("c", domain.SubjectUser, "/x")
	for i := 0; i < 3; i++ {
		require.NoError(t, agg.Record(ctx, ev)) // 6, 7, 8: abaixo de b
	}
	assert.Equal(t, 0, obs.alerts[domain.AlertTopN])

	require.NoError(t, agg.Record(ctx, ev)) // 9: passa b
	assert.Equal(t, 1, obs.alerts[domain.AlertTopN])

	require.NoError(t, agg.Record(ctx, ev)) // continua dentro
	assert.Equal(t, 1, obs.alerts[domain.AlertTopN])

	top, err := agg.Leaderboard(ctx, domain.GranularityDay, at, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "user:c", top[1].Subject)
}

func TestMetricsAggregator_Evaluate(t *testing.T) {
	agg := &MetricsAggregator{Thresholds: defaultThresholds()}
	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	base := domain.ActivitySnapshot{
		SubjectDailyStats: domain.SubjectDailyStats{Subject: "user:1", Requests: 1},
		PrevRank:          50,
		Rank:              40,
	}

	kinds := func(s domain.ActivitySnapshot) []domain.AlertKind {
		var out []domain.AlertKind
		for _, a := range agg.Evaluate(s, at) {
			assert.Equal(t, "user:1", a.Subject)
			assert.NotEmpty(t, a.Message)
			out = append(out, a.Kind)
		}
		return out
	}

	assert.Empty(t, kinds(base))

	s := base
	s.Requests = 5001
	assert.Equal(t, []domain.AlertKind{domain.AlertHighRequestCount}, kinds(s))

	s = base
	s.UniqueResources = 1001
	assert.Equal(t, []domain.AlertKind{domain.AlertHighUniqueResources}, kinds(s))

	s = base
	s.Bytes = 500 * 1024 * 1024
	assert.Empty(t, kinds(s), "exactly 500 MB is not above the threshold")
	s.Bytes++
	assert.Equal(t, []domain.AlertKind{domain.AlertHighDataVolume}, kinds(s))

	s = base
	s.Writes = 1001
	assert.Equal(t, []domain.AlertKind{domain.AlertHighWrites}, kinds(s))

	s = base
	s.PrevRank, s.Rank = -1, 9
	assert.Equal(t, []domain.AlertKind{domain.AlertTopN}, kinds(s))
	s.PrevRank, s.Rank = 9, 8
	assert.Empty(t, kinds(s))
	s.PrevRank, s.Rank = 10, 9
	assert.Equal(t, []domain.AlertKind{domain.AlertTopN}, kinds(s))

	agg.Thresholds = Thresholds{}
	s = base
	s.Requests, s.Writes, s.PrevRank, s.Rank = 1e6, 1e6, -1, 0
	assert.Empty(t, kinds(s), "zero thresholds disable every rule")
}
