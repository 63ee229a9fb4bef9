package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"telemetry-gateway/middleware/telemetry/domain"
	"telemetry-gateway/middleware/telemetry/infra"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type errLimiter struct{}

func (errLimiter) Hit(context.Context, string, domain.LimitClass, domain.LimitPolicy, time.Time) (domain.Decision, error) {
	return domain.Decision{}, errBoom
}

type memStats struct {
	mu     sync.Mutex
	events []domain.StatsEvent
}

func (s *memStats) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func testPolicies() map[domain.LimitClass]domain.LimitPolicy {
	ladder := domain.BuildLadder(5*time.Minute, time.Hour, 5)
	return map[domain.LimitClass]domain.LimitPolicy{
		domain.ClassAuth:  {Window: time.Minute, Limit: 5, Ladder: ladder, Decay: time.Minute},
		domain.ClassRead:  {Window: time.Minute, Limit: 50, Ladder: ladder, Decay: time.Minute},
		domain.ClassWrite: {Window: time.Minute, Limit: 10, Ladder: ladder, Decay: time.Minute},
	}
}

func newRedisAdmission(t *testing.T) (*miniredis.Miniredis, *AdmissionService, *countingObserver) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	obs := newCountingObserver()
	svc := &AdmissionService{
		Limiter:  infra.NewSlidingWindow(rdb, infra.NewKeyspace("")),
		Policies: testPolicies(),
		Guard:    Guard{Observer: obs, Timeout: time.Second},
	}
	return mr, svc, obs
}

func TestAdmissionService_AuthExampleWithEscalation(t *testing.T) {
	mr, svc, obs := newRedisAdmission(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 5; i++ {
		dec := svc.Admit(ctx, "user:1", domain.ClassAuth, now.Add(time.Duration(i)*2*time.Second))
		require.True(t, dec.Allowed)
	}
	dec := svc.Admit(ctx, "user:1", domain.ClassAuth, now.Add(10*time.Second))
	require.False(t, dec.Allowed)
	assert.Equal(t, 300, dec.RetryAfterSeconds)

	rej := dec.Rejection()
	require.NotNil(t, rej)
	assert.Equal(t, 5, rej.Limit)
	assert.Equal(t, 0, rej.Remaining)
	assert.Equal(t, domain.ClassAuth, rej.Class)

	mr.FastForward(320 * time.Second)
	now = now.Add(320 * time.Second)
	for i := 0; i < 5; i++ {
		require.True(t, svc.Admit(ctx, "user:1", domain.ClassAuth, now).Allowed)
	}
	dec = svc.Admit(ctx, "user:1", domain.ClassAuth, now)
	require.False(t, dec.Allowed)
	assert.Equal(t, 600, dec.RetryAfterSeconds)

	assert.Equal(t, 10, obs.admissions["auth/allowed"])
	assert.Equal(t, 2, obs.admissions["auth/denied"])
}

func TestAdmissionService_WriteExhaustionDoesNotAffectRead(t *testing.T) {
	_, svc, _ := newRedisAdmission(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 10; i++ {
		require.True(t, svc.Admit(ctx, "user:1", domain.ClassWrite, now).Allowed)
	}
	require.False(t, svc.Admit(ctx, "user:1", domain.ClassWrite, now).Allowed)

	for i := 0; i < 50; i++ {
		require.True(t, svc.Admit(ctx, "user:1", domain.ClassRead, now).Allowed)
	}
	assert.False(t, svc.Admit(ctx, "user:1", domain.ClassRead, now).Allowed)
}

func TestAdmissionService_FailOpenWhenStoreIsDown(t *testing.T) {
	mr, svc, obs := newRedisAdmission(t)
	core, logs := observer.New(zap.WarnLevel)
	svc.Guard.Logger = zap.New(core)
	mr.Close()

	for i := 0; i < 20; i++ {
		dec := svc.Admit(context.Background(), "user:1", domain.ClassAuth, time.Now())
		require.True(t, dec.Allowed)
		assert.True(t, dec.FailOpen)
		assert.Nil(t, dec.Rejection())
	}
	assert.Equal(t, 20, obs.admissions["auth/fail_open"])
	assert.Equal(t, 20, obs.storeFailures["admission"])
	assert.Equal(t, 20, logs.FilterMessage("admission fail-open").Len())
}

func TestAdmissionService_FailOpenLogsAreThrottled(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	svc := &AdmissionService{
		Limiter:  errLimiter{},
		Policies: testPolicies(),
		Guard:    Guard{Logger: zap.New(core), Throttle: infra.NewThrottleStore(0.001, 1)},
	}

	for i := 0; i < 5; i++ {
		assert.True(t, svc.Admit(context.Background(), "user:1", domain.ClassRead, time.Now()).Allowed)
	}
	assert.Equal(t, 1, logs.FilterMessage("admission fail-open").Len())
}

func TestAdmissionService_UnknownClassIsAllowed(t *testing.T) {
	obs := newCountingObserver()
	svc := &AdmissionService{Limiter: errLimiter{}, Policies: testPolicies(), Guard: Guard{Observer: obs}}

	dec := svc.Admit(context.Background(), "ip:1.2.3.4", domain.IPClass("login"), time.Now())
	assert.True(t, dec.Allowed)
	assert.True(t, dec.FailOpen)
	assert.Equal(t, 1, obs.admissions["ip:login/fail_open"])
}

func TestAdmissionService_RecordsStats(t *testing.T) {
	_, svc, _ := newRedisAdmission(t)
	stats := &memStats{}
	svc.Stats = stats
	now := time.Unix(1_700_000_000, 0)

	svc.Admit(context.Background(), "user:9", domain.ClassWrite, now)

	require.Len(t, stats.events, 1)
	assert.Equal(t, domain.Key("user:9"), stats.events[0].Key)
	assert.True(t, stats.events[0].Allowed)
	assert.Equal(t, domain.ClassWrite, stats.events[0].Class)
}

func TestAdmissionService_StatsThroughDispatcher(t *testing.T) {
	_, svc, _ := newRedisAdmission(t)
	stats := &memStats{}
	svc.Stats = stats
	svc.Dispatcher = NewDispatcher(DispatcherOptions{Pool: infra.NewChanPool(4)})

	svc.Admit(context.Background(), "user:9", domain.ClassRead, time.Now())
	require.NoError(t, svc.Dispatcher.Close(context.Background()))

	stats.mu.Lock()
	defer stats.mu.Unlock()
	assert.Len(t, stats.events, 1)
}
