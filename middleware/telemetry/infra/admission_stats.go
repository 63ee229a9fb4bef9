package infra

import (
	"context"
	"strings"
	"time"

	"telemetry-gateway/middleware/telemetry/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore contabiliza decisões de admissão (allowed/denied/fail_open)
// no total, por classe e minuto, e opcionalmente por chave.
type RedisStatsStore struct {
	rdb  redis.UniversalClient
	keys Keyspace
	// ttl aplica em chaves de série temporal / por key.
	ttl time.Duration
	// totalTTL é renovado a cada Record; o total só some após um período sem tráfego.
	totalTTL time.Duration

	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsTotalTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.totalTTL = d }
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb redis.UniversalClient, keys Keyspace, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:      rdb,
		keys:     keys,
		ttl:      24 * time.Hour,
		totalTTL: 30 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func statsField(ev domain.StatsEvent) string {
	switch {
	case ev.FailOpen:
		return "fail_open"
	case ev.Allowed:
		return "allowed"
	default:
		return "denied"
	}
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := statsField(ev)

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.keys.AdmissionTotal(), field, 1)
	if s.totalTTL > 0 {
		pipe.Expire(ctx, s.keys.AdmissionTotal(), s.totalTTL)
	}

	bucketKey := s.keys.AdmissionBucket(ev.Class, at.UTC().Format("200601021504"))
	pipe.HIncrBy(ctx, bucketKey, field, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, bucketKey, s.ttl)
	}

	if s.trackKeys {
		k := strings.TrimSpace(string(ev.Key))
		if k != "" {
			keyKey := s.keys.AdmissionSubject(k)
			pipe.HIncrBy(ctx, keyKey, field, 1)
			if s.ttl > 0 {
				pipe.Expire(ctx, keyKey, s.ttl)
			}
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

var _ domain.StatsStore = (*RedisStatsStore)(nil)
