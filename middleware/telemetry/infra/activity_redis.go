package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"telemetry-gateway/middleware/telemetry/domain"

	"github.com/redis/go-redis/v9"
)

// KEYS[1] dedupe   KEYS[2] lista de alertas
// ARGV[1] ttl dedupe (ms)   ARGV[2] alerta (json)   ARGV[3] tamanho máximo   ARGV[4] retenção (ms)
var pushAlertScript = redis.NewScript(`
if not redis.call('SET', KEYS[1], '1', 'NX', 'PX', ARGV[1]) then
  return 0
end
redis.call('LPUSH', KEYS[2], ARGV[2])
redis.call('LTRIM', KEYS[2], 0, tonumber(ARGV[3]) - 1)
redis.call('PEXPIRE', KEYS[2], ARGV[4])
return 1
`)

// ActivityRetention define por quanto tempo cada família de chaves vive.
type ActivityRetention struct {
	DayLeaderboard  time.Duration
	HourLeaderboard time.Duration
	Stats           time.Duration
	Alerts          time.Duration
	AlertCap        int
}

func (r ActivityRetention) withDefaults() ActivityRetention {
	if r.DayLeaderboard <= 0 {
		r.DayLeaderboard = 7 * 24 * time.Hour
	}
	if r.HourLeaderboard <= 0 {
		r.HourLeaderboard = 48 * time.Hour
	}
	if r.Stats <= 0 {
		r.Stats = 7 * 24 * time.Hour
	}
	if r.Alerts <= 0 {
		r.Alerts = 30 * 24 * time.Hour
	}
	if r.AlertCap <= 0 {
		r.AlertCap = 100
	}
	return r
}

// ActivityStore implementa domain.ActivityStore.
//
// Contagem de recursos distintos usa HyperLogLog (PFADD/PFCOUNT): erro
// padrão de ~0,81%, memória fixa por sujeito/dia.
type ActivityStore struct {
	rdb       redis.UniversalClient
	keys      Keyspace
	retention ActivityRetention
}

func NewActivityStore(rdb redis.UniversalClient, keys Keyspace, retention ActivityRetention) *ActivityStore {
	return &ActivityStore{rdb: rdb, keys: keys, retention: retention.withDefaults()}
}

// Apply atualiza leaderboards e contadores do dia numa única ida ao Redis e
// devolve o estado resultante da partição corrente.
func (s *ActivityStore) Apply(ctx context.Context, subject string, ev domain.RequestEvent) (domain.ActivitySnapshot, error) {
	at := ev.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}
	day := domain.DayKey(at)
	dayBoard := s.keys.Leaderboard(domain.GranularityDay, day)
	hourBoard := s.keys.Leaderboard(domain.GranularityHour, domain.GranularityHour.PeriodKey(at))
	resKey := s.keys.StatsResources(subject, day)
	bytesKey := s.keys.StatsBytes(subject, day)
	writesKey := s.keys.StatsWrites(subject, day)

	var size int64
	if ev.ResponseBytes != nil {
		size = *ev.ResponseBytes
	}
	var write int64
	if ev.Operation == domain.OperationWrite {
		write = 1
	}

	pipe := s.rdb.Pipeline()
	prevRank := pipe.ZRevRank(ctx, dayBoard, subject)
	score := pipe.ZIncrBy(ctx, dayBoard, 1, subject)
	pipe.Expire(ctx, dayBoard, s.retention.DayLeaderboard)
	pipe.ZIncrBy(ctx, hourBoard, 1, subject)
	pipe.Expire(ctx, hourBoard, s.retention.HourLeaderboard)
	if len(ev.ResourceIDs) > 0 {
		members := make([]interface{}, len(ev.ResourceIDs))
		for i, id := range ev.ResourceIDs {
			members[i] = strconv.FormatInt(id, 10)
		}
		pipe.PFAdd(ctx, resKey, members...)
		pipe.Expire(ctx, resKey, s.retention.Stats)
	}
	unique := pipe.PFCount(ctx, resKey)
	bytes := pipe.IncrBy(ctx, bytesKey, size)
	pipe.Expire(ctx, bytesKey, s.retention.Stats)
	writes := pipe.IncrBy(ctx, writesKey, write)
	pipe.Expire(ctx, writesKey, s.retention.Stats)
	rank := pipe.ZRevRank(ctx, dayBoard, subject)

	cmds, err := pipe.Exec(ctx)
	if err == nil || errors.Is(err, redis.Nil) {
		err = pipelineErr(cmds)
	}
	if err != nil {
		return domain.ActivitySnapshot{}, fmt.Errorf("activity apply: %w", err)
	}

	snap := domain.ActivitySnapshot{
		SubjectDailyStats: domain.SubjectDailyStats{
			Subject:         subject,
			Day:             day,
			Requests:        int64(score.Val()),
			UniqueResources: unique.Val(),
			Bytes:           bytes.Val(),
			Writes:          writes.Val(),
		},
		PrevRank: rankOrAbsent(prevRank),
		Rank:     rankOrAbsent(rank),
	}
	return snap, nil
}

// pipelineErr devolve o primeiro erro real do pipeline. O Exec só reporta o
// primeiro comando com erro, e redis.Nil (membro ou chave ausente) escondia
// falhas dos comandos seguintes.
func pipelineErr(cmds []redis.Cmder) error {
	for _, cmd := range cmds {
		if err := cmd.Err(); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
	}
	return nil
}

func rankOrAbsent(cmd *redis.IntCmd) int64 {
	v, err := cmd.Result()
	if err != nil {
		return -1
	}
	return v
}

// PushAlert grava o alerta com supressão por (sujeito, tipo, dia).
func (s *ActivityStore) PushAlert(ctx context.Context, alert domain.AnomalyAlert) (bool, error) {
	raw, err := json.Marshal(alert)
	if err != nil {
		return false, fmt.Errorf("encode alert: %w", err)
	}
	day := domain.DayKey(alert.At)
	// a chave já carrega o dia; o TTL só precisa cobrir a partição
	dedupeTTL := 25 * time.Hour

	n, err := pushAlertScript.Run(ctx, s.rdb,
		[]string{s.keys.AlertDedupe(alert.Subject, alert.Kind, day), s.keys.Alerts(alert.Subject)},
		dedupeTTL.Milliseconds(), raw, s.retention.AlertCap, s.retention.Alerts.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("push alert: %w", err)
	}
	return n == 1, nil
}

// TopSubjects devolve os n maiores scores da partição que contém `at`.
func (s *ActivityStore) TopSubjects(ctx context.Context, g domain.Granularity, at time.Time, n int) ([]domain.LeaderboardEntry, error) {
	if n <= 0 {
		n = 10
	}
	zs, err := s.rdb.ZRevRangeWithScores(ctx, s.keys.Leaderboard(g, g.PeriodKey(at)), 0, int64(n-1)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	out := make([]domain.LeaderboardEntry, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		out = append(out, domain.LeaderboardEntry{Subject: member, Score: int64(z.Score)})
	}
	return out, nil
}

// DailyStats lê os contadores do sujeito no dia.
func (s *ActivityStore) DailyStats(ctx context.Context, subject string, day time.Time) (domain.SubjectDailyStats, error) {
	dk := domain.DayKey(day)

	pipe := s.rdb.Pipeline()
	score := pipe.ZScore(ctx, s.keys.Leaderboard(domain.GranularityDay, dk), subject)
	unique := pipe.PFCount(ctx, s.keys.StatsResources(subject, dk))
	bytes := pipe.Get(ctx, s.keys.StatsBytes(subject, dk))
	writes := pipe.Get(ctx, s.keys.StatsWrites(subject, dk))
	cmds, err := pipe.Exec(ctx)
	if err == nil || errors.Is(err, redis.Nil) {
		err = pipelineErr(cmds)
	}
	if err != nil {
		return domain.SubjectDailyStats{}, fmt.Errorf("daily stats: %w", err)
	}

	out := domain.SubjectDailyStats{Subject: subject, Day: dk}
	if v, err := score.Result(); err == nil {
		out.Requests = int64(v)
	}
	out.UniqueResources = unique.Val()
	if v, err := bytes.Int64(); err == nil {
		out.Bytes = v
	}
	if v, err := writes.Int64(); err == nil {
		out.Writes = v
	}
	return out, nil
}

// Alerts devolve até n alertas, mais novos primeiro.
func (s *ActivityStore) Alerts(ctx context.Context, subject string, n int) ([]domain.AnomalyAlert, error) {
	if n <= 0 {
		n = s.retention.AlertCap
	}
	raws, err := s.rdb.LRange(ctx, s.keys.Alerts(subject), 0, int64(n-1)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("alerts: %w", err)
	}
	out := make([]domain.AnomalyAlert, 0, len(raws))
	for _, raw := range raws {
		var a domain.AnomalyAlert
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}
