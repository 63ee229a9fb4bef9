package application

import (
	"context"
	"fmt"
	"time"

	"telemetry-gateway/middleware/telemetry/domain"

	"go.uber.org/zap"
)

const bytesPerMB = 1024 * 1024

// Thresholds são os limites das regras de anomalia. Valor zero desliga a regra.
type Thresholds struct {
	MaxDailyRequests   int64
	MaxUniqueResources int64
	MaxDataVolumeMB    float64
	MaxWritesPerDay    int64
	// TopN: alerta quando o sujeito entra nas N primeiras posições do dia.
	TopN int
}

// MetricsAggregator atualiza a atividade do sujeito e avalia as regras de
// anomalia sobre a partição do dia.
type MetricsAggregator struct {
	Store      domain.ActivityStore
	Thresholds Thresholds
	Logger     *zap.Logger
	Observer   domain.Observer
}

// Record aplica o evento e grava os alertas disparados. Alertas repetidos do
// mesmo tipo no mesmo dia são suprimidos pelo store.
func (m *MetricsAggregator) Record(ctx context.Context, ev domain.RequestEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	subject := ev.SubjectKey()

	snap, err := m.Store.Apply(ctx, subject, ev)
	if err != nil {
		return err
	}

	for _, alert := range m.Evaluate(snap, ev.OccurredAt) {
		stored, err := m.Store.PushAlert(ctx, alert)
		if err != nil {
			return err
		}
		if !stored {
			continue
		}
		m.observer().AlertFired(alert.Kind)
		m.logger().Info("anomaly alert",
			zap.String("subject", alert.Subject),
			zap.String("kind", string(alert.Kind)),
			zap.String("message", alert.Message))
	}
	return nil
}

// Evaluate devolve os alertas que o snapshot dispara. Não consulta o store.
func (m *MetricsAggregator) Evaluate(snap domain.ActivitySnapshot, at time.Time) []domain.AnomalyAlert {
	t := m.Thresholds
	var out []domain.AnomalyAlert
	add := func(kind domain.AlertKind, format string, args ...any) {
		out = append(out, domain.AnomalyAlert{
			Subject: snap.Subject,
			Kind:    kind,
			Message: fmt.Sprintf(format, args...),
			At:      at,
		})
	}

	if t.MaxDailyRequests > 0 && snap.Requests > t.MaxDailyRequests {
		add(domain.AlertHighRequestCount, "%d requests today (limit %d)", snap.Requests, t.MaxDailyRequests)
	}
	if t.MaxUniqueResources > 0 && snap.UniqueResources > t.MaxUniqueResources {
		add(domain.AlertHighUniqueResources, "~%d distinct resources accessed today (limit %d)", snap.UniqueResources, t.MaxUniqueResources)
	}
	if mb := float64(snap.Bytes) / bytesPerMB; t.MaxDataVolumeMB > 0 && mb > t.MaxDataVolumeMB {
		add(domain.AlertHighDataVolume, "%.1f MB transferred today (limit %.1f MB)", mb, t.MaxDataVolumeMB)
	}
	if t.MaxWritesPerDay > 0 && snap.Writes > t.MaxWritesPerDay {
		add(domain.AlertHighWrites, "%d write operations today (limit %d)", snap.Writes, t.MaxWritesPerDay)
	}
	if t.TopN > 0 && enteredTopN(snap.PrevRank, snap.Rank, int64(t.TopN)) {
		add(domain.AlertTopN, "rank %d by request count today (top %d)", snap.Rank+1, t.TopN)
	}
	return out
}

// enteredTopN é verdadeiro só na transição de fora para dentro da faixa.
// Ranks são 0-based; -1 é ausente.
func enteredTopN(prev, cur, n int64) bool {
	if cur < 0 || cur >= n {
		return false
	}
	return prev < 0 || prev >= n
}

// Leaderboard devolve os n sujeitos com mais requisições na partição.
func (m *MetricsAggregator) Leaderboard(ctx context.Context, g domain.Granularity, at time.Time, n int) ([]domain.LeaderboardEntry, error) {
	return m.Store.TopSubjects(ctx, g, at, n)
}

func (m *MetricsAggregator) DailyStats(ctx context.Context, subject string, day time.Time) (domain.SubjectDailyStats, error) {
	return m.Store.DailyStats(ctx, subject, day)
}

func (m *MetricsAggregator) Alerts(ctx context.Context, subject string, n int) ([]domain.AnomalyAlert, error) {
	return m.Store.Alerts(ctx, subject, n)
}

func (m *MetricsAggregator) logger() *zap.Logger {
	if m.Logger == nil {
		return zap.NewNop()
	}
	return m.Logger
}

func (m *MetricsAggregator) observer() domain.Observer {
	if m.Observer == nil {
		return domain.NopObserver{}
	}
	return m.Observer
}

var _ EventSink = (*MetricsAggregator)(nil)
