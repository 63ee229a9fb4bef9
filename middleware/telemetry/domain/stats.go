package domain

import (
	"context"
	"time"
)

// StatsEvent representa uma decisão de admissão para fins estatísticos.
//
// Observação: cuidado com cardinalidade; o store agrega por classe e minuto,
// a chave do sujeito só entra quando explicitamente habilitado.
type StatsEvent struct {
	Key      Key
	Class    LimitClass
	Allowed  bool
	FailOpen bool

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas de admissão.
// O chamador trata erro como best-effort (não derruba request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}

// Granularity é a partição temporal de um leaderboard.
type Granularity string

const (
	GranularityDay  Granularity = "day"
	GranularityHour Granularity = "hour"
)

// PeriodKey formata o instante na chave da partição (UTC).
func (g Granularity) PeriodKey(t time.Time) string {
	if g == GranularityHour {
		return t.UTC().Format("2006010215")
	}
	return t.UTC().Format("20060102")
}

// DayKey é a chave da partição diária.
func DayKey(t time.Time) string { return GranularityDay.PeriodKey(t) }

// LeaderboardEntry é um par (sujeito, score) de uma partição.
type LeaderboardEntry struct {
	Subject string `json:"subject"`
	Score   int64  `json:"score"`
}

// SubjectDailyStats agrega a atividade de um sujeito em um dia. Todos os
// contadores são monotônicos dentro do dia.
type SubjectDailyStats struct {
	Subject         string `json:"subject"`
	Day             string `json:"day"`
	Requests        int64  `json:"requests"`
	UniqueResources int64  `json:"unique_resources"`
	Bytes           int64  `json:"bytes"`
	Writes          int64  `json:"writes"`
}

// ActivitySnapshot é o estado da partição corrente logo depois de aplicar um
// evento. Ranks são 0-based; -1 significa ausente.
type ActivitySnapshot struct {
	SubjectDailyStats
	PrevRank int64
	Rank     int64
}

// AlertKind enumera os tipos de anomalia.
type AlertKind string

const (
	AlertHighRequestCount    AlertKind = "high_request_count"
	AlertHighUniqueResources AlertKind = "high_unique_resources"
	AlertHighDataVolume      AlertKind = "high_data_volume"
	AlertHighWrites          AlertKind = "high_write_operations"
	AlertTopN                AlertKind = "top_n_requests"
)

// AnomalyAlert é guardado numa lista por sujeito (mais novo primeiro).
type AnomalyAlert struct {
	Subject string    `json:"subject"`
	Kind    AlertKind `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// ActivityStore guarda contadores, leaderboards e alertas no store compartilhado.
type ActivityStore interface {
	Apply(ctx context.Context, subject string, ev RequestEvent) (ActivitySnapshot, error)
	// PushAlert grava o alerta se ainda não houver um do mesmo tipo na
	// partição diária do sujeito. Devolve false quando suprimido.
	PushAlert(ctx context.Context, alert AnomalyAlert) (bool, error)
	TopSubjects(ctx context.Context, g Granularity, at time.Time, n int) ([]LeaderboardEntry, error)
	DailyStats(ctx context.Context, subject string, day time.Time) (SubjectDailyStats, error)
	Alerts(ctx context.Context, subject string, n int) ([]AnomalyAlert, error)
}

// Observer recebe sinais operacionais (métricas). Implementações não podem
// bloquear.
type Observer interface {
	StoreFailure(op string)
	EventDropped(reason string)
	Admission(class LimitClass, outcome string)
	AlertFired(kind AlertKind)
	FlushCycle(state FlushState, took time.Duration)
	FlushRecords(outcome string, n int)
}

// NopObserver descarta tudo.
type NopObserver struct{}

func (NopObserver) StoreFailure(string) {}
func (NopObserver) EventDropped(string) {}
func (NopObserver) Admission(LimitClass, string) {}
func (NopObserver) AlertFired(AlertKind) {}
func (NopObserver) FlushCycle(FlushState, time.Duration) {}
func (NopObserver) FlushRecords(string, int) {}
