package infra

import (
	"time"

	"telemetry-gateway/middleware/telemetry/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics implementa domain.Observer com coletores Prometheus.
type Metrics struct {
	storeFailures *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	admissions    *prometheus.CounterVec
	alerts        *prometheus.CounterVec
	flushCycles   *prometheus.CounterVec
	flushDuration prometheus.Histogram
	flushRecords  *prometheus.CounterVec
}

// NewMetrics registra os coletores em reg. Com reg nil usa um registry novo
// (útil em testes).
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		storeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telemetry",
			Name:      "store_failures_total",
			Help:      "Shared store operations that failed and were absorbed.",
		}, []string{"op"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telemetry",
			Name:      "events_dropped_total",
			Help:      "Request events that never reached the buffer.",
		}, []string{"reason"}),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telemetry",
			Name:      "admissions_total",
			Help:      "Rate limit decisions by class and outcome.",
		}, []string{"class", "outcome"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telemetry",
			Name:      "alerts_total",
			Help:      "Anomaly alerts recorded.",
		}, []string{"kind"}),
		flushCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telemetry",
			Name:      "flush_cycles_total",
			Help:      "Flush cycles by final state.",
		}, []string{"state"}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "telemetry",
			Name:      "flush_cycle_duration_seconds",
			Help:      "Flush cycle wall time.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		flushRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telemetry",
			Name:      "flush_records_total",
			Help:      "Audit records handled by the flush, by outcome.",
		}, []string{"outcome"}),
	}

	for _, c := range []prometheus.Collector{
		m.storeFailures, m.dropped, m.admissions, m.alerts,
		m.flushCycles, m.flushDuration, m.flushRecords,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) StoreFailure(op string) { m.storeFailures.WithLabelValues(op).Inc() }

func (m *Metrics) EventDropped(reason string) { m.dropped.WithLabelValues(reason).Inc() }

func (m *Metrics) Admission(class domain.LimitClass, outcome string) {
	m.admissions.WithLabelValues(string(class), outcome).Inc()
}

func (m *Metrics) AlertFired(kind domain.AlertKind) { m.alerts.WithLabelValues(string(kind)).Inc() }

func (m *Metrics) FlushCycle(state domain.FlushState, took time.Duration) {
	m.flushCycles.WithLabelValues(string(state)).Inc()
	if state != domain.FlushSkipped {
		m.flushDuration.Observe(took.Seconds())
	}
}

func (m *Metrics) FlushRecords(outcome string, n int) {
	if n <= 0 {
		return
	}
	m.flushRecords.WithLabelValues(outcome).Add(float64(n))
}

var _ domain.Observer = (*Metrics)(nil)
