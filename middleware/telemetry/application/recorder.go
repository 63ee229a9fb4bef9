package application

import (
	"context"

	"telemetry-gateway/middleware/telemetry/domain"

	"go.uber.org/zap"
)

// EventSink recebe o evento finalizado de forma síncrona.
type EventSink interface {
	Record(ctx context.Context, ev domain.RequestEvent) error
}

// Recorder faz o fan-out de um evento para o buffer e para as métricas.
//
// Submit nunca bloqueia nem falha a requisição: evento inválido é descartado e
// contado; sem vaga no Dispatcher também. Buffer e métricas são tarefas
// separadas, cada uma com o próprio prazo.
type Recorder struct {
	Buffer     domain.EventBuffer
	Metrics    EventSink
	Dispatcher *Dispatcher
	Guard      Guard
}

// Submit devolve true quando o evento foi aceito por todos os destinos.
func (r *Recorder) Submit(ev domain.RequestEvent) bool {
	ev = ev.Normalize()
	if err := ev.Validate(); err != nil {
		r.Guard.observer().EventDropped("malformed")
		r.Guard.logger().Debug("dropping malformed request event", zap.String("path", ev.Path), zap.Error(err))
		return false
	}

	accepted := true
	if r.Buffer != nil && !r.dispatch("telemetry.buffer", func(ctx context.Context) { r.appendBuffer(ctx, ev) }) {
		accepted = false
	}
	if r.Metrics != nil && !r.dispatch("telemetry.metrics", func(ctx context.Context) { r.recordMetrics(ctx, ev) }) {
		accepted = false
	}
	if !accepted {
		r.Guard.observer().EventDropped("saturated")
		if ok, suppressed := r.Guard.allow("recorder.saturated"); ok {
			r.Guard.logger().Warn("telemetry dispatcher saturated, dropping event",
				zap.String("path", ev.Path), zap.Int("suppressed", suppressed))
		}
	}
	return accepted
}

func (r *Recorder) dispatch(name string, task func(ctx context.Context)) bool {
	if r.Dispatcher == nil {
		task(context.Background())
		return true
	}
	return r.Dispatcher.Go(name, task)
}

func (r *Recorder) appendBuffer(ctx context.Context, ev domain.RequestEvent) {
	if err := r.Guard.Do(ctx, "buffer.append", func(ctx context.Context) error {
		return r.Buffer.Append(ctx, ev)
	}); err != nil {
		r.Guard.observer().EventDropped("buffer_unavailable")
	}
}

func (r *Recorder) recordMetrics(ctx context.Context, ev domain.RequestEvent) {
	_ = r.Guard.Do(ctx, "metrics.record", func(ctx context.Context) error {
		return r.Metrics.Record(ctx, ev)
	})
}
