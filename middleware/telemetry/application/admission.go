package application

import (
	"context"
	"time"

	"telemetry-gateway/middleware/telemetry/domain"

	"go.uber.org/zap"
)

// AdmissionService decide se a requisição entra, consultando a janela
// deslizante da classe. Não sabe nada sobre HTTP.
//
// Qualquer falha do store vira Decision{Allowed: true, FailOpen: true}.
type AdmissionService struct {
	Limiter  domain.WindowLimiter
	Policies map[domain.LimitClass]domain.LimitPolicy
	Guard    Guard

	// Stats e Dispatcher são opcionais: contabilizam as decisões em background.
	Stats      domain.StatsStore
	Dispatcher *Dispatcher
}

// Policy devolve a política configurada para a classe.
func (s *AdmissionService) Policy(class domain.LimitClass) (domain.LimitPolicy, bool) {
	p, ok := s.Policies[class]
	return p, ok
}

func (s *AdmissionService) Admit(ctx context.Context, subjectKey string, class domain.LimitClass, now time.Time) domain.Decision {
	policy, ok := s.Policy(class)
	if !ok || s.Limiter == nil {
		if ok, suppressed := s.Guard.allow("admission.unknown:" + string(class)); ok {
			s.Guard.logger().Warn("no limit policy for class, allowing",
				zap.String("class", string(class)), zap.Int("suppressed", suppressed))
		}
		dec := domain.Decision{Allowed: true, FailOpen: true, Class: class}
		s.record(subjectKey, dec, now)
		return dec
	}

	var dec domain.Decision
	err := s.Guard.Do(ctx, "admission", func(ctx context.Context) error {
		var herr error
		dec, herr = s.Limiter.Hit(ctx, subjectKey, class, policy, now)
		return herr
	})
	if err != nil {
		dec = domain.Decision{
			Allowed:   true,
			FailOpen:  true,
			Class:     class,
			Limit:     policy.Limit,
			Remaining: policy.Limit,
		}
		if ok, suppressed := s.Guard.allow("admission.fail_open"); ok {
			s.Guard.logger().Warn("admission fail-open",
				zap.String("class", string(class)),
				zap.String("subject", subjectKey),
				zap.Int("suppressed", suppressed),
				zap.Error(err))
		}
	}

	s.record(subjectKey, dec, now)
	return dec
}

func outcome(dec domain.Decision) string {
	switch {
	case dec.FailOpen:
		return "fail_open"
	case dec.Allowed:
		return "allowed"
	default:
		return "denied"
	}
}

func (s *AdmissionService) record(subjectKey string, dec domain.Decision, now time.Time) {
	s.Guard.observer().Admission(dec.Class, outcome(dec))
	if s.Stats == nil {
		return
	}

	ev := domain.StatsEvent{
		Key:      domain.Key(subjectKey),
		Class:    dec.Class,
		Allowed:  dec.Allowed,
		FailOpen: dec.FailOpen,
		At:       now,
	}
	task := func(ctx context.Context) {
		_ = s.Guard.Do(ctx, "admission.stats", func(ctx context.Context) error {
			return s.Stats.Record(ctx, ev)
		})
	}
	if s.Dispatcher == nil {
		task(context.Background())
		return
	}
	s.Dispatcher.Go("admission.stats", task)
}

var _ domain.Admitter = (*AdmissionService)(nil)
