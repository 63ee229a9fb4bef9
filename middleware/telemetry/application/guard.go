package application

import (
	"context"
	"fmt"
	"time"

	"telemetry-gateway/middleware/telemetry/domain"

	"go.uber.org/zap"
)

// Guard executa chamadas ao store compartilhado em modo best-effort: aplica
// timeout, recupera panics, conta a falha e registra um aviso (limitado por
// operação via Throttle). Nunca propaga panic; o erro devolvido embrulha
// domain.ErrStoreUnavailable e cabe ao chamador decidir o fallback.
type Guard struct {
	Timeout  time.Duration
	Logger   *zap.Logger
	Observer domain.Observer
	Throttle domain.LimiterStore
}

// Do executa fn com o ctx limitado por Timeout.
func (g Guard) Do(ctx context.Context, op string, fn func(ctx context.Context) error) (err error) {
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: %w: panic: %v", op, domain.ErrStoreUnavailable, r)
		}
		if err != nil {
			g.report(op, err)
		}
	}()

	if ferr := fn(ctx); ferr != nil {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, ferr)
	}
	return nil
}

func (g Guard) report(op string, err error) {
	g.observer().StoreFailure(op)
	if ok, suppressed := g.allow("guard:" + op); ok {
		g.logger().Warn("shared store call failed, continuing",
			zap.String("op", op), zap.Int("suppressed", suppressed), zap.Error(err))
	}
}

// suppressionCounter é implementado por limiters que contam avisos calados
// (infra.WarnGate).
type suppressionCounter interface {
	TakeSuppressed() int
}

// allow informa se um aviso identificado por key pode ser logado agora e
// quantos avisos da mesma chave foram calados desde o último que passou.
func (g Guard) allow(key string) (bool, int) {
	if g.Throttle == nil {
		return true, 0
	}
	lim := g.Throttle.Get(domain.Key(key))
	if lim == nil {
		return true, 0
	}
	if !lim.Allow() {
		return false, 0
	}
	if sc, ok := lim.(suppressionCounter); ok {
		return true, sc.TakeSuppressed()
	}
	return true, 0
}

func (g Guard) logger() *zap.Logger {
	if g.Logger == nil {
		return zap.NewNop()
	}
	return g.Logger
}

func (g Guard) observer() domain.Observer {
	if g.Observer == nil {
		return domain.NopObserver{}
	}
	return g.Observer
}
