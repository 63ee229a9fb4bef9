package infra

import (
	"context"

	"telemetry-gateway/middleware/telemetry/domain"
)

// ChanPool é um semáforo baseado em channel com capacidade fixa.
type ChanPool struct {
	sem chan struct{}
}

// NewChanPool cria um pool com capacidade `max` (mínimo 1).
func NewChanPool(max int) *ChanPool {
	if max <= 0 {
		max = 1
	}
	return &ChanPool{sem: make(chan struct{}, max)}
}

func (p *ChanPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case p.sem <- struct{}{}:
		return p.release, true
	case <-ctx.Done():
		return nil, false
	}
}

// TryAcquire não espera: sem vaga livre devolve ok=false na hora.
func (p *ChanPool) TryAcquire() (func(), bool) {
	select {
	case p.sem <- struct{}{}:
		return p.release, true
	default:
		return nil, false
	}
}

// InUse devolve quantas vagas estão ocupadas agora.
func (p *ChanPool) InUse() int { return len(p.sem) }

func (p *ChanPool) Cap() int { return cap(p.sem) }

func (p *ChanPool) release() { <-p.sem }

var _ domain.SlotPool = (*ChanPool)(nil)
