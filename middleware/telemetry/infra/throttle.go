package infra

import (
	"context"
	"sync"
	"time"

	"telemetry-gateway/middleware/telemetry/domain"

	"golang.org/x/time/rate"
)

// ThrottleStore limita avisos repetidos no log. Cada chave (em geral
// "guard:<op>" ou o nome de um evento de degradação) tem um gate com token
// bucket próprio; o gate conta quantos avisos foram calados desde o último que
// passou, para que esse número saia junto no próximo log.
//
// O estado é local ao processo e gates sem uso somem no Cleanup.
type ThrottleStore struct {
	mu      sync.Mutex
	gates   map[string]*WarnGate
	every   rate.Limit
	burst   int
	idleTTL time.Duration
	sweep   time.Duration
	now     func() time.Time
}

// WarnGate é o limiter de uma chave de aviso.
type WarnGate struct {
	lim        *rate.Limiter
	mu         sync.Mutex
	lastSeen   time.Time
	suppressed int
}

// Allow consome um token. Recusas são contadas como avisos suprimidos.
func (g *WarnGate) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lim.Allow() {
		return true
	}
	g.suppressed++
	return false
}

// TakeSuppressed devolve e zera o contador de avisos calados.
func (g *WarnGate) TakeSuppressed() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.suppressed
	g.suppressed = 0
	return n
}

type ThrottleOption func(*ThrottleStore)

func WithIdleTTL(d time.Duration) ThrottleOption {
	return func(s *ThrottleStore) { s.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) ThrottleOption {
	return func(s *ThrottleStore) { s.sweep = d }
}

func WithThrottleClock(now func() time.Time) ThrottleOption {
	return func(s *ThrottleStore) { s.now = now }
}

// NewThrottleStore deixa passar `perSecond` avisos por segundo por chave,
// com rajada `burst`.
func NewThrottleStore(perSecond float64, burst int, opts ...ThrottleOption) *ThrottleStore {
	if burst <= 0 {
		burst = 1
	}
	s := &ThrottleStore{
		gates:   make(map[string]*WarnGate),
		every:   rate.Limit(perSecond),
		burst:   burst,
		idleTTL: 15 * time.Minute,
		sweep:   2 * time.Minute,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get implementa domain.LimiterStore; o valor devolvido é sempre um *WarnGate.
func (s *ThrottleStore) Get(key domain.Key) domain.Limiter {
	return s.Gate(string(key))
}

func (s *ThrottleStore) Gate(key string) *WarnGate {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.gates[key]
	if !ok {
		g = &WarnGate{lim: rate.NewLimiter(s.every, s.burst)}
		s.gates[key] = g
	}
	g.mu.Lock()
	g.lastSeen = now
	g.mu.Unlock()
	return g
}

// Cleanup remove gates sem uso há mais de idleTTL e devolve quantos saíram.
// Avisos suprimidos de um gate removido se perdem.
func (s *ThrottleStore) Cleanup() int {
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, g := range s.gates {
		g.mu.Lock()
		idle := g.lastSeen.Before(cutoff)
		g.mu.Unlock()
		if idle {
			delete(s.gates, k)
			removed++
		}
	}
	return removed
}

// StartJanitor roda Cleanup a cada intervalo até ctx encerrar.
func (s *ThrottleStore) StartJanitor(ctx context.Context) {
	if s.sweep <= 0 {
		return
	}

	t := time.NewTicker(s.sweep)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

var _ domain.LimiterStore = (*ThrottleStore)(nil)
