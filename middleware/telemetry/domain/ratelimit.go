package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type Key string

// Limiter representa algo que pode decidir se uma ação é permitida agora.
//
// Aqui ele é usado localmente (por processo), por exemplo para não inundar o
// log com o mesmo aviso enquanto o Redis estiver fora.
type Limiter interface {
	Allow() bool
}

// LimiterStore obtém um limiter por chave.
type LimiterStore interface {
	Get(Key) Limiter
}

// LimitClass nomeia uma configuração independente de janela/limite/cooldown.
type LimitClass string

const (
	ClassAuth  LimitClass = "auth"
	ClassRead  LimitClass = "read"
	ClassWrite LimitClass = "write"

	ipClassPrefix = "ip:"
)

// IPClass devolve a classe de throttling por IP de um grupo de rotas.
func IPClass(group string) LimitClass {
	return LimitClass(ipClassPrefix + strings.TrimSpace(group))
}

// IsIP informa se a classe é de throttling por IP.
func (c LimitClass) IsIP() bool { return strings.HasPrefix(string(c), ipClassPrefix) }

// ClassForOperation mapeia READ/WRITE para a classe correspondente.
func ClassForOperation(op OperationClass) LimitClass {
	if op == OperationWrite {
		return ClassWrite
	}
	return ClassRead
}

// LimitPolicy é a tripla janela/limite/cooldown de uma classe.
//
// Ladder é a escada de cooldowns: a n-ésima violação consecutiva usa
// Ladder[min(n, len-1)]. Decay é o tempo sem violações, contado a partir do
// fim do último cooldown, depois do qual o contador volta a zero.
type LimitPolicy struct {
	Window time.Duration
	Limit  int
	Ladder []time.Duration
	Decay  time.Duration
}

// Cooldown devolve o cooldown aplicado quando já existem `violations` violações.
func (p LimitPolicy) Cooldown(violations int) time.Duration {
	if len(p.Ladder) == 0 {
		return 0
	}
	if violations < 0 {
		violations = 0
	}
	if violations >= len(p.Ladder) {
		violations = len(p.Ladder) - 1
	}
	return p.Ladder[violations]
}

// BuildLadder gera base, 2·base, 4·base... limitado a max (inclusive).
func BuildLadder(base, max time.Duration, steps int) []time.Duration {
	if base <= 0 {
		return nil
	}
	if steps <= 0 {
		steps = 1
	}
	out := make([]time.Duration, 0, steps)
	d := base
	for i := 0; i < steps; i++ {
		if max > 0 && d >= max {
			out = append(out, max)
			break
		}
		out = append(out, d)
		d *= 2
	}
	return out
}

// Decision é o resultado de uma admissão.
type Decision struct {
	Allowed           bool
	RetryAfterSeconds int
	Remaining         int
	Limit             int
	Class             LimitClass
	// FailOpen indica que a decisão não veio do store (indisponível ou classe
	// desconhecida) e a requisição foi liberada por política.
	FailOpen bool
}

// Rejection devolve o erro estruturado de uma decisão negativa, ou nil.
func (d Decision) Rejection() *Rejection {
	if d.Allowed {
		return nil
	}
	return &Rejection{
		Class:             d.Class,
		Limit:             d.Limit,
		Remaining:         0,
		RetryAfterSeconds: d.RetryAfterSeconds,
	}
}

// RetryAfter em time.Duration.
func (d Decision) RetryAfter() time.Duration {
	return time.Duration(d.RetryAfterSeconds) * time.Second
}

// WindowLimiter aplica um passo da janela deslizante no store compartilhado.
// Implementações devolvem erro quando o store não responde; a política de
// fail-open é da camada application.
type WindowLimiter interface {
	Hit(ctx context.Context, subjectKey string, class LimitClass, policy LimitPolicy, now time.Time) (Decision, error)
}

// Admitter é o contrato visto pela camada de chamada (HTTP).
type Admitter interface {
	Admit(ctx context.Context, subjectKey string, class LimitClass, now time.Time) Decision
}

// Rejection é a recusa estruturada entregue à camada de chamada, que a
// traduz para 429.
type Rejection struct {
	Class             LimitClass `json:"class"`
	Limit             int        `json:"limit"`
	Remaining         int        `json:"remaining"`
	RetryAfterSeconds int        `json:"retry_after_seconds"`
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit %d), retry after %ds", r.Class, r.Limit, r.RetryAfterSeconds)
}

func (r *Rejection) Unwrap() error { return ErrRateLimitExceeded }
