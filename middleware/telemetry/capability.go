package telemetry

import (
	"context"
	"net/http"

	"telemetry-gateway/middleware/telemetry/domain"
)

// ClassNone desliga a janela por classe na rota (o throttling por IP continua).
const ClassNone domain.LimitClass = "none"

// RouteCapability descreve o que o middleware faz numa rota.
//
// RateLimitClass vazio escolhe read/write pela operação; IPGroup vazio
// desliga o throttling por IP; Operation vazio deriva do método.
type RouteCapability struct {
	Auditable      bool
	RateLimitClass domain.LimitClass
	IPGroup        string
	Module         string
	Operation      domain.OperationClass
}

func (c RouteCapability) operation(method string) domain.OperationClass {
	if c.Operation.Valid() {
		return c.Operation
	}
	return domain.OperationForMethod(method)
}

func (c RouteCapability) limitClass(op domain.OperationClass) (domain.LimitClass, bool) {
	switch c.RateLimitClass {
	case ClassNone:
		return "", false
	case "":
		return domain.ClassForOperation(op), true
	default:
		return c.RateLimitClass, true
	}
}

type capabilityKey struct{}

// WithCapability anexa a capacidade às requisições da rota; o Middleware lê
// dali antes de cair no default das Options.
func WithCapability(c RouteCapability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), capabilityKey{}, c)))
		})
	}
}

func capabilityFrom(ctx context.Context) (RouteCapability, bool) {
	c, ok := ctx.Value(capabilityKey{}).(RouteCapability)
	return c, ok
}
