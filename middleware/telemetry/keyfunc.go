package telemetry

import (
	"net"
	"net/http"
	"strings"

	"telemetry-gateway/middleware/telemetry/domain"
)

// KeyFunc extrai o endereço do cliente da requisição.
type KeyFunc func(r *http.Request) string

// DefaultKeyFunc usa, nessa ordem: o cabeçalho keyHeader (se configurado), o
// primeiro IP do X-Forwarded-For (se trustXFF) e o host do RemoteAddr.
func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}

		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// IdentityFunc devolve o sujeito autenticado da requisição. Sujeito nil
// significa anônimo.
type IdentityFunc func(r *http.Request) (subject *string, class domain.SubjectClass)

// HeaderIdentity lê o sujeito dos cabeçalhos preenchidos pela autenticação à
// frente do gateway. Classe ausente com id presente vale como user.
func HeaderIdentity(idHeader, classHeader string) IdentityFunc {
	return func(r *http.Request) (*string, domain.SubjectClass) {
		id := strings.TrimSpace(r.Header.Get(idHeader))
		if id == "" {
			return nil, domain.SubjectAnonymous
		}
		class := domain.SubjectUser
		if raw := r.Header.Get(classHeader); strings.TrimSpace(raw) != "" {
			class = domain.ParseSubjectClass(raw)
		}
		if class == domain.SubjectAnonymous {
			return nil, domain.SubjectAnonymous
		}
		return &id, class
	}
}
