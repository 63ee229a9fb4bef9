package config

import (
	"net/http"
	"strings"

	"telemetry-gateway/middleware/telemetry/domain"

	"go.uber.org/multierr"
)

// RouteConfig declara as capacidades de um grupo de rotas do gateway.
//
// RateLimitClass aceita auth, read, write, none ou vazio; vazio escolhe
// read/write pelo método da requisição.
type RouteConfig struct {
	Pattern        string   `yaml:"pattern"`
	Methods        []string `yaml:"methods"`
	Module         string   `yaml:"module"`
	Auditable      *bool    `yaml:"auditable"`
	RateLimitClass string   `yaml:"rate_limit_class"`
	IPGroup        string   `yaml:"ip_group"`
	// Operation força READ/WRITE independente do método.
	Operation string `yaml:"operation"`
}

const RateLimitNone = "none"

func (r *RouteConfig) SetDefaults() {
	if r.Pattern == "" {
		r.Pattern = "/*"
	}
	r.RateLimitClass = strings.ToLower(strings.TrimSpace(r.RateLimitClass))
	r.Operation = strings.ToUpper(strings.TrimSpace(r.Operation))
	for i, m := range r.Methods {
		r.Methods[i] = strings.ToUpper(strings.TrimSpace(m))
	}
}

func (r RouteConfig) IsAuditable() bool { return r.Auditable == nil || *r.Auditable }

func (r RouteConfig) Validate(limits LimitsConfig) error {
	var err error
	field := "routes[" + r.Pattern + "]"
	if !strings.HasPrefix(r.Pattern, "/") {
		err = multierr.Append(err, domain.NewValidationError(field+".pattern", "must start with /"))
	}
	switch r.RateLimitClass {
	case "", RateLimitNone, string(domain.ClassAuth), string(domain.ClassRead), string(domain.ClassWrite):
	default:
		err = multierr.Append(err, domain.NewValidationError(field+".rate_limit_class", "unknown class "+r.RateLimitClass))
	}
	if r.IPGroup != "" && !limits.HasIPGroup(r.IPGroup) {
		err = multierr.Append(err, domain.NewValidationError(field+".ip_group", "unknown group "+r.IPGroup))
	}
	if r.Operation != "" && !domain.OperationClass(r.Operation).Valid() {
		err = multierr.Append(err, domain.NewValidationError(field+".operation", "must be READ or WRITE"))
	}
	for _, m := range r.Methods {
		switch m {
		case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions:
		default:
			err = multierr.Append(err, domain.NewValidationError(field+".methods", "unsupported method "+m))
		}
	}
	return err
}
