package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"telemetry-gateway/middleware/telemetry/domain"

	"go.uber.org/multierr"
)

// DefaultIPGroup é o grupo de throttling por IP usado quando a rota não diz outro.
const DefaultIPGroup = "default"

// LimitConfig é a política de uma classe. Ladder explícita tem precedência
// sobre BaseCooldown/MaxCooldown.
type LimitConfig struct {
	Window       time.Duration   `yaml:"window"`
	Limit        int             `yaml:"limit"`
	BaseCooldown time.Duration   `yaml:"base_cooldown"`
	MaxCooldown  time.Duration   `yaml:"max_cooldown"`
	Ladder       []time.Duration `yaml:"ladder"`
	// Decay zera a contagem de violações; vazio usa a própria janela.
	Decay time.Duration `yaml:"decay"`
}

func (l *LimitConfig) setDefaults(def LimitConfig) {
	if l.Window == 0 {
		l.Window = def.Window
	}
	if l.Limit == 0 {
		l.Limit = def.Limit
	}
	if len(l.Ladder) == 0 && l.BaseCooldown == 0 {
		l.BaseCooldown = def.BaseCooldown
		l.MaxCooldown = def.MaxCooldown
		l.Ladder = def.Ladder
	}
	if l.Decay == 0 {
		l.Decay = l.Window
	}
}

func (l LimitConfig) validate(field string) error {
	var err error
	if l.Window <= 0 {
		err = multierr.Append(err, domain.NewValidationError(field+".window", "must be > 0"))
	}
	if l.Limit <= 0 {
		err = multierr.Append(err, domain.NewValidationError(field+".limit", "must be > 0"))
	}
	if len(l.Ladder) == 0 && l.BaseCooldown <= 0 {
		err = multierr.Append(err, domain.NewValidationError(field, "needs ladder or base_cooldown"))
	}
	for _, d := range l.Ladder {
		if d <= 0 {
			err = multierr.Append(err, domain.NewValidationError(field+".ladder", "steps must be > 0"))
			break
		}
	}
	if l.MaxCooldown > 0 && l.MaxCooldown < l.BaseCooldown {
		err = multierr.Append(err, domain.NewValidationError(field+".max_cooldown", "must be >= base_cooldown"))
	}
	return err
}

// Policy converte para a política do domínio. Sem ladder explícita, dobra a
// partir de BaseCooldown até MaxCooldown.
func (l LimitConfig) Policy() domain.LimitPolicy {
	ladder := l.Ladder
	if len(ladder) == 0 {
		ladder = domain.BuildLadder(l.BaseCooldown, l.MaxCooldown, 8)
	}
	decay := l.Decay
	if decay == 0 {
		decay = l.Window
	}
	return domain.LimitPolicy{
		Window: l.Window,
		Limit:  l.Limit,
		Ladder: append([]time.Duration(nil), ladder...),
		Decay:  decay,
	}
}

type LimitsConfig struct {
	Auth  LimitConfig `yaml:"auth"`
	Read  LimitConfig `yaml:"read"`
	Write LimitConfig `yaml:"write"`
	// IP agrupa rotas por política de throttling por endereço.
	IP map[string]LimitConfig `yaml:"ip"`
}

func (l *LimitsConfig) SetDefaults() {
	l.Auth.setDefaults(LimitConfig{
		Window: time.Minute,
		Limit:  5,
		Ladder: []time.Duration{5 * time.Minute, 10 * time.Minute, 20 * time.Minute, 30 * time.Minute, time.Hour},
	})
	l.Read.setDefaults(LimitConfig{Window: time.Minute, Limit: 50, BaseCooldown: time.Minute, MaxCooldown: 15 * time.Minute})
	l.Write.setDefaults(LimitConfig{Window: time.Minute, Limit: 10, BaseCooldown: 5 * time.Minute, MaxCooldown: time.Hour})

	if l.IP == nil {
		l.IP = map[string]LimitConfig{}
	}
	ipDefault := LimitConfig{Window: time.Minute, Limit: 100, BaseCooldown: time.Minute, MaxCooldown: 10 * time.Minute}
	if _, ok := l.IP[DefaultIPGroup]; !ok {
		l.IP[DefaultIPGroup] = LimitConfig{}
	}
	for name, g := range l.IP {
		g.setDefaults(ipDefault)
		l.IP[name] = g
	}
}

func (l LimitsConfig) Validate() error {
	err := multierr.Combine(
		l.Auth.validate("limits.auth"),
		l.Read.validate("limits.read"),
		l.Write.validate("limits.write"),
	)
	for _, name := range l.ipGroups() {
		if strings.TrimSpace(name) == "" {
			err = multierr.Append(err, domain.NewValidationError("limits.ip", "group name must not be empty"))
			continue
		}
		err = multierr.Append(err, l.IP[name].validate(fmt.Sprintf("limits.ip.%s", name)))
	}
	return err
}

func (l LimitsConfig) ipGroups() []string {
	names := make([]string, 0, len(l.IP))
	for name := range l.IP {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasIPGroup informa se o grupo existe.
func (l LimitsConfig) HasIPGroup(name string) bool {
	_, ok := l.IP[name]
	return ok
}

// Policies monta o mapa classe -> política consumido pela admissão.
func (l LimitsConfig) Policies() map[domain.LimitClass]domain.LimitPolicy {
	out := map[domain.LimitClass]domain.LimitPolicy{
		domain.ClassAuth:  l.Auth.Policy(),
		domain.ClassRead:  l.Read.Policy(),
		domain.ClassWrite: l.Write.Policy(),
	}
	for name, g := range l.IP {
		out[domain.IPClass(name)] = g.Policy()
	}
	return out
}
