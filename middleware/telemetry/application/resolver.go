package application

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"telemetry-gateway/middleware/telemetry/domain"
)

// ResolverRegistry escolhe o IdentityResolver pela classe do sujeito.
type ResolverRegistry struct {
	resolvers map[domain.SubjectClass]domain.IdentityResolver
}

func NewResolverRegistry() *ResolverRegistry {
	return &ResolverRegistry{resolvers: make(map[domain.SubjectClass]domain.IdentityResolver)}
}

// Register associa r à classe; substitui um registro anterior.
func (reg *ResolverRegistry) Register(class domain.SubjectClass, r domain.IdentityResolver) *ResolverRegistry {
	reg.resolvers[class] = r
	return reg
}

func (reg *ResolverRegistry) Resolve(ctx context.Context, class domain.SubjectClass, externalID string) (int64, error) {
	r, ok := reg.resolvers[class]
	if !ok {
		return 0, fmt.Errorf("%w: no resolver for class %s", domain.ErrUnresolvable, class)
	}
	return r.Resolve(ctx, class, externalID)
}

// NumericResolver aceita ids externos que já são o id permanente (inteiro
// positivo).
type NumericResolver struct{}

func (NumericResolver) Resolve(_ context.Context, class domain.SubjectClass, externalID string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(externalID), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s id %q is not a positive integer", domain.ErrUnresolvable, class, externalID)
	}
	return id, nil
}

// resolveCache memoriza resoluções durante um único ciclo de flush.
type resolveCache struct {
	resolver domain.IdentityResolver
	entries  map[string]resolved
}

type resolved struct {
	id  int64
	err error
}

func newResolveCache(r domain.IdentityResolver) *resolveCache {
	return &resolveCache{resolver: r, entries: make(map[string]resolved)}
}

func (c *resolveCache) resolve(ctx context.Context, class domain.SubjectClass, externalID string) (int64, error) {
	k := string(class) + "\x00" + externalID
	if e, ok := c.entries[k]; ok {
		return e.id, e.err
	}
	id, err := c.resolver.Resolve(ctx, class, externalID)
	c.entries[k] = resolved{id: id, err: err}
	return id, err
}

var (
	_ domain.IdentityResolver = (*ResolverRegistry)(nil)
	_ domain.IdentityResolver = NumericResolver{}
)
