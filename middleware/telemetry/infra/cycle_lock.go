package infra

import (
	"context"
	"fmt"
	"time"

	"telemetry-gateway/middleware/telemetry/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// libera apenas se o token ainda for nosso (o lock pode ter expirado e sido
// tomado por outra instância)
var releaseLockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisCycleLock é o lock de ciclo do flush: SET NX PX com token aleatório.
// O TTL deve ser um pouco maior que a duração esperada de um ciclo.
type RedisCycleLock struct {
	rdb redis.UniversalClient
	key string
	ttl time.Duration
}

func NewRedisCycleLock(rdb redis.UniversalClient, keys Keyspace, ttl time.Duration) *RedisCycleLock {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisCycleLock{rdb: rdb, key: keys.FlushLock(), ttl: ttl}
}

// TryAcquire implementa domain.CycleLock.
func (l *RedisCycleLock) TryAcquire(ctx context.Context) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("cycle lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		// contexto próprio: o do ciclo pode já ter expirado
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseLockScript.Run(ctx, l.rdb, []string{l.key}, token).Err()
	}
	return release, true, nil
}

var _ domain.CycleLock = (*RedisCycleLock)(nil)
