package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"telemetry-gateway/middleware/telemetry/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// KEYS[1] ponteiro ativo
// ARGV[1] id candidato   ARGV[2] prefixo do lote   ARGV[3] ttl (ms)   ARGV[4..] eventos
var appendScript = redis.NewScript(`
local id = redis.call('GET', KEYS[1])
if not id then
  id = ARGV[1]
end
redis.call('SET', KEYS[1], id, 'PX', ARGV[3])
local batch = ARGV[2] .. id
redis.call('RPUSH', batch, unpack(ARGV, 4))
redis.call('PEXPIRE', batch, ARGV[3])
return id
`)

// KEYS[1] ponteiro ativo   KEYS[2] lotes em drenagem
// ARGV[1] novo id   ARGV[2] score (ms)   ARGV[3] ttl (ms)
var rotateScript = redis.NewScript(`
local prev = redis.call('GET', KEYS[1])
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
if not prev then
  return ''
end
redis.call('ZADD', KEYS[2], ARGV[2], prev)
redis.call('PEXPIRE', KEYS[2], ARGV[3])
return prev
`)

// RedisBuffer implementa domain.EventBuffer sobre listas do Redis.
//
// O ponteiro ativo expira junto com o lote que aponta: os dois têm o TTL
// renovado a cada Append.
//
// Append e a rotação são scripts Lua: um Append nunca lê o ponteiro ativo
// numa chamada e escreve em outra, então não existe janela em que o evento
// caia num lote que já foi drenado.
type RedisBuffer struct {
	rdb      redis.UniversalClient
	keys     Keyspace
	batchTTL time.Duration
	logger   *zap.Logger
	observer domain.Observer
	now      func() time.Time
}

type RedisBufferOption func(*RedisBuffer)

func WithBufferTTL(d time.Duration) RedisBufferOption {
	return func(b *RedisBuffer) { b.batchTTL = d }
}

func WithBufferLogger(l *zap.Logger) RedisBufferOption {
	return func(b *RedisBuffer) { b.logger = l }
}

func WithBufferObserver(o domain.Observer) RedisBufferOption {
	return func(b *RedisBuffer) { b.observer = o }
}

func WithBufferClock(now func() time.Time) RedisBufferOption {
	return func(b *RedisBuffer) { b.now = now }
}

func NewRedisBuffer(rdb redis.UniversalClient, keys Keyspace, opts ...RedisBufferOption) *RedisBuffer {
	b := &RedisBuffer{
		rdb:      rdb,
		keys:     keys,
		batchTTL: 72 * time.Hour,
		logger:   zap.NewNop(),
		observer: domain.NopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *RedisBuffer) newBatchID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate batch id: %w", err)
	}
	return id.String(), nil
}

// Append grava o evento no lote ativo.
func (b *RedisBuffer) Append(ctx context.Context, ev domain.RequestEvent) error {
	return b.AppendMany(ctx, []domain.RequestEvent{ev})
}

// AppendMany grava vários eventos no mesmo lote, preservando a ordem.
func (b *RedisBuffer) AppendMany(ctx context.Context, events []domain.RequestEvent) error {
	if len(events) == 0 {
		return nil
	}
	candidate, err := b.newBatchID()
	if err != nil {
		return err
	}

	args := make([]interface{}, 0, 3+len(events))
	args = append(args, candidate, b.keys.BufferBatchPrefix(), b.batchTTL.Milliseconds())
	for _, ev := range events {
		raw, err := encodeEvent(ev)
		if err != nil {
			return err
		}
		args = append(args, raw)
	}

	if err := appendScript.Run(ctx, b.rdb, []string{b.keys.BufferActive()}, args...).Err(); err != nil {
		return fmt.Errorf("buffer append: %w", err)
	}
	return nil
}

// RotateAndDrain troca o ponteiro ativo e devolve o conteúdo do lote anterior.
//
// Sem ponteiro anterior (primeira rotação) devolve envelope vazio sem id.
// O lote drenado continua no Redis até Discard.
func (b *RedisBuffer) RotateAndDrain(ctx context.Context) (domain.BatchEnvelope, error) {
	next, err := b.newBatchID()
	if err != nil {
		return domain.BatchEnvelope{}, err
	}

	prev, err := rotateScript.Run(ctx, b.rdb,
		[]string{b.keys.BufferActive(), b.keys.BufferDraining()},
		next, b.now().UnixMilli(), b.batchTTL.Milliseconds(),
	).Text()
	if err != nil {
		return domain.BatchEnvelope{}, fmt.Errorf("buffer rotate: %w", err)
	}
	if prev == "" {
		return domain.BatchEnvelope{}, nil
	}
	return b.Load(ctx, prev)
}

// Pending lista lotes drenados e ainda não descartados (mais antigos primeiro).
func (b *RedisBuffer) Pending(ctx context.Context) ([]string, error) {
	ids, err := b.rdb.ZRange(ctx, b.keys.BufferDraining(), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("buffer pending: %w", err)
	}
	return ids, nil
}

// Load lê o lote inteiro. Entradas que não decodificam são descartadas e contadas.
func (b *RedisBuffer) Load(ctx context.Context, id string) (domain.BatchEnvelope, error) {
	raws, err := b.rdb.LRange(ctx, b.keys.BufferBatch(id), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return domain.BatchEnvelope{}, fmt.Errorf("buffer load %s: %w", id, err)
	}

	env := domain.BatchEnvelope{ID: id, Events: make([]domain.RequestEvent, 0, len(raws))}
	for i, raw := range raws {
		ev, err := decodeEvent([]byte(raw))
		if err != nil {
			b.observer.EventDropped("undecodable")
			b.logger.Warn("dropping undecodable buffered event",
				zap.String("batch", id), zap.Int("index", i), zap.Error(err))
			continue
		}
		env.Events = append(env.Events, ev)
	}
	return env, nil
}

// Discard apaga o lote e o remove do conjunto de drenagem.
func (b *RedisBuffer) Discard(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	pipe := b.rdb.TxPipeline()
	pipe.Del(ctx, b.keys.BufferBatch(id))
	pipe.ZRem(ctx, b.keys.BufferDraining(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("buffer discard %s: %w", id, err)
	}
	return nil
}
