package infra

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"telemetry-gateway/middleware/telemetry/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

//go:embed sliding_window.lua
var slidingWindowSource string

var slidingWindowScript = redis.NewScript(slidingWindowSource)

// SlidingWindow é o limiter de janela deslizante com cooldown escalonado.
//
// Cada chamada executa um único script Lua: checa bloqueio, expulsa hits fora
// de [agora-janela, agora], aplica a escada de cooldown e registra o hit.
// Como o script é atômico no Redis, várias instâncias podem compartilhar o
// estado sem lock local.
type SlidingWindow struct {
	rdb  redis.Scripter
	keys Keyspace
}

func NewSlidingWindow(rdb redis.Scripter, keys Keyspace) *SlidingWindow {
	return &SlidingWindow{rdb: rdb, keys: keys}
}

// Hit implementa domain.WindowLimiter.
func (s *SlidingWindow) Hit(ctx context.Context, subjectKey string, class domain.LimitClass, policy domain.LimitPolicy, now time.Time) (domain.Decision, error) {
	if policy.Limit <= 0 || policy.Window <= 0 || len(policy.Ladder) == 0 {
		return domain.Decision{}, fmt.Errorf("invalid policy for class %s", class)
	}

	nowMs := now.UnixMilli()
	windowMs := policy.Window.Milliseconds()

	keys := []string{
		s.keys.LimiterHits(class, subjectKey),
		s.keys.LimiterBlock(class, subjectKey),
		s.keys.LimiterViolations(class, subjectKey),
	}
	args := make([]interface{}, 0, 6+len(policy.Ladder))
	args = append(args,
		nowMs,
		"("+strconv.FormatInt(nowMs-windowMs, 10),
		windowMs,
		policy.Limit,
		// requisições no mesmo milissegundo precisam de membros distintos
		strconv.FormatInt(nowMs, 10)+":"+uuid.NewString(),
		policy.Decay.Milliseconds(),
	)
	for _, step := range policy.Ladder {
		args = append(args, step.Milliseconds())
	}

	res, err := slidingWindowScript.Run(ctx, s.rdb, keys, args...).Int64Slice()
	if err != nil {
		return domain.Decision{}, fmt.Errorf("sliding window %s: %w", class, err)
	}
	if len(res) != 4 {
		return domain.Decision{}, errors.New("invalid sliding window script response")
	}

	return domain.Decision{
		Allowed:           res[0] == 1,
		RetryAfterSeconds: ceilSeconds(res[1]),
		Remaining:         int(res[2]),
		Limit:             policy.Limit,
		Class:             class,
	}, nil
}

func ceilSeconds(ms int64) int {
	if ms <= 0 {
		return 0
	}
	return int((ms + 999) / 1000)
}
