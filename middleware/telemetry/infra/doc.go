// Package infra contém as implementações concretas dos contratos do pacote
// domain.
//
//   - SlidingWindow: janela deslizante + cooldown escalonado (script Lua no Redis)
//   - RedisBuffer: lote ativo, rotação atômica e lotes em drenagem
//   - ActivityStore: leaderboards, HyperLogLog de recursos, contadores e alertas
//   - RedisCycleLock: lock de ciclo do flush (SET NX PX)
//   - RedisStatsStore: contadores de decisões de admissão por minuto
//   - SQLLog / SQLIdentityResolver: store permanente (postgres, mysql, sqlite)
//   - ThrottleStore: token bucket local (x/time/rate) para limitar avisos
//   - ChanPool: semáforo para tarefas em background
//   - Metrics: domain.Observer sobre Prometheus
package infra
