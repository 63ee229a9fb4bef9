// Package telemetry é o adapter HTTP (net/http) do controle de admissão e da
// telemetria de requisições.
//
// Camadas:
//
//   - domain: contratos e tipos, sem net/http
//   - application: casos de uso (admissão com fail-open, fan-out de eventos, flush)
//   - infra: Redis, SQL, Prometheus, zap
//   - config: YAML + variáveis de ambiente
//   - telemetry (este pacote): identidade, capacidades por rota, 429 e captura da resposta
//
// Fluxo por requisição:
//
//  1. Resolve IP do cliente e identidade (cabeçalhos da autenticação à frente)
//  2. Consulta a admissão por IP (grupo da rota) e pela classe da rota
//  3. Se recusada, responde 429 com corpo JSON e Retry-After
//  4. Se permitida, chama o próximo handler capturando status e tamanho
//  5. Em rotas auditáveis, entrega o RequestEvent ao Recorder sem bloquear
package telemetry
