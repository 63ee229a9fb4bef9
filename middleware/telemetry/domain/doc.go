// Package domain define contratos e tipos de domínio para admissão (rate limit)
// e telemetria de requisições.
//
// Este pacote não depende de net/http, Redis nem SQL. A intenção é permitir
// testes de unidade puros e desacoplar regras de negócio de detalhes de
// infraestrutura: quem guarda o estado compartilhado (Redis) e quem persiste
// os registros finais (SQL) ficam no pacote infra.
package domain
