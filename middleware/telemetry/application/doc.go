// Package application contém os casos de uso de admissão e telemetria.
//
// Depende apenas do pacote domain e não conhece net/http nem Redis:
//   - AdmissionService.Admit decide allow/deny com fail-open
//   - Recorder.Submit valida o evento e despacha Append + Record em background
//   - MetricsAggregator aplica as regras de anomalia e expõe as consultas
//   - FlushCoordinator rotaciona, resolve identidades e grava no store permanente
//   - Guard é o wrapper best-effort usado por todos eles
package application
