package domain

import (
	"context"
	"strconv"
	"time"
)

// EventBuffer acumula eventos no lote ativo e expõe a rotação atômica.
//
// Todas as operações são seguras para chamadores concorrentes em várias
// instâncias: a atomicidade vem do store compartilhado, não de locks locais.
type EventBuffer interface {
	Append(ctx context.Context, ev RequestEvent) error
	// RotateAndDrain troca o lote ativo por um novo e devolve o anterior.
	// Cada id anterior é observado por no máximo um chamador.
	RotateAndDrain(ctx context.Context) (BatchEnvelope, error)
	// Pending lista os lotes já rotacionados e ainda não descartados, do mais
	// antigo para o mais novo.
	Pending(ctx context.Context) ([]string, error)
	Load(ctx context.Context, id string) (BatchEnvelope, error)
	// Discard apaga o lote; só deve ser chamado após escrita confirmada.
	Discard(ctx context.Context, id string) error
}

// AuditRecord é o evento já resolvido no esquema permanente.
type AuditRecord struct {
	// Key é determinística (<lote>:<índice>) e torna a escrita idempotente.
	Key           string
	BatchID       string
	SubjectID     *int64
	SubjectClass  SubjectClass
	Path          string
	Method        string
	Operation     OperationClass
	Module        string
	Status        int
	ResponseBytes *int64
	RecordCount   *int64
	ResourceIDs   []int64
	Error         bool
	ErrorMessage  *string
	ClientIP      string
	UserAgent     string
	DurationMs    int64
	OccurredAt    time.Time
}

// RecordKey monta a chave determinística de um registro.
func RecordKey(batchID string, index int) string {
	return batchID + ":" + strconv.Itoa(index)
}

// RecordResult é o resultado individual de InsertBatch.
type RecordResult struct {
	Key string
	Err error
}

// PersistentLog é o store relacional durável.
//
// InsertBatch nunca falha por registros individuais ruins: eles aparecem com
// Err preenchido. Erro de retorno significa falha total (store inacessível).
type PersistentLog interface {
	InsertBatch(ctx context.Context, records []AuditRecord) ([]RecordResult, error)
}

// IdentityResolver traduz o id externo de uma fonte de identidade para o id
// permanente. Deve devolver ErrUnresolvable (embrulhado) quando não existir.
type IdentityResolver interface {
	Resolve(ctx context.Context, class SubjectClass, externalID string) (int64, error)
}

// FlushState é o estado do ciclo de flush.
type FlushState string

const (
	FlushIdle      FlushState = "IDLE"
	FlushDraining  FlushState = "DRAINING"
	FlushResolving FlushState = "RESOLVING"
	FlushWriting   FlushState = "WRITING"
	FlushCommitted FlushState = "COMMITTED"
	FlushFailed    FlushState = "FAILED"
	FlushSkipped   FlushState = "SKIPPED"
)
