package domain

import (
	"fmt"
	"strings"
	"time"
)

// SubjectClass é a categoria da fonte de identidade do chamador.
type SubjectClass string

const (
	SubjectUser      SubjectClass = "user"
	SubjectAPIKey    SubjectClass = "api_key"
	SubjectService   SubjectClass = "service"
	SubjectAnonymous SubjectClass = "anonymous"
)

// Valid informa se a classe pertence ao conjunto fixo conhecido.
func (c SubjectClass) Valid() bool {
	switch c {
	case SubjectUser, SubjectAPIKey, SubjectService, SubjectAnonymous:
		return true
	}
	return false
}

// ParseSubjectClass normaliza valores vindos de headers/config.
// Vazio ou desconhecido vira SubjectAnonymous.
func ParseSubjectClass(s string) SubjectClass {
	c := SubjectClass(strings.ToLower(strings.TrimSpace(s)))
	if c.Valid() {
		return c
	}
	return SubjectAnonymous
}

// OperationClass separa leituras de escritas.
type OperationClass string

const (
	OperationRead  OperationClass = "READ"
	OperationWrite OperationClass = "WRITE"
)

func (o OperationClass) Valid() bool {
	return o == OperationRead || o == OperationWrite
}

// OperationForMethod é a classificação padrão usada quando a rota não declara
// a operação explicitamente.
func OperationForMethod(method string) OperationClass {
	switch strings.ToUpper(method) {
	case "GET", "HEAD", "OPTIONS":
		return OperationRead
	default:
		return OperationWrite
	}
}

// RequestEvent é o registro imutável de uma chamada concluída.
//
// É criado uma única vez pela camada de captura e passado por valor entre os
// estágios (buffer, agregador, flush). Nenhum componente deve alterá-lo depois
// de Normalize.
type RequestEvent struct {
	Subject       *string        `msgpack:"subject" json:"subject,omitempty"`
	SubjectClass  SubjectClass   `msgpack:"subject_class" json:"subject_class"`
	Path          string         `msgpack:"path" json:"path"`
	Method        string         `msgpack:"method" json:"method"`
	Operation     OperationClass `msgpack:"operation" json:"operation"`
	Module        string         `msgpack:"module" json:"module"`
	Status        int            `msgpack:"status" json:"status"`
	ResponseBytes *int64         `msgpack:"response_bytes" json:"response_bytes,omitempty"`
	RecordCount   *int64         `msgpack:"record_count" json:"record_count,omitempty"`
	ResourceIDs   []int64        `msgpack:"resource_ids" json:"resource_ids,omitempty"`
	Error         bool           `msgpack:"error" json:"error"`
	ErrorMessage  *string        `msgpack:"error_message" json:"error_message,omitempty"`
	ClientIP      string         `msgpack:"client_ip" json:"client_ip"`
	UserAgent     string         `msgpack:"user_agent" json:"user_agent"`
	DurationMs    int64          `msgpack:"duration_ms" json:"duration_ms"`
	OccurredAt    time.Time      `msgpack:"occurred_at" json:"occurred_at"`
}

// SubjectKey é a chave usada pelo limiter e pelo agregador.
// Eventos sem sujeito são agregados pelo IP do cliente.
func (e RequestEvent) SubjectKey() string {
	return SubjectKeyFor(e.Subject, e.SubjectClass, e.ClientIP)
}

// SubjectKeyFor monta "<classe>:<id>" ou "ip:<ip>" para chamadas anônimas.
func SubjectKeyFor(subject *string, class SubjectClass, clientIP string) string {
	if subject != nil && strings.TrimSpace(*subject) != "" && class != SubjectAnonymous {
		return string(class) + ":" + strings.TrimSpace(*subject)
	}
	if clientIP == "" {
		clientIP = "unknown"
	}
	return "ip:" + clientIP
}

// Normalize devolve uma cópia com ids deduplicados (ordem da primeira
// ocorrência) e classe/operação preenchidas.
func (e RequestEvent) Normalize() RequestEvent {
	out := e
	if out.SubjectClass == "" {
		out.SubjectClass = SubjectAnonymous
	}
	if out.Operation == "" {
		out.Operation = OperationForMethod(out.Method)
	}
	if len(e.ResourceIDs) > 0 {
		seen := make(map[int64]struct{}, len(e.ResourceIDs))
		ids := make([]int64, 0, len(e.ResourceIDs))
		for _, id := range e.ResourceIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		out.ResourceIDs = ids
	}
	return out
}

// Validate rejeita eventos malformados. O erro sempre embrulha ErrInvalidEvent.
func (e RequestEvent) Validate() error {
	if e.DurationMs < 0 {
		return fmt.Errorf("%w: negative duration %d", ErrInvalidEvent, e.DurationMs)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidEvent)
	}
	if !e.SubjectClass.Valid() {
		return fmt.Errorf("%w: unknown subject class %q", ErrInvalidEvent, e.SubjectClass)
	}
	if !e.Operation.Valid() {
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidEvent, e.Operation)
	}
	if e.ResponseBytes != nil && *e.ResponseBytes < 0 {
		return fmt.Errorf("%w: negative response size", ErrInvalidEvent)
	}
	if e.RecordCount != nil && *e.RecordCount < 0 {
		return fmt.Errorf("%w: negative record count", ErrInvalidEvent)
	}
	for _, id := range e.ResourceIDs {
		if id <= 0 {
			return fmt.Errorf("%w: non-positive resource id %d", ErrInvalidEvent, id)
		}
	}
	return nil
}

// BatchEnvelope é um lote de eventos identificado por um id comparável no
// tempo (UUIDv7). Um envelope drenado só é apagado depois de uma escrita
// permanente confirmada.
type BatchEnvelope struct {
	ID     string
	Events []RequestEvent
}

func (b BatchEnvelope) Empty() bool { return len(b.Events) == 0 }
