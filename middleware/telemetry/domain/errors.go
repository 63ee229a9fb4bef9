package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimitExceeded é embrulhado por toda Rejection.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrStoreUnavailable sinaliza que o store compartilhado não respondeu.
	ErrStoreUnavailable = errors.New("shared store unavailable")

	// ErrLogUnavailable sinaliza falha total do store permanente.
	ErrLogUnavailable = errors.New("persistent log unavailable")

	// ErrInvalidEvent marca eventos descartados na ingestão.
	ErrInvalidEvent = errors.New("invalid request event")

	// ErrUnresolvable é devolvido por resolvers quando a identidade externa
	// não tem correspondente no esquema permanente.
	ErrUnresolvable = errors.New("identity not resolvable")
)

// IsRejection informa se err é (ou embrulha) uma recusa de admissão.
func IsRejection(err error) bool {
	if err == nil {
		return false
	}
	var rej *Rejection
	if errors.As(err, &rej) {
		return true
	}
	return errors.Is(err, ErrRateLimitExceeded)
}

// AsRejection extrai a Rejection de err, se houver.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// ValidationError representa um erro de configuração.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
