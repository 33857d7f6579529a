package domain

import (
	"errors"
	"fmt"
)

// Categorías de error del motor. Se comparan con errors.Is.
var (
	// ErrConfiguration: identificador de plugin inválido, config mal formada,
	// search space por encima del cap. Fatal para la operación.
	ErrConfiguration = errors.New("configuration error")

	// ErrDataUnavailable: book vacío, campo ausente. Se recupera localmente
	// como "sin señal / sin orden / sin fill" y nunca escala.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrExperimentFailure: error dentro del pipeline de un experimento.
	// Queda aislado en el resultado de ese experimento.
	ErrExperimentFailure = errors.New("experiment failure")

	// ErrIntegrityViolation: un valor producido rompe un invariante.
	// Siempre aborta el cálculo, nunca se corrige en silencio.
	ErrIntegrityViolation = errors.New("integrity violation")
)

// ConfigError identifica el campo de configuración culpable.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// NewConfigError construye un ConfigError con formato.
func NewConfigError(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IntegrityError describe qué invariante se rompió.
type IntegrityError struct {
	What   string
	Detail string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity violation: %s: %s", e.What, e.Detail)
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrityViolation }

func integrityf(what, format string, args ...any) error {
	return &IntegrityError{What: what, Detail: fmt.Sprintf(format, args...)}
}
