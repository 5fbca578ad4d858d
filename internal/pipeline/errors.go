package pipeline

import (
	"errors"

	"github.com/shaiso/neuroflow/internal/domain"
)

// Ошибки реестра шаблонов.
var (
	// ErrNotFound — шаблон для модальности не зарегистрирован.
	ErrNotFound = errors.New("pipeline template not found")

	// ErrSchema — шаблон не прошёл проверку при регистрации.
	ErrSchema = errors.New("invalid pipeline template")
)

// SchemaError — ошибка регистрации шаблона с контекстом.
type SchemaError struct {
	Modality domain.Modality // модальность шаблона
	Slot     string          // слот, если ошибка относится к слоту
	Message  string          // описание ошибки
}

// Error реализует интерфейс error.
func (e *SchemaError) Error() string {
	prefix := "template " + string(e.Modality)
	if e.Slot != "" {
		prefix += " slot " + e.Slot
	}
	return prefix + ": " + e.Message
}

// Unwrap возвращает ErrSchema.
func (e *SchemaError) Unwrap() error {
	return ErrSchema
}

func schemaError(m domain.Modality, slot, msg string) *SchemaError {
	return &SchemaError{Modality: m, Slot: slot, Message: msg}
}
