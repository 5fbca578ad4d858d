package config

import (
	"errors"
	"fmt"
)

// Ошибки конфигурации.
var (
	// ErrInvalidOption — распознанный ключ с недопустимым типом или значением.
	ErrInvalidOption = errors.New("invalid option value")

	// ErrMissingOption — обязательный для слота ключ не задан.
	ErrMissingOption = errors.New("required option missing")

	// ErrInvalidStudy — файл исследования не прошёл проверку.
	ErrInvalidStudy = errors.New("invalid study")
)

// ConfigurationError — ошибка значения конфигурации.
//
// Key — ключ опции. Slot заполняется, если ошибка возникла при выборе
// варианта слота, и содержит "<modality>.<slot>".
type ConfigurationError struct {
	Key    string
	Slot   string
	Value  any
	Reason string
	Err    error
}

// Error реализует интерфейс error.
func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("option %s: %s", e.Key, e.Reason)
	if e.Value != nil {
		msg = fmt.Sprintf("option %s=%v: %s", e.Key, e.Value, e.Reason)
	}
	if e.Slot != "" {
		return "slot " + e.Slot + ": " + msg
	}
	return msg
}

// Unwrap возвращает базовую ошибку.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfigurationError создаёт ConfigurationError.
func NewConfigurationError(key string, value any, reason string, err error) *ConfigurationError {
	return &ConfigurationError{
		Key:    key,
		Value:  value,
		Reason: reason,
		Err:    err,
	}
}
