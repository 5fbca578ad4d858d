package mq

import (
	"errors"
	"fmt"
)

var (
	// ErrPermanent — ошибка обработки, которую не исправит повторная доставка.
	// Сообщение с такой ошибкой уходит в DLQ, а не обратно в очередь.
	ErrPermanent = errors.New("permanent message failure")

	// ErrNotConnected — соединение с брокером сейчас разорвано.
	ErrNotConnected = errors.New("not connected to broker")

	// ErrConnectionClosed — соединение закрыто вызовом Close.
	ErrConnectionClosed = errors.New("broker connection closed")
)

// Permanent помечает ошибку обработчика как неисправимую.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}
