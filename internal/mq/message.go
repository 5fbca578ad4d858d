package mq

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/neuroflow/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeRunRequested MessageType = "run.requested"
	MessageTypeNodeEvent    MessageType = "node.event"
	MessageTypeRunEvent     MessageType = "run.event"
)

// Message — конверт сообщения. Payload после доставки — map[string]any,
// типизированное значение достаёт ParsePayload.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// RunRequestPayload — запрос на выполнение исследования.
type RunRequestPayload struct {
	// RunID — ID будущего run. uuid.Nil — сгенерирует исполнитель.
	RunID uuid.UUID `json:"run_id"`

	// Study — путь к файлу исследования на стороне исполнителя.
	Study string `json:"study"`

	// Options — переопределения опций исследования.
	Options map[string]any `json:"options,omitempty"`
}

// ParsePayload декодирует payload сообщения в T.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	raw, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return result, fmt.Errorf("unmarshal %s payload: %w", msg.Type, err)
	}
	return result, nil
}

// NodeEventKey — routing key события узла: node.<modality>.<status>.
func NodeEventKey(m domain.Modality, status domain.NodeStatus) RoutingKey {
	return RoutingKey("node." + string(m) + "." + strings.ToLower(string(status)))
}

// RunEventKey — routing key события run: run.<status>.
func RunEventKey(status domain.RunStatus) RoutingKey {
	return RoutingKey("run." + strings.ToLower(string(status)))
}
