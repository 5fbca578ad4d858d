package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/neuroflow/internal/domain"
)

// Publisher публикует запросы run и события выполнения.
//
// Реализует orchestrator.EventPublisher (события уходят в topic exchange
// neuroflow.events) и api.RunRequester (запросы уходят в neuroflow.runs).
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт Publisher поверх общего канала соединения.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// PublishRunRequested ставит исследование в очередь runs.requested.
func (p *Publisher) PublishRunRequested(ctx context.Context, payload RunRequestPayload) error {
	return p.publish(ctx, ExchangeRuns, RoutingKeyRequested, MessageTypeRunRequested, payload, amqp.Persistent)
}

// PublishNodeEvent публикует изменение статуса узла.
func (p *Publisher) PublishNodeEvent(ctx context.Context, event *domain.NodeEvent) error {
	return p.publish(ctx, ExchangeEvents, NodeEventKey(event.Modality, event.Status), MessageTypeNodeEvent, event, amqp.Transient)
}

// PublishRunEvent публикует изменение статуса run.
func (p *Publisher) PublishRunEvent(ctx context.Context, event *domain.RunEvent) error {
	return p.publish(ctx, ExchangeEvents, RunEventKey(event.Status), MessageTypeRunEvent, event, amqp.Transient)
}

// publish заворачивает payload в Message и отправляет его.
// События transient: их читают только живые подписчики watch.
func (p *Publisher) publish(ctx context.Context, exchange Exchange, key RoutingKey, msgType MessageType, payload any, mode uint8) error {
	msg := Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msgType, err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(ctx, string(exchange), string(key), false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: mode,
			MessageId:    msg.ID,
			Type:         string(msgType),
			Timestamp:    msg.Timestamp,
			Body:         body,
		})
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, key, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", key,
			"message_id", msg.ID,
			"type", msgType,
		)
		return nil
	})
}
