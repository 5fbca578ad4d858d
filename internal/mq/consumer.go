package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/neuroflow/internal/telemetry"
)

// sessionRetryDelay — пауза перед новой сессией, если соединение живо,
// а канал consumer закрыт брокером.
const sessionRetryDelay = 5 * time.Second

// Handler обрабатывает сообщение. nil — ack; ошибка, обёрнутая Permanent, —
// сразу в DLQ; прочие ошибки — повторная доставка (один раз, затем DLQ).
type Handler func(ctx context.Context, d *Delivery) error

// DeclareFunc объявляет очередь на канале consumer и возвращает её имя.
// Вызывается в начале каждой сессии, в том числе после переподключения.
type DeclareFunc func(ch *amqp.Channel) (string, error)

// Delivery — доставленное сообщение.
type Delivery struct {
	Message Message
	Raw     amqp.Delivery
}

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	// Queue — имя очереди. С Declare — только метка для метрик.
	Queue string

	// Declare — объявление временной очереди (например, для watch).
	Declare DeclareFunc

	// Handler — обработчик сообщений.
	Handler Handler

	// Prefetch — сколько неподтверждённых сообщений держит брокер на consumer.
	// По умолчанию 1: run исследования — долгая задача.
	Prefetch int
}

// Consumer читает одну очередь на собственном канале.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    string
	declare  DeclareFunc
	handler  Handler
	prefetch int
}

// NewConsumer создаёт Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}

	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}

	return &Consumer{
		conn:     conn,
		logger:   logger,
		queue:    cfg.Queue,
		declare:  cfg.Declare,
		handler:  cfg.Handler,
		prefetch: prefetch,
	}
}

// Start читает сообщения до отмены ctx или закрытия соединения.
// Разрыв соединения не завершает Start: после переподключения
// открывается новая сессия.
func (c *Consumer) Start(ctx context.Context) error {
	for {
		gen := c.conn.Generation()

		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrConnectionClosed) {
			return err
		}
		c.logger.Warn("consumer session ended", "queue", c.queue, "error", err)

		waitCtx, cancel := context.WithTimeout(ctx, sessionRetryDelay)
		err = c.conn.WaitReconnect(waitCtx, gen)
		cancel()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrConnectionClosed) {
			return err
		}
	}
}

// session открывает канал, подписывается на очередь и обрабатывает
// сообщения, пока канал жив.
func (c *Consumer) session(ctx context.Context) error {
	ch, err := c.conn.OpenChannel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	queue := c.queue
	if c.declare != nil {
		if queue, err = c.declare(ch); err != nil {
			return err
		}
	}

	deliveries, err := ch.Consume(
		queue,
		"",    // consumer tag (auto-generated)
		false, // auto-ack (ack вручную после обработки)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	c.logger.Info("consumer started", "queue", queue, "prefetch", c.prefetch)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("%w: deliveries channel closed", ErrNotConnected)
			}
			c.handle(ctx, queue, raw)
		}
	}
}

// handle обрабатывает одно сообщение и подтверждает его.
func (c *Consumer) handle(ctx context.Context, queue string, raw amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		c.logger.Error("malformed message", "queue", queue, "error", err, "size", len(raw.Body))
		c.settle(queue, raw, outcomeDeadLetter)
		return
	}

	log := c.logger.With("queue", queue, "message_id", msg.ID, "type", msg.Type)
	log.Debug("received message", "redelivered", raw.Redelivered)

	err := c.handler(ctx, &Delivery{Message: msg, Raw: raw})
	switch {
	case err == nil:
		c.settle(queue, raw, outcomeAck)
	case errors.Is(err, ErrPermanent):
		log.Error("handler failed permanently", "error", err)
		c.settle(queue, raw, outcomeDeadLetter)
	case ctx.Err() != nil:
		log.Warn("handler interrupted", "error", err)
		c.settle(queue, raw, outcomeRequeue)
	case raw.Redelivered:
		log.Error("handler failed on redelivery", "error", err)
		c.settle(queue, raw, outcomeDeadLetter)
	default:
		log.Error("handler failed", "error", err)
		c.settle(queue, raw, outcomeRequeue)
	}
}

const (
	outcomeAck        = "ack"
	outcomeRequeue    = "requeue"
	outcomeDeadLetter = "dead_letter"
)

func (c *Consumer) settle(queue string, raw amqp.Delivery, outcome string) {
	var err error
	switch outcome {
	case outcomeAck:
		err = raw.Ack(false)
	case outcomeRequeue:
		err = raw.Nack(false, true)
	default:
		err = raw.Nack(false, false)
	}
	if err != nil {
		c.logger.Warn("failed to settle message", "queue", queue, "outcome", outcome, "error", err)
		return
	}
	telemetry.MessagesConsumedTotal.WithLabelValues(c.queue, outcome).Inc()
}
