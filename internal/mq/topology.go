package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeRuns   Exchange = "neuroflow.runs"
	ExchangeEvents Exchange = "neuroflow.events"
	ExchangeDLQ    Exchange = "neuroflow.dlq"
)

// Queues — имена очередей.
const (
	QueueRunsRequested Queue = "runs.requested"
	QueueDLQRuns       Queue = "dlq.runs"
)

// Routing keys.
const (
	RoutingKeyRequested RoutingKey = "requested"
	RoutingKeyDLQRuns   RoutingKey = "runs"

	// RoutingKeyAllEvents — все события узлов и run.
	RoutingKeyAllEvents RoutingKey = "#"

	// RoutingKeyRunEvents — только события run.
	RoutingKeyRunEvents RoutingKey = "run.*"
)

type exchangeSpec struct {
	name Exchange
	kind string
}

type queueSpec struct {
	name     Queue
	bindKey  RoutingKey
	exchange Exchange
	args     amqp.Table
}

var exchanges = []exchangeSpec{
	{ExchangeRuns, amqp.ExchangeDirect},
	{ExchangeEvents, amqp.ExchangeTopic},
	{ExchangeDLQ, amqp.ExchangeDirect},
}

// Отклонённый запрос run уходит в dlq.runs.
var queues = []queueSpec{
	{
		name:     QueueRunsRequested,
		bindKey:  RoutingKeyRequested,
		exchange: ExchangeRuns,
		args: amqp.Table{
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(RoutingKeyDLQRuns),
		},
	},
	{name: QueueDLQRuns, bindKey: RoutingKeyDLQRuns, exchange: ExchangeDLQ},
}

// SetupTopology объявляет обменники и durable очереди с привязками.
// Повторный вызов ничего не меняет.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		for _, q := range queues {
			if _, err := ch.QueueDeclare(string(q.name), true, false, false, false, q.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
			if err := ch.QueueBind(string(q.name), string(q.bindKey), string(q.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", q.name, q.exchange, err)
			}
		}
		return nil
	})
}

func declareExchanges(ch *amqp.Channel) error {
	for _, ex := range exchanges {
		// durable, без auto-delete
		if err := ch.ExchangeDeclare(string(ex.name), ex.kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}
	return nil
}

// WatchQueue объявляет временную exclusive очередь, привязанную к
// neuroflow.events по шаблону pattern. Очередь живёт, пока живо
// соединение, поэтому объявляется заново в каждой сессии consumer.
func WatchQueue(pattern RoutingKey) DeclareFunc {
	return func(ch *amqp.Channel) (string, error) {
		if err := declareExchanges(ch); err != nil {
			return "", err
		}

		// Имя выберет сервер; очередь exclusive и auto-delete
		q, err := ch.QueueDeclare("", false, true, true, false, nil)
		if err != nil {
			return "", fmt.Errorf("declare watch queue: %w", err)
		}

		if err := ch.QueueBind(q.Name, string(pattern), string(ExchangeEvents), false, nil); err != nil {
			return "", fmt.Errorf("bind watch queue: %w", err)
		}
		return q.Name, nil
	}
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  NeuroFlow RabbitMQ Topology:

    neuroflow.runs (direct)
    └── runs.requested [routing: requested]
            Consumer: neuroflow-server
            DLQ: dlq.runs

    neuroflow.events (topic)
    └── <exclusive> [routing: node.<modality>.<status>, run.<status>]
            Consumer: neuroflow watch

    neuroflow.dlq (direct)
    └── dlq.runs [routing: runs]
            Manual processing
  `
}
