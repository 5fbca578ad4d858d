// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация запросов и событий
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - run.requested — запрос на выполнение исследования
//   - node.event    — изменение статуса узла графа
//   - run.event     — изменение статуса run
//
// Exchanges:
//   - neuroflow.runs   — запросы на выполнение
//   - neuroflow.events — события выполнения (topic)
//   - neuroflow.dlq    — dead letter queue
package mq
