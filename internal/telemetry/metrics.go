package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики движка. Регистрируются в prometheus.DefaultRegisterer.
var (
	// RunsTotal — завершённые runs по итоговому статусу.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "neuroflow_runs_total",
		Help: "Total number of finished runs by status",
	}, []string{"status"})

	// RunDuration — длительность run.
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "neuroflow_run_duration_seconds",
		Help:    "Run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})

	// NodesTotal — узлы в терминальном статусе по модальности.
	NodesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "neuroflow_nodes_total",
		Help: "Total number of nodes reaching a terminal status",
	}, []string{"modality", "status"})

	// NodesRunning — узлы, выполняющиеся прямо сейчас.
	NodesRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "neuroflow_nodes_running",
		Help: "Number of nodes currently executing",
	})

	// CacheHitsTotal — узлы, завершённые без вызова шага.
	CacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "neuroflow_cache_hits_total",
		Help: "Total number of nodes completed from the artifact store",
	}, []string{"modality"})

	// StepDuration — длительность одного вызова шага.
	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "neuroflow_step_duration_seconds",
		Help:    "Processing step invocation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 14),
	}, []string{"step"})

	// StepRetriesTotal — повторные попытки шагов.
	StepRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "neuroflow_step_retries_total",
		Help: "Total number of step retries",
	}, []string{"step"})

	// BrokerReconnectsTotal — переподключения к RabbitMQ.
	BrokerReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "neuroflow_broker_reconnects_total",
		Help: "Total number of RabbitMQ reconnects",
	})

	// MessagesConsumedTotal — обработанные сообщения по очереди и исходу
	// (ack, requeue, dead_letter).
	MessagesConsumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "neuroflow_messages_consumed_total",
		Help: "Total number of consumed messages by outcome",
	}, []string{"queue", "outcome"})

	// HTTPRequestsTotal — запросы к API по шаблону маршрута.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "neuroflow_http_requests_total",
		Help: "Total number of API requests",
	}, []string{"method", "route", "code"})
)
