// Package telemetry обеспечивает наблюдаемость системы.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики движка и API
//
// Все бинарники используют единый формат логирования,
// сервер экспортирует метрики на /metrics endpoint.
package telemetry
