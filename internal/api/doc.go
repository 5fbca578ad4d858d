// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go          — Handler с DI (хранилища, очередь, расписания, logger)
//   - routes.go           — регистрация маршрутов
//   - middleware.go       — middleware (logging, metrics, recovery)
//   - response.go         — унифицированные JSON-ответы и обработка ошибок
//   - dto.go              — Data Transfer Objects (request/response)
//   - run_handler.go      — обработчики для /runs
//   - artifact_handler.go — обработчики для /artifacts
//   - schedule_handler.go — обработчики для /schedules
//
// API отдаёт отчёты run и артефакты только на чтение; POST /runs лишь
// публикует run.requested, выполнение происходит у потребителя очереди.
package api
