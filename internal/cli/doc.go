// Package cli реализует инструмент командной строки neuroflow.
//
// # Обзор
//
// Локальные команды строят и выполняют граф исследования в процессе:
//   - plan STUDY — граф без выполнения
//   - run STUDY  — выполнение с хранилищем в памяти или в PostgreSQL (--db)
//     и публикацией событий в RabbitMQ (--amqp)
//   - watch      — поток событий узлов и run из RabbitMQ
//
// Остальные команды работают с сервером через HTTP:
//   - runs: list, show, failures, request
//   - artifacts: list, show
//   - schedules: list
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для neuroflow API. Методы принимают context, ответ
// разворачивается из поля data, ошибка сервера возвращается как *APIError.
//
//	client := cli.NewClient("http://localhost:8080")
//	runs, err := client.ListRuns(ctx, cli.ListRunsOpts{Study: "memory-clinic"})
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Notice/Warn) и логи — в stderr.
// Это позволяет использовать pipe: neuroflow plan study.yaml --json | jq .
//
// ## Commands
//
// Каждая группа создаётся через фабричную функцию (NewRunsCmd и т.д.),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
