// Package orchestrator выполняет графы run.
//
// Orchestrator отвечает за:
//   - Регистрацию внешних файлов графа в хранилище артефактов
//   - Топологическое планирование узлов с ограничением параллелизма
//   - Кэширование: узел с известным ключом не вызывает шаг повторно
//   - Retry шагов по RetryPolicy
//   - Изоляцию ошибок: упавший узел пропускает только своих потомков
//   - Барьер агрегации группового шаблона (fail-closed или best-effort)
//   - Отмену run и формирование RunReport
//
// Orchestrator — это "мозг" движка: сам он не обрабатывает данные, только
// отслеживает готовность узлов и вызывает шаги.
package orchestrator
