// Package runner выполняет исследование целиком: загружает субъектов,
// вычисляет включённые модальности, строит граф и передаёт его
// оркестратору.
//
// Runner используется CLI (neuroflow run), планировщиком и обработчиком
// очереди run.requested, поэтому опции движка (engine.*) читаются здесь
// один раз и превращаются в orchestrator.Config.
//
// Export копирует итоговые артефакты run в output_dir исследования.
package runner
