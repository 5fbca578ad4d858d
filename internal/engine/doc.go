// Package engine собирает граф run из шаблонов пайплайнов.
//
// Включает:
//   - dag.go      — DAG со стабильной топологической сортировкой
//   - resolver.go — порядок модальностей и межмодальные привязки
//   - group.go    — перезапись шаблона для группового режима
//   - builder.go  — выбор вариантов и создание узлов с привязкой входов
//   - graph.go    — RunGraph, Node, InputBinding
//
// Граф строится целиком или не строится совсем: ошибки конфигурации,
// недоступные зависимости и неизвестные шаги обнаруживаются до запуска
// первого шага.
package engine
