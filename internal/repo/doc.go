// Package repo хранит отчёты run и артефакты в PostgreSQL (pgx).
//
// RunRepo реализует orchestrator.ReportSink, ArtifactRepo реализует
// artifact.Store. Схема создаётся функцией Migrate.
package repo
