package repo

import "errors"

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrInvalidReport — отчёт без ID или статуса.
	ErrInvalidReport = errors.New("invalid run report")
)
