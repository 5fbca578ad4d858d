package scheduler

import "errors"

var (
	// ErrInvalidSchedule — расписание без cron_expr и interval_sec или с невалидным выражением.
	ErrInvalidSchedule = errors.New("invalid schedule")

	// ErrDuplicateSchedule — расписание с таким именем уже добавлено.
	ErrDuplicateSchedule = errors.New("duplicate schedule")
)
