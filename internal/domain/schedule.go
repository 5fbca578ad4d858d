package domain

import (
	"time"

	"github.com/google/uuid"
)

// Schedule — расписание повторного запуска исследования.
//
// Schedule позволяет перезапускать исследование:
// - По cron-выражению: "0 3 * * *" (каждый день в 3:00)
// - По интервалу: каждые N секунд
//
// Повторный run дёшев: неизменившиеся узлы берутся из кэша, поэтому
// расписание пересчитывает только новых субъектов и изменённые опции.
type Schedule struct {
	// Name — имя расписания (обычно имя исследования).
	Name string `json:"name"`

	// Study — путь к файлу исследования.
	Study string `json:"study"`

	// CronExpr — cron-выражение.
	// Формат: "минуты часы дни месяцы дни_недели"
	// Если задан CronExpr, IntervalSec игнорируется.
	CronExpr string `json:"cron_expr,omitempty"`

	// IntervalSec — интервал в секундах между запусками.
	// Используется если CronExpr не задан.
	IntervalSec int `json:"interval_sec,omitempty"`

	// Timezone — часовой пояс для вычисления времени (default: "UTC").
	Timezone string `json:"timezone,omitempty"`

	// Enabled — флаг активности расписания.
	Enabled bool `json:"enabled"`

	// NextDueAt — время следующего запуска.
	NextDueAt *time.Time `json:"next_due_at,omitempty"`

	// LastRunAt — время последнего запуска.
	LastRunAt *time.Time `json:"last_run_at,omitempty"`

	// LastRunID — ID последнего запущенного run.
	LastRunID *uuid.UUID `json:"last_run_id,omitempty"`
}

// IsCron возвращает true, если расписание использует cron-выражение.
func (s *Schedule) IsCron() bool {
	return s.CronExpr != ""
}

// IsInterval возвращает true, если расписание использует интервал.
func (s *Schedule) IsInterval() bool {
	return s.CronExpr == "" && s.IntervalSec > 0
}

// IsDue проверяет, пора ли запускать.
func (s *Schedule) IsDue(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	if s.NextDueAt == nil {
		return false
	}
	return !now.Before(*s.NextDueAt)
}

// RecordRun записывает информацию о запуске.
func (s *Schedule) RecordRun(runID uuid.UUID, at, nextDue time.Time) {
	s.LastRunAt = &at
	s.LastRunID = &runID
	s.NextDueAt = &nextDue
}
