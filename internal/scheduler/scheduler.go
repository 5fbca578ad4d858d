package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/neuroflow/internal/domain"
)

// runNamespace — пространство имён для детерминированных ID запусков.
var runNamespace = uuid.MustParse("6f1c9a52-3b7e-4d0a-9f61-2c8e5b4d7a10")

// LaunchFunc запускает исследование расписания под заданным runID.
// Реализуется публикацией run.requested или запуском в процессе.
type LaunchFunc func(ctx context.Context, sched *domain.Schedule, runID uuid.UUID) error

// LeaderFunc сообщает, должен ли этот процесс выполнять тики.
type LeaderFunc func(ctx context.Context) (bool, error)

// Scheduler — планировщик, обрабатывающий due schedules.
type Scheduler struct {
	launch   LaunchFunc
	leader   LeaderFunc
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	schedules map[string]*domain.Schedule
}

// Config — конфигурация Scheduler.
type Config struct {
	Launch       LaunchFunc
	Leader       LeaderFunc // опционально; nil — процесс всегда лидер
	Logger       *slog.Logger
	TickInterval time.Duration    // default: 1s
	Now          func() time.Time // default: time.Now
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	interval := cfg.TickInterval
	if interval <= 0 {
		interval = time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		launch:    cfg.Launch,
		leader:    cfg.Leader,
		logger:    logger,
		interval:  interval,
		now:       now,
		schedules: make(map[string]*domain.Schedule),
	}
}

// Add регистрирует расписание и вычисляет первый запуск, если он не задан.
func (s *Scheduler) Add(sched *domain.Schedule) error {
	if sched.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSchedule)
	}
	if sched.IsCron() {
		if err := ValidateCronExpr(sched.CronExpr); err != nil {
			return err
		}
	} else if !sched.IsInterval() {
		return fmt.Errorf("%w: %s: neither cron_expr nor interval_sec set", ErrInvalidSchedule, sched.Name)
	}

	if sched.NextDueAt == nil {
		next, err := CalculateNextDue(sched, s.now())
		if err != nil {
			return err
		}
		sched.NextDueAt = &next
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[sched.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSchedule, sched.Name)
	}
	s.schedules[sched.Name] = sched

	s.logger.Info("schedule added",
		"schedule_name", sched.Name,
		"study", sched.Study,
		"next_due_at", sched.NextDueAt,
	)
	return nil
}

// Schedules возвращает копии расписаний, отсортированные по имени.
func (s *Scheduler) Schedules() []domain.Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		out = append(out, *sched)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Run вызывает Tick каждые TickInterval до отмены ctx.
func (s *Scheduler) Run(ctx context.Context) error {
	tk := time.NewTicker(s.interval)
	defer tk.Stop()

	for {
		select {
		case <-tk.C:
			if s.leader != nil {
				ok, err := s.leader(ctx)
				if err != nil {
					s.logger.Warn("leader check failed", "error", err)
					continue
				}
				if !ok {
					continue
				}
			}
			if err := s.Tick(ctx); err != nil {
				s.logger.Error("scheduler tick failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Tick выполняет один тик планировщика.
//
// 1. Находит due schedules (enabled, next_due_at <= now)
// 2. Для каждого запускает исследование с детерминированным run ID
// 3. Сдвигает next_due_at
//
// Ошибки одного schedule не блокируют обработку остальных.
// Расписание, запуск которого не удался, повторяется на следующем тике.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.now()

	s.mu.Lock()
	due := make([]*domain.Schedule, 0)
	for _, sched := range s.schedules {
		if sched.IsDue(now) {
			due = append(due, sched)
		}
	}
	s.mu.Unlock()

	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool { return due[i].Name < due[j].Name })

	s.logger.Debug("found due schedules", "count", len(due))

	var launched int
	for _, sched := range due {
		ok, err := s.processSchedule(ctx, sched, now)
		if err != nil {
			s.logger.Error("failed to process schedule",
				"schedule_name", sched.Name,
				"error", err,
			)
			continue
		}
		if ok {
			launched++
		}
	}

	s.logger.Info("scheduler tick completed",
		"due", len(due),
		"runs_launched", launched,
	)
	return nil
}

// processSchedule обрабатывает один schedule.
// Возвращает true, если run был запущен (не был дубликатом).
func (s *Scheduler) processSchedule(ctx context.Context, sched *domain.Schedule, now time.Time) (bool, error) {
	s.mu.Lock()
	dueAt := *sched.NextDueAt
	last := sched.LastRunID
	s.mu.Unlock()

	// Для одного расписания и времени запуска run ID всегда один и тот же
	runID := RunID(sched.Name, dueAt)

	launched := false
	if last == nil || *last != runID {
		if s.launch != nil {
			if err := s.launch(ctx, sched, runID); err != nil {
				return false, fmt.Errorf("launch run %s: %w", runID, err)
			}
		}
		launched = true
		s.logger.Info("launched run from schedule",
			"run_id", runID,
			"schedule_name", sched.Name,
			"study", sched.Study,
		)
	}

	nextDue, err := CalculateNextDue(sched, now)
	if err != nil {
		s.mu.Lock()
		sched.Enabled = false
		s.mu.Unlock()
		s.logger.Error("failed to calculate next due, disabling schedule",
			"schedule_name", sched.Name,
			"error", err,
		)
		return launched, nil
	}

	s.mu.Lock()
	sched.RecordRun(runID, now, nextDue)
	s.mu.Unlock()

	return launched, nil
}

// RunID — детерминированный ID запуска: "{name}_{due_unix}" в пространстве имён планировщика.
func RunID(name string, dueAt time.Time) uuid.UUID {
	return uuid.NewSHA1(runNamespace, []byte(fmt.Sprintf("%s_%d", name, dueAt.Unix())))
}
