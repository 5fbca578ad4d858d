package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/neuroflow/internal/artifact"
	"github.com/shaiso/neuroflow/internal/domain"
	"github.com/shaiso/neuroflow/internal/mq"
	"github.com/shaiso/neuroflow/internal/repo"
)

// RunStore — чтение отчётов run. Реализуется *repo.RunRepo.
type RunStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.RunReport, error)
	List(ctx context.Context, filter repo.RunFilter) ([]domain.RunSummary, error)
}

// RunRequester — постановка run в очередь. Реализуется *mq.Publisher.
type RunRequester interface {
	PublishRunRequested(ctx context.Context, payload mq.RunRequestPayload) error
}

// ScheduleLister — источник расписаний. Реализуется *scheduler.Scheduler.
type ScheduleLister interface {
	Schedules() []domain.Schedule
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	runs      RunStore
	artifacts artifact.Store
	requester RunRequester
	schedules ScheduleLister
	logger    *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Runs      RunStore
	Artifacts artifact.Store
	Requester RunRequester   // опционально; без него POST /runs отвечает 503
	Schedules ScheduleLister // опционально
	Logger    *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		runs:      cfg.Runs,
		artifacts: cfg.Artifacts,
		requester: cfg.Requester,
		schedules: cfg.Schedules,
		logger:    logger,
	}
}
