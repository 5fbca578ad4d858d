package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/neuroflow/internal/artifact"
	"github.com/shaiso/neuroflow/internal/config"
	"github.com/shaiso/neuroflow/internal/domain"
	"github.com/shaiso/neuroflow/internal/engine"
	"github.com/shaiso/neuroflow/internal/mq"
	"github.com/shaiso/neuroflow/internal/orchestrator"
	"github.com/shaiso/neuroflow/internal/pipeline"
	"github.com/shaiso/neuroflow/internal/steps"
)

// Runner связывает файл исследования с построителем графа и оркестратором.
type Runner struct {
	templates *pipeline.Registry
	steps     *steps.Registry
	store     artifact.Store
	events    orchestrator.EventPublisher
	reports   orchestrator.ReportSink
	overrides config.Options
	poolSize  int
	logger    *slog.Logger

	// orch — общий для всех run: один пул узлов и один singleflight
	mu   sync.Mutex
	orch *orchestrator.Orchestrator
}

// Config — конфигурация Runner.
type Config struct {
	// Templates — реестр шаблонов (default: pipeline.Builtin()).
	Templates *pipeline.Registry

	// Steps — реализации шагов. Если nil, каждый тип шага привязывается
	// к обёртке из tools_dir исследования.
	Steps *steps.Registry

	// Store — хранилище артефактов, общее для всех run (default: MemStore).
	Store artifact.Store

	// Events и Reports — опциональные получатели событий и отчётов.
	Events  orchestrator.EventPublisher
	Reports orchestrator.ReportSink

	// Overrides — опции, перекрывающие опции исследования (флаги CLI).
	Overrides config.Options

	// MaxConcurrency — размер пула узлов, общего для всех run. Если 0,
	// берётся engine.max_concurrency первого run.
	MaxConcurrency int

	Logger *slog.Logger
}

// New создаёт Runner.
func New(cfg Config) *Runner {
	templates := cfg.Templates
	if templates == nil {
		templates = pipeline.Builtin()
	}
	store := cfg.Store
	if store == nil {
		store = artifact.NewMemStore()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		templates: templates,
		steps:     cfg.Steps,
		store:     store,
		events:    cfg.Events,
		reports:   cfg.Reports,
		overrides: cfg.Overrides,
		poolSize:  cfg.MaxConcurrency,
		logger:    logger,
	}
}

// Options собирает итоговые опции run: опции исследования, поверх них
// переопределения Runner и extra, затем значения по умолчанию.
func (r *Runner) Options(study *config.Study, extra config.Options) config.Options {
	merged := make(config.Options, len(study.Options)+len(r.overrides)+len(extra))
	for k, v := range study.Options {
		merged[k] = v
	}
	for k, v := range r.overrides {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return config.Normalize(merged)
}

// Plan строит граф исследования без выполнения.
func (r *Runner) Plan(ctx context.Context, study *config.Study, extra config.Options) (*engine.RunGraph, error) {
	opts := r.Options(study, extra)

	subjects, err := study.ResolveSubjects()
	if err != nil {
		return nil, fmt.Errorf("resolve subjects: %w", err)
	}

	builder := engine.NewBuilder(engine.BuilderConfig{
		Templates: r.templates,
		Steps:     r.stepsFor(study),
		Logger:    r.logger,
	})

	return builder.Build(ctx, engine.BuildInput{
		Options:    opts,
		Modalities: r.templates.Enabled(opts, subjects),
		Subjects:   subjects,
		External:   study.ExternalFiles(),
	})
}

// Run строит граф исследования и выполняет его.
//
// Параллельные run одного Runner делят пул узлов и не вычисляют
// одинаковый ключ кэша дважды.
func (r *Runner) Run(ctx context.Context, study *config.Study, extra config.Options, runOpts ...orchestrator.RunOption) (*domain.RunReport, error) {
	g, err := r.Plan(ctx, study, extra)
	if err != nil {
		return nil, err
	}

	opts := r.Options(study, extra)
	maxConcurrency, _, err := opts.Int("engine.max_concurrency")
	if err != nil {
		return nil, err
	}
	timeoutSec, _, err := opts.Int("engine.step_timeout_sec")
	if err != nil {
		return nil, err
	}

	settings := []orchestrator.RunOption{
		orchestrator.WithStudy(study.Name),
		orchestrator.WithSteps(r.stepsFor(study)),
		orchestrator.WithWorkDir(study.WorkDir),
		orchestrator.WithMaxConcurrency(maxConcurrency),
		orchestrator.WithBestEffortAggregation(opts.Flag("engine.best_effort_aggregation")),
		orchestrator.WithRetryPolicy(opts.RetryPolicy()),
		orchestrator.WithStepTimeout(time.Duration(timeoutSec) * time.Second),
	}
	return r.orchestrator(maxConcurrency).Run(ctx, g, append(settings, runOpts...)...)
}

// orchestrator возвращает общий оркестратор, создавая его при первом run.
func (r *Runner) orchestrator(firstRunConcurrency int) *orchestrator.Orchestrator {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.orch == nil {
		size := r.poolSize
		if size <= 0 {
			size = firstRunConcurrency
		}
		r.orch = orchestrator.New(orchestrator.Config{
			Store:          r.store,
			MaxConcurrency: size,
			Events:         r.events,
			Reports:        r.reports,
			Logger:         r.logger,
		})
	}
	return r.orch
}

func (r *Runner) stepsFor(study *config.Study) *steps.Registry {
	if r.steps != nil {
		return r.steps
	}
	return steps.DefaultRegistry(study.ToolsDir, r.templates.StepTypes())
}

// HandleRunRequest — обработчик сообщений run.requested для mq.Consumer.
//
// Невалидный запрос или исследование отправляются в DLQ: повтор не
// поможет. Ошибки узлов не считаются ошибкой обработки, они в отчёте.
func (r *Runner) HandleRunRequest(ctx context.Context, d *mq.Delivery) error {
	if d.Message.Type != mq.MessageTypeRunRequested {
		return mq.Permanent(fmt.Errorf("unexpected message type %q", d.Message.Type))
	}

	req, err := mq.ParsePayload[mq.RunRequestPayload](&d.Message)
	if err != nil {
		return mq.Permanent(err)
	}

	study, err := config.Load(req.Study)
	if err != nil {
		return mq.Permanent(err)
	}

	var runOpts []orchestrator.RunOption
	if req.RunID != uuid.Nil {
		runOpts = append(runOpts, orchestrator.WithRunID(req.RunID))
	}

	report, err := r.Run(ctx, study, req.Options, runOpts...)
	if err != nil {
		if isPermanent(err) {
			return mq.Permanent(err)
		}
		return err
	}

	r.logger.Info("requested run finished",
		"run_id", report.RunID,
		"study", study.Name,
		"status", report.Status,
	)
	return nil
}

// isPermanent — ошибки построения графа, которые не исправит повтор.
func isPermanent(err error) bool {
	return errors.Is(err, config.ErrInvalidOption) ||
		errors.Is(err, config.ErrMissingOption) ||
		errors.Is(err, config.ErrInvalidStudy) ||
		errors.Is(err, pipeline.ErrSchema) ||
		errors.Is(err, pipeline.ErrNotFound) ||
		errors.Is(err, engine.ErrUnresolvedDependency) ||
		errors.Is(err, engine.ErrCyclicDependency) ||
		errors.Is(err, engine.ErrNoSubjects) ||
		errors.Is(err, orchestrator.ErrExternalInput) ||
		errors.Is(err, orchestrator.ErrEmptyGraph)
}
