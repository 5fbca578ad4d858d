package orchestrator

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/shaiso/neuroflow/internal/artifact"
	"github.com/shaiso/neuroflow/internal/domain"
	"github.com/shaiso/neuroflow/internal/engine"
	"github.com/shaiso/neuroflow/internal/steps"
	"github.com/shaiso/neuroflow/internal/telemetry"
)

// EventPublisher — получатель событий выполнения. Реализуется *mq.Publisher.
type EventPublisher interface {
	PublishNodeEvent(ctx context.Context, event *domain.NodeEvent) error
	PublishRunEvent(ctx context.Context, event *domain.RunEvent) error
}

// ReportSink — хранилище отчётов. Реализуется *repo.RunRepo.
type ReportSink interface {
	SaveReport(ctx context.Context, report *domain.RunReport) error
}

// Orchestrator выполняет графы run.
//
// Orchestrator — центральный компонент движка, который:
//   - Регистрирует внешние входы графа в хранилище артефактов
//   - Отслеживает готовность узлов (RunState)
//   - Запускает готовые узлы в ограниченном пуле (semaphore)
//   - Переиспользует выходы из кэша и не допускает двух одновременных
//     вычислений одного ключа (singleflight)
//   - Изолирует ошибки: пропускает потомков упавшего узла
//   - Формирует RunReport
type Orchestrator struct {
	steps *steps.Registry
	store artifact.Store

	sem    *semaphore.Weighted
	flight singleflight.Group

	maxConcurrency int
	bestEffort     bool
	retry          *domain.RetryPolicy
	stepTimeout    time.Duration
	workDir        string

	events  EventPublisher
	reports ReportSink

	// Active runs — runs в процессе выполнения (runID → state)
	activeRuns map[uuid.UUID]*RunState
	mu         sync.RWMutex

	logger *slog.Logger
}

// Config — конфигурация Orchestrator.
//
// Пул, singleflight и реестр активных run общие для всех run одного
// Orchestrator. Steps, WorkDir, BestEffortAggregation, RetryPolicy и
// StepTimeout — значения по умолчанию, отдельный run переопределяет
// их через RunOption.
type Config struct {
	// Steps — реализации шагов по типу.
	Steps *steps.Registry

	// Store — хранилище артефактов (default: artifact.MemStore).
	Store artifact.Store

	// MaxConcurrency — максимум одновременно выполняющихся узлов
	// (default: runtime.NumCPU()).
	MaxConcurrency int

	// BestEffortAggregation — агрегировать по успешным субъектам,
	// вместо того чтобы падать при первом отсутствующем входе.
	BestEffortAggregation bool

	// RetryPolicy — политика повторных попыток шагов. nil — одна попытка.
	RetryPolicy *domain.RetryPolicy

	// StepTimeout — таймаут одной попытки шага. 0 — без таймаута.
	StepTimeout time.Duration

	// WorkDir — корень рабочих директорий узлов
	// (default: <os.TempDir()>/neuroflow).
	WorkDir string

	// Events и Reports — опциональные получатели событий и отчётов.
	Events  EventPublisher
	Reports ReportSink

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = runtime.NumCPU()
	}

	store := cfg.Store
	if store == nil {
		store = artifact.NewMemStore()
	}

	registry := cfg.Steps
	if registry == nil {
		registry = steps.NewRegistry()
	}

	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "neuroflow")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		steps:          registry,
		store:          store,
		sem:            semaphore.NewWeighted(int64(maxConcurrency)),
		maxConcurrency: maxConcurrency,
		bestEffort:     cfg.BestEffortAggregation,
		retry:          cfg.RetryPolicy,
		stepTimeout:    cfg.StepTimeout,
		workDir:        workDir,
		events:         cfg.Events,
		reports:        cfg.Reports,
		activeRuns:     make(map[uuid.UUID]*RunState),
		logger:         logger,
	}
}

// RunOption — параметр отдельного run.
type RunOption func(*runOptions)

type runOptions struct {
	runID       uuid.UUID
	study       string
	steps       *steps.Registry
	workDir     string
	bestEffort  bool
	retry       *domain.RetryPolicy
	stepTimeout time.Duration

	// limit — потолок одновременно выполняющихся узлов run внутри общего пула
	limit int
}

// WithRunID задаёт ID run (по умолчанию генерируется).
func WithRunID(id uuid.UUID) RunOption {
	return func(o *runOptions) {
		o.runID = id
	}
}

// WithStudy задаёт имя исследования для отчёта и событий.
func WithStudy(name string) RunOption {
	return func(o *runOptions) {
		o.study = name
	}
}

// WithSteps задаёт реализации шагов run.
func WithSteps(r *steps.Registry) RunOption {
	return func(o *runOptions) {
		if r != nil {
			o.steps = r
		}
	}
}

// WithWorkDir задаёт корень рабочих директорий узлов run.
func WithWorkDir(dir string) RunOption {
	return func(o *runOptions) {
		if dir != "" {
			o.workDir = dir
		}
	}
}

// WithBestEffortAggregation включает агрегацию по успешным субъектам.
func WithBestEffortAggregation(on bool) RunOption {
	return func(o *runOptions) {
		o.bestEffort = on
	}
}

// WithRetryPolicy задаёт политику повторов шагов run.
func WithRetryPolicy(p *domain.RetryPolicy) RunOption {
	return func(o *runOptions) {
		o.retry = p
	}
}

// WithStepTimeout задаёт таймаут одной попытки шага. 0 — без таймаута.
func WithStepTimeout(d time.Duration) RunOption {
	return func(o *runOptions) {
		o.stepTimeout = d
	}
}

// WithMaxConcurrency ограничивает число одновременно выполняющихся узлов
// run. Общий пул Orchestrator при этом тоже соблюдается.
func WithMaxConcurrency(n int) RunOption {
	return func(o *runOptions) {
		o.limit = n
	}
}

// runContext — всё, что нужно одному run.
type runContext struct {
	id        uuid.UUID
	study     string
	graph     *engine.RunGraph
	state     *RunState
	externals map[string]*domain.Artifact
	cancelled bool
	opts      runOptions
	logger    *slog.Logger
}

// nodeOutcome — результат выполнения узла, который воркер отдаёт координатору.
type nodeOutcome struct {
	node     *engine.Node
	outputs  map[string]*domain.Artifact
	cached   bool
	attempts int
	err      error
}

// Run выполняет граф и возвращает отчёт.
//
// Ошибка возвращается только если выполнение не началось: пустой граф,
// недоступный внешний файл, повторный ID. Ошибки узлов попадают в отчёт.
// Отмена ctx пропускает все ещё не запущенные узлы; запущенные
// дорабатывают, их выходы сохраняются.
func (o *Orchestrator) Run(ctx context.Context, g *engine.RunGraph, opts ...RunOption) (*domain.RunReport, error) {
	if g == nil || g.Len() == 0 {
		return nil, ErrEmptyGraph
	}

	ro := runOptions{
		runID:       uuid.New(),
		steps:       o.steps,
		workDir:     o.workDir,
		bestEffort:  o.bestEffort,
		retry:       o.retry,
		stepTimeout: o.stepTimeout,
	}
	for _, opt := range opts {
		opt(&ro)
	}
	if ro.limit <= 0 || ro.limit > o.maxConcurrency {
		ro.limit = o.maxConcurrency
	}

	state := NewRunState(ro.runID, g)
	if err := o.addActiveRun(state); err != nil {
		return nil, err
	}
	defer o.removeActiveRun(ro.runID)

	rc := &runContext{
		id:     ro.runID,
		study:  ro.study,
		graph:  g,
		state:  state,
		opts:   ro,
		logger: telemetry.WithRunID(o.logger, ro.runID.String()),
	}

	externals, err := o.registerExternals(ctx, g)
	if err != nil {
		return nil, err
	}
	rc.externals = externals

	started := time.Now().UTC()
	bg := context.WithoutCancel(ctx)

	rc.logger.Info("run started",
		"study", rc.study,
		"nodes", g.Len(),
		"subjects", len(g.Subjects),
		"max_concurrency", ro.limit,
	)

	initial := &domain.RunReport{
		RunID:      rc.id,
		Study:      rc.study,
		Status:     domain.RunStatusRunning,
		StartedAt:  started,
		Selections: g.Selections,
	}
	o.saveReport(bg, rc, initial)
	o.publishRun(bg, rc, initial)

	o.execute(ctx, rc)

	report := o.buildReport(rc, started)
	o.saveReport(bg, rc, report)
	o.publishRun(bg, rc, report)

	telemetry.RunsTotal.WithLabelValues(string(report.Status)).Inc()
	telemetry.RunDuration.Observe(report.Duration().Seconds())

	stats := rc.state.Stats()
	rc.logger.Info("run finished",
		"status", report.Status,
		"duration", report.Duration(),
		"completed", stats.CompletedNodes,
		"cached", stats.CachedNodes,
		"skipped", stats.SkippedNodes,
		"failures", len(report.Failures),
		"invocations", report.Invocations(),
	)

	return report, nil
}

// registerExternals вычисляет fingerprint внешних файлов и записывает их
// в хранилище. Возвращает артефакты по ключу внешнего входа.
func (o *Orchestrator) registerExternals(ctx context.Context, g *engine.RunGraph) (map[string]*domain.Artifact, error) {
	result := make(map[string]*domain.Artifact, len(g.External))
	for _, e := range g.External {
		if _, ok := result[e.Key()]; ok {
			continue
		}

		a, err := artifact.External(e.Type, e.Modality, e.Subject, e.Location)
		if err != nil {
			return nil, externalError(e, err)
		}

		stored, err := o.store.Put(ctx, a)
		if err != nil {
			return nil, externalError(e, err)
		}

		// Запись хранилища общая для файлов с одинаковым содержимым,
		// а входы run ссылаются на свой файл и свой субъект
		own := *stored
		own.Type = a.Type
		own.Modality = a.Modality
		own.Subject = a.Subject
		own.Scope = a.Scope
		own.Location = a.Location
		result[e.Key()] = &own
	}
	return result, nil
}

// execute — цикл координатора. Возвращается, когда не осталось
// выполняющихся узлов и новые не могут стать готовыми.
func (o *Orchestrator) execute(ctx context.Context, rc *runContext) {
	results := make(chan nodeOutcome)
	bg := context.WithoutCancel(ctx)
	done := ctx.Done()
	running := 0

	for {
		if !rc.cancelled && ctx.Err() != nil {
			done = nil
			o.cancelRemaining(bg, rc)
		}

		if !rc.cancelled {
			o.promote(bg, rc)
			running += o.dispatch(ctx, rc, results, running)
		}

		if running == 0 {
			if !rc.cancelled && ctx.Err() != nil {
				o.cancelRemaining(bg, rc)
			}
			break
		}

		select {
		case out := <-results:
			running--
			o.complete(bg, rc, out)
		case <-done:
			done = nil
			o.cancelRemaining(bg, rc)
		}
	}

	// Ациклический граф не оставляет узлов без статуса, но отчёт не должен
	// содержать PENDING.
	if !rc.state.IsComplete() {
		for _, id := range rc.state.SkipRemaining("node never became ready") {
			rc.logger.Warn("node left unscheduled", "node_id", id)
		}
	}
}

// promote переводит узлы в READY и проверяет барьеры агрегации.
//
// Упавший барьер пропускает своих потомков, что может сделать готовыми
// другие агрегаты, поэтому проход повторяется до неподвижной точки.
func (o *Orchestrator) promote(ctx context.Context, rc *runContext) {
	for {
		changed := false
		for _, n := range rc.state.Promote() {
			if n.Kind != domain.NodeKindAggregate {
				continue
			}
			err := o.checkBarrier(rc, n)
			if err == nil {
				continue
			}

			rc.state.MarkRunning(n.ID)
			rc.state.MarkFailed(n.ID, domain.FailureAggregation, err, 0)
			o.nodeFinished(ctx, rc, n, domain.NodeStatusFailed, false, 0, err)
			o.skipDependents(ctx, rc, n)
			changed = true
		}
		if !changed {
			return
		}
	}
}

// checkBarrier проверяет входы узла агрегации.
// nil означает, что узел можно запускать.
func (o *Orchestrator) checkBarrier(rc *runContext, n *engine.Node) error {
	missing := make([]string, 0)
	for _, dep := range n.DependsOn {
		if rc.state.Status(dep) != domain.NodeStatusCompleted {
			missing = append(missing, dep)
		}
	}

	switch {
	case len(missing) == 0:
		return nil
	case !rc.opts.bestEffort:
		return &AggregationError{NodeID: n.ID, Missing: missing}
	case len(missing) == len(n.DependsOn):
		return &AggregationError{NodeID: n.ID, Missing: missing, BestEffort: true}
	default:
		rc.logger.Warn("aggregating partial cohort",
			"node_id", n.ID,
			"missing", missing,
		)
		return nil
	}
}

// dispatch запускает готовые узлы, пока есть свободные слоты пула
// и run не упёрся в свой лимит.
//
// Если у run нет ни одного выполняющегося узла, первый слот ожидается
// блокирующе: пул общий для всех run оркестратора.
func (o *Orchestrator) dispatch(ctx context.Context, rc *runContext, results chan<- nodeOutcome, running int) int {
	started := 0
	for _, n := range rc.state.Ready() {
		if running+started >= rc.opts.limit {
			break
		}
		if !o.sem.TryAcquire(1) {
			if running > 0 || started > 0 {
				break
			}
			if err := o.sem.Acquire(ctx, 1); err != nil {
				break
			}
		}

		if !rc.state.MarkRunning(n.ID) {
			o.sem.Release(1)
			continue
		}
		started++
		telemetry.NodesRunning.Inc()
		o.publishNode(context.WithoutCancel(ctx), rc, n, domain.NodeStatusRunning, false, 0, nil)

		// Запущенный узел дорабатывает даже при отмене run
		nodeCtx := context.WithoutCancel(ctx)
		go func(n *engine.Node) {
			defer o.sem.Release(1)
			results <- o.runNode(nodeCtx, rc, n)
		}(n)
	}
	return started
}

// complete обрабатывает результат узла.
func (o *Orchestrator) complete(ctx context.Context, rc *runContext, out nodeOutcome) {
	telemetry.NodesRunning.Dec()
	n := out.node

	if out.err != nil {
		rc.state.MarkFailed(n.ID, domain.FailureStepExecution, out.err, out.attempts)
		o.nodeFinished(ctx, rc, n, domain.NodeStatusFailed, false, out.attempts, out.err)
		o.skipDependents(ctx, rc, n)
		return
	}

	rc.state.MarkCompleted(n.ID, out.outputs, out.cached, out.attempts)
	if out.cached {
		telemetry.CacheHitsTotal.WithLabelValues(string(n.Modality)).Inc()
	}
	o.nodeFinished(ctx, rc, n, domain.NodeStatusCompleted, out.cached, out.attempts, nil)
}

// skipDependents пропускает потомков упавшего узла.
func (o *Orchestrator) skipDependents(ctx context.Context, rc *runContext, n *engine.Node) {
	for _, id := range rc.state.SkipDependents(n.ID) {
		if dep, ok := rc.graph.Node(id); ok {
			o.nodeFinished(ctx, rc, dep, domain.NodeStatusSkipped, false, 0, nil)
		}
	}
}

// cancelRemaining пропускает все ещё не запущенные узлы.
func (o *Orchestrator) cancelRemaining(ctx context.Context, rc *runContext) {
	rc.cancelled = true
	skipped := rc.state.SkipRemaining("run cancelled")
	rc.logger.Warn("run cancelled", "skipped_nodes", len(skipped))

	for _, id := range skipped {
		if n, ok := rc.graph.Node(id); ok {
			o.nodeFinished(ctx, rc, n, domain.NodeStatusSkipped, false, 0, nil)
		}
	}
}

// nodeFinished пишет лог, метрики и событие терминального статуса узла.
func (o *Orchestrator) nodeFinished(ctx context.Context, rc *runContext, n *engine.Node, status domain.NodeStatus, cached bool, attempts int, err error) {
	telemetry.NodesTotal.WithLabelValues(string(n.Modality), string(status)).Inc()

	logger := telemetry.WithNodeID(rc.logger, n.ID)
	switch status {
	case domain.NodeStatusFailed:
		logger.Error("node failed",
			"subject", n.Subject,
			"modality", n.Modality,
			"step", n.Step,
			"attempts", attempts,
			"error", err,
		)
	case domain.NodeStatusSkipped:
		logger.Debug("node skipped")
	default:
		logger.Debug("node completed",
			"cached", cached,
			"attempts", attempts,
		)
	}

	o.publishNode(ctx, rc, n, status, cached, attempts, err)
}

func (o *Orchestrator) publishNode(ctx context.Context, rc *runContext, n *engine.Node, status domain.NodeStatus, cached bool, attempts int, err error) {
	if o.events == nil {
		return
	}

	event := &domain.NodeEvent{
		RunID:     rc.id,
		NodeID:    n.ID,
		Subject:   n.Subject,
		Modality:  n.Modality,
		Kind:      n.Kind,
		Status:    status,
		Cached:    cached,
		Attempts:  attempts,
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		event.Error = err.Error()
	}

	// Событие — уведомление, run от него не зависит
	if perr := o.events.PublishNodeEvent(ctx, event); perr != nil {
		rc.logger.Warn("failed to publish node event",
			"node_id", n.ID,
			"error", perr,
		)
	}
}

func (o *Orchestrator) publishRun(ctx context.Context, rc *runContext, report *domain.RunReport) {
	if o.events == nil {
		return
	}

	event := &domain.RunEvent{
		RunID:     report.RunID,
		Study:     report.Study,
		Status:    report.Status,
		Nodes:     rc.graph.Len(),
		Counts:    report.Counts(),
		Timestamp: time.Now().UTC(),
	}
	if err := o.events.PublishRunEvent(ctx, event); err != nil {
		rc.logger.Warn("failed to publish run event", "error", err)
	}
}

func (o *Orchestrator) saveReport(ctx context.Context, rc *runContext, report *domain.RunReport) {
	if o.reports == nil {
		return
	}
	if err := o.reports.SaveReport(ctx, report); err != nil {
		rc.logger.Warn("failed to save run report",
			"status", report.Status,
			"error", err,
		)
	}
}

// addActiveRun добавляет run в активные.
func (o *Orchestrator) addActiveRun(state *RunState) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.activeRuns[state.RunID()]; exists {
		return ErrRunAlreadyActive
	}

	o.activeRuns[state.RunID()] = state
	return nil
}

// removeActiveRun удаляет run из активных.
func (o *Orchestrator) removeActiveRun(runID uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.activeRuns, runID)
}

// ActiveRunsCount возвращает количество активных runs.
func (o *Orchestrator) ActiveRunsCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.activeRuns)
}
