package domain

// RunStatus — статус выполнения run.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ PARTIAL (часть субъектов упала)
//	                  ↘ FAILED
//	          (или) → CANCELLED (из PENDING или RUNNING)
type RunStatus string

const (
	// RunStatusPending — run создан, но ещё не начал выполняться.
	RunStatusPending RunStatus = "PENDING"

	// RunStatusRunning — run в процессе выполнения.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusSucceeded — все узлы завершены успешно.
	RunStatusSucceeded RunStatus = "SUCCEEDED"

	// RunStatusPartial — часть узлов упала или пропущена, остальные завершены.
	RunStatusPartial RunStatus = "PARTIAL"

	// RunStatusFailed — ни один узел не завершился успешно.
	RunStatusFailed RunStatus = "FAILED"

	// RunStatusCancelled — run отменён.
	RunStatusCancelled RunStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusPartial, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// NodeStatus — статус узла графа.
//
// Жизненный цикл:
//
//	PENDING → READY → RUNNING → COMPLETED
//	                          ↘ FAILED
//	PENDING/READY → SKIPPED (упал предок или run отменён)
//
// Из COMPLETED, FAILED и SKIPPED переходов нет.
type NodeStatus string

const (
	// NodeStatusPending — ждёт входов.
	NodeStatusPending NodeStatus = "PENDING"

	// NodeStatusReady — все входы доступны, ждёт слота в пуле.
	NodeStatusReady NodeStatus = "READY"

	// NodeStatusRunning — шаг выполняется.
	NodeStatusRunning NodeStatus = "RUNNING"

	// NodeStatusCompleted — выходы записаны в хранилище (или взяты из кэша).
	NodeStatusCompleted NodeStatus = "COMPLETED"

	// NodeStatusFailed — шаг завершился с ошибкой после всех retry.
	NodeStatusFailed NodeStatus = "FAILED"

	// NodeStatusSkipped — не запускался.
	NodeStatusSkipped NodeStatus = "SKIPPED"
)

// IsTerminal возвращает true, если статус финальный.
func (s NodeStatus) IsTerminal() bool {
	switch s {
	case NodeStatusCompleted, NodeStatusFailed, NodeStatusSkipped:
		return true
	default:
		return false
	}
}

// CanTransition проверяет допустимость перехода s → to.
func (s NodeStatus) CanTransition(to NodeStatus) bool {
	switch s {
	case NodeStatusPending:
		return to == NodeStatusReady || to == NodeStatusSkipped
	case NodeStatusReady:
		return to == NodeStatusRunning || to == NodeStatusSkipped
	case NodeStatusRunning:
		return to == NodeStatusCompleted || to == NodeStatusFailed
	default:
		return false
	}
}

// NodeKind — роль узла в графе.
type NodeKind string

const (
	// NodeKindStep — обычный шаг пайплайна.
	NodeKindStep NodeKind = "step"

	// NodeKindScatter — фаза 1 группового шаблона (промежуточный результат субъекта).
	NodeKindScatter NodeKind = "scatter"

	// NodeKindAggregate — фаза 2: построение шаблона когорты.
	NodeKindAggregate NodeKind = "aggregate"

	// NodeKindRenormalize — фаза 3: нормализация субъекта к шаблону когорты.
	NodeKindRenormalize NodeKind = "renormalize"
)

// FailureKind — категория ошибки в отчёте.
type FailureKind string

const (
	// FailureStepExecution — шаг был запущен и упал.
	FailureStepExecution FailureKind = "step_execution"

	// FailureAggregation — барьер агрегации не прошёл.
	FailureAggregation FailureKind = "aggregation"

	// FailureSkipped — узел не запускался из-за упавшего предка.
	FailureSkipped FailureKind = "skipped"

	// FailureCancelled — узел не запускался из-за отмены run.
	FailureCancelled FailureKind = "cancelled"
)
