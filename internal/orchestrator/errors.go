package orchestrator

import (
	"errors"
	"fmt"
)

// Ошибки оркестратора.
var (
	// ErrStepExecution — шаг завершился с ошибкой.
	ErrStepExecution = errors.New("step execution failed")

	// ErrAggregation — барьер агрегации не прошёл.
	ErrAggregation = errors.New("aggregation failed")

	// ErrExternalInput — внешний файл графа недоступен.
	ErrExternalInput = errors.New("external input unavailable")

	// ErrEmptyGraph — граф без узлов.
	ErrEmptyGraph = errors.New("run graph has no nodes")

	// ErrRunAlreadyActive — run с таким ID уже выполняется.
	ErrRunAlreadyActive = errors.New("run already being processed")

	// ErrInputNotReady — вход узла ещё не произведён.
	ErrInputNotReady = errors.New("node input not produced")
)

// StepExecutionError — ошибка шага узла.
type StepExecutionError struct {
	NodeID   string
	Step     string
	Attempts int
	Err      error
}

// Error реализует интерфейс error.
func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("node %s: step %s failed after %d attempt(s): %v", e.NodeID, e.Step, e.Attempts, e.Err)
}

// Unwrap возвращает ErrStepExecution и причину.
func (e *StepExecutionError) Unwrap() []error {
	return []error{ErrStepExecution, e.Err}
}

// AggregationError — узел агрегации не получил все входы.
type AggregationError struct {
	NodeID string

	// Missing — узлы-источники, не завершившиеся успешно.
	Missing []string

	// BestEffort — true, если агрегация упала даже в режиме best-effort
	// (не осталось ни одного входа).
	BestEffort bool
}

// Error реализует интерфейс error.
func (e *AggregationError) Error() string {
	if e.BestEffort {
		return fmt.Sprintf("aggregate %s: no contributing node completed", e.NodeID)
	}
	return fmt.Sprintf("aggregate %s: %d contributing node(s) did not complete: %v", e.NodeID, len(e.Missing), e.Missing)
}

// Unwrap возвращает ErrAggregation.
func (e *AggregationError) Unwrap() error {
	return ErrAggregation
}
